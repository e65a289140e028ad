// Package models defines the ledger entities: markets, votes, messages, and users.
package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market is the ledger record for one token, keyed by contract address.
// WVoteCount and TrashVoteCount are a materialized view of the market's votes.
type Market struct {
	ID               string    `json:"id"`
	ContractAddress  string    `json:"contractAddress"`
	Name             string    `json:"name"`
	Symbol           string    `json:"symbol"`
	ImageURL         string    `json:"imageUrl"`
	MarketCapUSD     float64   `json:"marketCapUsd"`
	Volume24hUSD     float64   `json:"volume24hUsd"`
	DevWalletPercent string    `json:"devWalletPercent"`
	RiskScore        int       `json:"riskScore"`
	LaunchTime       time.Time `json:"launchTime"`
	IsFrozen         bool      `json:"isFrozen"`
	WVoteCount       int64     `json:"wVoteCount"`
	TrashVoteCount   int64     `json:"trashVoteCount"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// TotalVotes returns the number of active votes on the market.
func (m *Market) TotalVotes() int64 {
	return m.WVoteCount + m.TrashVoteCount
}

// Tally returns the market's current counters.
func (m *Market) Tally() Tally {
	return Tally{MarketID: m.ID, WVoteCount: m.WVoteCount, TrashVoteCount: m.TrashVoteCount}
}

// Normalize fills defaults for a market about to be inserted.
func (m *Market) Normalize() {
	m.ContractAddress = strings.TrimSpace(m.ContractAddress)
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		m.ID = m.ContractAddress
	}
	if m.DevWalletPercent == "" {
		m.DevWalletPercent = "0"
	}
}

// Validate checks market field constraints.
func (m *Market) Validate() error {
	if m.ContractAddress == "" {
		return errors.New("contract address must not be empty")
	}
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.MarketCapUSD < 0 {
		return errors.New("market cap must not be negative")
	}
	if m.Volume24hUSD < 0 {
		return errors.New("24h volume must not be negative")
	}
	if m.RiskScore < 0 || m.RiskScore > 100 {
		return errors.New("risk score must be between 0 and 100")
	}
	if m.DevWalletPercent != "" {
		pct, err := decimal.NewFromString(m.DevWalletPercent)
		if err != nil {
			return errors.New("dev wallet percent must be a decimal number")
		}
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("dev wallet percent must be between 0 and 100")
		}
	}
	if m.WVoteCount < 0 || m.TrashVoteCount < 0 {
		return errors.New("vote counts must not be negative")
	}
	return nil
}

// Tally is a snapshot of a market's vote counters.
type Tally struct {
	MarketID       string `json:"marketId"`
	WVoteCount     int64  `json:"wVoteCount"`
	TrashVoteCount int64  `json:"trashVoteCount"`
}

// User is account scaffolding; no route authenticates against it.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
}
