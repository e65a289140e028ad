package router

import (
	"time"

	"github.com/rewired-gh/verdictx/internal/models"
)

type errorResponse struct {
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

type createMarketRequest struct {
	ID               string     `json:"id"`
	ContractAddress  string     `json:"contractAddress" binding:"required"`
	Name             string     `json:"name"`
	Symbol           string     `json:"symbol"`
	ImageURL         string     `json:"imageUrl"`
	MarketCapUSD     float64    `json:"marketCapUsd" binding:"gte=0"`
	Volume24hUSD     float64    `json:"volume24hUsd" binding:"gte=0"`
	DevWalletPercent string     `json:"devWalletPercent" binding:"omitempty,percent"`
	RiskScore        int        `json:"riskScore" binding:"gte=0,lte=100"`
	LaunchTime       *time.Time `json:"launchTime"`
	IsFrozen         bool       `json:"isFrozen"`
}

func (r *createMarketRequest) market() *models.Market {
	m := &models.Market{
		ID:               r.ID,
		ContractAddress:  r.ContractAddress,
		Name:             r.Name,
		Symbol:           r.Symbol,
		ImageURL:         r.ImageURL,
		MarketCapUSD:     r.MarketCapUSD,
		Volume24hUSD:     r.Volume24hUSD,
		DevWalletPercent: r.DevWalletPercent,
		RiskScore:        r.RiskScore,
		IsFrozen:         r.IsFrozen,
	}
	if r.LaunchTime != nil {
		m.LaunchTime = r.LaunchTime.UTC()
	}
	return m
}

type voteRequest struct {
	MarketID string `json:"marketId" binding:"required"`
	VoterKey string `json:"voterKey"`
	Choice   string `json:"choice" binding:"required"`
}

type messageRequest struct {
	Text        string `json:"text"`
	MessageText string `json:"messageText"`
	Kind        string `json:"kind"`
	AuthorKey   string `json:"authorKey"`
}

type analyseRequest struct {
	ContractAddress string `json:"contractAddress"`
	CA              string `json:"ca"`
}

type addCuratedRequest struct {
	CA string `json:"ca" binding:"required"`
}

type addCuratedResponse struct {
	CA    string `json:"ca"`
	Added bool   `json:"added"`
}

// PumpEntry is one curated token. Market is nil until the token has a ledger row.
type PumpEntry struct {
	ContractAddress string         `json:"ca"`
	Market          *models.Market `json:"market"`
}
