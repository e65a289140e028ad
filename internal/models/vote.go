package models

import (
	"fmt"
	"strings"
	"time"
)

// Choice is a voter's verdict on a market.
type Choice string

const (
	ChoiceW     Choice = "W"
	ChoiceTrash Choice = "TRASH"
)

// ParseChoice accepts "W" or "TRASH" in any case.
func ParseChoice(s string) (Choice, error) {
	switch Choice(strings.ToUpper(strings.TrimSpace(s))) {
	case ChoiceW:
		return ChoiceW, nil
	case ChoiceTrash:
		return ChoiceTrash, nil
	}
	return "", fmt.Errorf("invalid vote choice %q", s)
}

// Column returns the markets counter column this choice feeds.
func (c Choice) Column() string {
	if c == ChoiceW {
		return "w_votes"
	}
	return "trash_votes"
}

// Vote is one voter's current choice for a market. At most one exists per
// (MarketID, VoterKey); a changed vote mutates Choice in place.
type Vote struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"marketId"`
	VoterKey  string    `json:"voterKey"`
	Choice    Choice    `json:"choice"`
	CreatedAt time.Time `json:"createdAt"`
}

// VoteOutcome describes what a cast did to the ledger.
type VoteOutcome string

const (
	VoteCreated   VoteOutcome = "created"
	VoteUnchanged VoteOutcome = "unchanged"
	VoteFlipped   VoteOutcome = "flipped"
)

// VoteReceipt is the result of casting a vote: the stored vote plus the
// market counters as they stood when the cast committed.
type VoteReceipt struct {
	Vote
	Outcome        VoteOutcome `json:"outcome"`
	WVoteCount     int64       `json:"wVoteCount"`
	TrashVoteCount int64       `json:"trashVoteCount"`
}

// Tally returns the counters carried by the receipt.
func (r *VoteReceipt) Tally() Tally {
	return Tally{MarketID: r.MarketID, WVoteCount: r.WVoteCount, TrashVoteCount: r.TrashVoteCount}
}
