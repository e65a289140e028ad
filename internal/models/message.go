package models

import (
	"fmt"
	"strings"
	"time"
)

// MessageKind tags a chat line for display.
type MessageKind string

const (
	KindDefault    MessageKind = "default"
	KindAlertWhale MessageKind = "alert-whale"
	KindAlertDev   MessageKind = "alert-dev"
	KindAlertLP    MessageKind = "alert-lp"
)

// ParseMessageKind maps an empty string to KindDefault.
func ParseMessageKind(s string) (MessageKind, error) {
	switch k := MessageKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindDefault, nil
	case KindDefault, KindAlertWhale, KindAlertDev, KindAlertLP:
		return k, nil
	}
	return "", fmt.Errorf("invalid message kind %q", s)
}

// IsAlert reports whether the kind is one of the alert-* kinds.
func (k MessageKind) IsAlert() bool {
	return strings.HasPrefix(string(k), "alert-")
}

// Message is an append-only chat entry in a market's room.
type Message struct {
	ID        string      `json:"id"`
	MarketID  string      `json:"marketId"`
	AuthorKey string      `json:"authorKey"`
	Text      string      `json:"text"`
	Kind      MessageKind `json:"kind"`
	CreatedAt time.Time   `json:"createdAt"`
}
