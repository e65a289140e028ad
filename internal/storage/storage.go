// Package storage defines the market ledger contract shared by the SQLite and
// PostgreSQL backends.
package storage

import (
	"context"
	"errors"

	"github.com/rewired-gh/verdictx/internal/models"
)

var (
	// ErrNotFound is a lookup miss. Callers decide the fallback.
	ErrNotFound = errors.New("not found")

	// ErrMarketNotFound is a write that references a market that does not exist.
	ErrMarketNotFound = errors.New("market not found")

	// ErrDuplicateMarket means the id or contract address is already taken.
	ErrDuplicateMarket = errors.New("market already exists")

	// ErrDuplicateUser means the username is already taken.
	ErrDuplicateUser = errors.New("user already exists")
)

// DefaultMessageLimit caps ListMessages when limit <= 0.
const DefaultMessageLimit = 50

// Ledger is durable storage for markets, votes, and messages.
//
// For every market, WVoteCount + TrashVoteCount equals the number of vote rows
// referencing it, and at most one vote exists per (market, voter key).
type Ledger interface {
	// GetMarket matches idOrAddress against the id or the contract address,
	// case-insensitively. Returns ErrNotFound on a miss.
	GetMarket(ctx context.Context, idOrAddress string) (*models.Market, error)

	// ListTrendingMarkets orders by total votes descending, then id ascending.
	ListTrendingMarkets(ctx context.Context, limit int) ([]*models.Market, error)

	// CreateMarket inserts a market with zeroed counters.
	// Returns ErrDuplicateMarket if the id or contract address exists.
	CreateMarket(ctx context.Context, m *models.Market) (*models.Market, error)

	// EnsureMarket inserts the market unless one with the same id or contract
	// address exists, then returns the stored row and whether it was created.
	EnsureMarket(ctx context.Context, m *models.Market) (*models.Market, bool, error)

	// RefreshMarket overwrites snapshot metadata. Counters are untouched.
	// Returns ErrNotFound if the market does not exist.
	RefreshMarket(ctx context.Context, m *models.Market) (*models.Market, error)

	// CastVote records voterKey's choice for marketID as one atomic unit.
	// Returns ErrMarketNotFound if the market does not exist.
	CastVote(ctx context.Context, marketID, voterKey string, choice models.Choice) (*models.VoteReceipt, error)

	// CountVotes returns the number of vote rows for marketID.
	CountVotes(ctx context.Context, marketID string) (int64, error)

	// ListMessages returns up to limit messages for marketID, newest first.
	ListMessages(ctx context.Context, marketID string, limit int) ([]*models.Message, error)

	// AppendMessage adds a chat line. Returns ErrMarketNotFound if the market
	// does not exist.
	AppendMessage(ctx context.Context, marketID, authorKey, text string, kind models.MessageKind) (*models.Message, error)

	// CreateUser inserts a user. Returns ErrDuplicateUser on a username clash.
	CreateUser(ctx context.Context, username, password string) (*models.User, error)

	// GetUserByUsername returns ErrNotFound on a miss.
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	Close() error
}
