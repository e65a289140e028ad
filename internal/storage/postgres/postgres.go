// Package postgres provides the PostgreSQL-backed market ledger.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rewired-gh/verdictx/internal/models"
	"github.com/rewired-gh/verdictx/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Migrate applies the ledger schema. Safe to run on every start.
// The schema is several statements in one Exec; pgx sends argument-free
// calls over the simple protocol, which allows that.
func (p *Pool) Migrate(ctx context.Context) error {
	if _, err := p.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isDuplicateKeyError(err error) bool {
	return err != nil && pgErrorCode(err) == pgErrUniqueViolation
}

func isForeignKeyError(err error) bool {
	return err != nil && pgErrorCode(err) == pgErrForeignKeyViolation
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Store implements storage.Ledger using PostgreSQL.
type Store struct {
	pool *Pool
	now  func() time.Time
}

// Compile-time interface check.
var _ storage.Ledger = (*Store)(nil)

// NewStore creates a Store on an already migrated pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Open connects to dsn, applies the schema and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool), nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const marketCols = `id, contract_address, name, symbol, image_url, market_cap_usd, volume_24h_usd,
	dev_wallet_pct, risk_score, launch_time, is_frozen, w_votes, trash_votes, created_at, updated_at`

func (s *Store) GetMarket(ctx context.Context, idOrAddress string) (*models.Market, error) {
	query := `
		SELECT ` + marketCols + `
		FROM markets
		WHERE lower(id) = lower($1) OR lower(contract_address) = lower($1)
		ORDER BY CASE WHEN lower(id) = lower($1) THEN 0 ELSE 1 END
		LIMIT 1
	`
	m, err := scanMarket(s.pool.QueryRow(ctx, query, idOrAddress))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market: %w", err)
	}
	return m, nil
}

func (s *Store) ListTrendingMarkets(ctx context.Context, limit int) ([]*models.Market, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT ` + marketCols + `
		FROM markets
		ORDER BY (w_votes + trash_votes) DESC, id ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list trending markets: %w", err)
	}
	defer rows.Close()

	markets := []*models.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

const insertMarketSQL = `
	INSERT INTO markets (
		id, contract_address, name, symbol, image_url, market_cap_usd, volume_24h_usd,
		dev_wallet_pct, risk_score, launch_time, is_frozen, w_votes, trash_votes,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, 0, $12, $12)
`

func (s *Store) CreateMarket(ctx context.Context, m *models.Market) (*models.Market, error) {
	row, err := s.prepareInsert(m)
	if err != nil {
		return nil, err
	}

	tx, err := s.lockMarketKeys(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := checkKeysFree(ctx, tx, row); err != nil {
		return nil, err
	}
	if err := insertMarket(ctx, tx, row); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit market: %w", err)
	}
	return row, nil
}

// EnsureMarket returns the market already holding m's contract address, or
// inserts m. An id that collides with another market's keys is rejected.
func (s *Store) EnsureMarket(ctx context.Context, m *models.Market) (*models.Market, bool, error) {
	row, err := s.prepareInsert(m)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.lockMarketKeys(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	existing, err := scanMarket(tx.QueryRow(ctx, `SELECT `+marketCols+` FROM markets
		WHERE lower(contract_address) = lower($1)`, row.ContractAddress))
	switch {
	case err == nil:
		return existing, false, tx.Commit(ctx)
	case !isNotFoundError(err):
		return nil, false, fmt.Errorf("look up market: %w", err)
	}

	if err := checkKeysFree(ctx, tx, row); err != nil {
		return nil, false, err
	}
	if err := insertMarket(ctx, tx, row); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit market: %w", err)
	}
	return row, true, nil
}

// marketKeysLock serializes market inserts. The unique indexes cover each
// column alone; the cross-column check in checkKeysFree needs the lock.
const marketKeysLock = 0x76657264

// lockMarketKeys begins a transaction holding the market insert lock until
// commit or rollback.
func (s *Store) lockMarketKeys(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(marketKeysLock)); err != nil {
		tx.Rollback(ctx) //nolint:errcheck
		return nil, fmt.Errorf("lock market keys: %w", err)
	}
	return tx, nil
}

// checkKeysFree rejects m when its id or contract address matches either key
// of any stored market, so one address never resolves to two markets.
func checkKeysFree(ctx context.Context, tx pgx.Tx, m *models.Market) error {
	var one int
	err := tx.QueryRow(ctx, `
		SELECT 1 FROM markets
		WHERE lower(id) IN (lower($1), lower($2)) OR lower(contract_address) IN (lower($1), lower($2))
		LIMIT 1`, m.ID, m.ContractAddress).Scan(&one)
	switch {
	case isNotFoundError(err):
		return nil
	case err != nil:
		return fmt.Errorf("check market keys: %w", err)
	}
	return storage.ErrDuplicateMarket
}

func insertMarket(ctx context.Context, tx pgx.Tx, m *models.Market) error {
	if _, err := tx.Exec(ctx, insertMarketSQL, insertArgs(m)...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateMarket
		}
		return fmt.Errorf("insert market: %w", err)
	}
	return nil
}

func (s *Store) RefreshMarket(ctx context.Context, m *models.Market) (*models.Market, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market: %w", err)
	}
	query := `
		UPDATE markets SET
			name = $2, symbol = $3, image_url = $4, market_cap_usd = $5, volume_24h_usd = $6,
			dev_wallet_pct = $7, risk_score = $8, launch_time = $9, is_frozen = $10, updated_at = $11
		WHERE id = $1
		RETURNING ` + marketCols
	row := s.pool.QueryRow(ctx, query,
		m.ID, m.Name, m.Symbol, m.ImageURL, m.MarketCapUSD, m.Volume24hUSD,
		m.DevWalletPercent, m.RiskScore, nullableTime(m.LaunchTime), m.IsFrozen, s.now(),
	)
	refreshed, err := scanMarket(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("refresh market: %w", err)
	}
	return refreshed, nil
}

// CastVote locks the market row so concurrent votes on one market apply in
// sequence; votes on different markets do not contend.
func (s *Store) CastVote(ctx context.Context, marketID, voterKey string, choice models.Choice) (*models.VoteReceipt, error) {
	if voterKey == "" {
		return nil, errors.New("voter key must not be empty")
	}
	choice, err := models.ParseChoice(string(choice))
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM markets WHERE id = $1 FOR UPDATE`, marketID).Scan(&locked)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrMarketNotFound
		}
		return nil, fmt.Errorf("lock market: %w", err)
	}

	receipt := &models.VoteReceipt{}
	var stored string
	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT id, choice, created_at FROM votes WHERE market_id = $1 AND voter_key = $2`,
		marketID, voterKey,
	).Scan(&receipt.ID, &stored, &createdAt)

	now := s.now()
	switch {
	case isNotFoundError(err):
		receipt.Vote = models.Vote{ID: uuid.NewString(), MarketID: marketID, VoterKey: voterKey, Choice: choice, CreatedAt: now}
		receipt.Outcome = models.VoteCreated
		if _, err := tx.Exec(ctx,
			`INSERT INTO votes (id, market_id, voter_key, choice, created_at) VALUES ($1, $2, $3, $4, $5)`,
			receipt.ID, marketID, voterKey, string(choice), now,
		); err != nil {
			return nil, fmt.Errorf("insert vote: %w", err)
		}
		col := choice.Column()
		if _, err := tx.Exec(ctx,
			`UPDATE markets SET `+col+` = `+col+` + 1, updated_at = $2 WHERE id = $1`, marketID, now,
		); err != nil {
			return nil, fmt.Errorf("increment %s: %w", col, err)
		}

	case err != nil:
		return nil, fmt.Errorf("get vote: %w", err)

	case models.Choice(stored) == choice:
		receipt.Vote = models.Vote{ID: receipt.ID, MarketID: marketID, VoterKey: voterKey, Choice: choice, CreatedAt: createdAt}
		receipt.Outcome = models.VoteUnchanged

	default:
		receipt.Vote = models.Vote{ID: receipt.ID, MarketID: marketID, VoterKey: voterKey, Choice: choice, CreatedAt: createdAt}
		receipt.Outcome = models.VoteFlipped
		if _, err := tx.Exec(ctx, `UPDATE votes SET choice = $2 WHERE id = $1`, receipt.ID, string(choice)); err != nil {
			return nil, fmt.Errorf("flip vote: %w", err)
		}
		inc, dec := choice.Column(), models.Choice(stored).Column()
		if _, err := tx.Exec(ctx,
			`UPDATE markets SET `+inc+` = `+inc+` + 1, `+dec+` = GREATEST(`+dec+` - 1, 0), updated_at = $2 WHERE id = $1`,
			marketID, now,
		); err != nil {
			return nil, fmt.Errorf("move counters: %w", err)
		}
	}

	if err := tx.QueryRow(ctx,
		`SELECT w_votes, trash_votes FROM markets WHERE id = $1`, marketID,
	).Scan(&receipt.WVoteCount, &receipt.TrashVoteCount); err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit vote: %w", err)
	}
	return receipt, nil
}

func (s *Store) CountVotes(ctx context.Context, marketID string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM votes WHERE market_id = $1`, marketID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return n, nil
}

func (s *Store) ListMessages(ctx context.Context, marketID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = storage.DefaultMessageLimit
	}
	query := `
		SELECT id, market_id, author_key, text, kind, created_at
		FROM messages
		WHERE market_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		var msg models.Message
		var kind string
		if err := rows.Scan(&msg.ID, &msg.MarketID, &msg.AuthorKey, &msg.Text, &kind, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Kind = models.MessageKind(kind)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// AppendMessage relies on the foreign key to reject unknown markets.
func (s *Store) AppendMessage(ctx context.Context, marketID, authorKey, text string, kind models.MessageKind) (*models.Message, error) {
	if kind == "" {
		kind = models.KindDefault
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		AuthorKey: authorKey,
		Text:      text,
		Kind:      kind,
		CreatedAt: s.now(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, market_id, author_key, text, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.MarketID, msg.AuthorKey, msg.Text, string(msg.Kind), msg.CreatedAt,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return nil, storage.ErrMarketNotFound
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *Store) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username must not be empty")
	}
	u := &models.User{ID: uuid.NewString(), Username: username, Password: password}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, password) VALUES ($1, $2, $3)`, u.ID, u.Username, u.Password,
	); err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateUser
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.Password)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Store) prepareInsert(m *models.Market) (*models.Market, error) {
	row := *m
	row.Normalize()
	row.WVoteCount, row.TrashVoteCount = 0, 0
	if err := row.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market: %w", err)
	}
	now := s.now()
	row.CreatedAt, row.UpdatedAt = now, now
	return &row, nil
}

func insertArgs(m *models.Market) []any {
	return []any{
		m.ID, m.ContractAddress, m.Name, m.Symbol, m.ImageURL, m.MarketCapUSD, m.Volume24hUSD,
		m.DevWalletPercent, m.RiskScore, nullableTime(m.LaunchTime), m.IsFrozen, m.CreatedAt,
	}
}

func scanMarket(row pgx.Row) (*models.Market, error) {
	var m models.Market
	var launch *time.Time
	err := row.Scan(
		&m.ID, &m.ContractAddress, &m.Name, &m.Symbol, &m.ImageURL, &m.MarketCapUSD, &m.Volume24hUSD,
		&m.DevWalletPercent, &m.RiskScore, &launch, &m.IsFrozen, &m.WVoteCount, &m.TrashVoteCount,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if launch != nil {
		m.LaunchTime = *launch
	}
	return &m, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
