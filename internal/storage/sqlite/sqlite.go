// Package sqlite provides the SQLite-backed market ledger.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rewired-gh/verdictx/internal/models"
	"github.com/rewired-gh/verdictx/internal/storage"
)

// Store wraps a SQLite database for all ledger operations.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time interface check.
var _ storage.Ledger = (*Store)(nil)

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/verdictx/ledger.db.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "verdictx", "ledger.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: every transaction, including CastVote's
	// read-check-write, runs serially.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS markets (
			id               TEXT PRIMARY KEY,
			contract_address TEXT NOT NULL,
			name             TEXT NOT NULL DEFAULT '',
			symbol           TEXT NOT NULL DEFAULT '',
			image_url        TEXT NOT NULL DEFAULT '',
			market_cap_usd   REAL NOT NULL DEFAULT 0,
			volume_24h_usd   REAL NOT NULL DEFAULT 0,
			dev_wallet_pct   TEXT NOT NULL DEFAULT '0',
			risk_score       INTEGER NOT NULL DEFAULT 0 CHECK (risk_score BETWEEN 0 AND 100),
			launch_time      INTEGER NOT NULL DEFAULT 0,
			is_frozen        INTEGER NOT NULL DEFAULT 0,
			w_votes          INTEGER NOT NULL DEFAULT 0 CHECK (w_votes >= 0),
			trash_votes      INTEGER NOT NULL DEFAULT 0 CHECK (trash_votes >= 0),
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_markets_id_lower ON markets(lower(id))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_markets_ca_lower ON markets(lower(contract_address))`,
		`CREATE TABLE IF NOT EXISTS votes (
			id         TEXT PRIMARY KEY,
			market_id  TEXT NOT NULL REFERENCES markets(id),
			voter_key  TEXT NOT NULL,
			choice     TEXT NOT NULL CHECK (choice IN ('W', 'TRASH')),
			created_at INTEGER NOT NULL,
			UNIQUE (market_id, voter_key)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			market_id  TEXT NOT NULL REFERENCES markets(id),
			author_key TEXT NOT NULL,
			text       TEXT NOT NULL,
			kind       TEXT NOT NULL DEFAULT 'default',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_market_seq ON messages(market_id, seq DESC)`,
		`CREATE TABLE IF NOT EXISTS users (
			id       TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetMarket(ctx context.Context, idOrAddress string) (*models.Market, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+marketCols+` FROM markets
		WHERE lower(id) = lower(?) OR lower(contract_address) = lower(?)
		ORDER BY CASE WHEN lower(id) = lower(?) THEN 0 ELSE 1 END
		LIMIT 1`, idOrAddress, idOrAddress, idOrAddress)
	m, err := scanMarket(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get market: %w", err)
	}
	return m, nil
}

func (s *Store) ListTrendingMarkets(ctx context.Context, limit int) ([]*models.Market, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+marketCols+` FROM markets
		ORDER BY (w_votes + trash_votes) DESC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trending markets: %w", err)
	}
	defer rows.Close()
	markets := []*models.Market{}
	for rows.Next() {
		m, err := scanMarket(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *Store) CreateMarket(ctx context.Context, m *models.Market) (*models.Market, error) {
	row, err := s.prepareInsert(m)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := checkKeysFree(ctx, tx, row); err != nil {
		return nil, err
	}
	if err := insertMarket(ctx, tx, row); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit market: %w", err)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := scanMarket(tx.QueryRowContext(ctx, `SELECT `+marketCols+` FROM markets
		WHERE lower(contract_address) = lower(?)`, row.ContractAddress).Scan)
	switch {
	case err == nil:
		return existing, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("failed to look up market: %w", err)
	}

	if err := checkKeysFree(ctx, tx, row); err != nil {
		return nil, false, err
	}
	if err := insertMarket(ctx, tx, row); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit market: %w", err)
	}
	return row, true, nil
}

// checkKeysFree rejects m when its id or contract address matches either key
// of any stored market, so one address never resolves to two markets.
func checkKeysFree(ctx context.Context, tx *sql.Tx, m *models.Market) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM markets
		WHERE lower(id) IN (lower(?), lower(?)) OR lower(contract_address) IN (lower(?), lower(?))
		LIMIT 1`, m.ID, m.ContractAddress, m.ID, m.ContractAddress).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("failed to check market keys: %w", err)
	}
	return storage.ErrDuplicateMarket
}

func insertMarket(ctx context.Context, tx *sql.Tx, m *models.Market) error {
	if _, err := tx.ExecContext(ctx, insertMarketSQL, marketArgs(m)...); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateMarket
		}
		return fmt.Errorf("failed to insert market: %w", err)
	}
	return nil
}

func (s *Store) RefreshMarket(ctx context.Context, m *models.Market) (*models.Market, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE markets SET
			name=?, symbol=?, image_url=?, market_cap_usd=?, volume_24h_usd=?,
			dev_wallet_pct=?, risk_score=?, launch_time=?, is_frozen=?, updated_at=?
		WHERE id=?`,
		m.Name, m.Symbol, m.ImageURL, m.MarketCapUSD, m.Volume24hUSD,
		m.DevWalletPercent, m.RiskScore, toNano(m.LaunchTime), boolToInt(m.IsFrozen), s.now().UnixNano(),
		m.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh market: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, storage.ErrNotFound
	}
	return s.GetMarket(ctx, m.ID)
}

func (s *Store) CastVote(ctx context.Context, marketID, voterKey string, choice models.Choice) (*models.VoteReceipt, error) {
	if voterKey == "" {
		return nil, errors.New("voter key must not be empty")
	}
	choice, err := models.ParseChoice(string(choice))
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM markets WHERE id = ?`, marketID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up market: %w", err)
	}

	receipt := &models.VoteReceipt{}
	var stored string
	var createdNano int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, choice, created_at FROM votes WHERE market_id = ? AND voter_key = ?`,
		marketID, voterKey,
	).Scan(&receipt.ID, &stored, &createdNano)

	now := s.now()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		receipt.Vote = models.Vote{
			ID:        uuid.NewString(),
			MarketID:  marketID,
			VoterKey:  voterKey,
			Choice:    choice,
			CreatedAt: now,
		}
		receipt.Outcome = models.VoteCreated
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO votes (id, market_id, voter_key, choice, created_at) VALUES (?,?,?,?,?)`,
			receipt.ID, marketID, voterKey, string(choice), now.UnixNano(),
		); err != nil {
			return nil, fmt.Errorf("failed to insert vote: %w", err)
		}
		col := choice.Column()
		if _, err := tx.ExecContext(ctx,
			`UPDATE markets SET `+col+` = `+col+` + 1, updated_at = ? WHERE id = ?`,
			now.UnixNano(), marketID,
		); err != nil {
			return nil, fmt.Errorf("failed to increment %s: %w", col, err)
		}

	case err != nil:
		return nil, fmt.Errorf("failed to look up vote: %w", err)

	case models.Choice(stored) == choice:
		receipt.Vote = models.Vote{
			ID:        receipt.ID,
			MarketID:  marketID,
			VoterKey:  voterKey,
			Choice:    choice,
			CreatedAt: fromNano(createdNano),
		}
		receipt.Outcome = models.VoteUnchanged

	default:
		receipt.Vote = models.Vote{
			ID:        receipt.ID,
			MarketID:  marketID,
			VoterKey:  voterKey,
			Choice:    choice,
			CreatedAt: fromNano(createdNano),
		}
		receipt.Outcome = models.VoteFlipped
		if _, err := tx.ExecContext(ctx,
			`UPDATE votes SET choice = ? WHERE id = ?`, string(choice), receipt.ID,
		); err != nil {
			return nil, fmt.Errorf("failed to flip vote: %w", err)
		}
		inc, dec := choice.Column(), models.Choice(stored).Column()
		if _, err := tx.ExecContext(ctx,
			`UPDATE markets SET `+inc+` = `+inc+` + 1, `+dec+` = MAX(`+dec+` - 1, 0), updated_at = ? WHERE id = ?`,
			now.UnixNano(), marketID,
		); err != nil {
			return nil, fmt.Errorf("failed to move counters: %w", err)
		}
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT w_votes, trash_votes FROM markets WHERE id = ?`, marketID,
	).Scan(&receipt.WVoteCount, &receipt.TrashVoteCount); err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit vote: %w", err)
	}
	return receipt, nil
}

func (s *Store) CountVotes(ctx context.Context, marketID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE market_id = ?`, marketID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return n, nil
}

func (s *Store) ListMessages(ctx context.Context, marketID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = storage.DefaultMessageLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, author_key, text, kind, created_at
		FROM messages WHERE market_id = ?
		ORDER BY seq DESC LIMIT ?`, marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		var msg models.Message
		var kind string
		var createdNano int64
		if err := rows.Scan(&msg.ID, &msg.MarketID, &msg.AuthorKey, &msg.Text, &kind, &createdNano); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Kind = models.MessageKind(kind)
		msg.CreatedAt = fromNano(createdNano)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, marketID, authorKey, text string, kind models.MessageKind) (*models.Message, error) {
	if kind == "" {
		kind = models.KindDefault
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM markets WHERE id = ?`, marketID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up market: %w", err)
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		AuthorKey: authorKey,
		Text:      text,
		Kind:      kind,
		CreatedAt: s.now(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, market_id, author_key, text, kind, created_at)
		VALUES (?,?,?,?,?,?)`,
		msg.ID, msg.MarketID, msg.AuthorKey, msg.Text, string(msg.Kind), msg.CreatedAt.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

func (s *Store) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username must not be empty")
	}
	u := &models.User{ID: uuid.NewString(), Username: username, Password: password}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password) VALUES (?,?,?)`, u.ID, u.Username, u.Password,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrDuplicateUser
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username, &u.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// prepareInsert returns the row CreateMarket and EnsureMarket write:
// defaults applied, counters zeroed, timestamps stamped.
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

const insertMarketSQL = `
	INSERT INTO markets
		(id, contract_address, name, symbol, image_url, market_cap_usd, volume_24h_usd,
		 dev_wallet_pct, risk_score, launch_time, is_frozen, w_votes, trash_votes,
		 created_at, updated_at)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

func marketArgs(m *models.Market) []any {
	return []any{
		m.ID, m.ContractAddress, m.Name, m.Symbol, m.ImageURL, m.MarketCapUSD, m.Volume24hUSD,
		m.DevWalletPercent, m.RiskScore, toNano(m.LaunchTime), boolToInt(m.IsFrozen),
		m.WVoteCount, m.TrashVoteCount, m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano(),
	}
}

const marketCols = `id, contract_address, name, symbol, image_url, market_cap_usd, volume_24h_usd,
	dev_wallet_pct, risk_score, launch_time, is_frozen, w_votes, trash_votes, created_at, updated_at`

func scanMarket(scan func(...any) error) (*models.Market, error) {
	var m models.Market
	var launchNano, createdNano, updatedNano int64
	var frozen int
	err := scan(
		&m.ID, &m.ContractAddress, &m.Name, &m.Symbol, &m.ImageURL, &m.MarketCapUSD, &m.Volume24hUSD,
		&m.DevWalletPercent, &m.RiskScore, &launchNano, &frozen, &m.WVoteCount, &m.TrashVoteCount,
		&createdNano, &updatedNano,
	)
	if err != nil {
		return nil, err
	}
	m.LaunchTime = fromNano(launchNano)
	m.IsFrozen = frozen != 0
	m.CreatedAt = fromNano(createdNano)
	m.UpdatedAt = fromNano(updatedNano)
	return &m, nil
}

// isUniqueViolation checks for a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func toNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
