// Package storagetest holds the behavioral suite every storage.Ledger
// implementation must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/verdictx/internal/models"
	"github.com/rewired-gh/verdictx/internal/storage"
)

// Factory returns a fresh, empty ledger. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Ledger

// Run executes the ledger suite against ledgers built by newLedger.
func Run(t *testing.T, newLedger Factory) {
	t.Run("CreateAndGetMarket", func(t *testing.T) { testCreateAndGetMarket(t, newLedger(t)) })
	t.Run("GetMarketCaseInsensitive", func(t *testing.T) { testGetMarketCaseInsensitive(t, newLedger(t)) })
	t.Run("GetMarketNotFound", func(t *testing.T) { testGetMarketNotFound(t, newLedger(t)) })
	t.Run("CreateMarketDuplicate", func(t *testing.T) { testCreateMarketDuplicate(t, newLedger(t)) })
	t.Run("MarketKeysCrossClash", func(t *testing.T) { testMarketKeysCrossClash(t, newLedger(t)) })
	t.Run("CreateMarketZeroesCounters", func(t *testing.T) { testCreateMarketZeroesCounters(t, newLedger(t)) })
	t.Run("EnsureMarket", func(t *testing.T) { testEnsureMarket(t, newLedger(t)) })
	t.Run("EnsureMarketConcurrent", func(t *testing.T) { testEnsureMarketConcurrent(t, newLedger(t)) })
	t.Run("RefreshMarket", func(t *testing.T) { testRefreshMarket(t, newLedger(t)) })
	t.Run("TrendingOrder", func(t *testing.T) { testTrendingOrder(t, newLedger(t)) })
	t.Run("VoteScenario", func(t *testing.T) { testVoteScenario(t, newLedger(t)) })
	t.Run("VoteIdempotent", func(t *testing.T) { testVoteIdempotent(t, newLedger(t)) })
	t.Run("VoteFlipConservesTotal", func(t *testing.T) { testVoteFlipConservesTotal(t, newLedger(t)) })
	t.Run("VoteMarketNotFound", func(t *testing.T) { testVoteMarketNotFound(t, newLedger(t)) })
	t.Run("VoteConcurrent", func(t *testing.T) { testVoteConcurrent(t, newLedger(t)) })
	t.Run("MessagesNewestFirst", func(t *testing.T) { testMessagesNewestFirst(t, newLedger(t)) })
	t.Run("MessageSingle", func(t *testing.T) { testMessageSingle(t, newLedger(t)) })
	t.Run("MessageLimit", func(t *testing.T) { testMessageLimit(t, newLedger(t)) })
	t.Run("MessageMarketNotFound", func(t *testing.T) { testMessageMarketNotFound(t, newLedger(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newLedger(t)) })
}

func createTok1(t *testing.T, l storage.Ledger) *models.Market {
	t.Helper()
	m, err := l.CreateMarket(context.Background(), &models.Market{
		ID:              "tok1",
		ContractAddress: "0xABC",
		Name:            "Token One",
		Symbol:          "TOK1",
	})
	require.NoError(t, err)
	return m
}

func requireCounts(t *testing.T, l storage.Ledger, id string, w, trash int64) {
	t.Helper()
	m, err := l.GetMarket(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, w, m.WVoteCount, "w votes")
	assert.Equal(t, trash, m.TrashVoteCount, "trash votes")

	n, err := l.CountVotes(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, n, m.TotalVotes(), "counters must match vote rows")
}

func testCreateAndGetMarket(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	created, err := l.CreateMarket(ctx, &models.Market{
		ID:               "pepe",
		ContractAddress:  "0x6982508145454Ce325dDbE47a25d4ec3d2311933",
		Name:             "Pepe",
		Symbol:           "PEPE",
		ImageURL:         "https://example.com/pepe.png",
		MarketCapUSD:     420000000,
		Volume24hUSD:     1500000,
		DevWalletPercent: "1.20",
		RiskScore:        12,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.CreatedAt)

	got, err := l.GetMarket(ctx, "pepe")
	require.NoError(t, err)
	assert.Equal(t, "0x6982508145454Ce325dDbE47a25d4ec3d2311933", got.ContractAddress)
	assert.Equal(t, "Pepe", got.Name)
	assert.Equal(t, "PEPE", got.Symbol)
	assert.Equal(t, "https://example.com/pepe.png", got.ImageURL)
	assert.InDelta(t, 420000000.0, got.MarketCapUSD, 0.01)
	assert.InDelta(t, 1500000.0, got.Volume24hUSD, 0.01)
	assert.Equal(t, "1.20", got.DevWalletPercent)
	assert.Equal(t, 12, got.RiskScore)
	assert.Zero(t, got.TotalVotes())
}

func testGetMarketCaseInsensitive(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	_, err := l.CreateMarket(ctx, &models.Market{ID: "m-1", ContractAddress: "abc123"})
	require.NoError(t, err)

	upper, err := l.GetMarket(ctx, "AbC123")
	require.NoError(t, err)
	lower, err := l.GetMarket(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, lower.ID, upper.ID)
	assert.Equal(t, "m-1", upper.ID)

	byID, err := l.GetMarket(ctx, "M-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", byID.ID)
}

func testGetMarketNotFound(t *testing.T, l storage.Ledger) {
	_, err := l.GetMarket(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testCreateMarketDuplicate(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	createTok1(t, l)

	_, err := l.CreateMarket(ctx, &models.Market{ID: "tok1-again", ContractAddress: "0xabc"})
	assert.ErrorIs(t, err, storage.ErrDuplicateMarket, "case-folded address clash")

	_, err = l.CreateMarket(ctx, &models.Market{ID: "tok1", ContractAddress: "0xDEF"})
	assert.ErrorIs(t, err, storage.ErrDuplicateMarket, "id clash")

	_, err = l.CreateMarket(ctx, &models.Market{ID: "x"})
	assert.Error(t, err, "missing contract address")
}

// An id may not shadow another market's contract address, nor the reverse.
func testMarketKeysCrossClash(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	createTok1(t, l)

	_, err := l.CreateMarket(ctx, &models.Market{ID: "0xabc", ContractAddress: "0xDEF"})
	assert.ErrorIs(t, err, storage.ErrDuplicateMarket, "id equal to an existing address")

	_, err = l.CreateMarket(ctx, &models.Market{ID: "other", ContractAddress: "TOK1"})
	assert.ErrorIs(t, err, storage.ErrDuplicateMarket, "address equal to an existing id")

	_, _, err = l.EnsureMarket(ctx, &models.Market{ID: "0xABC", ContractAddress: "0xDEF"})
	assert.ErrorIs(t, err, storage.ErrDuplicateMarket, "ensure with a shadowing id")

	_, err = l.GetMarket(ctx, "0xDEF")
	assert.ErrorIs(t, err, storage.ErrNotFound, "rejected markets leave no row")

	m, err := l.GetMarket(ctx, "0xABC")
	require.NoError(t, err)
	assert.Equal(t, "tok1", m.ID)
}

func testCreateMarketZeroesCounters(t *testing.T, l storage.Ledger) {
	m, err := l.CreateMarket(context.Background(), &models.Market{
		ContractAddress: "0xFEED",
		WVoteCount:      500,
		TrashVoteCount:  7,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xFEED", m.ID, "id defaults to contract address")
	requireCounts(t, l, "0xFEED", 0, 0)
}

func testEnsureMarket(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	m, created, err := l.EnsureMarket(ctx, &models.Market{ContractAddress: "0xNEW", Name: "First"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "First", m.Name)

	m, created, err = l.EnsureMarket(ctx, &models.Market{ContractAddress: "0xnew", Name: "Second"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "0xNEW", m.ID)
	assert.Equal(t, "First", m.Name, "existing row is left alone")
}

func testEnsureMarketConcurrent(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := l.EnsureMarket(ctx, &models.Market{ContractAddress: "0xRACE"})
			if err != nil {
				errs <- err
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, createdCount)
}

func testRefreshMarket(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	m := createTok1(t, l)
	_, err := l.CastVote(ctx, m.ID, "voterA", models.ChoiceW)
	require.NoError(t, err)

	m.Name = "Renamed"
	m.MarketCapUSD = 99
	m.RiskScore = 70
	m.WVoteCount = 1000
	got, err := l.RefreshMarket(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, 70, got.RiskScore)
	assert.InDelta(t, 99.0, got.MarketCapUSD, 0.001)
	requireCounts(t, l, "tok1", 1, 0)

	_, err = l.RefreshMarket(ctx, &models.Market{ID: "ghost", ContractAddress: "0x0"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testTrendingOrder(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b", "d"} {
		_, err := l.CreateMarket(ctx, &models.Market{ID: id, ContractAddress: "ca-" + id})
		require.NoError(t, err)
	}
	// d has 3 votes and b has 2. a and c tie at 1 and fall back to id order.
	for i := 0; i < 3; i++ {
		_, err := l.CastVote(ctx, "d", fmt.Sprintf("v%d", i), models.ChoiceTrash)
		require.NoError(t, err)
	}
	for _, id := range []string{"a", "b", "c"} {
		_, err := l.CastVote(ctx, id, "v0", models.ChoiceW)
		require.NoError(t, err)
	}
	_, err := l.CastVote(ctx, "b", "v1", models.ChoiceTrash)
	require.NoError(t, err)

	markets, err := l.ListTrendingMarkets(ctx, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"d", "b", "a", "c"}, ids)

	top, err := l.ListTrendingMarkets(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func testVoteScenario(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	createTok1(t, l)

	r, err := l.CastVote(ctx, "tok1", "voterA", models.ChoiceW)
	require.NoError(t, err)
	assert.Equal(t, models.VoteCreated, r.Outcome)
	requireCounts(t, l, "tok1", 1, 0)

	r, err = l.CastVote(ctx, "tok1", "voterA", models.ChoiceW)
	require.NoError(t, err)
	assert.Equal(t, models.VoteUnchanged, r.Outcome)
	requireCounts(t, l, "tok1", 1, 0)

	first := r.Vote
	r, err = l.CastVote(ctx, "tok1", "voterA", models.ChoiceTrash)
	require.NoError(t, err)
	assert.Equal(t, models.VoteFlipped, r.Outcome)
	assert.Equal(t, first.ID, r.ID, "flip mutates the existing row")
	assert.True(t, first.CreatedAt.Equal(r.CreatedAt), "createdAt is not touched by a flip")
	assert.Equal(t, int64(0), r.WVoteCount)
	assert.Equal(t, int64(1), r.TrashVoteCount)
	requireCounts(t, l, "tok1", 0, 1)

	r, err = l.CastVote(ctx, "tok1", "voterB", models.ChoiceW)
	require.NoError(t, err)
	assert.Equal(t, models.VoteCreated, r.Outcome)
	requireCounts(t, l, "tok1", 1, 1)
}

func testVoteIdempotent(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	createTok1(t, l)
	for i := 0; i < 5; i++ {
		_, err := l.CastVote(ctx, "tok1", "same-voter", models.ChoiceTrash)
		require.NoError(t, err)
	}
	requireCounts(t, l, "tok1", 0, 1)
}

func testVoteFlipConservesTotal(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	createTok1(t, l)
	for i := 0; i < 4; i++ {
		_, err := l.CastVote(ctx, "tok1", fmt.Sprintf("w-%d", i), models.ChoiceW)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := l.CastVote(ctx, "tok1", fmt.Sprintf("t-%d", i), models.ChoiceTrash)
		require.NoError(t, err)
	}
	requireCounts(t, l, "tok1", 4, 3)

	r, err := l.CastVote(ctx, "tok1", "w-0", models.ChoiceTrash)
	require.NoError(t, err)
	assert.Equal(t, int64(7), r.WVoteCount+r.TrashVoteCount)
	requireCounts(t, l, "tok1", 3, 4)

	_, err = l.CastVote(ctx, "tok1", "w-0", models.ChoiceW)
	require.NoError(t, err)
	requireCounts(t, l, "tok1", 4, 3)
}

func testVoteMarketNotFound(t *testing.T, l storage.Ledger) {
	_, err := l.CastVote(context.Background(), "ghost", "voterA", models.ChoiceW)
	assert.ErrorIs(t, err, storage.ErrMarketNotFound)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func testVoteConcurrent(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	createTok1(t, l)

	const voters = 20
	var wg sync.WaitGroup
	errs := make(chan error, voters*4)
	for i := 0; i < voters; i++ {
		voter := fmt.Sprintf("voter-%d", i)
		// Each voter double-clicks W and then TRASH concurrently; whichever
		// lands last wins, but only one row may exist.
		for _, c := range []models.Choice{models.ChoiceW, models.ChoiceW, models.ChoiceTrash, models.ChoiceTrash} {
			wg.Add(1)
			go func(choice models.Choice) {
				defer wg.Done()
				if _, err := l.CastVote(ctx, "tok1", voter, choice); err != nil {
					errs <- err
				}
			}(c)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	m, err := l.GetMarket(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, int64(voters), m.TotalVotes())
	requireCounts(t, l, "tok1", m.WVoteCount, m.TrashVoteCount)
}

func testMessagesNewestFirst(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	createTok1(t, l)
	for _, text := range []string{"M1", "M2", "M3"} {
		_, err := l.AppendMessage(ctx, "tok1", "voterA", text, models.KindDefault)
		require.NoError(t, err)
	}
	msgs, err := l.ListMessages(ctx, "tok1", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "M3", msgs[0].Text)
	assert.Equal(t, "M2", msgs[1].Text)
	assert.Equal(t, "M1", msgs[2].Text)
}

func testMessageSingle(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	createTok1(t, l)
	appended, err := l.AppendMessage(ctx, "tok1", "voterA", "gm", models.KindDefault)
	require.NoError(t, err)
	assert.NotEmpty(t, appended.ID)

	msgs, err := l.ListMessages(ctx, "tok1", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "gm", msgs[0].Text)
	assert.Equal(t, models.KindDefault, msgs[0].Kind)
	assert.Equal(t, "voterA", msgs[0].AuthorKey)
	assert.Equal(t, appended.ID, msgs[0].ID)

	empty, err := l.ListMessages(ctx, "unknown-market", 50)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func testMessageLimit(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	createTok1(t, l)
	for i := 0; i < storage.DefaultMessageLimit+5; i++ {
		_, err := l.AppendMessage(ctx, "tok1", "bot", fmt.Sprintf("line %d", i), models.KindAlertWhale)
		require.NoError(t, err)
	}
	msgs, err := l.ListMessages(ctx, "tok1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, storage.DefaultMessageLimit)
	assert.Equal(t, fmt.Sprintf("line %d", storage.DefaultMessageLimit+4), msgs[0].Text)

	few, err := l.ListMessages(ctx, "tok1", 3)
	require.NoError(t, err)
	assert.Len(t, few, 3)
}

func testMessageMarketNotFound(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	_, err := l.AppendMessage(ctx, "ghost", "voterA", "hello", models.KindDefault)
	assert.ErrorIs(t, err, storage.ErrMarketNotFound)

	msgs, err := l.ListMessages(ctx, "ghost", 50)
	require.NoError(t, err)
	assert.Empty(t, msgs, "a failed append leaves no row behind")
}

func testUsers(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	u, err := l.CreateUser(ctx, "degen", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	_, err = l.CreateUser(ctx, "degen", "other")
	assert.ErrorIs(t, err, storage.ErrDuplicateUser)

	got, err := l.GetUserByUsername(ctx, "degen")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "hunter2", got.Password)

	_, err = l.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
