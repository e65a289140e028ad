package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/verdictx/internal/dexscreener"
	"github.com/rewired-gh/verdictx/internal/models"
	"github.com/rewired-gh/verdictx/internal/storage"
	"github.com/rewired-gh/verdictx/internal/storage/sqlite"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakePairs struct {
	pair  *dexscreener.Pair
	err   error
	calls int
}

func (f *fakePairs) TopPair(ctx context.Context, address string) (*dexscreener.Pair, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p := *f.pair
	return &p, nil
}

type fakeLLM struct {
	judgement Judgement
	err       error
	prompt    string
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, prompt string, out any) error {
	f.prompt = prompt
	if f.err != nil {
		return f.err
	}
	*(out.(*Judgement)) = f.judgement
	return nil
}

func healthyPair() *dexscreener.Pair {
	p := &dexscreener.Pair{PairAddress: "pair-1"}
	p.BaseToken = dexscreener.Token{Address: "0xABC", Name: "Token One", Symbol: "TOK1"}
	p.Liquidity.USD = 250_000
	p.FDV = 1_000_000
	p.Volume.H24 = 40_000
	p.Txns.H24 = dexscreener.TxnCount{Buys: 120, Sells: 100}
	p.PairCreatedAt = fixedNow.Add(-72 * time.Hour).UnixMilli()
	p.Info.ImageURL = "https://img/tok1.png"
	return p
}

func riskyPair() *dexscreener.Pair {
	p := healthyPair()
	p.Liquidity.USD = 2_000
	p.Txns.H24 = dexscreener.TxnCount{Buys: 5, Sells: 40}
	p.PairCreatedAt = fixedNow.Add(-15 * time.Minute).UnixMilli()
	return p
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestAnalyzer(pairs PairSource, llm Completer, store MarketStore) *Analyzer {
	a := New(pairs, llm, store, time.Second)
	a.now = func() time.Time { return fixedNow }
	return a
}

func TestAnalyseCreatesMarket(t *testing.T) {
	store := newTestStore(t)
	a := newTestAnalyzer(&fakePairs{pair: healthyPair()}, nil, store)

	report, err := a.Analyse(context.Background(), " 0xABC ")
	require.NoError(t, err)
	assert.Equal(t, "0xABC", report.RoomID)
	assert.True(t, report.CreatedMarket)
	assert.Equal(t, "Token One", report.Name)
	assert.Equal(t, RiskLow, report.RiskLevel)
	assert.Equal(t, VerdictW, report.Verdict)
	assert.Equal(t, 10, report.RiskScore, "no rule fired, low judgement adds 10")
	assert.Empty(t, report.RedFlags)

	m, err := store.GetMarket(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "TOK1", m.Symbol)
	assert.Equal(t, 10, m.RiskScore)
	assert.InDelta(t, 1_000_000.0, m.MarketCapUSD, 0.01)
	assert.Equal(t, fixedNow.Add(-72*time.Hour).Unix(), m.LaunchTime.Unix())
	assert.Zero(t, m.TotalVotes())
}

func TestAnalyseRefreshesExistingMarket(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateMarket(ctx, &models.Market{
		ID:               "room-1",
		ContractAddress:  "0xABC",
		Name:             "Old",
		DevWalletPercent: "37.50",
		IsFrozen:         true,
	})
	require.NoError(t, err)
	_, err = store.CastVote(ctx, "room-1", "voterA", models.ChoiceW)
	require.NoError(t, err)

	a := newTestAnalyzer(&fakePairs{pair: riskyPair()}, nil, store)
	report, err := a.Analyse(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "room-1", report.RoomID)
	assert.False(t, report.CreatedMarket)

	m, err := store.GetMarket(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "Token One", m.Name)
	assert.Equal(t, report.RiskScore, m.RiskScore)
	assert.Equal(t, int64(1), m.WVoteCount, "refresh keeps counters")
	assert.Equal(t, "37.50", m.DevWalletPercent, "refresh keeps the dev holding")
	assert.True(t, m.IsFrozen, "refresh keeps the freeze flag")
}

func TestAnalyseRiskyTokenRules(t *testing.T) {
	store := newTestStore(t)
	a := newTestAnalyzer(&fakePairs{pair: riskyPair()}, nil, store)

	report, err := a.Analyse(context.Background(), "0xABC")
	require.NoError(t, err)
	// thin liquidity 40 + young pair 20 + sell pressure 20 = 80, high adds 30
	assert.Equal(t, 100, report.RiskScore)
	assert.Equal(t, RiskHigh, report.RiskLevel)
	assert.Equal(t, ConfidenceStrong, report.Confidence)
	assert.Equal(t, VerdictL, report.Verdict)
	assert.Len(t, report.RedFlags, 3)
	assert.Equal(t, int64(15), report.Features.TokenAgeMinutes)
}

func TestAnalyseTokenNotFoundWritesNothing(t *testing.T) {
	store := newTestStore(t)
	a := newTestAnalyzer(&fakePairs{err: dexscreener.ErrNoPairs}, nil, store)

	_, err := a.Analyse(context.Background(), "0xNOPE")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = store.GetMarket(context.Background(), "0xNOPE")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAnalyseUpstreamFailureWritesNothing(t *testing.T) {
	store := newTestStore(t)

	a := newTestAnalyzer(&fakePairs{err: errors.New("connection reset")}, nil, store)
	_, err := a.Analyse(context.Background(), "0xABC")
	assert.ErrorIs(t, err, ErrUpstream)

	llm := &fakeLLM{err: errors.New("503 from completion endpoint")}
	a = newTestAnalyzer(&fakePairs{pair: healthyPair()}, llm, store)
	_, err = a.Analyse(context.Background(), "0xABC")
	assert.ErrorIs(t, err, ErrUpstream)

	_, err = store.GetMarket(context.Background(), "0xABC")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAnalyseWithLLMJudgement(t *testing.T) {
	store := newTestStore(t)
	llm := &fakeLLM{judgement: Judgement{
		RiskLevel:  "high",
		Confidence: "MODERATE",
		Reasons:    []string{"Concentrated supply risk", " ", "Anonymous team"},
		Verdict:    "l",
	}}
	a := newTestAnalyzer(&fakePairs{pair: healthyPair()}, llm, store)

	report, err := a.Analyse(context.Background(), "0xABC")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, report.RiskLevel)
	assert.Equal(t, ConfidenceModerate, report.Confidence)
	assert.Equal(t, VerdictL, report.Verdict)
	assert.Equal(t, []string{"Concentrated supply risk", "Anonymous team"}, report.Reasons)
	assert.Equal(t, 30, report.RiskScore)
	assert.Equal(t, []string{"Concentrated supply risk"}, report.RedFlags, "risk-flavoured reasons stand in for rule flags")
	assert.Contains(t, llm.prompt, `"liquidity_usd": 250000`)
}

func TestAnalyseRejectsInvalidLLMJudgement(t *testing.T) {
	store := newTestStore(t)
	llm := &fakeLLM{judgement: Judgement{RiskLevel: "Apocalyptic", Confidence: "Weak", Reasons: []string{"x"}, Verdict: "W"}}
	a := newTestAnalyzer(&fakePairs{pair: healthyPair()}, llm, store)

	_, err := a.Analyse(context.Background(), "0xABC")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestScoreTokenUsesCrowdSignals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateMarket(ctx, &models.Market{ID: "tok1", ContractAddress: "0xABC", DevWalletPercent: "12.5"})
	require.NoError(t, err)
	for i, c := range []models.Choice{models.ChoiceTrash, models.ChoiceTrash, models.ChoiceTrash, models.ChoiceTrash, models.ChoiceW} {
		_, err := store.CastVote(ctx, "tok1", string(rune('a'+i)), c)
		require.NoError(t, err)
	}
	for _, text := range []string{"gm", "this is a RUG", "scam dev", "wagmi"} {
		_, err := store.AppendMessage(ctx, "tok1", "anon", text, models.KindDefault)
		require.NoError(t, err)
	}

	pairs := &fakePairs{pair: healthyPair()}
	a := newTestAnalyzer(pairs, nil, store)
	score, err := a.ScoreToken(ctx, "0xabc")
	require.NoError(t, err)

	assert.Equal(t, int64(5), score.Features.TotalVotes)
	assert.InDelta(t, 0.2, score.Features.WRatio, 1e-9)
	assert.InDelta(t, 0.5, score.Features.ChatWarningDensity, 1e-9)
	assert.Equal(t, "12.50", score.Features.DevSupplyPercent)
	// dev 30 + crowd 20 + chat 15
	assert.Equal(t, 65, score.RuleScore)
	assert.Equal(t, RiskHigh, score.Judgement.RiskLevel)
	assert.Equal(t, 95, score.RiskScore)
	assert.True(t, strings.HasPrefix(score.Narrative, "Token One (TOK1) scores 95/100."))
	assert.Equal(t, 1, pairs.calls)
}

func TestAnalyseEmptyAddress(t *testing.T) {
	pairs := &fakePairs{pair: healthyPair()}
	a := newTestAnalyzer(pairs, nil, newTestStore(t))
	_, err := a.Analyse(context.Background(), "   ")
	assert.Error(t, err)
	assert.Zero(t, pairs.calls)
}

func TestCombine(t *testing.T) {
	assert.Equal(t, 10, combine(0, RiskLow))
	assert.Equal(t, 50, combine(40, RiskMedium))
	assert.Equal(t, 30, combine(0, RiskHigh))
	assert.Equal(t, 100, combine(95, RiskHigh))
}
