// Package analysis produces rug-risk reports for tokens from DEX pair data,
// crowd signals in the ledger, and an optional LLM judgement.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/verdictx/internal/dexscreener"
	"github.com/rewired-gh/verdictx/internal/models"
	"github.com/rewired-gh/verdictx/internal/storage"
)

// DefaultTimeout bounds one Analyse call including all upstream requests.
const DefaultTimeout = 10 * time.Second

var (
	// ErrTokenNotFound means the DEX aggregator has no pair for the token.
	ErrTokenNotFound = errors.New("token not found on chain")

	// ErrUpstream is a network, status, or decoding failure in a collaborator.
	ErrUpstream = errors.New("upstream service failed")
)

// PairSource looks up the most liquid trading pair of a token.
type PairSource interface {
	TopPair(ctx context.Context, address string) (*dexscreener.Pair, error)
}

// Completer answers a prompt with a JSON object decoded into out.
type Completer interface {
	CompleteJSON(ctx context.Context, prompt string, out any) error
}

// MarketStore is the part of the ledger the analyzer reads and writes.
type MarketStore interface {
	GetMarket(ctx context.Context, idOrAddress string) (*models.Market, error)
	ListMessages(ctx context.Context, marketID string, limit int) ([]*models.Message, error)
	EnsureMarket(ctx context.Context, m *models.Market) (*models.Market, bool, error)
	RefreshMarket(ctx context.Context, m *models.Market) (*models.Market, error)
}

// Scorer rates a token without side effects.
type Scorer interface {
	ScoreToken(ctx context.Context, contractAddress string) (*Score, error)
}

// Score is the side-effect free result of rating one token.
type Score struct {
	RiskScore int       `json:"riskScore"`
	RuleScore int       `json:"ruleScore"`
	Features  Features  `json:"features"`
	RedFlags  []string  `json:"redFlags"`
	Judgement Judgement `json:"judgement"`
	Narrative string    `json:"narrative"`

	pair   *dexscreener.Pair
	market *models.Market
}

// Report is the payload returned to clients after an analysis.
type Report struct {
	ContractAddress string   `json:"ca"`
	Name            string   `json:"name"`
	Symbol          string   `json:"symbol"`
	RiskScore       int      `json:"riskScore"`
	RiskLevel       string   `json:"riskLevel"`
	Confidence      string   `json:"confidence"`
	Reasons         []string `json:"reasons"`
	Verdict         string   `json:"verdict"`
	Features        Features `json:"features"`
	RedFlags        []string `json:"redFlags"`
	Narrative       string   `json:"narrative"`
	RoomID          string   `json:"roomId"`
	CreatedMarket   bool     `json:"createdMarket"`
}

// Analyzer implements Scorer over a pair source, the ledger, and an
// optional LLM.
type Analyzer struct {
	pairs   PairSource
	llm     Completer
	store   MarketStore
	timeout time.Duration
	now     func() time.Time
}

// Compile-time interface check.
var _ Scorer = (*Analyzer)(nil)

// New creates an Analyzer. llm may be nil, in which case the judgement is
// derived from the rule score alone. timeout <= 0 selects DefaultTimeout.
func New(pairs PairSource, llm Completer, store MarketStore, timeout time.Duration) *Analyzer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Analyzer{
		pairs:   pairs,
		llm:     llm,
		store:   store,
		timeout: timeout,
		now:     time.Now,
	}
}

// ScoreToken fetches pair data and crowd signals for contractAddress and
// rates it. Nothing is written.
func (a *Analyzer) ScoreToken(ctx context.Context, contractAddress string) (*Score, error) {
	ca := strings.TrimSpace(contractAddress)
	if ca == "" {
		return nil, errors.New("contract address must not be empty")
	}

	pair, err := a.pairs.TopPair(ctx, ca)
	if errors.Is(err, dexscreener.ErrNoPairs) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dex lookup: %v", ErrUpstream, err)
	}

	market, err := a.store.GetMarket(ctx, ca)
	if errors.Is(err, storage.ErrNotFound) {
		market = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to load market: %w", err)
	}

	var messages []*models.Message
	if market != nil {
		messages, err = a.store.ListMessages(ctx, market.ID, storage.DefaultMessageLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load messages: %w", err)
		}
	}

	features := buildFeatures(pair, market, messages, a.now())
	ruleScore, flags := applyRules(features)

	var judgement Judgement
	if a.llm != nil {
		judgement, err = a.askLLM(ctx, features, flags)
		if err != nil {
			return nil, err
		}
	} else {
		judgement = judgeFromRules(ruleScore, flags)
	}

	score := &Score{
		RiskScore: combine(ruleScore, judgement.RiskLevel),
		RuleScore: ruleScore,
		Features:  features,
		RedFlags:  flags,
		Judgement: judgement,
		pair:      pair,
		market:    market,
	}
	score.Narrative = narrative(pair, score)
	return score, nil
}

// Analyse scores the token and then materializes its market: created when
// unseen, refreshed otherwise. A scoring failure writes nothing.
func (a *Analyzer) Analyse(ctx context.Context, contractAddress string) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	score, err := a.ScoreToken(ctx, contractAddress)
	if err != nil {
		return nil, err
	}

	ca := strings.TrimSpace(contractAddress)
	snapshot := snapshotFromPair(ca, score)

	var market *models.Market
	created := false
	if score.market == nil {
		market, created, err = a.store.EnsureMarket(ctx, snapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to create market: %w", err)
		}
	}
	if !created {
		existing := score.market
		if existing == nil {
			existing = market
		}
		// Pairs carry no dev holding or freeze state, so DevWalletPercent
		// and IsFrozen keep whatever the market was created with.
		refreshed := *existing
		refreshed.Name = snapshot.Name
		refreshed.Symbol = snapshot.Symbol
		refreshed.ImageURL = snapshot.ImageURL
		refreshed.MarketCapUSD = snapshot.MarketCapUSD
		refreshed.Volume24hUSD = snapshot.Volume24hUSD
		refreshed.RiskScore = snapshot.RiskScore
		if refreshed.LaunchTime.IsZero() {
			refreshed.LaunchTime = snapshot.LaunchTime
		}
		market, err = a.store.RefreshMarket(ctx, &refreshed)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh market: %w", err)
		}
	}

	return &Report{
		ContractAddress: ca,
		Name:            score.pair.BaseToken.Name,
		Symbol:          score.pair.BaseToken.Symbol,
		RiskScore:       score.RiskScore,
		RiskLevel:       score.Judgement.RiskLevel,
		Confidence:      score.Judgement.Confidence,
		Reasons:         score.Judgement.Reasons,
		Verdict:         score.Judgement.Verdict,
		Features:        score.Features,
		RedFlags:        reportFlags(score),
		Narrative:       score.Narrative,
		RoomID:          market.ID,
		CreatedMarket:   created,
	}, nil
}

func snapshotFromPair(ca string, s *Score) *models.Market {
	p := s.pair
	mcap := p.MarketCap
	if mcap <= 0 {
		mcap = p.FDV
	}
	return &models.Market{
		ID:               ca,
		ContractAddress:  ca,
		Name:             p.BaseToken.Name,
		Symbol:           p.BaseToken.Symbol,
		ImageURL:         p.Info.ImageURL,
		MarketCapUSD:     clampNonNegative(mcap),
		Volume24hUSD:     clampNonNegative(p.Volume.H24),
		DevWalletPercent: s.Features.DevSupplyPercent,
		RiskScore:        s.RiskScore,
		LaunchTime:       p.CreatedAt(),
	}
}

// reportFlags falls back to the judgement's risk-flavoured reasons when no
// rule fired.
func reportFlags(s *Score) []string {
	if len(s.RedFlags) > 0 {
		return s.RedFlags
	}
	flags := []string{}
	for _, r := range s.Judgement.Reasons {
		lr := strings.ToLower(r)
		if strings.Contains(lr, "risk") || strings.Contains(lr, "detected") {
			flags = append(flags, r)
		}
	}
	return flags
}

func narrative(p *dexscreener.Pair, s *Score) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) scores %d/100. Risk is %s with %s confidence",
		p.BaseToken.Name, p.BaseToken.Symbol, s.RiskScore,
		strings.ToLower(s.Judgement.RiskLevel), strings.ToLower(s.Judgement.Confidence))
	if len(s.Judgement.Reasons) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(s.Judgement.Reasons, "; "))
	}
	b.WriteString(".")
	return b.String()
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
