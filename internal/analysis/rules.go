package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/verdictx/internal/dexscreener"
	"github.com/rewired-gh/verdictx/internal/models"
)

// Rule thresholds and weights
const (
	thinLiquidityUSD   = 10_000
	minLiquidityToFDV  = 0.05
	youngPairMinutes   = 60
	sellPressureFactor = 2
	minTradesForFlow   = 10
	lowWRatio          = 0.3
	minVotesForCrowd   = 5
	warningDensityFlag = 0.2
	highDevSupplyPct   = 10

	weightThinLiquidity = 40
	weightDevSupply     = 30
	weightYoungPair     = 20
	weightSellPressure  = 20
	weightCrowdTrash    = 20
	weightChatWarnings  = 15
)

var warningWords = []string{"rug", "scam", "honeypot"}

// Features are the deterministic signals a score is computed from.
type Features struct {
	TokenAgeMinutes    int64   `json:"token_age_minutes"`
	LiquidityUSD       float64 `json:"liquidity_usd"`
	FDVUSD             float64 `json:"fdv_usd"`
	LiquidityToFDV     float64 `json:"liquidity_to_fdv"`
	Buys24h            int     `json:"buys_24h"`
	Sells24h           int     `json:"sells_24h"`
	DevSupplyPercent   string  `json:"dev_supply_percent"`
	TotalVotes         int64   `json:"total_votes"`
	WRatio             float64 `json:"w_ratio"`
	ChatWarningDensity float64 `json:"chat_warning_density"`
}

// Judgement is the qualitative verdict on a token.
type Judgement struct {
	RiskLevel  string   `json:"risk_level"`
	Confidence string   `json:"confidence"`
	Reasons    []string `json:"reasons"`
	Verdict    string   `json:"verdict"`
}

// Risk levels, confidences and verdicts a judgement may carry.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"

	ConfidenceWeak     = "Weak"
	ConfidenceModerate = "Moderate"
	ConfidenceStrong   = "Strong"

	VerdictW = "W"
	VerdictL = "L"
)

func buildFeatures(p *dexscreener.Pair, m *models.Market, msgs []*models.Message, now time.Time) Features {
	f := Features{
		TokenAgeMinutes:  -1,
		LiquidityUSD:     p.Liquidity.USD,
		FDVUSD:           p.FDV,
		Buys24h:          p.Txns.H24.Buys,
		Sells24h:         p.Txns.H24.Sells,
		DevSupplyPercent: "0.00",
		WRatio:           0.5,
	}
	if created := p.CreatedAt(); !created.IsZero() {
		f.TokenAgeMinutes = int64(now.Sub(created) / time.Minute)
	}
	if p.FDV > 0 {
		f.LiquidityToFDV = round2(p.Liquidity.USD / p.FDV)
	}
	if m != nil {
		if pct, err := decimal.NewFromString(m.DevWalletPercent); err == nil {
			f.DevSupplyPercent = pct.StringFixed(2)
		}
		f.TotalVotes = m.TotalVotes()
		if f.TotalVotes > 0 {
			f.WRatio = round2(float64(m.WVoteCount) / float64(f.TotalVotes))
		}
	}
	if len(msgs) > 0 {
		warned := 0
		for _, msg := range msgs {
			text := strings.ToLower(msg.Text)
			for _, w := range warningWords {
				if strings.Contains(text, w) {
					warned++
					break
				}
			}
		}
		f.ChatWarningDensity = round2(float64(warned) / float64(len(msgs)))
	}
	return f
}

// applyRules returns the rule score (0-100) and a red flag per fired rule.
func applyRules(f Features) (int, []string) {
	score := 0
	flags := []string{}

	if f.LiquidityUSD < thinLiquidityUSD || (f.FDVUSD > 0 && f.LiquidityToFDV < minLiquidityToFDV) {
		score += weightThinLiquidity
		flags = append(flags, fmt.Sprintf("Thin liquidity: $%.0f against $%.0f FDV", f.LiquidityUSD, f.FDVUSD))
	}
	if pct, err := decimal.NewFromString(f.DevSupplyPercent); err == nil && pct.GreaterThan(decimal.NewFromInt(highDevSupplyPct)) {
		score += weightDevSupply
		flags = append(flags, fmt.Sprintf("High dev holding: %s%%", f.DevSupplyPercent))
	}
	if f.TokenAgeMinutes >= 0 && f.TokenAgeMinutes < youngPairMinutes {
		score += weightYoungPair
		flags = append(flags, fmt.Sprintf("Pair is only %d minutes old", f.TokenAgeMinutes))
	}
	if f.Buys24h+f.Sells24h >= minTradesForFlow && f.Sells24h > sellPressureFactor*f.Buys24h {
		score += weightSellPressure
		flags = append(flags, fmt.Sprintf("Sell pressure: %d sells vs %d buys in 24h", f.Sells24h, f.Buys24h))
	}
	if f.TotalVotes >= minVotesForCrowd && f.WRatio < lowWRatio {
		score += weightCrowdTrash
		flags = append(flags, fmt.Sprintf("Crowd leans TRASH: W ratio %.2f", f.WRatio))
	}
	if f.ChatWarningDensity >= warningDensityFlag {
		score += weightChatWarnings
		flags = append(flags, fmt.Sprintf("Chat warnings detected in %.0f%% of recent messages", f.ChatWarningDensity*100))
	}

	if score > 100 {
		score = 100
	}
	return score, flags
}

func judgeFromRules(ruleScore int, flags []string) Judgement {
	j := Judgement{Reasons: flags}
	switch {
	case ruleScore >= 60:
		j.RiskLevel = RiskHigh
	case ruleScore >= 30:
		j.RiskLevel = RiskMedium
	default:
		j.RiskLevel = RiskLow
	}
	switch {
	case ruleScore >= 60 || len(flags) >= 3:
		j.Confidence = ConfidenceStrong
	case len(flags) > 0:
		j.Confidence = ConfidenceModerate
	default:
		j.Confidence = ConfidenceWeak
	}
	j.Verdict = VerdictW
	if j.RiskLevel == RiskHigh {
		j.Verdict = VerdictL
	}
	if len(j.Reasons) == 0 {
		j.Reasons = []string{"No rule-based red flags fired"}
	}
	return j
}

// combine adds the judgement's weight to the rule score, capped at 100.
func combine(ruleScore int, riskLevel string) int {
	bonus := 10
	if riskLevel == RiskHigh {
		bonus = 30
	}
	return min(ruleScore+bonus, 100)
}

func (a *Analyzer) askLLM(ctx context.Context, f Features, flags []string) (Judgement, error) {
	prompt, err := buildPrompt(f, flags)
	if err != nil {
		return Judgement{}, err
	}
	var j Judgement
	if err := a.llm.CompleteJSON(ctx, prompt, &j); err != nil {
		return Judgement{}, fmt.Errorf("%w: llm: %v", ErrUpstream, err)
	}
	if err := normalizeJudgement(&j); err != nil {
		return Judgement{}, fmt.Errorf("%w: llm: %v", ErrUpstream, err)
	}
	return j, nil
}

func buildPrompt(f Features, flags []string) (string, error) {
	signals, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode features: %w", err)
	}
	var b strings.Builder
	b.WriteString("You review newly launched tokens for rug-pull risk.\n\n")
	b.WriteString("Signals:\n")
	b.Write(signals)
	b.WriteString("\n\nRule-based red flags:\n")
	if len(flags) == 0 {
		b.WriteString("- none\n")
	}
	for _, fl := range flags {
		b.WriteString("- " + fl + "\n")
	}
	b.WriteString("\nWeigh liquidity depth and trade flow first, then crowd sentiment and chat warnings. ")
	b.WriteString("Never describe a token as safe or profitable.\n\n")
	b.WriteString(`Answer only with a JSON object: {"risk_level":"Low|Medium|High",` +
		`"confidence":"Weak|Moderate|Strong","reasons":["..."],"verdict":"W|L"}`)
	return b.String(), nil
}

// normalizeJudgement canonicalizes casing and rejects values outside the
// allowed sets.
func normalizeJudgement(j *Judgement) error {
	level, ok := canonical(j.RiskLevel, RiskLow, RiskMedium, RiskHigh)
	if !ok {
		return fmt.Errorf("invalid risk_level %q", j.RiskLevel)
	}
	conf, ok := canonical(j.Confidence, ConfidenceWeak, ConfidenceModerate, ConfidenceStrong)
	if !ok {
		return fmt.Errorf("invalid confidence %q", j.Confidence)
	}
	verdict, ok := canonical(j.Verdict, VerdictW, VerdictL)
	if !ok {
		return fmt.Errorf("invalid verdict %q", j.Verdict)
	}
	reasons := make([]string, 0, len(j.Reasons))
	for _, r := range j.Reasons {
		if r = strings.TrimSpace(r); r != "" {
			reasons = append(reasons, r)
		}
	}
	if len(reasons) == 0 {
		return fmt.Errorf("judgement has no reasons")
	}
	j.RiskLevel, j.Confidence, j.Verdict, j.Reasons = level, conf, verdict, reasons
	return nil
}

func canonical(v string, allowed ...string) (string, bool) {
	v = strings.TrimSpace(v)
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return a, true
		}
	}
	return "", false
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
