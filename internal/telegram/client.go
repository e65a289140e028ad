// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/verdictx/internal/analysis"
	"github.com/rewired-gh/verdictx/internal/logger"
	"github.com/rewired-gh/verdictx/internal/models"
)

// TrendingSource lists the most voted markets for the /trending command.
type TrendingSource interface {
	ListTrendingMarkets(ctx context.Context, limit int) ([]*models.Market, error)
}

const trendingCommandLimit = 5

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	send           func(tgbotapi.Chattable) (tgbotapi.Message, error)
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	trending       TrendingSource
}

// NewClient creates a new Telegram client. trending may be nil, in which
// case /trending is not answered.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, trending TrendingSource) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot.Send, chatIDInt, maxRetries, retryDelayBase, trending)
	c.bot = bot
	return c, nil
}

func newClient(send func(tgbotapi.Chattable) (tgbotapi.Message, error), chatID int64, maxRetries int, retryDelayBase time.Duration, trending TrendingSource) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		send:           send,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		trending:       trending,
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message.Chat.ID, update.Message.Command())
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, chatID int64, command string) {
	switch command {
	case "ping":
		c.send(tgbotapi.NewMessage(chatID, "Pong")) //nolint:errcheck
	case "trending":
		if c.trending == nil {
			return
		}
		markets, err := c.trending.ListTrendingMarkets(ctx, trendingCommandLimit)
		if err != nil {
			logger.Warn("telegram /trending failed: %v", err)
			return
		}
		reply := tgbotapi.NewMessage(chatID, formatTrending(markets))
		reply.ParseMode = "MarkdownV2"
		c.send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// NotifyAlert posts an alert-kind chat message to the channel. Other kinds
// are ignored.
func (c *Client) NotifyAlert(market *models.Market, msg *models.Message) error {
	if !msg.Kind.IsAlert() {
		return nil
	}
	return c.sendMarkdownV2(formatAlert(market, msg))
}

// NotifyAnalysis posts a high-risk analysis to the channel. Lower risk
// levels are ignored.
func (c *Client) NotifyAnalysis(report *analysis.Report) error {
	if report.RiskLevel != analysis.RiskHigh {
		return nil
	}
	return c.sendMarkdownV2(formatAnalysis(report))
}

func alertHeading(kind models.MessageKind) string {
	switch kind {
	case models.KindAlertWhale:
		return "🐋 *Whale alert*"
	case models.KindAlertDev:
		return "🧑‍💻 *Dev wallet alert*"
	case models.KindAlertLP:
		return "💧 *Liquidity alert*"
	default:
		return "🔔 *Alert*"
	}
}

func marketLabel(m *models.Market) string {
	if m.Symbol != "" {
		return escapeMarkdownV2("$" + m.Symbol)
	}
	return "`" + escapeMarkdownV2(m.ContractAddress) + "`"
}

// formatAlert formats an alert message into a Telegram MarkdownV2 message.
func formatAlert(market *models.Market, msg *models.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s\n\n", alertHeading(msg.Kind), marketLabel(market))
	b.WriteString(escapeMarkdownV2(msg.Text))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "W %d / TRASH %d", market.WVoteCount, market.TrashVoteCount)
	return b.String()
}

// formatAnalysis formats a risk report into a Telegram MarkdownV2 message.
func formatAnalysis(r *analysis.Report) string {
	var b strings.Builder
	b.WriteString("🚨 *High rug risk*\n\n")
	name := r.Name
	if r.Symbol != "" {
		name += " ($" + r.Symbol + ")"
	}
	fmt.Fprintf(&b, "%s\n`%s`\n\n", escapeMarkdownV2(name), escapeMarkdownV2(r.ContractAddress))
	fmt.Fprintf(&b, "Score: *%d/100* \\(%s confidence\\)\n", r.RiskScore, escapeMarkdownV2(r.Confidence))
	for _, flag := range r.RedFlags {
		fmt.Fprintf(&b, "• %s\n", escapeMarkdownV2(flag))
	}
	return b.String()
}

func formatTrending(markets []*models.Market) string {
	if len(markets) == 0 {
		return "No votes yet\\."
	}
	var b strings.Builder
	b.WriteString("🔥 *Trending*\n\n")
	for i, m := range markets {
		fmt.Fprintf(&b, "%d\\. %s: W %d / TRASH %d\n", i+1, marketLabel(m), m.WVoteCount, m.TrashVoteCount)
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
