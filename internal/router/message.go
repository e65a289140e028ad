package router

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/verdictx/internal/metrics"
	"github.com/rewired-gh/verdictx/internal/models"
	"github.com/rewired-gh/verdictx/internal/realtime"
	"github.com/rewired-gh/verdictx/internal/storage"
)

// ListMessages returns the newest messages first. An unknown market has no
// messages rather than a 404.
func (r *Router) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	market, err := r.ledger.GetMarket(ctx, c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusOK, []*models.Message{})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	msgs, err := r.ledger.ListMessages(ctx, market.ID, storage.DefaultMessageLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (r *Router) AppendMessage(c *gin.Context) {
	req := &messageRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		bindError(c, err)
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = strings.TrimSpace(req.MessageText)
	}
	if n := utf8.RuneCountInString(text); n == 0 || n > r.opts.MaxMessageLength {
		badRequest(c, fmt.Sprintf("text must be 1-%d characters", r.opts.MaxMessageLength), "text")
		return
	}
	kind, err := models.ParseMessageKind(req.Kind)
	if err != nil {
		badRequest(c, err.Error(), "kind")
		return
	}

	author := r.voterKey(c, req.AuthorKey)
	if author == "" {
		badRequest(c, "cannot identify author", "authorKey")
		return
	}

	ctx := c.Request.Context()
	market, err := r.ledger.GetMarket(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	msg, err := r.ledger.AppendMessage(ctx, market.ID, author, text, kind)
	if err != nil {
		writeError(c, err)
		return
	}

	metrics.IncMessage(string(msg.Kind))
	r.hub.Publish(realtime.MessageEvent(msg))
	if msg.Kind.IsAlert() {
		r.notify(func(n Notifier) error { return n.NotifyAlert(market, msg) })
	}
	c.JSON(http.StatusCreated, msg)
}
