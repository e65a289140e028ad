package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/verdictx/internal/metrics"
	"github.com/rewired-gh/verdictx/internal/models"
	"github.com/rewired-gh/verdictx/internal/realtime"
)

// CastVote records the caller's verdict. The market id is resolved
// case-insensitively against id or contract address first.
func (r *Router) CastVote(c *gin.Context) {
	req := &voteRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		bindError(c, err)
		return
	}
	choice, err := models.ParseChoice(req.Choice)
	if err != nil {
		badRequest(c, err.Error(), "choice")
		return
	}

	voter := r.voterKey(c, req.VoterKey)
	if voter == "" {
		badRequest(c, "cannot identify voter", "voterKey")
		return
	}

	ctx := c.Request.Context()
	market, err := r.ledger.GetMarket(ctx, req.MarketID)
	if err != nil {
		writeError(c, err)
		return
	}

	receipt, err := r.ledger.CastVote(ctx, market.ID, voter, choice)
	if err != nil {
		writeError(c, err)
		return
	}

	metrics.IncVote(string(receipt.Outcome))
	if receipt.Outcome != models.VoteUnchanged {
		r.hub.Publish(realtime.TallyEvent(receipt.Tally()))
	}
	c.JSON(http.StatusOK, receipt)
}
