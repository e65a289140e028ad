package router

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/verdictx/internal/models"
	"github.com/rewired-gh/verdictx/internal/storage"
)

func (r *Router) Trending(c *gin.Context) {
	markets, err := r.ledger.ListTrendingMarkets(c.Request.Context(), r.opts.TrendingLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	if markets == nil {
		markets = []*models.Market{}
	}
	c.JSON(http.StatusOK, markets)
}

// GetMarket matches :id against the market id or contract address.
func (r *Router) GetMarket(c *gin.Context) {
	market, err := r.ledger.GetMarket(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, market)
}

func (r *Router) CreateMarket(c *gin.Context) {
	req := &createMarketRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		bindError(c, err)
		return
	}

	m := req.market()
	m.Normalize()
	if err := m.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	created, err := r.ledger.CreateMarket(c.Request.Context(), m)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateMarket) {
			c.JSON(http.StatusConflict, &errorResponse{Message: "Market already exists", Fields: []string{"contractAddress"}})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}
