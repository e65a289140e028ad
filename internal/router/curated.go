package router

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/verdictx/internal/storage"
)

// PumpList joins the curated addresses with their ledger rows, keeping the
// curated order.
func (r *Router) PumpList(c *gin.Context) {
	cas, err := r.curated.List()
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	entries := make([]PumpEntry, 0, len(cas))
	for _, ca := range cas {
		entry := PumpEntry{ContractAddress: ca}
		market, err := r.ledger.GetMarket(ctx, ca)
		switch {
		case err == nil:
			entry.Market = market
		case !errors.Is(err, storage.ErrNotFound):
			writeError(c, err)
			return
		}
		entries = append(entries, entry)
	}
	c.JSON(http.StatusOK, entries)
}

func (r *Router) AddCurated(c *gin.Context) {
	req := &addCuratedRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		bindError(c, err)
		return
	}

	ca := strings.TrimSpace(req.CA)
	if ca == "" {
		badRequest(c, "ca must not be empty", "ca")
		return
	}

	added, err := r.curated.Add(ca)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, &addCuratedResponse{CA: ca, Added: added})
}
