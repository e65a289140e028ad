package router

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/verdictx/internal/analysis"
	"github.com/rewired-gh/verdictx/internal/metrics"
)

// Analyse scores a token and materializes its market. The body accepts
// contractAddress or its alias ca.
func (r *Router) Analyse(c *gin.Context) {
	req := &analyseRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		bindError(c, err)
		return
	}
	ca := strings.TrimSpace(req.ContractAddress)
	if ca == "" {
		ca = strings.TrimSpace(req.CA)
	}
	if ca == "" {
		badRequest(c, "CA is required", "contractAddress")
		return
	}

	report, err := r.analyser.Analyse(c.Request.Context(), ca)
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrTokenNotFound):
			metrics.IncAnalysis("not_found")
			c.JSON(http.StatusNotFound, &errorResponse{Message: "Token not found on chain"})
			return
		case errors.Is(err, analysis.ErrUpstream):
			metrics.IncAnalysis("upstream_error")
		default:
			metrics.IncAnalysis("error")
		}
		writeError(c, err)
		return
	}

	metrics.IncAnalysis("ok")
	if report.RiskLevel == analysis.RiskHigh {
		r.notify(func(n Notifier) error { return n.NotifyAnalysis(report) })
	}
	c.JSON(http.StatusOK, report)
}
