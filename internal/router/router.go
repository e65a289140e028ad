// Package router exposes the ledger, analysis and curated list over HTTP.
package router

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/verdictx/internal/analysis"
	"github.com/rewired-gh/verdictx/internal/curated"
	"github.com/rewired-gh/verdictx/internal/logger"
	"github.com/rewired-gh/verdictx/internal/metrics"
	"github.com/rewired-gh/verdictx/internal/models"
	"github.com/rewired-gh/verdictx/internal/realtime"
	"github.com/rewired-gh/verdictx/internal/storage"
)

// Analyser runs a token analysis and materializes its market.
type Analyser interface {
	Analyse(ctx context.Context, contractAddress string) (*analysis.Report, error)
}

// CuratedList is the pump list backing store.
type CuratedList interface {
	List() ([]string, error)
	Add(ca string) (bool, error)
}

// Notifier forwards noteworthy events to an outside channel.
type Notifier interface {
	NotifyAlert(market *models.Market, msg *models.Message) error
	NotifyAnalysis(report *analysis.Report) error
}

// Options tunes the HTTP surface.
type Options struct {
	TrendingLimit    int
	VoterIdentity    string // ip or client
	MaxMessageLength int
	CORSOrigins      []string
	MetricsPath      string // empty disables /metrics
	// TrustedProxies may set X-Forwarded-For. Empty trusts nobody.
	TrustedProxies []string
}

// Router holds the handlers' dependencies. Notifier may be nil.
type Router struct {
	ledger   storage.Ledger
	analyser Analyser
	curated  CuratedList
	hub      *realtime.Hub
	notifier Notifier
	opts     Options
}

func NewRouter(ledger storage.Ledger, analyser Analyser, list CuratedList, hub *realtime.Hub, notifier Notifier, opts Options) *Router {
	if opts.TrendingLimit <= 0 {
		opts.TrendingLimit = 10
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 500
	}
	if opts.VoterIdentity == "" {
		opts.VoterIdentity = "ip"
	}
	registerValidators()
	return &Router{
		ledger:   ledger,
		analyser: analyser,
		curated:  list,
		hub:      hub,
		notifier: notifier,
		opts:     opts,
	}
}

// Engine builds the gin engine with every route mounted.
func (r *Router) Engine() *gin.Engine {
	grt := gin.New()
	if err := grt.SetTrustedProxies(r.opts.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies %v, trusting none: %v", r.opts.TrustedProxies, err)
		grt.SetTrustedProxies(nil) //nolint:errcheck
	}
	grt.Use(gin.Recovery(), requestLogger(), cors(r.opts.CORSOrigins))

	grt.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if r.opts.MetricsPath != "" {
		grt.GET(r.opts.MetricsPath, func(c *gin.Context) {
			promhttp.Handler().ServeHTTP(c.Writer, c.Request)
		})
	}

	api := grt.Group("/api")
	{
		api.GET("/markets/trending", r.Trending)
		api.GET("/markets/:id", r.GetMarket)
		api.POST("/markets", r.CreateMarket)
		api.POST("/votes", r.CastVote)
		api.GET("/markets/:id/messages", r.ListMessages)
		api.POST("/markets/:id/messages", r.AppendMessage)
		api.GET("/markets/:id/stream", r.Stream)
		api.POST("/ai/analyse", r.Analyse)
		api.GET("/pumplist", r.PumpList)
		api.POST("/trending/tokens", r.AddCurated)
	}
	return grt
}

// voterKey applies the identity strategy. Client-supplied keys are trusted
// only in client mode. The result is empty when the peer address is unknown.
func (r *Router) voterKey(c *gin.Context, supplied string) string {
	if r.opts.VoterIdentity == "client" {
		if k := strings.TrimSpace(supplied); k != "" {
			return k
		}
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return strings.TrimSpace(c.Request.RemoteAddr)
}

func (r *Router) notify(fn func(Notifier) error) {
	if r.notifier == nil {
		return
	}
	go func() {
		if err := fn(r.notifier); err != nil {
			logger.Warn("notification failed: %v", err)
		}
	}()
}

func writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrMarketNotFound):
		c.JSON(http.StatusNotFound, &errorResponse{Message: "Market not found"})
		return
	case errors.Is(err, analysis.ErrTokenNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateMarket):
		status = http.StatusConflict
	case errors.Is(err, analysis.ErrUpstream):
		status = http.StatusBadGateway
	case errors.Is(err, curated.ErrReadOnly):
		status = http.StatusServiceUnavailable
	default:
		logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, &errorResponse{Message: "internal server error"})
		return
	}
	c.JSON(status, &errorResponse{Message: err.Error()})
}

func badRequest(c *gin.Context, message string, fields ...string) {
	c.JSON(http.StatusBadRequest, &errorResponse{Message: message, Fields: fields})
}

// bindError reports a ShouldBindJSON failure, naming the offending fields
// when the validator produced them.
func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		badRequest(c, "validation failed", fields...)
		return
	}
	badRequest(c, "invalid request body")
}

var registerOnce sync.Once

func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("percent", func(fl validator.FieldLevel) bool {
			pct, err := decimal.NewFromString(fl.Field().String())
			if err != nil {
				return false
			}
			return !pct.IsNegative() && pct.LessThanOrEqual(decimal.NewFromInt(100))
		})
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		metrics.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), elapsed.Seconds())
		logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, status, elapsed)
	}
}

func cors(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
		c.Writer.Header().Set("Access-Control-Max-Age", "3600")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origins []string, origin string) bool {
	if origin == "" || len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
