package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"trading-authority/internal/audit"
	"trading-authority/internal/domain"
	"trading-authority/internal/errs"
	"trading-authority/internal/execution"
	"trading-authority/internal/settings"
	"trading-authority/internal/status"
	"trading-authority/pkg/logging"
)

const maxBatch = 100

type switchModeRequest struct {
	Mode            string `json:"mode" binding:"required"`
	ExpectedVersion *int64 `json:"expected_version"`
}

type putConfigRequest struct {
	Value       string `json:"value" binding:"required"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type tradeRequest struct {
	Pair   string          `json:"pair" binding:"required"`
	Side   string          `json:"side" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type batchRequest struct {
	Requests []tradeRequest `json:"requests" binding:"required"`
}

type listTradesQuery struct {
	Status string `form:"status"`
	Mode   string `form:"mode"`
	Limit  int    `form:"limit"`
}

func (q *listTradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

type creditRequest struct {
	Asset  string          `json:"asset" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type priceRequest struct {
	Pair  string          `json:"pair" binding:"required"`
	Price decimal.Decimal `json:"price"`
}

func badRequest(c *gin.Context, err error) {
	respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}

// getSystemStatus returns the latest committed status snapshot.
func (s *Server) getSystemStatus(c *gin.Context) {
	snap, err := s.deps.Status.Status(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) completeOnboarding(c *gin.Context) {
	var req status.OnboardingPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	snap, err := s.deps.Status.CompleteOnboarding(c.Request.Context(), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	logging.FromContext(c.Request.Context()).Info().
		Str("caller", CurrentUserID(c)).
		Str("mode", string(snap.OperatingMode)).
		Msg("onboarding completed")
	c.JSON(http.StatusCreated, snap)
}

// validateOnboarding checks a possibly partial payload without persisting anything.
func (s *Server) validateOnboarding(c *gin.Context) {
	var req status.OnboardingPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Status.ValidatePartial(req))
}

func (s *Server) switchMode(c *gin.Context) {
	var req switchModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		respondErr(c, errs.NewValidationError("mode", err.Error()))
		return
	}

	ctx := c.Request.Context()
	var snap domain.StatusSnapshot
	if req.ExpectedVersion != nil {
		snap, err = s.deps.Status.SwitchModeIfVersion(ctx, mode, *req.ExpectedVersion)
	} else {
		snap, err = s.deps.Status.SwitchMode(ctx, mode)
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	logging.FromContext(ctx).Info().
		Str("caller", CurrentUserID(c)).
		Str("mode", string(snap.OperatingMode)).
		Int64("config_version", snap.ConfigurationVersion).
		Msg("operating mode set")
	c.JSON(http.StatusOK, snap)
}

// getConfig lists configuration entries with secrets masked.
func (s *Server) getConfig(c *gin.Context) {
	category := settings.Category(strings.ToUpper(c.Query("category")))
	if category != "" && !category.Valid() {
		respondErr(c, errs.NewValidationError("category", "unknown category"))
		return
	}
	entries, err := s.deps.Store.Masked(c.Request.Context(), category)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) putConfig(c *gin.Context) {
	var req putConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key := c.Param("key")
	version, err := s.deps.Store.SetEntry(c.Request.Context(), settings.Entry{
		Key:         key,
		Value:       req.Value,
		Category:    settings.Category(strings.ToUpper(req.Category)),
		Description: req.Description,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "configuration_version": version})
}

// executeTrade dispatches one swap. The response carries the audit record whenever
// one was written, including for failures.
func (s *Server) executeTrade(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := s.deps.Factory.Execute(c.Request.Context(), req.Pair, domain.Side(strings.ToUpper(req.Side)), req.Amount)
	if err != nil {
		if rec.ID == "" {
			respondErr(c, err)
			return
		}
		st, code := errorStatus(err)
		c.JSON(st, gin.H{"code": code, "error": rec.Reason, "record": rec})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *Server) executeBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.Requests) == 0 || len(req.Requests) > maxBatch {
		respondErr(c, errs.NewValidationError("requests", "must hold between 1 and 100 swaps"))
		return
	}
	reqs := make([]execution.Request, len(req.Requests))
	for i, r := range req.Requests {
		reqs[i] = execution.Request{Pair: r.Pair, Side: domain.Side(strings.ToUpper(r.Side)), Amount: r.Amount}
	}
	results, err := s.deps.Dispatcher.ExecuteBatch(c.Request.Context(), reqs)
	if errors.Is(err, execution.ErrDispatcherClosed) {
		respondError(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
		return
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) listTrades(c *gin.Context) {
	var q listTradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	q.normalize()
	records, err := s.deps.Trail.List(c.Request.Context(), audit.Filter{
		Status:   domain.ExecutionStatus(strings.ToUpper(q.Status)),
		ModeUsed: domain.OperatingMode(strings.ToUpper(q.Mode)),
		Limit:    q.Limit,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) getLedger(c *gin.Context) {
	balances, err := s.deps.Ledger.Balances(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances, "prices": s.deps.Prices.All()})
}

func (s *Server) creditLedger(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	balance, err := s.deps.Ledger.Credit(c.Request.Context(), req.Asset, req.Amount)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": strings.ToUpper(strings.TrimSpace(req.Asset)), "balance": balance})
}

func (s *Server) setPrice(c *gin.Context) {
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := domain.ParsePair(req.Pair)
	if err != nil {
		respondErr(c, errs.NewValidationError("pair", err.Error()))
		return
	}
	if err := s.deps.Prices.Set(pair, req.Price); err != nil {
		respondErr(c, errs.NewValidationError("price", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"pair": pair.String(), "price": req.Price})
}
