package api

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"

	"SignalEngine/internal/domain/models"
	domrepo "SignalEngine/internal/domain/repository"
	mid "SignalEngine/internal/middleware"
	"SignalEngine/pkg/cache"
	xhttp "SignalEngine/pkg/http"
	xlogger "SignalEngine/pkg/logger"
	"SignalEngine/pkg/queue"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	defaultStatsPeriod     = 5 * time.Minute
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 1000
)

// Generator runs the signal pipeline synchronously.
type Generator interface {
	GenerateSignals(ctx context.Context, req *models.SignalGenerationRequest) *models.SignalGenerationResult
	SignalHistory(strategyID string, filter models.HistoryFilter) []models.SignalHistoryEntry
}

// Processor is the queued side of the engine.
type Processor interface {
	QueueSignalGeneration(req *models.SignalGenerationRequest, priority int) (string, error)
	ProcessMarketDataUpdate(ctx context.Context, symbol string, window models.MarketDataWindow) (int, error)
	LastWindow(symbol string) (models.MarketDataWindow, bool)
	HealthStatus() models.HealthStatus
	ProcessingStats(period time.Duration) models.ProcessingStats
}

// CacheAdmin exposes evaluation cache statistics and invalidation.
type CacheAdmin interface {
	Stats() cache.Stats
	RemoteHits() int64
	Clear(ctx context.Context) error
}

// DeadLetterReader lists terminally failed requests.
type DeadLetterReader interface {
	List(ctx context.Context, limit int) ([]queue.DeadLetter, error)
}

// CacheStatsResponse is the body of GET /api/cache/stats.
type CacheStatsResponse struct {
	cache.Stats
	RemoteHits int64 `json:"remote_hits"`
}

// EngineHandler serves the signal engine API.
type EngineHandler struct {
	logger     *xlogger.Logger
	generator  Generator
	processor  Processor
	strategies domrepo.StrategyRegistry
	cache      CacheAdmin
	dead       DeadLetterReader
}

func NewEngineHandler(
	logger *xlogger.Logger,
	generator Generator,
	processor Processor,
	strategies domrepo.StrategyRegistry,
	cache CacheAdmin,
	dead DeadLetterReader,
) *EngineHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &EngineHandler{
		logger:     logger,
		generator:  generator,
		processor:  processor,
		strategies: strategies,
		cache:      cache,
		dead:       dead,
	}
}

func (h *EngineHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/signals/generate", h.Generate)
	g.POST("/signals/queue", h.Queue)
	g.GET("/signals/history/:strategyId", h.History)
	g.POST("/market/:symbol", h.MarketUpdate)
	g.GET("/health", h.Health)
	g.GET("/stats", h.Stats)
	g.GET("/cache/stats", h.CacheStats)
	g.DELETE("/cache", h.ClearCache)
	g.GET("/dead-letters", h.DeadLetters)
}

// Generate runs the pipeline inline and returns the full result.
func (h *EngineHandler) Generate(c echo.Context) error {
	body := &models.GenerateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, body); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	req, err := h.buildRequest(body)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	res := h.generator.GenerateSignals(c.Request().Context(), req)
	if !res.Success {
		h.logger.Warn("generate request failed",
			xlogger.String("strategy_id", req.StrategyID),
			xlogger.String("request_id", req.ID),
			xlogger.Error(res.FirstError()),
		)
	}
	return xhttp.DataResponse(c, resultStatus(res), res)
}

// Queue hands the request to the realtime processor.
func (h *EngineHandler) Queue(c echo.Context) error {
	body := &models.GenerateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, body); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	req, err := h.buildRequest(body)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	id, err := h.processor.QueueSignalGeneration(req, body.Priority)
	if err != nil {
		return xhttp.AppErrorResponse(c, mapError(err))
	}
	return xhttp.AcceptedResponse(c, models.QueueResponse{RequestID: id, Priority: body.Priority})
}

func (h *EngineHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	filter := models.HistoryFilter{
		Symbol:        req.Symbol,
		Type:          models.SignalType(req.Type),
		Since:         xhttp.QueryTime(c, "since", time.Time{}),
		Until:         xhttp.QueryTime(c, "until", time.Time{}),
		MinConfidence: req.MinConfidence,
		Limit:         req.Limit,
	}
	rows := h.generator.SignalHistory(req.StrategyID, filter)
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// MarketUpdate feeds one market window to the processor.
func (h *EngineHandler) MarketUpdate(c echo.Context) error {
	req := &models.MarketUpdateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	w := models.MarketDataWindow{
		Symbol:    req.Symbol,
		Timeframe: models.NormalizeTimeframe(req.Timeframe),
		Timestamp: time.Now().UTC(),
		Price:     req.Price,
		High24h:   req.High24h,
		Low24h:    req.Low24h,
		Volume24h: req.Volume24h,
		Change24h: req.Change24h,
		Candles:   req.Candles,
	}
	if err := mid.ValidateWindow(&w); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	n, err := h.processor.ProcessMarketDataUpdate(c.Request().Context(), req.Symbol, w)
	if err != nil {
		h.logger.Warn("market update refused", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapError(err))
	}
	return xhttp.SuccessResponse(c, models.MarketUpdateResponse{Symbol: req.Symbol, Queued: n})
}

func (h *EngineHandler) Health(c echo.Context) error {
	st := h.processor.HealthStatus()
	if !st.Healthy {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, st)
	}
	return xhttp.SuccessResponse(c, st)
}

// Stats reports processor activity over ?period= (default 5m, 0 for all).
func (h *EngineHandler) Stats(c echo.Context) error {
	period := xhttp.QueryDuration(c, "period", defaultStatsPeriod)
	if period < 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("period must not be negative"))
	}
	return xhttp.SuccessResponse(c, h.processor.ProcessingStats(period))
}

func (h *EngineHandler) CacheStats(c echo.Context) error {
	return xhttp.SuccessResponse(c, CacheStatsResponse{Stats: h.cache.Stats(), RemoteHits: h.cache.RemoteHits()})
}

func (h *EngineHandler) ClearCache(c echo.Context) error {
	if err := h.cache.Clear(c.Request().Context()); err != nil {
		h.logger.Error("cache clear failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("cache clear failed").WithError(err))
	}
	h.logger.Info("evaluation cache cleared")
	return xhttp.NoContentResponse(c)
}

func (h *EngineHandler) DeadLetters(c echo.Context) error {
	limit := xhttp.QueryInt(c, "limit", defaultDeadLetterLimit)
	if limit < 1 || limit > maxDeadLetterLimit {
		return xhttp.AppErrorResponse(c,
			xhttp.BadRequestError(fmt.Sprintf("limit must be between 1 and %d", maxDeadLetterLimit)).
				WithParam("max", maxDeadLetterLimit))
	}
	rows, err := h.dead.List(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("dead letter list failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("dead letters unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// buildRequest merges the request body over the registered strategy and its
// externally maintained context.
func (h *EngineHandler) buildRequest(body *models.GenerateRequest) (*models.SignalGenerationRequest, error) {
	def, known := h.strategies.Strategy(body.StrategyID)
	if !known && len(body.Conditions) == 0 {
		return nil, xhttp.NotFoundErrorf("strategy %s not found", body.StrategyID).WithError(models.ErrStrategyNotFound)
	}

	sc, ok := h.strategies.Context(body.StrategyID)
	if !ok {
		sc = models.StrategyContext{StrategyID: body.StrategyID, Timeframe: def.Timeframe}
	}
	if body.Symbol != "" {
		sc.Symbol = body.Symbol
	}
	if sc.Symbol == "" && len(def.Symbols) > 0 {
		sc.Symbol = def.Symbols[0]
	}
	if sc.Symbol == "" {
		return nil, xhttp.BadRequestError("symbol is required").WithParam("field", "symbol")
	}
	if body.Timeframe != "" {
		sc.Timeframe = models.NormalizeTimeframe(body.Timeframe)
	}
	if sc.Timeframe == "" {
		sc.Timeframe = models.DefaultTimeframe()
	}

	switch {
	case body.Market != nil:
		sc.Market = *body.Market
	case sc.Market.Symbol != sc.Symbol:
		if w, ok := h.processor.LastWindow(sc.Symbol); ok {
			sc.Market = w
		}
	}
	if sc.Market.Symbol == "" {
		sc.Market.Symbol = sc.Symbol
	}
	if sc.Market.Price <= 0 {
		return nil, xhttp.BadRequestError(fmt.Sprintf("no market data for %s", sc.Symbol)).WithParam("field", "market")
	}
	if body.Portfolio != nil {
		sc.Portfolio = *body.Portfolio
	}
	sc.Indicators = mergeInto(sc.Indicators, body.Indicators)
	sc.Variables = mergeInto(sc.Variables, body.Variables)

	conds := body.Conditions
	if len(conds) == 0 {
		conds = def.Conditions
	}
	return &models.SignalGenerationRequest{
		ID:         uuid.NewString(),
		StrategyID: body.StrategyID,
		Context:    &sc,
		Conditions: conds,
		Priority:   body.Priority,
	}, nil
}

func mergeInto[V any](dst, src map[string]V) map[string]V {
	if len(src) == 0 {
		return dst
	}
	out := make(map[string]V, len(dst)+len(src))
	maps.Copy(out, dst)
	maps.Copy(out, src)
	return out
}

func resultStatus(res *models.SignalGenerationResult) int {
	if res.Success {
		return http.StatusOK
	}
	for _, e := range res.Errors {
		switch e.Kind {
		case models.ErrorValidation:
			return http.StatusBadRequest
		case models.ErrorTimeout:
			return http.StatusGatewayTimeout
		}
	}
	return http.StatusInternalServerError
}

func mapError(err error) error {
	switch {
	case errors.Is(err, models.ErrBackpressure):
		return xhttp.TooManyRequestsError("signal queue is full").WithError(err)
	case errors.Is(err, models.ErrShuttingDown):
		return xhttp.ServiceUnavailableError("processor is shutting down").WithError(err)
	case errors.Is(err, models.ErrInvalidRequest):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrStrategyNotFound):
		return xhttp.NotFoundErrorf("%s", err.Error()).WithError(err)
	default:
		return xhttp.InternalError("request failed").WithError(err)
	}
}
