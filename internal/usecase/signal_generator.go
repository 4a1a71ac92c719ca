package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalEngine/internal/domain/models"
	drepo "SignalEngine/internal/domain/repository"
	domsvc "SignalEngine/internal/domain/service"
	"SignalEngine/internal/service/ratelimit"
	"SignalEngine/internal/services/confidence"
	"SignalEngine/internal/services/evalcache"
	"SignalEngine/internal/services/policy"
	"SignalEngine/pkg/config"
	"SignalEngine/pkg/logger"
)

// Pipeline stage names used in errors and rejection events.
const (
	StageValidateRequest = "validate_request"
	StageEvaluate        = "evaluate"
	StageDraft           = "draft"
	StageScore           = "score"
	StageValidate        = "validate"
	StageEnhance         = "enhance"
	StageResolve         = "resolve"
	StageFilter          = "filter"
	StagePersist         = "persist"
)

// GeneratorDeps are the collaborators of SignalGenerator. Nil policy
// registries fall back to the built-in sets; a nil Now means time.Now.
type GeneratorDeps struct {
	Cache     *evalcache.Cache
	Evaluator drepo.ConditionEvaluator
	History   drepo.SignalHistory
	Publisher drepo.EventPublisher
	Metrics   drepo.Metrics
	Logger    *logger.Logger

	Rules     *policy.Registry[domsvc.ValidationRule]
	Enhancers *policy.Registry[domsvc.EnhancementPlugin]
	Resolvers *policy.Registry[domsvc.ConflictResolver]
	Limiter   *ratelimit.Limiter
	Now       func() time.Time
}

// SignalGenerator turns condition verdicts into scored, validated and
// conflict-free signals.
type SignalGenerator struct {
	cfg       config.GeneratorConfig
	cache     *evalcache.Cache
	eval      drepo.ConditionEvaluator
	history   drepo.SignalHistory
	pub       drepo.EventPublisher
	metrics   drepo.Metrics
	log       *logger.Logger
	scorer    *confidence.Scorer
	conflictW time.Duration
	rules     *policy.Registry[domsvc.ValidationRule]
	enhancers *policy.Registry[domsvc.EnhancementPlugin]
	resolvers *policy.Registry[domsvc.ConflictResolver]
	limiter   *ratelimit.Limiter
	now       func() time.Time
}

func NewSignalGenerator(cfg *config.Config, deps GeneratorDeps) *SignalGenerator {
	g := &SignalGenerator{
		cfg:       cfg.Engine.Generator,
		cache:     deps.Cache,
		eval:      deps.Evaluator,
		history:   deps.History,
		pub:       deps.Publisher,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		scorer:    confidence.NewScorer(cfg.Engine.Scoring),
		conflictW: cfg.Engine.Scoring.Adjustments.ConflictWindow,
		rules:     deps.Rules,
		enhancers: deps.Enhancers,
		resolvers: deps.Resolvers,
		limiter:   deps.Limiter,
		now:       deps.Now,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.log == nil {
		g.log = logger.Nop()
	}
	if g.rules == nil {
		g.rules = policy.DefaultRules(g.cfg)
	}
	if g.enhancers == nil {
		g.enhancers = policy.DefaultEnhancers(g.cfg)
	}
	if g.resolvers == nil {
		g.resolvers = policy.DefaultResolvers()
	}
	if g.limiter == nil {
		g.limiter = ratelimit.New(g.now)
	}
	return g
}

// Rules exposes the validation rule registry.
func (g *SignalGenerator) Rules() *policy.Registry[domsvc.ValidationRule] { return g.rules }

// Enhancers exposes the enhancement plugin registry.
func (g *SignalGenerator) Enhancers() *policy.Registry[domsvc.EnhancementPlugin] { return g.enhancers }

// Resolvers exposes the conflict resolver registry.
func (g *SignalGenerator) Resolvers() *policy.Registry[domsvc.ConflictResolver] { return g.resolvers }

// SignalHistory returns stored signals of a strategy, newest first.
func (g *SignalGenerator) SignalHistory(strategyID string, filter models.HistoryFilter) []models.SignalHistoryEntry {
	return g.history.Query(strategyID, filter)
}

// GenerateSignals runs the pipeline for one request. It always returns a
// result; failures are reported as structured errors inside it. The call is
// bounded by the generation timeout or the request deadline, whichever is earlier.
func (g *SignalGenerator) GenerateSignals(ctx context.Context, req *models.SignalGenerationRequest) *models.SignalGenerationResult {
	start := g.now()
	r := &run{g: g, req: req, start: start, res: &models.SignalGenerationResult{}}
	if req != nil {
		r.res.RequestID = req.ID
		r.res.StrategyID = req.StrategyID
	}

	if err := validateRequest(req); err != nil {
		r.fail(models.ErrorValidation, StageValidateRequest, err)
		return g.finish(r.res, start)
	}

	if g.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.GenerationTimeout)
		defer cancel()
	}
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.execute(ctx)
	}()

	select {
	case <-done:
		return g.finish(r.res, start)
	case <-ctx.Done():
		return g.finish(r.abandon(ctx.Err()), start)
	}
}

func (g *SignalGenerator) finish(res *models.SignalGenerationResult, start time.Time) *models.SignalGenerationResult {
	res.Metrics.RecomputeMean()
	res.ProcessingTime = g.now().Sub(start)
	if g.metrics != nil {
		g.metrics.RecordLatency("generate", res.ProcessingTime.Seconds())
		for _, e := range res.Errors {
			if e.Kind != models.ErrorConflict {
				g.metrics.RecordError("generate_" + string(e.Kind))
			}
		}
	}
	return res
}

func validateRequest(req *models.SignalGenerationRequest) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: request is nil", models.ErrInvalidRequest)
	case req.StrategyID == "":
		return fmt.Errorf("%w: strategy id is required", models.ErrInvalidRequest)
	case req.Context == nil:
		return fmt.Errorf("%w: strategy context is required", models.ErrInvalidRequest)
	case len(req.Conditions) == 0:
		return fmt.Errorf("%w: at least one condition is required", models.ErrInvalidRequest)
	}
	for i, c := range req.Conditions {
		if c.ID == "" {
			return fmt.Errorf("%w: condition %d has no id", models.ErrInvalidRequest, i)
		}
	}
	return nil
}

// run is the state of one pipeline execution. The pipeline goroutine owns res
// until it finishes or the caller abandons it on timeout; mu guards the handover.
type run struct {
	g     *SignalGenerator
	req   *models.SignalGenerationRequest
	start time.Time
	sc    *models.StrategyContext

	mu        sync.Mutex
	res       *models.SignalGenerationResult
	stage     string
	abandoned bool
	fatal     bool
}

func (r *run) execute(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.mu.Lock()
			defer r.mu.Unlock()
			if !r.abandoned {
				r.addError(models.ErrorProcessing, r.stage, fmt.Errorf("panic: %v", p))
			}
		}
	}()

	if err := r.pipeline(ctx); err != nil {
		kind := models.ErrorProcessing
		if errors.Is(err, context.DeadlineExceeded) {
			kind = models.ErrorTimeout
			err = fmt.Errorf("%w: %v", models.ErrGenerationTimeout, err)
		}
		r.mu.Lock()
		if !r.abandoned {
			r.addError(kind, r.stage, err)
		}
		r.mu.Unlock()
	}
	r.mu.Lock()
	if !r.abandoned {
		r.res.Success = !r.fatal
	}
	r.mu.Unlock()
}

// abandon hands the caller a snapshot carrying partial telemetry and the timeout error.
func (r *run) abandon(cause error) *models.SignalGenerationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned = true

	out := &models.SignalGenerationResult{
		RequestID:  r.res.RequestID,
		StrategyID: r.res.StrategyID,
		Metrics:    r.res.Metrics,
		Warnings:   append([]string(nil), r.res.Warnings...),
		Errors:     append([]models.GenerationError(nil), r.res.Errors...),
	}
	out.Metrics.ConfidenceScores = append([]float64(nil), r.res.Metrics.ConfidenceScores...)

	kind, err := models.ErrorTimeout, fmt.Errorf("%w after %s", models.ErrGenerationTimeout, r.g.now().Sub(r.start))
	if errors.Is(cause, context.Canceled) {
		kind, err = models.ErrorProcessing, fmt.Errorf("generation cancelled: %w", cause)
	}
	out.Errors = append(out.Errors, models.NewGenerationError(kind, r.stage, err))
	return out
}

func (r *run) setStage(stage string) {
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()
}

// update applies fn to the result unless the run was abandoned.
func (r *run) update(fn func(res *models.SignalGenerationResult)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned {
		return false
	}
	fn(r.res)
	return true
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.update(func(res *models.SignalGenerationResult) { res.Warnings = append(res.Warnings, msg) })
	r.g.log.Warn("signal generation warning",
		logger.String("request_id", r.req.ID),
		logger.String("strategy_id", r.req.StrategyID),
		logger.String("detail", msg),
	)
}

func (r *run) fail(kind models.ErrorKind, stage string, err error) {
	r.addError(kind, stage, err)
}

// addError must be called with mu held or before the pipeline starts.
func (r *run) addError(kind models.ErrorKind, stage string, err error) {
	r.res.Errors = append(r.res.Errors, models.NewGenerationError(kind, stage, err))
	if kind != models.ErrorConflict {
		r.fatal = true
		r.res.Success = false
	}
}
