package confidence

import (
	"math"
	"sort"
	"sync"
	"time"

	"SignalEngine/internal/domain/models"
	"SignalEngine/internal/services/features"
	"SignalEngine/pkg/config"
)

const (
	defaultHistoricalAccuracy = 0.5
	sigmoidSteepness          = 10.0
	percentileWindow          = 1000
)

// Factors are the per-signal inputs to the weighted sum, each in [0,1].
type Factors struct {
	ConditionConfidence float64 `json:"condition_confidence"`
	IndicatorAlignment  float64 `json:"indicator_alignment"`
	MarketConditions    float64 `json:"market_conditions"`
	HistoricalAccuracy  float64 `json:"historical_accuracy"`
	TimeframeImportance float64 `json:"timeframe_importance"`
	VolumeConfirmation  float64 `json:"volume_confirmation"`
	Volatility          float64 `json:"volatility"`
}

// Input is everything the scorer reads for one signal.
type Input struct {
	Signal   *models.StrategySignal
	Context  *models.StrategyContext
	Results  []models.ConditionEvaluationResult // results that drafted the signal
	Agreeing int                                // passing conditions on the same direction
	Recent   []models.StrategySignal
	Now      time.Time
}

// Breakdown explains a score.
type Breakdown struct {
	Factors    Factors            `json:"factors"`
	Raw        float64            `json:"raw"`
	Normalized float64            `json:"normalized"`
	Adjust     map[string]float64 `json:"adjustments,omitempty"`
	Final      float64            `json:"final"`
}

// Scorer computes 0-100 signal confidence.
type Scorer struct {
	cfg config.ScoringConfig

	mu     sync.Mutex
	window []float64
	next   int
}

func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg, window: make([]float64, 0, percentileWindow)}
}

// Score computes factors, normalizes, adjusts and clamps to [0,100].
func (s *Scorer) Score(in Input) Breakdown {
	f := s.Factors(in)
	raw := s.weighted(f)
	norm := s.normalize(raw)

	b := Breakdown{Factors: f, Raw: raw, Normalized: norm, Adjust: map[string]float64{}}
	mult := 1.0
	for name, m := range s.adjustments(in) {
		b.Adjust[name] = m
		mult *= m
	}
	b.Final = Clamp(norm*mult*100, 0, 100)
	return b
}

// Factors derives the weighted-sum inputs.
func (s *Scorer) Factors(in Input) Factors {
	dir := direction(in.Signal.Type)
	sc := in.Context
	return Factors{
		ConditionConfidence: conditionConfidence(in.Results),
		IndicatorAlignment:  indicatorAlignment(sc, dir),
		MarketConditions:    marketConditions(sc, dir),
		HistoricalAccuracy:  historicalAccuracy(sc),
		TimeframeImportance: in.Signal.Timeframe.Importance(),
		VolumeConfirmation:  volumeConfirmation(sc),
		Volatility:          volatilityScore(sc),
	}
}

func (s *Scorer) weighted(f Factors) float64 {
	w := s.cfg.Weights
	total := w.Sum()
	if total <= 0 {
		return 0
	}
	sum := w.ConditionConfidence*f.ConditionConfidence +
		w.IndicatorAlignment*f.IndicatorAlignment +
		w.MarketConditions*f.MarketConditions +
		w.HistoricalAccuracy*f.HistoricalAccuracy +
		w.TimeframeImportance*f.TimeframeImportance +
		w.VolumeConfirmation*f.VolumeConfirmation +
		w.Volatility*f.Volatility
	return Clamp(sum/total, 0, 1)
}

func (s *Scorer) normalize(raw float64) float64 {
	switch s.cfg.Normalization {
	case "linear":
		return Clamp(raw, 0, 1)
	case "percentile":
		return s.percentile(raw)
	default:
		return 1 / (1 + math.Exp(-sigmoidSteepness*(raw-0.5)))
	}
}

// percentile ranks raw against the rolling window of previous raw scores.
func (s *Scorer) percentile(raw float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rank float64
	if len(s.window) == 0 {
		rank = Clamp(raw, 0, 1)
	} else {
		sorted := append([]float64(nil), s.window...)
		sort.Float64s(sorted)
		n := sort.Search(len(sorted), func(i int) bool { return sorted[i] > raw })
		rank = float64(n) / float64(len(sorted))
	}

	if len(s.window) < percentileWindow {
		s.window = append(s.window, raw)
	} else {
		s.window[s.next] = raw
		s.next = (s.next + 1) % percentileWindow
	}
	return rank
}

func (s *Scorer) adjustments(in Input) map[string]float64 {
	adj := s.cfg.Adjustments
	out := make(map[string]float64, 4)
	sig := in.Signal

	if adj.ConflictPenalty > 0 && hasRecentOpposite(sig, in.Recent, in.Now, adj.ConflictWindow) {
		out["conflict_penalty"] = adj.ConflictPenalty
	}
	if adj.ConsensusBonus > 0 && in.Agreeing >= 2 {
		out["consensus_bonus"] = adj.ConsensusBonus
	}
	if d := timeDecay(in.Context, in.Now, adj.DecayHalfLife); d < 1 {
		out["time_decay"] = d
	}
	if in.Context != nil {
		if r := regimeMultiplier(in.Context.Regime, sig.Type); r != 1 {
			out["regime"] = r
		}
	}
	return out
}

func conditionConfidence(results []models.ConditionEvaluationResult) float64 {
	if len(results) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, r := range results {
		c := r.Confidence
		if c <= 0 {
			c = 0.5
		}
		sum += Clamp(c, 0, 1)
	}
	return sum / float64(len(results))
}

func indicatorAlignment(sc *models.StrategyContext, dir float64) float64 {
	if sc == nil || dir == 0 {
		return 0.5
	}
	price := sc.Market.Price
	var votes []float64

	if rsi, ok := sc.Indicator(features.KeyRSI); ok {
		// oversold supports buys, overbought supports sells
		votes = append(votes, Clamp(0.5+dir*(50-rsi)/40, 0, 1))
	}
	if sma, ok := sc.Indicator(features.KeySMA); ok && price > 0 {
		votes = append(votes, agree(dir, price-sma))
	}
	if ema, ok := sc.Indicator(features.KeyEMA); ok && price > 0 {
		votes = append(votes, agree(dir, price-ema))
	}
	if hist, ok := sc.Indicator(features.KeyMACDHist); ok {
		votes = append(votes, agree(dir, hist))
	}
	if len(votes) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, v := range votes {
		sum += v
	}
	return sum / float64(len(votes))
}

func marketConditions(sc *models.StrategyContext, dir float64) float64 {
	if sc == nil {
		return 0.5
	}
	score := 0.5 + dir*Clamp(sc.Market.Change24h/10, -0.5, 0.5)
	p := sc.Portfolio
	score *= 1 - 0.5*Clamp(p.Drawdown, 0, 1)
	score *= 1 - 0.3*Clamp(p.Exposure, 0, 1)
	return Clamp(score, 0, 1)
}

func historicalAccuracy(sc *models.StrategyContext) float64 {
	if v, ok := sc.FloatVar("historical_accuracy"); ok {
		return Clamp(v, 0, 1)
	}
	return defaultHistoricalAccuracy
}

func volumeConfirmation(sc *models.StrategyContext) float64 {
	if ratio, ok := sc.Indicator(features.KeyVolumeRatio); ok {
		return Clamp(ratio/2, 0, 1)
	}
	return 0.5
}

// volatilityScore favors calmer markets: ATR at 5% of price or more scores 0.
func volatilityScore(sc *models.StrategyContext) float64 {
	if sc == nil || sc.Market.Price <= 0 {
		return 0.5
	}
	atr, ok := sc.Indicator(features.KeyATR)
	if !ok {
		if sc.Portfolio.Volatility > 0 {
			return Clamp(1-sc.Portfolio.Volatility, 0, 1)
		}
		return 0.5
	}
	pct := atr / sc.Market.Price * 100
	return Clamp(1-pct/5, 0, 1)
}

func hasRecentOpposite(sig *models.StrategySignal, recent []models.StrategySignal, now time.Time, window time.Duration) bool {
	if !sig.Type.IsDirectional() {
		return false
	}
	opp := sig.Type.Opposite()
	for i := range recent {
		r := &recent[i]
		if r.Symbol != sig.Symbol || r.Type != opp {
			continue
		}
		if window <= 0 || now.Sub(r.CreatedAt) <= window {
			return true
		}
	}
	return false
}

func timeDecay(sc *models.StrategyContext, now time.Time, halfLife time.Duration) float64 {
	if sc == nil || halfLife <= 0 || sc.Market.Timestamp.IsZero() {
		return 1
	}
	age := now.Sub(sc.Market.Timestamp)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Seconds()/halfLife.Seconds())
}

func regimeMultiplier(regime string, t models.SignalType) float64 {
	switch regime {
	case features.RegimeTrendingUp:
		if t == models.SignalBuy {
			return 1.1
		}
		if t == models.SignalSell {
			return 0.85
		}
	case features.RegimeTrendingDown:
		if t == models.SignalSell {
			return 1.1
		}
		if t == models.SignalBuy {
			return 0.85
		}
	case features.RegimeHighVolatility:
		return 0.9
	}
	return 1
}

func direction(t models.SignalType) float64 {
	switch t {
	case models.SignalBuy:
		return 1
	case models.SignalSell:
		return -1
	default:
		return 0
	}
}

func agree(dir, delta float64) float64 {
	switch {
	case delta*dir > 0:
		return 1
	case delta*dir < 0:
		return 0
	default:
		return 0.5
	}
}

// Clamp bounds v to [lo,hi]; NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
