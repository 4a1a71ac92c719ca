package repository

import (
	"fmt"
	"sync"

	"SignalEngine/internal/domain/models"
	"SignalEngine/internal/domain/repository"
	"SignalEngine/pkg/config"
)

// StrategyRegistry holds strategy definitions and the contexts kept fresh by
// external collaborators.
type StrategyRegistry struct {
	mu       sync.RWMutex
	order    []string
	defs     map[string]models.StrategyDefinition
	contexts map[string]models.StrategyContext
}

func NewStrategyRegistry(cfgs []config.StrategyConfig) *StrategyRegistry {
	r := &StrategyRegistry{
		defs:     make(map[string]models.StrategyDefinition, len(cfgs)),
		contexts: make(map[string]models.StrategyContext, len(cfgs)),
	}
	for _, c := range cfgs {
		r.Register(DefinitionFromConfig(c))
	}
	return r
}

// DefinitionFromConfig converts a configured strategy.
func DefinitionFromConfig(c config.StrategyConfig) models.StrategyDefinition {
	conds := make([]models.ConditionExpression, 0, len(c.Conditions))
	for _, cc := range c.Conditions {
		conds = append(conds, models.ConditionExpression{
			ID:         cc.ID,
			Name:       cc.Name,
			Expression: cc.Expression,
			Direction:  models.SignalType(cc.Direction),
			Weight:     cc.Weight,
		})
	}
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return models.StrategyDefinition{
		ID:         c.ID,
		Name:       name,
		Symbols:    append([]string(nil), c.Symbols...),
		Timeframe:  models.NormalizeTimeframe(c.Timeframe),
		Enabled:    c.Enabled,
		Priority:   c.Priority,
		Conditions: conds,
	}
}

// Register adds or replaces a definition.
func (r *StrategyRegistry) Register(def models.StrategyDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.ID]; !ok {
		r.order = append(r.order, def.ID)
	}
	r.defs[def.ID] = def
}

func (r *StrategyRegistry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrStrategyNotFound, id)
	}
	def.Enabled = enabled
	r.defs[id] = def
	return nil
}

// UpdateContext stores the externally maintained context of a strategy.
func (r *StrategyRegistry) UpdateContext(id string, sc models.StrategyContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[id]; !ok {
		return fmt.Errorf("%w: %s", models.ErrStrategyNotFound, id)
	}
	sc.StrategyID = id
	r.contexts[id] = sc
	return nil
}

func (r *StrategyRegistry) Strategy(id string) (models.StrategyDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// StrategiesForSymbol returns enabled strategies trading symbol in registration order.
func (r *StrategyRegistry) StrategiesForSymbol(symbol string) []models.StrategyDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.StrategyDefinition
	for _, id := range r.order {
		def := r.defs[id]
		if def.Enabled && def.Trades(symbol) {
			out = append(out, def)
		}
	}
	return out
}

// Context returns a copy of the stored context; maps are copied so callers may mutate them.
func (r *StrategyRegistry) Context(id string) (models.StrategyContext, bool) {
	r.mu.RLock()
	sc, ok := r.contexts[id]
	r.mu.RUnlock()
	if !ok {
		return models.StrategyContext{}, false
	}
	if sc.Indicators != nil {
		ind := make(map[string]float64, len(sc.Indicators))
		for k, v := range sc.Indicators {
			ind[k] = v
		}
		sc.Indicators = ind
	}
	if sc.Variables != nil {
		vars := make(map[string]any, len(sc.Variables))
		for k, v := range sc.Variables {
			vars[k] = v
		}
		sc.Variables = vars
	}
	return sc, true
}

// All returns every definition in registration order.
func (r *StrategyRegistry) All() []models.StrategyDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.StrategyDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

var _ repository.StrategyRegistry = (*StrategyRegistry)(nil)
