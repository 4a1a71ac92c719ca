package models

// StrategyDefinition is a registered strategy as known to the registry.
type StrategyDefinition struct {
	ID         string
	Name       string
	Symbols    []string
	Timeframe  Timeframe
	Enabled    bool
	Priority   int
	Conditions []ConditionExpression
}

// Trades reports whether the strategy trades symbol.
func (d *StrategyDefinition) Trades(symbol string) bool {
	for _, s := range d.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
