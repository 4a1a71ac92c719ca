package policy

import (
	"context"

	"SignalEngine/internal/domain/models"
	domsvc "SignalEngine/internal/domain/service"
)

const (
	ResolverHighestConfidence = "highest_confidence"
	ResolverConsensus         = "consensus"
	ResolverConservative      = "conservative"
	ResolverCoexist           = "coexist"

	ReasonLowerConfidence = "lower confidence"
)

// HighestConfidence keeps the strictly highest-confidence signal; ties go to the first seen.
type HighestConfidence struct{}

func (HighestConfidence) Name() string { return ResolverHighestConfidence }

func (HighestConfidence) Resolve(_ context.Context, group []*models.StrategySignal) (domsvc.Resolution, error) {
	return KeepHighest(group, ReasonLowerConfidence), nil
}

// KeepHighest returns the first signal with the highest confidence as sole survivor.
func KeepHighest(group []*models.StrategySignal, reason string) domsvc.Resolution {
	if len(group) == 0 {
		return domsvc.Resolution{}
	}
	best := 0
	for i := 1; i < len(group); i++ {
		if group[i].Confidence > group[best].Confidence {
			best = i
		}
	}
	res := domsvc.Resolution{Survivors: []*models.StrategySignal{group[best]}}
	for i, s := range group {
		if i != best {
			res.Rejected = append(res.Rejected, domsvc.Rejection{Signal: s, Reason: reason})
		}
	}
	return res
}

// Consensus sides with the direction carrying the larger summed confidence.
type Consensus struct{}

func (Consensus) Name() string { return ResolverConsensus }

func (Consensus) Resolve(_ context.Context, group []*models.StrategySignal) (domsvc.Resolution, error) {
	totals := map[models.SignalType]float64{}
	for _, s := range group {
		totals[s.Type] += s.Confidence
	}
	buy, sell := totals[models.SignalBuy], totals[models.SignalSell]
	if buy == sell {
		return rejectAll(group, "no consensus"), nil
	}
	winner := models.SignalBuy
	if sell > buy {
		winner = models.SignalSell
	}

	var side []*models.StrategySignal
	var res domsvc.Resolution
	for _, s := range group {
		if s.Type == winner {
			side = append(side, s)
			continue
		}
		res.Rejected = append(res.Rejected, domsvc.Rejection{Signal: s, Reason: "outvoted by consensus"})
	}
	kept := KeepHighest(side, ReasonLowerConfidence)
	res.Survivors = kept.Survivors
	res.Rejected = append(res.Rejected, kept.Rejected...)
	return res, nil
}

// Conservative rejects every signal of a conflicting group.
type Conservative struct{}

func (Conservative) Name() string { return ResolverConservative }

func (Conservative) Resolve(_ context.Context, group []*models.StrategySignal) (domsvc.Resolution, error) {
	return rejectAll(group, "conflicting signals"), nil
}

// Coexist keeps every signal.
type Coexist struct{}

func (Coexist) Name() string { return ResolverCoexist }

func (Coexist) Resolve(_ context.Context, group []*models.StrategySignal) (domsvc.Resolution, error) {
	return domsvc.Resolution{Survivors: append([]*models.StrategySignal(nil), group...)}, nil
}

func (Coexist) AllowsCoexistence() bool { return true }

func rejectAll(group []*models.StrategySignal, reason string) domsvc.Resolution {
	res := domsvc.Resolution{}
	for _, s := range group {
		res.Rejected = append(res.Rejected, domsvc.Rejection{Signal: s, Reason: reason})
	}
	return res
}

// DefaultResolvers registers every built-in resolver.
func DefaultResolvers() *Registry[domsvc.ConflictResolver] {
	return NewRegistry[domsvc.ConflictResolver](HighestConfidence{}, Consensus{}, Conservative{}, Coexist{})
}

var (
	_ domsvc.ConflictResolver = HighestConfidence{}
	_ domsvc.ConflictResolver = Consensus{}
	_ domsvc.ConflictResolver = Conservative{}
	_ domsvc.ConflictResolver = Coexist{}
	_ domsvc.Coexister        = Coexist{}
)
