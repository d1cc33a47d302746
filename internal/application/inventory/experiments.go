package inventory

import "hash/fnv"

// FixedExperiments always returns one strategy.
type FixedExperiments struct {
	Default Strategy
}

func (f FixedExperiments) StrategyFor(string) Strategy {
	if f.Default == "" {
		return StrategyOptimistic
	}
	return f.Default
}

// SplitExperiments deterministically assigns a fraction of actors to the
// alternate strategy. The same reserved_by always lands in the same bucket.
type SplitExperiments struct {
	Default   Strategy
	Alternate Strategy
	// Percent of actors (0-100) assigned to Alternate.
	Percent uint32
}

func (s SplitExperiments) StrategyFor(reservedBy string) Strategy {
	if s.Percent == 0 || reservedBy == "" {
		return s.Default
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(reservedBy))
	if h.Sum32()%100 < s.Percent {
		return s.Alternate
	}
	return s.Default
}
