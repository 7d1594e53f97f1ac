// Package modifier indexes per-layer softcap definitions by their
// (target node reference, key) pair and resolves an effective value for a
// base value by composing every applicable softcap in declaration order.
package modifier

import (
	"math"

	"github.com/go-idle/enginecore/internal/noderef"
)

// Def is one softcap definition, as authored under a layer's `softcaps[]`.
type Def struct {
	TargetRef string
	Key       string
	Kind      string
	Threshold float64
	Params    map[string]float64
}

func compositeKey(targetRef, key string) string {
	return targetRef + "\x00" + key
}

// Resolver resolves effective values through indexed softcaps.
type Resolver struct {
	index map[string][]Def
}

// NewResolver indexes defs by normalized (TargetRef, Key). Invalid
// references or malformed entries (empty key, non-finite threshold,
// unrecognized kind) are skipped during indexing, never at resolve time.
func NewResolver(defs []Def) *Resolver {
	r := &Resolver{index: make(map[string][]Def)}
	for _, d := range defs {
		if d.Key == "" {
			continue
		}
		if math.IsNaN(d.Threshold) || math.IsInf(d.Threshold, 0) {
			continue
		}
		canonical, err := noderef.Normalize(d.TargetRef)
		if err != nil {
			continue
		}
		if _, ok := applySoftcap(d.Kind, d.Threshold, d.Params, d.Threshold); !ok {
			continue
		}
		d.TargetRef = canonical
		ck := compositeKey(canonical, d.Key)
		r.index[ck] = append(r.index[ck], d)
	}
	return r
}

// Resolve composes every softcap indexed for (targetRef, key) over
// baseValue, in declaration order, and returns a finite number. An
// unindexed pair (including an unparseable targetRef) returns baseValue
// untouched.
func (r *Resolver) Resolve(targetRef, key string, baseValue float64) float64 {
	canonical, err := noderef.Normalize(targetRef)
	if err != nil {
		return baseValue
	}
	defs, ok := r.index[compositeKey(canonical, key)]
	if !ok {
		return baseValue
	}
	v := baseValue
	for _, d := range defs {
		next, ok := applySoftcap(d.Kind, d.Threshold, d.Params, v)
		if !ok {
			continue
		}
		v = next
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return baseValue
	}
	return v
}
