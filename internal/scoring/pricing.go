package scoring

import (
	"fmt"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/oddsmath"
)

// Pricing resolves the payout of a leg set, either from a fixed table keyed by leg
// count or from the product of the legs' own decimal odds
type Pricing struct {
	Table map[int]float64
}

// NewPricing validates a payout table. An empty table prices from leg odds.
func NewPricing(table map[int]float64) (Pricing, error) {
	for legs, multiplier := range table {
		if legs < 1 || multiplier <= 1 {
			return Pricing{}, fmt.Errorf("invalid payout table entry %d legs -> %.2fx", legs, multiplier)
		}
	}
	return Pricing{Table: table}, nil
}

// UsesTable reports whether payouts come from the table
func (p Pricing) UsesTable() bool {
	return len(p.Table) > 0
}

// Payout returns the multiplier for the legs, or an error when the table has no
// entry for this size or a leg carries no price
func (p Pricing) Payout(legs []models.Leg) (float64, error) {
	if p.UsesTable() {
		multiplier, ok := p.Table[len(legs)]
		if !ok {
			return 0, fmt.Errorf("no payout for %d legs", len(legs))
		}
		return multiplier, nil
	}

	decimals := make([]float64, len(legs))
	for i, leg := range legs {
		if !leg.HasPrice() {
			return 0, fmt.Errorf("leg %s has no price and no payout table is set", leg.Key())
		}
		decimals[i] = leg.Payout()
	}
	return oddsmath.ParlayDecimal(decimals)
}

// LegEdge is the leg's win probability minus its breakeven. Under a table the breakeven
// is the per-leg share payout^(−1/n); otherwise 1/decimal odds.
func (p Pricing) LegEdge(leg models.Leg, legs int, payout float64) float64 {
	if p.UsesTable() || !leg.HasPrice() {
		breakeven, err := oddsmath.LegBreakeven(payout, legs)
		if err != nil {
			return -1
		}
		return oddsmath.Edge(leg.WinProbability, breakeven)
	}
	return oddsmath.Edge(leg.WinProbability, 1/leg.Payout())
}

// StandaloneEdge is a leg's edge before any slip is formed, used to rank seeds and prune
// legs. Under a table it is the best edge over the sizes in [minLegs, maxLegs], so pruning
// on it never discards a leg some allowed slip size could use.
func (p Pricing) StandaloneEdge(leg models.Leg, minLegs, maxLegs int) float64 {
	if !p.UsesTable() {
		if !leg.HasPrice() {
			return 0
		}
		return oddsmath.Edge(leg.WinProbability, 1/leg.Payout())
	}

	best, found := 0.0, false
	for n := max(minLegs, 1); n <= min(maxLegs, maxTableLegs(p.Table)); n++ {
		payout, ok := p.Table[n]
		if !ok {
			continue
		}
		breakeven, err := oddsmath.LegBreakeven(payout, n)
		if err != nil {
			continue
		}
		if edge := oddsmath.Edge(leg.WinProbability, breakeven); !found || edge > best {
			best, found = edge, true
		}
	}
	return best
}

func maxTableLegs(table map[int]float64) int {
	m := 0
	for n := range table {
		m = max(m, n)
	}
	return m
}
