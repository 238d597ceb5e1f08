package optimizer

import (
	"math"
	"math/rand"
	"sort"
)

// infeasiblePenalty pushes viable but incomplete slips below every complete one
const infeasiblePenalty = 1.0

// genetic evolves a population of leg sets with tournament selection, union crossover,
// add/drop/swap mutation and elitism. The generator is seeded from the run seed.
func (s *search) genetic() {
	pool := s.viableLegs()
	cfg := s.o.config.Genetic
	minLegs, maxLegs := s.p.Profile.MinLegs, s.p.Profile.MaxLegs
	if maxLegs > len(pool) {
		maxLegs = len(pool)
	}
	if len(pool) < minLegs {
		return
	}

	rng := rand.New(rand.NewSource(s.p.Seed))
	g := &evolver{rng: rng, pool: pool, minLegs: minLegs, maxLegs: maxLegs}

	population := make([][]int, cfg.Population)
	for i := range population {
		population[i] = g.random()
	}

	for gen := 1; gen <= cfg.Generations; gen++ {
		if s.exhausted() {
			return
		}

		entries := s.evaluateAll(population)
		fitness := make([]float64, len(population))
		for i, e := range entries {
			fitness[i] = fitnessOf(e)
		}

		order := make([]int, len(population))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return fitness[order[a]] > fitness[order[b]] })

		next := make([][]int, 0, cfg.Population)
		for _, idx := range order[:min(cfg.Elite, len(order))] {
			next = append(next, population[idx])
		}
		for len(next) < cfg.Population {
			a := g.tournament(population, fitness, cfg.TournamentSize)
			child := a
			if rng.Float64() < cfg.CrossoverRate {
				b := g.tournament(population, fitness, cfg.TournamentSize)
				child = g.crossover(a, b)
			}
			if rng.Float64() < cfg.MutationRate {
				child = g.mutate(child)
			}
			next = append(next, canonical(child))
		}
		population = next

		s.progress("genetic", gen)
	}
}

func fitnessOf(e *entry) float64 {
	switch {
	case e == nil || !e.viable:
		return math.Inf(-1)
	case e.complete:
		return e.candidate.Score
	default:
		return e.candidate.Score - infeasiblePenalty
	}
}

// evolver holds the variation operators. Not safe for concurrent use.
type evolver struct {
	rng              *rand.Rand
	pool             []int
	minLegs, maxLegs int
}

func (g *evolver) random() []int {
	size := g.minLegs + g.rng.Intn(g.maxLegs-g.minLegs+1)
	perm := g.rng.Perm(len(g.pool))
	out := make([]int, size)
	for i := range out {
		out[i] = g.pool[perm[i]]
	}
	return canonical(out)
}

func (g *evolver) tournament(population [][]int, fitness []float64, size int) []int {
	best := g.rng.Intn(len(population))
	for i := 1; i < size; i++ {
		if c := g.rng.Intn(len(population)); fitness[c] > fitness[best] {
			best = c
		}
	}
	return population[best]
}

// crossover draws a child from the union of both parents, sized like one of them
func (g *evolver) crossover(a, b []int) []int {
	union := canonical(append(append([]int(nil), a...), b...))
	size := len(a)
	if g.rng.Intn(2) == 1 {
		size = len(b)
	}
	g.rng.Shuffle(len(union), func(i, j int) { union[i], union[j] = union[j], union[i] })
	return canonical(union[:size])
}

func (g *evolver) mutate(set []int) []int {
	out := append([]int(nil), set...)
	switch op := g.rng.Intn(3); {
	case op == 0 && len(out) < g.maxLegs:
		if leg, ok := g.unused(out); ok {
			out = append(out, leg)
		}
	case op == 1 && len(out) > g.minLegs:
		i := g.rng.Intn(len(out))
		out = append(out[:i], out[i+1:]...)
	default:
		if leg, ok := g.unused(out); ok {
			out[g.rng.Intn(len(out))] = leg
		}
	}
	return canonical(out)
}

func (g *evolver) unused(set []int) (int, bool) {
	in := make(map[int]struct{}, len(set))
	for _, idx := range set {
		in[idx] = struct{}{}
	}
	var free []int
	for _, idx := range g.pool {
		if _, ok := in[idx]; !ok {
			free = append(free, idx)
		}
	}
	if len(free) == 0 {
		return 0, false
	}
	return free[g.rng.Intn(len(free))], true
}
