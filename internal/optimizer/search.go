package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/cache"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/constraints"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/copula"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/scoring"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/simulator"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// errBudget marks an evaluation skipped because the search ran out of budget
var errBudget = errors.New("search budget exhausted")

// entry is the memoized outcome of one leg set
type entry struct {
	indices   []int
	candidate *models.SlipCandidate
	// viable is false when a rule no extension can repair failed
	viable bool
	// complete is true when the slip passed full validation
	complete bool
	report   models.ValidationReport
}

// search is the state of one Optimize call. Entries are shared read-only once stored.
type search struct {
	ctx      context.Context
	o        *Optimizer
	p        Problem
	deadline time.Time

	memo      sync.Map
	evaluated atomic.Int64
	truncated atomic.Bool
	degraded  atomic.Bool

	standalone []float64

	mu       sync.Mutex
	rejected []models.RejectedCandidate
	best     *models.SlipCandidate
}

func newSearch(ctx context.Context, o *Optimizer, p Problem) *search {
	s := &search{ctx: ctx, o: o, p: p}
	if o.config.TimeBudget > 0 {
		s.deadline = time.Now().Add(o.config.TimeBudget)
	}

	maxLegs := p.Profile.MaxLegs
	if maxLegs < p.Profile.MinLegs {
		maxLegs = p.Profile.MinLegs
	}
	s.standalone = make([]float64, len(p.Legs))
	for i, leg := range p.Legs {
		s.standalone[i] = p.Pricing.StandaloneEdge(leg, p.Profile.MinLegs, maxLegs)
	}
	return s
}

// exhausted reports whether new evaluations must stop, and marks the search truncated
func (s *search) exhausted() bool {
	switch {
	case s.ctx.Err() != nil,
		!s.deadline.IsZero() && time.Now().After(s.deadline),
		s.o.config.MaxEvaluations > 0 && s.evaluated.Load() >= int64(s.o.config.MaxEvaluations):
		s.truncated.Store(true)
		return true
	}
	return false
}

// evaluate scores a leg set at search trials, once per run. Returns nil when the
// budget is exhausted.
func (s *search) evaluate(indices []int) *entry {
	indices = canonical(indices)
	key := s.key(indices)
	if v, ok := s.memo.Load(key); ok {
		return v.(*entry)
	}
	if s.exhausted() {
		return nil
	}

	e, err := s.score(indices, s.o.config.SearchTrials, true, false)
	if err != nil {
		if !errors.Is(err, errBudget) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.o.logger.Warn("candidate evaluation failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}

	actual, loaded := s.memo.LoadOrStore(key, e)
	if !loaded {
		s.evaluated.Add(1)
		s.observe(e)
	}
	return actual.(*entry)
}

// evaluateAll scores leg sets concurrently. Each goroutine writes only its own slot.
func (s *search) evaluateAll(sets [][]int) []*entry {
	out := make([]*entry, len(sets))
	var g errgroup.Group
	g.SetLimit(s.o.config.Workers)
	for i, set := range sets {
		i, set := i, set
		g.Go(func() error {
			out[i] = s.evaluate(set)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// score builds, simulates and validates one slip. With prune set, slips failing a rule
// that no extension can repair are returned unsimulated.
func (s *search) score(indices []int, trials int, prune, final bool) (*entry, error) {
	p := s.p
	key := s.key(indices)
	legs := make([]models.Leg, len(indices))
	edges := make([]float64, len(indices))
	for i, idx := range indices {
		legs[i] = p.Legs[idx]
		edges[i] = s.standalone[idx]
	}

	stats := scoring.Correlations(p.Correlation, indices)
	candidate := &models.SlipCandidate{
		ID:                 uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(),
		Key:                key,
		Legs:               legs,
		MaxCorrelation:     stats.Max,
		MaxAbsCorrelation:  stats.MaxAbs,
		AverageCorrelation: stats.Average,
		SumAbsCorrelation:  stats.SumAbs,
		DiversityScore:     scoring.Diversity(legs),
		LegEdges:           edges,
		CopulaFamily:       p.Family,
		LowConfidence:      p.Correlation.LowConfidence,
	}
	e := &entry{indices: indices, candidate: candidate}

	partial := constraints.ValidatePartial(candidate, p.Profile)
	if prune && !partial.Valid {
		e.report = partial
		return e, nil
	}
	e.viable = partial.Valid

	payout, err := p.Pricing.Payout(legs)
	if err != nil {
		// Unpriced sizes (below a table's smallest entry) are ranked on standalone edges
		candidate.Score = scoring.Objective(sum(edges), stats.SumAbs, candidate.DiversityScore, p.Profile)
		e.report = partial
		if !prune {
			return nil, fmt.Errorf("pricing slip %s: %w", key, err)
		}
		return e, nil
	}
	candidate.PayoutMultiplier = payout
	for i, leg := range legs {
		edges[i] = p.Pricing.LegEdge(leg, len(legs), payout)
	}

	fit := copula.Fit(p.Family, p.Correlation.Sub(indices))
	if fit.Degraded() {
		s.degraded.Store(true)
		metrics.CopulaFallbacks.WithLabelValues(string(p.Family)).Inc()
		candidate.CopulaFamily = models.CopulaIndependent
		candidate.LowConfidence = true
		candidate.Warnings = append(candidate.Warnings, "Copula fit degraded to independent: "+fit.Reason)
	}

	probabilities := make([]float64, len(legs))
	for i, leg := range legs {
		probabilities[i] = leg.WinProbability
	}
	in := simulator.Input{
		Probabilities:    probabilities,
		Copula:           fit.Copula,
		PayoutMultiplier: payout,
		Trials:           trials,
		Seed:             simulator.SeedFor(p.Seed, key),
	}

	var cacheKey string
	if final {
		cacheKey = cache.SimulationKey(candidate.LegIDs(), probabilities, models.HashValues(candidate.LegIDs(), p.Correlation.Sub(indices)),
			candidate.CopulaFamily, trials, in.Seed, payout)
	}
	result, err := s.o.simulate(s.ctx, in, cacheKey)
	if err != nil {
		return nil, err
	}
	if result.Degraded {
		s.degraded.Store(true)
		candidate.LowConfidence = true
	}

	candidate.WinProbability = result.WinProbability
	candidate.IndependentProbability = result.IndependentProbability
	candidate.ExpectedValue = result.ExpectedValue
	candidate.Variance = result.Variance
	candidate.StandardError = result.StandardError
	candidate.ValueAtRisk = result.ValueAtRisk
	candidate.ExpectedShortfall = result.ExpectedShortfall
	candidate.Trials = result.Trials
	candidate.Score = scoring.Objective(candidate.ExpectedValue, stats.SumAbs, candidate.DiversityScore, p.Profile)

	if final {
		stressed, err := s.o.simulator.StressTest(s.ctx, in, s.o.config.StressShift)
		if err != nil {
			return nil, err
		}
		candidate.StressedWinProbability = stressed.WinProbability
		candidate.StressedExpectedValue = stressed.ExpectedValue
		if stressed.ExpectedValue < 0 && candidate.ExpectedValue > 0 {
			candidate.Warnings = append(candidate.Warnings, "EV turns negative under the probability stress test")
		}
	}

	e.report = constraints.Validate(candidate, p.Profile)
	e.complete = e.report.Valid
	return e, nil
}

// simulate consults the simulation cache when key is set
func (o *Optimizer) simulate(ctx context.Context, in simulator.Input, key string) (simulator.Result, error) {
	if key != "" {
		var cached simulator.Result
		hit, err := cache.GetJSON(ctx, o.cache, key, &cached)
		if err != nil {
			o.logger.Warn("simulation cache read failed", zap.Error(err))
		}
		if o.cache != nil {
			metrics.CacheResult("simulation", hit)
		}
		if hit {
			return cached, nil
		}
	}

	result, err := o.simulator.Simulate(ctx, in)
	if err != nil {
		return simulator.Result{}, err
	}

	if key != "" {
		if err := cache.SetJSON(ctx, o.cache, key, result, o.config.SimulationCacheTTL); err != nil {
			o.logger.Warn("simulation cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

// observe records rejections and tracks the best complete slip
func (s *search) observe(e *entry) {
	n := len(e.indices)
	inRange := n >= s.p.Profile.MinLegs && n <= s.p.Profile.MaxLegs

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.complete {
		if s.best == nil || scoring.Better(e.candidate, s.best) {
			s.best = e.candidate
		}
		return
	}
	if (!e.viable || inRange) && n >= 2 && len(e.report.Violations) > 0 {
		for _, v := range e.report.Violations {
			metrics.CandidatesRejected.WithLabelValues(string(v.Rule)).Inc()
		}
		if len(s.rejected) < s.o.config.MaxRejected {
			s.rejected = append(s.rejected, models.RejectedCandidate{
				Key:    e.candidate.Key,
				LegIDs: e.candidate.LegIDs(),
				Report: e.report,
			})
		}
	}
}

func (s *search) rejectedList() []models.RejectedCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RejectedCandidate(nil), s.rejected...)
}

func (s *search) progress(stage string, step int) {
	if s.p.Progress == nil {
		return
	}
	event := models.ProgressEvent{
		Stage:     stage,
		Step:      step,
		Evaluated: int(s.evaluated.Load()),
		BestScore: math.NaN(),
	}
	s.mu.Lock()
	if s.best != nil {
		event.BestScore = s.best.Score
		event.BestKey = s.best.Key
	}
	s.mu.Unlock()
	if math.IsNaN(event.BestScore) {
		event.BestScore = 0
	}
	s.p.Progress(event)
}

// finalize re-scores the best search results at full trials with a stress test and
// returns the top N that still validate
func (s *search) finalize() ([]*models.SlipCandidate, []models.RejectedCandidate) {
	var pool []*models.SlipCandidate
	indexByKey := make(map[string][]int)
	s.memo.Range(func(_, v interface{}) bool {
		e := v.(*entry)
		if e.complete {
			pool = append(pool, e.candidate)
			indexByKey[e.candidate.Key] = e.indices
		}
		return true
	})
	pool = rank(pool)

	topN := s.p.TopN
	if s.ctx.Err() != nil {
		// Soft cancellation: keep search-level estimates rather than spend more time
		s.truncated.Store(true)
		if len(pool) > topN {
			pool = pool[:topN]
		}
		return pool, nil
	}

	shortlist := pool
	if len(shortlist) > topN*3 {
		shortlist = shortlist[:topN*3]
	}

	finals := make([]*entry, len(shortlist))
	var g errgroup.Group
	g.SetLimit(s.o.config.Workers)
	for i, c := range shortlist {
		i, indices := i, indexByKey[c.Key]
		g.Go(func() error {
			e, err := s.score(indices, s.finalTrials(), false, true)
			if err != nil {
				s.o.logger.Warn("final scoring failed", zap.Strings("legs", s.ids(indices)), zap.Error(err))
				return nil
			}
			finals[i] = e
			return nil
		})
	}
	_ = g.Wait()

	var slips []*models.SlipCandidate
	var rejected []models.RejectedCandidate
	for i, e := range finals {
		switch {
		case e == nil:
			// Final scoring was interrupted; fall back to the search estimate
			slips = append(slips, shortlist[i])
		case e.complete:
			slips = append(slips, e.candidate)
		default:
			rejected = append(rejected, models.RejectedCandidate{
				Key:    e.candidate.Key,
				LegIDs: e.candidate.LegIDs(),
				Report: e.report,
			})
		}
	}

	slips = rank(slips)
	if len(slips) > topN {
		slips = slips[:topN]
	}
	return slips, rejected
}

func (s *search) finalTrials() int {
	if s.p.Trials > 0 {
		return s.p.Trials
	}
	return s.o.config.FinalTrials
}

// viableLegs returns the legs that pass the single-leg rules, best standalone edge first
func (s *search) viableLegs() []int {
	var out []int
	for i := range s.p.Legs {
		candidate := &models.SlipCandidate{
			Legs:     []models.Leg{s.p.Legs[i]},
			LegEdges: []float64{s.standalone[i]},
		}
		if constraints.ValidatePartial(candidate, s.p.Profile).Valid {
			out = append(out, i)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return s.standalone[out[a]] > s.standalone[out[b]]
	})
	return out
}

func (s *search) key(indices []int) string {
	return models.SlipKey(s.ids(indices))
}

func (s *search) ids(indices []int) []string {
	ids := make([]string, len(indices))
	for i, idx := range indices {
		ids[i] = s.p.Legs[idx].Key()
	}
	return ids
}

// canonical returns a sorted copy without repeats
func canonical(indices []int) []int {
	out := append([]int(nil), indices...)
	sort.Ints(out)
	j := 0
	for i, v := range out {
		if i > 0 && v == out[j-1] {
			continue
		}
		out[j] = v
		j++
	}
	return out[:j]
}

// extend returns every leg set adding one leg outside current
func extend(current []int, pool []int) [][]int {
	in := make(map[int]struct{}, len(current))
	for _, idx := range current {
		in[idx] = struct{}{}
	}
	var out [][]int
	for _, idx := range pool {
		if _, ok := in[idx]; ok {
			continue
		}
		next := make([]int, len(current), len(current)+1)
		copy(next, current)
		out = append(out, append(next, idx))
	}
	return out
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
