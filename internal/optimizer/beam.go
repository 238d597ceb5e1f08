package optimizer

import "sort"

// beam keeps the BeamWidth best viable slips at each size and extends all of them by one leg
func (s *search) beam() {
	pool := s.viableLegs()
	width := s.o.config.BeamWidth

	frontier := make([][]int, 0, len(pool))
	for _, idx := range pool {
		frontier = append(frontier, []int{idx})
	}

	for depth := 2; depth <= s.p.Profile.MaxLegs && len(frontier) > 0; depth++ {
		if s.exhausted() {
			return
		}

		seen := make(map[string]struct{})
		var sets [][]int
		for _, current := range frontier {
			for _, next := range extend(current, pool) {
				next = canonical(next)
				key := s.key(next)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				sets = append(sets, next)
			}
		}

		var viable []*entry
		for _, e := range s.evaluateAll(sets) {
			if e != nil && e.viable {
				viable = append(viable, e)
			}
		}
		sort.SliceStable(viable, func(i, j int) bool { return betterEntry(viable[i], viable[j]) })
		if len(viable) > width {
			viable = viable[:width]
		}

		frontier = frontier[:0]
		for _, e := range viable {
			frontier = append(frontier, e.indices)
		}

		s.progress("beam", depth)
	}
}
