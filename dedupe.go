package main

// dedupePairs returns the Cartesian product of the two keyword lists with
// combinations already present in existing removed, truncated to the first
// max pairs. keywords1 drives the outer loop so the product order is
// deterministic across runs; pairs cut by max stay eligible for future runs.
func dedupePairs(keywords1, keywords2 []string, existing map[Pair]bool, max int) []Pair {
	if max < 0 {
		max = 0
	}

	pairs := make([]Pair, 0, max)
	for _, k1 := range keywords1 {
		for _, k2 := range keywords2 {
			if len(pairs) == max {
				return pairs
			}
			p := Pair{Keyword1: k1, Keyword2: k2}
			if existing[p] {
				continue
			}
			pairs = append(pairs, p)
		}
	}
	return pairs
}
