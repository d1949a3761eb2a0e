// Per-run budgets.
//
// Information Hiding:
// - Limit tables internal; callers consume through typed methods
// - Search budgets count distinct normalized queries, not calls

package agent

// Budget bounds one run's resource consumption. Counters are not
// thread-safe; a run consumes its budget from a single goroutine.
type Budget struct {
	MaxIterations       int
	MaxSubDelegations   int
	MaxWebSearches      int
	MaxSemanticSearches int

	iterations      int
	subDelegations  int
	webQueries      map[string]bool
	semanticQueries map[string]bool
}

// BudgetFor derives the budget a classification earns. Workflows get room
// to drive multi-step restructuring; ad-hoc tasks stay tight; analysis-only
// tasks cannot delegate at all.
func BudgetFor(c Classification) Budget {
	b := Budget{
		MaxIterations:       5,
		MaxSubDelegations:   2,
		MaxWebSearches:      4,
		MaxSemanticSearches: 3,
		webQueries:          map[string]bool{},
		semanticQueries:     map[string]bool{},
	}
	if c.IsWorkflow {
		b.MaxIterations = 20
		b.MaxSubDelegations = 12
		b.MaxWebSearches = 6
		b.MaxSemanticSearches = 5
	}
	if c.AnalysisOnly {
		b.MaxSubDelegations = 0
	}
	return b
}

// NextIteration consumes one loop iteration. Returns false when spent.
func (b *Budget) NextIteration() bool {
	if b.iterations >= b.MaxIterations {
		return false
	}
	b.iterations++
	return true
}

// Iterations returns how many iterations have run.
func (b *Budget) Iterations() int {
	return b.iterations
}

// ConsumeSubDelegation consumes one sub-delegation. Returns false when the
// allowance is spent.
func (b *Budget) ConsumeSubDelegation() bool {
	if b.subDelegations >= b.MaxSubDelegations {
		return false
	}
	b.subDelegations++
	return true
}

// SubDelegations returns how many sub-delegations have been spent.
func (b *Budget) SubDelegations() int {
	return b.subDelegations
}

// ConsumeWebSearch admits a web search for the given normalized query. A
// query already seen is free; a new query past the distinct-query cap is
// refused.
func (b *Budget) ConsumeWebSearch(query string) bool {
	if b.webQueries == nil {
		b.webQueries = map[string]bool{}
	}
	return consumeQuery(b.webQueries, query, b.MaxWebSearches)
}

// ConsumeSemanticSearch admits a semantic search for the given normalized
// query, with the same distinct-query semantics as ConsumeWebSearch.
func (b *Budget) ConsumeSemanticSearch(query string) bool {
	if b.semanticQueries == nil {
		b.semanticQueries = map[string]bool{}
	}
	return consumeQuery(b.semanticQueries, query, b.MaxSemanticSearches)
}

func consumeQuery(seen map[string]bool, query string, max int) bool {
	if seen[query] {
		return true
	}
	if len(seen) >= max {
		return false
	}
	seen[query] = true
	return true
}

// SubDelegationsExhausted reports whether the sub-delegation cap is reached.
// A zero cap never reports exhausted: such runs carry no delegate tool, so
// the cap is not a stop signal.
func (b *Budget) SubDelegationsExhausted() bool {
	return b.MaxSubDelegations > 0 && b.subDelegations >= b.MaxSubDelegations
}

// WebSearchesExhausted reports whether the distinct web query cap is reached.
func (b *Budget) WebSearchesExhausted() bool {
	return b.MaxWebSearches > 0 && len(b.webQueries) >= b.MaxWebSearches
}

// SemanticSearchesExhausted reports whether the distinct semantic query cap
// is reached.
func (b *Budget) SemanticSearchesExhausted() bool {
	return b.MaxSemanticSearches > 0 && len(b.semanticQueries) >= b.MaxSemanticSearches
}

// Exhausted reports whether any non-iteration cap has been reached.
func (b *Budget) Exhausted() bool {
	return b.SubDelegationsExhausted() || b.WebSearchesExhausted() || b.SemanticSearchesExhausted()
}
