package compress

// Estimator turns text into an approximate token count. It must be pure and
// deterministic.
type Estimator func(text string) int

// EstimateTokens uses the ~4 bytes per token heuristic. Good enough for
// comparing before/after totals, not billing-accurate.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return len(text) / 4
}

// TokenCounter caches estimates of original messages by message id. Original
// messages are immutable for the life of an editing session, so the cache
// never needs invalidation.
type TokenCounter struct {
	estimate Estimator
	display  DisplayTextFunc
	cache    map[string]int
}

// NewTokenCounter builds a counter. Nil arguments fall back to
// EstimateTokens and DisplayText.
func NewTokenCounter(estimate Estimator, display DisplayTextFunc) *TokenCounter {
	if estimate == nil {
		estimate = EstimateTokens
	}
	if display == nil {
		display = DisplayText
	}
	return &TokenCounter{
		estimate: estimate,
		display:  display,
		cache:    make(map[string]int),
	}
}

// Message returns the token count of an original message.
func (c *TokenCounter) Message(m Message) int {
	if m.ID == "" {
		return c.estimate(c.display(m))
	}
	if count, ok := c.cache[m.ID]; ok {
		return count
	}
	count := c.estimate(c.display(m))
	c.cache[m.ID] = count
	return count
}

// Uncached counts a message without touching the cache. Used for synthetic
// and modified messages whose content can change under the same id.
func (c *TokenCounter) Uncached(m Message) int {
	return c.estimate(c.display(m))
}

// Text counts a bare string.
func (c *TokenCounter) Text(text string) int {
	return c.estimate(text)
}

// Display renders a message with the counter's extractor.
func (c *TokenCounter) Display(m Message) string {
	return c.display(m)
}
