package extraction

import "sync"

// CostTracker implements CostTracker (C12): a per-request token and
// currency accumulator, safe for concurrent use across the bounded
// parallel batches described in §4.10.3.
type CostTracker struct {
	mu              sync.Mutex
	promptTokens    uint64
	completionTokens uint64
	priceInputM     float64 // USD per million prompt tokens
	priceOutputM    float64 // USD per million completion tokens
	fxUSDToKRW      float64
}

// NewCostTracker returns a zeroed tracker priced per the given config.
func NewCostTracker(priceInputM, priceOutputM, fxUSDToKRW float64) *CostTracker {
	return &CostTracker{
		priceInputM:  priceInputM,
		priceOutputM: priceOutputM,
		fxUSDToKRW:   fxUSDToKRW,
	}
}

// Reset zeroes the counters, used at the start of a new extraction.
func (c *CostTracker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promptTokens = 0
	c.completionTokens = 0
}

// Add accumulates token counts from one LLM/OCR call. Thread-safe.
func (c *CostTracker) Add(prompt, completion uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promptTokens += prompt
	c.completionTokens += completion
}

// Total computes the accumulated Cost snapshot.
func (c *CostTracker) Total() Cost {
	c.mu.Lock()
	defer c.mu.Unlock()

	usd := (float64(c.promptTokens)/1_000_000)*c.priceInputM + (float64(c.completionTokens)/1_000_000)*c.priceOutputM
	return Cost{
		PromptTokens:     c.promptTokens,
		CompletionTokens: c.completionTokens,
		USD:              usd,
		KRW:              usd * c.fxUSDToKRW,
	}
}
