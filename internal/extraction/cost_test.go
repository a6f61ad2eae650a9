package extraction

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostTracker_TotalComputesUSDAndKRW(t *testing.T) {
	c := NewCostTracker(1.0, 2.0, 1000.0)
	c.Add(1_000_000, 500_000)
	total := c.Total()
	assert.Equal(t, uint64(1_000_000), total.PromptTokens)
	assert.Equal(t, uint64(500_000), total.CompletionTokens)
	assert.InDelta(t, 2.0, total.USD, 1e-9)
	assert.InDelta(t, 2000.0, total.KRW, 1e-6)
}

func TestCostTracker_ResetZeroesCounters(t *testing.T) {
	c := NewCostTracker(1.0, 1.0, 1.0)
	c.Add(100, 100)
	c.Reset()
	total := c.Total()
	assert.Zero(t, total.PromptTokens)
	assert.Zero(t, total.CompletionTokens)
}

func TestCostTracker_ConcurrentAddIsSafe(t *testing.T) {
	c := NewCostTracker(1.0, 1.0, 1.0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(10, 5)
		}()
	}
	wg.Wait()
	total := c.Total()
	assert.Equal(t, uint64(1000), total.PromptTokens)
	assert.Equal(t, uint64(500), total.CompletionTokens)
}

func TestCostTracker_MonotonicWithinExtraction(t *testing.T) {
	c := NewCostTracker(1.0, 1.0, 1.0)
	c.Add(10, 10)
	first := c.Total()
	c.Add(5, 5)
	second := c.Total()
	assert.GreaterOrEqual(t, second.PromptTokens, first.PromptTokens)
	assert.GreaterOrEqual(t, second.CompletionTokens, first.CompletionTokens)
}
