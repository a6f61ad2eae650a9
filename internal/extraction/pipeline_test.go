package extraction

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	store := NewCacheStoreFile(filepath.Join(t.TempDir(), "cache.json"))
	cache := NewParseCache(store, true, 30)
	llm := NewLlmClient("unused-in-spreadsheet-tests", "gemini-1.5-flash")
	return NewPipeline(cache, llm, nil, NewRuleEngine(), PipelineConfig{
		LLMPriceInputM:   0.075,
		LLMPriceOutputM:  0.30,
		FxUSDToKRW:       1380.0,
		BatchConcurrency: 10,
		ChunkTargetChars: 2000,
	})
}

const sampleCSV = "Date,Description,Amount,Balance\n" +
	"2024-01-01,Salary,2500000,2500000\n" +
	"2024-01-05,Coffee,-4500,2495500\n"

// S2: an immediate second extract of the same bytes is a cache hit with
// identical records and zero additional cost.
func TestPipeline_CacheHitOnRerun(t *testing.T) {
	p := testPipeline(t)
	ctx := context.Background()

	first, err := p.Extract(ctx, []byte(sampleCSV), "statement.csv", DefaultOptions())
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Len(t, first.Records, 2)

	second, err := p.Extract(ctx, []byte(sampleCSV), "statement.csv", DefaultOptions())
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, Cost{}, second.Cost)
}

// S3: forceRefresh bypasses the cache read and deletes-then-rewrites on
// success — the forced extract returns fresh (non-cached) records, and a
// third, non-forced extract is served from the rewritten cache entry.
func TestPipeline_ForceRefreshBypassesCache(t *testing.T) {
	p := testPipeline(t)
	ctx := context.Background()

	_, err := p.Extract(ctx, []byte(sampleCSV), "statement.csv", DefaultOptions())
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.ForceRefresh = true
	refreshed, err := p.Extract(ctx, []byte(sampleCSV), "statement.csv", opts)
	require.NoError(t, err)
	assert.False(t, refreshed.FromCache)

	again, err := p.Extract(ctx, []byte(sampleCSV), "statement.csv", DefaultOptions())
	require.NoError(t, err)
	assert.True(t, again.FromCache)
}

// A caller-built Options{ForceRefresh: true} literal (RasterScale left at
// its zero value, as any struct literal not routed through
// DefaultOptions() will have it) must still honor ForceRefresh — only the
// zero-valued RasterScale field gets defaulted, never the whole struct.
func TestPipeline_ForceRefreshSurvivesZeroValueOptionsLiteral(t *testing.T) {
	p := testPipeline(t)
	ctx := context.Background()

	_, err := p.Extract(ctx, []byte(sampleCSV), "statement.csv", Options{})
	require.NoError(t, err)

	second, err := p.Extract(ctx, []byte(sampleCSV), "statement.csv", Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.False(t, second.FromCache)
}

// Determinism: repeated extraction of identical bytes (cache disabled)
// yields identical records, order, columns and values.
func TestPipeline_DeterminismUnderIdenticalInput(t *testing.T) {
	store := NewCacheStoreFile(filepath.Join(t.TempDir(), "cache.json"))
	cache := NewParseCache(store, false, 30)
	p := NewPipeline(cache, NewLlmClient("k", "m"), nil, NewRuleEngine(), PipelineConfig{BatchConcurrency: 10, ChunkTargetChars: 2000})
	ctx := context.Background()

	r1, err := p.Extract(ctx, []byte(sampleCSV), "s.csv", DefaultOptions())
	require.NoError(t, err)
	r2, err := p.Extract(ctx, []byte(sampleCSV), "s.csv", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, r1.Records, r2.Records)
	assert.Equal(t, r1.Schema, r2.Schema)
}

// Fingerprint stability, exercised through the pipeline's own cache key.
func TestPipeline_FingerprintIndependentOfFilename(t *testing.T) {
	assert.Equal(t, Fingerprint([]byte(sampleCSV)), Fingerprint([]byte(sampleCSV)))

	p := testPipeline(t)
	ctx := context.Background()
	_, err := p.Extract(ctx, []byte(sampleCSV), "statement.csv", DefaultOptions())
	require.NoError(t, err)
	renamed, err := p.Extract(ctx, []byte(sampleCSV), "renamed.csv", DefaultOptions())
	require.NoError(t, err)
	assert.True(t, renamed.FromCache)
}

func TestPipeline_SpreadsheetHasZeroCost(t *testing.T) {
	p := testPipeline(t)
	result, err := p.Extract(context.Background(), []byte(sampleCSV), "statement.csv", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, Cost{}, result.Cost)
	assert.Equal(t, KindSpreadsheet, result.Kind)
}

func TestPipeline_EmptyBlobIsInputRejected(t *testing.T) {
	p := testPipeline(t)
	_, err := p.Extract(context.Background(), []byte{}, "x.csv", DefaultOptions())
	require.Error(t, err)
	var extractionErr *Error
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, ErrInputRejected, extractionErr.Code)
}

func TestPipeline_UnknownExtensionIsInputRejected(t *testing.T) {
	p := testPipeline(t)
	_, err := p.Extract(context.Background(), []byte("whatever"), "notes.xyz", DefaultOptions())
	require.Error(t, err)
}

// Dedup idempotence: running dedup twice is a no-op.
func TestDedupRecords_Idempotent(t *testing.T) {
	r1 := NewRecord()
	r1.Set("date", "2024-01-01")
	r1.Set("amount", 100.0)
	r2 := r1.Clone()
	r3 := NewRecord()
	r3.Set("date", "2024-01-02")
	r3.Set("amount", 200.0)

	once := dedupRecords([]Record{r1, r2, r3})
	twice := dedupRecords(once)
	assert.Equal(t, once, twice)
	assert.Len(t, once, 2)
}

func TestDedupRecords_PreservesFirstOccurrenceOrder(t *testing.T) {
	a := NewRecord()
	a.Set("x", "1")
	b := NewRecord()
	b.Set("x", "2")
	c := a.Clone()

	out := dedupRecords([]Record{a, b, c})
	require.Len(t, out, 2)
	v, _ := out[0].Get("x")
	assert.Equal(t, "1", v)
}

// §4.10.7: a RuleEngine hit on the first chunk short-circuits the LLM call
// entirely and contributes zero cost.
func TestParseFirstChunk_RuleEngineShortCircuitsLLM(t *testing.T) {
	p := testPipeline(t)
	schema := NewSchemaBroker()
	cost := NewCostTracker(0.075, 0.30, 1380.0)

	text := "거래일시 적요 출금액 입금액 거래후잔액\n2024-01-01 급여입금 0 2500000 2500000"
	chunk := Chunk{Index: 0, Text: text}

	records, err := p.parseFirstChunk(context.Background(), chunk, DefaultOptions(), schema, cost)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, Cost{}, cost.Total())
	assert.Contains(t, schema.Columns(), "거래일시")
}

// §4.10.4: retry once on empty salvage when the text has no '[' at all; no
// retry once a bracket is present (even if salvage still yields nothing).
func TestWithSalvageRetryObjs_RetriesOnlyWithoutLeadingBracket(t *testing.T) {
	calls := 0
	cost := NewCostTracker(0.075, 0.30, 1380.0)
	fn := func(ctx context.Context) (Completion, error) {
		calls++
		if calls == 1 {
			return Completion{Text: "not json at all", PromptTokens: 10, CompletionTokens: 5}, nil
		}
		return Completion{Text: `[{"date":"2024-01-01","amount":"100"}]`, PromptTokens: 10, CompletionTokens: 5}, nil
	}

	objs, err := withSalvageRetryObjs(context.Background(), fn, cost)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, objs, 1)
	assert.Equal(t, uint64(20), cost.Total().PromptTokens)
}

func TestWithSalvageRetryObjs_NoRetryWhenBracketPresentButEmpty(t *testing.T) {
	calls := 0
	cost := NewCostTracker(0.075, 0.30, 1380.0)
	fn := func(ctx context.Context) (Completion, error) {
		calls++
		return Completion{Text: "[", PromptTokens: 10, CompletionTokens: 5}, nil
	}

	objs, err := withSalvageRetryObjs(context.Background(), fn, cost)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, objs)
}

// §4.10.3: bounded batches run BatchConcurrency at a time and await each
// batch before the next begins.
func TestRunBounded_RespectsBatchBoundaries(t *testing.T) {
	p := testPipeline(t)
	p.cfg.BatchConcurrency = 2

	var mu sync.Mutex
	var order []int
	err := p.runBounded(context.Background(), 5, func(ctx context.Context, i int) error {
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, order, 5)
	assert.ElementsMatch(t, []int{0, 1}, order[:2])
	assert.ElementsMatch(t, []int{2, 3}, order[2:4])
	assert.Equal(t, 4, order[4])
}

func TestRunBounded_HonorsCancellationAtBatchBoundary(t *testing.T) {
	p := testPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.runBounded(ctx, 3, func(ctx context.Context, i int) error {
		t.Fatal("work should not run after cancellation")
		return nil
	})
	require.Error(t, err)
	var extractionErr *Error
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, ErrCancelled, extractionErr.Code)
}
