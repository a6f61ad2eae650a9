package extraction

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// PipelineConfig bundles the collaborators and tunables Pipeline.Extract
// needs on every call, wired once at process startup.
type PipelineConfig struct {
	LLMModel           string
	LLMPriceInputM     float64
	LLMPriceOutputM    float64
	FxUSDToKRW         float64
	BatchConcurrency   int
	ChunkTargetChars   int
	LLMMaxOutputTokens int
}

// Pipeline is the C10 orchestrator: it wires Fingerprint, Triage,
// PageRasterizer, TextExtractor, OcrClient, LlmClient, ChunkSplitter,
// JsonSalvager, SchemaBroker, ParseCache, CostTracker, and RuleEngine
// into one Extract call per §4.10.
type Pipeline struct {
	cache      *ParseCache
	llm        *LlmClient
	ocr        *OcrClient
	rules      *RuleEngine
	cfg        PipelineConfig
}

// NewPipeline wires the collaborators. ocr may be nil — the design prefers
// the LLM-vision path for image documents and does not require OcrClient
// at runtime (§4.5).
func NewPipeline(cache *ParseCache, llm *LlmClient, ocr *OcrClient, rules *RuleEngine, cfg PipelineConfig) *Pipeline {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 10
	}
	if cfg.ChunkTargetChars <= 0 {
		cfg.ChunkTargetChars = 2000
	}
	return &Pipeline{cache: cache, llm: llm, ocr: ocr, rules: rules, cfg: cfg}
}

// Extract runs one document through triage, branch dispatch, dedup, and
// caching, per §4.10.1.
func (p *Pipeline) Extract(ctx context.Context, data []byte, filename string, opts Options) (ParseResult, error) {
	if len(data) == 0 {
		return ParseResult{}, newInputRejected("empty blob", nil)
	}
	if opts.RasterScale == 0 {
		opts.RasterScale = DefaultOptions().RasterScale
	}

	fp := Fingerprint(data)

	if !opts.ForceRefresh {
		if entry, ok := p.cache.Get(ctx, fp); ok {
			return ParseResult{
				Records:   entry.Records,
				Schema:    entry.Schema,
				Cost:      Cost{},
				FromCache: true,
			}, nil
		}
	} else {
		p.cache.Delete(ctx, fp)
	}

	triage, err := Classify(data, filename)
	if err != nil {
		return ParseResult{}, err
	}

	costTracker := NewCostTracker(p.cfg.LLMPriceInputM, p.cfg.LLMPriceOutputM, p.cfg.FxUSDToKRW)
	schema := NewSchemaBroker()

	var records []Record
	switch triage.Kind {
	case KindSpreadsheet:
		records, err = p.runSpreadsheet(data, schema)
	case KindTextPDF:
		records, err = p.runTextPDF(ctx, data, opts, schema, costTracker)
	case KindImagePDF:
		records, err = p.runImagePDF(ctx, data, opts, schema, costTracker)
	case KindImage:
		records, err = p.runImage(ctx, data, opts, schema, costTracker)
	default:
		return ParseResult{}, newInputRejected(fmt.Sprintf("unsupported document kind %q", triage.Kind), nil)
	}
	if err != nil {
		return ParseResult{}, err
	}

	records = dedupRecords(records)

	result := ParseResult{
		Records: records,
		Schema:  schema.Columns(),
		Cost:    costTracker.Total(),
		Kind:    triage.Kind,
	}

	entry := CacheEntry{
		Fingerprint: fp,
		FileName:    filepath.Base(filename),
		FileSize:    int64(len(data)),
		Records:     result.Records,
		Schema:      result.Schema,
		Cost:        result.Cost,
	}
	p.cache.Put(ctx, entry)

	return result, nil
}

func (p *Pipeline) runSpreadsheet(data []byte, schema *SchemaBroker) ([]Record, error) {
	records, _, err := ParseSpreadsheet(data)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, newExtractionEmpty("spreadsheet produced no records")
	}
	if err := schema.Declare(records[:1]); err != nil {
		return nil, err
	}
	return schema.Normalize(records), nil
}

// runTextPDF implements the text-PDF branch (§4.10.2): extract, merge
// wrapped lines, chunk at date boundaries, parse the first chunk serially
// (optionally short-circuited by RuleEngine per §4.10.7) to establish the
// schema, then parse the rest concurrently in bounded batches.
func (p *Pipeline) runTextPDF(ctx context.Context, data []byte, opts Options, schema *SchemaBroker, cost *CostTracker) ([]Record, error) {
	region, err := ExtractText(data)
	if err != nil {
		return nil, err
	}
	merged := mergeLines(region.Text)
	chunks := Split(merged, p.cfg.ChunkTargetChars)
	if len(chunks) == 0 {
		return nil, newExtractionEmpty("no chunks produced from text-PDF")
	}

	first, err := p.parseFirstChunk(ctx, chunks[0], opts, schema, cost)
	if err != nil {
		return nil, err
	}

	rest := chunks[1:]
	results := make([][]Record, len(rest))
	if err := p.runBounded(ctx, len(rest), func(ctx context.Context, i int) error {
		recs, err := p.parseChunkLLM(ctx, rest[i], opts, schema, cost)
		if err != nil {
			// Per-unit failure after retry is non-fatal; it just contributes
			// nothing. A TransportFailure on a non-first unit is also
			// non-fatal per §4.10.4 ("propagate, aborting the document"
			// applies only when it prevents the schema-establishing unit).
			log.Printf("chunk %d parse failed, contributing zero records: %v", rest[i].Index, err)
			return nil
		}
		results[i] = recs
		return nil
	}); err != nil {
		return nil, err
	}

	all := append([]Record{}, first...)
	for _, recs := range results {
		all = append(all, recs...)
	}
	return all, nil
}

// parseFirstChunk establishes the Schema. A TransportFailure here is fatal
// for the document (§4.10.4).
func (p *Pipeline) parseFirstChunk(ctx context.Context, chunk Chunk, opts Options, schema *SchemaBroker, cost *CostTracker) ([]Record, error) {
	if p.rules != nil {
		if rule, ok := p.rules.Detect(chunk.Text); ok {
			recs := p.rules.Parse(chunk.Text, rule)
			if len(recs) > 0 {
				if err := schema.Declare(recs[:1]); err != nil {
					return nil, err
				}
				return schema.Normalize(recs), nil
			}
		}
	}

	prompt := buildTextPrompt(chunk.Text, nil)
	recs, err := p.completeRecords(ctx, prompt, opts, cost)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, newExtractionEmpty("first chunk produced no records")
	}
	if err := schema.Declare(recs[:1]); err != nil {
		return nil, err
	}
	return schema.Normalize(recs), nil
}

func (p *Pipeline) parseChunkLLM(ctx context.Context, chunk Chunk, opts Options, schema *SchemaBroker, cost *CostTracker) ([]Record, error) {
	prompt := buildTextPrompt(chunk.Text, schema.Columns())
	records, err := p.completeWithRetry(ctx, prompt, opts, cost)
	if err != nil {
		return nil, err
	}
	return schema.Normalize(records), nil
}

// runImagePDF implements the image-PDF branch (§4.10.2): rasterize
// sequentially, parse page 0 to establish schema, then parse the rest in
// bounded-parallel batches of BatchConcurrency.
func (p *Pipeline) runImagePDF(ctx context.Context, data []byte, opts Options, schema *SchemaBroker, cost *CostTracker) ([]Record, error) {
	pages, err := Rasterize(ctx, data, opts.RasterScale, opts.MaxPages)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, newExtractionEmpty("no pages rasterized")
	}

	first, err := p.parseVisionEstablishing(ctx, pages[0], opts, schema, cost)
	if err != nil {
		return nil, err
	}

	rest := pages[1:]
	results := make([][]Record, len(rest))
	if err := p.runBounded(ctx, len(rest), func(ctx context.Context, i int) error {
		recs, err := p.parsePageLLM(ctx, rest[i], opts, schema, cost)
		if err != nil {
			log.Printf("page %d parse failed, contributing zero records: %v", rest[i].Index, err)
			return nil
		}
		results[i] = recs
		return nil
	}); err != nil {
		return nil, err
	}

	all := append([]Record{}, first...)
	for _, recs := range results {
		all = append(all, recs...)
	}
	return all, nil
}

func (p *Pipeline) parseVisionEstablishing(ctx context.Context, page Page, opts Options, schema *SchemaBroker, cost *CostTracker) ([]Record, error) {
	prompt := buildVisionPrompt(nil)
	recs, err := p.completeVisionRecords(ctx, prompt, [][]byte{page.PNG}, opts, cost)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, newExtractionEmpty("first page produced no records")
	}
	if err := schema.Declare(recs[:1]); err != nil {
		return nil, err
	}
	return schema.Normalize(recs), nil
}

func (p *Pipeline) parsePageLLM(ctx context.Context, page Page, opts Options, schema *SchemaBroker, cost *CostTracker) ([]Record, error) {
	prompt := buildVisionPrompt(schema.Columns())
	records, err := p.completeVisionRecords(ctx, prompt, [][]byte{page.PNG}, opts, cost)
	if err != nil {
		return nil, err
	}
	return schema.Normalize(records), nil
}

// runImage implements the image branch: a single vision call whose first
// Record's column order becomes the Schema, never propagated further
// (§4.10.2).
func (p *Pipeline) runImage(ctx context.Context, data []byte, opts Options, schema *SchemaBroker, cost *CostTracker) ([]Record, error) {
	prompt := buildVisionPrompt(nil)
	records, err := p.completeVisionRecords(ctx, prompt, [][]byte{data}, opts, cost)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, newExtractionEmpty("image produced no records")
	}
	if err := schema.Declare(records[:1]); err != nil {
		return nil, err
	}
	return schema.Normalize(records), nil
}

// completeRecords returns raw (un-normalized) Records for a text prompt —
// used only by schema-establishing callers, which must Declare before any
// Normalize call runs (Normalize has the side effect of latching
// SchemaBroker.declared on first use).
func (p *Pipeline) completeRecords(ctx context.Context, prompt string, opts Options, cost *CostTracker) ([]Record, error) {
	objs, err := withSalvageRetryObjs(ctx, func(ctx context.Context) (Completion, error) {
		return p.llm.Complete(ctx, prompt, CompletionOptions{MaxOutputTokens: opts.LLMMaxOutputTokens})
	}, cost)
	if err != nil {
		return nil, err
	}
	return objsToRecords(objs), nil
}

// completeVisionRecords is completeRecords' vision-call counterpart.
func (p *Pipeline) completeVisionRecords(ctx context.Context, prompt string, images [][]byte, opts Options, cost *CostTracker) ([]Record, error) {
	objs, err := withSalvageRetryObjs(ctx, func(ctx context.Context) (Completion, error) {
		return p.llm.CompleteVision(ctx, prompt, images, CompletionOptions{MaxOutputTokens: opts.LLMMaxOutputTokens})
	}, cost)
	if err != nil {
		return nil, err
	}
	return objsToRecords(objs), nil
}

// completeWithRetry implements §4.10.4's retry-once-on-empty-without-bracket
// rule for text completions.
func (p *Pipeline) completeWithRetry(ctx context.Context, prompt string, opts Options, cost *CostTracker) ([]Record, error) {
	return withSalvageRetry(ctx, func(ctx context.Context) (Completion, error) {
		return p.llm.Complete(ctx, prompt, CompletionOptions{MaxOutputTokens: opts.LLMMaxOutputTokens})
	}, cost)
}

// withSalvageRetry runs fn, salvages a JSON array from the response, and
// retries once if the salvage came back empty and the raw text contained
// no '[' at all. It returns Records (not raw maps) since callers
// need schema.Normalize applied uniformly.
func withSalvageRetry(ctx context.Context, fn func(context.Context) (Completion, error), cost *CostTracker) ([]Record, error) {
	objs, err := withSalvageRetryObjs(ctx, fn, cost)
	if err != nil {
		return nil, err
	}
	return objsToRecords(objs), nil
}

func withSalvageRetryObjs(ctx context.Context, fn func(context.Context) (Completion, error), cost *CostTracker) ([]map[string]any, error) {
	completion, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	cost.Add(completion.PromptTokens, completion.CompletionTokens)

	objs := ParseArray(completion.Text)
	if len(objs) == 0 && !strings.Contains(completion.Text, "[") {
		retryCompletion, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		cost.Add(retryCompletion.PromptTokens, retryCompletion.CompletionTokens)
		objs = ParseArray(retryCompletion.Text)
	}
	return objs, nil
}

func objsToRecords(objs []map[string]any) []Record {
	records := make([]Record, 0, len(objs))
	for _, obj := range objs {
		rec := NewRecord()
		for k, v := range obj {
			rec.Set(strings.TrimSpace(k), v)
		}
		records = append(records, rec)
	}
	return records
}

// runBounded runs work(ctx, i) for i in [0, n) in batches of
// BatchConcurrency, awaiting each batch before starting the next (§4.10.3),
// honoring ctx cancellation at the next batch boundary (§4.10.4).
func (p *Pipeline) runBounded(ctx context.Context, n int, work func(ctx context.Context, i int) error) error {
	for start := 0; start < n; start += p.cfg.BatchConcurrency {
		if err := ctx.Err(); err != nil {
			return newCancelled()
		}
		end := min(start+p.cfg.BatchConcurrency, n)

		var wg sync.WaitGroup
		errs := make([]error, end-start)
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i-start] = work(ctx, i)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// dedupRecords implements §4.10.5: canonical key is sorted column names
// joined with their values, first occurrence wins.
func dedupRecords(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		key := dedupKey(rec)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func dedupKey(rec Record) string {
	cols := append([]string{}, rec.Columns...)
	sort.Strings(cols)
	pairs := make([]string, len(cols))
	for i, col := range cols {
		pairs[i] = fmt.Sprintf("%s:%v", col, rec.Values[col])
	}
	return strings.Join(pairs, "|")
}

func buildTextPrompt(text string, knownColumns []string) string {
	var b strings.Builder
	b.WriteString("Return ONLY a JSON array. Each object is one transaction row. ")
	b.WriteString("Use header names verbatim. Strip thousands separators and currency glyphs from numeric fields. ")
	b.WriteString("Omit rows that are totals, pagination, or header repetitions.\n")
	if len(knownColumns) > 0 {
		b.WriteString("Expected columns: ")
		b.WriteString(strings.Join(knownColumns, ", "))
		b.WriteString("\n")
	}
	b.WriteString("Statement text:\n")
	b.WriteString(text)
	return b.String()
}

func buildVisionPrompt(knownColumns []string) string {
	var b strings.Builder
	b.WriteString("Return ONLY a JSON array. Each object is one transaction row from the pictured bank statement page. ")
	b.WriteString("Use header names verbatim. Strip thousands separators and currency glyphs from numeric fields. ")
	b.WriteString("Omit rows that are totals, pagination, or header repetitions.\n")
	if len(knownColumns) > 0 {
		b.WriteString("Expected columns: ")
		b.WriteString(strings.Join(knownColumns, ", "))
		b.WriteString("\n")
	}
	return b.String()
}
