package extraction

import "time"

// DocumentKind tags the triage outcome for a submitted blob.
type DocumentKind string

const (
	KindTextPDF     DocumentKind = "TEXT_PDF"
	KindImagePDF    DocumentKind = "IMAGE_PDF"
	KindImage       DocumentKind = "IMAGE"
	KindSpreadsheet DocumentKind = "SPREADSHEET"
	KindUnknown     DocumentKind = "UNKNOWN"
)

// Page is one rasterized or analyzed PDF page. Transient.
type Page struct {
	Index int
	PNG    []byte
}

// TextRegion is extracted text attributed to one page, chunk, or vision call.
type TextRegion struct {
	Text string
}

// Chunk is a bounded slice of a TextRegion carrying its ordinal position.
type Chunk struct {
	Index int
	Text  string
}

// Record is an ordered name-to-value mapping. Column order matches the
// order columns were first seen on this Record; Value entries are either
// string or float64 after SchemaBroker.normalize coerces numeric-looking
// strings.
type Record struct {
	Columns []string
	Values  map[string]any
}

// NewRecord returns an empty, ready-to-populate Record.
func NewRecord() Record {
	return Record{Values: make(map[string]any)}
}

// Set appends name to Columns (if not already present) and stores value.
func (r *Record) Set(name string, value any) {
	if _, ok := r.Values[name]; !ok {
		r.Columns = append(r.Columns, name)
	}
	r.Values[name] = value
}

// Get returns the value stored under name, if any.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// Clone returns a deep-enough copy safe for independent mutation.
func (r Record) Clone() Record {
	cols := make([]string, len(r.Columns))
	copy(cols, r.Columns)
	vals := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		vals[k] = v
	}
	return Record{Columns: cols, Values: vals}
}

// Cost is a per-extraction token/currency accumulator snapshot.
type Cost struct {
	PromptTokens     uint64
	CompletionTokens uint64
	USD              float64
	KRW              float64
}

// ParseResult is the Pipeline's terminal output for one extraction.
type ParseResult struct {
	Records   []Record
	Schema    []string
	Cost      Cost
	FromCache bool
	Kind      DocumentKind
}

// CacheEntry is one ParseCache row, keyed by Fingerprint.
type CacheEntry struct {
	Fingerprint string
	FileName    string
	FileSize    int64
	Records     []Record
	Schema      []string
	Cost        Cost
	HitCount    int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Options configures one Pipeline.Extract call (§6.1).
type Options struct {
	ForceRefresh       bool
	LanguageHints      []string
	RasterScale        float64
	MaxPages           int
	LLMMaxOutputTokens int
}

// DefaultOptions returns the spec's documented defaults.
func DefaultOptions() Options {
	return Options{
		RasterScale: 1.5,
		MaxPages:    50,
	}
}
