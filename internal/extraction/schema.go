package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// currencyGlyphs are stripped before numeric coercion is attempted.
var currencyGlyphs = strings.NewReplacer("$", "", "₩", "", "€", "", "£", "", "¥", "", ",", "")

// numericLike matches strings that are plausibly a formatted number once
// currency glyphs and thousand separators are stripped.
var numericLike = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// amountColumnKeywords and dateColumnKeywords classify column names for the
// Record invariant below: every surviving Record needs a non-zero amount
// or a non-empty date, otherwise it is noise (page headers, running
// totals, blank trailer rows) rather than a transaction.
var amountColumnKeywords = []string{
	"amount", "deposit", "withdrawal", "balance", "debit", "credit",
	"입금", "출금", "잔액", "금액",
}

var dateColumnKeywords = []string{
	"date", "거래일", "일자",
}

func columnNameMatches(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// hasRequiredSignal implements Record invariant (i): at least one
// amount-like column must carry a non-zero numeric value, or a date-like
// column must carry a non-empty value.
func hasRequiredSignal(r Record) bool {
	for _, col := range r.Columns {
		value, _ := r.Get(col)
		switch {
		case columnNameMatches(col, amountColumnKeywords):
			if n, ok := value.(float64); ok && n != 0 {
				return true
			}
		case columnNameMatches(col, dateColumnKeywords):
			if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
				return true
			}
		}
	}
	return false
}

// SchemaBroker implements SchemaBroker (C9). It is single-writer on first
// declaration: Declare may be called exactly once per document: subsequent
// calls are a programming error (Internal), not a retryable condition.
type SchemaBroker struct {
	mu       sync.Mutex
	columns  []string
	declared bool
}

// NewSchemaBroker returns an empty, undeclared broker.
func NewSchemaBroker() *SchemaBroker {
	return &SchemaBroker{}
}

// Declare sets Schema to the column order of firstUnitRecords[0]. It is a
// no-op (not an error) if firstUnitRecords is empty, leaving the schema to
// be established by whichever unit first provides records.
func (b *SchemaBroker) Declare(firstUnitRecords []Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(firstUnitRecords) == 0 {
		return nil
	}
	if b.declared {
		return newInternal("schema already declared; redeclaration attempted")
	}
	b.columns = append([]string(nil), firstUnitRecords[0].Columns...)
	b.declared = true
	return nil
}

// Columns returns the current column order.
func (b *SchemaBroker) Columns() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.columns...)
}

// Normalize trims column-name whitespace, coerces numeric-looking string
// values to float64, and appends any column not yet seen in the broker's
// schema (in first-seen order), per unit. Records failing invariant (i) —
// no non-zero amount-like column and no non-empty date-like column — are
// dropped rather than returned.
func (b *SchemaBroker) Normalize(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		normalized := b.normalizeOne(r)
		if hasRequiredSignal(normalized) {
			out = append(out, normalized)
		}
	}
	return out
}

func (b *SchemaBroker) normalizeOne(r Record) Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	normalized := NewRecord()
	for _, col := range r.Columns {
		name := strings.TrimSpace(col)
		if name == "" {
			continue
		}
		value, _ := r.Get(col)
		normalized.Set(name, coerceValue(value))

		if !containsString(b.columns, name) {
			b.columns = append(b.columns, name)
		}
	}
	if !b.declared && len(normalized.Columns) > 0 {
		b.declared = true
	}
	return normalized
}

// coerceValue converts a numeric-looking string (digits with optional
// thousand separators, currency glyphs stripped) to a float64; any other
// value is returned unchanged.
func coerceValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	stripped := strings.TrimSpace(currencyGlyphs.Replace(s))
	if stripped == "" || !numericLike.MatchString(stripped) {
		return v
	}
	n, err := strconv.ParseFloat(stripped, 64)
	if err != nil {
		return v
	}
	return n
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
