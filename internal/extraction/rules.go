package extraction

import (
	"regexp"
	"strings"
)

// ColumnTag is the semantic role RuleEngine assigns to a declared column.
type ColumnTag string

const (
	TagDate      ColumnTag = "date"
	TagAmountIn  ColumnTag = "amount-in"
	TagAmountOut ColumnTag = "amount-out"
	TagBalance   ColumnTag = "balance"
	TagText      ColumnTag = "text"
)

// Structure is the layout RuleEngine.Parse expects for one matched
// document: consecutive lines per transaction, or columns separated by
// runs of whitespace on a single line.
type Structure string

const (
	StructureLineSeparated  Structure = "line-separated"
	StructureSpaceSeparated Structure = "space-separated"
)

// RuleColumn is one declared column and its semantic tag.
type RuleColumn struct {
	Name string
	Tag  ColumnTag
}

// IssuerRule is one registered deterministic parser (C13).
type IssuerRule struct {
	Issuer            string
	Aliases           []string
	Columns           []RuleColumn
	Structure         Structure
	SignatureKeywords []string
	DateFormat        *regexp.Regexp
	HeaderKeywords    []string
}

// headerScoreThreshold is the minimum header-keyword match count (§4.13
// layer 4) required for a detection hit.
const headerScoreThreshold = 4

// detectionSampleChars bounds how much of the document's head is searched
// for signature keywords and issuer aliases.
const detectionSampleChars = 2000

// RuleEngine implements RuleEngine (C13): an optional registry of
// deterministic per-issuer parsers that can short-circuit the LLM text
// path when a document matches a known, stable layout.
type RuleEngine struct {
	rules []IssuerRule
}

// NewRuleEngine returns an engine seeded with a small built-in registry of
// archetypal issuer layouts.
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{rules: builtinRules()}
}

// Detect implements detect(text) -> rule | none, via layered detection:
// (1) rare signature keywords, (2) structural date-format regex density,
// (3) issuer names in the document head, (4) header-keyword score.
func (e *RuleEngine) Detect(text string) (*IssuerRule, bool) {
	head := text
	if len(head) > detectionSampleChars {
		head = head[:detectionSampleChars]
	}

	for i := range e.rules {
		rule := &e.rules[i]
		if hasAnyKeyword(head, rule.SignatureKeywords) {
			return rule, true
		}
	}

	for i := range e.rules {
		rule := &e.rules[i]
		if rule.DateFormat != nil && len(rule.DateFormat.FindAllString(text, 5)) >= 5 {
			return rule, true
		}
	}

	for i := range e.rules {
		rule := &e.rules[i]
		if hasAnyKeyword(head, append([]string{rule.Issuer}, rule.Aliases...)) {
			return rule, true
		}
	}

	var best *IssuerRule
	bestScore := 0
	for i := range e.rules {
		rule := &e.rules[i]
		score := headerKeywordScore(text, rule.HeaderKeywords)
		if score > bestScore {
			bestScore = score
			best = rule
		}
	}
	if best != nil && bestScore >= headerScoreThreshold {
		return best, true
	}

	return nil, false
}

// Parse implements parse(text, rule) -> []Record: a deterministic line
// walker that finds transaction starts by date and harvests the following
// lines into the rule's declared columns.
func (e *RuleEngine) Parse(text string, rule *IssuerRule) []Record {
	switch rule.Structure {
	case StructureSpaceSeparated:
		return parseSpaceSeparated(text, rule)
	default:
		return parseLineSeparated(text, rule)
	}
}

func parseLineSeparated(text string, rule *IssuerRule) []Record {
	if rule.DateFormat == nil || len(rule.Columns) == 0 {
		return nil
	}
	lines := strings.Split(text, "\n")
	var records []Record
	var current *Record
	colIdx := 0

	flush := func() {
		if current != nil && len(current.Columns) > 0 {
			records = append(records, *current)
		}
		current = nil
		colIdx = 0
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if rule.DateFormat.MatchString(line) {
			flush()
			rec := NewRecord()
			current = &rec
			colIdx = 0
			if colIdx < len(rule.Columns) {
				current.Set(rule.Columns[colIdx].Name, line)
				colIdx++
			}
			continue
		}
		if current != nil && colIdx < len(rule.Columns) {
			current.Set(rule.Columns[colIdx].Name, line)
			colIdx++
		}
	}
	flush()

	return records
}

var spaceRunPattern = regexp.MustCompile(`\s{2,}`)

func parseSpaceSeparated(text string, rule *IssuerRule) []Record {
	if rule.DateFormat == nil || len(rule.Columns) == 0 {
		return nil
	}
	var records []Record
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || !rule.DateFormat.MatchString(line) {
			continue
		}
		fields := spaceRunPattern.Split(line, len(rule.Columns))
		rec := NewRecord()
		for i, field := range fields {
			if i >= len(rule.Columns) {
				break
			}
			rec.Set(rule.Columns[i].Name, strings.TrimSpace(field))
		}
		if len(rec.Columns) > 0 {
			records = append(records, rec)
		}
	}
	return records
}

func hasAnyKeyword(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func headerKeywordScore(text string, keywords []string) int {
	score := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			score++
		}
	}
	return score
}

// builtinRules seeds two archetypal layouts, grounded on the
// header-substring detection idiom: a generic Korean bank export with one
// field per line after a leading ISO date, and a generic US
// checking-account export with whitespace-aligned columns after a leading
// M/D/Y date.
func builtinRules() []IssuerRule {
	return []IssuerRule{
		{
			Issuer:            "generic-krw-bank",
			Aliases:           []string{"은행", "거래내역", "입출금"},
			SignatureKeywords: []string{"거래일시", "입금액", "출금액", "거래후잔액"},
			HeaderKeywords:    []string{"거래일시", "적요", "입금액", "출금액", "거래후잔액", "거래점"},
			Structure:         StructureLineSeparated,
			DateFormat:        regexp.MustCompile(`^\d{4}[./-]\d{1,2}[./-]\d{1,2}`),
			Columns: []RuleColumn{
				{Name: "거래일시", Tag: TagDate},
				{Name: "적요", Tag: TagText},
				{Name: "출금액", Tag: TagAmountOut},
				{Name: "입금액", Tag: TagAmountIn},
				{Name: "거래후잔액", Tag: TagBalance},
			},
		},
		{
			Issuer:            "generic-us-checking",
			Aliases:           []string{"checking account", "statement period"},
			SignatureKeywords: []string{"Beginning Balance", "Ending Balance", "Posting Date"},
			HeaderKeywords:    []string{"Posting Date", "Description", "Debit", "Credit", "Balance"},
			Structure:         StructureSpaceSeparated,
			DateFormat:        regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}`),
			Columns: []RuleColumn{
				{Name: "Posting Date", Tag: TagDate},
				{Name: "Description", Tag: TagText},
				{Name: "Debit", Tag: TagAmountOut},
				{Name: "Credit", Tag: TagAmountIn},
				{Name: "Balance", Tag: TagBalance},
			},
		},
	}
}
