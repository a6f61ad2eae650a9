package extraction

import (
	"encoding/csv"
	"strings"
)

// headerKeywords are matched case-insensitively, substring, against each
// cell of a candidate header row. No third-party spreadsheet library
// appears anywhere in the retrieved corpus, so this branch is the one
// intentionally stdlib-only component — encoding/csv is the only parser
// available to ground it on.
var headerKeywords = []string{
	"date", "amount", "deposit", "withdrawal", "balance", "memo",
	"거래일", "적요", "입금", "출금", "잔액", "비고",
	"description", "debit", "credit",
}

const (
	headerScanRows    = 20
	headerMinMatches  = 2
)

// ParseSpreadsheet implements the Spreadsheet branch (§4.10.2): parse the
// first sheet as CSV, locate the header row by keyword score, and turn
// every row below it into a Record keyed by the header cells verbatim.
// There is no LLM involvement and the cost is always zero.
func ParseSpreadsheet(data []byte) ([]Record, []string, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, newInputRejected("malformed spreadsheet", err)
	}
	if len(rows) == 0 {
		return nil, nil, newExtractionEmpty("spreadsheet has no rows")
	}

	headerIdx, ok := findHeaderRow(rows)
	if !ok {
		return nil, nil, newExtractionEmpty("no header row found in spreadsheet")
	}

	header := make([]string, len(rows[headerIdx]))
	for i, cell := range rows[headerIdx] {
		header[i] = strings.TrimSpace(cell)
	}

	var records []Record
	for _, row := range rows[headerIdx+1:] {
		if isBlankRow(row) {
			continue
		}
		rec := NewRecord()
		for i, col := range header {
			if col == "" {
				continue
			}
			value := ""
			if i < len(row) {
				value = row[i]
			}
			rec.Set(col, value)
		}
		records = append(records, rec)
	}

	return records, header, nil
}

// findHeaderRow scans the first headerScanRows rows and returns the one
// with the highest keyword match score, requiring at least headerMinMatches.
func findHeaderRow(rows [][]string) (int, bool) {
	limit := min(headerScanRows, len(rows))
	bestIdx, bestScore := -1, 0

	for i := 0; i < limit; i++ {
		score := headerMatchScore(rows[i])
		if score > bestScore {
			bestScore, bestIdx = score, i
		}
	}

	if bestScore < headerMinMatches {
		return -1, false
	}
	return bestIdx, true
}

func headerMatchScore(row []string) int {
	score := 0
	for _, cell := range row {
		lower := strings.ToLower(strings.TrimSpace(cell))
		if lower == "" {
			continue
		}
		for _, kw := range headerKeywords {
			if strings.Contains(lower, kw) {
				score++
				break
			}
		}
	}
	return score
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
