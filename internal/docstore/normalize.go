package docstore

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/dhruv2003/Scrapper/internal/scrape"
)

const unknownPlaceholder = "Unknown"

var yearPattern = regexp.MustCompile(`(19|20)\d{2}`)

// scalarOrFirst reduces a scalar-or-collection metadata value to a
// single non-empty string, defaulting to "Unknown".
func scalarOrFirst(value interface{}) string {
	switch v := value.(type) {
	case nil:
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case []interface{}:
		for _, item := range v {
			if s := scalarOrFirst(item); s != unknownPlaceholder {
				return s
			}
		}
	case []string:
		for _, item := range v {
			if s := strings.TrimSpace(item); s != "" {
				return s
			}
		}
	default:
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return unknownPlaceholder
}

// cleanValue converts a scraped cell into a value MongoDB can store.
// Missing and non-finite numerics become an empty string; nested
// collections are kept if they re-encode cleanly and stringified
// otherwise.
func cleanValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ""
		}
		return v
	case float32:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ""
		}
		return f
	case string, bool, int, int32, int64:
		return v
	case map[string]interface{}, []interface{}:
		if _, err := json.Marshal(v); err != nil {
			return fmt.Sprint(v)
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

// tableToRecords converts a section table into a list of records,
// cleaning every cell and stripping the redundant entity-identity
// columns.
func tableToRecords(t *scrape.Table) []map[string]interface{} {
	records := make([]map[string]interface{}, 0, t.Len())
	for _, row := range t.Rows {
		record := make(map[string]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			switch col {
			case scrape.ColumnEntityType, scrape.ColumnEntityName, scrape.ColumnEmail:
				continue
			}
			var cell interface{}
			if i < len(row) {
				cell = row[i]
			}
			record[col] = cleanValue(cell)
		}
		records = append(records, record)
	}
	return records
}

// extractYear pulls the first 4-digit year out of a financial-year
// label like "FY 2023-24", falling back to the given default.
func extractYear(label, fallback string) string {
	if match := yearPattern.FindString(label); match != "" {
		return match
	}
	return fallback
}

// financialYearColumn finds the per-row financial-year label column, if
// the section carries one.
func financialYearColumn(t *scrape.Table) (int, bool) {
	for i, col := range t.Columns {
		name := strings.ToLower(strings.TrimSpace(col))
		if strings.Contains(name, "financial") && strings.Contains(name, "year") {
			return i, true
		}
		if name == "fy" || strings.HasPrefix(name, "fy ") || strings.HasPrefix(name, "fy_") {
			return i, true
		}
	}
	return -1, false
}

// estimateSize approximates the stored size of a record list: JSON
// length scaled by a fixed overhead factor, since BSON is not
// byte-identical to JSON.
func estimateSize(records []map[string]interface{}) int {
	data, err := json.Marshal(records)
	if err != nil {
		// Unencodable input will fail the direct write anyway; report
		// it as oversized so it takes the chunked path record by record.
		return math.MaxInt32
	}
	return int(float64(len(data)) * sizeOverhead)
}

// planChunks returns the chunk size and count for splitting total
// records, recomputing the size when the preferred size would exceed
// the chunk-count ceiling.
func planChunks(total, preferred int) (size, count int) {
	if preferred <= 0 {
		preferred = defaultChunkSize
	}
	size = preferred
	count = (total + size - 1) / size
	if count > maxChunks {
		size = (total + maxChunks - 1) / maxChunks
		count = (total + size - 1) / size
	}
	return size, count
}

// splitRecords slices records into chunks of at most size each,
// preserving order.
func splitRecords(records []map[string]interface{}, size int) [][]map[string]interface{} {
	var chunks [][]map[string]interface{}
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}
