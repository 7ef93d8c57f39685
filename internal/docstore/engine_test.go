package docstore

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruv2003/Scrapper/internal/scrape"
)

func TestScalarOrFirst(t *testing.T) {
	assert.Equal(t, "ACME", scalarOrFirst("ACME"))
	assert.Equal(t, "ACME", scalarOrFirst("  ACME  "))
	assert.Equal(t, "Unknown", scalarOrFirst(""))
	assert.Equal(t, "Unknown", scalarOrFirst(nil))
	assert.Equal(t, "ACME", scalarOrFirst([]interface{}{"", "ACME", "Other"}))
	assert.Equal(t, "ACME", scalarOrFirst([]string{"ACME"}))
	assert.Equal(t, "Unknown", scalarOrFirst([]interface{}{}))
}

func TestCleanValue(t *testing.T) {
	assert.Equal(t, "", cleanValue(nil))
	assert.Equal(t, "", cleanValue(math.NaN()))
	assert.Equal(t, "", cleanValue(math.Inf(1)))
	assert.Equal(t, "", cleanValue(math.Inf(-1)))
	assert.Equal(t, 10.5, cleanValue(10.5))
	assert.Equal(t, "hello", cleanValue("hello"))
	assert.Equal(t, true, cleanValue(true))
	assert.Equal(t, 42, cleanValue(42))

	// Encodable nested values survive as-is.
	nested := map[string]interface{}{"a": 1.0}
	assert.Equal(t, nested, cleanValue(nested))

	// Unencodable nested values are stringified.
	bad := map[string]interface{}{"f": math.NaN()}
	_, isString := cleanValue(bad).(string)
	assert.True(t, isString)
}

func TestTableToRecords_StripsMetadataColumns(t *testing.T) {
	table := scrape.NewTable("Amount", "Date")
	table.AppendRow(10.0, "2024-01-01")
	table.AppendRow(20.0, "2024-02-01")
	table.Stamp("Producer", "ACME", "a@x.com")

	records := tableToRecords(table)
	require.Len(t, records, 2)
	assert.Equal(t, map[string]interface{}{"Amount": 10.0, "Date": "2024-01-01"}, records[0])
	assert.Equal(t, map[string]interface{}{"Amount": 20.0, "Date": "2024-02-01"}, records[1])
}

func TestTableToRecords_NaNBecomesEmptyString(t *testing.T) {
	table := scrape.NewTable("Amount")
	table.AppendRow(math.NaN())

	records := tableToRecords(table)
	require.Len(t, records, 1)
	assert.Equal(t, "", records[0]["Amount"])

	// The result must serialize cleanly for the size estimate.
	_, err := json.Marshal(records)
	require.NoError(t, err)
}

func TestExtractYear(t *testing.T) {
	tests := []struct {
		label    string
		expected string
	}{
		{"FY 2023-24", "2023"},
		{"2021-22", "2021"},
		{"Financial Year 1999", "1999"},
		{"no year here", "2024"},
		{"", "2024"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, extractYear(tt.label, "2024"), "label %q", tt.label)
	}
}

func TestFinancialYearColumn(t *testing.T) {
	table := scrape.NewTable("Amount", "Financial Year")
	idx, ok := financialYearColumn(table)
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	table = scrape.NewTable("FY", "Amount")
	idx, ok = financialYearColumn(table)
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	table = scrape.NewTable("Amount", "Yearly Total")
	_, ok = financialYearColumn(table)
	assert.False(t, ok)
}

func TestPartitionByYear(t *testing.T) {
	table := scrape.NewTable("Financial Year", "Target")
	table.AppendRow("FY 2022-23", 100.0)
	table.AppendRow("FY 2023-24", 200.0)
	table.AppendRow("FY 2022-23", 150.0)
	table.AppendRow("garbage", 1.0)

	parts := partitionByYear(table, "2024")
	require.Len(t, parts, 3)
	assert.Len(t, parts["2022"], 2)
	assert.Len(t, parts["2023"], 1)
	// Unparseable labels land on the default year.
	assert.Len(t, parts["2024"], 1)
}

func TestPartitionByYear_NoLabelColumn(t *testing.T) {
	table := scrape.NewTable("Amount")
	table.AppendRow(10.0)
	table.AppendRow(20.0)

	parts := partitionByYear(table, "2024")
	require.Len(t, parts, 1)
	assert.Len(t, parts["2024"], 2)
}

func TestEstimateSize_AppliesOverhead(t *testing.T) {
	records := []map[string]interface{}{{"Amount": 10.0}, {"Amount": 20.0}}
	raw, err := json.Marshal(records)
	require.NoError(t, err)

	est := estimateSize(records)
	assert.Greater(t, est, len(raw))
	assert.Equal(t, int(float64(len(raw))*sizeOverhead), est)
}

func TestPlanChunks(t *testing.T) {
	tests := []struct {
		total, preferred, wantSize, wantCount int
	}{
		{1500, 1000, 1000, 2},
		{1000, 1000, 1000, 1},
		{1, 1000, 1000, 1},
		{100000, 1000, 2000, 50},
		{50001, 1000, 1001, 50},
	}
	for _, tt := range tests {
		size, count := planChunks(tt.total, tt.preferred)
		assert.Equal(t, tt.wantSize, size, "total=%d", tt.total)
		assert.Equal(t, tt.wantCount, count, "total=%d", tt.total)
	}
}

func TestSplitRecords_PreservesOrder(t *testing.T) {
	records := make([]map[string]interface{}, 1500)
	for i := range records {
		records[i] = map[string]interface{}{"i": i}
	}

	chunks := splitRecords(records, 1000)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 500)
	assert.Equal(t, 0, chunks[0][0]["i"])
	assert.Equal(t, 999, chunks[0][999]["i"])
	assert.Equal(t, 1000, chunks[1][0]["i"])
	assert.Equal(t, 1499, chunks[1][499]["i"])
}

func TestChunkPlanProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("chunk count never exceeds the ceiling", prop.ForAll(
		func(total int) bool {
			_, count := planChunks(total, defaultChunkSize)
			return count >= 1 && count <= maxChunks
		},
		gen.IntRange(1, 500000),
	))

	properties.Property("chunks cover every record exactly once in order", prop.ForAll(
		func(total int) bool {
			records := make([]map[string]interface{}, total)
			for i := range records {
				records[i] = map[string]interface{}{"i": i}
			}
			size, count := planChunks(total, defaultChunkSize)
			chunks := splitRecords(records, size)
			if len(chunks) != count {
				return false
			}
			next := 0
			for _, chunk := range chunks {
				if len(chunk) > size {
					return false
				}
				for _, rec := range chunk {
					if rec["i"] != next {
						return false
					}
					next++
				}
			}
			return next == total
		},
		gen.IntRange(1, 20000),
	))

	properties.TestingRun(t)
}
