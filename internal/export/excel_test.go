package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleView() map[string]interface{} {
	return map[string]interface{}{
		"email":        "a@x.com",
		"company_name": "ACME",
		"scrap_data": map[string]interface{}{
			"2024": map[string]interface{}{
				"procurement": []interface{}{
					map[string]interface{}{"Amount": 10.0, "Date": "2024-01-01"},
					map[string]interface{}{"Amount": 20.0, "Date": "2024-02-01", "Note": "late"},
				},
				"wallet": []interface{}{},
			},
		},
	}
}

func TestExcelExporter_Workbook(t *testing.T) {
	data, err := NewExcelExporter().Workbook(sampleView())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	require.Contains(t, sheets, "2024 procurement")
	// Empty sections get no sheet.
	assert.NotContains(t, sheets, "2024 wallet")

	rows, err := f.GetRows("2024 procurement")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Header is the sorted union of record keys.
	assert.Equal(t, []string{"Amount", "Date", "Note"}, rows[0])
	assert.Equal(t, "10", rows[1][0])
	assert.Equal(t, "late", rows[2][2])
}

func TestExcelExporter_EmptyView(t *testing.T) {
	data, err := NewExcelExporter().Workbook(map[string]interface{}{"email": "a@x.com"})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	// Nothing to export still yields a readable workbook.
	assert.NotEmpty(t, f.GetSheetList())
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "2024 procurement", sheetName("2024", "procurement"))
	assert.Equal(t, "2024 a-b", sheetName("2024", "a/b"))
	long := sheetName("2024", "a_very_long_section_name_indeed_truncated")
	assert.LessOrEqual(t, len(long), 31)
}
