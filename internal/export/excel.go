// Package export renders entity document views as xlsx workbooks, one
// sheet per scraped year/section.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// sheet names are capped at 31 characters by the xlsx format.
const maxSheetName = 31

// ExcelExporter builds workbooks from document views.
type ExcelExporter struct{}

// NewExcelExporter creates an exporter.
func NewExcelExporter() *ExcelExporter {
	return &ExcelExporter{}
}

// Workbook renders one sheet per year/section found in the view's
// scrap_data, with a header row built from the union of record keys.
func (e *ExcelExporter) Workbook(view map[string]interface{}) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	scrapData, _ := view["scrap_data"].(map[string]interface{})

	years := make([]string, 0, len(scrapData))
	for year := range scrapData {
		years = append(years, year)
	}
	sort.Strings(years)

	wroteSheet := false
	for _, year := range years {
		sections, _ := scrapData[year].(map[string]interface{})

		names := make([]string, 0, len(sections))
		for name := range sections {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			records := toRecords(sections[name])
			if len(records) == 0 {
				continue
			}
			sheet := sheetName(year, name)
			if _, err := f.NewSheet(sheet); err != nil {
				return nil, fmt.Errorf("failed to create sheet %s: %w", sheet, err)
			}
			if err := writeSheet(f, sheet, records); err != nil {
				return nil, err
			}
			wroteSheet = true
		}
	}

	if wroteSheet {
		// Drop the default empty sheet.
		_ = f.DeleteSheet("Sheet1")
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, records []map[string]interface{}) error {
	columns := columnUnion(records)

	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("failed to address header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return fmt.Errorf("failed to write header %s: %w", col, err)
		}
	}

	for row, record := range records {
		for i, col := range columns {
			value, ok := record[col]
			if !ok {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(i+1, row+2)
			if err != nil {
				return fmt.Errorf("failed to address cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, cellValue(value)); err != nil {
				return fmt.Errorf("failed to write cell %s: %w", cell, err)
			}
		}
	}

	return nil
}

// columnUnion returns the sorted union of keys across all records.
func columnUnion(records []map[string]interface{}) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, record := range records {
		for key := range record {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}
	sort.Strings(columns)
	return columns
}

// toRecords normalizes the persisted array shapes into record maps.
func toRecords(value interface{}) []map[string]interface{} {
	items, ok := value.([]interface{})
	if !ok {
		return nil
	}
	records := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if record, ok := item.(map[string]interface{}); ok {
			records = append(records, record)
		}
	}
	return records
}

// cellValue flattens values excelize cannot store natively.
func cellValue(v interface{}) interface{} {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64, nil:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func sheetName(year, section string) string {
	name := fmt.Sprintf("%s %s", year, section)
	// Strip characters the xlsx format forbids in sheet names.
	replacer := strings.NewReplacer("/", "-", "\\", "-", "?", "", "*", "", "[", "(", "]", ")", ":", "-")
	name = replacer.Replace(name)
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}
