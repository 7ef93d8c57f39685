// Package scrape defines the scraping collaborator boundary: the table
// shape produced by portal scrapers, the credential store used to
// backfill job parameters, and the pipeline that persists scrape
// results.
package scrape

import "fmt"

// Section names produced by the plastic-waste portal scraper.
const (
	SectionProcurement = "procurement"
	SectionSales       = "sales"
	SectionWallet      = "wallet"
	SectionTarget      = "target"
	SectionAnnual      = "annual"
	SectionCompliance  = "compliance"
	SectionNextTarget  = "next_target"
)

// Metadata columns stamped onto every scraped row. They are redundant
// with document-level metadata and stripped before document persistence.
const (
	ColumnEntityType = "Type_of_entity"
	ColumnEntityName = "Entity_Name"
	ColumnEmail      = "Email"
)

// Table is one named rectangular section of scraped rows. Columns are
// ordered; every row has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// NewTable creates an empty table with the given column order.
func NewTable(columns ...string) *Table {
	return &Table{Columns: columns}
}

// AppendRow adds a row, padding or truncating it to the column count so
// the table stays rectangular.
func (t *Table) AppendRow(cells ...interface{}) {
	row := make([]interface{}, len(t.Columns))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// IsEmpty reports whether the table has no rows.
func (t *Table) IsEmpty() bool {
	return t.Len() == 0
}

// ColumnIndex returns the index of a named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Value returns the cell at (row, column name), or nil if the column
// does not exist.
func (t *Table) Value(row int, column string) interface{} {
	idx := t.ColumnIndex(column)
	if idx < 0 || row < 0 || row >= len(t.Rows) {
		return nil
	}
	return t.Rows[row][idx]
}

// StringValue returns the cell at (row, column name) rendered as a
// string, or "" for nil cells and missing columns.
func (t *Table) StringValue(row int, column string) string {
	v := t.Value(row, column)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Stamp appends the entity metadata columns to every row, mirroring
// what the portal scraper attaches to each scraped section.
func (t *Table) Stamp(entityType, entityName, email string) {
	t.Columns = append(t.Columns, ColumnEntityType, ColumnEntityName, ColumnEmail)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], entityType, entityName, email)
	}
}

// Subset returns a new table containing only the given row indices, in
// the order provided. Column order is shared with the receiver.
func (t *Table) Subset(rows []int) *Table {
	sub := &Table{Columns: t.Columns}
	for _, i := range rows {
		if i >= 0 && i < len(t.Rows) {
			sub.Rows = append(sub.Rows, t.Rows[i])
		}
	}
	return sub
}
