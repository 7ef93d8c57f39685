package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dhruv2003/Scrapper/internal/logging"
	"github.com/dhruv2003/Scrapper/internal/scrape"
)

const (
	// MongoDB rejects documents over 16MB; keep a margin under it so the
	// size estimate never has to be exact.
	maxDocumentBytes = 16 * 1024 * 1024
	sizeSafetyMargin = 1 * 1024 * 1024

	// BSON is larger than the JSON used for estimation.
	sizeOverhead = 1.2

	defaultChunkSize = 1000
	maxChunks        = 50

	refSuffix = "_ref"
)

// SaveReport summarizes one Save call: which years the document now
// holds, what was written, and which sections failed.
type SaveReport struct {
	Email            string            `json:"email"`
	Years            []string          `json:"years"`
	SectionsSaved    int               `json:"sections_saved"`
	RowsSaved        int               `json:"rows_saved"`
	OverflowSections []string          `json:"overflow_sections,omitempty"`
	SectionErrors    map[string]string `json:"section_errors,omitempty"`
}

// Engine merges scraped section tables into per-entity documents.
type Engine struct {
	store     *Store
	logger    *logging.Logger
	chunkSize int
	maxBytes  int
	margin    int
	now       func() time.Time
}

// NewEngine creates a persistence engine over the given store.
func NewEngine(store *Store, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Global()
	}
	return &Engine{
		store:     store,
		logger:    logger,
		chunkSize: defaultChunkSize,
		maxBytes:  maxDocumentBytes,
		margin:    sizeSafetyMargin,
		now:       time.Now,
	}
}

// Save merges the given sections into the entity document for email
// under the given year. Sections carrying a per-row financial-year
// label are re-partitioned onto their labelled years. Oversized
// sections are chunked into the overflow collection with a reference
// left in the main document. Individual section failures are collected
// in the report; only a store-level connection failure aborts the call.
func (e *Engine) Save(ctx context.Context, sections map[string]*scrape.Table, email, companyName, entityType, year string) (*SaveReport, error) {
	report := &SaveReport{
		Email:         email,
		SectionErrors: make(map[string]string),
	}

	companyName = scalarOrFirst(companyName)
	entityType = scalarOrFirst(entityType)
	if year == "" {
		year = fmt.Sprintf("%d", e.now().Year())
	}

	// Metadata is written first and unconditionally; a save with zero
	// sections still refreshes it.
	filter := bson.M{"_id": email}
	meta := bson.M{"$set": bson.M{
		"company_name": companyName,
		"entity_type":  entityType,
		"last_updated": e.now().UTC(),
	}}
	if _, err := e.store.entities.UpdateOne(ctx, filter, meta, options.Update().SetUpsert(true)); err != nil {
		return report, fmt.Errorf("failed to upsert entity metadata for %s: %w", email, err)
	}

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		table := sections[name]
		if table.IsEmpty() {
			continue
		}
		for partYear, partition := range partitionByYear(table, year) {
			if err := e.saveSection(ctx, email, partYear, name, partition); err != nil {
				e.logger.WithError(err).WithFields(map[string]interface{}{
					"email":   email,
					"section": name,
					"year":    partYear,
				}).Error("Failed to save section")
				report.SectionErrors[name] = err.Error()
				continue
			}
			report.SectionsSaved++
			report.RowsSaved += len(partition)
			if estimateSize(partition) >= e.maxBytes-e.margin {
				report.OverflowSections = append(report.OverflowSections, name)
			}
		}
	}

	years, err := e.documentYears(ctx, email)
	if err != nil {
		e.logger.WithError(err).Warnf("Failed to re-read document for %s", email)
	} else {
		report.Years = years
	}
	return report, nil
}

// partitionByYear splits a section's records by the per-row
// financial-year label when one is present. Without a label column the
// whole section maps to the default year.
func partitionByYear(table *scrape.Table, defaultYear string) map[string][]map[string]interface{} {
	fyCol, ok := financialYearColumn(table)
	if !ok {
		return map[string][]map[string]interface{}{
			defaultYear: tableToRecords(table),
		}
	}

	byYear := make(map[string][]int)
	for i, row := range table.Rows {
		label := ""
		if fyCol < len(row) && row[fyCol] != nil {
			label = fmt.Sprint(row[fyCol])
		}
		y := extractYear(label, defaultYear)
		byYear[y] = append(byYear[y], i)
	}

	out := make(map[string][]map[string]interface{}, len(byYear))
	for y, rows := range byYear {
		out[y] = tableToRecords(table.Subset(rows))
	}
	return out
}

// saveSection writes one section's records for one year, directly when
// they fit and through the overflow collection when they do not.
func (e *Engine) saveSection(ctx context.Context, email, year, section string, records []map[string]interface{}) error {
	if estimateSize(records) < e.maxBytes-e.margin {
		err := e.writeDirect(ctx, email, year, section, records)
		if err == nil {
			return nil
		}
		// The estimate is a heuristic; if the server still rejects the
		// document for size, fall through to the chunked path.
		if !isDocumentTooLarge(err) {
			return err
		}
		e.logger.Warnf("Direct write of %s/%s/%s rejected for size, chunking", email, year, section)
	}
	return e.writeOverflow(ctx, email, year, section, records)
}

func (e *Engine) writeDirect(ctx context.Context, email, year, section string, records []map[string]interface{}) error {
	field := fmt.Sprintf("scrap_data.%s.%s", year, section)
	update := bson.M{
		"$set":   bson.M{field: records},
		"$unset": bson.M{field + refSuffix: ""},
	}
	_, err := e.store.entities.UpdateOne(ctx, bson.M{"_id": email}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write section %s: %w", section, err)
	}
	return nil
}

func (e *Engine) writeOverflow(ctx context.Context, email, year, section string, records []map[string]interface{}) error {
	size, count := planChunks(len(records), e.chunkSize)
	chunks := splitRecords(records, size)
	baseID := fmt.Sprintf("%s_%s_%s_%d", email, year, section, e.now().Unix())
	createdAt := e.now().UTC()

	for i, chunk := range chunks {
		doc := bson.M{
			"_id":          fmt.Sprintf("%s_chunk_%d", baseID, i),
			"email":        email,
			"year":         year,
			"section":      section,
			"chunk_index":  i,
			"total_chunks": count,
			"data":         chunk,
			"created_at":   createdAt,
		}
		if _, err := e.store.overflow.InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("failed to write overflow chunk %d/%d for %s: %w", i+1, count, section, err)
		}
	}

	field := fmt.Sprintf("scrap_data.%s.%s", year, section)
	update := bson.M{
		"$set": bson.M{field + refSuffix: bson.M{
			"base_id": baseID,
			"chunks":  count,
			"records": len(records),
		}},
		"$unset": bson.M{field: ""},
	}
	if _, err := e.store.entities.UpdateOne(ctx, bson.M{"_id": email}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to write overflow reference for %s: %w", section, err)
	}

	e.logger.WithFields(map[string]interface{}{
		"email":   email,
		"section": section,
		"year":    year,
		"chunks":  count,
		"records": len(records),
	}).Info("Section stored via overflow collection")
	return nil
}

// Get returns the entity document view with every overflow reference
// resolved back into its full record array. With a year it returns only
// that year's data; otherwise all years. Returns nil when no document
// exists.
func (e *Engine) Get(ctx context.Context, email, year string) (map[string]interface{}, error) {
	var doc bson.M
	err := e.store.entities.FindOne(ctx, bson.M{"_id": email}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document for %s: %w", email, err)
	}

	view := map[string]interface{}{
		"email":        email,
		"company_name": doc["company_name"],
		"entity_type":  doc["entity_type"],
		"last_updated": doc["last_updated"],
	}

	scrapData := asMap(doc["scrap_data"])
	resolved := make(map[string]interface{})
	for docYear, yearData := range scrapData {
		if year != "" && docYear != year {
			continue
		}
		sections := asMap(yearData)
		out := make(map[string]interface{}, len(sections))
		for key, value := range sections {
			if !strings.HasSuffix(key, refSuffix) {
				out[key] = value
				continue
			}
			section := strings.TrimSuffix(key, refSuffix)
			data, err := e.resolveRef(ctx, value)
			if err != nil {
				e.logger.WithError(err).Warnf("Failed to resolve overflow reference %s/%s/%s", email, docYear, section)
				continue
			}
			out[section] = data
		}
		resolved[docYear] = out
	}
	view["scrap_data"] = resolved
	return view, nil
}

// resolveRef reconstructs a section array from its overflow reference.
// Both reference shapes are readable: the structured {base_id, chunks}
// form written today, and the legacy bare overflow-document id.
func (e *Engine) resolveRef(ctx context.Context, ref interface{}) ([]interface{}, error) {
	switch r := ref.(type) {
	case string:
		// Legacy shape: a single overflow document id.
		return e.fetchChunkData(ctx, r)
	default:
		m := asMap(ref)
		if m == nil {
			return nil, fmt.Errorf("unrecognized overflow reference shape %T", ref)
		}
		baseID, _ := m["base_id"].(string)
		if baseID == "" {
			return nil, fmt.Errorf("overflow reference missing base_id")
		}
		chunks := asInt(m["chunks"])
		if chunks <= 0 {
			chunks = 1
		}
		var data []interface{}
		for i := 0; i < chunks; i++ {
			chunk, err := e.fetchChunkData(ctx, fmt.Sprintf("%s_chunk_%d", baseID, i))
			if err != nil {
				return nil, err
			}
			data = append(data, chunk...)
		}
		return data, nil
	}
}

func (e *Engine) fetchChunkData(ctx context.Context, id string) ([]interface{}, error) {
	var doc bson.M
	if err := e.store.overflow.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to fetch overflow chunk %s: %w", id, err)
	}
	switch data := doc["data"].(type) {
	case primitive.A:
		return []interface{}(data), nil
	case []interface{}:
		return data, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("overflow chunk %s has unexpected data shape %T", id, data)
	}
}

// documentYears returns the sorted set of years present in the entity
// document after a save.
func (e *Engine) documentYears(ctx context.Context, email string) ([]string, error) {
	var doc bson.M
	err := e.store.entities.FindOne(ctx, bson.M{"_id": email},
		options.FindOne().SetProjection(bson.M{"scrap_data": 1})).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	scrapData := asMap(doc["scrap_data"])
	years := make([]string, 0, len(scrapData))
	for y := range scrapData {
		years = append(years, y)
	}
	sort.Strings(years)
	return years, nil
}

func isDocumentTooLarge(err error) bool {
	if mongo.IsDuplicateKeyError(err) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "too large") || strings.Contains(msg, "BSONObjectTooLarge") ||
		strings.Contains(msg, "object to insert too large") || strings.Contains(msg, "Resulting document after update is larger")
}

func asMap(v interface{}) map[string]interface{} {
	switch m := v.(type) {
	case bson.M:
		return m
	case map[string]interface{}:
		return m
	case primitive.D:
		out := make(map[string]interface{}, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out
	default:
		return nil
	}
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
