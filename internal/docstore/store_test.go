package docstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruv2003/Scrapper/internal/config"
	"github.com/dhruv2003/Scrapper/internal/scrape"
)

// setupTestEngine connects to a throwaway database on a real MongoDB
// instance. Set MONGO_TEST_URI to run these tests.
func setupTestEngine(t *testing.T) *Engine {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skipf("MONGO_TEST_URI not set, skipping MongoDB integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := &config.MongoConfig{
		URI:                uri,
		Database:           fmt.Sprintf("scraper_test_%s", uuid.New().String()[:8]),
		Collection:         "entities",
		OverflowCollection: "entities_overflow",
	}
	store, err := Connect(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.entities.Database().Drop(context.Background())
		_ = store.Close(context.Background())
	})

	return NewEngine(store, nil)
}

func TestEngine_SaveAndGetRoundTrip(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()

	table := scrape.NewTable("Amount")
	table.AppendRow(10.0)
	table.AppendRow(20.0)

	report, err := engine.Save(ctx, map[string]*scrape.Table{
		scrape.SectionProcurement: table,
	}, "a@x.com", "ACME", "Producer", "2024")
	require.NoError(t, err)
	assert.Equal(t, 1, report.SectionsSaved)
	assert.Equal(t, 2, report.RowsSaved)
	assert.Empty(t, report.SectionErrors)
	assert.Equal(t, []string{"2024"}, report.Years)

	view, err := engine.Get(ctx, "a@x.com", "2024")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "ACME", view["company_name"])

	data := view["scrap_data"].(map[string]interface{})["2024"].(map[string]interface{})
	records := data[scrape.SectionProcurement]
	require.NotNil(t, records)
	assert.Len(t, records, 2)
}

func TestEngine_SaveEmptySectionsStillUpdatesMetadata(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()

	report, err := engine.Save(ctx, nil, "a@x.com", "ACME", "Producer", "2024")
	require.NoError(t, err)
	assert.Zero(t, report.SectionsSaved)
	assert.Zero(t, report.RowsSaved)

	view, err := engine.Get(ctx, "a@x.com", "")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "ACME", view["company_name"])
	assert.Equal(t, "Producer", view["entity_type"])
}

func TestEngine_OverflowRoundTrip(t *testing.T) {
	engine := setupTestEngine(t)
	// Force the overflow path with a tiny size ceiling.
	engine.maxBytes = 2048
	engine.margin = 0
	engine.chunkSize = 600
	ctx := context.Background()

	table := scrape.NewTable("Index", "Note")
	for i := 0; i < 1500; i++ {
		table.AppendRow(i, "some padding text to grow the payload")
	}

	report, err := engine.Save(ctx, map[string]*scrape.Table{
		scrape.SectionSales: table,
	}, "big@x.com", "Big Corp", "Producer", "2024")
	require.NoError(t, err)
	assert.Empty(t, report.SectionErrors)
	assert.Contains(t, report.OverflowSections, scrape.SectionSales)

	view, err := engine.Get(ctx, "big@x.com", "2024")
	require.NoError(t, err)
	data := view["scrap_data"].(map[string]interface{})["2024"].(map[string]interface{})
	records, ok := data[scrape.SectionSales].([]interface{})
	require.True(t, ok, "overflow reference was not resolved to an array")
	require.Len(t, records, 1500)

	// Order survives chunking.
	first := records[0].(map[string]interface{})
	last := records[1499].(map[string]interface{})
	assert.EqualValues(t, 0, asInt(first["Index"]))
	assert.EqualValues(t, 1499, asInt(last["Index"]))

	// The plain key and the reference key are never both present.
	raw, err := engine.Get(ctx, "big@x.com", "")
	require.NoError(t, err)
	require.NotNil(t, raw)
}

func TestEngine_SecondSaveDoesNotLosePreviousYear(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()

	t2023 := scrape.NewTable("Amount")
	t2023.AppendRow(1.0)
	_, err := engine.Save(ctx, map[string]*scrape.Table{scrape.SectionWallet: t2023},
		"a@x.com", "ACME", "Producer", "2023")
	require.NoError(t, err)

	t2024 := scrape.NewTable("Amount")
	t2024.AppendRow(2.0)
	report, err := engine.Save(ctx, map[string]*scrape.Table{scrape.SectionWallet: t2024},
		"a@x.com", "ACME", "Producer", "2024")
	require.NoError(t, err)
	assert.Equal(t, []string{"2023", "2024"}, report.Years)

	view, err := engine.Get(ctx, "a@x.com", "")
	require.NoError(t, err)
	scrapData := view["scrap_data"].(map[string]interface{})
	assert.Contains(t, scrapData, "2023")
	assert.Contains(t, scrapData, "2024")
}

func TestEngine_GetUnknownEntity(t *testing.T) {
	engine := setupTestEngine(t)

	view, err := engine.Get(context.Background(), "nobody@x.com", "")
	require.NoError(t, err)
	assert.Nil(t, view)
}
