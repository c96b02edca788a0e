package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/lattice/core/componentgraphdb"
	"github.com/adalundhe/lattice/core/ingest"
)

// =============================================================================
// Output Formatting Tests
// =============================================================================

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "1.0KB", formatBytes(1024))
	assert.Equal(t, "1.5MB", formatBytes(3*1024*1024/2))
}

func TestOutputIngestResultsText(t *testing.T) {
	var buf bytes.Buffer
	results := []*ingest.IngestResult{
		{ComponentID: "abc", Status: ingest.StatusIngested, Sequence: 3},
		{ComponentID: "def", Status: ingest.StatusUnchanged},
		{ComponentID: "ghi", Status: ingest.StatusDeferred},
	}

	err := outputIngestResults(&buf, results)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "abc ingested (version 3)")
	assert.Contains(t, out, "def unchanged")
	assert.Contains(t, out, "ghi deferred")
}

func TestOutputIngestResultsJSON(t *testing.T) {
	ingestJSON = true
	defer func() { ingestJSON = false }()

	var buf bytes.Buffer
	results := []*ingest.IngestResult{
		{ComponentID: "abc", Status: ingest.StatusIngested, Sequence: 1},
	}
	require.NoError(t, outputIngestResults(&buf, results))

	var decoded []*ingest.IngestResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, ingest.StatusIngested, decoded[0].Status)
}

func TestOutputCountTableSorted(t *testing.T) {
	var buf bytes.Buffer
	outputCountTable(&buf, "Nodes by type", map[string]int64{
		"property":  4,
		"component": 2,
	})

	assert.Contains(t, buf.String(), "Nodes by type")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("component")), bytes.Index(buf.Bytes(), []byte("property")),
		"keys should print in sorted order")
}

// =============================================================================
// Round Trip
// =============================================================================

// TestIngestQueryRoundTrip drives the real commands end to end against
// temp directories. It owns directory resolution for the whole test
// binary, so it is the only test here that calls loadConfig.
func TestIngestQueryRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmp, "state"))
	t.Setenv("LATTICE_VECTOR_DIMENSION", "64")

	record := &componentgraphdb.ComponentRecord{
		Name:        "Button",
		Category:    "actions",
		Description: "Triggers an action when pressed",
		Properties: []componentgraphdb.PropertyRecord{
			{Name: "variant", Type: "string", Default: "primary"},
		},
	}
	data, err := json.Marshal(record)
	require.NoError(t, err)

	recordPath := filepath.Join(tmp, "button.json")
	require.NoError(t, os.WriteFile(recordPath, data, 0o644))

	var ingestOut bytes.Buffer
	ingestCmd.SetOut(&ingestOut)
	require.NoError(t, runIngest(ingestCmd, []string{recordPath}))
	assert.Contains(t, ingestOut.String(), "ingested (version 1)")

	var queryOut bytes.Buffer
	queryCmd.SetOut(&queryOut)
	require.NoError(t, runQuery(queryCmd, []string{"What properties does Button have?"}))
	assert.Contains(t, queryOut.String(), "Button")
	assert.Contains(t, queryOut.String(), "variant")

	var statsOut bytes.Buffer
	statsCmd.SetOut(&statsOut)
	require.NoError(t, runStats(statsCmd, nil))
	assert.Contains(t, statsOut.String(), "Nodes by type")

	versionsCategory = "actions"
	defer func() { versionsCategory = "" }()
	var versionsOut bytes.Buffer
	versionsCmd.SetOut(&versionsOut)
	require.NoError(t, runVersions(versionsCmd, []string{"Button"}))
	assert.Contains(t, versionsOut.String(), "v1")
}
