package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalogDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

// loadErrorCodes extracts the LoadError codes from a result.
func loadErrorCodes(errs []error) []string {
	codes := make([]string, 0, len(errs))
	for _, err := range errs {
		if le, ok := err.(*LoadError); ok {
			codes = append(codes, le.Code)
		}
	}
	return codes
}

const validCatalogCUE = `
rule: adherence: {
	correlation_type: "adherence_vitals_decline"
	severity:         "high"
	window_hours:     168
	confidence_bp:    8500
	require: {
		medication_admin: 2
		vital_sign:       1
	}
}

trajectory: baseline: {
	min_data_points: 5
	lookback_hours:  336
	risk: health_decline: signals: ["vital_sign"]
	levels: [
		{level: "stable", min_daily_milli: 0},
		{level: "watch", min_daily_milli: 500},
	]
	confidence: {
		data_points_bp: 4000
		consistency_bp: 3000
		recency_bp:     3000
	}
}
`

func TestLoadCatalog_Valid(t *testing.T) {
	dir := writeCatalogDir(t, map[string]string{"catalog.cue": validCatalogCUE})

	cat, errs := LoadCatalog(dir, LoadModeFailFast)
	require.Empty(t, errs)
	require.NotNil(t, cat)

	assert.Len(t, cat.Correlation, 1)
	assert.Equal(t, "adherence", cat.Correlation[0].Name)
	assert.Len(t, cat.Trajectory, 1)
	assert.Equal(t, "baseline", cat.Trajectory[0].Name)
}

func TestLoadCatalog_MissingDir(t *testing.T) {
	_, errs := LoadCatalog(filepath.Join(t.TempDir(), "nope"), LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, loadErrorCodes(errs), ErrCodeNotFound)
}

func TestLoadCatalog_NoCUEFiles(t *testing.T) {
	dir := writeCatalogDir(t, map[string]string{"readme.txt": "not a catalog"})

	_, errs := LoadCatalog(dir, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, loadErrorCodes(errs), ErrCodeNoFiles)
}

func TestLoadCatalog_EmptyCatalog(t *testing.T) {
	dir := writeCatalogDir(t, map[string]string{"empty.cue": `other: 1`})

	_, errs := LoadCatalog(dir, LoadModeFailFast)
	require.NotEmpty(t, errs)
	assert.Contains(t, loadErrorCodes(errs), ErrCodeEmptyCatalog)
}

func TestLoadCatalog_CollectAll(t *testing.T) {
	// Two broken rules: fail-fast stops at one error, collect-all finds both.
	broken := `
rule: first: {
	correlation_type: "x"
	severity:         "low"
	window_hours:     24
	confidence_bp:    5000
}
rule: second: {
	correlation_type: "y"
	severity:         "low"
	window_hours:     24
	confidence_bp:    5000
}
`
	dir := writeCatalogDir(t, map[string]string{"broken.cue": broken})

	_, failFast := LoadCatalog(dir, LoadModeFailFast)
	assert.Len(t, failFast, 1)

	_, collectAll := LoadCatalog(dir, LoadModeCollectAll)
	assert.Len(t, collectAll, 2)
}

func TestLoadCatalog_ValidationRuns(t *testing.T) {
	// Compiles cleanly but the confidence weights don't sum to 10000.
	bad := `
trajectory: baseline: {
	min_data_points: 5
	lookback_hours:  336
	risk: health_decline: signals: ["vital_sign"]
	levels: [{level: "stable", min_daily_milli: 0}]
	confidence: {
		data_points_bp: 5000
		consistency_bp: 3000
		recency_bp:     3000
	}
}
`
	dir := writeCatalogDir(t, map[string]string{"bad.cue": bad})

	_, errs := LoadCatalog(dir, LoadModeFailFast)
	require.NotEmpty(t, errs)
	assert.Contains(t, loadErrorCodes(errs), ErrCodeWeightSum)
}
