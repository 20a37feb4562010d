package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/hplc-pump/internal/pump"
)

func readCSV(t *testing.T, dir string) [][][]string {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(dir, "pump_*.csv"))
	require.NoError(t, err)

	var files [][][]string
	for _, p := range paths {
		f, err := os.Open(p)
		require.NoError(t, err)
		rows, err := csv.NewReader(f).ReadAll()
		f.Close()
		require.NoError(t, err)
		files = append(files, rows)
	}
	return files
}

func TestRecorderWritesRows(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(Config{Enabled: true, Path: dir, IntervalMs: 100})
	defer r.Close()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.Record(&pump.Status{Stamp: start, Pressure: 1200, Units: "psi", Flowrate: 2.5, Running: true, UpperPressureLimit: 6000})
	r.Record(&pump.Status{Stamp: start.Add(50 * time.Millisecond), Pressure: 1300}) // too soon
	r.Record(&pump.Status{Stamp: start.Add(time.Second), Units: "psi", LeakDetected: true, MotorStallFault: true})
	r.Record(nil)

	files := readCSV(t, dir)
	require.Len(t, files, 1)
	rows := files[0]
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{
		"2024-05-01T12:00:00Z", "1200", "psi", "2.500", "1", "6000", "0", "0", "0", "0", "0",
	}, rows[1])
	assert.Equal(t, "1", rows[2][7])
	assert.Equal(t, "1", rows[2][10])
}

func TestRecorderDisabled(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(Config{Path: dir})
	assert.False(t, r.IsEnabled())

	r.Record(&pump.Status{Stamp: time.Now()})
	assert.Empty(t, readCSV(t, dir))

	r.SetEnabled(true)
	assert.True(t, r.IsEnabled())
	r.Record(&pump.Status{Stamp: time.Now()})
	r.SetEnabled(false)
	assert.Len(t, readCSV(t, dir), 1)
}

func TestRecorderRotates(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(Config{Enabled: true, Path: dir, IntervalMs: 100, MaxRows: 2})
	defer r.Close()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.Record(&pump.Status{Stamp: start.Add(time.Duration(i) * time.Second)})
	}

	files := readCSV(t, dir)
	require.Len(t, files, 3)
	total := 0
	for _, rows := range files {
		total += len(rows) - 1
	}
	assert.Equal(t, 5, total)
}
