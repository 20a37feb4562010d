package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/hplc-pump/internal/pump"
)

// Recorder writes timestamped pump status to CSV files with automatic rotation.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	maxRows  int
	enabled  bool

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// Config holds recorder configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
	MaxRows    int    `yaml:"max_rows" json:"maxRows"`
}

const (
	defaultMaxRows = 100_000 // ~28 hrs at 1 Hz
)

var csvHeader = []string{
	"timestamp", "pressure", "units", "flowrate_ml_min", "running",
	"upper_limit", "lower_limit",
	"motor_stall_fault", "upper_pressure_fault", "lower_pressure_fault",
	"leak_detected",
}

// NewRecorder creates a Recorder.
func NewRecorder(cfg Config) *Recorder {
	if cfg.Path == "" {
		cfg.Path = "/var/log/hplc-pump"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 100*time.Millisecond {
		interval = time.Second
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return &Recorder{
		dir:      cfg.Path,
		interval: interval,
		maxRows:  cfg.MaxRows,
		enabled:  cfg.Enabled,
	}
}

// SetEnabled allows toggling recording at runtime.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
	if !on && r.file != nil {
		r.closeFile()
	}
}

// IsEnabled returns whether recording is active.
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Record writes a status row if the minimum interval since the last row
// has elapsed. The interval is measured on status stamps.
func (r *Recorder) Record(st *pump.Status) {
	if st == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}

	if st.Stamp.Sub(r.lastTs) < r.interval {
		return
	}
	r.lastTs = st.Stamp

	if r.writer == nil || r.rows >= r.maxRows {
		if err := r.rotateFile(st.Stamp); err != nil {
			logrus.Errorf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := r.writer.Write(buildRow(st)); err != nil {
		logrus.Errorf("[logger] write failed: %v", err)
		return
	}
	r.writer.Flush()
	r.rows++
}

// Close flushes and closes the current file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotateFile(now time.Time) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	filename := fmt.Sprintf("pump_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(r.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.rows = 0

	if err := r.writer.Write(csvHeader); err != nil {
		return err
	}
	r.writer.Flush()

	logrus.Infof("[logger] opened %s", path)
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

func buildRow(st *pump.Status) []string {
	return []string{
		st.Stamp.Format(time.RFC3339Nano),
		strconv.FormatFloat(st.Pressure, 'f', -1, 64),
		st.Units,
		strconv.FormatFloat(st.Flowrate, 'f', 3, 64),
		boolStr(st.Running),
		strconv.FormatFloat(st.UpperPressureLimit, 'f', -1, 64),
		strconv.FormatFloat(st.LowerPressureLimit, 'f', -1, 64),
		boolStr(st.MotorStallFault),
		boolStr(st.UpperPressureFault),
		boolStr(st.LowerPressureFault),
		boolStr(st.LeakDetected),
	}
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
