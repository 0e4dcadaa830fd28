package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const guardMetricsFileName = "guard_metrics.json"

var latencyBucketUpperBoundsMs = []int64{
	10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000,
}

// Snapshot contains aggregated guard metrics.
type Snapshot struct {
	UpdatedAt time.Time     `json:"updated_at"`
	Verdicts  VerdictStats  `json:"verdicts"`
	Approvals ApprovalStats `json:"approvals"`
	Tool      ToolStats     `json:"tool"`
}

// VerdictStats counts validation outcomes.
type VerdictStats struct {
	Allowed  int64            `json:"allowed"`
	Denied   int64            `json:"denied"`
	ByReason map[string]int64 `json:"by_reason,omitempty"`
}

// ApprovalStats counts approval gate outcomes such as "auto_approved",
// "approved" or "denied".
type ApprovalStats struct {
	Total     int64            `json:"total"`
	ByOutcome map[string]int64 `json:"by_outcome,omitempty"`
}

// DenialRatio returns denied/all in [0,1].
func (v VerdictStats) DenialRatio() float64 {
	total := v.Allowed + v.Denied
	if total <= 0 {
		return 0
	}
	return float64(v.Denied) / float64(total)
}

// ToolStats tracks tool execution metrics.
type ToolStats struct {
	Total             int64 `json:"total"`
	Errors            int64 `json:"errors"`
	Timeouts          int64 `json:"timeouts"`
	TotalLatencyMs    int64 `json:"total_latency_ms"`
	MaxLatencyMs      int64 `json:"max_latency_ms"`
	LastLatencyMs     int64 `json:"last_latency_ms"`
	P95ProxyLatencyMs int64 `json:"p95_proxy_latency_ms"`
}

// ErrorRatio returns errors/total in [0,1].
func (t ToolStats) ErrorRatio() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Errors) / float64(t.Total)
}

// TimeoutRatio returns timeouts/total in [0,1].
func (t ToolStats) TimeoutRatio() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Timeouts) / float64(t.Total)
}

// AvgLatencyMs returns average latency in milliseconds.
func (t ToolStats) AvgLatencyMs() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.TotalLatencyMs) / float64(t.Total)
}

// HasData reports whether any metrics were recorded.
func (s Snapshot) HasData() bool {
	return s.Tool.Total > 0 || s.Verdicts.Allowed+s.Verdicts.Denied > 0 || s.Approvals.Total > 0
}

// Recorder records and persists guard metrics.
type Recorder struct {
	path string

	mu      sync.Mutex
	snap    Snapshot
	buckets []int64
}

// NewRecorder creates a recorder persisting to <stateDir>/guard_metrics.json.
// An empty stateDir keeps metrics in memory only.
func NewRecorder(stateDir string) *Recorder {
	path := ""
	if strings.TrimSpace(stateDir) != "" {
		path = guardMetricsPath(stateDir)
	}
	return &Recorder{
		path:    path,
		buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1),
	}
}

// Snapshot returns the latest in-memory snapshot.
func (m *Recorder) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.clone()
}

// RecordVerdict counts one validation outcome. reason is ignored for
// allowed verdicts.
func (m *Recorder) RecordVerdict(allowed bool, reason string) (Snapshot, error) {
	if m == nil {
		return Snapshot{}, nil
	}

	m.mu.Lock()
	m.snap.UpdatedAt = time.Now().UTC()
	if allowed {
		m.snap.Verdicts.Allowed++
	} else {
		m.snap.Verdicts.Denied++
		if reason = strings.TrimSpace(reason); reason != "" {
			if m.snap.Verdicts.ByReason == nil {
				m.snap.Verdicts.ByReason = make(map[string]int64)
			}
			m.snap.Verdicts.ByReason[reason]++
		}
	}
	snapshot := m.snap.clone()
	m.mu.Unlock()

	return snapshot, persistSnapshot(m.path, snapshot)
}

// RecordApproval counts one approval outcome.
func (m *Recorder) RecordApproval(outcome string) (Snapshot, error) {
	if m == nil {
		return Snapshot{}, nil
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "unknown"
	}

	m.mu.Lock()
	m.snap.UpdatedAt = time.Now().UTC()
	m.snap.Approvals.Total++
	if m.snap.Approvals.ByOutcome == nil {
		m.snap.Approvals.ByOutcome = make(map[string]int64)
	}
	m.snap.Approvals.ByOutcome[outcome]++
	snapshot := m.snap.clone()
	m.mu.Unlock()

	return snapshot, persistSnapshot(m.path, snapshot)
}

// RecordToolExecution updates tool metrics and persists the snapshot.
func (m *Recorder) RecordToolExecution(duration time.Duration, result string, runErr error) (Snapshot, error) {
	if m == nil {
		return Snapshot{}, nil
	}

	latencyMs := duration.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}

	m.mu.Lock()
	m.snap.UpdatedAt = time.Now().UTC()
	m.snap.Tool.Total++
	m.snap.Tool.TotalLatencyMs += latencyMs
	m.snap.Tool.LastLatencyMs = latencyMs
	if latencyMs > m.snap.Tool.MaxLatencyMs {
		m.snap.Tool.MaxLatencyMs = latencyMs
	}
	if runErr != nil || strings.HasPrefix(strings.TrimSpace(result), "Error:") {
		m.snap.Tool.Errors++
		if isTimeoutError(runErr, result) {
			m.snap.Tool.Timeouts++
		}
	}

	m.buckets[latencyBucketIndex(latencyMs)]++
	m.snap.Tool.P95ProxyLatencyMs = p95ProxyFromBuckets(m.buckets, m.snap.Tool.Total)

	snapshot := m.snap.clone()
	m.mu.Unlock()

	return snapshot, persistSnapshot(m.path, snapshot)
}

// ReadSnapshot reads the persisted snapshot from stateDir.
// If no file exists yet, it returns a zero-value snapshot and nil error.
func ReadSnapshot(stateDir string) (Snapshot, error) {
	raw, err := os.ReadFile(guardMetricsPath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read guard metrics: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode guard metrics: %w", err)
	}
	return snap, nil
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Verdicts.ByReason = maps.Clone(s.Verdicts.ByReason)
	out.Approvals.ByOutcome = maps.Clone(s.Approvals.ByOutcome)
	return out
}

func guardMetricsPath(stateDir string) string {
	return filepath.Join(stateDir, guardMetricsFileName)
}

func persistSnapshot(path string, snapshot Snapshot) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create guard metrics dir: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode guard metrics: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write guard metrics temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename guard metrics file: %w", err)
	}
	return nil
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	if total <= 0 {
		return 0
	}
	target := int64(float64(total) * 0.95)
	if target <= 0 {
		target = 1
	}

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
}

func isTimeoutError(runErr error, result string) bool {
	if errors.Is(runErr, context.DeadlineExceeded) {
		return true
	}
	lowered := ""
	if runErr != nil {
		lowered = strings.ToLower(runErr.Error())
	}
	combined := lowered + " " + strings.ToLower(strings.TrimSpace(result))
	return strings.Contains(combined, "deadline exceeded") ||
		strings.Contains(combined, "timeout") ||
		strings.Contains(combined, "timed out")
}
