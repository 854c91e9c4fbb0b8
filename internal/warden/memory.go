package warden

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"
)

const maxRecords = 50

// CycleRecord captures what happened in a single warden cycle.
type CycleRecord struct {
	Cycle       int       `json:"cycle"`
	At          time.Time `json:"at"`
	Level       string    `json:"level"`
	Quarantined int       `json:"quarantined"`
	Repaired    []string  `json:"repaired,omitempty"`
	Failed      []string  `json:"failed,omitempty"`
	Snapshot    string    `json:"snapshot,omitempty"`
}

// CycleMemory keeps recent cycles and the last failed repair per entity.
type CycleMemory struct {
	Cycle    int            `json:"cycle"`
	Records  []CycleRecord  `json:"records"`
	FailedAt map[string]int `json:"failed_at"`
}

// LoadMemory reads the memory file. Returns empty memory if it is missing
// or unreadable.
func LoadMemory(path string) *CycleMemory {
	mem := &CycleMemory{FailedAt: map[string]int{}}
	data, err := os.ReadFile(path)
	if err != nil {
		return mem
	}
	if err := json.Unmarshal(data, mem); err != nil {
		slog.Warn("warden memory corrupted, starting fresh", "error", err)
		return &CycleMemory{FailedAt: map[string]int{}}
	}
	if mem.FailedAt == nil {
		mem.FailedAt = map[string]int{}
	}
	return mem
}

// Save writes the memory to disk.
func (m *CycleMemory) Save(path string) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("failed to marshal warden memory", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("failed to write warden memory", "error", err)
	}
}

// Record stores a finished cycle and updates the failure index.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Cycle = r.Cycle
	for _, id := range r.Repaired {
		delete(m.FailedAt, id)
	}
	for _, id := range r.Failed {
		m.FailedAt[id] = r.Cycle
	}
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}
