package api

import (
	"fmt"
	"sync"

	"github.com/polyphonic-ai/maestro/pkg/plan"
)

// previewEntries bounds the memory summary preview.
const previewEntries = 6

// memoryLog holds per-session conversation history in process memory. It
// seeds follow-up queries when no database is configured and backs the
// memory summary endpoint.
type memoryLog struct {
	mu       sync.RWMutex
	sessions map[string][]plan.HistoryEntry
	ordered  []plan.HistoryEntry
}

type memorySummary struct {
	MessageCount int      `json:"message_count"`
	Exchanges    int      `json:"exchanges"`
	Preview      []string `json:"preview"`
}

func newMemoryLog() *memoryLog {
	return &memoryLog{sessions: make(map[string][]plan.HistoryEntry)}
}

func (m *memoryLog) append(sessionID string, entries ...plan.HistoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], entries...)
	m.ordered = append(m.ordered, entries...)
}

func (m *memoryLog) history(sessionID string) []plan.HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.sessions[sessionID]
	out := make([]plan.HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

func (m *memoryLog) summary() memorySummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	preview := make([]string, 0, previewEntries)
	start := len(m.ordered) - previewEntries
	if start < 0 {
		start = 0
	}
	for _, e := range m.ordered[start:] {
		content := e.Content
		if len(content) > 100 {
			content = content[:100] + "..."
		}
		preview = append(preview, fmt.Sprintf("%s: %s", e.Role, content))
	}
	return memorySummary{
		MessageCount: len(m.ordered),
		Exchanges:    len(m.ordered) / 2,
		Preview:      preview,
	}
}

// clear drops everything and reports how many messages were held.
func (m *memoryLog) clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.ordered)
	m.sessions = make(map[string][]plan.HistoryEntry)
	m.ordered = nil
	return n
}
