package logger

import (
	"encoding/json"
	"sync"
)

const defaultBufferSize = 1000

// Broadcaster delivers a typed payload to connected clients.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// LogEntry is one structured log line, split into the well-known zerolog
// keys plus whatever context fields the line carried.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// LogBroadcaster sits in the zerolog output chain as an io.Writer: every
// line lands in a ring buffer for the logs API, and is pushed to the hub
// when one is attached.
type LogBroadcaster struct {
	mu     sync.RWMutex
	hub    Broadcaster
	buffer *RingBuffer[LogEntry]
}

// NewLogBroadcaster returns a broadcaster buffering the last size entries.
// The hub may be nil until SetHub; entries buffer either way.
func NewLogBroadcaster(hub Broadcaster, size int) *LogBroadcaster {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &LogBroadcaster{
		hub:    hub,
		buffer: NewRingBuffer[LogEntry](size),
	}
}

// SetHub attaches the live-streaming hub.
func (b *LogBroadcaster) SetHub(hub Broadcaster) {
	b.mu.Lock()
	b.hub = hub
	b.mu.Unlock()
}

// Write consumes one zerolog JSON line. Lines that fail to parse are
// dropped without failing the write, so the logger itself never errors.
func (b *LogBroadcaster) Write(p []byte) (int, error) {
	entry, ok := parseEntry(p)
	if !ok {
		return len(p), nil
	}

	b.buffer.Push(entry)

	b.mu.RLock()
	hub := b.hub
	b.mu.RUnlock()
	if hub != nil {
		_ = hub.Broadcast("logs:entry", entry)
	}
	return len(p), nil
}

// GetRecentLogs returns the buffered entries, oldest first.
func (b *LogBroadcaster) GetRecentLogs() []LogEntry {
	return b.buffer.GetAll()
}

func parseEntry(line []byte) (LogEntry, bool) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return LogEntry{}, false
	}

	var entry LogEntry
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		s, isString := v.(string)
		switch {
		case k == "time" && isString:
			entry.Timestamp = s
		case k == "level" && isString:
			entry.Level = s
		case k == "component" && isString:
			entry.Component = s
		case k == "message" && isString:
			entry.Message = s
		default:
			fields[k] = v
		}
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}
	return entry, true
}
