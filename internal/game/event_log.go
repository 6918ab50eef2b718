package game

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize    = 1024                   // Pending events before drops
	MaxEventsPerSec    = 2000                   // Global rate limit
	MaxEventsPerPlayer = 100                    // Per-player rate limit per second
	BatchFlushSize     = 64                     // Events per batch write
	BatchFlushInterval = 100 * time.Millisecond // How often to flush
)

// EventLog is an append-only JSONL audit trail of state changes.
// Emit never blocks: events beyond the rate limits or the buffer are dropped.
type EventLog struct {
	events chan Event

	globalLimiter  *rate.Limiter
	playerLimiters map[string]*rate.Limiter // only touched by the emitting goroutine, dropped on leave

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	file *os.File
	seq  uint64

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
}

// NewEventLog creates a new bounded event log
func NewEventLog() *EventLog {
	return &EventLog{
		events:         make(chan Event, EventBufferSize),
		globalLimiter:  rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		playerLimiters: make(map[string]*rate.Limiter),
		stopChan:       make(chan struct{}),
	}
}

// Start opens filePath for append and begins the async writer
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	el.file = file

	el.running.Store(true)
	el.writerWg.Add(1)
	go el.writerLoop()
	return nil
}

// Stop flushes pending events and closes the file
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		if !el.running.Swap(false) {
			return
		}
		close(el.stopChan)
		el.writerWg.Wait()
		el.file.Close()
	})
}

// Emit queues an event. Returns false if the log is stopped, rate limited or full.
// Emit must only be called from the state goroutine.
func (el *EventLog) Emit(event Event) bool {
	if el == nil || !el.running.Load() {
		return false
	}

	if !el.globalLimiter.Allow() {
		el.droppedCount.Add(1)
		return false
	}

	if event.PlayerID != "" {
		limiter, ok := el.playerLimiters[event.PlayerID]
		if !ok {
			if len(el.playerLimiters) > EventBufferSize {
				clear(el.playerLimiters)
			}
			limiter = rate.NewLimiter(MaxEventsPerPlayer, MaxEventsPerPlayer/10)
			el.playerLimiters[event.PlayerID] = limiter
		}
		allowed := limiter.Allow()
		if event.Type == EventTypePlayerLeave {
			delete(el.playerLimiters, event.PlayerID)
		}
		if !allowed {
			el.droppedCount.Add(1)
			return false
		}
	}

	el.seq++
	event.Sequence = el.seq

	select {
	case el.events <- event:
		el.totalCount.Add(1)
		return true
	default:
		el.droppedCount.Add(1)
		return false
	}
}

// writerLoop batches and writes events to disk
func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	w := bufio.NewWriter(el.file)
	batch := make([]Event, 0, BatchFlushSize)

	for {
		select {
		case <-el.stopChan:
			for {
				select {
				case ev := <-el.events:
					batch = append(batch, ev)
				default:
					el.flushBatch(w, batch)
					return
				}
			}
		case ev := <-el.events:
			batch = append(batch, ev)
			if len(batch) >= BatchFlushSize {
				el.flushBatch(w, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				el.flushBatch(w, batch)
				batch = batch[:0]
			}
		}
	}
}

// flushBatch writes newline-delimited JSON
func (el *EventLog) flushBatch(w *bufio.Writer, batch []Event) {
	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	w.Flush()
}

// Counts returns the total and dropped event counters.
func (el *EventLog) Counts() (total, dropped uint64) {
	return el.totalCount.Load(), el.droppedCount.Load()
}

// GetStats returns counters for monitoring
func (el *EventLog) GetStats() map[string]any {
	return map[string]any{
		"total":   el.totalCount.Load(),
		"dropped": el.droppedCount.Load(),
		"pending": len(el.events),
		"running": el.running.Load(),
	}
}
