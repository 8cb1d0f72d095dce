// Package audit appends security-relevant events to an immutable trail.
// Recording is best-effort by contract: a failing or slow audit sink must
// never block or fail the security decision that produced the event.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"xplora.org/internal/ids"
	"xplora.org/internal/obs"
)

// Event types and categories recognized by the trail. The names match the
// pci_audit_log rows produced by the portal so dashboards keep working.
const (
	EventLogin               = "LOGIN"
	EventLoginFailed         = "LOGIN_FAILED"
	EventFieldRequestSubmit  = "FIELD_REQUEST_SUBMIT"
	EventFieldRequestApprove = "FIELD_REQUEST_APPROVE"
	EventFieldRequestReject  = "FIELD_REQUEST_REJECT"
	EventFieldAccessView     = "FIELD_ACCESS_VIEW"

	CategoryAuth          = "AUTH"
	CategoryAccess        = "ACCESS"
	CategoryAccessRequest = "ACCESS_REQUEST"
)

// Event is one append-only audit record. Actor fields are empty for
// unauthenticated attempts; optional fields stay zero-valued.
type Event struct {
	ID            string         `json:"id"`
	ActorID       string         `json:"actor_id,omitempty"`
	ActorUsername string         `json:"actor_username,omitempty"`
	Type          string         `json:"event_type"`
	Category      string         `json:"event_category"`
	Success       bool           `json:"success"`
	TableName     string         `json:"table_name,omitempty"`
	RecordID      string         `json:"record_id,omitempty"`
	Fields        []string       `json:"accessed_fields,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	At            time.Time      `json:"at"`
}

// Sink persists events. Append errors are swallowed by the Recorder.
type Sink interface {
	Append(ctx context.Context, e Event) error
}

// Recorder decouples event production from persistence with a buffered
// channel drained by one background goroutine. A full buffer drops the
// event (and counts the drop) rather than blocking the caller.
type Recorder struct {
	sink Sink
	ch   chan Event
	wg   sync.WaitGroup
	once sync.Once

	// mu guards closed against the channel close; a send on a closed
	// channel panics even from inside a select.
	mu     sync.RWMutex
	closed bool

	appendTimeout time.Duration
}

// NewRecorder starts the drain goroutine. buffer <= 0 selects the default.
func NewRecorder(sink Sink, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	r := &Recorder{
		sink:          sink,
		ch:            make(chan Event, buffer),
		appendTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Record enqueues an event. It never blocks and never returns an error;
// the event's ID and timestamp are filled in when absent.
func (r *Recorder) Record(e Event) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		obs.AuditDroppedTotal.Inc()
		return
	}
	select {
	case r.ch <- e:
	default:
		obs.AuditDroppedTotal.Inc()
	}
}

// Close stops accepting events and waits for the buffer to drain. Records
// arriving after Close are dropped, not panicked on; a late handler during
// server shutdown may still call Record.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
	})
	r.wg.Wait()
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for e := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), r.appendTimeout)
		if err := r.sink.Append(ctx, e); err != nil {
			// Swallowed by contract; the drop counter is the only trace.
			obs.AuditDroppedTotal.Inc()
		}
		cancel()
	}
}

// LogSink writes events as JSON lines through the shared logger. It doubles
// as the fallback sink when no database is configured.
type LogSink struct{}

func (LogSink) Append(_ context.Context, e Event) error {
	entry := map[string]any{
		"ts":    e.At.Format(time.RFC3339Nano),
		"type":  "audit",
		"event": e.Type,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	entry["record"] = json.RawMessage(data)
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(line))
	return nil
}
