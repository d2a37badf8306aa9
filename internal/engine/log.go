package engine

import "time"

// Event sources.
const (
	SourceTick   = "tick"
	SourceReduce = "reduce"
	SourceRepair = "repair"
)

// Event records one committed change to an entity.
type Event struct {
	Seq           uint64    `json:"seq"`
	Tick          uint64    `json:"tick"`
	Handle        Handle    `json:"handle"`
	Old           float64   `json:"old"`
	New           float64   `json:"new"`
	Delta         float64   `json:"delta"`
	StatusChanged bool      `json:"status_changed"`
	Band          string    `json:"band"`
	Source        string    `json:"source"`
	Costs         []Cost    `json:"costs,omitempty"`
	At            time.Time `json:"at"`
}

// EventLog is a bounded ring buffer; the oldest events are evicted first.
type EventLog struct {
	buf   []Event
	start int // Index of the oldest event
	count int
	seq   uint64
}

// NewEventLog creates a log holding at most limit events.
func NewEventLog(limit int) *EventLog {
	if limit <= 0 {
		limit = 1
	}
	return &EventLog{buf: make([]Event, limit)}
}

// Append stamps e with the next sequence number and stores it.
func (l *EventLog) Append(e Event) Event {
	l.seq++
	e.Seq = l.seq
	if l.count < len(l.buf) {
		l.buf[(l.start+l.count)%len(l.buf)] = e
		l.count++
		return e
	}
	l.buf[l.start] = e
	l.start = (l.start + 1) % len(l.buf)
	return e
}

// Len returns the number of retained events.
func (l *EventLog) Len() int { return l.count }

// LastSeq returns the sequence number of the most recent event (0 if none).
func (l *EventLog) LastSeq() uint64 { return l.seq }

func (l *EventLog) at(i int) Event {
	return l.buf[(l.start+i)%len(l.buf)]
}

// Recent returns up to limit events, newest first. limit <= 0 returns all.
func (l *EventLog) Recent(limit int) []Event {
	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]Event, 0, limit)
	for i := l.count - 1; i >= l.count-limit; i-- {
		out = append(out, l.at(i))
	}
	return out
}

// Since returns retained events with Seq > seq in chronological order.
func (l *EventLog) Since(seq uint64) []Event {
	var out []Event
	for i := 0; i < l.count; i++ {
		if e := l.at(i); e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Metrics summarizes the most recent tick. It is overwritten every tick.
type Metrics struct {
	Tick              uint64        `json:"tick"`
	Processed         int           `json:"processed"` // Entities whose change was committed
	SkippedPaused     int           `json:"skipped_paused"`
	SkippedConditions int           `json:"skipped_conditions"`
	SkippedHook       int           `json:"skipped_hook"`
	NewlyTerminal     int           `json:"newly_terminal"`
	Events            int           `json:"events"`
	Duration          time.Duration `json:"duration_ns"`
	TotalDelta        float64       `json:"total_delta"`
}

// metricsRing retains the metrics of the last N ticks.
type metricsRing struct {
	buf   []Metrics
	start int
	count int
}

func newMetricsRing(limit int) *metricsRing {
	if limit <= 0 {
		limit = 1
	}
	return &metricsRing{buf: make([]Metrics, limit)}
}

func (r *metricsRing) push(m Metrics) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = m
		r.count++
		return
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
}

// list returns retained metrics oldest first.
func (r *metricsRing) list() []Metrics {
	out := make([]Metrics, r.count)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
