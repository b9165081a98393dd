package thts

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"
	"time"
)

// LogEntry is one logger row: a snapshot of the root taken at a trial-count
// or time interval.
type LogEntry struct {
	Trials    int64
	Runtime   time.Duration
	RootValue float64
	RootVisit int64
	TreeNodes int64
}

// Logger appends root snapshots at a configured cadence. One worker at a time
// takes the snapshot, chosen by trylock on the logger mutex: a worker that
// loses the race simply skips logging for that trial.
type Logger[S, A comparable] struct {
	mu sync.Mutex

	// TrialInterval and TimeInterval enable the respective triggers; zero
	// disables them.
	TrialInterval int64
	TimeInterval  time.Duration

	// RootValue extracts the scalar to log from the root node, called with
	// the root lock held. Algorithm packages provide suitable closures.
	RootValue func(root *DNode[S, A]) float64

	entries    []LogEntry
	start      time.Time
	lastTrials int64
	lastLog    time.Time
}

// NewLogger returns a logger with the given cadence.
func NewLogger[S, A comparable](trialInterval int64, timeInterval time.Duration, rootValue func(root *DNode[S, A]) float64) *Logger[S, A] {
	return &Logger[S, A]{
		TrialInterval: trialInterval,
		TimeInterval:  timeInterval,
		RootValue:     rootValue,
	}
}

func (l *Logger[S, A]) reset(start time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.start = start
	l.lastLog = start
	l.lastTrials = 0
}

// maybeLog appends one row if an interval has elapsed. Non-blocking: only one
// worker logs at a time.
func (l *Logger[S, A]) maybeLog(p *Pool[S, A]) {
	if !l.mu.TryLock() {
		return
	}
	defer l.mu.Unlock()

	trials := p.TrialsCompleted()
	now := time.Now()
	due := false
	if l.TrialInterval > 0 && trials-l.lastTrials >= l.TrialInterval {
		due = true
	}
	if l.TimeInterval > 0 && now.Sub(l.lastLog) >= l.TimeInterval {
		due = true
	}
	if !due {
		return
	}
	l.lastTrials = trials
	l.lastLog = now

	root := p.Root()
	root.Lock()
	entry := LogEntry{
		Trials:    trials,
		Runtime:   now.Sub(l.start),
		RootVisit: root.NumVisits(),
	}
	if l.RootValue != nil {
		entry.RootValue = l.RootValue(root)
	}
	root.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns the accumulated rows.
func (l *Logger[S, A]) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// WriteCSV emits the rows with a header line.
func (l *Logger[S, A]) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"trials", "runtime_seconds", "root_value", "root_visits"}); err != nil {
		return err
	}
	for _, e := range l.Entries() {
		record := []string{
			strconv.FormatInt(e.Trials, 10),
			strconv.FormatFloat(e.Runtime.Seconds(), 'f', 3, 64),
			strconv.FormatFloat(e.RootValue, 'g', -1, 64),
			strconv.FormatInt(e.RootVisit, 10),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
