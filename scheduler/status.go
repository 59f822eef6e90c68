package scheduler

import (
	"time"

	"github.com/emilyzhang/scrapr/logger"
)

// ResourceStatus is a snapshot of one scheduled resource.
type ResourceStatus struct {
	Name       string        `json:"name"`
	URL        string        `json:"url"`
	Period     time.Duration `json:"period"`
	Running    bool          `json:"running"`
	Runs       int64         `json:"runs"`
	Skipped    int64         `json:"skipped"`
	LastStart  *time.Time    `json:"last_start,omitempty"`
	LastFinish *time.Time    `json:"last_finish,omitempty"`
	LastEnd    string        `json:"last_end,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	Next       *time.Time    `json:"next,omitempty"`
}

// Status reports every resource in the order they were added.
func (s *Scheduler) Status() []ResourceStatus {
	s.mu.Lock()
	entries := append([]*entry(nil), s.entries...)
	s.mu.Unlock()

	out := make([]ResourceStatus, 0, len(entries))
	for _, e := range entries {
		st := ResourceStatus{
			Name:    e.res.Name,
			URL:     e.res.URL,
			Period:  e.res.Period,
			Running: e.running.Load(),
			Runs:    e.runs.Load(),
			Skipped: e.skipped.Load(),
		}
		e.mu.Lock()
		st.LastStart = timePtr(e.lastStart)
		st.LastFinish = timePtr(e.lastFinish)
		st.LastEnd = e.lastEnd
		st.LastError = e.lastErr
		e.mu.Unlock()
		st.Next = timePtr(s.cron.Entry(e.id).Next)
		out = append(out, st)
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// cronLogger routes cron's own logging to logger.Interface. Cron reports
// every wakeup at info level, so those go to debug.
type cronLogger struct {
	log logger.Interface
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
