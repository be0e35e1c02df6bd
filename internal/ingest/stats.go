package ingest

import (
	"sync/atomic"
	"time"
)

// Statistics jsou čítače procesu. Zapisuje do nich jen doručovací goroutina,
// číst je může kdokoliv (health, reporty), proto atomiky.
type Statistics struct {
	received atomic.Uint64
	written  atomic.Uint64
	failed   atomic.Uint64
	rejected atomic.Uint64
	start    time.Time
}

// NewStatistics vynuluje čítače a zapamatuje si čas startu.
func NewStatistics(start time.Time) *Statistics {
	return &Statistics{start: start}
}

// Snapshot je konzistentní kopie čítačů pro report.
type Snapshot struct {
	Received uint64
	Written  uint64
	Failed   uint64
	Rejected uint64
	Start    time.Time
	Uptime   time.Duration
}

func (s *Statistics) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		Received: s.received.Load(),
		Written:  s.written.Load(),
		Failed:   s.failed.Load(),
		Rejected: s.rejected.Load(),
		Start:    s.start,
		Uptime:   now.Sub(s.start),
	}
}

// SuccessRate vrací procento zapsaných ze všech přijatých zpráv.
// Bez přijatých zpráv je výsledek 0.
func (s Snapshot) SuccessRate() float64 {
	if s.Received == 0 {
		return 0
	}
	return float64(s.Written) / float64(s.Received) * 100
}
