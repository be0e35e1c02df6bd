package ingest

import (
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// processRSS vrací RSS (Resident Set Size) tohoto procesu v MB.
// RSS je skutečná fyzická RAM, kterou proces blokuje.
func processRSS() (float64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mi, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(mi.RSS) / 1024.0 / 1024.0, nil
}

// logReport zaloguje jeden řádek se statistikami.
func logReport(logger *slog.Logger, msg string, snap Snapshot) {
	attrs := []any{
		"uptime", snap.Uptime.Round(time.Second).String(),
		"received", snap.Received,
		"written", snap.Written,
		"failed", snap.Failed,
		"rejected", snap.Rejected,
		"success_pct", math.Round(snap.SuccessRate()*10) / 10,
	}
	if rss, err := processRSS(); err == nil {
		attrs = append(attrs, "rss_mb", math.Round(rss*10)/10)
	} else {
		logger.Debug("RSS nelze zjistit", "error", err)
	}
	logger.Info(msg, attrs...)
}
