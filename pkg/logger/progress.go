package logger

import (
	"fmt"
	"sync"
	"time"
)

// BatchProgress tracks progress of a multi-filing batch run. Filings finish
// at very different speeds (a holding company's ledger can be thousands of
// times larger than a dormant subsidiary's), so progress is logged at time
// intervals rather than per filing.
type BatchProgress struct {
	logger      Logger
	operation   string
	totalFiles  int64
	doneFiles   int64
	records     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// NewBatchProgress creates a progress tracker for a batch of filings.
func NewBatchProgress(operation string, totalFiles int, log Logger) *BatchProgress {
	if log == nil {
		log = GetGlobalLogger()
	}

	tracker := &BatchProgress{
		logger:      log.WithComponent("progress"),
		operation:   operation,
		totalFiles:  int64(totalFiles),
		startTime:   time.Now(),
		lastLogTime: time.Now(),
		logInterval: 5 * time.Second,
	}

	tracker.logger.WithFields(Fields{
		"operation":   operation,
		"total_files": totalFiles,
	}).Info("Starting batch operation")

	return tracker
}

// FilingDone records one completed filing and the number of records it
// contributed.
func (p *BatchProgress) FilingDone(records int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.doneFiles++
	p.records += int64(records)

	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logProgress(now)
		p.lastLogTime = now
	}
}

// Complete marks the batch as complete and logs final statistics.
func (p *BatchProgress) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	p.logger.WithFields(Fields{
		"operation": p.operation,
		"filings":   p.doneFiles,
		"records":   p.records,
		"duration":  duration.String(),
	}).Info("Batch operation completed")
}

// CompleteWithError marks the batch as aborted.
func (p *BatchProgress) CompleteWithError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithError(err).WithFields(Fields{
		"operation": p.operation,
		"filings":   p.doneFiles,
		"duration":  time.Since(p.startTime).String(),
	}).Error("Batch operation failed")
}

func (p *BatchProgress) logProgress(now time.Time) {
	elapsed := now.Sub(p.startTime)
	percent := float64(0)
	if p.totalFiles > 0 {
		percent = float64(p.doneFiles) / float64(p.totalFiles) * 100
	}

	p.logger.WithFields(Fields{
		"operation": p.operation,
		"filings":   fmt.Sprintf("%d/%d", p.doneFiles, p.totalFiles),
		"percent":   fmt.Sprintf("%.1f%%", percent),
		"records":   p.records,
		"elapsed":   elapsed.Truncate(time.Second).String(),
	}).Info("Batch progress")
}
