package usftp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// capturingLogger records each formatted line so tests can assert on how
// many warnings fired, without caring about exact wording.
type capturingLogger struct {
	lines []string
}

func (l *capturingLogger) Printf(format string, args ...interface{}) {
	l.lines = append(l.lines, format)
}

func TestWatchdogScanLogsOnlyStaleRegisteredRequests(t *testing.T) {
	var reqs requestTable

	fresh := reqs.allocate()
	reqs.register(fresh)

	stale := reqs.allocate()
	reqs.register(stale)
	stale.registeredAt = time.Now().Add(-time.Hour)

	reqs.allocate() // never registered, must be skipped

	w := NewWatchdog(time.Second, 10*time.Second)
	logger := &capturingLogger{}
	w.scan(&reqs, logger)

	assert.Len(t, logger.lines, 1, "only the stale, registered request should be logged")
}

func TestNewWatchdogDefaults(t *testing.T) {
	w := NewWatchdog(0, 0)
	assert.Equal(t, 30*time.Second, w.interval)
	assert.Equal(t, 60*time.Second, w.maxAge)
}

func TestWatchdogStopWithoutAttachIsSafe(t *testing.T) {
	w := NewWatchdog(time.Second, time.Second)
	assert.NotPanics(t, w.stop)
}

// TestWatchdogPollOnlyScansOnceDue exercises the cron-goroutine/owning-task
// split: attach's cron callback only ever raises due (simulated here by
// setting it directly, since the real schedule runs on its own goroutine),
// and poll — the thing the Client's own task calls from recvAndFind — is
// what actually walks the table and consumes the flag.
func TestWatchdogPollOnlyScansOnceDue(t *testing.T) {
	var reqs requestTable
	stale := reqs.allocate()
	reqs.register(stale)
	stale.registeredAt = time.Now().Add(-time.Hour)

	w := NewWatchdog(time.Second, 10*time.Second)
	logger := &capturingLogger{}

	w.poll(&reqs, logger)
	assert.Empty(t, logger.lines, "poll should not scan before due is raised")

	w.due = 1
	w.poll(&reqs, logger)
	assert.Len(t, logger.lines, 1, "poll should scan exactly once after due is raised")

	w.poll(&reqs, logger)
	assert.Len(t, logger.lines, 1, "a second poll without a new cron tick must not scan again")
}

func TestWatchdogPollOnNilWatchdogIsSafe(t *testing.T) {
	var w *Watchdog
	var reqs requestTable
	assert.NotPanics(t, func() { w.poll(&reqs, &capturingLogger{}) })
}
