package usftp

import (
	"sync/atomic"
	"time"

	"gopkg.in/robfig/cron.v2"

	"github.com/antsftp/usftp/internal/ulog"
)

// Watchdog periodically scans a Client's request table for requests that
// have been outstanding longer than MaxAge and logs them. It never
// retries, cancels, or otherwise touches the table — reconnect/retry
// behavior is explicitly out of scope; this is observability only.
//
// The request table is owned by the Client's single task (see
// requestTable); cron runs its schedule on its own goroutine, so the
// cron callback never touches reqs directly. It only raises due, and
// poll — called from the Client's own task inside recvAndFind — does
// the actual scan when due is set, keeping every read of the table on
// the task that's allowed to read it.
type Watchdog struct {
	interval time.Duration
	maxAge   time.Duration

	cr      *cron.Cron
	entryID cron.EntryID

	due int32
}

// NewWatchdog creates a Watchdog that scans every interval, logging any
// request older than maxAge. Pass it to a Client via WithWatchdog.
func NewWatchdog(interval, maxAge time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxAge <= 0 {
		maxAge = 60 * time.Second
	}
	return &Watchdog{interval: interval, maxAge: maxAge}
}

// attach starts scanning reqs on cr's schedule, logging through logger.
// Called once by newClient after construction; a Watchdog is good for
// exactly one Client.
func (w *Watchdog) attach(reqs *requestTable, logger ulog.Logger) {
	w.cr = cron.New()
	spec := "@every " + w.interval.String()
	id, err := w.cr.AddFunc(spec, func() { atomic.StoreInt32(&w.due, 1) })
	if err != nil {
		ulog.Errorf(logger, "watchdog: bad schedule %q: %v", spec, err)
		return
	}
	w.entryID = id
	w.cr.Start()
}

// poll runs a scan if the cron schedule has fired since the last poll.
// Must only be called from the Client's own task (recvAndFind), which is
// the sole task allowed to read reqs — this is what keeps the scan out
// of the cron goroutine.
func (w *Watchdog) poll(reqs *requestTable, logger ulog.Logger) {
	if w == nil {
		return
	}
	if !atomic.CompareAndSwapInt32(&w.due, 1, 0) {
		return
	}
	w.scan(reqs, logger)
}

func (w *Watchdog) scan(reqs *requestTable, logger ulog.Logger) {
	now := time.Now()
	for i := 0; i < reqs.size(); i++ {
		rec := reqs.at(i)
		if !rec.registered {
			continue
		}
		if age := now.Sub(rec.registeredAt); age > w.maxAge {
			ulog.Warnf(logger, "watchdog: request %d outstanding for %s", rec.ID, age.Round(time.Second))
		}
	}
}

// stop ends the scan schedule. Safe to call even if attach was never
// called (e.g. construction failed before the watchdog was wired in).
func (w *Watchdog) stop() {
	if w.cr != nil {
		w.cr.Stop()
	}
}
