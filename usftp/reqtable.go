package usftp

import (
	"sort"
	"time"
)

// requestRecord is one outstanding request: its wire ID, whether the send
// that published that ID has completed (registered), and an opaque slot
// the transfer engine uses to attach per-block bookkeeping. The table
// owns a record until find matches it to a response, after which
// ownership passes to the caller.
type requestRecord struct {
	ID           uint32
	registered   bool
	registeredAt time.Time // for Watchdog staleness checks only
	userdata     interface{}
}

// requestTable is an ordered dictionary of outstanding requestRecords,
// keyed by ID, kept as a slice sorted ascending by ID so that both
// indexed access and ID lookup are binary searches. All IDs are >= 256;
// allocate hands out the lowest ID not currently in the table in O(log n)
// via a binary search over this dense-prefix property.
type requestTable struct {
	records []*requestRecord
}

// allocate reserves the lowest unused request ID (>= 256) and returns its
// (unregistered) record. The caller must build and dispatch the packet
// carrying this ID, then call register — until then, a response
// referencing this ID is treated as a mismatch, since the send may not
// have completed (or may never have been sent at all, e.g. on a
// cancelled path).
func (t *requestTable) allocate() *requestRecord {
	n := len(t.records)

	// binary search for the greatest index m (-1 if none) such that the
	// prefix [0..m] is dense, i.e. record[i].ID == i+firstRequestID for
	// every i <= m. Because records are sorted and IDs are distinct and
	// all >= firstRequestID, record[i].ID - i - firstRequestID is
	// non-decreasing in i and zero exactly on a prefix, so this is a
	// standard last-true-value binary search.
	lo, hi, m := 0, n-1, -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if t.records[mid].ID == uint32(mid+firstRequestID) {
			m = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	id := uint32(m + 1 + firstRequestID)
	rec := &requestRecord{ID: id}

	insertAt := m + 1
	t.records = append(t.records, nil)
	copy(t.records[insertAt+1:], t.records[insertAt:])
	t.records[insertAt] = rec
	return rec
}

// register marks rec as eligible to be matched by find. Call this once
// the send that published rec's ID has completed.
func (t *requestTable) register(rec *requestRecord) {
	rec.registered = true
	rec.registeredAt = time.Now()
}

// indexOf returns the slice index holding id, or -1.
func (t *requestTable) indexOf(id uint32) int {
	i := sort.Search(len(t.records), func(i int) bool {
		return t.records[i].ID >= id
	})
	if i < len(t.records) && t.records[i].ID == id {
		return i
	}
	return -1
}

// find looks up id, requires it be present and registered, removes it
// from the table, and returns it. A missing or unregistered ID is a
// protocol error — the caller should treat the inbound packet as
// consumed (freed) in that path, never corrupting the table.
func (t *requestTable) find(id uint32) (*requestRecord, error) {
	i := t.indexOf(id)
	if i < 0 || !t.records[i].registered {
		return nil, protocolErrorf("request ID mismatch")
	}
	rec := t.records[i]
	t.records = append(t.records[:i], t.records[i+1:]...)
	return rec, nil
}

// cancel removes id unconditionally (registered or not), for use when a
// caller abandons a request or transfer without waiting for its
// response. Returns false if id was not outstanding.
func (t *requestTable) cancel(id uint32) bool {
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	t.records = append(t.records[:i], t.records[i+1:]...)
	return true
}

// size returns the number of outstanding requests.
func (t *requestTable) size() int { return len(t.records) }

// at returns the k-th record in ID order (indexed access, per the table's
// ordered-dictionary contract).
func (t *requestTable) at(k int) *requestRecord { return t.records[k] }
