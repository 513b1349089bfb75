package admission

import "time"

// retention is how long accepted requests stay in the log. It equals
// the coarsest window we ever count over, so anything older can never
// influence a decision.
const retention = 24 * time.Hour

// record is a single accepted request.
type record struct {
	ts       time.Time
	identity string
	endpoint string
}

// requestLog is an append-only, time-ordered log of accepted requests.
// Callers must append with non-decreasing timestamps (one shared clock);
// pruning relies on insertion order being time order.
//
// Not safe for concurrent use: the owning Limiter serializes access.
type requestLog struct {
	recs []record
}

func (l *requestLog) append(r record) {
	l.recs = append(l.recs, r)
}

// prune drops records older than cutoff from the front of the log.
// Amortized O(1) per appended record.
func (l *requestLog) prune(cutoff time.Time) {
	i := 0
	for i < len(l.recs) && l.recs[i].ts.Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(l.recs, l.recs[i:])
	for j := n; j < len(l.recs); j++ {
		l.recs[j] = record{}
	}
	l.recs = l.recs[:n]
}

// countSince returns how many records have ts >= cutoff. The log is
// time ordered, so records inside the window form a suffix; scan from
// the back and stop at the first record outside it.
func (l *requestLog) countSince(cutoff time.Time) int {
	n := 0
	for i := len(l.recs) - 1; i >= 0; i-- {
		if l.recs[i].ts.Before(cutoff) {
			break
		}
		n++
	}
	return n
}

// oldestSince returns the oldest record with ts >= cutoff, if any.
func (l *requestLog) oldestSince(cutoff time.Time) (record, bool) {
	for i := range l.recs {
		if !l.recs[i].ts.Before(cutoff) {
			return l.recs[i], true
		}
	}
	return record{}, false
}

func (l *requestLog) len() int { return len(l.recs) }

// removeIdentity drops every record for one identity. Remaining
// records keep their relative order, so time ordering is preserved.
func (l *requestLog) removeIdentity(identity string) {
	kept := l.recs[:0]
	for _, r := range l.recs {
		if r.identity != identity {
			kept = append(kept, r)
		}
	}
	for j := len(kept); j < len(l.recs); j++ {
		l.recs[j] = record{}
	}
	l.recs = kept
}

func (l *requestLog) clear() {
	l.recs = nil
}
