package domain

import "time"

// CancelMarks holds the advisory "recently cancelled" marks, keyed by employee id and
// then eSIM id. A mark only says a cancel was issued at a given time; it never
// overrides a record read after that time.
type CancelMarks map[int64]map[int64]time.Time

// CancelledAt returns when the eSIM was marked cancelled, if it was.
func (m CancelMarks) CancelledAt(employeeID, esimID int64) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	at, ok := m[employeeID][esimID]
	return at, ok
}

// Add records a mark, allocating as needed.
func (m CancelMarks) Add(employeeID, esimID int64, at time.Time) {
	if m[employeeID] == nil {
		m[employeeID] = map[int64]time.Time{}
	}
	m[employeeID][esimID] = at
}
