package invites

import "time"

// DefaultMinAccountAgeDays is the fake-join threshold used when a
// community has not configured one.
const DefaultMinAccountAgeDays = 7

// IsFake reports whether an arriving account is young enough to count
// the join as fake: strictly less than minAgeDays whole days old at
// the time of arrival.
func IsFake(createdAt, now time.Time, minAgeDays int) bool {
	if minAgeDays <= 0 {
		minAgeDays = DefaultMinAccountAgeDays
	}
	ageDays := int(now.Sub(createdAt).Hours() / 24)
	return ageDays < minAgeDays
}
