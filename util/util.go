// Package util contains misc internal utilities.
package util

import (
	"strings"
	"time"
)

// JoinCSV joins pre-formatted fields with commas
func JoinCSV(fields []string) string {
	return strings.Join(fields, ",")
}

// SplitCSV splits comma separated data into fields with surrounding
// whitespace removed.  Instrument replies pad fields with spaces,
// e.g. "+02,0" comes back from a 370 as " 02,0".
func SplitCSV(s string) []string {
	pieces := strings.Split(s, ",")
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// SecsToDuration converts a float number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * 1e9)
}
