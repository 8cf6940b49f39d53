package data

import "time"

// Record is one blocked IP as kept in the block file. The web server consumes
// the file as a map at its next configuration reload; everything after the
// "1;" payload token is a comment from its point of view.
type Record struct {
	IP         string    `json:"ip"`
	Until      time.Time `json:"until"`
	Country    string    `json:"country"`
	Load       int64     `json:"load"`
	Annotation string    `json:"annotation"`
}

// Expired reports whether the block has run out at the given time.
func (r *Record) Expired(now time.Time) bool {
	return !r.Until.After(now)
}
