package data

// Line is a single parsed access-log line. The front-end server writes the
// fields tab-separated, request URI, referer and user agent quoted. Anything
// after the user agent is ignored.
type Line struct {
	Time      string `json:"time_iso8601"`
	Country   string `json:"country"`
	IP        string `json:"ip"`
	Scheme    string `json:"scheme"`
	Host      string `json:"host"`
	Method    string `json:"request_method"`
	URI       string `json:"request_uri"`
	Status    string `json:"status"`
	Bytes     string `json:"body_bytes_sent"`
	Referer   string `json:"referer"`
	UserAgent string `json:"useragent"`
}

// minutePrefixLen covers "2006-01-02T15:04" of an ISO-8601 timestamp.
const minutePrefixLen = 16

// MinuteKey returns the minute bucket the line belongs to.
// Flushing is keyed on log time, not wall clock, so that replaying a log
// yields the same buckets every time.
func (l *Line) MinuteKey() string {
	if len(l.Time) < minutePrefixLen {
		return l.Time
	}
	return l.Time[:minutePrefixLen]
}
