package autofilter

import (
	"strings"

	"github.com/DuyNguyen1879/autofilter/data"
	"github.com/satyrius/gonx"
)

// LogFormat describes the tab-separated access-log lines the front-end
// server writes. Fields after the user agent are ignored.
const LogFormat = "$time_iso\t$country\t$ip\t$scheme\t$host\t$request_method\t\"$request_uri\"\t$status\t$body_bytes_sent\t\"$http_referer\"\t\"$http_user_agent\""

// LineParser extracts the named fields from a single access-log line.
type LineParser struct {
	parser *gonx.Parser
}

// NewLineParser creates a parser for the fixed access-log format.
func NewLineParser() *LineParser {
	return &LineParser{
		parser: gonx.NewParser(LogFormat),
	}
}

// Parse extracts a data.Line. A pattern mismatch is returned as an error;
// the caller decides whether that is fatal (it never is in the daemon loop).
func (lp *LineParser) Parse(line string) (*data.Line, error) {
	// cut off whatever follows the user agent before matching the format
	n := strings.Count(LogFormat, "\t") + 1
	if fields := strings.SplitN(line, "\t", n+1); len(fields) > n {
		line = strings.Join(fields[:n], "\t")
	}

	entry, err := lp.parser.ParseString(line)
	if err != nil {
		return nil, err
	}

	l := &data.Line{}
	l.Time, _ = entry.Field("time_iso")
	l.Country, _ = entry.Field("country")
	l.IP, _ = entry.Field("ip")
	l.Scheme, _ = entry.Field("scheme")
	l.Host, _ = entry.Field("host")
	l.Method, _ = entry.Field("request_method")
	l.URI, _ = entry.Field("request_uri")
	l.Status, _ = entry.Field("status")
	l.Bytes, _ = entry.Field("body_bytes_sent")
	l.Referer, _ = entry.Field("http_referer")
	l.UserAgent, _ = entry.Field("http_user_agent")

	return l, nil
}
