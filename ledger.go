package autofilter

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DuyNguyen1879/autofilter/data"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LedgerTimeLayout is the block-until timestamp format. Second precision,
// local time, no zone suffix. The format is a consumer contract with the
// web server and must not change.
const LedgerTimeLayout = "2006-01-02T15:04:05"

// Ledger is the persisted block set. The web server reads the file as a map
// at every configuration reload, so the file is only ever replaced by an
// atomic rename and never contains a partial record.
type Ledger struct {
	path    string
	records map[string]*data.Record
}

// ReadLedger loads the block file. A missing file is an empty ledger. A
// malformed file is treated as empty too: the daemon is the only writer, so
// a bad record means the file is not ours to trust.
func ReadLedger(path string) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		records: make(map[string]*data.Record),
	}

	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, errors.Wrapf(err, "can't open block file %s", path)
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, err := parseRecord(line)
		if err != nil {
			log.Warnf("block file %s is malformed (%s), starting from an empty block set", path, err)
			l.records = make(map[string]*data.Record)
			return l, nil
		}

		l.records[rec.IP] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "can't read block file %s", path)
	}

	return l, nil
}

// Expire drops all records whose block has run out.
func (l *Ledger) Expire(now time.Time) int {
	expired := make([]string, 0)
	for ip, rec := range l.records {
		if rec.Expired(now) {
			expired = append(expired, ip)
		}
	}

	for _, ip := range expired {
		log.Debugf("block for %s expired", ip)
		delete(l.records, ip)
	}

	return len(expired)
}

// Upsert adds a record, replacing any previous one for the same IP.
func (l *Ledger) Upsert(rec *data.Record) {
	l.records[rec.IP] = rec
}

// Get returns the record for an IP, or nil.
func (l *Ledger) Get(ip string) *data.Record {
	return l.records[ip]
}

// Len returns the number of blocked IPs.
func (l *Ledger) Len() int {
	return len(l.records)
}

// IPs returns the blocked IPs, sorted.
func (l *Ledger) IPs() []string {
	ips := make([]string, 0, len(l.records))
	for ip := range l.records {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}

// Records returns all records sorted by load descending, then IP.
func (l *Ledger) Records() []*data.Record {
	recs := make([]*data.Record, 0, len(l.records))
	for _, rec := range l.records {
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(a, b int) bool {
		if recs[a].Load != recs[b].Load {
			return recs[a].Load > recs[b].Load
		}
		return recs[a].IP < recs[b].IP
	})

	return recs
}

// Write serializes the ledger to a temp sibling and renames it over the
// block file. Readers either see the old file or the new one, never a
// partial write.
func (l *Ledger) Write() error {
	var sb strings.Builder
	for _, rec := range l.Records() {
		sb.WriteString(formatRecord(rec))
	}

	tmp := fmt.Sprintf("%s.%s", l.path, uuid.New().String())
	if err := os.WriteFile(tmp, []byte(sb.String()), 0644); err != nil {
		return errors.Wrapf(err, "can't write block file %s", tmp)
	}

	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "can't rename %s to %s", tmp, l.path)
	}

	return nil
}

func formatRecord(rec *data.Record) string {
	return fmt.Sprintf("%45s 1; # %s %10d %s %s\n",
		rec.IP,
		rec.Country,
		rec.Load,
		rec.Until.Format(LedgerTimeLayout),
		rec.Annotation)
}

func parseRecord(line string) (*data.Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return nil, fmt.Errorf("%d tokens instead of at least 7", len(fields))
	}

	if fields[1] != "1;" || fields[2] != "#" {
		return nil, fmt.Errorf("unexpected payload tokens %q %q", fields[1], fields[2])
	}

	load, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad load %q", fields[4])
	}

	until, err := time.ParseInLocation(LedgerTimeLayout, fields[5], time.Local)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q", fields[5])
	}

	return &data.Record{
		IP:         fields[0],
		Until:      until,
		Country:    fields[3],
		Load:       load,
		Annotation: strings.Join(fields[6:], " "),
	}, nil
}
