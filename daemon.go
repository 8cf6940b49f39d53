package autofilter

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/DuyNguyen1879/autofilter/config"
	"github.com/DuyNguyen1879/autofilter/data"
	"github.com/DuyNguyen1879/autofilter/store"
)

// Daemon ties the filter together: it follows the access log, groups the
// traffic into minute batches and turns threshold breaches into block
// records the web server picks up at its next reload.
//
// The whole classification path runs as one control flow. The only other
// goroutines serve read-only snapshots, which is what the two mutexes guard.
type Daemon struct {
	config    *config.Config
	policy    *Policy
	parser    *LineParser
	batcher   *Batcher
	tailer    *Tailer
	resolver  *Resolver
	whitelist *Whitelist
	notifier  *Notifier
	history   *FlushWindow
	api       *API
	kvstore   store.KVStore

	batchMutex  sync.RWMutex
	ledgerMutex sync.RWMutex
	lastRecords []*data.Record

	ctx context.Context
}

// New creates a Daemon from the given configuration. It refuses to tail
// anything but the production log: pointing the daemon at an old copy would
// re-block everyone in it.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	if cfg.AccessLog != cfg.ProductionLog && !cfg.ForceLog {
		return nil, fmt.Errorf("refusing to tail %s instead of %s (use -i-mean-it to override)", cfg.AccessLog, cfg.ProductionLog)
	}

	if err := os.MkdirAll(cfg.VarDir(), 0755); err != nil {
		return nil, errors.Wrapf(err, "can't create %s", cfg.VarDir())
	}

	policy, err := LoadPolicy(cfg.PolicyFile())
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		config: cfg,
		policy: policy,
		parser: NewLineParser(),
		ctx:    ctx,
	}

	d.kvstore, err = NewBadgerDB(ctx, cfg.BadgerPath)
	if err != nil {
		return nil, err
	}

	d.whitelist, err = NewWhitelist(ctx, cfg.WhitelistTOML)
	if err != nil {
		return nil, err
	}

	d.resolver = NewResolver(ctx, cfg, d.kvstore)
	d.notifier = NewNotifier(cfg.PidFile, cfg.ReloadEvery)
	d.history = NewFlushWindow(cfg.NumMinutes)
	d.batcher = NewBatcher(d.flush)

	d.tailer, err = NewTailer(cfg.AccessLog, true, cfg.MaxLogSize, d.notifier)
	if err != nil {
		return nil, err
	}

	// the web server may still be holding blocks from a previous run
	ledger, err := ReadLedger(cfg.BlockFile())
	if err != nil {
		return nil, err
	}
	d.lastRecords = ledger.Records()
	blockedIPs.Set(float64(ledger.Len()))

	if cfg.APIAddress != "" {
		d.api, err = NewAPI(ctx, cfg, d)
		if err != nil {
			return nil, err
		}
	}

	if cfg.LogMemoryStats {
		go d.logMemoryStats()
	}

	go func() {
		<-ctx.Done()
		d.kvstore.Close()
	}()

	return d, nil
}

// Run follows the access log until the context is canceled or the log path
// disappears. An in-flight flush always completes; no new flush starts
// after cancellation.
func (d *Daemon) Run() error {
	log.Infof("following %s, blocking via %s", d.config.AccessLog, d.config.BlockFile())
	return d.tailer.Run(d.ctx, d.handleLine)
}

func (d *Daemon) handleLine(line string) {
	linesTotal.Inc()

	l, err := d.parser.Parse(line)
	if err != nil {
		linesUnparseable.Inc()
		log.Warnf("can't parse log line %q: %s", line, err)
		return
	}

	d.batchMutex.Lock()
	d.batcher.Add(l, Weigh(l))
	d.batchMutex.Unlock()
}

// flush classifies one completed minute. It runs inside the daemon loop's
// control flow: read the ledger, expire, evaluate every IP of the batch,
// rewrite the ledger atomically, then maybe signal the web server.
func (d *Daemon) flush(b *Batch) {
	now := time.Now()

	ledger, err := ReadLedger(d.config.BlockFile())
	if err != nil {
		log.Errorf("flush for minute %s skipped: %s", b.Minute, err)
		return
	}

	ledger.Expire(now)

	var totalLoad int64
	blocked, exempted := 0, 0

	for ip, load := range b.Load {
		totalLoad += load

		limit := d.policy.LimitFor(ip, b.Country[ip])
		if load <= limit {
			continue
		}

		domain, verr := d.resolver.Verify(ip)
		if verr == nil {
			if ok, who := d.whitelist.IsCrawler(domain); ok {
				log.Infof("%s resolves to %s (%s), load %d tolerated", ip, domain, who, load)
				crawlerExemptions.Inc()
				exempted++
				continue
			}
		} else {
			dnsErrors.Inc()
		}

		annotation := fmt.Sprintf("%s | %s", strings.TrimSuffix(domain, "."), b.UserAgent[ip])
		if verr != nil {
			annotation = fmt.Sprintf("error: %s | %s", verr, b.UserAgent[ip])
		}

		until := now.Add(d.policy.BlockFor(ip, b.Country[ip]))
		ledger.Upsert(&data.Record{
			IP:         ip,
			Until:      until,
			Country:    b.Country[ip],
			Load:       load,
			Annotation: annotation,
		})

		blocksTotal.Inc()
		blocked++
		log.Infof("blocking %s (%s) until %s, load %d > %d", ip, b.Country[ip], until.Format(LedgerTimeLayout), load, limit)
	}

	if err := ledger.Write(); err != nil {
		// fatal for this flush only, the next one retries
		log.Errorf("flush for minute %s failed: %s", b.Minute, err)
		return
	}

	if d.notifier.MaybeReload(now, ledger.IPs()) {
		reloadsSent.Inc()
	} else {
		reloadsSuppressed.Inc()
	}

	flushesTotal.Inc()
	blockedIPs.Set(float64(ledger.Len()))

	d.history.Add(data.FlushStats{
		Minute:    b.Minute,
		IPs:       len(b.Load),
		TotalLoad: totalLoad,
		Blocked:   blocked,
		Exempted:  exempted,
	})

	d.ledgerMutex.Lock()
	d.lastRecords = ledger.Records()
	d.ledgerMutex.Unlock()
}

// BlockedRecords returns the block set as of the last flush.
func (d *Daemon) BlockedRecords() []*data.Record {
	d.ledgerMutex.RLock()
	defer d.ledgerMutex.RUnlock()

	return append([]*data.Record(nil), d.lastRecords...)
}

// BlockedRecord returns the record for one IP, or nil.
func (d *Daemon) BlockedRecord(ip string) *data.Record {
	d.ledgerMutex.RLock()
	defer d.ledgerMutex.RUnlock()

	for _, rec := range d.lastRecords {
		if rec.IP == ip {
			return rec
		}
	}

	return nil
}

// BatchSnapshot returns a copy of the minute currently accumulating.
func (d *Daemon) BatchSnapshot() *Batch {
	d.batchMutex.RLock()
	defer d.batchMutex.RUnlock()

	return d.batcher.Snapshot()
}

// FlushHistory returns the retained flush summaries.
func (d *Daemon) FlushHistory() []data.FlushStats {
	return d.history.Summaries()
}

// Policy returns the loaded policy.
func (d *Daemon) Policy() *Policy {
	return d.policy
}

func (d *Daemon) logMemoryStats() {
	ticker := time.NewTicker(time.Minute)
	for {
		select {
		case <-d.ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			log.Infof("-=- alloc: %s, in_use: %s, objs: %s, idle: %s, released: %s, stack: %s, goroutines: %s",
				humanize.Bytes(m.Alloc),
				humanize.Bytes(m.HeapInuse),
				humanize.FormatInteger("#,###.", int(m.HeapObjects)),
				humanize.Bytes(m.HeapIdle),
				humanize.Bytes(m.HeapReleased),
				humanize.Bytes(m.StackInuse),
				humanize.FormatInteger("#,###.", runtime.NumGoroutine()))
		}
	}
}
