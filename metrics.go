package autofilter

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	linesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autofilter_lines_total",
		Help: "Access-log lines read",
	})

	linesUnparseable = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autofilter_lines_unparseable_total",
		Help: "Access-log lines that did not match the log format",
	})

	flushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autofilter_flushes_total",
		Help: "Minute batches flushed",
	})

	blockedIPs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autofilter_blocked_ips",
		Help: "IPs currently in the block file",
	})

	blocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autofilter_blocks_total",
		Help: "Block records written",
	})

	crawlerExemptions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autofilter_crawler_exemptions_total",
		Help: "Threshold breaches exempted as verified crawlers",
	})

	dnsErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autofilter_dns_errors_total",
		Help: "Forward-confirmed reverse DNS failures",
	})

	reloadsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autofilter_reloads_sent_total",
		Help: "Reload signals delivered to the web server",
	})

	reloadsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autofilter_reloads_suppressed_total",
		Help: "Flushes that changed nothing or hit the reload budget",
	})

	rotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autofilter_log_rotations_total",
		Help: "Access-log rotations performed by the tailer",
	})
)

func init() {
	prometheus.MustRegister(
		linesTotal,
		linesUnparseable,
		flushesTotal,
		blockedIPs,
		blocksTotal,
		crawlerExemptions,
		dnsErrors,
		reloadsSent,
		reloadsSuppressed,
		rotationsTotal,
	)
}
