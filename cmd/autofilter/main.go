package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/namsral/flag"
	log "github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/DuyNguyen1879/autofilter"
	"github.com/DuyNguyen1879/autofilter/config"
)

const productionLog = "/var/log/nginx/access.log"

func main() {
	cfg := config.Config{
		ProductionLog: productionLog,
	}

	flag.StringVar(&cfg.Root, "root", "/etc/autofilter", "the directory containing autofilter.conf; state goes to its var/ subdirectory")
	flag.StringVar(&cfg.AccessLog, "log", productionLog, "the access log to follow")
	flag.BoolVar(&cfg.ForceLog, "i-mean-it", false, "allow -log to point away from the production access log")
	flag.StringVar(&cfg.PidFile, "pidfile", "/run/nginx.pid", "the web server's pidfile")
	flag.StringVar(&cfg.DNSServer, "dns-server", "127.0.0.1:53", "the resolver used for crawler verification")
	flag.DurationVar(&cfg.DNSTimeout, "dns-timeout", 5*time.Second, "timeout per DNS exchange")
	flag.DurationVar(&cfg.ResolverTTL, "resolver-ttl", 12*time.Hour, "cache confirmed crawler lookups this long")
	flag.DurationVar(&cfg.ResolverErrTTL, "resolver-err-ttl", time.Hour, "cache failed crawler lookups this long")
	flag.StringVar(&cfg.BadgerPath, "badger-path", "", "the directory for the resolver cache (default <root>/var/badger)")
	flag.StringVar(&cfg.WhitelistTOML, "whitelist-toml", "", "extra crawler suffixes (default <root>/var/whitelist.toml)")
	flag.StringVar(&cfg.APIAddress, "api-address", "", "serve the status API on this address (off when empty)")
	flag.Int64Var(&cfg.MaxLogSize, "max-log-size", 1<<30, "rotate the access log when it grows past this many bytes")
	flag.IntVar(&cfg.NumMinutes, "num-minutes", 60, "number of flush summaries to keep for the status API")
	flag.DurationVar(&cfg.ReloadEvery, "reload-every", time.Minute, "minimum time between web server reloads")
	flag.IntVar(&cfg.LogLevel, "loglevel", int(log.InfoLevel), "the log level")
	flag.StringVar(&cfg.LogFile, "logfile", "", "write the daemon's own log here instead of stderr")
	flag.BoolVar(&cfg.LogMemoryStats, "log-memory-stats", false, "log memory usage once a minute")

	flag.Parse()

	log.SetLevel(log.Level(cfg.LogLevel))
	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
		})
	}

	if cfg.BadgerPath == "" {
		cfg.BadgerPath = filepath.Join(cfg.VarDir(), "badger")
	}
	if cfg.WhitelistTOML == "" {
		cfg.WhitelistTOML = filepath.Join(cfg.VarDir(), "whitelist.toml")
	}

	mode := flag.Arg(0)
	if mode == "" {
		log.Fatal("no mode given, expected: autofilter [flags] daemon")
	}

	switch mode {
	case "daemon":
		runDaemon(&cfg)
	default:
		log.Fatalf("unknown mode %q", mode)
	}
}

func runDaemon(cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := autofilter.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- d.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infof("received %s, exiting", sig)
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Fatal(err)
		}
	}
}
