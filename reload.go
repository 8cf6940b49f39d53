package autofilter

import (
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// Notifier delivers signals to the web server and throttles configuration
// reloads. Reloads are expensive for the server, so it gets at most one per
// ReloadEvery and none at all while the block-set membership is unchanged.
type Notifier struct {
	pidFile     string
	reloadEvery time.Duration

	lastReload     time.Time
	lastMembership string
}

// NewNotifier creates a Notifier for the web server behind the given pidfile.
func NewNotifier(pidFile string, reloadEvery time.Duration) *Notifier {
	return &Notifier{
		pidFile:     pidFile,
		reloadEvery: reloadEvery,
	}
}

// Reopen asks the web server to reopen its log descriptors after a rotation.
func (n *Notifier) Reopen() error {
	return n.signal(syscall.SIGUSR1)
}

// MaybeReload sends a configuration reload if the block-set membership
// changed and the last reload is long enough ago. It reports whether a
// signal was sent.
func (n *Notifier) MaybeReload(now time.Time, ips []string) bool {
	membership := strings.Join(ips, "\n")

	if now.Sub(n.lastReload) < n.reloadEvery {
		return false
	}

	if membership == n.lastMembership {
		return false
	}

	if err := n.signal(syscall.SIGHUP); err != nil {
		log.Warnf("can't reload the web server: %s", err)
		return false
	}

	n.lastReload = now
	n.lastMembership = membership
	log.Infof("reloaded the web server, %d IPs blocked", len(ips))

	return true
}

// signal reads the pidfile and delivers sig. A missing pidfile or a stale
// PID is skipped silently: the server not running is not our problem.
func (n *Notifier) signal(sig syscall.Signal) error {
	raw, err := os.ReadFile(n.pidFile)
	if err != nil {
		log.Debugf("no pidfile at %s, skipping signal", n.pidFile)
		return nil
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		log.Debugf("pidfile %s does not contain a PID, skipping signal", n.pidFile)
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		log.Debugf("no process %d, skipping signal", pid)
		return nil
	}

	if err := proc.Signal(sig); err != nil {
		log.Debugf("can't signal process %d: %s", pid, err)
		return nil
	}

	return nil
}
