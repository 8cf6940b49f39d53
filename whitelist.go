package autofilter

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml"
	log "github.com/sirupsen/logrus"
	fsnotify "gopkg.in/fsnotify.v1"
)

// defaultCrawlerSuffixes are the verified-crawler domains that are exempt
// from blocking. Matching happens on the FQDN with its trailing dot, the
// way the forward-confirmed lookup returns it.
var defaultCrawlerSuffixes = []SuffixRule{
	{Pattern: ".googlebot.com.", Description: "Googlebot"},
	{Pattern: ".google.com.", Description: "Google"},
	{Pattern: ".yandex.com.", Description: "Yandex"},
	{Pattern: ".yandex.net.", Description: "Yandex"},
	{Pattern: ".yandex.ru.", Description: "Yandex"},
	{Pattern: ".search.msn.com.", Description: "Bing"},
}

// SuffixRule is a single crawler-domain suffix rule.
type SuffixRule struct {
	Pattern     string
	Description string
}

// suffixRules is the shape of the optional whitelist override file.
type suffixRules struct {
	Suffix []SuffixRule
}

// Whitelist decides whether a forward-confirmed domain belongs to a search
// engine crawler. The built-in suffixes are always active; an optional TOML
// file can add more and is reloaded when it is written to. A file that does
// not exist at startup is not watched.
type Whitelist struct {
	overridePath string
	suffixes     []SuffixRule
	mutex        sync.RWMutex
	UpdatedAt    time.Time
	ctx          context.Context
}

// NewWhitelist creates the crawler whitelist. overridePath may name a file
// that doesn't exist; the built-in suffixes apply either way.
func NewWhitelist(ctx context.Context, overridePath string) (*Whitelist, error) {
	wl := &Whitelist{
		overridePath: overridePath,
		ctx:          ctx,
	}

	if err := wl.Load(); err != nil {
		return nil, err
	}

	if overridePath != "" {
		wl.reloadOnConfigChanges()
	}

	return wl, nil
}

// IsCrawler reports whether the domain ends in one of the crawler suffixes
// and which rule matched.
func (wl *Whitelist) IsCrawler(domain string) (bool, string) {
	fqdn := strings.ToLower(domain)
	if !strings.HasSuffix(fqdn, ".") {
		fqdn += "."
	}

	wl.mutex.RLock()
	defer wl.mutex.RUnlock()

	for _, r := range wl.suffixes {
		if strings.HasSuffix(fqdn, r.Pattern) {
			return true, r.Description
		}
	}

	return false, ""
}

// Suffixes returns a copy of the active suffix rules.
func (wl *Whitelist) Suffixes() []SuffixRule {
	wl.mutex.RLock()
	defer wl.mutex.RUnlock()

	return append([]SuffixRule(nil), wl.suffixes...)
}

// Load builds the active suffix set from the built-in rules plus the
// override file, when present.
func (wl *Whitelist) Load() error {
	suffixes := append([]SuffixRule(nil), defaultCrawlerSuffixes...)

	if wl.overridePath != "" {
		extra, err := wl.loadOverride()
		if err != nil {
			return err
		}
		suffixes = append(suffixes, extra...)
	}

	wl.mutex.Lock()
	wl.suffixes = suffixes
	wl.UpdatedAt = time.Now()
	wl.mutex.Unlock()

	log.Infof("crawler whitelist loaded, %d suffixes", len(suffixes))
	return nil
}

func (wl *Whitelist) loadOverride() ([]SuffixRule, error) {
	configBytes, err := os.ReadFile(wl.overridePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var rules suffixRules
	if err := toml.Unmarshal(configBytes, &rules); err != nil {
		return nil, err
	}

	suffixes := make([]SuffixRule, 0, len(rules.Suffix))
	for _, r := range rules.Suffix {
		pattern := strings.ToLower(strings.TrimSpace(r.Pattern))
		if pattern == "" {
			continue
		}
		if !strings.HasSuffix(pattern, ".") {
			pattern += "."
		}
		if !strings.HasPrefix(pattern, ".") {
			pattern = "." + pattern
		}
		suffixes = append(suffixes, SuffixRule{Pattern: pattern, Description: r.Description})
	}

	return suffixes, nil
}

func (wl *Whitelist) reloadOnConfigChanges() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Errorf("couldn't start whitelist fsnotify watcher: %s", err)
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-wl.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					if err := wl.Load(); err != nil {
						log.Warnf("whitelist reload failed: %s", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("whitelist watcher error event: %s", err)
			}
		}
	}()

	if err := watcher.Add(wl.overridePath); err != nil {
		// the override file may not exist yet
		log.Debugf("not watching %s: %s", wl.overridePath, err)
	}
}
