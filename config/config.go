package config

import (
	"path/filepath"
	"time"
)

// Config contains all configurable bits and pieces the autofilter application
// needs. The configuration gets passed on to all parts of the application
// that need to access it.
type Config struct {
	Root           string
	AccessLog      string
	ProductionLog  string
	ForceLog       bool
	PidFile        string
	DNSServer      string
	DNSTimeout     time.Duration
	ResolverTTL    time.Duration
	ResolverErrTTL time.Duration
	BadgerPath     string
	WhitelistTOML  string
	APIAddress     string
	MaxLogSize     int64
	NumMinutes     int
	ReloadEvery    time.Duration
	LogLevel       int
	LogFile        string
	LogMemoryStats bool
}

// PolicyFile is the path of the policy the daemon loads at startup.
func (c *Config) PolicyFile() string {
	return filepath.Join(c.Root, "autofilter.conf")
}

// VarDir is the working directory for everything the daemon writes.
func (c *Config) VarDir() string {
	return filepath.Join(c.Root, "var")
}

// BlockFile is the path of the block file shared with the web server.
func (c *Config) BlockFile() string {
	return filepath.Join(c.VarDir(), "bot.conf")
}
