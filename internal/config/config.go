// Package config defines pingdrive's command-line configuration surface,
// bound onto a cobra command's flag set.
package config

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
)

const (
	// DefaultTimeout is the per-destination echo-reply deadline.
	DefaultTimeout = time.Second
	// DefaultMetricsAddr is where Prometheus metrics are served, unless
	// disabled.
	DefaultMetricsAddr = ":9110"
	// DefaultLogLevel is used when --log-level is not given.
	DefaultLogLevel = "info"
)

// A Config holds every flag pingdrive accepts.
type Config struct {
	Interface   string
	PoolFiles   []string
	MountPoint  string
	LogLevel    string
	MetricsAddr string
	NoMetrics   bool
	Timeout     time.Duration
	Verbose     bool
}

// Register binds Config's fields onto cmd's flag set with their defaults.
func Register(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	flags.StringVar(&cfg.Interface, "interface", "", "network interface to bind the ICMPv4 socket on (required)")
	flags.StringArrayVar(&cfg.PoolFiles, "pool-file", nil, "path to a whitespace-separated IPv4 address pool file; repeatable, at least one required")
	flags.StringVar(&cfg.MountPoint, "mount", "", "directory to mount the filesystem at (required)")
	flags.StringVar(&cfg.LogLevel, "log-level", DefaultLogLevel, "log level: debug, info, warn, or error")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", DefaultMetricsAddr, "address to serve Prometheus metrics on")
	flags.BoolVar(&cfg.NoMetrics, "no-metrics", false, "disable the Prometheus metrics server")
	flags.DurationVar(&cfg.Timeout, "timeout", DefaultTimeout, "per-destination echo-reply timeout")
	flags.BoolVar(&cfg.Verbose, "verbose", false, "shorthand for --log-level=debug")
}

// Validate checks that every required flag was supplied.
func (c *Config) Validate() error {
	if c.Interface == "" {
		return errors.New("config: --interface is required")
	}
	if len(c.PoolFiles) == 0 {
		return errors.New("config: at least one --pool-file is required")
	}
	if c.MountPoint == "" {
		return errors.New("config: --mount is required")
	}
	if c.Timeout <= 0 {
		return errors.New("config: --timeout must be positive")
	}
	return nil
}
