package config_test

import (
	"testing"

	"github.com/spf13/cobra"

	"github.com/noblewhale/pingdrive/internal/config"
)

func TestRegisterAppliesDefaults(t *testing.T) {
	cfg := &config.Config{}
	cmd := &cobra.Command{Use: "test"}
	config.Register(cmd, cfg)

	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	if cfg.LogLevel != config.DefaultLogLevel {
		t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, config.DefaultLogLevel)
	}
	if cfg.Timeout != config.DefaultTimeout {
		t.Fatalf("Timeout = %v, want %v", cfg.Timeout, config.DefaultTimeout)
	}
}

func TestValidateRequiresInterfacePoolAndMount(t *testing.T) {
	cfg := &config.Config{Timeout: config.DefaultTimeout}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want error for empty config")
	}

	cfg.Interface = "eth0"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want error for missing pool files")
	}

	cfg.PoolFiles = []string{"pool.txt"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want error for missing mount point")
	}

	cfg.MountPoint = "/mnt/pingdrive"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}
