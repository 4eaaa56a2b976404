// Command pingdrive mounts a filesystem whose files live nowhere but in a
// continuous loop of ICMP echoes bounced off remote hosts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/noblewhale/pingdrive/icmpx"
	"github.com/noblewhale/pingdrive/internal/config"
	"github.com/noblewhale/pingdrive/internal/fsys"
	"github.com/noblewhale/pingdrive/internal/metrics"
	"github.com/noblewhale/pingdrive/internal/mountfs"
	"github.com/noblewhale/pingdrive/internal/pingloop"
	"github.com/noblewhale/pingdrive/internal/pool"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cfg = &config.Config{}

var rootCmd = &cobra.Command{
	Use:   "pingdrive",
	Short: "Mount a filesystem backed by ICMP echo loops",
	Long: `pingdrive encodes file contents into the payload of ICMP Echo Request
packets and keeps them perpetually bouncing off redundant pools of remote
hosts, reconstructing file data from whichever echo reply arrives first.`,
	RunE: run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pingdrive %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

func main() {
	config.Register(rootCmd, cfg)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(probeCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return err
	}

	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		log.Error("failed to resolve interface", "interface", cfg.Interface, "error", err)
		return err
	}

	registry := pool.NewRegistry()
	for _, path := range cfg.PoolFiles {
		f, err := os.Open(path)
		if err != nil {
			log.Error("failed to open pool file", "path", path, "error", err)
			return err
		}
		err = registry.AddList(f)
		f.Close()
		if err != nil {
			log.Error("failed to parse pool file", "path", path, "error", err)
			return err
		}
	}
	log.Info("loaded address pools", "pools", registry.Len())

	conn, err := icmpx.ListenIPv4(ifi, icmpx.IPv4Config{})
	if err != nil {
		log.Error("failed to open ICMPv4 socket", "interface", cfg.Interface, "error", err)
		return err
	}
	defer conn.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	transport := pingloop.NewICMPTransport(conn)
	engine := pingloop.NewEngine(transport, registry, clockwork.NewRealClock(), cfg.Timeout, log, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.Start(ctx)
	defer engine.Stop()

	if !cfg.NoMetrics {
		serveMetrics(log, cfg.MetricsAddr, reg)
	}

	tree := fsys.NewTree()
	server, err := mountfs.Mount(cfg.MountPoint, tree, engine, &fs.Options{
		MountOptions: fuseMountOptions(cfg),
	})
	if err != nil {
		log.Error("failed to mount filesystem", "mountpoint", cfg.MountPoint, "error", err)
		return err
	}
	log.Info("mounted", "mountpoint", cfg.MountPoint, "interface", cfg.Interface)

	go func() {
		<-ctx.Done()
		log.Info("shutting down, unmounting")
		_ = server.Unmount()
	}()

	server.Wait()
	return nil
}

func serveMetrics(log *slog.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
}

func fuseMountOptions(cfg *config.Config) fuse.MountOptions {
	return fuse.MountOptions{
		FsName: "pingdrive",
		Name:   "pingdrive",
		Debug:  cfg.Verbose,
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))
}
