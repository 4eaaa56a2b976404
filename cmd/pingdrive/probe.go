package main

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/noblewhale/pingdrive/icmpx/echo"
	"github.com/noblewhale/pingdrive/internal/pool"
)

// errRequiredFlags reports that probe was invoked without its required
// --interface and --pool-file flags.
var errRequiredFlags = errors.New("probe: --interface and at least one --pool-file are required")

var probeCfg struct {
	Interface string
	PoolFiles []string
	Timeout   time.Duration
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Ping every selectable address in one or more pool files to check reachability",
	Long: `probe pings every address the engine could select from the given pool
files (each pool's entries at indexes below the length of the shortest pool;
entries past that are not probed), re-sending the echo each second until a
reply or --timeout, and reports which ones replied, without starting the
filesystem or committing any address to a loop. Run this before mounting to
catch a misconfigured interface or an unreachable pool early.`,
	RunE: runProbe,
}

func init() {
	flags := probeCmd.Flags()
	flags.StringVar(&probeCfg.Interface, "interface", "", "network interface to bind the ICMPv4 socket on (required)")
	flags.StringArrayVar(&probeCfg.PoolFiles, "pool-file", nil, "path to a whitespace-separated IPv4 address pool file; repeatable, at least one required")
	flags.DurationVar(&probeCfg.Timeout, "timeout", 2*time.Second, "per-address ping timeout")
}

func runProbe(cmd *cobra.Command, args []string) error {
	log := newLogger(cfg)

	if probeCfg.Interface == "" || len(probeCfg.PoolFiles) == 0 {
		log.Error("probe requires --interface and at least one --pool-file")
		return errRequiredFlags
	}

	ifi, err := net.InterfaceByName(probeCfg.Interface)
	if err != nil {
		log.Error("failed to resolve interface", "interface", probeCfg.Interface, "error", err)
		return err
	}

	registry := pool.NewRegistry()
	for _, path := range probeCfg.PoolFiles {
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

	client, err := echo.NewClient(ifi)
	if err != nil {
		log.Error("failed to open ICMPv4 socket", "interface", probeCfg.Interface, "error", err)
		return err
	}
	defer client.Close()

	// Only probe loop indexes Sample could ever draw; pools longer than the
	// shortest one have addresses the engine would never select.
	var unreachable int
	for loopIndex := 0; loopIndex < registry.Smallest(); loopIndex++ {
		for i := 0; i < registry.Len(); i++ {
			addr := registry.At(i, loopIndex)

			ctx, cancel := context.WithTimeout(context.Background(), probeCfg.Timeout)
			res, err := client.Ping(ctx, addr)
			cancel()

			if err != nil {
				unreachable++
				log.Warn("unreachable", "pool", i, "loop_index", loopIndex, "address", addr, "error", err)
				continue
			}
			log.Info("reachable", "pool", i, "loop_index", loopIndex, "address", addr, "rtt", res.Duration)
		}
	}

	if unreachable > 0 {
		log.Warn("probe finished with unreachable addresses", "count", unreachable)
	} else {
		log.Info("probe finished, every probed address replied")
	}

	return nil
}
