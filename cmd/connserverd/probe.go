package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-connserver/config"
	"github.com/cyberinferno/go-connserver/probe"
	"github.com/cyberinferno/go-connserver/server"
)

func probeCmd(configPath *string) *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "probe [address...]",
		Short: "Check that interfaces accept connections",
		Long: `Connect to each address, print the first line the server sends and
disconnect. Without arguments the configured interfaces are probed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := args
			if len(targets) == 0 {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				if targets, err = configuredTargets(cfg); err != nil {
					return err
				}
			}

			results := probeAll(cmd.Context(), targets, timeout)

			failed := 0
			for _, res := range results {
				if !res.OK() {
					failed++
				}
				printResult(cmd, res, asJSON)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d probes failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "dial and banner timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per result")

	return cmd
}

// configuredTargets turns the configured interfaces into probe addresses.
func configuredTargets(cfg config.Config) ([]string, error) {
	ifaces, err := server.ParseInterfaces(cfg.Server.Interfaces, cfg.Server.DefaultPort)
	if err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Network == "unix" {
			targets = append(targets, "unix:"+iface.Address)
			continue
		}
		targets = append(targets, iface.Address)
	}
	return targets, nil
}

// probeAll checks every target concurrently and keeps the input order.
func probeAll(ctx context.Context, targets []string, timeout time.Duration) []probe.Result {
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]probe.Result, len(targets))
	var g errgroup.Group
	g.SetLimit(8)
	for i, target := range targets {
		g.Go(func() error {
			results[i] = probe.Check(ctx, target, timeout)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func printResult(cmd *cobra.Command, res probe.Result, asJSON bool) {
	out := cmd.OutOrStdout()

	if asJSON {
		v := struct {
			probe.Result
			LatencyMS float64 `json:"latency_ms"`
			Error     string  `json:"error,omitempty"`
		}{Result: res, LatencyMS: float64(res.Latency.Microseconds()) / 1000}
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
		_ = json.NewEncoder(out).Encode(v)
		return
	}

	if !res.OK() {
		fmt.Fprintf(out, "FAIL %s: %v\n", res.Address, res.Err)
		return
	}
	fmt.Fprintf(out, "OK   %s %s %q\n", res.Address, res.Latency.Round(time.Microsecond), res.Banner)
}
