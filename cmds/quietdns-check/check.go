package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/safing/quietdns/service/pipeline"
	"github.com/safing/quietdns/service/resolver"
)

var (
	checkCmd = &cobra.Command{
		Use:   "check [upstream-url...]",
		Short: "Probe one or more upstreams with a single test query",
		Long: `Probe one or more upstreams with a single test query each and report
reachability, verified encryption and latency. Upstreams are given as URLs:

  dot://1.1.1.2:853?verify=cloudflare-dns.com&name=Cloudflare
  doh://cloudflare-dns.com/dns-query
  doq://dns.adguard-dns.com:853

With --config, upstreams are read from the config file instead.`,
		RunE: runCheck,
	}

	testDomain   string
	checkTimeout time.Duration
	jsonOutput   bool
)

// checkConfig is the YAML config file format.
type checkConfig struct {
	// Upstreams are resolver config URLs.
	Upstreams []string `yaml:"upstreams"`
	// TestDomain overrides the built-in probe domain.
	TestDomain string `yaml:"testDomain"`
}

func init() {
	flags := checkCmd.Flags()
	flags.StringVarP(&testDomain, "domain", "d", "", "domain to probe with (default example.com)")
	flags.DurationVarP(&checkTimeout, "timeout", "t", 10*time.Second, "timeout per probe")
	flags.BoolVar(&jsonOutput, "json", false, "print reports as JSON")

	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	upstreams := args
	if configFile != "" {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		upstreams = append(upstreams, cfg.Upstreams...)
		if testDomain == "" {
			testDomain = cfg.TestDomain
		}
	}
	if len(upstreams) == 0 {
		return errors.New("no upstreams given, pass URLs or --config")
	}

	// Report all outcomes, fail the command if any probe failed.
	var failed bool
	for _, upstream := range upstreams {
		report := probe(cmd.Context(), upstream)
		if err := printReport(cmd, upstream, report); err != nil {
			return err
		}
		if !report.Reachable {
			failed = true
		}
	}
	if failed {
		return errors.New("one or more upstreams failed the check")
	}
	return nil
}

func probe(ctx context.Context, upstream string) *pipeline.CheckReport {
	cfg, err := resolver.ParseConfig(upstream)
	if err != nil {
		return &pipeline.CheckReport{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	return pipeline.CheckUpstream(ctx, cfg, testDomain)
}

func printReport(cmd *cobra.Command, upstream string, report *pipeline.CheckReport) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if !report.Reachable {
		cmd.Printf("FAIL  %s: %s\n", upstream, report.Err)
		return nil
	}
	cmd.Printf("OK    %s: encrypted and verified, latency %s\n", report.Server, report.Latency.Round(time.Millisecond))
	return nil
}

func loadConfig(path string) (*checkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &checkConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
