package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/safing/quietdns/base/log"
)

var (
	rootCmd = &cobra.Command{
		Use:   "quietdns-check",
		Short: "Validate encrypted upstream resolver configurations",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLogLevel(log.DebugLevel)
			}
		},
	}

	verbose    bool
	configFile string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	flags.StringVarP(&configFile, "config", "c", "", "read upstreams from a YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
