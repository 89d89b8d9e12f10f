package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dMux/cmd/config"
	"github.com/ValentinKolb/dMux/cmd/serve"
	"github.com/ValentinKolb/dMux/cmd/session"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dmux",
		Short: "client-side session runtime",
		Long: fmt.Sprintf(`dMux (v%s)

A client-side session runtime written in Go. It keeps a pool of long-lived
connections to a remote RPC-style service, multiplexes requests over them
and tunes throughput and latency with result caching, request batching,
adaptive timeouts and connection health tracking.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dMux",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dMux v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(session.CallCmd)
	RootCmd.AddCommand(session.BenchCmd)
	RootCmd.AddCommand(config.ConfigCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
