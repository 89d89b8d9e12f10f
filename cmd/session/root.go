package session

import (
	"context"

	"github.com/ValentinKolb/dMux/cmd/util"
	"github.com/ValentinKolb/dMux/rpc/client"
	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/spf13/cobra"
)

var (
	rpcClient    *client.Client
	clientConfig common.ClientConfig
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common client flags to the commands
	util.SetupClientFlags(CallCmd)
	util.SetupClientFlags(BenchCmd)
}

// setupClient resolves the configuration and starts the runtime context
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	cfg, err := util.GetClientConfig()
	if err != nil {
		return err
	}
	return startClient(cmd, cfg)
}

// startClient creates and starts the runtime context for cfg
func startClient(cmd *cobra.Command, cfg common.ClientConfig) (err error) {
	clientConfig = cfg
	rpcClient, err = util.NewClient(cfg)
	if err != nil {
		return err
	}
	return rpcClient.Start(cmd.Context())
}

// teardownClient stops the runtime context
func teardownClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Stop(context.Background())
}
