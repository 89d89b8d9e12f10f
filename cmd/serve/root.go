package serve

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dMux/cmd/util"
	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/serializer"
	"github.com/ValentinKolb/dMux/rpc/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the mock endpoint",
		Long:    `Start the mock endpoint with the specified configuration. It echoes requests, answers containers member by member and pings with pongs. Methods starting with "error.", "flood." or "silent." are answered with an error, a flood wait (payload = seconds) or not at all. The configuration can be set via command line flags or environment variables. The format of the environment variables is DMUX_<flag> (e.g. DMUX_LATENCY=5ms)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the endpoint will listen (e.g. localhost:8080, /tmp/dmux.sock, ...)"))

	key = "transport"
	ServeCmd.PersistentFlags().String(key, "tcp", cmdUtil.WrapString("Transport to use (tcp, unix, http, ws)"))

	key = "serializer"
	ServeCmd.PersistentFlags().String(key, "binary", cmdUtil.WrapString("Serializer to use (json, gob, binary)"))

	key = "latency"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Latency added to every answer (e.g. 5ms)"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Requests handled concurrently per connection"))

	key = "crypto-key"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Hex encoded 32 byte key. If set, request bodies are opened and answers sealed with it"))

	key = "max-frame-size"
	ServeCmd.PersistentFlags().Int(key, 16*1024*1024, cmdUtil.WrapString("The largest accepted frame (in bytes)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Transport = common.TransportConfig{
		Type:         viper.GetString("transport"),
		Serializer:   viper.GetString("serializer"),
		MaxFrameSize: viper.GetInt("max-frame-size"),
	}
	serveCmdConfig.Latency = viper.GetDuration("latency")
	serveCmdConfig.WorkersPerConn = viper.GetInt("workers")
	serveCmdConfig.CryptoKey = viper.GetString("crypto-key")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.WorkersPerConn < 1 {
		return fmt.Errorf("workers must be positive")
	}
	if serveCmdConfig.Transport.Type == "mem" {
		return fmt.Errorf("the mem transport is only reachable in process, use dmux bench --transport mem")
	}
	return nil
}

// run starts the mock endpoint and serves until interrupted
func run(_ *cobra.Command, _ []string) error {

	// parse the serializer
	s, err := serializer.New(serveCmdConfig.Transport.Serializer)
	if err != nil {
		return err
	}

	// Parse the transport
	t, err := server.NewServerTransport(serveCmdConfig.Transport.Type)
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
		server.NewMockServerAdapter(),
	)
	if err := serv.Serve(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	return serv.Close()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(common.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

}
