package util

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dMux/rpc/client"
	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/serializer"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// ClientFlagSet returns the configuration flags of the session runtime
func ClientFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)

	key := "config"
	fs.String(key, "", WrapString("Path of a config file (json, yaml or toml). Options not set in the file keep their default"))

	key = "preset"
	fs.String(key, "", WrapString("Start from a preset instead of the defaults ("+strings.Join(common.PresetNames, ", ")+")"))

	key = "endpoint"
	fs.String(key, "", WrapString("The address of the remote endpoint (overrides the config)"))

	key = "transport"
	fs.String(key, "", WrapString("Transport to use: tcp, unix, http, ws, mem (overrides the config)"))

	key = "serializer"
	fs.String(key, "", WrapString("Serializer to use: json, gob, binary (overrides the config)"))

	key = "log-level"
	fs.String(key, "", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	return fs
}

// SetupClientFlags adds the configuration flags of the session runtime to a command
func SetupClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().AddFlagSet(ClientFlagSet())
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(common.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetClientConfig resolves the configuration: preset (or defaults), config
// file, DMUX_* environment variables and finally the command line flags
func GetClientConfig() (common.ClientConfig, error) {
	base := common.DefaultClientConfig()
	if name := viper.GetString("preset"); name != "" {
		preset, err := common.Preset(name)
		if err != nil {
			return common.ClientConfig{}, err
		}
		base = preset
	}

	cfg, err := common.LoadClientConfigFrom(base, viper.GetString("config"))
	if err != nil {
		return common.ClientConfig{}, err
	}

	if v := viper.GetString("endpoint"); v != "" {
		cfg.Endpoint = v
	}
	if v := viper.GetString("transport"); v != "" {
		cfg.Transport.Type = v
	}
	if v := viper.GetString("serializer"); v != "" {
		cfg.Transport.Serializer = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

// NewClient creates the runtime context for cfg with the configured transport
// and serializer
func NewClient(cfg common.ClientConfig) (*client.Client, error) {
	if err := common.InitLoggers(cfg.LogLevel); err != nil {
		return nil, err
	}
	factory, err := client.NewTransportFactory(cfg.Transport)
	if err != nil {
		return nil, err
	}
	s, err := serializer.New(cfg.Transport.Serializer)
	if err != nil {
		return nil, err
	}
	return client.NewClient(cfg, factory, s)
}

// PrintResult prints the result of a benchmark test in a formatted way
func PrintResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}
