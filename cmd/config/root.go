package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/dMux/cmd/util"
	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// ConfigCommands represents the config command group
	ConfigCommands = &cobra.Command{
		Use:   "config",
		Short: "Create, validate and inspect configuration files",
		Long: fmt.Sprintf(`Create, validate and inspect configuration files.
Options are resolved in this order (later wins): defaults or preset, config
file, environment variables (%s_POOL_MAX_CONNECTIONS=20, ...), flags.`, strings.ToUpper(common.EnvPrefix)),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
	}

	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Write a config file from a preset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := viper.GetString("preset")
			if name == "" {
				name = "default"
			}
			cfg, err := common.Preset(name)
			if err != nil {
				return err
			}

			path := viper.GetString("output")
			if filepath.Ext(path) == "" {
				return fmt.Errorf("output %s needs an extension (.json, .yaml or .toml)", path)
			}
			if err := common.SaveClientConfig(cfg, path, viper.GetBool("force")); err != nil {
				return err
			}
			fmt.Printf("Wrote %s preset to %s\n", name, path)
			return nil
		},
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Check the resolved configuration for inconsistent values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := util.GetClientConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("Configuration is valid")
			return nil
		},
	}

	showCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := util.GetClientConfig()
			if err != nil {
				return err
			}
			fmt.Println(cfg.String())
			return nil
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common client flags
	util.SetupClientFlags(ConfigCommands)

	// Add flags for the create command
	key := "output"
	createCmd.Flags().String(key, "dmux.yaml", util.WrapString("Path of the config file, the extension selects the format (json, yaml, toml)"))
	key = "force"
	createCmd.Flags().Bool(key, false, util.WrapString("Overwrite an existing file"))

	// Add subcommands
	ConfigCommands.AddCommand(createCmd)
	ConfigCommands.AddCommand(validateCmd)
	ConfigCommands.AddCommand(showCmd)
}
