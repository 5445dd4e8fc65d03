package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const configFlagName = "config"

// addConfigFlag adds --config and reads the file before the command runs.
// Environment variables named <APP>_<SECTION>_<KEY> override it.
func (a *App) addConfigFlag(fs *pflag.FlagSet) {
	fs.StringVarP(&a.configFile, configFlagName, "c", a.configFile,
		"Read configuration from the specified `FILE`, supports JSON, TOML and YAML formats.")

	viper.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(a.name, "-", "_")))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// applyConfig merges the configuration file, environment and flags into the
// options. Flags set on the command line win.
func (a *App) applyConfig(cmd *cobra.Command) error {
	if a.configFile != "" {
		viper.SetConfigFile(a.configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read configuration file %s: %w", a.configFile, err)
		}
	}
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return nil
}
