// Package cmd provides the tmplserve command line.
//
// Configuration is merged from, highest priority first:
//
//  1. command-line flags (--config, --log-level, --port, ...)
//  2. TMPLSERVE_* environment variables, for example TMPLSERVE_SERVER_PORT
//  3. the config file: --config, else TMPLSERVE_CONFIG_FILE, else .tmplserve.yml
//  4. built-in defaults
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/tmplserve/internal/config"
	"github.com/conneroisu/tmplserve/internal/logging"
)

const envPrefix = "TMPLSERVE"

var (
	cfgFile   string
	configErr error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tmplserve",
	Short: "Serve a directory of Jinja-style templates over HTTP",
	Long: `tmplserve renders pongo2 templates from a content directory and serves
the rest of that directory as static files.

  tmplserve serve      Start the HTTP server
  tmplserve check      Parse every template and report failures
  tmplserve config     Print the effective configuration
  tmplserve version    Show build information`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .tmplserve.yml, can also use TMPLSERVE_CONFIG_FILE)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	bindFlags(flags, map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	})
}

// bindFlags maps flag names onto viper keys.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if f := fs.Lookup(flag); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}

func initConfig() {
	explicit := cfgFile
	if explicit == "" {
		explicit = os.Getenv(envPrefix + "_CONFIG_FILE")
	}

	if explicit != "" {
		viper.SetConfigFile(explicit)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tmplserve")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	configErr = nil
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// A missing default file is fine; a missing or broken explicit one is not.
		if explicit != "" || !errors.As(err, &notFound) {
			configErr = fmt.Errorf("unable to read config file: %w", err)
		}
	}
}

// loadConfig returns the merged configuration for the running command.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	return config.Load()
}

func newLogger(cfg *config.Config) (*logging.ServerLogger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	}), nil
}
