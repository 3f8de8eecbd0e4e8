package cmd

import (
	"bytes"
	"fmt"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after merging flags, TMPLSERVE_* environment
variables, the config file and defaults. The output is a valid .tmplserve.yml.

Examples:
  tmplserve config
  tmplserve config --output .tmplserve.yml   # write a starter config file`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().StringVarP(&configOutput, "output", "o", "", "write the YAML to this file instead of stdout")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if configOutput == "" {
		_, err = cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}

	if err := atomic.WriteFile(configOutput, &buf); err != nil {
		return fmt.Errorf("unable to write %s: %w", configOutput, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configOutput)
	return nil
}
