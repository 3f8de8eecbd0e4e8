package cmd

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tmplserve/internal/logging"
	"github.com/conneroisu/tmplserve/internal/templates"
)

var checkCmd = &cobra.Command{
	Use:   "check [template-dir]",
	Short: "Parse every template and report failures",
	Long: `Parse every template under the template directory (content.templates,
or the given argument) and print one line per file. Exits non-zero when any
template fails to parse.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dir := cfg.Content.Templates
	if len(args) == 1 {
		dir = args[0]
	}

	store, err := templates.New(dir, templates.WithLogger(logging.NewNopLogger()))
	if err != nil {
		return err
	}
	env, err := store.Acquire()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range env.Names() {
		fmt.Fprintf(out, "ok    %s\n", name)
	}

	failures := env.Failures()
	for _, name := range slices.Sorted(maps.Keys(failures)) {
		fmt.Fprintf(out, "FAIL  %s: %v\n", name, failures[name])
	}

	fmt.Fprintf(out, "\n%d templates, %d failed\n", len(env.Names())+len(failures), len(failures))
	if len(failures) > 0 {
		return fmt.Errorf("%d template(s) failed to parse", len(failures))
	}
	return nil
}
