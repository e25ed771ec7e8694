package main

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newListCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list [files...]",
		Short:   "List the suites and tests that run would execute",
		PreRunE: bindLocalFlags(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, suites, err := loadSuites(v, args)
			if err != nil {
				return err
			}
			var grep *regexp.Regexp
			if cfg.Grep != "" {
				if grep, err = regexp.Compile(cfg.Grep); err != nil {
					return usageError(fmt.Errorf("grep: %w", err))
				}
			}

			out := cmd.OutOrStdout()
			total := 0
			for _, s := range suites {
				fmt.Fprintf(out, "%s (%s)\n", s.Title, s.File)
				for _, t := range s.Tests {
					if grep != nil && grep.MatchString(t.GrepTitle()) == cfg.Invert {
						continue
					}
					total++
					line := "  - " + t.Title
					if tags := t.AllTags(); len(tags) > 0 {
						line += " [" + strings.Join(tags, " ") + "]"
					}
					if t.Skip || s.Skip {
						line += " (skipped)"
					}
					fmt.Fprintln(out, line)
				}
			}
			fmt.Fprintf(out, "\n%d tests in %d suites\n", total, len(suites))
			return nil
		},
	}
	cmd.Flags().String("grep", "", "only list tests whose full title matches this regexp")
	cmd.Flags().Bool("invert", false, "list the tests grep does not match")
	return cmd
}
