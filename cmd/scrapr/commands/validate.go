package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/emilyzhang/scrapr/config"
	"github.com/emilyzhang/scrapr/extract"
)

func newValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and list its resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), cfg)
		},
	}
}

func printSummary(w io.Writer, cfg *config.Config) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tURL\tPERIOD\tTARGETS\tCONTINUATION")
	for _, r := range cfg.Resources {
		cont := "-"
		if r.Continuation != nil {
			cont = r.Continuation.Ref.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.URL, r.Period, targetSummary(r.Targets), cont)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d resource(s) OK, storing visits in %s (%s)\n",
		len(cfg.Resources), cfg.Database.DSN, cfg.Database.Driver)
	return err
}

// targetSummary renders a target tree as Name(Child,Child).
func targetSummary(t extract.Targets) string {
	if len(t) == 0 {
		return "-"
	}
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		part := name
		if node := t[name]; node != nil && len(node.Then) > 0 {
			part += "(" + targetSummary(node.Then) + ")"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ",")
}
