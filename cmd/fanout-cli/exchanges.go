package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rmacdonaldsmith/fanout-go/pkg/management"
	"github.com/spf13/cobra"
)

// filterFlags are the exchange selection flags shared by several commands.
type filterFlags struct {
	name    string
	user    string
	vhost   string
	reFlags string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "Regexp filtering exchange names")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "Regexp filtering the user who created the exchange")
	cmd.Flags().StringVarP(&f.vhost, "vhost", "v", "", "Regexp filtering exchange vhosts")
	cmd.Flags().StringVar(&f.reFlags, "re-flags", "", "Regexp flags applied to every filter (any of i, m, s, U)")
}

func (f *filterFlags) build() ([]management.Filter, error) {
	var filters []management.Filter
	for _, field := range []struct {
		pattern   string
		newFilter func(pattern, flags string) (management.Filter, error)
	}{
		{f.name, management.NameFilter},
		{f.user, management.UserFilter},
		{f.vhost, management.VHostFilter},
	} {
		if field.pattern == "" {
			continue
		}
		filter, err := field.newFilter(field.pattern, f.reFlags)
		if err != nil {
			return nil, err
		}
		filters = append(filters, filter)
	}
	return filters, nil
}

// findExchanges lists the broker's exchanges and applies the filters.
func findExchanges(ctx context.Context, f *filterFlags) ([]management.Exchange, error) {
	if err := requireClient(); err != nil {
		return nil, err
	}
	filters, err := f.build()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Management.Timeout)
	defer cancel()

	exchanges, err := client.ListExchanges(ctx)
	if err != nil {
		return nil, err
	}
	return management.FindMatches(exchanges, filters...), nil
}

func printExchanges(w io.Writer, exchanges []management.Exchange, base int) {
	for i, e := range exchanges {
		fmt.Fprintf(w, "[%4d]: %s (vhost=%s type=%s user=%s)\n", i+base, e.Name, e.VHost, e.Type, e.User)
	}
}

func newExchangesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exchanges",
		Short: "List and delete exchanges",
		Long:  `Commands for inspecting and cleaning up the exchanges that back topics.`,
	}

	cmd.AddCommand(newExchangesListCommand())
	cmd.AddCommand(newExchangesDeleteCommand())

	return cmd
}

func newExchangesListCommand() *cobra.Command {
	var filters filterFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List exchanges matching the filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExchangesList(cmd, &filters)
		},
	}
	filters.register(cmd)

	return cmd
}

func runExchangesList(cmd *cobra.Command, filters *filterFlags) error {
	matches, err := findExchanges(cmd.Context(), filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(matches) == 0 {
		fmt.Fprintln(out, "No matches found.")
		return nil
	}
	fmt.Fprintf(out, "Found %d exchange(s):\n", len(matches))
	printExchanges(out, matches, 1)
	return nil
}

func newExchangesDeleteCommand() *cobra.Command {
	var (
		filters filterFlags
		yes     bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete exchanges matching the filters",
		Long: `Delete every exchange matching the filters. Exchanges created by the
broker itself are never selected. Asks for confirmation unless --yes is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExchangesDelete(cmd, &filters, yes)
		},
	}
	filters.register(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the deletion confirmation")

	return cmd
}

func runExchangesDelete(cmd *cobra.Command, filters *filterFlags, yes bool) error {
	matches, err := findExchanges(cmd.Context(), filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(matches) == 0 {
		fmt.Fprintln(out, "No matches found.")
		return nil
	}

	if !yes {
		fmt.Fprintln(out, "Found matches:")
		printExchanges(out, matches, 1)
		fmt.Fprintf(out, "Will delete total %d exchanges, continue? (Y/n): ", len(matches))

		answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && (err != io.EOF || answer == "") {
			fmt.Fprintln(out)
			return fmt.Errorf("no confirmation received: %w", err)
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "" && answer != "y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Management.Timeout)
	defer cancel()

	for _, e := range matches {
		fmt.Fprintf(out, "Delete %s (vhost=%s)\n", e.Name, e.VHost)
		if err := client.DeleteExchange(ctx, e.VHost, e.Name); err != nil {
			return err
		}
	}
	return nil
}
