package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hostsgen/pkg/history"
	"hostsgen/pkg/manifest"
	"hostsgen/pkg/pipeline"
	"hostsgen/pkg/rules"
	"hostsgen/pkg/version"
)

func newNormalizeCommand() *cobra.Command {
	var showRejected bool

	cmd := &cobra.Command{
		Use:   "normalize [file...]",
		Short: "Print the domains accepted from list lines read from files or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := bufio.NewWriter(cmd.OutOrStdout())
			defer out.Flush()

			if len(args) == 0 {
				return normalizeStream(cmd.InOrStdin(), out, showRejected)
			}
			for _, name := range args {
				file, err := os.Open(name) // #nosec G304 -- path is provided on the command line.
				if err != nil {
					return err
				}
				err = normalizeStream(file, out, showRejected)
				_ = file.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showRejected, "show-rejected", false, "also print rejected lines with their reason")
	return cmd
}

func normalizeStream(r io.Reader, w io.Writer, showRejected bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		res := rules.Normalize(line)
		switch {
		case res.OK():
			fmt.Fprintln(w, res.Domain)
		case showRejected && res.Reason.Noisy():
			fmt.Fprintf(w, "# %s: %s\n", res.Reason, strings.TrimSpace(line))
		}
	}
	return scanner.Err()
}

type sourcesDocument struct {
	Manifest string                    `yaml:"manifest,omitempty"`
	Sources  []manifest.Source         `yaml:"sources,omitempty"`
	Catalog  []manifest.ListDefinition `yaml:"catalog,omitempty"`
}

func newSourcesCommand(a *app) *cobra.Command {
	var catalog bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Print the resolved source lists as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()

			if catalog {
				return enc.Encode(sourcesDocument{Catalog: catalogEntries()})
			}

			a.bindBuildFlags(cmd.Flags())
			if err := a.load(true); err != nil {
				return err
			}
			defer a.close()
			a.applyToggles(cmd.Flags())

			b, err := a.newBuilder()
			if err != nil {
				return err
			}
			defer b.close()

			sources, err := pipeline.ResolveSources(cmd.Context(), b.base)
			if err != nil {
				return err
			}
			return enc.Encode(sourcesDocument{Manifest: a.cfg.Manifest.Location, Sources: sources})
		},
	}
	addBuildFlags(cmd.Flags())
	cmd.Flags().BoolVar(&catalog, "catalog", false, "print the built-in list catalog instead")
	return cmd
}

func catalogEntries() []manifest.ListDefinition {
	entries := make([]manifest.ListDefinition, 0, len(manifest.Catalog))
	for _, def := range manifest.Catalog {
		entries = append(entries, def)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Label < entries[j].Label
	})
	return entries
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(true); err != nil {
				return err
			}
			defer a.close()
			if a.cfg.History.Path == "" {
				return errors.New("history.path is not configured")
			}

			store, err := history.Open(a.cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tMODE\tOK\tFAILED\tENTRIES\tADDED\tRETRACTED\tDURATION")
			for _, run := range runs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
					run.ID, run.StartedAt.Local().Format(time.DateTime), run.Mode, run.SourcesOK, run.SourcesFailed,
					run.Entries, run.Added, run.Retracted, run.Duration().Round(time.Millisecond))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hostsgen %s\n", version.Version)
		},
	}
}
