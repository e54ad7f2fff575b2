package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/uniguide/internal/profile"
	"github.com/spf13/cobra"
)

func newProfileCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show and edit the student profile",
	}
	cmd.AddCommand(newProfileShowCmd(flags), newProfileSetCmd(flags), newProfileImportCmd(flags))
	return cmd
}

func newProfileShowCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := loadDependencies(ctx, flags)
			if err != nil {
				return err
			}
			defer d.Close()

			store, err := d.openStore(ctx, d.cfg.Profile.Path)
			if err != nil {
				return err
			}
			snap := store.Snapshot()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			printProfile(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// printProfile lists known fields in form order, then any extra keys.
func printProfile(w io.Writer, p profile.Profile) {
	if len(p) == 0 {
		fmt.Fprintln(w, "Profile is empty.")
		return
	}
	seen := make(map[string]bool, len(p))
	for _, f := range profile.Schema() {
		v, ok := p[f.Key]
		if !ok {
			continue
		}
		seen[f.Key] = true
		fmt.Fprintf(w, "%s: %s\n", f.Label, formatValue(v))
	}
	var extra []string
	for k := range p {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		fmt.Fprintf(w, "%s: %s\n", k, formatValue(p[k]))
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case []string:
		return strings.Join(t, ", ")
	case float64:
		return profile.FormatNumber(t)
	default:
		return fmt.Sprint(t)
	}
}

func newProfileSetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set key=value...",
		Short: "Set profile fields",
		Long: `Set one or more profile fields. All values are validated before any is
saved, so a rejected value leaves the profile unchanged.

Examples:
  uniguide profile set name=Asha btech_cgpa=8.7
  uniguide profile set preferred_countries="USA, UK, Germany"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partial := make(map[string]any, len(args))
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok || strings.TrimSpace(key) == "" {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				partial[strings.TrimSpace(key)] = value
			}
			return mergeProfile(cmd, flags, partial)
		},
	}
}

func newProfileImportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import file.json",
		Short: "Merge profile fields from a JSON object",
		Long:  `Merge profile fields from a JSON object. Use "-" to read standard input.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var partial map[string]any
			if err := json.NewDecoder(r).Decode(&partial); err != nil {
				return fmt.Errorf("decoding %s: %w", args[0], err)
			}
			return mergeProfile(cmd, flags, partial)
		},
	}
}

func mergeProfile(cmd *cobra.Command, flags *globalFlags, partial map[string]any) error {
	ctx := cmd.Context()
	d, err := loadDependencies(ctx, flags)
	if err != nil {
		return err
	}
	defer d.Close()

	store, err := d.openStore(ctx, d.cfg.Profile.Path)
	if err != nil {
		return err
	}
	if err := store.Merge(ctx, partial); err != nil {
		return err
	}
	if err := store.PersistErr(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %d field(s).\n", len(partial))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
