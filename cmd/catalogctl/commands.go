package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/startup"
)

func (a *app) newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print catalog totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			db, err := a.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			stats, err := db.GetStats(ctx)
			if err != nil {
				return err
			}
			last, err := db.GetLastRecount(ctx)
			if err != nil {
				return err
			}
			writeStats(cmd.OutOrStdout(), stats.TotalFiles, stats.UntaggedFiles, stats.MissingFiles,
				stats.TotalTags, stats.TotalLocations, last)
			return nil
		},
	}
}

func writeStats(w io.Writer, files, untagged, missing, tags, locations int, lastRecount time.Time) {
	_, _ = fmt.Fprintf(w, "Files:        %d\n", files)
	_, _ = fmt.Fprintf(w, "  Untagged:   %d\n", untagged)
	_, _ = fmt.Fprintf(w, "  Missing:    %d\n", missing)
	_, _ = fmt.Fprintf(w, "Tags:         %d\n", tags)
	_, _ = fmt.Fprintf(w, "Locations:    %d\n", locations)
	if lastRecount.IsZero() {
		_, _ = fmt.Fprintln(w, "Last recount: never")
	} else {
		_, _ = fmt.Fprintf(w, "Last recount: %s\n", lastRecount.Local().Format(time.RFC3339))
	}
}

func (a *app) newRecountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recount",
		Short: "Recompute every tag count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := a.openCatalog(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			start := time.Now()
			out := cmd.ErrOrStderr()
			err = svc.Recount(cmd.Context(), func(done, total int) {
				_, _ = fmt.Fprintf(out, "\rRecounting tags: %d/%d", done, total)
			})
			_, _ = fmt.Fprintln(out)
			if err != nil {
				return err
			}
			counts := svc.Counts()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Recounted %d tags in %v (%d files, %d untagged, %d missing)\n",
				svc.Graph().Len(), time.Since(start).Round(time.Millisecond), counts.Total, counts.Untagged, counts.Missing)
			return nil
		},
	}
}

func (a *app) newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the catalog as a JSON snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			snap, err := db.Export(cmd.Context())
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", args[0], err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(snap); err != nil {
				return fmt.Errorf("failed to write snapshot: %w", err)
			}
			if len(args) == 1 {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d files and %d tags to %s\n",
					len(snap.Files), len(snap.Tags), args[0])
			}
			return nil
		},
	}
}

func (a *app) newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the catalog with a JSON snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[0])
			if err != nil {
				return err
			}

			svc, closeFn, err := a.openCatalog(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := svc.Import(cmd.Context(), snap); err != nil {
				return err
			}
			counts := svc.Counts()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d files, %d tags, %d locations (%d untagged)\n",
				counts.Total, len(snap.Tags), len(snap.Locations), counts.Untagged)
			return nil
		},
	}
}

func readSnapshot(path string) (*database.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var snap database.Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &snap, nil
}

func (a *app) newVacuumCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim unused database space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			before := fileSize(a.config.Database.Path)
			if err := db.Vacuum(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Vacuumed %s (%d -> %d bytes)\n",
				a.config.Database.Path, before, fileSize(a.config.Database.Path))
			return nil
		},
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management utilities",
	}
	cmd.AddCommand(newConfigGenerateCommand())
	return cmd
}

func newConfigGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write config.yaml with the built-in defaults",
		Args:  cobra.NoArgs,
		// The defaults are written as they are; no config is read.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			outputDir, _ := cmd.Flags().GetString("output")
			overwrite, _ := cmd.Flags().GetBool("overwrite")

			filename, err := generateConfig(outputDir, overwrite)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", filename)
			return nil
		},
	}

	cmd.Flags().String("output", ".", "output directory for the configuration file")
	cmd.Flags().Bool("overwrite", false, "overwrite an existing file")
	return cmd
}

func generateConfig(outputDir string, overwrite bool) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := filepath.Join(outputDir, "config.yaml")
	if _, err := os.Stat(filename); err == nil && !overwrite {
		return "", fmt.Errorf("%s exists, use --overwrite to replace it", filename)
	}

	data, err := yaml.Marshal(startup.Defaults())
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file %s: %w", filename, err)
	}
	return filename, nil
}
