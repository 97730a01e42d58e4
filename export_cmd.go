package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"askh/internal/config"
	"askh/internal/export"
)

var (
	exportFormat  string
	exportVersion string
	exportOut     string
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <workspace-id | timeline.json>",
		Short: "Export a saved timeline as a zip archive or a git repository",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	cmd.Flags().StringVar(&exportFormat, "format", "zip", "output format: zip or git")
	cmd.Flags().StringVar(&exportVersion, "version", "", "checkpoint id or version for zip (default is the latest)")
	cmd.Flags().StringVarP(&exportOut, "output", "o", "", "output file (zip) or directory (git)")
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	path := args[0]
	if filepath.Ext(path) != ".json" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		path = cfg.GetTimelinePath(path)
	}

	tl, err := export.LoadTimeline(path)
	if err != nil {
		return err
	}
	if tl.Latest() == nil {
		return fmt.Errorf("timeline %s has no checkpoints", path)
	}

	switch exportFormat {
	case "zip":
		v := tl.Latest()
		if exportVersion != "" {
			var ok bool
			if v, ok = tl.Find(exportVersion); !ok {
				return fmt.Errorf("checkpoint %q not found in %s", exportVersion, path)
			}
		}
		out := exportOut
		if out == "" {
			out = fmt.Sprintf("%s-v%d.zip", tl.WorkspaceID, v.Version)
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := export.WriteZip(f, "project", v.Files); err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%d files, v%d %s)\n", out, len(v.Files), v.Version, v.Label)
		return f.Close()

	case "git":
		out := exportOut
		if out == "" {
			out = tl.WorkspaceID
		}
		n, err := export.WriteGit(out, tl.Versions, export.Author{})
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d commits to %s\n", n, out)
		return nil

	default:
		return fmt.Errorf("unknown format %q (want zip or git)", exportFormat)
	}
}
