package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reelcast/agent/internal/storage"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Manage saved recordings",
}

var libraryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		withLibrary(func(ctx context.Context, lib *storage.Library) error {
			recs, err := lib.List(ctx)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No recordings.")
				return nil
			}
			for _, r := range recs {
				fmt.Printf("%s  %-28s %8s  %s\n",
					r.ID, r.FileName, formatSize(r.Size), r.Duration.Round(time.Second))
			}
			return nil
		})
	},
}

var libraryRmCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Delete a recording",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withLibrary(func(ctx context.Context, lib *storage.Library) error {
			if err := lib.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("Deleted.")
			return nil
		})
	},
}

var libraryExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the library manifest as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		withLibrary(func(ctx context.Context, lib *storage.Library) error {
			recs, err := lib.List(ctx)
			if err != nil {
				return err
			}
			type entry struct {
				ID       string    `yaml:"id"`
				File     string    `yaml:"file"`
				MimeType string    `yaml:"mime_type"`
				Size     int64     `yaml:"size"`
				Duration string    `yaml:"duration"`
				Created  time.Time `yaml:"created"`
			}
			manifest := struct {
				Folder     string  `yaml:"folder"`
				Recordings []entry `yaml:"recordings"`
			}{Folder: lib.Dir()}
			for _, r := range recs {
				manifest.Recordings = append(manifest.Recordings, entry{
					ID:       r.ID,
					File:     r.FileName,
					MimeType: r.MimeType,
					Size:     r.Size,
					Duration: r.Duration.String(),
					Created:  r.Created,
				})
			}
			out, err := yaml.Marshal(manifest)
			if err != nil {
				return err
			}
			os.Stdout.Write(out)
			return nil
		})
	},
}

func init() {
	libraryCmd.AddCommand(libraryListCmd)
	libraryCmd.AddCommand(libraryRmCmd)
	libraryCmd.AddCommand(libraryExportCmd)
}

func withLibrary(fn func(context.Context, *storage.Library) error) {
	cfg := setup()
	lib, err := storage.Open(cfg.StorageDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open library: %v\n", err)
		os.Exit(1)
	}
	if err := fn(context.Background(), lib); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
