package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/iksnae/querychat/internal"
	"github.com/iksnae/querychat/internal/export"
	"github.com/spf13/cobra"
)

var (
	format    string
	outputDir string
	exportAll bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export [chat-id]",
	Short: "Export chats to file",
	Long: `Export saved chats to various formats (json, jsonl, yaml, md).

Export one chat by id (or unique id prefix), or every chat with --all.
Use 'querychat history list' to see available chat ids. With --out -
a single chat is written to standard output.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, err := export.NewExporter(format)
		if err != nil {
			return err
		}
		if len(args) == 0 && !exportAll {
			return fmt.Errorf("specify a chat id or use --all")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := cmd.Context()
		var transcripts []*internal.Transcript
		if exportAll {
			chats, err := store.ListChats(ctx, 0)
			if err != nil {
				return err
			}
			for _, chat := range chats {
				t, err := store.Transcript(ctx, chat.ID)
				if err != nil {
					internal.LogWarn("Skipping chat %s: %v", chat.ID, err)
					continue
				}
				transcripts = append(transcripts, t)
			}
		} else {
			t, err := store.Transcript(ctx, args[0])
			if err != nil {
				return fmt.Errorf("%w (use 'querychat history list' to see available chats)", err)
			}
			transcripts = append(transcripts, t)
		}

		if outputDir == "-" {
			if len(transcripts) != 1 {
				return fmt.Errorf("--out - needs exactly one chat, got %d", len(transcripts))
			}
			if err := exporter.Export(transcripts[0], cmd.OutOrStdout()); err != nil {
				return &internal.ExportError{Format: exporter.Extension(), Path: "-", Err: err}
			}
			return nil
		}

		dir := outputDir
		if dir == "" {
			paths, err := internal.DetectPaths()
			if err != nil {
				return err
			}
			dir = paths.ExportDir
		}

		// Ensure output directory exists
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		exported := 0
		err = internal.ShowProgress(ctx, fmt.Sprintf("Exporting %d chat(s) to %s", len(transcripts), dir), func() error {
			for _, t := range transcripts {
				path := filepath.Join(dir, fmt.Sprintf("chat_%s.%s", t.ChatID, exporter.Extension()))
				if err := writeExport(exporter, t, path); err != nil {
					internal.LogError("%v", err)
					continue
				}
				exported++
			}
			return nil
		})
		if err != nil {
			return err
		}
		if exported < len(transcripts) {
			return fmt.Errorf("exported %d of %d chat(s)", exported, len(transcripts))
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Export complete: %d chat(s) exported to %s\n", exported, dir)
		return nil
	},
}

func writeExport(exporter export.Exporter, t *internal.Transcript, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return &internal.ExportError{Format: exporter.Extension(), Path: path, Err: err}
	}
	if err := exporter.Export(t, file); err != nil {
		_ = file.Close()
		return &internal.ExportError{Format: exporter.Extension(), Path: path, Err: err}
	}
	if err := file.Close(); err != nil {
		return &internal.ExportError{Format: exporter.Extension(), Path: path, Err: err}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&format, "format", "f", "md", "Export format (json, jsonl, yaml, md)")
	exportCmd.Flags().StringVarP(&outputDir, "out", "o", "", "Output directory, or - for standard output (default: per-user exports directory)")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "Export every saved chat")
}
