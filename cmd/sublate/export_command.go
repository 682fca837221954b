package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sublate/sublate/internal/subtitle"
)

func newExportCommand(configFlag *string) *cobra.Command {
	var mode string
	var output string

	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Export a job's subtitles as SRT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportMode := subtitle.ExportMode(mode)
			switch exportMode {
			case subtitle.ExportOriginal, subtitle.ExportTranslated, subtitle.ExportBilingual:
			default:
				return fmt.Errorf("mode must be original, translated, or bilingual")
			}

			a, err := newApp(*configFlag)
			if err != nil {
				return err
			}
			defer a.close()

			job, err := a.jobs.GetJob(args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job %s not found", args[0])
			}

			entries, err := a.subtitles.GetEntries(job.ID)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("job %s has no subtitles", job.ID)
			}

			var buf bytes.Buffer
			if err := subtitle.WriteSRT(&buf, entries, exportMode); err != nil {
				return err
			}

			if output == "" {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d cues to %s\n", len(entries), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", string(subtitle.ExportTranslated), "SRT text mode: original, translated, or bilingual")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (stdout when omitted)")
	return cmd
}
