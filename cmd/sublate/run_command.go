package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand(configFlag *string) *cobra.Command {
	var targetLanguage string
	var resume []string

	cmd := &cobra.Command{
		Use:   "run <file.wav> [file.wav...]",
		Short: "Process audio files into translated subtitles",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(resume) == 0 {
				return errors.New("provide audio files or --resume job IDs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFlag)
			if err != nil {
				return err
			}
			defer a.close()

			if targetLanguage == "" {
				targetLanguage = a.cfg.Translation.TargetLanguage
			}

			jobIDs := make([]string, 0, len(args)+len(resume))
			for _, arg := range args {
				absPath, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("failed to resolve path: %w", err)
				}
				info, err := os.Stat(absPath)
				if err != nil {
					return fmt.Errorf("input file %s: %w", absPath, err)
				}
				if info.IsDir() {
					return fmt.Errorf("%s is a directory", absPath)
				}
				if ext := strings.ToLower(filepath.Ext(absPath)); ext != ".wav" {
					return fmt.Errorf("unsupported file extension %q, expected .wav", ext)
				}

				job, err := a.jobs.CreateJob(absPath, targetLanguage)
				if err != nil {
					return err
				}
				jobIDs = append(jobIDs, job.ID)
				fmt.Fprintf(cmd.ErrOrStderr(), "created job %s for %s\n", job.ID, absPath)
			}
			jobIDs = append(jobIDs, resume...)

			service, err := a.newService(nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return service.ProcessJobs(ctx, jobIDs)
		},
	}

	cmd.Flags().StringVarP(&targetLanguage, "target-language", "t", "", "Target language (defaults to configuration)")
	cmd.Flags().StringSliceVar(&resume, "resume", nil, "Existing job IDs to resume")
	return cmd
}
