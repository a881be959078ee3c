package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/distill-cli/internal/input"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/pipeline"
)

var (
	runFile string
	runOut  string
)

var runCmd = &cobra.Command{
	Use:   "run [urls...]",
	Short: "Extract and rewrite a list of URLs into one document",
	Long:  "Runs every URL through extraction and rewriting, then writes the joined output. Ctrl-C stops the run and keeps whatever already completed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		urls := args
		if runFile != "" {
			fromFile, err := input.Load(ctx, runFile)
			if err != nil {
				return eris.Wrap(err, "load urls")
			}
			urls = append(urls, fromFile...)
		}

		env, err := initPipeline(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if reason := lockReason(cfg, env.Governor); reason != "" {
			return eris.Errorf("app locked: %s", reason)
		}

		res, err := execute(ctx, env.Orchestrator, urls, cfg.RunConfig())
		if err != nil {
			return err
		}

		out := runOut
		if out == "" {
			out = res.Config.Filename
		}
		if err := os.WriteFile(out, []byte(res.Output), 0o644); err != nil {
			return eris.Wrap(err, "write output")
		}

		printSummary(cmd.OutOrStdout(), res, env.Orchestrator.Usage(), out)
		return nil
	},
}

// execute starts a run and waits for it. An interrupt stops the run, which
// still yields the partial output.
func execute(ctx context.Context, orch *pipeline.Orchestrator, urls []string, rc model.RunConfig) (*model.RunResult, error) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := orch.Start(ctx, urls, rc); err != nil {
		return nil, eris.Wrap(err, "start run")
	}

	res, err := orch.Wait(sigCtx)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, context.Canceled) {
		return nil, eris.Wrap(err, "wait for run")
	}

	zap.L().Info("interrupt received, stopping run")
	return orch.Stop()
}

func printSummary(w io.Writer, res *model.RunResult, total model.TokenUsage, out string) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "Run %s %s\n", res.RunID, res.State)
	p.Fprintf(w, "  jobs:      %d (%d completed, %d failed)\n",
		len(res.Jobs), res.Counts[model.JobStatusCompleted], res.Counts[model.JobStatusError])
	p.Fprintf(w, "  api calls: %d extraction, %d rewrite\n", res.Calls.Extraction, res.Calls.Rewrite)
	p.Fprintf(w, "  tokens:    %d in, %d out, %d thinking (%d total since reset)\n",
		res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.ThinkingTokens, total.TotalTokens)
	p.Fprintf(w, "  output:    %s (%d lines, %d bytes)\n", out, res.OutputStats.Lines, res.OutputStats.Bytes)
	p.Fprintf(w, "  est. cost: $%.4f\n", res.EstimatedCost)

	for _, j := range res.Jobs {
		if j.Status == model.JobStatusError {
			p.Fprintf(w, "  %s %s: %s\n", j.Status.Label(), j.URL, j.Error)
		}
	}
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "read URLs from a .txt, .csv, or .xlsx file")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "output file (default from config output.filename)")
	rootCmd.AddCommand(runCmd)
}
