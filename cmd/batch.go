package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/config"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

var (
	batchFile  string
	batchLimit int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Validate every pitch in a file (pitches separated by blank lines)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		data, err := os.ReadFile(batchFile)
		if err != nil {
			return eris.Wrap(err, "read batch file")
		}
		pitches := splitPitches(string(data))
		if batchLimit > 0 && len(pitches) > batchLimit {
			pitches = pitches[:batchLimit]
		}
		if len(pitches) == 0 {
			return eris.New("batch file contains no pitches")
		}

		env, err := initPipeline(ctx, config.ModeRun)
		if err != nil {
			return err
		}
		defer env.Close()
		defer env.Pipeline.Wait()

		return processBatch(ctx, pitches, cfg.Batch.MaxConcurrent, cmd.OutOrStdout(),
			func(ctx context.Context, text string) (*model.StatusView, error) {
				return validateOne(ctx, env, text, "")
			})
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "file of pitches separated by blank lines")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of pitches to process (0 = all)")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

// batchResult is one output line of the batch command.
type batchResult struct {
	Index     int                 `json:"index"`
	SessionID string              `json:"session_id,omitempty"`
	Status    model.SessionStatus `json:"status,omitempty"`
	Progress  int                 `json:"progress"`
	Score     *int                `json:"score,omitempty"`
	Verdict   model.Verdict       `json:"verdict,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// splitPitches splits text into blank-line separated blocks.
func splitPitches(text string) []string {
	var (
		out []string
		cur []string
	)
	flush := func() {
		if p := strings.TrimSpace(strings.Join(cur, "\n")); p != "" {
			out = append(out, p)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return out
}

// processBatch validates pitches with bounded concurrency and writes one
// JSON line per pitch. A failed pitch does not stop the others.
func processBatch(ctx context.Context, pitches []string, concurrency int, w io.Writer, validate func(context.Context, string) (*model.StatusView, error)) error {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu      sync.Mutex
		enc     = json.NewEncoder(w)
		results = make(map[model.SessionStatus]int)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, text := range pitches {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res := batchResult{Index: i}
			view, err := validate(gctx, text)
			if err != nil {
				zap.L().Error("batch: pitch failed", zap.Int("index", i), zap.Error(err))
				res.Error = err.Error()
			} else {
				res.SessionID = view.SessionID
				res.Status = view.Status
				res.Progress = view.Progress
				if view.Report != nil {
					res.Score = view.Report.Score
					res.Verdict = view.Report.Verdict
				}
			}

			mu.Lock()
			defer mu.Unlock()
			results[res.Status]++
			return enc.Encode(res)
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch: write results")
	}

	zap.L().Info("batch complete",
		zap.Int("pitches", len(pitches)),
		zap.Int("complete", results[model.SessionStatusComplete]),
		zap.Int("partial", results[model.SessionStatusPartial]),
		zap.Int("failed", results[model.SessionStatusFailed]),
	)
	return nil
}
