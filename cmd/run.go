package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/agents"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/config"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/pipeline"
)

var (
	runText     string
	runFile     string
	runEntityID string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Validate a single pitch and print the session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		text, err := readPitch(runText, runFile)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, config.ModeRun)
		if err != nil {
			return err
		}
		defer env.Close()
		defer env.Pipeline.Wait()

		view, err := validateOne(ctx, env, text, runEntityID)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	},
}

func init() {
	runCmd.Flags().StringVar(&runText, "text", "", "pitch text")
	runCmd.Flags().StringVar(&runFile, "file", "", "file containing the pitch text")
	runCmd.Flags().StringVar(&runEntityID, "entity", "", "optional caller entity id")
	runCmd.MarkFlagsMutuallyExclusive("text", "file")
	rootCmd.AddCommand(runCmd)
}

// readPitch returns the trimmed pitch from text or file.
func readPitch(text, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", eris.Wrap(err, "read pitch file")
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", eris.New("one of --text or --file is required")
	}
	return text, nil
}

// validateOne runs one session to completion and returns its status view.
func validateOne(ctx context.Context, env *pipelineEnv, text, entityID string) (*model.StatusView, error) {
	id, status, err := env.Pipeline.Validate(ctx, agents.Input{Text: text}, pipeline.RunOptions{EntityID: entityID})
	if err != nil {
		return nil, eris.Wrap(err, "start session")
	}
	zap.L().Info("session finished", zap.String("session_id", id), zap.String("status", string(status)))

	view, err := env.Sessions.Status(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "load session %s", id)
	}
	return view, nil
}
