package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/config"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/render"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/tracking"
)

var (
	exportFormat string
	exportOut    string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.ModeStore); err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		zap.L().Info("schema applied", zap.String("store", cfg.Store.Driver))
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail sessions left running past the zombie threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(config.ModeStore); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := tracking.NewSessions(st, cfg.SessionsOptions()).SweepNow(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d session(s)\n", n)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Render a stored report as markdown, html or xlsx",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		format, err := render.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		if err := cfg.Validate(config.ModeStore); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		report, err := st.GetReport(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load report")
		}
		if report == nil {
			return eris.Errorf("session %s has no report", args[0])
		}
		out, err := render.Render(report, format)
		if err != nil {
			return err
		}

		if exportOut == "" {
			if format == render.FormatXLSX {
				return eris.New("--out is required for xlsx")
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}
		if err := os.WriteFile(exportOut, out, 0o644); err != nil {
			return eris.Wrap(err, "write export")
		}
		zap.L().Info("report exported", zap.String("path", exportOut), zap.String("format", string(format)))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "md", "md, html or xlsx")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default stdout)")
	rootCmd.AddCommand(migrateCmd, sweepCmd, exportCmd)
}
