package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/export"
)

var (
	exportSession string
	exportOut     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a session's dossiers and jobs to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("export"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("session-%s.xlsx", exportSession)
		}
		if err := export.WriteSession(ctx, st, exportSession, out); err != nil {
			return err
		}
		zap.L().Info("session exported", zap.String("session_id", exportSession), zap.String("path", out))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSession, "session", "", "discovery session id")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default session-<id>.xlsx)")
	_ = exportCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(exportCmd)
}
