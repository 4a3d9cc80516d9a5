package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pdftrans/internal/app"
	"github.com/dgallion1/pdftrans/internal/logger"
)

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <input.pdf>",
		Short: "Print the extracted document structure as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logger.NewCLI(logger.ParseLevel(cfg.LogLevel))

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			doc, err := app.NewExtractor(cfg, log).Extract(cmd.Context(), data, cfg.SourceLang)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
		SilenceUsage: true,
	}
	addExtractFlags(cmd.Flags())
	return cmd
}
