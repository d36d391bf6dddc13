// Package cli implements the wavalidator command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/app"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/config"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/logging"
)

// commandContext carries what PersistentPreRunE resolves to the subcommands.
type commandContext struct {
	configPath string
	logLevel   string
	cfg        config.Config
	logger     *zap.Logger
	appOptions []app.Option
}

// NewRootCommand builds the command tree. opts are passed to every app.New
// call made by subcommands.
func NewRootCommand(opts ...app.Option) *cobra.Command {
	cc := &commandContext{appOptions: opts}

	root := &cobra.Command{
		Use:   "wavalidator",
		Short: "Check which phone numbers have a WhatsApp account",
		Long: `wavalidator verifies lists of Brazilian phone numbers against WhatsApp.
Each number is checked through a logged-in WhatsApp Web session and, when the
session cannot confirm it, through the public click-to-chat page.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return cc.load()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if cc.logger != nil {
				_ = cc.logger.Sync() //nolint:errcheck // best-effort flush
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&cc.configPath, "config", "c", "", "Configuration file path")
	root.PersistentFlags().StringVar(&cc.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	root.AddCommand(newServeCommand(cc))
	root.AddCommand(newCheckCommand(cc))
	return root
}

func (cc *commandContext) load() error {
	cfg, err := config.Load(cc.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := cfg.Logging.Level
	if cc.logLevel != "" {
		level = cc.logLevel
	}
	logger, err := logging.New(cfg.Logging.Development, level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	cc.cfg = cfg
	cc.logger = logger
	return nil
}
