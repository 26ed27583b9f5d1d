package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lmroute/gemini-bridge/internal/process"
	"github.com/lmroute/gemini-bridge/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bridge service",
	Long:  `Start the proxy service in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"vendors", len(cfg.Vendors),
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, logger)

	return srv.Start()
}
