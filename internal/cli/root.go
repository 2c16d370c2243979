package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"FrameTimeAnalyzer/internal/config"
	"FrameTimeAnalyzer/internal/logger"
)

// app 命令间共享的状态
type app struct {
	configPath string
	cfg        *config.Config
	log        *logrus.Logger
}

// NewRootCommand 创建 frametime 根命令
func NewRootCommand() *cobra.Command {
	a := &app{log: logrus.StandardLogger()}

	root := &cobra.Command{
		Use:   "frametime",
		Short: "Frame-time capture analyzer",
		Long: "Analyze per-frame timing captures: aggregate statistics, latency bands, " +
			"stage attribution, frame drops, stutters and spike periodicity.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if err := logger.Configure(a.log, cfg.Logging); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (default: frametime.yaml in ./configs, ../configs or .)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")

	root.AddCommand(
		newAnalyzeCommand(a),
		newServeCommand(a),
		newWatchCommand(a),
		newTailCommand(a),
	)
	return root
}

// Execute 运行根命令，收到 SIGINT/SIGTERM 时取消 context
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "❌ %v\n", err)
		return err
	}
	return nil
}
