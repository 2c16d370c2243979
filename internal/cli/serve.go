package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"FrameTimeAnalyzer/internal/config"
	"FrameTimeAnalyzer/internal/database"
	"FrameTimeAnalyzer/internal/grpcserver"
	"FrameTimeAnalyzer/internal/httpserver"
	"FrameTimeAnalyzer/internal/logger"
	"FrameTimeAnalyzer/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live feed and gRPC health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), cmd)
		},
	}
	f := cmd.Flags()
	f.String("http-addr", ":8080", "HTTP listen address")
	f.String("grpc-addr", ":9090", "gRPC health listen address")
	f.Bool("db", false, "store reports in PostgreSQL instead of memory")
	return cmd
}

// openStore 按配置选择报告存储
func openStore(ctx context.Context, cfg config.DatabaseConfig, log logrus.FieldLogger) (database.ReportStore, error) {
	if !cfg.Enabled {
		log.Info("数据库未启用，报告保存在内存中")
		return database.NewMemoryStore(), nil
	}
	store, err := database.ConnectPgx(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (a *app) serve(ctx context.Context, cmd *cobra.Command) error {
	log := a.log.WithField("module", "serve")

	hub := logger.NewHub(a.log)
	a.log.AddHook(logger.NewHubHook(hub))

	manager := config.NewManager(
		config.WithConfigPath(a.configPath),
		config.WithFlags(cmd.Flags()),
		config.WithWatchEnabled(true),
		config.WithLogger(a.log),
	)
	cfg, err := manager.Load()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Database, a.log)
	if err != nil {
		return fmt.Errorf("open report store: %w", err)
	}
	defer store.Close()

	exporter := metrics.NewExporter(true)
	api := httpserver.NewAPIServer(cfg.Server, httpserver.Options{
		Store:    store,
		Exporter: exporter,
		Hub:      hub,
		Analysis: cfg.AnalysisOptions(),
		Log:      a.log,
	})
	health := grpcserver.NewHealthServer(store, cfg.Server.HealthInterval, a.log)

	// 热加载：分析参数和日志级别即时生效，监听地址需要重启
	manager.OnChange(func(c *config.Config) {
		api.SetAnalysisOptions(c.AnalysisOptions())
		if lvl, err := logrus.ParseLevel(c.Logging.Level); err == nil {
			a.log.SetLevel(lvl)
		}
	})

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go hub.Run(ctx)
	go health.Run(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- api.Start() }()
	go func() { errCh <- health.Serve(lis) }()

	fmt.Fprintf(cmd.OutOrStdout(), "🚀 frametime serve: http %s, grpc %s\n", cfg.Server.HTTPAddr, cfg.Server.GRPCAddr)

	select {
	case <-ctx.Done():
		log.Info("收到退出信号，正在关闭")
	case err = <-errCh:
		if err != nil {
			log.WithError(err).Error("服务异常退出")
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	health.Stop()
	if stopErr := api.Stop(shutdownCtx); stopErr != nil && !errors.Is(stopErr, context.Canceled) {
		log.WithError(stopErr).Warn("HTTP服务关闭超时")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✅ 服务已停止")
	return err
}
