package grpcserver

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName 报告存储的健康检查服务名
const ServiceName = "frametime.ReportStore"

// DefaultInterval 默认探测间隔
const DefaultInterval = 10 * time.Second

// Pinger 可探测的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer 标准 grpc.health.v1 服务，状态跟随存储 Ping 结果
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	store    Pinger
	interval time.Duration
	log      logrus.FieldLogger

	// 统计信息
	requestCount atomic.Int64
	serving      atomic.Bool
}

// NewHealthServer 创建健康检查服务器；interval <= 0 时使用默认间隔
func NewHealthServer(store Pinger, interval time.Duration, log logrus.FieldLogger) *HealthServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &HealthServer{
		health:   health.NewServer(),
		store:    store,
		interval: interval,
		log:      log.WithField("module", "grpcserver"),
	}
	s.server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
	)
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)

	// 首次探测之前视为未就绪
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Server 底层 grpc.Server
func (s *HealthServer) Server() *grpc.Server {
	return s.server
}

// Probe 探测一次存储并更新服务状态，返回是否可用
func (s *HealthServer) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	err := s.store.Ping(ctx)
	ok := err == nil
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)

	if prev := s.serving.Swap(ok); prev != ok {
		entry := s.log.WithField("status", status.String())
		if ok {
			entry.Info("报告存储恢复可用")
		} else {
			entry.WithError(err).Warn("报告存储不可用")
		}
	}
	return ok
}

// Run 按间隔探测直到 ctx 结束
func (s *HealthServer) Run(ctx context.Context) {
	s.Probe(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Serve 在监听器上提供服务，阻塞直到 Stop
func (s *HealthServer) Serve(lis net.Listener) error {
	s.log.WithField("addr", lis.Addr().String()).Info("🚀 gRPC健康检查服务启动")
	return s.server.Serve(lis)
}

// Stop 将所有服务置为 NOT_SERVING 后优雅关闭
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// RequestCount 已处理的一元请求数
func (s *HealthServer) RequestCount() int64 {
	return s.requestCount.Load()
}

func (s *HealthServer) unaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	s.requestCount.Add(1)
	resp, err := handler(ctx, req)
	entry := s.log.WithFields(logrus.Fields{
		"method":   info.FullMethod,
		"duration": time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Debug("gRPC请求失败")
	} else {
		entry.Debug("gRPC请求")
	}
	return resp, err
}
