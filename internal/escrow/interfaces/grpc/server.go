// Package grpc 托管服务 gRPC 入口：标准健康检查、反射与日志/恢复拦截器
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/wyfcoding/investportal/pkg/middleware"
)

// ServiceName 健康检查中上报的服务名
const ServiceName = "escrow"

// DependencyCheck 依赖检查，返回错误时上报 NOT_SERVING
type DependencyCheck func(ctx context.Context) error

// Server gRPC 服务
type Server struct {
	srv    *grpc.Server
	health *health.Server
	check  DependencyCheck
	logger *slog.Logger
}

// NewServer 创建 gRPC 服务，check 可为 nil
func NewServer(check DependencyCheck, logger *slog.Logger) *Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.GRPCRecovery(logger),
		middleware.GRPCLogging(logger),
	))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{srv: srv, health: hs, check: check, logger: logger}
}

// GRPCServer 底层 *grpc.Server，供测试注册到 bufconn
func (s *Server) GRPCServer() *grpc.Server {
	return s.srv
}

// Check 执行一次依赖检查并更新健康状态
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.check != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.check(ctx); err != nil {
			s.logger.WarnContext(ctx, "health check failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
	return status
}

// Serve 监听 addr 并定期检查依赖，ctx 取消后优雅退出
func (s *Server) Serve(ctx context.Context, addr string, checkInterval time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis, checkInterval)
}

// ServeListener 在已有 listener 上提供服务
func (s *Server) ServeListener(ctx context.Context, lis net.Listener, checkInterval time.Duration) error {
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}
	s.Check(ctx)

	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.srv.GracefulStop()
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()

	s.logger.Info("gRPC server starting", "addr", lis.Addr().String())
	if err := s.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
