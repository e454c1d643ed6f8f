package engine

import (
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthReporter публикует здоровье агентов через стандартный gRPC Health Checking Protocol.
// Сервис "agent/{id}": SERVING пока агент здоров и breaker не OPEN.
// Пустое имя сервиса: сам control plane.
type HealthReporter struct {
	hs     *health.Server
	logger *zap.Logger
}

func NewHealthReporter(logger *zap.Logger) *HealthReporter {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &HealthReporter{hs: hs, logger: logger.With(zap.String("mod", "grpc-health"))}
}

func AgentHealthService(agentID string) string { return "agent/" + agentID }

// ObserveAgent реализует HealthObserver
func (h *HealthReporter) ObserveAgent(agentID string, healthy bool, state BreakerState) {
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy || state == StateOpen {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.hs.SetServingStatus(AgentHealthService(agentID), status)
}

// Forget убирает агента из ответа (после удаления из реестра)
func (h *HealthReporter) Forget(agentID string) {
	h.hs.SetServingStatus(AgentHealthService(agentID), healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
}

func (h *HealthReporter) Server() healthpb.HealthServer { return h.hs }

// Serve поднимает gRPC сервер на lis в отдельной горутине. Ошибка Serve приходит в канал.
func (h *HealthReporter) Serve(lis net.Listener) (*grpc.Server, <-chan error) {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.hs)
	reflection.Register(srv)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))
		errCh <- srv.Serve(lis)
	}()
	return srv, errCh
}

// Shutdown переводит все сервисы в NOT_SERVING, чтобы клиенты успели отвернуться
func (h *HealthReporter) Shutdown() {
	h.hs.Shutdown()
}
