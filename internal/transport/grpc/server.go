// grpc: внутренний gRPC-сервер auth-сервиса: стандартный health-сервис
// (для балансировщиков и оркестратора), метрики и рефлексия.
//
// Статус health отражает доступность зависимостей: Watch периодически
// опрашивает проверки и переключает SERVING/NOT_SERVING. Тот же флаг
// готовности читает HTTP /healthz через Ready().
package grpc

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pribylovaa/go-auth-service/internal/transport/grpc/interceptors"
)

// ServiceName: имя, под которым публикуется статус сервиса (помимо "").
const ServiceName = "auth.AuthService"

// Check: проверка одной зависимости (БД, Redis). nil: зависимость доступна.
type Check func(ctx context.Context) error

// Options: параметры gRPC-сервера.
type Options struct {
	Logger     *slog.Logger
	Timeout    time.Duration // дедлайн unary-вызова, если клиент его не задал
	Reflection bool          // только local/dev
	Metrics    bool          // grpc_prometheus-интерсепторы
}

// Server объединяет grpc.Server и health-сервис.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	log    *slog.Logger
	ready  atomic.Bool
}

// New собирает gRPC-сервер с интерсепторами и зарегистрированным health-сервисом.
// Изначально статус NOT_SERVING: сервер готов только после SetServing(true).
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	unary := []grpc.UnaryServerInterceptor{
		interceptors.Recover(opts.Logger),
		interceptors.UnaryLoggingInterceptor(opts.Logger),
		interceptors.WithTimeout(opts.Timeout),
	}
	var stream []grpc.StreamServerInterceptor

	if opts.Metrics {
		grpc_prometheus.EnableHandlingTimeHistogram()
		unary = append(unary, grpc_prometheus.UnaryServerInterceptor)
		stream = append(stream, grpc_prometheus.StreamServerInterceptor)
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	if opts.Reflection {
		reflection.Register(srv)
	}

	if opts.Metrics {
		grpc_prometheus.Register(srv)
	}

	s := &Server{srv: srv, health: hs, log: opts.Logger}
	s.SetServing(false)

	return s
}

// GRPC возвращает нижележащий *grpc.Server для регистрации дополнительных сервисов.
func (s *Server) GRPC() *grpc.Server { return s.srv }

// Ready сообщает, обслуживает ли сервис запросы.
func (s *Server) Ready() bool { return s.ready.Load() }

// SetServing переключает статус health и флаг готовности.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)

	if prev := s.ready.Swap(ok); prev != ok {
		s.log.Info("serving_status_changed", slog.Bool("serving", ok))
	}
}

// Watch раз в period прогоняет проверки и выставляет статус.
// Каждая проверка ограничена таймаутом в половину period. Возвращается по ctx.Done().
func (s *Server) Watch(ctx context.Context, period time.Duration, checks ...Check) {
	if period <= 0 || len(checks) == 0 {
		return
	}

	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, period/2)
		defer cancel()

		for _, c := range checks {
			if err := c(pctx); err != nil {
				if ctx.Err() == nil {
					s.log.Warn("dependency_check_failed", slog.String("err", err.Error()))
				}
				s.SetServing(false)
				return
			}
		}
		s.SetServing(true)
	}

	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			probe()
		}
	}
}

// Serve блокируется до остановки сервера.
func (s *Server) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

// Stop переводит health в NOT_SERVING и останавливает сервер:
// сначала GracefulStop, по истечении timeout: принудительно.
func (s *Server) Stop(timeout time.Duration) {
	s.SetServing(false)
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("grpc_stopped")
	case <-time.After(timeout):
		s.log.Warn("grpc_force_stop")
		s.srv.Stop()
	}
}
