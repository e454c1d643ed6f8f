package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/pulseone-control-plane/internal/console/handler"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"github.com/xela07ax/pulseone-control-plane/internal/engine"
	"github.com/xela07ax/pulseone-control-plane/internal/infra/auth"
	"go.uber.org/zap"
)

// Handlers: обработчики бизнес-доменов консоли.
type Handlers struct {
	Auth      *handler.AuthHandler      // /auth/token
	Agents    *handler.AgentHandler     // /v1/agents
	Devices   *handler.DeviceHandler    // /v1/agents/{id}/devices
	Commands  *handler.CommandHandler   // /v1/agents/{id}/commands
	Dashboard *handler.DashboardHandler // /v1/fleet/summary
	Audit     *handler.AuditHandler     // /v1/audit
}

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator
	metrics       http.Handler
	h             Handlers
}

// NewConsoleServer инициализирует сервер консоли со всеми зависимостями.
// metrics может быть nil: тогда /metrics не публикуется.
func NewConsoleServer(logger *zap.Logger, validator auth.TokenValidator, metrics http.Handler, h Handlers) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		metrics:       metrics,
		h:             h,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(engine.TracingMiddleware)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.h.Auth.Login)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		control := auth.RequireScope(domain.ScopeDevicesControl)

		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.h.Agents.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/status", s.h.Agents.Status)
				r.Get("/live-status", s.h.Agents.LiveStatus)
				r.With(auth.RequireScope(domain.ScopeMaintenance)).Post("/maintenance", s.h.Agents.SetMaintenance)
				r.With(control).Delete("/", s.h.Agents.Remove)

				r.Get("/devices/{deviceID}/status", s.h.Devices.Status)
				r.Get("/devices/{deviceID}/data", s.h.Devices.Data)
				r.With(control).Post("/devices/{deviceID}/{action}", s.h.Devices.Lifecycle)
				r.With(control).Post("/devices/{deviceID}/{class}/{outputID}", s.h.Devices.Output)

				r.With(control).Post("/config/reload", s.h.Devices.ReloadConfig)
				r.With(control).Post("/settings-sync", s.h.Devices.SettingsSync)
				r.With(control).Post("/scan", s.h.Devices.Scan)
				r.With(control).Post("/commands", s.h.Commands.Send)
			})
		})

		r.Get("/v1/fleet/summary", s.h.Dashboard.GetSummary)
		r.With(control).Post("/v1/fleet/{op}", s.h.Agents.Fleet)

		// Аудит команд
		if s.h.Audit != nil {
			r.Get("/v1/audit", s.h.Audit.GetLogs)
		}
	})
}

// requestLogger: access log через zap вместо стандартного логгера chi.
func (s *ConsoleServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", engine.RequestIDFrom(r.Context())),
		)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
