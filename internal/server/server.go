package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/chipfleet-control-plane/internal/engine"
	"github.com/xela07ax/chipfleet-control-plane/internal/infra"
	"github.com/xela07ax/chipfleet-control-plane/internal/server/handler"
	"go.uber.org/zap"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Обработчики бизнес-доменов
	chipHandler    *handler.ChipHandler      // /v1/chips
	alertHandler   *handler.AlertHandler     // /v1/alerts
	bulkHandler    *handler.BulkHandler      // /v1/bulk
	messageHandler *handler.MessageHandler   // горячий путь отправки
	dashHandler    *handler.DashboardHandler // /api/v1/dashboard
}

// NewServer инициализирует операторский API со всеми зависимостями
func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	chipH *handler.ChipHandler,
	alertH *handler.AlertHandler,
	bulkH *handler.BulkHandler,
	messageH *handler.MessageHandler,
	dashH *handler.DashboardHandler,
) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger.Named("fleet-api"),
		cfg:            cfg,
		chipHandler:    chipH,
		alertHandler:   alertH,
		bulkHandler:    bulkH,
		messageHandler: messageH,
		dashHandler:    dashH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	// Healthcheck для мониторинга
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Dashboard & Stats
	r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)

	// Управление чипами (статусы, прогрев, лимиты)
	r.Route("/v1/chips", func(r chi.Router) {
		r.Get("/", s.chipHandler.List) // Весь парк с фильтрами
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.chipHandler.Get)
			r.Post("/pause", s.chipHandler.Pause)     // Остановка отправок
			r.Post("/resume", s.chipHandler.Resume)   // Возврат в прежний статус
			r.Post("/promote", s.chipHandler.Promote) // Форс-перевод в следующую фазу
			r.Get("/trust", s.chipHandler.Trust)      // {score, level}
			r.Get("/ratelimit", s.chipHandler.RateLimit)

			// Горячий путь: допуск отправки и учет исходов от провайдера
			r.Post("/send", s.messageHandler.SendAttempt)
			r.Post("/outcome", s.messageHandler.RecordOutcome)
		})
	})

	// Алерты детектора аномалий
	r.Route("/v1/alerts", func(r chi.Router) {
		r.Get("/", s.alertHandler.List) // ?chip_id=&status=open
		r.Post("/{id}/resolve", s.alertHandler.Resolve)
	})

	// Массовые действия: propose выдает токен, execute его потребляет
	r.Route("/v1/bulk", func(r chi.Router) {
		r.Post("/propose", s.bulkHandler.Propose)
		r.Post("/execute", s.bulkHandler.Execute)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
