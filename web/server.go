package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"matchday-service/config"
	"matchday-service/logger"
	"matchday-service/services"
)

// Server HTTP/WebSocket 对外层。只做参数解析和错误码映射，
// 所有规则在 services 里
type Server struct {
	config     *config.Config
	store      services.Store
	machine    *services.StateMachine
	periods    *services.PeriodTracker
	ledger     *services.EventLedger
	lineups    *services.LineupTracker
	formations *services.FormationSnapshotter
	hub        *services.BroadcastHub
	cache      *services.ReadCache
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer 创建服务器
func NewServer(cfg *config.Config, store services.Store, machine *services.StateMachine,
	periods *services.PeriodTracker, ledger *services.EventLedger, lineups *services.LineupTracker,
	formations *services.FormationSnapshotter, hub *services.BroadcastHub, cache *services.ReadCache) *Server {
	return &Server{
		config:     cfg,
		store:      store,
		machine:    machine,
		periods:    periods,
		ledger:     ledger,
		lineups:    lineups,
		formations: formations,
		hub:        hub,
		cache:      cache,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源(生产环境需要限制)
			},
		},
	}
}

// Start 启动 HTTP 服务
func (s *Server) Start() error {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// 生命周期操作
	api.HandleFunc("/matches/{match_id}/start", s.handleStart).Methods("POST")
	api.HandleFunc("/matches/{match_id}/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/matches/{match_id}/resume", s.handleResume).Methods("POST")
	api.HandleFunc("/matches/{match_id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/matches/{match_id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/matches/{match_id}/postpone", s.handlePostpone).Methods("POST")
	api.HandleFunc("/matches/{match_id}/reschedule", s.handleReschedule).Methods("POST")
	api.HandleFunc("/matches/{match_id}/periods/next", s.handleNextPeriod).Methods("POST")

	// 事件台账
	api.HandleFunc("/matches/{match_id}/events", s.handleCreateEvent).Methods("POST")
	api.HandleFunc("/events/{event_id}", s.handleUpdateEvent).Methods("PUT")
	api.HandleFunc("/events/{event_id}", s.handleDeleteEvent).Methods("DELETE")

	// 阵容和阵型
	api.HandleFunc("/matches/{match_id}/lineup", s.handleOpenLineupEntry).Methods("POST")
	api.HandleFunc("/matches/{match_id}/substitutions", s.handleSubstitute).Methods("POST")
	api.HandleFunc("/matches/{match_id}/formation", s.handleFormationChange).Methods("POST")

	// 查询 (经过 ReadCache)
	api.HandleFunc("/matches/live", s.handleLiveMatches).Methods("GET")
	api.HandleFunc("/matches/{match_id}/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/matches/{match_id}/summary", s.handleGetSummary).Methods("GET")

	// WebSocket 订阅
	router.HandleFunc("/ws", s.handleWebSocket)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Stop 优雅关闭
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// requester 从请求头取调用者身份 (令牌签发在上游网关，这里只消费)
func requester(r *http.Request) (userID, role string) {
	return r.Header.Get("X-User-ID"), r.Header.Get("X-User-Role")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError 把错误分类映射到 HTTP 状态码
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case errors.Is(err, services.ErrAccessDenied):
		status, code = http.StatusForbidden, "access_denied"
	case errors.Is(err, services.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, services.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrInvalidReference):
		status, code = http.StatusUnprocessableEntity, "invalid_reference"
	case errors.Is(err, services.ErrPlayerNotOnPitch):
		status, code = http.StatusUnprocessableEntity, "player_not_on_pitch"
	case errors.Is(err, services.ErrQuotaExceeded):
		status, code = http.StatusTooManyRequests, "quota_exceeded"
	}

	if status == http.StatusInternalServerError {
		logger.Errorf("[Web] Internal error: %v", err)
	}

	writeJSON(w, status, map[string]string{
		"error":  code,
		"detail": err.Error(),
	})
}
