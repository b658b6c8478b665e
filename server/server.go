package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wfunc/esquisse/broadcast"
	"github.com/wfunc/esquisse/logger"
	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/monitor"
	"github.com/wfunc/esquisse/peer"
	"github.com/wfunc/esquisse/room"
	"github.com/wfunc/esquisse/services"
	"github.com/wfunc/esquisse/timer"
)

// Options configure the HTTP side of the game server.
type Options struct {
	HTTPAddress  string
	JWTSecret    string
	SessionTTL   time.Duration
	ReapInterval time.Duration
	// Heartbeat is the expected client ping period; connections silent for
	// twice as long are dropped.
	Heartbeat time.Duration
}

// Deps are the collaborators built by main.
type Deps struct {
	Service  *services.SessionService
	Bus      *broadcast.Bus
	Rooms    *room.Manager
	Monitor  *monitor.Monitor
	Gatherer prometheus.Gatherer
}

type GameServer struct {
	opts       Options
	service    *services.SessionService
	bus        *broadcast.Bus
	rooms      *room.Manager
	peers      *peer.Manager
	monitor    *monitor.Monitor
	timers     *timer.TimerManager
	upgrader   websocket.Upgrader
	router     *gin.Engine
	httpServer *http.Server
}

func NewGameServer(opts Options, deps Deps) *GameServer {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = models.DefaultSessionTTL
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.NewMonitor("esquisse", nil)
	}

	s := &GameServer{
		opts:    opts,
		service: deps.Service,
		bus:     deps.Bus,
		rooms:   deps.Rooms,
		peers:   peer.NewManager(),
		monitor: deps.Monitor,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.router = s.routes(deps.Gatherer)
	s.httpServer = &http.Server{
		Addr:              opts.HTTPAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, for tests.
func (s *GameServer) Handler() http.Handler {
	return s.router
}

func (s *GameServer) routes(gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/api/sessions/:id/qr", s.handleQR)

	auth := AuthMiddleware(s.opts.JWTSecret, s.service.Players())
	r.GET("/ws", auth, s.handleWebSocket)

	api := r.Group("/api", auth)
	{
		api.POST("/sessions", s.handleCreateSession)
		api.GET("/sessions/:id", s.handleCommand(services.OpGetSession, nil))
		api.GET("/sessions/:id/scores", s.handleCommand(services.OpGetScores, nil))
		api.POST("/sessions/:id/join", s.handleCommand(services.OpJoinSession, nil))
		api.POST("/sessions/:id/leave", s.handleCommand(services.OpLeaveSession, nil))
		api.POST("/sessions/:id/status", s.handleCommand(services.OpChangeStatus, bindStatus))
		api.POST("/sessions/:id/turn", s.handleCommand(services.OpInitTurn, bindWord))
		api.POST("/sessions/:id/turn/guessing", s.handleCommand(services.OpStartGuessing, nil))
		api.POST("/sessions/:id/turn/advance", s.handleCommand(services.OpAdvanceTurn, nil))
		api.POST("/sessions/:id/guess", s.handleCommand(services.OpSubmitGuess, bindWord))
		api.POST("/sessions/:id/concepts", s.handleCommand(services.OpModifyConcept, bindConcept))
		api.POST("/sessions/:id/concepts/lists", s.handleCommand(services.OpModifyConceptsList, bindConceptsList))
		api.GET("/players/me", s.handleMe)
	}
	return r
}

// requestLogger 使用 zap 记录请求
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log.Debugw("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// execute runs a command and records metrics. All transports go through it.
func (s *GameServer) execute(ctx context.Context, caller string, cmd services.Command) (any, error) {
	start := time.Now()
	result, err := s.service.Execute(ctx, caller, cmd)

	code := "OK"
	if err != nil {
		code = string(services.CodeOf(err))
		if services.CodeOf(err) == services.CodeInternal {
			logger.Log.Errorf("Command %s on session %s by %s failed: %v", cmd.Op, cmd.SessionID, caller, err)
		}
	}
	s.monitor.ObserveCommand(string(cmd.Op), code, time.Since(start))

	if err == nil {
		sessionID := cmd.SessionID
		if ref, ok := result.(services.SessionRef); ok {
			sessionID = ref.SessionID
		}
		if sessionID != "" {
			s.rooms.Touch(sessionID)
			s.monitor.SetActiveSessions(s.rooms.Count())
		}
	}
	return result, err
}

// StartReaper purges expired sessions every ReapInterval.
func (s *GameServer) StartReaper() {
	if s.opts.ReapInterval <= 0 {
		return
	}
	if s.timers == nil {
		s.timers = timer.NewTimerManager(time.Second)
	}
	s.timers.AddTimer(s.opts.ReapInterval, s.opts.ReapInterval, func() {
		s.Reap(context.Background(), time.Now())
	})
}

// Reap removes expired sessions from storage and closes their subscriptions.
func (s *GameServer) Reap(ctx context.Context, now time.Time) {
	ids, err := s.service.Reap(ctx, now)
	if err != nil {
		logger.Log.Errorf("Reaper failed: %v", err)
		return
	}
	for _, id := range ids {
		s.bus.CloseSession(id)
		s.rooms.RemoveRoom(id)
	}
	for _, id := range s.rooms.IdleSince(now.Add(-s.opts.SessionTTL)) {
		s.rooms.RemoveRoom(id)
	}
	s.monitor.SessionsReaped(len(ids))
	s.monitor.SetActiveSessions(s.rooms.Count())
}

func (s *GameServer) Start() error {
	logger.Log.Infof("Game server listening on %s", s.opts.HTTPAddress)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *GameServer) Shutdown(ctx context.Context) error {
	if s.timers != nil {
		s.timers.Stop()
	}
	err := s.httpServer.Shutdown(ctx)
	s.peers.CloseAll()
	return err
}
