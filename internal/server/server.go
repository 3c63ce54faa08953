package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"coop-door-controller/internal/config"
	"coop-door-controller/internal/core"
	"coop-door-controller/internal/door"
	"coop-door-controller/internal/logging"
	"coop-door-controller/internal/settings"
)

// Commands is the agent surface the transports drive.
type Commands interface {
	Open(ctx context.Context) (door.Outcome, error)
	Close(ctx context.Context) (door.Outcome, error)
	GetSettings() settings.Settings
	WriteSettings(s settings.Settings) error
	ReadLightLevel() (float64, error)
	UseCurrentLightAs(ctx context.Context, which string) (settings.Settings, error)
	Status() core.Status
	History(ctx context.Context, n int) ([]door.Report, error)
}

// CommandHandler handles WebSocket client commands. Replies go to the
// requesting client only.
type CommandHandler interface {
	Handle(ctx context.Context, msg Message, reply func(Message))
}

// Server manages the HTTP and WebSocket services.
type Server struct {
	Hub        *Hub
	handler    CommandHandler
	commands   Commands
	httpServer *http.Server
	limiter    *rate.Limiter
	log        *logging.Logger

	staticFilesDir string
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewServer creates a new server instance. metrics may be nil.
func NewServer(cfg config.ServerConfig, commands Commands, metrics http.Handler, log *logging.Logger) *Server {
	s := &Server{
		Hub:            NewHub(log),
		commands:       commands,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		log:            log.With("component", "server"),
		staticFilesDir: cfg.WebFilesDir,
		allowedOrigins: cfg.AllowedOrigins,
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			s.log.Warn("websocket connection blocked", "origin", origin)
			return false
		},
	}

	routes := []route{
		{http.MethodPost, "/api/door/open", s.handleDoor(commands.Open)},
		{http.MethodPost, "/api/door/close", s.handleDoor(commands.Close)},
		{http.MethodGet, "/api/door/history", http.HandlerFunc(s.handleHistory)},
		{http.MethodGet, "/api/status", http.HandlerFunc(s.handleStatus)},
		{http.MethodGet, "/api/settings", http.HandlerFunc(s.handleGetSettings)},
		{http.MethodPut, "/api/settings", http.HandlerFunc(s.handlePutSettings)},
		{http.MethodPost, "/api/settings/light/{which}", http.HandlerFunc(s.handleUseCurrentLight)},
		{http.MethodGet, "/api/light", http.HandlerFunc(s.handleLight)},
	}
	if metrics != nil {
		routes = append(routes, route{http.MethodGet, "/metrics", metrics})
	}

	mux := http.NewServeMux()
	registerRoutes(mux, routes)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/", s.handleRoot(http.FileServer(http.Dir(s.staticFilesDir))))

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if len(s.allowedOrigins) == 0 {
		s.log.Warn("websocket origin check is disabled")
	}
	return s
}

// SetHandler sets the WebSocket command handler.
func (s *Server) SetHandler(h CommandHandler) {
	s.handler = h
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// AllowCommand consumes one door command token. It is shared by HTTP and
// WebSocket commands.
func (s *Server) AllowCommand() bool {
	return s.limiter.Allow()
}

func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Initial state before registering, so these writes never race the hub.
	_ = conn.WriteJSON(NewMessage(MsgStatus, s.commands.Status()))
	_ = conn.WriteJSON(NewMessage(MsgSettings, s.commands.GetSettings()))

	if !s.Hub.add(conn) {
		return
	}
	defer s.Hub.remove(conn)

	reply := func(m Message) { s.Hub.Send(conn, m) }
	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if s.handler != nil {
			s.handler.Handle(r.Context(), Message{Raw: msgBytes}, reply)
		}
	}
}
