package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"oms-roundtrip-go/internal/engine"
	"oms-roundtrip-go/ledger"
)

// SnapshotSource 提供最近一次发布的引擎快照，*engine.Engine 满足该接口。
type SnapshotSource interface {
	Snapshot() *engine.Snapshot
}

// FillSource 查询历史成交，*ledger.SQLiteLedger 满足该接口。
// Records 返回最近的 limit 条，按写入顺序排列。
type FillSource interface {
	Records(ctx context.Context, limit int) ([]ledger.Record, error)
}

// Options 管理接口配置。Fills 与 Metrics 为空时不注册对应路由。
// Hub 为空时自动创建；引擎需要先拿到 hub 作为 Publisher 时可预先传入。
type Options struct {
	Addr           string
	AllowedOrigins []string
	Snapshots      SnapshotSource
	Fills          FillSource
	Metrics        http.Handler
	Hub            *Hub
	Logger         *zap.Logger
}

// StatusResponse 是 /api/v1/status 的响应。
type StatusResponse struct {
	Symbol      string            `json:"symbol"`
	Position    int64             `json:"position"`
	AvgCost     float64           `json:"avg_cost"`
	RealizedPnL float64           `json:"realized_pnl"`
	OpenOrders  int               `json:"open_orders"`
	Limits      engine.LimitsView `json:"limits"`
	UpdatedAt   time.Time         `json:"updated_at"`
	OrdersTotal int               `json:"orders_total"`
	WSClients   int               `json:"ws_clients"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const defaultFillsLimit = 100

// Server 是 OMS 的只读 HTTP 管理接口，外加 websocket 事件推送。
// 所有数据来自不可变快照，handler 不接触事件循环的状态。
type Server struct {
	opts     Options
	router   *mux.Router
	hub      *Hub
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu       sync.Mutex
	srv      *http.Server
	ln       net.Listener
	cancel   context.CancelFunc
	serveErr chan error
}

// NewServer 创建服务器并注册路由。
func NewServer(opts Options) (*Server, error) {
	if opts.Snapshots == nil {
		return nil, errors.New("admin: snapshot source is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("admin")
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		hub:    hub,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods(http.MethodGet)
	if s.opts.Fills != nil {
		api.HandleFunc("/fills", s.handleListFills).Methods(http.MethodGet)
	}

	s.router.HandleFunc("/ws", s.hub.serveWS(&s.upgrader))
}

// Hub 返回事件推送 hub，作为引擎的 Publisher。
func (s *Server) Hub() *Hub { return s.hub }

// Handler 返回带 CORS 的根 handler。
func (s *Server) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Start 监听地址并在后台提供服务，同时启动 websocket hub。
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("admin: already started")
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.opts.Addr, err)
	}
	hubCtx, cancel := context.WithCancel(ctx)
	go s.hub.Run(hubCtx)

	s.ln = ln
	s.cancel = cancel
	s.serveErr = make(chan error, 1)
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.serveErr <- err
	}()
	s.log.Info("admin server started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop 优雅关闭 HTTP 服务与 hub。
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	s.cancel()
	if serr := <-s.serveErr; err == nil {
		err = serr
	}
	s.srv = nil
	s.log.Info("admin server stopped")
	return err
}

// Health 在服务未启动时返回错误。
func (s *Server) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return errors.New("admin: not running")
	}
	return nil
}

// Addr 返回实际监听地址，未启动时为空。
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Snapshots.Snapshot()
	if snap == nil {
		respondError(w, http.StatusServiceUnavailable, "not ready", "engine has not published a snapshot yet")
		return
	}
	respondJSON(w, StatusResponse{
		Symbol:      snap.Symbol,
		Position:    snap.Position.Position,
		AvgCost:     snap.Position.AvgCost,
		RealizedPnL: snap.Position.RealizedPnL,
		OpenOrders:  snap.OpenOrders,
		Limits:      snap.Limits,
		UpdatedAt:   snap.UpdatedAt,
		OrdersTotal: len(snap.Orders),
		WSClients:   s.hub.ClientCount(),
	})
}

// handleListOrders 支持 ?state=Accepted 过滤。
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Snapshots.Snapshot()
	if snap == nil {
		respondError(w, http.StatusServiceUnavailable, "not ready", "engine has not published a snapshot yet")
		return
	}
	state := r.URL.Query().Get("state")
	out := make([]engine.OrderView, 0, len(snap.Orders))
	for _, o := range snap.Orders {
		if state == "" || o.State == state {
			out = append(out, o)
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid client id", err.Error())
		return
	}
	snap := s.opts.Snapshots.Snapshot()
	if snap == nil {
		respondError(w, http.StatusServiceUnavailable, "not ready", "engine has not published a snapshot yet")
		return
	}
	o, ok := snap.Order(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", fmt.Sprintf("client_id=%d", id))
		return
	}
	respondJSON(w, o)
}

// handleListFills 返回最近 limit 条成交（默认 defaultFillsLimit）。
func (s *Server) handleListFills(w http.ResponseWriter, r *http.Request) {
	limit := defaultFillsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}
	recs, err := s.opts.Fills.Records(r.Context(), limit)
	if err != nil {
		s.log.Warn("query fills failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "query fills failed", err.Error())
		return
	}
	if recs == nil {
		recs = []ledger.Record{}
	}
	respondJSON(w, recs)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
