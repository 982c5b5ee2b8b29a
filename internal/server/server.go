package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"sudooom.im.chat/internal/auth"
	"sudooom.im.chat/internal/config"
	"sudooom.im.chat/internal/connection"
	"sudooom.im.chat/internal/fanout"
	"sudooom.im.chat/internal/model"
	apperr "sudooom.im.chat/pkg/errors"
)

const defaultInboundBuffer = 64

// MessageRouter 消息路由
type MessageRouter interface {
	Route(ctx context.Context, sender *connection.Connection, intent *fanout.Intent) (*fanout.Result, error)
}

// Server websocket 接入服务
type Server struct {
	cfg        config.ServerConfig
	cookieName string
	resolver   auth.Resolver
	registry   *connection.Registry
	monitor    *connection.Monitor
	router     MessageRouter
	upgrader   websocket.Upgrader
	engine     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建服务
func New(cfg config.ServerConfig, cookieName string, resolver auth.Resolver, registry *connection.Registry,
	monitor *connection.Monitor, router MessageRouter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = defaultInboundBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		cookieName: cookieName,
		resolver:   resolver,
		registry:   registry,
		monitor:    monitor,
		router:     router,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET(cfg.WSPath, s.handleWebSocket)
	engine.GET("/online", s.handleOnline)
	s.engine = engine

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: engine,
	}
	return s
}

// Handler 返回 HTTP handler（测试使用）
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 启动监听，Shutdown 之后返回 nil
func (s *Server) Start() error {
	s.logger.Info("WebSocket server starting", "addr", s.cfg.Addr, "path", s.cfg.WSPath)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// checkOrigin 未配置白名单时允许所有来源；没有 Origin 头的非浏览器客户端总是放行
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(c *gin.Context) {
	identity := s.resolveIdentity(c.Request)

	// 在 Upgrade（Hijack）之前计数，httpServer.Shutdown 返回后 wg.Wait 能看到所有会话
	s.wg.Add(1)
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		s.logger.Warn("WebSocket upgrade failed", "remote", c.Request.RemoteAddr, "error", err)
		return
	}
	s.serve(ws, identity)
}

// resolveIdentity 认证失败不拒绝连接，只是不带身份登记
func (s *Server) resolveIdentity(r *http.Request) *model.Identity {
	token := auth.TokenFromRequest(r, s.cookieName)
	if token == "" {
		s.logger.Debug("Connection without token", "remote", r.RemoteAddr)
		return nil
	}

	identity, err := s.resolver.Resolve(r.Context(), token)
	if err != nil {
		s.logger.Info("Identity resolution failed, admitting unidentified",
			"remote", r.RemoteAddr,
			"error", err)
		return nil
	}
	return identity
}

// serve 单个连接的生命周期：登记 -> 探活 -> 读循环 -> 移除
// 读循环只负责读帧（pong 也在这里处理），消息交给连接自己的 dispatch 协程按序处理
func (s *Server) serve(ws *websocket.Conn, identity *model.Identity) {
	conn := connection.New(newWSTransport(ws, s.cfg.WriteTimeout), s.cfg.SendBuffer, s.logger)

	if s.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	ws.SetPongHandler(func(string) error {
		s.monitor.Ack(conn)
		return nil
	})

	s.registry.Admit(conn, identity)
	defer s.registry.Evict(conn)

	// 停机期间升级上来的连接，EvictAll 可能已经执行过
	if conn.Closed() || s.ctx.Err() != nil {
		return
	}
	go s.monitor.Watch(s.ctx, conn)

	inbound := make(chan []byte, s.cfg.InboundBuffer)
	s.wg.Add(1)
	go s.dispatch(conn, inbound)

	s.logger.Info("Connection established",
		"conn_id", conn.ID(),
		"userId", conn.UserID(),
		"remote", ws.RemoteAddr().String())

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !conn.Closed() {
				s.logger.Debug("Read failed", "conn_id", conn.ID(), "error", err)
			}
			break
		}

		select {
		case inbound <- data:
		default:
			s.logger.Warn("Inbound queue full, frame dropped",
				"conn_id", conn.ID(),
				"userId", conn.UserID(),
				"queue", cap(inbound))
		}
	}

	s.logger.Info("Connection closed", "conn_id", conn.ID(), "userId", conn.UserID())
}

// dispatch 连接的入站处理协程；连接关闭后不再处理后续帧
func (s *Server) dispatch(conn *connection.Connection, inbound <-chan []byte) {
	defer s.wg.Done()

	for {
		select {
		case <-conn.Done():
			return
		case data := <-inbound:
			if conn.Closed() {
				return
			}
			s.handleFrame(conn, data)
		}
	}
}

// handleFrame 错误只影响当前这条消息
func (s *Server) handleFrame(conn *connection.Connection, data []byte) {
	intent, err := fanout.DecodeIntent(data)
	if err != nil {
		s.logger.Warn("Dropping malformed frame", "conn_id", conn.ID(), "error", err)
		return
	}

	if _, err := s.router.Route(s.ctx, conn, intent); err != nil {
		s.logger.Warn("Message rejected",
			"conn_id", conn.ID(),
			"userId", conn.UserID(),
			"code", apperr.GetCode(err),
			"error", err)
	}
}

// handleOnline 当前在线列表
func (s *Server) handleOnline(c *gin.Context) {
	c.JSON(http.StatusOK, &model.PresenceEvent{Online: s.registry.Snapshot()})
}

// Shutdown 停止接入、移除所有连接并等待会话退出
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cancel()

	evicted := s.registry.EvictAll()
	s.logger.Info("Evicted connections on shutdown", "count", evicted)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
