// internal/websocket/server.go
package websocket

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"askh/internal/logging"
)

// Server WebSocket 服务器，处理 RPC 调用并推送事件
type Server struct {
	addr       string
	authKey    string
	origins    map[string]bool
	upgrader   websocket.Upgrader
	port       int
	router     *Router
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	calls      sync.WaitGroup
	log        *slog.Logger
}

// NewServer 创建新的 WebSocket 服务器。addr 为空时使用本地随机端口；
// authKey 非空时，客户端须通过 X-Auth-Key 头或 key 查询参数提供。
func NewServer(app interface{}, addr, authKey string) *Server {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	s := &Server{
		addr:    addr,
		authKey: authKey,
		origins: make(map[string]bool),
		router:  NewRouter(app),
		clients: make(map[string]*Client),
		log:     logging.Component("websocket"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// AllowOrigins 允许服务器自身以外的浏览器来源
func (s *Server) AllowOrigins(origins ...string) {
	for _, o := range origins {
		s.origins[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
}

// checkOrigin 只接受无 Origin 头的客户端、同源页面和允许的来源。
// 本机其他页面（包括预览中的应用）一律拒绝。
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	if s.origins[strings.ToLower(origin)] {
		return true
	}
	s.log.Warn("websocket origin rejected", "origin", origin)
	return false
}

// Start 启动 WebSocket 服务器，返回绑定的端口
func (s *Server) Start(ctx context.Context) (int, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return 0, fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.httpServer = &http.Server{Handler: s.Handler()}

	go func() {
		if err := s.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("websocket server stopped", "error", err)
		}
	}()

	s.log.Info("websocket server listening", "addr", listener.Addr().String())
	return s.port, nil
}

// Handler 返回 HTTP 路由
func (s *Server) Handler() http.Handler {
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Stop 停止服务器，关闭所有客户端并取消进行中的调用
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	s.clientsMu.Lock()
	for id, client := range s.clients {
		client.Close()
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.calls.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// authorized 以常量时间比较 authKey
func (s *Server) authorized(r *http.Request) bool {
	key := r.Header.Get("X-Auth-Key")
	if key == "" {
		key = r.URL.Query().Get("key")
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.authKey)) == 1
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authKey != "" && !s.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(uuid.New().String(), conn)

	s.clientsMu.Lock()
	s.clients[client.ID] = client
	s.clientsMu.Unlock()
	s.log.Debug("client connected", "client", client.ID)

	go client.WritePump()
	s.readPump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		client.Close()
		s.log.Debug("client disconnected", "client", client.ID)
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("websocket read failed", "client", client.ID, "error", err)
			}
			return
		}
		s.handleMessage(client, message)
	}
}

func (s *Server) handleMessage(client *Client, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.log.Warn("invalid message", "client", client.ID, "error", err)
		return
	}

	if msg.Kind == KindRequest && msg.Request != nil {
		// 模型调用可能持续数分钟，不阻塞读取
		s.calls.Add(1)
		go func(req *RPCRequest) {
			defer s.calls.Done()
			s.handleRPCRequest(client, req)
		}(msg.Request)
	}
}

func (s *Server) handleRPCRequest(client *Client, req *RPCRequest) {
	result, err := s.call(req)

	var errMsg string
	if err != nil {
		errMsg = err.Error()
		s.log.Debug("rpc failed", "method", req.Method, "error", err)
	}

	if err := client.SendResponse(req.ID, result, errMsg); err != nil && !errors.Is(err, ErrClientClosed) {
		s.log.Warn("failed to send response", "client", client.ID, "error", err)
	}
}

func (s *Server) call(req *RPCRequest) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("rpc panic", "method", req.Method, "panic", r)
			err = fmt.Errorf("internal error in %s", req.Method)
		}
	}()
	return s.router.Call(s.ctx, req.Method, req.Params)
}

// BroadcastEvent 向所有客户端广播事件
func (s *Server) BroadcastEvent(eventType string, payload interface{}) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		if err := client.SendEvent(eventType, payload); err != nil {
			s.log.Debug("event dropped", "client", client.ID, "event", eventType, "error", err)
		}
	}
}

// ClientCount 返回已连接的客户端数量
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetPort 返回绑定的端口
func (s *Server) GetPort() int {
	return s.port
}
