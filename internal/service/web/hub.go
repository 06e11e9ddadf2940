package web

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"nodesieve/internal/shared/logger"
	"nodesieve/proxypool/model"
)

// ProbeEvent 是推送给前端的单个节点探测结果。
type ProbeEvent struct {
	Key      string         `json:"key"`
	Name     string         `json:"name"`
	Protocol model.Protocol `json:"type"`
	Regions  []string       `json:"regions,omitempty"`
	Metrics  *model.Metrics `json:"metrics,omitempty"`
}

// WebSocketMessage 定义了 WebSocket 消息的通用格式
type WebSocketMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to the
// clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	quit       chan struct{}
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		quit:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	l := logger.WithComponent("Web/Hub")
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					// 读循环会负责注销断开的客户端
					l.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
				}
			}
			h.mu.Unlock()
		case <-h.quit:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop 关闭所有客户端并结束 Run 循环。
func (h *Hub) Stop() {
	close(h.quit)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastProbeResult 广播单个节点的探测结果。可直接用作 validator.Observer。
func (h *Hub) BroadcastProbeResult(n *model.Node) {
	h.send("probe_result", ProbeEvent{
		Key:      n.Key(),
		Name:     n.DisplayName(),
		Protocol: n.Protocol,
		Regions:  append([]string(nil), n.Regions...),
		Metrics:  n.Metrics,
	})
}

// BroadcastRunFinished 通知前端新的产物已经发布。
func (h *Hub) BroadcastRunFinished(status *Status) {
	h.send("run_finished", status)
}

func (h *Hub) send(kind string, data any) {
	jsonMsg, err := json.Marshal(WebSocketMessage{Type: kind, Data: data})
	if err != nil {
		l := logger.WithComponent("Web/Hub")
		l.Error().Err(err).Str("type", kind).Msg("Failed to marshal message.")
		return
	}
	select {
	case h.broadcast <- jsonMsg:
	default:
		// 通道已满时丢弃，避免阻塞探测
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := logger.WithComponent("Web/Hub")
		l.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.quit:
		conn.Close()
		return
	}

	// 读循环用于发现客户端断开
	go func() {
		defer func() {
			select {
			case hub.unregister <- conn:
			case <-hub.quit:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					l := logger.WithComponent("Web/Hub")
					l.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
