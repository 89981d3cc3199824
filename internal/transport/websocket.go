package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"toolmesh/internal/auth"
	"toolmesh/internal/broadcast"
)

// WebSocketConfig bounds an upgraded connection's framing and timeouts.
//
// Grounded on the teacher's pkg/mcp/transport/websocket.go config struct,
// narrowed to what the subscribe-only /ws endpoint needs.
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteTimeout    time.Duration
	CheckOrigin     func(r *http.Request) bool
}

// DefaultWebSocketConfig returns sane framing defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  1 << 20,
		WriteTimeout:    10 * time.Second,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// WebSocket upgrades /ws connections and subscribes them to the broadcast
// fabric.
type WebSocket struct {
	cfg      WebSocketConfig
	upgrader websocket.Upgrader
	fabric   *broadcast.Fabric
	checker  auth.CredentialChecker
	nextID   int64
}

// NewWebSocket constructs a WebSocket handler publishing through fabric,
// requiring every subscribe message to pass checker.
func NewWebSocket(cfg WebSocketConfig, fabric *broadcast.Fabric, checker auth.CredentialChecker) *WebSocket {
	if checker == nil {
		checker = auth.NoOpChecker{}
	}
	return &WebSocket{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		fabric:  fabric,
		checker: checker,
	}
}

// subscribeMessage is the one message type a client may send: which
// topics to receive pushes for.
type subscribeMessage struct {
	Op     string   `json:"op"`
	Topics []string `json:"topics"`
	Token  string   `json:"token,omitempty"`
}

// connAdapter satisfies broadcast.Conn over a *websocket.Conn, applying a
// write deadline per send.
type connAdapter struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *connAdapter) WriteJSON(v interface{}) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteJSON(v)
}

func (c *connAdapter) Close() error { return c.conn.Close() }

// ServeHTTP upgrades the connection, reads exactly one subscribe message,
// then hands the connection to the fabric and blocks reading pings/pongs
// until the client disconnects.
func (ws *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(ws.cfg.MaxMessageSize)

	var sub subscribeMessage
	if err := conn.ReadJSON(&sub); err != nil {
		_ = conn.Close()
		return
	}

	if !ws.checker.Check(r.Context(), sub.Token) {
		_ = conn.Close()
		return
	}

	topics := make([]broadcast.Topic, 0, len(sub.Topics))
	for _, t := range sub.Topics {
		topics = append(topics, broadcast.Topic(t))
	}

	ws.nextID++
	id := fmt.Sprintf("ws-%d-%d", time.Now().UnixNano(), ws.nextID)

	adapter := &connAdapter{conn: conn, timeout: ws.cfg.WriteTimeout}
	ws.fabric.Subscribe(id, adapter, topics)

	conn.SetPongHandler(func(string) error {
		ws.fabric.NotePong(id)
		return nil
	})

	defer ws.fabric.Unsubscribe(id)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
