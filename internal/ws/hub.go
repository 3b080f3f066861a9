// Package ws is the WebSocket transport. Each socket is a presence connection;
// clients bind it to a user with a register message.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jialangli/emotion-companion/internal/delivery"
	"github.com/jialangli/emotion-companion/internal/metrics"
	"github.com/jialangli/emotion-companion/internal/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 16
)

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// ActivityRecorder stamps a user's last activity.
type ActivityRecorder interface {
	TouchLastActive(ctx context.Context, userID string, at time.Time) error
}

// Options configures a Hub.
type Options struct {
	// AllowedOrigins lists accepted Origin headers. Empty or "*" accepts any.
	AllowedOrigins []string
	Now            func() time.Time
}

// Hub owns every open socket and resolves presence ids to them.
type Hub struct {
	presence *presence.Registry
	activity ActivityRecorder
	log      *zap.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	clients map[presence.ConnID]*client
}

var _ delivery.Resolver = (*Hub)(nil)

func NewHub(reg *presence.Registry, activity ActivityRecorder, log *zap.Logger, opts Options) *Hub {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Hub{
		presence: reg,
		activity: activity,
		log:      log.With(zap.String("component", "ws")),
		now:      opts.Now,
		clients:  make(map[presence.ConnID]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.TrimRight(o, "/")] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// ServeHTTP upgrades the request and runs the socket until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}

	c := &client{
		id:   presence.ConnID(uuid.NewString()),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Debug("socket connected", zap.String("sid", string(c.id)), zap.String("remote", r.RemoteAddr))

	_ = c.reply(outbound{Type: "connected", SID: string(c.id), Message: "connected"})

	go c.writePump()
	c.readPump()
}

// Lookup returns the live socket for id.
func (h *Hub) Lookup(id presence.ConnID) (delivery.Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	if !ok {
		return nil, false
	}
	return c, true
}

// DisconnectUser closes every socket registered for userID and returns the count.
func (h *Hub) DisconnectUser(userID string) int {
	var victims []*client
	h.mu.RLock()
	for _, id := range h.presence.Connections(userID) {
		if c, ok := h.clients[id]; ok {
			victims = append(victims, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range victims {
		c.close()
	}
	if len(victims) > 0 {
		h.log.Info("user disconnected", zap.String("user_id", userID), zap.Int("sockets", len(victims)))
	}
	return len(victims)
}

// Close drops every open socket.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}

// Count is the number of open sockets, registered or not.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(id presence.ConnID) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()

	if userID, ok := h.presence.Unregister(id); ok {
		h.log.Info("user connection dropped", zap.String("user_id", userID), zap.String("sid", string(id)))
	}
	h.publishPresence()
}

func (h *Hub) publishPresence() {
	st := h.presence.Stats()
	metrics.SetPresence(st.OnlineUserCount, st.TotalConnectionCount)
}

func (h *Hub) handle(c *client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		_ = c.reply(outbound{Type: "error", Message: "invalid message"})
		return
	}

	switch msg.Type {
	case "register":
		userID := strings.TrimSpace(msg.UserID)
		if userID == "" {
			_ = c.reply(outbound{Type: "error", Message: "missing user_id"})
			return
		}
		if !h.bind(c, userID) {
			return
		}
		h.publishPresence()
		h.touch(userID)
		h.log.Info("user registered", zap.String("user_id", userID), zap.String("sid", string(c.id)))
		_ = c.reply(outbound{
			Type:      "registered",
			UserID:    userID,
			Message:   "registered",
			Timestamp: h.now().Format(time.RFC3339),
		})

	case "unregister":
		userID := strings.TrimSpace(msg.UserID)
		if userID == "" {
			return
		}
		if owner, ok := h.presence.UserOf(c.id); !ok || owner != userID {
			_ = c.reply(outbound{Type: "error", Message: "not registered as " + userID})
			return
		}
		h.presence.Unregister(c.id)
		h.publishPresence()
		_ = c.reply(outbound{Type: "unregistered", UserID: userID, Message: "unregistered"})

	case "ping":
		_ = c.reply(outbound{Type: "pong", Timestamp: h.now().Format(time.RFC3339)})

	default:
		_ = c.reply(outbound{Type: "error", Message: "unknown message type"})
	}
}

// bind registers c for userID unless the socket has already been removed.
func (h *Hub) bind(c *client, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return false
	}
	h.presence.Register(userID, c.id)
	return true
}

func (h *Hub) touch(userID string) {
	if h.activity == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.activity.TouchLastActive(ctx, userID, h.now().UTC()); err != nil {
		h.log.Warn("touch last active failed", zap.String("user_id", userID), zap.Error(err))
	}
}
