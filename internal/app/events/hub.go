package events

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atproject/projectone/internal/app/metrics"
	"github.com/atproject/projectone/internal/app/system"
	apperrors "github.com/atproject/projectone/internal/errors"
	"github.com/atproject/projectone/internal/httputil"
	"github.com/atproject/projectone/pkg/logger"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

var _ system.Service = (*Hub)(nil)
var _ Publisher = (*Hub)(nil)

// Hub delivers published events to subscribers. A subscriber whose buffer is
// full is dropped rather than allowed to stall publishers.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	running bool
	dropped int

	wg sync.WaitGroup
}

// Subscription receives events until it is closed or dropped, at which point
// C is closed.
type Subscription struct {
	C         <-chan ChangeEvent
	ch        chan ChangeEvent
	accountID string
	hub       *Hub
	once      sync.Once
}

// NewHub creates a hub. allowedOrigins limits websocket upgrades by Origin
// header; empty or "*" accepts any origin.
func NewHub(allowedOrigins []string, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("events")
	}
	h := &Hub{log: log, subs: make(map[*Subscription]struct{})}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func (h *Hub) Name() string { return "events-hub" }

func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	h.log.Info("events hub started")
	return nil
}

// Stop closes every subscription and waits for websocket connections to
// finish.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.running = false
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.log.WithField("subscribers", len(subs)).Info("events hub stopped")
	return nil
}

// Subscribe registers a subscriber. An empty accountID receives every event.
func (h *Hub) Subscribe(accountID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribeLocked(accountID)
}

func (h *Hub) subscribeLocked(accountID string) *Subscription {
	ch := make(chan ChangeEvent, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, accountID: accountID, hub: h}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish hands ev to every matching subscriber without blocking.
func (h *Hub) Publish(ev ChangeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	metrics.RecordEvent(string(ev.Type))

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.accountID != "" && sub.accountID != ev.AccountID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			delete(h.subs, sub)
			sub.closeChannel()
			h.dropped++
			h.log.WithField("account_filter", sub.accountID).Warn("dropping slow event subscriber")
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many subscribers were removed for falling behind.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
	s.closeChannel()
}

func (s *Subscription) closeChannel() {
	s.once.Do(func() { close(s.ch) })
}

// ServeWS upgrades the request and streams events as JSON text frames until
// the client goes away or the hub stops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, accountID string) {
	if !h.Running() {
		httputil.WriteError(w, apperrors.Unavailable("event stream unavailable", nil))
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	sub := h.subscribeLocked(accountID)
	// registered under the lock so Stop never waits on a group that can still grow
	h.wg.Add(2)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		h.readLoop(conn, sub)
	}()
	defer h.wg.Done()
	h.writeLoop(conn, sub)
}

// Running reports whether the hub accepts websocket subscribers.
func (h *Hub) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// readLoop consumes control frames so pongs are seen and a client close is
// noticed.
func (h *Hub) readLoop(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		_ = conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
