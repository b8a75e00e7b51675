package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/model"
)

// EventsURL derives the websocket event feed URL from the daemon's HTTP
// base URL.
func EventsURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing engine base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	return u.String(), nil
}

// Feed implements interfaces.EngineEvents over one websocket connection.
// A single read loop decodes frames and dispatches them serially to the
// registered handlers, so no two handlers ever run concurrently.
type Feed struct {
	url    string
	logger logging.Logger

	mu     sync.Mutex
	subs   map[model.EventChannel]map[uint64]func(model.Event)
	nextID uint64
	conn   *websocket.Conn

	done      chan struct{}
	closeOnce sync.Once
}

// NewFeed creates a disconnected feed for the given websocket URL.
func NewFeed(wsURL string, logger logging.Logger) *Feed {
	return &Feed{
		url:    wsURL,
		logger: logger.With(logging.Field{Key: "component", Value: "engine_events"}),
		subs:   make(map[model.EventChannel]map[uint64]func(model.Event)),
		done:   make(chan struct{}),
	}
}

// Connect dials the feed and starts the dispatch loop. Subscriptions may be
// registered before or after connecting.
func (f *Feed) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dialing engine event feed %s: %w", f.url, err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	go f.readLoop(conn)
	f.logger.Info("event feed connected", logging.Field{Key: "url", Value: f.url})
	return nil
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	for {
		var ev model.Event
		if err := conn.ReadJSON(&ev); err != nil {
			select {
			case <-f.done:
				// Closed deliberately.
			default:
				f.logger.Warn("event feed read failed", logging.Field{Key: "error", Value: err.Error()})
			}
			return
		}
		f.dispatch(ev)
	}
}

func (f *Feed) dispatch(ev model.Event) {
	f.mu.Lock()
	handlers := make([]func(model.Event), 0, len(f.subs[ev.Channel]))
	for _, h := range f.subs[ev.Channel] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribe registers a handler for one channel. The returned unsubscribe
// closure is idempotent.
func (f *Feed) Subscribe(channel model.EventChannel, handler func(model.Event)) func() {
	f.mu.Lock()
	if f.subs[channel] == nil {
		f.subs[channel] = make(map[uint64]func(model.Event))
	}
	f.nextID++
	id := f.nextID
	f.subs[channel][id] = handler
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[channel], id)
			f.mu.Unlock()
		})
	}
}

// Inject dispatches an event as if it had arrived on the wire. The session
// manager's synthetic simulator uses it so downstream handlers cannot tell
// simulated and real scans apart.
func (f *Feed) Inject(ev model.Event) {
	f.dispatch(ev)
}

// Close tears the connection down and stops the dispatch loop.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		conn := f.conn
		f.conn = nil
		f.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}
