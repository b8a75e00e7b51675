package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kversteeg/starshield/internal/interfaces"
	"github.com/kversteeg/starshield/internal/model"
)

func TestEventsURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://127.0.0.1:8471", "ws://127.0.0.1:8471/events"},
		{"http://127.0.0.1:8471/", "ws://127.0.0.1:8471/events"},
		{"https://engine.local", "wss://engine.local/events"},
	}
	for _, c := range cases {
		got, err := EventsURL(c.in)
		if err != nil {
			t.Fatalf("EventsURL(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("EventsURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// wsTestServer upgrades incoming connections and hands them to the test.
func wsTestServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)
	return server, conns
}

func TestFeedDispatchesByChannel(t *testing.T) {
	server, conns := wsTestServer(t)
	wsURL, err := EventsURL(server.URL)
	if err != nil {
		t.Fatal(err)
	}

	feed := NewFeed(wsURL, interfaces.NewTestLogger(testing.Verbose()))

	var mu sync.Mutex
	var progress []model.Event
	var finished []model.Event
	feed.Subscribe(model.ChannelScanProgress, func(ev model.Event) {
		mu.Lock()
		progress = append(progress, ev)
		mu.Unlock()
	})
	feed.Subscribe(model.ChannelScanFinished, func(ev model.Event) {
		mu.Lock()
		finished = append(finished, ev)
		mu.Unlock()
	})

	if err := feed.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer feed.Close()
	conn := <-conns

	events := []model.Event{
		{Channel: model.ChannelScanProgress, Progress: &model.ScanProgress{Current: 1, Total: 2, File: "/tmp/a"}},
		{Channel: model.ChannelScanProgress, Progress: &model.ScanProgress{Current: 2, Total: 2, File: "/tmp/b"}},
		{Channel: model.ChannelScanFinished, Threats: []model.Detection{{Label: "T", Path: "/tmp/b"}}},
	}
	for _, ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			t.Fatalf("WriteJSON: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(progress) == 2 && len(finished) == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) != 2 || len(finished) != 1 {
		t.Fatalf("got %d progress / %d finished events", len(progress), len(finished))
	}
	if progress[1].Progress == nil || progress[1].Progress.File != "/tmp/b" {
		t.Errorf("payload lost: %+v", progress[1])
	}
	if len(finished[0].Threats) != 1 || finished[0].Threats[0].Label != "T" {
		t.Errorf("detections lost: %+v", finished[0])
	}
}

func TestFeedUnsubscribeIsIdempotent(t *testing.T) {
	feed := NewFeed("ws://unused/events", interfaces.NewTestLogger(testing.Verbose()))

	calls := 0
	unsub := feed.Subscribe(model.ChannelScanProgress, func(model.Event) { calls++ })

	feed.Inject(model.Event{Channel: model.ChannelScanProgress})
	unsub()
	unsub()
	feed.Inject(model.Event{Channel: model.ChannelScanProgress})

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestFeedInjectBypassesWire(t *testing.T) {
	feed := NewFeed("ws://unused/events", interfaces.NewTestLogger(testing.Verbose()))

	var got model.Event
	feed.Subscribe(model.ChannelRealtimeThreat, func(ev model.Event) { got = ev })

	feed.Inject(model.Event{
		Channel: model.ChannelRealtimeThreat,
		Threats: []model.Detection{{Label: "Trojan.Generic", Path: "/tmp/x.exe"}},
	})
	if len(got.Threats) != 1 || got.Threats[0].Path != "/tmp/x.exe" {
		t.Fatalf("injected event lost: %+v", got)
	}
}

func TestFeedCloseStopsReadLoop(t *testing.T) {
	server, conns := wsTestServer(t)
	wsURL, err := EventsURL(server.URL)
	if err != nil {
		t.Fatal(err)
	}

	feed := NewFeed(wsURL, interfaces.NewTestLogger(testing.Verbose()))
	if err := feed.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := <-conns

	if err := feed.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := feed.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// The server side observes the closed connection.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected read error after feed close")
	}
}
