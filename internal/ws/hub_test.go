package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func hubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Add(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.CloseAll()
	server := hubServer(t, hub)

	first := dial(t, server)
	second := dial(t, server)

	// Wait for both registrations before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		n := len(hub.clients)
		hub.mu.RUnlock()
		if n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(map[string]string{"status": "ringing"})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg map[string]string
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg["status"] != "ringing" {
			t.Errorf("message = %v", msg)
		}
	}
}

func TestSlowClientDoesNotBlockBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.CloseAll()
	server := hubServer(t, hub)

	dial(t, server)

	// Many broadcasts against a client that never reads: the send
	// buffer fills and messages drop, but Broadcast must return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			hub.Broadcast(map[string]int{"seq": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Broadcast blocked on a slow client")
	}
}

func waitForClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var client *Client
		hub.mu.RLock()
		for _, c := range hub.clients {
			client = c
			break
		}
		hub.mu.RUnlock()
		if client != nil {
			return client
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client never registered")
	return nil
}

func TestBroadcastToClosedClientDoesNotPanic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.CloseAll()
	server := hubServer(t, hub)

	dial(t, server)
	client := waitForClient(t, hub)

	// Closed but not yet removed from the hub: the window readPump's
	// cleanup leaves open while a broadcast holds its snapshot.
	client.Close()

	for i := 0; i < 200; i++ {
		hub.Broadcast(map[string]int{"seq": i})
	}

	hub.Remove(client)
}

func TestBroadcastRacesDisconnectingClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.CloseAll()
	server := hubServer(t, hub)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.Broadcast(map[string]string{"status": "ringing"})
				}
			}
		}()
	}

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	for i := 0; i < 150; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conn.Close()
	}

	close(stop)
	wg.Wait()
}

func TestRemoveClosesClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	server := hubServer(t, hub)

	conn := dial(t, server)
	client := waitForClient(t, hub)

	hub.Remove(client)

	hub.mu.RLock()
	remaining := len(hub.clients)
	hub.mu.RUnlock()
	if remaining != 0 {
		t.Fatalf("%d clients left after Remove", remaining)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection should be closed after Remove")
	}
}
