package clients

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWindow(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/-/clients?" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read error: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestServerAttachAndMessages(t *testing.T) {
	reg := NewRegistry(nil, quietLogger())
	srv := httptest.NewServer(NewServer(reg, quietLogger()))
	defer srv.Close()

	conn := dialWindow(t, srv, "url=/forecast")
	defer conn.Close()

	hello := readMessage(t, conn)
	if hello.Type != MessageAttached || hello.WindowID == "" || hello.URL != "/forecast" {
		t.Fatalf("unexpected hello: %+v", hello)
	}

	if err := conn.WriteJSON(Message{Type: MessageNavigate, URL: "/alerts"}); err != nil {
		t.Fatalf("write navigate: %v", err)
	}
	waitFor(t, func() bool {
		w, ok := reg.Get(hello.WindowID)
		return ok && w.URL == "/alerts"
	})

	if delivered := reg.Broadcast(Message{Type: MessageNotification, Tag: "aurora-alert"}); delivered != 1 {
		t.Fatalf("expected broadcast to reach window, got %d", delivered)
	}
	got := readMessage(t, conn)
	if got.Type != MessageNotification || got.Tag != "aurora-alert" {
		t.Fatalf("unexpected message: %+v", got)
	}

	conn.Close()
	waitFor(t, func() bool { return reg.Len() == 0 })
}
