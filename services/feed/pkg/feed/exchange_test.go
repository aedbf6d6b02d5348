package feed

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeExchange - тестовый WS-сервер в манере Coinbase: запоминает
// входящие кадры и на каждое подключение выполняет script.
type fakeExchange struct {
	t      *testing.T
	srv    *httptest.Server
	frames chan clientFrame

	// waitSubscribe: запускать script только после первого кадра клиента.
	waitSubscribe bool

	mu     sync.Mutex
	conns  []*websocket.Conn
	script func(n int, conn *websocket.Conn)
}

type clientFrame struct {
	Conn       int
	Type       string          `json:"type"`
	ProductIDs []string        `json:"product_ids"`
	Channels   json.RawMessage `json:"channels"`
	Raw        string
}

func newFakeExchange(t *testing.T, waitSubscribe bool, script func(n int, conn *websocket.Conn)) *fakeExchange {
	t.Helper()
	fx := &fakeExchange{t: t, frames: make(chan clientFrame, 64), script: script, waitSubscribe: waitSubscribe}
	fx.srv = httptest.NewServer(http.HandlerFunc(fx.handle))
	t.Cleanup(fx.close)
	return fx
}

func (fx *fakeExchange) url() string {
	return "ws" + strings.TrimPrefix(fx.srv.URL, "http")
}

func (fx *fakeExchange) handle(w http.ResponseWriter, r *http.Request) {
	upg := websocket.Upgrader{}
	conn, err := upg.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fx.mu.Lock()
	fx.conns = append(fx.conns, conn)
	n := len(fx.conns)
	script := fx.script
	fx.mu.Unlock()

	first := make(chan struct{})
	go func() {
		var once sync.Once
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f := clientFrame{Conn: n, Raw: string(data)}
			_ = json.Unmarshal(data, &f)
			select {
			case fx.frames <- f:
			default:
			}
			once.Do(func() { close(first) })
		}
	}()
	if fx.waitSubscribe {
		select {
		case <-first:
		case <-time.After(2 * time.Second):
			return
		}
	}
	if script != nil {
		script(n, conn)
	}
}

func (fx *fakeExchange) connections() int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return len(fx.conns)
}

// dropAll рвёт все открытые соединения без close-кадра.
func (fx *fakeExchange) dropAll() {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	for _, c := range fx.conns {
		_ = c.Close()
	}
}

func (fx *fakeExchange) close() {
	fx.dropAll()
	fx.srv.Close()
}

// nextFrame ждёт следующий кадр от клиента.
func (fx *fakeExchange) nextFrame() clientFrame {
	fx.t.Helper()
	select {
	case f := <-fx.frames:
		return f
	case <-time.After(2 * time.Second):
		fx.t.Fatal("no frame from client")
		return clientFrame{}
	}
}

// send пишет кадры, игнорируя ошибки: клиент может уже закрыть сокет.
func send(conn *websocket.Conn, frames ...string) {
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return
		}
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffMax = 20 * time.Millisecond
	cfg.BackoffJitter = 0
	cfg.ReadTimeout = 2 * time.Second
	cfg.HandshakeTimeout = time.Second
	return cfg
}

// newTLSExchange поднимает wss-сервер с самоподписанным сертификатом,
// которому клиент не доверяет.
func newTLSExchange(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upg := websocket.Upgrader{}
		if conn, err := upg.Upgrade(w, r, nil); err == nil {
			_ = conn.Close()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// silentExchange принимает WS-подключения и молчит: не читает кадры,
// поэтому и на ping не отвечает.
type silentExchange struct {
	srv   *httptest.Server
	mu    sync.Mutex
	conns []*websocket.Conn
}

func newSilentExchange(t *testing.T) *silentExchange {
	t.Helper()
	sx := &silentExchange{}
	sx.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upg := websocket.Upgrader{}
		conn, err := upg.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sx.mu.Lock()
		sx.conns = append(sx.conns, conn)
		sx.mu.Unlock()
	}))
	t.Cleanup(func() {
		sx.mu.Lock()
		for _, c := range sx.conns {
			_ = c.Close()
		}
		sx.mu.Unlock()
		sx.srv.Close()
	})
	return sx
}

func (sx *silentExchange) url() string {
	return "ws" + strings.TrimPrefix(sx.srv.URL, "http")
}

func (sx *silentExchange) connections() int {
	sx.mu.Lock()
	defer sx.mu.Unlock()
	return len(sx.conns)
}

// stalledListener принимает TCP-подключения и не отвечает на handshake.
func stalledListener(t *testing.T) (addr string, accepted <-chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ch := make(chan struct{}, 8)
	var mu sync.Mutex
	var held []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, c)
			mu.Unlock()
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		for _, c := range held {
			_ = c.Close()
		}
		mu.Unlock()
	})
	return "ws://" + ln.Addr().String(), ch
}
