// services/feed/pkg/feed/conn.go
package feed

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/logger"
)

// ErrInvalidURL - адрес не является ws:// или wss:// URL.
var ErrInvalidURL = errors.New("feed: invalid websocket url")

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// isFatal: ошибки, которые не лечатся переподключением.
func isFatal(err error) bool {
	if errors.Is(err, ErrInvalidURL) {
		return true
	}
	var (
		verr *tls.CertificateVerificationError
		uerr x509.UnknownAuthorityError
		herr x509.HostnameError
		cerr x509.CertificateInvalidError
	)
	return errors.As(err, &verr) || errors.As(err, &uerr) ||
		errors.As(err, &herr) || errors.As(err, &cerr)
}

// wsConn - одно WebSocket-соединение вместе с его ping-горутиной.
type wsConn struct {
	ws        *websocket.Conn
	cfg       Config
	sessionID string
	log       *logger.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func dial(ctx context.Context, rawURL string, cfg Config, tlsCfg *tls.Config, sessionID string, log *logger.Logger) (*wsConn, error) {
	dctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	// отмена ctx прерывает и зависший handshake: дедлайн сокета в прошлом
	var unwatch func() bool
	d := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig:  tlsCfg,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			nc, err := (&net.Dialer{}).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			unwatch = context.AfterFunc(dctx, func() { _ = nc.SetDeadline(time.Unix(1, 0)) })
			return nc, nil
		},
	}

	ws, resp, err := d.DialContext(dctx, rawURL, nil)
	if unwatch != nil {
		unwatch()
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("feed: dial %s: %w", rawURL, err)
	}

	c := &wsConn{
		ws:        ws,
		cfg:       cfg,
		sessionID: sessionID,
		log:       log,
		done:      make(chan struct{}),
	}
	_ = ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})
	return c, nil
}

// read возвращает следующий текстовый кадр. Каждое чтение продлевает дедлайн.
func (c *wsConn) read() ([]byte, error) {
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// pingLoop шлёт ping каждые ReadTimeout/3 до закрытия соединения.
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.cfg.pingInterval())
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Warn("ws: ping failed", zap.Error(err))
			}
		}
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(100*time.Millisecond))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}
