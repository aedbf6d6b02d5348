// services/feed/pkg/feed/client.go
package feed

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/backoff"
	"github.com/YaganovValera/market-feed/common/logger"
	"github.com/YaganovValera/market-feed/services/feed/pkg/dispatch"
)

var (
	ErrAlreadyStarted = errors.New("feed: client already started")
	ErrStopped        = errors.New("feed: client stopped")
	ErrNotConnected   = errors.New("feed: not connected")
)

var tracer = otel.Tracer("feed/client")

const resyncQueueSize = 64

// Option настраивает Client.
type Option func(*Client)

// WithTLSConfig задаёт TLS-конфиг для wss://.
func WithTLSConfig(tc *tls.Config) Option {
	return func(c *Client) { c.tlsCfg = tc }
}

// Stats - снимок счётчиков клиента.
type Stats struct {
	State        State
	SessionID    string
	Received     uint64
	Delivered    uint64
	Duplicates   uint64
	Gaps         uint64
	DecodeErrors uint64
	Reconnects   uint64
	Resyncs      uint64
	Queue        dispatch.Stats
}

// Client держит подписку на фид живой между обрывами соединения.
type Client struct {
	url    string
	cfg    Config
	log    *logger.Logger
	tlsCfg *tls.Config

	registry  *Registry
	validator *Validator
	queue     *dispatch.Queue[Message]
	events    *notifier
	strategy  *backoff.Strategy

	state atomic.Int32

	mu        sync.Mutex // guards conn, started, stopped
	conn      *wsConn
	started   bool
	stopped   bool
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	// subMu сериализует изменения реестра с отправкой снимка в establish:
	// подписка, добавленная во время подключения, либо попадёт в снимок,
	// либо уйдёт отдельным кадром уже в Subscribed.
	subMu sync.Mutex

	resyncMu sync.Mutex
	pending  map[Subscription]struct{}
	resyncCh chan Subscription

	// afterSnapshot вызывается в establish после отправки снимка (для тестов).
	afterSnapshot func()

	received     atomic.Uint64
	delivered    atomic.Uint64
	duplicates   atomic.Uint64
	gaps         atomic.Uint64
	decodeErrors atomic.Uint64
	reconnects   atomic.Uint64
	resyncs      atomic.Uint64
}

// New создаёт клиент в состоянии Disconnected. Соединение открывает Start.
func New(rawURL string, cfg Config, log *logger.Logger, opts ...Option) (*Client, error) {
	if rawURL == "" {
		rawURL = cfg.URL
	}
	cfg.URL = rawURL
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := backoff.NewStrategy(cfg.backoffConfig())
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}

	log = log.Named("feed")
	c := &Client{
		url:      cfg.URL,
		cfg:      cfg,
		log:      log,
		registry: NewRegistry(),
		events:   newNotifier(log),
		strategy: strategy,
		stopCh:   make(chan struct{}),
		pending:  make(map[Subscription]struct{}),
		resyncCh: make(chan Subscription, resyncQueueSize),
	}
	c.queue = dispatch.New[Message](cfg.QueueCapacity, cfg.OverflowPolicy,
		dispatch.WithDropHook(func(Message) { metrics.QueueDrops.Inc() }))
	c.validator = NewValidator(c.requestResync, log, cfg.GapExemptChannels...)
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Connect создаёт клиент, регистрирует subs и вызывает Start.
func Connect(ctx context.Context, rawURL string, subs []Subscription, cfg Config, log *logger.Logger, opts ...Option) (*Client, error) {
	c, err := New(rawURL, cfg, log, opts...)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		c.registry.Add(s)
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Registry отдаёт реестр подписок. Изменения применяются при следующем
// (пере)подключении; для немедленного применения используйте Subscribe.
func (c *Client) Registry() *Registry { return c.registry }

func (c *Client) State() State { return State(c.state.Load()) }

// AddListener регистрирует обработчик событий.
func (c *Client) AddListener(l Listener) { c.events.add(l) }

// Start переводит клиент в Connecting и выполняет первое подключение.
// Фатальные ошибки возвращаются сразу, временные переводят в Degraded
// с повтором в фоне.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.stopped:
		c.mu.Unlock()
		return ErrStopped
	case c.started:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	c.events.start()
	c.setState(StateConnecting)

	if err := validateURL(c.url); err != nil {
		c.log.Error("feed: fatal start error", zap.Error(err))
		_ = c.Stop()
		return err
	}

	// первый dial отменяется и контекстом вызывающего, и Stop
	dialCtx, cancel := context.WithCancel(ctx)
	stopDial := context.AfterFunc(c.runCtx, cancel)
	conn, err := c.establish(dialCtx)
	stopDial()
	cancel()
	switch {
	case err == nil:
	case c.stopping():
		return ErrStopped
	case isFatal(err):
		c.log.Error("feed: fatal connect error", zap.Error(err))
		_ = c.Stop()
		return err
	case errors.Is(err, ErrStopped):
		return err
	default:
		c.log.Warn("feed: initial connect failed, retrying in background", zap.Error(err))
		c.setState(StateDegraded)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.wg.Add(2)
	c.mu.Unlock()

	go c.run(conn)
	go c.resyncLoop()
	return nil
}

// Stop закрывает соединение и очередь, дожидается всех горутин.
// Повторный вызов ничего не делает.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.runCancel()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.close()
	}
	c.queue.Close()
	c.wg.Wait()

	c.setState(StateDisconnected)
	c.events.stop()
	c.log.Info("feed: stopped")
	return nil
}

// Next блокируется до следующего сообщения. false - конец потока.
func (c *Client) Next() (Message, bool) { return c.queue.Pop() }

// Messages адаптирует Next к каналу. Канал закрывается после Stop или
// отмены ctx; горутина может задержаться до следующего сообщения.
func (c *Client) Messages(ctx context.Context) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			msg, ok := c.Next()
			if !ok {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Subscribe добавляет подписки; в состоянии Subscribed сразу шлёт кадр.
func (c *Client) Subscribe(subs ...Subscription) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	var added []Subscription
	for _, s := range subs {
		if c.registry.Add(s) {
			added = append(added, s)
		}
	}
	return c.sendLive(reqTypeSubscribe, added)
}

// Unsubscribe удаляет подписки и их курсоры.
func (c *Client) Unsubscribe(subs ...Subscription) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	var removed []Subscription
	for _, s := range subs {
		if c.registry.Remove(s) {
			c.validator.Reset(Subscription{Channel: frameChannel(s.Channel), ProductID: s.ProductID})
			removed = append(removed, s)
		}
	}
	return c.sendLive(reqTypeUnsubscribe, removed)
}

func (c *Client) sendLive(typ string, subs []Subscription) error {
	if len(subs) == 0 {
		return nil
	}
	conn := c.currentConn()
	if conn == nil || c.State() != StateSubscribed {
		// применится при следующем подключении
		return nil
	}
	frame, err := encodeRequest(typ, subs)
	if err != nil {
		return err
	}
	if err := conn.write(frame); err != nil {
		return fmt.Errorf("feed: %s: %w", typ, err)
	}
	return nil
}

func (c *Client) Stats() Stats {
	var sid string
	if conn := c.currentConn(); conn != nil {
		sid = conn.sessionID
	}
	return Stats{
		State:        c.State(),
		SessionID:    sid,
		Received:     c.received.Load(),
		Delivered:    c.delivered.Load(),
		Duplicates:   c.duplicates.Load(),
		Gaps:         c.gaps.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		Reconnects:   c.reconnects.Load(),
		Resyncs:      c.resyncs.Load(),
		Queue:        c.queue.Stats(),
	}
}

// -----------------------------------------------------------------------------
// connection lifecycle
// -----------------------------------------------------------------------------

func (c *Client) currentConn() *wsConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) setState(s State) {
	if s != StateDisconnected && c.stopping() {
		return
	}
	prev := State(c.state.Swap(int32(s)))
	metrics.State.Set(float64(s))
	if prev == s {
		return
	}
	c.log.Info("feed: state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	c.events.emit(Event{Type: EventStateChanged, From: prev, To: s})
}

// establish дозванивается, подписывается на снимок реестра и
// публикует соединение.
func (c *Client) establish(ctx context.Context) (*wsConn, error) {
	sid := uuid.NewString()
	ctx = logger.ContextWithSessionID(ctx, sid)
	log := c.log.WithContext(ctx)

	ctx, span := tracer.Start(ctx, "Connect", trace.WithAttributes(
		attribute.String("url", c.url),
		attribute.String("session_id", sid),
	))
	defer span.End()

	conn, err := dial(ctx, c.url, c.cfg, c.tlsCfg, sid, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, err
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.validator.ResetAll()
	subs := c.registry.List()
	if len(subs) > 0 {
		frame, err := EncodeSubscribe(subs)
		if err == nil {
			err = conn.write(frame)
		}
		if err != nil {
			conn.close()
			span.RecordError(err)
			span.SetStatus(codes.Error, "subscribe failed")
			return nil, fmt.Errorf("feed: subscribe: %w", err)
		}
	}
	span.SetAttributes(attribute.Int("subscriptions", len(subs)))
	if c.afterSnapshot != nil {
		c.afterSnapshot()
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.close()
		return nil, ErrStopped
	}
	c.conn = conn
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		conn.pingLoop()
	}()

	log.Info("feed: subscribed", zap.Int("subscriptions", len(subs)))
	c.setState(StateSubscribed)
	return conn, nil
}

// run - I/O-цикл: читает до ошибки, затем переподключается с backoff
// до вызова Stop.
func (c *Client) run(conn *wsConn) {
	defer c.wg.Done()

	for {
		if conn != nil {
			since := time.Now()
			err := c.readLoop(conn)
			c.detach(conn)
			if c.stopping() {
				return
			}
			healthy := time.Since(since)
			if c.strategy.ResetIfStable(healthy) {
				c.log.Debug("feed: backoff reset", zap.Duration("healthy_for", healthy))
			}
			c.log.Warn("feed: connection lost", zap.Error(err), zap.String("session_id", conn.sessionID))
			c.setState(StateDegraded)
			conn = nil
		}

		delay := c.strategy.Next()
		c.log.Info("feed: reconnecting", zap.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-c.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		c.reconnects.Add(1)
		metrics.Reconnects.Inc()
		c.setState(StateConnecting)

		next, err := c.establish(c.runCtx)
		switch {
		case err == nil:
			conn = next
		case c.stopping():
			return
		case isFatal(err):
			c.log.Error("feed: fatal reconnect error", zap.Error(err))
			c.events.emit(Event{Type: EventFatal, Err: err})
			go func() { _ = c.Stop() }()
			return
		default:
			c.log.Warn("feed: reconnect failed", zap.Error(err))
			c.setState(StateDegraded)
		}
	}
}

func (c *Client) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Client) detach(conn *wsConn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.close()
}

func (c *Client) readLoop(conn *wsConn) error {
	for {
		data, err := conn.read()
		if err != nil {
			return err
		}
		if !c.handleFrame(conn, data) {
			return ErrStopped
		}
	}
}

// handleFrame возвращает false, если очередь уже закрыта.
func (c *Client) handleFrame(conn *wsConn, data []byte) bool {
	c.received.Add(1)
	msg, err := Decode(data)
	if err != nil {
		c.decodeErrors.Add(1)
		metrics.DecodeErrors.Inc()
		conn.log.Warn("feed: decode failed", zap.Error(err))
		c.events.emit(Event{Type: EventDecodeFailed, Err: err, Raw: data, SessionID: conn.sessionID})
		return true
	}
	msg.ReceivedAt = time.Now()
	metrics.Messages.WithLabelValues(msg.Kind.String()).Inc()
	if !msg.Time.IsZero() {
		metrics.Latency.Observe(msg.ReceivedAt.Sub(msg.Time).Seconds())
	}

	switch msg.Kind {
	case KindError:
		reason := exchangeErrorReason(msg.Payload)
		conn.log.Warn("feed: exchange error", zap.String("reason", reason))
		c.events.emit(Event{Type: EventExchangeError, Reason: reason, Raw: data, SessionID: conn.sessionID})
	case KindSubscriptions:
		conn.log.Debug("feed: subscriptions confirmed", zap.ByteString("raw", data))
	}

	res := c.validator.Check(msg)
	switch res.Outcome {
	case OutcomeDuplicate:
		c.duplicates.Add(1)
		metrics.Duplicates.WithLabelValues(msg.Channel).Inc()
		return true
	case OutcomeGap:
		c.gaps.Add(1)
		metrics.Gaps.WithLabelValues(msg.Channel).Inc()
	}

	switch err := c.queue.Push(msg); {
	case err == nil:
		c.delivered.Add(1)
	case errors.Is(err, dispatch.ErrClosed):
		return false
	}
	return true
}

// -----------------------------------------------------------------------------
// resync
// -----------------------------------------------------------------------------

// requestResync ставит ключ в очередь. Повторные запросы по ключу,
// ещё не обработанному, схлопываются.
func (c *Client) requestResync(key Subscription) {
	c.resyncMu.Lock()
	if _, ok := c.pending[key]; ok {
		c.resyncMu.Unlock()
		return
	}
	c.pending[key] = struct{}{}
	c.resyncMu.Unlock()

	select {
	case c.resyncCh <- key:
	default:
		c.clearPending(key)
		c.log.Warn("feed: resync queue full", zap.Stringer("key", key))
	}
}

func (c *Client) clearPending(key Subscription) {
	c.resyncMu.Lock()
	delete(c.pending, key)
	c.resyncMu.Unlock()
}

func (c *Client) resyncLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case key := <-c.resyncCh:
			c.resync(key)
		}
	}
}

// resync переподписывает ключ: биржа пришлёт свежий снимок.
func (c *Client) resync(key Subscription) {
	defer c.clearPending(key)

	_, span := tracer.Start(c.runCtx, "Resync", trace.WithAttributes(attribute.String("key", key.String())))
	defer span.End()

	subs := c.registry.Resolve(key)
	if len(subs) == 0 {
		c.log.Warn("feed: resync for unregistered key, nothing to resubscribe", zap.Stringer("key", key))
	}
	if conn := c.currentConn(); conn != nil && len(subs) > 0 {
		for _, typ := range []string{reqTypeUnsubscribe, reqTypeSubscribe} {
			frame, err := encodeRequest(typ, subs)
			if err == nil {
				err = conn.write(frame)
			}
			if err != nil {
				span.RecordError(err)
				conn.log.Warn("feed: resync write failed", zap.Stringer("key", key), zap.Error(err))
				break
			}
		}
	}
	c.validator.Reset(key)
	c.resyncs.Add(1)
	metrics.Resyncs.Inc()
	c.events.emit(Event{Type: EventResync, Subscription: key})
}
