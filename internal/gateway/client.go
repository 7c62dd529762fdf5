package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/identity"
	"github.com/murmurlabs/murmur-core/internal/protocol"
)

const (
	maxBackoff   = 30 * time.Second
	authPollTick = 50 * time.Millisecond
)

// ErrNotConnected is returned when a request is issued without a live transport.
var ErrNotConnected = errors.New("gateway: not connected")

// Status is a snapshot of the connection state machine.
type Status struct {
	Connected      bool
	Authenticated  bool
	PendingPairing bool
}

// Events receives connection lifecycle and chat turn callbacks. Exactly one
// subscriber owns the stream; all callbacks are invoked from the read loop.
type Events interface {
	Connected()
	Disconnected(err error)
	StatusChanged(st Status)
	ChatDelta(runID, text string, seq int)
	ChatFinal(runID, text string, seq int)
	ChatError(runID, message string)
	ChatAborted(runID, partial string)
}

// Client owns the duplex connection to the remote agent: dial, authentication
// handshake, reconnect backoff, and request/event dispatch. Callers never
// touch the socket directly.
type Client struct {
	cfg    config.GatewayConfig
	id     *identity.Identity
	events Events
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnects metric.Int64Counter

	reqSeq atomic.Uint64

	writeMu sync.Mutex

	mu              sync.Mutex
	conn            *websocket.Conn
	connecting      bool
	dialCancel      context.CancelFunc
	connected       bool
	authenticated   bool
	pendingPairing  bool
	shouldReconnect bool
	attempts        int
	reconnect       *time.Timer
	connectReqID    string
}

func NewClient(parent context.Context, cfg config.GatewayConfig, id *identity.Identity, events Events, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(parent)
	c := &Client{
		cfg:    cfg,
		id:     id,
		events: events,
		logger: logger.With(slog.String("component", "gateway")),
		ctx:    ctx,
		cancel: cancel,
	}
	var err error
	c.reconnects, err = otel.Meter("github.com/murmurlabs/murmur-core/gateway").
		Int64Counter("murmur_reconnect_attempts_total",
			metric.WithDescription("Reconnect attempts scheduled"))
	if err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return c
}

// Connect opens the transport and starts the read loop. It is a no-op if a
// connection attempt is already in flight or established.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connecting || c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	dialCtx, cancel := context.WithCancel(c.ctx)
	c.dialCancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.dial(dialCtx)
	return nil
}

// Disconnect cancels any scheduled reconnect, closes the transport, and
// resets the authenticated and pending-pairing flags. Always safe to call.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.shouldReconnect = false
	c.pendingPairing = false
	c.connecting = false
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Close tears the client down for process shutdown.
func (c *Client) Close() {
	c.cancel()
	c.Disconnect()
	c.wg.Wait()
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Connected: c.connected, Authenticated: c.authenticated, PendingPairing: c.pendingPairing}
}

func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// AwaitAuthenticated blocks until the handshake completes or ctx expires.
func (c *Client) AwaitAuthenticated(ctx context.Context) error {
	if c.Authenticated() {
		return nil
	}
	ticker := time.NewTicker(authPollTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-ticker.C:
			if c.Authenticated() {
				return nil
			}
		}
	}
}

// Request serializes and sends a request frame. It does not wait for a reply;
// the returned id is the per-connection monotonic correlation token.
func (c *Client) Request(method string, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode %s params: %w", method, err)
	}
	id := strconv.FormatUint(c.reqSeq.Add(1), 10)
	frame := protocol.Request{Type: protocol.FrameRequest, ID: id, Method: method, Params: raw}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		return "", fmt.Errorf("write %s request: %w", method, err)
	}
	return id, nil
}

// NewTurnKey mints the idempotency key for a chat turn. Callers register it
// before SendChat so that events racing the send are never unattributable.
func (c *Client) NewTurnKey() string {
	return uuid.NewString()
}

// SendChat dispatches one utterance under the given idempotency key. Chat
// events for the turn carry the key as their run id.
func (c *Client) SendChat(text, key string) error {
	params := protocol.ChatSendParams{Message: text, IdempotencyKey: key}
	_, err := c.Request(protocol.MethodChatSend, params)
	return err
}

// AbortChat asks the remote to abort an in-flight turn.
func (c *Client) AbortChat(runID string) error {
	_, err := c.Request(protocol.MethodChatAbort, protocol.ChatAbortParams{RunID: runID})
	return err
}

func (c *Client) dial(ctx context.Context) {
	defer c.wg.Done()

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.ConnectTimeoutMS)*time.Millisecond)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		c.logger.Warn("dial failed", slog.String("url", c.cfg.URL), slogError(err))
		c.mu.Lock()
		stale := ctx.Err() != nil
		if !stale {
			c.connecting = false
			if c.dialCancel != nil {
				c.dialCancel()
				c.dialCancel = nil
			}
		}
		retry := !stale && (c.shouldReconnect || c.pendingPairing)
		c.mu.Unlock()
		if retry {
			c.scheduleReconnect()
		}
		return
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		// Disconnect won the race while the dial was in flight; the fresh
		// transport must not outlive it.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.connected = true
	c.connecting = false
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.connectReqID = ""
	st := c.statusLocked()
	c.mu.Unlock()
	c.logger.Info("transport open", slog.String("url", c.cfg.URL))
	c.events.StatusChanged(st)

	c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Stale read loop; Disconnect already swapped the transport out.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	c.authenticated = false
	retry := c.shouldReconnect || c.pendingPairing
	st := c.statusLocked()
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Info("transport closed", slogError(err))
	c.events.Disconnected(err)
	c.events.StatusChanged(st)

	if retry && c.ctx.Err() == nil {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	pairing := c.pendingPairing
	limit := c.cfg.MaxReconnects
	if pairing {
		limit = c.cfg.MaxPairingAttempts
	}
	if c.attempts >= limit {
		c.logger.Warn("reconnect attempts exhausted", slog.Int("attempts", c.attempts), slog.Bool("pairing", pairing))
		c.pendingPairing = false
		c.shouldReconnect = false
		c.attempts = 0
		return
	}

	delay := backoffDelay(c.attempts, pairing, time.Duration(c.cfg.PairingRetryMS)*time.Millisecond)
	c.attempts++
	if c.reconnects != nil {
		c.reconnects.Add(c.ctx, 1)
	}
	c.logger.Info("reconnect scheduled", slog.Int("attempt", c.attempts), slog.Duration("delay", delay))
	c.reconnect = time.AfterFunc(delay, func() {
		if c.ctx.Err() != nil {
			return
		}
		_ = c.Connect()
	})
}

// backoffDelay computes the wait before reconnect attempt number `attempt`
// (zero-based). Pairing approval takes longer than transient failures, so the
// pairing cadence is fixed rather than exponential.
func backoffDelay(attempt int, pairing bool, pairingDelay time.Duration) time.Duration {
	if pairing {
		return pairingDelay
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (c *Client) handleFrame(data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		c.logger.Warn("dropping undecodable frame", slogError(err))
		return
	}
	switch f := frame.(type) {
	case protocol.Event:
		switch f.Event {
		case protocol.EventChallenge:
			var challenge protocol.ChallengePayload
			if err := json.Unmarshal(f.Payload, &challenge); err != nil {
				c.logger.Warn("bad challenge payload", slogError(err))
				return
			}
			c.handshake(challenge.Nonce)
		case protocol.EventChat:
			var evt protocol.ChatEvent
			if err := json.Unmarshal(f.Payload, &evt); err != nil {
				c.logger.Warn("bad chat payload", slogError(err))
				return
			}
			c.dispatchChat(evt)
		default:
			c.logger.Debug("ignoring event", slog.String("event", f.Event))
		}
	case protocol.Response:
		c.handleResponse(f)
	}
}

func (c *Client) handshake(nonce string) {
	signedAt := time.Now().UnixMilli()
	payload := protocol.SignaturePayload(
		c.id.DeviceID(), c.cfg.ClientID, c.cfg.ClientMode, c.cfg.Role,
		c.cfg.Scopes, signedAt, c.cfg.Token, nonce)
	sig, err := c.id.Sign(payload)
	if err != nil {
		// Fatal to this handshake attempt only; the remote will close and
		// the reconnect policy takes over.
		c.logger.Warn("signing failed, abandoning handshake", slogError(err))
		return
	}

	params := protocol.ConnectParams{
		Role:   c.cfg.Role,
		Scopes: c.cfg.Scopes,
		Client: protocol.ClientInfo{ID: c.cfg.ClientID, Mode: c.cfg.ClientMode, Version: Version},
		Device: protocol.DeviceInfo{
			ID:        c.id.DeviceID(),
			PublicKey: base64.StdEncoding.EncodeToString(c.id.PublicKey()),
			Signature: base64.StdEncoding.EncodeToString(sig),
			SignedAt:  signedAt,
			Nonce:     nonce,
		},
		Auth: protocol.AuthInfo{Token: c.cfg.Token, Password: c.cfg.Password},
	}

	id, err := c.Request(protocol.MethodConnect, params)
	if err != nil {
		c.logger.Warn("connect request failed", slogError(err))
		return
	}
	c.mu.Lock()
	c.connectReqID = id
	c.mu.Unlock()
}

func (c *Client) handleResponse(res protocol.Response) {
	c.mu.Lock()
	isConnect := res.ID == c.connectReqID && c.connectReqID != ""
	c.mu.Unlock()
	if !isConnect {
		if !res.OK && res.Error != nil {
			c.logger.Warn("request failed",
				slog.String("id", res.ID),
				slog.String("code", res.Error.Code),
				slog.String("message", res.Error.Message))
		}
		return
	}

	if res.OK {
		var hello protocol.HelloPayload
		if err := json.Unmarshal(res.Payload, &hello); err != nil || hello.Type != protocol.HelloOK {
			c.logger.Warn("unexpected connect payload", slog.String("payload", string(res.Payload)))
			return
		}
		c.mu.Lock()
		c.authenticated = true
		c.pendingPairing = false
		c.shouldReconnect = true
		c.attempts = 0
		st := c.statusLocked()
		c.mu.Unlock()
		c.logger.Info("authenticated", slog.String("device_id", c.id.DeviceID()))
		c.events.Connected()
		c.events.StatusChanged(st)
		return
	}

	if res.Error != nil && res.Error.Code == protocol.CodeNotPaired {
		// The remote closes the socket shortly after; reconnection then runs
		// under the slower pairing cadence until the device is approved.
		// Attempts spent on transient failures do not count against the
		// pairing budget.
		c.mu.Lock()
		c.pendingPairing = true
		c.attempts = 0
		st := c.statusLocked()
		c.mu.Unlock()
		c.logger.Info("device not paired, awaiting approval")
		c.events.StatusChanged(st)
		return
	}

	msg := ""
	if res.Error != nil {
		msg = res.Error.Message
	}
	c.logger.Warn("handshake rejected", slog.String("message", msg))
}

func (c *Client) dispatchChat(evt protocol.ChatEvent) {
	switch evt.State {
	case protocol.ChatStateDelta:
		c.events.ChatDelta(evt.RunID, evt.Text(), evt.Seq)
	case protocol.ChatStateFinal:
		c.events.ChatFinal(evt.RunID, evt.Text(), evt.Seq)
	case protocol.ChatStateError:
		c.events.ChatError(evt.RunID, evt.Error)
	case protocol.ChatStateAborted:
		c.events.ChatAborted(evt.RunID, evt.Text())
	default:
		c.logger.Debug("ignoring chat state", slog.String("state", evt.State))
	}
}

func (c *Client) statusLocked() Status {
	return Status{Connected: c.connected, Authenticated: c.authenticated, PendingPairing: c.pendingPairing}
}

// Version is reported in the client descriptor during the handshake.
var Version = "0.1.0-dev"

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
