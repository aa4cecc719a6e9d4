package kevosdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// StreamState is the event stream's connection state.
type StreamState int32

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamConnected
	StreamReconnecting
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamDisconnected:
		return "disconnected"
	case StreamConnecting:
		return "connecting"
	case StreamConnected:
		return "connected"
	case StreamReconnecting:
		return "reconnecting"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	maxReconnectDelay = 240 * time.Second
	keepaliveInterval = 10 * time.Second

	// The provider expects a browser-looking client on the stream endpoint.
	streamUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36" +
		" (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"
)

// streamStateMachine owns the stream lifecycle: the background goroutine,
// its cancellation, the active connection and the observer set.
type streamStateMachine struct {
	mu        sync.Mutex
	state     StreamState
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	closing   bool
	observers map[uint64]func(Lock)
	nextObsID uint64
}

func (s *streamStateMachine) init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.observers == nil {
		s.observers = make(map[uint64]func(Lock))
	}
}

// StreamState reports the event stream's current connection state.
func (c *Client) StreamState() StreamState {
	c.stream.mu.Lock()
	defer c.stream.mu.Unlock()
	return c.stream.state
}

func (c *Client) setStreamState(state StreamState) {
	c.stream.mu.Lock()
	c.stream.state = state
	c.stream.mu.Unlock()
}

// OnLockUpdate registers an observer invoked with a copy of the updated
// record after every processed stream event. It returns a de-registration
// function. Registration and de-registration are safe while dispatch is in
// progress.
func (c *Client) OnLockUpdate(fn func(Lock)) (unregister func()) {
	c.stream.mu.Lock()
	id := c.stream.nextObsID
	c.stream.nextObsID++
	c.stream.observers[id] = fn
	c.stream.mu.Unlock()

	return func() {
		c.stream.mu.Lock()
		delete(c.stream.observers, id)
		c.stream.mu.Unlock()
	}
}

// Connect starts the background goroutine that opens and maintains the
// event stream. A previous stream, if any, is shut down first. The goroutine
// recovers internally from connection and nonce failures with capped
// exponential backoff; it surfaces no errors, only state changes through
// registered observers.
func (c *Client) Connect(ctx context.Context) {
	c.stream.mu.Lock()
	prevCancel := c.stream.cancel
	prevDone := c.stream.done
	c.stream.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.stream.mu.Lock()
	c.stream.cancel = cancel
	c.stream.done = done
	c.stream.closing = false
	c.stream.state = StreamConnecting
	c.stream.mu.Unlock()

	go c.runStream(runCtx, done)
}

// Close shuts down the event stream: it suppresses the reconnect path,
// closes the active connection and cancels any pending reconnect delay.
// It blocks until the background goroutine has exited and is idempotent.
func (c *Client) Close() {
	c.stream.mu.Lock()
	c.stream.closing = true
	conn := c.stream.conn
	cancel := c.stream.cancel
	done := c.stream.done
	c.stream.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.setStreamState(StreamClosed)
}

func (c *Client) closingStream() bool {
	c.stream.mu.Lock()
	defer c.stream.mu.Unlock()
	return c.stream.closing
}

func (c *Client) setStreamConn(conn *websocket.Conn) {
	c.stream.mu.Lock()
	c.stream.conn = conn
	c.stream.mu.Unlock()
}

// reconnectDelay returns the backoff delay for the given pre-incremented
// attempt counter: min(2^attempt, 240) seconds.
func reconnectDelay(attempt int) time.Duration {
	if attempt >= 8 { // 2^8 s already exceeds the cap
		return maxReconnectDelay
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

// runStream drives the connect/receive/reconnect cycle. It is the only
// writer of stream-sourced device fields. It exits only on explicit close
// or context cancellation; every other failure schedules a reconnect.
func (c *Client) runStream(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempts := 0
	for {
		c.setStreamState(StreamConnecting)

		conn, err := c.dialStream(ctx)
		if err == nil {
			// Successful open resets the backoff.
			attempts = 0
			connID := ulid.Make().String()
			c.setStreamConn(conn)
			c.setStreamState(StreamConnected)
			c.logger.Info("event stream connected", "conn_id", connID)

			err = c.readLoop(ctx, conn, connID)
			c.setStreamConn(nil)
			conn.Close()
		}

		if ctx.Err() != nil || c.closingStream() {
			c.setStreamState(StreamClosed)
			return
		}

		attempts++
		delay := reconnectDelay(attempts)
		c.logger.Error("event stream interrupted, reconnecting",
			"error", err, "attempt", attempts, "delay", delay)
		c.setStreamState(StreamReconnecting)

		select {
		case <-ctx.Done():
			c.setStreamState(StreamClosed)
			return
		case <-time.After(delay):
		}
	}
}

// dialStream builds the authenticated stream URL from a fresh nonce pair
// and opens the websocket. A nonce-fetch failure is returned like any other
// connect error so the caller schedules a reconnect.
func (c *Client) dialStream(ctx context.Context) (*websocket.Conn, error) {
	cnonce, err := clientNonce()
	if err != nil {
		return nil, err
	}
	snonce, err := c.serverNonce(ctx)
	if err != nil {
		return nil, err
	}
	verification, err := c.streamVerification(cnonce, snonce)
	if err != nil {
		return nil, err
	}

	streamURL := c.streamBaseURL + "/v3/web/" + c.UserID() + streamQuery(
		c.accessToken(), cnonce, snonce, verification)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 30 * time.Second,
	}
	header := http.Header{"User-Agent": {streamUserAgent}}

	conn, resp, err := dialer.DialContext(ctx, streamURL, header)
	if err != nil {
		if resp != nil {
			return nil, connectivityStatus(resp.StatusCode)
		}
		return nil, connectivity(fmt.Errorf("stream dial: %w", err))
	}
	return conn, nil
}

// streamQuery renders the stream handshake query string. Parameter order
// and the encodeURIComponent-style escaping match the provider's web
// client, including the trailing ampersand.
func streamQuery(accessToken, cnonce, snonce, verification string) string {
	var b strings.Builder
	b.WriteString("?Authorization=")
	b.WriteString(escapeComponent("Bearer " + accessToken))
	b.WriteString("&X-unikey-context=web")
	b.WriteString("&X-unikey-cnonce=")
	b.WriteString(escapeComponent(cnonce))
	b.WriteString("&X-unikey-nonce=")
	b.WriteString(escapeComponent(snonce))
	b.WriteString("&X-unikey-request-verification=")
	b.WriteString(escapeComponent(verification))
	b.WriteString("&X-unikey-message-content-type=application%2Fjson&")
	return b.String()
}

// escapeComponent escapes like JavaScript's encodeURIComponent: spaces
// become %20 and !~*'() stay literal.
func escapeComponent(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	for literal, coded := range map[string]string{
		"!": "%21", "~": "%7E", "*": "%2A", "'": "%27", "(": "%28", ")": "%29",
	} {
		escaped = strings.ReplaceAll(escaped, coded, literal)
	}
	return escaped
}

// readLoop pumps inbound frames until the connection fails or the context
// is cancelled. A keepalive ping goes out at a fixed short interval; the
// same goroutine closes the connection on cancellation so the blocking read
// unblocks deterministically.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, connID string) error {
	pingDone := make(chan struct{})
	defer close(pingDone)

	go func() {
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(keepaliveInterval)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(data, connID)
	}
}

// handleFrame parses one inbound frame, applies it to the device registry
// and dispatches the updated record to observers. Unrecognised message
// types and unknown lock ids are ignored.
func (c *Client) handleFrame(data []byte, connID string) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Error("discarding malformed stream frame", "conn_id", connID, "error", err)
		return
	}
	if msg.MessageType != messageTypeLockStatus {
		return
	}

	d := msg.MessageData
	updated, ok := c.registry.update(d.LockID, func(l *Lock) {
		l.BatteryLevel = d.BatteryLevel
		if !applyBoltState(l, d.BoltState) {
			c.logger.Warn("unknown bolt state", "lock_id", d.LockID, "bolt_state", d.BoltState)
		}
		applyCommandStatus(l, d.Command)
	})
	if !ok {
		c.logger.Debug("ignoring status for untracked lock", "lock_id", d.LockID)
		return
	}

	c.dispatch(updated)
}

// dispatch invokes every registered observer with a copy of the record.
// The observer set is snapshotted first so observers may register or
// unregister during dispatch, and a failing observer never interrupts the
// others or the stream.
func (c *Client) dispatch(lock Lock) {
	c.stream.mu.Lock()
	observers := make([]func(Lock), 0, len(c.stream.observers))
	for _, fn := range c.stream.observers {
		observers = append(observers, fn)
	}
	c.stream.mu.Unlock()

	for _, fn := range observers {
		c.invokeObserver(fn, lock)
	}
}

func (c *Client) invokeObserver(fn func(Lock), lock Lock) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("observer callback panicked", "lock_id", lock.ID, "panic", r)
		}
	}()
	fn(lock.clone())
}
