// Package realtime maintains the persistent push-notification connection to the
// import-status hub. One Channel is shared per process; consumers subscribe to
// named events and to connection-state changes.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the hub connection state as surfaced to the UI.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// Event names delivered over the hub.
const (
	EventPreviewReady    = "OnPreviewReady"
	EventImportCompleted = "OnImportCompleted"
	EventJobFailed       = "OnJobFailed"
	EventProgress        = "OnProgress"
)

// JobFailure is the payload of an OnJobFailed frame.
type JobFailure struct {
	JobID        string `json:"jobId"`
	ErrorMessage string `json:"errorMessage"`
}

// envelope is the wire frame: a named event plus its raw payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Options tunes reconnect behaviour; zero values fall back to the defaults
// (5 attempts, 1s base delay doubling up to a 16s cap).
type Options struct {
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	Dialer             *websocket.Dialer
}

// Handler receives the raw payload of one event occurrence.
type Handler func(data json.RawMessage)

// StateHandler is notified on every connection-state change.
type StateHandler func(state ConnState)

type handlerEntry struct {
	id int
	fn Handler
}

type stateEntry struct {
	id int
	fn StateHandler
}

// Channel is a reconnecting websocket client for the import-status hub. Event
// handlers run serially on the read goroutine, so no two handler invocations
// interleave.
type Channel struct {
	url    string
	opts   Options
	dialer *websocket.Dialer

	mu            sync.Mutex
	state         ConnState
	conn          *websocket.Conn
	stop          chan struct{}
	closing       bool
	gen           int
	nextID        int
	handlers      map[string][]handlerEntry
	stateHandlers []stateEntry
}

// New builds a Channel for the given hub URL. The connection is not opened
// until Connect is called.
func New(url string, opts Options) *Channel {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = time.Second
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = 16 * time.Second
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Channel{
		url:      url,
		opts:     opts,
		dialer:   dialer,
		state:    StateDisconnected,
		handlers: make(map[string][]handlerEntry),
	}
}

// State returns the current connection state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the hub connection. It is idempotent: when the channel is
// already connecting, connected or reconnecting it returns immediately. A
// failed initial dial leaves the channel disconnected and returns the error;
// the caller decides whether to try again.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.closing = false
	c.stop = make(chan struct{})
	fns := c.stateHandlerSnapshot()
	c.mu.Unlock()
	notify(fns, StateConnecting)

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("connect import-status hub %s: %w", c.url, err)
	}
	gen, ok := c.adopt(conn)
	if !ok {
		// Disconnect won the race while the dial was in flight.
		conn.Close()
		return nil
	}
	c.setState(StateConnected)
	go c.readLoop(conn, gen)
	return nil
}

// Disconnect tears the connection down and stops any reconnect attempt in
// progress. Safe to call when already disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.closing = true
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.setState(StateDisconnected)
}

// On registers a handler for a named event and returns its unsubscribe
// function. All handlers registered for an event fire, in registration order,
// for every occurrence.
func (c *Channel) On(event string, fn Handler) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.handlers[event]
		for i, e := range entries {
			if e.id == id {
				c.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	}
}

// OnStateChange registers a connection-state handler and returns its
// unsubscribe function.
func (c *Channel) OnStateChange(fn StateHandler) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.stateHandlers = append(c.stateHandlers, stateEntry{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.stateHandlers {
			if e.id == id {
				c.stateHandlers = append(c.stateHandlers[:i:i], c.stateHandlers[i+1:]...)
				break
			}
		}
	}
}

// adopt installs a live connection and bumps the generation counter so read
// loops from earlier connections exit instead of triggering a reconnect. It
// reports false when a Disconnect arrived since the dial began; the caller
// must close the connection.
func (c *Channel) adopt(conn *websocket.Conn) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return 0, false
	}
	c.conn = conn
	c.gen++
	return c.gen, true
}

func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := gen != c.gen || c.closing
			c.mu.Unlock()
			if stale {
				return
			}
			conn.Close()
			c.reconnect()
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	var frame envelope
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("realtime: dropping malformed frame: %v", err)
		return
	}
	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[frame.Event]...)
	c.mu.Unlock()
	for _, e := range entries {
		e.fn(frame.Data)
	}
}

// reconnect retries the dial with exponential backoff after an unexpected
// drop. Exhausting the attempt budget leaves the channel disconnected; no
// further automatic attempts are made until Connect is called again.
func (c *Channel) reconnect() {
	c.setState(StateReconnecting)
	delay := c.opts.ReconnectBaseDelay
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		c.mu.Lock()
		stop := c.stop
		c.mu.Unlock()
		if stop == nil {
			return
		}
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		conn, _, err := c.dialer.Dial(c.url, nil)
		if err == nil {
			c.mu.Lock()
			if c.closing {
				c.mu.Unlock()
				conn.Close()
				return
			}
			c.conn = conn
			c.gen++
			gen := c.gen
			c.mu.Unlock()
			c.setState(StateConnected)
			go c.readLoop(conn, gen)
			return
		}
		log.Printf("realtime: reconnect attempt %d/%d failed: %v", attempt, c.opts.ReconnectAttempts, err)
		delay *= 2
		if delay > c.opts.ReconnectMaxDelay {
			delay = c.opts.ReconnectMaxDelay
		}
	}
	c.setState(StateDisconnected)
}

func (c *Channel) setState(state ConnState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	fns := c.stateHandlerSnapshot()
	c.mu.Unlock()
	notify(fns, state)
}

func (c *Channel) stateHandlerSnapshot() []StateHandler {
	fns := make([]StateHandler, 0, len(c.stateHandlers))
	for _, e := range c.stateHandlers {
		fns = append(fns, e.fn)
	}
	return fns
}

func notify(fns []StateHandler, state ConnState) {
	for _, fn := range fns {
		fn(state)
	}
}
