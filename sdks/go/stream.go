package supplyhub

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ConnState is the connection lifecycle state of a StreamController.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateRotating
	StateErroring
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRotating:
		return "rotating"
	case StateErroring:
		return "erroring"
	default:
		return "unknown"
	}
}

const (
	// DefaultRotationInterval is how long a stream connection is kept open
	// before it is proactively rotated. Chosen to stay safely under typical
	// reverse-proxy idle timeouts, which sever the connection silently.
	DefaultRotationInterval = 4 * time.Minute

	// DefaultRetryDelay is the fixed backoff after an unplanned transport
	// error before reconnecting.
	DefaultRetryDelay = 4 * time.Second
)

// errRotate signals a planned connection rotation, as opposed to a transport
// failure.
var errRotate = errors.New("proactive rotation")

// StreamController maintains the illusion of a persistent notification
// subscription over a transport that times out. It owns the connection
// lifecycle (proactive rotation before the transport's idle timeout, fixed
// backoff on errors) and a local view model: an ordered most-recent-first
// notification list, an unread count and a connectivity flag.
//
// At most one stream connection is open per controller at any time; a new
// connect always follows teardown of the previous connection, so updates are
// never double-counted.
type StreamController struct {
	client       *Client
	streamClient *http.Client // no global timeout: the stream is long-lived
	userID       int64
	rotateAfter  time.Duration
	retryDelay   time.Duration
	onChange     func()

	mu        sync.Mutex
	state     ConnState
	items     []Notification
	unread    int
	connected bool
}

// StreamOption configures a StreamController.
type StreamOption func(*StreamController)

// WithRotationInterval overrides the proactive rotation delay.
func WithRotationInterval(d time.Duration) StreamOption {
	return func(c *StreamController) {
		c.rotateAfter = d
	}
}

// WithRetryDelay overrides the fixed error backoff.
func WithRetryDelay(d time.Duration) StreamOption {
	return func(c *StreamController) {
		c.retryDelay = d
	}
}

// WithOnChange registers a callback invoked after every view-model change
// (new notifications, read marks, connectivity transitions).
func WithOnChange(fn func()) StreamOption {
	return func(c *StreamController) {
		c.onChange = fn
	}
}

// NewStreamController creates a controller subscribing as the given user.
// The user id is used to defensively re-filter incoming records even though
// the server already scopes the stream.
func NewStreamController(client *Client, userID int64, opts ...StreamOption) *StreamController {
	c := &StreamController{
		client:       client,
		streamClient: &http.Client{Transport: client.httpClient.Transport},
		userID:       userID,
		rotateAfter:  DefaultRotationInterval,
		retryDelay:   DefaultRetryDelay,
		state:        StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drives the connection state machine until ctx is cancelled. Without a
// valid user id it is a no-op: the controller stays Disconnected.
//
// Disconnected -> Connecting -> Connected -> (Rotating | Erroring) ->
// Connecting -> ...
func (c *StreamController) Run(ctx context.Context) error {
	if c.userID <= 0 {
		return nil
	}
	defer func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.connected = false
		c.mu.Unlock()
		c.notify()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		c.setState(StateConnecting)

		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, errRotate) {
			// Planned rotation: reconnect immediately. The notification list
			// is retained, so there is no user-visible gap.
			c.setState(StateRotating)
			continue
		}

		c.setState(StateErroring)
		c.setConnected(false)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.retryDelay):
		}
	}
}

// consume opens one stream connection and processes its events until the
// rotation timer fires (errRotate), the transport fails, or ctx is cancelled.
func (c *StreamController) consume(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.client.baseURL+"/api/notifications/stream", nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.client.authorize(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode}
	}

	events := make(chan sseEvent, 8)
	readErr := make(chan error, 1)
	go readSSE(resp.Body, events, readErr)

	// drain unblocks the reader goroutine after the body is closed.
	drain := func() {
		resp.Body.Close()
		for {
			select {
			case <-events:
			case <-readErr:
				return
			}
		}
	}

	rotate := time.NewTimer(c.rotateAfter)
	defer rotate.Stop()

	for {
		select {
		case <-ctx.Done():
			drain()
			return nil
		case <-rotate.C:
			drain()
			return errRotate
		case err := <-readErr:
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("stream closed: %w", err)
		case ev := <-events:
			c.handleEvent(ev)
			// Each delivery extends the rotation window.
			if !rotate.Stop() {
				select {
				case <-rotate.C:
				default:
				}
			}
			rotate.Reset(c.rotateAfter)
		}
	}
}

func (c *StreamController) handleEvent(ev sseEvent) {
	var batch []Notification
	if err := json.Unmarshal(ev.data, &batch); err != nil {
		// Updates may arrive as a single object rather than an array.
		var one Notification
		if err := json.Unmarshal(ev.data, &one); err != nil {
			return
		}
		batch = []Notification{one}
	}

	switch ev.name {
	case "initial":
		c.applyInitial(batch)
	case "update":
		c.applyUpdate(batch)
	}
}

// applyInitial replaces the local set with the server snapshot and recomputes
// the unread count from scratch.
func (c *StreamController) applyInitial(batch []Notification) {
	c.mu.Lock()
	c.items = c.items[:0]
	c.unread = 0
	for _, n := range batch {
		if n.UserID != c.userID {
			continue
		}
		c.items = append(c.items, n)
		if n.Unread() {
			c.unread++
		}
	}
	c.connected = true
	c.state = StateConnected
	c.mu.Unlock()
	c.notify()
}

// applyUpdate merges new records at the front of the list, re-filtered to the
// subscribed user and deduplicated by id so a record delivered twice (e.g.
// once pushed and once in a snapshot) is never double-counted.
func (c *StreamController) applyUpdate(batch []Notification) {
	c.mu.Lock()
	seen := make(map[int64]struct{}, len(c.items))
	for _, n := range c.items {
		seen[n.ID] = struct{}{}
	}

	var fresh []Notification
	for _, n := range batch {
		if n.UserID != c.userID {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		fresh = append(fresh, n)
		if n.Unread() {
			c.unread++
		}
	}
	if len(fresh) > 0 {
		c.items = append(fresh, c.items...)
	}
	c.mu.Unlock()
	if len(fresh) > 0 {
		c.notify()
	}
}

// MarkAsRead optimistically marks the local record read and decrements the
// unread count, then confirms with the server. If the confirm fails the view
// is resynced from the server rather than left drifting.
func (c *StreamController) MarkAsRead(ctx context.Context, id int64) error {
	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == id && c.items[i].ReadAt == nil {
			now := time.Now()
			c.items[i].ReadAt = &now
			if c.unread > 0 {
				c.unread--
			}
			break
		}
	}
	c.mu.Unlock()
	c.notify()

	if err := c.client.Notifications.MarkRead(ctx, id); err != nil {
		c.resync(ctx)
		return err
	}
	return nil
}

// MarkAllRead optimistically marks every local record read and zeroes the
// unread count, then confirms with one bulk request. Resyncs on failure.
func (c *StreamController) MarkAllRead(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	for i := range c.items {
		if c.items[i].ReadAt == nil {
			t := now
			c.items[i].ReadAt = &t
		}
	}
	c.unread = 0
	c.mu.Unlock()
	c.notify()

	if err := c.client.Notifications.MarkAllRead(ctx); err != nil {
		c.resync(ctx)
		return err
	}
	return nil
}

// resync replaces the local view with server truth after a failed confirm.
func (c *StreamController) resync(ctx context.Context) {
	c.mu.Lock()
	size := len(c.items)
	c.mu.Unlock()
	if size < 1 {
		size = 50
	}

	res, err := c.client.Notifications.List(ctx, 1, size)
	if err != nil {
		return // keep the optimistic state; the next snapshot reconciles
	}

	c.mu.Lock()
	c.items = c.items[:0]
	for _, n := range res.Notifications {
		if n.UserID == c.userID {
			c.items = append(c.items, n)
		}
	}
	c.unread = res.UnreadCount
	c.mu.Unlock()
	c.notify()
}

// Snapshot returns a copy of the current view model: the ordered notification
// list (most recent first), the unread count and the connectivity flag.
func (c *StreamController) Snapshot() ([]Notification, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]Notification, len(c.items))
	copy(items, c.items)
	return items, c.unread, c.connected
}

// State returns the current connection state.
func (c *StreamController) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *StreamController) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *StreamController) setConnected(v bool) {
	c.mu.Lock()
	changed := c.connected != v
	c.connected = v
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *StreamController) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

type sseEvent struct {
	name string
	data []byte
}

// readSSE parses a server-sent-event stream and forwards complete events.
// It exits when the body is closed, reporting the terminal error on errc.
func readSSE(body io.Reader, events chan<- sseEvent, errc chan<- error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		name string
		data bytes.Buffer
	)
	flush := func() {
		if data.Len() == 0 {
			return
		}
		payload := make([]byte, data.Len())
		copy(payload, data.Bytes())
		events <- sseEvent{name: name, data: payload}
		name = ""
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case line[0] == ':':
			// comment / keepalive
		case len(line) > 7 && line[:7] == "event: ":
			name = line[7:]
		case len(line) > 6 && line[:6] == "data: ":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(line[6:])
		}
	}
	errc <- scanner.Err()
}
