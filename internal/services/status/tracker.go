// Package status keeps one push connection per tracked phantom and records
// the latest lifecycle status each one reports.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chatphantom/phantomchat/internal/config"
	"github.com/chatphantom/phantomchat/internal/connections"
	"github.com/chatphantom/phantomchat/internal/domain/phantom/models"
	"github.com/chatphantom/phantomchat/internal/logger"
	"github.com/chatphantom/phantomchat/internal/metrics"
	"github.com/chatphantom/phantomchat/pkg/retry"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Track after Close.
var ErrClosed = errors.New("status tracker closed")

const subscriberBuffer = 8

// Snapshot is the presented state of one phantom.
type Snapshot struct {
	PhantomID string
	Entry
	View View
}

// Options configures a Tracker. Zero values fall back to defaults.
type Options struct {
	WSURL    string
	Token    func() string
	Store    Store
	Retry    retry.Policy
	Timeouts connections.TimeoutConfig
	Dialer   *websocket.Dialer
}

// Tracker owns the status connections and the phantom to status mapping.
type Tracker struct {
	wsURL  string
	token  func() string
	store  Store
	retry  retry.Policy
	dialer *websocket.Dialer
	conns  *connections.Manager

	// writeMu serializes read-modify-write updates of store entries.
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	subs   map[string]map[chan Snapshot]struct{}
	closed bool
}

func NewTracker(opts Options) *Tracker {
	if opts.Token == nil {
		opts.Token = config.GetAccessToken
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Timeouts == (connections.TimeoutConfig{}) {
		opts.Timeouts = connections.DefaultTimeouts
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		wsURL:  strings.TrimRight(opts.WSURL, "/"),
		token:  opts.Token,
		store:  opts.Store,
		retry:  opts.Retry,
		dialer: opts.Dialer,
		conns:  connections.NewManager(opts.Timeouts),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]map[chan Snapshot]struct{}),
	}
}

// Track opens the status connection for phantomID, closing any connection
// already open for it. When the first dial fails the phantom is still marked
// as heard from, and reconnecting continues in the background if the retry
// policy allows it.
func (t *Tracker) Track(ctx context.Context, phantomID string) error {
	if t.ctx.Err() != nil {
		return ErrClosed
	}
	l := logger.With(logger.STATUS)

	if prev := t.conns.Take(phantomID); prev != nil {
		_ = prev.Close()
	}

	conn, dialErr := t.dial(ctx, phantomID)
	if dialErr != nil {
		l.Error().Err(dialErr).Str("phantom_id", phantomID).Msg("Failed to open status channel")
		t.markReceived(phantomID)
		if !t.retry.Allows(1) {
			return dialErr
		}
	}

	sessionCtx, cancel := context.WithCancel(t.ctx)
	entry := connections.NewEntry(phantomID, conn, cancel)
	if prev := t.conns.Add(entry); prev != nil {
		_ = prev.Close()
	}

	t.wg.Add(1)
	go t.run(sessionCtx, cancel, entry)

	if dialErr == nil {
		l.Debug().Str("phantom_id", phantomID).Msg("Status channel open")
	}
	return dialErr
}

// Untrack closes the connection for phantomID. Its last status is kept.
func (t *Tracker) Untrack(phantomID string) {
	if entry := t.conns.Take(phantomID); entry != nil {
		_ = entry.Close()
	}
}

// Forget untracks phantomID and drops its recorded status.
func (t *Tracker) Forget(ctx context.Context, phantomID string) error {
	t.Untrack(phantomID)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.store.Delete(ctx, phantomID)
}

// Tracked reports whether phantomID has a live or reconnecting channel.
func (t *Tracker) Tracked(phantomID string) bool {
	return t.conns.Has(phantomID)
}

// TrackedIDs lists the phantoms with a channel.
func (t *Tracker) TrackedIDs() []string {
	return t.conns.IDs()
}

// Status returns the recorded state of phantomID.
func (t *Tracker) Status(ctx context.Context, phantomID string) (Snapshot, error) {
	entry, _, err := t.store.Get(ctx, phantomID)
	if err != nil {
		return Snapshot{PhantomID: phantomID, View: ViewPreparing}, err
	}
	return snapshotOf(phantomID, entry), nil
}

// View returns the gated view for phantomID. Store failures present as preparing.
func (t *Tracker) View(ctx context.Context, phantomID string) View {
	snap, err := t.Status(ctx, phantomID)
	if err != nil {
		return ViewPreparing
	}
	return snap.View
}

// Received reports whether any status message or transport error has been seen.
func (t *Tracker) Received(ctx context.Context, phantomID string) bool {
	snap, err := t.Status(ctx, phantomID)
	return err == nil && snap.Received
}

// Subscribe returns a channel of snapshots for phantomID and a function that
// ends the subscription. Slow subscribers only see the newest snapshot.
func (t *Tracker) Subscribe(phantomID string) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if t.subs[phantomID] == nil {
		t.subs[phantomID] = make(map[chan Snapshot]struct{})
	}
	t.subs[phantomID][ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.subs[phantomID][ch]; ok {
				delete(t.subs[phantomID], ch)
				close(ch)
			}
		})
	}
}

// Close tears down every connection and subscription.
func (t *Tracker) Close() {
	t.cancel()
	t.conns.CloseAll()
	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, set := range t.subs {
		for ch := range set {
			close(ch)
		}
		delete(t.subs, id)
	}
}

func (t *Tracker) dial(ctx context.Context, phantomID string) (*websocket.Conn, error) {
	target := t.wsURL + "/ws/phantom/" + url.PathEscape(phantomID)
	header := http.Header{}
	if token := t.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := t.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}

// run owns one phantom's channel across reconnects until its context ends,
// another Track replaces it, or the retry policy gives up.
func (t *Tracker) run(ctx context.Context, cancel context.CancelFunc, current *connections.Entry) {
	defer t.wg.Done()
	phantomID := current.ID
	l := logger.With(logger.STATUS)

	for {
		if current.Conn != nil {
			metrics.StatusConnections.Inc()
			err := t.readLoop(ctx, current)
			metrics.StatusConnections.Dec()

			if ctx.Err() != nil || !t.conns.Owns(current) {
				_ = current.Conn.Close()
				return
			}
			l.Error().Err(err).Str("phantom_id", phantomID).Msg("Status channel transport error")
			_ = current.Conn.Close()
			t.markReceived(phantomID)
		}

		conn, ok := t.reconnect(ctx, phantomID)
		if !ok {
			t.conns.Remove(current)
			return
		}
		next := connections.NewEntry(phantomID, conn, cancel)
		if !t.conns.Replace(current, next) {
			_ = conn.Close()
			return
		}
		current = next
	}
}

func (t *Tracker) reconnect(ctx context.Context, phantomID string) (*websocket.Conn, bool) {
	l := logger.With(logger.STATUS)

	for attempt := 1; t.retry.Allows(attempt); attempt++ {
		if err := t.retry.Wait(ctx, attempt); err != nil {
			return nil, false
		}
		conn, err := t.dial(ctx, phantomID)
		if err == nil {
			l.Info().Str("phantom_id", phantomID).Int("attempt", attempt).Msg("Status channel reconnected")
			return conn, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
		l.Warn().Err(err).Str("phantom_id", phantomID).Int("attempt", attempt).Msg("Status channel reconnect failed")
	}

	if t.retry.MaxAttempts > 0 {
		l.Error().Str("phantom_id", phantomID).Int("attempts", t.retry.MaxAttempts).Msg("Giving up on status channel")
	}
	return nil, false
}

func (t *Tracker) readLoop(ctx context.Context, entry *connections.Entry) error {
	conn := entry.Conn
	timeouts := t.conns.GetTimeouts()
	l := logger.With(logger.STATUS)

	_ = conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(timeouts.PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeouts.WriteWait)); err != nil {
					return
				}
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))

		var update models.StatusUpdate
		if err := json.Unmarshal(data, &update); err != nil || update.Status == "" {
			l.Warn().Err(err).Str("phantom_id", entry.ID).Str("payload", string(data)).Msg("Ignoring malformed status message")
			continue
		}
		if !t.conns.Owns(entry) {
			return nil
		}
		t.apply(entry.ID, update)
	}
}

func (t *Tracker) apply(phantomID string, update models.StatusUpdate) {
	if !update.Status.Known() {
		l := logger.With(logger.STATUS)
		l.Warn().Str("phantom_id", phantomID).Str("status", string(update.Status)).Msg("Unknown phantom status")
	}
	metrics.StatusMessages.WithLabelValues(string(update.Status)).Inc()

	entry := Entry{
		Status:    update.Status,
		Progress:  update.Progress,
		Received:  true,
		UpdatedAt: time.Now(),
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.save(phantomID, entry)
}

// markReceived records that the phantom has been heard from, keeping its last status.
func (t *Tracker) markReceived(phantomID string) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry, _, err := t.store.Get(ctx, phantomID)
	if err != nil {
		l := logger.With(logger.STATUS)
		l.Error().Err(err).Str("phantom_id", phantomID).Msg("Failed to read status entry")
	}
	if entry.Received {
		return
	}
	entry.Received = true
	entry.UpdatedAt = time.Now()
	t.save(phantomID, entry)
}

func (t *Tracker) save(phantomID string, entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.store.Set(ctx, phantomID, entry); err != nil {
		l := logger.With(logger.STATUS)
		l.Error().Err(err).Str("phantom_id", phantomID).Msg("Failed to store phantom status")
	}
	t.publish(snapshotOf(phantomID, entry))
}

func (t *Tracker) publish(snap Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ch := range t.subs[snap.PhantomID] {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Full: drop the oldest so the newest always lands.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func snapshotOf(phantomID string, entry Entry) Snapshot {
	return Snapshot{PhantomID: phantomID, Entry: entry, View: ViewFor(entry)}
}
