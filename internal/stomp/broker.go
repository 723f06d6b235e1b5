package stomp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-offers-backend/internal/domain"
	"github.com/tbourn/go-offers-backend/internal/services"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	maxFrameBytes       = 64 << 10
	sendBuffer          = 64
	serverName          = "offers-backend/1.0"
)

// MessagePoster stores a message sent over the channel. Storing is expected
// to trigger PublishMessage for live delivery.
type MessagePoster interface {
	PostMessage(ctx context.Context, conversationID, authorID uint, content string) (*domain.Message, error)
}

// BrokerConfig tunes the websocket side of the broker.
type BrokerConfig struct {
	// AllowedOrigins limits the websocket Origin header; empty or "*" allows all.
	AllowedOrigins []string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// Broker is an in-process STOMP broker over websockets. It implements
// services.Publisher so stored messages reach subscribers regardless of
// whether they were posted over HTTP or STOMP.
type Broker struct {
	gate     *Gate
	poster   MessagePoster
	cfg      BrokerConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[*session]struct{}
}

// NewBroker wires a broker. SEND frames are stored through poster.
func NewBroker(gate *Gate, poster MessagePoster, cfg BrokerConfig) *Broker {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	b := &Broker{
		gate:     gate,
		poster:   poster,
		cfg:      cfg,
		logger:   log.With().Str("component", "stomp").Logger(),
		sessions: make(map[*session]struct{}),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		CheckOrigin:     b.checkOrigin,
	}
	return b
}

func (b *Broker) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(b.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range b.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and serves one STOMP session until the
// client disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	s := &session{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		subs:   make(map[string]string),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	b.register(s)
	defer b.unregister(s)

	go s.writePump(b.cfg.WriteTimeout, b.cfg.PingInterval)
	b.readPump(ctx, s)
}

// PublishMessage delivers m to every subscription on its conversation topic.
func (b *Broker) PublishMessage(_ context.Context, m *domain.Message) {
	if m == nil {
		return
	}
	body, err := json.Marshal(m)
	if err != nil {
		b.logger.Error().Err(err).Uint("message_id", m.ID).Msg("encode message")
		return
	}
	dest := Destination(m.ConversationID)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.sessions {
		for _, subID := range s.subscriptionsTo(dest) {
			f := NewFrame(CmdMessage,
				HdrSubscription, subID,
				HdrMessageID, strconv.FormatUint(uint64(m.ID), 10),
				HdrDestination, dest,
				HdrContentType, "application/json",
				HdrContentLength, strconv.Itoa(len(body)),
			)
			f.Body = body
			if s.enqueue(marshalFrame(f)) {
				stompDelivered.WithLabelValues("queued").Inc()
			} else {
				stompDelivered.WithLabelValues("dropped").Inc()
				b.logger.Warn().Str("session", s.id).Msg("outbound buffer full; message dropped")
			}
		}
	}
}

// Shutdown closes every open session.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.RLock()
	all := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		all = append(all, s)
	}
	b.mu.RUnlock()

	for _, s := range all {
		s.closeNow()
	}
	for {
		b.mu.RLock()
		n := len(b.sessions)
		b.mu.RUnlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Sessions returns the number of open sessions.
func (b *Broker) Sessions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

func (b *Broker) register(s *session) {
	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.mu.Unlock()
	stompSessions.Inc()
}

func (b *Broker) unregister(s *session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
	s.closeNow()
	stompSessions.Dec()
}

func (b *Broker) readPump(ctx context.Context, s *session) {
	s.conn.SetReadLimit(maxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * b.cfg.PingInterval))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * b.cfg.PingInterval))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug().Err(err).Str("session", s.id).Msg("websocket closed")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(2 * b.cfg.PingInterval))

		f, err := ParseFrame(data)
		if err != nil {
			s.fail(nil, "malformed frame")
			s.awaitClose(b.cfg.WriteTimeout)
			return
		}
		if f == nil {
			continue // heart-beat
		}
		if !b.handle(ctx, s, f) {
			s.awaitClose(b.cfg.WriteTimeout)
			return
		}
	}
}

// handle processes one frame and reports whether the session stays open.
func (b *Broker) handle(ctx context.Context, s *session, f *Frame) bool {
	a, err := b.gate.Admit(ctx, f)
	if err != nil {
		b.logger.Error().Err(err).Str("session", s.id).Str("command", f.Command).Msg("frame dropped")
		return true
	}
	if a == nil {
		return true
	}

	switch f.Command {
	case CmdConnect, CmdStomp:
		s.enqueue(marshalFrame(NewFrame(CmdConnected,
			HdrVersion, "1.2",
			HdrHeartBeat, "0,0",
			HdrServer, serverName,
			"session", s.id,
		)))

	case CmdSubscribe:
		id := f.Header.Get(HdrID)
		if id == "" {
			s.fail(f, "SUBSCRIBE requires an id header")
			return false
		}
		s.subscribe(id, f.Header.Get(HdrDestination))

	case CmdUnsubscribe:
		s.unsubscribe(f.Header.Get(HdrID))

	case CmdSend:
		if b.poster == nil {
			s.fail(f, "messaging unavailable")
			return false
		}
		if _, err := b.poster.PostMessage(ctx, a.ConversationID, a.UserID, string(f.Body)); err != nil {
			b.logger.Debug().Err(err).Str("session", s.id).Uint("conversation_id", a.ConversationID).Msg("SEND rejected")
			s.fail(f, sendErrorMessage(err))
			return false
		}

	case CmdDisconnect:
		s.receipt(f)
		s.closeAfterFlush()
		return false
	}

	s.receipt(f)
	return true
}

func sendErrorMessage(err error) string {
	if v, ok := services.AsValidation(err); ok {
		return v.Msg
	}
	switch {
	case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, services.ErrMessageTooLong),
		errors.Is(err, services.ErrConversationNotFound):
		return err.Error()
	}
	return "message could not be delivered"
}

type session struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]string // subscription id -> destination

	closeOnce sync.Once
	done      chan struct{}
}

func (s *session) subscribe(id, dest string) {
	s.mu.Lock()
	s.subs[id] = dest
	s.mu.Unlock()
}

func (s *session) unsubscribe(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *session) subscriptionsTo(dest string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, d := range s.subs {
		if d == dest {
			ids = append(ids, id)
		}
	}
	return ids
}

// enqueue queues data for the writer; it never blocks.
func (s *session) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *session) receipt(f *Frame) {
	if r := f.Header.Get(HdrReceipt); r != "" {
		s.enqueue(marshalFrame(NewFrame(CmdReceipt, HdrReceiptID, r)))
	}
}

// fail sends an ERROR frame and closes once it is written.
func (s *session) fail(f *Frame, msg string) {
	ef := NewFrame(CmdError, HdrMessage, msg, HdrContentType, "text/plain")
	if f != nil {
		if r := f.Header.Get(HdrReceipt); r != "" {
			ef.Header.Set(HdrReceiptID, r)
		}
	}
	ef.Body = []byte(msg)
	s.enqueue(marshalFrame(ef))
	s.closeAfterFlush()
}

// closeAfterFlush asks the writer to close after queued frames are written.
func (s *session) closeAfterFlush() {
	select {
	case s.send <- nil:
	default:
		s.closeNow()
	}
}

// awaitClose waits for the writer to flush and close, at most d.
func (s *session) awaitClose(d time.Duration) {
	select {
	case <-s.done:
	case <-time.After(d):
	}
}

func (s *session) closeNow() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		_ = s.conn.Close()
	})
}

func (s *session) writePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if data == nil {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				s.closeNow()
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.closeNow()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.closeNow()
				return
			}
		}
	}
}
