package stomp

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbourn/go-offers-backend/internal/domain"
	"github.com/tbourn/go-offers-backend/internal/services"
)

// loopbackPoster stores messages in memory and publishes them to the broker,
// mirroring services.MessageService with a Publisher.
type loopbackPoster struct {
	mu     sync.Mutex
	broker *Broker
	nextID uint
	posted []domain.Message
	err    error
}

func (p *loopbackPoster) PostMessage(ctx context.Context, convID, authorID uint, content string) (*domain.Message, error) {
	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return nil, p.err
	}
	p.nextID++
	m := domain.Message{ID: p.nextID, ConversationID: convID, AuthorID: authorID, Content: content}
	p.posted = append(p.posted, m)
	p.mu.Unlock()
	p.broker.PublishMessage(ctx, &m)
	return &m, nil
}

type harness struct {
	broker *Broker
	poster *loopbackPoster
	srv    *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	p := &loopbackPoster{}
	b := NewBroker(newGate(members{7: {1, 2}, 8: {1, 3}}), p, BrokerConfig{WriteTimeout: time.Second})
	p.broker = b
	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
		srv.Close()
	})
	return &harness{broker: b, poster: p, srv: srv}
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func (h *harness) dial(t *testing.T) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(f *Frame) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, marshalFrame(f)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// next reads one frame or returns nil on timeout/close.
func (c *client) next(timeout time.Duration) *Frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil
	}
	f, err := ParseFrame(data)
	if err != nil {
		c.t.Fatalf("parse server frame: %v", err)
	}
	return f
}

// sync round-trips a receipt. Replies to earlier frames arrive first, so
// anything other than the matching RECEIPT fails the test. Unlike a read
// timeout it leaves the connection usable.
func (c *client) sync(tok string) {
	c.t.Helper()
	c.seq++
	id := "sync-" + strconv.Itoa(c.seq)
	c.send(NewFrame(CmdBegin, HdrToken, tok, HdrReceipt, id))
	if f := c.expect(CmdReceipt); f.Header.Get(HdrReceiptID) != id {
		c.t.Fatalf("expected receipt %s, got %+v", id, f.Header)
	}
}

func (c *client) expect(cmd string) *Frame {
	c.t.Helper()
	f := c.next(2 * time.Second)
	if f == nil || f.Command != cmd {
		c.t.Fatalf("expected %s, got %+v", cmd, f)
	}
	return f
}

func TestBroker_ConnectSubscribeSendFanOut(t *testing.T) {
	h := newHarness(t)
	tok1, tok2 := token(t, 1), token(t, 2)
	dest := "/topic/conversations/7/messages"

	a := h.dial(t)
	a.send(NewFrame(CmdConnect, HdrToken, tok1, "accept-version", "1.2"))
	if f := a.expect(CmdConnected); f.Header.Get(HdrVersion) != "1.2" {
		t.Fatalf("CONNECTED: %+v", f)
	}
	a.send(NewFrame(CmdSubscribe, HdrToken, tok1, HdrID, "sub-a", HdrDestination, dest, HdrReceipt, "r1"))
	if f := a.expect(CmdReceipt); f.Header.Get(HdrReceiptID) != "r1" {
		t.Fatalf("RECEIPT: %+v", f)
	}

	b := h.dial(t)
	b.send(NewFrame(CmdConnect, HdrToken, tok2))
	b.expect(CmdConnected)
	sf := NewFrame(CmdSend, HdrToken, tok2, HdrDestination, dest)
	sf.Body = []byte("hello from 2")
	b.send(sf)

	msg := a.expect(CmdMessage)
	if msg.Header.Get(HdrSubscription) != "sub-a" || msg.Header.Get(HdrDestination) != dest || msg.Header.Get(HdrMessageID) != "1" {
		t.Fatalf("MESSAGE headers: %+v", msg.Header)
	}
	var got domain.Message
	if err := json.Unmarshal(msg.Body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Content != "hello from 2" || got.AuthorID != 2 || got.ConversationID != 7 {
		t.Fatalf("message body: %+v", got)
	}
}

func TestBroker_NonMemberSubscribeGetsNothing(t *testing.T) {
	h := newHarness(t)
	outsider := h.dial(t)
	tok3 := token(t, 3)
	outsider.send(NewFrame(CmdConnect, HdrToken, tok3))
	outsider.expect(CmdConnected)
	// Dropped silently: no RECEIPT, no ERROR.
	outsider.send(NewFrame(CmdSubscribe, HdrToken, tok3, HdrID, "s", HdrDestination, "/topic/conversations/7/messages", HdrReceipt, "r"))
	outsider.sync(tok3)

	if _, err := h.poster.PostMessage(context.Background(), 7, 1, "secret"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	outsider.sync(tok3)
}

func TestBroker_InvalidTokenConnectIsIgnored(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	c.send(NewFrame(CmdConnect, HdrToken, "nope", HdrReceipt, "r0"))
	// Nothing answers the rejected CONNECT and the session stays open: the
	// next reply is the one for the valid CONNECT.
	c.send(NewFrame(CmdConnect, HdrToken, token(t, 1)))
	c.expect(CmdConnected)
	c.sync(token(t, 1))
}

func TestBroker_UnsubscribeStopsDelivery(t *testing.T) {
	h := newHarness(t)
	tok := token(t, 1)
	c := h.dial(t)
	c.send(NewFrame(CmdSubscribe, HdrToken, tok, HdrID, "s1", HdrDestination, "/topic/conversations/8/messages", HdrReceipt, "x"))
	c.expect(CmdReceipt)
	c.send(NewFrame(CmdUnsubscribe, HdrToken, tok, HdrID, "s1", HdrReceipt, "y"))
	c.expect(CmdReceipt)

	if _, err := h.poster.PostMessage(context.Background(), 8, 3, "hi"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	c.sync(tok)
}

func TestBroker_SendRejectionReturnsErrorAndCloses(t *testing.T) {
	h := newHarness(t)
	h.poster.err = services.ErrConversationClosed
	c := h.dial(t)
	f := NewFrame(CmdSend, HdrToken, token(t, 1), HdrDestination, "/topic/conversations/7/messages")
	f.Body = []byte("late")
	c.send(f)

	ef := c.expect(CmdError)
	if ef.Header.Get(HdrMessage) != "This conversation is closed." {
		t.Fatalf("ERROR message: %+v", ef.Header)
	}
	if next := c.next(time.Second); next != nil {
		t.Fatalf("connection should be closed, got %+v", next)
	}
}

func TestBroker_SubscribeWithoutIDIsProtocolError(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	c.send(NewFrame(CmdSubscribe, HdrToken, token(t, 1), HdrDestination, "/topic/conversations/7/messages"))
	if ef := c.expect(CmdError); !strings.Contains(ef.Header.Get(HdrMessage), "id header") {
		t.Fatalf("ERROR: %+v", ef.Header)
	}
}

func TestBroker_DisconnectSendsReceiptAndCloses(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	c.send(NewFrame(CmdDisconnect, HdrToken, token(t, 1), HdrReceipt, "bye"))
	if f := c.expect(CmdReceipt); f.Header.Get(HdrReceiptID) != "bye" {
		t.Fatalf("RECEIPT: %+v", f)
	}
	if f := c.next(time.Second); f != nil {
		t.Fatalf("expected close, got %+v", f)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.broker.Sessions() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := h.broker.Sessions(); n != 0 {
		t.Fatalf("session not released, %d open", n)
	}
}

func TestBroker_HeartBeatIgnoredAndMalformedCloses(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("\n")); err != nil {
		t.Fatalf("write heart-beat: %v", err)
	}
	c.send(NewFrame(CmdConnect, HdrToken, token(t, 1)))
	c.expect(CmdConnected)

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("SEND\nno-colon\n\n\x00")); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.expect(CmdError)
}

func TestBroker_CheckOrigin(t *testing.T) {
	b := NewBroker(newGate(members{}), nil, BrokerConfig{AllowedOrigins: []string{"https://app.example.com"}})
	req := httptest.NewRequest("GET", "/ws", nil)
	if !b.checkOrigin(req) {
		t.Fatal("requests without Origin are allowed")
	}
	req.Header.Set("Origin", "https://evil.example.com")
	if b.checkOrigin(req) {
		t.Fatal("foreign origin must be refused")
	}
	req.Header.Set("Origin", "https://app.example.com")
	if !b.checkOrigin(req) {
		t.Fatal("configured origin must be allowed")
	}
}
