package stomp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-offers-backend/internal/auth"
)

var secret = []byte("stomp-test-secret")

// members maps conversation id -> participant ids.
type members map[uint][2]uint

func (m members) IsMember(_ context.Context, userID, convID uint) (bool, error) {
	p, ok := m[convID]
	return ok && (p[0] == userID || p[1] == userID), nil
}

type failingMembers struct{}

func (failingMembers) IsMember(context.Context, uint, uint) (bool, error) {
	return false, errors.New("db down")
}

// fixedVerifier returns the same claims for any non-empty token.
type fixedVerifier struct{ claims *auth.Claims }

func (v fixedVerifier) Verify(raw string) (*auth.Claims, error) {
	if raw == "" {
		return nil, auth.ErrInvalidCredential
	}
	return v.claims, nil
}

func token(t *testing.T, userID uint) string {
	t.Helper()
	tok, err := auth.NewIssuer(secret, nil).Issue(userID, []string{"USER"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func newGate(m MembershipOracle) *Gate {
	return &Gate{Verifier: auth.NewVerifier(secret), Members: m}
}

func TestParseDestination(t *testing.T) {
	ok := map[string]uint{
		"/topic/conversations/7/messages":    7,
		"/topic/conversations/0042/messages": 42,
	}
	for in, want := range ok {
		if got, good := ParseDestination(in); !good || got != want {
			t.Errorf("ParseDestination(%q)=%d,%v", in, got, good)
		}
	}
	for _, in := range []string{
		"",
		"/topic/conversations/0/messages",
		"/topic/conversations/-1/messages",
		"/topic/conversations/abc/messages",
		"/topic/conversations/7/messages/",
		"/topic/conversations/7/messages/extra",
		"/topic/conversations//messages",
		"/queue/conversations/7/messages",
		" /topic/conversations/7/messages",
		"/topic/conversations/7/messagesX",
		"/topic/conversations/99999999999999999999999/messages",
	} {
		if _, good := ParseDestination(in); good {
			t.Errorf("ParseDestination(%q) should fail", in)
		}
	}
	if Destination(9) != "/topic/conversations/9/messages" {
		t.Fatalf("Destination: %s", Destination(9))
	}
}

func TestGate_Connect(t *testing.T) {
	g := newGate(members{})
	ctx := context.Background()

	f := NewFrame(CmdConnect, HdrToken, "Bearer "+token(t, 3))
	if out, err := g.PreSend(ctx, f); err != nil || out != f {
		t.Fatalf("valid CONNECT must pass unchanged: %v %v", out, err)
	}
	for _, tok := range []string{"", "garbage", "Bearer "} {
		if out, err := g.PreSend(ctx, NewFrame(CmdConnect, HdrToken, tok)); out != nil || err != nil {
			t.Fatalf("CONNECT with token %q must be dropped silently: %v %v", tok, out, err)
		}
	}
}

func TestGate_SubscribeAndSend_Membership(t *testing.T) {
	g := newGate(members{7: {1, 2}})
	ctx := context.Background()

	for _, cmd := range []string{CmdSubscribe, CmdSend} {
		for user, want := range map[uint]bool{1: true, 2: true, 3: false} {
			f := NewFrame(cmd, HdrToken, token(t, user), HdrDestination, "/topic/conversations/7/messages")
			out, err := g.PreSend(ctx, f)
			if err != nil {
				t.Fatalf("%s user %d: %v", cmd, user, err)
			}
			if (out != nil) != want {
				t.Errorf("%s user %d: allowed=%v want %v", cmd, user, out != nil, want)
			}
		}
	}
}

func TestGate_NonMemberSubscribeIsDropped(t *testing.T) {
	g := newGate(members{7: {1, 2}})
	base := testutil.ToFloat64(stompFrames.WithLabelValues(CmdSubscribe, "not_member"))

	f := NewFrame(CmdSubscribe, HdrToken, token(t, 3), HdrID, "s1", HdrDestination, "/topic/conversations/7/messages")
	out, err := g.PreSend(context.Background(), f)
	if out != nil || err != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", out, err)
	}
	if got := testutil.ToFloat64(stompFrames.WithLabelValues(CmdSubscribe, "not_member")); got != base+1 {
		t.Fatalf("not_member counter %v -> %v", base, got)
	}
}

func TestGate_BadDestinationRejectedEvenForMembers(t *testing.T) {
	g := newGate(members{7: {1, 2}})
	for _, dest := range []string{"", "/topic/conversations/7", "/topic/conversations/7/messages/x", "/topic/other"} {
		f := NewFrame(CmdSend, HdrToken, token(t, 1), HdrDestination, dest)
		if out, _ := g.PreSend(context.Background(), f); out != nil {
			t.Errorf("destination %q must be rejected", dest)
		}
	}
}

func TestGate_MissingTokenRejectsEveryCommand(t *testing.T) {
	g := newGate(members{7: {1, 2}})
	for _, cmd := range []string{CmdConnect, CmdSubscribe, CmdSend, CmdDisconnect, CmdAck} {
		f := NewFrame(cmd, HdrDestination, "/topic/conversations/7/messages")
		if out, _ := g.PreSend(context.Background(), f); out != nil {
			t.Errorf("%s without token must be dropped", cmd)
		}
	}
}

func TestGate_OtherCommandsPassThrough(t *testing.T) {
	g := newGate(failingMembers{})
	for _, cmd := range []string{CmdDisconnect, CmdAck, CmdNack, CmdUnsubscribe, "FOO"} {
		f := NewFrame(cmd, HdrToken, token(t, 5), HdrDestination, "nonsense")
		if out, err := g.PreSend(context.Background(), f); out != f || err != nil {
			t.Errorf("%s should pass unchanged: %v %v", cmd, out, err)
		}
	}
}

func TestGate_MissingSubjectIsAnInvariantError(t *testing.T) {
	g := &Gate{Verifier: fixedVerifier{&auth.Claims{Roles: "USER"}}, Members: members{7: {1, 2}}}
	f := NewFrame(CmdSubscribe, HdrToken, "x", HdrDestination, "/topic/conversations/7/messages")
	out, err := g.PreSend(context.Background(), f)
	if out != nil || !errors.Is(err, auth.ErrMissingSubject) {
		t.Fatalf("expected invariant error, got (%v, %v)", out, err)
	}

	// CONNECT needs no subject.
	if out, err := g.PreSend(context.Background(), NewFrame(CmdConnect, HdrToken, "x")); out == nil || err != nil {
		t.Fatalf("CONNECT should pass: %v %v", out, err)
	}
}

func TestGate_LookupFailureDrops(t *testing.T) {
	g := newGate(failingMembers{})
	f := NewFrame(CmdSend, HdrToken, token(t, 1), HdrDestination, "/topic/conversations/7/messages")
	if out, err := g.PreSend(context.Background(), f); out != nil || err != nil {
		t.Fatalf("expected silent drop, got (%v, %v)", out, err)
	}
}

func TestGate_AdmitCarriesIdentity(t *testing.T) {
	g := newGate(members{7: {1, 2}})
	a, err := g.Admit(context.Background(), NewFrame(CmdSend, HdrToken, token(t, 2), HdrDestination, "/topic/conversations/7/messages"))
	if err != nil || a == nil || a.UserID != 2 || a.ConversationID != 7 || a.Claims.Subject != "2" {
		t.Fatalf("unexpected admission: %+v err=%v", a, err)
	}
	if a, _ := g.Admit(context.Background(), nil); a != nil {
		t.Fatal("nil frame must not be admitted")
	}
}

func TestGate_ConcurrentUse(t *testing.T) {
	g := newGate(members{7: {1, 2}})
	toks := map[uint]string{1: token(t, 1), 3: token(t, 3)}
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		go func(i int) {
			user := uint(1)
			if i%2 == 1 {
				user = 3
			}
			f := NewFrame(CmdSubscribe, HdrToken, toks[user], HdrDestination, "/topic/conversations/7/messages")
			out, err := g.PreSend(context.Background(), f)
			if err != nil || (out != nil) != (user == 1) {
				errs <- fmt.Errorf("user %d: out=%v err=%v", user, out, err)
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < 50; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
}
