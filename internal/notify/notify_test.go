package notify

import (
	"context"
	"errors"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/language"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

type sentMail struct{ to, subject, body string }

func (r *recordingTransport) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentMail{to, subject, body})
	return nil
}

func TestRender_EveryKindHasATemplate(t *testing.T) {
	d := NewDispatcher(&recordingTransport{}, language.English)
	all := []Notification{
		ContactConfirmation{Name: "ann", Link: "https://x/c"},
		PasswordRecovery{Name: "ann", Link: "https://x/p"},
		SignupConfirmation{Name: "ann", Link: "https://x/s"},
		UnreadMessage{RecipientName: "ann", SenderName: "bob", ServiceTitle: "Fix roof", Count: 1},
		ServiceCancellation{RecipientName: "ann", RequesterName: "bob", ServiceTitle: "Fix roof"},
	}
	for _, n := range all {
		r, err := d.Render(n)
		if err != nil {
			t.Fatalf("%s: %v", n.Kind(), err)
		}
		if r.Subject == "" || !strings.Contains(r.Body, "Hi Ann,") {
			t.Fatalf("%s: unexpected render %+v", n.Kind(), r)
		}
	}
}

func TestRender_UnreadMessage_SummaryAndEscaping(t *testing.T) {
	d := NewDispatcher(nil, language.English)
	r, err := d.Render(UnreadMessage{
		RecipientName: "rita requester",
		SenderName:    "paul provider",
		ServiceTitle:  "Fix <the> roof",
		Count:         3,
		Excerpts:      []string{"<script>x</script>"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if r.Subject != `Paul Provider sent you 3 messages about "Fix <the> roof"` {
		t.Fatalf("subject: %q", r.Subject)
	}
	if !strings.Contains(r.Body, "Paul Provider wrote 3 messages") {
		t.Fatalf("body missing sender summary: %s", r.Body)
	}
	if strings.Contains(r.Body, "<script>") || !strings.Contains(r.Body, "Fix &lt;the&gt; roof") {
		t.Fatalf("body not escaped: %s", r.Body)
	}

	one, _ := d.Render(UnreadMessage{SenderName: "paul", ServiceTitle: "T", Count: 1})
	if !strings.HasPrefix(one.Subject, "Paul sent you a message") {
		t.Fatalf("singular subject: %q", one.Subject)
	}
}

type unknown struct{}

func (unknown) Kind() Kind { return "nope" }

func TestRender_Errors(t *testing.T) {
	d := NewDispatcher(nil, language.Und)
	if _, err := d.Render(nil); err == nil {
		t.Fatal("expected error for nil notification")
	}
	if _, err := d.Render(unknown{}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestNotify_SendsThroughTransport(t *testing.T) {
	tr := &recordingTransport{}
	d := NewDispatcher(tr, language.English)

	if err := d.Notify(context.Background(), "  ", ServiceCancellation{}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
	if err := d.Notify(context.Background(), "paul@example.com", ServiceCancellation{RecipientName: "paul", RequesterName: "rita", ServiceTitle: "Roof"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(tr.sent) != 1 || tr.sent[0].to != "paul@example.com" || tr.sent[0].subject != `"Roof" was cancelled` {
		t.Fatalf("unexpected sent: %+v", tr.sent)
	}

	tr.err = errors.New("relay down")
	if err := d.Notify(context.Background(), "paul@example.com", ServiceCancellation{}); err == nil {
		t.Fatal("expected transport error to propagate")
	}
}

func TestNotify_NoTransport(t *testing.T) {
	d := NewDispatcher(nil, language.English)
	if err := d.Notify(context.Background(), "a@b.c", SignupConfirmation{}); err == nil {
		t.Fatal("expected error without transport")
	}
}

func TestSMTPTransport_BuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	s := NewSMTPTransport("mail.local", "2525", "user", "pw", "noreply@example.com")
	s.sendMail = func(_ context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	if err := s.Send(context.Background(), "rita@example.com", "Hello\r\nBcc: evil@x", "<p>hi</p>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "mail.local:2525" || gotFrom != "noreply@example.com" || len(gotTo) != 1 || gotTo[0] != "rita@example.com" {
		t.Fatalf("envelope: %s %s %v", gotAddr, gotFrom, gotTo)
	}
	if gotAuth == nil {
		t.Fatal("expected PLAIN auth when username is set")
	}
	msg := string(gotMsg)
	if !strings.HasPrefix(msg, "From: noreply@example.com\r\nTo: rita@example.com\r\nSubject: Hello  Bcc: evil@x\r\n") {
		t.Fatalf("headers: %q", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\n<p>hi</p>") {
		t.Fatalf("body: %q", msg)
	}
}

func TestSMTPTransport_ErrorsAndCancelledContext(t *testing.T) {
	s := NewSMTPTransport("mail.local", "25", "", "", "noreply@example.com")
	s.sendMail = func(context.Context, string, smtp.Auth, string, []string, []byte) error { return errors.New("421 busy") }
	if err := s.Send(context.Background(), "a@b.c", "s", "b"); err == nil || !strings.Contains(err.Error(), "421 busy") {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, "a@b.c", "s", "b"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLogTransport(t *testing.T) {
	if err := (LogTransport{}).Send(context.Background(), "a@b.c", "s", "b"); err != nil {
		t.Fatalf("LogTransport: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (LogTransport{}).Send(ctx, "a@b.c", "s", "b"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// listen starts a TCP listener on loopback and hands each accepted
// connection to serve.
func listen(t *testing.T, serve func(net.Conn)) (host, port string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serve(conn)
		}
	}()
	host, port, _ = net.SplitHostPort(ln.Addr().String())
	return host, port
}

func TestSMTPTransport_StalledRelayHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	host, port := listen(t, func(c net.Conn) {
		defer c.Close()
		<-release // accept, never greet
	})

	s := NewSMTPTransport(host, port, "", "", "noreply@example.com")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Send(ctx, "a@b.c", "s", "b")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Send blocked %s past a 200ms deadline", elapsed)
	}
}

func TestSMTPTransport_DeliversThroughRelay(t *testing.T) {
	got := make(chan string, 1)
	host, port := listen(t, func(c net.Conn) {
		defer c.Close()
		tp := textproto.NewConn(c)
		_ = tp.PrintfLine("220 relay ready")
		var data strings.Builder
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			switch verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); verb {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250 relay")
			case "MAIL", "RCPT":
				_ = tp.PrintfLine("250 ok")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				lines, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				data.WriteString(strings.Join(lines, "\n"))
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				got <- data.String()
				return
			default:
				_ = tp.PrintfLine("502 unknown")
			}
		}
	})

	s := NewSMTPTransport(host, port, "", "", "noreply@example.com")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Send(ctx, "rita@example.com", "Hello", "<p>hi</p>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case msg := <-got:
		if !strings.Contains(msg, "Subject: Hello") || !strings.HasSuffix(msg, "<p>hi</p>") {
			t.Fatalf("relay received %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay never saw QUIT")
	}
}
