package main

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"
)

type receivedMessage struct {
	From string
	To   []string
	Data []byte
}

// testBackend is an in-process SMTP relay with PLAIN auth.
type testBackend struct {
	username string
	password string
	reject   map[string]bool
	// cut lists recipients whose RCPT closes the connection.
	cut map[string]bool

	mu       sync.Mutex
	sessions int
	messages []receivedMessage
}

func (b *testBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	b.mu.Lock()
	b.sessions++
	b.mu.Unlock()
	return &testSession{backend: b, conn: c}, nil
}

// setPassword changes the accepted password for sessions that authenticate
// afterwards.
func (b *testBackend) setPassword(password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.password = password
}

func (b *testBackend) checkLogin(username, password string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return username == b.username && password == b.password
}

func (b *testBackend) Messages() []receivedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]receivedMessage(nil), b.messages...)
}

func (b *testBackend) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions
}

type testSession struct {
	backend *testBackend
	conn    *smtp.Conn
	authed  bool
	from    string
	to      []string
}

func (s *testSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *testSession) Auth(_ string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if !s.backend.checkLogin(username, password) {
			return &smtp.SMTPError{
				Code:         535,
				EnhancedCode: smtp.EnhancedCode{5, 7, 8},
				Message:      "Invalid username or password",
			}
		}
		s.authed = true
		return nil
	}), nil
}

func (s *testSession) Mail(from string, _ *smtp.MailOptions) error {
	if !s.authed {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *testSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.cut[to] {
		_ = s.conn.Conn().Close()
		return errors.New("connection closed")
	}
	if s.backend.reject[to] {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user",
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, receivedMessage{From: s.from, To: s.to, Data: b})
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *testSession) Logout() error { return nil }

// startSMTPServer serves backend on a loopback port and returns credentials
// pointing at it.
func startSMTPServer(t *testing.T, backend *testBackend) Credentials {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := smtp.NewServer(backend)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true
	go func() { _ = s.Serve(l) }()
	t.Cleanup(func() { _ = s.Close() })

	addr := l.Addr().(*net.TCPAddr)
	return Credentials{
		Email:       "certs@example.com",
		AppPassword: backend.password,
		SMTPServer:  "127.0.0.1",
		SMTPPort:    addr.Port,
		Username:    backend.username,
		SenderName:  "Event Team",
		SMTPCrypto:  CryptoNone,
	}
}

func newTestBackend() *testBackend {
	return &testBackend{
		username: "certs@example.com",
		password: "app-password",
		reject:   map[string]bool{},
		cut:      map[string]bool{},
	}
}
