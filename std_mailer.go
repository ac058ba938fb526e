package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

// - SSL is the predecessor of TLS
// - We can etablish a secure connection using TLS or SSL
// -- At the beginning of the connection, using SMTPS over TLS or SMTPS over SSL (port 465)
// -- After the connection is established, using STARTTLS to upgrade the connection to TLS (port 587)

const (
	CryptoStartTLS = "starttls"
	CryptoSSL      = "ssl"
	CryptoNone     = "none"
)

func normalizeCrypto(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tls", CryptoStartTLS:
		return CryptoStartTLS, nil
	case CryptoSSL:
		return CryptoSSL, nil
	case CryptoNone, "plain":
		return CryptoNone, nil
	default:
		return "", fmt.Errorf("unsupported crypto type: %s", s)
	}
}

// StdMailer keeps one authenticated SMTP session for the whole batch. A
// connection-level failure drops the session and the next Send reconnects.
type StdMailer struct {
	smtpHost           string
	smtpPort           int
	smtpUser           string
	smtpPass           string
	smtpCrypto         string
	insecureSkipVerify bool
	from               mail.Address
	timeout            time.Duration
	logger             *zap.Logger

	client *smtp.Client
	closed bool
}

func NewStdMailer(creds Credentials, timeout time.Duration, logger *zap.Logger) (*StdMailer, error) {
	crypto, err := normalizeCrypto(creds.SMTPCrypto)
	if err != nil {
		return nil, err
	}
	return &StdMailer{
		smtpHost:           creds.SMTPServer,
		smtpPort:           creds.SMTPPort,
		smtpUser:           creds.Login(),
		smtpPass:           creds.AppPassword,
		smtpCrypto:         crypto,
		insecureSkipVerify: creds.InsecureSkipVerify,
		from:               mail.Address{Name: creds.SenderName, Address: creds.Email},
		timeout:            timeout,
		logger:             logger,
	}, nil
}

func (m *StdMailer) addr() string {
	return net.JoinHostPort(m.smtpHost, strconv.Itoa(m.smtpPort))
}

// Open connects and authenticates. Every failure here is fatal for the batch:
// nothing can be delivered without a session.
func (m *StdMailer) Open(ctx context.Context) error {
	if m.closed {
		return ErrSessionClosed
	}
	if m.client != nil {
		return nil
	}
	client, err := m.connect(ctx)
	if err != nil {
		if errors.Is(err, ErrAuth) {
			return err
		}
		return &SendError{Kind: ErrConnect, Err: err}
	}
	m.client = client
	return nil
}

func (m *StdMailer) connect(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: m.timeout}
	tlsConfig := &tls.Config{
		ServerName:         m.smtpHost,
		InsecureSkipVerify: m.insecureSkipVerify, //nolint:gosec // opt-in for self-signed relays
	}

	var client *smtp.Client
	switch m.smtpCrypto {
	case CryptoStartTLS:
		conn, err := dialer.DialContext(ctx, "tcp", m.addr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP tls server => %w", err)
		}
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to start tls => %w", err)
		}

	case CryptoSSL:
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err := tlsDialer.DialContext(ctx, "tcp", m.addr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP ssl server => %w", err)
		}
		client = smtp.NewClient(conn)

	case CryptoNone:
		conn, err := dialer.DialContext(ctx, "tcp", m.addr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP server => %w", err)
		}
		client = smtp.NewClient(conn)
	}

	client.CommandTimeout = m.timeout
	client.SubmissionTimeout = m.timeout

	if m.smtpUser != "" {
		if err := client.Auth(m.saslClient(client)); err != nil {
			client.Close()
			var smtpErr *smtp.SMTPError
			if errors.As(err, &smtpErr) {
				return nil, &SendError{Kind: ErrAuth, Err: err}
			}
			return nil, fmt.Errorf("failed to authenticate => %w", err)
		}
	}

	m.logger.Debug("smtp session established",
		zap.String("addr", m.addr()),
		zap.String("crypto", m.smtpCrypto))
	return client, nil
}

func (m *StdMailer) saslClient(client *smtp.Client) sasl.Client {
	if client.SupportsAuth(sasl.Plain) {
		return sasl.NewPlainClient("", m.smtpUser, m.smtpPass)
	}
	return sasl.NewLoginClient(m.smtpUser, m.smtpPass)
}

// Send delivers input over the current session, reconnecting first if a
// previous failure dropped it. Errors are *SendError values.
func (m *StdMailer) Send(ctx context.Context, input MailerInput) error {
	if m.closed {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return &SendError{Kind: ErrTransient, Email: input.Recipient.Email, Err: err}
	}

	if m.client == nil {
		m.logger.Info("reconnecting smtp session")
		client, err := m.connect(ctx)
		if err != nil {
			if errors.Is(err, ErrAuth) {
				return err
			}
			return &SendError{Kind: ErrTransient, Email: input.Recipient.Email, Err: err}
		}
		m.client = client
	}

	if err := m.deliver(input); err != nil {
		m.settle(err)
		return &SendError{Kind: ErrTransient, Email: input.Recipient.Email, Err: err}
	}
	m.settle(nil)
	return nil
}

func (m *StdMailer) deliver(input MailerInput) error {
	if err := m.client.Mail(m.from.Address, nil); err != nil {
		return fmt.Errorf("MAIL FROM => %w", err)
	}
	if err := m.client.Rcpt(input.Recipient.Email, nil); err != nil {
		return fmt.Errorf("RCPT TO => %w", err)
	}

	wc, err := m.client.Data()
	if err != nil {
		return fmt.Errorf("DATA => %w", err)
	}
	if err := m.writeMessage(wc, input); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write message => %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to send email => %w", err)
	}
	return nil
}

// settle resets the session after a message. A server-side rejection keeps
// the connection usable; anything else drops it so the next Send reconnects.
func (m *StdMailer) settle(cause error) {
	var smtpErr *smtp.SMTPError
	if cause != nil && !errors.As(cause, &smtpErr) {
		m.drop()
		return
	}
	if err := m.client.Reset(); err != nil {
		m.logger.Warn("smtp reset failed, dropping session", zap.Error(err))
		m.drop()
	}
}

func (m *StdMailer) drop() {
	if m.client == nil {
		return
	}
	_ = m.client.Close()
	m.client = nil
}

func (m *StdMailer) writeMessage(w io.Writer, input MailerInput) error {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{&m.from})
	h.SetAddressList("To", []*mail.Address{{Name: input.Recipient.Name, Address: input.Recipient.Email}})
	h.SetSubject(input.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return err
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return err
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return err
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	pw, err := tw.CreatePart(th)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, input.Message); err != nil {
		return err
	}
	if err := pw.Close(); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	for _, a := range input.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(a.ContentType, nil)
		ah.SetFilename(a.Filename)
		ah.Set("Content-Transfer-Encoding", "base64")
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return err
		}
		if _, err := aw.Write(a.Content); err != nil {
			return err
		}
		if err := aw.Close(); err != nil {
			return err
		}
	}

	return mw.Close()
}

// Close ends the session with QUIT.
func (m *StdMailer) Close() error {
	m.closed = true
	if m.client == nil {
		return nil
	}
	err := m.client.Quit()
	if err != nil {
		_ = m.client.Close()
	}
	m.client = nil
	return err
}
