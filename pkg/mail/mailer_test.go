package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/smtp"
	"strings"
	"testing"
)

type fakeSMTPClient struct {
	from    string
	rcpts   []string
	data    bytes.Buffer
	quit    bool
	mailErr error
}

func (f *fakeSMTPClient) Mail(from string) error {
	if f.mailErr != nil {
		return f.mailErr
	}
	f.from = from
	return nil
}

func (f *fakeSMTPClient) Rcpt(addr string) error {
	f.rcpts = append(f.rcpts, addr)
	return nil
}

func (f *fakeSMTPClient) Data() (io.WriteCloser, error) {
	return nopWriteCloser{&f.data}, nil
}

func (f *fakeSMTPClient) Quit() error  { f.quit = true; return nil }
func (f *fakeSMTPClient) Close() error { return nil }

func (f *fakeSMTPClient) StartTLS(*tls.Config) error         { return nil }
func (f *fakeSMTPClient) Auth(smtp.Auth) error               { return nil }
func (f *fakeSMTPClient) Extension(string) (bool, string)    { return false, "" }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newTestMailer(client smtpClient) *smtpMailer {
	return &smtpMailer{
		cfg: SMTPSettings{
			Enabled: true,
			Host:    "smtp.example.com",
			Port:    587,
			From:    "no-reply@example.com",
		},
		dialFn: func(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error) {
			server, conn := net.Pipe()
			_ = server.Close()
			return conn, client, nil
		},
		authFn: func(smtpClient, SMTPSettings) error { return nil },
	}
}

func TestSendWritesMessage(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestMailer(client)

	err := mailer.Send(context.Background(), Message{
		To:      []string{"guest@example.com"},
		Subject: "Confirm your account",
		Body:    "hello",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if client.from != "no-reply@example.com" {
		t.Fatalf("unexpected sender %q", client.from)
	}
	if len(client.rcpts) != 1 || client.rcpts[0] != "guest@example.com" {
		t.Fatalf("unexpected recipients %v", client.rcpts)
	}
	if !strings.Contains(client.data.String(), "Subject: Confirm your account") {
		t.Fatal("expected subject header in payload")
	}
	if !client.quit {
		t.Fatal("expected client to quit cleanly")
	}
}

func TestSendDisabled(t *testing.T) {
	mailer := &smtpMailer{cfg: SMTPSettings{Enabled: false}}

	err := mailer.Send(context.Background(), Message{To: []string{"guest@example.com"}})
	if !errors.Is(err, ErrSMTPDisabled) {
		t.Fatalf("expected ErrSMTPDisabled, got %v", err)
	}
}

func TestSendRejectsInvalidRecipient(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestMailer(client)

	err := mailer.Send(context.Background(), Message{To: []string{"not-an-address"}})
	if err == nil {
		t.Fatal("expected invalid recipient to be rejected")
	}
}

func TestValidateSMTPConfig(t *testing.T) {
	if err := validateSMTPConfig(SMTPSettings{Enabled: false}); err != nil {
		t.Fatalf("disabled config should validate: %v", err)
	}
	if err := validateSMTPConfig(SMTPSettings{Enabled: true}); err == nil {
		t.Fatal("expected missing host to fail validation")
	}
}
