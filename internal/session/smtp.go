// Submission path (§6 "added"): a one-shot, unpooled SMTP-AUTH send. Unlike
// the IMAP side, a compose action doesn't reuse a long-lived connection —
// each send dials, authenticates, delivers, and closes, the shape a generic
// third-party SMTP-AUTH submission host expects. Grounded on the teacher's
// spilldb/deliverer in spirit (the session package owns the outbound SMTP
// call so callers never touch net/smtp directly), but not its persistent
// smtpclient.Client: that client relays to recipient MX hosts with no AUTH
// step, which a submission host requires, so this wraps net/smtp.Client
// directly, authenticated via go-sasl (the pack's own SASL library,
// surfaced in themadorg-madmail's IMAP AUTH plumbing).
package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/smtp"

	"github.com/emersion/go-sasl"

	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
	"github.com/highkick05/mailboy-sub000/internal/model"
)

// saslAuth adapts a go-sasl Client to the stdlib's smtp.Auth interface; the
// two are shaped alike (Start/Next) but aren't the same type.
type saslAuth struct {
	client sasl.Client
}

func (a *saslAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return a.client.Start()
}

func (a *saslAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.client.Next(fromServer)
}

// Submit delivers raw (a fully composed RFC 5322 message) from `from` to
// every address in `to`, authenticating with cfg's SMTP credentials
// (§4.9's send mutation, §6's POST /mail/send).
func Submit(ctx context.Context, cfg model.UserConfig, from string, to []string, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := dialAddr(cfg.SMTPHost, cfg.SMTPPort)

	var c *smtp.Client
	if cfg.SMTPPort == 465 || cfg.UseTLS {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: cfg.SMTPHost})
		if err != nil {
			return fmt.Errorf("%w: smtp dial %s: %v", bridgeerr.ErrRemoteTransient, addr, err)
		}
		c, err = smtp.NewClient(conn, cfg.SMTPHost)
		if err != nil {
			conn.Close()
			return fmt.Errorf("%w: smtp handshake %s: %v", bridgeerr.ErrRemoteTransient, addr, err)
		}
	} else {
		var err error
		c, err = smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("%w: smtp dial %s: %v", bridgeerr.ErrRemoteTransient, addr, err)
		}
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: cfg.SMTPHost}); err != nil {
				c.Close()
				return fmt.Errorf("%w: smtp starttls %s: %v", bridgeerr.ErrRemoteTransient, addr, err)
			}
		}
	}
	defer c.Close()

	if ok, _ := c.Extension("AUTH"); ok {
		auth := &saslAuth{client: sasl.NewPlainClient("", cfg.User, cfg.Pass)}
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("%w: smtp auth: %v", bridgeerr.ErrAuthRequired, err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("%w: smtp mail from: %v", bridgeerr.ErrRemoteTransient, err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("%w: smtp rcpt to %s: %v", bridgeerr.ErrRemoteTransient, rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("%w: smtp data: %v", bridgeerr.ErrRemoteTransient, err)
	}
	if _, err := io.Copy(w, bytes.NewReader(raw)); err != nil {
		w.Close()
		return fmt.Errorf("%w: smtp data write: %v", bridgeerr.ErrRemoteTransient, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: smtp data close: %v", bridgeerr.ErrRemoteTransient, err)
	}
	return c.Quit()
}
