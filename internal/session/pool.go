// Package session implements the Remote Session Pool (§4.3): at most one
// live authenticated connection per user, reused by every worker acting on
// that user's behalf, with folder-lock discipline and a process-wide
// overload backoff.
//
// Grounded on spilldb/boxmgmt.BoxMgmt's per-user map+mutex,
// lazy-open-or-reuse shape, generalized from a local sqlite handle to a
// remote IMAP connection. The wire protocol itself comes from the pack's
// github.com/emersion/go-imap client subpackage (sourced from
// themadorg-madmail's go.mod), used here in client mode rather than the
// teacher's own server-side imap package. Repeated-login backoff
// (throttle.go) is adapted from util/throttle.Throttle, retargeted from
// that package's per-address abuse tracking to per-user failed-login
// tracking ahead of a reconnect attempt.
package session

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/highkick05/mailboy-sub000/internal/bridgeerr"
	"github.com/highkick05/mailboy-sub000/internal/model"
)

// pingInterval is the idle threshold past which a session must receive a
// no-op ping to stay usable (§4.3).
const pingInterval = 25 * time.Second

// backoffDuration is how long the process-wide cooldown lasts after a
// RemoteOverloaded signal (§4.3, §5).
const backoffDuration = 30 * time.Second

// ConnectTimeout bounds a single remote connect attempt (§5).
const ConnectTimeout = 60 * time.Second

// Pool owns at most one live IMAP session per user plus the process-wide
// overload backoff deadline shared by every user's workers.
type Pool struct {
	mu       sync.Mutex
	sessions map[string]*Session

	// backoffUntil is the process-wide overload deadline, guarded by
	// backoffMu.
	backoffMu    sync.RWMutex
	backoffUntil time.Time

	logins loginThrottle
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{sessions: make(map[string]*Session)}
}

// InBackoff reports whether the process-wide overload backoff is active.
// While true, callers must report COOLDOWN and make no connection attempts.
func (p *Pool) InBackoff() bool {
	p.backoffMu.RLock()
	defer p.backoffMu.RUnlock()
	return time.Now().Before(p.backoffUntil)
}

// BackoffDeadline returns the current backoff deadline (zero if none active).
func (p *Pool) BackoffDeadline() time.Time {
	p.backoffMu.RLock()
	defer p.backoffMu.RUnlock()
	return p.backoffUntil
}

// TriggerBackoff enters the global backoff state for backoffDuration,
// called when the remote reports "too many simultaneous connections".
func (p *Pool) TriggerBackoff() {
	p.backoffMu.Lock()
	defer p.backoffMu.Unlock()
	deadline := time.Now().Add(backoffDuration)
	if deadline.After(p.backoffUntil) {
		p.backoffUntil = deadline
	}
}

// Session is one user's durable authenticated IMAP connection, guarded so
// only the worker holding the folder lock may issue commands.
type Session struct {
	mu         sync.Mutex
	user       string
	cfg        model.UserConfig
	client     *imapclient.Client
	openFolder string
	lastUsed   time.Time
}

// Get returns the live session for user, connecting (or reconnecting) if
// necessary. It never returns a session while the pool is in backoff.
func (p *Pool) Get(user string, cfg model.UserConfig) (*Session, error) {
	if p.InBackoff() {
		return nil, bridgeerr.ErrRemoteOverloaded
	}

	p.mu.Lock()
	s, ok := p.sessions[user]
	if !ok {
		s = &Session{user: user, cfg: cfg}
		p.sessions[user] = s
	}
	p.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.client == nil {
		p.logins.Wait(user)
		if err := s.connectLocked(); err != nil {
			if errors.Is(err, bridgeerr.ErrAuthRequired) {
				p.logins.Failed(user)
			}
			if errors.Is(err, bridgeerr.ErrRemoteOverloaded) {
				p.TriggerBackoff()
			}
			return nil, err
		}
		p.logins.Succeeded(user)
	}
	return s, nil
}

// Drop closes and forgets the session for user, forcing the next Get to
// reconnect. Called on transport errors (§7 RemoteTransient).
func (p *Pool) Drop(user string) {
	p.mu.Lock()
	s, ok := p.sessions[user]
	delete(p.sessions, user)
	p.mu.Unlock()
	if ok {
		s.mu.Lock()
		s.closeLocked()
		s.mu.Unlock()
	}
}

// CloseAll tears down every live session, used on system-wide reset (§5).
func (p *Pool) CloseAll() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()
	for _, s := range sessions {
		s.mu.Lock()
		s.closeLocked()
		s.mu.Unlock()
	}
}

func dialAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// connectLocked dials and authenticates, choosing implicit TLS for port 993
// or when UseTLS is set, and otherwise a plain dial upgraded with STARTTLS
// when the server offers it (§4.3). Caller must hold s.mu.
func (s *Session) connectLocked() error {
	addr := dialAddr(s.cfg.IMAPHost, s.cfg.IMAPPort)

	var c *imapclient.Client
	var err error
	if s.cfg.IMAPPort == 993 || s.cfg.UseTLS {
		c, err = imapclient.DialTLS(addr, &tls.Config{ServerName: s.cfg.IMAPHost})
	} else {
		c, err = imapclient.Dial(addr)
		if err == nil {
			if ok, _ := c.SupportStartTLS(); ok {
				err = c.StartTLS(&tls.Config{ServerName: s.cfg.IMAPHost})
			}
		}
	}
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", bridgeerr.ErrRemoteTransient, addr, err)
	}

	if err := c.Login(s.cfg.User, s.cfg.Pass); err != nil {
		if isOverloadError(err) {
			return bridgeerr.ErrRemoteOverloaded
		}
		c.Logout()
		return fmt.Errorf("%w: login: %v", bridgeerr.ErrAuthRequired, err)
	}

	s.client = c
	s.openFolder = ""
	s.lastUsed = time.Now()
	return nil
}

func (s *Session) closeLocked() {
	if s.client != nil {
		s.client.Logout()
		s.client = nil
		s.openFolder = ""
	}
}

// isOverloadError reports whether err looks like the remote's "too many
// simultaneous connections" class of response (§4.3, §7 RemoteOverloaded).
func isOverloadError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"too many", "simultaneous", "connection limit", "maximum number of connections"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// WithFolder acquires the session's lock, closes any currently-open folder
// that isn't name, selects name, invokes fn, and returns fn's error. It
// never leaves the lock held past return, satisfying §5's "release on
// failure paths" requirement and Design Notes' withFolder(name, fn) shape.
func (s *Session) WithFolder(name string, readOnly bool, fn func(c *imapclient.Client, mbox *imap.MailboxStatus) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		if err := s.connectLocked(); err != nil {
			return err
		}
	}

	var mbox *imap.MailboxStatus
	var err error
	if s.openFolder != name {
		mbox, err = s.client.Select(name, readOnly)
		if err != nil {
			s.closeLocked()
			return fmt.Errorf("%w: select %s: %v", bridgeerr.ErrRemoteTransient, name, err)
		}
		s.openFolder = name
	} else {
		mbox = s.client.Mailbox()
	}
	s.lastUsed = time.Now()

	if err := fn(s.client, mbox); err != nil {
		return err
	}
	return nil
}

// Ping issues a no-op to keep the session usable if it has been idle past
// pingInterval (§4.3, §4.6).
func (s *Session) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	if time.Since(s.lastUsed) < pingInterval {
		return nil
	}
	if err := s.client.Noop(); err != nil {
		s.closeLocked()
		return fmt.Errorf("%w: noop: %v", bridgeerr.ErrRemoteTransient, err)
	}
	s.lastUsed = time.Now()
	return nil
}
