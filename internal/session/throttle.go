package session

import (
	"sync"
	"time"
)

// loginThrottle slows down repeated failed logins for the same user, so a
// misconfigured or revoked credential doesn't hammer the remote host with
// reconnect attempts on every queued job.
type loginThrottle struct {
	mu       sync.Mutex
	attempts map[string]loginState
	cleaned  time.Time
}

type loginState struct {
	last     time.Time
	failures int
}

const (
	throttleDelay  = 3 * time.Second
	throttleWindow = 60 * time.Second
	throttleBuffer = 5
)

// Wait blocks briefly if user has recently failed to authenticate
// throttleBuffer or more times, giving the remote host room to breathe
// before the next attempt.
func (tr *loginThrottle) Wait(user string) {
	now := timeNow()

	tr.mu.Lock()
	if now.Sub(tr.cleaned) > throttleWindow {
		for key, st := range tr.attempts {
			if now.Sub(st.last) > throttleDelay {
				delete(tr.attempts, key)
			}
		}
		tr.cleaned = now
	}
	st := tr.attempts[user]
	tr.mu.Unlock()

	if st.failures >= throttleBuffer && now.Sub(st.last) < throttleDelay {
		timeSleep(throttleDelay)
	}
}

// Failed records a failed login attempt for user.
func (tr *loginThrottle) Failed(user string) {
	tr.mu.Lock()
	if tr.attempts == nil {
		tr.attempts = make(map[string]loginState)
	}
	st := tr.attempts[user]
	st.last = timeNow()
	st.failures++
	tr.attempts[user] = st
	tr.mu.Unlock()
}

// Succeeded clears user's failure history after a successful login.
func (tr *loginThrottle) Succeeded(user string) {
	tr.mu.Lock()
	delete(tr.attempts, user)
	tr.mu.Unlock()
}

var timeSleep = time.Sleep
var timeNow = time.Now
