package csrf

import (
	"strings"
	"sync"
	"time"

	"github.com/hrkit/secgate/internal/common"
	"github.com/hrkit/secgate/params"
)

// HeaderNames lists the accepted request header variants, checked in order.
var HeaderNames = []string{"x-csrf-token", "x-xsrf-token", "csrf-token", "xsrf-token"}

type tokenInfo struct {
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Manager owns the anti-forgery token table. A session holds at most one live
// token; issuing a new one invalidates the previous. All state is process-local
// and swept periodically.
type Manager struct {
	mu       sync.Mutex
	tokens   map[string]tokenInfo // token -> binding
	sessions map[string]string    // session id -> active token
	ttl      time.Duration
	nowFn    func() time.Time
	sweeper  *common.Sweeper
}

func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = params.CSRFTokenExpiration
	}
	m := &Manager{
		tokens:   make(map[string]tokenInfo),
		sessions: make(map[string]string),
		ttl:      ttl,
		nowFn:    time.Now,
	}
	m.sweeper = common.NewSweeper(params.StateSweepInterval, m.sweepExpired)
	return m
}

// TTL returns the lifetime applied to issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Start begins the background expiry sweep.
func (m *Manager) Start() {
	m.sweeper.Start()
}

// Stop terminates the background sweep and waits for it to exit.
func (m *Manager) Stop() {
	m.sweeper.Stop()
}

// Generate issues a fresh token bound to sessionID, replacing any previous one.
func (m *Manager) Generate(sessionID string) string {
	token := common.RandomToken(params.CSRFTokenLength)
	now := m.nowFn()

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.sessions[sessionID]; ok {
		delete(m.tokens, old)
	}
	m.tokens[token] = tokenInfo{
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.sessions[sessionID] = token
	return token
}

// Validate reports whether token is the live token of sessionID. It fails
// closed on empty arguments, unknown tokens, session mismatch and expiry;
// an expired token is purged on detection.
func (m *Manager) Validate(token, sessionID string) bool {
	if token == "" || sessionID == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.tokens[token]
	if !ok || info.SessionID != sessionID {
		return false
	}
	if m.nowFn().After(info.ExpiresAt) {
		m.purgeLocked(token, info.SessionID)
		return false
	}
	return true
}

// CurrentToken returns the session's active token, purging it if expired.
func (m *Manager) CurrentToken(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	info, ok := m.tokens[token]
	if !ok || m.nowFn().After(info.ExpiresAt) {
		m.purgeLocked(token, sessionID)
		return "", false
	}
	return token, true
}

// Invalidate removes the session's token. No-op if none exists.
func (m *Manager) Invalidate(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.sessions[sessionID]; ok {
		m.purgeLocked(token, sessionID)
	}
}

// Refresh invalidates the session's current token and issues a new one.
func (m *Manager) Refresh(sessionID string) string {
	m.Invalidate(sessionID)
	return m.Generate(sessionID)
}

// VerifyHeaders reads the first present header variant and validates it
// against sessionID. A multi-valued header is treated as invalid.
func (m *Manager) VerifyHeaders(headers map[string][]string, sessionID string) bool {
	for _, name := range HeaderNames {
		values, ok := headerValues(headers, name)
		if !ok {
			continue
		}
		if len(values) != 1 {
			return false
		}
		return m.Validate(values[0], sessionID)
	}
	return false
}

func headerValues(headers map[string][]string, name string) ([]string, bool) {
	for key, values := range headers {
		if strings.EqualFold(key, name) {
			return values, true
		}
	}
	return nil, false
}

func (m *Manager) purgeLocked(token, sessionID string) {
	delete(m.tokens, token)
	if m.sessions[sessionID] == token {
		delete(m.sessions, sessionID)
	}
}

func (m *Manager) sweepExpired() {
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, info := range m.tokens {
		if !now.After(info.ExpiresAt) {
			continue
		}
		m.purgeLocked(token, info.SessionID)
	}
}
