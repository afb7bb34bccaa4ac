/*
Package pow implements the proof-of-work gate in front of account registration.

A client fetches a nonce, searches for a counter such that sha256(nonce+counter) starts with
`difficulty` hex zeros, and trades the solution for a short-lived proof token that the
register endpoint accepts once.
*/
package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// TokenHeaderKey carries the proof token on the gated request.
	TokenHeaderKey = "X-PoW-Token"

	// ProofTokenDuration is the lifetime of a proof token.
	ProofTokenDuration = 30 * time.Second

	// NonceExpiryDuration is the lifetime of an unanswered challenge.
	NonceExpiryDuration = 5 * time.Minute
)

var (
	ErrNonceInvalid  = errors.New("nonce expired or invalid")
	ErrProofTooWeak  = errors.New("proof does not meet difficulty requirement")
	ErrNonceConsumed = errors.New("nonce consumed by concurrent request")
)

// Manager issues challenges and proof tokens. A Manager with difficulty 0 is disabled:
// Enabled reports false and the register endpoint skips the gate.
type Manager struct {
	difficulty int

	mu     sync.Mutex
	nonces map[string]time.Time
	tokens map[string]time.Time

	now func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a Manager and starts its expiry sweeper.
func NewManager(difficulty int) *Manager {
	m := &Manager{
		difficulty: difficulty,
		nonces:     make(map[string]time.Time),
		tokens:     make(map[string]time.Time),
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go m.sweepLoop()

	return m
}

// Enabled reports whether registration requires a proof token.
func (m *Manager) Enabled() bool {
	return m != nil && m.difficulty > 0
}

// Difficulty returns the required number of leading hex zeros.
func (m *Manager) Difficulty() int {
	return m.difficulty
}

// Challenge returns a fresh nonce.
func (m *Manager) Challenge() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	nonce := uuid.NewString()
	m.nonces[nonce] = m.now().Add(NonceExpiryDuration)
	return nonce
}

// Verify checks a solution and returns a proof token. Each nonce verifies at most once.
func (m *Manager) Verify(nonce, counter string) (string, error) {
	if !Satisfies(nonce, counter, m.difficulty) {
		return "", ErrProofTooWeak
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.nonces[nonce]
	if !ok {
		return "", ErrNonceConsumed
	}
	delete(m.nonces, nonce)

	if m.now().After(expiry) {
		return "", ErrNonceInvalid
	}

	token := uuid.NewString()
	m.tokens[token] = m.now().Add(ProofTokenDuration)
	return token, nil
}

// Redeem consumes the proof token carried by r (header or pow_token query parameter).
func (m *Manager) Redeem(r *http.Request) bool {
	token := r.Header.Get(TokenHeaderKey)
	if token == "" {
		token = r.URL.Query().Get("pow_token")
	}
	if token == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.tokens[token]
	if !ok {
		return false
	}
	delete(m.tokens, token)

	return !m.now().After(expiry)
}

// Stop terminates the sweeper goroutine.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for nonce, expiry := range m.nonces {
		if now.After(expiry) {
			delete(m.nonces, nonce)
		}
	}
	for token, expiry := range m.tokens {
		if now.After(expiry) {
			delete(m.tokens, token)
		}
	}
}

// Satisfies reports whether sha256(nonce+counter) has difficulty leading hex zeros.
func Satisfies(nonce, counter string, difficulty int) bool {
	hash := sha256.Sum256([]byte(nonce + counter))
	return strings.HasPrefix(hex.EncodeToString(hash[:]), strings.Repeat("0", difficulty))
}

// Solve brute-forces a counter for nonce. Used by the terminal client and tests.
func Solve(nonce string, difficulty int) string {
	for i := 0; ; i++ {
		counter := strconv.Itoa(i)
		if Satisfies(nonce, counter, difficulty) {
			return counter
		}
	}
}
