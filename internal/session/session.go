package session

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"

	"github.com/mariia-hub/apiguard/internal/core"
)

// State is the lifecycle state of a session. Expired and Revoked are
// terminal.
type State int

const (
	StateActive State = iota
	StateFlaggedSuspicious
	StateExpired
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFlaggedSuspicious:
		return "flagged_suspicious"
	case StateExpired:
		return "expired"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Descriptor is the stored baseline for one session. The IP/UA/country
// captured at issuance are the reference points for drift checks.
type Descriptor struct {
	SessionID    string
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	IP           string
	UserAgent    string
	Country      string
	CSRFToken    string
	UsageCount   int
	SingleUse    bool
	State        State
}

// Result is the outcome of a session validation.
type Result struct {
	Valid      bool     `json:"valid"`
	Suspicious bool     `json:"suspicious"`
	// ForceReauth is set when a soft check is severe enough (impossible
	// travel) that the caller should demand fresh credentials.
	ForceReauth bool     `json:"force_reauth"`
	Issues      []string `json:"issues,omitempty"`
}

// Issue strings returned by Validate.
const (
	IssueUnknownSession   = "unknown_session"
	IssueExpired          = "expired"
	IssueInactiveTooLong  = "inactive_too_long"
	IssueRevoked          = "revoked"
	IssueIPChanged        = "ip_changed"
	IssueUAChanged        = "user_agent_changed"
	IssueImpossibleTravel = "impossible_travel"
	IssueSingleUseReplay  = "single_use_replay"
	IssueUsageExceeded    = "usage_exceeded"
)

// Checker is the session registry plus integrity checker. Sessions are held
// in a bounded LRU keyed by session ID.
type Checker struct {
	logger   zerolog.Logger
	cfg      core.SessionConfig
	mu       sync.Mutex
	sessions *lru.Cache[string, *Descriptor]
	byUser   map[string]map[string]struct{}
	now      func() time.Time
}

// NewChecker creates a session Checker from configuration.
func NewChecker(cfg core.SessionConfig, logger zerolog.Logger) (*Checker, error) {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = 5
	}
	if cfg.MaxTravelSpeedKmh <= 0 {
		cfg.MaxTravelSpeedKmh = 900
	}
	if cfg.MaxTrackedSessions <= 0 {
		cfg.MaxTrackedSessions = 100000
	}
	c := &Checker{
		logger: logger.With().Str("component", "session_checker").Logger(),
		cfg:    cfg,
		byUser: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
	sessions, err := lru.NewWithEvict[string, *Descriptor](cfg.MaxTrackedSessions, func(id string, d *Descriptor) {
		c.forgetUserSession(d.UserID, id)
	})
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}
	c.sessions = sessions
	return c, nil
}

// Establish mints a new session for a user. Any externally supplied
// identifier is rejected and replaced, which defeats fixation: the caller
// passes suppliedID only so the rejection can be reported.
func (c *Checker) Establish(userID, ip, userAgent, country string, singleUse bool, suppliedID string) (*Descriptor, bool) {
	fixation := suppliedID != ""

	now := c.now()
	d := &Descriptor{
		SessionID:    uuid.New().String(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(c.cfg.MaxAge),
		IP:           ip,
		UserAgent:    userAgent,
		Country:      country,
		CSRFToken:    uuid.New().String(),
		SingleUse:    singleUse,
		State:        StateActive,
	}

	c.mu.Lock()
	c.sessions.Add(d.SessionID, d)
	if c.byUser[userID] == nil {
		c.byUser[userID] = make(map[string]struct{})
	}
	c.byUser[userID][d.SessionID] = struct{}{}
	c.enforceConcurrencyCap(userID)
	c.mu.Unlock()

	if fixation {
		c.logger.Warn().Str("user", userID).Str("ip", ip).
			Msg("externally supplied session identifier rejected")
	}
	return d, fixation
}

// AcceptableIdentifier reports whether an identifier could ever be accepted
// as a session ID. Predictable values (framework defaults, short or purely
// sequential strings) and traversal characters are rejected outright.
func AcceptableIdentifier(id string) bool {
	if len(id) < 16 {
		return false
	}
	if strings.ContainsAny(id, "./\\%\x00") {
		return false
	}
	lower := strings.ToLower(id)
	for _, prefix := range []string{"phpsessid", "jsessionid", "asp.net_sessionid", "session", "sid"} {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	if allDigitsRe.MatchString(id) {
		return false
	}
	return true
}

var allDigitsRe = regexp.MustCompile(`^[0-9]+$`)

// enforceConcurrencyCap terminates the oldest sessions of a user above the
// configured maximum. Caller holds c.mu.
func (c *Checker) enforceConcurrencyCap(userID string) {
	ids := c.byUser[userID]
	for len(ids) > c.cfg.MaxPerUser {
		var oldestID string
		var oldest time.Time
		for id := range ids {
			d, ok := c.sessions.Peek(id)
			if !ok {
				delete(ids, id)
				continue
			}
			if oldestID == "" || d.CreatedAt.Before(oldest) {
				oldestID = id
				oldest = d.CreatedAt
			}
		}
		if oldestID == "" {
			return
		}
		if d, ok := c.sessions.Peek(oldestID); ok {
			d.State = StateRevoked
		}
		delete(ids, oldestID)
		c.logger.Info().Str("user", userID).Str("session", oldestID).
			Msg("oldest session terminated by concurrency cap")
	}
}

// Destroy revokes a session. Returns false when the ID is unknown.
func (c *Checker) Destroy(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.sessions.Peek(sessionID)
	if !ok {
		return false
	}
	d.State = StateRevoked
	c.forgetUserSession(d.UserID, sessionID)
	return true
}

func (c *Checker) forgetUserSession(userID, sessionID string) {
	if ids := c.byUser[userID]; ids != nil {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(c.byUser, userID)
		}
	}
}

// Get returns a copy of the stored descriptor.
func (c *Checker) Get(sessionID string) (Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.sessions.Peek(sessionID)
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// ActiveCount returns the number of live sessions for a user.
func (c *Checker) ActiveCount(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id := range c.byUser[userID] {
		if d, ok := c.sessions.Peek(id); ok && d.State != StateRevoked && d.State != StateExpired {
			n++
		}
	}
	return n
}

// ValidateCSRF compares a presented CSRF token against the session-bound
// value in constant time.
func (c *Checker) ValidateCSRF(sessionID, token string) bool {
	c.mu.Lock()
	d, ok := c.sessions.Peek(sessionID)
	c.mu.Unlock()
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(d.CSRFToken), []byte(token)) == 1
}

// TokenFingerprint returns a SHA3-256 digest of a token, so audit events can
// reference sessions without carrying usable credentials.
func TokenFingerprint(token string) string {
	sum := sha3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Reset drops all sessions.
func (c *Checker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions.Purge()
	c.byUser = make(map[string]map[string]struct{})
}

// Count returns the number of tracked sessions.
func (c *Checker) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.Len()
}
