package approvals

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// GrantType distinguishes the two token kinds the manager can mint.
type GrantType string

const (
	// GrantApproval attests that a requires_approval action was signed off.
	GrantApproval GrantType = "approval"
	// GrantOverride attests that an operator overrode a blocked action.
	GrantOverride GrantType = "override"
)

// GrantClaims are the claims carried by an approval or override token.
type GrantClaims struct {
	jwt.RegisteredClaims
	Grant      GrantType `json:"grant"`
	ActionID   string    `json:"action_id"`
	ApproverID string    `json:"approver_id"`
	Role       string    `json:"role"`
}

// TokenManager mints and validates approval grant tokens. Grants are
// HMAC-signed, time-bounded, and single-use: redeeming a grant consumes
// its jti, so a sign-off cannot be replayed within its TTL.
type TokenManager struct {
	secret []byte
	clock  func() time.Time

	mu       sync.Mutex
	redeemed map[string]time.Time
}

// NewTokenManager creates a token manager keyed with the given secret.
func NewTokenManager(secret []byte) (*TokenManager, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("grant signing secret must be at least 16 bytes")
	}
	return &TokenManager{
		secret:   secret,
		clock:    time.Now,
		redeemed: make(map[string]time.Time),
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (tm *TokenManager) WithClock(clock func() time.Time) *TokenManager {
	tm.clock = clock
	return tm
}

// Issue mints a signed grant for the given action, valid for ttl.
func (tm *TokenManager) Issue(grant GrantType, actionID, approverID, role string, ttl time.Duration) (string, error) {
	now := tm.clock().UTC()
	claims := GrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   approverID,
			Issuer:    "ioa-core/approvals",
			Audience:  jwt.ClaimStrings{"ioa-core"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Grant:      grant,
		ActionID:   actionID,
		ApproverID: approverID,
		Role:       role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// Validate parses a grant token and checks its signature and expiry. The
// grant must cover the given action.
func (tm *TokenManager) Validate(tokenString, actionID string) (*GrantClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &GrantClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.clock))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*GrantClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.ActionID != actionID {
		return nil, fmt.Errorf("grant covers action %q, not %q", claims.ActionID, actionID)
	}
	return claims, nil
}

// Redeem validates a grant and consumes it. A second redemption of the same
// grant fails even while the token is otherwise still valid.
func (tm *TokenManager) Redeem(tokenString, actionID string) (*GrantClaims, error) {
	claims, err := tm.Validate(tokenString, actionID)
	if err != nil {
		return nil, err
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := tm.clock().UTC()
	for jti, expiry := range tm.redeemed {
		if expiry.Before(now) {
			delete(tm.redeemed, jti)
		}
	}
	if _, used := tm.redeemed[claims.ID]; used {
		return nil, fmt.Errorf("grant %s already redeemed", claims.ID)
	}
	tm.redeemed[claims.ID] = claims.ExpiresAt.Time
	return claims, nil
}
