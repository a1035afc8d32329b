package gateway

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// ErrInvalidToken is returned by VerifyAccessToken for any token that
// fails signature verification, has expired, or is not an access token.
var ErrInvalidToken = errors.New("gateway: invalid access token")

// staffClaims is the JWT payload minted for a staff socket session.
type staffClaims struct {
	UserID string          `json:"uid"`
	Role   domain.StaffRole `json:"role"`
	Type   domain.TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies staff access/refresh tokens (spec §4.6).
// Grounded on the teacher's StaticTokenAuth in spirit only — real expiring,
// signed tokens replace the teacher's static bearer-token comparison.
type TokenIssuer struct {
	secret          []byte
	issuer          string
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// NewTokenIssuer builds a TokenIssuer from the configured JWT secret.
func NewTokenIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, accessTokenTTL: accessTTL, refreshTokenTTL: refreshTTL}
}

// IssueAccessToken mints a short-lived access token for the staff socket.
func (i *TokenIssuer) IssueAccessToken(userID string, role domain.StaffRole) (string, error) {
	return i.issue(userID, role, domain.TokenAccess, i.accessTokenTTL)
}

// IssueRefreshToken mints a long-lived refresh token, never valid against
// the staff socket upgrade itself.
func (i *TokenIssuer) IssueRefreshToken(userID string, role domain.StaffRole) (string, error) {
	return i.issue(userID, role, domain.TokenRefresh, i.refreshTokenTTL)
}

func (i *TokenIssuer) issue(userID string, role domain.StaffRole, typ domain.TokenType, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := staffClaims{
		UserID: userID,
		Role:   role,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// VerifyAccessToken parses tok and rejects it unless it is a currently
// valid, correctly signed access token (spec §4.6: refresh tokens are
// rejected outright at the staff socket upgrade).
func (i *TokenIssuer) VerifyAccessToken(tok string) (userID string, role domain.StaffRole, err error) {
	parsed, err := jwt.ParseWithClaims(tok, &staffClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*staffClaims)
	if !ok || claims.Type != domain.TokenAccess {
		return "", "", ErrInvalidToken
	}
	return claims.UserID, claims.Role, nil
}
