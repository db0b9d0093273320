package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
)

var errInvalidToken = errors.New("invalid token")

// JWTManager signs access and refresh tokens with separate HMAC secrets.
type JWTManager struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	// Clock validates expiry; it should be the clock that issues tokens.
	Clock port.Clock
}

func NewJWTManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, issuer string) *JWTManager {
	return &JWTManager{
		AccessSecret:  []byte(accessSecret),
		RefreshSecret: []byte(refreshSecret),
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		Issuer:        issuer,
		Clock:         port.SystemClock{},
	}
}

type Claims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	Role      string `json:"role,omitempty"`
	SchoolID  string `json:"school,omitempty"`
	Kind      string `json:"typ"`
	jwt.RegisteredClaims
}

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

func (m *JWTManager) IssueAccess(userID, sessionID, role, schoolID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.AccessTTL)
	return m.sign(&Claims{
		UserID:           userID,
		SessionID:        sessionID,
		Role:             role,
		SchoolID:         schoolID,
		Kind:             kindAccess,
		RegisteredClaims: m.registered(userID, now, exp),
	}, m.AccessSecret, exp)
}

// IssueRefresh carries a fresh jti so that two refresh tokens minted in the
// same second still differ.
func (m *JWTManager) IssueRefresh(userID, sessionID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.RefreshTTL)
	return m.sign(&Claims{
		UserID:           userID,
		SessionID:        sessionID,
		Kind:             kindRefresh,
		RegisteredClaims: m.registered(userID, now, exp),
	}, m.RefreshSecret, exp)
}

func (m *JWTManager) ParseAccess(token string) (port.AccessClaims, error) {
	c, err := m.parse(token, m.AccessSecret, kindAccess)
	if err != nil {
		return port.AccessClaims{}, err
	}
	return port.AccessClaims{
		UserID:    c.UserID,
		SessionID: c.SessionID,
		Role:      c.Role,
		SchoolID:  c.SchoolID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

func (m *JWTManager) ParseRefresh(token string) (port.RefreshClaims, error) {
	c, err := m.parse(token, m.RefreshSecret, kindRefresh)
	if err != nil {
		return port.RefreshClaims{}, err
	}
	return port.RefreshClaims{UserID: c.UserID, SessionID: c.SessionID, ExpiresAt: c.ExpiresAt.Time}, nil
}

func (m *JWTManager) registered(subject string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    m.Issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
	}
}

func (m *JWTManager) sign(claims *Claims, secret []byte, exp time.Time) (string, time.Time, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := t.SignedString(secret)
	return s, exp, err
}

func (m *JWTManager) parse(tokenStr string, secret []byte, kind string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(m.Clock.Now))
	if err != nil {
		return nil, err
	}
	if !tkn.Valid || claims.Kind != kind || claims.UserID == "" || claims.SessionID == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

var _ port.TokenIssuer = (*JWTManager)(nil)
