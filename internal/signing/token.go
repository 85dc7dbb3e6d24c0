package signing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role int

const (
	RoleParticipant Role = 0
	RoleHost        Role = 1
)

const (
	tokenVersion  = 1
	clockSkew     = 30 * time.Second
	maxTopicBytes = 200
)

var (
	ErrEmptyTopic   = errors.New("signing: session name is required")
	ErrTopicTooLong = errors.New("signing: session name exceeds 200 bytes")
	ErrInvalidRole  = errors.New("signing: role must be 0 or 1")
)

// SessionClaims is the Video SDK join token payload.
type SessionClaims struct {
	AppKey   string `json:"app_key"`
	Topic    string `json:"tpc"`
	RoleType Role   `json:"role_type"`
	Version  int    `json:"version"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	key    string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(key, secret string, ttl time.Duration) (*TokenIssuer, error) {
	if key == "" || secret == "" {
		return nil, ErrMissingCredentials
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &TokenIssuer{key: key, secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs an HS256 join token for the named session.
func (i *TokenIssuer) Issue(topic string, role Role) (string, time.Time, error) {
	if topic == "" {
		return "", time.Time{}, ErrEmptyTopic
	}
	if len(topic) > maxTopicBytes {
		return "", time.Time{}, ErrTopicTooLong
	}
	if role != RoleParticipant && role != RoleHost {
		return "", time.Time{}, ErrInvalidRole
	}

	issuedAt := i.now().Add(-clockSkew).Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)

	claims := SessionClaims{
		AppKey:   i.key,
		Topic:    topic,
		RoleType: role,
		Version:  tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Parse verifies a token issued by this issuer.
func (i *TokenIssuer) Parse(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
