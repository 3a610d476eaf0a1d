package rtctoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/campusmatch/call-server-go/internal/model"
)

// Minter issues short-lived media credentials bound to a single channel.
// The signing secret is server-held; a credential is unforgeable without it
// and the media provider rejects it once the expiry passes or the channel
// does not match.
type Minter struct {
	appID  string
	secret []byte
	ttl    time.Duration
}

func NewMinter(appID string, secret string, ttl time.Duration) (*Minter, error) {
	if appID == "" {
		return nil, errors.New("RTC_APP_ID is required")
	}
	if secret == "" {
		return nil, errors.New("RTC_TOKEN_SECRET is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}

	return &Minter{
		appID:  appID,
		secret: []byte(secret),
		ttl:    ttl,
	}, nil
}

func (m *Minter) AppID() string {
	return m.appID
}

type Claims struct {
	jwt.RegisteredClaims
	AppID   string          `json:"app_id"`
	Channel string          `json:"channel"`
	UID     string          `json:"uid"`
	Role    model.TokenRole `json:"role"`
}

// Mint signs a credential for (channelName, uid, role) expiring after the
// configured TTL.
func (m *Minter) Mint(now time.Time, channelName, uid string, role model.TokenRole) (string, error) {
	if channelName == "" {
		return "", errors.New("channel name is required")
	}
	if uid == "" {
		return "", errors.New("uid is required")
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		AppID:   m.appID,
		Channel: channelName,
		UID:     uid,
		Role:    role,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

// Verify parses and validates a credential against the given channel. It
// mirrors what the media provider does on join and exists for tests and
// diagnostic tooling.
func (m *Minter) Verify(tokenString, channelName string, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	if claims.AppID != m.appID {
		return Claims{}, errors.New("app_id mismatch")
	}
	if claims.Channel != channelName {
		return Claims{}, errors.New("channel mismatch")
	}
	if claims.UID == "" {
		return Claims{}, errors.New("uid missing")
	}

	return claims, nil
}
