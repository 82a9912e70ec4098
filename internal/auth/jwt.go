package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims binds a bearer token to a registered endpoint. DirectLine
// conversation tokens additionally carry the conversation they are
// scoped to.
type Claims struct {
	EndpointID     string `json:"sub"`
	ConversationID string `json:"conversation,omitempty"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{
		Secret: secret,
		Expiry: 7 * 24 * time.Hour,
		Issuer: "channel-emulator",
	}
}

func CreateEndpointToken(endpointID string, cfg TokenConfig) (string, error) {
	return createToken(endpointID, "", cfg)
}

// CreateConversationToken issues a DirectLine token scoped to a single
// conversation.
func CreateConversationToken(endpointID, conversationID string, cfg TokenConfig) (string, error) {
	if conversationID == "" {
		return "", errors.New("missing conversationID")
	}
	return createToken(endpointID, conversationID, cfg)
}

func createToken(endpointID, conversationID string, cfg TokenConfig) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	if endpointID == "" {
		return "", errors.New("missing endpointID")
	}
	if cfg.Expiry <= 0 {
		return "", errors.New("invalid expiry")
	}

	claims := Claims{
		EndpointID:     endpointID,
		ConversationID: conversationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(cfg.Expiry)),
			Subject:   endpointID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

func VerifyToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}
