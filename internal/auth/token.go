package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret             []byte
	issuer             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	now                func() time.Time
}

func NewTokenManager(secret, issuer string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		issuer:             issuer,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		now:                time.Now,
	}
}

// IssuePair mints an access and a refresh token for user.
func (tm *TokenManager) IssuePair(user *models.User) (*models.TokenPair, error) {
	access, err := tm.generate(user, models.TokenTypeAccess, tm.accessTokenExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := tm.generate(user, models.TokenTypeRefresh, tm.refreshTokenExpiry)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(tm.accessTokenExpiry.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

func (tm *TokenManager) generate(user *models.User, tokenType string, ttl time.Duration) (string, error) {
	now := tm.now()

	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return signed, nil
}

// ValidateToken verifies signature, expiry and issuer and returns claims
// with a known role.
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithIssuer(tm.issuer),
		jwt.WithTimeFunc(tm.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, models.ErrInvalidToken
	}

	if claims.Type != models.TokenTypeAccess && claims.Type != models.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", models.ErrInvalidToken, claims.Type)
	}

	role, err := models.ParseRole(string(claims.Role))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}
	claims.Role = role

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing expiry", models.ErrInvalidToken)
	}

	return claims, nil
}
