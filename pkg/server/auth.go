package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Claims holds the JWT claims for an authenticated account session.
type Claims struct {
	AccountID string `json:"account_id"`
	LoginID   string `json:"login_id"`
	jwt.RegisteredClaims
}

// AuthService provides JWT-based authentication bound to account identity.
// The web transport uses it so clients can reconnect without resending
// the password.
type AuthService struct {
	game   *Game
	jwtKey []byte
	expiry time.Duration
}

// NewAuthService creates an auth service. If jwtSecret is empty, a random
// 32-byte key is generated (tokens then die with the process).
func NewAuthService(game *Game, jwtSecret string, expirySeconds int) *AuthService {
	var key []byte
	if jwtSecret != "" {
		key = []byte(jwtSecret)
	} else {
		key = make([]byte, 32)
		rand.Read(key)
	}
	expiry := 24 * time.Hour
	if expirySeconds > 0 {
		expiry = time.Duration(expirySeconds) * time.Second
	}
	return &AuthService{game: game, jwtKey: key, expiry: expiry}
}

// Login authenticates an account and returns a signed token.
func (a *AuthService) Login(login, password string) (string, error) {
	acct, _, err := a.game.Accounts.FetchAccountByLogin(login)
	if err != nil {
		return "", fmt.Errorf("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)) != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	now := time.Now()
	claims := Claims{
		AccountID: acct.ID,
		LoginID:   acct.LoginID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			Issuer:    "gaia",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtKey)
}

// ValidateToken parses and validates a token string.
func (a *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// RefreshToken reissues a valid token with a fresh expiry.
func (a *AuthService) RefreshToken(tokenStr string) (string, error) {
	claims, err := a.ValidateToken(tokenStr)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.expiry))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtKey)
}

// GenerateJWTSecret returns a random hex secret suitable for the
// jwt_secret config key.
func GenerateJWTSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
