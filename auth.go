package main

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminTokenExpiry = 12 * time.Hour
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
)

// Signature returns the login signature for name: the hex SHA1 digest of
// name followed by the server key.
func Signature(name, key string) string {
	sum := sha1.Sum([]byte(name + key))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks a client supplied login signature
func VerifySignature(name, signature, key string) bool {
	want := Signature(name, key)
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}

// AdminAuth guards the admin HTTP endpoints
type AdminAuth struct {
	user      string
	passHash  []byte
	jwtSecret []byte

	// Rate limiting for login attempts (IP -> attempts)
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAdminAuth returns nil when no admin credentials are configured, which
// disables the admin endpoints.
func NewAdminAuth(cfg *Config, db *DB) *AdminAuth {
	if cfg.AdminUser == "" || cfg.AdminPasswordHash == "" {
		return nil
	}
	return &AdminAuth{
		user:      cfg.AdminUser,
		passHash:  []byte(cfg.AdminPasswordHash),
		jwtSecret: loadOrCreateSecret(db),
		rateMap:   make(map[string]*rateEntry),
	}
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB) []byte {
	if db != nil {
		if h := db.GetSetting("jwt_secret"); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
			Log.Warnf("could not persist JWT secret: %v", err)
		}
	}
	return secret
}

// Login checks the admin credentials and returns a signed token
func (a *AdminAuth) Login(username, password, ip string) (string, error) {
	if !a.checkRate(ip) {
		return "", fmt.Errorf("%w: too many login attempts, try again later", ErrAuth)
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.user)) != 1 {
		return "", fmt.Errorf("%w: invalid username or password", ErrAuth)
	}
	if err := bcrypt.CompareHashAndPassword(a.passHash, []byte(password)); err != nil {
		return "", fmt.Errorf("%w: invalid username or password", ErrAuth)
	}
	return a.generateToken(username)
}

// ValidateToken validates a bearer token and returns the admin username
func (a *AdminAuth) ValidateToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrAuth)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub != a.user {
		return "", fmt.Errorf("%w: invalid token claims", ErrAuth)
	}
	return sub, nil
}

func (a *AdminAuth) generateToken(username string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": username,
		"exp": now.Add(adminTokenExpiry).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *AdminAuth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxLoginAttempts
}
