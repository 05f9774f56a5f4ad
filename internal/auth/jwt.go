package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Quiet-Fox-Software/linkstash-back/internal/config"
)

// CookieName is the session cookie carrying the signed token.
const CookieName = "jwt"

const sessionTTL = 30 * 24 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

func NewTokenIssuer(cfg *config.Config) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(cfg.JWTSecret),
		ttl:    sessionTTL,
		secure: !cfg.IsDevelopment(),
	}
}

// Issue signs an HS256 token identifying the user for the session TTL.
func (t *TokenIssuer) Issue(userID uint64) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(userID, 10),
		"jti": uuid.New().String(),
		"iat": now.Unix(),
		"exp": now.Add(t.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Verify parses the token and resolves the subject user ID. Expired,
// malformed, and wrongly signed tokens all come back as ErrInvalidToken.
func (t *TokenIssuer) Verify(raw string) (uint64, error) {
	token, err := jwt.Parse(raw, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseUint(sub, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// SessionCookie wraps a signed token into the HTTP-only session cookie.
// The cookie is Secure everywhere except local development.
func (t *TokenIssuer) SessionCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(t.ttl / time.Second),
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ExpiredSessionCookie clears the session cookie on logout.
func (t *TokenIssuer) ExpiredSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteStrictMode,
	}
}
