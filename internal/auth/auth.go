package auth

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/crypto/hkdf"

	"github.com/motorbid/auction-engine/internal/store"
	"github.com/motorbid/auction-engine/pkg/errors"
	"github.com/motorbid/auction-engine/pkg/types"
)

const sessionCookie = "authjs.session-token"

// Cookie authenticates websocket upgrades from the Auth.js session cookie:
// the JWE is decrypted with an HKDF-derived key, re-signed as a JWT, and the
// claims resolved against the user store.
type Cookie struct {
	secret string
	store  store.Store
}

func NewCookie(secret string, st store.Store) *Cookie {
	return &Cookie{secret: secret, store: st}
}

func (c *Cookie) encryptionKey() ([]byte, error) {
	if c.secret == "" {
		return nil, errors.New(errors.ErrInternalServer, "auth secret not configured")
	}

	salt := sessionCookie
	info := fmt.Sprintf("Auth.js Generated Encryption Key (%s)", salt)

	// HKDF with SHA-256; 32 bytes for A256GCM content encryption.
	kdf := hkdf.New(sha256.New, []byte(c.secret), []byte(salt), []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}
	return key, nil
}

func (c *Cookie) jweToJwt(encryptedToken string) (string, error) {
	key, err := c.encryptionKey()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate encryption key")
	}

	// Decrypt JWE using DIRECT key encryption
	decrypted, err := jwe.Decrypt([]byte(encryptedToken),
		jwe.WithKey(jwa.DIRECT(), key))
	if err != nil {
		return "", errors.Wrap(err, "failed to decrypt JWE")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(decrypted, &payload); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal decrypted payload")
	}

	token := jwt.New()
	for k, v := range payload {
		token.Set(k, v)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), []byte(c.secret)))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign JWT")
	}

	return string(signed), nil
}

func (c *Cookie) validateToken(r *http.Request) (jwt.Token, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, errors.New(errors.ErrInvalidToken, "missing session token cookie")
	}

	jwtString, err := c.jweToJwt(cookie.Value)
	if err != nil {
		log.Error("Failed to convert JWE to JWT", "error", err)
		return nil, errors.Wrap(err, "failed to convert JWE to JWT")
	}

	token, err := jwt.Parse([]byte(jwtString),
		jwt.WithKey(jwa.HS256(), []byte(c.secret)),
		jwt.WithValidate(true))
	if err != nil {
		return nil, errors.Wrap(err, "failed to validate token")
	}

	if exp, ok := token.Expiration(); ok && exp.Before(time.Now()) {
		return nil, errors.New(errors.ErrInvalidToken, "session token expired")
	}

	return token, nil
}

// Authenticate resolves the request's session cookie to a known user.
func (c *Cookie) Authenticate(r *http.Request) (types.User, error) {
	token, err := c.validateToken(r)
	if err != nil || token == nil {
		return types.User{}, errors.Wrap(err, "invalid session token")
	}

	var email string
	if err := token.Get("email", &email); err != nil {
		return types.User{}, errors.New(errors.ErrInvalidToken, "missing email claim")
	}

	user, err := c.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		return types.User{}, errors.Wrap(err, "user not found")
	}
	return user, nil
}
