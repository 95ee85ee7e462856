package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dgnsrekt/symphony-datafeed/internal/api"
)

const jwtLifetime = 5 * time.Minute

// Authenticator performs one authentication round trip per call. Retries
// belong to the Session.
type Authenticator interface {
	AuthenticateSession(ctx context.Context) (string, error)
	AuthenticateKeyManager(ctx context.Context) (string, error)
}

// AppAuthenticator authenticates an extension app and exchanges its token
// for a session scoped to a user (OBO).
type AppAuthenticator interface {
	AuthenticateApp(ctx context.Context) (string, error)
	AuthenticateUserByID(ctx context.Context, appToken string, userID int64) (string, error)
	AuthenticateUserByUsername(ctx context.Context, appToken, username string) (string, error)
}

type tokenRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// RSAAuthenticator signs a short-lived RS256 JWT with the bot (or app)
// private key and exchanges it for platform tokens.
type RSAAuthenticator struct {
	subject     string
	key         *rsa.PrivateKey
	sessionAuth api.Doer
	keyManager  api.Doer
	now         func() time.Time
}

// NewRSAAuthenticator builds a bot authenticator. subject is the bot
// username, or the app id for an OBO app authenticator. keyManager may be
// nil when only app/OBO calls are made.
func NewRSAAuthenticator(subject string, privateKeyPEM []byte, sessionAuth, keyManager api.Doer) (*RSAAuthenticator, error) {
	if subject == "" {
		return nil, errors.New("rsa authenticator: subject is required")
	}
	if sessionAuth == nil {
		return nil, errors.New("rsa authenticator: session auth client is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("rsa authenticator: parsing private key: %w", err)
	}
	return &RSAAuthenticator{
		subject:     subject,
		key:         key,
		sessionAuth: sessionAuth,
		keyManager:  keyManager,
		now:         time.Now,
	}, nil
}

// SignJWT returns the assertion sent to the authenticate endpoints.
func (a *RSAAuthenticator) SignJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   a.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

func (a *RSAAuthenticator) AuthenticateSession(ctx context.Context) (string, error) {
	return a.exchange(ctx, a.sessionAuth, "/login/pubkey/authenticate", "session authentication")
}

func (a *RSAAuthenticator) AuthenticateKeyManager(ctx context.Context) (string, error) {
	if a.keyManager == nil {
		return "", errors.New("key manager authentication: no key manager client configured")
	}
	return a.exchange(ctx, a.keyManager, "/relay/pubkey/authenticate", "key manager authentication")
}

func (a *RSAAuthenticator) AuthenticateApp(ctx context.Context) (string, error) {
	return a.exchange(ctx, a.sessionAuth, "/login/pubkey/app/authenticate", "app authentication")
}

func (a *RSAAuthenticator) AuthenticateUserByID(ctx context.Context, appToken string, userID int64) (string, error) {
	path := "/login/pubkey/app/user/" + strconv.FormatInt(userID, 10) + "/authenticate"
	return postForToken(ctx, a.sessionAuth, path, http.Header{"sessionToken": {appToken}}, nil, "obo user authentication")
}

func (a *RSAAuthenticator) AuthenticateUserByUsername(ctx context.Context, appToken, username string) (string, error) {
	path := "/login/pubkey/app/username/" + url.PathEscape(username) + "/authenticate"
	return postForToken(ctx, a.sessionAuth, path, http.Header{"sessionToken": {appToken}}, nil, "obo user authentication")
}

func (a *RSAAuthenticator) exchange(ctx context.Context, client api.Doer, path, op string) (string, error) {
	assertion, err := a.SignJWT()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return postForToken(ctx, client, path, nil, tokenRequest{Token: assertion}, op)
}

// CertificateAuthenticator authenticates over mutual TLS. The clients it
// is given must carry the bot certificate in their TLS config.
type CertificateAuthenticator struct {
	sessionAuth api.Doer
	keyManager  api.Doer
}

func NewCertificateAuthenticator(sessionAuth, keyManager api.Doer) (*CertificateAuthenticator, error) {
	if sessionAuth == nil || keyManager == nil {
		return nil, errors.New("certificate authenticator: session auth and key manager clients are required")
	}
	return &CertificateAuthenticator{sessionAuth: sessionAuth, keyManager: keyManager}, nil
}

func (a *CertificateAuthenticator) AuthenticateSession(ctx context.Context) (string, error) {
	return postForToken(ctx, a.sessionAuth, "/sessionauth/v1/authenticate", nil, nil, "session authentication")
}

func (a *CertificateAuthenticator) AuthenticateKeyManager(ctx context.Context) (string, error) {
	return postForToken(ctx, a.keyManager, "/keyauth/v1/authenticate", nil, nil, "key manager authentication")
}

func postForToken(ctx context.Context, client api.Doer, path string, header http.Header, body any, op string) (string, error) {
	req := api.Request{Method: http.MethodPost, Path: path, Header: header}
	if body != nil {
		req.JSON = body
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		return "", classify(op, err)
	}

	var out tokenResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("%s: %w: empty token in response", op, ErrAuthInvalid)
	}
	return out.Token, nil
}
