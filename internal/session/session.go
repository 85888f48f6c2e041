// Package session holds the per-client request state: credentials, stable
// device identifiers, the lazily-resolved acting-user id, and the
// anti-automation token generator. One Context is created per client and
// lives for the process.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	authTokenCookieName = "auth_token"
	csrfTokenCookieName = "ct0"
	cookiePairFormat    = "%s=%s"
	cookieSeparator     = "; "

	headerNameAuthorization    = "Authorization"
	headerNameCookie           = "Cookie"
	headerNameCSRFToken        = "x-csrf-token"
	headerNameUserAgent        = "User-Agent"
	headerNameAuthType         = "x-twitter-auth-type"
	headerNameActiveUser       = "x-twitter-active-user"
	headerNameClientLanguage   = "x-twitter-client-language"
	headerNameClientUUID       = "x-client-uuid"
	headerNameDeviceID         = "x-twitter-client-deviceid"
	headerNameTransactionToken = "x-client-transaction-id"

	headerValueAuthType   = "OAuth2Session"
	headerValueActiveUser = "yes"
	headerValueLanguage   = "en"
	bearerPrefix          = "Bearer "

	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// Public web-client bearer token; constant across accounts.
	defaultBearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

	userResolutionFlightKey = "acting-user-id"

	logMessageUserResolved      = "acting user id resolved"
	logMessageUserResolveFailed = "acting user id resolution failed"
	logFieldUserID              = "user_id"
)

// Credentials carries the cookie-based session material for one account.
type Credentials struct {
	AuthToken string
	CSRFToken string
	UserAgent string
}

// Config customizes a session Context.
type Config struct {
	Credentials Credentials
	BearerToken string
	Fetcher     DocumentFetcher
	Logger      *zap.Logger
}

// Context is the per-client session state. All fields are fixed at
// construction except the acting-user id and the token generator, both of
// which initialize lazily behind single-flight guards.
type Context struct {
	credentials      Credentials
	bearerToken      string
	deviceIdentifier string
	clientIdentifier string
	generator        *TokenGenerator
	logger           *zap.Logger

	flightGroup singleflight.Group
	userMutex   sync.RWMutex
	actingUser  string
}

// NewContext constructs a Context with stable random device identifiers and
// a lazily-initialized token generator.
func NewContext(configuration Config) *Context {
	credentials := configuration.Credentials
	if credentials.UserAgent == "" {
		credentials.UserAgent = defaultUserAgent
	}
	bearerToken := configuration.BearerToken
	if bearerToken == "" {
		bearerToken = defaultBearerToken
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		credentials:      credentials,
		bearerToken:      bearerToken,
		deviceIdentifier: uuid.NewString(),
		clientIdentifier: uuid.NewString(),
		generator:        NewTokenGenerator(configuration.Fetcher, logger),
		logger:           logger,
	}
}

// CookieHeader renders the session cookie pairs.
func (sessionContext *Context) CookieHeader() string {
	authPair := fmt.Sprintf(cookiePairFormat, authTokenCookieName, sessionContext.credentials.AuthToken)
	csrfPair := fmt.Sprintf(cookiePairFormat, csrfTokenCookieName, sessionContext.credentials.CSRFToken)
	return authPair + cookieSeparator + csrfPair
}

// Assemble decorates an outgoing request with every header the upstream
// requires: bearer authorization, session cookies, CSRF token, device
// identifiers, and a per-request anti-automation token derived from the
// method and path.
func (sessionContext *Context) Assemble(ctx context.Context, request *http.Request) {
	request.Header.Set(headerNameAuthorization, bearerPrefix+sessionContext.bearerToken)
	request.Header.Set(headerNameCookie, sessionContext.CookieHeader())
	request.Header.Set(headerNameCSRFToken, sessionContext.credentials.CSRFToken)
	request.Header.Set(headerNameUserAgent, sessionContext.credentials.UserAgent)
	request.Header.Set(headerNameAuthType, headerValueAuthType)
	request.Header.Set(headerNameActiveUser, headerValueActiveUser)
	request.Header.Set(headerNameClientLanguage, headerValueLanguage)
	request.Header.Set(headerNameClientUUID, sessionContext.clientIdentifier)
	request.Header.Set(headerNameDeviceID, sessionContext.deviceIdentifier)
	request.Header.Set(headerNameTransactionToken, sessionContext.generator.Generate(ctx, request.Method, request.URL.Path))
}

// ActingUserID resolves the numeric id of the authenticated user via the
// supplied resolver, caching the first success. Resolution is best-effort:
// concurrent callers share one flight, and failures return an empty string
// without blocking the operation that asked.
func (sessionContext *Context) ActingUserID(ctx context.Context, resolve func(context.Context) (string, error)) string {
	sessionContext.userMutex.RLock()
	cached := sessionContext.actingUser
	sessionContext.userMutex.RUnlock()
	if cached != "" {
		return cached
	}

	resultChannel := sessionContext.flightGroup.DoChan(userResolutionFlightKey, func() (interface{}, error) {
		resolved, resolveErr := resolve(ctx)
		if resolveErr != nil {
			return "", resolveErr
		}
		sessionContext.userMutex.Lock()
		sessionContext.actingUser = resolved
		sessionContext.userMutex.Unlock()
		return resolved, nil
	})

	select {
	case <-ctx.Done():
		return ""
	case result := <-resultChannel:
		if result.Err != nil {
			sessionContext.logger.Debug(logMessageUserResolveFailed, zap.Error(result.Err))
			return ""
		}
		resolved, _ := result.Val.(string)
		sessionContext.logger.Debug(logMessageUserResolved, zap.String(logFieldUserID, resolved))
		return resolved
	}
}
