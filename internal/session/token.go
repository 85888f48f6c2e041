package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	transactionTokenLength = 70
	randomTokenAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	tokenSeedURL       = "https://x.com/home"
	tokenFlightKey     = "token-generator-init"
	tokenPayloadFormat = "%s!%s!%d"

	verificationMetaPattern       = `<meta\s+name="twitter-site-verification"\s+content="([^"]+)"`
	errMessageMissingVerification = "home document did not contain a verification key"
	errMessageNoFetcher           = "no document fetcher configured"

	logMessageTokenInitFailed  = "token generator initialization failed, using random tokens"
	logMessageTokenInitialized = "token generator initialized"
)

var (
	reVerificationMeta = regexp.MustCompile(verificationMetaPattern)

	errMissingVerificationKey = errors.New(errMessageMissingVerification)
	errNoDocumentFetcher      = errors.New(errMessageNoFetcher)
)

// DocumentFetcher retrieves the session document the token derivation is
// keyed on. Implementations: HTTPDocumentFetcher, ChromeDocumentFetcher.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, documentURL string) ([]byte, error)
}

// TokenGenerator derives the per-request anti-automation signature. The
// derivation key comes from a one-time fetch of the platform home document;
// until (or unless) that succeeds, Generate falls back to random tokens so
// callers are never blocked by token-generation failure.
type TokenGenerator struct {
	fetcher DocumentFetcher
	logger  *zap.Logger

	flightGroup singleflight.Group
	keyMutex    sync.RWMutex
	derivedKey  []byte
}

// NewTokenGenerator constructs a generator around the given fetcher. A nil
// fetcher is allowed; the generator then always produces random tokens.
func NewTokenGenerator(fetcher DocumentFetcher, logger *zap.Logger) *TokenGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenGenerator{fetcher: fetcher, logger: logger}
}

// EnsureInitialized performs the one-time key derivation. Concurrent callers
// await the same in-flight initialization rather than repeating it. Failure
// is remembered only as an uninitialized key; a later call retries.
func (generator *TokenGenerator) EnsureInitialized(ctx context.Context) {
	generator.keyMutex.RLock()
	initialized := generator.derivedKey != nil
	generator.keyMutex.RUnlock()
	if initialized {
		return
	}

	resultChannel := generator.flightGroup.DoChan(tokenFlightKey, func() (interface{}, error) {
		derived, deriveErr := generator.deriveKey(ctx)
		if deriveErr != nil {
			return nil, deriveErr
		}
		generator.keyMutex.Lock()
		generator.derivedKey = derived
		generator.keyMutex.Unlock()
		return nil, nil
	})

	select {
	case <-ctx.Done():
	case result := <-resultChannel:
		if result.Err != nil {
			generator.logger.Debug(logMessageTokenInitFailed, zap.Error(result.Err))
		} else {
			generator.logger.Debug(logMessageTokenInitialized)
		}
	}
}

// Generate produces a per-request signature for the method and path. On any
// failure, including an uninitialized generator, it returns a random token
// of the standard length instead of an error.
func (generator *TokenGenerator) Generate(ctx context.Context, method string, path string) string {
	generator.keyMutex.RLock()
	derivedKey := generator.derivedKey
	generator.keyMutex.RUnlock()

	if derivedKey == nil {
		generator.EnsureInitialized(ctx)
		generator.keyMutex.RLock()
		derivedKey = generator.derivedKey
		generator.keyMutex.RUnlock()
	}
	if derivedKey == nil {
		return RandomToken(transactionTokenLength)
	}

	payload := fmt.Sprintf(tokenPayloadFormat, method, path, time.Now().Unix())
	mac := hmac.New(sha256.New, derivedKey)
	mac.Write([]byte(payload))
	digest := mac.Sum(nil)

	encoded := base64.RawURLEncoding.EncodeToString(append(digest, []byte(strconv.FormatInt(time.Now().UnixNano(), 36))...))
	if len(encoded) >= transactionTokenLength {
		return encoded[:transactionTokenLength]
	}
	return encoded + RandomToken(transactionTokenLength-len(encoded))
}

func (generator *TokenGenerator) deriveKey(ctx context.Context) ([]byte, error) {
	if generator.fetcher == nil {
		return nil, errNoDocumentFetcher
	}
	document, fetchErr := generator.fetcher.FetchDocument(ctx, tokenSeedURL)
	if fetchErr != nil {
		return nil, fetchErr
	}
	match := reVerificationMeta.FindSubmatch(document)
	if len(match) < 2 {
		return nil, errMissingVerificationKey
	}
	decoded, decodeErr := base64.StdEncoding.DecodeString(string(match[1]))
	if decodeErr != nil {
		// Some client versions ship the key unencoded.
		return match[1], nil
	}
	return decoded, nil
}

// RandomToken returns a random alphanumeric token of exactly length n. It is
// also used directly for header slots that need no per-path derivation.
func RandomToken(n int) string {
	if n <= 0 {
		return ""
	}
	buffer := make([]byte, n)
	if _, readErr := rand.Read(buffer); readErr != nil {
		for index := range buffer {
			buffer[index] = randomTokenAlphabet[0]
		}
		return string(buffer)
	}
	for index, value := range buffer {
		buffer[index] = randomTokenAlphabet[int(value)%len(randomTokenAlphabet)]
	}
	return string(buffer)
}
