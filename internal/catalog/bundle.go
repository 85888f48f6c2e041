package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHomeURL          = "https://x.com/home"
	defaultBundleTimeout    = 20 * time.Second
	maxBundleBytes          = 8 * 1024 * 1024
	maxHomeDocumentBytes    = 2 * 1024 * 1024
	maxBundleURLsPerRefresh = 4

	bundleURLPattern      = `https://abs\.twimg\.com/responsive-web/client-web[^"']*/main\.[0-9a-f]+\.js`
	queryBindingPattern   = `queryId:"([A-Za-z0-9_-]+)"[^}]*?operationName:"([A-Za-z0-9_]+)"`
	errMessageEmptyBundle = "no script bundles referenced by home document"

	logMessageBundleFetch = "fetching identifier bundle"
	logFieldBundleURL     = "url"
)

var (
	reBundleURL    = regexp.MustCompile(bundleURLPattern)
	reQueryBinding = regexp.MustCompile(queryBindingPattern)

	errNoBundles = errors.New(errMessageEmptyBundle)
)

// BundleDiscoverer discovers current query identifiers by fetching the
// platform's home document, locating its client-web script bundles, and
// scanning them for queryId/operationName bindings.
type BundleDiscoverer struct {
	client  *http.Client
	homeURL string
	logger  *zap.Logger
}

// BundleConfig customizes a BundleDiscoverer.
type BundleConfig struct {
	Client  *http.Client
	HomeURL string
	Logger  *zap.Logger
}

// NewBundleDiscoverer constructs a BundleDiscoverer with sane defaults.
func NewBundleDiscoverer(configuration BundleConfig) *BundleDiscoverer {
	client := configuration.Client
	if client == nil {
		client = &http.Client{Timeout: defaultBundleTimeout}
	}
	homeURL := configuration.HomeURL
	if homeURL == "" {
		homeURL = defaultHomeURL
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BundleDiscoverer{client: client, homeURL: homeURL, logger: logger}
}

// Discover fetches bundles and returns identifiers for the requested
// operations. Operations absent from every bundle are simply missing from
// the result; the caller keeps its previous values for those.
func (discoverer *BundleDiscoverer) Discover(ctx context.Context, operations []Operation) (map[Operation]string, error) {
	wanted := make(map[Operation]struct{}, len(operations))
	for _, operation := range operations {
		wanted[operation] = struct{}{}
	}

	homeDocument, fetchErr := discoverer.fetch(ctx, discoverer.homeURL, maxHomeDocumentBytes)
	if fetchErr != nil {
		return nil, fetchErr
	}

	bundleURLs := uniqueStrings(reBundleURL.FindAllString(string(homeDocument), maxBundleURLsPerRefresh))
	if len(bundleURLs) == 0 {
		return nil, errNoBundles
	}

	discovered := make(map[Operation]string)
	for _, bundleURL := range bundleURLs {
		discoverer.logger.Debug(logMessageBundleFetch, zap.String(logFieldBundleURL, bundleURL))
		bundle, bundleErr := discoverer.fetch(ctx, bundleURL, maxBundleBytes)
		if bundleErr != nil {
			continue
		}
		for _, match := range reQueryBinding.FindAllStringSubmatch(string(bundle), -1) {
			operation := Operation(match[2])
			if _, relevant := wanted[operation]; !relevant && len(wanted) > 0 {
				continue
			}
			discovered[operation] = match[1]
		}
		if len(wanted) > 0 && len(discovered) == len(wanted) {
			break
		}
	}
	return discovered, nil
}

func (discoverer *BundleDiscoverer) fetch(ctx context.Context, requestURL string, limit int64) ([]byte, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if requestErr != nil {
		return nil, requestErr
	}
	response, doErr := discoverer.client.Do(request)
	if doErr != nil {
		return nil, doErr
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("bundle fetch returned status %d for %s", response.StatusCode, requestURL)
	}
	return io.ReadAll(io.LimitReader(response.Body, limit))
}

func uniqueStrings(values []string) []string {
	unique := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		unique = append(unique, value)
	}
	return unique
}
