// Package bootstrap wires the catalog, session, and typed client together
// from runtime configuration. Every command entrypoint builds its client
// here so the wiring stays in one place.
package bootstrap

import (
	"time"

	"go.uber.org/zap"

	"github.com/perch-app/perch/internal/catalog"
	"github.com/perch-app/perch/internal/client"
	"github.com/perch-app/perch/internal/session"
)

const defaultBrowserTimeout = 45 * time.Second

// Config carries the runtime settings a command resolves from its flags
// and environment.
type Config struct {
	AuthToken   string
	CSRFToken   string
	UserAgent   string
	CatalogPath string
	BaseURL     string
	UseBrowser  bool
	QuoteDepth  int
	Logger      *zap.Logger
}

// Components holds the wired object graph a command operates on.
type Components struct {
	Client  *client.Client
	Catalog *catalog.Catalog
	Session *session.Context
}

// Build constructs the full client stack. When UseBrowser is set the
// token-generator key is derived through a headless browser render, which
// survives script-gated pages; otherwise a plain HTTP fetch is used.
func Build(configuration Config) *Components {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var documentFetcher session.DocumentFetcher
	if configuration.UseBrowser {
		documentFetcher = session.NewChromeDocumentFetcher(configuration.UserAgent, defaultBrowserTimeout)
	} else {
		documentFetcher = session.NewHTTPDocumentFetcher(nil, configuration.UserAgent)
	}

	sessionContext := session.NewContext(session.Config{
		Credentials: session.Credentials{
			AuthToken: configuration.AuthToken,
			CSRFToken: configuration.CSRFToken,
			UserAgent: configuration.UserAgent,
		},
		Fetcher: documentFetcher,
		Logger:  logger,
	})

	catalogConfiguration := catalog.Config{
		Discoverer: catalog.NewBundleDiscoverer(catalog.BundleConfig{Logger: logger}),
		Logger:     logger,
	}
	if configuration.CatalogPath != "" {
		catalogConfiguration.Store = catalog.NewFileStore(configuration.CatalogPath)
	}
	operationCatalog := catalog.New(catalogConfiguration)

	apiClient := client.New(client.Config{
		Session:    sessionContext,
		Catalog:    operationCatalog,
		BaseURL:    configuration.BaseURL,
		QuoteDepth: configuration.QuoteDepth,
		Logger:     logger,
	})
	return &Components{Client: apiClient, Catalog: operationCatalog, Session: sessionContext}
}
