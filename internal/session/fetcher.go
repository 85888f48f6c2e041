package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	defaultDocumentTimeout   = 20 * time.Second
	maxSessionDocumentBytes  = 4 * 1024 * 1024
	documentRootSelector     = "html"
	errMessageDocumentStatus = "session document fetch returned status"
)

// HTTPDocumentFetcher retrieves session documents with a plain HTTP client.
type HTTPDocumentFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPDocumentFetcher constructs an HTTPDocumentFetcher. A nil client
// selects a default with a bounded timeout.
func NewHTTPDocumentFetcher(client *http.Client, userAgent string) *HTTPDocumentFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultDocumentTimeout}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &HTTPDocumentFetcher{client: client, userAgent: userAgent}
}

// FetchDocument fetches the document body, bounded to a sane size.
func (fetcher *HTTPDocumentFetcher) FetchDocument(ctx context.Context, documentURL string) ([]byte, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, documentURL, nil)
	if requestErr != nil {
		return nil, requestErr
	}
	request.Header.Set(headerNameUserAgent, fetcher.userAgent)

	response, doErr := fetcher.client.Do(request)
	if doErr != nil {
		return nil, doErr
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %d", errMessageDocumentStatus, response.StatusCode)
	}
	return io.ReadAll(io.LimitReader(response.Body, maxSessionDocumentBytes))
}

// ChromeDocumentFetcher renders session documents in headless Chrome. The
// platform serves the verification markup only to script-capable clients,
// so the plain HTTP fetcher can come back empty where this one succeeds.
type ChromeDocumentFetcher struct {
	allocatorOptions []chromedp.ExecAllocatorOption
	userAgent        string
	timeout          time.Duration
}

// NewChromeDocumentFetcher constructs a ChromeDocumentFetcher.
func NewChromeDocumentFetcher(userAgent string, timeout time.Duration) *ChromeDocumentFetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = defaultDocumentTimeout
	}
	options := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("mute-audio", true),
		chromedp.UserAgent(userAgent),
	)
	return &ChromeDocumentFetcher{allocatorOptions: options, userAgent: userAgent, timeout: timeout}
}

// FetchDocument navigates to the URL and returns the rendered outer HTML.
func (fetcher *ChromeDocumentFetcher) FetchDocument(ctx context.Context, documentURL string) ([]byte, error) {
	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, fetcher.timeout)
	defer cancelTimeout()

	allocatorCtx, cancelAllocator := chromedp.NewExecAllocator(timeoutCtx, fetcher.allocatorOptions...)
	defer cancelAllocator()

	browserCtx, cancelBrowser := chromedp.NewContext(allocatorCtx)
	defer cancelBrowser()

	var renderedHTML string
	runErr := chromedp.Run(browserCtx,
		chromedp.Navigate(documentURL),
		chromedp.OuterHTML(documentRootSelector, &renderedHTML),
	)
	if runErr != nil {
		return nil, runErr
	}
	return []byte(renderedHTML), nil
}
