// Package orchestrator issues GraphQL operations against the upstream API
// and keeps them working while the upstream rotates query identifiers. Each
// call walks the operation's candidate identifiers in order, then forces one
// catalog refresh and walks them once more, so total attempts are bounded
// and termination is guaranteed.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/perch-app/perch/internal/apierror"
	"github.com/perch-app/perch/internal/catalog"
)

// PayloadMode selects how variables travel: GET query string or JSON body.
type PayloadMode int

const (
	ModeQuery PayloadMode = iota
	ModeJSONBody
)

// attemptPhase makes the two-tier retry bound explicit:
// Attempting → Refreshing → Exhausted.
type attemptPhase int

const (
	phaseAttempting attemptPhase = iota
	phaseRefreshing
	phaseExhausted
)

const (
	defaultBaseURL        = "https://x.com/i/api"
	graphqlPathFormat     = "%s/graphql/%s/%s"
	defaultAttemptTimeout = 15 * time.Second
	maxResponseBytes      = 16 * 1024 * 1024

	variablesParameterName = "variables"
	featuresParameterName  = "features"
	queryIDBodyFieldName   = "queryId"
	contentTypeHeaderName  = "Content-Type"
	contentTypeJSON        = "application/json"

	logMessageAttempt        = "issuing candidate attempt"
	logMessageSoftFailure    = "candidate attempt soft failure"
	logMessageForcingRefresh = "candidates exhausted, forcing catalog refresh"
	logFieldOperation        = "operation"
	logFieldIdentifier       = "identifier"
	logFieldMethod           = "method"

	defaultDialTimeout           = 5 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
)

// IdentifierSource supplies candidate identifiers and refresh for an
// operation; *catalog.Catalog satisfies it.
type IdentifierSource interface {
	Candidates(operation catalog.Operation) []string
	Refresh(ctx context.Context, operations []catalog.Operation, force bool)
}

// RequestDecorator applies session headers to an outgoing request;
// *session.Context satisfies it.
type RequestDecorator interface {
	Assemble(ctx context.Context, request *http.Request)
}

// Request describes one orchestrated GraphQL call.
type Request struct {
	Operation catalog.Operation
	Variables map[string]any
	Features  map[string]any
	Mode      PayloadMode
	// VerbFallback retries a 404'd GET once as a POST against the same
	// identifier; the upstream serves some operations over either verb.
	VerbFallback bool
	// StrictErrors treats any body-declared error as a failure, even when
	// the response carries data alongside it. Mutations set this: a write
	// rejected with a partial echo must not pass as success.
	StrictErrors bool
}

// Config customizes an Orchestrator.
type Config struct {
	BaseURL        string
	HTTPClient     *http.Client
	Identifiers    IdentifierSource
	Decorator      RequestDecorator
	AttemptTimeout time.Duration
	Logger         *zap.Logger
}

// Orchestrator executes GraphQL operations with candidate fallback and a
// single refresh-and-retry cycle.
type Orchestrator struct {
	baseURL        string
	client         *http.Client
	identifiers    IdentifierSource
	decorator      RequestDecorator
	attemptTimeout time.Duration
	logger         *zap.Logger
}

// New constructs an Orchestrator with tuned transport defaults.
func New(configuration Config) *Orchestrator {
	baseURL := configuration.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := configuration.HTTPClient
	if client == nil {
		client = newHTTPClient()
	}
	attemptTimeout := configuration.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = defaultAttemptTimeout
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		baseURL:        baseURL,
		client:         client,
		identifiers:    configuration.Identifiers,
		decorator:      configuration.Decorator,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

// Execute runs the two-tier retry loop and returns the raw response body of
// the first successful attempt. Soft failures (404, transport errors)
// continue candidate iteration; any other classified failure terminates
// immediately. When both candidate passes exhaust, the last observed soft
// failure is surfaced.
func (orchestrator *Orchestrator) Execute(ctx context.Context, request Request) (json.RawMessage, *apierror.APIError) {
	phase := phaseAttempting
	refreshSpent := false
	var lastFailure *apierror.APIError

	for phase != phaseExhausted {
		for _, identifier := range orchestrator.identifiers.Candidates(request.Operation) {
			body, failure := orchestrator.attemptWithVerbFallback(ctx, request, identifier)
			if failure == nil {
				return body, nil
			}
			if isSoftFailure(failure) {
				lastFailure = failure
				continue
			}
			return nil, failure
		}

		if refreshSpent {
			phase = phaseExhausted
			continue
		}
		phase = phaseRefreshing
		orchestrator.logger.Debug(logMessageForcingRefresh, zap.String(logFieldOperation, string(request.Operation)))
		orchestrator.identifiers.Refresh(ctx, []catalog.Operation{request.Operation}, true)
		refreshSpent = true
		phase = phaseAttempting
	}

	if lastFailure == nil {
		lastFailure = apierror.New(apierror.KindUnknown, "no candidate identifiers available")
	}
	return nil, lastFailure
}

func (orchestrator *Orchestrator) attemptWithVerbFallback(ctx context.Context, request Request, identifier string) (json.RawMessage, *apierror.APIError) {
	method := http.MethodGet
	if request.Mode == ModeJSONBody {
		method = http.MethodPost
	}

	body, failure := orchestrator.attempt(ctx, request, identifier, method)
	if failure != nil && failure.Kind == apierror.KindNotFound && request.VerbFallback && method == http.MethodGet {
		body, failure = orchestrator.attempt(ctx, request, identifier, http.MethodPost)
	}
	return body, failure
}

// attempt issues one HTTP call with a fresh timeout window.
func (orchestrator *Orchestrator) attempt(ctx context.Context, request Request, identifier string, method string) (json.RawMessage, *apierror.APIError) {
	attemptCtx, cancel := context.WithTimeout(ctx, orchestrator.attemptTimeout)
	defer cancel()

	httpRequest, buildErr := orchestrator.buildRequest(attemptCtx, request, identifier, method)
	if buildErr != nil {
		return nil, apierror.NetworkError(buildErr)
	}
	if orchestrator.decorator != nil {
		orchestrator.decorator.Assemble(attemptCtx, httpRequest)
	}

	orchestrator.logger.Debug(logMessageAttempt,
		zap.String(logFieldOperation, string(request.Operation)),
		zap.String(logFieldIdentifier, identifier),
		zap.String(logFieldMethod, method))

	httpResponse, doErr := orchestrator.client.Do(httpRequest)
	if doErr != nil {
		// Transport failures participate in candidate iteration like 404s.
		orchestrator.logger.Debug(logMessageSoftFailure,
			zap.String(logFieldIdentifier, identifier), zap.Error(doErr))
		return nil, apierror.NetworkError(doErr)
	}
	defer httpResponse.Body.Close()

	responseBody, readErr := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBytes))
	if readErr != nil {
		return nil, apierror.NetworkError(readErr)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return nil, apierror.ClassifyResponse(httpResponse.StatusCode, string(responseBody), httpResponse.Header)
	}
	if declared := declaredError(responseBody, request.StrictErrors); declared != nil {
		return nil, declared
	}
	return responseBody, nil
}

func (orchestrator *Orchestrator) buildRequest(ctx context.Context, request Request, identifier string, method string) (*http.Request, error) {
	endpoint := fmt.Sprintf(graphqlPathFormat, orchestrator.baseURL, identifier, request.Operation)

	if method == http.MethodGet {
		query := url.Values{}
		if encoded, encodeErr := encodeJSONParameter(request.Variables); encodeErr == nil && encoded != "" {
			query.Set(variablesParameterName, encoded)
		}
		if encoded, encodeErr := encodeJSONParameter(request.Features); encodeErr == nil && encoded != "" {
			query.Set(featuresParameterName, encoded)
		}
		if len(query) > 0 {
			endpoint = endpoint + "?" + query.Encode()
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}

	payload := map[string]any{
		variablesParameterName: request.Variables,
		queryIDBodyFieldName:   identifier,
	}
	if request.Features != nil {
		payload[featuresParameterName] = request.Features
	}
	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return nil, marshalErr
	}
	httpRequest, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if requestErr != nil {
		return nil, requestErr
	}
	httpRequest.Header.Set(contentTypeHeaderName, contentTypeJSON)
	return httpRequest, nil
}

// declaredError surfaces API-level errors the upstream reports inside a 200
// body. On read paths a response that carries errors alongside usable data
// is not treated as a failure; partial payloads are the normalizer's
// problem. Strict mode reports the error regardless of data.
func declaredError(responseBody []byte, strict bool) *apierror.APIError {
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"errors"`
	}
	if unmarshalErr := json.Unmarshal(responseBody, &envelope); unmarshalErr != nil {
		return apierror.New(apierror.KindUnknown, "unparseable upstream response")
	}
	if len(envelope.Errors) == 0 {
		return nil
	}
	if !strict && len(envelope.Data) > 0 && string(envelope.Data) != "null" && string(envelope.Data) != "{}" {
		return nil
	}
	classified := apierror.ClassifyMessage(envelope.Errors[0].Message)
	classified.Code = envelope.Errors[0].Code
	if classified.Kind == apierror.KindUnknown && envelope.Errors[0].Message != "" {
		classified.Message = envelope.Errors[0].Message
	}
	return classified
}

func isSoftFailure(failure *apierror.APIError) bool {
	return failure.Kind == apierror.KindNotFound || failure.Kind == apierror.KindNetworkError
}

func encodeJSONParameter(value map[string]any) (string, error) {
	if len(value) == 0 {
		return "", nil
	}
	encoded, marshalErr := json.Marshal(value)
	if marshalErr != nil {
		return "", marshalErr
	}
	return string(encoded), nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          100,
			MaxConnsPerHost:       100,
			ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		},
	}
}
