package orchestrator_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/perch-app/perch/internal/apierror"
	"github.com/perch-app/perch/internal/catalog"
	"github.com/perch-app/perch/internal/orchestrator"
)

const (
	testOperation = catalog.OperationTweetDetail

	testSuccessBody = `{"data":{"tweetResult":{"result":{"rest_id":"123"}}}}`
)

type stubIdentifierSource struct {
	mutex      sync.Mutex
	candidates []string
	refreshes  int
}

func (source *stubIdentifierSource) Candidates(catalog.Operation) []string {
	return source.candidates
}

func (source *stubIdentifierSource) Refresh(context.Context, []catalog.Operation, bool) {
	source.mutex.Lock()
	source.refreshes++
	source.mutex.Unlock()
}

func (source *stubIdentifierSource) refreshCount() int {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	return source.refreshes
}

type countingHandler struct {
	mutex    sync.Mutex
	requests []string
	respond  func(identifierPath string, writer http.ResponseWriter)
}

func (handler *countingHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	handler.mutex.Lock()
	handler.requests = append(handler.requests, request.Method+" "+request.URL.Path)
	handler.mutex.Unlock()
	handler.respond(request.URL.Path, writer)
}

func (handler *countingHandler) requestCount() int {
	handler.mutex.Lock()
	defer handler.mutex.Unlock()
	return len(handler.requests)
}

func newOrchestrator(serverURL string, source orchestrator.IdentifierSource) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Config{
		BaseURL:     serverURL,
		Identifiers: source,
	})
}

func TestExecuteShortCircuitsOnFirstSuccess(t *testing.T) {
	handler := &countingHandler{respond: func(_ string, writer http.ResponseWriter) {
		writer.Write([]byte(testSuccessBody))
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	source := &stubIdentifierSource{candidates: []string{"current", "alternate"}}
	instance := newOrchestrator(server.URL, source)

	body, failure := instance.Execute(context.Background(), orchestrator.Request{Operation: testOperation})
	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}
	if len(body) == 0 {
		t.Fatal("expected response body")
	}
	if handler.requestCount() != 1 {
		t.Fatalf("expected one HTTP call, got %d", handler.requestCount())
	}
	if source.refreshCount() != 0 {
		t.Fatalf("expected no refresh, got %d", source.refreshCount())
	}
}

func TestExecuteFallsThroughCandidatesOnNotFound(t *testing.T) {
	handler := &countingHandler{respond: func(identifierPath string, writer http.ResponseWriter) {
		if identifierPath == "/graphql/alternate/"+string(testOperation) {
			writer.Write([]byte(testSuccessBody))
			return
		}
		writer.WriteHeader(http.StatusNotFound)
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	source := &stubIdentifierSource{candidates: []string{"rotated-away", "alternate"}}
	instance := newOrchestrator(server.URL, source)

	_, failure := instance.Execute(context.Background(), orchestrator.Request{Operation: testOperation})
	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}
	if source.refreshCount() != 0 {
		t.Fatalf("expected no refresh when an alternate succeeds, got %d", source.refreshCount())
	}
}

func TestExecuteRefreshesExactlyOnceThenSurfacesNotFound(t *testing.T) {
	handler := &countingHandler{respond: func(_ string, writer http.ResponseWriter) {
		writer.WriteHeader(http.StatusNotFound)
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	source := &stubIdentifierSource{candidates: []string{"first", "second"}}
	instance := newOrchestrator(server.URL, source)

	_, failure := instance.Execute(context.Background(), orchestrator.Request{Operation: testOperation})
	if failure == nil {
		t.Fatal("expected failure after exhaustion")
	}
	if failure.Kind != apierror.KindNotFound {
		t.Fatalf("expected not_found, got %s", failure.Kind)
	}
	if source.refreshCount() != 1 {
		t.Fatalf("expected exactly one refresh, got %d", source.refreshCount())
	}
	// Two candidates, two passes: the total HTTP call count stays bounded.
	if handler.requestCount() != 4 {
		t.Fatalf("expected 4 HTTP calls (2 candidates x 2 passes), got %d", handler.requestCount())
	}
}

func TestExecuteVerbFallbackRetriesSameIdentifierAsPost(t *testing.T) {
	handler := &countingHandler{respond: func(_ string, writer http.ResponseWriter) {
		writer.WriteHeader(http.StatusNotFound)
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	source := &stubIdentifierSource{candidates: []string{"only"}}
	instance := newOrchestrator(server.URL, source)

	instance.Execute(context.Background(), orchestrator.Request{Operation: testOperation, VerbFallback: true})

	handler.mutex.Lock()
	defer handler.mutex.Unlock()
	// One candidate, two passes, each pass GET then POST.
	expected := []string{
		"GET /graphql/only/" + string(testOperation),
		"POST /graphql/only/" + string(testOperation),
		"GET /graphql/only/" + string(testOperation),
		"POST /graphql/only/" + string(testOperation),
	}
	if len(handler.requests) != len(expected) {
		t.Fatalf("expected %d calls, got %v", len(expected), handler.requests)
	}
	for index, call := range expected {
		if handler.requests[index] != call {
			t.Fatalf("call %d: expected %q, got %q", index, call, handler.requests[index])
		}
	}
}

func TestExecuteTerminatesImmediatelyOnHardFailure(t *testing.T) {
	handler := &countingHandler{respond: func(_ string, writer http.ResponseWriter) {
		writer.WriteHeader(http.StatusTooManyRequests)
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	source := &stubIdentifierSource{candidates: []string{"first", "second"}}
	instance := newOrchestrator(server.URL, source)

	_, failure := instance.Execute(context.Background(), orchestrator.Request{Operation: testOperation})
	if failure == nil || failure.Kind != apierror.KindRateLimit {
		t.Fatalf("expected rate_limit, got %v", failure)
	}
	if handler.requestCount() != 1 {
		t.Fatalf("expected immediate termination after one call, got %d", handler.requestCount())
	}
	if source.refreshCount() != 0 {
		t.Fatalf("expected no refresh on hard failure, got %d", source.refreshCount())
	}
}

func TestExecuteTreatsTransportErrorsAsSoftFailures(t *testing.T) {
	// Point at a closed server so every attempt fails at the transport level.
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	serverURL := server.URL
	server.Close()

	source := &stubIdentifierSource{candidates: []string{"first", "second"}}
	instance := newOrchestrator(serverURL, source)

	_, failure := instance.Execute(context.Background(), orchestrator.Request{Operation: testOperation})
	if failure == nil || failure.Kind != apierror.KindNetworkError {
		t.Fatalf("expected network_error after exhaustion, got %v", failure)
	}
	if source.refreshCount() != 1 {
		t.Fatalf("expected one refresh before surfacing transport failure, got %d", source.refreshCount())
	}
}

func TestExecuteClassifiesBodyDeclaredErrors(t *testing.T) {
	handler := &countingHandler{respond: func(_ string, writer http.ResponseWriter) {
		writer.Write([]byte(`{"data":null,"errors":[{"message":"Rate limit exceeded","code":88}]}`))
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	source := &stubIdentifierSource{candidates: []string{"only"}}
	instance := newOrchestrator(server.URL, source)

	_, failure := instance.Execute(context.Background(), orchestrator.Request{Operation: testOperation})
	if failure == nil || failure.Kind != apierror.KindRateLimit {
		t.Fatalf("expected rate_limit from body-declared error, got %v", failure)
	}
	if failure.Code != 88 {
		t.Fatalf("expected upstream code 88, got %d", failure.Code)
	}
}

func TestExecuteDeclaredErrorsNextToDataRespectStrictness(t *testing.T) {
	rejectionBody := `{"data":{"create_tweet":{"tweet_results":{}}},"errors":[{"message":"This request looks like it might be automated.","code":467}]}`
	handler := &countingHandler{respond: func(_ string, writer http.ResponseWriter) {
		writer.Write([]byte(rejectionBody))
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	source := &stubIdentifierSource{candidates: []string{"only"}}
	instance := newOrchestrator(server.URL, source)

	body, failure := instance.Execute(context.Background(), orchestrator.Request{Operation: testOperation})
	if failure != nil {
		t.Fatalf("expected a read to keep the partial payload, got %v", failure)
	}
	if len(body) == 0 {
		t.Fatal("expected the partial payload body")
	}

	_, failure = instance.Execute(context.Background(), orchestrator.Request{
		Operation:    catalog.OperationCreateTweet,
		Mode:         orchestrator.ModeJSONBody,
		StrictErrors: true,
	})
	if failure == nil {
		t.Fatal("expected a strict request to surface the declared error")
	}
	if failure.Code != 467 {
		t.Fatalf("expected upstream code 467, got %d", failure.Code)
	}
}
