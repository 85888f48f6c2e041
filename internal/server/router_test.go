package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/perch-app/perch/internal/apierror"
	"github.com/perch-app/perch/internal/client"
	"github.com/perch-app/perch/internal/normalize"
	"github.com/perch-app/perch/internal/server"
)

type postServiceStub struct {
	post        *normalize.Post
	page        *client.Page
	replies     []normalize.Post
	nextCursor  string
	failure     *apierror.APIError
	likedIDs    []string
	unlikedIDs  []string
	createdText string
}

func (stub *postServiceStub) FetchPost(ctx context.Context, postID string) (*normalize.Post, *apierror.APIError) {
	if stub.failure != nil {
		return nil, stub.failure
	}
	return stub.post, nil
}

func (stub *postServiceStub) FetchTimeline(ctx context.Context, count int, cursor string) (*client.Page, *apierror.APIError) {
	if stub.failure != nil {
		return nil, stub.failure
	}
	return stub.page, nil
}

func (stub *postServiceStub) FetchReplies(ctx context.Context, postID string, cursor string) ([]normalize.Post, string, *apierror.APIError) {
	if stub.failure != nil {
		return nil, "", stub.failure
	}
	return stub.replies, stub.nextCursor, nil
}

func (stub *postServiceStub) CreatePost(ctx context.Context, text string, replyToID string, mediaIDs []string) (*normalize.Post, *apierror.APIError) {
	if stub.failure != nil {
		return nil, stub.failure
	}
	stub.createdText = text
	return &normalize.Post{ID: "created", Text: text}, nil
}

func (stub *postServiceStub) Like(ctx context.Context, postID string) *apierror.APIError {
	if stub.failure != nil {
		return stub.failure
	}
	stub.likedIDs = append(stub.likedIDs, postID)
	return nil
}

func (stub *postServiceStub) Unlike(ctx context.Context, postID string) *apierror.APIError {
	if stub.failure != nil {
		return stub.failure
	}
	stub.unlikedIDs = append(stub.unlikedIDs, postID)
	return nil
}

func performRequest(t *testing.T, stub *postServiceStub, method string, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	engine := server.NewRouter(server.RouterConfig{Service: stub})
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, request)
	return recorder
}

func TestHealthRoute(t *testing.T) {
	recorder := performRequest(t, &postServiceStub{}, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestServePost(t *testing.T) {
	stub := &postServiceStub{post: &normalize.Post{ID: "123", Text: "Hello world!"}}
	recorder := performRequest(t, stub, http.MethodGet, "/posts/123", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var decoded normalize.Post
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &decoded); decodeErr != nil {
		t.Fatalf("response decode failed: %v", decodeErr)
	}
	if decoded.ID != "123" || decoded.Text != "Hello world!" {
		t.Fatalf("unexpected response %+v", decoded)
	}
}

func TestServeTimelineWithCursor(t *testing.T) {
	stub := &postServiceStub{page: &client.Page{
		Posts:      []normalize.Post{{ID: "1", Text: "first"}},
		NextCursor: "next",
	}}
	recorder := performRequest(t, stub, http.MethodGet, "/timeline?count=5", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var decoded client.Page
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &decoded); decodeErr != nil {
		t.Fatalf("response decode failed: %v", decodeErr)
	}
	if len(decoded.Posts) != 1 || decoded.NextCursor != "next" {
		t.Fatalf("unexpected page %+v", decoded)
	}
}

func TestServeReplies(t *testing.T) {
	stub := &postServiceStub{
		replies:    []normalize.Post{{ID: "200", Text: "a reply", InReplyToID: "100"}},
		nextCursor: "more",
	}
	recorder := performRequest(t, stub, http.MethodGet, "/posts/100/replies", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"next_cursor":"more"`) {
		t.Fatalf("expected cursor in body, got %s", recorder.Body.String())
	}
}

func TestCreatePostValidatesBody(t *testing.T) {
	recorder := performRequest(t, &postServiceStub{}, http.MethodPost, "/posts", `{"text": ""}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty text, got %d", recorder.Code)
	}
}

func TestCreatePost(t *testing.T) {
	stub := &postServiceStub{}
	recorder := performRequest(t, stub, http.MethodPost, "/posts", `{"text": "a new post"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", recorder.Code)
	}
	if stub.createdText != "a new post" {
		t.Fatalf("expected service to receive the text, got %q", stub.createdText)
	}
}

func TestLikeAndUnlikeRoutes(t *testing.T) {
	stub := &postServiceStub{}
	if recorder := performRequest(t, stub, http.MethodPost, "/posts/42/like", ""); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for like, got %d", recorder.Code)
	}
	if recorder := performRequest(t, stub, http.MethodDelete, "/posts/42/like", ""); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for unlike, got %d", recorder.Code)
	}
	if len(stub.likedIDs) != 1 || stub.likedIDs[0] != "42" {
		t.Fatalf("unexpected liked ids %v", stub.likedIDs)
	}
	if len(stub.unlikedIDs) != 1 || stub.unlikedIDs[0] != "42" {
		t.Fatalf("unexpected unliked ids %v", stub.unlikedIDs)
	}
}

func TestFailureStatusMapping(t *testing.T) {
	testCases := []struct {
		name           string
		failure        *apierror.APIError
		expectedStatus int
	}{
		{"rate limit", apierror.New(apierror.KindRateLimit, "rate limited"), http.StatusTooManyRequests},
		{"auth expired", apierror.New(apierror.KindAuthExpired, "session gone"), http.StatusUnauthorized},
		{"not found", apierror.New(apierror.KindNotFound, "missing"), http.StatusNotFound},
		{"unavailable", apierror.New(apierror.KindUnavailable, "upstream down"), http.StatusBadGateway},
		{"network", apierror.New(apierror.KindNetworkError, "dial failed"), http.StatusGatewayTimeout},
		{"unknown", apierror.New(apierror.KindUnknown, "???"), http.StatusInternalServerError},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			stub := &postServiceStub{failure: testCase.failure}
			recorder := performRequest(t, stub, http.MethodGet, "/posts/1", "")
			if recorder.Code != testCase.expectedStatus {
				t.Fatalf("expected %d, got %d", testCase.expectedStatus, recorder.Code)
			}
		})
	}
}

func TestRateLimitSetsRetryAfterHeader(t *testing.T) {
	failure := apierror.New(apierror.KindRateLimit, "rate limited")
	failure.RetryAfter = 900 * time.Second
	stub := &postServiceStub{failure: failure}
	recorder := performRequest(t, stub, http.MethodGet, "/timeline", "")
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") != "900" {
		t.Fatalf("expected Retry-After 900, got %q", recorder.Header().Get("Retry-After"))
	}
}
