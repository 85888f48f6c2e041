package apierror_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/perch-app/perch/internal/apierror"
)

func TestClassifyResponseStatusMapping(t *testing.T) {
	testCases := []struct {
		name         string
		statusCode   int
		expectedKind apierror.Kind
	}{
		{name: "429 maps to rate limit", statusCode: http.StatusTooManyRequests, expectedKind: apierror.KindRateLimit},
		{name: "401 maps to auth expired", statusCode: http.StatusUnauthorized, expectedKind: apierror.KindAuthExpired},
		{name: "403 maps to auth expired", statusCode: http.StatusForbidden, expectedKind: apierror.KindAuthExpired},
		{name: "404 maps to not found", statusCode: http.StatusNotFound, expectedKind: apierror.KindNotFound},
		{name: "500 maps to unavailable", statusCode: http.StatusInternalServerError, expectedKind: apierror.KindUnavailable},
		{name: "502 maps to unavailable", statusCode: http.StatusBadGateway, expectedKind: apierror.KindUnavailable},
		{name: "503 maps to unavailable", statusCode: http.StatusServiceUnavailable, expectedKind: apierror.KindUnavailable},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			classified := apierror.ClassifyResponse(testCase.statusCode, "", nil)
			if classified.Kind != testCase.expectedKind {
				t.Fatalf("expected kind %s, got %s", testCase.expectedKind, classified.Kind)
			}
			if classified.StatusCode != testCase.statusCode {
				t.Fatalf("expected status %d, got %d", testCase.statusCode, classified.StatusCode)
			}
		})
	}
}

func TestClassifyResponseRateLimitHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "120")
	header.Set("X-Rate-Limit-Reset", "1700000000")

	classified := apierror.ClassifyResponse(http.StatusTooManyRequests, "", header)
	if classified.RetryAfter != 120*time.Second {
		t.Fatalf("expected retry-after 120s, got %v", classified.RetryAfter)
	}
	if classified.ResetAt != time.Unix(1700000000, 0) {
		t.Fatalf("unexpected reset time %v", classified.ResetAt)
	}
}

func TestClassifyResponseRateLimitDefault(t *testing.T) {
	classified := apierror.ClassifyResponse(http.StatusTooManyRequests, "", nil)
	if classified.RetryAfter != 900*time.Second {
		t.Fatalf("expected default retry-after 900s, got %v", classified.RetryAfter)
	}
}

func TestClassifyMessageHeuristics(t *testing.T) {
	testCases := []struct {
		name         string
		text         string
		expectedKind apierror.Kind
	}{
		{name: "rate limit substring", text: "Rate limit exceeded", expectedKind: apierror.KindRateLimit},
		{name: "unauthorized substring", text: "Could not authenticate you", expectedKind: apierror.KindAuthExpired},
		{name: "not found substring", text: "No status found with that ID", expectedKind: apierror.KindNotFound},
		{name: "capacity substring", text: "Over capacity", expectedKind: apierror.KindUnavailable},
		{name: "unrecognized text", text: "something odd happened", expectedKind: apierror.KindUnknown},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			classified := apierror.ClassifyMessage(testCase.text)
			if classified.Kind != testCase.expectedKind {
				t.Fatalf("expected kind %s, got %s", testCase.expectedKind, classified.Kind)
			}
		})
	}
}

func TestClassifyMessageTruncatesExcerpt(t *testing.T) {
	classified := apierror.ClassifyMessage(strings.Repeat("x", 500))
	if len(classified.Message) > 200 {
		t.Fatalf("expected truncated excerpt, got %d characters", len(classified.Message))
	}
}

func TestSessionExpiredNotifierFiresOnce(t *testing.T) {
	var notifier apierror.SessionExpiredNotifier
	fired := 0
	notifier.Register(func(*apierror.APIError) { fired++ })

	authFailure := apierror.New(apierror.KindAuthExpired, "expired")
	notifier.Observe(authFailure)
	notifier.Observe(authFailure)
	notifier.Observe(apierror.New(apierror.KindNotFound, "missing"))

	if fired != 1 {
		t.Fatalf("expected exactly one notification, got %d", fired)
	}
}

func TestFromWrapsPlainErrors(t *testing.T) {
	if apierror.From(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	original := apierror.New(apierror.KindRateLimit, "limited")
	if apierror.From(original) != original {
		t.Fatal("expected identical APIError back")
	}
}
