// Package client is the typed surface over the upstream API. It composes
// the operation catalog, the session context, and the fetch orchestrator
// into read and mutation methods that return normalized posts and
// classified failures, never panics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/perch-app/perch/internal/apierror"
	"github.com/perch-app/perch/internal/catalog"
	"github.com/perch-app/perch/internal/normalize"
	"github.com/perch-app/perch/internal/orchestrator"
	"github.com/perch-app/perch/internal/session"
)

const (
	defaultBaseURL       = "https://x.com/i/api"
	defaultUploadURL     = "https://upload.twimg.com/1.1/media/upload.json"
	defaultQuoteDepth    = 1
	defaultBatchParallel = 4

	variableTweetID      = "tweet_id"
	variableDarkRequest  = "dark_request"
	variableFocalTweetID = "focalTweetId"
	variableCount        = "count"
	variableCursor       = "cursor"

	logMessageBatchFetchFailed = "batch post hydration failed for one id"

	logMessageActingUserUnresolved = "acting user id unresolved, continuing without it"
	logFieldPostID             = "post_id"
)

// Page is one page of a cursored read: the posts in encounter order and
// the cursor that continues the scan, empty when the upstream sent none.
type Page struct {
	Posts      []normalize.Post `json:"posts"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// Config customizes a Client. Session and Catalog are required; everything
// else has a default.
type Config struct {
	Session    *session.Context
	Catalog    *catalog.Catalog
	HTTPClient *http.Client
	BaseURL    string
	UploadURL  string
	QuoteDepth int
	Logger     *zap.Logger
}

// Client is the typed API surface.
type Client struct {
	executor   *orchestrator.Orchestrator
	catalog    *catalog.Catalog
	session    *session.Context
	httpClient *http.Client
	notifier   *apierror.SessionExpiredNotifier
	baseURL    string
	uploadURL  string
	quoteDepth int
	logger     *zap.Logger
}

// New constructs a Client around the supplied session and catalog.
func New(configuration Config) *Client {
	baseURL := configuration.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	uploadURL := configuration.UploadURL
	if uploadURL == "" {
		uploadURL = defaultUploadURL
	}
	quoteDepth := configuration.QuoteDepth
	if quoteDepth <= 0 {
		quoteDepth = defaultQuoteDepth
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		executor: orchestrator.New(orchestrator.Config{
			BaseURL:     baseURL,
			HTTPClient:  httpClient,
			Identifiers: configuration.Catalog,
			Decorator:   configuration.Session,
			Logger:      logger,
		}),
		catalog:    configuration.Catalog,
		session:    configuration.Session,
		httpClient: httpClient,
		notifier:   &apierror.SessionExpiredNotifier{},
		baseURL:    baseURL,
		uploadURL:  uploadURL,
		quoteDepth: quoteDepth,
		logger:     logger,
	}
}

// OnSessionExpired registers a callback fired at most once, on the first
// auth-expired failure any operation observes.
func (apiClient *Client) OnSessionExpired(callback func(*apierror.APIError)) {
	apiClient.notifier.Register(callback)
}

func (apiClient *Client) observe(failure *apierror.APIError) *apierror.APIError {
	return apiClient.notifier.Observe(failure)
}

// FetchPost hydrates a single post by id. The lighter single-result
// operation is tried first; when it yields nothing usable the conversation
// detail operation is consulted, with verb fallback since the upstream
// serves it over either verb.
func (apiClient *Client) FetchPost(ctx context.Context, postID string) (*normalize.Post, *apierror.APIError) {
	payload, failure := apiClient.executor.Execute(ctx, orchestrator.Request{
		Operation: catalog.OperationTweetResultByRestID,
		Variables: map[string]any{
			"tweetId":                postID,
			"withCommunity":          false,
			"includePromotedContent": false,
			"withVoice":              false,
		},
		Features: featureFlags,
		Mode:     orchestrator.ModeQuery,
	})
	if failure == nil {
		if post, ok := normalize.ExtractPost(dataField(payload, "tweetResult"), apiClient.quoteDepth); ok {
			return post, nil
		}
	} else if !isRetryableAsDetail(failure) {
		return nil, apiClient.observe(failure)
	}

	payload, failure = apiClient.executor.Execute(ctx, orchestrator.Request{
		Operation:    catalog.OperationTweetDetail,
		Variables:    detailVariables(postID, ""),
		Features:     featureFlags,
		Mode:         orchestrator.ModeQuery,
		VerbFallback: true,
	})
	if failure != nil {
		return nil, apiClient.observe(failure)
	}
	for _, post := range normalize.CollectTimeline(payload, apiClient.quoteDepth) {
		if post.ID == postID {
			found := post
			return &found, nil
		}
	}
	return nil, apiClient.observe(apierror.New(apierror.KindNotFound, fmt.Sprintf("post %s absent from detail payload", postID)))
}

// FetchTimeline returns one page of the authenticated home timeline.
func (apiClient *Client) FetchTimeline(ctx context.Context, count int, cursor string) (*Page, *apierror.APIError) {
	variables := map[string]any{
		variableCount:            count,
		"includePromotedContent": false,
		"latestControlAvailable": true,
	}
	if cursor != "" {
		variables[variableCursor] = cursor
	}
	return apiClient.fetchPage(ctx, orchestrator.Request{
		Operation: catalog.OperationHomeTimeline,
		Variables: variables,
		Features:  featureFlags,
		Mode:      orchestrator.ModeJSONBody,
	})
}

// FetchUserPosts returns one page of a user's posts. The username is
// resolved to a user id first.
func (apiClient *Client) FetchUserPosts(ctx context.Context, username string, count int, cursor string) (*Page, *apierror.APIError) {
	userID, failure := apiClient.resolveUserID(ctx, username)
	if failure != nil {
		return nil, apiClient.observe(failure)
	}
	variables := map[string]any{
		"userId":                 userID,
		variableCount:            count,
		"includePromotedContent": false,
		"withQuickPromoteEligibilityTweetFields": true,
		"withVoice":      true,
		"withV2Timeline": true,
	}
	if cursor != "" {
		variables[variableCursor] = cursor
	}
	return apiClient.fetchPage(ctx, orchestrator.Request{
		Operation: catalog.OperationUserTweets,
		Variables: variables,
		Features:  featureFlags,
		Mode:      orchestrator.ModeQuery,
	})
}

// FetchReplies returns the direct replies to a post, each carrying at most
// one shallow nested-reply preview.
func (apiClient *Client) FetchReplies(ctx context.Context, postID string, cursor string) ([]normalize.Post, string, *apierror.APIError) {
	payload, failure := apiClient.executor.Execute(ctx, orchestrator.Request{
		Operation:    catalog.OperationTweetDetail,
		Variables:    detailVariables(postID, cursor),
		Features:     featureFlags,
		Mode:         orchestrator.ModeQuery,
		VerbFallback: true,
	})
	if failure != nil {
		return nil, "", apiClient.observe(failure)
	}
	replies := normalize.CollectReplies(payload, postID, apiClient.quoteDepth)
	nextCursor, _ := normalize.ExtractBottomCursor(payload)
	return replies, nextCursor, nil
}

// FetchNotifications returns one page of the mentions timeline.
func (apiClient *Client) FetchNotifications(ctx context.Context, count int, cursor string) (*Page, *apierror.APIError) {
	variables := map[string]any{variableCount: count}
	if cursor != "" {
		variables[variableCursor] = cursor
	}
	return apiClient.fetchPage(ctx, orchestrator.Request{
		Operation: catalog.OperationNotifications,
		Variables: variables,
		Features:  featureFlags,
		Mode:      orchestrator.ModeQuery,
	})
}

// FetchBookmarks returns one page of the acting user's bookmarks.
func (apiClient *Client) FetchBookmarks(ctx context.Context, count int, cursor string) (*Page, *apierror.APIError) {
	variables := map[string]any{
		variableCount:            count,
		"includePromotedContent": false,
	}
	if cursor != "" {
		variables[variableCursor] = cursor
	}
	return apiClient.fetchPage(ctx, orchestrator.Request{
		Operation: catalog.OperationBookmarks,
		Variables: variables,
		Features:  featureFlags,
		Mode:      orchestrator.ModeQuery,
	})
}

// Search returns one page of latest-first search results.
func (apiClient *Client) Search(ctx context.Context, query string, count int, cursor string) (*Page, *apierror.APIError) {
	variables := map[string]any{
		"rawQuery":    query,
		variableCount: count,
		"querySource": "typed_query",
		"product":     "Latest",
	}
	if cursor != "" {
		variables[variableCursor] = cursor
	}
	return apiClient.fetchPage(ctx, orchestrator.Request{
		Operation: catalog.OperationSearchTimeline,
		Variables: variables,
		Features:  featureFlags,
		Mode:      orchestrator.ModeQuery,
	})
}

// FetchPosts hydrates several posts concurrently, preserving input order.
// An id that fails to hydrate leaves a nil slot; the first hard failure is
// returned alongside whatever hydrated.
func (apiClient *Client) FetchPosts(ctx context.Context, postIDs []string) ([]*normalize.Post, *apierror.APIError) {
	results := make([]*normalize.Post, len(postIDs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(defaultBatchParallel)

	for index, postID := range postIDs {
		index, postID := index, postID
		group.Go(func() error {
			post, failure := apiClient.FetchPost(groupCtx, postID)
			if failure != nil {
				apiClient.logger.Warn(logMessageBatchFetchFailed,
					zap.String(logFieldPostID, postID), zap.Error(failure))
				if failure.Kind == apierror.KindNotFound {
					return nil
				}
				return failure
			}
			results[index] = post
			return nil
		})
	}
	if waitErr := group.Wait(); waitErr != nil {
		return results, apierror.From(waitErr)
	}
	return results, nil
}

func (apiClient *Client) fetchPage(ctx context.Context, request orchestrator.Request) (*Page, *apierror.APIError) {
	payload, failure := apiClient.executor.Execute(ctx, request)
	if failure != nil {
		return nil, apiClient.observe(failure)
	}
	page := &Page{Posts: normalize.CollectTimeline(payload, apiClient.quoteDepth)}
	if cursor, found := normalize.ExtractBottomCursor(payload); found {
		page.NextCursor = cursor
	}
	return page, nil
}

// resolveUserID maps a username to the upstream numeric user id.
func (apiClient *Client) resolveUserID(ctx context.Context, username string) (string, *apierror.APIError) {
	payload, failure := apiClient.executor.Execute(ctx, orchestrator.Request{
		Operation: catalog.OperationUserByScreenName,
		Variables: map[string]any{"screen_name": username},
		Features:  featureFlags,
		Mode:      orchestrator.ModeQuery,
	})
	if failure != nil {
		return "", failure
	}
	var decoded struct {
		User struct {
			Result struct {
				RestID string `json:"rest_id"`
			} `json:"result"`
		} `json:"user"`
	}
	if unmarshalErr := json.Unmarshal(dataField(payload, "user"), &decoded.User); unmarshalErr != nil || decoded.User.Result.RestID == "" {
		return "", apierror.New(apierror.KindNotFound, fmt.Sprintf("user %s not found", username))
	}
	return decoded.User.Result.RestID, nil
}

// dataField returns the named field of the response's data document, or an
// empty JSON object when absent.
func dataField(payload json.RawMessage, field string) json.RawMessage {
	var envelope struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if unmarshalErr := json.Unmarshal(payload, &envelope); unmarshalErr != nil {
		return json.RawMessage("{}")
	}
	if value, present := envelope.Data[field]; present {
		return value
	}
	return json.RawMessage("{}")
}

func detailVariables(postID string, cursor string) map[string]any {
	variables := map[string]any{
		variableFocalTweetID:     postID,
		"referrer":               "tweet",
		"with_rux_injections":    false,
		"includePromotedContent": false,
		"withCommunity":          true,
		"withQuickPromoteEligibilityTweetFields": true,
		"withBirdwatchNotes": true,
		"withVoice":          true,
		"withV2Timeline":     true,
	}
	if cursor != "" {
		variables[variableCursor] = cursor
	}
	return variables
}

// isRetryableAsDetail reports whether a single-result failure is worth a
// second attempt through the conversation detail operation.
func isRetryableAsDetail(failure *apierror.APIError) bool {
	return failure.Kind == apierror.KindNotFound || failure.Kind == apierror.KindUnavailable
}
