package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/perch-app/perch/internal/apierror"
	"github.com/perch-app/perch/internal/catalog"
	"github.com/perch-app/perch/internal/normalize"
	"github.com/perch-app/perch/internal/orchestrator"
)

// automationRejectionCode is the upstream's numeric code for a GraphQL
// create rejected on automation suspicion; the legacy form endpoint often
// still accepts the same post.
const automationRejectionCode = 467

// prepareMutation resolves the acting user id before a write so the
// session carries it for attribution. The result is cached after the
// first success; an unresolved id is logged and never blocks the write.
func (apiClient *Client) prepareMutation(ctx context.Context) {
	if apiClient.ActingUserID(ctx) == "" {
		apiClient.logger.Debug(logMessageActingUserUnresolved)
	}
}

// Like marks a post as liked.
func (apiClient *Client) Like(ctx context.Context, postID string) *apierror.APIError {
	return apiClient.simpleMutation(ctx, catalog.OperationFavoriteTweet, postID)
}

// Unlike removes a like.
func (apiClient *Client) Unlike(ctx context.Context, postID string) *apierror.APIError {
	return apiClient.simpleMutation(ctx, catalog.OperationUnfavoriteTweet, postID)
}

// Bookmark saves a post to the acting user's bookmarks.
func (apiClient *Client) Bookmark(ctx context.Context, postID string) *apierror.APIError {
	return apiClient.simpleMutation(ctx, catalog.OperationCreateBookmark, postID)
}

// Unbookmark removes a bookmark.
func (apiClient *Client) Unbookmark(ctx context.Context, postID string) *apierror.APIError {
	return apiClient.simpleMutation(ctx, catalog.OperationDeleteBookmark, postID)
}

// Repost reposts a post.
func (apiClient *Client) Repost(ctx context.Context, postID string) *apierror.APIError {
	return apiClient.simpleMutation(ctx, catalog.OperationCreateRetweet, postID)
}

// Unrepost removes a repost.
func (apiClient *Client) Unrepost(ctx context.Context, postID string) *apierror.APIError {
	return apiClient.simpleMutation(ctx, catalog.OperationDeleteRetweet, postID)
}

// DeletePost deletes one of the acting user's posts.
func (apiClient *Client) DeletePost(ctx context.Context, postID string) *apierror.APIError {
	return apiClient.simpleMutation(ctx, catalog.OperationDeleteTweet, postID)
}

func (apiClient *Client) simpleMutation(ctx context.Context, operation catalog.Operation, postID string) *apierror.APIError {
	apiClient.prepareMutation(ctx)
	_, failure := apiClient.executor.Execute(ctx, orchestrator.Request{
		Operation: operation,
		Variables: map[string]any{
			variableTweetID:     postID,
			variableDarkRequest: false,
		},
		Features:     featureFlags,
		Mode:         orchestrator.ModeJSONBody,
		StrictErrors: true,
	})
	if failure != nil {
		return apiClient.observe(failure)
	}
	return nil
}

// Follow follows a user by id.
func (apiClient *Client) Follow(ctx context.Context, userID string) *apierror.APIError {
	return apiClient.userMutation(ctx, restFriendshipCreatePath, userID)
}

// Unfollow unfollows a user by id.
func (apiClient *Client) Unfollow(ctx context.Context, userID string) *apierror.APIError {
	return apiClient.userMutation(ctx, restFriendshipDestroyPath, userID)
}

// Mute mutes a user by id.
func (apiClient *Client) Mute(ctx context.Context, userID string) *apierror.APIError {
	return apiClient.userMutation(ctx, restMuteCreatePath, userID)
}

// Unmute unmutes a user by id.
func (apiClient *Client) Unmute(ctx context.Context, userID string) *apierror.APIError {
	return apiClient.userMutation(ctx, restMuteDestroyPath, userID)
}

func (apiClient *Client) userMutation(ctx context.Context, path string, userID string) *apierror.APIError {
	apiClient.prepareMutation(ctx)
	form := url.Values{formParameterUserID: {userID}}
	if _, failure := apiClient.postForm(ctx, path, form); failure != nil {
		return apiClient.observe(failure)
	}
	return nil
}

// CreatePost publishes a post, optionally as a reply and with attached
// media. When the GraphQL mutation is rejected with the automation code,
// the legacy form-encoded endpoint is tried once; if it fails too, the
// returned failure carries both diagnostics.
func (apiClient *Client) CreatePost(ctx context.Context, text string, replyToID string, mediaIDs []string) (*normalize.Post, *apierror.APIError) {
	apiClient.prepareMutation(ctx)
	variables := map[string]any{
		"tweet_text":              text,
		variableDarkRequest:       false,
		"semantic_annotation_ids": []any{},
	}
	if replyToID != "" {
		variables["reply"] = map[string]any{
			"in_reply_to_tweet_id":   replyToID,
			"exclude_reply_user_ids": []any{},
		}
	}
	if len(mediaIDs) > 0 {
		entities := make([]any, 0, len(mediaIDs))
		for _, mediaID := range mediaIDs {
			entities = append(entities, map[string]any{
				"media_id":     mediaID,
				"tagged_users": []any{},
			})
		}
		variables["media"] = map[string]any{
			"media_entities":     entities,
			"possibly_sensitive": false,
		}
	}

	payload, failure := apiClient.executor.Execute(ctx, orchestrator.Request{
		Operation:    catalog.OperationCreateTweet,
		Variables:    variables,
		Features:     featureFlags,
		Mode:         orchestrator.ModeJSONBody,
		StrictErrors: true,
	})
	if failure == nil {
		if post, ok := createdPost(payload, apiClient.quoteDepth); ok {
			return post, nil
		}
		return nil, apiClient.observe(apierror.New(apierror.KindUnknown, "create response carried no post"))
	}
	if failure.Code != automationRejectionCode {
		return nil, apiClient.observe(failure)
	}

	post, fallbackFailure := apiClient.createPostLegacy(ctx, text, replyToID, mediaIDs)
	if fallbackFailure != nil {
		combined := apierror.New(fallbackFailure.Kind,
			fmt.Sprintf("%s; legacy fallback: %s", failure.Message, fallbackFailure.Message))
		combined.StatusCode = fallbackFailure.StatusCode
		combined.Code = fallbackFailure.Code
		return nil, apiClient.observe(combined)
	}
	return post, nil
}

// createPostLegacy publishes through the form-encoded status endpoint.
func (apiClient *Client) createPostLegacy(ctx context.Context, text string, replyToID string, mediaIDs []string) (*normalize.Post, *apierror.APIError) {
	form := url.Values{"status": {text}}
	if replyToID != "" {
		form.Set("in_reply_to_status_id", replyToID)
		form.Set("auto_populate_reply_metadata", "true")
	}
	if len(mediaIDs) > 0 {
		form.Set("media_ids", strings.Join(mediaIDs, ","))
	}

	body, failure := apiClient.postForm(ctx, restStatusUpdatePath, form)
	if failure != nil {
		return nil, failure
	}
	var status struct {
		IDStr    string `json:"id_str"`
		Text     string `json:"text"`
		FullText string `json:"full_text"`
	}
	if unmarshalErr := json.Unmarshal(body, &status); unmarshalErr != nil || status.IDStr == "" {
		return nil, apierror.New(apierror.KindUnknown, "legacy create response carried no post id")
	}
	postText := status.FullText
	if postText == "" {
		postText = status.Text
	}
	return &normalize.Post{ID: status.IDStr, Text: postText, InReplyToID: replyToID}, nil
}

func createdPost(payload json.RawMessage, quoteDepth int) (*normalize.Post, bool) {
	var decoded struct {
		TweetResults json.RawMessage `json:"tweet_results"`
	}
	if unmarshalErr := json.Unmarshal(dataField(payload, "create_tweet"), &decoded); unmarshalErr != nil {
		return nil, false
	}
	return normalize.ExtractPost(decoded.TweetResults, quoteDepth)
}
