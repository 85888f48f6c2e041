// Package server exposes the typed client over a small JSON HTTP surface.
package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/perch-app/perch/internal/apierror"
	"github.com/perch-app/perch/internal/client"
	"github.com/perch-app/perch/internal/normalize"
)

const (
	healthRoutePath      = "/healthz"
	postRoutePath        = "/posts/:id"
	timelineRoutePath    = "/timeline"
	repliesRoutePath     = "/posts/:id/replies"
	createPostRoutePath  = "/posts"
	likeRoutePath        = "/posts/:id/like"
	postIdentifierParam  = "id"
	countQueryParameter  = "count"
	cursorQueryParameter = "cursor"
	defaultPageCount     = 20
	maximumPageCount     = 100

	retryAfterHeaderName = "Retry-After"

	healthStatusKey = "status"
	healthStatusOK  = "ok"
	errorMessageKey = "error"
	errorKindKey    = "kind"

	errorMessageEmptyPostText = "post text must not be empty"

	logMessageRequestFailed = "api request failed"
	logFieldRoute           = "route"
	ginModeRelease          = "release"
)

// PostService is the surface the router needs from the typed client.
// *client.Client satisfies it.
type PostService interface {
	FetchPost(ctx context.Context, postID string) (*normalize.Post, *apierror.APIError)
	FetchTimeline(ctx context.Context, count int, cursor string) (*client.Page, *apierror.APIError)
	FetchReplies(ctx context.Context, postID string, cursor string) ([]normalize.Post, string, *apierror.APIError)
	CreatePost(ctx context.Context, text string, replyToID string, mediaIDs []string) (*normalize.Post, *apierror.APIError)
	Like(ctx context.Context, postID string) *apierror.APIError
	Unlike(ctx context.Context, postID string) *apierror.APIError
}

// RouterConfig configures the HTTP routing over the post service.
type RouterConfig struct {
	Service PostService
	Logger  *zap.Logger
}

// NewRouter constructs a Gin engine with the post, timeline, and health
// handlers.
func NewRouter(configuration RouterConfig) *gin.Engine {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := postHandler{service: configuration.Service, logger: logger}

	engine.GET(healthRoutePath, handler.healthStatus)
	engine.GET(postRoutePath, handler.servePost)
	engine.GET(timelineRoutePath, handler.serveTimeline)
	engine.GET(repliesRoutePath, handler.serveReplies)
	engine.POST(createPostRoutePath, handler.createPost)
	engine.POST(likeRoutePath, handler.likePost)
	engine.DELETE(likeRoutePath, handler.unlikePost)

	return engine
}

type postHandler struct {
	service PostService
	logger  *zap.Logger
}

// createPostRequest is the JSON body of POST /posts.
type createPostRequest struct {
	Text      string   `json:"text"`
	ReplyToID string   `json:"reply_to_id"`
	MediaIDs  []string `json:"media_ids"`
}

// repliesResponse is the JSON body of GET /posts/:id/replies.
type repliesResponse struct {
	Replies    []normalize.Post `json:"replies"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func (handler postHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}

func (handler postHandler) servePost(ginContext *gin.Context) {
	post, failure := handler.service.FetchPost(ginContext.Request.Context(), ginContext.Param(postIdentifierParam))
	if failure != nil {
		handler.renderFailure(ginContext, failure)
		return
	}
	ginContext.JSON(http.StatusOK, post)
}

func (handler postHandler) serveTimeline(ginContext *gin.Context) {
	page, failure := handler.service.FetchTimeline(ginContext.Request.Context(),
		pageCount(ginContext), ginContext.Query(cursorQueryParameter))
	if failure != nil {
		handler.renderFailure(ginContext, failure)
		return
	}
	ginContext.JSON(http.StatusOK, page)
}

func (handler postHandler) serveReplies(ginContext *gin.Context) {
	replies, nextCursor, failure := handler.service.FetchReplies(ginContext.Request.Context(),
		ginContext.Param(postIdentifierParam), ginContext.Query(cursorQueryParameter))
	if failure != nil {
		handler.renderFailure(ginContext, failure)
		return
	}
	ginContext.JSON(http.StatusOK, repliesResponse{Replies: replies, NextCursor: nextCursor})
}

func (handler postHandler) createPost(ginContext *gin.Context) {
	var request createPostRequest
	if bindErr := ginContext.ShouldBindJSON(&request); bindErr != nil {
		ginContext.JSON(http.StatusBadRequest, map[string]string{errorMessageKey: bindErr.Error()})
		return
	}
	if request.Text == "" {
		ginContext.JSON(http.StatusBadRequest, map[string]string{errorMessageKey: errorMessageEmptyPostText})
		return
	}
	post, failure := handler.service.CreatePost(ginContext.Request.Context(),
		request.Text, request.ReplyToID, request.MediaIDs)
	if failure != nil {
		handler.renderFailure(ginContext, failure)
		return
	}
	ginContext.JSON(http.StatusCreated, post)
}

func (handler postHandler) likePost(ginContext *gin.Context) {
	if failure := handler.service.Like(ginContext.Request.Context(), ginContext.Param(postIdentifierParam)); failure != nil {
		handler.renderFailure(ginContext, failure)
		return
	}
	ginContext.Status(http.StatusNoContent)
}

func (handler postHandler) unlikePost(ginContext *gin.Context) {
	if failure := handler.service.Unlike(ginContext.Request.Context(), ginContext.Param(postIdentifierParam)); failure != nil {
		handler.renderFailure(ginContext, failure)
		return
	}
	ginContext.Status(http.StatusNoContent)
}

func (handler postHandler) renderFailure(ginContext *gin.Context, failure *apierror.APIError) {
	handler.logger.Warn(logMessageRequestFailed,
		zap.String(logFieldRoute, ginContext.FullPath()), zap.Error(failure))
	if failure.Kind == apierror.KindRateLimit && failure.RetryAfter > 0 {
		ginContext.Header(retryAfterHeaderName, strconv.Itoa(int(failure.RetryAfter.Seconds())))
	}
	ginContext.JSON(httpStatusForFailure(failure), map[string]string{
		errorKindKey:    string(failure.Kind),
		errorMessageKey: failure.Message,
	})
}

// httpStatusForFailure maps the failure taxonomy onto HTTP statuses.
func httpStatusForFailure(failure *apierror.APIError) int {
	switch failure.Kind {
	case apierror.KindRateLimit:
		return http.StatusTooManyRequests
	case apierror.KindAuthExpired:
		return http.StatusUnauthorized
	case apierror.KindNotFound:
		return http.StatusNotFound
	case apierror.KindUnavailable:
		return http.StatusBadGateway
	case apierror.KindNetworkError:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func pageCount(ginContext *gin.Context) int {
	raw := ginContext.Query(countQueryParameter)
	if raw == "" {
		return defaultPageCount
	}
	count, parseErr := strconv.Atoi(raw)
	if parseErr != nil || count <= 0 {
		return defaultPageCount
	}
	if count > maximumPageCount {
		return maximumPageCount
	}
	return count
}
