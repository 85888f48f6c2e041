package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/perch-app/perch/internal/apierror"
)

const (
	restAccountSettingsPath   = "/1.1/account/settings.json"
	restFriendshipCreatePath  = "/1.1/friendships/create.json"
	restFriendshipDestroyPath = "/1.1/friendships/destroy.json"
	restMuteCreatePath        = "/1.1/mutes/users/create.json"
	restMuteDestroyPath       = "/1.1/mutes/users/destroy.json"
	restStatusUpdatePath      = "/1.1/statuses/update.json"

	formParameterUserID = "user_id"

	contentTypeHeaderName = "Content-Type"
	contentTypeForm       = "application/x-www-form-urlencoded"

	maxRESTResponseBytes = 4 * 1024 * 1024
)

// postForm issues a form-encoded POST to a legacy REST endpoint with the
// full session header set applied.
func (apiClient *Client) postForm(ctx context.Context, path string, form url.Values) (json.RawMessage, *apierror.APIError) {
	httpRequest, buildErr := http.NewRequestWithContext(ctx, http.MethodPost,
		apiClient.baseURL+path, strings.NewReader(form.Encode()))
	if buildErr != nil {
		return nil, apierror.NetworkError(buildErr)
	}
	httpRequest.Header.Set(contentTypeHeaderName, contentTypeForm)
	apiClient.session.Assemble(ctx, httpRequest)
	return apiClient.do(httpRequest)
}

// getJSON issues a GET to a legacy REST endpoint.
func (apiClient *Client) getJSON(ctx context.Context, path string, query url.Values) (json.RawMessage, *apierror.APIError) {
	requestURL := apiClient.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}
	httpRequest, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if buildErr != nil {
		return nil, apierror.NetworkError(buildErr)
	}
	apiClient.session.Assemble(ctx, httpRequest)
	return apiClient.do(httpRequest)
}

func (apiClient *Client) do(httpRequest *http.Request) (json.RawMessage, *apierror.APIError) {
	httpResponse, requestErr := apiClient.httpClient.Do(httpRequest)
	if requestErr != nil {
		return nil, apierror.NetworkError(requestErr)
	}
	defer httpResponse.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(httpResponse.Body, maxRESTResponseBytes))
	if readErr != nil {
		return nil, apierror.NetworkError(readErr)
	}
	if httpResponse.StatusCode >= http.StatusBadRequest {
		return nil, apierror.ClassifyResponse(httpResponse.StatusCode, string(body), httpResponse.Header)
	}
	return body, nil
}

// ActingUserID returns the authenticated user's id, resolving it on first
// use and caching the result for the life of the session. An empty string
// means the resolution failed; the value is advisory.
func (apiClient *Client) ActingUserID(ctx context.Context) string {
	return apiClient.session.ActingUserID(ctx, apiClient.resolveActingUserID)
}

// resolveActingUserID asks the settings endpoint for the acting username,
// then maps it to an id over GraphQL.
func (apiClient *Client) resolveActingUserID(ctx context.Context) (string, error) {
	body, failure := apiClient.getJSON(ctx, restAccountSettingsPath, nil)
	if failure != nil {
		return "", failure
	}
	var settings struct {
		ScreenName string `json:"screen_name"`
	}
	if unmarshalErr := json.Unmarshal(body, &settings); unmarshalErr != nil || settings.ScreenName == "" {
		return "", apierror.New(apierror.KindUnknown, "settings response carried no screen name")
	}
	userID, resolveFailure := apiClient.resolveUserID(ctx, settings.ScreenName)
	if resolveFailure != nil {
		return "", resolveFailure
	}
	return userID, nil
}
