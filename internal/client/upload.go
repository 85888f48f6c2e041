package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/perch-app/perch/internal/apierror"
)

const (
	uploadCommandInit     = "INIT"
	uploadCommandAppend   = "APPEND"
	uploadCommandFinalize = "FINALIZE"
	uploadCommandStatus   = "STATUS"

	uploadChunkBytes      = 5 * 1024 * 1024
	uploadMaxStatusPolls  = 10
	uploadMaxPollInterval = 10 * time.Second

	processingStatePending    = "pending"
	processingStateInProgress = "in_progress"
	processingStateFailed     = "failed"

	logMessageUploadChunk = "uploading media segment"
	logFieldMediaID       = "media_id"
	logFieldSegment       = "segment"
)

type uploadResponse struct {
	MediaIDString  string `json:"media_id_string"`
	ProcessingInfo *struct {
		State          string `json:"state"`
		CheckAfterSecs int    `json:"check_after_secs"`
		Error          *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"processing_info"`
}

// UploadMedia uploads a media payload through the chunked upload protocol
// and returns the media id to attach to a post. Segments go out in
// ascending offset order; processing status is polled a bounded number of
// times after finalize.
func (apiClient *Client) UploadMedia(ctx context.Context, payload []byte, mediaType string) (string, *apierror.APIError) {
	initForm := url.Values{
		"command":     {uploadCommandInit},
		"total_bytes": {strconv.Itoa(len(payload))},
		"media_type":  {mediaType},
	}
	initResponse, failure := apiClient.uploadForm(ctx, initForm)
	if failure != nil {
		return "", apiClient.observe(failure)
	}
	mediaID := initResponse.MediaIDString
	if mediaID == "" {
		return "", apiClient.observe(apierror.New(apierror.KindUnknown, "upload init returned no media id"))
	}

	for segmentIndex, offset := 0, 0; offset < len(payload); segmentIndex, offset = segmentIndex+1, offset+uploadChunkBytes {
		end := offset + uploadChunkBytes
		if end > len(payload) {
			end = len(payload)
		}
		apiClient.logger.Debug(logMessageUploadChunk,
			zap.String(logFieldMediaID, mediaID), zap.Int(logFieldSegment, segmentIndex))
		if appendFailure := apiClient.uploadAppend(ctx, mediaID, segmentIndex, payload[offset:end]); appendFailure != nil {
			return "", apiClient.observe(appendFailure)
		}
	}

	finalizeForm := url.Values{
		"command":  {uploadCommandFinalize},
		"media_id": {mediaID},
	}
	finalizeResponse, failure := apiClient.uploadForm(ctx, finalizeForm)
	if failure != nil {
		return "", apiClient.observe(failure)
	}
	if pollFailure := apiClient.awaitProcessing(ctx, mediaID, finalizeResponse); pollFailure != nil {
		return "", apiClient.observe(pollFailure)
	}
	return mediaID, nil
}

// uploadAppend sends one segment as a multipart form.
func (apiClient *Client) uploadAppend(ctx context.Context, mediaID string, segmentIndex int, segment []byte) *apierror.APIError {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for field, value := range map[string]string{
		"command":       uploadCommandAppend,
		"media_id":      mediaID,
		"segment_index": strconv.Itoa(segmentIndex),
	} {
		if writeErr := writer.WriteField(field, value); writeErr != nil {
			return apierror.NetworkError(writeErr)
		}
	}
	part, partErr := writer.CreateFormFile("media", "media")
	if partErr != nil {
		return apierror.NetworkError(partErr)
	}
	if _, copyErr := part.Write(segment); copyErr != nil {
		return apierror.NetworkError(copyErr)
	}
	if closeErr := writer.Close(); closeErr != nil {
		return apierror.NetworkError(closeErr)
	}

	httpRequest, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, apiClient.uploadURL, &body)
	if buildErr != nil {
		return apierror.NetworkError(buildErr)
	}
	httpRequest.Header.Set(contentTypeHeaderName, writer.FormDataContentType())
	apiClient.session.Assemble(ctx, httpRequest)

	httpResponse, requestErr := apiClient.httpClient.Do(httpRequest)
	if requestErr != nil {
		return apierror.NetworkError(requestErr)
	}
	defer httpResponse.Body.Close()
	responseBody, _ := io.ReadAll(io.LimitReader(httpResponse.Body, maxRESTResponseBytes))
	if httpResponse.StatusCode >= http.StatusBadRequest {
		return apierror.ClassifyResponse(httpResponse.StatusCode, string(responseBody), httpResponse.Header)
	}
	return nil
}

// uploadForm sends a non-multipart upload command and decodes the response.
func (apiClient *Client) uploadForm(ctx context.Context, form url.Values) (*uploadResponse, *apierror.APIError) {
	httpRequest, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, apiClient.uploadURL,
		strings.NewReader(form.Encode()))
	if buildErr != nil {
		return nil, apierror.NetworkError(buildErr)
	}
	httpRequest.Header.Set(contentTypeHeaderName, contentTypeForm)
	apiClient.session.Assemble(ctx, httpRequest)

	body, failure := apiClient.do(httpRequest)
	if failure != nil {
		return nil, failure
	}
	decoded := &uploadResponse{}
	if len(body) > 0 {
		if unmarshalErr := json.Unmarshal(body, decoded); unmarshalErr != nil {
			return nil, apierror.New(apierror.KindUnknown, "upload response was not valid JSON")
		}
	}
	return decoded, nil
}

// awaitProcessing polls STATUS while the upstream reports the media as
// still processing. Polling is bounded; a media still pending after the
// last poll is surfaced as unavailable.
func (apiClient *Client) awaitProcessing(ctx context.Context, mediaID string, current *uploadResponse) *apierror.APIError {
	for poll := 0; poll < uploadMaxStatusPolls; poll++ {
		info := current.ProcessingInfo
		if info == nil {
			return nil
		}
		switch info.State {
		case processingStatePending, processingStateInProgress:
		case processingStateFailed:
			message := "media processing failed"
			if info.Error != nil && info.Error.Message != "" {
				message = info.Error.Message
			}
			return apierror.New(apierror.KindUnavailable, message)
		default:
			return nil
		}

		waitInterval := time.Duration(info.CheckAfterSecs) * time.Second
		if waitInterval <= 0 {
			waitInterval = time.Second
		}
		if waitInterval > uploadMaxPollInterval {
			waitInterval = uploadMaxPollInterval
		}
		select {
		case <-ctx.Done():
			return apierror.NetworkError(ctx.Err())
		case <-time.After(waitInterval):
		}

		statusQuery := url.Values{
			"command":  {uploadCommandStatus},
			"media_id": {mediaID},
		}
		statusRequest, buildErr := http.NewRequestWithContext(ctx, http.MethodGet,
			apiClient.uploadURL+"?"+statusQuery.Encode(), nil)
		if buildErr != nil {
			return apierror.NetworkError(buildErr)
		}
		apiClient.session.Assemble(ctx, statusRequest)
		body, failure := apiClient.do(statusRequest)
		if failure != nil {
			return failure
		}
		next := &uploadResponse{}
		if unmarshalErr := json.Unmarshal(body, next); unmarshalErr != nil {
			return apierror.New(apierror.KindUnknown, "status response was not valid JSON")
		}
		current = next
	}
	return apierror.New(apierror.KindUnavailable,
		fmt.Sprintf("media %s still processing after %d status polls", mediaID, uploadMaxStatusPolls))
}
