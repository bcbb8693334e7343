package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"

	"github.com/cloudpin/resumable/internal/logging"
)

const (
	headerUploadLength   = "Upload-Length"
	headerUploadMetadata = "Upload-Metadata"
	headerUploadOffset   = "Upload-Offset"
	headerUploadCid      = "Upload-Cid"
	headerSource         = "Source"

	// chunkContentType is the media type required on every PATCH.
	chunkContentType = "application/offset+octet-stream"

	// defaultSource identifies this client to the remote unless the
	// caller overrides the Source header.
	defaultSource = "sdk/go"
)

// Client speaks the creation and chunk operations of the resumable
// upload protocol. It owns no transfer state; the session layer drives
// it one request at a time.
type Client struct {
	httpClient *nethttp.Client
	authToken  string
	logger     *logging.Logger
}

// NewClient creates a protocol client. A nil httpClient falls back to
// http.DefaultClient; authToken, when set, is sent as a bearer token on
// every request.
func NewClient(httpClient *nethttp.Client, authToken string, logger *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = nethttp.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		authToken:  authToken,
		logger:     logger,
	}
}

// CreateSession issues the creation POST and returns the resumable
// upload target from the Location header.
//
// Classification: 401/403 is an AuthError (never retried); any other
// non-2xx is a TransferError left to the retry policy; a 2xx response
// without a Location header is a ProtocolError.
func (c *Client) CreateSession(ctx context.Context, endpoint string, totalSize int64, meta Metadata, headers map[string]string) (string, error) {
	encoded, err := meta.Encode()
	if err != nil {
		return "", err
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build creation request: %w", err)
	}
	req.Header.Set(headerUploadLength, strconv.FormatInt(totalSize, 10))
	if encoded != "" {
		req.Header.Set(headerUploadMetadata, encoded)
	}
	c.applyCommonHeaders(req, headers)

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int64("upload_length", totalSize).
		Msg("creating upload session")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("creation request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == nethttp.StatusUnauthorized || resp.StatusCode == nethttp.StatusForbidden:
		return "", &AuthError{Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", &TransferError{Status: resp.StatusCode, Op: "create"}
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", &ProtocolError{Reason: "creation response missing Location header"}
	}

	c.logger.Debug().Str("upload_url", location).Msg("upload session created")
	return location, nil
}

// SendChunk issues one offset-addressed PATCH carrying the chunk bytes.
// On 2xx the response headers are returned for the session to consume
// during finalization. 401/403 is an AuthError; any other non-2xx a
// TransferError; transport errors come back opaque with no status.
func (c *Client) SendChunk(ctx context.Context, uploadURL string, offset int64, body []byte, headers map[string]string) (nethttp.Header, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPatch, uploadURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chunk request: %w", err)
	}
	req.Header.Set("Content-Type", chunkContentType)
	req.Header.Set(headerUploadOffset, strconv.FormatInt(offset, 10))
	req.ContentLength = int64(len(body))
	c.applyCommonHeaders(req, headers)

	c.logger.Debug().
		Int64("offset", offset).
		Int("bytes", len(body)).
		Msg("sending chunk")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chunk request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == nethttp.StatusUnauthorized || resp.StatusCode == nethttp.StatusForbidden:
		return nil, &AuthError{Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &TransferError{Status: resp.StatusCode, Op: "chunk"}
	}

	return resp.Header.Clone(), nil
}

// ObjectIdentifier extracts the completed object's identifier from the
// final chunk response headers. An empty result is not an error; some
// servers never report one.
func ObjectIdentifier(headers nethttp.Header) string {
	if headers == nil {
		return ""
	}
	return headers.Get(headerUploadCid)
}

// applyCommonHeaders sets the default Source header, the bearer token,
// and then the caller's custom headers, which override both.
func (c *Client) applyCommonHeaders(req *nethttp.Request, headers map[string]string) {
	req.Header.Set(headerSource, defaultSource)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// drainAndClose consumes the remainder of a response body so the
// underlying connection can be reused, then closes it.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
