package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// UpstreamError reports a non-success HTTP status from one of the origins or
// from the chat platform's bot API. The status code is kept for diagnostics.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// newOriginHTTPClient builds the shared client shape for origin traffic.
// No overall timeout: uploads and relayed streams legitimately run for
// minutes. Slow or dead upstreams are caught by the header timeout instead.
func newOriginHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// BotClient is the adapter over the chat platform's bot HTTP API. The
// platform stores uploaded files as message attachments in a configured
// channel; this client uploads files, resolves stored files to direct
// time-limited fetch URLs (the small-file origin), and deletes the carrier
// messages.
type BotClient struct {
	baseURL    string
	token      string
	channelID  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBotClient returns a client for the bot API at baseURL, authenticating
// with the bot token and operating on the given channel.
func NewBotClient(baseURL, token, channelID string, logger *slog.Logger) *BotClient {
	return &BotClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		channelID:  channelID,
		httpClient: newOriginHTTPClient(),
		logger:     logger.With(slog.String("component", "bot_client")),
	}
}

// Upload stores the file on the chat platform as a message attachment in the
// configured channel and returns the attachment's file id plus the carrier
// message id. The body is streamed, never buffered in memory.
func (c *BotClient) Upload(ctx context.Context, filename string, size int64, body io.Reader) (fileID, messageID string, err error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, body); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	url := fmt.Sprintf("%s/channels/%s/files", c.baseURL, c.channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return "", "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("uploading %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", "", &UpstreamError{StatusCode: resp.StatusCode}
	}

	var out struct {
		FileID    string `json:"fileId"`
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("decoding upload response: %w", err)
	}

	c.logger.Debug("file uploaded",
		slog.String("filename", filename),
		slog.Int64("size", size),
		slog.String("file_id", out.FileID),
		slog.String("message_id", out.MessageID),
	)
	return out.FileID, out.MessageID, nil
}

// ResolveFileURL asks the platform for a direct, time-limited fetch URL for
// the stored file. The URL is only valid briefly; callers fetch it right away
// and never persist it.
func (c *BotClient) ResolveFileURL(ctx context.Context, fileID string) (string, error) {
	url := fmt.Sprintf("%s/files/%s", c.baseURL, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("building resolve request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolving file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{StatusCode: resp.StatusCode}
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding resolve response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("resolve response for file %s has no url", fileID)
	}
	return out.URL, nil
}

// FetchURL issues a GET against a resolved fetch URL, forwarding the given
// Range header. The caller owns resp.Body and must close it.
func (c *BotClient) FetchURL(ctx context.Context, url, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building fetch request: %w", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching file bytes: %w", err)
	}
	return resp, nil
}

// DeleteMessage removes the carrier message (and with it the stored file)
// from the channel.
func (c *BotClient) DeleteMessage(ctx context.Context, messageID string) error {
	url := fmt.Sprintf("%s/channels/%s/messages/%s", c.baseURL, c.channelID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("building delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting message %s: %w", messageID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		// 404 means the message is already gone, which is the desired state.
		return nil
	default:
		return &UpstreamError{StatusCode: resp.StatusCode}
	}
}

// RelayClient fetches video bytes from the large-file delivery service: an
// opaque byte-range-capable HTTP origin keyed by the carrier message id.
type RelayClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRelayClient returns a client for the relay origin at baseURL.
func NewRelayClient(baseURL string) *RelayClient {
	return &RelayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newOriginHTTPClient(),
	}
}

// Fetch issues a GET for the file carried by messageID, forwarding the given
// Range header. The caller owns resp.Body and must close it.
func (c *RelayClient) Fetch(ctx context.Context, messageID, rangeHeader string) (*http.Response, error) {
	url := fmt.Sprintf("%s/stream/%s", c.baseURL, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building relay request: %w", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching from relay: %w", err)
	}
	return resp, nil
}
