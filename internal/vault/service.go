package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"video-vault/internal/platform/metrics"
)

// ErrForbidden is returned for a stream request whose token is missing,
// malformed, tampered with, or expired.
var ErrForbidden = errors.New("invalid or expired stream token")

// defaultRange is forwarded upstream when the client sent no Range header.
const defaultRange = "bytes=0-"

// BotAPI is the service's view of the chat platform adapter: upload and
// delete for the catalog write path, URL resolution and fetch for the
// small-file streaming path.
type BotAPI interface {
	Upload(ctx context.Context, filename string, size int64, body io.Reader) (fileID, messageID string, err error)
	ResolveFileURL(ctx context.Context, fileID string) (string, error)
	FetchURL(ctx context.Context, url, rangeHeader string) (*http.Response, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

// LargeFileOrigin serves stored files above LargeFileThreshold, keyed by the
// carrier message id.
type LargeFileOrigin interface {
	Fetch(ctx context.Context, messageID, rangeHeader string) (*http.Response, error)
}

// Service implements the catalog operations and the streaming router. It
// holds no per-request state; all durable state lives behind Repository.
type Service struct {
	repo    Repository
	cache   *RecordCache
	tokens  *TokenCodec
	bot     BotAPI
	relay   LargeFileOrigin
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewService wires the service from its collaborators. Metrics may be nil.
func NewService(repo Repository, cache *RecordCache, tokens *TokenCodec, bot BotAPI, relay LargeFileOrigin, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		cache:   cache,
		tokens:  tokens,
		bot:     bot,
		relay:   relay,
		logger:  logger.With(slog.String("component", "vault_service")),
		metrics: m,
	}
}

// Upload stores the file on the chat platform and creates the catalog entry.
// Duration and dimensions are unknown on this path (no probing); they can be
// supplied later via SaveMetadata.
func (s *Service) Upload(ctx context.Context, title, description, filename string, size int64, body io.Reader) (*VideoRecord, error) {
	fileID, messageID, err := s.bot.Upload(ctx, filename, size, body)
	if err != nil {
		return nil, fmt.Errorf("storing %s on chat platform: %w", filename, err)
	}

	record := &VideoRecord{
		ID:          NewVideoID(),
		Title:       title,
		Description: description,
		FileID:      fileID,
		MessageID:   messageID,
		FileSize:    size,
		MimeType:    "video/mp4",
		UploadDate:  time.Now().UTC(),
	}
	if err := s.repo.CreateVideo(ctx, record); err != nil {
		return nil, err
	}
	s.cache.Set(record.ID, record)
	s.metrics.IncUploads()

	s.logger.Info("video created",
		slog.String("video_id", record.ID),
		slog.String("title", record.Title),
		slog.Int64("size", record.FileSize),
		slog.Bool("is_large", record.IsLarge()),
	)
	return record, nil
}

// SaveMetadata creates a catalog entry from a record the caller resolved
// externally (the file already lives on the chat platform). The record must
// carry an id; a zero UploadDate is set to now.
func (s *Service) SaveMetadata(ctx context.Context, record *VideoRecord) error {
	if record.UploadDate.IsZero() {
		record.UploadDate = time.Now().UTC()
	}
	if err := s.repo.CreateVideo(ctx, record); err != nil {
		return err
	}
	s.cache.Set(record.ID, record)
	return nil
}

// Get returns the record plus a freshly minted stream URL. Every call mints
// a new token; outstanding tokens stay valid until their own expiry.
func (s *Service) Get(ctx context.Context, id string) (*VideoDetails, error) {
	record, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	signature, expiresAt := s.tokens.Mint(id)
	return &VideoDetails{
		VideoRecord: *record,
		StreamURL:   fmt.Sprintf("/api/video/%s/stream?signature=%s&expires=%d", id, signature, expiresAt),
	}, nil
}

// List returns all records in catalog index order (newest first).
func (s *Service) List(ctx context.Context) ([]*VideoRecord, error) {
	return s.repo.ListVideos(ctx)
}

// Delete removes the video: the carrier message on the chat platform
// (best-effort; the catalog entry goes regardless), the index entry, and the
// record. Returns ErrVideoNotFound for an unknown id.
func (s *Service) Delete(ctx context.Context, id string) error {
	record, err := s.getRecord(ctx, id)
	if err != nil {
		return err
	}

	if record.MessageID != "" {
		if err := s.bot.DeleteMessage(ctx, record.MessageID); err != nil {
			s.logger.Warn("deleting chat message failed, removing catalog entry anyway",
				slog.String("video_id", id),
				slog.String("message_id", record.MessageID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.repo.DeleteVideo(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(id)

	s.logger.Info("video deleted", slog.String("video_id", id))
	return nil
}

// Stream verifies the token, selects the upstream by file size, and relays
// the byte stream into w.
//
// Pipeline:
//  1. Verify signature/expiry (ErrForbidden on failure).
//  2. Look up the record, cache first (ErrVideoNotFound on absence).
//  3. Bump the view counter, best-effort.
//  4. Size at or under LargeFileThreshold: resolve the file handle to a
//     direct URL and fetch it. Above: fetch from the relay by message id.
//     The client's Range header is forwarded verbatim (bytes=0- if absent).
//  5. Relay the body unbuffered. 206 passes through; any other success
//     status is normalized to 200.
//
// Once the upstream answered 200/206 the response headers are committed;
// errors after that point are logged and swallowed, since nothing useful can
// reach the client anymore.
func (s *Service) Stream(ctx context.Context, w http.ResponseWriter, videoID, signature, expires, rangeHeader string) error {
	if !s.tokens.Verify(videoID, signature, expires) {
		s.metrics.IncStreams("forbidden")
		return ErrForbidden
	}

	record, err := s.getRecord(ctx, videoID)
	if errors.Is(err, ErrVideoNotFound) {
		s.metrics.IncStreams("not_found")
		return err
	}
	if err != nil {
		s.metrics.IncStreams("error")
		return err
	}

	s.bumpViews(ctx, record)

	if rangeHeader == "" {
		rangeHeader = defaultRange
	}

	start := time.Now()
	s.metrics.IncActiveStreams()
	defer s.metrics.DecActiveStreams()

	var resp *http.Response
	if record.IsLarge() {
		resp, err = s.relay.Fetch(ctx, record.MessageID, rangeHeader)
	} else {
		var url string
		url, err = s.bot.ResolveFileURL(ctx, record.FileID)
		if err == nil {
			resp, err = s.bot.FetchURL(ctx, url, rangeHeader)
		}
	}
	if err != nil {
		s.metrics.IncStreams("upstream_error")
		return fmt.Errorf("fetching bytes for video %s: %w", videoID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		s.metrics.IncStreams("upstream_error")
		return &UpstreamError{StatusCode: resp.StatusCode}
	}

	writeStreamHeaders(w, resp)
	status := http.StatusOK
	if resp.StatusCode == http.StatusPartialContent {
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		s.logger.Error("stream interrupted",
			slog.String("video_id", videoID),
			slog.Int64("bytes_written", written),
			slog.String("error", err.Error()),
		)
		s.metrics.IncStreams("interrupted")
		return nil
	}

	s.metrics.IncStreams("success")
	s.metrics.AddStreamBytes(written)
	s.metrics.ObserveStreamDuration(time.Since(start))

	s.logger.Debug("stream complete",
		slog.String("video_id", videoID),
		slog.Int64("bytes", written),
		slog.Int("status", status),
	)
	return nil
}

// getRecord reads the record through the cache.
func (s *Service) getRecord(ctx context.Context, id string) (*VideoRecord, error) {
	if record, ok := s.cache.Get(id); ok {
		return record, nil
	}
	record, err := s.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(id, record)
	return record, nil
}

// bumpViews persists an incremented view counter. Cached records are shared
// between concurrent requests and treated as immutable, so the increment
// happens on a copy; the copy replaces the cache entry once persisted. A
// persistence failure must not fail the stream, so it is only logged.
// Concurrent streams of the same id can lose increments; the counter is
// informational.
func (s *Service) bumpViews(ctx context.Context, record *VideoRecord) {
	updated := *record
	updated.Views++
	if err := s.repo.PutVideo(ctx, &updated); err != nil {
		s.logger.Warn("persisting view count failed",
			slog.String("video_id", updated.ID),
			slog.Int64("views", updated.Views),
			slog.String("error", err.Error()),
		)
		return
	}
	s.cache.Set(updated.ID, &updated)
}

// writeStreamHeaders sets the playback response headers. Content-Type and
// Accept-Ranges are forced; Content-Range and Content-Length pass through
// verbatim. Nothing else is copied, so upstream-identifying headers never
// leak to clients.
func writeStreamHeaders(w http.ResponseWriter, resp *http.Response) {
	h := w.Header()
	h.Set("Content-Type", "video/mp4")
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "public, max-age=3600")
	for _, name := range []string{"Content-Range", "Content-Length"} {
		if v := resp.Header.Get(name); v != "" {
			h.Set(name, v)
		}
	}
}
