package vault

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"video-vault/internal/platform/metrics"
)

// maxUploadBytes caps direct uploads at 2 GiB.
const maxUploadBytes = 2 << 30

// uploadFormOverhead is the allowance for form fields and multipart framing
// on top of the file cap when bounding the request body.
const uploadFormOverhead = 1 << 20

// multipartMemoryLimit is how much of an upload is held in memory before the
// multipart reader spills to a temp file.
const multipartMemoryLimit = 64 << 20

// Handler exposes the vault's HTTP endpoints using go-chi. All non-stream
// responses are JSON envelopes with a success flag; errors carry an error
// string and a status mirroring the error kind (400/403/404/500).
type Handler struct {
	svc       *Service
	log       *slog.Logger
	metrics   *metrics.Metrics
	maxUpload int64
}

// NewHandler returns a Handler that uses the given Service, Logger, and
// optional Metrics. Metrics may be nil to disable metric recording.
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m, maxUpload: maxUploadBytes}
}

// Upload handles POST /api/upload: multipart form with title, description,
// and a video file part. Delegates storage to the chat platform adapter.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	// Bound the body so an oversized upload is cut off mid-read instead of
	// being spooled to disk in full before the size check.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+uploadFormOverhead)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusBadRequest, "file exceeds the upload size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no video file provided")
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		writeError(w, http.StatusBadRequest, "file exceeds the upload size limit")
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	record, err := h.svc.Upload(r.Context(), title, r.FormValue("description"), header.Filename, header.Size, file)
	if err != nil {
		h.log.Error("upload failed",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"videoId":  record.ID,
		"title":    record.Title,
		"duration": record.Duration,
		"fileSize": record.FileSize,
		"isLarge":  record.IsLarge(),
	})
}

// SaveMetadata handles POST /api/save-metadata: the body is a complete
// VideoRecord the caller resolved externally. The id is required.
func (h *Handler) SaveMetadata(w http.ResponseWriter, r *http.Request) {
	var record VideoRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if record.ID == "" {
		writeError(w, http.StatusBadRequest, "missing video id")
		return
	}

	if err := h.svc.SaveMetadata(r.Context(), &record); err != nil {
		h.log.Error("save metadata failed",
			slog.String("video_id", record.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "saving metadata failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "videoId": record.ID})
}

// ListVideos handles GET /api/videos: catalog summaries in index order.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.List(r.Context())
	if err != nil {
		h.log.Error("list videos failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "listing videos failed")
		return
	}

	videos := make([]VideoSummary, 0, len(records))
	for _, record := range records {
		videos = append(videos, record.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "videos": videos})
}

// GetVideo handles GET /api/video/{id}: full metadata plus a freshly minted
// stream URL.
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	details, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrVideoNotFound) {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}
		h.log.Error("get video failed",
			slog.String("video_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "getting video failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "video": details})
}

// StreamVideo handles GET /api/video/{id}/stream?signature=&expires=.
// The response is the relayed byte stream, not a JSON envelope; the error
// boundary is 403 for a bad token, 404 for an unknown id, 500 for store or
// upstream failures.
func (h *Handler) StreamVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	err := h.svc.Stream(r.Context(), w, id, q.Get("signature"), q.Get("expires"), r.Header.Get("Range"))
	if err == nil {
		return
	}

	// Stream errors only surface before any body byte was written, so the
	// response is still ours to shape.
	switch {
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "invalid or expired stream token")
	case errors.Is(err, ErrVideoNotFound):
		writeError(w, http.StatusNotFound, "video not found")
	default:
		h.log.Error("stream failed",
			slog.String("video_id", id),
			slog.String("error", err.Error()),
		)
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			writeError(w, http.StatusInternalServerError, upstream.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "stream failed")
	}
}

// DeleteVideo handles DELETE /api/video/{id}: removes the carrier message,
// the index entry, and the record.
func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.svc.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrVideoNotFound) {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}
		h.log.Error("delete video failed",
			slog.String("video_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "deleting video failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
