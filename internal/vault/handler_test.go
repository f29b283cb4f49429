package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T, f *fakeOrigins) (*chi.Mux, *StoreRepository) {
	t.Helper()
	svc, repo := newTestService(t, f)
	h := NewHandler(svc, testLogger(), nil)

	r := chi.NewRouter()
	r.Use(CORS)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/upload", h.Upload)
		r.Post("/save-metadata", h.SaveMetadata)
		r.Get("/videos", h.ListVideos)
		r.Route("/video/{id}", func(r chi.Router) {
			r.Get("/", h.GetVideo)
			r.Get("/stream", h.StreamVideo)
			r.Delete("/", h.DeleteVideo)
		})
	})
	return r, repo
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, out
}

func TestHandler_EndToEnd(t *testing.T) {
	f := newFakeOrigins(t)
	r, _ := newTestRouter(t, f)

	// Create a record via save-metadata.
	rec, out := doJSON(t, r, http.MethodPost, "/api/save-metadata", map[string]any{
		"id":        "abc123",
		"title":     "test clip",
		"fileId":    "file-abc",
		"messageId": "msg-abc",
		"fileSize":  1000,
	})
	if rec.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("save-metadata: %d %v", rec.Code, out)
	}

	// Get the video; expect a stream URL with signature and expiry.
	rec, out = doJSON(t, r, http.MethodGet, "/api/video/abc123", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get video: %d %s", rec.Code, rec.Body.String())
	}
	video, ok := out["video"].(map[string]any)
	if !ok {
		t.Fatalf("missing video object: %v", out)
	}
	streamURL, _ := video["streamUrl"].(string)
	if streamURL == "" {
		t.Fatal("missing streamUrl")
	}

	// Stream through the minted URL.
	req := httptest.NewRequest(http.MethodGet, streamURL, nil)
	streamRec := httptest.NewRecorder()
	r.ServeHTTP(streamRec, req)
	if streamRec.Code != http.StatusOK {
		t.Fatalf("stream: %d %s", streamRec.Code, streamRec.Body.String())
	}
	if got := streamRec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges: got %q", got)
	}
	if got := streamRec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type: got %q", got)
	}

	// The catalog lists abc123 exactly once.
	rec, out = doJSON(t, r, http.MethodGet, "/api/videos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	videos, _ := out["videos"].([]any)
	count := 0
	for _, v := range videos {
		if v.(map[string]any)["id"] == "abc123" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("abc123 should appear exactly once, got %d in %v", count, videos)
	}

	// Delete, then both get and list must no longer see it.
	rec, out = doJSON(t, r, http.MethodDelete, "/api/video/abc123", nil)
	if rec.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("delete: %d %v", rec.Code, out)
	}
	rec, _ = doJSON(t, r, http.MethodGet, "/api/video/abc123", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d, want 404", rec.Code)
	}
	_, out = doJSON(t, r, http.MethodGet, "/api/videos", nil)
	if videos, _ := out["videos"].([]any); len(videos) != 0 {
		t.Errorf("list after delete: got %v", videos)
	}
}

func TestHandler_SaveMetadata_missingID(t *testing.T) {
	f := newFakeOrigins(t)
	r, _ := newTestRouter(t, f)

	rec, out := doJSON(t, r, http.MethodPost, "/api/save-metadata", map[string]any{"title": "no id"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if out["success"] != false || out["error"] == "" {
		t.Errorf("expected error envelope, got %v", out)
	}
}

func TestHandler_SaveMetadata_badJSON(t *testing.T) {
	f := newFakeOrigins(t)
	r, _ := newTestRouter(t, f)

	req := httptest.NewRequest(http.MethodPost, "/api/save-metadata", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Upload(t *testing.T) {
	f := newFakeOrigins(t)
	r, repo := newTestRouter(t, f)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", "uploaded clip")
	_ = mw.WriteField("description", "via multipart")
	part, err := mw.CreateFormFile("video", "clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("clip bytes"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out["success"] != true || out["isLarge"] != false {
		t.Errorf("upload response: %v", out)
	}
	videoID, _ := out["videoId"].(string)
	if len(videoID) != 32 {
		t.Errorf("videoId should be 32 hex chars: %q", videoID)
	}

	ids, _ := repo.ListIDs(req.Context())
	if len(ids) != 1 || ids[0] != videoID {
		t.Errorf("index after upload: %v", ids)
	}
}

func TestHandler_Upload_missingFile(t *testing.T) {
	f := newFakeOrigins(t)
	r, _ := newTestRouter(t, f)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", "no file")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing file, got %d", rec.Code)
	}
}

func TestHandler_Upload_overSizeLimit(t *testing.T) {
	newUploadRequest := func(t *testing.T, fileBytes int) *http.Request {
		t.Helper()
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("video", "big.mp4")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write(bytes.Repeat([]byte("x"), fileBytes))
		_ = mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req
	}

	f := newFakeOrigins(t)
	svc, _ := newTestService(t, f)
	h := NewHandler(svc, testLogger(), nil)
	h.maxUpload = 16

	t.Run("declared_size_over_limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Upload(rec, newUploadRequest(t, 64))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		var out map[string]any
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
		if out["success"] != false || out["error"] == "" {
			t.Errorf("expected error envelope, got %v", out)
		}
	})

	t.Run("body_cut_off_during_read", func(t *testing.T) {
		// Larger than the cap plus the form overhead allowance, so the
		// bounded body reader trips before the form is fully parsed.
		rec := httptest.NewRecorder()
		h.Upload(rec, newUploadRequest(t, 2<<20))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestHandler_Stream_badToken(t *testing.T) {
	f := newFakeOrigins(t)
	r, repo := newTestRouter(t, f)
	_ = repo.CreateVideo(context.Background(), testRecord("v1", 1000))

	req := httptest.NewRequest(http.MethodGet, "/api/video/v1/stream?signature=bogus&expires=99999999999999", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_Stream_expiredToken(t *testing.T) {
	f := newFakeOrigins(t)
	r, repo := newTestRouter(t, f)
	_ = repo.CreateVideo(context.Background(), testRecord("v1", 1000))

	// Expiry in the past; the signature does not matter once expired.
	req := httptest.NewRequest(http.MethodGet, "/api/video/v1/stream?signature=bogus&expires=1000", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_GetVideo_notFound(t *testing.T) {
	f := newFakeOrigins(t)
	r, _ := newTestRouter(t, f)

	rec, out := doJSON(t, r, http.MethodGet, "/api/video/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if out["success"] != false {
		t.Errorf("expected error envelope, got %v", out)
	}
}

func TestHandler_Health(t *testing.T) {
	f := newFakeOrigins(t)
	r, _ := newTestRouter(t, f)

	rec, out := doJSON(t, r, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if out["status"] != "ok" {
		t.Errorf("health body: %v", out)
	}
	if _, ok := out["timestamp"]; !ok {
		t.Error("health body missing timestamp")
	}
}

func TestHandler_CORSPreflight(t *testing.T) {
	f := newFakeOrigins(t)
	r, _ := newTestRouter(t, f)

	req := httptest.NewRequest(http.MethodOptions, "/api/videos", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status: got %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("preflight should have no body, got %q", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin: got %q", got)
	}
}

func TestHandler_CORSHeadersOnNormalResponses(t *testing.T) {
	f := newFakeOrigins(t)
	r, _ := newTestRouter(t, f)

	rec, _ := doJSON(t, r, http.MethodGet, "/api/videos", nil)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin on normal response: got %q", got)
	}
}
