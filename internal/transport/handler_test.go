package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"go-analysis-console/internal/apiclient"
	"go-analysis-console/internal/dispatcher"
	"go-analysis-console/internal/history"
	"go-analysis-console/internal/observer"
	"go-analysis-console/internal/preview"
	"go-analysis-console/internal/session"
	"go-analysis-console/internal/workerpool"
	"go-analysis-console/pkg/models"

	"github.com/gin-gonic/gin"
)

const pngBytes = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

func analysisService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"classification_models":[{"name":"resnet50"}],"segmentation_models":[{"name":"yolo"}]}`)
	})
	mux.HandleFunc("/api/segment", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"result_image":"seg1.png","num_detections":1,
			"detections":[{"class_id":0,"class_name":"leaf","confidence":0.8,"box":[1,2,3,4]}],"processing_time":"0.3s"}`)
	})
	mux.HandleFunc("/api/image/seg1.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		io.WriteString(w, pngBytes)
	})
	mux.HandleFunc("/api/predictions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"predictions":[],"count":0}`)
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"total_predictions":0,"by_type":{},"available_models":{"classification":[],"segmentation":[]}}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	server := analysisService(t)
	client := apiclient.New(server.URL+"/api", 5*time.Second)
	pool := workerpool.NewWorkerPool(2)
	pool.Start()
	t.Cleanup(pool.Close)

	events := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	events.Subscribe(metrics)
	syncer := history.New(client, pool, 10, events)
	events.Subscribe(syncer)

	previews := preview.NewManager("/preview/")
	sess := session.New(session.Options{
		Previews:          previews,
		Dispatcher:        dispatcher.New(client, events, 5*time.Second),
		History:           syncer,
		Models:            client,
		DefaultConfidence: 0.25,
		DefaultTopK:       3,
	})

	return NewHandler(Dependencies{
		Session:        sess,
		Previews:       previews,
		Images:         client,
		Metrics:        metrics,
		Pool:           pool,
		MaxUploadSize:  1 << 20,
		RequestTimeout: 5 * time.Second,
		SyncTimeout:    5 * time.Second,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func upload(t *testing.T, h http.Handler, name, contentType, data, source string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if source != "" {
		mw.WriteField("source", source)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(part, data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("Invalid snapshot %s: %v", w.Body.String(), err)
	}
	return snap
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid error body %s: %v", w.Body.String(), err)
	}
	return resp
}

func TestHealthCheck(t *testing.T) {
	h := newTestRouter(t)
	w := do(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "available" || body["metrics"] == nil || body["workers"] == nil {
		t.Errorf("Unexpected health body %v", body)
	}
}

func TestUploadAndPreview(t *testing.T) {
	h := newTestRouter(t)

	w := upload(t, h, "leaf.png", "image/png", pngBytes, "input")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	snap := decodeSnapshot(t, w)
	if snap.Upload.State != "selected" || snap.Upload.File == nil || snap.Upload.PreviewURL == "" {
		t.Fatalf("Unexpected upload view %+v", snap.Upload)
	}

	w = do(t, h, http.MethodGet, snap.Upload.PreviewURL, "")
	if w.Code != http.StatusOK || w.Body.String() != pngBytes {
		t.Errorf("Preview not served: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Unexpected preview content type %s", ct)
	}

	w = do(t, h, http.MethodDelete, "/api/file", "")
	if snap := decodeSnapshot(t, w); snap.Upload.State != "empty" {
		t.Errorf("Expected empty zone after clear, got %s", snap.Upload.State)
	}
	if w := do(t, h, http.MethodGet, snap.Upload.PreviewURL, ""); w.Code != http.StatusNotFound {
		t.Errorf("Released preview must be gone, got %d", w.Code)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	h := newTestRouter(t)
	w := upload(t, h, "notes.txt", "text/plain", "hello", "drop")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Type != "validation" || resp.Message != "Please upload image files only" {
		t.Errorf("Unexpected error %+v", resp)
	}

	snap := decodeSnapshot(t, do(t, h, http.MethodGet, "/api/view", ""))
	if snap.Upload.State != "empty" || snap.Notice == nil {
		t.Errorf("Unexpected view after rejection %+v", snap)
	}
}

func TestDragFlow(t *testing.T) {
	h := newTestRouter(t)

	if snap := decodeSnapshot(t, do(t, h, http.MethodPost, "/api/drag/enter", "")); snap.Upload.State != "dragging" {
		t.Fatalf("Expected dragging, got %s", snap.Upload.State)
	}
	snap := decodeSnapshot(t, do(t, h, http.MethodPost, "/api/drag/leave", `{"related_inside":true}`))
	if snap.Upload.State != "dragging" {
		t.Errorf("Leaving into a child must keep dragging, got %s", snap.Upload.State)
	}
	snap = decodeSnapshot(t, do(t, h, http.MethodPost, "/api/drag/leave", ""))
	if snap.Upload.State != "empty" {
		t.Errorf("Expected empty, got %s", snap.Upload.State)
	}
}

func TestSubmitWithoutFile(t *testing.T) {
	h := newTestRouter(t)
	w := do(t, h, http.MethodPost, "/api/submit", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Message != "Please select an image first" {
		t.Errorf("Unexpected message %q", resp.Message)
	}
}

func TestSegmentationFlow(t *testing.T) {
	h := newTestRouter(t)

	if w := do(t, h, http.MethodPost, "/api/mode", `{"mode":"segmentation"}`); w.Code != http.StatusOK {
		t.Fatalf("SetMode: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodPost, "/api/params", `{"confidence":0.5}`); w.Code != http.StatusOK {
		t.Fatalf("SetParams: %d", w.Code)
	}
	upload(t, h, "leaf.png", "image/png", pngBytes, "input")

	w := do(t, h, http.MethodPost, "/api/submit", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Submit: %d %s", w.Code, w.Body.String())
	}
	snap := decodeSnapshot(t, w)
	if snap.Result == nil || snap.Result.Segmentation == nil || len(snap.Result.Segmentation.Detections) != 1 {
		t.Fatalf("Unexpected result %+v", snap.Result)
	}
	if snap.Confidence != 0.5 || snap.Loading {
		t.Errorf("Unexpected snapshot %+v", snap)
	}

	w = do(t, h, http.MethodGet, snap.Result.ResultImageURL, "")
	if w.Code != http.StatusOK || w.Body.String() != pngBytes {
		t.Errorf("Result image not proxied: %d", w.Code)
	}
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"unknown mode", http.MethodPost, "/api/mode", `{"mode":"gallery"}`, http.StatusBadRequest},
		{"missing mode", http.MethodPost, "/api/mode", `{}`, http.StatusBadRequest},
		{"malformed params", http.MethodPost, "/api/params", `{"top_k":"three"}`, http.StatusBadRequest},
		{"blob storage disabled", http.MethodPost, "/api/file/blob", `{"container":"c","blob":"b.png"}`, http.StatusNotFound},
		{"unknown preview", http.MethodGet, "/preview/nope", "", http.StatusNotFound},
		{"unknown result image", http.MethodGet, "/results/image/missing.png", "", http.StatusNotFound},
	}

	h := newTestRouter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.code {
				t.Errorf("Expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestHistoryEndpoints(t *testing.T) {
	h := newTestRouter(t)
	w := do(t, h, http.MethodPost, "/api/history/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var view history.View
	json.Unmarshal(w.Body.Bytes(), &view)
	if !view.Ready || view.Stats == nil {
		t.Errorf("Unexpected view %+v", view)
	}

	w = do(t, h, http.MethodGet, "/api/history", "")
	json.Unmarshal(w.Body.Bytes(), &view)
	if !view.Ready {
		t.Error("History view must stay ready")
	}
}
