package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"ttpcard/card"
	"ttpcard/crop"
)

func newTestApp(t *testing.T) (*WebApp, *fiber.App) {
	t.Helper()
	composer, err := card.NewComposer(72)
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	t.Cleanup(func() { _ = composer.Close() })

	a := NewWebApp(Config{}, composer)
	ctx := zerolog.Nop().WithContext(context.Background())
	return a, a.newFiberApp(ctx)
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	res, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, body
}

func jsonRequest(method, path string, v any) *http.Request {
	data, _ := json.Marshal(v)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "photo.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{B: 0xff, A: 0xff})
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func createSession(t *testing.T, app *fiber.App) sessionState {
	t.Helper()
	res, body := do(t, app, uploadRequest(t, pngFixture(t, 300, 400)))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d: %s", res.StatusCode, body)
	}
	var state sessionState
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return state
}

func TestWeb_Config(t *testing.T) {
	_, app := newTestApp(t)
	res, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, body)
	}
	var cfg struct {
		Zoom struct {
			Min, Max, Step float64
		}
		Aspect float64
		Fields card.Fields
	}
	if err := json.Unmarshal(body, &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Zoom.Min != crop.MinZoom || cfg.Zoom.Max != crop.MaxZoom || cfg.Zoom.Step != crop.ZoomStep {
		t.Fatalf("unexpected zoom config %+v", cfg.Zoom)
	}
	if diff := cmp.Diff(card.DefaultFields(), cfg.Fields); diff != "" {
		t.Fatalf("unexpected fields (-want +got):\n%s", diff)
	}
}

func TestWeb_CropSession(t *testing.T) {
	_, app := newTestApp(t)
	state := createSession(t, app)

	want := sessionState{
		ID:     state.ID,
		Width:  300,
		Height: 400,
		Format: "png",
		View:   crop.DefaultViewState(),
		Rect:   crop.Rect{Width: 300, Height: 400},
	}
	if diff := cmp.Diff(want, state); diff != "" {
		t.Fatalf("unexpected state (-want +got):\n%s", diff)
	}

	res, body := do(t, app, jsonRequest(http.MethodPost, "/api/sessions/"+state.ID+"/events", map[string]any{
		"events": []map[string]any{
			{"type": "zoom", "value": 1.5},
			{"type": "pan", "x": 1, "y": 0},
		},
	}))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: status %d: %s", res.StatusCode, body)
	}
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if diff := cmp.Diff(crop.Rect{X: 100, Y: 67, Width: 200, Height: 267}, state.Rect); diff != "" {
		t.Fatalf("unexpected rect (-want +got):\n%s", diff)
	}

	res, body = do(t, app, httptest.NewRequest(http.MethodGet, "/api/sessions/"+state.ID+"/photo", nil))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("photo before confirm: status %d: %s", res.StatusCode, body)
	}

	res, body = do(t, app, httptest.NewRequest(http.MethodPost, "/api/sessions/"+state.ID+"/confirm", nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm: status %d: %s", res.StatusCode, body)
	}
	var confirmed struct {
		Width, Height int
		MIME          string
		DataURI       string
	}
	if err := json.Unmarshal(body, &confirmed); err != nil {
		t.Fatalf("decode confirm: %v", err)
	}
	if confirmed.Width != 200 || confirmed.Height != 267 {
		t.Fatalf("confirmed %dx%d, want 200x267", confirmed.Width, confirmed.Height)
	}
	if !strings.HasPrefix(confirmed.DataURI, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected data uri prefix %.32q", confirmed.DataURI)
	}

	res, body = do(t, app, httptest.NewRequest(http.MethodGet, "/api/sessions/"+state.ID+"/photo", nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("photo: status %d: %s", res.StatusCode, body)
	}
	if ct := res.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("photo content type %q", ct)
	}
	photo, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode photo: %v", err)
	}
	if b := photo.Bounds(); b.Dx() != 200 || b.Dy() != 267 {
		t.Fatalf("photo bounds %v", b)
	}

	res, _ = do(t, app, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+state.ID, nil))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", res.StatusCode)
	}
	res, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/api/sessions/"+state.ID, nil))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", res.StatusCode)
	}
}

func TestWeb_CardPreviewAndPDF(t *testing.T) {
	a, app := newTestApp(t)
	state := createSession(t, app)
	res, body := do(t, app, httptest.NewRequest(http.MethodPost, "/api/sessions/"+state.ID+"/confirm", nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm: status %d: %s", res.StatusCode, body)
	}

	request := map[string]any{"session": state.ID, "fields": card.DefaultFields()}

	res, body = do(t, app, jsonRequest(http.MethodPost, "/api/card/preview", request))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview: status %d: %s", res.StatusCode, body)
	}
	if ct := res.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("preview content type %q", ct)
	}
	preview, err := imaging.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	w, h := a.composer.SurfaceSize()
	if b := preview.Bounds(); b.Dx() != w || b.Dy() != h {
		t.Fatalf("preview bounds %v, want %dx%d", b, w, h)
	}

	res, body = do(t, app, jsonRequest(http.MethodPost, "/api/card/pdf", request))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pdf: status %d: %s", res.StatusCode, body)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("pdf content type %q", ct)
	}
	if cd := res.Header.Get("Content-Disposition"); !strings.Contains(cd, card.DefaultFileName) {
		t.Fatalf("pdf content disposition %q", cd)
	}
	if !bytes.HasPrefix(body, []byte("%PDF-")) {
		t.Fatalf("missing pdf header")
	}
}

func TestWeb_CardWithoutSessionUsesPlaceholder(t *testing.T) {
	_, app := newTestApp(t)
	res, body := do(t, app, jsonRequest(http.MethodPost, "/api/card/preview", map[string]any{}))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview: status %d: %s", res.StatusCode, body)
	}
}

func TestWeb_Errors(t *testing.T) {
	_, app := newTestApp(t)
	state := createSession(t, app)

	long := card.DefaultFields()
	long.PatientName = strings.Repeat("x", card.MaxFieldLength+1)

	tests := []struct {
		name string
		req  *http.Request
		code int
	}{
		{"corrupt upload", uploadRequest(t, []byte("not an image")), http.StatusUnprocessableEntity},
		{"missing upload", httptest.NewRequest(http.MethodPost, "/api/sessions", nil), http.StatusBadRequest},
		{"unknown session", httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil), http.StatusNotFound},
		{"unknown session events", jsonRequest(http.MethodPost, "/api/sessions/nope/events", map[string]any{"events": []any{}}), http.StatusNotFound},
		{"unknown event", jsonRequest(http.MethodPost, "/api/sessions/"+state.ID+"/events", map[string]any{
			"events": []map[string]any{{"type": "rotate"}},
		}), http.StatusBadRequest},
		{"unknown confirm", httptest.NewRequest(http.MethodPost, "/api/sessions/nope/confirm", nil), http.StatusNotFound},
		{"invalid fields", jsonRequest(http.MethodPost, "/api/card/pdf", map[string]any{"fields": long}), http.StatusBadRequest},
		{"card for unknown session", jsonRequest(http.MethodPost, "/api/card/preview", map[string]any{"session": "nope"}), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, body := do(t, app, tt.req)
			if res.StatusCode != tt.code {
				t.Fatalf("status %d, want %d: %s", res.StatusCode, tt.code, body)
			}
			var payload struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
				t.Fatalf("expected json error body, got %s", body)
			}
		})
	}
}

func TestWeb_ServesEditorPage(t *testing.T) {
	_, app := newTestApp(t)
	res, body := do(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	if !bytes.Contains(body, []byte("<title>Karta TTP</title>")) {
		t.Fatalf("unexpected page: %.64s", body)
	}
}

func TestWeb_Shutdown(t *testing.T) {
	a, app := newTestApp(t)
	res, _ := do(t, app, httptest.NewRequest(http.MethodPost, "/api/shutdown", nil))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status %d", res.StatusCode)
	}
	select {
	case <-a.shutdownCh:
	default:
		t.Fatalf("shutdown channel not closed")
	}

	// a second request must not close the channel twice
	res, _ = do(t, app, httptest.NewRequest(http.MethodPost, "/api/shutdown", nil))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("second shutdown: status %d", res.StatusCode)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{crop.ErrInvalidRegion, http.StatusUnprocessableEntity},
		{crop.ErrRasterizeInProgress, http.StatusConflict},
		{crop.ErrEncodingUnavailable, http.StatusInternalServerError},
		{fiber.ErrMethodNotAllowed, http.StatusMethodNotAllowed},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if code, _ := errorStatus(tt.err); code != tt.code {
			t.Fatalf("errorStatus(%v) = %d, want %d", tt.err, code, tt.code)
		}
	}
}
