package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/intake/internal/config"
	"github.com/JonMunkholm/intake/internal/intake"
)

type testFile struct {
	name      string
	mediaType string
	data      string
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()

	if opts.Upload == nil {
		opts.Upload = func(_ context.Context, p intake.Payload) (string, error) {
			return "mem://" + p.Name(), nil
		}
	}
	if opts.Constraints.Accept == "" {
		opts.Constraints = intake.Constraints{Accept: "*", Multiple: true, MaxFiles: 5}
	}
	opts.EngineOptions = append(opts.EngineOptions, intake.WithProgress(10, time.Millisecond))

	s := NewServer(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func do(t *testing.T, s *Server, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, s *Server, method, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = http.NoBody
	if v != nil {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return do(t, s, method, path, body, "application/json")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func multipartBody(t *testing.T, files ...testFile) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.name))
		if f.mediaType != "" {
			h.Set("Content-Type", f.mediaType)
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.data))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func createSession(t *testing.T, s *Server, constraints any) string {
	t.Helper()
	var body any
	if constraints != nil {
		body = map[string]any{"constraints": constraints}
	}
	rec := doJSON(t, s, http.MethodPost, "/api/sessions/", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[createSessionResponse](t, rec).SessionID
}

func snapshot(t *testing.T, s *Server, id string) intake.Snapshot {
	t.Helper()
	rec := do(t, s, http.MethodGet, "/api/sessions/"+id+"/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[intake.Snapshot](t, rec)
}

func waitIdle(t *testing.T, s *Server, id string) intake.Snapshot {
	t.Helper()
	var snap intake.Snapshot
	require.Eventually(t, func() bool {
		snap = snapshot(t, s, id)
		return !snap.Uploading && len(snap.Entries) > 0 && snap.Entries[len(snap.Entries)-1].Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Options{})
	createSession(t, s, nil)

	rec := do(t, s, http.MethodGet, "/healthz", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Sessions)
	assert.Equal(t, intake.DefaultMaxConcurrentRuns, h.Runs.Available)
}

func TestCreateSession(t *testing.T) {
	s := newTestServer(t, Options{})

	t.Run("defaults without body", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/sessions/", http.NoBody, "")
		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decode[createSessionResponse](t, rec)
		assert.NotEmpty(t, resp.SessionID)
		assert.Equal(t, 5, resp.Constraints.MaxFiles)
		assert.True(t, resp.Constraints.Multiple)
	})

	t.Run("overrides only given fields", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/sessions/", map[string]any{
			"constraints": map[string]any{"accept": "image/*", "maxFiles": 2},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		c := decode[createSessionResponse](t, rec).Constraints
		assert.Equal(t, "image/*", c.Accept)
		assert.Equal(t, 2, c.MaxFiles)
		assert.True(t, c.Multiple)
	})

	t.Run("invalid constraints", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/sessions/", map[string]any{
			"constraints": map[string]any{"maxFiles": 0},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "UPL007", decode[ErrorResponse](t, rec).Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/sessions/", map[string]any{"bogus": true})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUnknownSession(t *testing.T) {
	s := newTestServer(t, Options{})

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/sessions/nope/"},
		{http.MethodDelete, "/api/sessions/nope/"},
		{http.MethodPost, "/api/sessions/nope/reset"},
		{http.MethodGet, "/api/sessions/nope/events"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := do(t, s, tc.method, tc.path, nil, "")
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "UPL003", decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestSelectAcceptsAndRejects(t *testing.T) {
	s := newTestServer(t, Options{})
	id := createSession(t, s, map[string]any{"accept": "image/*", "maxFileSize": 8})

	body, ct := multipartBody(t,
		testFile{name: "a.png", mediaType: "image/png", data: "png"},
		testFile{name: "b.txt", mediaType: "text/plain", data: "txt"},
		testFile{name: "c.png", mediaType: "image/png", data: "far too large"},
	)
	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/select", body, ct)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[intake.AddResult](t, rec)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "a.png", res.Accepted[0].Name)
	assert.Equal(t, intake.StatusPending, res.Accepted[0].Status)
	require.Len(t, res.Rejections, 2)
	assert.Equal(t, intake.ReasonTypeNotAccepted, res.Rejections[0].Reason)
	assert.Equal(t, intake.ReasonTooLarge, res.Rejections[1].Reason)

	snap := snapshot(t, s, id)
	assert.Len(t, snap.Entries, 1)
	assert.Contains(t, snap.LastError, "b.txt")
}

func TestDropSniffsGenericMediaType(t *testing.T) {
	s := newTestServer(t, Options{})
	id := createSession(t, s, nil)

	png := "\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 16)
	body, ct := multipartBody(t, testFile{name: "photo", mediaType: "application/octet-stream", data: png})
	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/drop", body, ct)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[intake.AddResult](t, rec)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "image/png", res.Accepted[0].MediaType)
}

func TestSelectRejectsOversizedRequest(t *testing.T) {
	s := newTestServer(t, Options{MaxRequestBytes: 64})
	id := createSession(t, s, nil)

	body, ct := multipartBody(t, testFile{name: "big.bin", data: strings.Repeat("x", 1024)})
	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/select", body, ct)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDisabledSession(t *testing.T) {
	s := newTestServer(t, Options{})
	id := createSession(t, s, map[string]any{"disabled": true})

	body, ct := multipartBody(t, testFile{name: "a.txt", mediaType: "text/plain", data: "a"})
	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/select", body, ct)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "UPL005", decode[ErrorResponse](t, rec).Code)

	body, ct = multipartBody(t, testFile{name: "a.txt", mediaType: "text/plain", data: "a"})
	rec = do(t, s, http.MethodPost, "/api/sessions/"+id+"/upload", body, ct)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestImport(t *testing.T) {
	s := newTestServer(t, Options{})
	id := createSession(t, s, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/sessions/"+id+"/import", intake.ImportRequest{
		Reference: "https://cdn.example.com/files/report.pdf",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decode[intake.FileDescriptor](t, rec)
	assert.Equal(t, "report.pdf", d.Name)
	assert.Equal(t, intake.StatusSuccess, d.Status)
	assert.Equal(t, 100, d.Progress)
	assert.Equal(t, "https://cdn.example.com/files/report.pdf", d.RemoteReference)

	rec = doJSON(t, s, http.MethodPost, "/api/sessions/"+id+"/import", intake.ImportRequest{Reference: "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/sessions/"+id+"/import", http.NoBody, "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadPerFile(t *testing.T) {
	s := newTestServer(t, Options{})
	id := createSession(t, s, nil)

	body, ct := multipartBody(t,
		testFile{name: "a.txt", mediaType: "text/plain", data: "a"},
		testFile{name: "b.txt", mediaType: "text/plain", data: "b"},
	)
	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/upload", body, ct)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[uploadResponse](t, rec)
	assert.Equal(t, "per-file", resp.Mode)
	assert.Equal(t, 2, resp.Files)

	snap := waitIdle(t, s, id)
	require.Len(t, snap.Entries, 2)
	for _, d := range snap.Entries {
		assert.Equal(t, intake.StatusSuccess, d.Status)
		assert.Equal(t, 100, d.Progress)
		assert.Equal(t, "mem://"+d.Name, d.RemoteReference)
	}
}

func TestUploadBatchFailure(t *testing.T) {
	s := newTestServer(t, Options{
		BatchUpload: func(context.Context, []intake.Payload) ([]string, error) {
			return nil, errors.New("bucket unavailable")
		},
	})
	id := createSession(t, s, nil)

	body, ct := multipartBody(t,
		testFile{name: "a.txt", mediaType: "text/plain", data: "a"},
		testFile{name: "b.txt", mediaType: "text/plain", data: "b"},
	)
	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/upload?mode=batch", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	snap := waitIdle(t, s, id)
	for _, d := range snap.Entries {
		assert.Equal(t, intake.StatusError, d.Status)
		assert.Contains(t, d.ErrorMessage, "bucket unavailable")
	}
	assert.NotEmpty(t, snap.LastError)
}

func TestUploadUnknownMode(t *testing.T) {
	s := newTestServer(t, Options{})
	id := createSession(t, s, nil)

	body, ct := multipartBody(t, testFile{name: "a.txt", mediaType: "text/plain", data: "a"})
	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/upload?mode=batch", body, ct)

	assert.Equal(t, http.StatusBadRequest, rec.Code, "no batch function configured")
}

func TestUploadLimiterExhausted(t *testing.T) {
	limiter := intake.NewRunLimiter(1, 10*time.Millisecond)
	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	s := newTestServer(t, Options{Limiter: limiter})
	id := createSession(t, s, nil)

	body, ct := multipartBody(t, testFile{name: "a.txt", mediaType: "text/plain", data: "a"})
	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/upload", body, ct)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UPL002", decode[ErrorResponse](t, rec).Code)
}

func TestSetConstraints(t *testing.T) {
	s := newTestServer(t, Options{})
	id := createSession(t, s, map[string]any{"accept": "*", "multiple": true, "maxFiles": 5})

	rec := doJSON(t, s, http.MethodPut, "/api/sessions/"+id+"/constraints", map[string]any{"accept": "image/*"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := decode[intake.Constraints](t, rec)
	assert.Equal(t, "image/*", c.Accept)
	assert.Equal(t, 5, c.MaxFiles, "omitted fields keep their values")

	body, ct := multipartBody(t, testFile{name: "a.txt", mediaType: "text/plain", data: "a"})
	rec = do(t, s, http.MethodPost, "/api/sessions/"+id+"/select", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[intake.AddResult](t, rec)
	assert.Empty(t, res.Accepted)
	require.Len(t, res.Rejections, 1)

	rec = doJSON(t, s, http.MethodPut, "/api/sessions/"+id+"/constraints", map[string]any{"maxFiles": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/sessions/"+id+"/constraints", http.NoBody, "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAndRemoveEntry(t *testing.T) {
	s := newTestServer(t, Options{})
	id := createSession(t, s, nil)

	body, ct := multipartBody(t, testFile{name: "a.txt", mediaType: "text/plain", data: "a"})
	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/select", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	entryID := decode[intake.AddResult](t, rec).Accepted[0].ID
	entryPath := "/api/sessions/" + id + "/entries/" + entryID

	rec = doJSON(t, s, http.MethodPatch, entryPath, map[string]any{"status": "uploading", "progress": 40})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[intake.FileDescriptor](t, rec)
	assert.Equal(t, intake.StatusUploading, d.Status)
	assert.Equal(t, 40, d.Progress)

	rec = doJSON(t, s, http.MethodPatch, entryPath, map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "UPL006", decode[ErrorResponse](t, rec).Code)

	rec = do(t, s, http.MethodDelete, entryPath, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodDelete, entryPath, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UPL004", decode[ErrorResponse](t, rec).Code)
}

func TestResetAndDelete(t *testing.T) {
	s := newTestServer(t, Options{})
	id := createSession(t, s, nil)

	body, ct := multipartBody(t, testFile{name: "a.txt", mediaType: "text/plain", data: "a"})
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/sessions/"+id+"/select", body, ct).Code)

	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/reset", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, snapshot(t, s, id).Entries)

	rec = do(t, s, http.MethodDelete, "/api/sessions/"+id+"/", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, s.Sessions().Len())
}

func TestPreview(t *testing.T) {
	s := newTestServer(t, Options{})
	id := createSession(t, s, map[string]any{"preview": true})

	body, ct := multipartBody(t, testFile{name: "a.png", mediaType: "image/png", data: "pixels"})
	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/select", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	ref := decode[intake.AddResult](t, rec).Accepted[0].PreviewReference
	require.True(t, strings.HasPrefix(ref, intake.PreviewScheme), ref)

	rec = do(t, s, http.MethodGet, "/api/sessions/"+id+"/previews/"+strings.TrimPrefix(ref, intake.PreviewScheme), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "pixels", rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/sessions/"+id+"/previews/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsStream(t *testing.T) {
	s := newTestServer(t, Options{})
	id := createSession(t, s, nil)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "event: ") {
				events <- strings.TrimPrefix(line, "event: ")
			}
		}
	}()

	assert.Equal(t, "snapshot", <-events, "current state is sent first")

	require.NoError(t, s.Sessions().Delete(id))

	var last string
	for ev := range events {
		last = ev
	}
	assert.Equal(t, "closed", last)
	wg.Wait()
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/healthz", nil, "")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Options{RateLimit: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil, "").Code)
	}
	rec := do(t, s, http.MethodGet, "/healthz", nil, "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)
}

func TestShutdownReleasesSessions(t *testing.T) {
	s := NewServer(Options{Constraints: intake.DefaultConstraints()})
	createSession(t, s, nil)
	createSession(t, s, nil)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 0, s.Sessions().Len())
	require.NoError(t, s.Shutdown(context.Background()), "second shutdown is a no-op")
}

// serveLive runs s on a loopback listener and returns its base URL and the
// result of Serve.
func serveLive(t *testing.T, s *Server) (string, <-chan error) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(l, config.ServerConfig{}) }()
	return "http://" + l.Addr().String(), served
}

func liveSession(t *testing.T, base string) string {
	t.Helper()
	resp, err := http.Post(base+"/api/sessions/", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created createSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	return created.SessionID
}

func TestShutdownEndsOpenEventStreams(t *testing.T) {
	s := NewServer(Options{Constraints: intake.DefaultConstraints()})
	base, served := serveLive(t, s)
	id := liveSession(t, base)

	resp, err := http.Get(base + "/api/sessions/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	events := make(chan string, 16)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "event: ") {
				events <- strings.TrimPrefix(line, "event: ")
			}
		}
	}()
	require.Equal(t, "snapshot", <-events)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, s.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, <-served, http.ErrServerClosed)

	var last string
	for ev := range events {
		last = ev
	}
	assert.Equal(t, "closed", last)
}

func TestShutdownWaitsForRunningUploads(t *testing.T) {
	started := make(chan struct{})
	finish := make(chan struct{})
	var uploadErr error
	s := NewServer(Options{
		Constraints: intake.Constraints{Accept: "*", Multiple: true, MaxFiles: 5},
		Upload: func(ctx context.Context, p intake.Payload) (string, error) {
			close(started)
			<-finish
			uploadErr = ctx.Err()
			return "mem://" + p.Name(), nil
		},
	})
	base, served := serveLive(t, s)
	id := liveSession(t, base)

	body, ct := multipartBody(t, testFile{name: "a.txt", mediaType: "text/plain", data: "a"})
	resp, err := http.Post(base+"/api/sessions/"+id+"/upload", ct, body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-started

	sess, err := s.Sessions().Get(id)
	require.NoError(t, err)
	updates, unsubscribe := sess.Engine.Subscribe()
	defer unsubscribe()

	shutdown := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shutdown <- s.Shutdown(ctx)
	}()

	select {
	case err := <-shutdown:
		t.Fatalf("Shutdown returned with an upload running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(finish)
	require.NoError(t, <-shutdown)
	assert.ErrorIs(t, <-served, http.ErrServerClosed)
	assert.NoError(t, uploadErr, "upload context must stay live while draining")

	succeeded := false
	for snap := range updates {
		for _, d := range snap.Entries {
			succeeded = succeeded || d.Status == intake.StatusSuccess
		}
	}
	assert.True(t, succeeded, "upload finished before sessions were released")
}
