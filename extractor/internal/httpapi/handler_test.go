package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Krimson/fetal-monitory/extractor/internal/classifier"
	"github.com/Krimson/fetal-monitory/extractor/internal/health"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
	"github.com/Krimson/fetal-monitory/extractor/internal/store"
)

type fakeRepository struct {
	mu       sync.Mutex
	archives map[string]*store.Archive
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{archives: make(map[string]*store.Archive)}
}

func (f *fakeRepository) SaveArchive(ctx context.Context, sessionID string, archive *store.Archive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archives[sessionID] = archive
	return nil
}

func (f *fakeRepository) GetArchive(ctx context.Context, sessionID string) (*store.Archive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.archives[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeRepository) ListSessions(ctx context.Context, limit, offset int) ([]store.ArchivedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ArchivedSession
	for id, a := range f.archives {
		out = append(out, store.ArchivedSession{ID: id, Source: a.Source})
	}
	return out, nil
}

func (f *fakeRepository) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.archives, sessionID)
	return nil
}

type countingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (c *countingPublisher) Publish(ctx context.Context, res *session.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingPublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type testEnv struct {
	engine    *session.Engine
	cache     *store.MemoryStore
	repo      *fakeRepository
	publisher *countingPublisher
	server    *httptest.Server
}

func newTestEnv(t *testing.T, repo store.Repository) *testEnv {
	t.Helper()

	env := &testEnv{
		// Модель без весов всегда дает 0.5
		engine:    session.NewEngine(session.DefaultOptions(), classifier.NewLogisticScorer(classifier.LogisticModel{})),
		cache:     store.NewMemoryStore(),
		publisher: &countingPublisher{},
	}
	if r, ok := repo.(*fakeRepository); ok {
		env.repo = r
	}

	h := NewHandler(env.engine, env.cache, repo, env.publisher, time.Hour)
	env.server = httptest.NewServer(NewRouter(RouterConfig{
		Handler:     h,
		CORSOrigins: []string{"*"},
	}))
	t.Cleanup(env.server.Close)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func samples(n int) []SampleRequest {
	out := make([]SampleRequest, 0, 2*n)
	for i := 0; i < n; i++ {
		ts := float64(i) * 0.25
		out = append(out,
			SampleRequest{Metric: "fhr", TimeSec: ts, Value: 140},
			SampleRequest{Metric: "uc", TimeSec: ts, Value: 10},
		)
	}
	return out
}

func TestSessionFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, "POST", "/api/sessions/s1/samples", samples(80))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for samples, got %d: %v", resp.StatusCode, body)
	}
	if body["accepted"] != float64(160) {
		t.Errorf("Expected 160 accepted samples, got %v", body["accepted"])
	}

	resp, body = env.do(t, "POST", "/api/sessions/s1/process", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for process, got %d: %v", resp.StatusCode, body)
	}
	if body["status"] != string(session.StatusSuccess) || body["prediction"] != 0.5 {
		t.Errorf("Unexpected process result: status=%v prediction=%v", body["status"], body["prediction"])
	}
	if n := env.publisher.count(); n != 1 {
		t.Errorf("Expected result to be published once, got %d", n)
	}

	_, body = env.do(t, "GET", "/api/sessions/s1/features", nil)
	if body["count"] != float64(1) {
		t.Errorf("Expected 1 history row, got %v", body["count"])
	}

	_, body = env.do(t, "GET", "/api/sessions/s1/prediction", nil)
	if body["prediction"] != 0.5 || body["available"] != true {
		t.Errorf("Unexpected prediction: %v", body)
	}

	_, body = env.do(t, "GET", "/api/sessions", nil)
	if body["count"] != float64(1) {
		t.Errorf("Expected 1 session, got %v", body["sessions"])
	}

	resp, _ = env.do(t, "POST", "/api/sessions/s1/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for reset, got %d", resp.StatusCode)
	}
	_, body = env.do(t, "GET", "/api/sessions/s1/features", nil)
	if body["count"] != float64(0) {
		t.Errorf("Expected empty history after reset, got %v", body["count"])
	}
}

func TestAddSamples_InvalidMetric(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, "POST", "/api/sessions/s1/samples", []SampleRequest{{Metric: "spo2", TimeSec: 0, Value: 97}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown metric, got %d", resp.StatusCode)
	}
	if len(env.engine.Sessions()) != 0 {
		t.Error("Rejected request must not create a session")
	}
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/api/sessions/nope/features", "/api/sessions/nope/prediction", "/api/sessions/nope/data"} {
		resp, _ := env.do(t, "GET", path, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}

	resp, _ := env.do(t, "GET", "/api/archive", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without archive, got %d", resp.StatusCode)
	}
}

func csvBody(header string, n int, value func(i int) float64) string {
	var b strings.Builder
	b.WriteString(header + "\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%.2f,%.1f\n", float64(i)*0.25, value(i))
	}
	return b.String()
}

func upload(t *testing.T, env *testEnv, sessionID string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	files := map[string]string{
		"bpm_file": csvBody("time_sec,value", 400, func(i int) float64 { return 140 + float64(i%5) }),
		"uc_file":  csvBody("time_sec,value", 400, func(i int) float64 { return 10 }),
	}
	for field, content := range files {
		fw, err := mw.CreateFormFile(field, field+".csv")
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		fw.Write([]byte(content))
	}
	if sessionID != "" {
		mw.WriteField("session_id", sessionID)
	}
	mw.Close()

	resp, err := http.Post(env.server.URL+"/api/offline/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestOfflineUploadAndSave(t *testing.T) {
	env := newTestEnv(t, newFakeRepository())

	resp, body := upload(t, env, "offline-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for upload, got %d: %v", resp.StatusCode, body)
	}
	if body["session_id"] != "offline-1" {
		t.Errorf("Expected session_id offline-1, got %v", body["session_id"])
	}
	result := body["result"].(map[string]interface{})
	if result["status"] != string(session.StatusSuccess) || result["prediction"] != 0.5 {
		t.Errorf("Unexpected analysis: status=%v prediction=%v", result["status"], result["prediction"])
	}

	if _, err := env.cache.GetAnalysis(context.Background(), "offline-1"); err != nil {
		t.Fatalf("Analysis must be cached until decision: %v", err)
	}

	resp, body = env.do(t, "POST", "/api/offline/decision", SaveDecision{SessionID: "offline-1", Save: true})
	if resp.StatusCode != http.StatusOK || body["saved"] != true {
		t.Fatalf("Expected saved decision, got %d: %v", resp.StatusCode, body)
	}

	archive, err := env.repo.GetArchive(context.Background(), "offline-1")
	if err != nil {
		t.Fatalf("Archive not saved: %v", err)
	}
	if archive.Source != "offline" || archive.Metrics.Prediction != 0.5 {
		t.Errorf("Unexpected archive: source=%s prediction=%v", archive.Source, archive.Metrics.Prediction)
	}

	if _, err := env.cache.GetAnalysis(context.Background(), "offline-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Cached analysis must be dropped after decision, got %v", err)
	}

	resp, _ = env.do(t, "GET", "/api/archive/offline-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected archived session, got %d", resp.StatusCode)
	}
}

func TestOfflineUpload_GeneratesSessionID(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := upload(t, env, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	id, _ := body["session_id"].(string)
	if len(id) != 36 {
		t.Errorf("Expected generated uuid, got %q", id)
	}
}

func TestOfflineDecision_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, "POST", "/api/offline/decision", SaveDecision{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without session_id, got %d", resp.StatusCode)
	}

	resp, _ = env.do(t, "POST", "/api/offline/decision", SaveDecision{SessionID: "missing", Save: true})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown analysis, got %d", resp.StatusCode)
	}

	upload(t, env, "offline-2")
	resp, _ = env.do(t, "POST", "/api/offline/decision", SaveDecision{SessionID: "offline-2", Save: true})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without archive, got %d", resp.StatusCode)
	}

	resp, body := env.do(t, "POST", "/api/offline/decision", SaveDecision{SessionID: "offline-2", Save: false})
	if resp.StatusCode != http.StatusOK || body["saved"] != false {
		t.Errorf("Expected discard, got %d: %v", resp.StatusCode, body)
	}
}

func TestHealthz(t *testing.T) {
	hs := health.NewHealthServer()
	h := NewHandler(nil, store.NewMemoryStore(), nil, nil, time.Hour)
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Handler:     h,
		Health:      hs,
		Services:    []string{"", "classifier"},
		CORSOrigins: []string{"*"},
	}))
	defer srv.Close()

	hs.SetNotServingStatus("classifier")
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 while classifier is not serving, got %d", resp.StatusCode)
	}

	hs.SetServingStatus("classifier")
	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrEmptySessionID, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", signal.ErrInvalidSample), http.StatusBadRequest},
		{session.ErrBusy, http.StatusTooManyRequests},
		{session.ErrRateLimited, http.StatusTooManyRequests},
		{session.ErrClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
