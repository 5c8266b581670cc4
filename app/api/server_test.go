package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/definitions"
	"github.com/lysyi3m/api-comb/app/fetcher"
	"github.com/lysyi3m/api-comb/app/importer"
	"github.com/lysyi3m/api-comb/app/ndjson"
	"github.com/lysyi3m/api-comb/app/scheduler"
	"github.com/lysyi3m/api-comb/app/tasks"
)

const testKey = "secret-key"

type fakeStore struct {
	configs     map[string]*database.ImportConfiguration
	history     []*database.ImportExecutionHistory
	deactivated []string
}

func (s *fakeStore) List(ctx context.Context) ([]*database.ImportConfiguration, error) {
	var out []*database.ImportConfiguration
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (s *fakeStore) GetByName(ctx context.Context, name string) (*database.ImportConfiguration, error) {
	cfg, ok := s.configs[name]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cfg, nil
}

func (s *fakeStore) ListHistory(ctx context.Context, configurationID int64, limit int) ([]*database.ImportExecutionHistory, error) {
	if limit < len(s.history) {
		return s.history[:limit], nil
	}
	return s.history, nil
}

func (s *fakeStore) UpsertDefinition(ctx context.Context, def *database.ImportConfiguration) (*database.UpsertResult, error) {
	return &database.UpsertResult{Configuration: def}, nil
}

func (s *fakeStore) Deactivate(ctx context.Context, name string) error {
	if _, ok := s.configs[name]; !ok {
		return database.ErrNotFound
	}
	s.deactivated = append(s.deactivated, name)
	return nil
}

type fakeRunner struct {
	running map[int64]bool
}

func (r *fakeRunner) GetDueConfigurations(ctx context.Context) ([]*database.ImportConfiguration, error) {
	return nil, nil
}

func (r *fakeRunner) InitializeSchedule(ctx context.Context, cfg *database.ImportConfiguration) error {
	return nil
}

func (r *fakeRunner) Run(ctx context.Context, cfg *database.ImportConfiguration, trigger scheduler.Trigger) (*importer.ImportResult, error) {
	return &importer.ImportResult{Success: true}, nil
}

func (r *fakeRunner) IsRunning(configID int64) bool {
	return r.running[configID]
}

type fakeInspector struct {
	preview    *importer.Preview
	previewErr error
	schema     importer.TargetSchema
}

func (i *fakeInspector) TestConnection(ctx context.Context, cfg *database.ImportConfiguration) importer.ConnectionTest {
	return importer.ConnectionTest{Success: true, Message: "Connection successful. Found 2 items."}
}

func (i *fakeInspector) PreviewImport(ctx context.Context, cfg *database.ImportConfiguration, schema importer.TargetSchema) (*importer.Preview, error) {
	i.schema = schema
	return i.preview, i.previewErr
}

type fakeDispatcher struct {
	enqueued []tasks.TaskInterface
	err      error
}

func (d *fakeDispatcher) Start() {}
func (d *fakeDispatcher) Stop()  {}

func (d *fakeDispatcher) EnqueueTask(task tasks.TaskInterface) error {
	if d.err != nil {
		return d.err
	}
	d.enqueued = append(d.enqueued, task)
	return nil
}

type fakeCache struct {
	deleted []string
}

func (*fakeCache) Health(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{"status": "healthy", "type": "memory"}
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.deleted = append(c.deleted, key)
	return nil
}

type testEnv struct {
	store      *fakeStore
	runner     *fakeRunner
	inspector  *fakeInspector
	dispatcher *fakeDispatcher
	cache      *fakeCache
	importsDir string
	handler    http.Handler
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	ok := true
	next := time.Date(2024, 3, 6, 6, 0, 0, 0, time.UTC)
	env := &testEnv{
		store: &fakeStore{configs: map[string]*database.ImportConfiguration{
			"products": {
				ID:                 1,
				Name:               "products",
				Active:             true,
				CollectionID:       "catalog",
				APIURL:             "https://api.example.com/products",
				AuthType:           "api_key",
				APIKey:             "do-not-leak",
				Headers:            map[string]string{"X-Tenant": "acme"},
				IdentifierPath:     "id",
				Frequency:          database.FrequencyDaily,
				TimeOfDay:          "06:00",
				DayOfWeek:          time.Monday,
				NextScheduledRunAt: &next,
				LastImportSuccess:  &ok,
			},
		}},
		runner:     &fakeRunner{running: map[int64]bool{}},
		inspector:  &fakeInspector{},
		dispatcher: &fakeDispatcher{},
		cache:      &fakeCache{},
		importsDir: t.TempDir(),
	}

	cache := definitions.NewCache(env.importsDir)
	handler := NewHandler(env.store, env.runner, env.inspector, cache, env.dispatcher, env.cache, "test")
	env.handler = NewServer(handler, apiKey)
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, testKey)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing key", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"header key", "X-API-Key", testKey, http.StatusOK},
		{"bearer key", "Authorization", "Bearer " + testKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/imports", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			env.handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestAPIDisabledWithoutKey(t *testing.T) {
	env := newTestEnv(t, "")

	if w := env.do(http.MethodGet, "/api/imports", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with API disabled, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("Expected health to stay public, got %d", w.Code)
	}
}

func TestPublicEndpoints(t *testing.T) {
	env := newTestEnv(t, testKey)

	w := env.do(http.MethodGet, "/health", "")
	body := decode(t, w)
	if body["status"] != "ok" || body["imports"] != float64(1) || body["active_imports"] != float64(1) {
		t.Errorf("Unexpected health body %v", body)
	}
	if cacheHealth, ok := body["cache"].(map[string]any); !ok || cacheHealth["status"] != "healthy" {
		t.Errorf("Expected cache health, got %v", body["cache"])
	}

	w = env.do(http.MethodGet, "/", "")
	body = decode(t, w)
	if body["service"] != "API Comb" || body["version"] != "test" {
		t.Errorf("Unexpected root body %v", body)
	}

	w = env.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("Expected Prometheus metrics, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/imports", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected CORS preflight response, got %d", rec.Code)
	}
}

func TestListAndGetImports(t *testing.T) {
	env := newTestEnv(t, testKey)
	env.runner.running[1] = true

	w := env.do(http.MethodGet, "/api/imports", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	imports := body["imports"].([]any)
	if len(imports) != 1 {
		t.Fatalf("Expected 1 import, got %d", len(imports))
	}
	summary := imports[0].(map[string]any)
	if summary["name"] != "products" || summary["state"] != "scheduled" || summary["running"] != true {
		t.Errorf("Unexpected summary %v", summary)
	}

	w = env.do(http.MethodGet, "/api/imports/products", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "do-not-leak") || strings.Contains(w.Body.String(), "acme") {
		t.Error("Expected credentials and header values to stay out of the response")
	}
	details := decode(t, w)
	if details["collection"] != "catalog" || details["day_of_week"] != "Monday" {
		t.Errorf("Unexpected details %v", details)
	}

	if w := env.do(http.MethodGet, "/api/imports/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown import, got %d", w.Code)
	}
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t, testKey)
	for i := 0; i < 3; i++ {
		env.store.history = append(env.store.history, &database.ImportExecutionHistory{
			ID:       fmt.Sprintf("run-%d", i),
			Success:  i != 1,
			Warnings: `["Record 4: identifier not found at 'id'; record skipped"]`,
		})
	}

	w := env.do(http.MethodGet, "/api/imports/products/history?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	history := body["history"].([]any)
	if len(history) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(history))
	}
	warnings := history[0].(map[string]any)["warnings"].([]any)
	if len(warnings) != 1 {
		t.Errorf("Expected decoded warnings, got %v", warnings)
	}

	for _, limit := range []string{"0", "-5", "abc"} {
		if w := env.do(http.MethodGet, "/api/imports/products/history?limit="+limit, ""); w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", limit, w.Code)
		}
	}
}

func TestRunImport(t *testing.T) {
	env := newTestEnv(t, testKey)

	w := env.do(http.MethodPost, "/api/imports/products/run", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.dispatcher.enqueued) != 1 {
		t.Fatalf("Expected one enqueued task, got %d", len(env.dispatcher.enqueued))
	}
	task, ok := env.dispatcher.enqueued[0].(*tasks.RunImportTask)
	if !ok || task.Trigger != scheduler.TriggerManual || task.ImportName != "products" {
		t.Errorf("Expected a manual run task for products, got %+v", env.dispatcher.enqueued[0])
	}

	env.runner.running[1] = true
	if w := env.do(http.MethodPost, "/api/imports/products/run", ""); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 while running, got %d", w.Code)
	}

	env.runner.running[1] = false
	env.dispatcher.err = fmt.Errorf("task queue is full")
	if w := env.do(http.MethodPost, "/api/imports/products/run", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 with a full queue, got %d", w.Code)
	}
}

func TestTestConnection(t *testing.T) {
	env := newTestEnv(t, testKey)

	w := env.do(http.MethodPost, "/api/imports/products/test", "")
	body := decode(t, w)
	if body["success"] != true || body["message"] != "Connection successful. Found 2 items." {
		t.Errorf("Unexpected body %v", body)
	}
}

func TestPreviewImport(t *testing.T) {
	env := newTestEnv(t, testKey)
	env.inspector.preview = &importer.Preview{
		Items:         []ndjson.Item{{ID: "1", Type: "Product", Properties: map[string]any{"Title": "Lamp"}}},
		ItemsReceived: 12,
	}

	w := env.do(http.MethodPost, "/api/imports/products/preview", `{"type_name":"Product","fields":["Title"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	items := body["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["id"] != "1" {
		t.Errorf("Unexpected items %v", items)
	}
	if body["items_received"] != float64(12) {
		t.Errorf("Expected 12 received, got %v", body["items_received"])
	}
	if env.inspector.schema.TypeName != "Product" || len(env.inspector.schema.Fields) != 1 {
		t.Errorf("Expected schema to be passed through, got %+v", env.inspector.schema)
	}

	if w := env.do(http.MethodPost, "/api/imports/products/preview", ""); w.Code != http.StatusOK {
		t.Errorf("Expected empty body to be accepted, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/imports/products/preview", "{not json"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", w.Code)
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid configuration", fmt.Errorf("%w: identifier mapping is required", importer.ErrInvalidConfiguration), http.StatusUnprocessableEntity},
		{"fetch failure", &fetcher.FetchError{Kind: fetcher.KindHTTPStatus, StatusCode: 503, Message: "API returned HTTP 503"}, http.StatusBadGateway},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.inspector.previewErr = tt.err
			if w := env.do(http.MethodPost, "/api/imports/products/preview", ""); w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestReloadImport(t *testing.T) {
	env := newTestEnv(t, testKey)

	content := "collection: catalog\nsource:\n  url: https://api.example.com/v2/products\nmapping:\n  identifier: id\nschedule:\n  frequency: hourly\n"
	if err := os.WriteFile(filepath.Join(env.importsDir, "products.yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	w := env.do(http.MethodPost, "/api/imports/products/reload", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.dispatcher.enqueued) != 1 {
		t.Fatalf("Expected a sync task, got %d tasks", len(env.dispatcher.enqueued))
	}
	if _, ok := env.dispatcher.enqueued[0].(*tasks.SyncDefinitionTask); !ok {
		t.Errorf("Expected SyncDefinitionTask, got %T", env.dispatcher.enqueued[0])
	}

	def, err := definitions.NewCache(env.importsDir).Load("products")
	if err != nil {
		t.Fatal(err)
	}
	wantKey := fetcher.SourceKey(importer.SourceFor(def.Configuration()))
	if len(env.cache.deleted) != 1 || env.cache.deleted[0] != wantKey {
		t.Errorf("Expected cached response %q to be evicted, got %v", wantKey, env.cache.deleted)
	}

	if err := os.WriteFile(filepath.Join(env.importsDir, "products.yml"), []byte("collection: catalog\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if w := env.do(http.MethodPost, "/api/imports/products/reload", ""); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for invalid definition, got %d", w.Code)
	}
	if len(env.cache.deleted) != 1 {
		t.Errorf("Expected no eviction for an invalid definition, got %v", env.cache.deleted)
	}

	if err := os.Remove(filepath.Join(env.importsDir, "products.yml")); err != nil {
		t.Fatal(err)
	}
	w = env.do(http.MethodPost, "/api/imports/products/reload", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for removed definition, got %d", w.Code)
	}
	if len(env.store.deactivated) != 1 || env.store.deactivated[0] != "products" {
		t.Errorf("Expected products to be deactivated, got %v", env.store.deactivated)
	}

	if w := env.do(http.MethodPost, "/api/imports/unknown/reload", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown import, got %d", w.Code)
	}
}

func TestValidateNDJSON(t *testing.T) {
	env := newTestEnv(t, testKey)

	payload, err := ndjson.Build([]ndjson.Item{
		{ID: "1", Type: "Product", Properties: map[string]any{"Title": "Lamp"}},
		{ID: "2", Type: "Product", Properties: map[string]any{"Title": "Desk"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	body := decode(t, env.do(http.MethodPost, "/api/ndjson/validate", payload))
	if body["valid"] != true || body["items"] != float64(2) {
		t.Errorf("Unexpected result for valid payload %v", body)
	}

	body = decode(t, env.do(http.MethodPost, "/api/ndjson/validate", "{\"index\":{\"_id\":\"1\"}}\n"))
	if body["valid"] != false || body["items"] != float64(0) {
		t.Errorf("Unexpected result for odd payload %v", body)
	}
}
