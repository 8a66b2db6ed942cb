package configstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	agentrouter "github.com/ferro-labs/agent-router"
	"github.com/ferro-labs/agent-router/internal/routeerr"
)

// failingBackend fails every write and optionally every read.
type failingBackend struct {
	mu       sync.Mutex
	data     []byte
	readErr  error
	writeErr error
	writes   int
}

func (b *failingBackend) Read(context.Context) ([]byte, bool, error) {
	if b.readErr != nil {
		return nil, false, b.readErr
	}
	return b.data, b.data != nil, nil
}

func (b *failingBackend) Write(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	if b.writeErr != nil {
		return b.writeErr
	}
	b.data = data
	return nil
}

const validProviders = `{"providers":{"anthropic":{"apiKey":"sk-ant","baseUrl":"https://api.anthropic.com","models":["claude-sonnet-4-20250514"]}}}`

func newFileStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)
	return New(NewFileBackend(path)), path
}

func TestLoad_DefaultWhenAbsent(t *testing.T) {
	s, _ := newFileStore(t)
	got := s.Load(context.Background())
	if !reflect.DeepEqual(got, agentrouter.DefaultConfig()) {
		t.Errorf("Load() = %+v, want default", got)
	}
}

func TestLoad_Idempotent(t *testing.T) {
	s, _ := newFileStore(t)
	if _, err := s.Save(context.Background(), []byte(validProviders)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	a := s.Load(context.Background())
	b := s.Load(context.Background())
	if !reflect.DeepEqual(a, b) {
		t.Errorf("two loads differ:\n%+v\n%+v", a, b)
	}
}

func TestLoad_CorruptFileFallsBack(t *testing.T) {
	s, path := newFileStore(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := s.Load(context.Background()); !reflect.DeepEqual(got, agentrouter.DefaultConfig()) {
		t.Errorf("Load() on corrupt file = %+v, want default", got)
	}
}

func TestLoad_ReadErrorUsesCache(t *testing.T) {
	b := &failingBackend{}
	s := New(b)
	if _, err := s.Save(context.Background(), []byte(validProviders)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	b.readErr = errors.New("permission denied")
	got := s.Load(context.Background())
	if _, ok := got.Providers["anthropic"]; !ok {
		t.Errorf("Load() after read error lost cached providers: %+v", got.Providers)
	}
}

// gatedBackend holds the next Read open, after taking its snapshot, until
// release is closed.
type gatedBackend struct {
	mu      sync.Mutex
	data    []byte
	readErr error
	gate    chan struct{}
	reading chan struct{}
	release chan struct{}
}

func (b *gatedBackend) Read(context.Context) ([]byte, bool, error) {
	b.mu.Lock()
	data, readErr, gate := b.data, b.readErr, b.gate
	b.gate = nil
	b.mu.Unlock()
	if gate != nil {
		close(b.reading)
		<-b.release
	}
	if readErr != nil {
		return nil, false, readErr
	}
	return data, data != nil, nil
}

func (b *gatedBackend) Write(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = data
	return nil
}

func TestLoad_DoesNotOverwriteNewerSave(t *testing.T) {
	ctx := context.Background()
	b := &gatedBackend{}
	s := New(b)
	if _, err := s.Save(ctx, []byte(validProviders)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	b.mu.Lock()
	b.gate = make(chan struct{})
	b.reading = make(chan struct{})
	b.release = make(chan struct{})
	b.mu.Unlock()

	loaded := make(chan agentrouter.RouterConfig)
	go func() { loaded <- s.Load(ctx) }()
	<-b.reading

	next := `{"providers":{"local":{"apiKey":"k","baseUrl":"http://localhost:8080","models":["qwen"]}}}`
	if _, err := s.Save(ctx, []byte(next)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	close(b.release)
	if stale := <-loaded; stale.Providers["anthropic"].APIKey == "" {
		t.Fatalf("in-flight Load() = %+v, want the earlier snapshot", stale.Providers)
	}

	b.mu.Lock()
	b.readErr = errors.New("disk gone")
	b.mu.Unlock()
	got := s.Load(ctx)
	if _, ok := got.Providers["local"]; !ok || len(got.Providers) != 1 {
		t.Errorf("fallback after racing Load = %+v, want the newer save", got.Providers)
	}
}

func TestSave_PersistsAndMergesShallowly(t *testing.T) {
	s, path := newFileStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, []byte(validProviders)); err != nil {
		t.Fatalf("Save(providers) error: %v", err)
	}
	if _, err := s.Save(ctx, []byte(`{"routing":{"retryAttempts":5}}`)); err != nil {
		t.Fatalf("Save(routing) error: %v", err)
	}

	reopened := New(NewFileBackend(path))
	got := reopened.Load(ctx)
	if got.Routing.RetryAttempts != 5 {
		t.Errorf("retryAttempts = %d, want 5", got.Routing.RetryAttempts)
	}
	if _, ok := got.Providers["anthropic"]; !ok {
		t.Error("untouched top-level key was lost")
	}
	if got.Models != agentrouter.DefaultConfig().Models {
		t.Errorf("models changed without a models patch: %+v", got.Models)
	}

	// A providers patch replaces the whole map.
	next := `{"providers":{"openrouter":{"apiKey":"k","baseUrl":"https://openrouter.ai/api","models":["m"]}}}`
	if _, err := s.Save(ctx, []byte(next)); err != nil {
		t.Fatalf("Save(providers) error: %v", err)
	}
	got = s.Load(ctx)
	if _, ok := got.Providers["anthropic"]; ok || len(got.Providers) != 1 {
		t.Errorf("providers deep-merged: %+v", got.Providers)
	}
}

func TestSave_ValidationLeavesStoreUntouched(t *testing.T) {
	b := &failingBackend{}
	s := New(b)

	_, err := s.Save(context.Background(), []byte(`{"models":{"default":"a"}}`))
	var verr *routeerr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Save() error = %v, want ValidationError", err)
	}
	if len(verr.Violations) != 5 {
		t.Errorf("violations = %v, want the 5 missing keys", verr.Violations)
	}
	if b.writes != 0 {
		t.Errorf("backend written %d times on invalid patch", b.writes)
	}
}

func TestSave_BackendFailureIsPersistenceError(t *testing.T) {
	s := New(&failingBackend{writeErr: errors.New("read-only file system")})
	_, err := s.Save(context.Background(), []byte(validProviders))
	var perr *routeerr.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("Save() error = %v, want PersistenceError", err)
	}
	if routeerr.StatusCode(err) != 500 {
		t.Errorf("status = %d, want 500", routeerr.StatusCode(err))
	}
	if got := s.Load(context.Background()); len(got.Providers) != 0 {
		t.Errorf("failed save leaked into Load(): %+v", got.Providers)
	}
}

func TestSave_OnChange(t *testing.T) {
	s, _ := newFileStore(t)
	var seen []string
	s.OnChange(func(cfg agentrouter.RouterConfig) { seen = cfg.ProviderNames() })

	if _, err := s.Save(context.Background(), []byte(validProviders)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if len(seen) != 1 || seen[0] != "anthropic" {
		t.Errorf("OnChange saw %v", seen)
	}
}

func TestSave_ConcurrentNoLostUpdates(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.Save(ctx, []byte(validProviders))
	}()
	go func() {
		defer wg.Done()
		_, _ = s.Save(ctx, []byte(`{"monitoring":{"costTracking":false}}`))
	}()
	wg.Wait()

	got := s.Load(ctx)
	if _, ok := got.Providers["anthropic"]; !ok || got.Monitoring.CostTracking {
		t.Errorf("concurrent saves lost an update: %+v", got)
	}
}

func TestDefaultDir_Env(t *testing.T) {
	t.Setenv("AGENT_ROUTER_HOME", "/tmp/agent-router-test")
	dir, err := DefaultDir()
	if err != nil || dir != "/tmp/agent-router-test" {
		t.Errorf("DefaultDir() = %q, %v", dir, err)
	}
}

func TestSQLiteBackend(t *testing.T) {
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("new sqlite backend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	s := New(b)
	ctx := context.Background()

	if ok, err := s.Stored(ctx); err != nil || ok {
		t.Fatalf("Stored() = %v, %v on empty db", ok, err)
	}
	if _, err := s.Save(ctx, []byte(validProviders)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := s.Save(ctx, []byte(`{"routing":{"enabled":false}}`)); err != nil {
		t.Fatalf("second Save() error: %v", err)
	}
	got := New(b).Load(ctx)
	if got.Routing.Enabled || len(got.Providers) != 1 {
		t.Errorf("Load() = %+v", got)
	}
}

func TestSQLBackend_PostgresUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	b := &SQLBackend{db: db, dialect: "postgres"}

	mock.ExpectExec(regexp.QuoteMeta("VALUES(1, $1, $2)")).
		WithArgs(`{"a":1}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT config_json FROM router_config WHERE id = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"config_json"}).AddRow(`{"a":1}`))

	if err := b.Write(context.Background(), []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	data, ok, err := b.Read(context.Background())
	if err != nil || !ok || string(data) != `{"a":1}` {
		t.Errorf("Read() = %q, %v, %v", data, ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
