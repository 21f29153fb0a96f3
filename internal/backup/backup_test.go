package backup

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dukerupert/latchkey/internal/database"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu       sync.Mutex
	objects  map[string][]byte
	modified map[string]time.Time
	putErr   error
	listErr  error
	delErr   error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{
		objects:  make(map[string][]byte),
		modified: make(map[string]time.Time),
	}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	m.modified[*input.Key] = time.Now().UTC()
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for key := range m.objects {
		if input.Prefix != nil && !strings.HasPrefix(key, *input.Prefix) {
			continue
		}
		k := key
		mod := m.modified[key]
		out.Contents = append(out.Contents, types.Object{Key: &k, LastModified: &mod})
	}
	return out, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	delete(m.modified, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enabledConfig(dbPath string) Config {
	return Config{
		S3:            S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
		DBPath:        dbPath,
		Passphrase:    "correct horse battery staple",
		RetentionDays: 30,
	}
}

func TestManagerStateLifecycle(t *testing.T) {
	// Without S3 config -> disabled
	m := NewManager(Config{}, nil, testLogger())
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}
	if m.Enabled() {
		t.Error("expected disabled manager")
	}

	// With S3 config and passphrase -> idle
	m2 := NewManager(enabledConfig("ledger.db"), nil, testLogger())
	if m2.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m2.Status().State, StateIdle)
	}
	if !m2.Enabled() {
		t.Error("expected enabled manager")
	}

	// Missing passphrase -> disabled even with S3 credentials
	cfg := enabledConfig("ledger.db")
	cfg.Passphrase = ""
	m3 := NewManager(cfg, nil, testLogger())
	if m3.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q without passphrase", m3.Status().State, StateDisabled)
	}
}

func TestManagerStopSafety(t *testing.T) {
	m := NewManager(enabledConfig("ledger.db"), nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	m.Stop()

	// Double stop should not panic
	m.Stop()
}

func TestManagerDisabledNoStart(t *testing.T) {
	m := NewManager(Config{}, nil, testLogger())

	m.Start(context.Background()) // no-op for disabled state
	m.Stop()                      // must not block
}

func TestRunNowNotConfigured(t *testing.T) {
	m := NewManager(Config{}, nil, testLogger())

	if _, err := m.RunNow(context.Background()); err == nil {
		t.Fatal("expected error for unconfigured manager")
	}
}

func TestRunNowUploadsDecryptableSnapshot(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`INSERT INTO users (email) VALUES (?)`, "alice@example.com"); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	cfg := enabledConfig(dbPath)
	m := NewManager(cfg, db, testLogger())
	mock := newMockS3()
	m.client = mock

	key, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if !strings.HasPrefix(key, keyPrefix) {
		t.Errorf("key = %q, want %q prefix", key, keyPrefix)
	}

	status := m.Status()
	if status.State != StateIdle {
		t.Errorf("state = %q, want %q", status.State, StateIdle)
	}
	if status.LastSnapshot == nil {
		t.Error("expected last snapshot timestamp")
	}

	mock.mu.Lock()
	data, ok := mock.objects[key]
	mock.mu.Unlock()
	if !ok {
		t.Fatal("expected uploaded object")
	}

	// The object must open with the passphrase alone and be a usable
	// database containing the seeded row.
	plain, err := Open(data, cfg.Passphrase)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	decPath := filepath.Join(dir, "restored.db")
	if err := os.WriteFile(decPath, plain, 0600); err != nil {
		t.Fatalf("write restored db: %v", err)
	}

	restored, err := sql.Open("sqlite", decPath)
	if err != nil {
		t.Fatalf("open restored db: %v", err)
	}
	defer restored.Close()

	var email string
	if err := restored.QueryRow(`SELECT email FROM users`).Scan(&email); err != nil {
		t.Fatalf("query restored db: %v", err)
	}
	if email != "alice@example.com" {
		t.Errorf("restored email = %q, want alice@example.com", email)
	}
}

func TestRunNowSetsErrorState(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(enabledConfig(dbPath), db, testLogger())
	mock := newMockS3()
	mock.putErr = &uploadError{}
	m.client = mock

	if _, err := m.RunNow(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	if m.Status().State != StateError {
		t.Errorf("state = %q, want %q", m.Status().State, StateError)
	}
}

type uploadError struct{}

func (e *uploadError) Error() string { return "upload failed" }

func TestPruneDeletesOnlyExpiredSnapshots(t *testing.T) {
	m := NewManager(enabledConfig("ledger.db"), nil, testLogger())
	mock := newMockS3()
	m.client = mock
	m.cfg.RetentionDays = 30

	now := time.Now().UTC()
	mock.objects[keyPrefix+"ledger-old.db.enc"] = []byte("old")
	mock.modified[keyPrefix+"ledger-old.db.enc"] = now.AddDate(0, 0, -45)
	mock.objects[keyPrefix+"ledger-new.db.enc"] = []byte("new")
	mock.modified[keyPrefix+"ledger-new.db.enc"] = now.AddDate(0, 0, -1)
	// objects outside the snapshot prefix are never touched
	mock.objects["other/data.bin"] = []byte("keep")
	mock.modified["other/data.bin"] = now.AddDate(0, 0, -365)

	if err := m.prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if _, ok := mock.objects[keyPrefix+"ledger-old.db.enc"]; ok {
		t.Error("expected expired snapshot to be deleted")
	}
	if _, ok := mock.objects[keyPrefix+"ledger-new.db.enc"]; !ok {
		t.Error("expected recent snapshot to survive")
	}
	if _, ok := mock.objects["other/data.bin"]; !ok {
		t.Error("expected non-snapshot object to survive")
	}
}

