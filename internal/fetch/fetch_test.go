package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func createTempDB(t *testing.T) *gorm.DB {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "coverscout_fetch_test_*")
	require.NoError(t, err)

	t.Cleanup(func() {
		os.RemoveAll(tmpDir)
	})

	db, err := gorm.Open(sqlite.Open(filepath.Join(tmpDir, "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return db
}

func testClient(server *httptest.Server, store Store) *Client {
	return NewClient(ClientConfig{
		UserAgent:  "CoverScout-Test/1.0",
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, server.Client(), NopLimiter{}, store, hclog.NewNullLogger())
}

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		a     []string
		b     []string
		equal bool
	}{
		{"same parts same key", []string{"work", "abc", "0"}, []string{"work", "abc", "0"}, true},
		{"different offset", []string{"work", "abc", "0"}, []string{"work", "abc", "100"}, false},
		{"different entity", []string{"work", "abc", "0"}, []string{"recording", "abc", "0"}, false},
		{"order matters", []string{"a", "b"}, []string{"b", "a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyA := Key(tt.a...)
			keyB := Key(tt.b...)
			assert.Len(t, keyA, 32)
			if tt.equal {
				assert.Equal(t, keyA, keyB)
			} else {
				assert.NotEqual(t, keyA, keyB)
			}
		})
	}
}

func TestIntervalLimiter_SpacesCalls(t *testing.T) {
	limiter := NewIntervalLimiter(50.0) // 20ms apart
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Acquire(ctx))
	}
	elapsed := time.Since(start)

	// First call is free, the next two wait one interval each.
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestIntervalLimiter_ConcurrentCallers(t *testing.T) {
	limiter := NewIntervalLimiter(100.0) // 10ms apart
	ctx := context.Background()

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, limiter.Acquire(ctx))
		}()
	}
	wg.Wait()

	// 5 acquisitions across goroutines still spread over 4 intervals.
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestIntervalLimiter_ContextCancel(t *testing.T) {
	limiter := NewIntervalLimiter(0.5) // 2s apart
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))

	cancelled, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(cancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	_, ok, err := store.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put("k", []byte("payload")))

	payload, ok, err := store.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), payload)
	assert.Equal(t, 1, store.Len())
}

func TestDBStore_PersistsAcrossInstances(t *testing.T) {
	db := createTempDB(t)

	store, err := NewDBStore(db, 0)
	require.NoError(t, err)
	require.NoError(t, store.Put("k", []byte(`{"works":[]}`)))

	// A second store over the same database sees the entry.
	again, err := NewDBStore(db, 0)
	require.NoError(t, err)

	payload, ok, err := again.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"works":[]}`), payload)
}

func TestDBStore_Upsert(t *testing.T) {
	store, err := NewDBStore(createTempDB(t), 0)
	require.NoError(t, err)

	require.NoError(t, store.Put("k", []byte("one")))
	require.NoError(t, store.Put("k", []byte("two")))

	payload, ok, err := store.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("two"), payload)
}

func TestDBStore_TTLExpiry(t *testing.T) {
	store, err := NewDBStore(createTempDB(t), 10*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, store.Put("k", []byte("payload")))

	_, ok, err := store.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok, err = store.Get("k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must not be served")
}

func TestClient_SingleCallPerKey(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"count":1}`))
	}))
	defer server.Close()

	client := testClient(server, NewMemoryStore())
	ctx := context.Background()

	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, client.GetJSON(ctx, "same-key", server.URL, &out))
	require.NoError(t, client.GetJSON(ctx, "same-key", server.URL, &out))
	require.NoError(t, client.GetJSON(ctx, "same-key", server.URL, &out))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, out.Count)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := testClient(server, nil)

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, client.GetJSON(context.Background(), "", server.URL, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := testClient(server, nil)

	var out map[string]interface{}
	require.NoError(t, client.GetJSON(context.Background(), "", server.URL, &out))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_NotFoundIsPermanent(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(server, nil)

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), "", server.URL, &out)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "404 must not be retried")
}

func TestClient_AuthFailureIsPermanent(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := testClient(server, nil)

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), "", server.URL, &out)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_ExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := testClient(server, nil)

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), "", server.URL, &out)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestClient_BadPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	client := testClient(server, NewMemoryStore())

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), "key", server.URL, &out)
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestClient_SendsUserAgent(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := testClient(server, nil)

	var out map[string]interface{}
	require.NoError(t, client.GetJSON(context.Background(), "", server.URL, &out))
	assert.Equal(t, "CoverScout-Test/1.0", got)
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, max, 1))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(base, max, 2))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(base, max, 3))
	assert.Equal(t, time.Second, backoffDelay(base, max, 4), "caps at max")
	assert.Equal(t, time.Second, backoffDelay(base, max, 63), "overflow caps at max")
}

func BenchmarkKey(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Key("recording", "b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d", "100", "0")
	}
}
