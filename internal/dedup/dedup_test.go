package dedup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/dropfetch/internal/model"
)

func target(t *testing.T, raw string) model.ResolvedTarget {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", raw, err)
	}
	return model.ResolvedTarget{SourceURL: u, FetchURL: u, ExpectedSize: model.UnknownSize}
}

func TestKey(t *testing.T) {
	t.Parallel()

	t.Run("content hash wins", func(t *testing.T) {
		t.Parallel()
		a := target(t, "https://a.example/x.jpg")
		a.Identity = model.IdentityHint{Algorithm: "SHA256", Value: "ABCDEF"}
		b := target(t, "https://mirror.example/other/y.jpg")
		b.ExpectedSize = 10
		b.Identity = model.IdentityHint{Algorithm: "sha256", Value: "abcdef"}

		if Key(a) != Key(b) {
			t.Errorf("expected equal keys, got %q and %q", Key(a), Key(b))
		}
		if Key(a) != "hash:sha256:abcdef" {
			t.Errorf("expected hash:sha256:abcdef, got %q", Key(a))
		}
	})

	t.Run("same resource normalizes", func(t *testing.T) {
		t.Parallel()
		pairs := [][2]string{
			{"https://www.example.com/f.zip?b=2&a=1", "https://example.com/f.zip?a=1&b=2"},
			{"https://Example.com:443/f.zip#part", "https://example.com/f.zip"},
			{"http://example.com:80/f.zip", "http://example.com/f.zip"},
		}
		for _, p := range pairs {
			if Key(target(t, p[0])) != Key(target(t, p[1])) {
				t.Errorf("expected %s and %s to share a key, got %q and %q",
					p[0], p[1], Key(target(t, p[0])), Key(target(t, p[1])))
			}
		}
	})

	t.Run("different files do not collide", func(t *testing.T) {
		t.Parallel()
		base := target(t, "https://example.com/f.zip")
		sized := base
		sized.ExpectedSize = 100
		otherSize := base
		otherSize.ExpectedSize = 101
		tagged := sized
		tagged.Identity = model.IdentityHint{Algorithm: model.IdentityETag, Value: `"v2"`}

		keys := map[model.DedupKey]string{}
		for name, tgt := range map[string]model.ResolvedTarget{
			"base":       base,
			"sized":      sized,
			"other size": otherSize,
			"etag":       tagged,
			"port":       target(t, "https://example.com:8443/f.zip"),
			"path":       target(t, "https://example.com/g.zip"),
			"query":      target(t, "https://example.com/f.zip?v=2"),
			"host":       target(t, "https://cdn.example.com/f.zip"),
		} {
			k := Key(tgt)
			if prev, dup := keys[k]; dup {
				t.Errorf("%s collides with %s: %q", name, prev, k)
			}
			keys[k] = name
		}
	})

	t.Run("resource id replaces the url", func(t *testing.T) {
		t.Parallel()
		a := target(t, "https://bucket.s3.example/k?X-Amz-Signature=1")
		a.ResourceID = "bucket/k"
		a.ExpectedSize = 5
		b := target(t, "https://bucket.s3.example/k?X-Amz-Signature=2")
		b.ResourceID = "bucket/k"
		b.ExpectedSize = 5

		if Key(a) != Key(b) {
			t.Errorf("expected equal keys, got %q and %q", Key(a), Key(b))
		}
		if want := model.DedupKey("res:bucket.s3.example|bucket/k|5|"); Key(a) != want {
			t.Errorf("expected %q, got %q", want, Key(a))
		}
	})
}

// exerciseIndex runs the Index contract against idx.
func exerciseIndex(t *testing.T, idx Index) {
	t.Helper()
	ctx := context.Background()

	ok, err := idx.Exists(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("expected missing key to be absent, got %v, %v", ok, err)
	}
	rec, err := idx.Lookup(ctx, "missing")
	if err != nil || rec != nil {
		t.Fatalf("expected nil record, got %v, %v", rec, err)
	}

	first := model.DownloadRecord{
		Path:        "/dl/a.jpg",
		Size:        3,
		CompletedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		ContentHash: "sha256:abc",
		SourceURL:   "https://example.com/a.jpg",
		Host:        "example.com",
	}
	if err := idx.Record(ctx, "k1", first); err != nil {
		t.Fatalf("failed to record: %v", err)
	}
	second := first
	second.Path = "/dl/other.jpg"
	if err := idx.Record(ctx, "k1", second); err != nil {
		t.Fatalf("duplicate record must be a no-op, got %v", err)
	}

	ok, err = idx.Exists(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("expected k1 to exist, got %v, %v", ok, err)
	}
	rec, err = idx.Lookup(ctx, "k1")
	if err != nil || rec == nil {
		t.Fatalf("expected record, got %v, %v", rec, err)
	}
	if rec.Path != "/dl/a.jpg" {
		t.Errorf("expected first record to win, got path %q", rec.Path)
	}
	if rec.Key != "k1" || rec.Size != 3 || rec.ContentHash != "sha256:abc" || rec.Host != "example.com" {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.CompletedAt.Equal(first.CompletedAt) {
		t.Errorf("expected completed at %v, got %v", first.CompletedAt, rec.CompletedAt)
	}

	if err := idx.Record(ctx, "", first); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			key := model.DedupKey(fmt.Sprintf("c%d", i%5))
			if err := idx.Record(ctx, key, model.DownloadRecord{Path: string(key)}); err != nil {
				t.Errorf("concurrent record failed: %v", err)
			}
			if _, err := idx.Exists(ctx, key); err != nil {
				t.Errorf("concurrent exists failed: %v", err)
			}
		})
	}
	wg.Wait()
}

func TestMemory(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	exerciseIndex(t, m)
	if m.Len() != 6 {
		t.Errorf("expected 6 records, got %d", m.Len())
	}
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	t.Run("index contract", func(t *testing.T) {
		t.Parallel()
		db, err := Open(t.TempDir(), DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })

		exerciseIndex(t, db)
		n, err := db.Count(context.Background())
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if n != 6 {
			t.Errorf("expected 6 records, got %d", n)
		}
	})

	t.Run("creates directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "data")
		db, err := Open(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()
		if _, err := os.Stat(filepath.Join(dir, DBFileName)); err != nil {
			t.Errorf("expected database file, got %v", err)
		}
	})

	t.Run("missing database without create", func(t *testing.T) {
		t.Parallel()
		_, err := Open(t.TempDir(), Options{})
		if !errors.Is(err, ErrDatabaseNotFound) {
			t.Errorf("expected ErrDatabaseNotFound, got %v", err)
		}
	})

	t.Run("records survive reopen", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		db, err := Open(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		if err := db.Record(context.Background(), "k", model.DownloadRecord{Path: "/dl/k", Size: 1}); err != nil {
			t.Fatalf("failed to record: %v", err)
		}
		_ = db.Close()

		db, err = Open(dir, Options{EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to reopen database: %v", err)
		}
		defer db.Close()
		ok, err := db.Exists(context.Background(), "k")
		if err != nil || !ok {
			t.Errorf("expected record after reopen, got %v, %v", ok, err)
		}
	})

	t.Run("history newest first", func(t *testing.T) {
		t.Parallel()
		db, err := Open(t.TempDir(), DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		ctx := context.Background()
		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		for i, name := range []string{"old", "mid", "new"} {
			rec := model.DownloadRecord{
				Path:        "/dl/" + name,
				CompletedAt: base.Add(time.Duration(i)*time.Second + time.Duration(i)*time.Millisecond),
			}
			if err := db.Record(ctx, model.DedupKey(name), rec); err != nil {
				t.Fatalf("failed to record: %v", err)
			}
		}

		all, err := db.History(ctx, 0)
		if err != nil {
			t.Fatalf("failed to load history: %v", err)
		}
		if len(all) != 3 || all[0].Key != "new" || all[2].Key != "old" {
			t.Errorf("unexpected order: %+v", all)
		}
		limited, err := db.History(ctx, 2)
		if err != nil {
			t.Fatalf("failed to load history: %v", err)
		}
		if len(limited) != 2 || limited[1].Key != "mid" {
			t.Errorf("unexpected limited history: %+v", limited)
		}
	})
}
