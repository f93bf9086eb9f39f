package download

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // test digest
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/dropfetch/internal/dedup"
	"github.com/nao1215/dropfetch/internal/model"
	"github.com/nao1215/dropfetch/internal/pipeline"
)

var fileData = []byte("hello, world")

type fileServer struct {
	*httptest.Server
	hits   atomic.Int32
	ranges chan string
}

func newFileServer(t *testing.T) *fileServer {
	t.Helper()
	fs := &fileServer{ranges: make(chan string, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/file.bin", func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		if rg := r.Header.Get("Range"); rg != "" {
			fs.ranges <- rg
		}
		w.Header().Set("ETag", `"v1"`)
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(fileData))
	})
	mux.HandleFunc("/photo.jpg", func(w http.ResponseWriter, _ *http.Request) {
		fs.hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>removed</html>"))
	})
	mux.HandleFunc("/empty.bin", func(w http.ResponseWriter, _ *http.Request) {
		fs.hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/busy.bin", func(w http.ResponseWriter, _ *http.Request) {
		fs.hits.Add(1)
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/slow.bin", func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("x"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func newTarget(t *testing.T, raw, rel string, size int64) model.ResolvedTarget {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", raw, err)
	}
	return model.ResolvedTarget{SourceURL: u, FetchURL: u, RelPath: rel, ExpectedSize: size}
}

func newExecutor(t *testing.T, client Doer, opts ...Option) (*Executor, *dedup.Memory, string) {
	t.Helper()
	root := t.TempDir()
	idx := dedup.NewMemory()
	e, err := NewExecutor(client, root, append([]Option{WithIndex(idx)}, opts...)...)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	return e, idx, root
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test path
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return data
}

func writeState(t *testing.T, temp string, data []byte, state model.PartialDownloadState) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(temp), 0o750); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(temp, data, 0o600); err != nil {
		t.Fatalf("failed to write temp: %v", err)
	}
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("failed to marshal state: %v", err)
	}
	if err := os.WriteFile(temp+sidecarSuffix, raw, 0o600); err != nil {
		t.Fatalf("failed to write sidecar: %v", err)
	}
}

func assertNoPartial(t *testing.T, dest string) {
	t.Helper()
	for _, p := range []string{dest + DefaultTempSuffix, dest + DefaultTempSuffix + sidecarSuffix} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected %s to be removed, got %v", p, err)
		}
	}
}

type recordingFinalizer struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingFinalizer) Execute(_ context.Context, f *pipeline.Finalized) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, f.Path)
	return nil
}

func TestDownload(t *testing.T) {
	t.Parallel()

	t.Run("fresh download", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		fin := &recordingFinalizer{}
		e, idx, root := newExecutor(t, srv.Client(), WithFinalizer(fin))

		tgt := newTarget(t, srv.URL+"/file.bin", "set/file.bin", int64(len(fileData)))
		rec, err := e.Download(context.Background(), tgt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		dest := filepath.Join(root, "set", "file.bin")
		if rec.Path != dest {
			t.Errorf("expected path %s, got %s", dest, rec.Path)
		}
		if got := readFile(t, dest); !bytes.Equal(got, fileData) {
			t.Errorf("expected %q, got %q", fileData, got)
		}
		if rec.ContentHash != "sha256:"+sha256Hex(fileData) {
			t.Errorf("unexpected content hash %q", rec.ContentHash)
		}
		if rec.Size != int64(len(fileData)) {
			t.Errorf("expected size %d, got %d", len(fileData), rec.Size)
		}
		if ok, _ := idx.Exists(context.Background(), dedup.Key(tgt)); !ok {
			t.Error("expected completion to be recorded")
		}
		if len(fin.paths) != 1 || fin.paths[0] != dest {
			t.Errorf("expected finalizer to run on %s, got %v", dest, fin.paths)
		}
		assertNoPartial(t, dest)

		t.Run("second run adopts the record", func(t *testing.T) {
			before := srv.hits.Load()
			again, err := e.Download(context.Background(), tgt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if again.Path != dest {
				t.Errorf("expected %s, got %s", dest, again.Path)
			}
			if srv.hits.Load() != before {
				t.Error("expected no request for a recorded download")
			}
		})
	})

	t.Run("existing file with matching size is adopted", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, idx, root := newExecutor(t, srv.Client())

		dest := filepath.Join(root, "file.bin")
		if err := os.WriteFile(dest, bytes.Repeat([]byte("z"), len(fileData)), 0o600); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		tgt := newTarget(t, srv.URL+"/file.bin", "file.bin", int64(len(fileData)))
		rec, err := e.Download(context.Background(), tgt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Path != dest || srv.hits.Load() != 0 {
			t.Errorf("expected adoption without request, got %s and %d hits", rec.Path, srv.hits.Load())
		}
		if idx.Len() != 1 {
			t.Errorf("expected adopted file to be recorded, got %d records", idx.Len())
		}
	})

	t.Run("different existing file gets a numbered name", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, root := newExecutor(t, srv.Client())

		existing := filepath.Join(root, "file.bin")
		if err := os.WriteFile(existing, []byte("old"), 0o600); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		tgt := newTarget(t, srv.URL+"/file.bin", "file.bin", int64(len(fileData)))
		rec, err := e.Download(context.Background(), tgt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := filepath.Join(root, "file (1).bin"); rec.Path != want {
			t.Errorf("expected %s, got %s", want, rec.Path)
		}
		if got := readFile(t, existing); string(got) != "old" {
			t.Errorf("existing file was modified: %q", got)
		}
	})

	t.Run("resumes a partial file", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, root := newExecutor(t, srv.Client())

		dest := filepath.Join(root, "file.bin")
		temp := dest + DefaultTempSuffix
		writeState(t, temp, fileData[:5], model.PartialDownloadState{
			TempPath:     temp,
			BytesWritten: 5,
			ExpectedSize: int64(len(fileData)),
			ETag:         `"v1"`,
			FetchURL:     srv.URL + "/file.bin",
		})

		tgt := newTarget(t, srv.URL+"/file.bin", "file.bin", int64(len(fileData)))
		tgt.Identity = model.IdentityHint{Algorithm: model.IdentityETag, Value: `"v1"`}
		rec, err := e.Download(context.Background(), tgt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := <-srv.ranges; got != "bytes=5-" {
			t.Errorf("expected range bytes=5-, got %q", got)
		}
		if got := readFile(t, dest); !bytes.Equal(got, fileData) {
			t.Errorf("expected %q, got %q", fileData, got)
		}
		if rec.ContentHash != "sha256:"+sha256Hex(fileData) {
			t.Errorf("digest must cover resumed bytes, got %q", rec.ContentHash)
		}
		assertNoPartial(t, dest)
	})

	t.Run("changed resource restarts from zero", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, root := newExecutor(t, srv.Client())

		dest := filepath.Join(root, "file.bin")
		temp := dest + DefaultTempSuffix
		writeState(t, temp, []byte("stale"), model.PartialDownloadState{
			TempPath:     temp,
			BytesWritten: 5,
			ExpectedSize: model.UnknownSize,
			ETag:         `"v0"`,
			FetchURL:     srv.URL + "/file.bin",
		})

		tgt := newTarget(t, srv.URL+"/file.bin", "file.bin", model.UnknownSize)
		if _, err := e.Download(context.Background(), tgt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := readFile(t, dest); !bytes.Equal(got, fileData) {
			t.Errorf("expected %q, got %q", fileData, got)
		}
	})

	t.Run("unsatisfiable range restarts from zero", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, root := newExecutor(t, srv.Client())

		dest := filepath.Join(root, "file.bin")
		temp := dest + DefaultTempSuffix
		junk := bytes.Repeat([]byte("j"), 20)
		writeState(t, temp, junk, model.PartialDownloadState{
			TempPath:     temp,
			BytesWritten: 20,
			ExpectedSize: model.UnknownSize,
			FetchURL:     srv.URL + "/file.bin",
		})

		tgt := newTarget(t, srv.URL+"/file.bin", "file.bin", model.UnknownSize)
		if _, err := e.Download(context.Background(), tgt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := readFile(t, dest); !bytes.Equal(got, fileData) {
			t.Errorf("expected %q, got %q", fileData, got)
		}
		if srv.hits.Load() != 2 {
			t.Errorf("expected 2 requests, got %d", srv.hits.Load())
		}
	})

	t.Run("content hash verification", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, root := newExecutor(t, srv.Client())

		md5sum := md5.Sum(fileData) //nolint:gosec // test digest
		good := newTarget(t, srv.URL+"/file.bin", "good.bin", model.UnknownSize)
		good.Identity = model.IdentityHint{Algorithm: "md5", Value: hex.EncodeToString(md5sum[:])}
		if _, err := e.Download(context.Background(), good); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		bad := newTarget(t, srv.URL+"/file.bin", "bad.bin", model.UnknownSize)
		bad.Identity = model.IdentityHint{Algorithm: "sha256", Value: sha256Hex([]byte("other"))}
		_, err := e.Download(context.Background(), bad)
		if !errors.Is(err, ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt, got %v", err)
		}
		assertNoPartial(t, filepath.Join(root, "bad.bin"))
		if _, err := os.Stat(filepath.Join(root, "bad.bin")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("corrupt file must not be moved into place, got %v", err)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, _ := newExecutor(t, srv.Client())
		_, err := e.Download(context.Background(), newTarget(t, srv.URL+"/file.bin", "file.bin", 100))
		if !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("size mismatch on resume restarts the next attempt from zero", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, root := newExecutor(t, srv.Client())

		dest := filepath.Join(root, "file.bin")
		temp := dest + DefaultTempSuffix
		writeState(t, temp, fileData[:5], model.PartialDownloadState{
			TempPath:     temp,
			BytesWritten: 5,
			ExpectedSize: 20,
			ETag:         `"v1"`,
			FetchURL:     srv.URL + "/file.bin",
		})

		tgt := newTarget(t, srv.URL+"/file.bin", "file.bin", 20)
		if _, err := e.Download(context.Background(), tgt); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt, got %v", err)
		}
		if got := <-srv.ranges; got != "bytes=5-" {
			t.Errorf("expected range bytes=5-, got %q", got)
		}
		assertNoPartial(t, dest)

		if _, err := e.Download(context.Background(), tgt); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt, got %v", err)
		}
		select {
		case got := <-srv.ranges:
			t.Errorf("expected no range request after a corrupt attempt, got %q", got)
		default:
		}
		if srv.hits.Load() != 2 {
			t.Errorf("expected 2 requests, got %d", srv.hits.Load())
		}
	})

	t.Run("unknown size targets sharing a path do not collide", func(t *testing.T) {
		t.Parallel()
		bodies := map[string]string{
			"/a/image.jpg": "AAAA-first",
			"/b/image.jpg": "BBBB-second-file",
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, ok := bodies[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(srv.Close)
		e, idx, root := newExecutor(t, srv.Client())

		first := newTarget(t, srv.URL+"/a/image.jpg", "album/image.jpg", model.UnknownSize)
		second := newTarget(t, srv.URL+"/b/image.jpg", "album/image.jpg", model.UnknownSize)
		if dedup.Key(first) == dedup.Key(second) {
			t.Fatalf("expected distinct keys, got %s", dedup.Key(first))
		}

		a, err := e.Download(context.Background(), first)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b, err := e.Download(context.Background(), second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := filepath.Join(root, "album", "image (1).jpg"); b.Path != want {
			t.Errorf("expected %s, got %s", want, b.Path)
		}
		if got := readFile(t, a.Path); string(got) != bodies["/a/image.jpg"] {
			t.Errorf("expected %q, got %q", bodies["/a/image.jpg"], got)
		}
		if got := readFile(t, b.Path); string(got) != bodies["/b/image.jpg"] {
			t.Errorf("expected %q, got %q", bodies["/b/image.jpg"], got)
		}
		if idx.Len() != 2 {
			t.Errorf("expected 2 records, got %d", idx.Len())
		}
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, _ := newExecutor(t, srv.Client())
		_, err := e.Download(context.Background(), newTarget(t, srv.URL+"/empty.bin", "empty.bin", int64(len(fileData))))
		if !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("html instead of image", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, _ := newExecutor(t, srv.Client())
		_, err := e.Download(context.Background(), newTarget(t, srv.URL+"/photo.jpg", "photo.jpg", model.UnknownSize))
		if !errors.Is(err, ErrRejected) {
			t.Errorf("expected ErrRejected, got %v", err)
		}
	})

	t.Run("status classification", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, _ := newExecutor(t, srv.Client())

		_, err := e.Download(context.Background(), newTarget(t, srv.URL+"/busy.bin", "busy.bin", model.UnknownSize))
		de, ok := AsError(err)
		if !ok || de.Kind != KindNetwork || de.RetryAfter != 2*time.Second {
			t.Errorf("expected network error with retry after, got %v", err)
		}

		_, err = e.Download(context.Background(), newTarget(t, srv.URL+"/missing.bin", "missing.bin", model.UnknownSize))
		if !errors.Is(err, ErrRejected) {
			t.Errorf("expected ErrRejected, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, _ := newExecutor(t, srv.Client())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.Download(ctx, newTarget(t, srv.URL+"/file.bin", "file.bin", model.UnknownSize))
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	})

	t.Run("slow transfer is aborted", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, root := newExecutor(t, srv.Client(), WithSlowSpeed(1000, 100*time.Millisecond))
		_, err := e.Download(context.Background(), newTarget(t, srv.URL+"/slow.bin", "slow.bin", model.UnknownSize))
		if !errors.Is(err, ErrNetwork) || !errors.Is(err, errTooSlow) {
			t.Fatalf("expected slow network error, got %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "slow.bin"+DefaultTempSuffix+sidecarSuffix)); err != nil {
			t.Errorf("expected resume state to be kept, got %v", err)
		}
	})

	t.Run("bandwidth limit", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, _ := newExecutor(t, srv.Client(), WithBandwidthLimit(1<<20))
		if _, err := e.Download(context.Background(), newTarget(t, srv.URL+"/file.bin", "file.bin", model.UnknownSize)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("concurrent downloads of one target write once", func(t *testing.T) {
		t.Parallel()
		srv := newFileServer(t)
		e, _, _ := newExecutor(t, srv.Client())
		tgt := newTarget(t, srv.URL+"/file.bin", "same.bin", int64(len(fileData)))

		var wg sync.WaitGroup
		paths := make([]string, 4)
		for i := range paths {
			wg.Go(func() {
				rec, err := e.Download(context.Background(), tgt)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				paths[i] = rec.Path
			})
		}
		wg.Wait()
		if srv.hits.Load() != 1 {
			t.Errorf("expected 1 request, got %d", srv.hits.Load())
		}
		for _, p := range paths[1:] {
			if p != paths[0] {
				t.Errorf("expected one path, got %v", paths)
			}
		}
		if e.locks.active() != 0 {
			t.Errorf("expected no held path locks, got %d", e.locks.active())
		}
	})
}

func TestNewExecutor(t *testing.T) {
	t.Parallel()

	if _, err := NewExecutor(http.DefaultClient, ""); !errors.Is(err, ErrNoRoot) {
		t.Errorf("expected ErrNoRoot, got %v", err)
	}
	if _, err := NewExecutor(http.DefaultClient, t.TempDir(), WithHashAlgorithm("crc7")); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestSanitizeRelPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"album/a.jpg", filepath.Join("album", "a.jpg")},
		{"../../etc/passwd", filepath.Join("etc", "passwd")},
		{`a\b:c.txt`, filepath.Join("a", "b_c.txt")},
		{"what?.png", "what_.png"},
		{"trailing. ", "trailing"},
		{"CON.txt", "_CON.txt"},
		{"", "download"},
		{"/./..", "download"},
		{"é.txt", "é.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeRelPath(tt.in); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	t.Run("long names keep the extension", func(t *testing.T) {
		t.Parallel()
		name := string(bytes.Repeat([]byte("é"), 200)) + ".jpeg"
		got := SanitizeRelPath(name)
		if len(got) > maxNameBytes || filepath.Ext(got) != ".jpeg" {
			t.Errorf("unexpected truncation %q (%d bytes)", got, len(got))
		}
	})
}

func TestNumberedPath(t *testing.T) {
	t.Parallel()

	if got, want := numberedPath(filepath.Join("d", "a.tar.gz"), 2), filepath.Join("d", "a.tar (2).gz"); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if got, want := numberedPath("noext", 1), "noext (1)"; got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestHashers(t *testing.T) {
	t.Parallel()

	for _, name := range Algorithms() {
		h, err := NewHasher(name)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		_, _ = h.Write([]byte("abc"))
		if len(h.Sum(nil)) == 0 {
			t.Errorf("%s: empty digest", name)
		}
	}
	h, _ := NewHasher("SHA256")
	_, _ = h.Write([]byte("abc"))
	if got := hex.EncodeToString(h.Sum(nil)); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("unexpected sha256 digest %s", got)
	}
	if _, err := NewHasher("crc7"); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("expected ErrUnknownAlgorithm, got %v", err)
	}
	if len(Algorithms()) != 7 {
		t.Errorf("expected 7 algorithms, got %v", Algorithms())
	}
}

func TestPathLocks(t *testing.T) {
	t.Parallel()

	l := newPathLocks()
	unlock, err := l.lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded while held, got %v", err)
	}

	other, err := l.lock(context.Background(), "b")
	if err != nil {
		t.Fatalf("independent path must not block: %v", err)
	}
	other()

	acquired := make(chan func())
	go func() {
		u, _ := l.lock(context.Background(), "a")
		acquired <- u
	}()
	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	unlock()
	second := <-acquired
	second()

	if l.active() != 0 {
		t.Errorf("expected no entries, got %d", l.active())
	}
}
