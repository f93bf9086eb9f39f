package download

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/dropfetch/internal/dedup"
	"github.com/nao1215/dropfetch/internal/model"
	"github.com/nao1215/dropfetch/internal/pipeline"
	"github.com/nao1215/dropfetch/internal/transport"
)

const (
	// DefaultTempSuffix is appended to the final path for in-progress files.
	DefaultTempSuffix = ".part"

	// DefaultSlowSpeedGrace is the window the slow speed threshold is
	// measured over.
	DefaultSlowSpeedGrace = 10 * time.Second

	// sidecarSuffix is appended to the temp path for the resume state.
	sidecarSuffix = ".json"

	// maxNumberedNames bounds the search for a free "name (N).ext".
	maxNumberedNames = 1000

	copyBufferSize     = 64 * 1024
	stateFlushInterval = 2 * time.Second
	stateFlushBytes    = 8 * 1024 * 1024
)

// Doer sends HTTP requests. The executor expects a client that applies
// the host rate limit; concurrency is bounded by the caller.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Finalizer runs post-download steps on a completed file.
type Finalizer interface {
	Execute(ctx context.Context, f *pipeline.Finalized) error
}

// Executor downloads resolved targets below a destination root.
type Executor struct {
	client        Doer
	root          string
	index         dedup.Index
	logger        *slog.Logger
	tempSuffix    string
	hashAlgorithm string
	bandwidth     *rate.Limiter
	slowThreshold int64
	slowGrace     time.Duration
	minFreeSpace  uint64
	finalizer     Finalizer
	locks         *pathLocks
	now           func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithIndex sets the dedup index consulted before and updated after
// each download.
func WithIndex(index dedup.Index) Option {
	return func(e *Executor) {
		e.index = index
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithTempSuffix sets the suffix of in-progress files.
func WithTempSuffix(suffix string) Option {
	return func(e *Executor) {
		if suffix != "" {
			e.tempSuffix = suffix
		}
	}
}

// WithHashAlgorithm sets the digest recorded for completed files.
func WithHashAlgorithm(algorithm string) Option {
	return func(e *Executor) {
		if algorithm != "" {
			e.hashAlgorithm = strings.ToLower(algorithm)
		}
	}
}

// WithBandwidthLimit caps the combined throughput of all downloads in
// bytes per second. Zero disables the limit.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(e *Executor) {
		e.bandwidth = newBandwidthLimiter(bytesPerSecond)
	}
}

// WithSlowSpeed aborts transfers that receive less than threshold bytes
// per second over grace. A zero threshold disables the check.
func WithSlowSpeed(threshold int64, grace time.Duration) Option {
	return func(e *Executor) {
		e.slowThreshold = threshold
		if grace > 0 {
			e.slowGrace = grace
		}
	}
}

// WithMinFreeSpace sets the bytes that must stay free on the destination
// file system after a download.
func WithMinFreeSpace(bytes uint64) Option {
	return func(e *Executor) {
		e.minFreeSpace = bytes
	}
}

// WithFinalizer sets the post-download pipeline.
func WithFinalizer(f Finalizer) Option {
	return func(e *Executor) {
		e.finalizer = f
	}
}

// NewExecutor creates an executor writing below root.
func NewExecutor(client Doer, root string, opts ...Option) (*Executor, error) {
	if root == "" {
		return nil, ErrNoRoot
	}
	e := &Executor{
		client:        client,
		root:          filepath.Clean(root),
		logger:        slog.Default(),
		tempSuffix:    DefaultTempSuffix,
		hashAlgorithm: DefaultHashAlgorithm,
		slowGrace:     DefaultSlowSpeedGrace,
		locks:         newPathLocks(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !ValidAlgorithm(e.hashAlgorithm) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, e.hashAlgorithm)
	}
	return e, nil
}

// Root returns the destination root.
func (e *Executor) Root() string {
	return e.root
}

// Download fetches t and returns the record of the completed file.
//
// When the destination already holds the file, either recorded in the
// index or matching the target's known size or content hash, it is
// adopted without a transfer.
// A different file at the destination is kept and the target is written
// to "name (N).ext" instead. Failures are always *Error.
func (e *Executor) Download(ctx context.Context, t model.ResolvedTarget) (model.DownloadRecord, error) {
	key := dedup.Key(t)
	final := filepath.Join(e.root, SanitizeRelPath(t.RelPath))

	if err := ctx.Err(); err != nil {
		return model.DownloadRecord{}, newError(KindCancelled, final, err)
	}
	if err := os.MkdirAll(e.root, 0o750); err != nil {
		de := diskError(e.root, err)
		de.RootLevel = true
		return model.DownloadRecord{}, de
	}

	unlock, err := e.locks.lock(ctx, final)
	if err != nil {
		return model.DownloadRecord{}, newError(KindCancelled, final, err)
	}
	defer unlock()

	if rec, ok := e.adoptRecorded(ctx, key); ok {
		return rec, nil
	}

	dest, release, adopted, err := e.destination(ctx, final, t, key)
	if err != nil {
		return model.DownloadRecord{}, err
	}
	defer release()
	if adopted != nil {
		return *adopted, nil
	}
	return e.fetch(ctx, t, key, dest)
}

// adoptRecorded returns the indexed record of key when its file is still
// in place.
func (e *Executor) adoptRecorded(ctx context.Context, key model.DedupKey) (model.DownloadRecord, bool) {
	if e.index == nil {
		return model.DownloadRecord{}, false
	}
	rec, err := e.index.Lookup(ctx, key)
	if err != nil {
		e.logger.Warn("dedup lookup failed", "key", string(key), "error", err)
		return model.DownloadRecord{}, false
	}
	if rec == nil {
		return model.DownloadRecord{}, false
	}
	info, err := os.Stat(rec.Path)
	if err != nil || !info.Mode().IsRegular() || info.Size() != rec.Size {
		return model.DownloadRecord{}, false
	}
	e.logger.Debug("adopting recorded download", "path", rec.Path)
	return *rec, true
}

// destination picks the path to write t to. The final path is already
// locked by the caller; numbered alternatives are locked here and
// released by the returned function. A non-nil record means an existing
// file was adopted.
func (e *Executor) destination(ctx context.Context, final string, t model.ResolvedTarget, key model.DedupKey) (string, func(), *model.DownloadRecord, error) {
	noop := func() {}
	for n := 0; n <= maxNumberedNames; n++ {
		candidate, release := final, noop
		if n > 0 {
			candidate = numberedPath(final, n)
			unlock, err := e.locks.lock(ctx, candidate)
			if err != nil {
				return "", noop, nil, newError(KindCancelled, candidate, err)
			}
			release = unlock
		}

		info, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, release, nil, nil
		}
		if err != nil {
			release()
			return "", noop, nil, diskError(candidate, err)
		}
		if info.Mode().IsRegular() && e.matchesExisting(candidate, info, t) {
			rec := e.record(ctx, key, t, candidate, info.Size(), "")
			release()
			e.logger.Debug("adopting existing file", "path", candidate)
			return "", noop, &rec, nil
		}
		release()
	}
	return "", noop, nil, newError(KindDisk, final, errors.New("no free file name"))
}

// matchesExisting reports whether the file at p is the content of t.
// It needs a matching known size or content hash; a file that cannot be
// compared is never taken over.
func (e *Executor) matchesExisting(p string, info os.FileInfo, t model.ResolvedTarget) bool {
	if t.SizeKnown() && info.Size() != t.ExpectedSize {
		return false
	}
	if t.Identity.IsContentHash() {
		sum, err := hashFile(p, t.Identity.Algorithm)
		return err == nil && strings.EqualFold(sum, t.Identity.Value)
	}
	return t.SizeKnown()
}

func (e *Executor) fetch(ctx context.Context, t model.ResolvedTarget, key model.DedupKey, dest string) (model.DownloadRecord, error) {
	temp := dest + e.tempSuffix
	sidecar := temp + sidecarSuffix
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return model.DownloadRecord{}, diskError(dest, err)
	}

	state := e.loadState(t, temp, sidecar)
	for {
		rec, restart, err := e.transfer(ctx, t, key, dest, sidecar, &state)
		if !restart {
			return rec, err
		}
		e.logger.Debug("partial download not resumable, restarting", "path", dest)
		discardPartial(temp, sidecar)
		state = freshState(t, temp)
	}
}

// transfer performs one request. restart is set when the partial file
// must be discarded and the transfer repeated from zero; it is only set
// while resuming, so the caller's loop ends.
func (e *Executor) transfer(ctx context.Context, t model.ResolvedTarget, key model.DedupKey, dest, sidecar string, state *model.PartialDownloadState) (model.DownloadRecord, bool, error) {
	offset := state.BytesWritten
	if err := e.checkFreeSpace(dest, t.ExpectedSize, offset); err != nil {
		return model.DownloadRecord{}, false, err
	}

	tctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := e.newRequest(tctx, t, state, offset)
	if err != nil {
		return model.DownloadRecord{}, false, newError(KindRejected, dest, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return model.DownloadRecord{}, false, requestError(ctx, dest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		return model.DownloadRecord{}, true, nil
	case transport.Classify(resp.StatusCode) != transport.ClassOK:
		return model.DownloadRecord{}, false, statusError(dest, resp)
	case resp.StatusCode == http.StatusPartialContent:
		if start := transport.ContentRangeStart(resp.Header.Get("Content-Range")); start != offset {
			if offset > 0 {
				return model.DownloadRecord{}, true, nil
			}
			return model.DownloadRecord{}, false, newError(KindRejected, dest,
				fmt.Errorf("unexpected partial content starting at %d", start))
		}
	case resp.StatusCode == http.StatusOK:
		offset = 0
	default:
		return model.DownloadRecord{}, false, newError(KindRejected, dest,
			fmt.Errorf("unexpected http status %d", resp.StatusCode))
	}

	if err := checkContentType(dest, resp.Header.Get("Content-Type")); err != nil {
		return model.DownloadRecord{}, false, err
	}

	expected := t.ExpectedSize
	if total := responseTotal(resp); total >= 0 {
		if expected >= 0 && total != expected {
			discardPartial(state.TempPath, sidecar)
			return model.DownloadRecord{}, false, newError(KindCorrupt, dest,
				fmt.Errorf("server reports %d bytes, expected %d", total, expected))
		}
		expected = total
	}
	state.ExpectedSize = expected
	if etag := strongETag(resp.Header.Get("ETag")); etag != "" && (state.ETag == "" || offset == 0) {
		state.ETag = etag
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(state.TempPath, flags, 0o600) //nolint:gosec // path is below the destination root
	if err != nil {
		return model.DownloadRecord{}, false, diskError(state.TempPath, err)
	}
	defer file.Close()

	digest, verify, err := e.hashers(t)
	if err != nil {
		return model.DownloadRecord{}, false, newError(KindCorrupt, dest, err)
	}
	var sums io.Writer = digest
	if verify != nil {
		sums = io.MultiWriter(digest, verify)
	}
	if offset > 0 {
		if err := hashPrefix(state.TempPath, offset, sums); err != nil {
			return model.DownloadRecord{}, true, nil
		}
	}
	state.BytesWritten = offset
	e.saveState(sidecar, *state)

	counter := &countingReader{r: resp.Body}
	var body io.Reader = counter
	if e.bandwidth != nil {
		body = &throttledReader{ctx: tctx, r: counter, limiter: e.bandwidth}
	}
	stop := watchSpeed(cancel, counter, e.slowThreshold, e.slowGrace)
	defer stop()

	buf := make([]byte, copyBufferSize)
	lastFlush, unflushed := e.now(), int64(0)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				de := diskError(state.TempPath, werr)
				if de.RootLevel {
					_ = file.Close()
					discardPartial(state.TempPath, sidecar)
				}
				return model.DownloadRecord{}, false, de
			}
			_, _ = sums.Write(buf[:n])
			state.BytesWritten += int64(n)
			unflushed += int64(n)

			if expected >= 0 && state.BytesWritten > expected {
				_ = file.Close()
				discardPartial(state.TempPath, sidecar)
				return model.DownloadRecord{}, false, newError(KindCorrupt, dest,
					fmt.Errorf("received more than the expected %d bytes", expected))
			}
			if unflushed >= stateFlushBytes || e.now().Sub(lastFlush) >= stateFlushInterval {
				e.saveState(sidecar, *state)
				lastFlush, unflushed = e.now(), 0
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			e.saveState(sidecar, *state)
			if errors.Is(context.Cause(tctx), errTooSlow) {
				return model.DownloadRecord{}, false, newError(KindNetwork, dest, errTooSlow)
			}
			if ctx.Err() != nil {
				return model.DownloadRecord{}, false, newError(KindCancelled, dest, ctx.Err())
			}
			return model.DownloadRecord{}, false, newError(KindNetwork, dest, rerr)
		}
	}
	stop()

	if err := verifyTransfer(t, resp, state, expected, verify); err != nil {
		_ = file.Close()
		discardPartial(state.TempPath, sidecar)
		return model.DownloadRecord{}, false, newError(KindCorrupt, dest, err)
	}

	if err := file.Sync(); err != nil {
		return model.DownloadRecord{}, false, diskError(state.TempPath, err)
	}
	if err := file.Close(); err != nil {
		return model.DownloadRecord{}, false, diskError(state.TempPath, err)
	}
	if err := os.Rename(state.TempPath, dest); err != nil {
		return model.DownloadRecord{}, false, diskError(dest, err)
	}
	_ = os.Remove(sidecar)

	e.finalize(ctx, t, resp, dest, state.BytesWritten)
	sum := e.hashAlgorithm + ":" + hex.EncodeToString(digest.Sum(nil))
	rec := e.record(ctx, key, t, dest, state.BytesWritten, sum)
	e.logger.Info("download completed",
		"path", dest,
		"url", t.FetchURL.String(),
		"bytes", state.BytesWritten,
		"resumed_from", offset,
	)
	return rec, false, nil
}

func (e *Executor) newRequest(ctx context.Context, t model.ResolvedTarget, state *model.PartialDownloadState, offset int64) (*http.Request, error) {
	if t.FetchURL == nil {
		return nil, errors.New("target has no fetch url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.FetchURL.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range t.Headers {
		req.Header[k] = v
	}
	if t.Referrer != "" {
		req.Header.Set("Referer", t.Referrer)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
		switch {
		case state.ETag != "":
			req.Header.Set("If-Range", state.ETag)
		case !t.LastModified.IsZero():
			req.Header.Set("If-Range", t.LastModified.UTC().Format(http.TimeFormat))
		}
	}
	return req, nil
}

// hashers returns the digest recorded for the file and, for targets with
// a content hash, a second hash verifying it.
func (e *Executor) hashers(t model.ResolvedTarget) (digest, verify hash.Hash, err error) {
	digest, err = NewHasher(e.hashAlgorithm)
	if err != nil {
		return nil, nil, err
	}
	if !t.Identity.IsContentHash() || !ValidAlgorithm(t.Identity.Algorithm) {
		return digest, nil, nil
	}
	verify, err = NewHasher(t.Identity.Algorithm)
	if err != nil {
		return nil, nil, err
	}
	return digest, verify, nil
}

func (e *Executor) checkFreeSpace(dest string, expected, offset int64) error {
	if e.minFreeSpace == 0 && expected < 0 {
		return nil
	}
	free, ok, err := freeSpace(filepath.Dir(dest))
	if err != nil || !ok {
		return nil //nolint:nilerr // the check is best effort
	}
	need := e.minFreeSpace
	if expected > offset {
		need += uint64(expected - offset)
	}
	if free < need {
		return &Error{
			Kind:      KindDisk,
			Path:      dest,
			Err:       fmt.Errorf("%d bytes free, %d needed", free, need),
			RootLevel: true,
		}
	}
	return nil
}

func (e *Executor) finalize(ctx context.Context, t model.ResolvedTarget, resp *http.Response, dest string, size int64) {
	if e.finalizer == nil {
		return
	}
	f := &pipeline.Finalized{
		Path:         dest,
		Target:       t,
		Size:         size,
		ContentType:  resp.Header.Get("Content-Type"),
		LastModified: t.LastModified,
	}
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		f.LastModified = lm
	}
	if err := e.finalizer.Execute(ctx, f); err != nil {
		e.logger.Warn("finalize failed", "path", dest, "error", err)
	}
}

// record stores the completion in the index. Index failures are logged:
// the file is complete either way.
func (e *Executor) record(ctx context.Context, key model.DedupKey, t model.ResolvedTarget, p string, size int64, sum string) model.DownloadRecord {
	rec := model.DownloadRecord{
		Key:         key,
		Path:        p,
		Size:        size,
		CompletedAt: e.now(),
		ContentHash: sum,
		Host:        t.Host(),
	}
	if t.SourceURL != nil {
		rec.SourceURL = t.SourceURL.String()
	}
	if e.index != nil {
		if err := e.index.Record(ctx, key, rec); err != nil {
			e.logger.Warn("failed to record download", "path", p, "error", err)
		}
	}
	return rec
}

// loadState returns the resumable state of temp, or a fresh state after
// removing leftovers that cannot be resumed.
func (e *Executor) loadState(t model.ResolvedTarget, temp, sidecar string) model.PartialDownloadState {
	fresh := freshState(t, temp)

	data, err := os.ReadFile(sidecar) //nolint:gosec // path is below the destination root
	if err != nil {
		discardPartial(temp, sidecar)
		return fresh
	}
	var saved model.PartialDownloadState
	if err := json.Unmarshal(data, &saved); err != nil {
		discardPartial(temp, sidecar)
		return fresh
	}
	info, err := os.Stat(temp)
	if err != nil {
		discardPartial(temp, sidecar)
		return fresh
	}
	saved.BytesWritten = info.Size()
	if !saved.Resumable(fresh.FetchURL, fresh.ETag, fresh.ExpectedSize) {
		discardPartial(temp, sidecar)
		return fresh
	}
	saved.TempPath = temp
	e.logger.Debug("resuming partial download", "path", temp, "bytes", saved.BytesWritten)
	return saved
}

func (e *Executor) saveState(sidecar string, state model.PartialDownloadState) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	tmp := sidecar + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		e.logger.Debug("failed to save resume state", "path", sidecar, "error", err)
		return
	}
	if err := os.Rename(tmp, sidecar); err != nil {
		e.logger.Debug("failed to save resume state", "path", sidecar, "error", err)
	}
}

func freshState(t model.ResolvedTarget, temp string) model.PartialDownloadState {
	return model.PartialDownloadState{
		TempPath:     temp,
		ExpectedSize: t.ExpectedSize,
		ETag:         targetETag(t),
		FetchURL:     resumeID(t),
	}
}

// resumeID identifies the remote resource a partial file belongs to.
// Presigned URLs change on every resolution, so a resource id wins.
func resumeID(t model.ResolvedTarget) string {
	if t.ResourceID != "" {
		return "id:" + t.ResourceID
	}
	if t.FetchURL == nil {
		return ""
	}
	return t.FetchURL.String()
}

func targetETag(t model.ResolvedTarget) string {
	if t.Identity.Algorithm == model.IdentityETag {
		return strongETag(t.Identity.Value)
	}
	return ""
}

// strongETag returns etag unless it is weak.
func strongETag(etag string) string {
	etag = strings.TrimSpace(etag)
	if strings.HasPrefix(etag, "W/") {
		return ""
	}
	return etag
}

func discardPartial(temp, sidecar string) {
	_ = os.Remove(temp)
	_ = os.Remove(sidecar)
}

// hashPrefix feeds the first n bytes of path into w.
func hashPrefix(path string, n int64, w io.Writer) error {
	f, err := os.Open(path) //nolint:gosec // path is below the destination root
	if err != nil {
		return err
	}
	defer f.Close()
	copied, err := io.Copy(w, io.LimitReader(f, n))
	if err != nil {
		return err
	}
	if copied != n {
		return fmt.Errorf("partial file has %d bytes, expected %d", copied, n)
	}
	return nil
}

// hashFile returns the lowercase hex digest of the file at path.
func hashFile(path, algorithm string) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path) //nolint:gosec // path is below the destination root
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyTransfer checks the completed transfer against the target.
// verify is nil unless the target carries a content hash.
func verifyTransfer(t model.ResolvedTarget, resp *http.Response, state *model.PartialDownloadState, expected int64, verify hash.Hash) error {
	if state.BytesWritten == 0 && expected != 0 {
		return errors.New("empty response body")
	}
	if expected >= 0 && state.BytesWritten != expected {
		return fmt.Errorf("received %d bytes, expected %d", state.BytesWritten, expected)
	}
	if verify != nil {
		got := hex.EncodeToString(verify.Sum(nil))
		if !strings.EqualFold(got, t.Identity.Value) {
			return fmt.Errorf("%s digest %s does not match %s", t.Identity.Algorithm, got, t.Identity.Value)
		}
	}
	if want := targetETag(t); want != "" {
		if got := strongETag(resp.Header.Get("ETag")); got != "" && trimETag(got) != trimETag(want) {
			return fmt.Errorf("etag %s does not match %s", got, want)
		}
	}
	return nil
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}
