package scheduler

import (
	"context"
	"strings"

	"github.com/nao1215/dropfetch/internal/dedup"
	"github.com/nao1215/dropfetch/internal/download"
	"github.com/nao1215/dropfetch/internal/model"
	"github.com/nao1215/dropfetch/internal/pool"
)

// targetTask tracks one resolved target through its state machine. It
// is only touched by one goroutine at a time.
type targetTask struct {
	url    *urlTask
	target model.ResolvedTarget
	key    model.DedupKey
	host   string
	path   string
	state  model.TargetState
}

// dispatch queues t and starts its download once a slot is free. It
// blocks while the download pool is exhausted, which pauses the crawler
// that produced t. A target whose key is already owned in this run waits
// for the owner: it is skipped when the owner completes and takes over
// otherwise.
func (r *run) dispatch(ctx context.Context, u *urlTask, t model.ResolvedTarget) {
	tt := &targetTask{
		url:    u,
		target: t,
		key:    dedup.Key(t),
		host:   r.profiles.BudgetKey(t.Host()),
		path:   t.RelPath,
		state:  model.TargetQueued,
	}
	r.emitTarget(tt, 0, "", "", 0)

	c, owner := r.claim(tt.key)
	if !owner {
		r.downloads.Go(func() error {
			r.await(ctx, tt, c)
			return nil
		})
		return
	}
	if r.recorded(ctx, tt) {
		settle(c, true)
		return
	}

	slot := r.acquire(ctx, tt, 1)
	if slot == nil {
		settle(c, false)
		return
	}
	r.downloads.Go(func() error {
		r.download(ctx, tt, slot)
		settle(c, tt.state == model.TargetCompleted)
		return nil
	})
}

// await resolves a target whose key is owned by another target.
func (r *run) await(ctx context.Context, tt *targetTask, c *keyClaim) {
	for {
		select {
		case <-c.done:
		case <-ctx.Done():
			r.moveTarget(tt, TargetCancel, 0, "", "", 0)
			return
		}
		if c.completed {
			r.moveTarget(tt, TargetDuplicate, 0, "", "duplicate", 0)
			return
		}
		var owner bool
		if c, owner = r.takeOver(tt.key, c); owner {
			break
		}
	}

	r.logger.Debug("taking over failed duplicate", "target", targetLabel(tt.target))
	slot := r.acquire(ctx, tt, 1)
	if slot == nil {
		settle(c, false)
		return
	}
	r.download(ctx, tt, slot)
	settle(c, tt.state == model.TargetCompleted)
}

// recorded moves tt to Skipped when an earlier run completed its key.
func (r *run) recorded(ctx context.Context, tt *targetTask) bool {
	if r.ignoreHistory || r.index == nil {
		return false
	}
	done, err := r.index.Exists(ctx, tt.key)
	if err != nil {
		r.logger.Warn("history lookup failed", "key", tt.key.String(), "error", err)
		return false
	}
	if !done {
		return false
	}
	r.moveTarget(tt, TargetDuplicate, 0, "", "already downloaded", 0)
	return true
}

// acquire waits for a download slot. It returns nil after moving tt to a
// terminal state when dispatch is halted or ctx is done.
func (r *run) acquire(ctx context.Context, tt *targetTask, attempt int) *pool.Slot {
	if r.halted.Load() {
		r.moveTarget(tt, TargetFail, attempt, download.KindDisk.String(), ErrDispatchHalted.Error(), 0)
		return nil
	}
	slot, err := r.slots.Acquire(ctx, tt.target.Host())
	if err != nil {
		r.moveTarget(tt, TargetCancel, attempt, "", "", 0)
		return nil
	}
	if r.halted.Load() {
		slot.Release()
		r.moveTarget(tt, TargetFail, attempt, download.KindDisk.String(), ErrDispatchHalted.Error(), 0)
		return nil
	}
	return slot
}

// download runs the attempts of tt while holding slot. The slot is given
// back during backoff sleeps.
func (r *run) download(ctx context.Context, tt *targetTask, slot *pool.Slot) {
	for attempt := 1; ; attempt++ {
		r.moveTarget(tt, TargetStart, attempt, "", "", 0)
		rec, err := r.downloader.Download(ctx, tt.target)
		if err == nil {
			tt.path = rec.Path
			r.moveTarget(tt, TargetFinish, attempt, "", "", rec.Size)
			slot.Release()
			return
		}

		de, ok := download.AsError(err)
		if !ok {
			de = &download.Error{Kind: download.KindNetwork, Err: err}
		}
		if de.Path != "" {
			tt.path = de.Path
		}

		switch {
		case de.Kind == download.KindCancelled || ctx.Err() != nil:
			slot.Release()
			r.moveTarget(tt, TargetCancel, attempt, "", "", 0)
			return
		case de.Kind == download.KindDisk && de.RootLevel:
			if r.halted.CompareAndSwap(false, true) {
				r.logger.Error("destination root failure, no new downloads will start", "error", err)
			}
			r.moveTarget(tt, TargetFail, attempt, de.Kind.String(), err.Error(), 0)
			slot.Release()
			return
		case retryable(de.Kind) && attempt < r.maxAttempts:
			slot.Release()
			r.moveTarget(tt, TargetRetry, attempt+1, de.Kind.String(), err.Error(), 0)
			if err := sleep(ctx, r.backoff.Delay(attempt, de.RetryAfter)); err != nil {
				r.moveTarget(tt, TargetCancel, attempt+1, "", "", 0)
				return
			}
			if slot = r.acquire(ctx, tt, attempt+1); slot == nil {
				return
			}
		default:
			r.moveTarget(tt, TargetFail, attempt, de.Kind.String(), err.Error(), 0)
			slot.Release()
			return
		}
	}
}

// retryable reports whether a download failure is worth another attempt.
// Corrupt transfers restart from zero since the executor discards them.
func retryable(k download.Kind) bool {
	return k == download.KindNetwork || k == download.KindCorrupt
}

func (r *run) moveTarget(tt *targetTask, ev TargetEvent, attempt int, kind, reason string, n int64) {
	next, err := NextTargetState(tt.state, ev)
	if err != nil {
		r.logger.Error("target state machine", "target", targetLabel(tt.target), "error", err)
		return
	}
	tt.state = next
	r.emitTarget(tt, attempt, kind, reason, n)
}

func (r *run) emitTarget(tt *targetTask, attempt int, kind, reason string, n int64) {
	r.emit(model.Event{
		Subject:     model.SubjectTarget,
		URL:         tt.url.in.String(),
		Target:      targetLabel(tt.target),
		Path:        tt.path,
		Host:        tt.host,
		TargetState: tt.state,
		State:       tt.state.String(),
		Attempt:     attempt,
		Kind:        kind,
		Reason:      reason,
		Bytes:       n,
	})
}

// targetLabel is the fetch URL without presigned credentials.
func targetLabel(t model.ResolvedTarget) string {
	if t.FetchURL == nil {
		return ""
	}
	if !strings.Contains(t.FetchURL.RawQuery, "X-Amz-Signature") {
		return t.FetchURL.String()
	}
	u := *t.FetchURL
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
