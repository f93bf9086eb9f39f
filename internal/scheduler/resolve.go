package scheduler

import (
	"context"
	"errors"
	"path"

	"github.com/nao1215/dropfetch/internal/crawler"
	"github.com/nao1215/dropfetch/internal/dedup"
	"github.com/nao1215/dropfetch/internal/model"
)

// urlTask tracks one input URL through its state machine. It is only
// touched by the goroutine processing the URL.
type urlTask struct {
	in    model.InputURL
	host  string
	state model.URLState
}

// process resolves u, retrying transient failures. Targets already
// yielded by an earlier attempt are not dispatched again.
func (r *run) process(ctx context.Context, u *urlTask) {
	yielded := make(map[model.DedupKey]struct{})
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			r.moveURL(u, URLCancel, attempt, "", "")
			return
		}
		c, err := r.crawlers.For(u.in)
		if err != nil {
			r.moveURL(u, URLFail, attempt, crawlKind(err), err.Error())
			return
		}

		r.moveURL(u, URLStart, attempt, "", "")
		err = r.resolve(ctx, c, u, yielded)
		switch {
		case ctx.Err() != nil:
			r.moveURL(u, URLCancel, attempt, "", "")
			return
		case err == nil:
			r.moveURL(u, URLFinish, attempt, "", "")
			return
		}

		ce, ok := crawler.AsError(err)
		if !ok || !ce.Retryable() || attempt >= r.maxAttempts {
			r.moveURL(u, URLFail, attempt, crawlKind(err), err.Error())
			return
		}
		r.moveURL(u, URLRetry, attempt+1, ce.Kind.String(), err.Error())
		if err := sleep(ctx, r.backoff.Delay(attempt, ce.RetryAfter)); err != nil {
			r.moveURL(u, URLCancel, attempt+1, "", "")
			return
		}
	}
}

// resolve consumes the crawler's sequence and dispatches each target.
// One target is held back so a custom file name can be applied when the
// URL turns out to resolve to exactly one file.
func (r *run) resolve(ctx context.Context, c crawler.Crawler, u *urlTask, yielded map[model.DedupKey]struct{}) error {
	var (
		pending *model.ResolvedTarget
		count   int
	)
	flush := func() {
		if pending == nil {
			return
		}
		if count == 1 && u.in.Filename != "" {
			pending.RelPath = path.Join(path.Dir(pending.RelPath), u.in.Filename)
		}
		r.dispatch(ctx, u, *pending)
		pending = nil
	}

	for t, err := range c.Resolve(ctx, u.in) {
		if err != nil {
			flush()
			return err
		}
		key := dedup.Key(t)
		if _, ok := yielded[key]; ok {
			continue
		}
		yielded[key] = struct{}{}
		count++
		if pending != nil {
			r.dispatch(ctx, u, *pending)
		}
		pending = &t
		if ctx.Err() != nil {
			break
		}
	}
	flush()
	return nil
}

func (r *run) moveURL(u *urlTask, ev URLEvent, attempt int, kind, reason string) {
	next, err := NextURLState(u.state, ev)
	if err != nil {
		r.logger.Error("url state machine", "url", u.in.String(), "error", err)
		return
	}
	u.state = next
	r.emitURL(u, attempt, kind, reason)
}

func (r *run) emitURL(u *urlTask, attempt int, kind, reason string) {
	r.emit(model.Event{
		Subject:  model.SubjectURL,
		URL:      u.in.String(),
		Host:     u.host,
		URLState: u.state,
		State:    u.state.String(),
		Attempt:  attempt,
		Kind:     kind,
		Reason:   reason,
	})
}

func crawlKind(err error) string {
	if ce, ok := crawler.AsError(err); ok {
		return ce.Kind.String()
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "unknown"
}
