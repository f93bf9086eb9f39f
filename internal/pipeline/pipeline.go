package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/dropfetch/internal/model"
)

// Finalized describes a completed download passed through the pipeline.
type Finalized struct {
	// Path is the final path of the file.
	Path string

	// Target is the resolved target the file was downloaded for.
	Target model.ResolvedTarget

	// Size is the file size in bytes.
	Size int64

	// ContentType is the Content-Type of the download response.
	ContentType string

	// LastModified is the remote modification time from the response,
	// falling back to the one reported by the crawler.
	LastModified time.Time

	// Timestamped is set by the step that applied a modification time.
	Timestamped bool

	// Performed lists the steps that ran without error.
	Performed []string
}

// Step is one finalize action.
type Step interface {
	// Do applies the step to f.
	Do(ctx context.Context, f *Finalized) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Pipeline runs steps in order.
type Pipeline struct {
	steps           []Step
	logger          *slog.Logger
	continueOnError bool
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError keeps running later steps after one fails.
// The first error is still returned by Execute.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates an empty pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps:  make([]Step, 0),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDefault returns the standard finalize pipeline: modification time
// from Last-Modified, then from EXIF, then file permissions.
func NewDefault(opts ...Option) *Pipeline {
	p := New(append([]Option{WithContinueOnError(true)}, opts...)...)
	p.AddSteps(NewTimestampStep(), NewEXIFTimestampStep(), NewChmodStep(DefaultFileMode))
	return p
}

// AddStep appends a step to the pipeline.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all steps on f. Cancellation is checked before each step.
func (p *Pipeline) Execute(ctx context.Context, f *Finalized) error {
	var firstErr error
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("finalize cancelled",
				"step", step.Name(),
				"path", f.Path,
			)
			return err
		}

		if err := step.Do(ctx, f); err != nil {
			p.logger.Warn("finalize step failed",
				"step", step.Name(),
				"path", f.Path,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			if !p.continueOnError {
				return err
			}
			continue
		}

		p.logger.Debug("finalize step completed",
			"step", step.Name(),
			"path", f.Path,
		)
		f.Performed = append(f.Performed, step.Name())
	}
	return firstErr
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
