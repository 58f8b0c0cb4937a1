// Package job turns single-shot renders into pollable, cancellable,
// admission-controlled jobs: one in flight at a time, forward-only state
// machine, TTL eviction of terminal jobs.
package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animastudio/render-api/internal/engine"
	"github.com/animastudio/render-api/internal/model"
	"github.com/animastudio/render-api/internal/render"
)

const (
	defaultTTL           = 30 * time.Minute
	defaultSweepInterval = 60 * time.Second
)

// Renderer performs one end-to-end render. Satisfied by *render.Executor.
type Renderer interface {
	Render(ctx context.Context, p render.Params) (*render.Result, error)
}

// Notifier receives job lifecycle events for push delivery. Satisfied by the
// websocket hub; may be nil.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, stage string)
	BroadcastComplete(jobID string, job *model.RenderJob)
	BroadcastError(jobID, code, message string)
}

// Config tunes the orchestrator and the render parameters it passes through.
type Config struct {
	OutputDir     string
	Concurrency   int
	Timeout       time.Duration
	MemoryLimitMB int
	ForceRebundle bool
	TTL           time.Duration
	SweepInterval time.Duration
}

// Orchestrator owns the job registry and the render task lifecycle.
type Orchestrator struct {
	store    *Store
	renderer Renderer
	notifier Notifier
	cfg      Config

	baseCtx    context.Context
	baseCancel context.CancelFunc
	active     chan struct{} // capacity 1, tracks the in-flight task handle
	sweepDone  chan struct{}
}

// NewOrchestrator creates an orchestrator and starts its eviction sweeper.
func NewOrchestrator(store *Store, renderer Renderer, notifier Notifier, cfg Config) *Orchestrator {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:      store,
		renderer:   renderer,
		notifier:   notifier,
		cfg:        cfg,
		baseCtx:    ctx,
		baseCancel: cancel,
		active:     make(chan struct{}, 1),
		sweepDone:  make(chan struct{}),
	}

	go o.sweepLoop()
	return o
}

// Create validates the request, admits at most one active job, inserts the
// record as queued and launches the render task. The task handle is retained
// so Shutdown can join on it.
func (o *Orchestrator) Create(templateID string, quality model.Quality) (*model.RenderJob, error) {
	if strings.TrimSpace(templateID) == "" {
		return nil, &Error{Code: CodeInvalidTemplateID, Message: `Field "templateId" is required.`}
	}
	if _, err := render.CRFForQuality(quality); err != nil {
		return nil, &Error{Code: CodeInvalidQuality, Message: `Field "quality" must be one of: high, medium, low.`}
	}

	now := time.Now()
	j := model.RenderJob{
		ID:         uuid.New().String(),
		TemplateID: templateID,
		Quality:    quality,
		Status:     model.JobStatusQueued,
		Progress:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := o.store.InsertIfIdle(j); err != nil {
		return nil, err
	}

	go func() {
		o.active <- struct{}{}
		defer func() { <-o.active }()
		o.runRender(j.ID)
	}()

	created, _ := o.store.Get(j.ID)
	return created, nil
}

// Get returns the public projection, or nil when absent.
func (o *Orchestrator) Get(id string) *model.RenderJob {
	j, ok := o.store.Get(id)
	if !ok {
		return nil
	}
	return j
}

// Cancel requests cooperative cancellation. The terminal write happens
// optimistically before the in-flight render is signalled, so cancel always
// wins the race against the render task's own terminal write. Cancelling a
// terminal job is an idempotent no-op; unknown ids return nil.
func (o *Orchestrator) Cancel(id string) *model.RenderJob {
	j, ok := o.store.Get(id)
	if !ok {
		return nil
	}
	if j.Terminal() {
		return j
	}

	updated, _ := o.store.Update(id, func(j *model.RenderJob) bool {
		if j.Status.Terminal() {
			return false
		}
		j.Status = model.JobStatusCancelled
		if j.FinishedAt == nil {
			now := time.Now()
			j.FinishedAt = &now
		}
		return true
	})

	if cancel := o.store.TakeCancelFunc(id); cancel != nil {
		cancel()
	}

	return updated
}

// Shutdown cancels any in-flight render, stops the sweeper and waits for the
// render task to finish or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.baseCancel()
	<-o.sweepDone

	select {
	case o.active <- struct{}{}:
		<-o.active
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runRender is the render task body: exactly one execution per job.
func (o *Orchestrator) runRender(id string) {
	current, ok := o.store.Get(id)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	defer cancel()
	o.store.SetCancelFunc(id, cancel)

	started, _ := o.store.Update(id, func(j *model.RenderJob) bool {
		if j.Status != model.JobStatusQueued {
			return false
		}
		j.Status = model.JobStatusRunning
		now := time.Now()
		j.StartedAt = &now
		return true
	})
	if started == nil || started.Status != model.JobStatusRunning {
		// Cancelled while still queued; nothing to render.
		o.store.TakeCancelFunc(id)
		return
	}

	result, err := o.renderer.Render(ctx, render.Params{
		TemplateID:    current.TemplateID,
		Quality:       current.Quality,
		OutputDir:     o.cfg.OutputDir,
		Concurrency:   o.cfg.Concurrency,
		Timeout:       o.cfg.Timeout,
		MemoryLimitMB: o.cfg.MemoryLimitMB,
		ForceRebundle: o.cfg.ForceRebundle,
		OnProgress: func(ev engine.ProgressEvent) {
			o.applyProgress(id, ev)
		},
	})

	if err != nil {
		o.finishFailed(id, err)
		return
	}

	done, _ := o.store.Update(id, func(j *model.RenderJob) bool {
		if j.Status.Terminal() {
			// Cancel landed while the engine was wrapping up; its write wins.
			return false
		}
		j.Status = model.JobStatusSuccess
		j.Progress = 100
		if j.FinishedAt == nil {
			now := time.Now()
			j.FinishedAt = &now
		}
		j.OutputFile = result.Filename
		j.OutputPath = result.OutputPath
		j.OutputURL = "/output/" + result.Filename
		j.Error = nil
		return true
	})
	o.store.TakeCancelFunc(id)

	if done != nil && done.Status == model.JobStatusSuccess {
		log.Printf("render job %s finished: %s", id, result.Filename)
		if o.notifier != nil {
			o.notifier.BroadcastComplete(id, done)
		}
	}
}

// applyProgress records an engine progress event on the job, clamped to
// [0,100]. Terminal jobs are left untouched: a cancelled job may keep
// receiving events until the engine actually halts.
func (o *Orchestrator) applyProgress(id string, ev engine.ProgressEvent) {
	percent := int(math.Round(ev.Progress * 100))
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	updated, ok := o.store.Update(id, func(j *model.RenderJob) bool {
		if j.Status.Terminal() {
			return false
		}
		j.Progress = percent
		j.Stage = ev.Stage
		if ev.RenderedFrames > 0 {
			j.RenderedFrames = ev.RenderedFrames
		}
		if ev.EncodedFrames > 0 {
			j.EncodedFrames = ev.EncodedFrames
		}
		return true
	})
	if ok && o.notifier != nil && !updated.Terminal() {
		o.notifier.BroadcastProgress(id, updated.Progress, updated.Status, updated.Stage)
	}
}

// finishFailed resolves a failed render call into cancelled or error. The
// job's current status is re-read first: an explicit cancel always wins. The
// context sentinel is the reliable cancellation signal; the textual check is
// a fallback for engines that wrap their own abort errors.
func (o *Orchestrator) finishFailed(id string, err error) {
	current, ok := o.store.Get(id)
	if !ok {
		return
	}

	cancelled := current.Status == model.JobStatusCancelled ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(strings.ToLower(err.Error()), "cancel")

	if cancelled {
		o.store.Update(id, func(j *model.RenderJob) bool {
			j.Status = model.JobStatusCancelled
			if j.FinishedAt == nil {
				now := time.Now()
				j.FinishedAt = &now
			}
			j.Error = nil
			return true
		})
		o.store.TakeCancelFunc(id)
		log.Printf("render job %s cancelled", id)
		return
	}

	message := fmt.Sprintf("%v", err)
	o.store.Update(id, func(j *model.RenderJob) bool {
		if j.Status.Terminal() {
			return false
		}
		j.Status = model.JobStatusError
		if j.FinishedAt == nil {
			now := time.Now()
			j.FinishedAt = &now
		}
		j.Error = &model.JobError{Code: CodeRenderFailed, Message: message}
		return true
	})
	o.store.TakeCancelFunc(id)

	log.Printf("render job %s failed: %v", id, err)
	if o.notifier != nil {
		o.notifier.BroadcastError(id, CodeRenderFailed, message)
	}
}

// sweepLoop evicts expired terminal jobs until Shutdown.
func (o *Orchestrator) sweepLoop() {
	defer close(o.sweepDone)

	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := o.store.EvictExpired(o.cfg.TTL, time.Now()); n > 0 {
				log.Printf("evicted %d expired render job(s)", n)
			}
		case <-o.baseCtx.Done():
			return
		}
	}
}
