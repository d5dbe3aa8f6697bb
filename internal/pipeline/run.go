package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/aige-pipeline/internal/poller"
	"github.com/maauso/aige-pipeline/internal/presign"
	"github.com/maauso/aige-pipeline/internal/stage"
	"github.com/maauso/aige-pipeline/internal/task"
)

// ArtifactReference points at the output of a finished stage.
type ArtifactReference struct {
	Stage   stage.Kind `json:"stage"`
	TaskID  string     `json:"task_id"`
	ReadURL string     `json:"read_url,omitempty"`
	// Output is stage-specific, such as the model id of a finetune.
	Output     string    `json:"output,omitempty"`
	ProducedAt time.Time `json:"produced_at"`
}

// ref is the value downstream stages bind: the read URL of media, or the
// output of a stage that produces none.
func (a ArtifactReference) ref() string {
	if a.ReadURL != "" {
		return a.ReadURL
	}
	return a.Output
}

// StageState is the view of one stage slot of a run.
type StageState struct {
	Stage      stage.Kind         `json:"stage"`
	Active     bool               `json:"active"`
	Handle     *task.Handle       `json:"task,omitempty"`
	LastUpdate *poller.Update     `json:"last_update,omitempty"`
	Artifact   *ArtifactReference `json:"artifact,omitempty"`
}

// Snapshot is a point-in-time copy of a run.
type Snapshot struct {
	AvatarID  string              `json:"avatar_id"`
	CreatedAt time.Time           `json:"created_at"`
	Closed    bool                `json:"closed"`
	Artifacts []ArtifactReference `json:"artifacts"`
	Stages    []StageState        `json:"stages"`
}

// Run is one pipeline execution keyed by its avatar id.
type Run struct {
	p         *Pipeline
	avatarID  string
	createdAt time.Time

	mu          sync.Mutex
	closed      bool
	artifacts   map[stage.Kind]ArtifactReference
	artifactGen map[stage.Kind]uint64
	order       []stage.Kind
	active      map[stage.Kind]*StageRun
	latest      map[stage.Kind]*task.Handle
	lastUpdate  map[stage.Kind]poller.Update
	gen         map[stage.Kind]uint64
}

func newRun(p *Pipeline, avatarID string) *Run {
	return &Run{
		p:           p,
		avatarID:    avatarID,
		createdAt:   time.Now(),
		artifacts:   make(map[stage.Kind]ArtifactReference),
		artifactGen: make(map[stage.Kind]uint64),
		active:      make(map[stage.Kind]*StageRun),
		latest:      make(map[stage.Kind]*task.Handle),
		lastUpdate:  make(map[stage.Kind]poller.Update),
		gen:         make(map[stage.Kind]uint64),
	}
}

// AvatarID returns the run's avatar id.
func (r *Run) AvatarID() string {
	return r.avatarID
}

// StageRun is one submitted attempt of a stage.
type StageRun struct {
	Kind   stage.Kind
	Handle *task.Handle

	run     *Run
	engine  *poller.Engine
	started time.Time
	gen     uint64

	done chan struct{}
	// recorded and artifact are guarded by run.mu until done is closed.
	recorded bool
	artifact ArtifactReference
	err      error
}

// TaskID returns the remote task id of the attempt.
func (s *StageRun) TaskID() string {
	return s.Handle.TaskID
}

// Done is closed when the attempt has finished.
func (s *StageRun) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the attempt finishes. It returns the artifact if the task
// reached done, and the engine's error otherwise.
func (s *StageRun) Wait(ctx context.Context) (ArtifactReference, error) {
	select {
	case <-s.done:
		return s.artifact, s.err
	case <-ctx.Done():
		return ArtifactReference{}, ctx.Err()
	}
}

// RunStage submits a stage and waits for its artifact.
func (r *Run) RunStage(ctx context.Context, kind stage.Kind, params stage.Params) (ArtifactReference, error) {
	sr, err := r.StartStage(ctx, kind, params)
	if err != nil {
		return ArtifactReference{}, err
	}
	return sr.Wait(ctx)
}

// StartStage binds params to upstream artifacts, stops any engine already
// running for kind, allocates URLs, submits and starts polling. Missing
// upstream artifacts fail with *DependencyNotReadyError before any request;
// an unknown source stage fails with stage.ErrInvalidParams instead.
// Cancelling ctx stops the engine.
func (r *Run) StartStage(ctx context.Context, kind stage.Kind, params stage.Params) (*StageRun, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: %s: params are nil", stage.ErrInvalidParams, kind)
	}
	if params.Kind() != kind {
		return nil, fmt.Errorf("%w: %w: got %s params for %s", stage.ErrInvalidParams, stage.ErrKindMismatch, params.Kind(), kind)
	}
	if err := stage.CheckSource(params); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRunClosed
	}

	refs := make(map[stage.Kind]string)
	var missing []stage.Kind
	for _, dep := range stage.Requirements(params) {
		a, ok := r.artifacts[dep]
		if !ok {
			missing = append(missing, dep)
			continue
		}
		refs[dep] = a.ref()
	}
	if len(missing) > 0 {
		r.mu.Unlock()
		return nil, &DependencyNotReadyError{Stage: kind, Missing: missing}
	}

	bound := stage.Defaults(stage.Bind(params, refs))
	if err := stage.Validate(bound); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	prior := r.active[kind]
	delete(r.active, kind)
	r.gen[kind]++
	gen := r.gen[kind]
	r.mu.Unlock()

	if prior != nil {
		prior.engine.Stop()
		r.p.logger.Info("stage restarted",
			slog.String("avatar_id", r.avatarID),
			slog.String("stage", kind.String()),
			slog.String("previous_task_id", prior.TaskID()),
		)
	}

	var pair presign.URLPair
	if kind.NeedsURLs() {
		var err error
		pair, err = r.p.allocator.Allocate(ctx)
		if err != nil {
			return nil, err
		}
	}

	h, err := r.p.submitter.Submit(ctx, kind, bound, pair, r.avatarID)
	if err != nil {
		return nil, err
	}
	r.p.persist(h)

	sr := &StageRun{
		Kind:    kind,
		Handle:  h,
		run:     r,
		started: time.Now(),
		gen:     gen,
		done:    make(chan struct{}),
	}
	sr.engine = poller.New(r.p.submitter.Checker(kind), h, r.p.pollCfg,
		poller.WithLogger(r.p.logger.With(slog.String("avatar_id", r.avatarID))),
		poller.WithObserver(func(u poller.Update) { r.onUpdate(sr, u) }),
	)

	// The engine is started under the run lock so Teardown and newer
	// submissions only ever see a running engine in the active slot. Its
	// first update waits for the lock, after registration.
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return nil, ErrRunClosed
	case r.gen[kind] != gen:
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s superseded by a newer submission", poller.ErrStopped, kind)
	}
	if err := sr.engine.Start(ctx); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.active[kind] = sr
	r.latest[kind] = h
	delete(r.lastUpdate, kind)
	r.mu.Unlock()

	go r.watch(sr)

	return sr, nil
}

// onUpdate runs on the engine goroutine without the engine lock held.
func (r *Run) onUpdate(sr *StageRun, u poller.Update) {
	r.mu.Lock()
	current := r.active[sr.Kind] == sr
	if current {
		r.lastUpdate[sr.Kind] = u
		if u.Terminal {
			delete(r.active, sr.Kind)
		}
	}
	// Recorded before observers run, so a resubmission they trigger cannot
	// drop the artifact of a task that already finished.
	if u.Terminal && u.Status == task.StatusDone {
		r.completeLocked(sr)
	}
	r.mu.Unlock()

	r.p.persist(sr.Handle)

	if r.p.recorder != nil {
		r.p.recorder.StatusChecked(sr.Kind, outcomeOf(u))
	}
	if r.p.observer != nil {
		r.p.observer(r.avatarID, u)
	}

	if current && !u.Terminal && r.p.notFoundBudget > 0 && u.NotFoundStreak >= r.p.notFoundBudget {
		r.p.logger.Warn("giving up on unknown task",
			slog.String("avatar_id", r.avatarID),
			slog.String("task_id", u.TaskID),
			slog.Int("not_found_streak", u.NotFoundStreak),
		)
		sr.engine.MarkNotFound()
	}
}

func outcomeOf(u poller.Update) string {
	switch {
	case u.Err != nil && !u.Terminal:
		return "fetch_error"
	case u.NotFoundStreak > 0 && !u.Terminal:
		return "not_found"
	default:
		return string(u.Status)
	}
}

// watch records the outcome of an attempt once its engine finishes.
func (r *Run) watch(sr *StageRun) {
	<-sr.engine.Done()
	err := sr.engine.Err()
	snap := sr.Handle.Clone()

	r.mu.Lock()
	if r.active[sr.Kind] == sr {
		delete(r.active, sr.Kind)
	}
	if err == nil {
		r.completeLocked(sr)
	}
	r.mu.Unlock()

	r.p.persist(sr.Handle)
	if r.p.recorder != nil {
		r.p.recorder.TaskFinished(sr.Kind, snap.Status, time.Since(sr.started))
	}

	if err != nil {
		r.p.logger.Info("stage finished without artifact",
			slog.String("avatar_id", r.avatarID),
			slog.String("stage", sr.Kind.String()),
			slog.String("task_id", snap.TaskID),
			slog.String("error", err.Error()),
		)
	} else {
		r.p.logger.Info("stage done",
			slog.String("avatar_id", r.avatarID),
			slog.String("stage", sr.Kind.String()),
			slog.String("task_id", snap.TaskID),
			slog.String("read_url", snap.ReadURL),
		)
	}

	sr.err = err
	close(sr.done)
}

// completeLocked must be called with r.mu held. It records the artifact of
// a done attempt once. An attempt never replaces the artifact of a newer
// attempt of the same stage.
func (r *Run) completeLocked(sr *StageRun) {
	if sr.recorded {
		return
	}
	snap := sr.Handle.Clone()
	if snap.Status != task.StatusDone {
		return
	}
	sr.recorded = true
	sr.artifact = ArtifactReference{
		Stage:      sr.Kind,
		TaskID:     snap.TaskID,
		ReadURL:    snap.ReadURL,
		Output:     snap.Output,
		ProducedAt: time.Now(),
	}
	if sr.gen > r.artifactGen[sr.Kind] {
		r.artifactGen[sr.Kind] = sr.gen
		r.recordLocked(sr.artifact)
	}
}

// recordLocked must be called with r.mu held.
func (r *Run) recordLocked(a ArtifactReference) {
	if _, ok := r.artifacts[a.Stage]; ok {
		for i, k := range r.order {
			if k == a.Stage {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.artifacts[a.Stage] = a
	r.order = append(r.order, a.Stage)
}

// Artifact returns the latest artifact of kind.
func (r *Run) Artifact(kind stage.Kind) (ArtifactReference, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[kind]
	return a, ok
}

// Teardown stops every active engine and waits until each attempt has
// recorded its outcome. Later stage submissions fail with ErrRunClosed.
func (r *Run) Teardown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunClosed
	}
	r.closed = true
	active := make([]*StageRun, 0, len(r.active))
	for _, sr := range r.active {
		active = append(active, sr)
	}
	r.mu.Unlock()

	for _, sr := range active {
		sr.engine.Stop()
	}
	for _, sr := range active {
		<-sr.done
	}

	r.p.logger.Info("run torn down",
		slog.String("avatar_id", r.avatarID),
		slog.Int("stopped_engines", len(active)),
	)
	return nil
}

// Stage returns the state of one stage slot.
func (r *Run) Stage(kind stage.Kind) (StageState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stageLocked(kind)
	return st, st.Handle != nil || st.Artifact != nil
}

// Snapshot returns a copy of the run state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		AvatarID:  r.avatarID,
		CreatedAt: r.createdAt,
		Closed:    r.closed,
		Artifacts: make([]ArtifactReference, 0, len(r.order)),
		Stages:    make([]StageState, 0),
	}
	for _, k := range r.order {
		s.Artifacts = append(s.Artifacts, r.artifacts[k])
	}
	for _, k := range stage.All() {
		st := r.stageLocked(k)
		if st.Handle != nil || st.Artifact != nil {
			s.Stages = append(s.Stages, st)
		}
	}
	return s
}

// stageLocked must be called with r.mu held.
func (r *Run) stageLocked(kind stage.Kind) StageState {
	st := StageState{Stage: kind}
	if _, ok := r.active[kind]; ok {
		st.Active = true
	}
	if h, ok := r.latest[kind]; ok {
		st.Handle = h.Clone()
	}
	if u, ok := r.lastUpdate[kind]; ok {
		st.LastUpdate = &u
	}
	if a, ok := r.artifacts[kind]; ok {
		st.Artifact = &a
	}
	return st
}
