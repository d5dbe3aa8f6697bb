// Package gateway turns typed stage params into exactly one submission to
// the AIGE service and maps the service's status vocabulary for polling.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/aige-pipeline/internal/aige"
	"github.com/maauso/aige-pipeline/internal/poller"
	"github.com/maauso/aige-pipeline/internal/presign"
	"github.com/maauso/aige-pipeline/internal/stage"
	"github.com/maauso/aige-pipeline/internal/task"
)

// SubmissionError is a submission the service rejected or never answered.
type SubmissionError struct {
	Stage stage.Kind
	// HTTPStatus is zero when no response was received.
	HTTPStatus int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("gateway: submit %s: status %d: %v", e.Stage, e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("gateway: submit %s: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Gateway submits stages and builds their status checkers.
type Gateway struct {
	client aige.Client
	logger *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// New creates a Gateway over client.
func New(client aige.Client, opts ...Option) *Gateway {
	g := &Gateway{client: client}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Submit validates params and performs one submission for kind. Invalid
// params fail with stage.ErrInvalidParams before any request is made. The
// returned handle is pending with no poll attempts.
func (g *Gateway) Submit(ctx context.Context, kind stage.Kind, params stage.Params, pair presign.URLPair, avatarID string) (*task.Handle, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: %s: params are nil", stage.ErrInvalidParams, kind)
	}
	if params.Kind() != kind {
		return nil, fmt.Errorf("%w: %w: got %s params for %s", stage.ErrInvalidParams, stage.ErrKindMismatch, params.Kind(), kind)
	}

	p := stage.Defaults(params)
	if err := stage.Validate(p); err != nil {
		return nil, err
	}
	if kind.NeedsURLs() {
		if avatarID == "" {
			return nil, fmt.Errorf("%w: %s: avatar id is required", stage.ErrInvalidParams, kind)
		}
		if pair.WriteURL == "" || pair.ReadURL == "" {
			return nil, fmt.Errorf("%w: %s: URL pair is required", stage.ErrInvalidParams, kind)
		}
	}

	body, err := buildRequest(p, pair, avatarID)
	if err != nil {
		return nil, err
	}

	var taskID string
	switch {
	case kind == stage.KindFinetune:
		resp, err := g.client.StartFinetune(ctx, body)
		if err != nil {
			return nil, submissionError(kind, err)
		}
		taskID = resp.FinetuneID
	case kind == stage.KindFluxUltra:
		resp, err := g.client.StartFluxUltra(ctx, body)
		if err != nil {
			return nil, submissionError(kind, err)
		}
		taskID = resp.RequestID
	case kind.CreatesRun():
		resp, err := g.client.CreateAvatar(ctx, body)
		if err != nil {
			return nil, submissionError(kind, err)
		}
		taskID = resp.TaskID
	default:
		resp, err := g.client.UpdateStage(ctx, avatarID, segments[kind], body)
		if err != nil {
			return nil, submissionError(kind, err)
		}
		taskID = resp.TaskID
	}

	g.logger.Info("stage submitted",
		slog.String("stage", kind.String()),
		slog.String("avatar_id", avatarID),
		slog.String("task_id", taskID),
	)

	return task.NewHandle(taskID, avatarID, kind, pair.ReadURL), nil
}

func submissionError(kind stage.Kind, err error) error {
	se := &SubmissionError{Stage: kind, Err: err}
	var statusErr *aige.StatusError
	if errors.As(err, &statusErr) {
		se.HTTPStatus = statusErr.StatusCode
		se.Body = statusErr.Body
	}
	return se
}

// Checker returns the status source the polling engine uses for kind.
func (g *Gateway) Checker(kind stage.Kind) poller.Checker {
	switch kind {
	case stage.KindFinetune:
		return poller.CheckerFunc(g.checkFinetune)
	case stage.KindFluxUltra:
		return poller.CheckerFunc(g.checkFluxUltra)
	default:
		return poller.CheckerFunc(g.checkTask)
	}
}

func (g *Gateway) checkTask(ctx context.Context, taskID string) (poller.Result, error) {
	resp, err := g.client.TaskStatus(ctx, taskID)
	if errors.Is(err, aige.ErrNotFound) {
		return poller.Result{Class: poller.ClassNotFound, RemoteStatus: string(aige.StatusNotFound)}, nil
	}
	if err != nil {
		return poller.Result{}, err
	}

	return poller.Result{
		Class:        Classify(resp.Status),
		RemoteStatus: string(resp.Status),
		Payload:      resp.Raw,
	}, nil
}

func (g *Gateway) checkFinetune(ctx context.Context, finetuneID string) (poller.Result, error) {
	resp, err := g.client.FinetuneResult(ctx, finetuneID)
	if errors.Is(err, aige.ErrNotFound) {
		return poller.Result{Class: poller.ClassNotFound, RemoteStatus: string(aige.StatusNotFound)}, nil
	}
	if err != nil {
		return poller.Result{}, err
	}

	return poller.Result{
		Class:        poller.ClassDone,
		RemoteStatus: string(aige.StatusDone),
		Output:       resp.FinetuneID,
		Payload:      resp.Raw,
	}, nil
}

// checkFluxUltra treats a result without images like a 404.
func (g *Gateway) checkFluxUltra(ctx context.Context, requestID string) (poller.Result, error) {
	resp, err := g.client.FluxUltraResult(ctx, requestID)
	if errors.Is(err, aige.ErrNotFound) || (err == nil && resp.ImageURL() == "") {
		return poller.Result{Class: poller.ClassNotFound, RemoteStatus: string(aige.StatusNotFound)}, nil
	}
	if err != nil {
		return poller.Result{}, err
	}

	return poller.Result{
		Class:        poller.ClassDone,
		RemoteStatus: string(aige.StatusDone),
		ReadURL:      resp.ImageURL(),
		Payload:      resp.Raw,
	}, nil
}

// Classify maps a remote status onto a polling class.
func Classify(s aige.Status) poller.Class {
	switch {
	case s.IsDone():
		return poller.ClassDone
	case s.IsError():
		return poller.ClassError
	case s.IsNotFound():
		return poller.ClassNotFound
	default:
		return poller.ClassTransient
	}
}
