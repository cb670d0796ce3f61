// Package trigger registers and removes named triggers with the trigger
// authority.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// Authority sentinels. Authority implementations return these (possibly
// wrapped) so the registry can classify failures.
var (
	ErrTriggerExists     = errors.New("trigger already exists")
	ErrTriggerNotFound   = errors.New("trigger not found")
	ErrInvalidExpression = errors.New("invalid trigger expression")
)

// Authority is the external time-based trigger service.
type Authority interface {
	CreateTrigger(ctx context.Context, t domain.Trigger) error
	DeleteTrigger(ctx context.Context, name string) error
}

type MetricsSink interface {
	TriggerOperation(op, outcome string)
}

// Targets names the downstream action invoked per trigger action, and the
// role the authority assumes to invoke it.
type Targets struct {
	TurnOnActionRef  string
	TurnOffActionRef string
	RoleRef          string
}

func (t Targets) actionRef(a domain.TriggerAction) string {
	if a == domain.ActionTurnOn {
		return t.TurnOnActionRef
	}
	return t.TurnOffActionRef
}

type Registry struct {
	authority Authority
	targets   Targets
	logger    *zap.Logger
	metrics   MetricsSink
	suffix    func() string
}

func NewRegistry(authority Authority, targets Targets, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		authority: authority,
		targets:   targets,
		logger:    logger.Named("trigger"),
		suffix:    uuid.NewString,
	}
}

func (r *Registry) WithMetrics(m MetricsSink) *Registry {
	r.metrics = m
	return r
}

// WithSuffixFunc replaces the random name suffix generator.
func (r *Registry) WithSuffixFunc(fn func() string) *Registry {
	r.suffix = fn
	return r
}

// Name builds a trigger name of the form <action>-<deviceId>-<suffix>.
func Name(action domain.TriggerAction, deviceID, suffix string) string {
	return fmt.Sprintf("%s-%s-%s", action, deviceID, suffix)
}

// NewName returns a trigger name with a fresh random suffix. Every call
// yields a distinct name, including repeated calls for the same device.
func (r *Registry) NewName(action domain.TriggerAction, deviceID string) string {
	return Name(action, deviceID, r.suffix())
}

// Register creates the trigger and returns its reference (the name).
// A taken name yields domain.ErrConflict; any other authority failure,
// including a rejected expression, yields domain.ErrUpstream.
func (r *Registry) Register(ctx context.Context, name, expression string, input domain.TriggerInput, enabled bool) (string, error) {
	if err := validate(name, expression, input); err != nil {
		r.record("register", err)
		return "", err
	}

	t := domain.Trigger{
		Name:       name,
		Expression: expression,
		Target: domain.TriggerTarget{
			ActionRef: r.targets.actionRef(input.Action),
			RoleRef:   r.targets.RoleRef,
			Input:     input,
		},
		State: domain.StateFor(enabled),
	}

	err := r.authority.CreateTrigger(ctx, t)
	switch {
	case err == nil:
		r.logger.Info("trigger registered",
			zap.String("trigger", name),
			zap.String("expression", expression),
			zap.String("state", string(t.State)),
		)
	case errors.Is(err, ErrTriggerExists):
		err = fmt.Errorf("%w: register %s: %w", domain.ErrConflict, name, err)
	default:
		err = fmt.Errorf("%w: register %s: %w", domain.ErrUpstream, name, err)
	}
	r.record("register", err)
	if err != nil {
		return "", err
	}
	return name, nil
}

// Unregister deletes the trigger. A trigger that is already gone is not
// an error.
func (r *Registry) Unregister(ctx context.Context, ref string) error {
	if ref == "" {
		err := fmt.Errorf("%w: trigger reference is required", domain.ErrValidation)
		r.record("unregister", err)
		return err
	}

	err := r.authority.DeleteTrigger(ctx, ref)
	switch {
	case err == nil:
		r.logger.Info("trigger unregistered", zap.String("trigger", ref))
	case errors.Is(err, ErrTriggerNotFound):
		r.logger.Debug("trigger already absent", zap.String("trigger", ref))
		err = nil
	default:
		err = fmt.Errorf("%w: unregister %s: %w", domain.ErrUpstream, ref, err)
	}
	r.record("unregister", err)
	return err
}

func (r *Registry) record(op string, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.TriggerOperation(op, outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "upstream"
	}
}

func validate(name, expression string, input domain.TriggerInput) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: trigger name is required", domain.ErrValidation)
	}
	if strings.TrimSpace(expression) == "" {
		return fmt.Errorf("%w: trigger expression is required", domain.ErrValidation)
	}
	if input.DeviceID == "" {
		return fmt.Errorf("%w: trigger input device id is required", domain.ErrValidation)
	}
	if _, err := domain.ParseTriggerAction(string(input.Action)); err != nil {
		return err
	}
	return nil
}
