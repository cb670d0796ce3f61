package trigger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// Store persists triggers for the in-process authority.
// InsertTrigger returns ErrTriggerExists for a taken name and
// DeleteTrigger returns ErrTriggerNotFound for a missing one.
type Store interface {
	InsertTrigger(ctx context.Context, t domain.Trigger) error
	DeleteTrigger(ctx context.Context, name string) error
}

type ExpressionValidator interface {
	Validate(expression string, timezone string) error
}

// LocalAuthority is an Authority backed by the trigger table that the
// in-process scheduler evaluates.
type LocalAuthority struct {
	store     Store
	validator ExpressionValidator
	timezone  string
	clock     func() time.Time
	logger    *zap.Logger
}

func NewLocalAuthority(store Store, validator ExpressionValidator, timezone string, logger *zap.Logger) *LocalAuthority {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timezone == "" {
		timezone = "UTC"
	}
	return &LocalAuthority{
		store:     store,
		validator: validator,
		timezone:  timezone,
		clock:     time.Now,
		logger:    logger.Named("authority"),
	}
}

func (a *LocalAuthority) WithClock(clock func() time.Time) *LocalAuthority {
	a.clock = clock
	return a
}

func (a *LocalAuthority) CreateTrigger(ctx context.Context, t domain.Trigger) error {
	if err := a.validator.Validate(t.Expression, a.timezone); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidExpression, t.Expression, err)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = a.clock().UTC()
	}
	if err := a.store.InsertTrigger(ctx, t); err != nil {
		return err
	}
	a.logger.Debug("trigger stored", zap.String("trigger", t.Name))
	return nil
}

func (a *LocalAuthority) DeleteTrigger(ctx context.Context, name string) error {
	return a.store.DeleteTrigger(ctx, name)
}

var _ Authority = (*LocalAuthority)(nil)
