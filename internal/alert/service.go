package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alertengine/pkg/market"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is alert CRUD backed by a Store, keeping the Evaluator index in sync.
type Service struct {
	store     Store
	evaluator *Evaluator
	validate  *validator.Validate
	logger    *zap.Logger

	// knownSource reports whether an indicator instance name exists. Nil accepts any.
	knownSource func(name string) bool
	now         func() time.Time
}

func NewService(store Store, evaluator *Evaluator, knownSource func(string) bool, logger *zap.Logger) *Service {
	return &Service{
		store:       store,
		evaluator:   evaluator,
		validate:    validator.New(),
		logger:      logger,
		knownSource: knownSource,
		now:         time.Now,
	}
}

// Load fills the evaluator from the store.
func (s *Service) Load(ctx context.Context) error {
	alerts, err := s.store.ListAlerts(ctx)
	if err != nil {
		return err
	}
	s.evaluator.Load(alerts)
	s.logger.Info("alerts loaded", zap.Int("count", len(alerts)))
	return nil
}

func (s *Service) List(ctx context.Context) ([]Alert, error) {
	return s.store.ListAlerts(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (Alert, error) {
	return s.store.GetAlert(ctx, id)
}

// Create validates a, assigns its id and timestamps, and persists it.
func (s *Service) Create(ctx context.Context, a Alert) (Alert, error) {
	if err := s.check(&a); err != nil {
		return Alert{}, err
	}
	now := s.now().UTC()
	a.ID = uuid.NewString()
	a.CreatedAt, a.UpdatedAt = now, now

	if err := s.store.CreateAlert(ctx, a); err != nil {
		return Alert{}, err
	}
	s.evaluator.Upsert(a)
	s.logger.Info("alert created",
		zap.String("id", a.ID),
		zap.String("instrument", a.Instrument),
		zap.String("source", a.Source),
		zap.String("condition", string(a.Condition)),
		zap.Float64("threshold", a.Threshold))
	return a, nil
}

// Update replaces the rule with id a.ID. CreatedAt is preserved.
func (s *Service) Update(ctx context.Context, a Alert) (Alert, error) {
	existing, err := s.store.GetAlert(ctx, a.ID)
	if err != nil {
		return Alert{}, err
	}
	if err := s.check(&a); err != nil {
		return Alert{}, err
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateAlert(ctx, a); err != nil {
		return Alert{}, err
	}
	s.evaluator.Upsert(a)
	return a, nil
}

// Delete removes the alert and its trigger history.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAlert(ctx, id); err != nil {
		return err
	}
	s.evaluator.Remove(id)
	s.logger.Info("alert deleted", zap.String("id", id))
	return nil
}

// Triggers lists trigger history in firing order. An empty id lists every alert's.
func (s *Service) Triggers(ctx context.Context, alertID string) ([]Trigger, error) {
	if alertID != "" {
		if _, err := s.store.GetAlert(ctx, alertID); err != nil {
			return nil, err
		}
	}
	return s.store.ListTriggers(ctx, alertID)
}

// check normalizes a in place and validates it. Failures wrap ErrValidation.
func (s *Service) check(a *Alert) error {
	ticker, err := market.NormalizeTicker(a.Instrument)
	if err != nil {
		return fmt.Errorf("%w: instrument is required", ErrValidation)
	}
	a.Instrument = ticker
	a.Source = strings.TrimSpace(a.Source)
	a.Condition = Condition(strings.ToLower(string(a.Condition)))

	if err := s.validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if a.Interval != "" && !a.Interval.IsValid() {
		return fmt.Errorf("%w: %w", ErrValidation, market.ErrInvalidInterval)
	}
	if a.Source != SourcePrice {
		if a.Interval == "" {
			return fmt.Errorf("%w: indicator source %q requires an interval", ErrValidation, a.Source)
		}
		if s.knownSource != nil && !s.knownSource(a.Source) {
			return fmt.Errorf("%w: unknown indicator %q", ErrValidation, a.Source)
		}
	}
	return nil
}
