package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
	"github.com/kessel-b2b/aigate/internal/port/outbound"
)

// PolicyAdminService provides validated CRUD over access policies. Every
// write goes straight to the store; the executor and tool registry read
// the store on each call, so there is nothing to reload.
type PolicyAdminService struct {
	store    datasource.Store
	guards   outbound.GuardEvaluator
	validate *validator.Validate
	logger   *slog.Logger
}

// NewPolicyAdminService creates a PolicyAdminService. guards may be nil,
// in which case policies with a guard expression are rejected.
func NewPolicyAdminService(store datasource.Store, guards outbound.GuardEvaluator, logger *slog.Logger) *PolicyAdminService {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return datasource.ValidIdentifier(fl.Field().String())
	})
	return &PolicyAdminService{store: store, guards: guards, validate: v, logger: logger}
}

// List returns every policy, enabled or not.
func (s *PolicyAdminService) List(ctx context.Context) ([]datasource.AccessPolicy, error) {
	return s.store.List(ctx)
}

// Get returns a policy by id.
func (s *PolicyAdminService) Get(ctx context.Context, id string) (*datasource.AccessPolicy, error) {
	return s.store.Get(ctx, id)
}

// Create validates and stores a new policy. actor is recorded as created_by.
func (s *PolicyAdminService) Create(ctx context.Context, p *datasource.AccessPolicy, actor string) (*datasource.AccessPolicy, error) {
	p.ID = ""
	if p.CreatedBy == "" {
		p.CreatedBy = actor
	}
	if err := s.check(p); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save access policy: %w", err)
	}
	s.logger.Info("access policy created",
		"id", p.ID,
		"resource", p.ResourceID(),
		"access_level", p.AccessLevel,
		"enabled", p.Enabled,
		"actor", actor,
	)
	return p, nil
}

// Update replaces the policy with the given id.
func (s *PolicyAdminService) Update(ctx context.Context, id string, p *datasource.AccessPolicy, actor string) (*datasource.AccessPolicy, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.ID = existing.ID
	p.CreatedBy = existing.CreatedBy
	p.CreatedAt = existing.CreatedAt
	return s.save(ctx, p, actor)
}

// SetAccessLevel changes only the access level.
func (s *PolicyAdminService) SetAccessLevel(ctx context.Context, id, level, actor string) (*datasource.AccessPolicy, error) {
	parsed, err := datasource.ParseAccessLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", datasource.ErrInvalidPolicy, err)
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.AccessLevel = parsed
	return s.save(ctx, p, actor)
}

// SetEnabled toggles the enabled flag.
func (s *PolicyAdminService) SetEnabled(ctx context.Context, id string, enabled bool, actor string) (*datasource.AccessPolicy, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Enabled = enabled
	return s.save(ctx, p, actor)
}

// Delete removes a policy. Its tools disappear on the next request.
func (s *PolicyAdminService) Delete(ctx context.Context, id, actor string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("access policy deleted", "id", id, "actor", actor)
	return nil
}

func (s *PolicyAdminService) save(ctx context.Context, p *datasource.AccessPolicy, actor string) (*datasource.AccessPolicy, error) {
	if err := s.check(p); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save access policy: %w", err)
	}
	s.logger.Info("access policy updated",
		"id", p.ID,
		"resource", p.ResourceID(),
		"access_level", p.AccessLevel,
		"enabled", p.Enabled,
		"actor", actor,
	)
	return p, nil
}

// check applies defaults and rejects policies that the generator would skip
// or whose guard does not compile.
func (s *PolicyAdminService) check(p *datasource.AccessPolicy) error {
	p.Table = strings.TrimSpace(p.Table)
	p.ApplyDefaults()
	if err := s.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", datasource.ErrInvalidPolicy, describeValidation(err))
	}
	if err := p.Check(); err != nil {
		return err
	}
	if p.Guard == "" {
		return nil
	}
	if s.guards == nil {
		return fmt.Errorf("%w: guard expressions are not supported", datasource.ErrInvalidPolicy)
	}
	if err := s.guards.Validate(p.Guard); err != nil {
		return fmt.Errorf("%w: guard: %w", datasource.ErrInvalidPolicy, err)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "identifier":
			msgs = append(msgs, fmt.Sprintf("%s must be an identifier ([A-Za-z_][A-Za-z0-9_]*), got %q", fe.Field(), fe.Value()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q (%s)", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(msgs, "; ")
}
