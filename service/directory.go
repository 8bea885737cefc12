package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/pkg/mq"
	"roadassist/storage"
)

const (
	RoutingPrincipalUpserted = "principal.upserted"
	RoutingPaymentPaid       = "payment.paid"
)

// Identity is what a verified bearer token says about its holder.
type Identity struct {
	ID       string
	Role     string
	Approved bool
	Active   bool
}

// DirectoryService keeps the principal read model in step with the
// identity and subscription collaborators.
type DirectoryService interface {
	Sync(ctx context.Context, p *models.Principal) error
	Resolve(ctx context.Context, id Identity) (*models.Principal, error)
	Get(ctx context.Context, id string) (*models.Principal, error)
	UpdateLocation(ctx context.Context, actor *models.Principal, p models.Point) error
	// Reindex loads stored provider locations into the external index.
	Reindex(ctx context.Context) (int, error)
	HandlePrincipalUpserted(ctx context.Context, data json.RawMessage) error
}

type directoryService struct {
	*deps
	repo storage.IUserStorage
}

func newDirectoryService(d *deps) DirectoryService {
	return &directoryService{deps: d, repo: d.stg.User()}
}

func validRole(role string) bool {
	switch role {
	case models.RoleRequester, models.RoleProvider, models.RoleStaff, models.RoleAdmin:
		return true
	}
	return false
}

func (s *directoryService) Sync(ctx context.Context, p *models.Principal) error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return errs.Invalid("principal id is required")
	}
	if !validRole(p.Role) {
		return errs.Invalid("unknown role %q", p.Role)
	}
	if p.Location != nil {
		if err := p.Location.Validate(); err != nil {
			return err
		}
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	if err := s.repo.Upsert(ctx, p); err != nil {
		return err
	}

	for _, idx := range s.locationIndexes() {
		var err error
		switch {
		case !p.Active:
			err = idx.RemoveLocation(ctx, p.ID, p.Role)
		case p.Location != nil:
			err = idx.UpsertLocation(ctx, p.ID, p.Role, *p.Location)
		}
		if err != nil {
			s.log.Warning("sync location index", logger.String("principal_id", p.ID), logger.Error(err))
		}
	}
	s.log.Debug("principal synced", logger.String("principal_id", p.ID), logger.String("role", p.Role))
	return nil
}

// Resolve maps a token holder to the read model. Token claims win over the
// stored copy; a principal seen for the first time is created from them.
func (s *directoryService) Resolve(ctx context.Context, id Identity) (*models.Principal, error) {
	if id.ID == "" || !validRole(id.Role) {
		return nil, errs.ErrNotAuthorized
	}
	p, err := s.repo.GetByID(ctx, id.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		p = &models.Principal{ID: id.ID, Role: id.Role, Approved: id.Approved, Active: id.Active, UpdatedAt: s.now()}
		if err := s.repo.Upsert(ctx, p); err != nil {
			return nil, err
		}
		s.log.Info("principal created from token", logger.String("principal_id", id.ID), logger.String("role", id.Role))
		return p, nil
	case err != nil:
		return nil, err
	}

	if p.Role == id.Role && p.Approved == id.Approved && p.Active == id.Active {
		return p, nil
	}
	p.Role, p.Approved, p.Active = id.Role, id.Approved, id.Active
	p.UpdatedAt = s.now()
	if err := s.repo.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *directoryService) Get(ctx context.Context, id string) (*models.Principal, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *directoryService) UpdateLocation(ctx context.Context, actor *models.Principal, p models.Point) error {
	if actor == nil || !actor.Active {
		return errs.ErrNotAuthorized
	}
	if err := p.Validate(); err != nil {
		return err
	}
	for _, idx := range s.locationIndexes() {
		if err := idx.UpsertLocation(ctx, actor.ID, actor.Role, p); err != nil {
			return err
		}
	}
	loc := p
	actor.Location = &loc
	return nil
}

func (s *directoryService) Reindex(ctx context.Context) (int, error) {
	if !s.external {
		return 0, nil
	}
	providers, err := s.repo.GetByRole(ctx, models.RoleProvider)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range providers {
		if !p.Active || p.Location == nil {
			continue
		}
		if err := s.index.UpsertLocation(ctx, p.ID, p.Role, *p.Location); err != nil {
			return n, err
		}
		n++
	}
	s.log.Info("location index rebuilt", logger.Int("providers", n))
	return n, nil
}

func (s *directoryService) HandlePrincipalUpserted(ctx context.Context, data json.RawMessage) error {
	var p models.Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: decode principal: %v", mq.ErrPermanent, err)
	}
	if err := s.Sync(ctx, &p); err != nil {
		if errors.Is(err, errs.ErrInvalidInput) || errors.Is(err, errs.ErrInvalidLocation) {
			return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
		}
		return err
	}
	return nil
}
