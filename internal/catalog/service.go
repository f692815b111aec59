package catalog

import (
	"context"
	"errors"

	"golang.org/x/text/cases"
)

// Service coordinates catalog operations.
type Service struct {
	repo   Repository
	folder cases.Caser
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, folder: cases.Fold()}
}

// List returns catalog products, active ones only unless includeInactive is set.
func (s *Service) List(ctx context.Context, includeInactive bool) ([]Product, error) {
	return s.repo.List(ctx, includeInactive)
}

// Get loads one product by id.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Resolve finds a product by name, ignoring case.
func (s *Service) Resolve(ctx context.Context, name string) (Product, error) {
	key := s.nameKey(name)
	if key == "" {
		return Product{}, ErrNotFound
	}
	return s.repo.GetByNameKey(ctx, key)
}

// Create registers a new product.
func (s *Service) Create(ctx context.Context, product Product) (Product, error) {
	if err := s.validate(product); err != nil {
		return Product{}, err
	}
	product.IsActive = true
	return s.repo.Create(ctx, product, s.nameKey(product.Name))
}

// Update replaces the descriptive attributes of a product.
func (s *Service) Update(ctx context.Context, id int64, product Product) error {
	if id <= 0 {
		return ErrNotFound
	}
	if err := s.validate(product); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, product, s.nameKey(product.Name))
}

// Deactivate hides a product from stock listings without touching its ledger.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrNotFound
	}
	return s.repo.Deactivate(ctx, id)
}

var errNameRequired = errors.New("catalog: product name is required")

// nameKey normalises a product name for unique, case-insensitive lookup.
func (s *Service) nameKey(name string) string {
	return s.folder.String(trimSpace(name))
}
