package store

import (
	"context"
	"errors"

	"rasoipos/backend/internal/domain"
)

var (
	// ErrNotFound: a referenced tax group, category, product or bill does
	// not exist within the business scope.
	ErrNotFound = errors.New("not found")

	// ErrValidation: malformed input — rate out of range, empty name,
	// duplicate name/code, non-positive quantity, negative price, missing
	// tax group on a product about to be sold.
	ErrValidation = errors.New("validation failed")

	// ErrInactiveTaxGroup: attempt to newly bind a product or category to a
	// deactivated tax group. Existing stale bindings are tolerated until
	// resale.
	ErrInactiveTaxGroup = errors.New("tax group is inactive")

	// ErrConsistency: the post-computation reconciliation check failed.
	// Treated as a defect; the enclosing transaction is aborted and nothing
	// is persisted.
	ErrConsistency = errors.New("bill consistency violation")

	// ErrConflict: a concurrent transaction invalidated this one (e.g. a
	// bulk reassignment raced a sale). Safe to retry from a fresh read.
	ErrConflict = errors.New("transaction conflict")
)

type Repository interface {
	CreateTaxGroup(ctx context.Context, group domain.TaxGroup) (*domain.TaxGroup, error)
	GetTaxGroup(ctx context.Context, businessID string, id string) (*domain.TaxGroup, error)
	GetTaxGroupByCode(ctx context.Context, businessID string, code string) (*domain.TaxGroup, error)
	ListTaxGroups(ctx context.Context, businessID string, activeOnly bool) ([]domain.TaxGroup, error)
	UpdateTaxGroup(ctx context.Context, group domain.TaxGroup) (*domain.TaxGroup, error)

	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	GetCategory(ctx context.Context, businessID string, id string) (*domain.Category, error)
	ListCategories(ctx context.Context, businessID string) ([]domain.Category, error)

	// ReassignCategoryTaxGroup atomically points every product in the
	// category at the target group and returns the full count of products
	// in the category (idempotent — not a changed-row delta).
	ReassignCategoryTaxGroup(ctx context.Context, businessID string, categoryID string, taxGroupID string) (int, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, businessID string, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, businessID string) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// GetSaleBindings resolves products with their tax groups and category
	// names in one consistent read.
	GetSaleBindings(ctx context.Context, businessID string, productIDs []string) (map[string]domain.SaleBinding, error)

	// CreateBill persists the bill and all item snapshots atomically — all
	// or nothing.
	CreateBill(ctx context.Context, bill domain.BillSnapshot, items []domain.BillItemSnapshot) (*domain.BillSnapshot, error)
	GetBill(ctx context.Context, businessID string, id string) (*domain.BillSnapshot, []domain.BillItemSnapshot, error)
	ListBills(ctx context.Context, businessID string, limit int) ([]domain.BillSnapshot, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, businessID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
