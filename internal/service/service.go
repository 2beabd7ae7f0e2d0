package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"rasoipos/backend/internal/cache"
	"rasoipos/backend/internal/domain"
	"rasoipos/backend/internal/store"
	"rasoipos/backend/internal/tax"
	"rasoipos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo              store.Repository
	taxGroupCache     cache.TaxGroupCache
	validate          *validator.Validate
	defaultBusinessID string
	cacheTTL          time.Duration
	billCommitRetries int
}

func New(repo store.Repository, taxGroupCache cache.TaxGroupCache, defaultBusinessID string, cacheTTL time.Duration, billCommitRetries int) *Service {
	if defaultBusinessID == "" {
		defaultBusinessID = "main-business"
	}
	if taxGroupCache == nil {
		taxGroupCache = cache.NoopTaxGroupCache{}
	}
	if billCommitRetries < 1 {
		billCommitRetries = 3
	}

	return &Service{
		repo:              repo,
		taxGroupCache:     taxGroupCache,
		validate:          validator.New(),
		defaultBusinessID: defaultBusinessID,
		cacheTTL:          cacheTTL,
		billCommitRetries: billCommitRetries,
	}
}

func (s *Service) DefaultBusinessID() string {
	return s.defaultBusinessID
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	return nil
}

// ValidateTaxGroup runs the dry-run validation the configuration screen
// calls before saving: every problem is reported as a field error, nothing
// is persisted, and a valid result carries an empty error list.
func (s *Service) ValidateTaxGroup(ctx context.Context, businessID string, req domain.TaxGroupCreateRequest) (domain.TaxGroupValidationResult, error) {
	fieldErrors := make([]domain.FieldError, 0, 4)

	if err := s.validate.Struct(req); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			for _, fe := range invalid {
				fieldErrors = append(fieldErrors, domain.FieldError{
					Field:   strings.ToLower(fe.Field()),
					Message: fmt.Sprintf("failed on the %q rule", fe.Tag()),
				})
			}
		} else {
			return domain.TaxGroupValidationResult{}, err
		}
	}

	if req.TotalRate.IsNegative() || req.TotalRate.GreaterThan(decimal.NewFromInt(100)) {
		fieldErrors = append(fieldErrors, domain.FieldError{
			Field:   "total_rate",
			Message: "must be between 0 and 100",
		})
	}

	if strings.TrimSpace(req.Name) != "" {
		existing, err := s.repo.ListTaxGroups(ctx, businessID, false)
		if err != nil {
			return domain.TaxGroupValidationResult{}, err
		}
		for _, group := range existing {
			if strings.EqualFold(group.Name, strings.TrimSpace(req.Name)) {
				fieldErrors = append(fieldErrors, domain.FieldError{
					Field:   "name",
					Message: fmt.Sprintf("tax group %q already exists", group.Name),
				})
				break
			}
		}
	}

	return domain.TaxGroupValidationResult{
		IsValid: len(fieldErrors) == 0,
		Errors:  fieldErrors,
	}, nil
}

func (s *Service) CreateTaxGroup(ctx context.Context, businessID string, req domain.TaxGroupCreateRequest) (domain.TaxGroup, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.TaxGroup{}, err
	}

	result, err := s.ValidateTaxGroup(ctx, businessID, req)
	if err != nil {
		return domain.TaxGroup{}, err
	}
	if !result.IsValid {
		return domain.TaxGroup{}, fmt.Errorf("%w: %s", store.ErrValidation, joinFieldErrors(result.Errors))
	}

	splitPolicy := req.SplitPolicy
	if splitPolicy == "" {
		splitPolicy = domain.SplitEqual
	}

	group := domain.TaxGroup{
		BusinessID:     businessID,
		Name:           strings.TrimSpace(req.Name),
		Code:           req.Code,
		TotalRate:      req.TotalRate,
		SplitPolicy:    splitPolicy,
		IsTaxInclusive: req.IsTaxInclusive,
		IsActive:       true,
	}

	created, err := s.repo.CreateTaxGroup(ctx, group)
	if err != nil {
		return domain.TaxGroup{}, err
	}

	s.invalidateTaxGroups(ctx, businessID)
	s.logAudit(ctx, businessID, "tax_group_create", "tax_group", created.ID, fmt.Sprintf("name=%s,rate=%s,split=%s,inclusive=%t", created.Name, created.TotalRate, created.SplitPolicy, created.IsTaxInclusive))

	return *created, nil
}

func (s *Service) GetTaxGroup(ctx context.Context, businessID string, id string) (domain.TaxGroup, error) {
	group, err := s.repo.GetTaxGroup(ctx, businessID, id)
	if err != nil {
		return domain.TaxGroup{}, err
	}
	return *group, nil
}

func (s *Service) ListTaxGroups(ctx context.Context, businessID string, activeOnly bool) ([]domain.TaxGroup, error) {
	if activeOnly {
		if groups, hit, err := s.taxGroupCache.Get(ctx, businessID); err == nil && hit {
			return groups, nil
		} else if err != nil {
			log.Printf("[service] WARN: tax group cache read failed: %v", err)
		}
	}

	groups, err := s.repo.ListTaxGroups(ctx, businessID, activeOnly)
	if err != nil {
		return nil, err
	}

	if activeOnly {
		if err := s.taxGroupCache.Set(ctx, businessID, groups, s.cacheTTL); err != nil {
			log.Printf("[service] WARN: tax group cache write failed: %v", err)
		}
	}
	return groups, nil
}

// UpdateTaxGroup applies the given partial update. Deactivation always
// succeeds and never cascades: products keep their stale binding and the
// sale path rejects them at resale time instead.
func (s *Service) UpdateTaxGroup(ctx context.Context, businessID string, id string, req domain.TaxGroupUpdateRequest) (domain.TaxGroup, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.TaxGroup{}, err
	}

	existing, err := s.repo.GetTaxGroup(ctx, businessID, id)
	if err != nil {
		return domain.TaxGroup{}, err
	}

	group := *existing
	if req.Name != nil {
		group.Name = strings.TrimSpace(*req.Name)
		if group.Name == "" {
			return domain.TaxGroup{}, fmt.Errorf("%w: name must not be empty", store.ErrValidation)
		}
	}
	if req.TotalRate != nil {
		if req.TotalRate.IsNegative() || req.TotalRate.GreaterThan(decimal.NewFromInt(100)) {
			return domain.TaxGroup{}, fmt.Errorf("%w: total rate must be between 0 and 100", store.ErrValidation)
		}
		group.TotalRate = *req.TotalRate
	}
	if req.SplitPolicy != nil {
		if *req.SplitPolicy != domain.SplitEqual && *req.SplitPolicy != domain.SplitNone {
			return domain.TaxGroup{}, fmt.Errorf("%w: unknown split policy %q", store.ErrValidation, *req.SplitPolicy)
		}
		group.SplitPolicy = *req.SplitPolicy
	}
	if req.IsTaxInclusive != nil {
		group.IsTaxInclusive = *req.IsTaxInclusive
	}
	if req.IsActive != nil {
		group.IsActive = *req.IsActive
	}

	saved, err := s.repo.UpdateTaxGroup(ctx, group)
	if err != nil {
		return domain.TaxGroup{}, err
	}

	s.invalidateTaxGroups(ctx, businessID)
	s.logAudit(ctx, businessID, "tax_group_update", "tax_group", saved.ID, fmt.Sprintf("rate=%s,split=%s,inclusive=%t,active=%t", saved.TotalRate, saved.SplitPolicy, saved.IsTaxInclusive, saved.IsActive))

	return *saved, nil
}

// DeactivateTaxGroup retires a group from new bindings without touching
// existing ones.
func (s *Service) DeactivateTaxGroup(ctx context.Context, businessID string, id string) (domain.TaxGroup, error) {
	inactive := false
	return s.UpdateTaxGroup(ctx, businessID, id, domain.TaxGroupUpdateRequest{IsActive: &inactive})
}

func (s *Service) CreateCategory(ctx context.Context, businessID string, req domain.CategoryCreateRequest) (domain.Category, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Category{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Category{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{
		BusinessID: businessID,
		Name:       strings.TrimSpace(req.Name),
	})
	if err != nil {
		return domain.Category{}, err
	}

	s.logAudit(ctx, businessID, "category_create", "category", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListCategories(ctx context.Context, businessID string) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx, businessID)
}

// ReassignCategoryTaxGroup points every product in the category at the
// target tax group in one atomic step. The reported count is the category
// size, so repeating the call is observably identical.
func (s *Service) ReassignCategoryTaxGroup(ctx context.Context, businessID string, categoryID string, req domain.CategoryReassignRequest) (domain.CategoryReassignResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CategoryReassignResponse{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.CategoryReassignResponse{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	count, err := s.repo.ReassignCategoryTaxGroup(ctx, businessID, categoryID, req.TaxGroupID)
	if err != nil {
		return domain.CategoryReassignResponse{}, err
	}

	s.logAudit(ctx, businessID, "category_tax_reassign", "category", categoryID, fmt.Sprintf("tax_group=%s,products=%d", req.TaxGroupID, count))

	return domain.CategoryReassignResponse{
		CategoryID:   categoryID,
		TaxGroupID:   req.TaxGroupID,
		UpdatedCount: count,
	}, nil
}

func (s *Service) CreateProduct(ctx context.Context, businessID string, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if req.SellingPrice.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: selling price must not be negative", store.ErrValidation)
	}
	if req.TaxGroupID != nil {
		if err := s.checkBindableTaxGroup(ctx, businessID, *req.TaxGroupID); err != nil {
			return domain.Product{}, err
		}
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		BusinessID:   businessID,
		Name:         strings.TrimSpace(req.Name),
		CategoryID:   req.CategoryID,
		TaxGroupID:   req.TaxGroupID,
		SellingPrice: req.SellingPrice.Round(2),
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, businessID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%s", created.Name, created.SellingPrice))
	return *created, nil
}

// checkBindableTaxGroup rejects bindings to inactive or reserved groups.
// Applied on every NEW binding; an existing binding gone stale is left in
// place until the product is next sold.
func (s *Service) checkBindableTaxGroup(ctx context.Context, businessID string, taxGroupID string) error {
	group, err := s.repo.GetTaxGroup(ctx, businessID, taxGroupID)
	if err != nil {
		return err
	}
	if !group.IsActive {
		return fmt.Errorf("%w: %s", store.ErrInactiveTaxGroup, group.Name)
	}
	if group.IsReserved() {
		return fmt.Errorf("%w: reserved tax group %s cannot be bound to products", store.ErrValidation, group.Name)
	}
	return nil
}

func (s *Service) GetProduct(ctx context.Context, businessID string, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, businessID, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListProducts(ctx context.Context, businessID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, businessID)
}

func (s *Service) UpdateProduct(ctx context.Context, businessID string, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, businessID, id)
	if err != nil {
		return domain.Product{}, err
	}

	product := *existing
	if req.Name != nil {
		product.Name = strings.TrimSpace(*req.Name)
		if product.Name == "" {
			return domain.Product{}, fmt.Errorf("%w: name must not be empty", store.ErrValidation)
		}
	}
	if req.CategoryID != nil {
		product.CategoryID = req.CategoryID
	}
	if req.TaxGroupID != nil {
		if existing.TaxGroupID == nil || *existing.TaxGroupID != *req.TaxGroupID {
			if err := s.checkBindableTaxGroup(ctx, businessID, *req.TaxGroupID); err != nil {
				return domain.Product{}, err
			}
		}
		product.TaxGroupID = req.TaxGroupID
	}
	if req.SellingPrice != nil {
		if req.SellingPrice.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: selling price must not be negative", store.ErrValidation)
		}
		product.SellingPrice = req.SellingPrice.Round(2)
	}
	if req.IsActive != nil {
		product.IsActive = *req.IsActive
	}

	saved, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, businessID, "product_update", "product", saved.ID, fmt.Sprintf("price=%s,active=%t", saved.SellingPrice, saved.IsActive))
	return *saved, nil
}

// CreateBill runs the whole sale: one consistent read of the product/tax
// bindings, pure computation, the fail-closed reconciliation check, then
// an atomic serializable commit. On a serialization conflict the entire
// sequence is retried from a fresh read, so a sale racing a bulk
// reassignment lands wholly on the old or the new configuration.
func (s *Service) CreateBill(ctx context.Context, businessID string, req domain.BillCreateRequest) (domain.BillResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.BillResponse{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = domain.PaymentCash
	}
	switch paymentMethod {
	case domain.PaymentCash, domain.PaymentUPI, domain.PaymentCard:
	default:
		return domain.BillResponse{}, fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, paymentMethod)
	}
	for _, line := range req.Lines {
		if line.ProductID == "" || line.Quantity <= 0 {
			return domain.BillResponse{}, fmt.Errorf("%w: every line needs a product and a positive quantity", store.ErrValidation)
		}
	}

	var lastErr error
	for attempt := 0; attempt < s.billCommitRetries; attempt++ {
		resp, err := s.createBillOnce(ctx, businessID, req, paymentMethod)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return domain.BillResponse{}, err
		}
		lastErr = err
		log.Printf("[service] bill commit conflict, retrying (attempt %d/%d)", attempt+1, s.billCommitRetries)
	}
	return domain.BillResponse{}, lastErr
}

func (s *Service) createBillOnce(ctx context.Context, businessID string, req domain.BillCreateRequest, paymentMethod string) (domain.BillResponse, error) {
	productIDs := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		productIDs = append(productIDs, line.ProductID)
	}

	bindings, err := s.repo.GetSaleBindings(ctx, businessID, productIDs)
	if err != nil {
		return domain.BillResponse{}, err
	}

	lines := make([]domain.LineResult, 0, len(req.Lines))
	items := make([]domain.BillItemSnapshot, 0, len(req.Lines))
	for _, cartLine := range req.Lines {
		binding, ok := bindings[cartLine.ProductID]
		if !ok {
			return domain.BillResponse{}, fmt.Errorf("%w: product %s", store.ErrNotFound, cartLine.ProductID)
		}
		if !binding.Product.IsActive {
			return domain.BillResponse{}, fmt.Errorf("%w: product %s is inactive", store.ErrValidation, binding.Product.Name)
		}
		if binding.TaxGroup == nil {
			return domain.BillResponse{}, fmt.Errorf("%w: product %s has no tax group", store.ErrValidation, binding.Product.Name)
		}
		if !binding.TaxGroup.IsActive {
			return domain.BillResponse{}, fmt.Errorf("%w: %s (product %s)", store.ErrInactiveTaxGroup, binding.TaxGroup.Name, binding.Product.Name)
		}

		unitPrice := binding.Product.SellingPrice
		if cartLine.UnitPrice != nil {
			unitPrice = *cartLine.UnitPrice
		}

		line, err := tax.ComputeLine(unitPrice, cartLine.Quantity, *binding.TaxGroup)
		if err != nil {
			return domain.BillResponse{}, err
		}
		lines = append(lines, line)

		items = append(items, domain.BillItemSnapshot{
			ID:                     xid.New("item"),
			ProductID:              binding.Product.ID,
			ProductNameSnapshot:    binding.Product.Name,
			CategoryNameSnapshot:   binding.CategoryName,
			TaxGroupNameSnapshot:   binding.TaxGroup.Name,
			TaxRateSnapshot:        binding.TaxGroup.TotalRate,
			IsTaxInclusiveSnapshot: binding.TaxGroup.IsTaxInclusive,
			Quantity:               cartLine.Quantity,
			UnitPrice:              unitPrice.Round(2),
			TaxableValue:           line.TaxableValue,
			TaxAmount:              line.TaxAmount,
			ComponentAAmount:       line.ComponentA,
			ComponentBAmount:       line.ComponentB,
			LineTotal:              line.LineTotal,
		})
	}

	serviceCharge := domain.ServiceChargeResult{}
	if req.ServiceCharge.Enabled {
		group, err := s.repo.GetTaxGroupByCode(ctx, businessID, domain.CodeServiceChargeGST)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.BillResponse{}, fmt.Errorf("%w: service charge tax group is not configured", store.ErrValidation)
			}
			return domain.BillResponse{}, err
		}
		if !group.IsActive {
			return domain.BillResponse{}, fmt.Errorf("%w: %s", store.ErrInactiveTaxGroup, group.Name)
		}

		subtotal := decimal.Zero
		for _, line := range lines {
			subtotal = subtotal.Add(line.TaxableValue)
		}
		serviceCharge, err = tax.ComputeServiceCharge(subtotal.Round(2), true, req.ServiceCharge.Rate, *group)
		if err != nil {
			return domain.BillResponse{}, err
		}
	}

	subtotal, taxAmount, totalAmount := tax.AssembleTotals(lines, serviceCharge)

	bill := domain.BillSnapshot{
		ID:                      xid.New("bill"),
		BusinessID:              businessID,
		BillNumber:              xid.New("BILL"),
		Subtotal:                subtotal,
		ServiceChargeEnabled:    serviceCharge.Enabled,
		ServiceChargeRate:       serviceCharge.Rate,
		ServiceChargeAmount:     serviceCharge.Amount,
		ServiceChargeTaxRate:    serviceCharge.TaxRate,
		ServiceChargeTaxAmount:  serviceCharge.TaxAmount,
		ServiceChargeComponentA: serviceCharge.ComponentA,
		ServiceChargeComponentB: serviceCharge.ComponentB,
		TaxAmount:               taxAmount,
		TotalAmount:             totalAmount,
		PaymentMethod:           paymentMethod,
	}
	for i := range items {
		items[i].BillID = bill.ID
	}

	if err := tax.ValidateBill(bill, items); err != nil {
		log.Printf("[service] ERROR: bill failed reconciliation, refusing to persist: %v", err)
		return domain.BillResponse{}, err
	}

	saved, err := s.repo.CreateBill(ctx, bill, items)
	if err != nil {
		return domain.BillResponse{}, err
	}

	s.logAudit(ctx, businessID, "bill_create", "bill", saved.ID, fmt.Sprintf("items=%d,total=%s,payment=%s", len(items), saved.TotalAmount, saved.PaymentMethod))

	return domain.BillResponse{Bill: *saved, Items: items}, nil
}

func (s *Service) GetBill(ctx context.Context, businessID string, id string) (domain.BillResponse, error) {
	bill, items, err := s.repo.GetBill(ctx, businessID, id)
	if err != nil {
		return domain.BillResponse{}, err
	}
	return domain.BillResponse{Bill: *bill, Items: items}, nil
}

func (s *Service) ListBills(ctx context.Context, businessID string, limit int) ([]domain.BillSnapshot, error) {
	return s.repo.ListBills(ctx, businessID, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, businessID string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, businessID, limit)
}

func (s *Service) invalidateTaxGroups(ctx context.Context, businessID string) {
	if err := s.taxGroupCache.Invalidate(ctx, businessID); err != nil {
		log.Printf("[service] WARN: tax group cache invalidation failed: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, businessID string, action string, entityType string, entityID string, detail string) {
	if businessID == "" {
		businessID = s.defaultBusinessID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BusinessID:    businessID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}

func joinFieldErrors(fieldErrors []domain.FieldError) string {
	parts := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		parts = append(parts, fe.Field+" "+fe.Message)
	}
	return strings.Join(parts, "; ")
}
