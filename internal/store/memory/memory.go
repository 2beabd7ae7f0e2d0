package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"rasoipos/backend/internal/domain"
	"rasoipos/backend/internal/store"
	"rasoipos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	taxGroupsByID   map[string]domain.TaxGroup
	categoriesByID  map[string]domain.Category
	productsByID    map[string]domain.Product
	billsByID       map[string]domain.BillSnapshot
	billItemsByBill map[string][]domain.BillItemSnapshot
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		taxGroupsByID:   make(map[string]domain.TaxGroup),
		categoriesByID:  make(map[string]domain.Category),
		productsByID:    make(map[string]domain.Product),
		billsByID:       make(map[string]domain.BillSnapshot),
		billItemsByBill: make(map[string][]domain.BillItemSnapshot),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. Production runs
// against PostgreSQL (DATABASE_URL set) and never touches these.
func seedUsers(businessID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:   u.username,
			Password:   string(hash),
			Role:       u.role,
			BusinessID: businessID,
			Active:     true,
			CreatedAt:  now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	const businessID = "main-business"
	now := time.Now().UTC()

	serviceChargeCode := domain.CodeServiceChargeGST
	taxGroups := []domain.TaxGroup{
		{ID: "txg-gst5-incl", BusinessID: businessID, Name: "GST 5% (Inclusive)", TotalRate: decimal.NewFromInt(5), SplitPolicy: domain.SplitEqual, IsTaxInclusive: true, IsActive: true, CreatedAt: now, UpdatedAt: now},
		{ID: "txg-gst18", BusinessID: businessID, Name: "GST 18%", TotalRate: decimal.NewFromInt(18), SplitPolicy: domain.SplitEqual, IsTaxInclusive: false, IsActive: true, CreatedAt: now, UpdatedAt: now},
		{ID: "txg-zero", BusinessID: businessID, Name: "Zero Rated", TotalRate: decimal.Zero, SplitPolicy: domain.SplitNone, IsTaxInclusive: false, IsActive: true, CreatedAt: now, UpdatedAt: now},
		{ID: "txg-service-charge", BusinessID: businessID, Name: "Service Charge GST", Code: &serviceChargeCode, TotalRate: decimal.NewFromInt(18), SplitPolicy: domain.SplitEqual, IsTaxInclusive: false, IsActive: true, CreatedAt: now, UpdatedAt: now},
	}

	categories := []domain.Category{
		{ID: "cat-south-indian", BusinessID: businessID, Name: "South Indian", CreatedAt: now},
		{ID: "cat-beverages", BusinessID: businessID, Name: "Beverages", CreatedAt: now},
		{ID: "cat-desserts", BusinessID: businessID, Name: "Desserts", CreatedAt: now},
	}

	products := []struct {
		id       string
		name     string
		category string
		taxGroup string
		price    string
	}{
		{"prod-masala-dosa", "Masala Dosa", "cat-south-indian", "txg-gst5-incl", "120.00"},
		{"prod-idli-sambar", "Idli Sambar", "cat-south-indian", "txg-gst5-incl", "80.00"},
		{"prod-filter-coffee", "Filter Coffee", "cat-beverages", "txg-gst18", "60.00"},
		{"prod-masala-chai", "Masala Chai", "cat-beverages", "txg-gst18", "40.00"},
		{"prod-fresh-lime", "Fresh Lime Soda", "cat-beverages", "txg-gst18", "70.00"},
		{"prod-gulab-jamun", "Gulab Jamun", "cat-desserts", "txg-gst5-incl", "90.00"},
		{"prod-mineral-water", "Mineral Water 1L", "", "txg-zero", "20.00"},
	}

	s := New()
	for _, g := range taxGroups {
		s.taxGroupsByID[g.ID] = g
	}
	for _, c := range categories {
		s.categoriesByID[c.ID] = c
	}
	for _, p := range products {
		product := domain.Product{
			ID:           p.id,
			BusinessID:   businessID,
			Name:         p.name,
			SellingPrice: decimal.RequireFromString(p.price),
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if p.category != "" {
			category := p.category
			product.CategoryID = &category
		}
		taxGroup := p.taxGroup
		product.TaxGroupID = &taxGroup
		s.productsByID[p.id] = product
	}
	s.usersByUsername = seedUsers(businessID)

	return s
}

func cloneTaxGroup(g domain.TaxGroup) domain.TaxGroup {
	out := g
	if g.Code != nil {
		code := *g.Code
		out.Code = &code
	}
	return out
}

func cloneProduct(p domain.Product) domain.Product {
	out := p
	if p.CategoryID != nil {
		id := *p.CategoryID
		out.CategoryID = &id
	}
	if p.TaxGroupID != nil {
		id := *p.TaxGroupID
		out.TaxGroupID = &id
	}
	return out
}

func cloneBillItems(items []domain.BillItemSnapshot) []domain.BillItemSnapshot {
	out := make([]domain.BillItemSnapshot, len(items))
	for i, item := range items {
		out[i] = item
		if item.CategoryNameSnapshot != nil {
			name := *item.CategoryNameSnapshot
			out[i].CategoryNameSnapshot = &name
		}
	}
	return out
}

func (s *Store) CreateTaxGroup(_ context.Context, group domain.TaxGroup) (*domain.TaxGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if group.BusinessID == "" || strings.TrimSpace(group.Name) == "" {
		return nil, store.ErrValidation
	}
	if err := s.checkTaxGroupUniqueLocked(group); err != nil {
		return nil, err
	}

	if group.ID == "" {
		group.ID = xid.New("txg")
	}
	now := time.Now().UTC()
	group.CreatedAt = now
	group.UpdatedAt = now
	s.taxGroupsByID[group.ID] = cloneTaxGroup(group)

	created := cloneTaxGroup(group)
	return &created, nil
}

func (s *Store) checkTaxGroupUniqueLocked(group domain.TaxGroup) error {
	for _, existing := range s.taxGroupsByID {
		if existing.ID == group.ID || existing.BusinessID != group.BusinessID {
			continue
		}
		if strings.EqualFold(existing.Name, group.Name) {
			return fmt.Errorf("%w: tax group name %q already exists", store.ErrValidation, group.Name)
		}
		if group.Code != nil && existing.Code != nil && *existing.Code == *group.Code {
			return fmt.Errorf("%w: tax group code %q already exists", store.ErrValidation, *group.Code)
		}
	}
	return nil
}

func (s *Store) GetTaxGroup(_ context.Context, businessID string, id string) (*domain.TaxGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.taxGroupsByID[id]
	if !ok || group.BusinessID != businessID {
		return nil, store.ErrNotFound
	}
	found := cloneTaxGroup(group)
	return &found, nil
}

func (s *Store) GetTaxGroupByCode(_ context.Context, businessID string, code string) (*domain.TaxGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, group := range s.taxGroupsByID {
		if group.BusinessID == businessID && group.Code != nil && *group.Code == code {
			found := cloneTaxGroup(group)
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListTaxGroups(_ context.Context, businessID string, activeOnly bool) ([]domain.TaxGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]domain.TaxGroup, 0, len(s.taxGroupsByID))
	for _, group := range s.taxGroupsByID {
		if group.BusinessID != businessID {
			continue
		}
		if activeOnly && !group.IsActive {
			continue
		}
		groups = append(groups, cloneTaxGroup(group))
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

func (s *Store) UpdateTaxGroup(_ context.Context, group domain.TaxGroup) (*domain.TaxGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.taxGroupsByID[group.ID]
	if !ok || existing.BusinessID != group.BusinessID {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(group.Name) == "" {
		return nil, store.ErrValidation
	}
	if err := s.checkTaxGroupUniqueLocked(group); err != nil {
		return nil, err
	}

	group.CreatedAt = existing.CreatedAt
	group.UpdatedAt = time.Now().UTC()
	s.taxGroupsByID[group.ID] = cloneTaxGroup(group)

	updated := cloneTaxGroup(group)
	return &updated, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category.BusinessID == "" || strings.TrimSpace(category.Name) == "" {
		return nil, store.ErrValidation
	}
	for _, existing := range s.categoriesByID {
		if existing.BusinessID == category.BusinessID && strings.EqualFold(existing.Name, category.Name) {
			return nil, fmt.Errorf("%w: category name %q already exists", store.ErrValidation, category.Name)
		}
	}

	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	category.CreatedAt = time.Now().UTC()
	s.categoriesByID[category.ID] = category

	created := category
	return &created, nil
}

func (s *Store) GetCategory(_ context.Context, businessID string, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, ok := s.categoriesByID[id]
	if !ok || category.BusinessID != businessID {
		return nil, store.ErrNotFound
	}
	found := category
	return &found, nil
}

func (s *Store) ListCategories(_ context.Context, businessID string) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categoriesByID))
	for _, category := range s.categoriesByID {
		if category.BusinessID == businessID {
			categories = append(categories, category)
		}
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

func (s *Store) ReassignCategoryTaxGroup(_ context.Context, businessID string, categoryID string, taxGroupID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category, ok := s.categoriesByID[categoryID]
	if !ok || category.BusinessID != businessID {
		return 0, fmt.Errorf("%w: category %s", store.ErrNotFound, categoryID)
	}
	group, ok := s.taxGroupsByID[taxGroupID]
	if !ok || group.BusinessID != businessID {
		return 0, fmt.Errorf("%w: tax group %s", store.ErrNotFound, taxGroupID)
	}
	if !group.IsActive {
		return 0, fmt.Errorf("%w: %s", store.ErrInactiveTaxGroup, group.Name)
	}
	if group.IsReserved() {
		return 0, fmt.Errorf("%w: reserved tax group %s cannot be bound to products", store.ErrValidation, group.Name)
	}

	count := 0
	now := time.Now().UTC()
	for id, product := range s.productsByID {
		if product.BusinessID != businessID || product.CategoryID == nil || *product.CategoryID != categoryID {
			continue
		}
		target := taxGroupID
		product.TaxGroupID = &target
		product.UpdatedAt = now
		s.productsByID[id] = product
		count++
	}
	return count, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.BusinessID == "" || strings.TrimSpace(product.Name) == "" || product.SellingPrice.IsNegative() {
		return nil, store.ErrValidation
	}
	if err := s.checkProductRefsLocked(product); err != nil {
		return nil, err
	}

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.IsActive = true
	s.productsByID[product.ID] = cloneProduct(product)

	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) checkProductRefsLocked(product domain.Product) error {
	if product.CategoryID != nil {
		category, ok := s.categoriesByID[*product.CategoryID]
		if !ok || category.BusinessID != product.BusinessID {
			return fmt.Errorf("%w: category %s", store.ErrNotFound, *product.CategoryID)
		}
	}
	if product.TaxGroupID != nil {
		group, ok := s.taxGroupsByID[*product.TaxGroupID]
		if !ok || group.BusinessID != product.BusinessID {
			return fmt.Errorf("%w: tax group %s", store.ErrNotFound, *product.TaxGroupID)
		}
		if !group.IsActive {
			return fmt.Errorf("%w: %s", store.ErrInactiveTaxGroup, group.Name)
		}
		if group.IsReserved() {
			return fmt.Errorf("%w: reserved tax group %s cannot be bound to products", store.ErrValidation, group.Name)
		}
	}
	return nil
}

func (s *Store) GetProduct(_ context.Context, businessID string, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.productsByID[id]
	if !ok || product.BusinessID != businessID {
		return nil, store.ErrNotFound
	}
	found := cloneProduct(product)
	return &found, nil
}

func (s *Store) ListProducts(_ context.Context, businessID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, product := range s.productsByID {
		if product.BusinessID == businessID {
			products = append(products, cloneProduct(product))
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.productsByID[product.ID]
	if !ok || existing.BusinessID != product.BusinessID {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(product.Name) == "" || product.SellingPrice.IsNegative() {
		return nil, store.ErrValidation
	}
	// Only a changed binding is re-checked against the active flag; a
	// product keeping its now-stale binding is tolerated until resale.
	if product.TaxGroupID != nil && (existing.TaxGroupID == nil || *existing.TaxGroupID != *product.TaxGroupID) {
		if err := s.checkProductRefsLocked(product); err != nil {
			return nil, err
		}
	} else if product.CategoryID != nil && (existing.CategoryID == nil || *existing.CategoryID != *product.CategoryID) {
		if err := s.checkProductRefsLocked(domain.Product{BusinessID: product.BusinessID, CategoryID: product.CategoryID}); err != nil {
			return nil, err
		}
	}

	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.productsByID[product.ID] = cloneProduct(product)

	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) GetSaleBindings(_ context.Context, businessID string, productIDs []string) (map[string]domain.SaleBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bindings := make(map[string]domain.SaleBinding, len(productIDs))
	for _, id := range productIDs {
		product, ok := s.productsByID[id]
		if !ok || product.BusinessID != businessID {
			continue
		}
		binding := domain.SaleBinding{Product: cloneProduct(product)}
		if product.TaxGroupID != nil {
			if group, ok := s.taxGroupsByID[*product.TaxGroupID]; ok {
				cloned := cloneTaxGroup(group)
				binding.TaxGroup = &cloned
			}
		}
		if product.CategoryID != nil {
			if category, ok := s.categoriesByID[*product.CategoryID]; ok {
				name := category.Name
				binding.CategoryName = &name
			}
		}
		bindings[id] = binding
	}
	return bindings, nil
}

func (s *Store) CreateBill(_ context.Context, bill domain.BillSnapshot, items []domain.BillItemSnapshot) (*domain.BillSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bill.BusinessID == "" || len(items) == 0 {
		return nil, store.ErrValidation
	}
	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if _, exists := s.billsByID[bill.ID]; exists {
		return nil, fmt.Errorf("%w: bill %s already exists", store.ErrValidation, bill.ID)
	}
	bill.CreatedAt = time.Now().UTC()

	stored := cloneBillItems(items)
	for i := range stored {
		if stored[i].ID == "" {
			stored[i].ID = xid.New("item")
		}
		stored[i].BillID = bill.ID
	}

	s.billsByID[bill.ID] = bill
	s.billItemsByBill[bill.ID] = stored

	created := bill
	return &created, nil
}

func (s *Store) GetBill(_ context.Context, businessID string, id string) (*domain.BillSnapshot, []domain.BillItemSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.billsByID[id]
	if !ok || bill.BusinessID != businessID {
		return nil, nil, store.ErrNotFound
	}
	found := bill
	return &found, cloneBillItems(s.billItemsByBill[id]), nil
}

func (s *Store) ListBills(_ context.Context, businessID string, limit int) ([]domain.BillSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.BillSnapshot, 0, len(s.billsByID))
	for _, bill := range s.billsByID {
		if bill.BusinessID == businessID {
			bills = append(bills, bill)
		}
	}
	sort.Slice(bills, func(i, j int) bool { return bills[i].CreatedAt.After(bills[j].CreatedAt) })
	if limit > 0 && len(bills) > limit {
		bills = bills[:limit]
	}
	return bills, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, businessID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		if s.auditLogs[i].BusinessID != businessID {
			continue
		}
		logs = append(logs, s.auditLogs[i])
		if limit > 0 && len(logs) >= limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username %q already exists", store.ErrValidation, user.Username)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
