package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"rasoipos/backend/internal/domain"
	"rasoipos/backend/internal/store"
	"rasoipos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const taxGroupColumns = `id, business_id, name, code, total_rate, split_policy, is_tax_inclusive, is_active, created_at, updated_at`

func scanTaxGroup(row interface{ Scan(...any) error }) (domain.TaxGroup, error) {
	var g domain.TaxGroup
	var code sql.NullString
	err := row.Scan(&g.ID, &g.BusinessID, &g.Name, &code, &g.TotalRate, &g.SplitPolicy, &g.IsTaxInclusive, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return domain.TaxGroup{}, err
	}
	if code.Valid {
		c := code.String
		g.Code = &c
	}
	return g, nil
}

func (s *Store) CreateTaxGroup(ctx context.Context, group domain.TaxGroup) (*domain.TaxGroup, error) {
	if group.BusinessID == "" || strings.TrimSpace(group.Name) == "" {
		return nil, store.ErrValidation
	}
	if group.ID == "" {
		group.ID = xid.New("txg")
	}
	now := time.Now().UTC()
	group.CreatedAt = now
	group.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tax_groups (id, business_id, name, code, total_rate, split_policy, is_tax_inclusive, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, group.ID, group.BusinessID, group.Name, nullIfEmptyPtr(group.Code), group.TotalRate, group.SplitPolicy, group.IsTaxInclusive, group.IsActive, group.CreatedAt, group.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: tax group name or code already exists", store.ErrValidation)
		}
		return nil, err
	}

	created := group
	return &created, nil
}

func (s *Store) GetTaxGroup(ctx context.Context, businessID string, id string) (*domain.TaxGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taxGroupColumns+`
		FROM tax_groups
		WHERE business_id = $1 AND id = $2
	`, businessID, id)
	group, err := scanTaxGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

func (s *Store) GetTaxGroupByCode(ctx context.Context, businessID string, code string) (*domain.TaxGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taxGroupColumns+`
		FROM tax_groups
		WHERE business_id = $1 AND code = $2
	`, businessID, code)
	group, err := scanTaxGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

func (s *Store) ListTaxGroups(ctx context.Context, businessID string, activeOnly bool) ([]domain.TaxGroup, error) {
	query := `
		SELECT ` + taxGroupColumns + `
		FROM tax_groups
		WHERE business_id = $1
	`
	if activeOnly {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]domain.TaxGroup, 0, 16)
	for rows.Next() {
		group, err := scanTaxGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *Store) UpdateTaxGroup(ctx context.Context, group domain.TaxGroup) (*domain.TaxGroup, error) {
	if strings.TrimSpace(group.Name) == "" {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tax_groups
		SET name = $3, total_rate = $4, split_policy = $5, is_tax_inclusive = $6, is_active = $7, updated_at = now()
		WHERE business_id = $1 AND id = $2
	`, group.BusinessID, group.ID, group.Name, group.TotalRate, group.SplitPolicy, group.IsTaxInclusive, group.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: tax group name already exists", store.ErrValidation)
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetTaxGroup(ctx, group.BusinessID, group.ID)
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.BusinessID == "" || strings.TrimSpace(category.Name) == "" {
		return nil, store.ErrValidation
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	category.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, business_id, name, created_at)
		VALUES ($1,$2,$3,$4)
	`, category.ID, category.BusinessID, category.Name, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: category name %q already exists", store.ErrValidation, category.Name)
		}
		return nil, err
	}

	created := category
	return &created, nil
}

func (s *Store) GetCategory(ctx context.Context, businessID string, id string) (*domain.Category, error) {
	var category domain.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, name, created_at
		FROM categories
		WHERE business_id = $1 AND id = $2
	`, businessID, id).Scan(&category.ID, &category.BusinessID, &category.Name, &category.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &category, nil
}

func (s *Store) ListCategories(ctx context.Context, businessID string) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, name, created_at
		FROM categories
		WHERE business_id = $1
		ORDER BY name
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var category domain.Category
		if err := rows.Scan(&category.ID, &category.BusinessID, &category.Name, &category.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) ReassignCategoryTaxGroup(ctx context.Context, businessID string, categoryID string, taxGroupID string) (int, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var categoryExists bool
	if err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM categories WHERE business_id = $1 AND id = $2)
	`, businessID, categoryID).Scan(&categoryExists); err != nil {
		return 0, err
	}
	if !categoryExists {
		return 0, fmt.Errorf("%w: category %s", store.ErrNotFound, categoryID)
	}

	var isActive bool
	var code sql.NullString
	err = pgTx.QueryRowContext(ctx, `
		SELECT is_active, code FROM tax_groups WHERE business_id = $1 AND id = $2
	`, businessID, taxGroupID).Scan(&isActive, &code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: tax group %s", store.ErrNotFound, taxGroupID)
		}
		return 0, err
	}
	if !isActive {
		return 0, fmt.Errorf("%w: tax group %s", store.ErrInactiveTaxGroup, taxGroupID)
	}
	if code.Valid && code.String != "" {
		return 0, fmt.Errorf("%w: reserved tax group cannot be bound to products", store.ErrValidation)
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE products
		SET tax_group_id = $3, updated_at = now()
		WHERE business_id = $1 AND category_id = $2
	`, businessID, categoryID, taxGroupID); err != nil {
		return 0, err
	}

	// The count reported back is the category size, so repeating the call
	// returns the same number instead of a zero changed-row delta.
	var count int
	if err := pgTx.QueryRowContext(ctx, `
		SELECT count(*) FROM products WHERE business_id = $1 AND category_id = $2
	`, businessID, categoryID).Scan(&count); err != nil {
		return 0, err
	}

	if err := pgTx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return 0, store.ErrConflict
		}
		return 0, err
	}
	return count, nil
}

const productColumns = `id, business_id, name, category_id, tax_group_id, selling_price, is_active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	var categoryID, taxGroupID sql.NullString
	err := row.Scan(&p.ID, &p.BusinessID, &p.Name, &categoryID, &taxGroupID, &p.SellingPrice, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	if categoryID.Valid {
		id := categoryID.String
		p.CategoryID = &id
	}
	if taxGroupID.Valid {
		id := taxGroupID.String
		p.TaxGroupID = &id
	}
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.BusinessID == "" || strings.TrimSpace(product.Name) == "" || product.SellingPrice.IsNegative() {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.IsActive = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, business_id, name, category_id, tax_group_id, selling_price, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, product.ID, product.BusinessID, product.Name, nullIfEmptyPtr(product.CategoryID), nullIfEmptyPtr(product.TaxGroupID), product.SellingPrice, product.IsActive, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %q already exists", store.ErrValidation, product.Name)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: referenced category or tax group", store.ErrNotFound)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, businessID string, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE business_id = $1 AND id = $2
	`, businessID, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, businessID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE business_id = $1
		ORDER BY name
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.SellingPrice.IsNegative() {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $3, category_id = $4, tax_group_id = $5, selling_price = $6, is_active = $7, updated_at = now()
		WHERE business_id = $1 AND id = $2
	`, product.BusinessID, product.ID, product.Name, nullIfEmptyPtr(product.CategoryID), nullIfEmptyPtr(product.TaxGroupID), product.SellingPrice, product.IsActive)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: referenced category or tax group", store.ErrNotFound)
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetProduct(ctx, product.BusinessID, product.ID)
}

func (s *Store) GetSaleBindings(ctx context.Context, businessID string, productIDs []string) (map[string]domain.SaleBinding, error) {
	ids := uniqueIDs(productIDs)
	if len(ids) == 0 {
		return map[string]domain.SaleBinding{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.business_id, p.name, p.category_id, p.tax_group_id, p.selling_price, p.is_active, p.created_at, p.updated_at,
		       c.name,
		       g.id, g.business_id, g.name, g.code, g.total_rate, g.split_policy, g.is_tax_inclusive, g.is_active, g.created_at, g.updated_at
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		LEFT JOIN tax_groups g ON g.id = p.tax_group_id
		WHERE p.business_id = $1 AND p.id = ANY($2)
	`, businessID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bindings := make(map[string]domain.SaleBinding, len(ids))
	for rows.Next() {
		var p domain.Product
		var categoryID, taxGroupID, categoryName sql.NullString
		var gID, gBusinessID, gName, gCode, gSplitPolicy sql.NullString
		var gRate decimal.NullDecimal
		var gInclusive, gActive sql.NullBool
		var gCreatedAt, gUpdatedAt sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.BusinessID, &p.Name, &categoryID, &taxGroupID, &p.SellingPrice, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
			&categoryName,
			&gID, &gBusinessID, &gName, &gCode, &gRate, &gSplitPolicy, &gInclusive, &gActive, &gCreatedAt, &gUpdatedAt,
		); err != nil {
			return nil, err
		}
		if categoryID.Valid {
			id := categoryID.String
			p.CategoryID = &id
		}
		if taxGroupID.Valid {
			id := taxGroupID.String
			p.TaxGroupID = &id
		}

		binding := domain.SaleBinding{Product: p}
		if categoryName.Valid {
			name := categoryName.String
			binding.CategoryName = &name
		}
		if gID.Valid {
			group := domain.TaxGroup{
				ID:             gID.String,
				BusinessID:     gBusinessID.String,
				Name:           gName.String,
				TotalRate:      gRate.Decimal,
				SplitPolicy:    gSplitPolicy.String,
				IsTaxInclusive: gInclusive.Bool,
				IsActive:       gActive.Bool,
				CreatedAt:      gCreatedAt.Time,
				UpdatedAt:      gUpdatedAt.Time,
			}
			if gCode.Valid {
				code := gCode.String
				group.Code = &code
			}
			binding.TaxGroup = &group
		}
		bindings[p.ID] = binding
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bindings, nil
}

func (s *Store) CreateBill(ctx context.Context, bill domain.BillSnapshot, items []domain.BillItemSnapshot) (*domain.BillSnapshot, error) {
	if bill.BusinessID == "" || len(items) == 0 {
		return nil, store.ErrValidation
	}
	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	bill.CreatedAt = time.Now().UTC()

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO bills (
			id, business_id, bill_number, subtotal,
			service_charge_enabled, service_charge_rate, service_charge_amount,
			service_charge_tax_rate, service_charge_tax_amount,
			service_charge_component_a, service_charge_component_b,
			tax_amount, total_amount, payment_method, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, bill.ID, bill.BusinessID, bill.BillNumber, bill.Subtotal,
		bill.ServiceChargeEnabled, bill.ServiceChargeRate, bill.ServiceChargeAmount,
		bill.ServiceChargeTaxRate, bill.ServiceChargeTaxAmount,
		bill.ServiceChargeComponentA, bill.ServiceChargeComponentB,
		bill.TaxAmount, bill.TotalAmount, bill.PaymentMethod, bill.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: bill %s already exists", store.ErrValidation, bill.ID)
		}
		return nil, err
	}

	for i := range items {
		item := items[i]
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.BillID = bill.ID
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO bill_items (
				id, bill_id, product_id, product_name_snapshot, category_name_snapshot,
				tax_group_name_snapshot, tax_rate_snapshot, is_tax_inclusive_snapshot,
				quantity, unit_price, taxable_value, tax_amount,
				component_a_amount, component_b_amount, line_total
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, item.ID, item.BillID, item.ProductID, item.ProductNameSnapshot, nullIfEmptyPtr(item.CategoryNameSnapshot),
			item.TaxGroupNameSnapshot, item.TaxRateSnapshot, item.IsTaxInclusiveSnapshot,
			item.Quantity, item.UnitPrice, item.TaxableValue, item.TaxAmount,
			item.ComponentAAmount, item.ComponentBAmount, item.LineTotal)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := bill
	return &created, nil
}

const billColumns = `id, business_id, bill_number, subtotal,
	service_charge_enabled, service_charge_rate, service_charge_amount,
	service_charge_tax_rate, service_charge_tax_amount,
	service_charge_component_a, service_charge_component_b,
	tax_amount, total_amount, payment_method, created_at`

func scanBill(row interface{ Scan(...any) error }) (domain.BillSnapshot, error) {
	var b domain.BillSnapshot
	err := row.Scan(&b.ID, &b.BusinessID, &b.BillNumber, &b.Subtotal,
		&b.ServiceChargeEnabled, &b.ServiceChargeRate, &b.ServiceChargeAmount,
		&b.ServiceChargeTaxRate, &b.ServiceChargeTaxAmount,
		&b.ServiceChargeComponentA, &b.ServiceChargeComponentB,
		&b.TaxAmount, &b.TotalAmount, &b.PaymentMethod, &b.CreatedAt)
	return b, err
}

func (s *Store) GetBill(ctx context.Context, businessID string, id string) (*domain.BillSnapshot, []domain.BillItemSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE business_id = $1 AND id = $2
	`, businessID, id)
	bill, err := scanBill(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bill_id, product_id, product_name_snapshot, category_name_snapshot,
		       tax_group_name_snapshot, tax_rate_snapshot, is_tax_inclusive_snapshot,
		       quantity, unit_price, taxable_value, tax_amount,
		       component_a_amount, component_b_amount, line_total
		FROM bill_items
		WHERE bill_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	items := make([]domain.BillItemSnapshot, 0, 8)
	for rows.Next() {
		var item domain.BillItemSnapshot
		var categoryName sql.NullString
		if err := rows.Scan(&item.ID, &item.BillID, &item.ProductID, &item.ProductNameSnapshot, &categoryName,
			&item.TaxGroupNameSnapshot, &item.TaxRateSnapshot, &item.IsTaxInclusiveSnapshot,
			&item.Quantity, &item.UnitPrice, &item.TaxableValue, &item.TaxAmount,
			&item.ComponentAAmount, &item.ComponentBAmount, &item.LineTotal); err != nil {
			return nil, nil, err
		}
		if categoryName.Valid {
			name := categoryName.String
			item.CategoryNameSnapshot = &name
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return &bill, items, nil
}

func (s *Store) ListBills(ctx context.Context, businessID string, limit int) ([]domain.BillSnapshot, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.BillSnapshot, 0, limit)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bills, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, business_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BusinessID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, businessID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BusinessID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, business_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, user.Role, user.BusinessID, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: username %q already exists", store.ErrValidation, user.Username)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, business_id, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.BusinessID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func nullIfEmptyPtr(val *string) any {
	if val == nil || *val == "" {
		return nil
	}
	return *val
}
