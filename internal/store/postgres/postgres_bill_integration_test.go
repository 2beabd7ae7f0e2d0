package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rasoipos/backend/internal/domain"
)

func TestCreateBillPersistsSnapshotsAtomically(t *testing.T) {
	databaseURL := os.Getenv("RASOIPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RASOIPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	businessID := "main-business"
	groupID := fmt.Sprintf("txg-it-%d", stamp)
	categoryID := fmt.Sprintf("cat-it-%d", stamp)
	productID := fmt.Sprintf("prod-it-%d", stamp)
	billID := fmt.Sprintf("bill-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bill_items WHERE bill_id = $1`, billID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bills WHERE id = $1`, billID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, categoryID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tax_groups WHERE id = $1`, groupID)
	})

	if _, err := s.CreateTaxGroup(ctx, domain.TaxGroup{
		ID:          groupID,
		BusinessID:  businessID,
		Name:        fmt.Sprintf("GST IT %d", stamp),
		TotalRate:   decimal.NewFromInt(18),
		SplitPolicy: domain.SplitEqual,
		IsActive:    true,
	}); err != nil {
		t.Fatalf("create tax group: %v", err)
	}

	if _, err := s.CreateCategory(ctx, domain.Category{
		ID:         categoryID,
		BusinessID: businessID,
		Name:       fmt.Sprintf("Category IT %d", stamp),
	}); err != nil {
		t.Fatalf("create category: %v", err)
	}

	if _, err := s.CreateProduct(ctx, domain.Product{
		ID:           productID,
		BusinessID:   businessID,
		Name:         fmt.Sprintf("Product IT %d", stamp),
		CategoryID:   &categoryID,
		TaxGroupID:   &groupID,
		SellingPrice: decimal.RequireFromString("100.00"),
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	bindings, err := s.GetSaleBindings(ctx, businessID, []string{productID})
	if err != nil {
		t.Fatalf("get sale bindings: %v", err)
	}
	binding, ok := bindings[productID]
	if !ok || binding.TaxGroup == nil || binding.TaxGroup.ID != groupID {
		t.Fatalf("expected resolved binding, got %+v", binding)
	}
	if binding.CategoryName == nil {
		t.Fatalf("expected category name in binding")
	}

	bill := domain.BillSnapshot{
		ID:            billID,
		BusinessID:    businessID,
		BillNumber:    fmt.Sprintf("bn-it-%d", stamp),
		Subtotal:      decimal.RequireFromString("200.00"),
		TaxAmount:     decimal.RequireFromString("36.00"),
		TotalAmount:   decimal.RequireFromString("236.00"),
		PaymentMethod: domain.PaymentCash,
	}
	items := []domain.BillItemSnapshot{{
		ProductID:            productID,
		ProductNameSnapshot:  binding.Product.Name,
		CategoryNameSnapshot: binding.CategoryName,
		TaxGroupNameSnapshot: binding.TaxGroup.Name,
		TaxRateSnapshot:      binding.TaxGroup.TotalRate,
		Quantity:             2,
		UnitPrice:            decimal.RequireFromString("100.00"),
		TaxableValue:         decimal.RequireFromString("200.00"),
		TaxAmount:            decimal.RequireFromString("36.00"),
		ComponentAAmount:     decimal.RequireFromString("18.00"),
		ComponentBAmount:     decimal.RequireFromString("18.00"),
		LineTotal:            decimal.RequireFromString("236.00"),
	}}

	if _, err := s.CreateBill(ctx, bill, items); err != nil {
		t.Fatalf("create bill: %v", err)
	}

	saved, savedItems, err := s.GetBill(ctx, businessID, billID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if !saved.TotalAmount.Equal(decimal.RequireFromString("236.00")) {
		t.Fatalf("expected total 236.00, got %s", saved.TotalAmount)
	}
	if len(savedItems) != 1 {
		t.Fatalf("expected 1 item, got %d", len(savedItems))
	}
	if !savedItems[0].TaxRateSnapshot.Equal(decimal.NewFromInt(18)) {
		t.Fatalf("expected frozen 18%% rate, got %s", savedItems[0].TaxRateSnapshot)
	}

	// Mutating the group afterwards must not touch the persisted snapshot.
	group, err := s.GetTaxGroup(ctx, businessID, groupID)
	if err != nil {
		t.Fatalf("get tax group: %v", err)
	}
	group.TotalRate = decimal.NewFromInt(28)
	if _, err := s.UpdateTaxGroup(ctx, *group); err != nil {
		t.Fatalf("update tax group: %v", err)
	}
	_, savedItems, err = s.GetBill(ctx, businessID, billID)
	if err != nil {
		t.Fatalf("re-read bill: %v", err)
	}
	if !savedItems[0].TaxRateSnapshot.Equal(decimal.NewFromInt(18)) {
		t.Fatalf("snapshot rate changed after config edit: %s", savedItems[0].TaxRateSnapshot)
	}
}

func TestReassignCategoryTaxGroupCountsWholeCategory(t *testing.T) {
	databaseURL := os.Getenv("RASOIPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RASOIPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	businessID := "main-business"
	oldGroupID := fmt.Sprintf("txg-old-%d", stamp)
	newGroupID := fmt.Sprintf("txg-new-%d", stamp)
	categoryID := fmt.Sprintf("cat-re-%d", stamp)
	productIDs := []string{
		fmt.Sprintf("prod-re-a-%d", stamp),
		fmt.Sprintf("prod-re-b-%d", stamp),
	}

	t.Cleanup(func() {
		for _, id := range productIDs {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
		}
		_, _ = s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, categoryID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tax_groups WHERE id IN ($1,$2)`, oldGroupID, newGroupID)
	})

	for i, groupID := range []string{oldGroupID, newGroupID} {
		if _, err := s.CreateTaxGroup(ctx, domain.TaxGroup{
			ID:          groupID,
			BusinessID:  businessID,
			Name:        fmt.Sprintf("Group %d-%d", i, stamp),
			TotalRate:   decimal.NewFromInt(int64(5 + i*13)),
			SplitPolicy: domain.SplitEqual,
			IsActive:    true,
		}); err != nil {
			t.Fatalf("create tax group: %v", err)
		}
	}
	if _, err := s.CreateCategory(ctx, domain.Category{
		ID:         categoryID,
		BusinessID: businessID,
		Name:       fmt.Sprintf("Reassign IT %d", stamp),
	}); err != nil {
		t.Fatalf("create category: %v", err)
	}
	for i, id := range productIDs {
		if _, err := s.CreateProduct(ctx, domain.Product{
			ID:           id,
			BusinessID:   businessID,
			Name:         fmt.Sprintf("Reassign Product %d-%d", i, stamp),
			CategoryID:   &categoryID,
			TaxGroupID:   &oldGroupID,
			SellingPrice: decimal.RequireFromString("50.00"),
		}); err != nil {
			t.Fatalf("create product: %v", err)
		}
	}

	count, err := s.ReassignCategoryTaxGroup(ctx, businessID, categoryID, newGroupID)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if count != len(productIDs) {
		t.Fatalf("expected %d products, got %d", len(productIDs), count)
	}

	// Repeating reports the same count.
	count, err = s.ReassignCategoryTaxGroup(ctx, businessID, categoryID, newGroupID)
	if err != nil {
		t.Fatalf("second reassign: %v", err)
	}
	if count != len(productIDs) {
		t.Fatalf("reassign is not idempotent: got %d", count)
	}

	product, err := s.GetProduct(ctx, businessID, productIDs[0])
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.TaxGroupID == nil || *product.TaxGroupID != newGroupID {
		t.Fatalf("expected rebound product, got %v", product.TaxGroupID)
	}
}
