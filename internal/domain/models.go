package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Split policies for GST tax groups. EQUAL_SPLIT divides the tax into two
// equal halves (CGST/SGST); NO_SPLIT keeps everything in component A.
const (
	SplitEqual = "EQUAL_SPLIT"
	SplitNone  = "NO_SPLIT"
)

// CodeServiceChargeGST marks the reserved tax group that taxes the service
// charge. Reserved groups may never be bound to products.
const CodeServiceChargeGST = "SERVICE_CHARGE_GST"

// Payment methods accepted at the counter.
const (
	PaymentCash = "CASH"
	PaymentUPI  = "UPI"
	PaymentCard = "CARD"
)

type TaxGroup struct {
	ID             string          `json:"id"`
	BusinessID     string          `json:"business_id"`
	Name           string          `json:"name"`
	Code           *string         `json:"code,omitempty"`
	TotalRate      decimal.Decimal `json:"total_rate"`
	SplitPolicy    string          `json:"split_policy"`
	IsTaxInclusive bool            `json:"is_tax_inclusive"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsReserved reports whether the group carries a system code and therefore
// may not be bound to product lines.
func (g TaxGroup) IsReserved() bool {
	return g.Code != nil && *g.Code != ""
}

type TaxGroupCreateRequest struct {
	Name           string           `json:"name" validate:"required,max=255"`
	Code           *string          `json:"code,omitempty" validate:"omitempty,max=64"`
	TotalRate      decimal.Decimal  `json:"total_rate"`
	SplitPolicy    string           `json:"split_policy" validate:"omitempty,oneof=EQUAL_SPLIT NO_SPLIT"`
	IsTaxInclusive bool             `json:"is_tax_inclusive"`
}

type TaxGroupUpdateRequest struct {
	Name           *string          `json:"name,omitempty"`
	TotalRate      *decimal.Decimal `json:"total_rate,omitempty"`
	SplitPolicy    *string          `json:"split_policy,omitempty"`
	IsTaxInclusive *bool            `json:"is_tax_inclusive,omitempty"`
	IsActive       *bool            `json:"is_active,omitempty"`
}

// FieldError is a single field-level validation failure, surfaced by the
// tax group validation endpoint so configuration screens can highlight the
// offending input.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type TaxGroupValidationResult struct {
	IsValid bool         `json:"is_valid"`
	Errors  []FieldError `json:"errors"`
}

type Category struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

type CategoryCreateRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

type CategoryReassignRequest struct {
	TaxGroupID string `json:"tax_group_id" validate:"required"`
}

type CategoryReassignResponse struct {
	CategoryID   string `json:"category_id"`
	TaxGroupID   string `json:"tax_group_id"`
	UpdatedCount int    `json:"updated_count"`
}

type Product struct {
	ID           string          `json:"id"`
	BusinessID   string          `json:"business_id"`
	Name         string          `json:"name"`
	CategoryID   *string         `json:"category_id,omitempty"`
	TaxGroupID   *string         `json:"tax_group_id,omitempty"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name" validate:"required,max=255"`
	CategoryID   *string         `json:"category_id,omitempty"`
	TaxGroupID   *string         `json:"tax_group_id,omitempty"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	CategoryID   *string          `json:"category_id,omitempty"`
	TaxGroupID   *string          `json:"tax_group_id,omitempty"`
	SellingPrice *decimal.Decimal `json:"selling_price,omitempty"`
	IsActive     *bool            `json:"is_active,omitempty"`
}

// LineResult is the output of the line computation: the taxable value, the
// tax split into its two GST components, and the line total. Ephemeral —
// it has no identity and is never persisted on its own.
type LineResult struct {
	TaxableValue decimal.Decimal `json:"taxable_value"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	ComponentA   decimal.Decimal `json:"component_a_amount"`
	ComponentB   decimal.Decimal `json:"component_b_amount"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

// ServiceChargeResult carries the computed service charge and the tax the
// reserved service-charge GST group levies on it.
type ServiceChargeResult struct {
	Enabled    bool            `json:"enabled"`
	Rate       decimal.Decimal `json:"rate"`
	Amount     decimal.Decimal `json:"amount"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	ComponentA decimal.Decimal `json:"component_a_amount"`
	ComponentB decimal.Decimal `json:"component_b_amount"`
}

// BillSnapshot is the immutable bill-level record. Every tax-relevant fact
// is frozen by value at commit time; later configuration changes never
// touch it.
type BillSnapshot struct {
	ID                      string          `json:"id"`
	BusinessID              string          `json:"business_id"`
	BillNumber              string          `json:"bill_number"`
	Subtotal                decimal.Decimal `json:"subtotal"`
	ServiceChargeEnabled    bool            `json:"service_charge_enabled"`
	ServiceChargeRate       decimal.Decimal `json:"service_charge_rate"`
	ServiceChargeAmount     decimal.Decimal `json:"service_charge_amount"`
	ServiceChargeTaxRate    decimal.Decimal `json:"service_charge_tax_rate"`
	ServiceChargeTaxAmount  decimal.Decimal `json:"service_charge_tax_amount"`
	ServiceChargeComponentA decimal.Decimal `json:"service_charge_component_a"`
	ServiceChargeComponentB decimal.Decimal `json:"service_charge_component_b"`
	TaxAmount               decimal.Decimal `json:"tax_amount"`
	TotalAmount             decimal.Decimal `json:"total_amount"`
	PaymentMethod           string          `json:"payment_method"`
	CreatedAt               time.Time       `json:"created_at"`
}

// BillItemSnapshot is one sold line with its tax facts copied by value:
// group name, rate and inclusivity are snapshots, not references.
type BillItemSnapshot struct {
	ID                     string          `json:"id"`
	BillID                 string          `json:"bill_id"`
	ProductID              string          `json:"product_id"`
	ProductNameSnapshot    string          `json:"product_name_snapshot"`
	CategoryNameSnapshot   *string         `json:"category_name_snapshot,omitempty"`
	TaxGroupNameSnapshot   string          `json:"tax_group_name_snapshot"`
	TaxRateSnapshot        decimal.Decimal `json:"tax_rate_snapshot"`
	IsTaxInclusiveSnapshot bool            `json:"is_tax_inclusive_snapshot"`
	Quantity               int             `json:"quantity"`
	UnitPrice              decimal.Decimal `json:"unit_price"`
	TaxableValue           decimal.Decimal `json:"taxable_value"`
	TaxAmount              decimal.Decimal `json:"tax_amount"`
	ComponentAAmount       decimal.Decimal `json:"component_a_amount"`
	ComponentBAmount       decimal.Decimal `json:"component_b_amount"`
	LineTotal              decimal.Decimal `json:"line_total"`
}

type CartLine struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type ServiceChargeConfig struct {
	Enabled bool            `json:"enabled"`
	Rate    decimal.Decimal `json:"rate"`
}

type BillCreateRequest struct {
	Lines         []CartLine          `json:"lines" validate:"required,min=1"`
	ServiceCharge ServiceChargeConfig `json:"service_charge"`
	PaymentMethod string              `json:"payment_method"`
}

type BillResponse struct {
	Bill  BillSnapshot       `json:"bill"`
	Items []BillItemSnapshot `json:"items"`
}

// SaleBinding is the consistent per-product read the sale path works from:
// the product, its resolved tax group, and the category name to freeze.
type SaleBinding struct {
	Product      Product
	TaxGroup     *TaxGroup
	CategoryName *string
}

type AuditLog struct {
	ID            string    `json:"id"`
	BusinessID    string    `json:"business_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type UserAccount struct {
	Username   string    `json:"username"`
	Password   string    `json:"-"`
	Role       string    `json:"role"`
	BusinessID string    `json:"business_id"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BusinessID  string `json:"business_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username   string
	Role       string
	BusinessID string
}
