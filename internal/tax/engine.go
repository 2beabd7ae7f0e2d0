// Package tax is the pure computation core of the billing engine. It never
// touches the store and has no side effects: prices and a tax group go in,
// rounded monetary facts come out. All tax math lives here and nowhere else.
package tax

import (
	"fmt"

	"github.com/shopspring/decimal"

	"rasoipos/backend/internal/domain"
	"rasoipos/backend/internal/store"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)

	// MaxServiceChargeRate caps the voluntary service charge at 20%.
	MaxServiceChargeRate = decimal.NewFromInt(20)

	// tolerance is the rounding slack allowed on bill-level aggregates.
	// Component splits must balance exactly; only aggregates over many
	// independently-rounded lines get a cent of slack.
	tolerance = decimal.New(1, -2)
)

// round2 rounds half-up to 2 decimal places. Applied at every monetary
// boundary so that unrounded fractional cents are never carried forward.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// splitTax divides a tax amount into its two GST components. For
// EQUAL_SPLIT the odd cent, when the amount is odd at 2-decimal
// granularity, lands on component A so that a+b equals the tax exactly.
func splitTax(taxAmount decimal.Decimal, splitPolicy string) (decimal.Decimal, decimal.Decimal) {
	if splitPolicy == domain.SplitEqual {
		a := round2(taxAmount.Div(two))
		return a, taxAmount.Sub(a)
	}
	return taxAmount, decimal.Zero
}

// ComputeLine calculates the tax facts for one cart line. Deterministic and
// side-effect-free; a 0% rate yields zero tax regardless of the inclusive
// flag (inclusive and exclusive are identical at 0%).
func ComputeLine(unitPrice decimal.Decimal, quantity int, group domain.TaxGroup) (domain.LineResult, error) {
	if quantity <= 0 {
		return domain.LineResult{}, fmt.Errorf("%w: quantity must be a positive integer", store.ErrValidation)
	}
	if unitPrice.IsNegative() {
		return domain.LineResult{}, fmt.Errorf("%w: unit price must not be negative", store.ErrValidation)
	}
	rate := group.TotalRate
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return domain.LineResult{}, fmt.Errorf("%w: tax rate must be between 0 and 100", store.ErrValidation)
	}

	unitPrice = round2(unitPrice)
	gross := round2(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))

	var taxableValue, taxAmount decimal.Decimal
	switch {
	case rate.IsZero():
		taxableValue = gross
		taxAmount = decimal.Zero
	case group.IsTaxInclusive:
		// Extract the tax already contained in the price.
		multiplier := decimal.NewFromInt(1).Add(rate.Div(hundred))
		taxableValue = round2(gross.Div(multiplier))
		taxAmount = round2(gross.Sub(taxableValue))
	default:
		// Add tax on top of the quoted price.
		taxableValue = gross
		taxAmount = round2(taxableValue.Mul(rate).Div(hundred))
	}

	componentA, componentB := splitTax(taxAmount, group.SplitPolicy)

	return domain.LineResult{
		TaxableValue: taxableValue,
		TaxAmount:    taxAmount,
		ComponentA:   componentA,
		ComponentB:   componentB,
		LineTotal:    taxableValue.Add(taxAmount),
	}, nil
}

// ComputeServiceCharge applies the optional bill-level surcharge to the
// pre-tax subtotal and taxes it with the reserved service-charge GST group.
// The surcharge is treated as a single synthetic exclusive line (q=1,
// p=amount): the service charge is a distinct taxable supply, so its rate
// is declared on the reserved group, never inherited from a product.
func ComputeServiceCharge(subtotal decimal.Decimal, enabled bool, rate decimal.Decimal, group domain.TaxGroup) (domain.ServiceChargeResult, error) {
	if !enabled {
		return zeroServiceCharge(), nil
	}
	if rate.IsNegative() || rate.GreaterThan(MaxServiceChargeRate) {
		return domain.ServiceChargeResult{}, fmt.Errorf("%w: service charge rate must be between 0 and 20", store.ErrValidation)
	}
	if subtotal.IsNegative() {
		return domain.ServiceChargeResult{}, fmt.Errorf("%w: subtotal must not be negative", store.ErrValidation)
	}

	amount := round2(subtotal.Mul(rate).Div(hundred))

	// Always exclusive by policy, whatever the group's flag says.
	syntheticGroup := group
	syntheticGroup.IsTaxInclusive = false

	line, err := ComputeLine(amount, 1, syntheticGroup)
	if err != nil {
		return domain.ServiceChargeResult{}, err
	}

	return domain.ServiceChargeResult{
		Enabled:    true,
		Rate:       rate,
		Amount:     amount,
		TaxRate:    group.TotalRate,
		TaxAmount:  line.TaxAmount,
		ComponentA: line.ComponentA,
		ComponentB: line.ComponentB,
	}, nil
}

func zeroServiceCharge() domain.ServiceChargeResult {
	return domain.ServiceChargeResult{
		Enabled:    false,
		Rate:       decimal.Zero,
		Amount:     decimal.Zero,
		TaxRate:    decimal.Zero,
		TaxAmount:  decimal.Zero,
		ComponentA: decimal.Zero,
		ComponentB: decimal.Zero,
	}
}

// AssembleTotals aggregates line results and the service charge into the
// bill-level figures. The bill's tax_amount carries line tax only; the
// service-charge tax is kept in its own fields, so the total is
// subtotal + service charge + line tax + service-charge tax.
func AssembleTotals(lines []domain.LineResult, serviceCharge domain.ServiceChargeResult) (subtotal, taxAmount, totalAmount decimal.Decimal) {
	subtotal = decimal.Zero
	taxAmount = decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.TaxableValue)
		taxAmount = taxAmount.Add(line.TaxAmount)
	}
	subtotal = round2(subtotal)
	taxAmount = round2(taxAmount)
	totalAmount = round2(subtotal.Add(serviceCharge.Amount).Add(taxAmount).Add(serviceCharge.TaxAmount))
	return subtotal, taxAmount, totalAmount
}

// ValidateBill re-derives the bill equation from the frozen item snapshots
// and rejects the sale if anything fails to reconcile. Fail-closed: a bill
// that does not balance must never be persisted.
func ValidateBill(bill domain.BillSnapshot, items []domain.BillItemSnapshot) error {
	lineTax := decimal.Zero
	lineTaxable := decimal.Zero
	for _, item := range items {
		if !item.ComponentAAmount.Add(item.ComponentBAmount).Equal(item.TaxAmount) {
			return fmt.Errorf("%w: item %s components %s+%s do not sum to tax %s",
				store.ErrConsistency, item.ID, item.ComponentAAmount, item.ComponentBAmount, item.TaxAmount)
		}
		if !item.TaxableValue.Add(item.TaxAmount).Equal(item.LineTotal) {
			return fmt.Errorf("%w: item %s line total %s does not equal taxable %s plus tax %s",
				store.ErrConsistency, item.ID, item.LineTotal, item.TaxableValue, item.TaxAmount)
		}
		lineTax = lineTax.Add(item.TaxAmount)
		lineTaxable = lineTaxable.Add(item.TaxableValue)
	}

	if lineTax.Sub(bill.TaxAmount).Abs().GreaterThan(tolerance) {
		return fmt.Errorf("%w: line tax sum %s diverges from bill tax %s",
			store.ErrConsistency, lineTax, bill.TaxAmount)
	}
	if lineTaxable.Sub(bill.Subtotal).Abs().GreaterThan(tolerance) {
		return fmt.Errorf("%w: taxable sum %s diverges from subtotal %s",
			store.ErrConsistency, lineTaxable, bill.Subtotal)
	}
	if !bill.ServiceChargeComponentA.Add(bill.ServiceChargeComponentB).Equal(bill.ServiceChargeTaxAmount) {
		return fmt.Errorf("%w: service charge components do not sum to its tax", store.ErrConsistency)
	}

	expected := bill.Subtotal.Add(bill.ServiceChargeAmount).Add(bill.TaxAmount).Add(bill.ServiceChargeTaxAmount)
	if expected.Sub(bill.TotalAmount).Abs().GreaterThan(tolerance) {
		return fmt.Errorf("%w: total %s diverges from subtotal+service charge+tax %s",
			store.ErrConsistency, bill.TotalAmount, expected)
	}

	return nil
}
