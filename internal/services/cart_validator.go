package services

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	domain "github.com/naturevibes/api/internal/domain"
)

var (
	// ErrInvalidCart signals that no submitted line item survived validation.
	ErrInvalidCart = errors.New("order: invalid cart")
	// ErrAmountMismatch signals the client total disagrees with the recomputed one.
	ErrAmountMismatch = errors.New("order: amount mismatch")
)

// DefaultAmountTolerance is the absolute difference, in currency units, tolerated between the
// client total and the recomputed amount.
var DefaultAmountTolerance = decimal.NewFromInt(1)

var plainText = bluemonday.StrictPolicy()

// Items beyond these bounds are dropped. They keep line totals and minor-unit amounts well inside
// int64.
var (
	maxItemQuantity = decimal.NewFromInt(100_000)
	maxItemPrice    = decimal.NewFromInt(1_000_000_000)
)

// CartItemInput is a client-submitted line item. Nil price or quantity means the field was
// absent or not numeric.
type CartItemInput struct {
	ProductRef string
	Name       string
	Image      string
	Price      *decimal.Decimal
	Quantity   *decimal.Decimal
}

// CartInput is the submitted cart plus the optional client-computed total.
type CartInput struct {
	Items       []CartItemInput
	ClientTotal *decimal.Decimal
}

// ValidatedCart is the authoritative cart: surviving items and their rounded total.
type ValidatedCart struct {
	Items   []domain.OrderItem
	Amount  decimal.Decimal
	Dropped int
}

// ValidateCart drops malformed items and recomputes the total. It has no side effects.
func ValidateCart(in CartInput, tolerance decimal.Decimal) (ValidatedCart, error) {
	items := make([]domain.OrderItem, 0, len(in.Items))
	for _, raw := range in.Items {
		item, ok := normalizeCartItem(raw)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return ValidatedCart{}, fmt.Errorf("%w: no valid items", ErrInvalidCart)
	}

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	amount := total.Round(2)

	if in.ClientTotal != nil {
		submitted := in.ClientTotal.Round(2)
		if submitted.Sub(amount).Abs().GreaterThan(tolerance) {
			return ValidatedCart{}, fmt.Errorf("%w: submitted %s, computed %s", ErrAmountMismatch,
				submitted.StringFixed(2), amount.StringFixed(2))
		}
	}

	return ValidatedCart{Items: items, Amount: amount, Dropped: len(in.Items) - len(items)}, nil
}

func normalizeCartItem(raw CartItemInput) (domain.OrderItem, bool) {
	name := sanitizeText(raw.Name)
	if name == "" {
		return domain.OrderItem{}, false
	}
	if raw.Price == nil || !raw.Price.IsPositive() || raw.Price.GreaterThan(maxItemPrice) {
		return domain.OrderItem{}, false
	}
	if raw.Quantity == nil || !raw.Quantity.IsInteger() ||
		raw.Quantity.LessThan(decimal.NewFromInt(1)) || raw.Quantity.GreaterThan(maxItemQuantity) {
		return domain.OrderItem{}, false
	}

	item := domain.OrderItem{
		Name:     name,
		Image:    strings.TrimSpace(raw.Image),
		Price:    *raw.Price,
		Quantity: int(raw.Quantity.IntPart()),
	}
	if ref := strings.TrimSpace(raw.ProductRef); ref != "" {
		item.ProductRef = &ref
	}
	return item, true
}

// sanitizeText strips markup and surrounding whitespace from free-text snapshot fields.
func sanitizeText(value string) string {
	return strings.TrimSpace(html.UnescapeString(plainText.Sanitize(value)))
}
