package services

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateCartRecomputesAmount(t *testing.T) {
	cart, err := ValidateCart(monsteraCart("2598"), DefaultAmountTolerance)
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if !cart.Amount.Equal(decimal.RequireFromString("2598")) {
		t.Fatalf("expected 2598, got %s", cart.Amount)
	}
	if cart.Amount.StringFixed(2) != "2598.00" {
		t.Fatalf("expected 2598.00, got %s", cart.Amount.StringFixed(2))
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %+v", cart.Items)
	}
}

func TestValidateCartRoundsToCents(t *testing.T) {
	cart, err := ValidateCart(CartInput{Items: []CartItemInput{
		{Name: "Seed packet", Price: dec("0.1"), Quantity: dec("3")},
		{Name: "Twine", Price: dec("2.335"), Quantity: dec("1")},
	}}, DefaultAmountTolerance)
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if cart.Amount.StringFixed(2) != "2.64" {
		t.Fatalf("expected 2.64, got %s", cart.Amount.StringFixed(2))
	}
}

func TestValidateCartDropsInvalidItems(t *testing.T) {
	cart, err := ValidateCart(CartInput{Items: []CartItemInput{
		{Name: "Monstera", Price: dec("1299"), Quantity: dec("1"), ProductRef: " p1 "},
		{Name: "   ", Price: dec("10"), Quantity: dec("1")},
		{Name: "Free sample", Price: dec("0"), Quantity: dec("1")},
		{Name: "Refund hack", Price: dec("-5"), Quantity: dec("1")},
		{Name: "Half pot", Price: dec("10"), Quantity: dec("1.5")},
		{Name: "Zero pot", Price: dec("10"), Quantity: dec("0")},
		{Name: "No price", Quantity: dec("1")},
		{Name: "No quantity", Price: dec("10")},
	}}, DefaultAmountTolerance)
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if len(cart.Items) != 1 || cart.Dropped != 7 {
		t.Fatalf("expected 1 item and 7 dropped, got %d/%d", len(cart.Items), cart.Dropped)
	}
	if cart.Items[0].ProductRef == nil || *cart.Items[0].ProductRef != "p1" {
		t.Fatalf("expected trimmed product ref")
	}
}

func TestValidateCartRejectsEmptyResult(t *testing.T) {
	inputs := []CartInput{
		{},
		{Items: []CartItemInput{{Name: "Pot", Price: dec("0"), Quantity: dec("1")}}},
	}
	for _, in := range inputs {
		if _, err := ValidateCart(in, DefaultAmountTolerance); !errors.Is(err, ErrInvalidCart) {
			t.Fatalf("expected ErrInvalidCart, got %v", err)
		}
	}
}

func TestValidateCartAmountTolerance(t *testing.T) {
	if _, err := ValidateCart(monsteraCart("10"), DefaultAmountTolerance); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if _, err := ValidateCart(monsteraCart("2596.99"), DefaultAmountTolerance); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected mismatch just outside tolerance, got %v", err)
	}

	cart, err := ValidateCart(monsteraCart("2597"), DefaultAmountTolerance)
	if err != nil {
		t.Fatalf("expected within tolerance to pass: %v", err)
	}
	if cart.Amount.StringFixed(2) != "2598.00" {
		t.Fatalf("expected recomputed amount to win, got %s", cart.Amount)
	}

	if _, err := ValidateCart(monsteraCart(""), DefaultAmountTolerance); err != nil {
		t.Fatalf("expected absent total to skip check: %v", err)
	}
}

func TestValidateCartStripsMarkup(t *testing.T) {
	cart, err := ValidateCart(CartInput{Items: []CartItemInput{
		{Name: "<b>Fern</b> & Pot<script>alert(1)</script>", Price: dec("5"), Quantity: dec("1")},
		{Name: "<img src=x>", Price: dec("5"), Quantity: dec("1")},
	}}, DefaultAmountTolerance)
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected markup-only name to be dropped, got %d items", len(cart.Items))
	}
	if cart.Items[0].Name != "Fern & Pot" {
		t.Fatalf("unexpected sanitized name %q", cart.Items[0].Name)
	}
}

func TestValidateCartRoundsSubmittedTotal(t *testing.T) {
	cart, err := ValidateCart(monsteraCart("2599.004"), DefaultAmountTolerance)
	if err != nil {
		t.Fatalf("expected submitted total to be compared at cent precision: %v", err)
	}
	if cart.Amount.StringFixed(2) != "2598.00" {
		t.Fatalf("unexpected amount %s", cart.Amount)
	}
	if _, err := ValidateCart(monsteraCart("2599.006"), DefaultAmountTolerance); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected 2599.01 to fall outside tolerance, got %v", err)
	}
}

func TestValidateCartDropsOutOfRangeItems(t *testing.T) {
	cart, err := ValidateCart(CartInput{Items: []CartItemInput{
		{Name: "Monstera", Price: dec("1299"), Quantity: dec("18446744073709551616")},
		{Name: "Fern", Price: dec("1299"), Quantity: dec("9223372036854775808")},
		{Name: "Bonsai", Price: dec("1299"), Quantity: dec("100001")},
		{Name: "Gold planter", Price: dec("1000000000.01"), Quantity: dec("1")},
		{Name: "Cactus", Price: dec("250"), Quantity: dec("100000")},
	}}, DefaultAmountTolerance)
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if len(cart.Items) != 1 || cart.Dropped != 4 {
		t.Fatalf("expected 1 item and 4 dropped, got %d/%d", len(cart.Items), cart.Dropped)
	}
	if cart.Items[0].Name != "Cactus" || cart.Items[0].Quantity != 100000 {
		t.Fatalf("unexpected item %+v", cart.Items[0])
	}
	if cart.Amount.StringFixed(2) != "25000000.00" {
		t.Fatalf("unexpected amount %s", cart.Amount)
	}

	if _, err := ValidateCart(CartInput{Items: []CartItemInput{
		{Name: "Monstera", Price: dec("1299"), Quantity: dec("18446744073709551616")},
	}}, DefaultAmountTolerance); !errors.Is(err, ErrInvalidCart) {
		t.Fatalf("expected ErrInvalidCart for an overflowing quantity, got %v", err)
	}
}
