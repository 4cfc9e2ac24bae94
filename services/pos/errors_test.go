package main

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsufficientStockErrorMessage(t *testing.T) {
	err := &InsufficientStockError{
		IngredientID: "flour",
		Name:         "Flour",
		Unit:         UnitKilogram,
		Required:     dec("10"),
		Available:    dec("3.5"),
	}

	assert.Equal(t, "Not enough Flour in stock. Required: 10 kg, Available: 3.5 kg", err.Error())
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestInvalidQuantityIsValidation(t *testing.T) {
	err := invalidQuantity("quantity must be greater than zero")

	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrorKindAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   string
		status int
	}{
		{"menu item not found", menuItemNotFound("x"), "not_found", http.StatusNotFound},
		{"ingredient not found", ingredientNotFound("x"), "not_found", http.StatusNotFound},
		{"invalid quantity", invalidQuantity("bad"), "invalid_quantity", http.StatusBadRequest},
		{"validation", validationError("name is required"), "validation", http.StatusBadRequest},
		{"unknown ingredient", unknownIngredient("x"), "unknown_ingredient", http.StatusBadRequest},
		{"insufficient stock", &InsufficientStockError{Name: "Flour"}, "insufficient_stock", http.StatusBadRequest},
		{"conflict", conflictError(errors.New("lock timeout")), "conflict", http.StatusConflict},
		{"in use", ingredientInUse("x"), "ingredient_in_use", http.StatusConflict},
		{"wrapped", fmt.Errorf("outer: %w", unknownIngredient("x")), "unknown_ingredient", http.StatusBadRequest},
		{"internal", errors.New("boom"), "internal", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, errorKind(tt.err))
			assert.Equal(t, tt.status, statusFor(tt.err))
		})
	}
}

func TestUnknownIngredientMessageNamesID(t *testing.T) {
	err := unknownIngredient("abc-123")

	assert.Equal(t, "Ingredient with ID abc-123 not found", err.Error())

	var invErr *InventoryError
	assert.True(t, errors.As(err, &invErr))
	assert.Equal(t, "abc-123", invErr.EntityID)
}
