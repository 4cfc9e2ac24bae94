package main

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Tipos de erro. Todos são recuperáveis pelo chamador.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrInvalidQuantity   = fmt.Errorf("%w: invalid quantity", ErrValidation)
	ErrUnknownIngredient = errors.New("unknown ingredient")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("transaction conflict")
	ErrIngredientInUse   = errors.New("ingredient in use")
)

// InventoryError carrega a mensagem legível e o tipo do erro
type InventoryError struct {
	Kind     error
	Message  string
	EntityID string
}

func (e *InventoryError) Error() string {
	return e.Message
}

func (e *InventoryError) Unwrap() error {
	return e.Kind
}

// InsufficientStockError descreve o ingrediente que bloqueou a venda
type InsufficientStockError struct {
	IngredientID string
	Name         string
	Unit         Unit
	Required     decimal.Decimal
	Available    decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Not enough %s in stock. Required: %s %s, Available: %s %s",
		e.Name, e.Required.String(), e.Unit, e.Available.String(), e.Unit)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

func menuItemNotFound(id string) error {
	return &InventoryError{Kind: ErrNotFound, Message: "Menu item not found", EntityID: id}
}

func ingredientNotFound(id string) error {
	return &InventoryError{Kind: ErrNotFound, Message: "Ingredient not found", EntityID: id}
}

func unknownIngredient(id string) error {
	return &InventoryError{
		Kind:     ErrUnknownIngredient,
		Message:  fmt.Sprintf("Ingredient with ID %s not found", id),
		EntityID: id,
	}
}

func invalidQuantity(format string, args ...any) error {
	return &InventoryError{Kind: ErrInvalidQuantity, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) error {
	return &InventoryError{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func ingredientInUse(id string) error {
	return &InventoryError{
		Kind:     ErrIngredientInUse,
		Message:  fmt.Sprintf("Ingredient %s is used by a menu item", id),
		EntityID: id,
	}
}

func conflictError(err error) error {
	return &InventoryError{Kind: ErrConflict, Message: fmt.Sprintf("concurrent update, try again: %v", err)}
}

// errorKind devolve um nome estável do tipo do erro para respostas e métricas
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnknownIngredient):
		return "unknown_ingredient"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrIngredientInUse):
		return "ingredient_in_use"
	default:
		return "internal"
	}
}
