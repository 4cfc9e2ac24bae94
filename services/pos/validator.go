package main

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// QuantityScale é o número máximo de casas decimais aceito em quantidades
const QuantityScale = 3

// maxQuantity é o primeiro valor que não cabe em NUMERIC(14,3)
var maxQuantity = decimal.New(1, 11)

func hasValidScale(q decimal.Decimal) bool {
	return q.Equal(q.Truncate(QuantityScale))
}

func checkRange(field string, q decimal.Decimal) error {
	if q.GreaterThanOrEqual(maxQuantity) {
		return invalidQuantity("%s must be less than %s", field, maxQuantity)
	}
	if !hasValidScale(q) {
		return invalidQuantity("%s supports at most %d decimal places", field, QuantityScale)
	}
	return nil
}

func checkNonNegative(field string, q decimal.Decimal) error {
	if q.IsNegative() {
		return invalidQuantity("%s must not be negative", field)
	}
	return checkRange(field, q)
}

func checkPositive(field string, q decimal.Decimal) error {
	if !q.IsPositive() {
		return invalidQuantity("%s must be greater than zero", field)
	}
	return checkRange(field, q)
}

// ValidateIngredient valida os campos obrigatórios de um ingrediente
func ValidateIngredient(ing *Ingredient) error {
	ing.Name = strings.TrimSpace(ing.Name)
	if ing.Name == "" {
		return validationError("name is required")
	}
	if !ing.Unit.Valid() {
		return validationError("unit must be one of kg, g, L, ml, pcs")
	}
	if err := checkNonNegative("quantity", ing.Quantity); err != nil {
		return err
	}
	return checkNonNegative("threshold", ing.Threshold)
}

// CatalogValidator garante a integridade referencial da lista de ingredientes de um MenuItem
type CatalogValidator struct {
	repository CatalogRepository
}

// NewCatalogValidator cria uma nova instância de CatalogValidator
func NewCatalogValidator(repository CatalogRepository) *CatalogValidator {
	return &CatalogValidator{repository: repository}
}

// ValidateMenuItem valida nome e ingredientes dentro da transação de escrita.
// Os ingredientes resolvidos ficam bloqueados até o fim da transação.
func (v *CatalogValidator) ValidateMenuItem(ctx context.Context, tx Tx, item *MenuItem) error {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return validationError("name is required")
	}
	if len(item.Ingredients) == 0 {
		return validationError("at least one ingredient is required")
	}
	_, err := v.ValidateIngredients(ctx, tx, item.Ingredients)
	return err
}

// ValidateIngredients verifica quantidades e existência, na ordem da lista
func (v *CatalogValidator) ValidateIngredients(ctx context.Context, tx Tx, list []MenuItemIngredient) ([]MenuItemIngredient, error) {
	ids := make([]string, 0, len(list))
	for _, entry := range list {
		if strings.TrimSpace(entry.IngredientID) == "" {
			return nil, validationError("ingredientId is required")
		}
		if err := checkPositive("ingredient quantity", entry.Quantity); err != nil {
			return nil, err
		}
		ids = append(ids, entry.IngredientID)
	}

	found, err := v.repository.GetIngredientsForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	for _, entry := range list {
		if _, ok := found[entry.IngredientID]; !ok {
			return nil, unknownIngredient(entry.IngredientID)
		}
	}

	return list, nil
}
