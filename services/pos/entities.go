package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Unit representa a unidade de medida de um ingrediente
type Unit string

const (
	UnitKilogram   Unit = "kg"
	UnitGram       Unit = "g"
	UnitLiter      Unit = "L"
	UnitMilliliter Unit = "ml"
	UnitPieces     Unit = "pcs"
)

// Valid informa se a unidade pertence ao conjunto suportado
func (u Unit) Valid() bool {
	switch u {
	case UnitKilogram, UnitGram, UnitLiter, UnitMilliliter, UnitPieces:
		return true
	}
	return false
}

// Ingredient representa um insumo com controle de estoque
type Ingredient struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Unit      Unit            `json:"unit" db:"unit"`
	Threshold decimal.Decimal `json:"threshold" db:"threshold"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// NewIngredient cria uma nova instância de Ingredient
func NewIngredient(name string, quantity decimal.Decimal, unit Unit, threshold decimal.Decimal) *Ingredient {
	now := time.Now().UTC()
	return &Ingredient{
		ID:        uuid.New().String(),
		Name:      name,
		Quantity:  quantity,
		Unit:      unit,
		Threshold: threshold,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsLowStock indica se o estoque atingiu o limite mínimo
func (i *Ingredient) IsLowStock() bool {
	return i.Quantity.LessThanOrEqual(i.Threshold)
}

// MenuItemIngredient é a quantidade de um ingrediente consumida por unidade vendida
type MenuItemIngredient struct {
	IngredientID string          `json:"ingredientId" db:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
}

// MenuItem representa um produto vendável composto por ingredientes
type MenuItem struct {
	ID          string               `json:"id" db:"id"`
	Name        string               `json:"name" db:"name"`
	Ingredients []MenuItemIngredient `json:"ingredients"`
	CreatedAt   time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at" db:"updated_at"`
}

// NewMenuItem cria uma nova instância de MenuItem
func NewMenuItem(name string, ingredients []MenuItemIngredient) *MenuItem {
	now := time.Now().UTC()
	return &MenuItem{
		ID:          uuid.New().String(),
		Name:        name,
		Ingredients: ingredients,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// clone copia a lista de ingredientes para que o chamador não compartilhe o slice
func (m MenuItem) clone() MenuItem {
	m.Ingredients = append([]MenuItemIngredient(nil), m.Ingredients...)
	return m
}

// ActivityAction representa os tipos de movimentação registrados no histórico
type ActivityAction string

const (
	ActivitySold    ActivityAction = "sold"
	ActivityAdded   ActivityAction = "added"
	ActivityUpdated ActivityAction = "updated"
	ActivityRemoved ActivityAction = "removed"
)

// Activity representa uma entrada do histórico de movimentações
type Activity struct {
	ID        string          `json:"id" db:"id"`
	Action    ActivityAction  `json:"action" db:"action"`
	Item      string          `json:"item" db:"item"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	CreatedAt time.Time       `json:"timestamp" db:"created_at"`
}

// NewActivity cria uma nova instância de Activity
func NewActivity(action ActivityAction, item string, quantity decimal.Decimal) *Activity {
	return &Activity{
		ID:        uuid.New().String(),
		Action:    action,
		Item:      item,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}
}

// SaleConfirmation é o resultado de uma venda concluída
type SaleConfirmation struct {
	MenuItemID   string `json:"menu_item_id"`
	MenuItemName string `json:"menu_item_name"`
	Quantity     int    `json:"quantity"`
	Message      string `json:"message"`
}

// Summary agrega os contadores exibidos no dashboard
type Summary struct {
	Ingredients      int        `json:"ingredients"`
	MenuItems        int        `json:"menu_items"`
	LowStock         int        `json:"low_stock"`
	RecentActivities []Activity `json:"recent_activities"`
}
