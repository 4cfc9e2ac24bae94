package main

import (
	"context"

	"github.com/shopspring/decimal"
)

// Tx interface para transações
type Tx interface {
	Commit() error
	Rollback() error
}

// StockStore define as operações de estoque executadas dentro de uma transação.
// GetMenuItemForShare trava o item do menu contra alteração até o fim da transação.
// GetIngredientsForUpdate bloqueia as linhas em ordem crescente de id e omite
// do resultado os ids inexistentes.
type StockStore interface {
	GetMenuItemForShare(ctx context.Context, tx Tx, id string) (*MenuItem, error)
	GetIngredientsForUpdate(ctx context.Context, tx Tx, ids []string) (map[string]*Ingredient, error)
	DecreaseStock(ctx context.Context, tx Tx, ingredientID string, amount decimal.Decimal) error
	IncreaseStock(ctx context.Context, tx Tx, ingredientID string, amount decimal.Decimal) error
	RecordActivity(ctx context.Context, tx Tx, activity *Activity) error
}

// CatalogRepository define a interface de persistência de ingredientes e itens do menu
type CatalogRepository interface {
	StockStore

	BeginTx(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error

	ListIngredients(ctx context.Context) ([]Ingredient, error)
	ListLowStockIngredients(ctx context.Context) ([]Ingredient, error)
	GetIngredient(ctx context.Context, id string) (*Ingredient, error)
	CreateIngredient(ctx context.Context, tx Tx, ingredient *Ingredient) error
	UpdateIngredient(ctx context.Context, tx Tx, ingredient *Ingredient) error
	DeleteIngredient(ctx context.Context, tx Tx, id string) error
	IngredientInUse(ctx context.Context, tx Tx, id string) (bool, error)

	ListMenuItems(ctx context.Context) ([]MenuItem, error)
	GetMenuItem(ctx context.Context, id string) (*MenuItem, error)
	GetMenuItemForUpdate(ctx context.Context, tx Tx, id string) (*MenuItem, error)
	CreateMenuItem(ctx context.Context, tx Tx, item *MenuItem) error
	UpdateMenuItem(ctx context.Context, tx Tx, item *MenuItem) error
	DeleteMenuItem(ctx context.Context, tx Tx, id string) error

	ListActivities(ctx context.Context, limit int) ([]Activity, error)
}
