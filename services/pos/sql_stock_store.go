package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// SQLTx adapta *sql.Tx para a interface Tx.
// Quando a transação pertence ao barrier do DTM, o commit fica a cargo dele.
type SQLTx struct {
	tx *sql.Tx
}

func (t *SQLTx) Commit() error {
	return t.tx.Commit()
}

func (t *SQLTx) Rollback() error {
	return t.tx.Rollback()
}

// SQLStockStore implementa StockStore sobre database/sql (lib/pq).
// É o caminho usado pelos branches de saga, que recebem um *sql.Tx do barrier.
type SQLStockStore struct{}

var _ StockStore = SQLStockStore{}

func sqlTx(tx Tx) (*sql.Tx, error) {
	stx, ok := tx.(*SQLTx)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction type %T", tx)
	}
	return stx.tx, nil
}

// classifyPqError converte os códigos do lib/pq nos tipos de erro do domínio
func classifyPqError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case sqlStateLockNotAvailable, sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return conflictError(err)
	case sqlStateForeignKeyViolation:
		return &InventoryError{Kind: ErrUnknownIngredient, Message: pqErr.Detail}
	case sqlStateCheckViolation:
		return fmt.Errorf("%w: %s", ErrInsufficientStock, pqErr.Message)
	case sqlStateNumericOutOfRange:
		return invalidQuantity("quantity must be less than %s", maxQuantity)
	}
	return err
}

// GetMenuItemForShare lê o item e sua receita com FOR SHARE dentro da transação do barrier
func (SQLStockStore) GetMenuItemForShare(ctx context.Context, tx Tx, id string) (*MenuItem, error) {
	stx, err := sqlTx(tx)
	if err != nil {
		return nil, err
	}

	var item MenuItem
	err = stx.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM menu_items WHERE id = $1
		FOR SHARE
	`, id).Scan(&item.ID, &item.Name, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, menuItemNotFound(id)
	}
	if err != nil {
		return nil, classifyPqError(fmt.Errorf("failed to lock menu item: %w", err))
	}

	rows, err := stx.QueryContext(ctx, `
		SELECT ingredient_id, quantity::text
		FROM menu_item_ingredients
		WHERE menu_item_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, classifyPqError(fmt.Errorf("failed to load menu item ingredients: %w", err))
	}
	defer rows.Close()

	item.Ingredients = []MenuItemIngredient{}
	for rows.Next() {
		var ingredientID, quantity string
		if err := rows.Scan(&ingredientID, &quantity); err != nil {
			return nil, err
		}
		q, err := decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("invalid quantity for menu item %s: %w", id, err)
		}
		item.Ingredients = append(item.Ingredients, MenuItemIngredient{IngredientID: ingredientID, Quantity: q})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPqError(err)
	}
	return &item, nil
}

// GetIngredientsForUpdate obtém os ingredientes com lock pessimista em ordem de id
func (SQLStockStore) GetIngredientsForUpdate(ctx context.Context, tx Tx, ids []string) (map[string]*Ingredient, error) {
	stx, err := sqlTx(tx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + ingredientColumns + `
		FROM ingredients
		WHERE id = ANY($1)
		ORDER BY id COLLATE "C"
		FOR UPDATE
	`

	rows, err := stx.QueryContext(ctx, query, pq.Array(uniqueSorted(ids)))
	if err != nil {
		return nil, classifyPqError(fmt.Errorf("failed to lock ingredients: %w", err))
	}
	defer rows.Close()

	out := make(map[string]*Ingredient)
	for rows.Next() {
		var (
			ing                 Ingredient
			quantity, threshold string
		)
		if err := rows.Scan(&ing.ID, &ing.Name, &quantity, &ing.Unit, &threshold, &ing.CreatedAt, &ing.UpdatedAt); err != nil {
			return nil, classifyPqError(err)
		}
		if ing.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("invalid quantity for ingredient %s: %w", ing.ID, err)
		}
		if ing.Threshold, err = decimal.NewFromString(threshold); err != nil {
			return nil, fmt.Errorf("invalid threshold for ingredient %s: %w", ing.ID, err)
		}
		out[ing.ID] = &ing
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPqError(err)
	}
	return out, nil
}

// DecreaseStock diminui o estoque apenas se houver quantidade suficiente
func (SQLStockStore) DecreaseStock(ctx context.Context, tx Tx, ingredientID string, amount decimal.Decimal) error {
	stx, err := sqlTx(tx)
	if err != nil {
		return err
	}

	result, err := stx.ExecContext(ctx, `
		UPDATE ingredients
		SET quantity = quantity - $2::numeric,
		    updated_at = NOW()
		WHERE id = $1
		  AND quantity >= $2::numeric
	`, ingredientID, amount.String())
	if err != nil {
		return classifyPqError(fmt.Errorf("failed to decrease stock: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: conditional decrement of ingredient %s affected no rows", ErrInsufficientStock, ingredientID)
	}
	return nil
}

// IncreaseStock aumenta o estoque
func (SQLStockStore) IncreaseStock(ctx context.Context, tx Tx, ingredientID string, amount decimal.Decimal) error {
	stx, err := sqlTx(tx)
	if err != nil {
		return err
	}

	result, err := stx.ExecContext(ctx, `
		UPDATE ingredients
		SET quantity = quantity + $2::numeric,
		    updated_at = NOW()
		WHERE id = $1
	`, ingredientID, amount.String())
	if err != nil {
		return classifyPqError(fmt.Errorf("failed to increase stock: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ingredientNotFound(ingredientID)
	}
	return nil
}

// RecordActivity insere o registro de movimentação
func (SQLStockStore) RecordActivity(ctx context.Context, tx Tx, activity *Activity) error {
	stx, err := sqlTx(tx)
	if err != nil {
		return err
	}

	_, err = stx.ExecContext(ctx, `
		INSERT INTO activities (id, action, item, quantity, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5)
	`, activity.ID, string(activity.Action), activity.Item, activity.Quantity.String(), activity.CreatedAt)
	if err != nil {
		return classifyPqError(fmt.Errorf("failed to insert activity record: %w", err))
	}
	return nil
}
