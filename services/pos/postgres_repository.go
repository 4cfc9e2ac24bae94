package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// SQLSTATE usados na classificação de erros do PostgreSQL
const (
	sqlStateLockNotAvailable     = "55P03"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateForeignKeyViolation  = "23503"
	sqlStateCheckViolation       = "23514"
	sqlStateNumericOutOfRange    = "22003"
)

const ingredientColumns = `id, name, quantity::text, unit, threshold::text, created_at, updated_at`

// PostgresCatalogRepository implementa CatalogRepository usando PostgreSQL
type PostgresCatalogRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

var _ CatalogRepository = (*PostgresCatalogRepository)(nil)

// NewPostgresCatalogRepository cria uma nova instância de PostgresCatalogRepository
func NewPostgresCatalogRepository(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{
		db:          db,
		lockTimeout: lockTimeout,
	}
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return classifyPgError(t.tx.Commit(context.Background()))
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

func pgTx(tx Tx) (pgx.Tx, error) {
	ptx, ok := tx.(*PostgresTx)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction type %T", tx)
	}
	return ptx.tx, nil
}

// classifyPgError converte os códigos do PostgreSQL nos tipos de erro do domínio
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlStateLockNotAvailable, sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return conflictError(err)
	case sqlStateForeignKeyViolation:
		return &InventoryError{Kind: ErrUnknownIngredient, Message: pgErr.Detail}
	case sqlStateCheckViolation:
		return fmt.Errorf("%w: %s", ErrInsufficientStock, pgErr.Message)
	case sqlStateNumericOutOfRange:
		return invalidQuantity("quantity must be less than %s", maxQuantity)
	}
	return err
}

// BeginTx inicia uma nova transação com tempo máximo de espera por locks
func (r *PostgresCatalogRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if r.lockTimeout > 0 {
		// SET não aceita parâmetros; o valor é um inteiro formatado por nós
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}
	return &PostgresTx{tx: tx}, nil
}

func (r *PostgresCatalogRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanIngredient(row pgx.Row) (*Ingredient, error) {
	var (
		ing                 Ingredient
		quantity, threshold string
	)
	if err := row.Scan(&ing.ID, &ing.Name, &quantity, &ing.Unit, &threshold, &ing.CreatedAt, &ing.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if ing.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("invalid quantity for ingredient %s: %w", ing.ID, err)
	}
	if ing.Threshold, err = decimal.NewFromString(threshold); err != nil {
		return nil, fmt.Errorf("invalid threshold for ingredient %s: %w", ing.ID, err)
	}
	return &ing, nil
}

func collectIngredients(rows pgx.Rows) ([]Ingredient, error) {
	defer rows.Close()
	out := []Ingredient{}
	for rows.Next() {
		ing, err := scanIngredient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ing)
	}
	return out, rows.Err()
}

// GetIngredientsForUpdate obtém os ingredientes com lock pessimista (FOR UPDATE).
// A ordenação por id define a ordem de aquisição dos locks.
func (r *PostgresCatalogRepository) GetIngredientsForUpdate(ctx context.Context, tx Tx, ids []string) (map[string]*Ingredient, error) {
	pgxTx, err := pgTx(tx)
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

	rows, err := pgxTx.Query(ctx, query, uniqueSorted(ids))
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("failed to lock ingredients: %w", err))
	}
	list, err := collectIngredients(rows)
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("failed to lock ingredients: %w", err))
	}

	out := make(map[string]*Ingredient, len(list))
	for i := range list {
		out[list[i].ID] = &list[i]
	}
	return out, nil
}

// DecreaseStock diminui o estoque com update condicional
func (r *PostgresCatalogRepository) DecreaseStock(ctx context.Context, tx Tx, ingredientID string, amount decimal.Decimal) error {
	pgxTx, err := pgTx(tx)
	if err != nil {
		return err
	}

	updateQuery := `
		UPDATE ingredients
		SET quantity = quantity - $2::numeric,
		    updated_at = NOW()
		WHERE id = $1
		  AND quantity >= $2::numeric
	`

	tag, err := pgxTx.Exec(ctx, updateQuery, ingredientID, amount.String())
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to decrease stock: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: conditional decrement of ingredient %s affected no rows", ErrInsufficientStock, ingredientID)
	}
	return nil
}

// IncreaseStock aumenta o estoque
func (r *PostgresCatalogRepository) IncreaseStock(ctx context.Context, tx Tx, ingredientID string, amount decimal.Decimal) error {
	pgxTx, err := pgTx(tx)
	if err != nil {
		return err
	}

	updateQuery := `
		UPDATE ingredients
		SET quantity = quantity + $2::numeric,
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := pgxTx.Exec(ctx, updateQuery, ingredientID, amount.String())
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to increase stock: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ingredientNotFound(ingredientID)
	}
	return nil
}

// RecordActivity insere o registro de movimentação
func (r *PostgresCatalogRepository) RecordActivity(ctx context.Context, tx Tx, activity *Activity) error {
	pgxTx, err := pgTx(tx)
	if err != nil {
		return err
	}

	insertQuery := `
		INSERT INTO activities (id, action, item, quantity, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5)
	`

	_, err = pgxTx.Exec(ctx, insertQuery, activity.ID, string(activity.Action), activity.Item, activity.Quantity.String(), activity.CreatedAt)
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to insert activity record: %w", err))
	}
	return nil
}

func (r *PostgresCatalogRepository) ListIngredients(ctx context.Context) ([]Ingredient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ingredientColumns+`
		FROM ingredients
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingredients: %w", err)
	}
	return collectIngredients(rows)
}

func (r *PostgresCatalogRepository) ListLowStockIngredients(ctx context.Context) ([]Ingredient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ingredientColumns+`
		FROM ingredients
		WHERE quantity <= threshold
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list low stock ingredients: %w", err)
	}
	return collectIngredients(rows)
}

func (r *PostgresCatalogRepository) GetIngredient(ctx context.Context, id string) (*Ingredient, error) {
	ing, err := scanIngredient(r.db.QueryRow(ctx, `
		SELECT `+ingredientColumns+`
		FROM ingredients
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ingredientNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingredient: %w", err)
	}
	return ing, nil
}

func (r *PostgresCatalogRepository) CreateIngredient(ctx context.Context, tx Tx, ingredient *Ingredient) error {
	pgxTx, err := pgTx(tx)
	if err != nil {
		return err
	}
	_, err = pgxTx.Exec(ctx, `
		INSERT INTO ingredients (id, name, quantity, unit, threshold, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5::numeric, $6, $7)
	`, ingredient.ID, ingredient.Name, ingredient.Quantity.String(), string(ingredient.Unit),
		ingredient.Threshold.String(), ingredient.CreatedAt, ingredient.UpdatedAt)
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to create ingredient: %w", err))
	}
	return nil
}

func (r *PostgresCatalogRepository) UpdateIngredient(ctx context.Context, tx Tx, ingredient *Ingredient) error {
	pgxTx, err := pgTx(tx)
	if err != nil {
		return err
	}
	tag, err := pgxTx.Exec(ctx, `
		UPDATE ingredients
		SET name = $2, quantity = $3::numeric, unit = $4, threshold = $5::numeric, updated_at = $6
		WHERE id = $1
	`, ingredient.ID, ingredient.Name, ingredient.Quantity.String(), string(ingredient.Unit),
		ingredient.Threshold.String(), ingredient.UpdatedAt)
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to update ingredient: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ingredientNotFound(ingredient.ID)
	}
	return nil
}

func (r *PostgresCatalogRepository) DeleteIngredient(ctx context.Context, tx Tx, id string) error {
	pgxTx, err := pgTx(tx)
	if err != nil {
		return err
	}
	tag, err := pgxTx.Exec(ctx, `DELETE FROM ingredients WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlStateForeignKeyViolation {
			return ingredientInUse(id)
		}
		return classifyPgError(fmt.Errorf("failed to delete ingredient: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ingredientNotFound(id)
	}
	return nil
}

func (r *PostgresCatalogRepository) IngredientInUse(ctx context.Context, tx Tx, id string) (bool, error) {
	pgxTx, err := pgTx(tx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = pgxTx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM menu_item_ingredients
			WHERE ingredient_id = $1
		)
	`, id).Scan(&exists)
	if err != nil {
		return false, classifyPgError(fmt.Errorf("failed to check ingredient usage: %w", err))
	}
	return exists, nil
}

// querier é satisfeito tanto pelo pool quanto por uma transação
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadMenuItemIngredients preenche a lista de ingredientes preservando a ordem
func (r *PostgresCatalogRepository) loadMenuItemIngredients(ctx context.Context, q querier, items []MenuItem) error {
	if len(items) == 0 {
		return nil
	}
	index := make(map[string]int, len(items))
	ids := make([]string, len(items))
	for i := range items {
		index[items[i].ID] = i
		ids[i] = items[i].ID
		items[i].Ingredients = []MenuItemIngredient{}
	}

	rows, err := q.Query(ctx, `
		SELECT menu_item_id, ingredient_id, quantity::text
		FROM menu_item_ingredients
		WHERE menu_item_id = ANY($1)
		ORDER BY menu_item_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to load menu item ingredients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var menuItemID, ingredientID, quantity string
		if err := rows.Scan(&menuItemID, &ingredientID, &quantity); err != nil {
			return err
		}
		q, err := decimal.NewFromString(quantity)
		if err != nil {
			return fmt.Errorf("invalid quantity for menu item %s: %w", menuItemID, err)
		}
		i := index[menuItemID]
		items[i].Ingredients = append(items[i].Ingredients, MenuItemIngredient{IngredientID: ingredientID, Quantity: q})
	}
	return rows.Err()
}

func (r *PostgresCatalogRepository) ListMenuItems(ctx context.Context) ([]MenuItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, created_at, updated_at
		FROM menu_items
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu items: %w", err)
	}
	defer rows.Close()

	items := []MenuItem{}
	for rows.Next() {
		var item MenuItem
		if err := rows.Scan(&item.ID, &item.Name, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.loadMenuItemIngredients(ctx, r.db, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *PostgresCatalogRepository) GetMenuItem(ctx context.Context, id string) (*MenuItem, error) {
	var item MenuItem
	err := r.db.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at
		FROM menu_items WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, menuItemNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get menu item: %w", err)
	}

	items := []MenuItem{item}
	if err := r.loadMenuItemIngredients(ctx, r.db, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// lockMenuItem lê o item e sua receita dentro da transação, com o lock de linha pedido
func (r *PostgresCatalogRepository) lockMenuItem(ctx context.Context, tx Tx, id, lockClause string) (*MenuItem, error) {
	pgxTx, err := pgTx(tx)
	if err != nil {
		return nil, err
	}

	var item MenuItem
	err = pgxTx.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at
		FROM menu_items WHERE id = $1
		`+lockClause, id).Scan(&item.ID, &item.Name, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, menuItemNotFound(id)
	}
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("failed to lock menu item: %w", err))
	}

	items := []MenuItem{item}
	if err := r.loadMenuItemIngredients(ctx, pgxTx, items); err != nil {
		return nil, classifyPgError(err)
	}
	return &items[0], nil
}

// GetMenuItemForShare impede que o item seja alterado ou removido durante uma venda
func (r *PostgresCatalogRepository) GetMenuItemForShare(ctx context.Context, tx Tx, id string) (*MenuItem, error) {
	return r.lockMenuItem(ctx, tx, id, "FOR SHARE")
}

func (r *PostgresCatalogRepository) GetMenuItemForUpdate(ctx context.Context, tx Tx, id string) (*MenuItem, error) {
	return r.lockMenuItem(ctx, tx, id, "FOR UPDATE")
}

func (r *PostgresCatalogRepository) insertMenuItemIngredients(ctx context.Context, tx pgx.Tx, item *MenuItem) error {
	for position, entry := range item.Ingredients {
		_, err := tx.Exec(ctx, `
			INSERT INTO menu_item_ingredients (menu_item_id, position, ingredient_id, quantity)
			VALUES ($1, $2, $3, $4::numeric)
		`, item.ID, position, entry.IngredientID, entry.Quantity.String())
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == sqlStateForeignKeyViolation {
				return unknownIngredient(entry.IngredientID)
			}
			return classifyPgError(fmt.Errorf("failed to insert menu item ingredient: %w", err))
		}
	}
	return nil
}

func (r *PostgresCatalogRepository) CreateMenuItem(ctx context.Context, tx Tx, item *MenuItem) error {
	pgxTx, err := pgTx(tx)
	if err != nil {
		return err
	}
	_, err = pgxTx.Exec(ctx, `
		INSERT INTO menu_items (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Name, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to create menu item: %w", err))
	}
	return r.insertMenuItemIngredients(ctx, pgxTx, item)
}

func (r *PostgresCatalogRepository) UpdateMenuItem(ctx context.Context, tx Tx, item *MenuItem) error {
	pgxTx, err := pgTx(tx)
	if err != nil {
		return err
	}
	tag, err := pgxTx.Exec(ctx, `
		UPDATE menu_items
		SET name = $2, updated_at = $3
		WHERE id = $1
	`, item.ID, item.Name, item.UpdatedAt)
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to update menu item: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return menuItemNotFound(item.ID)
	}

	if _, err := pgxTx.Exec(ctx, `DELETE FROM menu_item_ingredients WHERE menu_item_id = $1`, item.ID); err != nil {
		return classifyPgError(fmt.Errorf("failed to replace menu item ingredients: %w", err))
	}
	return r.insertMenuItemIngredients(ctx, pgxTx, item)
}

func (r *PostgresCatalogRepository) DeleteMenuItem(ctx context.Context, tx Tx, id string) error {
	pgxTx, err := pgTx(tx)
	if err != nil {
		return err
	}
	tag, err := pgxTx.Exec(ctx, `DELETE FROM menu_items WHERE id = $1`, id)
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to delete menu item: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return menuItemNotFound(id)
	}
	return nil
}

func (r *PostgresCatalogRepository) ListActivities(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, action, item, quantity::text, created_at
		FROM activities
		ORDER BY created_at DESC, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	out := []Activity{}
	for rows.Next() {
		var (
			a        Activity
			quantity string
		)
		if err := rows.Scan(&a.ID, &a.Action, &a.Item, &quantity, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("invalid quantity for activity %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
