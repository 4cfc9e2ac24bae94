package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var errTxClosed = errors.New("transaction already closed")

// memoryRow guarda um ingrediente e o lock exclusivo da linha (canal de 1 posição)
type memoryRow struct {
	lock chan struct{}
	data Ingredient
}

// MemoryCatalogRepository implementa CatalogRepository em memória.
// Cada ingrediente e cada item do menu tem um lock próprio; mu protege apenas os
// mapas e é mantido por pouco tempo, nunca durante a espera por um lock de linha.
// Itens do menu são sempre travados antes dos ingredientes.
type MemoryCatalogRepository struct {
	mu          sync.RWMutex
	ingredients map[string]*memoryRow
	menuItems   map[string]MenuItem
	menuLocks   map[string]chan struct{}
	activities  []Activity
	lockTimeout time.Duration
}

var _ CatalogRepository = (*MemoryCatalogRepository)(nil)

// NewMemoryCatalogRepository cria um repositório vazio
func NewMemoryCatalogRepository(lockTimeout time.Duration) *MemoryCatalogRepository {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &MemoryCatalogRepository{
		ingredients: make(map[string]*memoryRow),
		menuItems:   make(map[string]MenuItem),
		menuLocks:   make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

// MemoryTx acumula as escritas e só as aplica no Commit
type MemoryTx struct {
	repo    *MemoryCatalogRepository
	held    map[string]*memoryRow
	menus   map[string]chan struct{}
	view    map[string]Ingredient
	dirty   map[string]bool
	deleted map[string]bool
	ops     []func()
	closed  bool
}

// BeginTx inicia uma nova transação
func (r *MemoryCatalogRepository) BeginTx(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &MemoryTx{
		repo:    r,
		held:    make(map[string]*memoryRow),
		menus:   make(map[string]chan struct{}),
		view:    make(map[string]Ingredient),
		dirty:   make(map[string]bool),
		deleted: make(map[string]bool),
	}, nil
}

// Commit aplica todas as escritas de uma vez e libera os locks
func (t *MemoryTx) Commit() error {
	if t.closed {
		return errTxClosed
	}
	t.closed = true

	now := time.Now().UTC()
	t.repo.mu.Lock()
	for id, row := range t.held {
		switch {
		case t.deleted[id]:
			delete(t.repo.ingredients, id)
		case t.dirty[id]:
			data := t.view[id]
			data.UpdatedAt = now
			row.data = data
		}
	}
	for _, op := range t.ops {
		op()
	}
	t.repo.mu.Unlock()

	t.release()
	return nil
}

// Rollback descarta as escritas. Chamar após Commit não tem efeito.
func (t *MemoryTx) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.release()
	return nil
}

func (t *MemoryTx) release() {
	for id, row := range t.held {
		<-row.lock
		delete(t.held, id)
	}
	for id, lock := range t.menus {
		<-lock
		delete(t.menus, id)
	}
}

func asMemoryTx(tx Tx) (*MemoryTx, error) {
	mtx, ok := tx.(*MemoryTx)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction type %T", tx)
	}
	if mtx.closed {
		return nil, errTxClosed
	}
	return mtx, nil
}

// lock adquire os locks das linhas em ordem crescente de id, com espera limitada
func (t *MemoryTx) lock(ctx context.Context, ids []string) (map[string]*memoryRow, error) {
	sorted := uniqueSorted(ids)
	result := make(map[string]*memoryRow, len(sorted))

	timer := time.NewTimer(t.repo.lockTimeout)
	defer timer.Stop()

	for _, id := range sorted {
		if t.deleted[id] {
			continue
		}
		if row, ok := t.held[id]; ok {
			result[id] = row
			continue
		}

		t.repo.mu.RLock()
		row, ok := t.repo.ingredients[id]
		t.repo.mu.RUnlock()
		if !ok {
			continue
		}

		select {
		case row.lock <- struct{}{}:
		case <-timer.C:
			return nil, conflictError(fmt.Errorf("lock wait timeout on ingredient %s", id))
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// a linha pode ter sido removida enquanto esperávamos
		t.repo.mu.RLock()
		current, ok := t.repo.ingredients[id]
		data := row.data
		t.repo.mu.RUnlock()
		if !ok || current != row {
			<-row.lock
			continue
		}

		t.held[id] = row
		t.view[id] = data
		result[id] = row
	}

	return result, nil
}

// lockMenuItem trava o item do menu até o fim da transação e devolve a versão confirmada
func (t *MemoryTx) lockMenuItem(ctx context.Context, id string) (*MenuItem, error) {
	if _, ok := t.menus[id]; !ok {
		t.repo.mu.RLock()
		lock, ok := t.repo.menuLocks[id]
		t.repo.mu.RUnlock()
		if !ok {
			return nil, menuItemNotFound(id)
		}

		timer := time.NewTimer(t.repo.lockTimeout)
		defer timer.Stop()
		select {
		case lock <- struct{}{}:
		case <-timer.C:
			return nil, conflictError(fmt.Errorf("lock wait timeout on menu item %s", id))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		t.menus[id] = lock
	}

	t.repo.mu.RLock()
	item, ok := t.repo.menuItems[id]
	t.repo.mu.RUnlock()
	if !ok {
		return nil, menuItemNotFound(id)
	}
	item = item.clone()
	return &item, nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GetIngredientsForUpdate bloqueia e devolve os ingredientes existentes
func (r *MemoryCatalogRepository) GetIngredientsForUpdate(ctx context.Context, tx Tx, ids []string) (map[string]*Ingredient, error) {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return nil, err
	}

	rows, err := mtx.lock(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*Ingredient, len(rows))
	for id := range rows {
		ing := mtx.view[id]
		out[id] = &ing
	}
	return out, nil
}

// DecreaseStock diminui o estoque apenas se houver quantidade suficiente
func (r *MemoryCatalogRepository) DecreaseStock(ctx context.Context, tx Tx, ingredientID string, amount decimal.Decimal) error {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return err
	}
	rows, err := mtx.lock(ctx, []string{ingredientID})
	if err != nil {
		return err
	}
	if _, ok := rows[ingredientID]; !ok {
		return unknownIngredient(ingredientID)
	}

	ing := mtx.view[ingredientID]
	if ing.Quantity.LessThan(amount) {
		return &InsufficientStockError{
			IngredientID: ing.ID,
			Name:         ing.Name,
			Unit:         ing.Unit,
			Required:     amount,
			Available:    ing.Quantity,
		}
	}
	ing.Quantity = ing.Quantity.Sub(amount)
	mtx.view[ingredientID] = ing
	mtx.dirty[ingredientID] = true
	return nil
}

// IncreaseStock aumenta o estoque
func (r *MemoryCatalogRepository) IncreaseStock(ctx context.Context, tx Tx, ingredientID string, amount decimal.Decimal) error {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return err
	}
	rows, err := mtx.lock(ctx, []string{ingredientID})
	if err != nil {
		return err
	}
	if _, ok := rows[ingredientID]; !ok {
		return ingredientNotFound(ingredientID)
	}

	ing := mtx.view[ingredientID]
	ing.Quantity = ing.Quantity.Add(amount)
	mtx.view[ingredientID] = ing
	mtx.dirty[ingredientID] = true
	return nil
}

// RecordActivity registra a movimentação junto com a transação
func (r *MemoryCatalogRepository) RecordActivity(ctx context.Context, tx Tx, activity *Activity) error {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return err
	}
	a := *activity
	mtx.ops = append(mtx.ops, func() {
		r.activities = append(r.activities, a)
	})
	return nil
}

func (r *MemoryCatalogRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryCatalogRepository) ListIngredients(ctx context.Context) ([]Ingredient, error) {
	r.mu.RLock()
	out := make([]Ingredient, 0, len(r.ingredients))
	for _, row := range r.ingredients {
		out = append(out, row.data)
	}
	r.mu.RUnlock()

	sortIngredients(out)
	return out, nil
}

func (r *MemoryCatalogRepository) ListLowStockIngredients(ctx context.Context) ([]Ingredient, error) {
	all, err := r.ListIngredients(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, ing := range all {
		if ing.IsLowStock() {
			out = append(out, ing)
		}
	}
	return out, nil
}

func sortIngredients(list []Ingredient) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
}

func (r *MemoryCatalogRepository) GetIngredient(ctx context.Context, id string) (*Ingredient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.ingredients[id]
	if !ok {
		return nil, ingredientNotFound(id)
	}
	ing := row.data
	return &ing, nil
}

func (r *MemoryCatalogRepository) CreateIngredient(ctx context.Context, tx Tx, ingredient *Ingredient) error {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return err
	}
	data := *ingredient
	mtx.ops = append(mtx.ops, func() {
		r.ingredients[data.ID] = &memoryRow{lock: make(chan struct{}, 1), data: data}
	})
	return nil
}

func (r *MemoryCatalogRepository) UpdateIngredient(ctx context.Context, tx Tx, ingredient *Ingredient) error {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return err
	}
	rows, err := mtx.lock(ctx, []string{ingredient.ID})
	if err != nil {
		return err
	}
	if _, ok := rows[ingredient.ID]; !ok {
		return ingredientNotFound(ingredient.ID)
	}

	current := mtx.view[ingredient.ID]
	data := *ingredient
	data.CreatedAt = current.CreatedAt
	mtx.view[ingredient.ID] = data
	mtx.dirty[ingredient.ID] = true
	return nil
}

func (r *MemoryCatalogRepository) DeleteIngredient(ctx context.Context, tx Tx, id string) error {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return err
	}
	rows, err := mtx.lock(ctx, []string{id})
	if err != nil {
		return err
	}
	if _, ok := rows[id]; !ok {
		return ingredientNotFound(id)
	}
	mtx.deleted[id] = true
	delete(mtx.view, id)
	return nil
}

// IngredientInUse informa se algum MenuItem referencia o ingrediente
func (r *MemoryCatalogRepository) IngredientInUse(ctx context.Context, tx Tx, id string) (bool, error) {
	if _, err := asMemoryTx(tx); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, item := range r.menuItems {
		for _, entry := range item.Ingredients {
			if entry.IngredientID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *MemoryCatalogRepository) ListMenuItems(ctx context.Context) ([]MenuItem, error) {
	r.mu.RLock()
	out := make([]MenuItem, 0, len(r.menuItems))
	for _, item := range r.menuItems {
		out = append(out, item.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryCatalogRepository) GetMenuItem(ctx context.Context, id string) (*MenuItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.menuItems[id]
	if !ok {
		return nil, menuItemNotFound(id)
	}
	item = item.clone()
	return &item, nil
}

// GetMenuItemForShare trava o item; em memória o lock é exclusivo
func (r *MemoryCatalogRepository) GetMenuItemForShare(ctx context.Context, tx Tx, id string) (*MenuItem, error) {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return nil, err
	}
	return mtx.lockMenuItem(ctx, id)
}

func (r *MemoryCatalogRepository) GetMenuItemForUpdate(ctx context.Context, tx Tx, id string) (*MenuItem, error) {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return nil, err
	}
	return mtx.lockMenuItem(ctx, id)
}

func (r *MemoryCatalogRepository) CreateMenuItem(ctx context.Context, tx Tx, item *MenuItem) error {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return err
	}
	data := item.clone()
	mtx.ops = append(mtx.ops, func() {
		r.menuItems[data.ID] = data
		if _, ok := r.menuLocks[data.ID]; !ok {
			r.menuLocks[data.ID] = make(chan struct{}, 1)
		}
	})
	return nil
}

func (r *MemoryCatalogRepository) UpdateMenuItem(ctx context.Context, tx Tx, item *MenuItem) error {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return err
	}

	current, err := mtx.lockMenuItem(ctx, item.ID)
	if err != nil {
		return err
	}

	data := item.clone()
	data.CreatedAt = current.CreatedAt
	mtx.ops = append(mtx.ops, func() {
		if _, ok := r.menuItems[data.ID]; ok {
			r.menuItems[data.ID] = data
		}
	})
	return nil
}

func (r *MemoryCatalogRepository) DeleteMenuItem(ctx context.Context, tx Tx, id string) error {
	mtx, err := asMemoryTx(tx)
	if err != nil {
		return err
	}

	if _, err := mtx.lockMenuItem(ctx, id); err != nil {
		return err
	}

	mtx.ops = append(mtx.ops, func() {
		delete(r.menuItems, id)
		delete(r.menuLocks, id)
	})
	return nil
}

// ListActivities devolve as movimentações mais recentes primeiro
func (r *MemoryCatalogRepository) ListActivities(ctx context.Context, limit int) ([]Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.activities)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Activity, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.activities[i])
	}
	return out, nil
}
