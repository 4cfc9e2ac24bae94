package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 500
)

// runInTx executa fn numa transação, repetindo em caso de conflito transitório.
// Erros de negócio nunca são repetidos. onRetry pode ser nil.
func runInTx(ctx context.Context, repository CatalogRepository, maxAttempts int, onRetry func(attempt int, err error), fn func(tx Tx) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = runOnce(ctx, repository, fn)
		if err == nil || !errors.Is(err, ErrConflict) || attempt == maxAttempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*10) * time.Millisecond):
		}
	}
	return err
}

func runOnce(ctx context.Context, repository CatalogRepository, fn func(tx Tx) error) error {
	tx, err := repository.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorKind(err))
	}
	span.End()
}

// CatalogUseCase contém as operações de CRUD de ingredientes e itens do menu
type CatalogUseCase struct {
	repository  CatalogRepository
	validator   *CatalogValidator
	tracer      trace.Tracer
	maxAttempts int
}

// NewCatalogUseCase cria uma nova instância de CatalogUseCase
func NewCatalogUseCase(repository CatalogRepository, tracer trace.Tracer, maxAttempts int) *CatalogUseCase {
	return &CatalogUseCase{
		repository:  repository,
		validator:   NewCatalogValidator(repository),
		tracer:      tracer,
		maxAttempts: maxAttempts,
	}
}

// IngredientInput são os campos editáveis de um ingrediente
type IngredientInput struct {
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      Unit            `json:"unit"`
	Threshold decimal.Decimal `json:"threshold"`
}

// MenuItemInput são os campos editáveis de um item do menu
type MenuItemInput struct {
	Name        string               `json:"name"`
	Ingredients []MenuItemIngredient `json:"ingredients"`
}

func (uc *CatalogUseCase) ListIngredients(ctx context.Context) ([]Ingredient, error) {
	return uc.repository.ListIngredients(ctx)
}

func (uc *CatalogUseCase) GetIngredient(ctx context.Context, id string) (*Ingredient, error) {
	return uc.repository.GetIngredient(ctx, id)
}

// CreateIngredient valida e persiste um novo ingrediente
func (uc *CatalogUseCase) CreateIngredient(ctx context.Context, in IngredientInput) (ing *Ingredient, err error) {
	ctx, span := uc.tracer.Start(ctx, "pos.CreateIngredient")
	defer func() { finishSpan(span, err) }()

	ing = NewIngredient(in.Name, in.Quantity, in.Unit, in.Threshold)
	if err := ValidateIngredient(ing); err != nil {
		return nil, err
	}

	err = runInTx(ctx, uc.repository, uc.maxAttempts, nil, func(tx Tx) error {
		if err := uc.repository.CreateIngredient(ctx, tx, ing); err != nil {
			return err
		}
		return uc.repository.RecordActivity(ctx, tx, NewActivity(ActivityAdded, ing.Name, ing.Quantity))
	})
	if err != nil {
		log.Printf("❌ [INGREDIENT] create failed: %v", err)
		return nil, err
	}

	span.SetAttributes(attribute.String("ingredient_id", ing.ID))
	log.Printf("✅ [INGREDIENT] created %s (%s)", ing.Name, ing.ID)
	return ing, nil
}

// UpdateIngredient substitui os campos de um ingrediente existente
func (uc *CatalogUseCase) UpdateIngredient(ctx context.Context, id string, in IngredientInput) (ing *Ingredient, err error) {
	ctx, span := uc.tracer.Start(ctx, "pos.UpdateIngredient")
	span.SetAttributes(attribute.String("ingredient_id", id))
	defer func() { finishSpan(span, err) }()

	ing = &Ingredient{
		ID:        id,
		Name:      in.Name,
		Quantity:  in.Quantity,
		Unit:      in.Unit,
		Threshold: in.Threshold,
		UpdatedAt: time.Now().UTC(),
	}
	if err := ValidateIngredient(ing); err != nil {
		return nil, err
	}

	err = runInTx(ctx, uc.repository, uc.maxAttempts, nil, func(tx Tx) error {
		if err := uc.repository.UpdateIngredient(ctx, tx, ing); err != nil {
			return err
		}
		return uc.repository.RecordActivity(ctx, tx, NewActivity(ActivityUpdated, ing.Name, ing.Quantity))
	})
	if err != nil {
		return nil, err
	}

	return uc.repository.GetIngredient(ctx, id)
}

// DeleteIngredient remove um ingrediente; é bloqueado se algum item do menu ainda o usa
func (uc *CatalogUseCase) DeleteIngredient(ctx context.Context, id string) (err error) {
	ctx, span := uc.tracer.Start(ctx, "pos.DeleteIngredient")
	span.SetAttributes(attribute.String("ingredient_id", id))
	defer func() { finishSpan(span, err) }()

	err = runInTx(ctx, uc.repository, uc.maxAttempts, nil, func(tx Tx) error {
		found, err := uc.repository.GetIngredientsForUpdate(ctx, tx, []string{id})
		if err != nil {
			return err
		}
		ing, ok := found[id]
		if !ok {
			return ingredientNotFound(id)
		}

		inUse, err := uc.repository.IngredientInUse(ctx, tx, id)
		if err != nil {
			return err
		}
		if inUse {
			return ingredientInUse(id)
		}

		if err := uc.repository.DeleteIngredient(ctx, tx, id); err != nil {
			return err
		}
		return uc.repository.RecordActivity(ctx, tx, NewActivity(ActivityRemoved, ing.Name, ing.Quantity))
	})
	if err != nil {
		log.Printf("❌ [INGREDIENT] delete %s failed: %v", id, err)
		return err
	}

	log.Printf("✅ [INGREDIENT] deleted %s", id)
	return nil
}

func (uc *CatalogUseCase) ListMenuItems(ctx context.Context) ([]MenuItem, error) {
	return uc.repository.ListMenuItems(ctx)
}

func (uc *CatalogUseCase) GetMenuItem(ctx context.Context, id string) (*MenuItem, error) {
	return uc.repository.GetMenuItem(ctx, id)
}

// CreateMenuItem valida a integridade referencial e persiste o item
func (uc *CatalogUseCase) CreateMenuItem(ctx context.Context, in MenuItemInput) (item *MenuItem, err error) {
	ctx, span := uc.tracer.Start(ctx, "pos.CreateMenuItem")
	defer func() { finishSpan(span, err) }()

	item = NewMenuItem(in.Name, in.Ingredients)
	err = runInTx(ctx, uc.repository, uc.maxAttempts, nil, func(tx Tx) error {
		if err := uc.validator.ValidateMenuItem(ctx, tx, item); err != nil {
			return err
		}
		if err := uc.repository.CreateMenuItem(ctx, tx, item); err != nil {
			return err
		}
		return uc.repository.RecordActivity(ctx, tx, NewActivity(ActivityAdded, item.Name, decimal.NewFromInt(1)))
	})
	if err != nil {
		log.Printf("❌ [MENU ITEM] create failed: %v", err)
		return nil, err
	}

	span.SetAttributes(attribute.String("menu_item_id", item.ID))
	log.Printf("✅ [MENU ITEM] created %s (%s)", item.Name, item.ID)
	return item, nil
}

// UpdateMenuItem substitui nome e ingredientes de um item existente
func (uc *CatalogUseCase) UpdateMenuItem(ctx context.Context, id string, in MenuItemInput) (item *MenuItem, err error) {
	ctx, span := uc.tracer.Start(ctx, "pos.UpdateMenuItem")
	span.SetAttributes(attribute.String("menu_item_id", id))
	defer func() { finishSpan(span, err) }()

	item = &MenuItem{
		ID:          id,
		Name:        in.Name,
		Ingredients: in.Ingredients,
		UpdatedAt:   time.Now().UTC(),
	}
	err = runInTx(ctx, uc.repository, uc.maxAttempts, nil, func(tx Tx) error {
		// o item é travado antes dos ingredientes, na mesma ordem usada pela venda
		if _, err := uc.repository.GetMenuItemForUpdate(ctx, tx, id); err != nil {
			return err
		}
		if err := uc.validator.ValidateMenuItem(ctx, tx, item); err != nil {
			return err
		}
		if err := uc.repository.UpdateMenuItem(ctx, tx, item); err != nil {
			return err
		}
		return uc.repository.RecordActivity(ctx, tx, NewActivity(ActivityUpdated, item.Name, decimal.NewFromInt(1)))
	})
	if err != nil {
		log.Printf("❌ [MENU ITEM] update %s failed: %v", id, err)
		return nil, err
	}

	return uc.repository.GetMenuItem(ctx, id)
}

func (uc *CatalogUseCase) DeleteMenuItem(ctx context.Context, id string) (err error) {
	ctx, span := uc.tracer.Start(ctx, "pos.DeleteMenuItem")
	span.SetAttributes(attribute.String("menu_item_id", id))
	defer func() { finishSpan(span, err) }()

	return runInTx(ctx, uc.repository, uc.maxAttempts, nil, func(tx Tx) error {
		item, err := uc.repository.GetMenuItemForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := uc.repository.DeleteMenuItem(ctx, tx, id); err != nil {
			return err
		}
		return uc.repository.RecordActivity(ctx, tx, NewActivity(ActivityRemoved, item.Name, decimal.NewFromInt(1)))
	})
}

func (uc *CatalogUseCase) LowStock(ctx context.Context) ([]Ingredient, error) {
	return uc.repository.ListLowStockIngredients(ctx)
}

// Activities devolve o histórico recente; limit fora do intervalo é rejeitado
func (uc *CatalogUseCase) Activities(ctx context.Context, limit int) ([]Activity, error) {
	if limit == 0 {
		limit = defaultActivityLimit
	}
	if limit < 0 || limit > maxActivityLimit {
		return nil, validationError("limit must be between 1 and %d", maxActivityLimit)
	}
	return uc.repository.ListActivities(ctx, limit)
}

// Summary agrega os contadores do dashboard
func (uc *CatalogUseCase) Summary(ctx context.Context) (*Summary, error) {
	ingredients, err := uc.repository.ListIngredients(ctx)
	if err != nil {
		return nil, err
	}
	items, err := uc.repository.ListMenuItems(ctx)
	if err != nil {
		return nil, err
	}
	activities, err := uc.repository.ListActivities(ctx, 5)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Ingredients:      len(ingredients),
		MenuItems:        len(items),
		RecentActivities: activities,
	}
	for i := range ingredients {
		if ingredients[i].IsLowStock() {
			summary.LowStock++
		}
	}
	return summary, nil
}
