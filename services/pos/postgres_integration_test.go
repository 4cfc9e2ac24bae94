package main

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/dtm-labs/client/dtmcli/dtmimp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// pgEnv é um PostgreSQL descartável com o schema aplicado e os casos de uso sobre ele
type pgEnv struct {
	pool    *pgxpool.Pool
	sqlDB   *sql.DB
	repo    *PostgresCatalogRepository
	catalog *CatalogUseCase
	sales   *SaleUseCase
	saga    *SagaSaleUseCase
}

func startPostgres(t *testing.T) *pgEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration tests need docker")
	}
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("pos_db"),
		postgres.WithUsername("root"),
		postgres.WithPassword("pass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, applyMigrations(ctx, pool))

	sqlDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	dtmimp.SetCurrentDBType(dtmimp.DBTypePostgres)

	repo := NewPostgresCatalogRepository(pool, time.Second)
	sales, err := NewSaleUseCase(repo, testTracer, 3)
	require.NoError(t, err)

	return &pgEnv{
		pool:    pool,
		sqlDB:   sqlDB,
		repo:    repo,
		catalog: NewCatalogUseCase(repo, testTracer, 3),
		sales:   sales,
		saga:    NewSagaSaleUseCase(sqlDB, time.Second),
	}
}

func (e *pgEnv) reset(t *testing.T) {
	t.Helper()
	_, err := e.pool.Exec(context.Background(),
		`TRUNCATE activities, menu_item_ingredients, menu_items, ingredients, dtm_barrier.barrier`)
	require.NoError(t, err)
}

func (e *pgEnv) ingredient(t *testing.T, name, quantity string, unit Unit) *Ingredient {
	t.Helper()
	ing, err := e.catalog.CreateIngredient(context.Background(), IngredientInput{
		Name:     name,
		Quantity: dec(quantity),
		Unit:     unit,
	})
	require.NoError(t, err)
	return ing
}

func (e *pgEnv) menuItem(t *testing.T, name string, entries ...MenuItemIngredient) *MenuItem {
	t.Helper()
	item, err := e.catalog.CreateMenuItem(context.Background(), MenuItemInput{Name: name, Ingredients: entries})
	require.NoError(t, err)
	return item
}

func (e *pgEnv) stock(t *testing.T, id string) string {
	t.Helper()
	ing, err := e.repo.GetIngredient(context.Background(), id)
	require.NoError(t, err)
	return ing.Quantity.String()
}

func sagaBarrier(t *testing.T, gid, op string) *dtmcli.BranchBarrier {
	t.Helper()
	barrier, err := dtmcli.BarrierFrom("saga", gid, "01", op)
	require.NoError(t, err)
	return barrier
}

func TestPostgresStore(t *testing.T) {
	env := startPostgres(t)
	ctx := context.Background()

	t.Run("flour and pizza", func(t *testing.T) {
		env.reset(t)
		flour := env.ingredient(t, "Flour", "5", UnitKilogram)
		pizza := env.menuItem(t, "Pizza", uses(flour, "0.5"))

		conf, err := env.sales.Sell(ctx, pizza.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, "Sold 3 Pizza", conf.Message)
		assert.Equal(t, "3.5", env.stock(t, flour.ID))

		_, err = env.sales.Sell(ctx, pizza.ID, 20)
		assert.ErrorIs(t, err, ErrInsufficientStock)
		assert.EqualError(t, err, "Not enough Flour in stock. Required: 10 kg, Available: 3.5 kg")
		assert.Equal(t, "3.5", env.stock(t, flour.ID))
	})

	t.Run("shortfall changes nothing", func(t *testing.T) {
		env.reset(t)
		flour := env.ingredient(t, "Flour", "5", UnitKilogram)
		basil := env.ingredient(t, "Basil", "0.01", UnitKilogram)
		pizza := env.menuItem(t, "Pizza", uses(flour, "0.5"), uses(basil, "0.05"))

		_, err := env.sales.Sell(ctx, pizza.ID, 1)

		assert.ErrorIs(t, err, ErrInsufficientStock)
		assert.Equal(t, "5", env.stock(t, flour.ID))
		assert.Equal(t, "0.01", env.stock(t, basil.ID))
	})

	t.Run("concurrent jointly unsatisfiable sales", func(t *testing.T) {
		env.reset(t)
		flour := env.ingredient(t, "Flour", "1", UnitKilogram)
		pizza := env.menuItem(t, "Pizza", uses(flour, "0.6"))

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = env.sales.Sell(ctx, pizza.ID, 1)
			}(i)
		}
		wg.Wait()

		successes, shortfalls := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientStock):
				shortfalls++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, shortfalls)
		assert.Equal(t, "0.4", env.stock(t, flour.ID))
	})

	t.Run("exact decrement", func(t *testing.T) {
		env.reset(t)
		salt := env.ingredient(t, "Salt", "1.5", UnitKilogram)
		pinch := env.menuItem(t, "Pinch", uses(salt, "0.001"))

		for i := 0; i < 100; i++ {
			_, err := env.sales.Sell(ctx, pinch.ID, 1)
			require.NoError(t, err)
		}

		assert.Equal(t, "1.4", env.stock(t, salt.ID))
	})

	t.Run("lock wait timeout is a conflict", func(t *testing.T) {
		env.reset(t)
		flour := env.ingredient(t, "Flour", "5", UnitKilogram)
		pizza := env.menuItem(t, "Pizza", uses(flour, "0.5"))

		holder, err := env.repo.BeginTx(ctx)
		require.NoError(t, err)
		defer holder.Rollback()
		_, err = env.repo.GetIngredientsForUpdate(ctx, holder, []string{flour.ID})
		require.NoError(t, err)

		impatient := NewPostgresCatalogRepository(env.pool, 100*time.Millisecond)
		sales, err := NewSaleUseCase(impatient, testTracer, 2)
		require.NoError(t, err)

		_, err = sales.Sell(ctx, pizza.ID, 1)

		assert.ErrorIs(t, err, ErrConflict)
		require.NoError(t, holder.Rollback())
		assert.Equal(t, "5", env.stock(t, flour.ID))
	})

	t.Run("referenced ingredient cannot be deleted", func(t *testing.T) {
		env.reset(t)
		flour := env.ingredient(t, "Flour", "5", UnitKilogram)
		env.menuItem(t, "Pizza", uses(flour, "0.5"))

		err := env.catalog.DeleteIngredient(ctx, flour.ID)
		assert.ErrorIs(t, err, ErrIngredientInUse)

		// sem a checagem do caso de uso, a FK ainda bloqueia
		tx, err := env.repo.BeginTx(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		err = env.repo.DeleteIngredient(ctx, tx, flour.ID)
		assert.ErrorIs(t, err, ErrIngredientInUse)
	})

	t.Run("unknown ingredient persists nothing", func(t *testing.T) {
		env.reset(t)
		flour := env.ingredient(t, "Flour", "5", UnitKilogram)

		_, err := env.catalog.CreateMenuItem(ctx, MenuItemInput{
			Name:        "Ghost",
			Ingredients: []MenuItemIngredient{uses(flour, "0.5"), {IngredientID: "does-not-exist", Quantity: dec("1")}},
		})

		assert.ErrorIs(t, err, ErrUnknownIngredient)
		items, err := env.catalog.ListMenuItems(ctx)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("recipe update waits for a running sale", func(t *testing.T) {
		env.reset(t)
		flour := env.ingredient(t, "Flour", "5", UnitKilogram)
		pizza := env.menuItem(t, "Pizza", uses(flour, "0.5"))

		sale, err := env.repo.BeginTx(ctx)
		require.NoError(t, err)
		defer sale.Rollback()
		_, err = env.repo.GetMenuItemForShare(ctx, sale, pizza.ID)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := env.catalog.UpdateMenuItem(ctx, pizza.ID, MenuItemInput{
				Name:        "Pizza",
				Ingredients: []MenuItemIngredient{uses(flour, "0.8")},
			})
			done <- err
		}()

		select {
		case err := <-done:
			t.Fatalf("update finished while a sale held the recipe: %v", err)
		case <-time.After(100 * time.Millisecond):
		}
		require.NoError(t, sale.Rollback())
		require.NoError(t, <-done)

		item, err := env.catalog.GetMenuItem(ctx, pizza.ID)
		require.NoError(t, err)
		assert.Equal(t, "0.8", item.Ingredients[0].Quantity.String())
	})

	t.Run("numeric overflow is an invalid quantity", func(t *testing.T) {
		env.reset(t)
		flour := env.ingredient(t, "Flour", "5", UnitKilogram)

		tx, err := env.repo.BeginTx(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		err = env.repo.IncreaseStock(ctx, tx, flour.ID, maxQuantity)

		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("saga branch is idempotent and compensable", func(t *testing.T) {
		env.reset(t)
		flour := env.ingredient(t, "Flour", "5", UnitKilogram)
		pizza := env.menuItem(t, "Pizza", uses(flour, "0.5"))
		req := SagaSellRequest{OrderID: "order-1", MenuItemID: pizza.ID, Quantity: 2}

		require.NoError(t, env.saga.SellBranch(ctx, sagaBarrier(t, "gid-1", dtmimp.OpAction), req))
		assert.Equal(t, "4", env.stock(t, flour.ID))

		// entrega repetida do DTM não baixa de novo
		require.NoError(t, env.saga.SellBranch(ctx, sagaBarrier(t, "gid-1", dtmimp.OpAction), req))
		assert.Equal(t, "4", env.stock(t, flour.ID))

		require.NoError(t, env.saga.CompensateSellBranch(ctx, sagaBarrier(t, "gid-1", dtmimp.OpCompensate), req))
		require.NoError(t, env.saga.CompensateSellBranch(ctx, sagaBarrier(t, "gid-1", dtmimp.OpCompensate), req))
		assert.Equal(t, "5", env.stock(t, flour.ID))
	})

	t.Run("saga business failure is not compensated", func(t *testing.T) {
		env.reset(t)
		flour := env.ingredient(t, "Flour", "5", UnitKilogram)
		pizza := env.menuItem(t, "Pizza", uses(flour, "0.5"))
		req := SagaSellRequest{OrderID: "order-2", MenuItemID: pizza.ID, Quantity: 100}

		err := env.saga.SellBranch(ctx, sagaBarrier(t, "gid-2", dtmimp.OpAction), req)
		assert.ErrorIs(t, err, dtmcli.ErrFailure)

		// a ação foi desfeita junto com o barrier: a compensação é nula
		require.NoError(t, env.saga.CompensateSellBranch(ctx, sagaBarrier(t, "gid-2", dtmimp.OpCompensate), req))
		assert.Equal(t, "5", env.stock(t, flour.ID))

		err = env.saga.SellBranch(ctx, sagaBarrier(t, "gid-3", dtmimp.OpAction), SagaSellRequest{OrderID: "order-3", MenuItemID: "missing", Quantity: 1})
		assert.ErrorIs(t, err, dtmcli.ErrFailure)
	})
}
