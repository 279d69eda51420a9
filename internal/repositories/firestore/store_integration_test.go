//go:build integration

package firestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/platform/firestore/firestoretest"
	"github.com/vinuvisthara/api/internal/platform/pagination"
	"github.com/vinuvisthara/api/internal/repositories"
)

func newIntegrationStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	provider := firestoretest.StartEmulator(t)
	store, err := NewStore(provider)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	return store, ctx
}

func TestProductStockIntegration(t *testing.T) {
	store, ctx := newIntegrationStore(t)
	if err := store.products.Put(ctx, domain.Product{ID: "prod_kurta", Name: "Kurta", Price: 129900, Stock: 3, Active: true}); err != nil {
		t.Fatalf("put product: %v", err)
	}

	if err := store.Products().DecrementStock(ctx, "prod_kurta", 3, 2); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	err := store.Products().DecrementStock(ctx, "prod_kurta", 3, 1)
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
		t.Fatalf("expected stale observed stock to fail, got %v", err)
	}
	if invErr.Available != 1 {
		t.Fatalf("expected available 1, got %d", invErr.Available)
	}

	err = store.Products().DecrementStock(ctx, "prod_missing", 0, 1)
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorProductNotFound {
		t.Fatalf("expected product not found, got %v", err)
	}

	if err := store.Products().IncrementStock(ctx, "prod_kurta", 4); err != nil {
		t.Fatalf("increment: %v", err)
	}
	product, err := store.Products().Get(ctx, "prod_kurta")
	if err != nil || product.Stock != 5 {
		t.Fatalf("expected stock 5, got %d (%v)", product.Stock, err)
	}
}

func TestCouponLedgerIntegration(t *testing.T) {
	store, ctx := newIntegrationStore(t)
	coupon := domain.Coupon{
		ID:           "cpn_welcome",
		Code:         "Welcome10",
		SingleUse:    true,
		DiscountRule: domain.DiscountRule{Type: domain.DiscountTypePercentage, Value: 1000, Scope: domain.DiscountScopeAll, Active: true},
	}
	if err := store.coupons.Put(ctx, coupon); err != nil {
		t.Fatalf("put coupon: %v", err)
	}

	found, err := store.Coupons().FindByCode(ctx, " welcome10 ")
	if err != nil || found.ID != "cpn_welcome" {
		t.Fatalf("find by code: %v %#v", err, found)
	}

	usage := domain.CouponUsage{CouponID: "cpn_welcome", CustomerID: "cus_asha", OrderID: "ord_1", UsedAt: time.Now()}
	if err := store.Coupons().RecordUsage(ctx, usage); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	used, err := store.Coupons().HasUsage(ctx, "cpn_welcome", "cus_asha")
	if err != nil || !used {
		t.Fatalf("expected usage recorded, got %v %v", used, err)
	}

	err = store.Coupons().RecordUsage(ctx, usage)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on second single-use redemption, got %v", err)
	}

	found, err = store.Coupons().FindByCode(ctx, "WELCOME10")
	if err != nil || found.UsageCount != 1 {
		t.Fatalf("expected usage count 1, got %d (%v)", found.UsageCount, err)
	}
}

func TestOrderCreationRollsBackIntegration(t *testing.T) {
	store, ctx := newIntegrationStore(t)
	if err := store.products.Put(ctx, domain.Product{ID: "prod_saree", Name: "Saree", Price: 349900, Stock: 1, Active: true}); err != nil {
		t.Fatalf("put product: %v", err)
	}
	cart := domain.Cart{ID: "c_cus_asha", Owner: domain.CartOwner{CustomerID: "cus_asha"}, Currency: "INR"}
	if err := store.Carts().Save(ctx, cart); err != nil {
		t.Fatalf("save cart: %v", err)
	}

	err := store.UnitOfWork().RunInTx(ctx, func(ctx context.Context) error {
		if err := store.Orders().Insert(ctx, domain.Order{ID: "ord_rollback", CustomerID: "cus_asha", CreatedAt: time.Now()}); err != nil {
			return err
		}
		if err := store.Products().DecrementStock(ctx, "prod_saree", 1, 1); err != nil {
			return err
		}
		if err := store.Carts().Delete(ctx, cart.ID); err != nil {
			return err
		}
		return store.Products().DecrementStock(ctx, "prod_saree", 1, 1)
	})
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected inventory error from second decrement, got %v", err)
	}

	if _, err := store.Orders().FindByID(ctx, "ord_rollback"); err == nil {
		t.Fatalf("expected order to be rolled back")
	}
	if _, err := store.Carts().Get(ctx, cart.ID); err != nil {
		t.Fatalf("expected cart to survive rollback: %v", err)
	}
	product, _ := store.Products().Get(ctx, "prod_saree")
	if product.Stock != 1 {
		t.Fatalf("expected stock untouched, got %d", product.Stock)
	}
}

func TestOrderListIntegration(t *testing.T) {
	store, ctx := newIntegrationStore(t)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"ord_a", "ord_b", "ord_c"} {
		order := domain.Order{ID: id, CustomerID: "cus_asha", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := store.Orders().Insert(ctx, domain.Order{ID: "ord_other", CustomerID: "cus_ravi", CreatedAt: base}); err != nil {
		t.Fatalf("insert other: %v", err)
	}
	if err := store.Orders().Insert(ctx, domain.Order{ID: "ord_a"}); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	filter := repositories.OrderListFilter{CustomerID: "cus_asha", Pagination: domain.Pagination{PageSize: 2}}
	page, err := store.Orders().List(ctx, filter)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "ord_c" || page.Items[1].ID != "ord_b" || page.NextPageToken != pagination.EncodeOffset(2) {
		t.Fatalf("unexpected first page %#v", page)
	}
	filter.Pagination.PageToken = page.NextPageToken
	page, err = store.Orders().List(ctx, filter)
	if err != nil || len(page.Items) != 1 || page.Items[0].ID != "ord_a" || page.NextPageToken != "" {
		t.Fatalf("unexpected second page %#v (%v)", page, err)
	}
}

func TestPaymentLookupIntegration(t *testing.T) {
	store, ctx := newIntegrationStore(t)
	now := time.Now().UTC()
	for i, p := range []domain.Payment{
		{ID: "pay_2", OrderID: "ord_1", GatewayOrderID: "gw_2", Status: domain.PaymentRecordFailed, CreatedAt: now.Add(time.Minute)},
		{ID: "pay_1", OrderID: "ord_1", GatewayOrderID: "gw_1", Status: domain.PaymentRecordPending, CreatedAt: now},
	} {
		if err := store.Payments().Insert(ctx, p); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	found, err := store.Payments().FindByGatewayOrderID(ctx, "gw_1")
	if err != nil || found.ID != "pay_1" {
		t.Fatalf("find by gateway order: %v %#v", err, found)
	}
	list, err := store.Payments().ListByOrder(ctx, "ord_1")
	if err != nil || len(list) != 2 || list[0].ID != "pay_1" {
		t.Fatalf("unexpected list %#v (%v)", list, err)
	}
}

func TestCounterIntegration(t *testing.T) {
	store, ctx := newIntegrationStore(t)
	const workers = 8
	results := make(chan int64, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := store.Counters().Next(ctx, "orders-2025")
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			results <- value
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int64]bool{}
	for v := range results {
		if seen[v] {
			t.Fatalf("duplicate counter value %d", v)
		}
		seen[v] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct values, got %d", workers, len(seen))
	}

	settings, err := store.Settings().ShippingSettings(ctx)
	if err != nil || settings.Method != "" {
		t.Fatalf("expected zero settings when document missing, got %#v (%v)", settings, err)
	}
}
