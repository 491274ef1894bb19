package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avelhart/tradehall/internal/cache/memory"
	"github.com/avelhart/tradehall/internal/domain"
)

// fakeListingStore is an in-memory ListingStore with real conditional-update
// semantics: TransitionStatus takes a lock, compares, and swaps, so concurrent
// purchase tests exercise the same winner-takes-all behavior the SQL store
// provides.
type fakeListingStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.Listing
}

func newFakeListingStore() *fakeListingStore {
	return &fakeListingStore{nextID: 1, rows: make(map[int64]domain.Listing)}
}

func (f *fakeListingStore) Insert(_ context.Context, l domain.Listing) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.ID = f.nextID
	f.nextID++
	f.rows[l.ID] = l
	return l.ID, nil
}

func (f *fakeListingStore) GetByID(_ context.Context, id int64) (domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.rows[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (f *fakeListingStore) ListByStatus(_ context.Context, status domain.ListingStatus, _ domain.ListOpts) ([]domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Listing
	for _, l := range f.rows {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeListingStore) ListByCategory(_ context.Context, status domain.ListingStatus, category string, _ domain.ListOpts) ([]domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Listing
	for _, l := range f.rows {
		if l.Status == status && l.Category == category {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeListingStore) ListBySeller(_ context.Context, sellerID string) ([]domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Listing
	for _, l := range f.rows {
		if l.SellerID == sellerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeListingStore) ListByBuyer(_ context.Context, buyerID string) ([]domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Listing
	for _, l := range f.rows {
		if l.BuyerID != nil && *l.BuyerID == buyerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeListingStore) CountActiveBySeller(_ context.Context, sellerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.rows {
		if l.SellerID == sellerID && l.Status == domain.ListingStatusActive {
			n++
		}
	}
	return n, nil
}

func (f *fakeListingStore) TransitionStatus(_ context.Context, id int64, expected, next domain.ListingStatus, buyerID *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.rows[id]
	if !ok || l.Status != expected {
		return false, nil
	}
	l.Status = next
	if buyerID != nil {
		b := *buyerID
		l.BuyerID = &b
	}
	f.rows[id] = l
	return true, nil
}

func (f *fakeListingStore) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, l := range f.rows {
		if l.Status == domain.ListingStatusActive && !l.EndsAt.After(now) {
			l.Status = domain.ListingStatusExpired
			f.rows[id] = l
			n++
		}
	}
	return n, nil
}

func (f *fakeListingStore) ListResolvedBefore(_ context.Context, cutoff time.Time) ([]domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Listing
	for _, l := range f.rows {
		if l.Status.Resolved() && l.EndsAt.Before(cutoff) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeListingStore) PurgeResolvedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, l := range f.rows {
		if l.Status.Resolved() && l.EndsAt.Before(cutoff) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

// fakeLedger tracks balances in memory with the same debit-or-fail contract as
// the SQL ledger.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	failNext bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]decimal.Decimal)}
}

func (f *fakeLedger) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[account], nil
}

func (f *fakeLedger) Credit(_ context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[account] = f.balances[account].Add(amount)
	return f.balances[account], nil
}

func (f *fakeLedger) Debit(_ context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return decimal.Zero, errors.New("ledger unavailable")
	}
	if f.balances[account].LessThan(amount) {
		return decimal.Zero, domain.ErrInsufficientFunds
	}
	f.balances[account] = f.balances[account].Sub(amount)
	return f.balances[account], nil
}

func (f *fakeLedger) Has(_ context.Context, account string, amount decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[account].GreaterThanOrEqual(amount), nil
}

// fakeCustody holds assets per account with a fixed capacity.
type fakeCustody struct {
	mu       sync.Mutex
	held     map[string]map[uuid.UUID]domain.Asset
	capacity int
}

func newFakeCustody() *fakeCustody {
	return &fakeCustody{held: make(map[string]map[uuid.UUID]domain.Asset), capacity: 16}
}

func (f *fakeCustody) seed(account string, asset domain.Asset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[account] == nil {
		f.held[account] = make(map[uuid.UUID]domain.Asset)
	}
	f.held[account][asset.ID] = asset
}

func (f *fakeCustody) holds(account string, assetID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.held[account][assetID]
	return ok
}

func (f *fakeCustody) Take(_ context.Context, account string, assetID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[account][assetID]; !ok {
		return domain.ErrNotFound
	}
	delete(f.held[account], assetID)
	return nil
}

func (f *fakeCustody) Give(_ context.Context, account string, asset domain.Asset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[account] == nil {
		f.held[account] = make(map[uuid.UUID]domain.Asset)
	}
	f.held[account][asset.ID] = asset
	return nil
}

func (f *fakeCustody) HasCapacity(_ context.Context, account string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held[account]) < f.capacity, nil
}

type harness struct {
	store   *fakeListingStore
	ledger  *fakeLedger
	custody *fakeCustody
	svc     *MarketService
}

func newHarness() *harness {
	store := newFakeListingStore()
	ledger := newFakeLedger()
	custody := newFakeCustody()
	categories := domain.NewCategoryRegistry(map[string]string{
		"weapons": "sword",
		"armor":   "shield",
	})
	limits := Limits{
		MinPrice:           decimal.NewFromInt(1),
		MaxPrice:           decimal.NewFromInt(1000000),
		MinDuration:        time.Hour,
		MaxDuration:        168 * time.Hour,
		MaxActivePerSeller: 3,
		FeePercent:         decimal.NewFromInt(5),
		MinFee:             decimal.NewFromInt(10),
		MaxFee:             decimal.NewFromInt(1000),
	}
	svc := NewMarketService(store, memory.NewListingCache(), ledger, custody, categories, limits,
		slog.New(slog.DiscardHandler))
	return &harness{store: store, ledger: ledger, custody: custody, svc: svc}
}

func testAsset() domain.Asset {
	return domain.Asset{
		ID:       uuid.New(),
		Kind:     "weapon",
		Name:     "iron sword",
		Quantity: 1,
	}
}

func (h *harness) mustCreate(t *testing.T, seller string, price int64) domain.Listing {
	t.Helper()
	asset := testAsset()
	h.custody.seed(seller, asset)
	_, _ = h.ledger.Credit(context.Background(), seller, decimal.NewFromInt(1000))
	l, err := h.svc.Create(context.Background(), seller, asset, decimal.NewFromInt(price), 24*time.Hour, "weapons")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return l
}

func TestListingFee(t *testing.T) {
	percent := decimal.NewFromInt(5)
	min := decimal.NewFromInt(10)
	max := decimal.NewFromInt(1000)

	cases := []struct {
		price string
		want  string
	}{
		{"100", "10"},    // 5 -> clamped up to min
		{"200", "10"},    // exactly min
		{"1000", "50"},   // plain percentage
		{"50000", "1000"}, // 2500 -> clamped down to max
		{"1000000", "1000"},
	}
	for _, tc := range cases {
		price := decimal.RequireFromString(tc.price)
		got := ListingFee(price, percent, min, max)
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("ListingFee(%s) = %s, want %s", tc.price, got, tc.want)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	asset := testAsset()
	h.custody.seed("seller", asset)

	cases := []struct {
		name     string
		asset    domain.Asset
		price    decimal.Decimal
		duration time.Duration
		category string
	}{
		{"empty asset", domain.Asset{}, decimal.NewFromInt(100), 24 * time.Hour, ""},
		{"price below min", asset, decimal.Zero, 24 * time.Hour, ""},
		{"price above max", asset, decimal.NewFromInt(2000000), 24 * time.Hour, ""},
		{"duration too short", asset, decimal.NewFromInt(100), time.Minute, ""},
		{"duration too long", asset, decimal.NewFromInt(100), 400 * time.Hour, ""},
		{"unknown category", asset, decimal.NewFromInt(100), 24 * time.Hour, "potions"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Create(ctx, "seller", tc.asset, tc.price, tc.duration, tc.category)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	// Nothing was persisted or moved by any rejected attempt.
	if n, _ := h.store.CountActiveBySeller(ctx, "seller"); n != 0 {
		t.Errorf("rejected creates left %d active listings", n)
	}
	if !h.custody.holds("seller", asset.ID) {
		t.Error("rejected create removed the asset from custody")
	}
}

func TestCreateChargesFee(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	l := h.mustCreate(t, "seller", 100)

	if l.Status != domain.ListingStatusActive {
		t.Errorf("status = %s, want active", l.Status)
	}
	// 5% of 100 is 5, clamped up to the minimum fee of 10.
	bal, _ := h.ledger.Balance(ctx, "seller")
	if !bal.Equal(decimal.NewFromInt(990)) {
		t.Errorf("seller balance = %s, want 990", bal)
	}
}

func TestCreateSellerCap(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.mustCreate(t, "seller", 100)
	}

	asset := testAsset()
	h.custody.seed("seller", asset)
	_, err := h.svc.Create(ctx, "seller", asset, decimal.NewFromInt(100), 24*time.Hour, "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error at cap, got %v", err)
	}
}

func TestCreateUnheldAssetCancelsListing(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	// Asset was never seeded into the seller's custody.
	_, err := h.svc.Create(ctx, "seller", testAsset(), decimal.NewFromInt(100), 24*time.Hour, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n, _ := h.store.CountActiveBySeller(ctx, "seller"); n != 0 {
		t.Errorf("listing left active after custody failure, %d active", n)
	}
}

func TestCreateFeeFailureKeepsListing(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	asset := testAsset()
	h.custody.seed("seller", asset)
	h.ledger.failNext = true

	l, err := h.svc.Create(ctx, "seller", asset, decimal.NewFromInt(100), 24*time.Hour, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := h.store.GetByID(ctx, l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ListingStatusActive {
		t.Errorf("status = %s, want active despite fee failure", got.Status)
	}
}

func TestPurchaseSettles(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	l := h.mustCreate(t, "seller", 100)
	_, _ = h.ledger.Credit(ctx, "buyer", decimal.NewFromInt(150))
	sellerBefore, _ := h.ledger.Balance(ctx, "seller")

	sold, err := h.svc.Purchase(ctx, l.ID, "buyer")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if sold.Status != domain.ListingStatusSold {
		t.Errorf("status = %s, want sold", sold.Status)
	}
	if sold.BuyerID == nil || *sold.BuyerID != "buyer" {
		t.Errorf("buyer = %v, want buyer", sold.BuyerID)
	}

	buyerBal, _ := h.ledger.Balance(ctx, "buyer")
	if !buyerBal.Equal(decimal.NewFromInt(50)) {
		t.Errorf("buyer balance = %s, want 50", buyerBal)
	}
	sellerBal, _ := h.ledger.Balance(ctx, "seller")
	if !sellerBal.Equal(sellerBefore.Add(decimal.NewFromInt(100))) {
		t.Errorf("seller balance = %s, want %s", sellerBal, sellerBefore.Add(decimal.NewFromInt(100)))
	}

	// Asset landed in the buyer's custody.
	if _, err := h.svc.Purchase(ctx, l.ID, "buyer2"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second purchase: expected ErrConflict, got %v", err)
	}
}

func TestPurchaseRejectsSelf(t *testing.T) {
	h := newHarness()
	l := h.mustCreate(t, "seller", 100)

	_, err := h.svc.Purchase(context.Background(), l.ID, "seller")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("self purchase: expected validation error, got %v", err)
	}
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	l := h.mustCreate(t, "seller", 100)
	_, _ = h.ledger.Credit(ctx, "buyer", decimal.NewFromInt(99))

	_, err := h.svc.Purchase(ctx, l.ID, "buyer")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	got, _ := h.store.GetByID(ctx, l.ID)
	if got.Status != domain.ListingStatusActive {
		t.Errorf("status = %s, want active after rejected purchase", got.Status)
	}
}

func TestConcurrentPurchaseSingleWinner(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	l := h.mustCreate(t, "seller", 100)

	const buyers = 8
	for i := 0; i < buyers; i++ {
		_, _ = h.ledger.Credit(ctx, fmt.Sprintf("buyer-%d", i), decimal.NewFromInt(100))
	}
	sellerBefore, _ := h.ledger.Balance(ctx, "seller")

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Purchase(ctx, l.ID, fmt.Sprintf("buyer-%d", i))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrConflict):
		default:
			t.Errorf("buyer-%d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	// Money moved exactly once.
	sellerBal, _ := h.ledger.Balance(ctx, "seller")
	if !sellerBal.Equal(sellerBefore.Add(decimal.NewFromInt(100))) {
		t.Errorf("seller balance = %s, want %s", sellerBal, sellerBefore.Add(decimal.NewFromInt(100)))
	}
	for i := 0; i < buyers; i++ {
		bal, _ := h.ledger.Balance(ctx, fmt.Sprintf("buyer-%d", i))
		if bal.Equal(decimal.Zero) {
			continue
		}
		if !bal.Equal(decimal.NewFromInt(100)) {
			t.Errorf("buyer-%d balance = %s, want 0 or 100", i, bal)
		}
	}
}

func TestCancelRequiresSeller(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	l := h.mustCreate(t, "seller", 100)

	if err := h.svc.Cancel(ctx, l.ID, "stranger"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	got, _ := h.store.GetByID(ctx, l.ID)
	if got.Status != domain.ListingStatusActive {
		t.Errorf("status = %s, want active after unauthorized cancel", got.Status)
	}
}

func TestCancelReturnsAsset(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	asset := testAsset()
	h.custody.seed("seller", asset)
	_, _ = h.ledger.Credit(ctx, "seller", decimal.NewFromInt(1000))
	l, err := h.svc.Create(ctx, "seller", asset, decimal.NewFromInt(100), 24*time.Hour, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if h.custody.holds("seller", asset.ID) {
		t.Fatal("asset still in custody after listing")
	}

	if err := h.svc.Cancel(ctx, l.ID, "seller"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !h.custody.holds("seller", asset.ID) {
		t.Error("asset not returned after cancel")
	}
	got, _ := h.store.GetByID(ctx, l.ID)
	if got.Status != domain.ListingStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestClaimExpiredListing(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	asset := testAsset()
	h.custody.seed("seller", asset)
	_, _ = h.ledger.Credit(ctx, "seller", decimal.NewFromInt(1000))
	l, err := h.svc.Create(ctx, "seller", asset, decimal.NewFromInt(100), time.Hour, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Claim before expiry is a conflict.
	if err := h.svc.Claim(ctx, l.ID, "seller"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("claim of active listing: expected ErrConflict, got %v", err)
	}

	if _, err := h.store.ExpireDue(ctx, l.EndsAt.Add(time.Second)); err != nil {
		t.Fatalf("expire: %v", err)
	}
	// The cache still holds the active copy; force a fresh read.
	_ = h.svc.cache.InvalidateAll(ctx)

	if err := h.svc.Claim(ctx, l.ID, "seller"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !h.custody.holds("seller", asset.ID) {
		t.Error("asset not returned after claim")
	}

	// Second claim finds the listing already cancelled.
	if err := h.svc.Claim(ctx, l.ID, "seller"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second claim: expected ErrConflict, got %v", err)
	}
}

func TestBrowseCategoryUnknown(t *testing.T) {
	h := newHarness()
	if _, err := h.svc.BrowseCategory(context.Background(), "potions", domain.ListOpts{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
