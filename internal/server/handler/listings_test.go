package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avelhart/tradehall/internal/codec"
	"github.com/avelhart/tradehall/internal/domain"
)

// scriptedService returns canned results so the handler's request parsing and
// error mapping can be tested in isolation.
type scriptedService struct {
	listing domain.Listing
	err     error

	gotSeller   string
	gotBuyer    string
	gotPrice    decimal.Decimal
	gotDuration time.Duration
}

func (s *scriptedService) Create(_ context.Context, sellerID string, _ domain.Asset, price decimal.Decimal, duration time.Duration, _ string) (domain.Listing, error) {
	s.gotSeller = sellerID
	s.gotPrice = price
	s.gotDuration = duration
	return s.listing, s.err
}

func (s *scriptedService) Purchase(_ context.Context, _ int64, buyerID string) (domain.Listing, error) {
	s.gotBuyer = buyerID
	return s.listing, s.err
}

func (s *scriptedService) Cancel(context.Context, int64, string) error { return s.err }
func (s *scriptedService) Claim(context.Context, int64, string) error  { return s.err }

func (s *scriptedService) Listing(context.Context, int64) (domain.Listing, error) {
	return s.listing, s.err
}

func (s *scriptedService) BrowseActive(context.Context, domain.ListOpts) ([]domain.Listing, error) {
	return []domain.Listing{s.listing}, s.err
}

func (s *scriptedService) BrowseCategory(context.Context, string, domain.ListOpts) ([]domain.Listing, error) {
	return []domain.Listing{s.listing}, s.err
}

func (s *scriptedService) SellerListings(context.Context, string) ([]domain.Listing, error) {
	return []domain.Listing{s.listing}, s.err
}

func (s *scriptedService) BuyerPurchases(context.Context, string) ([]domain.Listing, error) {
	return []domain.Listing{s.listing}, s.err
}

func testListing(t *testing.T) domain.Listing {
	t.Helper()
	payload, err := codec.Encode(domain.Asset{
		ID:       uuid.New(),
		Kind:     "weapon",
		Name:     "iron sword",
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return domain.Listing{
		ID:       42,
		SellerID: "seller-1",
		Payload:  payload,
		Price:    decimal.NewFromInt(100),
		Status:   domain.ListingStatusActive,
		Category: "weapons",
	}
}

func newTestMux(svc ListingService) *http.ServeMux {
	h := NewListingHandler(svc, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/listings/{id}", h.GetListing)
	mux.HandleFunc("POST /api/listings", h.CreateListing)
	mux.HandleFunc("POST /api/listings/{id}/purchase", h.PurchaseListing)
	mux.HandleFunc("POST /api/listings/{id}/cancel", h.CancelListing)
	return mux
}

func TestGetListing(t *testing.T) {
	svc := &scriptedService{listing: testListing(t)}
	mux := newTestMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/listings/42", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp listingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != 42 || resp.Price != "100" || resp.Asset == nil || resp.Asset.Name != "iron sword" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestGetListingBadID(t *testing.T) {
	mux := newTestMux(&scriptedService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/listings/abc", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateListing(t *testing.T) {
	svc := &scriptedService{listing: testListing(t)}
	mux := newTestMux(svc)

	body := `{"seller_id":"seller-1","asset":{"id":"` + uuid.NewString() + `","kind":"weapon","name":"iron sword","quantity":1},"price":"100","duration_hours":24,"category":"weapons"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if svc.gotSeller != "seller-1" {
		t.Errorf("seller = %q", svc.gotSeller)
	}
	if !svc.gotPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("price = %s", svc.gotPrice)
	}
	if svc.gotDuration != 24*time.Hour {
		t.Errorf("duration = %s", svc.gotDuration)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&domain.ValidationError{Field: "price", Reason: "below minimum"}, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrNoCapacity, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		svc := &scriptedService{err: tc.err}
		mux := newTestMux(svc)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/listings/42/purchase",
			strings.NewReader(`{"buyer_id":"buyer-1"}`))
		mux.ServeHTTP(rec, req)

		if rec.Code != tc.want {
			t.Errorf("error %v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestPurchaseRequiresBuyer(t *testing.T) {
	mux := newTestMux(&scriptedService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/listings/42/purchase",
		strings.NewReader(`{}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
