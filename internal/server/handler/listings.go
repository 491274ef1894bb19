package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avelhart/tradehall/internal/codec"
	"github.com/avelhart/tradehall/internal/domain"
)

// ListingService defines what the listing handlers need from the settlement
// engine.
type ListingService interface {
	Create(ctx context.Context, sellerID string, asset domain.Asset, price decimal.Decimal, duration time.Duration, category string) (domain.Listing, error)
	Purchase(ctx context.Context, listingID int64, buyerID string) (domain.Listing, error)
	Cancel(ctx context.Context, listingID int64, requesterID string) error
	Claim(ctx context.Context, listingID int64, requesterID string) error
	Listing(ctx context.Context, id int64) (domain.Listing, error)
	BrowseActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error)
	BrowseCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.Listing, error)
	SellerListings(ctx context.Context, sellerID string) ([]domain.Listing, error)
	BuyerPurchases(ctx context.Context, buyerID string) ([]domain.Listing, error)
}

// ListingHandler serves the listing endpoints.
type ListingHandler struct {
	market ListingService
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(market ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		market: market,
		logger: logger,
	}
}

// assetBody is the wire form of an asset in requests and responses.
type assetBody struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Name       string            `json:"name,omitempty"`
	Quantity   int               `json:"quantity"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// listingResponse is the wire form of a listing. The asset is decoded from
// the stored payload; a payload that fails to decode leaves asset null rather
// than failing the whole response.
type listingResponse struct {
	ID        int64      `json:"id"`
	SellerID  string     `json:"seller_id"`
	BuyerID   *string    `json:"buyer_id,omitempty"`
	Asset     *assetBody `json:"asset,omitempty"`
	Price     string     `json:"price"`
	CreatedAt time.Time  `json:"created_at"`
	EndsAt    time.Time  `json:"ends_at"`
	Status    string     `json:"status"`
	Category  string     `json:"category,omitempty"`
}

func toListingResponse(l domain.Listing) listingResponse {
	resp := listingResponse{
		ID:        l.ID,
		SellerID:  l.SellerID,
		BuyerID:   l.BuyerID,
		Price:     l.Price.String(),
		CreatedAt: l.CreatedAt,
		EndsAt:    l.EndsAt,
		Status:    string(l.Status),
		Category:  l.Category,
	}
	if asset, err := codec.Decode(l.Payload); err == nil {
		resp.Asset = &assetBody{
			ID:         asset.ID.String(),
			Kind:       asset.Kind,
			Name:       asset.Name,
			Quantity:   asset.Quantity,
			Attributes: asset.Attributes,
		}
	}
	return resp
}

func toListingResponses(listings []domain.Listing) []listingResponse {
	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	return out
}

// listListingsResponse wraps list endpoint output with pagination metadata.
type listListingsResponse struct {
	Listings []listingResponse `json:"listings"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// createListingRequest is the POST /api/listings body.
type createListingRequest struct {
	SellerID      string    `json:"seller_id"`
	Asset         assetBody `json:"asset"`
	Price         string    `json:"price"`
	DurationHours int       `json:"duration_hours"`
	Category      string    `json:"category,omitempty"`
}

// ListListings returns active listings, optionally filtered by category.
// GET /api/listings?category=weapons&limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	category := r.URL.Query().Get("category")

	var (
		listings []domain.Listing
		err      error
	)
	if category != "" {
		listings, err = h.market.BrowseCategory(r.Context(), category, opts)
	} else {
		listings, err = h.market.BrowseActive(r.Context(), opts)
	}
	if err != nil {
		h.logError(r, "list listings failed", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listListingsResponse{
		Listings: toListingResponses(listings),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetListing returns a single listing.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	l, err := h.market.Listing(r.Context(), id)
	if err != nil {
		h.logError(r, "get listing failed", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(l))
}

// CreateListing creates a new active listing.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SellerID == "" {
		writeError(w, http.StatusBadRequest, "seller_id is required")
		return
	}

	assetID, err := uuid.Parse(req.Asset.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}

	asset := domain.Asset{
		ID:         assetID,
		Kind:       req.Asset.Kind,
		Name:       req.Asset.Name,
		Quantity:   req.Asset.Quantity,
		Attributes: req.Asset.Attributes,
	}
	duration := time.Duration(req.DurationHours) * time.Hour

	l, err := h.market.Create(r.Context(), req.SellerID, asset, price, duration, req.Category)
	if err != nil {
		h.logError(r, "create listing failed", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingResponse(l))
}

// PurchaseListing settles a listing for the buyer.
// POST /api/listings/{id}/purchase
func (h *ListingHandler) PurchaseListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	var req struct {
		BuyerID string `json:"buyer_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.BuyerID == "" {
		writeError(w, http.StatusBadRequest, "buyer_id is required")
		return
	}

	l, err := h.market.Purchase(r.Context(), id, req.BuyerID)
	if err != nil {
		h.logError(r, "purchase failed", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(l))
}

// CancelListing withdraws an active listing.
// POST /api/listings/{id}/cancel
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	h.reclaim(w, r, h.market.Cancel)
}

// ClaimListing returns an expired listing's asset to the seller.
// POST /api/listings/{id}/claim
func (h *ListingHandler) ClaimListing(w http.ResponseWriter, r *http.Request) {
	h.reclaim(w, r, h.market.Claim)
}

func (h *ListingHandler) reclaim(w http.ResponseWriter, r *http.Request, op func(context.Context, int64, string) error) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	var req struct {
		AccountID string `json:"account_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	if err := op(r.Context(), id, req.AccountID); err != nil {
		h.logError(r, "reclaim failed", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListSellerListings returns a seller's listings across all statuses.
// GET /api/sellers/{id}/listings
func (h *ListingHandler) ListSellerListings(w http.ResponseWriter, r *http.Request) {
	sellerID := r.PathValue("id")
	if sellerID == "" {
		writeError(w, http.StatusBadRequest, "missing seller id")
		return
	}

	listings, err := h.market.SellerListings(r.Context(), sellerID)
	if err != nil {
		h.logError(r, "list seller listings failed", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]listingResponse{"listings": toListingResponses(listings)})
}

// ListBuyerPurchases returns the listings an account has bought.
// GET /api/buyers/{id}/purchases
func (h *ListingHandler) ListBuyerPurchases(w http.ResponseWriter, r *http.Request) {
	buyerID := r.PathValue("id")
	if buyerID == "" {
		writeError(w, http.StatusBadRequest, "missing buyer id")
		return
	}

	listings, err := h.market.BuyerPurchases(r.Context(), buyerID)
	if err != nil {
		h.logError(r, "list buyer purchases failed", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]listingResponse{"purchases": toListingResponses(listings)})
}

// logError records a handler failure, skipping the expected settlement
// outcomes that are not operational problems.
func (h *ListingHandler) logError(r *http.Request, msg string, err error) {
	if !isOperational(err) {
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+msg,
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}
