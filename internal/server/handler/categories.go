package handler

import (
	"net/http"

	"github.com/avelhart/tradehall/internal/domain"
)

// CategorySource lists the configured categories.
type CategorySource interface {
	Categories() []domain.Category
}

// CategoryHandler serves the category listing endpoint.
type CategoryHandler struct {
	source CategorySource
}

// NewCategoryHandler creates a CategoryHandler.
func NewCategoryHandler(source CategorySource) *CategoryHandler {
	return &CategoryHandler{source: source}
}

// ListCategories returns every category with its display icon.
// GET /api/categories
func (h *CategoryHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]domain.Category{
		"categories": h.source.Categories(),
	})
}
