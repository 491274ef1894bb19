package domain

import "sort"

// Category pairs a category name with its display icon.
type Category struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// CategoryRegistry is the fixed mapping of category names to display icons.
// It is seeded once from configuration and read-only afterwards.
type CategoryRegistry struct {
	icons map[string]string
	names []string
}

// NewCategoryRegistry builds a registry from a name-to-icon mapping.
func NewCategoryRegistry(icons map[string]string) *CategoryRegistry {
	r := &CategoryRegistry{
		icons: make(map[string]string, len(icons)),
		names: make([]string, 0, len(icons)),
	}
	for name, icon := range icons {
		r.icons[name] = icon
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r
}

// Known reports whether name is a registered category.
func (r *CategoryRegistry) Known(name string) bool {
	_, ok := r.icons[name]
	return ok
}

// Icon returns the display icon for a category name.
func (r *CategoryRegistry) Icon(name string) (string, bool) {
	icon, ok := r.icons[name]
	return icon, ok
}

// All returns every category in stable name order.
func (r *CategoryRegistry) All() []Category {
	out := make([]Category, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, Category{Name: name, Icon: r.icons[name]})
	}
	return out
}
