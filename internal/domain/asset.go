package domain

import "github.com/google/uuid"

// Asset is the decoded form of a listing payload: an item held in an
// account's inventory. The marketplace never interprets Kind or Attributes;
// they round-trip through the codec untouched.
type Asset struct {
	ID         uuid.UUID
	Kind       string
	Name       string
	Quantity   int
	Attributes map[string]string
}

// Empty reports whether the asset carries nothing tradable.
func (a Asset) Empty() bool {
	return a.Kind == "" || a.Quantity <= 0
}
