// Package model holds the domain values exchanged over the item routes.
package model

import "fmt"

// Item is copied across every boundary; nothing mutates an Item after it
// has been handed to the core.
type Item struct {
	ID          string  `json:"id,omitempty"` // empty until the responder persists it
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

func NewItem(name, description string, price float64) Item {
	return Item{Name: name, Description: description, Price: price}
}

// Persisted reports whether the responder has assigned an identifier.
func (i Item) Persisted() bool {
	return i.ID != ""
}

// SameContent compares everything but the identifier.
func (i Item) SameContent(o Item) bool {
	return i.Name == o.Name && i.Description == o.Description && i.Price == o.Price
}

func (i Item) String() string {
	return fmt.Sprintf("Item{id=%q name=%q description=%q price=%.2f}", i.ID, i.Name, i.Description, i.Price)
}
