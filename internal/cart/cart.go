package cart

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrCartExists   = errors.New("user already has a cart")
	ErrItemNotFound = errors.New("cart item not found")
)

type Item struct {
	ProductID string
	VariantID string
	Quantity  int
}

// Cart is the shopper's list of wanted variants. Membership does not hold stock.
type Cart struct {
	ID        string
	UserID    string
	Items     []Item
	UpdatedAt time.Time
}

// Add merges quantity into the line for variantID, appending a new line when
// the variant is not in the cart yet.
func (c *Cart) Add(productID, variantID string, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}
	for i := range c.Items {
		if c.Items[i].VariantID == variantID {
			c.Items[i].Quantity += quantity
			return nil
		}
	}
	c.Items = append(c.Items, Item{ProductID: productID, VariantID: variantID, Quantity: quantity})
	return nil
}

func (c *Cart) SetQuantity(variantID string, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}
	for i := range c.Items {
		if c.Items[i].VariantID == variantID {
			c.Items[i].Quantity = quantity
			return nil
		}
	}
	return ErrItemNotFound
}

func (c *Cart) Remove(variantID string) error {
	for i := range c.Items {
		if c.Items[i].VariantID == variantID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

// Line is a cart item joined with its catalog rows. Variant or Product is nil
// when the join found nothing.
type Line struct {
	Item
	Variant *inventory.Variant
	Product *inventory.Product
}

// Detailed is a cart loaded together with every line's variant and product
// in one read.
type Detailed struct {
	Cart
	Lines []Line
}

type Repository interface {
	GetByUserID(ctx context.Context, userID string) (*Cart, error)
	GetByUserIDWithDetails(ctx context.Context, userID string) (*Detailed, error)
	// GetByUserIDForUpdate locks the cart row for the rest of the ambient
	// transaction and returns its current lines.
	GetByUserIDForUpdate(ctx context.Context, userID string) (*Cart, error)
	// Create fails with ErrCartExists when the user already has a cart.
	Create(ctx context.Context, c *Cart) error
	Save(ctx context.Context, c *Cart) error
	Clear(ctx context.Context, cartID string) error
}
