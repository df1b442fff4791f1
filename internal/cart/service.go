package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-checkout/internal/apperr"
	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
	"github.com/ariefcatur/marketplace-checkout/internal/logger"
	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

const (
	reasonItemRemoved     = "removed from cart"
	reasonQuantityChanged = "cart quantity changed"
)

// ReservationReleaser frees the holds of a cart when it is cleared or one of
// its lines stops matching its hold.
type ReservationReleaser interface {
	ReleaseReservationsForCart(ctx context.Context, cartID, reason string) (int, error)
	ReleaseCartVariant(ctx context.Context, cartID, variantID, reason string) (bool, error)
}

type Service struct {
	Tx       store.Transactor
	Carts    Repository
	Variants inventory.VariantRepository
	Releaser ReservationReleaser
	Log      *zap.Logger
	Now      func() time.Time
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Get returns the user's cart, or an empty unsaved one.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.Carts.GetByUserID(ctx, userID)
	if errors.Is(err, ErrCartNotFound) {
		return &Cart{UserID: userID}, nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return c, nil
}

// edit applies fn to the user's cart inside a transaction that holds the cart
// row, so concurrent edits and checkouts of one cart serialize. With create
// set, a missing cart is created.
func (s *Service) edit(ctx context.Context, userID string, create bool, fn func(*Cart) error) (*Cart, error) {
	var out *Cart
	run := func() error {
		return s.Tx.RunInTx(ctx, store.ReadCommitted, func(ctx context.Context) error {
			created := false
			c, err := s.Carts.GetByUserIDForUpdate(ctx, userID)
			if errors.Is(err, ErrCartNotFound) && create {
				c, created, err = &Cart{ID: uuid.NewString(), UserID: userID}, true, nil
			}
			if err != nil {
				return err
			}
			if err := fn(c); err != nil {
				return err
			}
			c.UpdatedAt = s.now()
			if created {
				err = s.Carts.Create(ctx, c)
			} else {
				err = s.Carts.Save(ctx, c)
			}
			if err != nil {
				return err
			}
			out = c
			return nil
		})
	}
	err := run()
	if errors.Is(err, ErrCartExists) {
		// another request created the cart first; now there is a row to lock
		err = run()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func editError(err error, userID, variantID string) error {
	switch {
	case errors.Is(err, ErrCartNotFound):
		return apperr.NotFound(apperr.CodeCartNotFound, "cart for user", userID)
	case errors.Is(err, ErrItemNotFound):
		return apperr.NotFound(apperr.CodeVariantNotFound, "cart item", variantID)
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return apperr.Validation(apperr.CodeInvalidQuantity, err.Error())
	}
	return apperr.Internal(err)
}

// AddItem merges quantity of variantID into the user's cart.
func (s *Service) AddItem(ctx context.Context, userID, variantID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidQuantity, "quantity must be positive")
	}
	v, err := s.Variants.GetByID(ctx, variantID)
	if err != nil {
		if inventory.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeVariantNotFound, "variant", variantID)
		}
		return nil, apperr.Internal(err)
	}
	return s.add(ctx, userID, v, quantity)
}

// AddItemBySKU is AddItem keyed by SKU code.
func (s *Service) AddItemBySKU(ctx context.Context, userID, sku string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidQuantity, "quantity must be positive")
	}
	v, err := s.Variants.GetBySKU(ctx, sku)
	if err != nil {
		if inventory.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeVariantNotFound, "variant with sku", sku)
		}
		return nil, apperr.Internal(err)
	}
	return s.add(ctx, userID, v, quantity)
}

func (s *Service) add(ctx context.Context, userID string, v *inventory.Variant, quantity int) (*Cart, error) {
	c, err := s.edit(ctx, userID, true, func(c *Cart) error { return c.Add(v.ProductID, v.ID, quantity) })
	if err != nil {
		return nil, editError(err, userID, v.ID)
	}
	return c, nil
}

// UpdateItem sets the quantity of one line. A hold on the line no longer
// matches and is released.
func (s *Service) UpdateItem(ctx context.Context, userID, variantID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidQuantity, "quantity must be positive")
	}
	changed := false
	c, err := s.edit(ctx, userID, false, func(c *Cart) error {
		for _, it := range c.Items {
			if it.VariantID == variantID {
				changed = it.Quantity != quantity
			}
		}
		return c.SetQuantity(variantID, quantity)
	})
	if err != nil {
		return nil, editError(err, userID, variantID)
	}
	if changed {
		s.releaseLine(ctx, c.ID, variantID, reasonQuantityChanged)
	}
	return c, nil
}

// RemoveItem drops one line and releases its hold.
func (s *Service) RemoveItem(ctx context.Context, userID, variantID string) (*Cart, error) {
	c, err := s.edit(ctx, userID, false, func(c *Cart) error { return c.Remove(variantID) })
	if err != nil {
		return nil, editError(err, userID, variantID)
	}
	s.releaseLine(ctx, c.ID, variantID, reasonItemRemoved)
	return c, nil
}

// releaseLine runs after the cart edit committed. A failure leaves the hold
// for the sweeper and does not fail the edit.
func (s *Service) releaseLine(ctx context.Context, cartID, variantID, reason string) {
	if s.Releaser == nil {
		return
	}
	ok, err := s.Releaser.ReleaseCartVariant(ctx, cartID, variantID, reason)
	if err != nil {
		s.log().Warn("release reservation for cart line", logger.CartID(cartID), logger.VariantID(variantID), logger.Err(err))
		return
	}
	if ok {
		s.log().Info("released reservation for cart line", logger.CartID(cartID), logger.VariantID(variantID), zap.String("reason", reason))
	}
}

// Clear empties the user's cart and releases its holds. Release is best
// effort: a failure is logged and the cart is still cleared.
func (s *Service) Clear(ctx context.Context, userID, reason string) error {
	c, err := s.Carts.GetByUserID(ctx, userID)
	if errors.Is(err, ErrCartNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Internal(err)
	}
	if reason == "" {
		reason = "cart cleared"
	}
	if s.Releaser != nil {
		n, err := s.Releaser.ReleaseReservationsForCart(ctx, c.ID, reason)
		if err != nil {
			s.log().Warn("release reservations for cleared cart", logger.CartID(c.ID), logger.Err(err))
		} else if n > 0 {
			s.log().Info("released reservations for cleared cart", logger.CartID(c.ID), zap.Int("count", n))
		}
	}
	if err := s.Carts.Clear(ctx, c.ID); err != nil {
		return apperr.Internal(fmt.Errorf("clear cart %s: %w", c.ID, err))
	}
	return nil
}
