// Package reservation takes time-boxed stock holds and reclaims the ones a
// shopper abandoned.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-checkout/internal/apperr"
	"github.com/ariefcatur/marketplace-checkout/internal/cart"
	"github.com/ariefcatur/marketplace-checkout/internal/events"
	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
	"github.com/ariefcatur/marketplace-checkout/internal/logger"
	"github.com/ariefcatur/marketplace-checkout/internal/metrics"
	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

const (
	DefaultBatchSize = 100
	statsHorizon     = time.Hour

	ReasonReleasedByRequest = "released by request"
	ReasonCartChanged       = "cart quantity changed"
)

type Service struct {
	Tx           store.Transactor
	Variants     inventory.VariantRepository
	Reservations inventory.ReservationRepository
	Carts        cart.Repository

	Events      events.Publisher
	TTL         time.Duration
	ServiceName string
	Log         *zap.Logger
	Now         func() time.Time
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

func (s *Service) ttl(d time.Duration) time.Duration {
	switch {
	case d > 0:
		return d
	case s.TTL > 0:
		return s.TTL
	}
	return inventory.DefaultReservationTTL
}

type HoldRequest struct {
	VariantID   string
	Quantity    int
	CartID      string // empty for a hold outside any cart
	TTL         time.Duration
	Diagnostics inventory.Diagnostics
}

// Hold reserves quantity of one variant.
func (s *Service) Hold(ctx context.Context, req HoldRequest) (*inventory.Reservation, error) {
	if req.Quantity <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidQuantity, "quantity must be positive")
	}
	var cartID *string
	if req.CartID != "" {
		cartID = &req.CartID
	}

	var held *inventory.Reservation
	err := s.Tx.RunInTx(ctx, store.RepeatableRead, func(ctx context.Context) error {
		now := s.now()
		locked, err := s.Variants.GetForUpdate(ctx, []string{req.VariantID})
		if err != nil {
			return err
		}
		v, ok := locked[req.VariantID]
		if !ok {
			return apperr.NotFound(apperr.CodeVariantNotFound, "variant", req.VariantID)
		}
		if cartID != nil {
			existing, err := s.Reservations.ActiveByCartForUpdate(ctx, *cartID)
			if err != nil {
				return err
			}
			for _, r := range existing {
				if r.VariantID == v.ID {
					return apperr.Conflict(apperr.CodeDuplicateHold,
						fmt.Sprintf("Cart %s already holds variant %s", *cartID, v.ID)).
						WithDetail("reservation_id", r.ID)
				}
			}
		}
		if err := v.Reserve(req.Quantity); err != nil {
			return stockError(v, err)
		}
		r, err := inventory.NewReservation(v.ID, req.Quantity, cartID, s.ttl(req.TTL), now, req.Diagnostics)
		if err != nil {
			return err
		}
		v.UpdatedAt = now
		if err := s.Variants.Save(ctx, v); err != nil {
			return err
		}
		if err := s.Reservations.Insert(ctx, r); err != nil {
			return err
		}
		held = r
		return nil
	})
	if err != nil {
		return nil, s.surface(err)
	}

	metrics.ReservationCreated(1)
	s.log().Info("reservation created", logger.ReservationID(held.ID), logger.VariantID(held.VariantID),
		zap.Int("quantity", held.Quantity), zap.Time("expires_at", held.ExpiresAt))
	s.publish(ctx, events.EventReservationCreated, events.TopicReservationCreated, held, "")
	return held, nil
}

// HoldCart reserves every line of the user's cart for ttl. A line that is
// already held with the same quantity gets a fresh expiry; a line held with a
// different quantity, or by a hold already past its expiry, is re-held.
// Either every line is held or none is.
func (s *Service) HoldCart(ctx context.Context, userID string, ttl time.Duration, diag inventory.Diagnostics) ([]*inventory.Reservation, error) {
	c, err := s.Carts.GetByUserID(ctx, userID)
	if errors.Is(err, cart.ErrCartNotFound) || (err == nil && c.IsEmpty()) {
		return nil, apperr.Validation(apperr.CodeCartEmpty, "Cart is empty")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	ttl = s.ttl(ttl)

	ids := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.VariantID)
	}

	var out []*inventory.Reservation
	var created int
	err = s.Tx.RunInTx(ctx, store.RepeatableRead, func(ctx context.Context) error {
		now := s.now()
		created = 0
		out = out[:0]

		locked, err := s.Variants.GetForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		existing, err := s.Reservations.ActiveByCartForUpdate(ctx, c.ID)
		if err != nil {
			return err
		}
		byVariant := make(map[string]*inventory.Reservation, len(existing))
		for _, r := range existing {
			if _, dup := byVariant[r.VariantID]; dup {
				return apperr.Integrity(apperr.CodeDuplicateHold,
					fmt.Sprintf("Multiple active reservations for variant %s in cart %s", r.VariantID, c.ID))
			}
			byVariant[r.VariantID] = r
		}

		for _, it := range c.Items {
			v, ok := locked[it.VariantID]
			if !ok {
				return apperr.NotFound(apperr.CodeVariantNotFound, "variant", it.VariantID)
			}
			if r := byVariant[v.ID]; r != nil {
				expired := r.IsExpired(now)
				if r.Quantity == it.Quantity && !expired {
					if d := now.Add(ttl).Sub(r.ExpiresAt); d > 0 {
						if err := r.ExtendExpiry(d, now); err != nil {
							return err
						}
						if err := s.Reservations.Save(ctx, r); err != nil {
							return err
						}
					}
					out = append(out, r)
					continue
				}
				// A hold past its expiry is never revived; it is closed the
				// way the sweeper would close it and a new one is taken.
				to, reason := inventory.ReservationCancelled, ReasonCartChanged
				if expired {
					to, reason = inventory.ReservationExpired, ""
				}
				if _, err := v.ReleaseReservation(r, to, reason, now); err != nil {
					return err
				}
				if err := s.Reservations.Save(ctx, r); err != nil {
					return err
				}
			}
			if err := v.Reserve(it.Quantity); err != nil {
				return stockError(v, err)
			}
			r, err := inventory.NewReservation(v.ID, it.Quantity, &c.ID, ttl, now, diag)
			if err != nil {
				return err
			}
			if err := s.Reservations.Insert(ctx, r); err != nil {
				return err
			}
			out = append(out, r)
			created++
		}

		for _, v := range locked {
			v.UpdatedAt = now
			if err := s.Variants.Save(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.surface(err)
	}

	metrics.ReservationCreated(created)
	s.log().Info("cart held", logger.CartID(c.ID), logger.UserID(userID),
		zap.Int("lines", len(out)), zap.Int("new_holds", created))
	return out, nil
}

type outcome int

const (
	skipped outcome = iota
	released
	orphaned
)

type releaseOpts struct {
	to            inventory.ReservationStatus
	reason        string
	onlyIfExpired bool
}

// releaseOne closes one hold in its own transaction. Locks follow the same
// order as checkout: the variant row first, then the reservation.
func (s *Service) releaseOne(ctx context.Context, id, variantID string, opts releaseOpts) (outcome, *inventory.Reservation, error) {
	var res outcome
	var closed *inventory.Reservation
	err := s.Tx.RunInTx(ctx, store.RepeatableRead, func(ctx context.Context) error {
		now := s.now()
		res, closed = skipped, nil

		locked, err := s.Variants.GetForUpdate(ctx, []string{variantID})
		if err != nil {
			return err
		}
		r, err := s.Reservations.GetByIDForUpdate(ctx, id)
		if errors.Is(err, inventory.ErrReservationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if r.Status != inventory.ReservationActive {
			return nil
		}
		if opts.onlyIfExpired && !r.IsExpired(now) {
			return nil
		}

		v, ok := locked[r.VariantID]
		if !ok {
			if err := r.ExpireOrphan(now); err != nil {
				return err
			}
			if err := s.Reservations.Save(ctx, r); err != nil {
				return err
			}
			res, closed = orphaned, r
			return nil
		}

		ok, err = v.ReleaseReservation(r, opts.to, opts.reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		v.UpdatedAt = now
		if err := s.Variants.Save(ctx, v); err != nil {
			return err
		}
		if err := s.Reservations.Save(ctx, r); err != nil {
			return err
		}
		res, closed = released, r
		return nil
	})
	if err != nil {
		return skipped, nil, err
	}
	if closed != nil {
		metrics.ReservationReleased(string(closed.Status))
		s.publish(ctx, events.EventReservationReleased, events.TopicReservationReleased, closed, opts.reason)
	}
	return res, closed, nil
}

// CleanupExpiredReservations releases up to batchSize holds whose expiry is
// at or before now. Each hold is released in its own transaction; one that
// fails is logged and left for the next run. A hold whose variant was
// deleted is marked expired and counted.
func (s *Service) CleanupExpiredReservations(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	now := s.now()
	due, err := s.Reservations.ExpiredForUpdate(ctx, now, batchSize)
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("list expired reservations: %w", err))
	}

	count := 0
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		log := s.log().With(logger.ReservationID(r.ID), logger.VariantID(r.VariantID))
		res, _, err := s.releaseOne(ctx, r.ID, r.VariantID, releaseOpts{to: inventory.ReservationExpired, onlyIfExpired: true})
		if err != nil {
			log.Error("release expired reservation", logger.Err(err))
			continue
		}
		switch res {
		case released:
			count++
		case orphaned:
			count++
			log.Warn("expired reservation references a missing variant; marked expired without ledger credit")
		}
	}

	if len(due) > 0 {
		s.log().Info("expired reservations swept", zap.Int("due", len(due)), zap.Int("released", count))
	}
	return count, nil
}

// ReleaseReservation cancels one active hold. It reports false when the hold
// does not exist or is no longer active.
func (s *Service) ReleaseReservation(ctx context.Context, id string) (bool, error) {
	r, err := s.Reservations.GetByID(ctx, id)
	if errors.Is(err, inventory.ErrReservationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Internal(err)
	}
	if r.Status != inventory.ReservationActive {
		return false, nil
	}
	res, _, err := s.releaseOne(ctx, r.ID, r.VariantID, releaseOpts{to: inventory.ReservationCancelled, reason: ReasonReleasedByRequest})
	if err != nil {
		return false, s.surface(err)
	}
	return res != skipped, nil
}

// ReleaseReservationsForCart cancels every active hold of cartID and returns
// how many were released. Individual failures are logged and skipped.
func (s *Service) ReleaseReservationsForCart(ctx context.Context, cartID, reason string) (int, error) {
	holds, err := s.Reservations.ActiveByCart(ctx, cartID)
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("list cart reservations: %w", err))
	}
	if reason == "" {
		reason = ReasonReleasedByRequest
	}
	count := 0
	for _, r := range holds {
		res, _, err := s.releaseOne(ctx, r.ID, r.VariantID, releaseOpts{to: inventory.ReservationCancelled, reason: reason})
		if err != nil {
			s.log().Warn("release cart reservation", logger.CartID(cartID), logger.ReservationID(r.ID), logger.Err(err))
			continue
		}
		if res != skipped {
			count++
		}
	}
	return count, nil
}

// ReleaseCartVariant cancels the active hold cartID has on variantID, if
// any. It reports whether a hold was released.
func (s *Service) ReleaseCartVariant(ctx context.Context, cartID, variantID, reason string) (bool, error) {
	holds, err := s.Reservations.ActiveByCart(ctx, cartID)
	if err != nil {
		return false, apperr.Internal(fmt.Errorf("list cart reservations: %w", err))
	}
	if reason == "" {
		reason = ReasonCartChanged
	}
	for _, r := range holds {
		if r.VariantID != variantID {
			continue
		}
		res, _, err := s.releaseOne(ctx, r.ID, r.VariantID, releaseOpts{to: inventory.ReservationCancelled, reason: reason})
		if err != nil {
			return false, s.surface(err)
		}
		return res != skipped, nil
	}
	return false, nil
}

// ExtendReservation pushes an active hold's expiry out by minutes. A hold
// that is missing, closed or already past its expiry is not extended.
func (s *Service) ExtendReservation(ctx context.Context, id string, minutes int) (bool, error) {
	if minutes <= 0 {
		return false, apperr.Validation("INVALID_EXTENSION", "extension must be a positive number of minutes")
	}
	var extended bool
	err := s.Tx.RunInTx(ctx, store.RepeatableRead, func(ctx context.Context) error {
		now := s.now()
		extended = false
		r, err := s.Reservations.GetByIDForUpdate(ctx, id)
		if errors.Is(err, inventory.ErrReservationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if r.Status != inventory.ReservationActive || r.IsExpired(now) {
			return nil
		}
		if err := r.ExtendExpiry(time.Duration(minutes)*time.Minute, now); err != nil {
			return err
		}
		if err := s.Reservations.Save(ctx, r); err != nil {
			return err
		}
		extended = true
		return nil
	})
	if err != nil {
		return false, s.surface(err)
	}
	return extended, nil
}

// GetReservation returns one hold.
func (s *Service) GetReservation(ctx context.Context, id string) (*inventory.Reservation, error) {
	r, err := s.Reservations.GetByID(ctx, id)
	if errors.Is(err, inventory.ErrReservationNotFound) {
		return nil, apperr.NotFound(apperr.CodeReservationNotFound, "reservation", id)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return r, nil
}

type Statistics struct {
	ActiveReservations    int            `json:"active_reservations"`
	TotalReservedQuantity int            `json:"total_reserved_quantity"`
	ExpiringWithinHour    int            `json:"expiring_within_hour"`
	ExpiredPendingCleanup int            `json:"expired_pending_cleanup"`
	ByStatus              map[string]int `json:"by_status"`
	GeneratedAt           time.Time      `json:"generated_at"`
}

func (s *Service) GetReservationStatistics(ctx context.Context) (Statistics, error) {
	now := s.now()
	st, err := s.Reservations.Stats(ctx, now, statsHorizon)
	if err != nil {
		return Statistics{}, apperr.Internal(err)
	}
	out := Statistics{
		ActiveReservations:    st.ActiveCount,
		TotalReservedQuantity: st.ActiveQuantity,
		ExpiringWithinHour:    st.ExpiringWithinHorizon,
		ExpiredPendingCleanup: st.ExpiredPending,
		ByStatus:              make(map[string]int, len(inventory.AllReservationStatuses)),
		GeneratedAt:           now,
	}
	for _, status := range inventory.AllReservationStatuses {
		out.ByStatus[string(status)] = st.ByStatus[status]
	}
	return out, nil
}

type Page struct {
	Items      []View `json:"items"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	Total      int    `json:"total"`
	TotalPages int    `json:"total_pages"`
}

func (s *Service) ListActiveReservations(ctx context.Context, page, pageSize int) (*Page, error) {
	p := store.Page{Number: page, Size: pageSize}.Normalize()
	rows, total, err := s.Reservations.ListActive(ctx, p)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := &Page{
		Items:      make([]View, 0, len(rows)),
		Page:       p.Number,
		PageSize:   p.Size,
		Total:      total,
		TotalPages: (total + p.Size - 1) / p.Size,
	}
	for _, r := range rows {
		out.Items = append(out.Items, NewView(r))
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, eventType, topic string, r *inventory.Reservation, reason string) {
	if s.Events == nil {
		return
	}
	p := events.ReservationPayload{
		ReservationID: r.ID,
		VariantID:     r.VariantID,
		Quantity:      r.Quantity,
		Status:        string(r.Status),
		Reason:        reason,
	}
	if r.CartID != nil {
		p.CartID = *r.CartID
	}
	env, err := events.New(eventType, s.ServiceName, r.ID, p)
	if err == nil {
		err = s.Events.Publish(ctx, topic, env)
	}
	if err != nil {
		s.log().Warn("publish reservation event", zap.String("event_type", eventType), logger.ReservationID(r.ID), logger.Err(err))
	}
}

func stockError(v *inventory.Variant, err error) error {
	var ise *inventory.InsufficientStockError
	if errors.As(err, &ise) {
		return apperr.Validation(apperr.CodeInsufficientStock, ise.Error()).
			WithDetail("sku", ise.SKU).
			WithDetail("requested", fmt.Sprint(ise.Requested)).
			WithDetail("available", fmt.Sprint(ise.Available))
	}
	if errors.Is(err, inventory.ErrInvalidQuantity) {
		return apperr.Validation(apperr.CodeInvalidQuantity, fmt.Sprintf("Invalid quantity for SKU %s", v.SKU))
	}
	return err
}

func (s *Service) surface(err error) error {
	if ae, ok := apperr.As(err); ok {
		return ae
	}
	s.log().Error("reservation operation failed", logger.Err(err))
	return apperr.Internal(err)
}
