package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
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
	MessageCreated       = "Order created successfully"
	MessageAlreadyExists = "Order already exists"

	reasonQuantityChanged = "checkout quantity changed"
	reasonCheckedOut      = "cart checked out"
)

// IdempotencyCache is a fast path in front of the orders table. The table
// stays the source of truth.
type IdempotencyCache interface {
	LookupOrder(ctx context.Context, key string) (orderID string, ok bool, err error)
	RememberOrder(ctx context.Context, key, orderID string) error
	CacheStatus(ctx context.Context, orderID, status string) error
}

type Service struct {
	Tx           store.Transactor
	Users        UserRepository
	Carts        cart.Repository
	Variants     inventory.VariantRepository
	Reservations inventory.ReservationRepository
	Orders       Repository

	Events events.Publisher
	Cache  IdempotencyCache

	// Isolation of the commit transaction. Anything weaker than
	// RepeatableRead is raised to RepeatableRead.
	Isolation   store.IsoLevel
	ServiceName string
	Log         *zap.Logger
	Now         func() time.Time
}

type CreateOrderInput struct {
	UserID          string
	ShippingAddress Address
	DeliveryMethod  DeliveryMethod
	PaymentMethod   PaymentMethod
	PromoCode       string
	Notes           string
	IdempotencyKey  string
}

type CreateOrderResult struct {
	Order          OrderView
	AlreadyExisted bool
	Message        string
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

func (s *Service) isolation() store.IsoLevel {
	if s.Isolation < store.RepeatableRead {
		return store.RepeatableRead
	}
	return s.Isolation
}

func (s *Service) publisher() events.Publisher {
	if s.Events == nil {
		return events.Discard{}
	}
	return s.Events
}

// line is a validated cart item with the catalog rows it was checked against.
type line struct {
	cart.Item
	product *inventory.Product
}

// CreateOrder turns the user's cart into an order. A request whose
// idempotency key is already bound to an order returns that order without
// opening a transaction or touching stock.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	start := time.Now()
	defer metrics.ObserveCheckout(start)

	key := strings.TrimSpace(in.IdempotencyKey)
	log := s.log().With(logger.UserID(in.UserID))
	if key != "" {
		log = log.With(logger.IdempotencyKey(key))
	}

	if err := validateInput(in); err != nil {
		metrics.CheckoutResult("rejected")
		return nil, err
	}

	if key != "" {
		existing, err := s.findByKey(ctx, key)
		if err != nil {
			return nil, s.fail(log, err)
		}
		if existing != nil {
			metrics.CheckoutResult("replayed")
			log.Info("checkout replayed", logger.OrderID(existing.ID))
			return &CreateOrderResult{Order: NewView(existing), AlreadyExisted: true, Message: MessageAlreadyExists}, nil
		}
	}

	ok, err := s.Users.Exists(ctx, in.UserID)
	if err != nil {
		return nil, s.fail(log, err)
	}
	if !ok {
		metrics.CheckoutResult("rejected")
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user", in.UserID)
	}

	detailed, err := s.Carts.GetByUserIDWithDetails(ctx, in.UserID)
	if errors.Is(err, cart.ErrCartNotFound) || (err == nil && detailed.IsEmpty()) {
		// A retry can land between the first request's commit and our
		// cart read; the key now resolves.
		if res, ok := s.replayAfterRace(ctx, log, key); ok {
			return res, nil
		}
		metrics.CheckoutResult("rejected")
		return nil, errCartEmpty()
	}
	if err != nil {
		return nil, s.fail(log, err)
	}
	log = log.With(logger.CartID(detailed.ID))

	lines, err := s.validateLines(log, detailed)
	if err != nil {
		metrics.CheckoutResult("rejected")
		return nil, err
	}

	var (
		order    *Order
		released []*inventory.Reservation
	)
	err = s.Tx.RunInTx(ctx, s.isolation(), func(ctx context.Context) error {
		o, rel, err := s.commit(ctx, log, lines, in, key)
		if err != nil {
			return err
		}
		order, released = o, rel
		return nil
	})
	if err != nil {
		// Losing a race against a request with the same key surfaces either
		// as the unique index on the key or as the cart the winner emptied.
		if errors.Is(err, ErrDuplicateIdempotencyKey) || apperr.HasCode(err, apperr.CodeCartEmpty) {
			if res, ok := s.replayAfterRace(ctx, log, key); ok {
				return res, nil
			}
		}
		return nil, s.fail(log, err)
	}

	for _, r := range released {
		metrics.ReservationReleased(string(r.Status))
	}
	if len(released) > 0 {
		log.Info("released cart holds not consumed by the order", zap.Int("count", len(released)))
	}

	metrics.CheckoutResult("created")
	log.Info("order committed",
		logger.OrderID(order.ID), logger.OrderNumber(order.OrderNumber),
		zap.Int("lines", len(order.Items)), zap.Int64("total_cents", order.TotalCents))
	s.afterCommit(ctx, log, order, key)

	return &CreateOrderResult{Order: NewView(order), Message: MessageCreated}, nil
}

func validateInput(in CreateOrderInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return apperr.Validation("USER_REQUIRED", "user id is required")
	}
	if in.DeliveryMethod != "" && !in.DeliveryMethod.Valid() {
		return apperr.Validation("INVALID_DELIVERY_METHOD", fmt.Sprintf("unknown delivery method %q", in.DeliveryMethod))
	}
	if in.PaymentMethod != "" && !in.PaymentMethod.Valid() {
		return apperr.Validation("INVALID_PAYMENT_METHOD", fmt.Sprintf("unknown payment method %q", in.PaymentMethod))
	}
	return nil
}

// validateLines checks every cart line against its joined catalog rows
// before anything is mutated.
func (s *Service) validateLines(log *zap.Logger, c *cart.Detailed) ([]line, error) {
	out := make([]line, 0, len(c.Lines))
	for _, ln := range c.Lines {
		if ln.Quantity <= 0 {
			return nil, apperr.Validation(apperr.CodeInvalidQuantity,
				fmt.Sprintf("Invalid quantity %d for variant %s", ln.Quantity, ln.VariantID))
		}
		if ln.Variant == nil {
			return nil, apperr.NotFound(apperr.CodeVariantNotFound, "variant", ln.VariantID)
		}
		if ln.Product == nil {
			log.Error("integrity fault: cart line product did not resolve",
				logger.VariantID(ln.VariantID), zap.String("product_id", ln.ProductID))
			return nil, apperr.Integrity(apperr.CodeProductNotFound,
				fmt.Sprintf("Product not found for variant %s", ln.VariantID)).
				WithDetail("variant_id", ln.VariantID)
		}
		out = append(out, line{Item: ln.Item, product: ln.Product})
	}
	return out, nil
}

func errCartEmpty() error {
	return apperr.Validation(apperr.CodeCartEmpty, "Cart is empty")
}

func sameItems(items []cart.Item, lines []line) bool {
	if len(items) != len(lines) {
		return false
	}
	for i, it := range items {
		if it.VariantID != lines[i].VariantID || it.Quantity != lines[i].Quantity {
			return false
		}
	}
	return true
}

// lockSet is every variant the commit may write: the cart lines and the
// variants of the cart's active holds, sorted so concurrent commits lock in
// the same order.
func lockSet(lines []line, holds []*inventory.Reservation) []string {
	seen := make(map[string]bool, len(lines)+len(holds))
	ids := make([]string, 0, len(lines)+len(holds))
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, ln := range lines {
		add(ln.VariantID)
	}
	for _, r := range holds {
		add(r.VariantID)
	}
	slices.Sort(ids)
	return ids
}

// commit runs inside the transaction: lock the cart and its ledgers, consume
// holds or stock, write the order, then close leftover holds and empty the
// cart. It returns the holds it cancelled rather than converted.
func (s *Service) commit(ctx context.Context, log *zap.Logger, lines []line, in CreateOrderInput, key string) (*Order, []*inventory.Reservation, error) {
	now := s.now()

	// Locking the cart row queues this commit behind any other checkout or
	// edit of the same cart; the lines read before the transaction are only
	// trusted if they still match.
	c, err := s.Carts.GetByUserIDForUpdate(ctx, in.UserID)
	if errors.Is(err, cart.ErrCartNotFound) || (err == nil && c.IsEmpty()) {
		return nil, nil, errCartEmpty()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock cart: %w", err)
	}
	if !sameItems(c.Items, lines) {
		detailed, err := s.Carts.GetByUserIDWithDetails(ctx, in.UserID)
		if err != nil {
			return nil, nil, fmt.Errorf("reload cart %s: %w", c.ID, err)
		}
		if lines, err = s.validateLines(log, detailed); err != nil {
			return nil, nil, err
		}
		log.Info("cart changed before commit, lines revalidated", zap.Int("lines", len(lines)))
	}

	// Both reads see one snapshot, so every active hold's variant is in ids.
	pending, err := s.Reservations.ActiveByCart(ctx, c.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load cart reservations: %w", err)
	}
	ids := lockSet(lines, pending)
	locked, err := s.Variants.GetForUpdate(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("lock variants: %w", err)
	}
	holds, err := s.Reservations.ActiveByCartForUpdate(ctx, c.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock cart reservations: %w", err)
	}
	byVariant := make(map[string]*inventory.Reservation, len(holds))
	for _, r := range holds {
		if prev, dup := byVariant[r.VariantID]; dup {
			log.Error("integrity fault: duplicate active reservations for cart line",
				logger.VariantID(r.VariantID),
				zap.Strings("reservation_ids", []string{prev.ID, r.ID}))
			return nil, nil, apperr.Integrity(apperr.CodeDuplicateHold,
				fmt.Sprintf("Multiple active reservations for variant %s in cart %s", r.VariantID, c.ID)).
				WithDetail("variant_id", r.VariantID)
		}
		byVariant[r.VariantID] = r
	}

	order := NewOrder(in.UserID, now)
	order.ShippingAddress = in.ShippingAddress
	order.DeliveryMethod = in.DeliveryMethod
	order.PaymentMethod = in.PaymentMethod
	order.PromoCode = strings.TrimSpace(in.PromoCode)
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		order.Notes = notes
	}
	if key != "" {
		order.IdempotencyKey = &key
	}

	var touched, released []*inventory.Reservation
	for _, ln := range lines {
		v, ok := locked[ln.VariantID]
		if !ok {
			return nil, nil, apperr.NotFound(apperr.CodeVariantNotFound, "variant", ln.VariantID)
		}

		if r := byVariant[v.ID]; r != nil {
			delete(byVariant, v.ID)
			touched = append(touched, r)
			if r.Quantity == ln.Quantity {
				if err := v.ConvertReservation(r, order.ID, now); err != nil {
					return nil, nil, ledgerFault(log, v, err)
				}
				if err := order.AddItem(snapshot(v, ln.product, ln.Quantity)); err != nil {
					return nil, nil, err
				}
				continue
			}
			if _, err := v.ReleaseReservation(r, inventory.ReservationCancelled, reasonQuantityChanged, now); err != nil {
				return nil, nil, ledgerFault(log, v, err)
			}
			released = append(released, r)
		}

		if err := v.DeductStock(ln.Quantity); err != nil {
			return nil, nil, stockError(v, err)
		}
		if err := order.AddItem(snapshot(v, ln.product, ln.Quantity)); err != nil {
			return nil, nil, err
		}
	}

	// Holds on variants no longer in the cart would otherwise keep their
	// stock out of reach until the sweeper expires them.
	for _, r := range holds {
		if byVariant[r.VariantID] != r {
			continue
		}
		if v, ok := locked[r.VariantID]; ok {
			if _, err := v.ReleaseReservation(r, inventory.ReservationCancelled, reasonCheckedOut, now); err != nil {
				return nil, nil, ledgerFault(log, v, err)
			}
		} else if err := r.ExpireOrphan(now); err != nil {
			return nil, nil, err
		}
		touched = append(touched, r)
		released = append(released, r)
	}

	for _, id := range ids {
		v, ok := locked[id]
		if !ok {
			continue
		}
		if err := v.CheckInvariant(); err != nil {
			return nil, nil, ledgerFault(log, v, err)
		}
		v.UpdatedAt = now
		if err := s.Variants.Save(ctx, v); err != nil {
			return nil, nil, fmt.Errorf("save variant %s: %w", v.ID, err)
		}
	}
	for _, r := range touched {
		if err := s.Reservations.Save(ctx, r); err != nil {
			return nil, nil, fmt.Errorf("save reservation %s: %w", r.ID, err)
		}
	}

	if err := s.Orders.Insert(ctx, order); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("insert order: %w", err)
	}
	if err := s.Carts.Clear(ctx, c.ID); err != nil {
		return nil, nil, fmt.Errorf("clear cart %s: %w", c.ID, err)
	}
	return order, released, nil
}

func snapshot(v *inventory.Variant, p *inventory.Product, qty int) Item {
	attrs := make(map[string]string, len(v.Attributes))
	for k, val := range v.Attributes {
		attrs[k] = val
	}
	return Item{
		ProductID:      v.ProductID,
		VariantID:      v.ID,
		ProductName:    p.Name,
		SKU:            v.SKU,
		Attributes:     attrs,
		UnitPriceCents: v.PriceCents,
		Quantity:       qty,
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

func ledgerFault(log *zap.Logger, v *inventory.Variant, err error) error {
	log.Error("integrity fault: ledger rejected reservation conversion",
		logger.VariantID(v.ID), logger.SKU(v.SKU),
		zap.Int("stock", v.StockQuantity), zap.Int("reserved", v.ReservedQuantity), logger.Err(err))
	return apperr.Integrity(apperr.CodeInvalidState, fmt.Sprintf("Stock ledger inconsistent for SKU %s", v.SKU)).Wrap(err)
}

func (s *Service) findByKey(ctx context.Context, key string) (*Order, error) {
	if s.Cache != nil {
		id, ok, err := s.Cache.LookupOrder(ctx, key)
		if err != nil {
			s.log().Warn("idempotency cache lookup", logger.IdempotencyKey(key), logger.Err(err))
		} else if ok {
			o, err := s.Orders.GetByID(ctx, id)
			if err == nil {
				return o, nil
			}
			if !errors.Is(err, ErrOrderNotFound) {
				return nil, err
			}
		}
	}
	o, err := s.Orders.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, nil
	}
	return o, err
}

// replayAfterRace returns the order already bound to key, if any. It covers
// requests that missed the short-circuit because another request with the
// same key committed while they were in flight.
func (s *Service) replayAfterRace(ctx context.Context, log *zap.Logger, key string) (*CreateOrderResult, bool) {
	if key == "" {
		return nil, false
	}
	o, err := s.findByKey(ctx, key)
	if err != nil {
		log.Warn("re-read order after idempotency race", logger.Err(err))
		return nil, false
	}
	if o == nil {
		return nil, false
	}
	metrics.CheckoutResult("replayed")
	log.Info("checkout replayed after concurrent commit", logger.OrderID(o.ID))
	return &CreateOrderResult{Order: NewView(o), AlreadyExisted: true, Message: MessageAlreadyExists}, true
}

// fail turns err into the error returned to callers. Taxonomy errors pass
// through; anything else is logged in full and hidden behind the generic
// message.
func (s *Service) fail(log *zap.Logger, err error) error {
	if ae, ok := apperr.As(err); ok {
		switch ae.Kind {
		case apperr.KindInternal:
			metrics.CheckoutResult("failed")
			log.Error("checkout failed", logger.Err(err))
		default:
			metrics.CheckoutResult("rejected")
			log.Info("checkout rejected", zap.String("code", ae.Code), zap.String("reason", ae.Message))
		}
		return ae
	}
	metrics.CheckoutResult("failed")
	log.Error("checkout failed, transaction rolled back", logger.Err(err))
	return apperr.Internal(err)
}

func (s *Service) afterCommit(ctx context.Context, log *zap.Logger, o *Order, key string) {
	lines := make([]events.OrderLine, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, events.OrderLine{VariantID: it.VariantID, SKU: it.SKU, Qty: it.Quantity, PriceCents: it.UnitPriceCents})
	}
	env, err := events.New(events.EventOrderCreated, s.ServiceName, o.ID, events.OrderCreatedPayload{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID,
		IdempotencyKey: key,
		Items:          lines,
		TotalCents:     o.TotalCents,
	})
	if err == nil {
		err = s.publisher().Publish(ctx, events.TopicOrderCreated, env)
	}
	if err != nil {
		log.Warn("publish OrderCreated", logger.OrderID(o.ID), logger.Err(err))
	}

	if s.Cache == nil {
		return
	}
	if key != "" {
		if err := s.Cache.RememberOrder(ctx, key, o.ID); err != nil {
			log.Warn("cache idempotency key", logger.OrderID(o.ID), logger.Err(err))
		}
	}
	if err := s.Cache.CacheStatus(ctx, o.ID, string(o.Status)); err != nil {
		log.Warn("cache order status", logger.OrderID(o.ID), logger.Err(err))
	}
}

// GetOrder returns the external view of order id.
func (s *Service) GetOrder(ctx context.Context, id string) (*OrderView, error) {
	o, err := s.Orders.GetByID(ctx, id)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order", id)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	v := NewView(o)
	return &v, nil
}
