package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-checkout/internal/events"
	"github.com/ariefcatur/marketplace-checkout/internal/logger"
)

type cartReleaser interface {
	ReleaseReservationsForCart(ctx context.Context, cartID, reason string) (int, error)
}

type claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// abandonHandler releases the holds of a cart named by a CartAbandoned event.
// Redelivered events are skipped through dedup when it is set.
type abandonHandler struct {
	svc   cartReleaser
	dedup claimer
	log   *zap.Logger
}

func (h *abandonHandler) handle(ctx context.Context, env events.Envelope) error {
	if env.EventType != events.EventCartAbandoned {
		return nil
	}
	p, err := events.Decode[events.CartAbandonedPayload](env)
	if err != nil {
		h.log.Error("bad CartAbandoned payload", logger.EventID(env.EventID), logger.Err(err))
		return nil
	}
	if p.CartID == "" {
		return nil
	}

	if h.dedup != nil {
		first, err := h.dedup.Claim(ctx, env.EventID)
		if err != nil {
			return err
		}
		if !first {
			h.log.Debug("duplicate event", logger.EventID(env.EventID))
			return nil
		}
	}

	reason := p.Reason
	if reason == "" {
		reason = "cart abandoned"
	}
	n, err := h.svc.ReleaseReservationsForCart(ctx, p.CartID, reason)
	if err != nil {
		if h.dedup != nil {
			if ferr := h.dedup.Forget(context.WithoutCancel(ctx), env.EventID); ferr != nil {
				h.log.Warn("forget dedup claim", logger.EventID(env.EventID), logger.Err(ferr))
			}
		}
		return err
	}
	h.log.Info("released abandoned cart", logger.CartID(p.CartID), logger.EventID(env.EventID), zap.Int("released", n))
	return nil
}
