package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-checkout/internal/events"
)

type fakeReleaser struct {
	calls []string
	err   error
}

func (f *fakeReleaser) ReleaseReservationsForCart(_ context.Context, cartID, reason string) (int, error) {
	f.calls = append(f.calls, cartID+"|"+reason)
	return 1, f.err
}

type fakeDedup struct{ seen map[string]bool }

func (d *fakeDedup) Claim(_ context.Context, id string) (bool, error) {
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *fakeDedup) Forget(_ context.Context, id string) error {
	delete(d.seen, id)
	return nil
}

func abandoned(t *testing.T, cartID string) events.Envelope {
	t.Helper()
	env, err := events.New(events.EventCartAbandoned, "test", cartID, events.CartAbandonedPayload{CartID: cartID})
	require.NoError(t, err)
	return env
}

func TestAbandonHandlerSkipsRedelivery(t *testing.T) {
	rel := &fakeReleaser{}
	h := &abandonHandler{svc: rel, dedup: &fakeDedup{seen: map[string]bool{}}, log: zap.NewNop()}
	env := abandoned(t, "cart-1")

	require.NoError(t, h.handle(context.Background(), env))
	require.NoError(t, h.handle(context.Background(), env))
	assert.Equal(t, []string{"cart-1|cart abandoned"}, rel.calls)
}

func TestAbandonHandlerForgetsClaimOnFailure(t *testing.T) {
	rel := &fakeReleaser{err: errors.New("db down")}
	d := &fakeDedup{seen: map[string]bool{}}
	h := &abandonHandler{svc: rel, dedup: d, log: zap.NewNop()}
	env := abandoned(t, "cart-2")

	assert.Error(t, h.handle(context.Background(), env))
	assert.False(t, d.seen[env.EventID], "failed delivery must be retryable")
}

func TestAbandonHandlerIgnoresOtherEvents(t *testing.T) {
	rel := &fakeReleaser{}
	h := &abandonHandler{svc: rel, log: zap.NewNop()}
	env, err := events.New(events.EventOrderCreated, "test", "o-1", events.OrderCreatedPayload{OrderID: "o-1"})
	require.NoError(t, err)

	require.NoError(t, h.handle(context.Background(), env))
	assert.Empty(t, rel.calls)
}
