package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
)

func TestRouterIgnoresUnknownTypeWithoutWrites(t *testing.T) {
	st := newMemStore()
	router := NewWebhookRouter(st, newFakeDedup(), time.Hour)
	called := false
	router.On(EventCheckoutSessionCompleted, func(ctx context.Context, e stripe.Event) error {
		called = true
		return nil
	})

	event := stripeEvent(t, "evt_1", "some.unhandled.type", map[string]interface{}{"id": "x"})
	outcome, err := router.Dispatch(context.Background(), event, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.False(t, called)
	assert.Zero(t, st.writes)
}

func TestRouterOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		handlerErr error
		want       Outcome
		wantErr    bool
		auditErr   bool
	}{
		{"handled", nil, OutcomeHandled, false, false},
		{"duplicate", fmt.Errorf("%w: seen", ErrDuplicateEvent), OutcomeDuplicate, false, false},
		{"validation", fmt.Errorf("%w: bad metadata", ErrValidation), OutcomeRejected, false, true},
		{"not found", fmt.Errorf("%w: no package", ErrNotFound), OutcomeRejected, false, true},
		{"transient", errors.New("db timeout"), OutcomeFailed, true, true},
		{"lock busy", ErrLockBusy, OutcomeFailed, true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newMemStore()
			dedup := newFakeDedup()
			router := NewWebhookRouter(st, dedup, time.Hour)
			router.On(EventTransferCreated, func(ctx context.Context, e stripe.Event) error {
				return tc.handlerErr
			})

			event := stripeEvent(t, "evt_1", EventTransferCreated, map[string]interface{}{"id": "tr_1"})
			outcome, err := router.Dispatch(context.Background(), event, []byte(`{"id":"evt_1"}`))
			assert.Equal(t, tc.want, outcome)
			assert.Equal(t, tc.wantErr, err != nil, "err = %v", err)

			audit := st.events["evt_1"]
			require.NotNil(t, audit)
			assert.NotNil(t, audit.ProcessedAt)
			assert.Equal(t, tc.auditErr, audit.ProcessingError != nil)

			_, remembered := dedup.keys[dedupKey("evt_1")]
			assert.Equal(t, !tc.wantErr, remembered)
		})
	}
}

func TestRouterSkipsRememberedEvents(t *testing.T) {
	st := newMemStore()
	router := NewWebhookRouter(st, newFakeDedup(), time.Hour)
	calls := 0
	router.On(EventCheckoutSessionCompleted, func(ctx context.Context, e stripe.Event) error {
		calls++
		return nil
	})

	event := stripeEvent(t, "evt_1", EventCheckoutSessionCompleted, map[string]interface{}{"id": "cs_1"})
	outcome, err := router.Dispatch(context.Background(), event, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandled, outcome)

	outcome, err = router.Dispatch(context.Background(), event, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, calls)
}

func TestRouterRetriesFailedEvents(t *testing.T) {
	router := NewWebhookRouter(newMemStore(), newFakeDedup(), time.Hour)
	calls := 0
	router.On(EventCheckoutSessionCompleted, func(ctx context.Context, e stripe.Event) error {
		calls++
		if calls == 1 {
			return errors.New("db timeout")
		}
		return nil
	})

	event := stripeEvent(t, "evt_1", EventCheckoutSessionCompleted, map[string]interface{}{"id": "cs_1"})
	_, err := router.Dispatch(context.Background(), event, nil)
	require.Error(t, err)

	outcome, err := router.Dispatch(context.Background(), event, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandled, outcome)
	assert.Equal(t, 2, calls)
}

func TestRouterWithoutDedupCache(t *testing.T) {
	router := NewWebhookRouter(newMemStore(), nil, 0)
	router.On(EventTransferCreated, func(ctx context.Context, e stripe.Event) error { return nil })

	outcome, err := router.Dispatch(context.Background(),
		stripeEvent(t, "evt_1", EventTransferCreated, map[string]interface{}{"id": "tr_1"}), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandled, outcome)
}

func TestEventObjectRequiresData(t *testing.T) {
	_, err := eventObject(stripe.Event{ID: "evt_1"})
	assert.True(t, errors.Is(err, ErrValidation))
}
