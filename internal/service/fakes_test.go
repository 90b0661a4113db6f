package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/payments"
	"marketplace-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
)

// memStore is an in-memory stand-in for the Postgres store. writes counts
// every mutating call, including rejected ones.
type memStore struct {
	mu sync.Mutex

	users     map[int64]*models.User
	packages  map[string]*models.Package
	shops     map[int64]*models.Shop
	orders    map[int64]*models.Order
	items     map[int64][]models.OrderItem
	payments  map[string]*models.Payment
	subs      map[int64]*models.Subscription
	wallets   map[int64]*models.Wallet
	transfers map[string]string
	events    map[string]*models.WebhookEvent

	nextID int64
	writes int

	deleteErr   error
	activateErr error

	// staleReads makes payment lookups miss, as when a concurrent delivery
	// commits between the lookup and the insert.
	staleReads bool
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[int64]*models.User),
		packages:  make(map[string]*models.Package),
		shops:     make(map[int64]*models.Shop),
		orders:    make(map[int64]*models.Order),
		items:     make(map[int64][]models.OrderItem),
		payments:  make(map[string]*models.Payment),
		subs:      make(map[int64]*models.Subscription),
		wallets:   make(map[int64]*models.Wallet),
		transfers: make(map[string]string),
		events:    make(map[string]*models.WebhookEvent),
		nextID:    100,
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) addUser(u *models.User) *models.User {
	s.users[u.ID] = u
	return u
}

func (s *memStore) activeSubs(userID int64) []*models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.Status == models.SubscriptionStatusActive {
			out = append(out, sub)
		}
	}
	return out
}

func (s *memStore) GetPaymentByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleReads {
		return nil, nil
	}
	return s.payments[intentID], nil
}

func (s *memStore) CreatePaidOrder(ctx context.Context, order *models.Order, items []models.OrderItem, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if _, ok := s.payments[payment.PaymentIntentID]; ok {
		return fmt.Errorf("payment intent %s: %w", payment.PaymentIntentID, store.ErrConflict)
	}

	order.ID = s.id()
	payment.ID = s.id()
	payment.OrderID = order.ID
	order.PaymentID = &payment.ID
	for i := range items {
		items[i].ID = s.id()
		items[i].OrderID = order.ID
	}

	stored := *order
	s.orders[order.ID] = &stored
	s.items[order.ID] = append([]models.OrderItem(nil), items...)
	s.payments[payment.PaymentIntentID] = payment

	w := s.walletForUser(order.UserID)
	w.TotalLifeTimeSpend = w.TotalLifeTimeSpend.Add(order.FinalAmount)
	return nil
}

func (s *memStore) walletForUser(userID int64) *models.Wallet {
	for _, w := range s.wallets {
		if w.UserID == userID {
			return w
		}
	}
	w := &models.Wallet{ID: s.id(), UserID: userID}
	s.wallets[w.ID] = w
	return w
}

func (s *memStore) GetPackageByStripeProductID(ctx context.Context, productID string) (*models.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.packages[productID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("package %s: %w", productID, store.ErrNotFound)
}

func (s *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
}

func (s *memStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
}

func (s *memStore) GetActiveSubscriptionByUserID(ctx context.Context, userID int64) (*models.Subscription, error) {
	active := s.activeSubs(userID)
	if len(active) == 0 {
		return nil, nil
	}
	return active[0], nil
}

func (s *memStore) GetSubscriptionByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.StripeSubscriptionID == stripeID {
			return sub, nil
		}
	}
	return nil, nil
}

func (s *memStore) DeleteSubscription(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.subs[id]; !ok {
		return fmt.Errorf("subscription %d: %w", id, store.ErrNotFound)
	}
	delete(s.subs, id)
	return nil
}

func (s *memStore) ActivateSubscription(ctx context.Context, sub *models.Subscription, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.activateErr != nil {
		return s.activateErr
	}
	for _, existing := range s.subs {
		if existing.StripeSubscriptionID == sub.StripeSubscriptionID {
			return fmt.Errorf("subscription %s: %w", sub.StripeSubscriptionID, store.ErrConflict)
		}
		if existing.UserID == sub.UserID && existing.Status == models.SubscriptionStatusActive &&
			sub.Status == models.SubscriptionStatusActive {
			return fmt.Errorf("user %d: %w", sub.UserID, store.ErrActiveSubscriptionExists)
		}
	}
	sub.ID = s.id()
	stored := *sub
	s.subs[sub.ID] = &stored

	u, ok := s.users[sub.UserID]
	if !ok {
		return fmt.Errorf("user %d: %w", sub.UserID, store.ErrNotFound)
	}
	u.SubscriptionID = &stored.ID
	u.IsSubscribed = sub.Status == models.SubscriptionStatusActive
	u.StripeCustomerID = &customerID
	return nil
}

func (s *memStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		copied := *o
		return &copied, nil
	}
	return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
}

func (s *memStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[orderID], nil
}

func (s *memStore) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.OrderID == orderID && !p.IsDeleted {
			return p, nil
		}
	}
	return nil, fmt.Errorf("payment for order %d: %w", orderID, store.ErrNotFound)
}

func (s *memStore) GetShopByID(ctx context.Context, id int64) (*models.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if shop, ok := s.shops[id]; ok {
		return shop, nil
	}
	return nil, fmt.Errorf("shop %d: %w", id, store.ErrNotFound)
}

func (s *memStore) ApplyVendorTransfer(ctx context.Context, transferID string, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if _, ok := s.transfers[transferID]; ok {
		return fmt.Errorf("transfer %s: %w", transferID, store.ErrConflict)
	}
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	s.transfers[transferID] = models.TransferTypeVendor
	o.IsPaymentTransferredVendor = true
	return nil
}

func (s *memStore) ApplyWithdrawal(ctx context.Context, transferID string, walletID int64, amount decimal.Decimal) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if _, ok := s.transfers[transferID]; ok {
		return nil, fmt.Errorf("transfer %s: %w", transferID, store.ErrConflict)
	}
	w, ok := s.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("wallet %d: %w", walletID, store.ErrNotFound)
	}
	s.transfers[transferID] = models.TransferTypeWithdraw
	w.TotalAvailableBalanceToWithdraw = w.TotalAvailableBalanceToWithdraw.Sub(amount)
	w.TotalLifeTimeWithdrawal = w.TotalLifeTimeWithdrawal.Add(amount)
	copied := *w
	return &copied, nil
}

func (s *memStore) GetWalletByUserID(ctx context.Context, userID int64) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.UserID == userID {
			return w, nil
		}
	}
	return nil, fmt.Errorf("wallet for user %d: %w", userID, store.ErrNotFound)
}

func (s *memStore) RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.events[eventID] = &models.WebhookEvent{
		EventID:    eventID,
		EventType:  eventType,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}
	return nil
}

func (s *memStore) MarkWebhookEventProcessed(ctx context.Context, eventID string, processingErr *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	ev, ok := s.events[eventID]
	if !ok {
		return nil
	}
	now := time.Now()
	ev.ProcessedAt = &now
	ev.ProcessingError = processingErr
	return nil
}

// mockGateway stands in for both Stripe gateway roles
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	args := m.Called(ctx, id)
	sub, _ := args.Get(0).(*stripe.Subscription)
	return sub, args.Error(1)
}

func (m *mockGateway) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	args := m.Called(ctx, id)
	cus, _ := args.Get(0).(*stripe.Customer)
	return cus, args.Error(1)
}

func (m *mockGateway) GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error) {
	args := m.Called(ctx, id)
	inv, _ := args.Get(0).(*stripe.Invoice)
	return inv, args.Error(1)
}

func (m *mockGateway) CancelSubscription(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockGateway) GetAccount(ctx context.Context, id string) (*stripe.Account, error) {
	args := m.Called(ctx, id)
	acct, _ := args.Get(0).(*stripe.Account)
	return acct, args.Error(1)
}

func (m *mockGateway) GetAvailableBalance(ctx context.Context, currency string) (int64, error) {
	args := m.Called(ctx, currency)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockGateway) CreateTransfer(ctx context.Context, req payments.TransferRequest) (*stripe.Transfer, error) {
	args := m.Called(ctx, req)
	tr, _ := args.Get(0).(*stripe.Transfer)
	return tr, args.Error(1)
}

func (m *mockGateway) CreatePayout(ctx context.Context, accountID string, amount int64, currency string) (*stripe.Payout, error) {
	args := m.Called(ctx, accountID, amount, currency)
	po, _ := args.Get(0).(*stripe.Payout)
	return po, args.Error(1)
}

type published struct {
	topic   string
	payload interface{}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (n *fakeNotifier) Publish(ctx context.Context, topic string, payload interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{topic: topic, payload: payload})
	return n.err
}

func (n *fakeNotifier) topics() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.topic)
	}
	return out
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	busy     bool
	released int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return "", nil
	}
	if _, ok := l.held[key]; ok {
		return "", nil
	}
	token := fmt.Sprintf("token-%d", len(l.held)+l.released+1)
	l.held[key] = token
	return token, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.released++
	}
	return nil
}

type fakeDedup struct {
	mu   sync.Mutex
	keys map[string]interface{}
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{keys: make(map[string]interface{})}
}

func (d *fakeDedup) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.keys[key]
	return ok, nil
}

func (d *fakeDedup) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key] = value
	return nil
}

// stripeEvent builds an event the way it arrives on the wire so that
// data.object is captured as raw JSON.
func stripeEvent(t *testing.T, id, eventType string, object interface{}) stripe.Event {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)

	var event stripe.Event
	require.NoError(t, json.Unmarshal(body, &event))
	return event
}

func strPtr(s string) *string { return &s }
