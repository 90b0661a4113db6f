package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// TransferRequest moves platform funds to a connected account
type TransferRequest struct {
	DestinationAccount string
	Amount             int64
	Currency           string
	Metadata           map[string]string
	IdempotencyKey     string
}

// StripeGateway calls the Stripe API
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway creates a gateway authenticated with the secret key
func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil)}
}

// GetSubscription retrieves a subscription by id
func (g *StripeGateway) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, err)
	}
	return sub, nil
}

// GetCustomer retrieves a customer by id
func (g *StripeGateway) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cus, err := g.api.Customers.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve customer %s: %w", id, err)
	}
	return cus, nil
}

// GetInvoice retrieves an invoice by id
func (g *StripeGateway) GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	inv, err := g.api.Invoices.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve invoice %s: %w", id, err)
	}
	return inv, nil
}

// CancelSubscription cancels a subscription immediately
func (g *StripeGateway) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := g.api.Subscriptions.Cancel(id, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	return nil
}

// GetAccount retrieves a connected account
func (g *StripeGateway) GetAccount(ctx context.Context, id string) (*stripe.Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := g.api.Accounts.GetByID(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve account %s: %w", id, err)
	}
	return acct, nil
}

// GetAvailableBalance returns the platform's available balance in minor
// units for one currency.
func (g *StripeGateway) GetAvailableBalance(ctx context.Context, currency string) (int64, error) {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	bal, err := g.api.Balance.Get(params)
	if err != nil {
		return 0, fmt.Errorf("retrieve balance: %w", err)
	}

	var total int64
	for _, a := range bal.Available {
		if strings.EqualFold(string(a.Currency), currency) {
			total += a.Amount
		}
	}
	return total, nil
}

// CreateTransfer sends funds to a connected account
func (g *StripeGateway) CreateTransfer(ctx context.Context, req TransferRequest) (*stripe.Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.DestinationAccount),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return nil, fmt.Errorf("create transfer to %s: %w", req.DestinationAccount, err)
	}
	return tr, nil
}

// CreatePayout pays out a connected account's balance to its bank
func (g *StripeGateway) CreatePayout(ctx context.Context, accountID string, amount int64, currency string) (*stripe.Payout, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	po, err := g.api.Payouts.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payout for %s: %w", accountID, err)
	}
	return po, nil
}

// ToMinorUnits converts a two-decimal currency amount to cents
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts cents to a two-decimal currency amount
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
