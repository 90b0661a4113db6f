package payments

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

// SignatureHeader is the header Stripe signs deliveries with
const SignatureHeader = "Stripe-Signature"

var (
	// ErrSecretNotConfigured means the service cannot authenticate any delivery.
	ErrSecretNotConfigured = errors.New("webhook signing secret not configured")
	// ErrInvalidSignature means the delivery failed authentication.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent means a correctly signed body is not an event envelope.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrAPIVersionMismatch means the Stripe endpoint sends events in an API
	// version this build cannot decode. It is a configuration problem.
	ErrAPIVersionMismatch = errors.New("webhook api version mismatch")
)

// Verifier authenticates webhook deliveries against the signing secret.
// It holds no state, so replays can always be re-verified.
type Verifier struct {
	secret string
}

// NewVerifier creates a verifier; an empty secret is reported on every call
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the signature header and decodes the event envelope
func (v *Verifier) Verify(payload []byte, signature string) (stripe.Event, error) {
	if v.secret == "" {
		return stripe.Event{}, ErrSecretNotConfigured
	}
	if signature == "" {
		return stripe.Event{}, fmt.Errorf("missing %s header: %w", SignatureHeader, ErrInvalidSignature)
	}

	if err := webhook.ValidatePayload(payload, signature, v.secret); err != nil {
		return stripe.Event{}, fmt.Errorf("%v: %w", err, ErrInvalidSignature)
	}

	// The version is compared below so a mismatch is not mistaken for a
	// failed signature.
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%v: %w", err, ErrMalformedEvent)
	}
	if event.APIVersion != stripe.APIVersion {
		return stripe.Event{}, fmt.Errorf("event %s has api version %q, expected %q: %w",
			event.ID, event.APIVersion, stripe.APIVersion, ErrAPIVersionMismatch)
	}
	return event, nil
}
