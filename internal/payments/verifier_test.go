package payments

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

const testSecret = "whsec_test_secret"

func sign(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	}).Header
}

func payloadWithVersion(version string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":"evt_1","object":"event","api_version":%q,"type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session"}}}`,
		version))
}

func testPayload() []byte {
	return payloadWithVersion(stripe.APIVersion)
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	payload := testPayload()
	v := NewVerifier(testSecret)

	event, err := v.Verify(payload, sign(payload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "checkout.session.completed", string(event.Type))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	payload := testPayload()
	v := NewVerifier(testSecret)

	_, err := v.Verify(payload, sign(payload, "whsec_other"))
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	payload := testPayload()
	v := NewVerifier(testSecret)
	header := sign(payload, testSecret)

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-3] = ' '
	_, err := v.Verify(tampered, header)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestVerifyRequiresHeaderAndSecret(t *testing.T) {
	payload := testPayload()

	_, err := NewVerifier(testSecret).Verify(payload, "")
	assert.True(t, errors.Is(err, ErrInvalidSignature))

	_, err = NewVerifier("").Verify(payload, sign(payload, testSecret))
	assert.True(t, errors.Is(err, ErrSecretNotConfigured))
}

func TestVerifySeparatesVersionMismatchFromBadSignature(t *testing.T) {
	payload := payloadWithVersion("2020-08-27")
	v := NewVerifier(testSecret)

	_, err := v.Verify(payload, sign(payload, testSecret))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAPIVersionMismatch), "got %v", err)
	assert.False(t, errors.Is(err, ErrInvalidSignature))

	// A forged delivery is still a bad signature whatever version it claims.
	_, err = v.Verify(payload, sign(payload, "whsec_other"))
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestVerifySignedGarbageIsMalformed(t *testing.T) {
	payload := []byte("{not an event")
	_, err := NewVerifier(testSecret).Verify(payload, sign(payload, testSecret))
	assert.True(t, errors.Is(err, ErrMalformedEvent), "got %v", err)
	assert.False(t, errors.Is(err, ErrInvalidSignature))
}

func TestMinorUnitConversion(t *testing.T) {
	assert.Equal(t, int64(12345), ToMinorUnits(decimal.RequireFromString("123.45")))
	assert.Equal(t, int64(100), ToMinorUnits(decimal.RequireFromString("0.999")))
	assert.True(t, decimal.RequireFromString("200").Equal(FromMinorUnits(20000)))
}
