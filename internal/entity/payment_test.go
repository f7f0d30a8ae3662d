package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentTerminal(t *testing.T) {
	terminal := map[PaymentStatus]bool{
		PaymentInitiated:  false,
		PaymentAuthorized: false,
		PaymentCaptured:   true,
		PaymentFailed:     true,
		PaymentRefunded:   true,
	}
	for status, want := range terminal {
		p := &Payment{Status: status}
		assert.Equal(t, want, p.Terminal(), "status %s", status)
	}
}

func TestPaymentCaptureRefundEligibility(t *testing.T) {
	for status, want := range map[PaymentStatus]bool{
		PaymentInitiated:  true,
		PaymentAuthorized: true,
		PaymentCaptured:   false,
		PaymentFailed:     false,
		PaymentRefunded:   false,
	} {
		p := &Payment{Status: status}
		assert.Equal(t, want, p.CanBeCaptured(), "capture from %s", status)
	}

	for status, want := range map[PaymentStatus]bool{
		PaymentCaptured:   true,
		PaymentInitiated:  false,
		PaymentAuthorized: false,
		PaymentFailed:     false,
		PaymentRefunded:   false,
	} {
		p := &Payment{Status: status}
		assert.Equal(t, want, p.CanBeRefunded(), "refund from %s", status)
	}
}
