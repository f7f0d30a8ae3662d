package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/dibanez/e-commerce/internal/entity"
)

type fakeProvider struct {
	code string
	name string
}

func (f *fakeProvider) Code() string        { return f.code }
func (f *fakeProvider) DisplayName() string { return f.name }

func (f *fakeProvider) StartPayment(context.Context, *domain.Order, string, string) (InitResult, error) {
	return InitResult{Success: true}, nil
}

func (f *fakeProvider) HandleWebhook(context.Context, WebhookRequest) (WebhookResult, error) {
	return WebhookResult{}, nil
}

func (f *fakeProvider) Capture(context.Context, *domain.Order) (OperationResult, error) {
	return OperationResult{Success: true}, nil
}

func (f *fakeProvider) Refund(context.Context, *domain.Order, decimal.Decimal) (OperationResult, error) {
	return OperationResult{Success: true}, nil
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	p := &fakeProvider{code: "fake", name: "Fake"}
	require.NoError(t, r.Register(p))

	got, err := r.Resolve("fake")
	require.NoError(t, err)
	assert.Same(t, Provider(p), got)
}

func TestRegistryRejectsDuplicateCode(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeProvider{code: "fake", name: "Fake"}))

	err := r.Register(&fakeProvider{code: "fake", name: "Other"})
	assert.ErrorIs(t, err, ErrDuplicateProvider)
}

func TestRegistryRejectsEmptyCode(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(&fakeProvider{code: ""}))
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("stripe")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistryListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeProvider{code: "b", name: "B"}))
	require.NoError(t, r.Register(&fakeProvider{code: "a", name: "A"}))
	require.NoError(t, r.Register(&fakeProvider{code: "c", name: "C"}))

	infos := r.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "b", infos[0].Code)
	assert.Equal(t, "a", infos[1].Code)
	assert.Equal(t, "c", infos[2].Code)
}

func TestBuildFromIdentifiers(t *testing.T) {
	r, err := Build([]string{"dummy"}, map[string]map[string]any{
		"dummy": {"success_rate": 100, "auto_capture": false},
	})
	require.NoError(t, err)

	p, err := r.Resolve("dummy")
	require.NoError(t, err)
	assert.Equal(t, "dummy", p.Code())
}

func TestBuildUnknownIdentifierFailsStartup(t *testing.T) {
	_, err := Build([]string{"dummy", "braintree"}, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestBuildDuplicateIdentifierFailsStartup(t *testing.T) {
	_, err := Build([]string{"dummy", "dummy"}, nil)
	assert.ErrorIs(t, err, ErrDuplicateProvider)
}
