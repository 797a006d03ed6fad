package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ticket-reconciler/internal/services"
	"ticket-reconciler/internal/status"
	"ticket-reconciler/internal/store/storetest"
	"ticket-reconciler/models"
	"ticket-reconciler/security"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetPayment(ctx context.Context, paymentID string) (*models.ProviderPayment, error) {
	args := m.Called(paymentID)
	if p, ok := args.Get(0).(*models.ProviderPayment); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) SearchLatestPayment(ctx context.Context, externalReference string) (*models.ProviderPayment, error) {
	args := m.Called(externalReference)
	if p, ok := args.Get(0).(*models.ProviderPayment); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) RefundPayment(ctx context.Context, paymentID string, amount decimal.Decimal, key string) (*models.ProviderRefund, error) {
	args := m.Called(paymentID, amount.String(), key)
	if r, ok := args.Get(0).(*models.ProviderRefund); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type env struct {
	store    *storetest.Memory
	provider *MockProvider
	rec      *services.Reconciler
	payments *PaymentHandler
	admin    *AdminHandler
	purchase *PurchaseHandler
}

func newEnv(t *testing.T, verifier *security.WebhookVerifier) *env {
	t.Helper()
	s := storetest.NewMemory()
	s.PutEvent(models.Event{ID: "ev1", StartsAt: time.Now().Add(30 * 24 * time.Hour)})
	s.PutTicketType(models.TicketType{ID: "tt1", EventID: "ev1", Price: decimal.NewFromInt(50), QuantityAvailable: 10})
	s.PutPurchase(models.Purchase{
		ID:               "p1",
		EventID:          "ev1",
		BuyerID:          "buyer1",
		BaseAmount:       decimal.NewFromInt(100),
		CommissionAmount: decimal.NewFromInt(10),
		TotalAmount:      decimal.NewFromInt(110),
		PaymentStatus:    models.PaymentPending,
	}, []models.TicketSelection{{TicketTypeID: "tt1", Quantity: 2}})

	prov := new(MockProvider)
	rec := services.NewReconciler(services.ReconcilerConfig{Store: s})
	poll := services.NewPollEntry(s, prov, rec)
	t.Cleanup(rec.Wait)

	return &env{
		store:    s,
		provider: prov,
		rec:      rec,
		payments: NewPaymentHandler(services.NewWebhookEntry(prov, rec), poll, verifier),
		admin:    NewAdminHandler(services.NewRefundService(s, prov, nil), poll),
		purchase: NewPurchaseHandler(services.NewCheckoutService(s, nil)),
	}
}

func newRequestEvent(method, target, body string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()

	e := &core.RequestEvent{}
	e.Request = req
	e.Response = rec
	return e, rec
}

func authAs(e *core.RequestEvent, id, email string) {
	user := core.NewRecord(core.NewAuthCollection("users"))
	user.Id = id
	user.SetEmail(email)
	e.Auth = user
}

func approved(purchaseID string) *models.ProviderPayment {
	return &models.ProviderPayment{ID: "9001", Status: "approved", ExternalReference: purchaseID}
}

func assertStatus(t *testing.T, err error, want int) {
	t.Helper()
	var apiErr *router.ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, want, apiErr.Status)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWebhook_JSONBody(t *testing.T) {
	env := newEnv(t, nil)
	env.provider.On("GetPayment", "9001").Return(approved("p1"), nil)

	e, rec := newRequestEvent(http.MethodPost, "/api/v1/payments/webhook", `{"type":"payment","data":{"id":"9001"}}`)
	require.NoError(t, env.payments.Webhook(e))
	env.rec.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, true, body["updated"])

	tickets, err := env.store.ListTickets(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
}

func TestWebhook_QueryForm(t *testing.T) {
	env := newEnv(t, nil)
	env.provider.On("GetPayment", "9001").Return(approved("p1"), nil)

	e, rec := newRequestEvent(http.MethodPost, "/api/v1/payments/webhook?type=payment&data.id=9001", "")
	require.NoError(t, env.payments.Webhook(e))
	assert.Equal(t, http.StatusOK, rec.Code)
	env.provider.AssertExpectations(t)
}

func TestWebhook_IgnoredType(t *testing.T) {
	env := newEnv(t, nil)

	e, rec := newRequestEvent(http.MethodPost, "/api/v1/payments/webhook", `{"type":"plan","data":{"id":"1"}}`)
	require.NoError(t, env.payments.Webhook(e))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"received": true}, decode(t, rec))
	env.provider.AssertNotCalled(t, "GetPayment", mock.Anything)
}

func TestWebhook_Errors(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		payment *models.ProviderPayment
		err     error
		want    int
	}{
		{"malformed body", `{"type":`, nil, nil, http.StatusBadRequest},
		{"missing id", `{"type":"payment","data":{}}`, nil, nil, http.StatusBadRequest},
		{"provider down", `{"type":"payment","data":{"id":"9001"}}`, nil, fmt.Errorf("%w: timeout", status.ErrUpstream), http.StatusBadGateway},
		{"payment not found", `{"type":"payment","data":{"id":"9001"}}`, nil, status.ErrNotFound, http.StatusNotFound},
		{"unknown purchase", `{"type":"payment","data":{"id":"9001"}}`, approved("ghost"), nil, http.StatusNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env := newEnv(t, nil)
			if c.payment != nil || c.err != nil {
				env.provider.On("GetPayment", "9001").Return(c.payment, c.err)
			}

			e, _ := newRequestEvent(http.MethodPost, "/api/v1/payments/webhook", c.body)
			assertStatus(t, env.payments.Webhook(e), c.want)
		})
	}
}

func TestWebhook_Signature(t *testing.T) {
	env := newEnv(t, security.NewWebhookVerifier("s3cret", security.DefaultWebhookMaxAge))

	e, _ := newRequestEvent(http.MethodPost, "/api/v1/payments/webhook", `{"type":"payment","data":{"id":"9001"}}`)
	e.Request.Header.Set("x-signature", "ts=1,v1=00")
	e.Request.Header.Set("x-request-id", "r-1")

	assertStatus(t, env.payments.Webhook(e), http.StatusUnauthorized)
	env.provider.AssertNotCalled(t, "GetPayment", mock.Anything)
}

func TestCheckStatus(t *testing.T) {
	env := newEnv(t, nil)
	env.provider.On("SearchLatestPayment", "p1").Return(approved("p1"), nil)

	e, rec := newRequestEvent(http.MethodPost, "/api/v1/payments/check-status", `{"purchaseId":"p1"}`)
	authAs(e, "buyer1", "buyer@example.com")
	require.NoError(t, env.payments.CheckStatus(e))
	env.rec.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true, "paymentStatus": "completed", "updated": true}, decode(t, rec))
}

func TestCheckStatus_Errors(t *testing.T) {
	env := newEnv(t, nil)

	e, _ := newRequestEvent(http.MethodPost, "/api/v1/payments/check-status", `{"purchaseId":"p1"}`)
	assertStatus(t, env.payments.CheckStatus(e), http.StatusUnauthorized)

	e, _ = newRequestEvent(http.MethodPost, "/api/v1/payments/check-status", `{}`)
	authAs(e, "buyer1", "")
	assertStatus(t, env.payments.CheckStatus(e), http.StatusBadRequest)

	e, _ = newRequestEvent(http.MethodPost, "/api/v1/payments/check-status", `{"purchaseId":"p1"}`)
	authAs(e, "intruder", "")
	assertStatus(t, env.payments.CheckStatus(e), http.StatusForbidden)

	e, _ = newRequestEvent(http.MethodPost, "/api/v1/payments/check-status", `{"purchaseId":"nope"}`)
	authAs(e, "buyer1", "")
	assertStatus(t, env.payments.CheckStatus(e), http.StatusNotFound)
}

func TestCreatePurchase(t *testing.T) {
	env := newEnv(t, nil)

	e, rec := newRequestEvent(http.MethodPost, "/api/v1/purchases", `{"eventId":"ev1","items":[{"ticketTypeId":"tt1","quantity":3}]}`)
	authAs(e, "buyer2", "b2@example.com")
	require.NoError(t, env.purchase.Create(e))

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "pending", body["payment_status"])
	assert.Equal(t, "165", body["total_amount"])

	p, err := env.store.GetPurchase(context.Background(), body["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "buyer2", p.BuyerID)
	assert.Equal(t, "b2@example.com", p.BuyerEmail)
}

func TestCreatePurchase_Errors(t *testing.T) {
	env := newEnv(t, nil)

	e, _ := newRequestEvent(http.MethodPost, "/api/v1/purchases", `{"eventId":"ev1","items":[]}`)
	authAs(e, "buyer2", "")
	assertStatus(t, env.purchase.Create(e), http.StatusBadRequest)

	e, _ = newRequestEvent(http.MethodPost, "/api/v1/purchases", `{"eventId":"ev1","items":[{"ticketTypeId":"tt1","quantity":11}]}`)
	authAs(e, "buyer2", "")
	assertStatus(t, env.purchase.Create(e), http.StatusConflict)
}

func completeP1(t *testing.T, env *env) {
	t.Helper()
	_, err := env.rec.Reconcile(context.Background(), "p1", approved("p1"), services.SourceAdmin)
	require.NoError(t, err)
	env.rec.Wait()
}

func TestAdmin_RefundFlow(t *testing.T) {
	env := newEnv(t, nil)
	completeP1(t, env)
	env.store.PutRefund(models.Refund{ID: "r1", PurchaseID: "p1", Reason: models.ReasonEventCancelled, Status: models.RefundPending})

	e, rec := newRequestEvent(http.MethodGet, "/api/v1/admin/refunds/r1/preview", "")
	e.Request.SetPathValue("refundId", "r1")
	require.NoError(t, env.admin.PreviewRefund(e))
	quote := decode(t, rec)["quote"].(map[string]any)
	assert.Equal(t, true, quote["eligible"])
	assert.Equal(t, "110", quote["amount"])

	env.provider.On("RefundPayment", "9001", "110", "r1").Return(&models.ProviderRefund{ID: "rf-1"}, nil)
	e, rec = newRequestEvent(http.MethodPost, "/api/v1/admin/refunds/r1/approve", "")
	e.Request.SetPathValue("refundId", "r1")
	require.NoError(t, env.admin.ApproveRefund(e))
	assert.Equal(t, "approved", decode(t, rec)["status"])

	e, _ = newRequestEvent(http.MethodPost, "/api/v1/admin/refunds/r1/approve", "")
	e.Request.SetPathValue("refundId", "r1")
	assertStatus(t, env.admin.ApproveRefund(e), http.StatusConflict)
}

func TestAdmin_RejectRefund(t *testing.T) {
	env := newEnv(t, nil)
	env.store.PutRefund(models.Refund{ID: "r1", PurchaseID: "p1", Reason: models.ReasonDateChanged, Status: models.RefundPending})

	e, rec := newRequestEvent(http.MethodPost, "/api/v1/admin/refunds/r1/reject", `{"note":"duplicate request"}`)
	e.Request.SetPathValue("refundId", "r1")
	require.NoError(t, env.admin.RejectRefund(e))

	body := decode(t, rec)
	assert.Equal(t, "rejected", body["status"])
	assert.Equal(t, "duplicate request", body["note"])
}

func TestAdmin_ApproveNotEligible(t *testing.T) {
	env := newEnv(t, nil)
	completeP1(t, env)
	env.store.PutEvent(models.Event{ID: "ev1", StartsAt: time.Now().Add(time.Hour)})
	env.store.PutRefund(models.Refund{ID: "r1", PurchaseID: "p1", Reason: models.ReasonWithdrawal, Status: models.RefundPending})

	e, _ := newRequestEvent(http.MethodPost, "/api/v1/admin/refunds/r1/approve", "")
	e.Request.SetPathValue("refundId", "r1")
	assertStatus(t, env.admin.ApproveRefund(e), http.StatusUnprocessableEntity)
}

func TestAdmin_ReconcilePurchase(t *testing.T) {
	env := newEnv(t, nil)
	env.provider.On("SearchLatestPayment", "p1").Return(approved("p1"), nil)

	e, rec := newRequestEvent(http.MethodPost, "/api/v1/admin/purchases/p1/reconcile", "")
	e.Request.SetPathValue("purchaseId", "p1")
	require.NoError(t, env.admin.ReconcilePurchase(e))
	env.rec.Wait()

	assert.Equal(t, "completed", decode(t, rec)["paymentStatus"])
}

func TestAPIErrorMapping(t *testing.T) {
	cases := map[error]int{
		status.ErrNotFound:            http.StatusNotFound,
		status.ErrReferenceMismatch:   http.StatusConflict,
		status.ErrUpstream:            http.StatusBadGateway,
		status.ErrInvalidNotification: http.StatusBadRequest,
		status.ErrForbidden:           http.StatusForbidden,
		status.ErrNotEligible:         http.StatusUnprocessableEntity,
		status.ErrInvalidState:        http.StatusConflict,
		errors.New("sqlite: disk I/O"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assertStatus(t, apiError(fmt.Errorf("wrapped: %w", err)), want)
	}
}
