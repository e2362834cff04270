package refunds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetcare/clinic-finance/api/middleware"
	"github.com/vetcare/clinic-finance/internal/notifications"
	internalrefunds "github.com/vetcare/clinic-finance/internal/refunds"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
)

type stubRefundService struct {
	request    internalrefunds.RequestInput
	rejectWhy  string
	pendingMax int
}

func (s *stubRefundService) Request(ctx context.Context, input internalrefunds.RequestInput) (*models.RefundRequest, error) {
	s.request = input
	amount := decimal.RequireFromString("54")
	if input.Amount != nil {
		amount = *input.Amount
	}
	return &models.RefundRequest{
		ID:          uuid.New(),
		PaymentID:   input.PaymentID,
		RequesterID: input.RequesterID,
		Amount:      amount,
		Status:      enums.RefundStatusPending,
		Reason:      input.Reason,
	}, nil
}

func (s *stubRefundService) Approve(ctx context.Context, requestID uuid.UUID) (*internalrefunds.Decision, error) {
	return nil, pkgerrors.StateConflict("refund request already decided", enums.RefundStatusRejected)
}

func (s *stubRefundService) Reject(ctx context.Context, requestID uuid.UUID, reason string) (*internalrefunds.Decision, error) {
	s.rejectWhy = reason
	return &internalrefunds.Decision{
		Request:      &models.RefundRequest{ID: requestID, Status: enums.RefundStatusRejected, RejectionReason: &reason},
		Notification: notifications.OutcomeSent,
	}, nil
}

func (s *stubRefundService) Get(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	return nil, errors.New("not implemented")
}

func (s *stubRefundService) ListForPayment(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error) {
	return nil, nil
}

func (s *stubRefundService) ListPending(ctx context.Context, limit int) ([]models.RefundRequest, error) {
	s.pendingMax = limit
	return []models.RefundRequest{}, nil
}

func (s *stubRefundService) RetryNotifications(ctx context.Context, since time.Time, limit int) (int, error) {
	return 0, nil
}

func routed(req *http.Request, actor middleware.Actor, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	return req.WithContext(middleware.WithActor(ctx, actor))
}

func TestRequestPartialRefund(t *testing.T) {
	svc := &stubRefundService{}
	ownerID := uuid.New()
	paymentID := uuid.New()

	req := routed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"20.00","reason":"  duplicate charge "}`)),
		middleware.Actor{UserID: ownerID, Role: enums.ActorRoleOwner}, "paymentId", paymentID.String())
	rec := httptest.NewRecorder()
	Request(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, paymentID, svc.request.PaymentID)
	assert.Equal(t, ownerID, svc.request.RequesterID)
	require.NotNil(t, svc.request.Amount)
	assert.True(t, svc.request.Amount.Equal(decimal.RequireFromString("20")))
	assert.Equal(t, "duplicate charge", svc.request.Reason)
	require.NotNil(t, svc.request.OwnerScope)
	assert.Equal(t, ownerID, *svc.request.OwnerScope)
	assert.Contains(t, rec.Body.String(), `"amount":"20.00"`)
}

func TestRequestFullRefundOmitsAmount(t *testing.T) {
	svc := &stubRefundService{}
	req := routed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"cancelled visit"}`)),
		middleware.Actor{UserID: uuid.New(), Role: enums.ActorRoleOwner}, "paymentId", uuid.NewString())
	rec := httptest.NewRecorder()
	Request(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Nil(t, svc.request.Amount)
}

func TestApproveSurfacesStateConflict(t *testing.T) {
	req := routed(httptest.NewRequest(http.MethodPost, "/", nil),
		middleware.Actor{UserID: uuid.New(), Role: enums.ActorRoleStaff}, "refundId", uuid.NewString())
	rec := httptest.NewRecorder()
	Approve(&stubRefundService{}, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "STATE_CONFLICT")
}

func TestRejectRequiresReason(t *testing.T) {
	svc := &stubRefundService{}
	req := routed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)),
		middleware.Actor{UserID: uuid.New(), Role: enums.ActorRoleStaff}, "refundId", uuid.NewString())
	rec := httptest.NewRecorder()
	Reject(svc, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = routed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"outside policy"}`)),
		middleware.Actor{UserID: uuid.New(), Role: enums.ActorRoleStaff}, "refundId", uuid.NewString())
	rec = httptest.NewRecorder()
	Reject(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "outside policy", svc.rejectWhy)
	assert.Contains(t, rec.Body.String(), `"status":"rejected"`)
}

func TestListPendingDefaultsLimit(t *testing.T) {
	svc := &stubRefundService{}
	req := routed(httptest.NewRequest(http.MethodGet, "/", nil),
		middleware.Actor{UserID: uuid.New(), Role: enums.ActorRoleStaff}, "unused", "x")
	rec := httptest.NewRecorder()
	ListPending(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultPendingLimit, svc.pendingMax)
}
