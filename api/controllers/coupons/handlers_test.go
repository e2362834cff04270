package coupons

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/api/middleware"
	internalcoupons "github.com/vetcare/clinic-finance/internal/coupons"
	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
)

type stubCouponService struct {
	claimedTemplate uuid.UUID
	claimedOwner    uuid.UUID
}

func (s *stubCouponService) CreateTemplate(ctx context.Context, input internalcoupons.TemplateInput) (*internalcoupons.Coupon, error) {
	return &internalcoupons.Coupon{
		ID:            uuid.New(),
		Code:          internalcoupons.NormalizeCode(input.Code),
		DiscountType:  input.DiscountType,
		DiscountValue: input.DiscountValue,
		Variant:       internalcoupons.Template{UsageLimit: input.UsageLimit},
	}, nil
}

func (s *stubCouponService) Get(ctx context.Context, id uuid.UUID) (*internalcoupons.Coupon, error) {
	return nil, errors.New("not implemented")
}

func (s *stubCouponService) ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]internalcoupons.Coupon, error) {
	return nil, nil
}

func (s *stubCouponService) Resolve(ctx context.Context, ref internalcoupons.Ref, total decimal.Decimal, ownerID uuid.UUID) (*internalcoupons.Resolution, error) {
	return nil, errors.New("not implemented")
}

func (s *stubCouponService) Claim(ctx context.Context, templateID, ownerID uuid.UUID) (*internalcoupons.Coupon, error) {
	s.claimedTemplate = templateID
	s.claimedOwner = ownerID
	parent := templateID
	return &internalcoupons.Coupon{
		ID:           uuid.New(),
		Code:         "SPRING10-X1",
		DiscountType: enums.DiscountTypePercentage,
		Variant: internalcoupons.Issued{
			OwnerID:  ownerID,
			ParentID: &parent,
			Status:   enums.IssuedCouponStatusAvailable,
		},
	}, nil
}

func (s *stubCouponService) ApplyUsage(ctx context.Context, tx *gorm.DB, couponID uuid.UUID) error {
	return nil
}

func (s *stubCouponService) MintBonus(ctx context.Context, tx *gorm.DB, input internalcoupons.BonusInput) (*internalcoupons.Coupon, error) {
	return nil, errors.New("not implemented")
}

func claimRequest(body string, actor middleware.Actor, templateID uuid.UUID) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("couponId", templateID.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	return req.WithContext(middleware.WithActor(ctx, actor))
}

func TestClaimForSelf(t *testing.T) {
	svc := &stubCouponService{}
	ownerID := uuid.New()
	templateID := uuid.New()

	rec := httptest.NewRecorder()
	Claim(svc, nil).ServeHTTP(rec, claimRequest("", middleware.Actor{UserID: ownerID, Role: enums.ActorRoleOwner}, templateID))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, templateID, svc.claimedTemplate)
	assert.Equal(t, ownerID, svc.claimedOwner)
	assert.Contains(t, rec.Body.String(), `"scope":"issued"`)
}

func TestClaimOwnerCannotClaimForOthers(t *testing.T) {
	svc := &stubCouponService{}
	other := uuid.New()

	rec := httptest.NewRecorder()
	Claim(svc, nil).ServeHTTP(rec, claimRequest(`{"owner_id":"`+other.String()+`"}`, middleware.Actor{UserID: uuid.New(), Role: enums.ActorRoleOwner}, uuid.New()))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, uuid.Nil, svc.claimedOwner)
}

func TestClaimOwnerResolution(t *testing.T) {
	ownerID := uuid.New()
	staff := middleware.Actor{UserID: uuid.New(), Role: enums.ActorRoleStaff}

	got, err := claimOwner(staff, &ownerID)
	require.NoError(t, err)
	assert.Equal(t, ownerID, got)

	_, err = claimOwner(staff, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	self := middleware.Actor{UserID: ownerID, Role: enums.ActorRoleOwner}
	got, err = claimOwner(self, &ownerID)
	require.NoError(t, err)
	assert.Equal(t, ownerID, got)
}

func TestCreateTemplateRendersMoney(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"spring10","discount_type":"percentage","discount_value":"10","usage_limit":100}`))
	rec := httptest.NewRecorder()
	CreateTemplate(&stubCouponService{}, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"code":"SPRING10"`)
	assert.Contains(t, rec.Body.String(), `"discount_value":"10.00"`)
	assert.Contains(t, rec.Body.String(), `"usage_limit":100`)
}
