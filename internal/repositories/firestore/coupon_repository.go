package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/vinuvisthara/api/internal/domain"
	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
)

// CouponRepository loads coupons by code and maintains the per-customer
// redemption ledger in the couponUsages collection.
type CouponRepository struct {
	coupons *pfirestore.BaseRepository[couponDocument]
	usages  *pfirestore.BaseRepository[usageDocument]
	uow     *pfirestore.UnitOfWork
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider, uow *pfirestore.UnitOfWork) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	if uow == nil {
		uow = pfirestore.NewUnitOfWork(provider)
	}
	return &CouponRepository{
		coupons: pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection),
		usages:  pfirestore.NewBaseRepository[usageDocument](provider, usagesCollection),
		uow:     uow,
	}, nil
}

// FindByCode matches code case-insensitively against the stored codeUpper field.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	normalised := normaliseCode(code)
	if normalised == "" {
		return domain.Coupon{}, pfirestore.NotFound("coupons.find_by_code", code)
	}
	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("codeUpper", "==", normalised).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, pfirestore.NotFound("coupons.find_by_code", code)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// HasUsage reports whether customerID already redeemed couponID.
func (r *CouponRepository) HasUsage(ctx context.Context, couponID string, customerID string) (bool, error) {
	_, err := r.usages.Get(ctx, usageID(couponID, customerID))
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// RecordUsage writes the ledger entry and bumps the coupon's usage count.
// A second redemption of a single-use coupon by the same customer is a conflict.
func (r *CouponRepository) RecordUsage(ctx context.Context, usage domain.CouponUsage) error {
	if strings.TrimSpace(usage.CouponID) == "" || strings.TrimSpace(usage.CustomerID) == "" {
		return errors.New("coupons.record_usage: coupon id and customer id are required")
	}
	return r.uow.RunInTx(ctx, func(ctx context.Context) error {
		coupon, err := r.coupons.Get(ctx, usage.CouponID)
		if err != nil {
			return err
		}
		id := usageID(usage.CouponID, usage.CustomerID)
		used, err := r.HasUsage(ctx, usage.CouponID, usage.CustomerID)
		if err != nil {
			return err
		}
		if coupon.SingleUse && used {
			return pfirestore.Conflict("coupons.record_usage", fmt.Errorf("coupon %s already used by %s", usage.CouponID, usage.CustomerID))
		}
		usedAt := usage.UsedAt
		if usedAt.IsZero() {
			usedAt = time.Now()
		}
		if err := r.usages.Set(ctx, id, usageDocument{
			CouponID:   usage.CouponID,
			CustomerID: usage.CustomerID,
			OrderID:    usage.OrderID,
			UsedAt:     usedAt.UTC(),
		}); err != nil {
			return err
		}
		coupon.UsageCount++
		return r.coupons.Set(ctx, usage.CouponID, coupon)
	})
}

// Put upserts a coupon.
func (r *CouponRepository) Put(ctx context.Context, coupon domain.Coupon) error {
	return r.coupons.Set(ctx, coupon.ID, newCouponDocument(coupon))
}

func usageID(couponID, customerID string) string {
	return couponID + "|" + customerID
}
