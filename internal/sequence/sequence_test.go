package sequence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/model"
	"servicemart/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func insertUser(t *testing.T, db *gorm.DB, email string, customerID *string) {
	t.Helper()
	require.NoError(t, db.Create(&model.User{
		Email:        email,
		Phone:        email,
		FirstName:    "x",
		UserType:     model.UserTypeCustomer,
		CustomerID:   customerID,
		PasswordHash: "x",
		IsActive:     true,
	}).Error)
}

func strPtr(s string) *string { return &s }

func TestNextCustomerID(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	id, err := NextCustomerID(ctx, db, now)
	require.NoError(t, err)
	assert.Equal(t, "CUS-2024-00001", id)

	insertUser(t, db, "a", strPtr("CUS-2024-00009"))
	insertUser(t, db, "b", strPtr("CUS-2023-00050"))
	insertUser(t, db, "c", nil)

	id, err = NextCustomerID(ctx, db, now)
	require.NoError(t, err)
	assert.Equal(t, "CUS-2024-00010", id)

	// 跨年重新从 1 开始
	id, err = NextCustomerID(ctx, db, now.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "CUS-2025-00001", id)
}

func TestNextCustomerID_Malformed(t *testing.T) {
	db := testutil.NewDB(t)
	insertUser(t, db, "a", strPtr("CUS-2024-abc"))

	_, err := NextCustomerID(context.Background(), db, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, apperr.ErrConsistency)
}

func TestNextPartnerID(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	id, err := NextPartnerID(ctx, db, now)
	require.NoError(t, err)
	assert.Equal(t, "PRT-2024-0001", id)

	require.NoError(t, db.Create(&model.Partner{UserID: 1, PartnerID: "PRT-2024-0041", BusinessName: "x"}).Error)
	id, err = NextPartnerID(ctx, db, now)
	require.NoError(t, err)
	assert.Equal(t, "PRT-2024-0042", id)
}

func TestNextPartnerCustomerID(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	_, err := NextPartnerCustomerID(ctx, db, &model.Partner{ID: 1})
	assert.ErrorIs(t, err, apperr.ErrPartnerIDMissing)

	partner := &model.Partner{UserID: 1, PartnerID: "PRT-2024-0001", BusinessName: "x"}
	require.NoError(t, db.Create(partner).Error)
	other := &model.Partner{UserID: 2, PartnerID: "PRT-2024-0002", BusinessName: "y"}
	require.NoError(t, db.Create(other).Error)

	id, err := NextPartnerCustomerID(ctx, db, partner)
	require.NoError(t, err)
	assert.Equal(t, "PC-PRT-2024-0001-001", id)

	c1 := &model.Customer{PartnerID: partner.ID, PartnerCustomerID: id, Name: "a", Email: "a@x.com", Phone: "1"}
	require.NoError(t, db.Create(c1).Error)
	require.NoError(t, db.Create(&model.Customer{PartnerID: other.ID, PartnerCustomerID: "PC-PRT-2024-0002-001", Name: "b", Email: "b@x.com", Phone: "1"}).Error)

	// 软删除的客户仍然占用编号
	require.NoError(t, db.Delete(c1).Error)

	id, err = NextPartnerCustomerID(ctx, db, partner)
	require.NoError(t, err)
	assert.Equal(t, "PC-PRT-2024-0001-002", id)
}

func TestNextCustomerID_Concurrent(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- db.Transaction(func(tx *gorm.DB) error {
				id, err := NextCustomerID(ctx, tx, now)
				if err != nil {
					return err
				}
				return tx.Create(&model.User{
					Email:        fmt.Sprintf("u%d@example.com", i),
					Phone:        fmt.Sprintf("9%09d", i),
					FirstName:    "x",
					UserType:     model.UserTypeCustomer,
					CustomerID:   &id,
					PasswordHash: "x",
					IsActive:     true,
				}).Error
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var ids []string
	require.NoError(t, db.Model(&model.User{}).Order("customer_id").Pluck("customer_id", &ids).Error)
	require.Len(t, ids, n)
	assert.True(t, sort.StringsAreSorted(ids))
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("CUS-2025-%05d", i+1), id)
	}
}
