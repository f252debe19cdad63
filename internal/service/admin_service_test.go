package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"servicemart/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminService_Dashboard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedCustomerUser(t, "asha@example.com", "9000000001")
	plan := e.seedPlan(t, "Credit 30", model.PlanTypeWalletCredit, "1000", intPtr(30))
	p := e.seedPartner(t, "ravi@example.com", "9876500001", plan)
	svc := e.seedService(t, "gst", "1500", "1000", model.AvailableForAll)

	paid := partnerOrder(t, e, p, svc)
	_, err := e.payments.PayWithWallet(ctx, p.User.ID, paid.ID)
	require.NoError(t, err)
	partnerOrder(t, e, p, svc)

	dash, err := e.admin.Dashboard(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dash.Customers)
	assert.EqualValues(t, 1, dash.Partners)
	assert.EqualValues(t, 1, dash.OrdersByPayment[model.PaymentStatusPaid])
	assert.EqualValues(t, 1, dash.OrdersByPayment[model.PaymentStatusPending])
	assert.EqualValues(t, 2, dash.OrdersByProgress[model.ProgressPlaced])
	assert.True(t, dash.PaidSales.Equal(dec("1000")), dash.PaidSales.String())
	assert.True(t, dash.WalletFloat.IsZero(), dash.WalletFloat.String())
	assert.Zero(t, dash.PendingApprovals)
	assert.Positive(t, dash.PendingOutbox)
}

func TestAdminService_BackfillIDs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// 上线编号之前注册的数据
	legacy := &model.User{
		Email: "old@example.com", Phone: "9000000050", FirstName: "Old", LastName: "User",
		UserType: model.UserTypeCustomer, PasswordHash: mustHash(t, "secret123"), IsActive: true,
		DateJoined: time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, e.db.Create(legacy).Error)

	legacyPartnerUser := &model.User{
		Email: "oldp@example.com", Phone: "9000000051", FirstName: "Old", LastName: "Partner",
		UserType: model.UserTypePartner, PasswordHash: mustHash(t, "secret123"), IsActive: true, IsPartnerApproved: true,
	}
	require.NoError(t, e.db.Create(legacyPartnerUser).Error)
	legacyPartner := &model.Partner{
		UserID: legacyPartnerUser.ID, BusinessName: "Old Firm", Address: "1 Fort", City: "Mumbai", State: "MH", Pincode: "400001",
		CreatedAt: time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, e.db.Create(legacyPartner).Error)

	current := e.seedCustomerUser(t, "new@example.com", "9000000052")

	report, err := e.admin.BackfillIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CustomerIDs)
	assert.Equal(t, 1, report.PartnerIDs)
	assert.Zero(t, report.Failed)

	var u model.User
	require.NoError(t, e.db.First(&u, legacy.ID).Error)
	require.NotNil(t, u.CustomerID)
	assert.Equal(t, "CUS-2023-00001", *u.CustomerID)

	var pr model.Partner
	require.NoError(t, e.db.First(&pr, legacyPartner.ID).Error)
	assert.Equal(t, "PRT-2022-0001", pr.PartnerID)

	// 已有编号不变
	u = model.User{}
	require.NoError(t, e.db.First(&u, current.ID).Error)
	assert.Equal(t, current.CustomerID, u.CustomerID)

	// 再跑一次没有可补的
	report, err = e.admin.BackfillIDs(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.CustomerIDs+report.PartnerIDs)
}

func TestAdminService_RequeueFailedEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i, status := range []string{model.OutboxStatusFailed, model.OutboxStatusFailed, model.OutboxStatusSent} {
		require.NoError(t, e.db.Create(&model.OutboxMessage{
			MessageKey: fmt.Sprintf("order-%d", i),
			Topic:      "servicemart-events",
			EventType:  model.EventOrderPaid,
			Payload:    "{}",
			Status:     status,
			RetryCount: 5,
		}).Error)
	}

	n, err := e.admin.RequeueFailedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var pending []model.OutboxMessage
	require.NoError(t, e.db.Where("status = ?", model.OutboxStatusPending).Find(&pending).Error)
	require.Len(t, pending, 2)
	for _, msg := range pending {
		assert.Zero(t, msg.RetryCount)
	}

	n, err = e.admin.RequeueFailedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}
