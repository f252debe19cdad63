package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"servicemart/internal/apperr"
	"servicemart/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customerSeq int64

// partnerOrder 合作伙伴为新建的名下客户下单
func partnerOrder(t *testing.T, e *env, p *Provisioned, svc *model.Service) *model.ServiceOrder {
	t.Helper()
	ctx := context.Background()
	customer, err := e.partners.CreateCustomer(ctx, p.User.ID, &CustomerInput{
		Name:  "Meena Shah",
		Email: fmt.Sprintf("meena%d@example.com", atomic.AddInt64(&customerSeq, 1)),
		Phone: "9123400001",
	})
	require.NoError(t, err)
	order, err := e.orders.CreateOrder(ctx, p.User.ID, &CreateOrderInput{Slug: svc.Slug, CustomerID: &customer.ID})
	require.NoError(t, err)
	return order
}

func TestPayService_PayWithWallet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	svc := e.seedService(t, "gst-filing", "1500", "1000", model.AvailableForAll)
	p := e.seedPartner(t, "ravi@example.com", "9876500001", nil)

	t.Run("余额不足订单不变", func(t *testing.T) {
		order := partnerOrder(t, e, p, svc)
		e.setBalance(t, p.Wallet.ID, "999.99")

		_, err := e.payments.PayWithWallet(ctx, p.User.ID, order.ID)
		assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

		got := e.order(t, order.ID)
		assert.Equal(t, model.PaymentStatusPending, got.PaymentStatus)
		assert.True(t, e.wallet(t, p.Wallet.ID).Balance.Equal(dec("999.99")))
	})

	t.Run("支付成功扣款并开票", func(t *testing.T) {
		e.setBalance(t, p.Wallet.ID, "1200")
		order := partnerOrder(t, e, p, svc)
		before := len(e.txns(t, p.Wallet.ID))

		paid, err := e.payments.PayWithWallet(ctx, p.User.ID, order.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPaid, paid.PaymentStatus)
		assert.Equal(t, model.PaymentMethodWallet, paid.PaymentMethod)
		require.NotNil(t, paid.PaidAt)
		require.NotNil(t, paid.InvoiceRef)

		assert.True(t, e.wallet(t, p.Wallet.ID).Balance.Equal(dec("200")))
		list := e.txns(t, p.Wallet.ID)
		require.Len(t, list, before+1)
		last := list[len(list)-1]
		assert.Equal(t, model.TxnTypeServicePayment, last.Type)
		assert.True(t, last.Amount.Equal(dec("-1000")))

		f, err := e.store.Open(ctx, *paid.InvoiceRef)
		require.NoError(t, err)
		defer f.Close()
		head := make([]byte, 5)
		_, err = io.ReadFull(f, head)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-", string(head))

		t.Run("重复支付被拒绝", func(t *testing.T) {
			_, err := e.payments.PayWithWallet(ctx, p.User.ID, order.ID)
			assert.ErrorIs(t, err, apperr.ErrOrderStatusInvalid)
			assert.True(t, e.wallet(t, p.Wallet.ID).Balance.Equal(dec("200")))
		})
	})

	t.Run("C 端用户不能用钱包", func(t *testing.T) {
		u := e.seedCustomerUser(t, "asha@example.com", "9000000001")
		order, err := e.orders.CreateOrder(ctx, u.ID, &CreateOrderInput{Slug: svc.Slug})
		require.NoError(t, err)
		_, err = e.payments.PayWithWallet(ctx, u.ID, order.ID)
		assert.ErrorIs(t, err, apperr.ErrNotPartner)
	})
}

func TestPayService_GatewayCallback(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedService(t, "itr", "2000", "1500", model.AvailableForAll)
	u := e.seedCustomerUser(t, "asha@example.com", "9000000001")

	order, err := e.orders.CreateOrder(ctx, u.ID, &CreateOrderInput{Slug: "itr"})
	require.NoError(t, err)
	assert.True(t, order.Price.Equal(dec("2000")))

	checkout, err := e.payments.StartServiceCheckout(ctx, u.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PurposeService, checkout.Purpose)
	assert.True(t, checkout.Amount.Equal(dec("2000")))
	assert.Contains(t, checkout.RedirectURL, "order_id="+checkout.OrderID)

	t.Run("重复发起复用单号", func(t *testing.T) {
		again, err := e.payments.StartServiceCheckout(ctx, u.ID, order.ID)
		require.NoError(t, err)
		assert.Equal(t, checkout.OrderID, again.OrderID)
	})

	t.Run("支付页校验单号", func(t *testing.T) {
		page, err := e.payments.PaymentPage(ctx, checkout.OrderID, model.PurposeService)
		require.NoError(t, err)
		assert.True(t, page.Amount.Equal(dec("2000")))

		_, err = e.payments.PaymentPage(ctx, "nope", model.PurposeService)
		assert.ErrorIs(t, err, apperr.ErrInvalidOrder)
		_, err = e.payments.PaymentPage(ctx, checkout.OrderID, "bogus")
		assert.ErrorIs(t, err, apperr.ErrInvalidCallback)
	})

	t.Run("未登记的单号不会改动订单", func(t *testing.T) {
		_, err := e.payments.HandleCallback(ctx, CallbackParams{OrderID: "forged", Purpose: model.PurposeService})
		assert.ErrorIs(t, err, apperr.ErrInvalidOrder)
		_, err = e.payments.HandleCallback(ctx, CallbackParams{OrderID: checkout.OrderID, Purpose: model.PurposeWalletTopUp})
		assert.ErrorIs(t, err, apperr.ErrInvalidOrder)
		assert.Equal(t, model.PaymentStatusPending, e.order(t, order.ID).PaymentStatus)
	})

	t.Run("回调置为已付款", func(t *testing.T) {
		res, err := e.payments.HandleCallback(ctx, CallbackParams{OrderID: checkout.OrderID, Purpose: model.PurposeService})
		require.NoError(t, err)
		assert.False(t, res.AlreadyProcessed)
		require.NotNil(t, res.ServiceOrder)
		assert.Equal(t, model.PaymentStatusPaid, res.ServiceOrder.PaymentStatus)
		assert.Equal(t, model.PaymentMethodGateway, res.ServiceOrder.PaymentMethod)
		require.NotNil(t, res.ServiceOrder.InvoiceRef)
		assert.EqualValues(t, 1, e.outboxCount(t, model.EventOrderPaid))
	})

	t.Run("重复回调幂等", func(t *testing.T) {
		firstRef := *e.order(t, order.ID).InvoiceRef
		res, err := e.payments.HandleCallback(ctx, CallbackParams{OrderID: checkout.OrderID, Purpose: model.PurposeService})
		require.NoError(t, err)
		assert.True(t, res.AlreadyProcessed)
		assert.Equal(t, firstRef, *res.ServiceOrder.InvoiceRef)
		assert.EqualValues(t, 1, e.outboxCount(t, model.EventOrderPaid))

		_, err = e.payments.FinalizeServicePayment(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, firstRef, *e.order(t, order.ID).InvoiceRef)
	})

	t.Run("已付款后不能再发起", func(t *testing.T) {
		_, err := e.payments.StartServiceCheckout(ctx, u.ID, order.ID)
		assert.ErrorIs(t, err, apperr.ErrOrderStatusInvalid)
	})
}

func TestPayService_FailGatewayPayment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedService(t, "itr", "2000", "1500", model.AvailableForAll)
	u := e.seedCustomerUser(t, "asha@example.com", "9000000001")
	order, err := e.orders.CreateOrder(ctx, u.ID, &CreateOrderInput{Slug: "itr"})
	require.NoError(t, err)
	checkout, err := e.payments.StartServiceCheckout(ctx, u.ID, order.ID)
	require.NoError(t, err)

	require.NoError(t, e.payments.FailGatewayPayment(ctx, checkout.OrderID))
	// 订单仍可支付
	assert.Equal(t, model.PaymentStatusPending, e.order(t, order.ID).PaymentStatus)

	// 失败的单号不能再被确认
	_, err = e.payments.HandleCallback(ctx, CallbackParams{OrderID: checkout.OrderID, Purpose: model.PurposeService})
	assert.ErrorIs(t, err, apperr.ErrInvalidOrder)
	assert.ErrorIs(t, e.payments.FailGatewayPayment(ctx, checkout.OrderID), apperr.ErrInvalidOrder)

	// 重新发起得到新的单号，并且可以完成支付
	retry, err := e.payments.StartServiceCheckout(ctx, u.ID, order.ID)
	require.NoError(t, err)
	assert.NotEqual(t, checkout.OrderID, retry.OrderID)

	again, err := e.payments.StartServiceCheckout(ctx, u.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, retry.OrderID, again.OrderID)

	_, err = e.payments.HandleCallback(ctx, CallbackParams{OrderID: retry.OrderID, Purpose: model.PurposeService})
	require.NoError(t, err)
	paid := e.order(t, order.ID)
	assert.Equal(t, model.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, model.PaymentMethodGateway, paid.PaymentMethod)
}

func TestPayService_TopUpAndUpgrade(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lifetime := e.seedPlan(t, "Lifetime", model.PlanTypeLifetime, "5000", nil)
	credit := e.seedPlan(t, "Credit 30", model.PlanTypeWalletCredit, "800", intPtr(30))
	p := e.seedPartner(t, "ravi@example.com", "9876500001", lifetime)

	t.Run("充值", func(t *testing.T) {
		_, err := e.payments.StartWalletTopUp(ctx, p.User.ID, dec("0"))
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

		checkout, err := e.payments.StartWalletTopUp(ctx, p.User.ID, dec("500"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(checkout.OrderID, "topup_"))

		// 其他会话不能确认
		_, err = e.payments.HandleCallback(ctx, CallbackParams{OrderID: checkout.OrderID, Purpose: model.PurposeWalletTopUp})
		assert.ErrorIs(t, err, apperr.ErrInvalidOrder)

		res, err := e.payments.HandleCallback(ctx, CallbackParams{
			OrderID: checkout.OrderID, Purpose: model.PurposeWalletTopUp, UserID: p.User.ID,
		})
		require.NoError(t, err)
		require.NotNil(t, res.Wallet)
		assert.True(t, res.Wallet.Balance.Equal(dec("500")))

		res, err = e.payments.HandleCallback(ctx, CallbackParams{
			OrderID: checkout.OrderID, Purpose: model.PurposeWalletTopUp, UserID: p.User.ID,
		})
		require.NoError(t, err)
		assert.True(t, res.AlreadyProcessed)
		assert.True(t, e.wallet(t, p.Wallet.ID).Balance.Equal(dec("500")))
		assert.EqualValues(t, 1, e.outboxCount(t, model.EventWalletToppedUp))
	})

	t.Run("换套餐", func(t *testing.T) {
		checkout, err := e.payments.StartPlanUpgrade(ctx, p.User.ID, credit.ID)
		require.NoError(t, err)
		require.NotNil(t, checkout.PlanID)

		_, err = e.payments.HandleCallback(ctx, CallbackParams{
			OrderID: checkout.OrderID, Purpose: model.PurposePlanUpgrade, UserID: p.User.ID,
		})
		assert.ErrorIs(t, err, apperr.ErrInvalidCallback)

		wrong := lifetime.ID
		_, err = e.payments.HandleCallback(ctx, CallbackParams{
			OrderID: checkout.OrderID, Purpose: model.PurposePlanUpgrade, PlanID: &wrong, UserID: p.User.ID,
		})
		assert.ErrorIs(t, err, apperr.ErrInvalidOrder)

		res, err := e.payments.HandleCallback(ctx, CallbackParams{
			OrderID: checkout.OrderID, Purpose: model.PurposePlanUpgrade, PlanID: &credit.ID, UserID: p.User.ID,
		})
		require.NoError(t, err)
		assert.True(t, res.Wallet.Balance.Equal(dec("1300")))

		sub, plan, err := e.subs.PlanDetails(ctx, p.Partner.ID)
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, credit.ID, plan.ID)

		var active int64
		require.NoError(t, e.db.Model(&model.PartnerSubscription{}).
			Where("partner_id = ? AND is_active = ?", p.Partner.ID, true).Count(&active).Error)
		assert.EqualValues(t, 1, active)
	})
}

func TestPayService_Refund(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	svc := e.seedService(t, "gst", "1500", "1000", model.AvailableForAll)
	p := e.seedPartner(t, "ravi@example.com", "9876500001", nil)
	e.setBalance(t, p.Wallet.ID, "1000")

	order := partnerOrder(t, e, p, svc)
	_, err := e.payments.PayWithWallet(ctx, p.User.ID, order.ID)
	require.NoError(t, err)
	assert.True(t, e.wallet(t, p.Wallet.ID).Balance.IsZero())

	refunded, err := e.payments.Refund(ctx, order.ID, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRefunded, refunded.PaymentStatus)
	assert.True(t, e.wallet(t, p.Wallet.ID).Balance.Equal(dec("1000")))

	list := e.txns(t, p.Wallet.ID)
	assert.Equal(t, model.TxnTypeRefund, list[len(list)-1].Type)
	assert.EqualValues(t, 1, e.outboxCount(t, model.EventOrderRefunded))

	_, err = e.payments.Refund(ctx, order.ID, "admin@example.com")
	assert.ErrorIs(t, err, apperr.ErrRefundNotAllowed)
}

func TestInvoiceService_EnsureInvoice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedService(t, "itr", "2000", "1500", model.AvailableForAll)
	u := e.seedCustomerUser(t, "asha@example.com", "9000000001")
	order, err := e.orders.CreateOrder(ctx, u.ID, &CreateOrderInput{Slug: "itr"})
	require.NoError(t, err)

	_, err = e.invoices.EnsureInvoice(ctx, order.ID)
	assert.Error(t, err, "未付款订单不能开票")

	// 模拟付款已提交但开票失败的订单
	require.NoError(t, e.db.Model(&model.ServiceOrder{}).Where("id = ?", order.ID).
		Updates(map[string]interface{}{"payment_status": model.PaymentStatusPaid, "payment_method": model.PaymentMethodGateway}).Error)

	n, err := e.invoices.RetryMissing(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ref := e.order(t, order.ID).InvoiceRef
	require.NotNil(t, ref)

	again, err := e.invoices.EnsureInvoice(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, *ref, again)

	n, err = e.invoices.RetryMissing(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}
