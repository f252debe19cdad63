package service

import (
	"context"
	"strings"
	"testing"

	"servicemart/internal/apperr"
	"servicemart/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderService_CreateOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedService(t, "gst", "1500", "1000", model.AvailableForAll)
	e.seedService(t, "bulk-filing", "0", "700", model.AvailableForPartners)
	u := e.seedCustomerUser(t, "asha@example.com", "9000000001")
	p := e.seedPartner(t, "ravi@example.com", "9876500001", nil)

	t.Run("C 端取用户价和账号联系方式", func(t *testing.T) {
		order, err := e.orders.CreateOrder(ctx, u.ID, &CreateOrderInput{
			Slug: "gst",
			Documents: []Upload{
				{Name: "Aadhaar", Filename: "a.pdf", Content: strings.NewReader("doc")},
			},
		})
		require.NoError(t, err)
		assert.True(t, order.Price.Equal(dec("1500")))
		assert.Equal(t, "Asha Rao", order.FullName)
		assert.Equal(t, "asha@example.com", order.Email)
		assert.Equal(t, model.PaymentStatusPending, order.PaymentStatus)
		assert.Equal(t, model.ProgressPlaced, order.ProgressStatus)

		detail, err := e.orders.GetMyOrder(ctx, u.ID, order.ID)
		require.NoError(t, err)
		require.Len(t, detail.Documents, 1)
		assert.Equal(t, "Aadhaar", detail.Documents[0].Name)

		view, err := e.orders.CheckoutOptions(ctx, u.ID, order.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{model.PaymentMethodGateway}, view.Methods)
		assert.Nil(t, view.WalletBalance)
	})

	t.Run("C 端不能买合作伙伴专属服务", func(t *testing.T) {
		_, err := e.orders.CreateOrder(ctx, u.ID, &CreateOrderInput{Slug: "bulk-filing"})
		assert.ErrorIs(t, err, apperr.ErrServiceUnavailable)
	})

	t.Run("合作伙伴必须选择客户", func(t *testing.T) {
		_, err := e.orders.CreateOrder(ctx, p.User.ID, &CreateOrderInput{Slug: "gst"})
		assert.ErrorIs(t, err, apperr.ErrInvalidParam)
	})

	t.Run("合作伙伴取合作价和客户联系方式", func(t *testing.T) {
		order := partnerOrder(t, e, p, &model.Service{Slug: "bulk-filing"})
		assert.True(t, order.Price.Equal(dec("700")))
		assert.Equal(t, "Meena Shah", order.FullName)
		require.NotNil(t, order.CustomerID)

		view, err := e.orders.CheckoutOptions(ctx, p.User.ID, order.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{model.PaymentMethodWallet, model.PaymentMethodGateway}, view.Methods)
		require.NotNil(t, view.WalletBalance)
		assert.NotEmpty(t, view.TopUpURL)
	})

	t.Run("附件缺少名称", func(t *testing.T) {
		_, err := e.orders.CreateOrder(ctx, u.ID, &CreateOrderInput{
			Slug:      "gst",
			Documents: []Upload{{Filename: "a.pdf", Content: strings.NewReader("doc")}},
		})
		assert.ErrorIs(t, err, apperr.ErrInvalidParam)
	})

	t.Run("只能看到自己的订单", func(t *testing.T) {
		list, total, err := e.orders.ListMyOrders(ctx, u.ID, "", 1, 20)
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		_, err = e.orders.GetMyOrder(ctx, p.User.ID, list[0].ID)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})
}

func TestOrderService_Catalog(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedService(t, "gst", "1500", "1000", model.AvailableForAll)
	e.seedService(t, "personal-itr", "900", "0", model.AvailableForUser)
	e.seedService(t, "bulk-filing", "0", "700", model.AvailableForPartners)
	p := e.seedPartner(t, "ravi@example.com", "9876500001", nil)

	anon, err := e.orders.ListServices(ctx, "", "", 0)
	require.NoError(t, err)
	assert.Len(t, anon, 2)

	partnerView, err := e.orders.ListServices(ctx, "", "", p.User.ID)
	require.NoError(t, err)
	slugs := make([]string, 0, len(partnerView))
	for _, s := range partnerView {
		slugs = append(slugs, s.Slug)
	}
	assert.ElementsMatch(t, []string{"gst", "bulk-filing"}, slugs)
}

func TestOrderService_Progress(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedService(t, "gst", "1500", "1000", model.AvailableForAll)
	u := e.seedCustomerUser(t, "asha@example.com", "9000000001")
	order, err := e.orders.CreateOrder(ctx, u.ID, &CreateOrderInput{Slug: "gst"})
	require.NoError(t, err)

	_, err = e.orders.UpdateProgress(ctx, order.ID, model.ProgressCompleted)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := e.orders.UpdateProgress(ctx, order.ID, model.ProgressInProgress)
	require.NoError(t, err)
	assert.Equal(t, model.ProgressInProgress, got.ProgressStatus)

	got, err = e.orders.UpdateProgress(ctx, order.ID, model.ProgressCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.ProgressCompleted, got.ProgressStatus)

	_, err = e.orders.UpdateProgress(ctx, order.ID, model.ProgressCancelled)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err = e.orders.AttachReturnedDocument(ctx, order.ID,
		&Upload{Name: "returned_document", Filename: "ack.pdf", Content: strings.NewReader("ack")}, " filed ")
	require.NoError(t, err)
	require.NotNil(t, got.ReturnedDocument)
	assert.Equal(t, "filed", got.Remarks)
}

func TestOrderService_PriceSnapshot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	svc := e.seedService(t, "gst", "1500", "1000", model.AvailableForAll)
	u := e.seedCustomerUser(t, "asha@example.com", "9000000001")
	p := e.seedPartner(t, "ravi@example.com", "9876500001", nil)

	b2c, err := e.orders.CreateOrder(ctx, u.ID, &CreateOrderInput{Slug: "gst"})
	require.NoError(t, err)
	b2b := partnerOrder(t, e, p, svc)

	require.NoError(t, e.db.Model(&model.Service{}).Where("id = ?", svc.ID).Updates(map[string]interface{}{
		"price_user":            dec("1800"),
		"price_partner_default": dec("1200"),
	}).Error)

	// 已有订单价格不随目录变化
	assert.True(t, e.order(t, b2c.ID).Price.Equal(dec("1500")))
	assert.True(t, e.order(t, b2b.ID).Price.Equal(dec("1000")))

	fresh, err := e.orders.CreateOrder(ctx, u.ID, &CreateOrderInput{Slug: "gst"})
	require.NoError(t, err)
	assert.True(t, fresh.Price.Equal(dec("1800")))

	checkout, err := e.payments.StartServiceCheckout(ctx, u.ID, b2c.ID)
	require.NoError(t, err)
	assert.True(t, checkout.Amount.Equal(dec("1500")))
}
