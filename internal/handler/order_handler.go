package handler

import (
	"path"
	"strconv"

	"servicemart/internal/model"
	"servicemart/internal/service"
	"servicemart/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 服务目录
// ============================================================

// optionalUserID 目录页不要求登录，登录用户按身份过滤可见服务
func (h *Handler) optionalUserID(c *gin.Context) int64 {
	user, err := h.svc.Accounts.CurrentUser(c.Request.Context(), sessionOf(c))
	if err != nil {
		return 0
	}
	return user.ID
}

// ListServices
// GET /api/v1/services?category=&keyword=
func (h *Handler) ListServices(c *gin.Context) {
	list, err := h.svc.Orders.ListServices(c.Request.Context(), c.Query("category"), c.Query("keyword"), h.optionalUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, list)
}

// GetService
// GET /api/v1/services/:slug
func (h *Handler) GetService(c *gin.Context) {
	svc, err := h.svc.Orders.GetService(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, svc)
}

// Categories
// GET /api/v1/categories
func (h *Handler) Categories(c *gin.Context) {
	list, err := h.svc.Orders.Categories(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, list)
}

// ============================================================
// 订单
// ============================================================

type createOrderRequest struct {
	CustomerID     *int64 `form:"customer_id"`
	FullName       string `form:"full_name" binding:"max=255"`
	Email          string `form:"email" binding:"omitempty,email"`
	Phone          string `form:"phone" binding:"omitempty,phone"`
	AdditionalInfo string `form:"additional_info"`
}

// CreateOrder 下单（multipart），附件字段 documents，名称按顺序放在 document_names
// POST /api/v1/services/:slug/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if !h.bind(c, &req) {
		return
	}
	in := &service.CreateOrderInput{
		Slug:           c.Param("slug"),
		CustomerID:     req.CustomerID,
		FullName:       req.FullName,
		Email:          req.Email,
		Phone:          req.Phone,
		AdditionalInfo: req.AdditionalInfo,
	}

	var files openedFiles
	defer files.Close()
	if form, err := c.MultipartForm(); err == nil {
		names := form.Value["document_names"]
		for i, fh := range form.File["documents"] {
			r, err := files.open(fh)
			if err != nil {
				response.ParamError(c, "无法读取上传文件")
				return
			}
			name := fh.Filename
			if i < len(names) && names[i] != "" {
				name = names[i]
			}
			in.Documents = append(in.Documents, service.Upload{Name: name, Filename: fh.Filename, Content: r})
		}
	}

	order, err := h.svc.Orders.CreateOrder(c.Request.Context(), currentUser(c).ID, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// MyOrders 我的订单
// GET /api/v1/accounts/me/orders?keyword=
func (h *Handler) MyOrders(c *gin.Context) {
	page, size := pageParams(c)
	list, total, err := h.svc.Orders.ListMyOrders(c.Request.Context(), currentUser(c).ID, c.Query("keyword"), page, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, pageOf(list, total, page, size))
}

// GetOrder 订单详情和附件
// GET /api/v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.svc.Orders.GetMyOrder(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, detail)
}

// AddOrderDocument 追加附件（multipart: name, file）
// POST /api/v1/orders/:id/documents
func (h *Handler) AddOrderDocument(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.ParamError(c, "file is required")
		return
	}
	var files openedFiles
	defer files.Close()
	r, err := files.open(fh)
	if err != nil {
		response.ParamError(c, "无法读取上传文件")
		return
	}
	doc, err := h.svc.Orders.AddDocument(c.Request.Context(), currentUser(c).ID, id, service.Upload{
		Name:     c.PostForm("name"),
		Filename: fh.Filename,
		Content:  r,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, doc)
}

// CheckoutOptions 结算页
// GET /api/v1/orders/:id/checkout-options
func (h *Handler) CheckoutOptions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	view, err := h.svc.Orders.CheckoutOptions(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, view)
}

// PayWithWallet 钱包支付，余额不足时返回充值地址
// POST /api/v1/orders/:id/pay/wallet
func (h *Handler) PayWithWallet(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.svc.Payments.PayWithWallet(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// PayWithGateway 登记网关支付并返回跳转参数
// POST /api/v1/orders/:id/pay/gateway
func (h *Handler) PayWithGateway(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	checkout, err := h.svc.Payments.StartServiceCheckout(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, checkout)
}

// DownloadInvoice 下载发票。已付款但发票还没生成时当场补开
// GET /api/v1/orders/:id/invoice
func (h *Handler) DownloadInvoice(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	detail, err := h.svc.Orders.GetMyOrder(ctx, currentUser(c).ID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	order := detail.Order
	if order.PaymentStatus != model.PaymentStatusPaid && order.PaymentStatus != model.PaymentStatusRefunded {
		response.BusinessError(c, response.CodeNotFound, "Invoice is available after payment.")
		return
	}

	ref := ""
	if order.InvoiceRef != nil {
		ref = *order.InvoiceRef
	} else if ref, err = h.svc.Invoices.EnsureInvoice(ctx, order.ID); err != nil {
		h.fail(c, err)
		return
	}

	f, err := h.store.Open(ctx, ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()
	c.DataFromReader(200, -1, "application/pdf", f, map[string]string{
		"Content-Disposition": `attachment; filename="` + path.Base(ref) + `"`,
	})
}

// ============================================================
// 支付网关
// ============================================================

// PaymentPage 网关页面所需的订单信息
// GET /api/v1/payments/page?order_id=&purpose=
func (h *Handler) PaymentPage(c *gin.Context) {
	checkout, err := h.svc.Payments.PaymentPage(c.Request.Context(), c.Query("order_id"), c.Query("purpose"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, checkout)
}

type callbackRequest struct {
	OrderID string `json:"order_id" form:"order_id" binding:"required"`
	Purpose string `json:"purpose" form:"purpose" binding:"required"`
	PlanID  string `json:"plan_id" form:"plan_id"`
}

// PaymentCallback 网关支付成功回调
// POST /api/v1/payments/callback
func (h *Handler) PaymentCallback(c *gin.Context) {
	var req callbackRequest
	if !h.bind(c, &req) {
		return
	}
	params := service.CallbackParams{
		OrderID: req.OrderID,
		Purpose: req.Purpose,
		UserID:  h.optionalUserID(c),
	}
	if req.PlanID != "" {
		planID, err := strconv.ParseInt(req.PlanID, 10, 64)
		if err != nil {
			response.ParamError(c, "plan_id 参数错误")
			return
		}
		params.PlanID = &planID
	}

	result, err := h.svc.Payments.HandleCallback(c.Request.Context(), params)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

type failureRequest struct {
	OrderID string `json:"order_id" form:"order_id" binding:"required"`
}

// PaymentFailure 网关支付失败回调
// POST /api/v1/payments/failure
func (h *Handler) PaymentFailure(c *gin.Context) {
	var req failureRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.Payments.FailGatewayPayment(c.Request.Context(), req.OrderID); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "Payment failed. You can retry from your orders."})
}
