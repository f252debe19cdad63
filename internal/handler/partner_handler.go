package handler

import (
	"strconv"
	"strings"

	"servicemart/internal/service"
	"servicemart/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ============================================================
// 入驻申请（公开接口）
// ============================================================

// PartnerSignupOTP 向申请邮箱发送验证码
// POST /api/v1/partners/signup/otp
func (h *Handler) PartnerSignupOTP(c *gin.Context) {
	var req emailRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.Approvals.SendPartnerSignupOTP(c.Request.Context(), sessionOf(c), req.Email); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "An OTP has been sent to your email."})
}

// PartnerSignupVerify
// POST /api/v1/partners/signup/verify
func (h *Handler) PartnerSignupVerify(c *gin.Context) {
	var req otpRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.Approvals.VerifyPartnerSignupOTP(c.Request.Context(), sessionOf(c), req.OTP); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "Email verified."})
}

// CheckPartner 邮箱或手机号是否已被合作伙伴使用
// GET /api/v1/partners/check?email=&phone=
func (h *Handler) CheckPartner(c *gin.Context) {
	result, err := h.svc.Partners.CheckPartnerExistence(c.Request.Context(), c.Query("email"), c.Query("phone"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// documentFieldPrefix 申请表单中证件文件的字段名前缀，后接证件类型 id
const documentFieldPrefix = "document_"

// SubmitPartnerRequest 提交入驻申请（multipart），返回套餐支付跳转参数
// POST /api/v1/partners/requests
func (h *Handler) SubmitPartnerRequest(c *gin.Context) {
	var req service.SubmitRequestInput
	if !h.bind(c, &req) {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.ParamError(c, "Please upload the required documents.")
		return
	}
	var files openedFiles
	defer files.Close()
	for field, headers := range form.File {
		if !strings.HasPrefix(field, documentFieldPrefix) || len(headers) == 0 {
			continue
		}
		typeID, err := strconv.ParseInt(strings.TrimPrefix(field, documentFieldPrefix), 10, 64)
		if err != nil {
			response.ParamError(c, field+" 参数错误")
			return
		}
		r, err := files.open(headers[0])
		if err != nil {
			response.ParamError(c, "无法读取上传文件")
			return
		}
		req.Documents = append(req.Documents, service.RequestUpload{
			DocumentTypeID: typeID,
			Filename:       headers[0].Filename,
			Content:        r,
		})
	}

	result, err := h.svc.Approvals.SubmitRequest(c.Request.Context(), sessionOf(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// Plans 可购买的套餐
// GET /api/v1/partners/plans
func (h *Handler) Plans(c *gin.Context) {
	plans, err := h.svc.Subscriptions.Plans(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, plans)
}

// DocumentTypes 申请需要上传的证件类型
// GET /api/v1/partners/document-types
func (h *Handler) DocumentTypes(c *gin.Context) {
	types, err := h.svc.Approvals.DocumentTypes(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, types)
}

// ============================================================
// 合作伙伴工作台
// ============================================================

// PartnerDashboard
// GET /api/v1/partners/me/dashboard
func (h *Handler) PartnerDashboard(c *gin.Context) {
	d, err := h.svc.Partners.Dashboard(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, d)
}

// PartnerWallet 余额和流水
// GET /api/v1/partners/me/wallet
func (h *Handler) PartnerWallet(c *gin.Context) {
	page, size := pageParams(c)
	d, err := h.svc.Partners.WalletDetails(c.Request.Context(), currentUser(c).ID, page, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"wallet":       d.Wallet,
		"transactions": pageOf(d.Transactions, d.Total, page, size),
	})
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TopUp 发起钱包充值
// POST /api/v1/partners/me/wallet/top-up
func (h *Handler) TopUp(c *gin.Context) {
	var req topUpRequest
	if !h.bind(c, &req) {
		return
	}
	checkout, err := h.svc.Payments.StartWalletTopUp(c.Request.Context(), currentUser(c).ID, req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, checkout)
}

// MyPlan 当前套餐
// GET /api/v1/partners/me/plan
func (h *Handler) MyPlan(c *gin.Context) {
	p, err := h.svc.Partners.MyPlan(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, p)
}

type upgradeRequest struct {
	PlanID int64 `json:"plan_id" binding:"required"`
}

// UpgradePlan 发起套餐升级支付
// POST /api/v1/partners/me/plan/upgrade
func (h *Handler) UpgradePlan(c *gin.Context) {
	var req upgradeRequest
	if !h.bind(c, &req) {
		return
	}
	checkout, err := h.svc.Payments.StartPlanUpgrade(c.Request.Context(), currentUser(c).ID, req.PlanID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, checkout)
}

// ============================================================
// 合作伙伴名下客户
// ============================================================

// ListCustomers
// GET /api/v1/partners/me/customers?keyword=
func (h *Handler) ListCustomers(c *gin.Context) {
	page, size := pageParams(c)
	list, total, err := h.svc.Partners.ListCustomers(c.Request.Context(), currentUser(c).ID, c.Query("keyword"), page, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, pageOf(list, total, page, size))
}

// CreateCustomer
// POST /api/v1/partners/me/customers
func (h *Handler) CreateCustomer(c *gin.Context) {
	var req service.CustomerInput
	if !h.bind(c, &req) {
		return
	}
	customer, err := h.svc.Partners.CreateCustomer(c.Request.Context(), currentUser(c).ID, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, customer)
}

// GetCustomer
// GET /api/v1/partners/me/customers/:id
func (h *Handler) GetCustomer(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	customer, err := h.svc.Partners.GetCustomer(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, customer)
}

// UpdateCustomer
// PUT /api/v1/partners/me/customers/:id
func (h *Handler) UpdateCustomer(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req service.CustomerInput
	if !h.bind(c, &req) {
		return
	}
	customer, err := h.svc.Partners.UpdateCustomer(c.Request.Context(), currentUser(c).ID, id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, customer)
}

// DeleteCustomer
// DELETE /api/v1/partners/me/customers/:id
func (h *Handler) DeleteCustomer(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Partners.DeleteCustomer(c.Request.Context(), currentUser(c).ID, id); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, nil)
}
