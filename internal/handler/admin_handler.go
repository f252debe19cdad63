package handler

import (
	"errors"
	"strings"
	"time"

	"servicemart/internal/admin"
	"servicemart/internal/service"
	"servicemart/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AdminDashboard 后台统计
// GET /api/v1/admin/dashboard
func (h *Handler) AdminDashboard(c *gin.Context) {
	d, err := h.svc.Admin.Dashboard(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, d)
}

// ============================================================
// 入驻审批
// ============================================================

// ListPartnerRequests
// GET /api/v1/admin/partner-requests?payment_status=&approval_status=
func (h *Handler) ListPartnerRequests(c *gin.Context) {
	page, size := pageParams(c)
	list, total, err := h.svc.Approvals.ListRequests(c.Request.Context(),
		c.Query("payment_status"), c.Query("approval_status"), page, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, pageOf(list, total, page, size))
}

// GetPartnerRequest 申请详情和证件
// GET /api/v1/admin/partner-requests/:id
func (h *Handler) GetPartnerRequest(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.svc.Approvals.GetRequest(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, detail)
}

// ApprovePartnerRequest
// POST /api/v1/admin/partner-requests/:id/approve
func (h *Handler) ApprovePartnerRequest(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	result, err := h.svc.Approvals.Approve(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

type batchApproveRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1,max=100"`
}

// ApprovePartnerRequests 批量审批，单条失败不影响其他
// POST /api/v1/admin/batch/partner-requests/approve
func (h *Handler) ApprovePartnerRequests(c *gin.Context) {
	var req batchApproveRequest
	if !h.bind(c, &req) {
		return
	}
	response.Success(c, h.svc.Approvals.ApproveBatch(c.Request.Context(), req.IDs))
}

// CreatePartner 后台直接开通合作伙伴
// POST /api/v1/admin/partners
func (h *Handler) CreatePartner(c *gin.Context) {
	var req service.AdminPartnerInput
	if !h.bind(c, &req) {
		return
	}
	result, err := h.svc.Partners.CreatePartnerAccount(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 订单办理
// ============================================================

type progressRequest struct {
	Status string `json:"status" binding:"required,oneof=placed in_progress completed cancelled"`
}

// UpdateOrderProgress
// POST /api/v1/admin/orders/:id/progress
func (h *Handler) UpdateOrderProgress(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req progressRequest
	if !h.bind(c, &req) {
		return
	}
	order, err := h.svc.Orders.UpdateProgress(c.Request.Context(), id, req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// AttachReturnedDocument 上传办理结果（multipart: file 可选, remarks）
// POST /api/v1/admin/orders/:id/returned-document
func (h *Handler) AttachReturnedDocument(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var files openedFiles
	defer files.Close()

	var up *service.Upload
	if fh, err := c.FormFile("file"); err == nil {
		r, err := files.open(fh)
		if err != nil {
			response.ParamError(c, "无法读取上传文件")
			return
		}
		up = &service.Upload{Name: "returned_document", Filename: fh.Filename, Content: r}
	}

	order, err := h.svc.Orders.AttachReturnedDocument(c.Request.Context(), id, up, c.PostForm("remarks"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// RefundOrder
// POST /api/v1/admin/orders/:id/refund
func (h *Handler) RefundOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.svc.Payments.Refund(c.Request.Context(), id, currentUser(c).Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// ============================================================
// 钱包
// ============================================================

type setBalanceRequest struct {
	Balance   decimal.Decimal `json:"balance"`
	ExpiresAt *time.Time      `json:"balance_expires_at"`
}

// SetWalletBalance 直接设置余额，差额记调整流水
// PUT /api/v1/admin/wallets/:id
func (h *Handler) SetWalletBalance(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req setBalanceRequest
	if !h.bind(c, &req) {
		return
	}
	wallet, err := h.svc.Wallets.AdminSetBalance(c.Request.Context(), id, req.Balance, req.ExpiresAt, currentUser(c).Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, wallet)
}

// ============================================================
// 维护
// ============================================================

// RunExpirySweep 手动触发一次过期清理
// POST /api/v1/admin/maintenance/expiry-sweep
func (h *Handler) RunExpirySweep(c *gin.Context) {
	report, err := h.svc.Wallets.ExpireBalances(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, report)
}

// BackfillIDs 补齐历史数据的编号
// POST /api/v1/admin/maintenance/backfill-ids
func (h *Handler) BackfillIDs(c *gin.Context) {
	report, err := h.svc.Admin.BackfillIDs(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, report)
}

// RequeueOutbox 失败的事件重新投递
// POST /api/v1/admin/maintenance/outbox/requeue
func (h *Handler) RequeueOutbox(c *gin.Context) {
	n, err := h.svc.Admin.RequeueFailedEvents(c.Request.Context(), 500)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"requeued": n})
}

// ============================================================
// 通用实体浏览
// ============================================================

// ListEntities 可浏览的实体
// GET /api/v1/admin/entities
func (h *Handler) ListEntities(c *gin.Context) {
	response.Success(c, h.svc.Registry.Descriptors())
}

// reservedQuery 列表接口自身使用的参数，其余 query 当作过滤条件
var reservedQuery = map[string]bool{"page": true, "page_size": true, "search": true}

// ListEntityRows
// GET /api/v1/admin/entities/:name?search=&page=&<field>=<value>
func (h *Handler) ListEntityRows(c *gin.Context) {
	d, err := h.svc.Registry.Lookup(c.Param("name"))
	if err != nil {
		response.BusinessError(c, response.CodeNotFound, err.Error())
		return
	}
	page, size := pageParams(c)
	q := admin.Query{Page: page, PageSize: size, Search: c.Query("search"), Filters: map[string]string{}}
	for k, v := range c.Request.URL.Query() {
		if reservedQuery[k] || len(v) == 0 || strings.TrimSpace(v[0]) == "" {
			continue
		}
		q.Filters[k] = v[0]
	}

	rows, total, err := d.List(c.Request.Context(), q)
	if err != nil {
		if errors.Is(err, admin.ErrNotFilterable) {
			response.ParamError(c, err.Error())
			return
		}
		h.fail(c, err)
		return
	}
	response.Success(c, pageOf(rows, total, page, size))
}

// GetEntityRow
// GET /api/v1/admin/entities/:name/:id
func (h *Handler) GetEntityRow(c *gin.Context) {
	d, err := h.svc.Registry.Lookup(c.Param("name"))
	if err != nil {
		response.BusinessError(c, response.CodeNotFound, err.Error())
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	row, err := d.Get(c.Request.Context(), id)
	if errors.Is(err, admin.ErrNotFound) {
		response.BusinessError(c, response.CodeNotFound, err.Error())
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, row)
}
