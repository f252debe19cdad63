package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"strconv"

	"servicemart/internal/admin"
	"servicemart/internal/apperr"
	"servicemart/internal/config"
	"servicemart/internal/infrastructure/session"
	"servicemart/internal/infrastructure/storage"
	"servicemart/internal/service"
	"servicemart/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services handler 依赖的全部业务服务
type Services struct {
	Accounts      *service.AccountService
	Partners      *service.PartnerService
	Approvals     *service.ApprovalService
	Orders        *service.OrderService
	Payments      *service.PayService
	Wallets       *service.WalletService
	Subscriptions *service.SubscriptionService
	Invoices      *service.InvoiceService
	Admin         *service.AdminService
	Registry      *admin.Registry
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	svc      Services
	sessions *session.Store
	store    storage.Store
	cfg      *config.Config
	log      *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(svc Services, sessions *session.Store, store storage.Store, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{
		svc:      svc,
		sessions: sessions,
		store:    store,
		cfg:      cfg,
		log:      log.Named("Handler"),
	}
}

// fail 把业务错误映射成统一响应。余额不足时附带充值地址
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	if errors.Is(err, apperr.ErrInsufficientFunds) {
		response.ErrorWithData(c, apperr.CodeInsufficientFunds, apperr.ErrInsufficientFunds.Msg, gin.H{
			"top_up_url": h.cfg.Payment.TopUpPath,
		})
		return
	}

	e, ok := apperr.As(err)
	if !ok {
		h.log.Error("请求处理失败", zap.String("path", c.Request.URL.Path), zap.Error(err))
		response.ServerError(c, "服务器内部错误")
		return
	}
	switch e.Code {
	case apperr.CodeUnauthorized:
		response.Unauthorized(c, e.Msg)
	case apperr.CodeForbidden:
		response.Forbidden(c, e.Msg)
	default:
		if e.Kind == apperr.KindIntegration {
			h.log.Warn("外部依赖失败", zap.Int("code", e.Code), zap.Error(err))
		}
		response.BusinessError(c, e.Code, e.Msg)
	}
}

// bind 绑定请求体，失败时已写出参数错误
func (h *Handler) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBind(dst); err != nil {
		response.ParamError(c, bindingMessage(err))
		return false
	}
	return true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}

func pageOf(list interface{}, total int64, page, size int) response.Page {
	return response.Page{List: list, Total: total, Page: page, PageSize: size}
}

// idParam 解析路径中的数字 id
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return id, true
}

// openedFiles 请求中已打开的上传文件，处理结束后统一关闭
type openedFiles []io.Closer

func (o *openedFiles) open(fh *multipart.FileHeader) (io.Reader, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	*o = append(*o, f)
	return f, nil
}

func (o openedFiles) Close() {
	for _, f := range o {
		_ = f.Close()
	}
}
