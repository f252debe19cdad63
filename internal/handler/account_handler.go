package handler

import (
	"servicemart/internal/repository"
	"servicemart/internal/service"
	"servicemart/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ============================================================
// 注册、登录
// ============================================================

// Signup 暂存注册信息并发送验证码
// POST /api/v1/accounts/signup
func (h *Handler) Signup(c *gin.Context) {
	var req service.SignupInput
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.Accounts.BeginSignup(c.Request.Context(), sessionOf(c), &req); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "An OTP has been sent to your email."})
}

type otpRequest struct {
	OTP string `json:"otp" form:"otp" binding:"required"`
}

// VerifySignup 验证码正确后创建账号并登录
// POST /api/v1/accounts/signup/verify
func (h *Handler) VerifySignup(c *gin.Context) {
	var req otpRequest
	if !h.bind(c, &req) {
		return
	}
	user, err := h.svc.Accounts.CompleteSignup(c.Request.Context(), sessionOf(c), req.OTP)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login C 端登录
// POST /api/v1/accounts/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}
	user, err := h.svc.Accounts.LoginCustomer(c.Request.Context(), sessionOf(c), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, user)
}

// PartnerLogin 合作伙伴登录，未审批的账号不能登录
// POST /api/v1/partners/login
func (h *Handler) PartnerLogin(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}
	user, err := h.svc.Accounts.LoginPartner(c.Request.Context(), sessionOf(c), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, user)
}

// StaffLogin 后台登录
// POST /api/v1/admin/login
func (h *Handler) StaffLogin(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}
	user, err := h.svc.Accounts.LoginStaff(c.Request.Context(), sessionOf(c), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, user)
}

// Logout 删除服务端会话并让 cookie 失效
// POST /api/v1/accounts/logout
func (h *Handler) Logout(c *gin.Context) {
	sess := sessionOf(c)
	if err := h.sessions.Destroy(c.Request.Context(), sess); err != nil {
		h.log.Warn("删除会话失败", zap.String("session", sess.ID), zap.Error(err))
	}
	c.Set(ctxSessionDestroyed, true)
	response.Success(c, nil)
}

// ============================================================
// 找回密码
// ============================================================

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// PasswordResetOTP 发送找回密码验证码
// POST /api/v1/accounts/password-reset/otp
func (h *Handler) PasswordResetOTP(c *gin.Context) {
	var req emailRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.Accounts.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "An OTP has been sent to your email."})
}

type resetVerifyRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required"`
}

// PasswordResetVerify
// POST /api/v1/accounts/password-reset/verify
func (h *Handler) PasswordResetVerify(c *gin.Context) {
	var req resetVerifyRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.Accounts.VerifyPasswordReset(c.Request.Context(), req.Email, req.OTP); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "OTP verified. You can now set a new password."})
}

type resetRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// PasswordReset 设置新密码
// POST /api/v1/accounts/password-reset
func (h *Handler) PasswordReset(c *gin.Context) {
	var req resetRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.Accounts.ResetPassword(c.Request.Context(), req.Email, req.Password); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "Password has been reset. Please log in."})
}

// ============================================================
// 个人资料
// ============================================================

// Me 当前登录用户
// GET /api/v1/accounts/me/profile
func (h *Handler) Me(c *gin.Context) {
	response.Success(c, currentUser(c))
}

type profileRequest struct {
	FirstName string `json:"first_name" binding:"required,max=30"`
	LastName  string `json:"last_name" binding:"max=150"`
	Email     string `json:"email" binding:"required,email"`
	Phone     string `json:"phone" binding:"required,phone"`
}

// EditProfile 暂存修改并向当前邮箱发验证码
// POST /api/v1/accounts/me/profile
func (h *Handler) EditProfile(c *gin.Context) {
	var req profileRequest
	if !h.bind(c, &req) {
		return
	}
	fields := repository.ProfileFields{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
	}
	if err := h.svc.Accounts.BeginProfileEdit(c.Request.Context(), sessionOf(c), currentUser(c).ID, fields); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "An OTP has been sent to your current email."})
}

// VerifyProfile 验证码正确后应用修改
// POST /api/v1/accounts/me/profile/verify
func (h *Handler) VerifyProfile(c *gin.Context) {
	var req otpRequest
	if !h.bind(c, &req) {
		return
	}
	user, err := h.svc.Accounts.CompleteProfileEdit(c.Request.Context(), sessionOf(c), currentUser(c).ID, req.OTP)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, user)
}
