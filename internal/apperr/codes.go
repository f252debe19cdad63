package apperr

const (
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
)

const (
	CodeInvalidOrder       = 1001
	CodeOrderStatusInvalid = 1002
	CodeInsufficientFunds  = 1003
	CodeDuplicateRequest   = 1004
	CodeWalletNotFound     = 1005
	CodePaymentFailed      = 1006
	CodeRefundNotAllowed   = 1007
	CodeInvalidOTP         = 1008
	CodeOTPExpired         = 1009
	CodeEmailTaken         = 1010
	CodePhoneTaken         = 1011
	CodeSendFailed         = 1012
	CodeInvalidCredentials = 1013
	CodePartnerPortal      = 1014
	CodePartnerPending     = 1015
	CodeRequestNotEligible = 1016
	CodePartnerIDMissing   = 1017
	CodeConsistency        = 1018
	CodeRateLimited        = 1019
	CodeSessionExpired     = 1020
	CodePartnerExists      = 1021
	CodeCustomerExists     = 1022
	CodeNotPartner         = 1023
	CodeInvalidCallback    = 1024
	CodeServiceUnavailable = 1025
	CodeInvalidTransition  = 1026
	CodeInvalidAmount      = 1027
	CodeLockBusy           = 1028
)

// 各类实体不存在，由 repository 层使用
const (
	CodeUserNotFound         = 1030
	CodePartnerNotFound      = 1031
	CodeCustomerNotFound     = 1032
	CodePlanNotFound         = 1033
	CodeRequestNotFound      = 1034
	CodeServiceNotFound      = 1035
	CodeOrderNotFound        = 1036
	CodeDocumentTypeNotFound = 1037
	CodeIntentNotFound       = 1038
)

// 通用
var (
	ErrInvalidParam = New(KindValidation, CodeParamError, "invalid parameter")
	ErrUnauthorized = New(KindUnauthorized, CodeUnauthorized, "login required")
	ErrForbidden    = New(KindForbidden, CodeForbidden, "permission denied")
	ErrNotFound     = New(KindNotFound, CodeNotFound, "not found")
	ErrConsistency  = New(KindConflict, CodeConsistency, "data consistency violation")
	ErrLockBusy     = New(KindConflict, CodeLockBusy, "system busy, please retry")
)

// 账户与验证码
var (
	ErrInvalidOTP         = New(KindValidation, CodeInvalidOTP, "Invalid OTP")
	ErrOTPExpired         = New(KindValidation, CodeOTPExpired, "OTP expired or not requested")
	ErrSendFailed         = New(KindIntegration, CodeSendFailed, "Failed to send OTP email.")
	ErrRateLimited        = New(KindValidation, CodeRateLimited, "Too many OTP requests, please try again later")
	ErrSessionExpired     = New(KindValidation, CodeSessionExpired, "Session expired, please start again")
	ErrEmailTaken         = New(KindValidation, CodeEmailTaken, "Email already registered")
	ErrPhoneTaken         = New(KindValidation, CodePhoneTaken, "Phone number already registered")
	ErrInvalidCredentials = New(KindUnauthorized, CodeInvalidCredentials, "Invalid email or password")
	ErrPartnerPortal      = New(KindForbidden, CodePartnerPortal, "This is a partner account. Please use the partner portal.")
	ErrPartnerPending     = New(KindForbidden, CodePartnerPending, "Partner account pending approval or does not exist")
)

// 合作伙伴
var (
	ErrPartnerIDMissing   = New(KindConflict, CodePartnerIDMissing, "partner has no partner_id")
	ErrRequestNotEligible = New(KindValidation, CodeRequestNotEligible, "Partner request is not paid or already approved")
	ErrPartnerExists      = New(KindValidation, CodePartnerExists, "A partner with this email or phone already exists")
	ErrCustomerExists     = New(KindValidation, CodeCustomerExists, "A customer with this email already exists")
	ErrNotPartner         = New(KindForbidden, CodeNotPartner, "Available to partners only")
	ErrServiceUnavailable = New(KindValidation, CodeServiceUnavailable, "Service is not available")
	ErrInvalidTransition  = New(KindValidation, CodeInvalidTransition, "Status transition not allowed")
	ErrRefundNotAllowed   = New(KindValidation, CodeRefundNotAllowed, "Only paid orders can be refunded")
	ErrOrderStatusInvalid = New(KindValidation, CodeOrderStatusInvalid, "Order is not payable")
	ErrDuplicateRequest   = New(KindValidation, CodeDuplicateRequest, "Duplicate request")
)

// 钱包与支付
var (
	ErrInsufficientFunds = New(KindValidation, CodeInsufficientFunds, "Insufficient wallet balance")
	ErrInvalidAmount     = New(KindValidation, CodeInvalidAmount, "Amount must be greater than zero")
	ErrWalletNotFound    = New(KindNotFound, CodeWalletNotFound, "Wallet not found")
	ErrInvalidOrder      = New(KindNotFound, CodeInvalidOrder, "Invalid order")
	ErrInvalidCallback   = New(KindValidation, CodeInvalidCallback, "Invalid payment callback")
	ErrPaymentFailed     = New(KindIntegration, CodePaymentFailed, "Payment failed")
)
