package repository

import (
	"errors"

	"servicemart/internal/apperr"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound         = apperr.New(apperr.KindNotFound, apperr.CodeUserNotFound, "User not found")
	ErrPartnerNotFound      = apperr.New(apperr.KindNotFound, apperr.CodePartnerNotFound, "Partner not found")
	ErrCustomerNotFound     = apperr.New(apperr.KindNotFound, apperr.CodeCustomerNotFound, "Customer not found")
	ErrPlanNotFound         = apperr.New(apperr.KindNotFound, apperr.CodePlanNotFound, "Plan not found")
	ErrRequestNotFound      = apperr.New(apperr.KindNotFound, apperr.CodeRequestNotFound, "Partner request not found")
	ErrServiceNotFound      = apperr.New(apperr.KindNotFound, apperr.CodeServiceNotFound, "Service not found")
	ErrOrderNotFound        = apperr.New(apperr.KindNotFound, apperr.CodeOrderNotFound, "Order not found")
	ErrDocumentTypeNotFound = apperr.New(apperr.KindNotFound, apperr.CodeDocumentTypeNotFound, "Document type not found")
	ErrIntentNotFound       = apperr.New(apperr.KindNotFound, apperr.CodeIntentNotFound, "Payment not found")
	ErrWalletNotFound       = apperr.ErrWalletNotFound
)

// notFound 把 gorm.ErrRecordNotFound 翻译成对应的业务错误
func notFound(err error, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}

func paginate(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return (page - 1) * pageSize, pageSize
}
