package handler

import (
	"errors"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	phoneRegex   = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	pincodeRegex = regexp.MustCompile(`^[1-9][0-9]{5}$`)
)

// RegisterValidators 在 gin 的校验引擎上注册 phone / pincode 规则，启动时调用一次
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin 校验引擎不是 validator/v10")
	}
	if err := v.RegisterValidation("phone", validatePhone); err != nil {
		return err
	}
	return v.RegisterValidation("pincode", validatePincode)
}

// validatePhone 允许带 + 前缀和空格、短横线分隔
func validatePhone(fl validator.FieldLevel) bool {
	phone := strings.NewReplacer(" ", "", "-", "").Replace(fl.Field().String())
	return phoneRegex.MatchString(phone)
}

func validatePincode(fl validator.FieldLevel) bool {
	return pincodeRegex.MatchString(strings.TrimSpace(fl.Field().String()))
}

// bindingMessage 把校验错误转成一句对外提示
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "参数错误: " + err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "Enter a valid email address."
	case "phone":
		return "Enter a valid phone number."
	case "pincode":
		return "Enter a valid 6 digit pincode."
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	}
	return fe.Field() + " is invalid"
}
