package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Purpose 验证码用途，同时作为存储键和限流键的一部分
type Purpose string

const (
	PurposeSignup        Purpose = "signup"
	PurposeProfileUpdate Purpose = "profile_update"
	PurposePasswordReset Purpose = "password_reset"
	PurposePartnerSignup Purpose = "partner_signup"
)

// Label 邮件标题里展示的用途，例如 password_reset -> Password Reset
func (p Purpose) Label() string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(p), "_", " "))
}

// SurfacesSendFailure 发送失败是否要返回给调用方。资料修改流程只记日志
func (p Purpose) SurfacesSendFailure() bool {
	return p != PurposeProfileUpdate
}

// Sender 验证码投递
type Sender interface {
	SendOTP(ctx context.Context, email, code, purposeLabel string) error
}

// randomCode 每一位均匀取 0-9，允许前导零
func randomCode(digits int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("生成验证码失败: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}
