package service

import (
	"context"
	"testing"

	"servicemart/internal/apperr"
	"servicemart/internal/infrastructure/session"
	"servicemart/internal/model"
	"servicemart/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signupInput(email, phone string) *SignupInput {
	return &SignupInput{
		FirstName: "Asha",
		LastName:  "Rao",
		Email:     email,
		Phone:     phone,
		Password:  "secret123",
	}
}

func TestAccountService_Signup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	t.Run("注册成功分配 CUS 编号并登录", func(t *testing.T) {
		sess := session.New()
		require.NoError(t, e.accounts.BeginSignup(ctx, sess, signupInput("Asha@Example.com", "9000000001")))

		user, err := e.accounts.CompleteSignup(ctx, sess, e.sender.last("Asha@example.com"))
		require.NoError(t, err)
		assert.Equal(t, "Asha@example.com", user.Email)
		require.NotNil(t, user.CustomerID)
		assert.Regexp(t, `^CUS-\d{4}-00001$`, *user.CustomerID)

		current, err := e.accounts.CurrentUser(ctx, sess)
		require.NoError(t, err)
		assert.Equal(t, user.ID, current.ID)
	})

	t.Run("编号连续递增", func(t *testing.T) {
		sess := session.New()
		require.NoError(t, e.accounts.BeginSignup(ctx, sess, signupInput("second@example.com", "9000000002")))
		user, err := e.accounts.CompleteSignup(ctx, sess, e.sender.last("second@example.com"))
		require.NoError(t, err)
		assert.Regexp(t, `^CUS-\d{4}-00002$`, *user.CustomerID)
	})

	t.Run("邮箱大小写不同也算重复", func(t *testing.T) {
		err := e.accounts.BeginSignup(ctx, session.New(), signupInput("asha@EXAMPLE.com", "9000000003"))
		assert.ErrorIs(t, err, apperr.ErrEmailTaken)
	})

	t.Run("手机号重复", func(t *testing.T) {
		err := e.accounts.BeginSignup(ctx, session.New(), signupInput("third@example.com", "9000000001"))
		assert.ErrorIs(t, err, apperr.ErrPhoneTaken)
	})

	t.Run("验证码错误不建账号", func(t *testing.T) {
		sess := session.New()
		require.NoError(t, e.accounts.BeginSignup(ctx, sess, signupInput("fourth@example.com", "9000000004")))
		code := e.sender.last("fourth@example.com")
		wrong := "999999"
		if code == wrong {
			wrong = "888888"
		}
		_, err := e.accounts.CompleteSignup(ctx, sess, wrong)
		assert.ErrorIs(t, err, apperr.ErrInvalidOTP)

		var n int64
		require.NoError(t, e.db.Model(&model.User{}).Where("email = ?", "fourth@example.com").Count(&n).Error)
		assert.Zero(t, n)
	})

	t.Run("会话里没有注册信息", func(t *testing.T) {
		_, err := e.accounts.CompleteSignup(ctx, session.New(), "123456")
		assert.ErrorIs(t, err, apperr.ErrSessionExpired)
	})

	t.Run("发送失败不保留暂存数据", func(t *testing.T) {
		e.sender.fail = errSMTPDown
		defer func() { e.sender.fail = nil }()
		sess := session.New()
		err := e.accounts.BeginSignup(ctx, sess, signupInput("fifth@example.com", "9000000005"))
		assert.ErrorIs(t, err, apperr.ErrSendFailed)
		assert.False(t, sess.Has(sessPendingSignup))
	})
}

func TestAccountService_Login(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	customer := e.seedCustomerUser(t, "asha@example.com", "9000000001")
	partner := e.seedPartner(t, "ravi@example.com", "9876500001", nil)
	staff := e.seedCustomerUser(t, "admin@example.com", "9000000009")
	require.NoError(t, e.db.Model(&model.User{}).Where("id = ?", staff.ID).Update("is_staff", true).Error)

	t.Run("C 端登录，邮箱不区分大小写", func(t *testing.T) {
		sess := session.New()
		user, err := e.accounts.LoginCustomer(ctx, sess, "ASHA@example.com", "secret123")
		require.NoError(t, err)
		assert.Equal(t, customer.ID, user.ID)
	})

	t.Run("密码错误", func(t *testing.T) {
		_, err := e.accounts.LoginCustomer(ctx, session.New(), "asha@example.com", "wrong-pass")
		assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
		_, err = e.accounts.LoginCustomer(ctx, session.New(), "nobody@example.com", "secret123")
		assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	})

	t.Run("合作伙伴走 C 端入口", func(t *testing.T) {
		_, err := e.accounts.LoginCustomer(ctx, session.New(), "ravi@example.com", "secret123")
		assert.ErrorIs(t, err, apperr.ErrPartnerPortal)
	})

	t.Run("合作伙伴入口", func(t *testing.T) {
		user, err := e.accounts.LoginPartner(ctx, session.New(), "ravi@example.com", "secret123")
		require.NoError(t, err)
		assert.Equal(t, partner.User.ID, user.ID)

		_, err = e.accounts.LoginPartner(ctx, session.New(), "asha@example.com", "secret123")
		assert.ErrorIs(t, err, apperr.ErrPartnerPending)
		_, err = e.accounts.LoginPartner(ctx, session.New(), "ravi@example.com", "bad")
		assert.ErrorIs(t, err, apperr.ErrPartnerPending)
	})

	t.Run("后台入口", func(t *testing.T) {
		_, err := e.accounts.LoginStaff(ctx, session.New(), "admin@example.com", "secret123")
		require.NoError(t, err)
		_, err = e.accounts.LoginStaff(ctx, session.New(), "asha@example.com", "secret123")
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("停用账号不能登录", func(t *testing.T) {
		require.NoError(t, e.db.Model(&model.User{}).Where("id = ?", customer.ID).Update("is_active", false).Error)
		_, err := e.accounts.LoginCustomer(ctx, session.New(), "asha@example.com", "secret123")
		assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	})

	t.Run("未登录", func(t *testing.T) {
		_, err := e.accounts.CurrentUser(ctx, session.New())
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	})
}

func TestAccountService_ProfileEdit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.seedCustomerUser(t, "asha@example.com", "9000000001")
	e.seedCustomerUser(t, "other@example.com", "9000000002")

	t.Run("与他人重复", func(t *testing.T) {
		err := e.accounts.BeginProfileEdit(ctx, session.New(), user.ID, repository.ProfileFields{
			FirstName: "Asha", Email: "other@example.com", Phone: "9000000001",
		})
		assert.ErrorIs(t, err, apperr.ErrEmailTaken)
	})

	t.Run("验证后生效", func(t *testing.T) {
		sess := session.New()
		fields := repository.ProfileFields{FirstName: "Asha", LastName: "Menon", Email: "asha.menon@example.com", Phone: "9000000003"}
		require.NoError(t, e.accounts.BeginProfileEdit(ctx, sess, user.ID, fields))

		// 验证码发到原邮箱
		code := e.sender.last("asha@example.com")
		require.NotEmpty(t, code)

		var before model.User
		require.NoError(t, e.db.First(&before, user.ID).Error)
		assert.Equal(t, "asha@example.com", before.Email)

		updated, err := e.accounts.CompleteProfileEdit(ctx, sess, user.ID, code)
		require.NoError(t, err)
		assert.Equal(t, "asha.menon@example.com", updated.Email)
		assert.Equal(t, "Menon", updated.LastName)
		assert.Equal(t, "9000000003", updated.Phone)
	})

	t.Run("发送失败仍可继续", func(t *testing.T) {
		e.sender.fail = errSMTPDown
		defer func() { e.sender.fail = nil }()
		err := e.accounts.BeginProfileEdit(ctx, session.New(), user.ID, repository.ProfileFields{
			FirstName: "Asha", Email: "asha.menon@example.com", Phone: "9000000003",
		})
		assert.NoError(t, err)
	})
}

func TestAccountService_PasswordReset(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedCustomerUser(t, "asha@example.com", "9000000001")

	t.Run("账号不存在", func(t *testing.T) {
		assert.ErrorIs(t, e.accounts.RequestPasswordReset(ctx, "nobody@example.com"), apperr.ErrNotFound)
	})

	t.Run("未验证不能改密", func(t *testing.T) {
		err := e.accounts.ResetPassword(ctx, "asha@example.com", "newsecret1")
		assert.ErrorIs(t, err, apperr.ErrOTPExpired)
	})

	t.Run("完整流程", func(t *testing.T) {
		require.NoError(t, e.accounts.RequestPasswordReset(ctx, "asha@example.com"))
		code := e.sender.last("asha@example.com")

		require.NoError(t, e.accounts.VerifyPasswordReset(ctx, "asha@example.com", code))
		// 验证码只能用一次
		assert.ErrorIs(t, e.accounts.VerifyPasswordReset(ctx, "asha@example.com", code), apperr.ErrOTPExpired)

		assert.ErrorIs(t, e.accounts.ResetPassword(ctx, "asha@example.com", "short"), apperr.ErrInvalidParam)
		require.NoError(t, e.accounts.ResetPassword(ctx, "asha@example.com", "newsecret1"))

		_, err := e.accounts.LoginCustomer(ctx, session.New(), "asha@example.com", "newsecret1")
		require.NoError(t, err)

		// 授权已用掉
		assert.ErrorIs(t, e.accounts.ResetPassword(ctx, "asha@example.com", "another-1"), apperr.ErrOTPExpired)
	})

	t.Run("验证码过期", func(t *testing.T) {
		require.NoError(t, e.accounts.RequestPasswordReset(ctx, "asha@example.com"))
		code := e.sender.last("asha@example.com")
		e.mr.FastForward(e.cfg.OTP.ResetTTL + 1)
		assert.ErrorIs(t, e.accounts.VerifyPasswordReset(ctx, "asha@example.com", code), apperr.ErrOTPExpired)
	})
}
