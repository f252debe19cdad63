package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/config"
	"servicemart/internal/infrastructure/cache"
	"servicemart/internal/infrastructure/session"
	"servicemart/internal/model"
	"servicemart/internal/otp"
	"servicemart/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 会话字段
const (
	SessionUserKey = "user_id"

	sessPendingSignup  = "pending_signup"
	sessPendingProfile = "pending_profile"

	signupOTPKey  = "signup"
	profileOTPKey = "profile_update"
)

// AccountService 注册、登录、资料修改和找回密码
type AccountService struct {
	db          *gorm.DB
	cfg         *config.Config
	userRepo    *repository.UserRepository
	partnerRepo *repository.PartnerRepository
	otp         *otp.Engine
	resetStore  otp.Store
	grants      *cache.Cache
	log         *zap.Logger
}

func NewAccountService(db *gorm.DB, cfg *config.Config, engine *otp.Engine, c *cache.Cache, log *zap.Logger) *AccountService {
	return &AccountService{
		db:          db,
		cfg:         cfg,
		userRepo:    repository.NewUserRepository(db),
		partnerRepo: repository.NewPartnerRepository(db),
		otp:         engine,
		resetStore:  otp.NewRedisStore(c, cfg.OTP.ResetTTL),
		grants:      c,
		log:         log.Named("AccountService"),
	}
}

type SignupInput struct {
	FirstName string `json:"first_name" binding:"required,max=30"`
	LastName  string `json:"last_name" binding:"max=150"`
	Email     string `json:"email" binding:"required,email"`
	Phone     string `json:"phone" binding:"required,phone"`
	Password  string `json:"password" binding:"required,min=8"`
}

// pendingSignup 暂存在会话里的注册信息，密码已经哈希
type pendingSignup struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	PasswordHash string `json:"password_hash"`
}

// BeginSignup 校验邮箱和手机号未被占用，暂存注册信息并发送验证码。发送失败时不保留暂存数据
func (s *AccountService) BeginSignup(ctx context.Context, sess *session.Session, in *SignupInput) error {
	email := model.NormalizeEmail(in.Email)
	phone := strings.TrimSpace(in.Phone)
	if err := s.checkUnique(ctx, email, phone, 0); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("生成密码哈希失败: %w", err)
	}
	pending := pendingSignup{
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        email,
		Phone:        phone,
		PasswordHash: string(hash),
	}
	if err := sess.Set(sessPendingSignup, pending); err != nil {
		return err
	}

	if _, err := s.otp.Issue(ctx, otp.NewSessionStore(sess), signupOTPKey, email, otp.PurposeSignup, 0); err != nil {
		sess.Delete(sessPendingSignup)
		return err
	}
	return nil
}

// CompleteSignup 验证码正确后创建 customer 账号（分配 CUS 编号）并登录
func (s *AccountService) CompleteSignup(ctx context.Context, sess *session.Session, code string) (*model.User, error) {
	var pending pendingSignup
	ok, err := sess.Get(sessPendingSignup, &pending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.WithMsg(apperr.ErrSessionExpired, "Session expired. Please register again.")
	}

	if err := s.otp.Verify(ctx, otp.NewSessionStore(sess), signupOTPKey, otp.PurposeSignup, strings.TrimSpace(code)); err != nil {
		return nil, err
	}

	user := &model.User{
		Email:        pending.Email,
		Phone:        pending.Phone,
		FirstName:    pending.FirstName,
		LastName:     pending.LastName,
		UserType:     model.UserTypeCustomer,
		PasswordHash: pending.PasswordHash,
		IsActive:     true,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 暂存到验证之间可能被别人注册
		if err := s.checkUniqueTx(ctx, tx, user.Email, user.Phone, 0); err != nil {
			return err
		}
		return s.userRepo.Create(ctx, tx, user)
	})
	if err != nil {
		return nil, err
	}

	sess.Delete(sessPendingSignup)
	s.establish(sess, user)
	s.log.Info("注册完成", zap.Int64("userID", user.ID), zap.Stringp("customerID", user.CustomerID))
	return user, nil
}

func (s *AccountService) checkUnique(ctx context.Context, email, phone string, excludeID int64) error {
	return s.checkUniqueTx(ctx, nil, email, phone, excludeID)
}

func (s *AccountService) checkUniqueTx(ctx context.Context, tx *gorm.DB, email, phone string, excludeID int64) error {
	if taken, err := s.userRepo.EmailExists(ctx, tx, email, excludeID); err != nil {
		return err
	} else if taken {
		return apperr.ErrEmailTaken
	}
	if taken, err := s.userRepo.PhoneExists(ctx, tx, phone, excludeID); err != nil {
		return err
	} else if taken {
		return apperr.ErrPhoneTaken
	}
	return nil
}

func (s *AccountService) establish(sess *session.Session, user *model.User) {
	sess.Regenerate()
	_ = sess.Set(SessionUserKey, user.ID)
}

// Authenticate 邮箱不区分大小写。用户不存在、未激活、密码错误统一返回 ErrInvalidCredentials
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, nil, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperr.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.ErrInvalidCredentials
	}
	return user, nil
}

// LoginCustomer C 端登录，合作伙伴账号需要走合作伙伴入口
func (s *AccountService) LoginCustomer(ctx context.Context, sess *session.Session, email, password string) (*model.User, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if _, err := s.partnerRepo.GetByUserID(ctx, nil, user.ID); err == nil {
		return nil, apperr.ErrPartnerPortal
	} else if !errors.Is(err, repository.ErrPartnerNotFound) {
		return nil, err
	}
	s.establish(sess, user)
	return user, nil
}

// LoginPartner 只有已开通的合作伙伴可以登录
func (s *AccountService) LoginPartner(ctx context.Context, sess *session.Session, email, password string) (*model.User, error) {
	user, err := s.Authenticate(ctx, email, password)
	if errors.Is(err, apperr.ErrInvalidCredentials) {
		return nil, apperr.ErrPartnerPending
	}
	if err != nil {
		return nil, err
	}
	if !user.IsPartner() || !user.IsPartnerApproved {
		return nil, apperr.ErrPartnerPending
	}
	if _, err := s.partnerRepo.GetByUserID(ctx, nil, user.ID); err != nil {
		if errors.Is(err, repository.ErrPartnerNotFound) {
			return nil, apperr.ErrPartnerPending
		}
		return nil, err
	}
	s.establish(sess, user)
	return user, nil
}

// LoginStaff 后台登录
func (s *AccountService) LoginStaff(ctx context.Context, sess *session.Session, email, password string) (*model.User, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !user.IsStaff {
		return nil, apperr.ErrForbidden
	}
	s.establish(sess, user)
	return user, nil
}

// CurrentUser 会话中的登录用户，未登录返回 ErrUnauthorized
func (s *AccountService) CurrentUser(ctx context.Context, sess *session.Session) (*model.User, error) {
	var userID int64
	ok, err := sess.Get(SessionUserKey, &userID)
	if err != nil || !ok {
		return nil, apperr.ErrUnauthorized
	}
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, apperr.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperr.ErrUnauthorized
	}
	return user, nil
}

// BeginProfileEdit 暂存资料修改并向当前邮箱发验证码，验证通过后才写库。
// 发送失败只记日志
func (s *AccountService) BeginProfileEdit(ctx context.Context, sess *session.Session, userID int64, fields repository.ProfileFields) error {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return err
	}
	fields.Email = model.NormalizeEmail(fields.Email)
	fields.Phone = strings.TrimSpace(fields.Phone)
	fields.FirstName = strings.TrimSpace(fields.FirstName)
	fields.LastName = strings.TrimSpace(fields.LastName)
	if err := s.checkUnique(ctx, fields.Email, fields.Phone, user.ID); err != nil {
		return err
	}

	if err := sess.Set(sessPendingProfile, fields); err != nil {
		return err
	}
	_, err = s.otp.Issue(ctx, otp.NewSessionStore(sess), profileOTPKey, user.Email, otp.PurposeProfileUpdate, 0)
	return err
}

// CompleteProfileEdit 验证码正确后应用暂存的修改
func (s *AccountService) CompleteProfileEdit(ctx context.Context, sess *session.Session, userID int64, code string) (*model.User, error) {
	var fields repository.ProfileFields
	ok, err := sess.Get(sessPendingProfile, &fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.WithMsg(apperr.ErrSessionExpired, "No changes found to apply.")
	}
	if err := s.otp.Verify(ctx, otp.NewSessionStore(sess), profileOTPKey, otp.PurposeProfileUpdate, strings.TrimSpace(code)); err != nil {
		return nil, err
	}

	var user *model.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkUniqueTx(ctx, tx, fields.Email, fields.Phone, userID); err != nil {
			return err
		}
		if err := s.userRepo.UpdateProfile(ctx, tx, userID, fields); err != nil {
			return err
		}
		var err error
		user, err = s.userRepo.GetByID(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	sess.Delete(sessPendingProfile)
	s.log.Info("资料已更新", zap.Int64("userID", userID))
	return user, nil
}

func resetOTPKey(userID int64) string {
	return "reset:otp:" + strconv.FormatInt(userID, 10)
}

func resetGrantKey(userID int64) string {
	return "reset:grant:" + strconv.FormatInt(userID, 10)
}

// RequestPasswordReset 按邮箱找到账号，验证码按用户 ID 存入 Redis
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.userRepo.GetByEmail(ctx, nil, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return apperr.WithMsg(apperr.ErrNotFound, "No account found with that email.")
	}
	if err != nil {
		return err
	}
	_, err = s.otp.Issue(ctx, s.resetStore, resetOTPKey(user.ID), user.Email, otp.PurposePasswordReset, s.cfg.OTP.ResetTTL)
	return err
}

// VerifyPasswordReset 验证成功后发放一次性的改密授权，有效期与验证码相同
func (s *AccountService) VerifyPasswordReset(ctx context.Context, email, code string) error {
	user, err := s.userRepo.GetByEmail(ctx, nil, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return apperr.WithMsg(apperr.ErrNotFound, "Account not found.")
	}
	if err != nil {
		return err
	}
	if err := s.otp.Verify(ctx, s.resetStore, resetOTPKey(user.ID), otp.PurposePasswordReset, strings.TrimSpace(code)); err != nil {
		return err
	}
	return s.grants.Set(ctx, resetGrantKey(user.ID), "1", s.resetTTL())
}

// ResetPassword 需要先通过 VerifyPasswordReset
func (s *AccountService) ResetPassword(ctx context.Context, email, newPassword string) error {
	if len(newPassword) < 8 {
		return apperr.WithMsg(apperr.ErrInvalidParam, "Password must be at least 8 characters.")
	}
	user, err := s.userRepo.GetByEmail(ctx, nil, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return apperr.WithMsg(apperr.ErrNotFound, "Account not found.")
	}
	if err != nil {
		return err
	}

	granted, err := s.grants.Exists(ctx, resetGrantKey(user.ID))
	if err != nil {
		return err
	}
	if !granted {
		return apperr.WithMsg(apperr.ErrOTPExpired, "Please verify the OTP first.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("生成密码哈希失败: %w", err)
	}
	if err := s.userRepo.UpdatePassword(ctx, nil, user.ID, string(hash)); err != nil {
		return err
	}
	if err := s.grants.Delete(ctx, resetGrantKey(user.ID)); err != nil {
		s.log.Warn("删除改密授权失败", zap.Int64("userID", user.ID), zap.Error(err))
	}
	s.log.Info("密码已重置", zap.Int64("userID", user.ID))
	return nil
}

func (s *AccountService) resetTTL() time.Duration {
	if s.cfg.OTP.ResetTTL > 0 {
		return s.cfg.OTP.ResetTTL
	}
	return 10 * time.Minute
}
