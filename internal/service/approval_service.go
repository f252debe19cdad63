package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/config"
	"servicemart/internal/infrastructure/lock"
	"servicemart/internal/infrastructure/metrics"
	"servicemart/internal/infrastructure/session"
	"servicemart/internal/infrastructure/storage"
	"servicemart/internal/model"
	"servicemart/internal/otp"
	"servicemart/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	sessPartnerSignupEmail    = "partner_signup_email"
	sessPartnerSignupVerified = "partner_signup_verified"
	partnerSignupOTPKey       = "partner_signup"
)

// ApprovalService 合作伙伴入驻：注册验证码、提交申请、后台审批
type ApprovalService struct {
	db          *gorm.DB
	cfg         *config.Config
	requestRepo *repository.PartnerRequestRepository
	partnerRepo *repository.PartnerRepository
	userRepo    *repository.UserRepository
	planRepo    *repository.PlanRepository
	outboxRepo  *repository.OutboxRepository
	partners    *PartnerService
	payments    *PayService
	otp         *otp.Engine
	store       storage.Store
	locker      lock.Locker
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
}

func NewApprovalService(db *gorm.DB, cfg *config.Config, partners *PartnerService, payments *PayService,
	engine *otp.Engine, store storage.Store, locker lock.Locker, m *metrics.Metrics, log *zap.Logger) *ApprovalService {
	return &ApprovalService{
		db:          db,
		cfg:         cfg,
		requestRepo: repository.NewPartnerRequestRepository(db),
		partnerRepo: repository.NewPartnerRepository(db),
		userRepo:    repository.NewUserRepository(db),
		planRepo:    repository.NewPlanRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		partners:    partners,
		payments:    payments,
		otp:         engine,
		store:       store,
		locker:      locker,
		metrics:     m,
		log:         log.Named("ApprovalService"),
		now:         time.Now,
	}
}

// SendPartnerSignupOTP 给申请邮箱发验证码，验证码保存在会话里
func (s *ApprovalService) SendPartnerSignupOTP(ctx context.Context, sess *session.Session, email string) error {
	email = model.NormalizeEmail(email)
	if email == "" {
		return apperr.WithMsg(apperr.ErrInvalidParam, "Email is required.")
	}
	emailTaken, _, err := s.partnerRepo.ExistsByEmailOrPhone(ctx, email, "")
	if err != nil {
		return err
	}
	if emailTaken {
		return apperr.WithMsg(apperr.ErrPartnerExists, "A partner with this email already exists.")
	}

	if _, err := s.otp.Issue(ctx, otp.NewSessionStore(sess), partnerSignupOTPKey, email, otp.PurposePartnerSignup, s.cfg.OTP.PartnerTTL); err != nil {
		return err
	}
	sess.Delete(sessPartnerSignupVerified)
	return sess.Set(sessPartnerSignupEmail, email)
}

// VerifyPartnerSignupOTP 验证通过后在会话里记下已验证的邮箱
func (s *ApprovalService) VerifyPartnerSignupOTP(ctx context.Context, sess *session.Session, code string) error {
	var email string
	ok, err := sess.Get(sessPartnerSignupEmail, &email)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrOTPExpired
	}
	if err := s.otp.Verify(ctx, otp.NewSessionStore(sess), partnerSignupOTPKey, otp.PurposePartnerSignup, strings.TrimSpace(code)); err != nil {
		return err
	}
	sess.Delete(sessPartnerSignupEmail)
	return sess.Set(sessPartnerSignupVerified, email)
}

// RequestUpload 申请附带的证件，按证件类型上传
type RequestUpload struct {
	DocumentTypeID int64
	Filename       string
	Content        io.Reader
}

type SubmitRequestInput struct {
	FullName string `form:"full_name" binding:"required,max=255"`
	Email    string `form:"email" binding:"required,email"`
	Phone    string `form:"phone" binding:"required,phone"`
	Password string `form:"password" binding:"required,min=8"`
	PlanID   int64  `form:"plan_id" binding:"required"`
	BusinessProfile
	Documents []RequestUpload `form:"-"`
}

type SubmitResult struct {
	RequestID int64     `json:"request_id"`
	Checkout  *Checkout `json:"checkout"`
}

// SubmitRequest 提交入驻申请并登记套餐支付。邮箱必须已在本会话中验证
func (s *ApprovalService) SubmitRequest(ctx context.Context, sess *session.Session, in *SubmitRequestInput) (*SubmitResult, error) {
	email := model.NormalizeEmail(in.Email)
	var verified string
	if _, err := sess.Get(sessPartnerSignupVerified, &verified); err != nil {
		return nil, err
	}
	if verified == "" || !strings.EqualFold(verified, email) {
		return nil, apperr.WithMsg(apperr.ErrSessionExpired, "Please verify your email first.")
	}

	profile := in.BusinessProfile.trimmed()
	fullName := strings.TrimSpace(in.FullName)
	phone := strings.TrimSpace(in.Phone)
	if fullName == "" || phone == "" || in.Password == "" || profile.BusinessName == "" ||
		profile.Address == "" || profile.City == "" || profile.State == "" || profile.Pincode == "" {
		return nil, apperr.WithMsg(apperr.ErrInvalidParam, "All fields are required.")
	}

	emailTaken, phoneTaken, err := s.partnerRepo.ExistsByEmailOrPhone(ctx, email, phone)
	if err != nil {
		return nil, err
	}
	if emailTaken {
		return nil, apperr.WithMsg(apperr.ErrPartnerExists, "A partner with this email already exists.")
	}
	if phoneTaken {
		return nil, apperr.WithMsg(apperr.ErrPartnerExists, "A partner with this phone number already exists.")
	}

	plan, err := s.planRepo.GetByID(ctx, nil, in.PlanID)
	if errors.Is(err, repository.ErrPlanNotFound) {
		return nil, apperr.WithMsg(apperr.ErrInvalidParam, "Selected plan does not exist.")
	}
	if err != nil {
		return nil, err
	}

	if err := s.checkDocuments(ctx, in.Documents); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("生成密码哈希失败: %w", err)
	}

	refs := make([]string, 0, len(in.Documents))
	discard := func() {
		for _, ref := range refs {
			if err := s.store.Delete(ctx, ref); err != nil {
				s.log.Warn("清理申请证件失败", zap.String("ref", ref), zap.Error(err))
			}
		}
	}
	for _, doc := range in.Documents {
		ref, err := s.store.Save(ctx, storage.UploadKey("partner_request_documents", doc.Filename), doc.Content)
		if err != nil {
			discard()
			return nil, fmt.Errorf("保存申请证件失败: %w", err)
		}
		refs = append(refs, ref)
	}

	req := &model.PartnerRequest{
		FullName:       fullName,
		Email:          email,
		Phone:          phone,
		PasswordHash:   string(hash),
		BusinessName:   profile.BusinessName,
		Address:        profile.Address,
		City:           profile.City,
		State:          profile.State,
		Pincode:        profile.Pincode,
		SelectedPlanID: &plan.ID,
		Amount:         plan.Price,
		PaymentStatus:  model.RequestPaymentPending,
		ApprovalStatus: model.ApprovalPending,
	}

	var checkout *Checkout
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requestRepo.Create(ctx, tx, req); err != nil {
			return fmt.Errorf("创建入驻申请失败: %w", err)
		}
		for i, doc := range in.Documents {
			if err := s.requestRepo.CreateDocument(ctx, tx, &model.PartnerRequestDocument{
				RequestID:      req.ID,
				DocumentTypeID: doc.DocumentTypeID,
				FileRef:        refs[i],
			}); err != nil {
				return fmt.Errorf("保存申请证件失败: %w", err)
			}
		}
		var err error
		checkout, err = s.payments.startPlanPurchase(ctx, tx, req, plan)
		return err
	})
	if err != nil {
		discard()
		return nil, err
	}

	sess.Delete(sessPartnerSignupVerified)
	s.log.Info("入驻申请已提交",
		zap.Int64("requestID", req.ID),
		zap.String("orderID", checkout.OrderID),
		zap.Int64("planID", plan.ID))
	return &SubmitResult{RequestID: req.ID, Checkout: checkout}, nil
}

// checkDocuments 证件类型必须存在，必传的类型都要有
func (s *ApprovalService) checkDocuments(ctx context.Context, docs []RequestUpload) error {
	seen := make(map[int64]bool, len(docs))
	for _, doc := range docs {
		if doc.Content == nil {
			return apperr.WithMsg(apperr.ErrInvalidParam, "document file is required")
		}
		if _, err := s.partnerRepo.GetDocumentType(ctx, nil, doc.DocumentTypeID); err != nil {
			if errors.Is(err, repository.ErrDocumentTypeNotFound) {
				return apperr.WithMsg(apperr.ErrInvalidParam, "Unknown document type.")
			}
			return err
		}
		seen[doc.DocumentTypeID] = true
	}

	types, err := s.partnerRepo.ListDocumentTypes(ctx)
	if err != nil {
		return err
	}
	for _, t := range types {
		if t.Mandatory && !seen[t.ID] {
			return apperr.WithMsg(apperr.ErrInvalidParam, fmt.Sprintf("%s is required.", t.Name))
		}
	}
	return nil
}

// Approve 已付款且未审批的申请一次性开通：用户、合作伙伴、证件、钱包、初始订阅
func (s *ApprovalService) Approve(ctx context.Context, requestID int64) (*Provisioned, error) {
	release, err := s.locker.Acquire(ctx, lock.ApprovalKey(requestID), fmt.Sprintf("approve-%d", s.now().UnixNano()))
	if err != nil {
		s.metrics.Approvals.WithLabelValues("failed").Inc()
		return nil, apperr.Wrap(apperr.ErrLockBusy, err)
	}
	defer release()

	var result *Provisioned
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := s.requestRepo.GetByIDForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !req.Approvable() {
			return apperr.ErrRequestNotEligible
		}

		if taken, err := s.userRepo.EmailExists(ctx, tx, req.Email, 0); err != nil {
			return err
		} else if taken {
			return apperr.ErrEmailTaken
		}
		if taken, err := s.userRepo.PhoneExists(ctx, tx, req.Phone, 0); err != nil {
			return err
		} else if taken {
			return apperr.ErrPhoneTaken
		}

		first, last := model.SplitFullName(req.FullName)
		user := &model.User{
			Email:             req.Email,
			Phone:             req.Phone,
			FirstName:         first,
			LastName:          last,
			UserType:          model.UserTypePartner,
			PasswordHash:      req.PasswordHash,
			IsActive:          true,
			IsPartnerApproved: true,
		}
		if err := s.userRepo.Create(ctx, tx, user); err != nil {
			return fmt.Errorf("创建用户失败: %w", err)
		}

		reqDocs, err := s.requestRepo.ListDocuments(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		docs := make([]model.PartnerDocument, 0, len(reqDocs))
		for _, d := range reqDocs {
			docs = append(docs, model.PartnerDocument{DocumentTypeID: d.DocumentTypeID, FileRef: d.FileRef})
		}

		var plan *model.PartnerPlan
		if req.SelectedPlanID != nil {
			if plan, err = s.planRepo.GetByID(ctx, tx, *req.SelectedPlanID); err != nil {
				return err
			}
		}

		result, err = s.partners.provisionTx(ctx, tx, user, BusinessProfile{
			BusinessName: req.BusinessName,
			Address:      req.Address,
			City:         req.City,
			State:        req.State,
			Pincode:      req.Pincode,
		}, docs, plan)
		if err != nil {
			return err
		}

		if err := s.requestRepo.MarkApproved(ctx, tx, req.ID, s.now()); err != nil {
			return err
		}

		return publishInTx(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.PartnerEvents, model.EventPartnerApproved,
			result.Partner.PartnerID, map[string]interface{}{
				"request_id": req.ID,
				"partner_id": result.Partner.PartnerID,
				"user_id":    user.ID,
				"email":      user.Email,
			})
	})
	if err != nil {
		s.metrics.Approvals.WithLabelValues("failed").Inc()
		return nil, err
	}

	s.metrics.Approvals.WithLabelValues("approved").Inc()
	s.log.Info("入驻申请已审批",
		zap.Int64("requestID", requestID),
		zap.String("partnerID", result.Partner.PartnerID))
	return result, nil
}

// BatchItem 批量审批中单个申请的结果
type BatchItem struct {
	RequestID int64  `json:"request_id"`
	PartnerID string `json:"partner_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type BatchResult struct {
	Approved int         `json:"approved"`
	Failed   int         `json:"failed"`
	Items    []BatchItem `json:"items"`
}

// ApproveBatch 逐个审批，单个失败不影响其他申请
func (s *ApprovalService) ApproveBatch(ctx context.Context, ids []int64) *BatchResult {
	result := &BatchResult{Items: make([]BatchItem, 0, len(ids))}
	for _, id := range ids {
		item := BatchItem{RequestID: id}
		provisioned, err := s.Approve(ctx, id)
		if err != nil {
			item.Error = err.Error()
			result.Failed++
			s.log.Warn("批量审批单个失败", zap.Int64("requestID", id), zap.Error(err))
		} else {
			item.PartnerID = provisioned.Partner.PartnerID
			result.Approved++
		}
		result.Items = append(result.Items, item)
	}
	return result
}

func (s *ApprovalService) ListRequests(ctx context.Context, paymentStatus, approvalStatus string, page, pageSize int) ([]*model.PartnerRequest, int64, error) {
	return s.requestRepo.List(ctx, paymentStatus, approvalStatus, page, pageSize)
}

type RequestDetail struct {
	Request   *model.PartnerRequest           `json:"request"`
	Documents []*model.PartnerRequestDocument `json:"documents"`
}

func (s *ApprovalService) GetRequest(ctx context.Context, id int64) (*RequestDetail, error) {
	req, err := s.requestRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	docs, err := s.requestRepo.ListDocuments(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return &RequestDetail{Request: req, Documents: docs}, nil
}

func (s *ApprovalService) DocumentTypes(ctx context.Context) ([]*model.DocumentType, error) {
	return s.partnerRepo.ListDocumentTypes(ctx)
}
