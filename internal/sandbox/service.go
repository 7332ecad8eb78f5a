// Package sandbox 是支付网关 API 的内存替身，实现客户端使用的认证与二维码支付接口，
// 用于本地开发和集成测试。
package sandbox

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	authmodel "github.com/zhouzirui/z-pay/client/internal/model/auth"
	qrmodel "github.com/zhouzirui/z-pay/client/internal/model/qr"
)

var (
	ErrUserExists       = errors.New("user already exists")
	ErrUserNotFound     = errors.New("user not found")
	ErrNoPendingSignUp  = errors.New("no pending verification for phone")
	ErrInvalidCode      = errors.New("invalid verification code")
	ErrInvalidPassword  = errors.New("invalid phone or password")
	ErrPasswordNotSet   = errors.New("password not set")
	ErrLinkNotFound     = errors.New("payment link not found")
	ErrLinkNotPayable   = errors.New("payment link is not payable")
	ErrAmountMismatch   = errors.New("amount does not match payment link")
	ErrAmountOutOfRange = errors.New("amount out of range")
	ErrMethodRequired   = errors.New("payment method is required")
)

type account struct {
	user         authmodel.User
	passwordHash []byte
}

// Service 保存模拟网关的全部状态
type Service struct {
	mu       sync.RWMutex
	otpCode  string
	accounts map[string]*account // by phone
	pending  map[string]authmodel.SignUpRequest
	tokens   map[string]string // token -> phone
	links    map[string]qrmodel.PaymentLink
	payments map[string]qrmodel.PaymentResult
	watchers map[string]map[uint64]chan qrmodel.LinkEvent
	nextID   uint64
	now      func() time.Time
}

// NewService 用预置数据创建服务
func NewService(f Fixtures) (*Service, error) {
	s := &Service{
		otpCode:  f.OTPCode,
		accounts: make(map[string]*account),
		pending:  make(map[string]authmodel.SignUpRequest),
		tokens:   make(map[string]string),
		links:    make(map[string]qrmodel.PaymentLink),
		payments: make(map[string]qrmodel.PaymentResult),
		watchers: make(map[string]map[uint64]chan qrmodel.LinkEvent),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.otpCode == "" {
		s.otpCode = "000000"
	}

	for _, u := range f.Users {
		acc := &account{user: authmodel.User{
			ID:         u.ID,
			Name:       u.Name,
			Role:       u.Role,
			Email:      u.Email,
			Phone:      u.Phone,
			MerchantID: u.MerchantID,
		}}
		if u.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
			if err != nil {
				return nil, err
			}
			acc.passwordHash = hash
		}
		s.accounts[u.Phone] = acc
	}

	now := s.now()
	for _, l := range f.Links {
		status := qrmodel.LinkStatus(l.Status)
		if status == "" {
			status = qrmodel.StatusPending
		}
		ttl := l.TTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		s.links[l.ID] = qrmodel.PaymentLink{
			ID:           l.ID,
			MerchantName: l.MerchantName,
			Description:  l.Description,
			Amount:       l.Amount,
			Currency:     l.Currency,
			MinAmount:    l.MinAmount,
			MaxAmount:    l.MaxAmount,
			Status:       status,
			ExpiresAt:    now.Add(ttl),
		}
	}
	return s, nil
}

// OTPCode 返回所有校验都接受的验证码
func (s *Service) OTPCode() string {
	return s.otpCode
}

// Init 返回手机号是否已注册，模拟网关不会发送短信
func (s *Service) Init(phone string) authmodel.InitResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, registered := s.accounts[phone]
	_, pending := s.pending[phone]
	return authmodel.InitResponse{Phone: phone, Registered: registered, OTPSent: pending}
}

// SignUp 保存待验证码确认的注册信息
func (s *Service) SignUp(req authmodel.SignUpRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[req.Phone]; ok {
		return ErrUserExists
	}
	s.pending[req.Phone] = req
	return nil
}

// VerifyOTP 完成待确认的注册，或用验证码登录已有账号，并签发 token
func (s *Service) VerifyOTP(phone, code string) (authmodel.SessionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code != s.otpCode {
		return authmodel.SessionResponse{}, ErrInvalidCode
	}

	acc, ok := s.accounts[phone]
	if !ok {
		req, pending := s.pending[phone]
		if !pending {
			return authmodel.SessionResponse{}, ErrNoPendingSignUp
		}
		acc = &account{user: authmodel.User{
			ID:    "usr_" + uuid.NewString()[:8],
			Name:  req.Name,
			Role:  "merchant",
			Email: req.Email,
			Phone: req.Phone,
		}}
		if req.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
			if err != nil {
				return authmodel.SessionResponse{}, err
			}
			acc.passwordHash = hash
		}
		s.accounts[phone] = acc
		delete(s.pending, phone)
	}

	return s.issueLocked(acc), nil
}

// SignIn 校验手机号与密码并签发 token
func (s *Service) SignIn(phone, password string) (authmodel.SessionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[phone]
	if !ok || len(acc.passwordHash) == 0 {
		return authmodel.SessionResponse{}, ErrInvalidPassword
	}
	if bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)) != nil {
		return authmodel.SessionResponse{}, ErrInvalidPassword
	}
	return s.issueLocked(acc), nil
}

func (s *Service) issueLocked(acc *account) authmodel.SessionResponse {
	token := uuid.NewString()
	s.tokens[token] = acc.user.Phone
	return authmodel.SessionResponse{
		User:         acc.user,
		Token:        token,
		RefreshToken: uuid.NewString(),
	}
}

// UserForToken 根据 bearer token 查找用户
func (s *Service) UserForToken(token string) (authmodel.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	phone, ok := s.tokens[token]
	if !ok {
		return authmodel.User{}, false
	}
	acc, ok := s.accounts[phone]
	if !ok {
		return authmodel.User{}, false
	}
	return acc.user, true
}

// RevokeToken 使 token 失效，模拟服务端会话过期
func (s *Service) RevokeToken(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// RenameUser 修改显示名称，用于验证会话刷新
func (s *Service) RenameUser(phone, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[phone]
	if !ok {
		return ErrUserNotFound
	}
	acc.user.Name = name
	return nil
}

// SetPassword 替换手机号对应账号的密码
func (s *Service) SetPassword(phone, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[phone]
	if !ok {
		return ErrUserNotFound
	}
	acc.passwordHash = hash
	return nil
}

// CheckPassword 将密码与保存的哈希比较
func (s *Service) CheckPassword(phone, password string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[phone]
	if !ok {
		return false, ErrUserNotFound
	}
	if len(acc.passwordHash) == 0 {
		return false, ErrPasswordNotSet
	}
	return bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)) == nil, nil
}

// Link 返回支付链接，已过截止时间的先置为过期
func (s *Service) Link(id string) (qrmodel.PaymentLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return qrmodel.PaymentLink{}, ErrLinkNotFound
	}
	return s.expireIfDueLocked(link), nil
}

// Pay 完成待支付链接的支付
func (s *Service) Pay(id string, req qrmodel.PayRequest) (qrmodel.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[id]
	if !ok {
		return qrmodel.PaymentResult{}, ErrLinkNotFound
	}
	link = s.expireIfDueLocked(link)
	if link.Status != qrmodel.StatusPending {
		return qrmodel.PaymentResult{}, ErrLinkNotPayable
	}
	if req.Method == "" {
		return qrmodel.PaymentResult{}, ErrMethodRequired
	}

	amount := req.Amount
	switch {
	case link.FixedAmount():
		if amount != 0 && amount != link.Amount {
			return qrmodel.PaymentResult{}, ErrAmountMismatch
		}
		amount = link.Amount
	case amount <= 0,
		link.MinAmount > 0 && amount < link.MinAmount,
		link.MaxAmount > 0 && amount > link.MaxAmount:
		return qrmodel.PaymentResult{}, ErrAmountOutOfRange
	}

	result := qrmodel.PaymentResult{
		TransactionID: "txn_" + uuid.NewString(),
		LinkID:        id,
		Status:        qrmodel.StatusPaid,
		Amount:        amount,
		Currency:      link.Currency,
		PaidAt:        s.now(),
	}
	link.Status = qrmodel.StatusPaid
	s.links[id] = link
	s.payments[result.TransactionID] = result
	s.publishLocked(qrmodel.LinkEvent{LinkID: id, Status: link.Status, At: result.PaidAt})
	return result, nil
}

// SetLinkStatus 强制切换状态并通知订阅者
func (s *Service) SetLinkStatus(id string, status qrmodel.LinkStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return ErrLinkNotFound
	}
	link.Status = status
	s.links[id] = link
	s.publishLocked(qrmodel.LinkEvent{LinkID: id, Status: status, At: s.now()})
	return nil
}

// Watch 订阅链接的状态事件，调用返回的函数释放订阅
func (s *Service) Watch(id string) (<-chan qrmodel.LinkEvent, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[id]; !ok {
		return nil, nil, ErrLinkNotFound
	}

	ch := make(chan qrmodel.LinkEvent, 8)
	subID := s.nextID
	s.nextID++
	if s.watchers[id] == nil {
		s.watchers[id] = make(map[uint64]chan qrmodel.LinkEvent)
	}
	s.watchers[id][subID] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[id], subID)
			if len(s.watchers[id]) == 0 {
				delete(s.watchers, id)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

func (s *Service) expireIfDueLocked(link qrmodel.PaymentLink) qrmodel.PaymentLink {
	if link.Status == qrmodel.StatusPending && !link.ExpiresAt.IsZero() && s.now().After(link.ExpiresAt) {
		link.Status = qrmodel.StatusExpired
		s.links[link.ID] = link
		s.publishLocked(qrmodel.LinkEvent{LinkID: link.ID, Status: link.Status, At: s.now()})
	}
	return link
}

// publishLocked 对跟不上的订阅者直接丢弃事件
func (s *Service) publishLocked(ev qrmodel.LinkEvent) {
	for _, ch := range s.watchers[ev.LinkID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
