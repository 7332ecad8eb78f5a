package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-pay/client/internal/apiclient"
	authmodel "github.com/zhouzirui/z-pay/client/internal/model/auth"
	"github.com/zhouzirui/z-pay/client/internal/storage"
)

// 网关认证接口路径
const (
	PathInit          = "/auth/init"
	PathSignUp        = "/auth/sign-up"
	PathVerifyOTP     = "/auth/verify-otp"
	PathSignIn        = "/auth/sign-in"
	PathCheck         = "/auth/check"
	PathPassword      = "/auth/password"
	PathPasswordCheck = "/auth/password/check"
)

var (
	ErrPhoneRequired    = errors.New("phone is required")
	ErrNameRequired     = errors.New("name is required")
	ErrCodeRequired     = errors.New("verification code is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrMissingToken     = errors.New("gateway returned no token")
)

// API 认证服务使用的网关客户端方法
type API interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
}

// SessionWriter 会话存储的写入端
type SessionWriter interface {
	Login(user authmodel.User, token string)
	Logout()
	UpdateUser(patch authmodel.UserPatch)
}

// Service 封装网关认证接口，并保持会话存储与之同步
type Service struct {
	api      API
	sessions SessionWriter
	storage  storage.Storage
	logger   *zap.Logger
}

// NewService 创建认证服务
func NewService(api API, sessions SessionWriter, st storage.Storage, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{api: api, sessions: sessions, storage: st, logger: logger}
}

// Init 开始基于手机号的预会话
func (s *Service) Init(ctx context.Context, phone string) (authmodel.InitResponse, error) {
	phone = normalizePhone(phone)
	if phone == "" {
		return authmodel.InitResponse{}, invalid(ErrPhoneRequired)
	}

	var resp authmodel.InitResponse
	if err := s.api.Post(ctx, PathInit, authmodel.InitRequest{Phone: phone}, &resp); err != nil {
		return authmodel.InitResponse{}, fmt.Errorf("init auth: %w", err)
	}
	return resp, nil
}

// SignUp 注册新账号，随后网关发送验证码
func (s *Service) SignUp(ctx context.Context, req authmodel.SignUpRequest) (authmodel.MessageResponse, error) {
	req.Phone = normalizePhone(req.Phone)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Phone == "" {
		return authmodel.MessageResponse{}, invalid(ErrPhoneRequired)
	}
	if req.Name == "" {
		return authmodel.MessageResponse{}, invalid(ErrNameRequired)
	}

	var resp authmodel.MessageResponse
	if err := s.api.Post(ctx, PathSignUp, req, &resp); err != nil {
		return authmodel.MessageResponse{}, fmt.Errorf("sign up: %w", err)
	}
	return resp, nil
}

// VerifyOTP 校验验证码并登录
func (s *Service) VerifyOTP(ctx context.Context, phone, code string) (authmodel.User, error) {
	phone = normalizePhone(phone)
	code = strings.TrimSpace(code)
	if phone == "" {
		return authmodel.User{}, invalid(ErrPhoneRequired)
	}
	if code == "" {
		return authmodel.User{}, invalid(ErrCodeRequired)
	}

	var resp authmodel.SessionResponse
	if err := s.api.Post(ctx, PathVerifyOTP, authmodel.VerifyOTPRequest{Phone: phone, Code: code}, &resp); err != nil {
		return authmodel.User{}, fmt.Errorf("verify otp: %w", err)
	}
	return s.establish(resp)
}

// SignIn 使用手机号和密码登录。并发登录不会合并，最后到达的响应决定会话
func (s *Service) SignIn(ctx context.Context, phone, password string) (authmodel.User, error) {
	phone = normalizePhone(phone)
	if phone == "" {
		return authmodel.User{}, invalid(ErrPhoneRequired)
	}
	if password == "" {
		return authmodel.User{}, invalid(ErrPasswordRequired)
	}

	var resp authmodel.SessionResponse
	if err := s.api.Post(ctx, PathSignIn, authmodel.SignInRequest{Phone: phone, Password: password}, &resp); err != nil {
		return authmodel.User{}, fmt.Errorf("sign in: %w", err)
	}
	return s.establish(resp)
}

// Check 向网关查询 token 所属用户，并合并到已保存的用户信息
func (s *Service) Check(ctx context.Context) (authmodel.User, error) {
	var user authmodel.User
	if err := s.api.Get(ctx, PathCheck, &user); err != nil {
		return authmodel.User{}, fmt.Errorf("check session: %w", err)
	}
	s.sessions.UpdateUser(authmodel.PatchFrom(user))
	return user, nil
}

// SetPassword 设置当前账号的密码
func (s *Service) SetPassword(ctx context.Context, password string) error {
	if password == "" {
		return invalid(ErrPasswordRequired)
	}
	if err := s.api.Post(ctx, PathPassword, authmodel.PasswordRequest{Password: password}, nil); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

// CheckPassword 校验当前账号的密码
func (s *Service) CheckPassword(ctx context.Context, password string) (bool, error) {
	if password == "" {
		return false, invalid(ErrPasswordRequired)
	}
	var resp authmodel.PasswordCheckResponse
	if err := s.api.Post(ctx, PathPasswordCheck, authmodel.PasswordRequest{Password: password}, &resp); err != nil {
		return false, fmt.Errorf("check password: %w", err)
	}
	return resp.Valid, nil
}

// Logout 结束本地会话，网关没有登出接口
func (s *Service) Logout() {
	s.sessions.Logout()
}

func (s *Service) establish(resp authmodel.SessionResponse) (authmodel.User, error) {
	if resp.Token == "" {
		return authmodel.User{}, &apiclient.Error{Kind: apiclient.KindUnknown, Message: ErrMissingToken.Error(), Err: ErrMissingToken}
	}

	s.sessions.Login(resp.User, resp.Token)
	if resp.RefreshToken != "" && s.storage != nil {
		if err := s.storage.Set(storage.KeyRefreshToken, resp.RefreshToken); err != nil {
			s.logger.Warn("failed to persist refresh token", zap.Error(err))
		}
	}
	s.logger.Info("signed in", zap.String("user_id", resp.User.ID))
	return resp.User, nil
}

// invalid 将未发出的非法输入包装为 REQUEST_ERROR
func invalid(err error) error {
	return &apiclient.Error{Kind: apiclient.KindRequest, Message: err.Error(), Err: err}
}

func normalizePhone(phone string) string {
	return strings.Join(strings.Fields(phone), "")
}
