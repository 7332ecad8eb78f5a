package sandbox

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	zpmw "github.com/zhouzirui/z-pay/client/internal/middleware"
	authmodel "github.com/zhouzirui/z-pay/client/internal/model/auth"
	qrmodel "github.com/zhouzirui/z-pay/client/internal/model/qr"
	"github.com/zhouzirui/z-pay/client/pkg/utils"
)

type userKey struct{}

// Handler 基于 Service 提供网关 HTTP 接口
type Handler struct {
	svc      *Service
	logger   *zap.Logger
	upgrader websocket.Upgrader

	otpRate  rate.Limit
	otpBurst int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option 配置 Handler
type Option func(*Handler)

// WithLogger 设置请求日志
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithOTPLimit 设置单个手机号尝试验证码校验的频率
func WithOTPLimit(every time.Duration, burst int) Option {
	return func(h *Handler) {
		h.otpRate = rate.Every(every)
		h.otpBurst = burst
	}
}

// New 创建模拟网关处理器
func New(svc *Service, opts ...Option) *Handler {
	h := &Handler{
		svc:      svc,
		logger:   zap.NewNop(),
		otpRate:  rate.Every(time.Minute / 5),
		otpBurst: 5,
		limiters: make(map[string]*rate.Limiter),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router 构建完整的模拟网关路由，二维码路由同时挂载在根路径与 /v2 下
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(zpmw.RequestLogger(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h.RegisterAuthRoutes(r)
	h.RegisterQRRoutes(r)
	r.Route("/v2", h.RegisterQRRoutes)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.respondError(w, http.StatusNotFound, "Cannot "+r.Method+" "+r.URL.Path)
	})
	return r
}

// RegisterAuthRoutes 注册认证相关的路由
func (h *Handler) RegisterAuthRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/init", h.handleInit)
		r.Post("/sign-up", h.handleSignUp)
		r.Post("/verify-otp", h.handleVerifyOTP)
		r.Post("/sign-in", h.handleSignIn)

		r.Group(func(r chi.Router) {
			r.Use(h.requireBearer)
			r.Get("/check", h.handleCheck)
			r.Post("/password", h.handleSetPassword)
			r.Post("/password/check", h.handleCheckPassword)
		})
	})
}

// RegisterQRRoutes 注册二维码支付相关的路由
func (h *Handler) RegisterQRRoutes(r chi.Router) {
	r.Get("/qr/payment/link/{linkID}", h.handleGetLink)
	r.Post("/qr/payment/link/{linkID}", h.handlePay)
	r.Get("/qr/payment/link/{linkID}/ws", h.handleWatch)
}

func (h *Handler) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			h.respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		user, ok := h.svc.UserForToken(token)
		if !ok {
			h.respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func currentUser(r *http.Request) authmodel.User {
	user, _ := r.Context().Value(userKey{}).(authmodel.User)
	return user
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	var req authmodel.InitRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Phone == "" {
		h.respondError(w, http.StatusBadRequest, "phone is required")
		return
	}
	h.respondJSON(w, http.StatusOK, h.svc.Init(req.Phone))
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req authmodel.SignUpRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Phone == "" || req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "phone and name are required")
		return
	}
	if err := h.svc.SignUp(req); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, authmodel.MessageResponse{Message: "verification code sent"})
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req authmodel.VerifyOTPRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Phone == "" || req.Code == "" {
		h.respondError(w, http.StatusBadRequest, "phone and code are required")
		return
	}
	if !h.limiter(req.Phone).Allow() {
		h.respondError(w, http.StatusTooManyRequests, "too many verification attempts")
		return
	}

	resp, err := h.svc.VerifyOTP(req.Phone, req.Code)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req authmodel.SignInRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := h.svc.SignIn(req.Phone, req.Password)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, currentUser(r))
}

func (h *Handler) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req authmodel.PasswordRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Password) < 6 {
		h.respondError(w, http.StatusUnprocessableEntity, "password must be at least 6 characters")
		return
	}
	if err := h.svc.SetPassword(currentUser(r).Phone, req.Password); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, authmodel.MessageResponse{Message: "password updated"})
}

func (h *Handler) handleCheckPassword(w http.ResponseWriter, r *http.Request) {
	var req authmodel.PasswordRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	valid, err := h.svc.CheckPassword(currentUser(r).Phone, req.Password)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, authmodel.PasswordCheckResponse{Valid: valid})
}

func (h *Handler) handleGetLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.svc.Link(chi.URLParam(r, "linkID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, link)
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	var req qrmodel.PayRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.svc.Pay(chi.URLParam(r, "linkID"), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *Handler) limiter(phone string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[phone]
	if !ok {
		l = rate.NewLimiter(h.otpRate, h.otpBurst)
		h.limiters[phone] = l
	}
	return l
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	if err := utils.RespondJSON(w, status, payload); err != nil {
		h.logger.Warn("sandbox response not written", zap.Int("status", status), zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	if err := utils.RespondError(w, status, message); err != nil {
		h.logger.Warn("sandbox error response not written", zap.Int("status", status), zap.Error(err))
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrLinkNotFound), errors.Is(err, ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUserExists), errors.Is(err, ErrLinkNotPayable):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidPassword), errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrNoPendingSignUp), errors.Is(err, ErrPasswordNotSet),
		errors.Is(err, ErrMethodRequired):
		status = http.StatusBadRequest
	case errors.Is(err, ErrAmountMismatch), errors.Is(err, ErrAmountOutOfRange):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("sandbox request failed", zap.Error(err))
	}
	h.respondError(w, status, err.Error())
}
