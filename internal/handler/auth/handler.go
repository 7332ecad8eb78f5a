package auth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-pay/client/internal/apiclient"
	"github.com/zhouzirui/z-pay/client/internal/handler/web"
	authmodel "github.com/zhouzirui/z-pay/client/internal/model/auth"
	"github.com/zhouzirui/z-pay/client/internal/navigation"
)

// Service 页面使用的认证接口
type Service interface {
	Init(ctx context.Context, phone string) (authmodel.InitResponse, error)
	SignUp(ctx context.Context, req authmodel.SignUpRequest) (authmodel.MessageResponse, error)
	VerifyOTP(ctx context.Context, phone, code string) (authmodel.User, error)
	SignIn(ctx context.Context, phone, password string) (authmodel.User, error)
	Logout()
}

// Handler 登录注册页面处理器
type Handler struct {
	auth  Service
	pages *web.Responder
}

// New 创建登录注册页面处理器
func New(auth Service, pages *web.Responder) *Handler {
	return &Handler{auth: auth, pages: pages}
}

// RegisterRoutes 注册仅限匿名访问的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleLanding)
	r.Post("/auth/start", h.handleStart)
	r.Get("/auth/login", h.handleLoginForm)
	r.Post("/auth/login", h.handleLogin)
	r.Get("/auth/register", h.handleRegisterForm)
	r.Post("/auth/register", h.handleRegister)
	r.Get("/auth/verify", h.handleVerifyForm)
	r.Post("/auth/verify", h.handleVerify)
}

func (h *Handler) handleLanding(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, r, http.StatusOK, "landing", web.Page{})
}

// handleStart 询问网关该手机号是否已注册，再跳转到登录或注册页
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	form := parseForm(r)
	resp, err := h.auth.Init(r.Context(), form.Get("phone"))
	if err != nil {
		h.formError(w, r, "landing", "", form, err)
		return
	}

	q := url.Values{"phone": {resp.Phone}}
	switch {
	case resp.Registered:
		h.pages.Redirect(w, r, "/auth/login?"+q.Encode(), "")
	case resp.OTPSent:
		h.pages.Redirect(w, r, "/auth/verify?"+q.Encode(), "")
	default:
		h.pages.Redirect(w, r, "/auth/register?"+q.Encode(), "")
	}
}

func (h *Handler) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, r, http.StatusOK, "login", web.Page{Title: "Sign in", Form: r.URL.Query()})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	form := parseForm(r)
	user, err := h.auth.SignIn(r.Context(), form.Get("phone"), form.Get("password"))
	if err != nil {
		h.formError(w, r, "login", "Sign in", form, err)
		return
	}
	h.pages.Redirect(w, r, navigation.HomePath, "Welcome back, "+user.Name+".")
}

func (h *Handler) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, r, http.StatusOK, "register", web.Page{Title: "Register", Form: r.URL.Query()})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	form := parseForm(r)
	req := authmodel.SignUpRequest{
		Phone:    form.Get("phone"),
		Name:     form.Get("name"),
		Email:    form.Get("email"),
		Password: form.Get("password"),
	}
	if _, err := h.auth.SignUp(r.Context(), req); err != nil {
		h.formError(w, r, "register", "Register", form, err)
		return
	}
	q := url.Values{"phone": {req.Phone}}
	h.pages.Redirect(w, r, "/auth/verify?"+q.Encode(), "We sent you a verification code.")
}

func (h *Handler) handleVerifyForm(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, r, http.StatusOK, "verify", web.Page{Title: "Verify", Form: r.URL.Query()})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	form := parseForm(r)
	user, err := h.auth.VerifyOTP(r.Context(), form.Get("phone"), form.Get("code"))
	if err != nil {
		h.formError(w, r, "verify", "Verify", form, err)
		return
	}
	h.pages.Redirect(w, r, navigation.HomePath, "Signed in as "+user.Name+".")
}

// HandleLogout 结束本地会话。挂载在守卫分组之外，任何状态下都可调用
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout()
	h.pages.Redirect(w, r, navigation.LoginPath, "You have been signed out.")
}

// formError 对发送前就被客户端拒绝的输入重新渲染表单，其余错误展示错误页
func (h *Handler) formError(w http.ResponseWriter, r *http.Request, page, title string, form url.Values, err error) {
	if apiclient.KindOf(err) == apiclient.KindRequest {
		form.Del("password")
		h.pages.Render(w, r, http.StatusUnprocessableEntity, page, web.Page{Title: title, Form: form, Error: web.Message(err)})
		return
	}
	h.pages.Fail(w, r, err)
}

func parseForm(r *http.Request) url.Values {
	if err := r.ParseForm(); err != nil {
		return url.Values{}
	}
	return r.PostForm
}
