package dashboard

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-pay/client/internal/apiclient"
	"github.com/zhouzirui/z-pay/client/internal/handler/web"
	authmodel "github.com/zhouzirui/z-pay/client/internal/model/auth"
)

// Account 控制台所需的认证接口子集
type Account interface {
	Check(ctx context.Context) (authmodel.User, error)
	SetPassword(ctx context.Context, password string) error
	CheckPassword(ctx context.Context, password string) (bool, error)
}

// Handler 控制台页面处理器
type Handler struct {
	account Account
	pages   *web.Responder
}

// View 控制台页面数据
type View struct {
	User authmodel.User
}

// PasswordView 密码页面数据
type PasswordView struct {
	Checked bool
	Valid   bool
}

// New 创建控制台页面处理器
func New(account Account, pages *web.Responder) *Handler {
	return &Handler{account: account, pages: pages}
}

// RegisterRoutes 注册需要登录的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/dashboard", h.handleDashboard)
	r.Get("/dashboard/password", h.handlePasswordForm)
	r.Post("/dashboard/password", h.handlePassword)
}

// handleDashboard 每次访问都从网关刷新用户信息，网关已失效的会话也在这里被发现
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, err := h.account.Check(r.Context())
	if err != nil {
		h.pages.Fail(w, r, err)
		return
	}
	h.pages.Render(w, r, http.StatusOK, "dashboard", web.Page{Title: "Dashboard", Data: View{User: user}})
}

func (h *Handler) handlePasswordForm(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, r, http.StatusOK, "password", web.Page{Title: "Password"})
}

func (h *Handler) handlePassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.pages.Render(w, r, http.StatusBadRequest, "password", web.Page{Title: "Password", Error: "invalid form"})
		return
	}
	password := r.PostForm.Get("password")

	switch r.PostForm.Get("action") {
	case "check":
		valid, err := h.account.CheckPassword(r.Context(), password)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.pages.Render(w, r, http.StatusOK, "password", web.Page{Title: "Password", Data: PasswordView{Checked: true, Valid: valid}})
	default:
		if err := h.account.SetPassword(r.Context(), password); err != nil {
			h.fail(w, r, err)
			return
		}
		h.pages.Redirect(w, r, "/dashboard/password", "Password updated.")
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apiclient.KindOf(err) == apiclient.KindRequest {
		h.pages.Render(w, r, http.StatusUnprocessableEntity, "password", web.Page{Title: "Password", Error: web.Message(err)})
		return
	}
	h.pages.Fail(w, r, err)
}
