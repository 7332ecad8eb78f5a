package checkout

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-pay/client/internal/apiclient"
	"github.com/zhouzirui/z-pay/client/internal/handler/web"
	qrmodel "github.com/zhouzirui/z-pay/client/internal/model/qr"
	qrservice "github.com/zhouzirui/z-pay/client/internal/service/qr"
	"github.com/zhouzirui/z-pay/client/pkg/utils"
)

// DefaultWaitTimeout 等待页最长挂起请求的时间
const DefaultWaitTimeout = 25 * time.Second

const keepaliveInterval = 15 * time.Second

// Payments 收银台页面使用的二维码支付接口
type Payments interface {
	GetLink(ctx context.Context, id string) (qrmodel.PaymentLink, error)
	Pay(ctx context.Context, id string, req qrmodel.PayRequest) (qrmodel.PaymentResult, error)
	Watch(ctx context.Context, id string) (<-chan qrmodel.LinkEvent, error)
}

// Handler 收银台页面处理器
type Handler struct {
	payments    Payments
	pages       *web.Responder
	logger      *zap.Logger
	waitTimeout time.Duration
}

// View 收银台页面数据
type View struct {
	Link    qrmodel.PaymentLink
	Amount  string
	Min     string
	Max     string
	Payable bool
}

// ReceiptView 支付回执页面数据
type ReceiptView struct {
	Result qrmodel.PaymentResult
	Amount string
}

// New 创建收银台页面处理器
func New(payments Payments, pages *web.Responder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{payments: payments, pages: pages, logger: logger, waitTimeout: DefaultWaitTimeout}
}

// WithWaitTimeout 覆盖 DefaultWaitTimeout
func (h *Handler) WithWaitTimeout(d time.Duration) *Handler {
	h.waitTimeout = d
	return h
}

// RegisterRoutes 注册收银台路由，不需要登录
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/pay", h.handleOpen)
	r.Get("/pay/{linkID}", h.handleCheckout)
	r.Post("/pay/{linkID}", h.handlePay)
	r.Get("/pay/{linkID}/wait", h.handleWait)
	r.Get("/pay/{linkID}/events", h.handleEvents)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("link"))
	if id == "" {
		h.pages.Redirect(w, r, "/dashboard", "Enter a payment link id.")
		return
	}
	h.pages.Redirect(w, r, "/pay/"+url.PathEscape(id), "")
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	link, err := h.payments.GetLink(r.Context(), chi.URLParam(r, "linkID"))
	if err != nil {
		h.pages.Fail(w, r, err)
		return
	}
	h.pages.Render(w, r, http.StatusOK, "checkout", web.Page{Title: link.MerchantName, Data: newView(link)})
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	link, err := h.payments.GetLink(ctx, chi.URLParam(r, "linkID"))
	if err != nil {
		h.pages.Fail(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.pages.Render(w, r, http.StatusBadRequest, "checkout", web.Page{Title: link.MerchantName, Error: "invalid form", Data: newView(link)})
		return
	}

	amount, err := qrservice.ParseAmount(r.PostForm.Get("amount"), link)
	if err != nil {
		h.pages.Render(w, r, http.StatusUnprocessableEntity, "checkout", web.Page{
			Title: link.MerchantName,
			Error: web.Message(err),
			Form:  r.PostForm,
			Data:  newView(link),
		})
		return
	}

	result, err := h.payments.Pay(ctx, link.ID, qrmodel.PayRequest{
		Amount: amount,
		Method: r.PostForm.Get("method"),
		Phone:  strings.TrimSpace(r.PostForm.Get("phone")),
	})
	if err != nil {
		if apiclient.KindOf(err) == apiclient.KindRequest {
			h.pages.Render(w, r, http.StatusUnprocessableEntity, "checkout", web.Page{
				Title: link.MerchantName,
				Error: web.Message(err),
				Form:  r.PostForm,
				Data:  newView(link),
			})
			return
		}
		h.pages.Fail(w, r, err)
		return
	}

	h.pages.Render(w, r, http.StatusOK, "receipt", web.Page{
		Title: "Receipt",
		Data:  ReceiptView{Result: result, Amount: qrservice.FormatAmount(result.Amount, result.Currency)},
	})
}

// handleWait 挂起请求直到链接离开 pending 状态或等待超时，然后跳回链接页面
func (h *Handler) handleWait(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "linkID")
	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()

	events, err := h.payments.Watch(ctx, id)
	if err != nil {
		h.pages.Fail(w, r, err)
		return
	}

	var last qrmodel.LinkStatus
	for ev := range events {
		last = ev.Status
	}
	h.logger.Debug("link wait finished", zap.String("link_id", id), zap.String("status", string(last)))

	flash := ""
	if last.Terminal() {
		flash = "Payment link is now " + string(last) + "."
	}
	h.pages.Redirect(w, r, "/pay/"+url.PathEscape(id), flash)
}

// handleEvents 以 Server-Sent Events 向收银台页面转发链接状态变化，终态后结束
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "linkID")
	ctx := r.Context()

	events, err := h.payments.Watch(ctx, id)
	if err != nil {
		h.respondError(w, statusOf(err), web.Message(err))
		return
	}

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.Event("status", ev); err != nil {
				h.logger.Debug("link event stream closed", zap.String("link_id", id), zap.Error(err))
				return
			}
		case <-keepalive.C:
			if err := sse.Comment("keepalive"); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	if err := utils.RespondError(w, status, message); err != nil {
		h.logger.Warn("event stream error not written", zap.Int("status", status), zap.Error(err))
	}
}

func statusOf(err error) int {
	if status := apiclient.StatusOf(err); status >= 400 {
		return status
	}
	return http.StatusBadGateway
}

func newView(link qrmodel.PaymentLink) View {
	v := View{
		Link:    link,
		Amount:  qrservice.FormatAmount(link.Amount, link.Currency),
		Payable: link.Status == qrmodel.StatusPending,
	}
	if link.MinAmount > 0 {
		v.Min = qrservice.FormatAmount(link.MinAmount, link.Currency)
	}
	if link.MaxAmount > 0 {
		v.Max = qrservice.FormatAmount(link.MaxAmount, link.Currency)
	}
	return v
}
