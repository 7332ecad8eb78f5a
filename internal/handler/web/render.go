// Package web 存放控制台页面共用的部分：模板、闪现消息、错误页以及待处理导航的重定向。
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-pay/client/internal/navigation"
	"github.com/zhouzirui/z-pay/client/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page 每个模板收到的数据
type Page struct {
	Title   string
	Session session.State
	Flashes []string
	Error   string
	Form    url.Values
	Data    any
}

// Value 返回表单字段提交的值
func (p Page) Value(name string) string {
	if p.Form == nil {
		return ""
	}
	return p.Form.Get(name)
}

// SessionView 会话存储的只读端
type SessionView interface {
	Snapshot() session.State
}

// Responder 为控制台处理器渲染页面与错误页
type Responder struct {
	pages     map[string]*template.Template
	flashes   *Flashes
	navigator *navigation.Recorder
	sessions  SessionView
	logger    *zap.Logger
}

// NewResponder 解析内嵌模板
func NewResponder(sessions SessionView, flashes *Flashes, nav *navigation.Recorder, logger *zap.Logger) (*Responder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pages, err := parsePages(templateFS)
	if err != nil {
		return nil, err
	}
	return &Responder{
		pages:     pages,
		flashes:   flashes,
		navigator: nav,
		sessions:  sessions,
		logger:    logger,
	}, nil
}

func parsePages(fsys fs.FS) (map[string]*template.Template, error) {
	layout, err := template.New("layout.html").ParseFS(fsys, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	names, err := fs.Glob(fsys, "templates/*.html")
	if err != nil {
		return nil, err
	}

	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		page := strings.TrimSuffix(strings.TrimPrefix(name, "templates/"), ".html")
		if page == "layout" {
			continue
		}
		t, err := template.Must(layout.Clone()).ParseFS(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", page, err)
		}
		pages[page] = t
	}
	return pages, nil
}

// Render 以指定状态码输出页面，并取出该访客排队的闪现消息
func (p *Responder) Render(w http.ResponseWriter, r *http.Request, status int, page string, data Page) {
	t, ok := p.pages[page]
	if !ok {
		p.logger.Error("unknown page", zap.String("page", page))
		http.Error(w, "page not found", http.StatusInternalServerError)
		return
	}

	data.Session = p.sessions.Snapshot()
	if p.flashes != nil {
		data.Flashes = p.flashes.Take(w, r)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		p.logger.Error("render failed", zap.String("page", page), zap.Error(err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Redirect 发送 303 跳转，flash 非空时加入消息队列
func (p *Responder) Redirect(w http.ResponseWriter, r *http.Request, path, flash string) {
	if flash != "" && p.flashes != nil {
		p.flashes.Add(w, r, flash)
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// ErrorView 错误页数据
type ErrorView struct {
	Kind    UIKind
	Heading string
	Hint    string
	Message string
	Retry   Retry
}

// Retry 描述错误页如何重试失败的操作
type Retry struct {
	Method string
	Action string
	Fields []RetryField
}

// RetryField 重试按钮重新提交的表单值。敏感字段不回显，需要重新输入
type RetryField struct {
	Name   string
	Value  string
	Secret bool
}

// Fail 向访客展示错误。请求期间触发的强制导航（会话被拒绝）优先于错误页
func (p *Responder) Fail(w http.ResponseWriter, r *http.Request, err error) {
	if ev, ok := p.takePending(); ok {
		p.logger.Info("redirecting after hard navigation", zap.String("to", ev.Path), zap.Error(err))
		p.Redirect(w, r, ev.Path, "Your session has ended. Please sign in again.")
		return
	}

	kind := UIKindOf(err)
	text := errorCopy[kind]
	view := ErrorView{
		Kind:    kind,
		Heading: text.Heading,
		Hint:    text.Hint,
		Message: Message(err),
		Retry:   retryFor(r),
	}
	p.logger.Debug("request failed", zap.String("path", r.URL.Path), zap.String("ui_kind", string(kind)), zap.Error(err))
	p.Render(w, r, statusFor(err), "error", Page{Title: text.Heading, Data: view})
}

func retryFor(r *http.Request) Retry {
	if r.Method != http.MethodPost {
		return Retry{Method: http.MethodGet, Action: r.URL.RequestURI()}
	}

	retry := Retry{Method: http.MethodPost, Action: r.URL.RequestURI()}
	if err := r.ParseForm(); err != nil {
		return retry
	}
	for name, values := range r.PostForm {
		secret := strings.Contains(strings.ToLower(name), "password")
		for _, v := range values {
			if secret {
				v = ""
			}
			retry.Fields = append(retry.Fields, RetryField{Name: name, Value: v, Secret: secret})
		}
	}
	sort.SliceStable(retry.Fields, func(i, j int) bool {
		return retry.Fields[i].Name < retry.Fields[j].Name
	})
	return retry
}

// FollowPending 跳转到之前请求遗留的强制导航，访客已在目标页面时除外
func (p *Responder) FollowPending(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ev, ok := p.takePending(); ok && ev.Path != r.URL.Path {
			p.Redirect(w, r, ev.Path, "Your session has ended. Please sign in again.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Responder) takePending() (navigation.Event, bool) {
	if p.navigator == nil {
		return navigation.Event{}, false
	}
	return p.navigator.TakePending()
}
