package web

import (
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const flashSession = "zpay_flash"

// Flashes 通过签名 cookie 在重定向之间传递一次性消息
type Flashes struct {
	store  *sessions.CookieStore
	logger *zap.Logger
}

// NewFlashes 创建 cookie 存储。secret 为空时使用随机密钥，重启后消息失效
func NewFlashes(secret string, secure bool, logger *zap.Logger) *Flashes {
	if logger == nil {
		logger = zap.NewNop()
	}
	key := []byte(secret)
	if len(key) == 0 {
		key = securecookie.GenerateRandomKey(32)
	}

	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Flashes{store: store, logger: logger}
}

// Add 为下一个渲染的页面排队消息，须在写响应头之前调用
func (f *Flashes) Add(w http.ResponseWriter, r *http.Request, msg string) {
	sess, err := f.store.Get(r, flashSession)
	if err != nil {
		f.logger.Debug("discarding unreadable flash cookie", zap.Error(err))
	}
	sess.AddFlash(msg)
	if err := sess.Save(r, w); err != nil {
		f.logger.Warn("failed to save flash", zap.Error(err))
	}
}

// Take 取出并清空排队的消息
func (f *Flashes) Take(w http.ResponseWriter, r *http.Request) []string {
	sess, err := f.store.Get(r, flashSession)
	if err != nil {
		return nil
	}
	raw := sess.Flashes()
	if len(raw) == 0 {
		return nil
	}
	if err := sess.Save(r, w); err != nil {
		f.logger.Warn("failed to clear flashes", zap.Error(err))
	}

	msgs := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			msgs = append(msgs, s)
		}
	}
	return msgs
}
