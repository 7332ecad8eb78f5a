// Package qr 对接 v2 二维码支付接口：查询链接、支付以及通过 websocket 获取实时状态。
package qr

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-pay/client/internal/apiclient"
	qrmodel "github.com/zhouzirui/z-pay/client/internal/model/qr"
)

var (
	ErrLinkIDRequired = errors.New("payment link id is required")
	ErrMethodRequired = errors.New("payment method is required")
)

// API 二维码服务使用的 v2 网关客户端方法
type API interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	BaseURL() *url.URL
}

// Service 二维码支付服务
type Service struct {
	api    API
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewService 创建二维码支付服务
func NewService(api API, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		api: api,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func linkPath(id string) string {
	return "/qr/payment/link/" + url.PathEscape(id)
}

// GetLink 获取支付链接
func (s *Service) GetLink(ctx context.Context, id string) (qrmodel.PaymentLink, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return qrmodel.PaymentLink{}, invalid(ErrLinkIDRequired)
	}

	var link qrmodel.PaymentLink
	if err := s.api.Get(ctx, linkPath(id), &link); err != nil {
		return qrmodel.PaymentLink{}, fmt.Errorf("get payment link %s: %w", id, err)
	}
	return link, nil
}

// Pay 支付链接。金额以最小货币单位计，固定金额链接可以为零
func (s *Service) Pay(ctx context.Context, id string, req qrmodel.PayRequest) (qrmodel.PaymentResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return qrmodel.PaymentResult{}, invalid(ErrLinkIDRequired)
	}
	req.Method = strings.TrimSpace(req.Method)
	if req.Method == "" {
		return qrmodel.PaymentResult{}, invalid(ErrMethodRequired)
	}

	var result qrmodel.PaymentResult
	if err := s.api.Post(ctx, linkPath(id), req, &result); err != nil {
		return qrmodel.PaymentResult{}, fmt.Errorf("pay link %s: %w", id, err)
	}
	s.logger.Info("payment submitted",
		zap.String("link_id", id),
		zap.String("transaction_id", result.TransactionID),
		zap.String("status", string(result.Status)))
	return result, nil
}

// Watch 推送链接的状态事件。到达终态、ctx 结束或连接断开时关闭 channel
func (s *Service) Watch(ctx context.Context, id string) (<-chan qrmodel.LinkEvent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid(ErrLinkIDRequired)
	}

	wsURL, err := s.watchURL(id)
	if err != nil {
		return nil, &apiclient.Error{Kind: apiclient.KindRequest, Message: err.Error(), Err: err}
	}

	conn, resp, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &apiclient.Error{
				Kind:       apiclient.KindHTTP,
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("request failed with status code %d", resp.StatusCode),
				Err:        err,
			}
		}
		return nil, &apiclient.Error{Kind: apiclient.KindNetwork, Message: "no response received", Err: err}
	}

	events := make(chan qrmodel.LinkEvent)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(events)
		defer close(done)
		defer conn.Close()

		for {
			var ev qrmodel.LinkEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.logger.Warn("link watch ended", zap.String("link_id", id), zap.Error(err))
				}
				return
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Status.Terminal() {
				return
			}
		}
	}()

	return events, nil
}

func (s *Service) watchURL(id string) (string, error) {
	u := s.api.BaseURL()
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q for websocket", u.Scheme)
	}
	base := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/qr/payment/link/" + id + "/ws"
	u.RawPath = base + linkPath(id) + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func invalid(err error) error {
	return &apiclient.Error{Kind: apiclient.KindRequest, Message: err.Error(), Err: err}
}
