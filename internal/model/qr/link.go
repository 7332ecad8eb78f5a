package qr

import "time"

// LinkStatus 二维码支付链接的生命周期状态
type LinkStatus string

const (
	StatusPending LinkStatus = "pending"
	StatusPaid    LinkStatus = "paid"
	StatusExpired LinkStatus = "expired"
	StatusFailed  LinkStatus = "failed"
)

// Terminal 判断是否为终态，终态之后不会再有状态变化
func (s LinkStatus) Terminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusFailed
}

// PaymentLink 二维码支付链接
type PaymentLink struct {
	ID           string     `json:"id"`
	MerchantName string     `json:"merchantName"`
	Description  string     `json:"description,omitempty"`
	Amount       int64      `json:"amount"` // minor units; 0 means payer chooses
	Currency     string     `json:"currency"`
	MinAmount    int64      `json:"minAmount,omitempty"`
	MaxAmount    int64      `json:"maxAmount,omitempty"`
	Status       LinkStatus `json:"status"`
	ExpiresAt    time.Time  `json:"expiresAt"`
}

// FixedAmount 判断商户是否固定了金额
func (l PaymentLink) FixedAmount() bool {
	return l.Amount > 0
}

// PayRequest 支付请求
type PayRequest struct {
	Amount int64  `json:"amount"`
	Method string `json:"method"`
	Phone  string `json:"phone,omitempty"`
}

// PaymentResult 支付结果
type PaymentResult struct {
	TransactionID string     `json:"transactionId"`
	LinkID        string     `json:"linkId"`
	Status        LinkStatus `json:"status"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	PaidAt        time.Time  `json:"paidAt"`
}

// LinkEvent 状态变化时通过链接 websocket 推送
type LinkEvent struct {
	LinkID string     `json:"linkId"`
	Status LinkStatus `json:"status"`
	At     time.Time  `json:"at"`
}
