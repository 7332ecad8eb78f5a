package qr

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	qrmodel "github.com/zhouzirui/z-pay/client/internal/model/qr"
)

var (
	ErrAmountInvalid    = errors.New("amount is not a valid number")
	ErrAmountPrecision  = errors.New("amount has too many decimal places")
	ErrAmountMismatch   = errors.New("amount does not match payment link")
	ErrAmountOutOfRange = errors.New("amount out of range")
)

// currencyExponent 列出没有小数位的货币，其余货币使用两位小数
var currencyExponent = map[string]int{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
}

// Exponent 返回货币最小单位的小数位数
func Exponent(currency string) int {
	if exp, ok := currencyExponent[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// ParseAmount 将 "1,250.50" 这样的十进制字符串转换为最小货币单位，并按链接校验。
// 固定金额链接输入为空时返回链接金额
func ParseAmount(input string, link qrmodel.PaymentLink) (int64, error) {
	raw := strings.NewReplacer(",", "", " ", "", "_", "").Replace(strings.TrimSpace(input))
	if raw == "" {
		if link.FixedAmount() {
			return link.Amount, nil
		}
		return 0, invalid(ErrAmountInvalid)
	}

	if strings.HasPrefix(raw, "-") {
		return 0, invalid(ErrAmountOutOfRange)
	}

	amount, err := toMinor(strings.TrimPrefix(raw, "+"), Exponent(link.Currency))
	if err != nil {
		return 0, invalid(err)
	}

	switch {
	case amount <= 0:
		return 0, invalid(ErrAmountOutOfRange)
	case link.FixedAmount() && amount != link.Amount:
		return 0, invalid(fmt.Errorf("%w: expected %s", ErrAmountMismatch, FormatAmount(link.Amount, link.Currency)))
	case link.MinAmount > 0 && amount < link.MinAmount:
		return 0, invalid(fmt.Errorf("%w: minimum is %s", ErrAmountOutOfRange, FormatAmount(link.MinAmount, link.Currency)))
	case link.MaxAmount > 0 && amount > link.MaxAmount:
		return 0, invalid(fmt.Errorf("%w: maximum is %s", ErrAmountOutOfRange, FormatAmount(link.MaxAmount, link.Currency)))
	}
	return amount, nil
}

func toMinor(raw string, exp int) (int64, error) {
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if whole == "" && !hasFrac {
		return 0, ErrAmountInvalid
	}
	if strings.ContainsAny(whole, "+-") || hasFrac && (frac == "" || strings.ContainsAny(frac, "+-.")) {
		return 0, ErrAmountInvalid
	}
	if len(frac) > exp {
		if strings.Trim(frac[exp:], "0") != "" {
			return 0, ErrAmountPrecision
		}
		frac = frac[:exp]
	}
	frac += strings.Repeat("0", exp-len(frac))

	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrAmountInvalid
	}
	var minor int64
	if frac != "" {
		minor, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, ErrAmountInvalid
		}
	}

	scale := int64(math.Pow10(exp))
	if units > (math.MaxInt64-minor)/scale {
		return 0, ErrAmountOutOfRange
	}
	return units*scale + minor, nil
}

// FormatAmount 将最小货币单位格式化为 "45,000.00 MNT"
func FormatAmount(minor int64, currency string) string {
	exp := Exponent(currency)
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	scale := int64(math.Pow10(exp))
	whole := strconv.FormatInt(minor/scale, 10)

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if exp > 0 {
		fmt.Fprintf(&b, ".%0*d", exp, minor%scale)
	}
	if currency != "" {
		b.WriteString(" " + strings.ToUpper(currency))
	}
	return b.String()
}
