package sandbox

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Fixtures 模拟网关的预置数据
type Fixtures struct {
	OTPCode string        `yaml:"otpCode"`
	Users   []FixtureUser `yaml:"users"`
	Links   []FixtureLink `yaml:"links"`
}

// FixtureUser 预注册账号
type FixtureUser struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Role       string `yaml:"role"`
	Email      string `yaml:"email"`
	Phone      string `yaml:"phone"`
	Password   string `yaml:"password"`
	MerchantID string `yaml:"merchantId"`
}

// FixtureLink 预创建的支付链接
type FixtureLink struct {
	ID           string        `yaml:"id"`
	MerchantName string        `yaml:"merchantName"`
	Description  string        `yaml:"description"`
	Amount       int64         `yaml:"amount"`
	Currency     string        `yaml:"currency"`
	MinAmount    int64         `yaml:"minAmount"`
	MaxAmount    int64         `yaml:"maxAmount"`
	TTL          time.Duration `yaml:"ttl"`
	Status       string        `yaml:"status"`
}

// DefaultFixtures 返回内嵌的演示数据
func DefaultFixtures() (Fixtures, error) {
	return ParseFixtures(defaultFixtures)
}

// LoadFixtures 从 YAML 文件读取预置数据
func LoadFixtures(path string) (Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures 解析并校验预置数据 YAML
func ParseFixtures(data []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}

	seenPhones := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		if u.ID == "" || u.Phone == "" {
			return Fixtures{}, fmt.Errorf("fixture user %d: id and phone are required", i)
		}
		if seenPhones[u.Phone] {
			return Fixtures{}, fmt.Errorf("fixture user %s: duplicate phone %s", u.ID, u.Phone)
		}
		seenPhones[u.Phone] = true
	}
	for i, l := range f.Links {
		if l.ID == "" || l.Currency == "" {
			return Fixtures{}, fmt.Errorf("fixture link %d: id and currency are required", i)
		}
		if l.Amount < 0 || l.MinAmount < 0 || l.MaxAmount < 0 {
			return Fixtures{}, fmt.Errorf("fixture link %s: amounts must not be negative", l.ID)
		}
	}
	return f, nil
}
