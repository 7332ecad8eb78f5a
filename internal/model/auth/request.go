package auth

// InitRequest 基于手机号的预会话请求
type InitRequest struct {
	Phone string `json:"phone"`
}

// InitResponse 告知该手机号是否已有账号
type InitResponse struct {
	Phone      string `json:"phone"`
	Registered bool   `json:"registered"`
	OTPSent    bool   `json:"otpSent"`
}

// SignUpRequest 注册请求
type SignUpRequest struct {
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// VerifyOTPRequest 验证码校验请求
type VerifyOTPRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// SignInRequest 登录请求
type SignInRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// SessionResponse 登录与验证码校验的响应
type SessionResponse struct {
	User         User   `json:"user"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// PasswordRequest 设置或校验账号密码
type PasswordRequest struct {
	Password string `json:"password"`
}

// PasswordCheckResponse 密码校验结果
type PasswordCheckResponse struct {
	Valid bool `json:"valid"`
}

// MessageResponse 通用的确认消息
type MessageResponse struct {
	Message string `json:"message"`
}
