package auth

// User is the identity record returned by the gateway for the signed-in account.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	MerchantID string `json:"merchantId,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
}

// UserPatch carries a partial user update. Nil fields are left untouched.
type UserPatch struct {
	Name       *string `json:"name,omitempty"`
	Role       *string `json:"role,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	MerchantID *string `json:"merchantId,omitempty"`
	AvatarURL  *string `json:"avatarUrl,omitempty"`
}

// Apply merges the patch into u and returns the result.
func (p UserPatch) Apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.MerchantID != nil {
		u.MerchantID = *p.MerchantID
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	return u
}

// PatchFrom builds a patch that overwrites every non-empty field of u.
func PatchFrom(u User) UserPatch {
	var p UserPatch
	set := func(dst **string, v string) {
		if v != "" {
			value := v
			*dst = &value
		}
	}
	set(&p.Name, u.Name)
	set(&p.Role, u.Role)
	set(&p.Email, u.Email)
	set(&p.Phone, u.Phone)
	set(&p.MerchantID, u.MerchantID)
	set(&p.AvatarURL, u.AvatarURL)
	return p
}

// String returns a pointer to s, for building patches inline.
func String(s string) *string {
	return &s
}
