package validation

// SubscribeRequest is the payload for POST /subscriptions. The subscription
// coordinator re-validates both fields before any write.
type SubscribeRequest struct {
	Email string `form:"email" json:"email" validate:"required,email"`
	Name  string `form:"name" json:"name" validate:"subscriber_name"`
}

// PublishNewsletterRequest is the payload for POST /admin/newsletters. The
// idempotency key travels in the Idempotency-Key header.
type PublishNewsletterRequest struct {
	Title       string `form:"title" json:"title" validate:"required"`
	HTMLContent string `form:"html_content" json:"html_content" validate:"required"`
	TextContent string `form:"text_content" json:"text_content" validate:"required"`
}

// LoginRequest is the payload for POST /login.
type LoginRequest struct {
	Username string `form:"username" json:"username" validate:"required"`
	Password string `form:"password" json:"password" validate:"required"`
}

// ChangePasswordRequest is the payload for POST /admin/password.
type ChangePasswordRequest struct {
	CurrentPassword  string `form:"current_password" json:"current_password" validate:"required"`
	NewPassword      string `form:"new_password" json:"new_password" validate:"required,min=12,max=128"`
	NewPasswordCheck string `form:"new_password_check" json:"new_password_check" validate:"eqfield=NewPassword"`
}
