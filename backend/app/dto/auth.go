package dto

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// DeviceTokenRequest asks for a protocol login token for one device id.
type DeviceTokenRequest struct {
	DeviceID string `json:"device_id"`
}
