package controllers

import (
	"encoding/json"
	"net/http"

	"autonova-rmm/backend/app/dto"
	jwtutil "autonova-rmm/backend/app/jwt"
	"autonova-rmm/backend/app/services"
)

type AuthController struct {
	Users  *services.UserService
	Signer *jwtutil.Signer
}

func NewAuthController(users *services.UserService, signer *jwtutil.Signer) *AuthController {
	return &AuthController{Users: users, Signer: signer}
}

func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}
	u, err := c.Users.ValidateCredentials(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := c.Signer.Sign(u.ID, u.Username, u.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}
	writeJSON(w, http.StatusOK, dto.TokenResponse{AccessToken: token})
}

// DeviceToken mints a protocol login token for one device id. Admin only;
// this is how new agents get provisioned.
func (c *AuthController) DeviceToken(w http.ResponseWriter, r *http.Request) {
	var req dto.DeviceTokenRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "missing device_id")
		return
	}
	token, err := c.Signer.SignDevice(req.DeviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}
	writeJSON(w, http.StatusOK, dto.TokenResponse{AccessToken: token})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, dto.ErrorResponse{Error: msg})
}
