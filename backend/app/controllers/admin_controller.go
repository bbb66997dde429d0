package controllers

import (
	"encoding/json"
	"net/http"

	"autonova-rmm/backend/app/dto"
	"autonova-rmm/backend/app/services"
)

type AdminController struct{ Users *services.UserService }

func NewAdminController(users *services.UserService) *AdminController {
	return &AdminController{Users: users}
}

func (c *AdminController) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing username or password")
		return
	}
	if err := c.Users.CreateUser(req.Username, req.Password, req.Role); err != nil {
		writeError(w, http.StatusInternalServerError, "create user failed")
		return
	}
	w.WriteHeader(http.StatusCreated)
}
