package api

import (
	"encoding/json"
	"net/http"
	"time"

	"gorm.io/gorm"

	"factory-wgserver/pkg/auth"
	"factory-wgserver/pkg/model"
)

// AuthHandler serves token issuance when a user database is configured.
type AuthHandler struct {
	DB *gorm.DB
}

// NewAuthHandler migrates the admin account table and returns the
// handler.
func NewAuthHandler(db *gorm.DB) (*AuthHandler, error) {
	if err := db.AutoMigrate(&model.User{}); err != nil {
		return nil, err
	}
	return &AuthHandler{DB: db}, nil
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/auth/register", a.handleRegister)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
}

// handleRegister only allows the first user to be created (admin).
func (a *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	var count int64
	a.DB.Model(&model.User{}).Count(&count)
	if count > 0 {
		http.Error(w, "registration closed", http.StatusForbidden)
		return
	}
	user := model.User{Username: req.Username, Admin: true}
	if err := user.SetPassword(req.Password); err != nil {
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}
	if err := a.DB.Create(&user).Error; err != nil {
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}
	token, err := auth.Issue(user)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	var user model.User
	if err := a.DB.Where("username = ?", req.Username).First(&user).Error; err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if !user.CheckPassword(req.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	a.DB.Model(&user).Update("last_login_at", time.Now())
	token, err := auth.Issue(user)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// authFunc accepts either the bootstrap token or a valid admin JWT.
func authFunc(bootstrapToken string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		h := r.Header.Get("Authorization")
		if bootstrapToken != "" && h == "Bearer "+bootstrapToken {
			return true
		}
		claims, err := auth.ParseBearer(h)
		return err == nil && claims.Admin
	}
}
