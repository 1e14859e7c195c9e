package auth

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"LIB-backend/internal/access"
)

type AuthHandler struct{ svc AuthService }

// RegisterRoutes: 公開ルート（/auth/login, /auth/register）
func RegisterRoutes(r gin.IRoutes, svc AuthService) {
	h := &AuthHandler{svc: svc}
	r.POST("/auth/login", h.Login)
	r.POST("/auth/register", h.Register)
}

// RegisterAdminRoutes: RequireAuth の後ろに置くアカウント管理ルート
func RegisterAdminRoutes(r gin.IRoutes, svc AuthService) {
	h := &AuthHandler{svc: svc}
	r.GET("/users", RequireOperation(access.OpListUsers), h.ListUsers)
	r.GET("/users/:id", RequireOperation(access.OpListUsers), h.GetUser)
	r.POST("/users", RequireOperation(access.OpManageUsers), h.CreateUser)
	r.PUT("/users/:id", RequireOperation(access.OpManageUsers), h.UpdateUser)
	r.DELETE("/users/:id", RequireOperation(access.OpManageUsers), h.DeleteAccount)
}

type LoginRequest struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request")
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.ID, req.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			log.Printf("[ERROR] login %s: %v", req.ID, err)
		}
		abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid id or password")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"message": "Login successful",
	})
}

type RegisterRequest struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register は公開の自己登録。作られるのは常に USER。
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request")
		return
	}
	if err := h.svc.Register(c.Request.Context(), req.ID, req.Password, access.RoleUser); err != nil {
		h.registerFailed(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "registered"})
}

type CreateUserRequest struct {
	ID       string      `json:"id" binding:"required"`
	Password string      `json:"password" binding:"required"`
	Role     access.Role `json:"role"` // 未指定なら USER
}

func (h *AuthHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request")
		return
	}
	role := req.Role
	if role == access.RoleUnknown {
		role = access.RoleUser
	}
	if err := h.svc.Register(c.Request.Context(), req.ID, req.Password, role); err != nil {
		h.registerFailed(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "registered"})
}

func (h *AuthHandler) registerFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAlreadyExists):
		abort(c, http.StatusConflict, "CONFLICT", "ID already exists")
	case errors.Is(err, ErrInvalidInput):
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "id must be 1-64 chars and password 8-72 chars")
	default:
		log.Printf("[ERROR] register: %v", err)
		abort(c, http.StatusInternalServerError, "INTERNAL", "register failed")
	}
}

type UserResponse struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	IsDisabled bool      `json:"is_disabled"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *AuthHandler) ListUsers(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		log.Printf("[ERROR] list users: %v", err)
		abort(c, http.StatusInternalServerError, "INTERNAL", "list users failed")
		return
	}
	items := make([]UserResponse, 0, len(list))
	for _, a := range list {
		items = append(items, toUserResponse(&a))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

func toUserResponse(a *Account) UserResponse {
	return UserResponse{ID: a.ID, Role: a.Role, IsDisabled: a.IsDisabled, CreatedAt: a.CreatedAt}
}

func (h *AuthHandler) GetUser(c *gin.Context) {
	id := c.Param("id")
	acct, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.accountFailed(c, "get account "+id, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(acct))
}

type UpdateUserRequest struct {
	Role       *access.Role `json:"role"`
	Password   *string      `json:"password"`
	IsDisabled *bool        `json:"is_disabled"`
}

func (h *AuthHandler) UpdateUser(c *gin.Context) {
	id := c.Param("id")
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request")
		return
	}
	acct, err := h.svc.Update(c.Request.Context(), id, AccountUpdate{
		Role:     req.Role,
		Password: req.Password,
		Disabled: req.IsDisabled,
	})
	if err != nil {
		h.accountFailed(c, "update account "+id, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(acct))
}

func (h *AuthHandler) accountFailed(c *gin.Context, what string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		abort(c, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, ErrInvalidInput):
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "role must be USER or ADMIN and password 8-72 chars")
	default:
		log.Printf("[ERROR] %s: %v", what, err)
		abort(c, http.StatusInternalServerError, "INTERNAL", "account operation failed")
	}
}

func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	id := c.Param("id")

	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.accountFailed(c, "delete account "+id, err)
		return
	}
	c.Status(http.StatusNoContent)
}
