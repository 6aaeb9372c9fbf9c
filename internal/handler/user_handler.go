package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/platforms/internal/middleware"
	"github.com/hitoshi/platforms/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Me(ctx context.Context, userID string) (*model.User, error)
	// CompleteSignup はユーザー名と役割を設定してサインアップを完了する。
	CompleteSignup(ctx context.Context, userID, name string, role model.Role) (*model.User, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// signupRequest はPOST /api/users/me/signupのリクエストボディ。
type signupRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Me はログイン中のユーザー情報を返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	user, err := h.service.Me(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

// CompleteSignup はユーザー名と役割を設定する。
// POST /api/users/me/signup
func (h *UserHandler) CompleteSignup(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	var req signupRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	user, err := h.service.CompleteSignup(r.Context(), userID, req.Name, model.Role(req.Role))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toUserResponse(user))
}
