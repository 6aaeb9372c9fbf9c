package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/platforms/internal/middleware"
	"github.com/hitoshi/platforms/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（64KB）。
const maxRequestBodySize = 64 << 10

// decodeJSONBody はリクエストボディをJSONとしてvに読み込む。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeNotAuthorized, model.ErrCodeCSRFFailed:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodePostNotFound, model.ErrCodeUnknownProvider:
		return http.StatusNotFound
	case model.ErrCodeInvalidEmail, model.ErrCodeInvalidName, model.ErrCodeInvalidRole,
		model.ErrCodeInvalidRequest, model.ErrCodeMissingHost:
		return http.StatusBadRequest
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
