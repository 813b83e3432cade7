package utils

import (
	"net/http"

	"github.com/go-chi/render"
)

// M is a shorthand for ad-hoc JSON objects.
type M = render.M

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	render.Status(r, status)
	render.JSON(w, r, payload)
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	RespondJSON(w, r, status, M{"error": message})
}
