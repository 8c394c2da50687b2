package dto

import (
	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/models"
)

// Pagination метаданные страницы.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// DealListResponse страница сделок.
type DealListResponse struct {
	Deals      []entity.Deal `json:"deals"`
	Pagination Pagination    `json:"pagination"`
}

// NotificationListResponse уведомления и число непрочитанных.
type NotificationListResponse struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
	Pagination    Pagination            `json:"pagination"`
}

// ErrorResponse стандартный ответ с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse стандартный ответ об успехе.
type SuccessResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
