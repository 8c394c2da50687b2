package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
)

// ErrorHandler логирует ошибку из c.Errors и отвечает JSON, если обработчик ещё не ответил.
// AppError отдаётся клиенту с её кодом, остальные ошибки маскируются.
func ErrorHandler(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, body := ErrorBody(err)

		entry := log.WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"status": status,
		}).WithError(err)
		if status >= http.StatusInternalServerError {
			entry.Error("request failed")
		} else {
			entry.Debug("request rejected")
		}

		if !c.Writer.Written() {
			c.JSON(status, body)
		}
	}
}

// ErrorBody статус и тело ответа для ошибки.
func ErrorBody(err error) (int, gin.H) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError && appErr.Code == apperror.ErrCodeInternal {
			return status, gin.H{"error": "внутренняя ошибка сервера", "code": string(appErr.Code)}
		}
		return status, gin.H{"error": appErr.Message, "code": string(appErr.Code)}
	}
	return http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка сервера", "code": string(apperror.ErrCodeInternal)}
}
