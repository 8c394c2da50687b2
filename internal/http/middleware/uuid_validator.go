package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
)

const uuidParamKeyPrefix = "uuidParam:"

// UUIDParam разбирает параметр пути как UUID один раз и кладёт результат в контекст.
// Нулевой UUID отклоняется: таких сделок, споров и банов не бывает.
func UUIDParam(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param(name)
		if raw == "" {
			abortWith(c, apperror.Newf(apperror.ErrCodeValidation, "параметр %s обязателен", name))
			return
		}

		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			abortWith(c, apperror.Newf(apperror.ErrCodeValidation, "параметр %s должен быть валидным UUID", name))
			return
		}

		c.Set(uuidParamKeyPrefix+name, id)
		c.Next()
	}
}

// ParsedUUID значение, сохранённое UUIDParam.
func ParsedUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	v, ok := c.Get(uuidParamKeyPrefix + name)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
