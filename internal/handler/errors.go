package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"localrank/internal/service"
	"localrank/pkg/logger"
)

// respondError 将引擎错误映射为 HTTP 状态码
func respondError(c *gin.Context, l *zap.Logger, err error) {
	var (
		validation  *service.ValidationError
		ownership   *service.OwnershipError
		conflict    *service.ConflictError
		notFound    *service.NotFoundError
		unavailable *service.BackendUnavailableError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Message})
	case errors.As(err, &ownership):
		c.JSON(http.StatusForbidden, gin.H{"error": ownership.Error()})
	case errors.As(err, &conflict):
		if conflict.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(conflict.RetryAfter.Seconds()))))
		}
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Message})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &unavailable):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage backend unavailable"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "request canceled"})
	default:
		logger.WithTrace(c.Request.Context(), l).Error("Unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// agencyID 返回认证中间件写入的 agency_id
func agencyID(c *gin.Context) string {
	return c.GetString("agency_id")
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
