package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/task-lifecycle/pkg/api/dto"
	"github.com/LENAX/task-lifecycle/pkg/core/errs"
)

const (
	// TenantHeader 租户ID请求头
	TenantHeader = "X-Tenant-ID"
	// ActorHeader 操作人ID请求头
	ActorHeader = "X-Actor-ID"

	// TenantKey gin上下文中的租户ID
	TenantKey = "tenant_id"
	// ActorKey gin上下文中的操作人ID
	ActorKey = "actor_id"
)

// Tenant 从请求头读取租户与操作人，缺少租户时拒绝请求
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(TenantHeader)
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, dto.NewErrorResponseWithDetail(
				http.StatusUnprocessableEntity,
				"missing "+TenantHeader+" header",
				dto.ErrorDetail{Kind: string(errs.KindValidation), Rule: "missing_tenant"},
			))
			return
		}
		c.Set(TenantKey, tenantID)
		c.Set(ActorKey, c.GetHeader(ActorHeader))
		c.Next()
	}
}

// TenantID 当前请求的租户ID
func TenantID(c *gin.Context) string {
	return c.GetString(TenantKey)
}

// ActorID 当前请求的操作人ID，fallback用于请求体中提供的值
func ActorID(c *gin.Context, fallback string) string {
	if actor := c.GetString(ActorKey); actor != "" {
		return actor
	}
	return fallback
}
