package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/task-lifecycle/pkg/api/dto"
	"github.com/LENAX/task-lifecycle/pkg/core/errs"
)

// StatusOf 错误类别对应的HTTP状态码
func StatusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindValidation:
		return http.StatusUnprocessableEntity
	case errs.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError 写入错误响应，内部错误不向调用方暴露细节
func respondError(c *gin.Context, err error) {
	status := StatusOf(err)
	_ = c.Error(err)

	var e *errs.Error
	if status == http.StatusInternalServerError || !errors.As(err, &e) {
		c.JSON(status, dto.NewErrorResponse(status, "Internal Server Error"))
		return
	}
	c.JSON(status, dto.NewErrorResponseWithDetail(status, err.Error(), dto.ErrorDetail{
		Kind: string(e.Kind),
		Rule: e.Rule,
	}))
}

// bindJSON 解析请求体，失败时写入400响应
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return false
	}
	return true
}
