// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"shayak-swasth-rag/internal/domain/repository"
	apperrors "shayak-swasth-rag/pkg/errors"
	"shayak-swasth-rag/pkg/logger"
	"shayak-swasth-rag/pkg/tracer"
)

// Response 统一响应结构
type Response[T any] struct {
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	Data      T         `json:"data,omitempty"`
	Meta      *PageMeta `json:"meta,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// PageMeta 分页元数据
type PageMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// ErrorDetail 错误详情，ErrorCode 为 AppError 数字码
type ErrorDetail struct {
	ErrorCode string `json:"error_code,omitempty"`
	Details   string `json:"details,omitempty"`
}

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Code      int          `json:"code"`
	Message   string       `json:"message"`
	Error     *ErrorDetail `json:"error,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	TraceID   string       `json:"trace_id,omitempty"`
}

func traceID(c *gin.Context) string {
	if id := tracer.TraceID(c.Request.Context()); id != "" {
		return id
	}
	return c.GetString("trace_id")
}

func write[T any](c *gin.Context, status int, message string, data T, meta *PageMeta) {
	c.JSON(status, Response[T]{
		Code:      status,
		Message:   message,
		Data:      data,
		Meta:      meta,
		RequestID: c.GetString("request_id"),
		TraceID:   traceID(c),
	})
}

// Success 200
func Success[T any](c *gin.Context, data T) {
	write(c, http.StatusOK, "success", data, nil)
}

// SuccessWithPage 200，附带分页信息
func SuccessWithPage[T any, I any](c *gin.Context, data T, page *repository.PagedResult[I]) {
	write(c, http.StatusOK, "success", data, &PageMeta{
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	})
}

// Created 201，同步摄取完成
func Created[T any](c *gin.Context, data T) {
	write(c, http.StatusCreated, "created", data, nil)
}

// Accepted 202，已入队等待 worker 处理
func Accepted[T any](c *gin.Context, data T) {
	write(c, http.StatusAccepted, "accepted", data, nil)
}

// NoContent 204
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error 返回错误响应，detail 可为 nil
func Error(c *gin.Context, status int, message string, detail *ErrorDetail) {
	c.JSON(status, ErrorResponse{
		Code:      status,
		Message:   message,
		Error:     detail,
		RequestID: c.GetString("request_id"),
		TraceID:   traceID(c),
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message, nil)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message, nil)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, message, nil)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message, nil)
}

// AppError 按 AppError 的错误码与状态码返回。
// 5xx 只对外返回通用信息，底层原因写日志；非 AppError 一律 500。
func AppError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		logger.Error(c.Request.Context(), "unhandled error", err)
		InternalError(c, "internal server error")
		return
	}

	detail := &ErrorDetail{ErrorCode: string(appErr.Code)}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), appErr.Message, err, "error_code", appErr.Code)
	} else {
		detail.Details = appErr.Detail
	}
	Error(c, appErr.HTTPStatus, appErr.Message, detail)
}
