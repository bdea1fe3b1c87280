package handlers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/scheduler"
)

// MonitorHandlerInterface defines the contract for monitor handlers
type MonitorHandlerInterface interface {
	GetSummary(c fiber.Ctx) error
	GetProxyMetrics(c fiber.Ctx) error
	GetRecentAlerts(c fiber.Ctx) error
}

// MonitorHandler exposes the proxy monitor's state over HTTP
type MonitorHandler struct {
	monitor *scheduler.ProxyMonitor
}

// NewMonitorHandler creates a new monitor handler
func NewMonitorHandler(monitor *scheduler.ProxyMonitor) *MonitorHandler {
	return &MonitorHandler{monitor: monitor}
}

func (h *MonitorHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *MonitorHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// GetSummary reports the fleet-wide roll-up from the latest sweep
func (h *MonitorHandler) GetSummary(c fiber.Ctx) error {
	return h.SuccessResponse(c, fiber.StatusOK, "Monitor summary retrieved", h.monitor.GetSummary())
}

// GetProxyMetrics reports the stored metrics for one assignment
func (h *MonitorHandler) GetProxyMetrics(c fiber.Ctx) error {
	assignmentUUID := c.Params("assignmentUUID")
	if assignmentUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Assignment UUID is required", "VALIDATION_ERROR", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	metrics, err := h.monitor.GetProxyMetrics(ctx, assignmentUUID)
	if err != nil {
		log.Println("Proxy metrics lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusNotFound, "Assignment not found", "ASSIGNMENT_NOT_FOUND", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Proxy metrics retrieved", metrics)
}

// GetRecentAlerts lists recent monitor alerts, oldest first
func (h *MonitorHandler) GetRecentAlerts(c fiber.Ctx) error {
	return h.SuccessResponse(c, fiber.StatusOK, "Recent alerts retrieved", h.monitor.RecentAlerts())
}
