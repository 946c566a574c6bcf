package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/plant-hire/service-booking/internal/application"
	"github.com/plant-hire/service-booking/internal/domain/booking"
	"github.com/plant-hire/service-booking/pkg/response"
)

// BookingHandler exposes the booking read/create endpoints.
type BookingHandler struct {
	bookings *application.BookingService
	logger   *zap.Logger
}

func NewBookingHandler(bookings *application.BookingService, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, logger: logger}
}

// RegisterRoutes mounts the booking endpoints under /api/v1.
func (h *BookingHandler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		v1.POST("/bookings", h.CreateBooking)
		v1.GET("/bookings/:id", h.GetBooking)
	}
}

// CreateBooking opens a new PENDING hold.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req application.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.bookings.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, booking.ErrInvalidInput) {
			response.BadRequest(c, err.Error())
			return
		}
		h.logger.Error("create booking failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.Created(c, resp)
}

// GetBooking returns a booking by id.
func (h *BookingHandler) GetBooking(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid booking id")
		return
	}

	resp, err := h.bookings.GetBooking(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			response.NotFound(c, "booking not found")
			return
		}
		h.logger.Error("get booking failed", zap.Int64("booking_id", id), zap.Error(err))
		response.Internal(c)
		return
	}
	response.Success(c, resp)
}
