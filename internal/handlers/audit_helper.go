package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/harborstay/booking-backend/internal/services"
	"github.com/harborstay/booking-backend/internal/utils"
)

// clientMeta extracts request metadata for the payment audit trail.
func clientMeta(c *gin.Context) *services.ClientMeta {
	ua := utils.GetUserAgent(c)
	return &services.ClientMeta{
		IP:         utils.GetRealIP(c),
		UserAgent:  ua,
		DeviceType: utils.DeviceTypeFromUserAgent(ua),
	}
}
