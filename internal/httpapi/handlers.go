package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dekvall/matkrasslig/internal/elks"
	"github.com/dekvall/matkrasslig/internal/geo"
	"github.com/dekvall/matkrasslig/internal/verification"
	"github.com/dekvall/matkrasslig/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

// Zips answers the helper zip and coordinate lookups for the map view.
type Zips interface {
	HelperZips(ctx context.Context) ([]string, error)
}

// Coordinates resolves a zip to its position (geo.Index).
type Coordinates interface {
	LatLong(zip string) (geo.LatLong, bool)
}

type Handlers struct {
	Verification *verification.Service
	Zips         Zips
	Geo          Coordinates

	// SMSQuota guards the registration endpoint against verification-SMS
	// abuse; nil means unlimited.
	SMSQuota func(ctx context.Context, phone string) (bool, error)
}

// The registration form replies with {"type": "success"|"failure"} plus
// an optional message; the web client switches on "type" rather than the
// HTTP status, so business failures still return 200.

type registerRequest struct {
	HelperName  string `json:"helperName"`
	ZipCode     string `json:"zipCode"`
	PhoneNumber string `json:"phoneNumber"`
}

func (h Handlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"type": "failure", "message": "invalid json"})
		return
	}
	if req.HelperName == "" || req.ZipCode == "" || req.PhoneNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"type": "failure", "message": "helperName, zipCode, phoneNumber required"})
		return
	}

	phone := elks.CanonicalNumber(req.PhoneNumber)
	if h.SMSQuota != nil {
		ok, err := h.SMSQuota(c.Request.Context(), phone)
		if err != nil {
			logger.FromGin(c).Error("sms quota check failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"type": "failure"})
			return
		}
		if !ok {
			c.JSON(http.StatusTooManyRequests, gin.H{"type": "failure", "message": "Too many attempts"})
			return
		}
	}

	err := h.Verification.Begin(c.Request.Context(), req.HelperName, phone, req.ZipCode)
	switch {
	case errors.Is(err, verification.ErrInvalidZip):
		c.JSON(http.StatusOK, gin.H{"type": "failure", "message": "Invalid zip"})
	case errors.Is(err, verification.ErrAlreadyRegistered):
		c.JSON(http.StatusOK, gin.H{"type": "failure", "message": "User already exists"})
	case err != nil:
		logger.FromGin(c).Error("registration failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"type": "failure"})
	default:
		c.JSON(http.StatusOK, gin.H{"type": "success"})
	}
}

type verifyRequest struct {
	Number           string `json:"number"`
	VerificationCode string `json:"verificationCode"`
}

func (h Handlers) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"type": "failure", "message": "invalid json"})
		return
	}
	if req.Number == "" || req.VerificationCode == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"type": "failure", "message": "number, verificationCode required"})
		return
	}

	phone := elks.CanonicalNumber(req.Number)
	err := h.Verification.Confirm(c.Request.Context(), phone, req.VerificationCode)
	switch {
	case errors.Is(err, verification.ErrCodeRejected):
		c.JSON(http.StatusOK, gin.H{"type": "failure"})
	case err != nil:
		logger.FromGin(c).Error("verification failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"type": "failure"})
	default:
		c.JSON(http.StatusOK, gin.H{"type": "success"})
	}
}

// VolunteerLocations returns [lat, lon] pairs for every registered
// helper, for the public coverage map. Zips that fell out of the
// reference table are skipped.
func (h Handlers) VolunteerLocations(c *gin.Context) {
	zips, err := h.Zips.HelperZips(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("helper zip listing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}

	coords := make([][2]float64, 0, len(zips))
	for _, zip := range zips {
		pos, ok := h.Geo.LatLong(zip)
		if !ok {
			continue
		}
		coords = append(coords, [2]float64{pos.Lat, pos.Lon})
	}
	c.JSON(http.StatusOK, gin.H{"coordinates": coords})
}

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
