package elks

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dekvall/matkrasslig/pkg/logger"
)

// Event is the subset of webhook form fields the flows consume.
// 46elks sends application/x-www-form-urlencoded.
type Event struct {
	// From is the caller's number for inbound legs; on outbound legs it
	// is the service number and To carries the dialed helper.
	From   string
	To     string
	CallID string

	// Result holds the digit(s) the caller pressed, when applicable.
	Result string
}

// ParseEvent extracts and canonicalizes the webhook form fields.
func ParseEvent(r *http.Request) (Event, error) {
	if err := r.ParseForm(); err != nil {
		return Event{}, err
	}
	return Event{
		From:   CanonicalNumber(r.PostFormValue("from")),
		To:     CanonicalNumber(r.PostFormValue("to")),
		CallID: strings.TrimSpace(r.PostFormValue("callid")),
		Result: strings.TrimSpace(r.PostFormValue("result")),
	}, nil
}

// CanonicalNumber maps national Swedish notation to E.164.
func CanonicalNumber(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "0") {
		return "+46" + phone[1:]
	}
	return phone
}

// HostResolver turns the provider hostname into its current addresses.
// Injected so tests do not hit DNS.
type HostResolver func(ctx context.Context, host string) ([]string, error)

// DefaultResolver resolves via the system resolver with a short timeout.
func DefaultResolver(ctx context.Context, host string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return net.DefaultResolver.LookupHost(ctx, host)
}

// RequireProvider authenticates webhook origin: the User-Agent must match
// the provider's published string and the source address must resolve to
// the provider host. Anything else gets a bodyless 403 and no state is
// touched.
func RequireProvider(userAgent, host string, resolve HostResolver) gin.HandlerFunc {
	if resolve == nil {
		resolve = DefaultResolver
	}
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		ua := c.GetHeader("User-Agent")
		remote := c.ClientIP()

		if ua != userAgent {
			log.Warn("webhook rejected", "reason", "user-agent mismatch", "user_agent", ua, "remote", remote)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		addrs, err := resolve(c.Request.Context(), host)
		if err != nil {
			log.Error("webhook origin resolution failed", "host", host, "err", err)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		for _, a := range addrs {
			if a == remote {
				c.Next()
				return
			}
		}
		log.Warn("webhook rejected", "reason", "source ip not allow-listed", "remote", remote)
		c.AbortWithStatus(http.StatusForbidden)
	}
}
