// Package elks is the adapter for the 46elks telephony provider: an HTTP
// client for outbound calls and SMS, the IVR command-tree serializer, and
// webhook origin authentication.
package elks

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client places outbound calls and sends SMS through the provider REST
// API. Calls are bounded and retried a small number of times on transient
// failures; business rejections (4xx) are not retried.
type Client struct {
	http *resty.Client
	log  *slog.Logger

	// number is the service's own E.164 number, used as caller id.
	number string
}

type ClientConfig struct {
	BaseURL     string
	APIUsername string
	APIPassword string
	Number      string
}

func NewClient(cfg ClientConfig, log *slog.Logger) *Client {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.APIUsername, cfg.APIPassword).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{http: rc, log: log, number: cfg.Number}
}

// Number returns the service's own phone number.
func (c *Client) Number() string { return c.number }

// PlaceCall dials `to` from the service number and hands the answered
// call to the given IVR tree. The provider drives all subsequent steps
// through the callback URLs embedded in the tree.
func (c *Client) PlaceCall(ctx context.Context, to string, voiceStart Node) error {
	payload, err := Marshal(voiceStart)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"from":        c.number,
			"to":          to,
			"voice_start": string(payload),
		}).
		Post("/a1/calls")
	if err != nil {
		return fmt.Errorf("elks: place call to %s: %w", to, err)
	}
	if resp.IsError() {
		return fmt.Errorf("elks: place call to %s: status %d: %s", to, resp.StatusCode(), resp.String())
	}

	c.log.Info("outbound call placed", "to", to, "status", resp.StatusCode())
	return nil
}

// SendSMS sends a text. `from` may be an alphanumeric sender id.
func (c *Client) SendSMS(ctx context.Context, from, to, message string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"from":    from,
			"to":      to,
			"message": message,
		}).
		Post("/a1/sms")
	if err != nil {
		return fmt.Errorf("elks: send sms to %s: %w", to, err)
	}
	if resp.IsError() {
		return fmt.Errorf("elks: send sms to %s: status %d: %s", to, resp.StatusCode(), resp.String())
	}

	c.log.Info("sms sent", "to", to)
	return nil
}
