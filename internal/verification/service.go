// Package verification handles helper sign-up: a pending registration is
// parked server-side under the phone number, a one-time code goes out by
// SMS, and a correct code within the expiry window persists the helper.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/dekvall/matkrasslig/internal/store"
)

var (
	ErrInvalidZip        = errors.New("verification: unknown zip code")
	ErrAlreadyRegistered = errors.New("verification: helper already registered")
	ErrCodeRejected      = errors.New("verification: code rejected")
)

const codeLength = 6

// Pending is a parked registration awaiting its code.
type Pending struct {
	Name      string    `json:"name"`
	Zipcode   string    `json:"zipcode"`
	District  string    `json:"district"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CodeStore parks pending registrations. ConsumeIfMatch removes the
// record only on a correct, unexpired code; a wrong code leaves it in
// place, and a consumed or expired code can never match again.
type CodeStore interface {
	Put(ctx context.Context, phone string, p Pending, ttl time.Duration) error
	ConsumeIfMatch(ctx context.Context, phone, code string, now time.Time) (Pending, bool, error)
}

// HelperRegistry is the durable helper relation (store.Store).
type HelperRegistry interface {
	HelperExists(ctx context.Context, phone string) (bool, error)
	SaveHelper(ctx context.Context, h store.Helper) error
}

// SMSSender delivers the code (elks.Client).
type SMSSender interface {
	SendSMS(ctx context.Context, from, to, message string) error
}

// Districts resolves a zip to its district (geo.Index).
type Districts interface {
	District(zip string) (string, bool)
}

type Service struct {
	codes   CodeStore
	helpers HelperRegistry
	sms     SMSSender
	geo     Districts

	smsFrom string
	ttl     time.Duration

	log *slog.Logger
	now func() time.Time
}

func NewService(codes CodeStore, helpers HelperRegistry, sms SMSSender, geo Districts, smsFrom string, ttl time.Duration, log *slog.Logger) *Service {
	return &Service{
		codes:   codes,
		helpers: helpers,
		sms:     sms,
		geo:     geo,
		smsFrom: smsFrom,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
	}
}

// Begin validates a sign-up, parks it and texts the code. The phone must
// already be canonical E.164.
func (s *Service) Begin(ctx context.Context, name, phone, zipcode string) error {
	district, ok := s.geo.District(zipcode)
	if !ok {
		return ErrInvalidZip
	}
	exists, err := s.helpers.HelperExists(ctx, phone)
	if err != nil {
		return fmt.Errorf("verification: existence check: %w", err)
	}
	if exists {
		return ErrAlreadyRegistered
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("verification: code generation: %w", err)
	}

	if err := s.sms.SendSMS(ctx, s.smsFrom, phone, code); err != nil {
		return fmt.Errorf("verification: code delivery: %w", err)
	}

	p := Pending{
		Name:      name,
		Zipcode:   zipcode,
		District:  district,
		Code:      code,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.codes.Put(ctx, phone, p, s.ttl); err != nil {
		return fmt.Errorf("verification: park pending registration: %w", err)
	}

	s.log.Info("verification code sent", "phone", phone, "district", district)
	return nil
}

// Confirm consumes the code and persists the helper. Any mismatch,
// expiry or replay yields ErrCodeRejected; the caller cannot tell which,
// and should not be able to.
func (s *Service) Confirm(ctx context.Context, phone, code string) error {
	p, ok, err := s.codes.ConsumeIfMatch(ctx, phone, code, s.now())
	if err != nil {
		return fmt.Errorf("verification: consume code: %w", err)
	}
	if !ok {
		return ErrCodeRejected
	}

	h := store.Helper{
		Phone:        phone,
		Name:         p.Name,
		Zipcode:      p.Zipcode,
		District:     p.District,
		RegisteredAt: s.now().UTC(),
	}
	if err := s.helpers.SaveHelper(ctx, h); err != nil {
		return fmt.Errorf("verification: persist helper: %w", err)
	}
	s.log.Info("helper registered", "phone", phone, "district", p.District)
	return nil
}

func generateCode() (string, error) {
	out := make([]byte, codeLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		out[i] = byte('0' + n.Int64())
	}
	return string(out), nil
}
