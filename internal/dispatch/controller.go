// Package dispatch implements the sequential-dial state machine that
// matches a calling customer with the closest available helper.
//
// The machine runs as a chain of independent webhook deliveries: each
// dial attempt embeds the callback URL of the next attempt, and the only
// state shared between steps is the persisted call session. Progress is
// AWAITING_POSTCODE → RANKED → DIALING(i) → MATCHED | EXHAUSTED |
// CANCELLED, where every terminal state sets the resolved flag and every
// dial step checks it before acting.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/dekvall/matkrasslig/internal/callsession"
	"github.com/dekvall/matkrasslig/internal/elks"
)

// Ring and bridge timeouts, in seconds. The ring timeout is what spaces
// consecutive dial attempts apart.
const (
	ringTimeoutSeconds   = 30
	bridgeTimeoutSeconds = 15
)

// SessionStore is the persisted call-session contract (callsession.Sessions).
type SessionStore interface {
	Create(ctx context.Context, callID string) error
	SetCandidates(ctx context.Context, callID string, candidates []string) error
	Candidates(ctx context.Context, callID string) ([]string, error)
	TryResolve(ctx context.Context, callID string) (bool, error)
	MarkResolved(ctx context.Context, callID string) error
	IsResolved(ctx context.Context, callID string) (bool, error)
	SetField(ctx context.Context, callID, field, value string) error
}

// Pairings commits confirmed matches (store.Store).
type Pairings interface {
	SetActivePairing(ctx context.Context, helperPhone, customerPhone string, now time.Time) error
}

// Ranker produces the ordered candidate list (ranking.Ranker).
type Ranker interface {
	Rank(ctx context.Context, district, zipcode string) ([]string, error)
}

// Dialer places outbound calls (elks.Client).
type Dialer interface {
	PlaceCall(ctx context.Context, to string, voiceStart elks.Node) error
	Number() string
}

type Controller struct {
	sessions SessionStore
	pairings Pairings
	ranker   Ranker
	dialer   Dialer

	baseURL  string
	mediaURL string

	log *slog.Logger
	now func() time.Time
}

func NewController(sessions SessionStore, pairings Pairings, ranker Ranker, dialer Dialer, baseURL, mediaURL string, log *slog.Logger) *Controller {
	return &Controller{
		sessions: sessions,
		pairings: pairings,
		ranker:   ranker,
		dialer:   dialer,
		baseURL:  baseURL,
		mediaURL: mediaURL,
		log:      log,
		now:      time.Now,
	}
}

func (c *Controller) prompt(name string) string {
	return c.mediaURL + "/ivr/" + name
}

// AttemptURL is the webhook that drives DIALING(index) for a call.
func (c *Controller) AttemptURL(index int, callID, customerPhone string) string {
	return fmt.Sprintf("%s/call/%d/%s/%s", c.baseURL, index, url.PathEscape(callID), url.PathEscape(customerPhone))
}

func (c *Controller) acceptURL(callID, customerPhone string) string {
	return fmt.Sprintf("%s/connectUsers/%s/%s", c.baseURL, url.PathEscape(customerPhone), url.PathEscape(callID))
}

// BeginDispatch computes and persists the ranked candidate list for a
// confirmed postcode. found=false means nobody can be dialed (unknown
// zip or no helpers): a business outcome, not an error.
func (c *Controller) BeginDispatch(ctx context.Context, callID, district, zipcode string) (found bool, err error) {
	candidates, err := c.ranker.Rank(ctx, district, zipcode)
	if err != nil {
		return false, fmt.Errorf("dispatch: ranking for call %s: %w", callID, err)
	}
	if len(candidates) == 0 {
		_ = c.sessions.SetField(ctx, callID, callsession.FieldHelpersContacted, "0")
		return false, nil
	}
	if err := c.sessions.SetCandidates(ctx, callID, candidates); err != nil {
		return false, fmt.Errorf("dispatch: persist candidates for call %s: %w", callID, err)
	}
	c.log.Info("dispatch ranked", "call_id", callID, "district", district, "candidates", len(candidates))
	return true, nil
}

// Attempt runs the DIALING(index) step: re-checks the resolved flag,
// escalates to exhaustion when the list ran out, or places the outbound
// call to candidate `index` whose menu chains back into Attempt(index+1)
// on decline, hangup or ring timeout.
func (c *Controller) Attempt(ctx context.Context, callID, customerPhone string, index int) error {
	resolved, err := c.sessions.IsResolved(ctx, callID)
	if err != nil {
		return fmt.Errorf("dispatch: resolved check for call %s: %w", callID, err)
	}
	if resolved {
		// Customer hung up or a match was already committed while this
		// attempt's callback was in flight. Abort silently.
		c.recordEnd(ctx, callID, index)
		c.log.Info("dial chain aborted, session resolved", "call_id", callID, "index", index)
		return nil
	}

	candidates, err := c.sessions.Candidates(ctx, callID)
	if err != nil {
		if errors.Is(err, callsession.ErrNotFound) {
			c.log.Warn("dial attempt without candidate list", "call_id", callID, "index", index)
			return nil
		}
		return fmt.Errorf("dispatch: candidate read for call %s: %w", callID, err)
	}

	if index >= len(candidates) {
		return c.exhaust(ctx, callID, customerPhone, len(candidates))
	}

	menu := elks.Menu{
		Prompt:         c.prompt("hjalte.mp3"),
		Digits:         1,
		TimeoutSeconds: ringTimeoutSeconds,
		WhenHangup:     c.AttemptURL(index+1, callID, customerPhone),
		Branches: map[int]elks.Step{
			1: {URL: c.acceptURL(callID, customerPhone)},
			2: {URL: c.AttemptURL(index+1, callID, customerPhone)},
		},
	}

	to := candidates[index]
	if err := c.dialer.PlaceCall(ctx, to, menu); err != nil {
		// Undeliverable candidate: log and move on to the next one.
		c.log.Error("dial attempt placement failed", "call_id", callID, "index", index, "to", to, "err", err)
		return c.Attempt(ctx, callID, customerPhone, index+1)
	}

	c.log.Info("dial attempt placed", "call_id", callID, "index", index, "to", to)
	return nil
}

// exhaust terminates the chain after the last candidate declined: the
// customer gets a fresh outbound call reporting that no one was found.
func (c *Controller) exhaust(ctx context.Context, callID, customerPhone string, contacted int) error {
	if err := c.sessions.MarkResolved(ctx, callID); err != nil {
		return fmt.Errorf("dispatch: resolve on exhaustion for call %s: %w", callID, err)
	}
	c.recordEnd(ctx, callID, contacted)

	if err := c.NoMatchCallback(ctx, customerPhone); err != nil {
		return fmt.Errorf("dispatch: exhaustion callback for call %s: %w", callID, err)
	}
	c.log.Info("dispatch exhausted", "call_id", callID, "contacted", contacted)
	return nil
}

// NoMatchCallback places a fresh outbound call to the customer playing
// the no-one-found prompt.
func (c *Controller) NoMatchCallback(ctx context.Context, customerPhone string) error {
	return c.dialer.PlaceCall(ctx, customerPhone, elks.Play{URL: c.prompt("ingen_hittad.mp3")})
}

// Accept commits a helper's acceptance. Exactly one acceptance per call
// can win the resolved transition; losers get committed=false and must
// not be bridged (the customer is gone or already matched).
//
// The flag is flipped before the pairing is written, so a storage failure
// can cost a match but can never leave a pairing for an unresolved call.
func (c *Controller) Accept(ctx context.Context, callID, customerPhone, helperPhone string) (committed bool, err error) {
	won, err := c.sessions.TryResolve(ctx, callID)
	if err != nil {
		if errors.Is(err, callsession.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("dispatch: resolve on accept for call %s: %w", callID, err)
	}
	if !won {
		c.log.Info("stale acceptance discarded", "call_id", callID, "helper", helperPhone)
		return false, nil
	}

	if err := c.pairings.SetActivePairing(ctx, helperPhone, customerPhone, c.now()); err != nil {
		return false, fmt.Errorf("dispatch: pairing commit for call %s: %w", callID, err)
	}
	_ = c.sessions.SetField(ctx, callID, callsession.FieldMatchFound, "True")
	_ = c.sessions.SetField(ctx, callID, callsession.FieldCallEnd, c.now().UTC().Format(time.RFC3339))

	c.log.Info("match committed", "call_id", callID, "helper", helperPhone, "customer", customerPhone)
	return true, nil
}

// Cancel handles the customer leg disconnecting before a match. Any dial
// attempt already in flight will see the flag and stop escalating.
func (c *Controller) Cancel(ctx context.Context, callID string) error {
	if err := c.sessions.MarkResolved(ctx, callID); err != nil {
		return fmt.Errorf("dispatch: cancel call %s: %w", callID, err)
	}
	c.log.Info("call cancelled", "call_id", callID)
	return nil
}

// ConnectNode builds the bridge instruction for a committed acceptance.
func (c *Controller) ConnectNode(customerPhone string) elks.Connect {
	return elks.Connect{
		Number:         customerPhone,
		CallerID:       c.dialer.Number(),
		TimeoutSeconds: bridgeTimeoutSeconds,
	}
}

func (c *Controller) recordEnd(ctx context.Context, callID string, contacted int) {
	_ = c.sessions.SetField(ctx, callID, callsession.FieldHelpersContacted, strconv.Itoa(contacted))
	_ = c.sessions.SetField(ctx, callID, callsession.FieldCallEnd, c.now().UTC().Format(time.RFC3339))
}
