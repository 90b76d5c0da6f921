// Package webhook is the entry point for every telephony callback. Each
// handler classifies the caller, mutates the persisted call session, and
// answers with an IVR command tree; the provider's IVR interpreter does
// the rest. Handlers never return HTTP errors for business outcomes —
// the provider has no sensible way to handle them mid-call.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dekvall/matkrasslig/internal/callsession"
	"github.com/dekvall/matkrasslig/internal/dispatch"
	"github.com/dekvall/matkrasslig/internal/elks"
	"github.com/dekvall/matkrasslig/internal/store"
	"github.com/dekvall/matkrasslig/pkg/logger"
)

// Registry is the subset of the session store the flows need for caller
// classification and pairing lookups.
type Registry interface {
	HelperExists(ctx context.Context, phone string) (bool, error)
	HelperName(ctx context.Context, phone string) (string, error)
	DeleteHelper(ctx context.Context, phone string) error
	CustomerExists(ctx context.Context, phone string) (bool, error)
	CustomerZipcode(ctx context.Context, phone string) (string, error)
	SaveCustomer(ctx context.Context, c store.Customer) error
	DeleteCustomer(ctx context.Context, phone string) error
	ActiveCustomer(ctx context.Context, helperPhone string) (string, error)
	ActiveHelper(ctx context.Context, customerPhone string) (string, error)
}

// Districts answers the geo lookups used during zip confirmation.
type Districts interface {
	District(zip string) (string, bool)
	City(zip string) (string, bool)
}

type Handlers struct {
	registry Registry
	sessions dispatch.SessionStore
	dispatch *dispatch.Controller
	geo      Districts

	baseURL  string
	mediaURL string

	log *slog.Logger
	now func() time.Time
}

func NewHandlers(registry Registry, sessions dispatch.SessionStore, ctrl *dispatch.Controller, geo Districts, baseURL, mediaURL string, log *slog.Logger) *Handlers {
	return &Handlers{
		registry: registry,
		sessions: sessions,
		dispatch: ctrl,
		geo:      geo,
		baseURL:  baseURL,
		mediaURL: mediaURL,
		log:      log,
		now:      time.Now,
	}
}

// Register wires the provider-facing routes onto an (already
// authenticated) route group.
func (h *Handlers) Register(r gin.IRoutes) {
	r.POST("/receiveCall", h.ReceiveCall)
	r.POST("/hangup", h.Hangup)
	r.POST("/handleNumberInput", h.HandleNumberInput)
	r.POST("/checkZipcode", h.CheckZipcode)
	r.POST("/postcodeInput/:zipcode", h.PostcodeInput)
	r.POST("/call/:index/:callid/:phone", h.DialAttempt)
	r.POST("/connectUsers/:phone/:callid", h.ConnectUsers)
	r.POST("/callBackToCustomer/:phone", h.CallBackToCustomer)
	r.POST("/handleReturningHelper", h.HandleReturningHelper)
	r.POST("/callExistingCustomer", h.CallExistingCustomer)
	r.POST("/removeHelper", h.RemoveHelper)
	r.POST("/handleReturningCustomer", h.HandleReturningCustomer)
	r.POST("/callExistingHelper", h.CallExistingHelper)
	r.POST("/removeCustomer", h.RemoveCustomer)
}

// Voice prompt assets hosted under the media base URL.
const (
	promptInfo            = "info.mp3"
	promptHelpsNobody     = "hjalper_ingen.mp3"
	promptDeregConfirmed  = "avreg_confirmed.mp3"
	promptKnownVolunteer  = "registrerad_volontar.mp3"
	promptNeedsHelp       = "behover_hjalp.mp3"
	promptSpokeLast       = "pratade_sist.mp3"
	promptConnecting      = "du_kopplas.mp3"
	promptSearching       = "vi_letar.mp3"
	promptEnterZip        = "post_nr.mp3"
	promptBeep            = "bep.mp3"
	promptYouAreIn        = "du_befinner.mp3"
	promptIsThatRight     = "stammer_det.mp3"
	promptNobodyInArea    = "finns_ingen.mp3"
	promptRingingBack     = "ringer_tillbaka.mp3"
	promptTooLate         = "for_sent.mp3"
)

func (h *Handlers) prompt(name string) string {
	return h.mediaURL + "/ivr/" + name
}

// namePrompt points at the pre-generated sound byte for a helper's name.
// Swedish characters must be escaped or the provider chokes on the URL.
func (h *Handlers) namePrompt(name string) string {
	return h.mediaURL + "/name/" + url.PathEscape(name) + ".mp3"
}

func (h *Handlers) cityPrompt(city string) string {
	return h.mediaURL + "/city/" + url.PathEscape(city) + ".mp3"
}

func (h *Handlers) callback(path string) string {
	return h.baseURL + path
}

func (h *Handlers) event(c *gin.Context) (elks.Event, bool) {
	ev, err := elks.ParseEvent(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("webhook form parse failed", "err", err)
		c.String(http.StatusBadRequest, "")
		return elks.Event{}, false
	}
	return ev, true
}

func respond(c *gin.Context, node elks.Node) {
	c.JSON(http.StatusOK, node)
}

func respondEmpty(c *gin.Context) {
	c.String(http.StatusOK, "")
}

// ReceiveCall classifies the inbound caller and opens the call session.
func (h *Handlers) ReceiveCall(c *gin.Context) {
	log := logger.FromGin(c)
	ev, ok := h.event(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.sessions.Create(ctx, ev.CallID); err != nil {
		log.Error("call session create failed", "call_id", ev.CallID, "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	_ = h.sessions.SetField(ctx, ev.CallID, callsession.FieldCallStart, h.now().UTC().Format(time.RFC3339))

	isHelper, err := h.registry.HelperExists(ctx, ev.From)
	if err != nil {
		log.Error("helper classification failed", "phone", ev.From, "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	if isHelper {
		log.Info("inbound call from helper", "phone", ev.From, "call_id", ev.CallID)
		respond(c, h.returningHelperMenu(ctx, ev.From))
		return
	}

	isCustomer, err := h.registry.CustomerExists(ctx, ev.From)
	if err != nil {
		log.Error("customer classification failed", "phone", ev.From, "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	if isCustomer {
		log.Info("inbound call from customer", "phone", ev.From, "call_id", ev.CallID)
		respond(c, h.returningCustomerMenu(ctx, ev.From))
		return
	}

	// Unknown number: the new-customer intro. Digit 2 replays the info.
	log.Info("inbound call from new caller", "phone", ev.From, "call_id", ev.CallID)
	respond(c, elks.Menu{
		Prompt:    h.prompt(promptInfo),
		Skippable: true,
		Digits:    1,
		Branches: map[int]elks.Step{
			2: {URL: h.callback("/receiveCall")},
		},
		Next: h.step("/handleNumberInput"),
	})
}

func (h *Handlers) step(path string) elks.Step {
	return elks.Step{URL: h.callback(path)}
}

func (h *Handlers) returningHelperMenu(ctx context.Context, helperPhone string) elks.Node {
	_, err := h.registry.ActiveCustomer(ctx, helperPhone)
	if errors.Is(err, store.ErrNotFound) {
		// Helper with nobody to call back: only deregistration on offer.
		return elks.Menu{
			Prompt:    h.prompt(promptHelpsNobody),
			Skippable: true,
			Digits:    1,
			Branches: map[int]elks.Step{
				1: {Node: elks.Play{
					URL:  h.prompt(promptDeregConfirmed),
					Next: h.step("/removeHelper"),
				}},
			},
		}
	}
	return elks.Menu{
		Prompt: h.prompt(promptKnownVolunteer),
		Digits: 1,
		Next:   h.step("/handleReturningHelper"),
	}
}

func (h *Handlers) returningCustomerMenu(ctx context.Context, customerPhone string) elks.Node {
	helperPhone, err := h.registry.ActiveHelper(ctx, customerPhone)
	if err == nil {
		if name, nerr := h.registry.HelperName(ctx, helperPhone); nerr == nil {
			return elks.Play{
				URL: h.prompt(promptNeedsHelp),
				Next: elks.Step{Node: elks.Play{
					URL: h.namePrompt(name),
					Next: elks.Step{Node: elks.Menu{
						Prompt: h.prompt(promptSpokeLast),
						Digits: 1,
						Next:   h.step("/handleReturningCustomer"),
					}},
				}},
			}
		}
	}
	// Known customer without a reachable pairing (never matched, or the
	// helper deregistered): go straight to a fresh search on the saved zip.
	zip, zerr := h.registry.CustomerZipcode(ctx, customerPhone)
	if zerr != nil {
		return elks.Play{
			URL:  h.prompt(promptEnterZip),
			Next: elks.Step{Node: h.zipEntryMenu()},
		}
	}
	return elks.Play{
		URL:       h.prompt(promptSearching),
		Skippable: true,
		Next:      h.step("/postcodeInput/" + zip),
	}
}

// Hangup is posted when the customer leg disconnects; before a match it
// cancels the dial chain.
func (h *Handlers) Hangup(c *gin.Context) {
	ev, ok := h.event(c)
	if !ok {
		return
	}
	if ev.CallID != "" {
		if err := h.dispatch.Cancel(c.Request.Context(), ev.CallID); err != nil {
			logger.FromGin(c).Error("cancel on hangup failed", "call_id", ev.CallID, "err", err)
		}
	}
	respondEmpty(c)
}

// HandleNumberInput reacts to the intro menu choice.
func (h *Handlers) HandleNumberInput(c *gin.Context) {
	ev, ok := h.event(c)
	if !ok {
		return
	}
	if ev.Result != "1" {
		respondEmpty(c)
		return
	}
	respond(c, elks.Play{
		URL:  h.prompt(promptEnterZip),
		Next: elks.Step{Node: h.zipEntryMenu()},
	})
}

func (h *Handlers) zipEntryMenu() elks.Menu {
	return elks.Menu{
		Prompt: h.prompt(promptBeep),
		Digits: 5,
		Next:   h.step("/checkZipcode"),
	}
}

// CheckZipcode plays back the city for the collected digits and asks for
// confirmation; an unknown zip re-enters digit collection.
func (h *Handlers) CheckZipcode(c *gin.Context) {
	ev, ok := h.event(c)
	if !ok {
		return
	}
	zipcode := ev.Result

	city, found := h.geo.City(zipcode)
	if !found {
		logger.FromGin(c).Info("unrecognized zip entered", "zip", zipcode, "call_id", ev.CallID)
		respond(c, elks.Play{
			URL:       h.prompt(promptEnterZip),
			Skippable: true,
			Next:      elks.Step{Node: h.zipEntryMenu()},
		})
		return
	}

	respond(c, elks.Play{
		URL: h.prompt(promptYouAreIn),
		Next: elks.Step{Node: elks.Play{
			URL: h.cityPrompt(city),
			Next: elks.Step{Node: elks.Menu{
				Prompt: h.prompt(promptIsThatRight),
				Digits: 1,
				Branches: map[int]elks.Step{
					1: {URL: h.callback("/postcodeInput/" + zipcode)},
					2: {Node: elks.Play{
						URL:       h.prompt(promptEnterZip),
						Skippable: true,
						Next:      elks.Step{Node: h.zipEntryMenu()},
					}},
				},
			}},
		}},
	})
}

// PostcodeInput is the AWAITING_POSTCODE → RANKED transition: the
// confirmed zip persists the customer, ranks nearby helpers and kicks
// off the dial chain at index 0.
func (h *Handlers) PostcodeInput(c *gin.Context) {
	log := logger.FromGin(c)
	ev, ok := h.event(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	zipcode := c.Param("zipcode")

	district, _ := h.geo.District(zipcode)
	if err := h.registry.SaveCustomer(ctx, store.Customer{
		Phone:     ev.From,
		Zipcode:   zipcode,
		District:  district,
		CreatedAt: h.now().UTC(),
	}); err != nil {
		log.Error("customer save failed", "phone", ev.From, "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}

	found, err := h.dispatch.BeginDispatch(ctx, ev.CallID, district, zipcode)
	if err != nil {
		log.Error("dispatch begin failed", "call_id", ev.CallID, "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	if !found {
		log.Info("no helpers available", "call_id", ev.CallID, "zip", zipcode)
		respond(c, elks.Play{URL: h.prompt(promptNobodyInArea)})
		return
	}

	respond(c, elks.Play{
		URL:       h.prompt(promptRingingBack),
		Skippable: true,
		Next:      elks.Step{URL: h.dispatch.AttemptURL(0, ev.CallID, ev.From)},
	})
}

// DialAttempt services one DIALING(i) step of the chain. The response to
// the provider is always empty; the outbound candidate call carries the
// next menu.
func (h *Handlers) DialAttempt(c *gin.Context) {
	log := logger.FromGin(c)
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.String(http.StatusBadRequest, "")
		return
	}
	callID := c.Param("callid")
	customerPhone := elks.CanonicalNumber(c.Param("phone"))

	if err := h.dispatch.Attempt(c.Request.Context(), callID, customerPhone, index); err != nil {
		log.Error("dial attempt failed", "call_id", callID, "index", index, "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	respondEmpty(c)
}

// ConnectUsers handles a helper pressing the accept digit on their leg.
func (h *Handlers) ConnectUsers(c *gin.Context) {
	log := logger.FromGin(c)
	ev, ok := h.event(c)
	if !ok {
		return
	}
	callID := c.Param("callid")
	customerPhone := elks.CanonicalNumber(c.Param("phone"))
	helperPhone := ev.To

	committed, err := h.dispatch.Accept(c.Request.Context(), callID, customerPhone, helperPhone)
	if err != nil {
		log.Error("acceptance failed", "call_id", callID, "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	if !committed {
		// Customer hung up or someone else matched first.
		respond(c, elks.Play{URL: h.prompt(promptTooLate)})
		return
	}
	respond(c, h.dispatch.ConnectNode(customerPhone))
}

// CallBackToCustomer places the no-match call; normally reached through
// exhaustion inside the dial chain, kept addressable for provider-side
// redirects.
func (h *Handlers) CallBackToCustomer(c *gin.Context) {
	customerPhone := elks.CanonicalNumber(c.Param("phone"))
	if err := h.dispatch.NoMatchCallback(c.Request.Context(), customerPhone); err != nil {
		logger.FromGin(c).Error("no-match callback failed", "phone", customerPhone, "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	respondEmpty(c)
}

// HandleReturningHelper reacts to the registered-volunteer menu.
func (h *Handlers) HandleReturningHelper(c *gin.Context) {
	ev, ok := h.event(c)
	if !ok {
		return
	}
	switch ev.Result {
	case "1":
		respond(c, elks.Play{
			URL:  h.prompt(promptConnecting),
			Next: h.step("/callExistingCustomer"),
		})
	case "2":
		respond(c, elks.Play{
			URL:  h.prompt(promptDeregConfirmed),
			Next: h.step("/removeHelper"),
		})
	default:
		respondEmpty(c)
	}
}

// CallExistingCustomer bridges a helper to their active customer.
func (h *Handlers) CallExistingCustomer(c *gin.Context) {
	ev, ok := h.event(c)
	if !ok {
		return
	}
	customerPhone, err := h.registry.ActiveCustomer(c.Request.Context(), ev.From)
	if err != nil {
		logger.FromGin(c).Warn("no active customer for helper", "phone", ev.From)
		respondEmpty(c)
		return
	}
	respond(c, h.dispatch.ConnectNode(customerPhone))
}

func (h *Handlers) RemoveHelper(c *gin.Context) {
	ev, ok := h.event(c)
	if !ok {
		return
	}
	if err := h.registry.DeleteHelper(c.Request.Context(), ev.From); err != nil {
		logger.FromGin(c).Error("helper removal failed", "phone", ev.From, "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	logger.FromGin(c).Info("helper deregistered", "phone", ev.From)
	respondEmpty(c)
}

// HandleReturningCustomer reacts to the returning-customer menu.
func (h *Handlers) HandleReturningCustomer(c *gin.Context) {
	log := logger.FromGin(c)
	ev, ok := h.event(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	switch ev.Result {
	case "1":
		respond(c, elks.Play{
			URL:       h.prompt(promptConnecting),
			Skippable: true,
			Next:      h.step("/callExistingHelper"),
		})
	case "2":
		zip, err := h.registry.CustomerZipcode(ctx, ev.From)
		if err != nil {
			log.Warn("saved zip missing for customer", "phone", ev.From, "err", err)
			respond(c, elks.Play{
				URL:  h.prompt(promptEnterZip),
				Next: elks.Step{Node: h.zipEntryMenu()},
			})
			return
		}
		respond(c, elks.Play{
			URL:       h.prompt(promptSearching),
			Skippable: true,
			Next:      h.step("/postcodeInput/" + zip),
		})
	case "3":
		respond(c, elks.Play{
			URL:  h.prompt(promptDeregConfirmed),
			Next: h.step("/removeCustomer"),
		})
	default:
		respondEmpty(c)
	}
}

// CallExistingHelper bridges a customer to their active helper.
func (h *Handlers) CallExistingHelper(c *gin.Context) {
	ev, ok := h.event(c)
	if !ok {
		return
	}
	helperPhone, err := h.registry.ActiveHelper(c.Request.Context(), ev.From)
	if err != nil {
		logger.FromGin(c).Warn("no active helper for customer", "phone", ev.From)
		respondEmpty(c)
		return
	}
	respond(c, h.dispatch.ConnectNode(helperPhone))
}

func (h *Handlers) RemoveCustomer(c *gin.Context) {
	ev, ok := h.event(c)
	if !ok {
		return
	}
	if err := h.registry.DeleteCustomer(c.Request.Context(), ev.From); err != nil {
		logger.FromGin(c).Error("customer removal failed", "phone", ev.From, "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	respondEmpty(c)
}
