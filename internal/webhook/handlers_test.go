package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dekvall/matkrasslig/internal/callsession"
	"github.com/dekvall/matkrasslig/internal/dispatch"
	"github.com/dekvall/matkrasslig/internal/elks"
	"github.com/dekvall/matkrasslig/internal/geo"
	"github.com/dekvall/matkrasslig/internal/ranking"
	"github.com/dekvall/matkrasslig/internal/store"
)

const sampleZips = "SE\t170 70\tEkerö\tStockholm\tAB\tEkerö\t0125\t\t\t59.2741\t17.8090\t4\n" +
	"SE\t178 31\tEkerö\tStockholm\tAB\tEkerö\t0125\t\t\t59.2897\t17.8123\t4\n" +
	"SE\t113 21\tStockholm\tStockholm\tAB\tStockholms kommun\t0180\t\t\t59.3398\t18.0411\t4\n"

type placement struct {
	to   string
	node elks.Node
}

type fakeDialer struct {
	placed []placement
}

func (d *fakeDialer) PlaceCall(ctx context.Context, to string, voiceStart elks.Node) error {
	d.placed = append(d.placed, placement{to: to, node: voiceStart})
	return nil
}

func (d *fakeDialer) Number() string { return "+46766861004" }

type app struct {
	engine   *gin.Engine
	registry *store.MemoryStore
	sessions *callsession.MemorySessions
	dialer   *fakeDialer
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	idx, err := geo.Parse(strings.NewReader(sampleZips))
	if err != nil {
		t.Fatalf("parse zip table: %v", err)
	}

	registry := store.NewMemoryStore()
	sessions := callsession.NewMemorySessions()
	dialer := &fakeDialer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctrl := dispatch.NewController(sessions, registry, ranking.NewRanker(idx, registry), dialer,
		"https://api.example.se", "https://media.example.se", log)
	h := NewHandlers(registry, sessions, ctrl, idx, "https://api.example.se", "https://media.example.se", log)

	engine := gin.New()
	h.Register(engine)

	return &app{engine: engine, registry: registry, sessions: sessions, dialer: dialer}
}

func (a *app) post(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

func callEvent(from, callID string) url.Values {
	return url.Values{"from": {from}, "callid": {callID}, "to": {"+46766861004"}}
}

func resultEvent(from, callID, result string) url.Values {
	v := callEvent(from, callID)
	v.Set("result", result)
	return v
}

func TestNewCallerGetsIntroMenu(t *testing.T) {
	a := newApp(t)

	m := decode(t, a.post(t, "/receiveCall", callEvent("+46700000001", "c1")))
	if got := m["ivr"]; got != "https://media.example.se/ivr/info.mp3" {
		t.Fatalf("ivr = %v", got)
	}
	if got := m["next"]; got != "https://api.example.se/handleNumberInput" {
		t.Fatalf("next = %v", got)
	}
}

func TestZipConfirmationPlaysCity(t *testing.T) {
	a := newApp(t)

	m := decode(t, a.post(t, "/checkZipcode", resultEvent("+46700000001", "c1", "17070")))
	next := m["next"].(map[string]any)
	if got := next["play"]; got != "https://media.example.se/city/Eker%C3%B6.mp3" {
		t.Fatalf("city prompt = %v", got)
	}
}

func TestUnknownZipRepeatsEntry(t *testing.T) {
	a := newApp(t)

	m := decode(t, a.post(t, "/checkZipcode", resultEvent("+46700000001", "c1", "99999")))
	if got := m["play"]; got != "https://media.example.se/ivr/post_nr.mp3" {
		t.Fatalf("play = %v", got)
	}
}

// Full happy path: a helper on Ekerö is registered, a new customer
// confirms zip 17070, the helper is dialed and accepts, and the pairing
// lands in the registry.
func TestDispatchFlowMatchesHelper(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	helper := store.Helper{Phone: "+46700000099", Name: "Maja", Zipcode: "17831", District: "Ekerö"}
	if err := a.registry.SaveHelper(ctx, helper); err != nil {
		t.Fatalf("seed helper: %v", err)
	}

	customer := "+46700000001"
	decode(t, a.post(t, "/receiveCall", callEvent(customer, "c1")))

	m := decode(t, a.post(t, "/postcodeInput/17070", callEvent(customer, "c1")))
	if got := m["play"]; got != "https://media.example.se/ivr/ringer_tillbaka.mp3" {
		t.Fatalf("play = %v", got)
	}
	attemptURL, _ := m["next"].(string)
	if !strings.HasPrefix(attemptURL, "https://api.example.se/call/0/") {
		t.Fatalf("next = %v", m["next"])
	}

	w := a.post(t, strings.TrimPrefix(attemptURL, "https://api.example.se"), callEvent(customer, "c1"))
	if w.Code != http.StatusOK {
		t.Fatalf("dial attempt status = %d", w.Code)
	}
	if len(a.dialer.placed) != 1 || a.dialer.placed[0].to != helper.Phone {
		t.Fatalf("placed = %+v", a.dialer.placed)
	}

	accept := decode(t, a.post(t, "/connectUsers/"+customer+"/c1",
		url.Values{"from": {"+46766861004"}, "to": {helper.Phone}, "callid": {"out1"}}))
	if got := accept["connect"]; got != customer {
		t.Fatalf("connect = %v", got)
	}

	got, err := a.registry.ActiveHelper(ctx, customer)
	if err != nil || got != helper.Phone {
		t.Fatalf("ActiveHelper = %q, %v", got, err)
	}
}

func TestNoHelpersPlaysNobodyInArea(t *testing.T) {
	a := newApp(t)

	decode(t, a.post(t, "/receiveCall", callEvent("+46700000001", "c2")))
	m := decode(t, a.post(t, "/postcodeInput/17070", callEvent("+46700000001", "c2")))
	if got := m["play"]; got != "https://media.example.se/ivr/finns_ingen.mp3" {
		t.Fatalf("play = %v", got)
	}
	if len(a.dialer.placed) != 0 {
		t.Fatalf("unexpected placements: %+v", a.dialer.placed)
	}
}

func TestHangupCancelsDialChain(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	helper := store.Helper{Phone: "+46700000099", Name: "Maja", Zipcode: "17070", District: "Ekerö"}
	if err := a.registry.SaveHelper(ctx, helper); err != nil {
		t.Fatalf("seed helper: %v", err)
	}

	customer := "+46700000001"
	decode(t, a.post(t, "/receiveCall", callEvent(customer, "c3")))
	decode(t, a.post(t, "/postcodeInput/17070", callEvent(customer, "c3")))

	if w := a.post(t, "/hangup", callEvent(customer, "c3")); w.Code != http.StatusOK {
		t.Fatalf("hangup status = %d", w.Code)
	}

	if w := a.post(t, "/call/0/c3/"+customer, callEvent(customer, "c3")); w.Code != http.StatusOK {
		t.Fatalf("dial attempt status = %d", w.Code)
	}
	if len(a.dialer.placed) != 0 {
		t.Fatalf("dialed after hangup: %+v", a.dialer.placed)
	}
}

func TestSecondAcceptIsTooLate(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	first := store.Helper{Phone: "+46700000088", Name: "Nils", Zipcode: "17070", District: "Ekerö"}
	second := store.Helper{Phone: "+46700000099", Name: "Maja", Zipcode: "17831", District: "Ekerö"}
	for _, h := range []store.Helper{first, second} {
		if err := a.registry.SaveHelper(ctx, h); err != nil {
			t.Fatalf("seed helper: %v", err)
		}
	}

	customer := "+46700000001"
	decode(t, a.post(t, "/receiveCall", callEvent(customer, "c4")))
	decode(t, a.post(t, "/postcodeInput/17070", callEvent(customer, "c4")))

	decode(t, a.post(t, "/connectUsers/"+customer+"/c4",
		url.Values{"from": {"+46766861004"}, "to": {first.Phone}, "callid": {"o1"}}))
	m := decode(t, a.post(t, "/connectUsers/"+customer+"/c4",
		url.Values{"from": {"+46766861004"}, "to": {second.Phone}, "callid": {"o2"}}))

	if got := m["play"]; got != "https://media.example.se/ivr/for_sent.mp3" {
		t.Fatalf("play = %v", got)
	}
	got, err := a.registry.ActiveHelper(ctx, customer)
	if err != nil || got != first.Phone {
		t.Fatalf("ActiveHelper = %q, %v", got, err)
	}
}

func TestReturningHelperWithoutCustomer(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	helper := store.Helper{Phone: "+46700000099", Name: "Maja", Zipcode: "17070", District: "Ekerö"}
	if err := a.registry.SaveHelper(ctx, helper); err != nil {
		t.Fatalf("seed helper: %v", err)
	}

	m := decode(t, a.post(t, "/receiveCall", callEvent(helper.Phone, "c5")))
	if got := m["ivr"]; got != "https://media.example.se/ivr/hjalper_ingen.mp3" {
		t.Fatalf("ivr = %v", got)
	}
	if _, ok := m["1"]; !ok {
		t.Fatalf("missing deregistration branch: %v", m)
	}
}

func TestReturningCustomerHearsHelperName(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	helper := store.Helper{Phone: "+46700000099", Name: "Maja", Zipcode: "17070", District: "Ekerö"}
	customer := "+46700000001"
	if err := a.registry.SaveHelper(ctx, helper); err != nil {
		t.Fatalf("seed helper: %v", err)
	}
	if err := a.registry.SaveCustomer(ctx, store.Customer{Phone: customer, Zipcode: "17070", District: "Ekerö", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	if err := a.registry.SetActivePairing(ctx, helper.Phone, customer, time.Now()); err != nil {
		t.Fatalf("seed pairing: %v", err)
	}

	m := decode(t, a.post(t, "/receiveCall", callEvent(customer, "c6")))
	next := m["next"].(map[string]any)
	if got := next["play"]; got != "https://media.example.se/name/Maja.mp3" {
		t.Fatalf("name prompt = %v", got)
	}
}

func TestReturningCustomerWithoutPairingSearchesAgain(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	customer := "+46700000001"
	if err := a.registry.SaveCustomer(ctx, store.Customer{Phone: customer, Zipcode: "17070", District: "Ekerö", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	m := decode(t, a.post(t, "/receiveCall", callEvent(customer, "c7")))
	if got := m["play"]; got != "https://media.example.se/ivr/vi_letar.mp3" {
		t.Fatalf("play = %v", got)
	}
	if got := m["next"]; got != "https://api.example.se/postcodeInput/17070" {
		t.Fatalf("next = %v", got)
	}
}

func TestRemoveHelperDeregisters(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	helper := store.Helper{Phone: "+46700000099", Name: "Maja", Zipcode: "17070", District: "Ekerö"}
	if err := a.registry.SaveHelper(ctx, helper); err != nil {
		t.Fatalf("seed helper: %v", err)
	}

	if w := a.post(t, "/removeHelper", callEvent(helper.Phone, "c8")); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	exists, err := a.registry.HelperExists(ctx, helper.Phone)
	if err != nil || exists {
		t.Fatalf("HelperExists = %v, %v", exists, err)
	}
}

func TestCallExistingHelperConnects(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	helper := store.Helper{Phone: "+46700000099", Name: "Maja", Zipcode: "17070", District: "Ekerö"}
	customer := "+46700000001"
	if err := a.registry.SaveHelper(ctx, helper); err != nil {
		t.Fatalf("seed helper: %v", err)
	}
	if err := a.registry.SetActivePairing(ctx, helper.Phone, customer, time.Now()); err != nil {
		t.Fatalf("seed pairing: %v", err)
	}

	m := decode(t, a.post(t, "/callExistingHelper", callEvent(customer, "c9")))
	if got := m["connect"]; got != helper.Phone {
		t.Fatalf("connect = %v", got)
	}
	if got := m["callerid"]; got != "+46766861004" {
		t.Fatalf("callerid = %v", got)
	}
}
