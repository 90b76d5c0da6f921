package elks

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		BaseURL:     srv.URL,
		APIUsername: "user",
		APIPassword: "pass",
		Number:      "+46766861004",
	}, slog.Default())
}

func TestPlaceCall_SendsFormAndAuth(t *testing.T) {
	var gotPath, gotUser, gotFrom, gotTo, gotVoice string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotFrom = r.PostFormValue("from")
		gotTo = r.PostFormValue("to")
		gotVoice = r.PostFormValue("voice_start")
		w.WriteHeader(http.StatusOK)
	})

	err := c.PlaceCall(context.Background(), "+46701112233", Play{URL: "https://media.example/ivr/ingen_hittad.mp3"})
	if err != nil {
		t.Fatalf("place call: %v", err)
	}
	if gotPath != "/a1/calls" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotUser != "user" {
		t.Fatalf("expected basic auth user, got %q", gotUser)
	}
	if gotFrom != "+46766861004" || gotTo != "+46701112233" {
		t.Fatalf("unexpected from/to: %q %q", gotFrom, gotTo)
	}

	var tree map[string]any
	if err := json.Unmarshal([]byte(gotVoice), &tree); err != nil {
		t.Fatalf("voice_start is not valid JSON: %v", err)
	}
	if tree["play"] != "https://media.example/ivr/ingen_hittad.mp3" {
		t.Fatalf("unexpected voice_start: %v", tree)
	}
}

func TestPlaceCall_SurfacesRejection(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid to"}`, http.StatusBadRequest)
	})
	if err := c.PlaceCall(context.Background(), "+999", Play{URL: "x"}); err == nil {
		t.Fatalf("expected error for rejected call")
	}
}

func TestPlaceCall_RetriesTransientFailure(t *testing.T) {
	attempts := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.PlaceCall(context.Background(), "+46701112233", Play{URL: "x"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestSendSMS(t *testing.T) {
	var gotPath, gotFrom, gotTo, gotMsg string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = r.ParseForm()
		gotFrom = r.PostFormValue("from")
		gotTo = r.PostFormValue("to")
		gotMsg = r.PostFormValue("message")
		w.WriteHeader(http.StatusOK)
	})

	if err := c.SendSMS(context.Background(), "Telehelp", "+46701112233", "123456"); err != nil {
		t.Fatalf("send sms: %v", err)
	}
	if gotPath != "/a1/sms" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotFrom != "Telehelp" || gotTo != "+46701112233" || gotMsg != "123456" {
		t.Fatalf("unexpected form: %q %q %q", gotFrom, gotTo, gotMsg)
	}
}
