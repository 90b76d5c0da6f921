package elks

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// The 46elks IVR interpreter consumes nested JSON command trees. Each
// node is one of a small set of primitives; "next" chains the following
// step, which may be either a callback URL or an inline subtree.
//
// The wire format stringifies booleans and timeouts ("skippable":"true",
// "timeout":"30") and hangs digit branches off the object root under
// their digit key. Node implementations encode to exactly that shape.

// Node is one step of a voice response.
type Node interface {
	json.Marshaler
	encode() map[string]any
}

// Step points at what happens after a node: either a webhook URL the
// provider will POST to, or an inline child node.
type Step struct {
	URL  string
	Node Node
}

func (s Step) isZero() bool { return s.URL == "" && s.Node == nil }

func (s Step) encode() any {
	if s.URL != "" {
		return s.URL
	}
	if s.Node != nil {
		return s.Node.encode()
	}
	return nil
}

// Play plays a hosted sound file.
type Play struct {
	URL       string
	Skippable bool
	Next      Step
}

func (p Play) encode() map[string]any {
	m := map[string]any{"play": p.URL}
	if p.Skippable {
		m["skippable"] = "true"
	}
	if !p.Next.isZero() {
		m["next"] = p.Next.encode()
	}
	return m
}

func (p Play) MarshalJSON() ([]byte, error) { return json.Marshal(p.encode()) }

// Menu plays a prompt and collects DTMF digits, branching per digit.
type Menu struct {
	Prompt    string
	Digits    int
	Skippable bool

	// TimeoutSeconds bounds how long the call rings or waits for input.
	TimeoutSeconds int

	// WhenHangup is posted to when the callee hangs up or the timeout
	// elapses without an answer; the dial chain escalates through it.
	WhenHangup string

	// Branches maps a pressed digit (1..9) to its next step.
	Branches map[int]Step

	// Next handles any digit without an explicit branch.
	Next Step
}

func (m Menu) encode() map[string]any {
	out := map[string]any{"ivr": m.Prompt}
	if m.Digits > 0 {
		out["digits"] = m.Digits
	}
	if m.Skippable {
		out["skippable"] = "true"
	}
	if m.TimeoutSeconds > 0 {
		out["timeout"] = strconv.Itoa(m.TimeoutSeconds)
	}
	if m.WhenHangup != "" {
		out["whenhangup"] = m.WhenHangup
	}
	for digit, step := range m.Branches {
		out[strconv.Itoa(digit)] = step.encode()
	}
	if !m.Next.isZero() {
		out["next"] = m.Next.encode()
	}
	return out
}

func (m Menu) MarshalJSON() ([]byte, error) { return json.Marshal(m.encode()) }

// Connect bridges the current leg to another number.
type Connect struct {
	Number         string
	CallerID       string
	TimeoutSeconds int
}

func (c Connect) encode() map[string]any {
	out := map[string]any{"connect": c.Number}
	if c.CallerID != "" {
		out["callerid"] = c.CallerID
	}
	if c.TimeoutSeconds > 0 {
		out["timeout"] = strconv.Itoa(c.TimeoutSeconds)
	}
	return out
}

func (c Connect) MarshalJSON() ([]byte, error) { return json.Marshal(c.encode()) }

// Marshal serializes a command tree to the provider wire format.
func Marshal(n Node) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("elks: nil ivr node")
	}
	return json.Marshal(n)
}
