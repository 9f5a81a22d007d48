// Package callback defines the structured payloads carried in button
// callback data. One parser/formatter pair replaces ad hoc string splitting;
// unknown kinds are rejected at the edge.
package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates every button action the bot understands.
type Kind string

const (
	// Operator queue decisions; ID is the pending request id.
	Accept      Kind = "q_accept"
	Cancel      Kind = "q_cancel"
	Postpone    Kind = "q_postpone"
	MessageUser Kind = "q_msg"
	PhotoUser   Kind = "q_photo"
	// Customer navigation; Arg names the menu or flow.
	Menu         Kind = "menu"
	Product      Kind = "prod"
	ConfirmOrder Kind = "confirm"
	AbortOrder   Kind = "abort"
	TopUp        Kind = "topup"
	// Referral; ID is the referrer, Arg the short token.
	VerifyJoin   Kind = "ref_verify"
	RefreshBonus Kind = "ref_refresh"
)

var known = map[Kind]bool{
	Accept: true, Cancel: true, Postpone: true, MessageUser: true, PhotoUser: true,
	Menu: true, Product: true, ConfirmOrder: true, AbortOrder: true, TopUp: true,
	VerifyJoin: true, RefreshBonus: true,
}

// ErrUnknownKind is returned for callback data the bot does not understand.
var ErrUnknownKind = errors.New("unknown callback kind")

// Data is the typed argument record of one button tap.
type Data struct {
	Kind Kind
	ID   int64
	Arg  string
}

// Format renders the callback data string for a button.
func Format(d Data) string {
	parts := []string{string(d.Kind)}
	if d.ID != 0 {
		parts = append(parts, strconv.FormatInt(d.ID, 10))
	}
	if d.Arg != "" {
		parts = append(parts, d.Arg)
	}
	return strings.Join(parts, ":")
}

// Parse decodes callback data produced by Format. It rejects unknown kinds
// and malformed numeric arguments.
func Parse(raw string) (Data, error) {
	parts := strings.SplitN(raw, ":", 3)
	kind := Kind(parts[0])
	if !known[kind] {
		return Data{}, fmt.Errorf("%w: %q", ErrUnknownKind, parts[0])
	}
	d := Data{Kind: kind}
	if len(parts) > 1 && parts[1] != "" {
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			// second token may be a bare string argument (e.g. menu names)
			d.Arg = parts[1]
			if len(parts) > 2 {
				d.Arg = parts[1] + ":" + parts[2]
			}
			return d, nil
		}
		d.ID = id
	}
	if len(parts) > 2 {
		d.Arg = parts[2]
	}
	return d, nil
}
