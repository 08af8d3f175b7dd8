// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_booking

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	internal_type "github.com/maxparsons123/happy-ride-helper-sub000/internal/type"
)

// Record is the per-call booking state. It accumulates incrementally as tool
// calls arrive and is reset at session start. Not safe for concurrent use on
// its own; the orchestrator serialises access behind its mutex.
type Record struct {
	CallerName  string
	CallerPhone string

	PickupText      string
	PickupGeo       *internal_type.GeoFields
	DestinationText string
	DestinationGeo  *internal_type.GeoFields

	Passengers int
	PickupTime string

	Fare       float64
	Currency   string
	ETAMinutes int

	AwaitingConfirmation bool
	Confirmed            bool
	Reference            string
}

// SetPickup updates the raw pickup text. When the normalized street name
// changed, the previously resolved geocoding is dropped so stale coordinates
// can never reach dispatch. Reports whether anything changed.
func (r *Record) SetPickup(text string) bool {
	return setAddress(&r.PickupText, &r.PickupGeo, text)
}

// SetDestination is SetPickup for the destination side.
func (r *Record) SetDestination(text string) bool {
	return setAddress(&r.DestinationText, &r.DestinationGeo, text)
}

func setAddress(text *string, geo **internal_type.GeoFields, next string) bool {
	next = strings.TrimSpace(next)
	if next == "" || next == *text {
		return false
	}
	if *text != "" && normalizeStreet(next) != normalizeStreet(*text) {
		*geo = nil
	}
	*text = next
	return true
}

// ReadyToBook reports whether both trip endpoints are known.
func (r *Record) ReadyToBook() bool {
	return strings.TrimSpace(r.PickupText) != "" && strings.TrimSpace(r.DestinationText) != ""
}

// Details projects the record into the dispatch-facing shape.
func (r *Record) Details() internal_type.BookingDetails {
	return internal_type.BookingDetails{
		Reference:      r.Reference,
		CallerName:     r.CallerName,
		CallerPhone:    r.CallerPhone,
		PickupText:     r.PickupText,
		PickupGeo:      r.PickupGeo,
		DestinationTxt: r.DestinationText,
		DestinationGeo: r.DestinationGeo,
		Passengers:     r.Passengers,
		PickupTime:     r.PickupTime,
		Fare:           r.Fare,
		ETAMinutes:     r.ETAMinutes,
	}
}

// normalizeStreet reduces a spoken address to its comparable street name:
// lower-cased letters only, house numbers and punctuation stripped. "52A
// Davis Road" and "Davis road 52a" both normalize to "davis road" modulo
// token order, which is kept because reordering means a different utterance.
func normalizeStreet(s string) string {
	tokens := strings.Fields(strings.ToLower(s))
	kept := tokens[:0]
	for _, tok := range tokens {
		// House numbers ("52", "52a") must not participate in the comparison.
		if strings.ContainsFunc(tok, unicode.IsDigit) {
			continue
		}
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) {
				return r
			}
			return -1
		}, tok)
		if clean == "" {
			continue
		}
		kept = append(kept, clean)
	}
	return strings.Join(kept, " ")
}

// newReference derives a human-readable booking reference from the booking
// instant. Uniqueness per caller is sufficient; this is not a database key.
func newReference(now time.Time) string {
	return fmt.Sprintf("TX-%s", now.Format("20060102-150405"))
}
