// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/maxparsons123/happy-ride-helper-sub000/internal/type"
)

func TestNormalizeStreet(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"52A Davis Road", "davis road"},
		{"davis road 52a", "davis road"},
		{"Davis-Road", "davisroad"},
		{"  Heatherview,  12 ", "heatherview"},
		{"52", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeStreet(tc.in), tc.in)
	}
}

func TestSetPickup_StreetChangeInvalidatesGeocoding(t *testing.T) {
	r := Record{}
	require.True(t, r.SetPickup("52A David Road"))
	r.PickupGeo = &internal_type.GeoFields{Latitude: 52.1, Longitude: 4.3, Street: "David Road"}

	// Same street, different phrasing: geocoding survives.
	require.True(t, r.SetPickup("David Road 52A"))
	assert.NotNil(t, r.PickupGeo)

	// Corrected street name: stale coordinates must be dropped.
	require.True(t, r.SetPickup("52A Davis Road"))
	assert.Nil(t, r.PickupGeo)
	assert.Equal(t, "52A Davis Road", r.PickupText)
}

func TestSetAddress_NoChangeForEmptyOrIdentical(t *testing.T) {
	r := Record{}
	require.True(t, r.SetDestination("Central Station"))
	assert.False(t, r.SetDestination("Central Station"))
	assert.False(t, r.SetDestination("   "))
	assert.Equal(t, "Central Station", r.DestinationText)
}

func TestReadyToBook(t *testing.T) {
	r := Record{}
	assert.False(t, r.ReadyToBook())
	r.SetPickup("Davis Road 52")
	assert.False(t, r.ReadyToBook())
	r.SetDestination("Central Station")
	assert.True(t, r.ReadyToBook())
}

func TestNewReference_TimestampDerived(t *testing.T) {
	at := time.Date(2025, 6, 1, 14, 30, 5, 0, time.UTC)
	assert.Equal(t, "TX-20250601-143005", newReference(at))
}
