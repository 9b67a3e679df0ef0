// Package facility finds nearby hospitals and pharmacies for a user's
// address via OpenStreetMap (Nominatim for geocoding, Overpass for the
// area search).
//
// Lookups are best effort: any failure, including an address that does
// not geocode, yields an empty result so the report pipeline can fall
// back to its placeholder text instead of aborting.
package facility
