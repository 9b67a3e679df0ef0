// ABOUTME: Tests for the OSM facility finder
// ABOUTME: Uses httptest servers standing in for Nominatim and Overpass

package facility

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/intake-gateway/internal/config"
)

func newTestFinder(t *testing.T, nominatim, overpass http.HandlerFunc) *Finder {
	t.Helper()
	nomSrv := httptest.NewServer(nominatim)
	t.Cleanup(nomSrv.Close)
	ovpSrv := httptest.NewServer(overpass)
	t.Cleanup(ovpSrv.Close)
	return New(config.FacilityConfig{
		NominatimURL: nomSrv.URL,
		OverpassURL:  ovpSrv.URL,
		ContactEmail: "ops@example.com",
		Limit:        3,
	}, nil)
}

func geocodeHit(lat, lon string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"lat":%q,"lon":%q,"display_name":"Bandung, Jawa Barat"}]`, lat, lon)
	}
}

func TestSearch_SortsByDistanceAndFormats(t *testing.T) {
	// Origin at (0,0); far first in the payload to prove sorting
	overpass := func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"elements":[
			{"type":"node","id":2,"lat":0.09,"lon":0,"tags":{"name":"RS Jauh"}},
			{"type":"node","id":1,"lat":0.009,"lon":0,"tags":{"name":"RS Dekat"}}
		]}`)
	}
	f := newTestFinder(t, geocodeHit("0", "0"), overpass)

	got := f.Search(t.Context(), KindHospital, "Jalan Merdeka 1, Bandung")

	require.Len(t, got, 2)
	assert.Equal(t, "RS Dekat jarak 1.0 km", got[0])
	assert.Equal(t, "RS Jauh jarak 10.0 km", got[1])
}

func TestSearch_LimitApplies(t *testing.T) {
	overpass := func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString(`{"elements":[`)
		for i := range 5 {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, `{"type":"node","id":%d,"lat":0.0%d,"lon":0,"tags":{"name":"Apotek %d"}}`, i+1, i+1, i+1)
		}
		b.WriteString("]}")
		io.WriteString(w, b.String())
	}
	f := newTestFinder(t, geocodeHit("0", "0"), overpass)

	got := f.Search(t.Context(), KindPharmacy, "Bandung")
	assert.Len(t, got, 3)
}

func TestSearch_UnresolvableAddressIsEmpty(t *testing.T) {
	overpassCalled := false
	f := newTestFinder(t,
		func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, `[]`) },
		func(w http.ResponseWriter, r *http.Request) { overpassCalled = true },
	)

	got := f.Search(t.Context(), KindHospital, "alamat yang tidak ada")
	assert.Empty(t, got)
	assert.False(t, overpassCalled, "failed geocode must short-circuit the area query")
}

func TestSearch_EmptyAddressIsEmpty(t *testing.T) {
	nominatimCalled := false
	f := newTestFinder(t,
		func(w http.ResponseWriter, r *http.Request) { nominatimCalled = true },
		func(w http.ResponseWriter, r *http.Request) {},
	)

	assert.Empty(t, f.Search(t.Context(), KindHospital, "   "))
	assert.False(t, nominatimCalled)
}

func TestSearch_OverpassFailureIsEmptyNotError(t *testing.T) {
	f := newTestFinder(t, geocodeHit("0", "0"),
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGatewayTimeout)
		},
	)
	assert.Empty(t, f.Search(t.Context(), KindHospital, "Bandung"))
}

func TestSearch_UnknownKindIsEmpty(t *testing.T) {
	f := newTestFinder(t,
		func(w http.ResponseWriter, r *http.Request) { t.Error("geocode must not run") },
		func(w http.ResponseWriter, r *http.Request) {},
	)
	assert.Empty(t, f.Search(t.Context(), "warung", "Bandung"))
}

func TestSearch_WayUsesCenterCoordinates(t *testing.T) {
	overpass := func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"elements":[
			{"type":"way","id":7,"center":{"lat":0.018,"lon":0},"tags":{"name":"RSUD Kota"}}
		]}`)
	}
	f := newTestFinder(t, geocodeHit("0", "0"), overpass)

	got := f.Search(t.Context(), KindHospital, "Bandung")
	require.Len(t, got, 1)
	assert.Equal(t, "RSUD Kota jarak 2.0 km", got[0])
}

func TestSearch_DeduplicatesElements(t *testing.T) {
	overpass := func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"elements":[
			{"type":"node","id":1,"lat":0.01,"lon":0,"tags":{"name":"Apotek Sehat"}},
			{"type":"node","id":1,"lat":0.01,"lon":0,"tags":{"name":"Apotek Sehat"}}
		]}`)
	}
	f := newTestFinder(t, geocodeHit("0", "0"), overpass)

	assert.Len(t, f.Search(t.Context(), KindPharmacy, "Bandung"), 1)
}

func TestSearch_UnnamedFacilityGetsPlaceholderName(t *testing.T) {
	overpass := func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"elements":[
			{"type":"node","id":1,"lat":0.01,"lon":0,"tags":{"operator":"Pemkot"}},
			{"type":"node","id":2,"lat":0.02,"lon":0,"tags":{}}
		]}`)
	}
	f := newTestFinder(t, geocodeHit("0", "0"), overpass)

	got := f.Search(t.Context(), KindHospital, "Bandung")
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "Pemkot")
	assert.Contains(t, got[1], "Tidak bernama")
}

func TestSearch_SendsIdentifyingUserAgent(t *testing.T) {
	var gotUA string
	f := newTestFinder(t,
		func(w http.ResponseWriter, r *http.Request) {
			gotUA = r.Header.Get("User-Agent")
			io.WriteString(w, `[]`)
		},
		func(w http.ResponseWriter, r *http.Request) {},
	)

	f.Search(t.Context(), KindHospital, "Bandung")
	assert.Contains(t, gotUA, "ops@example.com")
}

func TestBuildOverpassQuery_CoversTagVariants(t *testing.T) {
	q := buildOverpassQuery(-6.9, 107.6, 5000, KindPharmacy)
	assert.Contains(t, q, `"amenity"="pharmacy"`)
	assert.Contains(t, q, `"healthcare"="pharmacy"`)
	assert.Contains(t, q, `"shop"="chemist"`)
	assert.Contains(t, q, "out center tags;")

	q = buildOverpassQuery(-6.9, 107.6, 5000, KindHospital)
	assert.Contains(t, q, `"amenity"="hospital"`)
	assert.NotContains(t, q, "pharmacy")
}

func TestHaversine_KnownDistance(t *testing.T) {
	// Jakarta to Bandung, roughly 118 km
	d := haversineKM(-6.2088, 106.8456, -6.9175, 107.6191)
	assert.InDelta(t, 118, d, 5)
}
