// ABOUTME: Nearest-facility lookup over OpenStreetMap: Nominatim geocoding plus Overpass search
// ABOUTME: Returns human-readable "name jarak X km" strings sorted by distance

package facility

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/2389/intake-gateway/internal/config"
)

// Facility kinds accepted by Search.
const (
	KindHospital = "hospital"
	KindPharmacy = "apotek"
)

const (
	defaultNominatimURL = "https://nominatim.openstreetmap.org/search"
	defaultOverpassURL  = "https://overpass-api.de/api/interpreter"
	defaultRadiusMeters = 5000
	defaultLimit        = 5
	defaultLanguage     = "id"
	requestTimeout      = 20 * time.Second
	overpassTimeout     = 60 * time.Second
)

// Finder locates nearby medical facilities for a free-form address. A
// failed or empty lookup yields an empty slice, never an error the report
// pipeline has to special-case.
type Finder struct {
	nominatimURL string
	overpassURL  string
	contact      string
	lang         string
	radiusMeters int
	limit        int
	client       *http.Client
	logger       *slog.Logger
}

// New builds a Finder from configuration, filling in OSM defaults for
// anything unset. Pass nil logger for default.
func New(cfg config.FacilityConfig, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Finder{
		nominatimURL: cfg.NominatimURL,
		overpassURL:  cfg.OverpassURL,
		contact:      cfg.ContactEmail,
		lang:         cfg.Language,
		radiusMeters: cfg.RadiusMeters,
		limit:        cfg.Limit,
		client:       &http.Client{Timeout: overpassTimeout},
		logger:       logger.With("component", "facility"),
	}
	if f.nominatimURL == "" {
		f.nominatimURL = defaultNominatimURL
	}
	if f.overpassURL == "" {
		f.overpassURL = defaultOverpassURL
	}
	if f.contact == "" {
		f.contact = "contact@example.com"
	}
	if f.lang == "" {
		f.lang = defaultLanguage
	}
	if f.radiusMeters <= 0 {
		f.radiusMeters = defaultRadiusMeters
	}
	if f.limit <= 0 {
		f.limit = defaultLimit
	}
	return f
}

// place is one Overpass hit with its computed distance from the origin.
type place struct {
	id       string
	name     string
	lat, lon float64
	distKM   float64
}

// Search geocodes the address and returns up to limit facilities of the
// given kind within the configured radius, closest first, each formatted
// as "name jarak X km". An unresolvable address or a lookup failure
// returns an empty slice.
func (f *Finder) Search(ctx context.Context, kind, address string) []string {
	kind, err := normalizeKind(kind)
	if err != nil {
		f.logger.Error("facility search rejected", "error", err)
		return nil
	}

	lat, lon, ok := f.geocode(ctx, address)
	if !ok {
		f.logger.Info("address did not geocode", "address", address)
		return nil
	}

	places, err := f.queryPlaces(ctx, lat, lon, kind)
	if err != nil {
		f.logger.Warn("facility query failed", "kind", kind, "error", err)
		return nil
	}

	for i := range places {
		places[i].distKM = haversineKM(lat, lon, places[i].lat, places[i].lon)
	}
	sort.Slice(places, func(i, j int) bool { return places[i].distKM < places[j].distKM })
	if len(places) > f.limit {
		places = places[:f.limit]
	}

	out := make([]string, 0, len(places))
	for _, p := range places {
		out = append(out, fmt.Sprintf("%s jarak %.1f km", p.name, p.distKM))
	}
	return out
}

func (f *Finder) userAgent() string {
	return "intake-gateway/1.0 (" + f.contact + ")"
}

// geocode resolves a free-form address to coordinates via Nominatim.
func (f *Finder) geocode(ctx context.Context, address string) (lat, lon float64, ok bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return 0, 0, false
	}

	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	params.Set("accept-language", f.lang)
	params.Set("addressdetails", "0")
	params.Set("q", address)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.nominatimURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, 0, false
	}
	req.Header.Set("User-Agent", f.userAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("geocode request failed", "error", err)
		return 0, 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		f.logger.Warn("geocode request rejected", "status", resp.StatusCode)
		return 0, 0, false
	}

	var hits []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil || len(hits) == 0 {
		return 0, 0, false
	}
	lat, err = strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// overpassElement is the subset of an Overpass result element we read.
type overpassElement struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
	Tags map[string]string `json:"tags"`
}

// queryPlaces runs the Overpass area query around the origin, deduplicated
// by element id.
func (f *Finder) queryPlaces(ctx context.Context, lat, lon float64, kind string) ([]place, error) {
	query := buildOverpassQuery(lat, lon, f.radiusMeters, kind)

	ctx, cancel := context.WithTimeout(ctx, overpassTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.overpassURL, strings.NewReader(query))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("overpass status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Elements []overpassElement `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding overpass response: %w", err)
	}

	seen := make(map[string]bool)
	places := make([]place, 0, len(payload.Elements))
	for _, el := range payload.Elements {
		plat, plon := el.Lat, el.Lon
		if plat == 0 && plon == 0 {
			if el.Center == nil {
				continue
			}
			plat, plon = el.Center.Lat, el.Center.Lon
		}
		id := el.Type + "/" + strconv.FormatInt(el.ID, 10)
		if seen[id] {
			continue
		}
		seen[id] = true
		places = append(places, place{
			id:   id,
			name: facilityName(el.Tags),
			lat:  plat,
			lon:  plon,
		})
	}
	return places, nil
}

// facilityName picks the best available display name from OSM tags.
func facilityName(tags map[string]string) string {
	for _, key := range []string{"name", "name:en", "official_name", "operator"} {
		if v := tags[key]; v != "" {
			return v
		}
	}
	return "Tidak bernama"
}

// normalizeKind folds the accepted kind spellings; "pharmacy" is an alias
// for "apotek".
func normalizeKind(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindHospital:
		return KindHospital, nil
	case KindPharmacy, "pharmacy":
		return KindPharmacy, nil
	default:
		return "", fmt.Errorf("facility kind must be %q or %q", KindHospital, KindPharmacy)
	}
}

// buildOverpassQuery constructs an Overpass QL query covering the OSM tag
// variants for the facility kind.
func buildOverpassQuery(lat, lon float64, radiusMeters int, kind string) string {
	var selectors [][2]string
	if kind == KindHospital {
		selectors = [][2]string{
			{"amenity", "hospital"},
			{"healthcare", "hospital"},
		}
	} else {
		selectors = [][2]string{
			{"amenity", "pharmacy"},
			{"healthcare", "pharmacy"},
			{"shop", "chemist"},
		}
	}

	var b strings.Builder
	b.WriteString("[out:json][timeout:25];(")
	for _, sel := range selectors {
		for _, elType := range []string{"node", "way", "relation"} {
			fmt.Fprintf(&b, `%s["%s"="%s"](around:%d,%f,%f);`, elType, sel[0], sel[1], radiusMeters, lat, lon)
		}
	}
	b.WriteString(");out center tags;")
	return b.String()
}

// haversineKM computes the great-circle distance between two points.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0088
	dlat := radians(lat2 - lat1)
	dlon := radians(lon2 - lon1)
	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
