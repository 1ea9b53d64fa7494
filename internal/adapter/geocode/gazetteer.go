package geocode

import (
	"strings"

	"github.com/user/threat-ingestor/internal/domain"
)

// cityEntry is a curated gazetteer row for a major city.
type cityEntry struct {
	city    string
	country string
	lat     float64
	lon     float64
}

// countryEntry carries a centroid and a loose bounding box used for the
// country/coordinate cross-check in the quality gate.
type countryEntry struct {
	name   string
	lat    float64
	lon    float64
	minLat float64
	maxLat float64
	minLon float64
	maxLon float64
}

// The curated gazetteer. Intentionally small: it is a fast path for the
// place names that dominate the feeds, not a general geocoder.
var cities = []cityEntry{
	{"kyiv", "Ukraine", 50.4501, 30.5234},
	{"kharkiv", "Ukraine", 49.9935, 36.2304},
	{"odesa", "Ukraine", 46.4825, 30.7233},
	{"moscow", "Russia", 55.7558, 37.6173},
	{"gaza", "Palestine", 31.5017, 34.4668},
	{"tel aviv", "Israel", 32.0853, 34.7818},
	{"jerusalem", "Israel", 31.7683, 35.2137},
	{"beirut", "Lebanon", 33.8938, 35.5018},
	{"damascus", "Syria", 33.5138, 36.2765},
	{"aleppo", "Syria", 36.2021, 37.1343},
	{"baghdad", "Iraq", 33.3152, 44.3661},
	{"mosul", "Iraq", 36.3350, 43.1189},
	{"tehran", "Iran", 35.6892, 51.3890},
	{"kabul", "Afghanistan", 34.5553, 69.2075},
	{"islamabad", "Pakistan", 33.6844, 73.0479},
	{"karachi", "Pakistan", 24.8607, 67.0011},
	{"khartoum", "Sudan", 15.5007, 32.5599},
	{"mogadishu", "Somalia", 2.0469, 45.3182},
	{"tripoli", "Libya", 32.8872, 13.1913},
	{"sanaa", "Yemen", 15.3694, 44.1910},
	{"aden", "Yemen", 12.7855, 45.0187},
	{"bamako", "Mali", 12.6392, -8.0029},
	{"ouagadougou", "Burkina Faso", 12.3714, -1.5197},
	{"niamey", "Niger", 13.5116, 2.1254},
	{"maiduguri", "Nigeria", 11.8333, 13.1500},
	{"lagos", "Nigeria", 6.5244, 3.3792},
	{"abuja", "Nigeria", 9.0765, 7.3986},
	{"kinshasa", "DR Congo", -4.4419, 15.2663},
	{"goma", "DR Congo", -1.6585, 29.2204},
	{"addis ababa", "Ethiopia", 9.0250, 38.7469},
	{"nairobi", "Kenya", -1.2921, 36.8219},
	{"yangon", "Myanmar", 16.8661, 96.1951},
	{"port-au-prince", "Haiti", 18.5944, -72.3074},
	{"caracas", "Venezuela", 10.4806, -66.9036},
	{"bogota", "Colombia", 4.7110, -74.0721},
	{"mexico city", "Mexico", 19.4326, -99.1332},
	{"london", "United Kingdom", 51.5074, -0.1278},
	{"paris", "France", 48.8566, 2.3522},
	{"berlin", "Germany", 52.5200, 13.4050},
	{"washington", "United States", 38.9072, -77.0369},
	{"new york", "United States", 40.7128, -74.0060},
	{"beijing", "China", 39.9042, 116.4074},
	{"taipei", "Taiwan", 25.0330, 121.5654},
	{"seoul", "South Korea", 37.5665, 126.9780},
	{"pyongyang", "North Korea", 39.0392, 125.7625},
	{"new delhi", "India", 28.6139, 77.2090},
	{"dhaka", "Bangladesh", 23.8103, 90.4125},
	{"manila", "Philippines", 14.5995, 120.9842},
	{"jakarta", "Indonesia", -6.2088, 106.8456},
}

var countries = []countryEntry{
	{"Ukraine", 48.3794, 31.1656, 44.0, 52.5, 22.0, 40.3},
	{"Russia", 61.5240, 105.3188, 41.0, 82.0, 19.0, 180.0},
	{"Israel", 31.0461, 34.8516, 29.4, 33.4, 34.2, 35.9},
	{"Palestine", 31.9522, 35.2332, 31.2, 32.6, 34.2, 35.6},
	{"Lebanon", 33.8547, 35.8623, 33.0, 34.7, 35.1, 36.7},
	{"Syria", 34.8021, 38.9968, 32.3, 37.4, 35.7, 42.4},
	{"Iraq", 33.2232, 43.6793, 29.0, 37.4, 38.8, 48.6},
	{"Iran", 32.4279, 53.6880, 25.0, 39.8, 44.0, 63.3},
	{"Afghanistan", 33.9391, 67.7100, 29.3, 38.5, 60.5, 75.0},
	{"Pakistan", 30.3753, 69.3451, 23.6, 37.1, 60.8, 77.8},
	{"Sudan", 12.8628, 30.2176, 8.6, 22.2, 21.8, 38.6},
	{"Somalia", 5.1521, 46.1996, -1.7, 12.0, 40.9, 51.5},
	{"Libya", 26.3351, 17.2283, 19.5, 33.2, 9.3, 25.2},
	{"Yemen", 15.5527, 48.5164, 12.1, 19.0, 42.5, 54.5},
	{"Mali", 17.5707, -3.9962, 10.1, 25.0, -12.3, 4.3},
	{"Burkina Faso", 12.2383, -1.5616, 9.4, 15.1, -5.6, 2.4},
	{"Niger", 17.6078, 8.0817, 11.7, 23.5, 0.1, 16.0},
	{"Nigeria", 9.0820, 8.6753, 4.2, 13.9, 2.7, 14.7},
	{"DR Congo", -4.0383, 21.7587, -13.5, 5.4, 12.2, 31.3},
	{"Ethiopia", 9.1450, 40.4897, 3.4, 14.9, 33.0, 48.0},
	{"Kenya", -0.0236, 37.9062, -4.7, 5.5, 33.9, 41.9},
	{"Myanmar", 21.9162, 95.9560, 9.5, 28.5, 92.2, 101.2},
	{"Haiti", 18.9712, -72.2852, 18.0, 20.1, -74.5, -71.6},
	{"Venezuela", 6.4238, -66.5897, 0.6, 12.2, -73.4, -59.8},
	{"Colombia", 4.5709, -74.2973, -4.2, 13.4, -79.0, -66.9},
	{"Mexico", 23.6345, -102.5528, 14.5, 32.7, -118.4, -86.7},
	{"United Kingdom", 55.3781, -3.4360, 49.9, 60.9, -8.6, 1.8},
	{"France", 46.2276, 2.2137, 41.3, 51.1, -5.1, 9.6},
	{"Germany", 51.1657, 10.4515, 47.3, 55.1, 5.9, 15.0},
	{"United States", 37.0902, -95.7129, 24.4, 49.4, -125.0, -66.9},
	{"China", 35.8617, 104.1954, 18.2, 53.6, 73.5, 135.1},
	{"Taiwan", 23.6978, 120.9605, 21.9, 25.3, 120.0, 122.0},
	{"South Korea", 35.9078, 127.7669, 33.1, 38.6, 125.9, 129.6},
	{"North Korea", 40.3399, 127.5101, 37.7, 43.0, 124.3, 130.7},
	{"India", 20.5937, 78.9629, 6.7, 35.5, 68.1, 97.4},
	{"Bangladesh", 23.6850, 90.3563, 20.7, 26.6, 88.0, 92.7},
	{"Philippines", 12.8797, 121.7740, 4.6, 21.1, 116.9, 126.6},
	{"Indonesia", -0.7893, 113.9213, -11.0, 6.1, 95.0, 141.0},
	{"Turkey", 38.9637, 35.2433, 35.8, 42.1, 26.0, 44.8},
	{"Egypt", 26.8206, 30.8025, 22.0, 31.7, 24.7, 36.9},
}

// Gazetteer is the deterministic matcher: curated city and country
// substring lookup attempted before anything asynchronous or metered.
type Gazetteer struct {
	countryIndex map[string]countryEntry
}

// NewGazetteer builds the default curated gazetteer.
func NewGazetteer() *Gazetteer {
	g := &Gazetteer{
		countryIndex: make(map[string]countryEntry, len(countries)),
	}
	for _, c := range countries {
		g.countryIndex[strings.ToLower(c.name)] = c
	}
	return g
}

// Match scans text for a known city, then a known country. A city hit
// yields precise coordinates; a country-only hit yields its centroid, which
// is strictly coarse and never promoted past tier 2. The scan walks the
// ordered tables, so text naming two entries resolves the same way on every
// run.
func (g *Gazetteer) Match(text string) (*domain.GeocodeResult, bool) {
	lowered := " " + strings.ToLower(text) + " "

	for _, entry := range cities {
		if containsWord(lowered, entry.city) {
			return &domain.GeocodeResult{
				Latitude:  entry.lat,
				Longitude: entry.lon,
				City:      titleCase(entry.city),
				Country:   entry.country,
				Method:    domain.MethodDeterministic,
				Tier:      domain.TierPrecise,
			}, true
		}
	}

	for _, entry := range countries {
		if containsWord(lowered, strings.ToLower(entry.name)) {
			return &domain.GeocodeResult{
				Latitude:  entry.lat,
				Longitude: entry.lon,
				Country:   entry.name,
				Method:    domain.MethodCentroid,
				Tier:      domain.TierCoarse,
			}, true
		}
	}

	return nil, false
}

// CountryContains reports whether the coordinates plausibly lie inside the
// named country. Unknown countries fail the check: tier 1 demands a
// verifiable claim, not an unverifiable one.
func (g *Gazetteer) CountryContains(country string, lat, lon float64) bool {
	entry, ok := g.countryIndex[strings.ToLower(strings.TrimSpace(country))]
	if !ok {
		return false
	}
	return lat >= entry.minLat && lat <= entry.maxLat && lon >= entry.minLon && lon <= entry.maxLon
}

// CountryCentroid returns the centroid for a known country.
func (g *Gazetteer) CountryCentroid(country string) (*domain.GeocodeResult, bool) {
	entry, ok := g.countryIndex[strings.ToLower(strings.TrimSpace(country))]
	if !ok {
		return nil, false
	}
	return &domain.GeocodeResult{
		Latitude:  entry.lat,
		Longitude: entry.lon,
		Country:   entry.name,
		Method:    domain.MethodCentroid,
		Tier:      domain.TierCoarse,
	}, true
}

// containsWord checks for key as a whole word inside text, which is assumed
// lowercased and padded with spaces.
func containsWord(text, key string) bool {
	idx := strings.Index(text, key)
	for idx >= 0 {
		before := text[idx-1]
		afterIdx := idx + len(key)
		after := byte(' ')
		if afterIdx < len(text) {
			after = text[afterIdx]
		}
		if isBoundary(before) && isBoundary(after) {
			return true
		}
		next := strings.Index(text[idx+1:], key)
		if next < 0 {
			break
		}
		idx = idx + 1 + next
	}
	return false
}

func isBoundary(b byte) bool {
	return !(b >= 'a' && b <= 'z') && !(b >= '0' && b <= '9')
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
