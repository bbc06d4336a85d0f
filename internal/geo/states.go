// Package geo resolves prospects to coordinates with a batched geocoder and
// a state-centroid fallback.
package geo

import "strings"

// State is one US state (or DC) with its approximate geographic centroid.
type State struct {
	Name string
	Abbr string
	Lat  float64
	Lng  float64
}

// ContiguousCenter is the geographic center of the contiguous United States,
// used when a candidate's state is not recognized.
var ContiguousCenter = State{Name: "United States", Abbr: "US", Lat: 39.8283, Lng: -98.5795}

var states = []State{
	{"Alabama", "AL", 32.8067, -86.7911},
	{"Alaska", "AK", 61.3707, -152.4044},
	{"Arizona", "AZ", 33.7298, -111.4312},
	{"Arkansas", "AR", 34.9697, -92.3731},
	{"California", "CA", 36.1162, -119.6816},
	{"Colorado", "CO", 39.0598, -105.3111},
	{"Connecticut", "CT", 41.5978, -72.7554},
	{"Delaware", "DE", 39.3185, -75.5071},
	{"District of Columbia", "DC", 38.8974, -77.0268},
	{"Florida", "FL", 27.7663, -81.6868},
	{"Georgia", "GA", 33.0406, -83.6431},
	{"Hawaii", "HI", 21.0943, -157.4983},
	{"Idaho", "ID", 44.2405, -114.4788},
	{"Illinois", "IL", 40.3495, -88.9861},
	{"Indiana", "IN", 39.8494, -86.2583},
	{"Iowa", "IA", 42.0115, -93.2105},
	{"Kansas", "KS", 38.5266, -96.7265},
	{"Kentucky", "KY", 37.6681, -84.6701},
	{"Louisiana", "LA", 31.1695, -91.8678},
	{"Maine", "ME", 44.6939, -69.3819},
	{"Maryland", "MD", 39.0639, -76.8021},
	{"Massachusetts", "MA", 42.2302, -71.5301},
	{"Michigan", "MI", 43.3266, -84.5361},
	{"Minnesota", "MN", 45.6945, -93.9002},
	{"Mississippi", "MS", 32.7416, -89.6787},
	{"Missouri", "MO", 38.4561, -92.2884},
	{"Montana", "MT", 46.9219, -110.4544},
	{"Nebraska", "NE", 41.1254, -98.2681},
	{"Nevada", "NV", 38.3135, -117.0554},
	{"New Hampshire", "NH", 43.4525, -71.5639},
	{"New Jersey", "NJ", 40.2989, -74.5210},
	{"New Mexico", "NM", 34.8405, -106.2485},
	{"New York", "NY", 42.1657, -74.9481},
	{"North Carolina", "NC", 35.6301, -79.8064},
	{"North Dakota", "ND", 47.5289, -99.7840},
	{"Ohio", "OH", 40.3888, -82.7649},
	{"Oklahoma", "OK", 35.5653, -96.9289},
	{"Oregon", "OR", 44.5720, -122.0709},
	{"Pennsylvania", "PA", 40.5908, -77.2098},
	{"Rhode Island", "RI", 41.6809, -71.5118},
	{"South Carolina", "SC", 33.8569, -80.9450},
	{"South Dakota", "SD", 44.2998, -99.4388},
	{"Tennessee", "TN", 35.7478, -86.6923},
	{"Texas", "TX", 31.0545, -97.5635},
	{"Utah", "UT", 40.1500, -111.8624},
	{"Vermont", "VT", 44.0459, -72.7107},
	{"Virginia", "VA", 37.7693, -78.1700},
	{"Washington", "WA", 47.4009, -121.4905},
	{"West Virginia", "WV", 38.4912, -80.9545},
	{"Wisconsin", "WI", 44.2685, -89.6165},
	{"Wyoming", "WY", 42.7560, -107.3025},
}

var stateIndex = func() map[string]State {
	m := make(map[string]State, len(states)*2)
	for _, s := range states {
		m[strings.ToLower(s.Name)] = s
		m[strings.ToLower(s.Abbr)] = s
	}
	return m
}()

// LookupState finds a state by full name or postal abbreviation, ignoring
// case and surrounding whitespace.
func LookupState(s string) (State, bool) {
	st, ok := stateIndex[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

// CanonicalState returns the full state name for s, or s trimmed when it is
// not a recognized state.
func CanonicalState(s string) string {
	if st, ok := LookupState(s); ok {
		return st.Name
	}
	return strings.TrimSpace(s)
}

// Centroid returns the centroid for a state, falling back to the center of
// the contiguous US. The second result reports whether the state was known.
func Centroid(state string) (State, bool) {
	if st, ok := LookupState(state); ok {
		return st, true
	}
	return ContiguousCenter, false
}
