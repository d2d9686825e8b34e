package server

import "net/http"

// UnknownCity is the rollup label used when no geo information is available.
const UnknownCity = "unknown"

// Geo header pairs set by reverse proxies and CDNs that do IP geolocation,
// in precedence order. The collector itself never sees or stores raw
// addresses; the label is as approximate as whatever the proxy derived.
var geoHeaders = []struct {
	city    string
	country string
}{
	{"CF-IPCity", "CF-IPCountry"},
	{"X-Geo-City", "X-Geo-Country"},
	{"X-Appengine-City", "X-Appengine-Country"},
}

// cityFromRequest derives the approximate city label for a request. The
// label is "City, CC" when both parts are known, one of them when only one
// is, and UnknownCity otherwise.
func cityFromRequest(r *http.Request) string {
	for _, h := range geoHeaders {
		city := r.Header.Get(h.city)
		country := r.Header.Get(h.country)

		switch {
		case city != "" && country != "":
			return city + ", " + country
		case city != "":
			return city
		case country != "":
			return country
		}
	}
	return UnknownCity
}
