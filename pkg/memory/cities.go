package memory

import "strings"

var cityTimezones = map[string]string{
	// North America
	"new york":      "America/New_York",
	"boston":        "America/New_York",
	"washington":    "America/New_York",
	"atlanta":       "America/New_York",
	"miami":         "America/New_York",
	"chicago":       "America/Chicago",
	"dallas":        "America/Chicago",
	"houston":       "America/Chicago",
	"denver":        "America/Denver",
	"phoenix":       "America/Phoenix",
	"los angeles":   "America/Los_Angeles",
	"san francisco": "America/Los_Angeles",
	"seattle":       "America/Los_Angeles",
	"vancouver":     "America/Vancouver",
	"toronto":       "America/Toronto",
	"montreal":      "America/Montreal",

	// Europe
	"london":    "Europe/London",
	"paris":     "Europe/Paris",
	"berlin":    "Europe/Berlin",
	"rome":      "Europe/Rome",
	"madrid":    "Europe/Madrid",
	"amsterdam": "Europe/Amsterdam",
	"brussels":  "Europe/Brussels",
	"zurich":    "Europe/Zurich",
	"stockholm": "Europe/Stockholm",
	"oslo":      "Europe/Oslo",
	"helsinki":  "Europe/Helsinki",
	"athens":    "Europe/Athens",
	"moscow":    "Europe/Moscow",

	// Asia
	"tokyo":     "Asia/Tokyo",
	"osaka":     "Asia/Tokyo",
	"seoul":     "Asia/Seoul",
	"beijing":   "Asia/Shanghai",
	"shanghai":  "Asia/Shanghai",
	"hong kong": "Asia/Hong_Kong",
	"taipei":    "Asia/Taipei",
	"singapore": "Asia/Singapore",
	"bangkok":   "Asia/Bangkok",
	"mumbai":    "Asia/Kolkata",
	"delhi":     "Asia/Kolkata",
	"dubai":     "Asia/Dubai",

	// Australia and Pacific
	"sydney":     "Australia/Sydney",
	"melbourne":  "Australia/Melbourne",
	"brisbane":   "Australia/Brisbane",
	"perth":      "Australia/Perth",
	"auckland":   "Pacific/Auckland",
	"wellington": "Pacific/Auckland",

	// South America
	"sao paulo":      "America/Sao_Paulo",
	"rio de janeiro": "America/Sao_Paulo",
	"buenos aires":   "America/Argentina/Buenos_Aires",
	"santiago":       "America/Santiago",
	"lima":           "America/Lima",
	"bogota":         "America/Bogota",

	// Africa
	"cairo":        "Africa/Cairo",
	"johannesburg": "Africa/Johannesburg",
	"lagos":        "Africa/Lagos",
	"nairobi":      "Africa/Nairobi",
	"casablanca":   "Africa/Casablanca",
}

// TimezoneForCity maps a city name, trimmed and case-insensitive, to its IANA zone
func TimezoneForCity(city string) (string, bool) {
	tz, ok := cityTimezones[strings.ToLower(strings.TrimSpace(city))]
	return tz, ok
}
