// Package country maps free-form country names found on hint sites to
// two-letter codes.
package country

import (
	"strings"
	"unicode"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

var aliases = map[string]pipeline.CountryCode{
	"albania":                 "AL",
	"argentina":               "AR",
	"australia":               "AU",
	"austria":                 "AT",
	"belgium":                 "BE",
	"botswana":                "BW",
	"brazil":                  "BR",
	"bulgaria":                "BG",
	"canada":                  "CA",
	"chile":                   "CL",
	"china":                   "CN",
	"cocos (keeling) islands": "CC",
	"cocos islands":           "CC",
	"colombia":                "CO",
	"costa rica":              "CR",
	"croatia":                 "HR",
	"czech republic":          "CZ",
	"czechia":                 "CZ",
	"denmark":                 "DK",
	"ecuador":                 "EC",
	"egypt":                   "EG",
	"estonia":                 "EE",
	"finland":                 "FI",
	"france":                  "FR",
	"germany":                 "DE",
	"greece":                  "GR",
	"hungary":                 "HU",
	"iceland":                 "IS",
	"india":                   "IN",
	"indonesia":               "ID",
	"ireland":                 "IE",
	"israel":                  "IL",
	"italy":                   "IT",
	"japan":                   "JP",
	"jordan":                  "JO",
	"kenya":                   "KE",
	"korea":                   "KR",
	"latvia":                  "LV",
	"lithuania":               "LT",
	"luxembourg":              "LU",
	"malaysia":                "MY",
	"mexico":                  "MX",
	"mongolia":                "MN",
	"montenegro":              "ME",
	"morocco":                 "MA",
	"netherlands":             "NL",
	"new zealand":             "NZ",
	"nigeria":                 "NG",
	"north korea":             "KP",
	"norway":                  "NO",
	"pakistan":                "PK",
	"palestine":               "PS",
	"peru":                    "PE",
	"philippines":             "PH",
	"poland":                  "PL",
	"portugal":                "PT",
	"romania":                 "RO",
	"russia":                  "RU",
	"serbia":                  "RS",
	"singapore":               "SG",
	"slovakia":                "SK",
	"slovenia":                "SI",
	"south africa":            "ZA",
	"south korea":             "KR",
	"spain":                   "ES",
	"sweden":                  "SE",
	"switzerland":             "CH",
	"taiwan":                  "TW",
	"thailand":                "TH",
	"the netherlands":         "NL",
	"tunisia":                 "TN",
	"turkey":                  "TR",
	"turkiye":                 "TR",
	"uae":                     "AE",
	"uganda":                  "UG",
	"uk":                      "GB",
	"ukraine":                 "UA",
	"united arab emirates":    "AE",
	"united kingdom":          "GB",
	"united states":           "US",
	"uruguay":                 "UY",
	"usa":                     "US",
	"venezuela":               "VE",
	"vietnam":                 "VN",
}

// Lookup resolves a country name. The boolean is false when the name is not
// in the alias table and the code is the uppercased first two letters of the
// name, which is imprecise ("Wakanda" yields "WA"). Names whose first two runes
// are not ASCII letters resolve to pipeline.UnknownCountry.
func Lookup(name string) (pipeline.CountryCode, bool) {
	key := normalize(name)
	if code, ok := aliases[key]; ok {
		return code, true
	}
	return fallback(key), false
}

func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func fallback(key string) pipeline.CountryCode {
	runes := []rune(key)
	if len(runes) < 2 {
		return pipeline.UnknownCountry
	}
	for _, r := range runes[:2] {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return pipeline.UnknownCountry
		}
	}
	return pipeline.CountryCode(strings.ToUpper(string(runes[:2])))
}
