package gateway

import (
	"regexp"
	"strconv"
)

// silhouettePattern is `"Silhouette Score=" <digits> ["." <digits>]`.
var silhouettePattern = regexp.MustCompile(`Silhouette Score=([0-9]+(?:\.[0-9]+)?)`)

// ExtractSilhouetteScore scans a free-text retrain message for the first
// "Silhouette Score=<float>" occurrence. It is the only place that knows the
// message format; swap it out once the service returns a typed field.
func ExtractSilhouetteScore(message string) (float64, bool) {
	m := silhouettePattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
