package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Point is one sample of a variable's time series.
type Point struct {
	Time  time.Time `json:"time"`
	Value *float64  `json:"value"`
}

// ParseFeatureID extracts the numeric id from a hydrofabric identifier such as
// "wb-2855078" or "nex-123". Plain integers are accepted as is.
func ParseFeatureID(s string) (int64, error) {
	token := s
	if i := strings.LastIndex(s, "-"); i >= 0 {
		token = s[i+1:]
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse feature id %q: %w", s, err)
	}
	return id, nil
}

var variableUnits = map[string]string{
	"rain_rate":    "mm/h",
	"giuh_runoff":  "mm",
	"gw_storage":   "m/m",
	"soil_storage": "m/m",
	"flow":         "m³/s",
	"velocity":     "m/s",
	"depth":        "m",
	"nudge":        "m³/s",
	"streamflow":   "m³/s",
}

// VariableUnits returns the display unit of a variable, or "" when unknown.
func VariableUnits(variable string) string {
	return variableUnits[strings.ToLower(variable)]
}

var featurePropertyLabels = map[string]string{
	"tot_drainage_areasqkm": "Total Drainage Area (km2)",
	"areasqkm":              "Area (km2)",
	"toid":                  "To ID",
	"vpuid":                 "VPU ID",
	"lengthkm":              "Length (km)",
	"has_flowline":          "Has Flowline",
	"divide_id":             "Divide ID",
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// PropertyLabel returns a human label for an index table column.
func PropertyLabel(column string) string {
	if l, ok := featurePropertyLabels[column]; ok {
		return l
	}
	return titleCase(camelBoundary.ReplaceAllString(strings.ReplaceAll(column, "_", " "), "$1 $2"))
}

// PlotTitle renders the heading of a feature's forecast plot, e.g.
// "Wb 2855078 Short Range Forecast".
func PlotTitle(forecastType, featureID string) string {
	id := strings.ReplaceAll(featureID, "-", " ")
	ft := strings.ReplaceAll(forecastType, "_", " ")
	return titleCase(id + " " + ft + " Forecast")
}

func titleCase(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
