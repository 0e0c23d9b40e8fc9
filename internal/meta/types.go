package meta

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultDateLayout is the layout used for date cells when none is configured.
const DefaultDateLayout = "01/02/2006"

// Numeric reports whether values of dataType are rendered unquoted in
// search criteria.
func Numeric(dataType string) bool {
	switch strings.ToLower(dataType) {
	case "integer", "long", "short", "double", "float", "bigdecimal", "boolean":
		return true
	}
	return false
}

// Convert parses a cell value into the Go value sent for dataType. Dates are
// sent as epoch milliseconds.
func Convert(dataType, raw, dateLayout string) (any, error) {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(dataType) {
	case "integer", "long", "short":
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", dataType, raw)
		}
		return n, nil
	case "double", "float", "bigdecimal":
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", dataType, raw)
		}
		return f, nil
	case "boolean":
		switch strings.ToLower(v) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", dataType, raw)
		}
		return b, nil
	case "timestamp", "date":
		if dateLayout == "" {
			dateLayout = DefaultDateLayout
		}
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q for layout %q", raw, dateLayout)
		}
		return t.UnixMilli(), nil
	default:
		return raw, nil
	}
}
