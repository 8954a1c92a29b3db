// Package clipname formats clip labels. A label is the hydrophone name
// followed by the clip start in the listener-facing timezone, e.g.
// rpi-orcasound-lab_2020_09_26_17_16_55_PDT.
package clipname

import (
	"strings"
	"time"
	_ "time/tzdata"
)

const layout = "2006_01_02_15_04_05_MST"

// DefaultLocation is the timezone labels are rendered in when none is configured.
func DefaultLocation() *time.Location {
	loc, err := time.LoadLocation("US/Pacific")
	if err != nil {
		return time.UTC
	}
	return loc
}

// Label returns the clip label for node at instant t, and t localized to loc.
func Label(node string, t time.Time, loc *time.Location) (string, time.Time) {
	if loc == nil {
		loc = DefaultLocation()
	}
	local := t.In(loc)
	return NodeName(node) + "_" + local.Format(layout), local
}

// NodeName turns a bucket folder name into its display form.
func NodeName(node string) string {
	return strings.ReplaceAll(node, "_", "-")
}

// FileName joins a label and a container extension.
func FileName(label, format string) string {
	return label + "." + strings.TrimPrefix(format, ".")
}
