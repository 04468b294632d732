package output

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/regspy/regspy/internal/core"
)

// TableFormatter renders results as ASCII tables: one for the vehicle
// details, one for its MOT history when present.
type TableFormatter struct{}

// FormatVehicle renders a lookup result as tables.
func (f *TableFormatter) FormatVehicle(result *core.LookupResult) (string, error) {
	if result == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(result.Registration)

	for _, row := range vehicleRows(result) {
		t.AppendRow(table.Row{row.label, row.value})
	}

	rendered := t.Render()
	if len(result.MotTests) > 0 {
		rendered += "\n" + renderMotTable(result.MotTests)
	}
	return rendered, nil
}

type labelledValue struct {
	label string
	value string
}

// vehicleRows flattens the result into display rows, skipping fields the
// upstreams never supplied.
func vehicleRows(result *core.LookupResult) []labelledValue {
	rows := []labelledValue{
		{"Make", result.Make},
		{"Model", result.Model},
		{"Colour", result.PrimaryColour},
		{"Fuel type", result.FuelType},
		{"Engine size", nonZero(result.EngineSize, " cc")},
		{"Year of manufacture", nonZero(result.YearOfManufacture, "")},
		{"CO2 emissions", nonZero(result.CO2Emissions, " g/km")},
		{"First used", result.FirstUsedDate},
		{"Registered", result.RegistrationDate},
		{"Tax status", result.TaxStatus},
		{"Tax due", result.TaxDueDate},
		{"MOT status", result.MotStatus},
		{"MOT expiry", result.MotExpiryDate},
		{"Times requested", strconv.Itoa(result.RequestCount)},
	}

	kept := rows[:0]
	for _, row := range rows {
		if strings.TrimSpace(row.value) != "" {
			kept = append(kept, row)
		}
	}
	return kept
}

func renderMotTable(tests []core.MotTest) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("MOT history")
	t.AppendHeader(table.Row{"Date", "Result", "Odometer", "Expiry", "Defects"})

	for _, test := range tests {
		t.AppendRow(table.Row{
			test.CompletedDate,
			test.TestResult,
			odometer(test),
			test.ExpiryDate,
			defectSummary(test.Defects),
		})
	}

	return t.Render()
}

func odometer(test core.MotTest) string {
	if test.OdometerValue == "" {
		return ""
	}
	return strings.TrimSpace(test.OdometerValue + " " + test.OdometerUnit)
}

func defectSummary(defects []core.Defect) string {
	if len(defects) == 0 {
		return ""
	}
	counts := map[string]int{}
	for _, d := range defects {
		key := strings.ToLower(d.Type)
		if key == "" {
			key = "advisory"
		}
		counts[key]++
	}

	parts := make([]string, 0, len(counts))
	for _, key := range []string{"dangerous", "major", "minor", "advisory"} {
		if n := counts[key]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, key))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d recorded", len(defects)))
	}
	return strings.Join(parts, ", ")
}

func nonZero(value int, suffix string) string {
	if value == 0 {
		return ""
	}
	return strconv.Itoa(value) + suffix
}
