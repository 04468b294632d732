package output

import (
	"fmt"
	"strings"

	"github.com/regspy/regspy/internal/core"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatVehicle renders a lookup result as Markdown.
func (f *MarkdownFormatter) FormatVehicle(result *core.LookupResult) (string, error) {
	if result == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdownCell(result.Registration)))
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")

	for _, row := range vehicleRows(result) {
		sb.WriteString(fmt.Sprintf("| %s | %s |\n",
			escapeMarkdownCell(row.label),
			escapeMarkdownCell(row.value),
		))
	}

	if len(result.MotTests) > 0 {
		sb.WriteString("\n### MOT history\n\n")
		sb.WriteString("| Date | Result | Odometer | Expiry | Defects |\n")
		sb.WriteString("|------|--------|----------|--------|--------|\n")
		for _, test := range result.MotTests {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				escapeMarkdownCell(test.CompletedDate),
				escapeMarkdownCell(test.TestResult),
				escapeMarkdownCell(odometer(test)),
				escapeMarkdownCell(test.ExpiryDate),
				escapeMarkdownCell(defectSummary(test.Defects)),
			))
		}
	}

	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
