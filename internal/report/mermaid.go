package report

import (
	"fmt"
	"strings"
)

// PieSlice is one labelled value of a pie chart.
type PieSlice struct {
	Label string
	Value int
}

// GeneratePieChart creates a Mermaid pie chart. Slices with no value are
// skipped since Mermaid renders them as empty wedges.
func GeneratePieChart(title string, slices []PieSlice) string {
	var sb strings.Builder

	sb.WriteString("```mermaid\n")
	sb.WriteString(fmt.Sprintf("pie showData title %s\n", escapeLabel(title)))
	for _, s := range slices {
		if s.Value <= 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("    \"%s\" : %d\n", escapeLabel(s.Label), s.Value))
	}
	sb.WriteString("```\n")

	return sb.String()
}

// GenerateHourlyChart creates a Mermaid bar chart of detections per hour of day.
func GenerateHourlyChart(byHour [24]int) string {
	var sb strings.Builder

	max := 1
	for _, c := range byHour {
		if c > max {
			max = c
		}
	}

	hours := make([]string, 24)
	counts := make([]string, 24)
	for h := 0; h < 24; h++ {
		hours[h] = fmt.Sprintf("\"%02d\"", h)
		counts[h] = fmt.Sprintf("%d", byHour[h])
	}

	sb.WriteString("```mermaid\n")
	sb.WriteString("xychart-beta\n")
	sb.WriteString("    title \"Detections by hour\"\n")
	sb.WriteString(fmt.Sprintf("    x-axis [%s]\n", strings.Join(hours, ", ")))
	sb.WriteString(fmt.Sprintf("    y-axis \"Detections\" 0 --> %d\n", max))
	sb.WriteString(fmt.Sprintf("    bar [%s]\n", strings.Join(counts, ", ")))
	sb.WriteString("```\n")

	return sb.String()
}

// escapeLabel keeps labels from closing the quoted Mermaid string.
func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
