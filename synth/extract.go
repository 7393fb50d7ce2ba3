package synth

import "regexp"

var imageEmbed = regexp.MustCompile(`!\[[^\]]*\]\([^)\s]+(?:\s+"[^"]*")?\)`)

// ExtractMarkdown returns the first markdown image embed in text verbatim, or
// NoChartData when there is none. The target is not checked.
func ExtractMarkdown(text string) string {
	if m := imageEmbed.FindString(text); m != "" {
		return m
	}
	return NoChartData
}
