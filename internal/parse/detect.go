package parse

import "regexp"

// Format tags a supported statement format
type Format string

const (
	FormatSBI     Format = "SBI"
	FormatHDFC    Format = "HDFC"
	FormatAMEX    Format = "AMEX"
	FormatUnknown Format = ""
)

// signatures are checked in order against the first page; the first match
// wins. SBI is checked before HDFC so that a combined-services page
// mentioning both banks resolves to the account-holding bank listed first.
var signatures = []struct {
	format  Format
	pattern *regexp.Regexp
}{
	{FormatSBI, regexp.MustCompile(`(?i)state bank of india|sbi`)},
	{FormatHDFC, regexp.MustCompile(`(?i)hdfc bank|hdfc\s+bank`)},
	{FormatAMEX, regexp.MustCompile(`(?i)american express|amex|credit card statement`)},
}

// DetectFormat classifies a document from its first page text. Returns
// FormatUnknown when no signature matches.
func DetectFormat(firstPage string) Format {
	for _, sig := range signatures {
		if sig.pattern.MatchString(firstPage) {
			return sig.format
		}
	}
	return FormatUnknown
}
