package sink

import "strings"

var speechReplacer = strings.NewReplacer(
	".json", " JSON file",
	".py", " python file",
	".js", " javascript file",
	".md", " markdown file",
	".go", " go file",
	"_", " ",
	"-", " ",
)

// FormatForSpeech rewrites identifiers and file names so a synthesizer
// reads them naturally.
func FormatForSpeech(text string) string {
	return strings.TrimSpace(speechReplacer.Replace(text))
}
