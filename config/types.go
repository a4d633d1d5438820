package config

import "strings"

// DocumentTypes are the extensions that can be converted to text before
// scanning when extraction is enabled.
var DocumentTypes = []string{
	"html", "htm", "xml",
	"eml", "mbox", "msg",
	"pdf", "doc", "docx", "odt", "rtf",
}

// GetFileTypeDescription returns a human-readable list of extraction types.
func GetFileTypeDescription(types []string) string {
	if len(types) == 0 {
		return "plain text only"
	}
	return "documents (" + strings.Join(types, ", ") + ")"
}
