package ingest

import (
	"path/filepath"
	"strings"
)

// CleanTitle drops the extension, turns dashes and underscores into spaces and trims the result
func CleanTitle(name string) string {
	title := filepath.Base(name)
	title = strings.TrimSuffix(title, filepath.Ext(title))
	title = strings.NewReplacer("-", " ", "_", " ").Replace(title)
	return strings.TrimSpace(title)
}
