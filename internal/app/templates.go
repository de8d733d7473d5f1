package app

import (
	"embed"

	"git.sr.ht/~jakintosh/gatehouse/internal/resources"
)

//go:embed templates/*.html
var templatesFS embed.FS

func embeddedTemplates() (*resources.Templates, error) {
	return resources.NewEmbeddedTemplates(templatesFS, "templates/*.html")
}
