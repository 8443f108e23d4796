// Package mapreport renders one interactive map document from a
// prepared plot payload. The HTML template is handed in as an fs.FS so
// the binary embeds it while tests can swap in fixtures.
package mapreport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"io/fs"

	"github.com/ot2i7ba/UFEDMapper/pkg/plotdata"
)

// TemplateName is the path of the map template inside the FS.
const TemplateName = "public_html/plot.html"

// Document is everything one rendered map carries besides the geometry:
// the provenance line identifying the source export and the QR badge
// that encodes it.
type Document struct {
	Title        string
	Version      string
	Generated    string
	SourceName   string
	SourceDigest string
	RangeLabel   string
	Count        int
	Input        *plotdata.Input
	QRDataURI    template.URL
}

// Render executes the map template over doc and writes the finished
// page. The payload reaches the script block as one JSON literal via
// toJSON, so the page works offline from file:// without fetching.
func Render(w io.Writer, fsys fs.FS, doc Document) error {
	tmpl, err := template.New("plot.html").Funcs(template.FuncMap{
		"toJSON": func(v any) (template.JS, error) {
			b, err := json.Marshal(v)
			return template.JS(b), err
		},
	}).ParseFS(fsys, TemplateName)
	if err != nil {
		return fmt.Errorf("parse map template: %w", err)
	}

	// Render into a buffer first so a template fault never leaves a
	// half-written file behind.
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, doc); err != nil {
		return fmt.Errorf("render map: %w", err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("write map: %w", err)
	}
	return nil
}
