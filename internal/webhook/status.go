package webhook

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// Endpoint is a named route shown on the status page, in display order.
type Endpoint struct {
	Name string
	Path string
}

// StatusData is the input to the status page template.
type StatusData struct {
	Version   string
	Endpoints []Endpoint
}

// RenderStatusPage writes the operator landing page. Output depends only on
// data, so identical inputs render byte-identical HTML.
func RenderStatusPage(w io.Writer, data StatusData) error {
	if err := indexTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render status page: %w", err)
	}
	return nil
}
