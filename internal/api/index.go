// ABOUTME: Server-rendered index page listing registered agents and reclamation settings.
// ABOUTME: Templates are embedded with go:embed and rendered with html/template.

package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/2389/ephemera/internal/agent"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"seconds": func(d time.Duration) string {
		return fmt.Sprintf("%.1fs", d.Seconds())
	},
}

var indexTemplate = template.Must(template.New("index.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/index.html"))

type indexData struct {
	Title   string
	Timeout time.Duration
	Timer   string
	Agents  []agent.Entry
}

// Index renders the agent overview page.
// GET /
func (h *Handler) Index(c echo.Context) error {
	data := indexData{
		Title:   "ephemera agents",
		Timeout: h.svc.InactiveTimeout(),
		Timer:   h.svc.TimerState().String(),
		Agents:  h.svc.List(),
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		h.logger.Error("failed to render index page", "error", err)
		return failure(c, http.StatusInternalServerError, "failed to render page")
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}
