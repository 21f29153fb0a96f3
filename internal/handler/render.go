package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"
)

// pageRenderer executes a named page template inside the shared layout.
// Handlers embed it so every page gets the same base data.
type pageRenderer struct {
	templates map[string]*template.Template
	baseURL   string
	logger    *slog.Logger
}

func (pr pageRenderer) render(w http.ResponseWriter, name string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["BaseURL"] = pr.baseURL
	data["Year"] = time.Now().Year()

	tmpl, ok := pr.templates[name]
	if !ok {
		pr.logger.Error("template not found", "name", name)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "layout.html", data); err != nil {
		pr.logger.Error("template render", "name", name, "error", err)
	}
}
