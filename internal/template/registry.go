package template

import (
	"errors"
	"sort"

	"github.com/timomeintjes-cmd/oreus-api/internal/workspace"
)

// ErrUnknown indicates a template identifier is not registered.
var ErrUnknown = errors.New("template: unknown template")

// Template couples a starter file tree with the command that serves it.
// The start command must honor the PORT environment variable injected
// by the process supervisor.
type Template struct {
	ID           string
	Description  string
	StartCommand string
	Files        []workspace.File
}

// Registry resolves template identifiers to their definitions.
type Registry struct {
	templates map[string]Template
}

// NewRegistry returns the built-in template set.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	for _, t := range builtins() {
		r.templates[t.ID] = t
	}
	return r
}

// Register adds or replaces a template.
func (r *Registry) Register(t Template) {
	r.templates[t.ID] = t
}

// Resolve returns the template for an identifier.
func (r *Registry) Resolve(id string) (Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return Template{}, ErrUnknown
	}
	return t, nil
}

// IDs lists registered template identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func builtins() []Template {
	return []Template{
		{
			ID:           "fastapi",
			Description:  "FastAPI web service",
			StartCommand: "uvicorn main:app --host 0.0.0.0 --port $PORT",
			Files: []workspace.File{
				{Path: "main.py", Content: []byte(fastapiMain)},
				{Path: "requirements.txt", Content: []byte("fastapi\nuvicorn[standard]\n")},
				{Path: "README.md", Content: []byte("# FastAPI Project\n\nRun `uvicorn main:app --reload` to start developing.\n")},
			},
		},
		{
			ID:           "react",
			Description:  "React single-page app",
			StartCommand: "npm run dev",
			Files: []workspace.File{
				{Path: "package.json", Content: []byte(reactPackageJSON)},
				{Path: "index.html", Content: []byte(reactIndexHTML)},
				{Path: "src/main.jsx", Content: []byte(reactMain)},
				{Path: "src/App.jsx", Content: []byte(reactApp)},
				{Path: "README.md", Content: []byte("# React Project\n\nRun `npm install && npm run dev` to start developing.\n")},
			},
		},
		{
			ID:           "vue",
			Description:  "Vue.js single-page app",
			StartCommand: "npm run dev",
			Files: []workspace.File{
				{Path: "package.json", Content: []byte(vuePackageJSON)},
				{Path: "index.html", Content: []byte(vueIndexHTML)},
				{Path: "src/main.js", Content: []byte(vueMain)},
				{Path: "src/App.vue", Content: []byte(vueApp)},
				{Path: "README.md", Content: []byte("# Vue Project\n\nRun `npm install && npm run dev` to start developing.\n")},
			},
		},
		{
			ID:           "node",
			Description:  "Node.js HTTP server",
			StartCommand: "node server.js",
			Files: []workspace.File{
				{Path: "server.js", Content: []byte(nodeServer)},
				{Path: "package.json", Content: []byte(nodePackageJSON)},
				{Path: "README.md", Content: []byte("# Node Project\n\nRun `node server.js` to start developing.\n")},
			},
		},
		{
			ID:           "python",
			Description:  "Plain Python HTTP server",
			StartCommand: "python main.py",
			Files: []workspace.File{
				{Path: "main.py", Content: []byte(pythonMain)},
				{Path: "requirements.txt", Content: []byte("")},
				{Path: "README.md", Content: []byte("# Python Project\n\nRun `python main.py` to start developing.\n")},
			},
		},
	}
}
