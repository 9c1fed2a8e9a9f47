// Package web holds the built-in assets served when no other source is configured,
// and the index page listing the versioned URL of every asset.
package web

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/assetserve"
	"github.com/tweag/asset-hashserve/internal/logging"
)

//go:embed css js
var static embed.FS

//go:embed templates/index.html.tmpl
var indexTemplate string

// Assets returns the built-in asset tree. Paths are relative to its root, e.g. "css/style.css".
func Assets() fs.FS {
	return static
}

type indexEntry struct {
	Path string
	URL  string
}

type indexData struct {
	Prefix string
	Count  int
	Assets []indexEntry
}

// Index renders the asset listing. It follows the registry, so a swapped
// snapshot is reflected on the next request.
type Index struct {
	registry api.ListableRegistry
	builder  *assetserve.Builder
	tpl      *template.Template
}

func NewIndex(registry api.ListableRegistry, prefix string) *Index {
	builder := assetserve.NewBuilder(registry, prefix)
	return &Index{
		registry: registry,
		builder:  builder,
		tpl:      template.Must(template.New("index").Funcs(builder.FuncMap()).Parse(indexTemplate)),
	}
}

func (i *Index) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data := indexData{Prefix: i.builder.Prefix()}
	for asset := range i.registry.Assets() {
		url, ok := i.builder.Path(asset.Path)
		if !ok {
			// removed by a concurrent swap
			continue
		}
		data.Assets = append(data.Assets, indexEntry{Path: asset.Path, URL: url})
	}
	data.Count = len(data.Assets)

	var buf bytes.Buffer
	if err := i.tpl.Execute(&buf, data); err != nil {
		logging.Errorf("rendering index: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(buf.Bytes())
}
