package web

import (
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tweag/asset-hashserve/assetserve"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/registry"
)

func TestAssets(t *testing.T) {
	for _, name := range []string{"css/style.css", "js/app.js"} {
		if _, err := fs.Stat(Assets(), name); err != nil {
			t.Errorf("built-in asset %s: %v", name, err)
		}
	}
	if _, err := fs.Stat(Assets(), "templates/index.html.tmpl"); err == nil {
		t.Error("template must not be part of the served assets")
	}
}

func TestIndex(t *testing.T) {
	reg, err := registry.FromFS(Assets(), integrity.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	NewIndex(reg, "/static").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	cssURL, _ := assetserve.Path(reg, "/static", "css/style.css")
	for _, want := range []string{
		`href="` + cssURL + `"`,
		`integrity="sha256-`,
		"2 assets under",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("index does not contain %q:\n%s", want, body)
		}
	}
}

func TestIndexWithoutBuiltinAssets(t *testing.T) {
	reg := registry.MustStatic(registry.NewAsset("other.txt", []byte("hello world"), integrity.SHA256))
	rec := httptest.NewRecorder()
	NewIndex(reg, "/a").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "stylesheet") {
		t.Error("stylesheet link rendered for a registry without it")
	}
	if !strings.Contains(rec.Body.String(), "other.txt") {
		t.Error("asset missing from listing")
	}
}
