// Package view renders the html/template pages under templates/. Each page is
// parsed together with layout.html and the partials, cached per name outside
// dev mode, and executed with request-scoped helpers.
package view

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/diewo77/go-blog/auth"
)

const flashCookie = "flash"

// DateLayout is how post dates are shown.
const DateLayout = "January 2, 2006"

var (
	baseDir  string
	once     sync.Once
	tplCache = struct {
		sync.RWMutex
		m map[string]*template.Template
	}{m: map[string]*template.Template{}}
	assetManifest     map[string]string
	assetManifestOnce sync.Once

	// canResolver lets templates ask whether the current user may act on a record.
	canResolver func(r *http.Request, action, resourceType string, resource any) bool
)

// SetCanResolver sets the callback behind the "can" template helper,
// used as {{can "update" "post" .}}.
func SetCanResolver(f func(r *http.Request, action, resourceType string, resource any) bool) {
	canResolver = f
}

// SetFlash stores a one-shot message shown on the next rendered page.
func SetFlash(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: url.QueryEscape(msg), Path: "/", MaxAge: 60, HttpOnly: true})
}

// popFlash reads the flash message and expires the cookie.
func popFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return ""
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1})
	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return msg
}

// layoutBase walks upward from a template path to find the directory that contains layout.html.
// If none is found, it returns the template's own directory.
func layoutBase(mainPath string) string {
	d := filepath.Dir(mainPath)
	for {
		lp := filepath.Join(d, "layout.html")
		if fi, err := os.Stat(lp); err == nil && !fi.IsDir() {
			return d
		}
		p := filepath.Dir(d)
		if p == d {
			return filepath.Dir(mainPath)
		}
		d = p
	}
}

func detectBase() {
	candidates := []string{"templates", "../templates", "../../templates"}
	for _, c := range candidates {
		if fi, err := os.Stat(filepath.Clean(c)); err == nil && fi.IsDir() {
			baseDir = filepath.Clean(c)
			return
		}
	}
	baseDir = "templates"
}

// Funcs returns the helper map. Request-bound helpers answer false or empty
// when r is nil, which is how templates are parsed before caching.
func Funcs(r *http.Request) template.FuncMap {
	return template.FuncMap{
		"can": func(action, resourceType string, resource any) bool {
			if r == nil || canResolver == nil {
				return false
			}
			return canResolver(r, action, resourceType, resource)
		},
		"year":  func() int { return time.Now().Year() },
		"asset": func(path string) string { return resolveAsset(path) },
		"media": MediaURL,
		"date": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format(DateLayout)
		},
		"add": func(a, b int) int { return a + b },
		// seq returns 1..n, for page number links.
		"seq": func(n int) []int {
			out := make([]int, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, i)
			}
			return out
		},
		// dict creates a map from key-value pairs for passing to sub-templates.
		// Usage: {{ template "partial" (dict "Key1" val1 "Key2" val2) }}
		"dict": func(values ...any) map[string]any {
			if len(values)%2 != 0 {
				return nil
			}
			m := make(map[string]any, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					continue
				}
				m[key] = values[i+1]
			}
			return m
		},
	}
}

// MediaURL maps a stored media path to its public URL.
func MediaURL(rel string) string {
	if rel == "" {
		return ""
	}
	return "/media/" + strings.TrimPrefix(rel, "/")
}

// versionedAsset returns /static/<name>?v=<hash> for cache busting.
func versionedAsset(rel string) string {
	if strings.HasPrefix(rel, "http://") || strings.HasPrefix(rel, "https://") || strings.HasPrefix(rel, "//") {
		return rel
	}
	b, err := os.ReadFile(filepath.Join("static", rel))
	if err != nil {
		return "/static/" + rel
	}
	h := sha1.Sum(b)
	return "/static/" + rel + "?v=" + fmt.Sprintf("%x", h[:8])
}

// resolveAsset prefers a hashed filename from manifest.json then falls back to query param versioning.
func resolveAsset(rel string) string {
	if devMode() {
		parseManifest()
	} else {
		assetManifestOnce.Do(parseManifest)
	}
	if h, ok := assetManifest[rel]; ok {
		return "/static/" + h
	}
	return versionedAsset(rel)
}

func parseManifest() {
	b, err := os.ReadFile(filepath.Join("static", "manifest.json"))
	if err != nil {
		return
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return
	}
	assetManifest = m
}

func devMode() bool { return os.Getenv("DEV") == "1" }

// SetBaseDir overrides the template base directory.
func SetBaseDir(path string) {
	if path == "" {
		return
	}
	baseDir = filepath.Clean(path)
	once = sync.Once{}
}

// ResetForTests clears caches and forces base dir detection to rerun.
func ResetForTests() {
	tplCache.Lock()
	tplCache.m = map[string]*template.Template{}
	tplCache.Unlock()
	baseDir = ""
	once = sync.Once{}
}

func load(name string) (*template.Template, error) {
	if !devMode() {
		tplCache.RLock()
		t, ok := tplCache.m[name]
		tplCache.RUnlock()
		if ok {
			return t, nil
		}
	}
	if baseDir == "" {
		once.Do(detectBase)
	}
	mainPath := filepath.Join(baseDir, name)
	if _, err := os.Stat(mainPath); err != nil {
		return nil, err
	}
	root := layoutBase(mainPath)
	files := []string{filepath.Join(root, "layout.html"), mainPath}
	partials, _ := filepath.Glob(filepath.Join(root, "partials", "*.html"))
	files = append(files, partials...)

	t, err := template.New("layout.html").Funcs(Funcs(nil)).ParseFiles(files...)
	if err != nil {
		return nil, err
	}
	if !devMode() {
		tplCache.Lock()
		tplCache.m[name] = t
		tplCache.Unlock()
	}
	return t, nil
}

// Render executes name inside the layout with status 200.
func Render(w http.ResponseWriter, r *http.Request, name string, data map[string]any) error {
	return RenderStatus(w, r, http.StatusOK, name, data)
}

// RenderStatus executes name inside the layout. Nothing is written when the
// template fails, so callers can still send an error page.
func RenderStatus(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) error {
	cached, err := load(name)
	if err != nil {
		return err
	}
	t, err := cached.Clone()
	if err != nil {
		return err
	}
	t.Funcs(Funcs(r))

	if data == nil {
		data = map[string]any{}
	}
	if _, exists := data["Year"]; !exists {
		data["Year"] = time.Now().Year()
	}
	uid, loggedIn := auth.UserIDFromContext(r.Context())
	if _, exists := data["IsLoggedIn"]; !exists {
		data["IsLoggedIn"] = loggedIn
	}
	if _, exists := data["CurrentUserID"]; !exists {
		data["CurrentUserID"] = uid
	}
	if _, exists := data["Path"]; !exists {
		data["Path"] = r.URL.Path
	}
	if _, exists := data["Flash"]; !exists {
		data["Flash"] = popFlash(w, r)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err = buf.WriteTo(w)
	return err
}
