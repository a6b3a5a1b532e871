// Package web renders the auth service's HTML pages.
//
// Templates are embedded in the binary. A Renderer may be pointed at an
// override directory; files there replace embedded templates of the same
// name and are reloaded when they change.
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const layoutName = "layout.html"

// Page names.
const (
	PageIndex    = "index.html"
	PageLogin    = "login.html"
	PageProduct  = "product.html"
	PagePersons  = "persons.html"
	PageError    = "error.html"
	reloadSettle = 100 * time.Millisecond
)

// ErrUnknownPage is returned when rendering a page that has no template.
var ErrUnknownPage = errors.New("web: unknown page")

// User is the signed-in user as shown in page chrome.
type User struct {
	Username string
	Email    string
	FullName string
	Picture  string
	Roles    []string
}

// Page is the root value of every template.
type Page struct {
	Title string
	User  *User
	Data  any
}

var funcs = template.FuncMap{
	"money": func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
	"stockClass": func(q int) string {
		switch {
		case q > 10:
			return "in"
		case q > 0:
			return "low"
		default:
			return "out"
		}
	},
}

// Renderer executes page templates.
type Renderer struct {
	overrideDir string
	log         *slog.Logger

	mu    sync.RWMutex
	pages map[string]*template.Template
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithOverrideDir makes templates in dir take precedence over embedded ones.
func WithOverrideDir(dir string) Option {
	return func(r *Renderer) { r.overrideDir = dir }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Renderer) { r.log = log }
}

// New parses all templates.
func New(opts ...Option) (*Renderer, error) {
	r := &Renderer{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-parses every template. On error the previous set stays active.
func (r *Renderer) Reload() error {
	layout, err := r.source(layoutName)
	if err != nil {
		return err
	}
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return err
	}
	pages := make(map[string]*template.Template, len(names))
	for _, p := range names {
		name := filepath.Base(p)
		if name == layoutName {
			continue
		}
		body, err := r.source(name)
		if err != nil {
			return err
		}
		t, err := template.New(layoutName).Funcs(funcs).Parse(layout)
		if err != nil {
			return fmt.Errorf("web: parse %s: %w", layoutName, err)
		}
		if _, err := t.New(name).Parse(body); err != nil {
			return fmt.Errorf("web: parse %s: %w", name, err)
		}
		pages[name] = t
	}

	r.mu.Lock()
	r.pages = pages
	r.mu.Unlock()
	return nil
}

// source returns the override file for name when present, else the
// embedded template.
func (r *Renderer) source(name string) (string, error) {
	if r.overrideDir != "" {
		b, err := os.ReadFile(filepath.Join(r.overrideDir, name))
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("web: read override %s: %w", name, err)
		}
	}
	b, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("web: read %s: %w", name, err)
	}
	return string(b), nil
}

// Render writes page with status. Output is buffered so that template
// errors produce a 500 instead of a truncated page.
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, status int, page string, data Page) {
	r.mu.RLock()
	t, ok := r.pages[page]
	r.mu.RUnlock()

	var buf bytes.Buffer
	err := ErrUnknownPage
	if ok {
		err = t.ExecuteTemplate(&buf, layoutName, data)
	}
	if err != nil {
		r.log.ErrorContext(req.Context(), "web.render.fail", slog.String("page", page), slog.String("err", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Static serves the embedded assets; mount it at / for /css and /js paths.
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServerFS(sub)
}

// Watch reloads templates whenever an .html file in the override directory
// changes, until ctx is done. It returns immediately when no override
// directory is configured.
func (r *Renderer) Watch(ctx context.Context) error {
	if r.overrideDir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("web: watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()
	if err := w.Add(r.overrideDir); err != nil {
		return fmt.Errorf("web: watch %s: %w", r.overrideDir, err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".html") || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Editors emit bursts of events; reload once they settle.
			if timer == nil {
				timer = time.NewTimer(reloadSettle)
			} else {
				timer.Reset(reloadSettle)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := r.Reload(); err != nil {
				r.log.WarnContext(ctx, "web.reload.fail", slog.String("err", err.Error()))
				continue
			}
			r.log.InfoContext(ctx, "web.reload")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.WarnContext(ctx, "web.watch.error", slog.String("err", err.Error()))
		}
	}
}
