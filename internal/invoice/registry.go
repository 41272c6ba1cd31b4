package invoice

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/gmsas95/ocrinvoice/internal/metrics"
)

//go:embed templates
var builtinTemplates embed.FS

// reloadDebounce coalesces bursts of editor writes into one reload
const reloadDebounce = 250 * time.Millisecond

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yml" || ext == ".yaml"
}

// LoadFS parses every template file under root in fsys. Files that fail to
// parse are reported in errs and skipped.
func LoadFS(fsys fs.FS, root string) (templates []*Template, errs []error) {
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if d.IsDir() || !isTemplateFile(path) {
			return nil
		}

		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}

		t, err := ParseTemplate(path, data)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		templates = append(templates, t)
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return templates, errs
}

// LoadBuiltin parses the templates shipped inside the binary
func LoadBuiltin() ([]*Template, []error) {
	return LoadFS(builtinTemplates, "templates")
}

// LoadDir parses the templates in dir. A missing dir yields no templates
// and no errors.
func LoadDir(dir string) ([]*Template, []error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	return LoadFS(os.DirFS(dir), ".")
}

// Registry holds the active template set and reloads it on demand
type Registry struct {
	dir     string
	builtin bool
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	templates []*Template
}

// NewRegistry creates a registry and performs the first load
func NewRegistry(dir string, builtin bool, logger *zap.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		dir:     dir,
		builtin: builtin,
		logger:  logger,
		metrics: m,
	}
	r.Reload()
	return r
}

// Reload rebuilds the template set. Broken files are logged and skipped so
// one bad template never takes the others down.
func (r *Registry) Reload() int {
	var all []*Template

	if r.builtin {
		ts, errs := LoadBuiltin()
		r.logSkipped("builtin", errs)
		all = append(all, ts...)
	}

	ts, errs := LoadDir(r.dir)
	r.logSkipped(r.dir, errs)
	all = append(all, ts...)

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority > all[j].Priority
		}
		return all[i].Name < all[j].Name
	})

	r.mu.Lock()
	r.templates = all
	r.mu.Unlock()

	r.metrics.SetTemplatesLoaded(len(all))
	r.logger.Info("Invoice templates loaded",
		zap.Int("count", len(all)),
		zap.String("dir", r.dir),
		zap.Bool("builtin", r.builtin),
	)
	return len(all)
}

func (r *Registry) logSkipped(source string, errs []error) {
	for _, err := range errs {
		r.logger.Warn("Skipping invoice template", zap.String("source", source), zap.Error(err))
	}
}

// Templates returns the current set in match order
func (r *Registry) Templates() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Template, len(r.templates))
	copy(out, r.templates)
	return out
}

// Len returns the number of loaded templates
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// Watch reloads the registry whenever a file in the templates directory
// changes. It blocks until ctx is done. A missing directory is not watched.
func (r *Registry) Watch(ctx context.Context) error {
	if r.dir == "" {
		<-ctx.Done()
		return nil
	}
	if _, err := os.Stat(r.dir); err != nil {
		r.logger.Info("Templates directory not found, hot reload disabled", zap.String("dir", r.dir))
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return err
	}
	r.logger.Info("Watching invoice templates", zap.String("dir", r.dir))

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isTemplateFile(ev.Name) {
				continue
			}
			r.logger.Debug("Template change detected", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			r.Reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Template watcher error", zap.Error(err))
		}
	}
}
