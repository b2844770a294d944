package sequences

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

//go:embed defaults/sequences.yaml
var defaultDefinitions []byte

// Step is one message of a sequence, sent DayOffset days after the start.
type Step struct {
	DayOffset  int    `yaml:"day_offset"`
	TemplateID string `yaml:"template"`
	Subject    string `yaml:"subject"`
}

// Definition is the ordered step list of a named sequence.
type Definition struct {
	Name  models.SequenceName `yaml:"name"`
	Steps []Step              `yaml:"steps"`
}

type definitionsFile struct {
	Sequences []Definition `yaml:"sequences"`
}

// Registry serves the current sequence definitions. It is versionless:
// in-flight records always follow the latest definition.
type Registry struct {
	mu      sync.RWMutex
	defs    map[models.SequenceName]Definition
	path    string
	watcher *fsnotify.Watcher
	log     zerolog.Logger
}

// NewRegistry loads the embedded defaults and, when path is set, the
// overrides from that file.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path, log: logging.Component("sequences")}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the named sequence definition.
func (r *Registry) Get(name models.SequenceName) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Reload rebuilds the definitions. On error the previous set stays active.
func (r *Registry) Reload() error {
	defs, err := parseDefinitions(defaultDefinitions)
	if err != nil {
		return fmt.Errorf("embedded sequence definitions: %w", err)
	}

	if r.path != "" {
		raw, err := os.ReadFile(r.path)
		if err != nil {
			return fmt.Errorf("read sequences file: %w", err)
		}
		overrides, err := parseDefinitions(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", r.path, err)
		}
		for name, def := range overrides {
			defs[name] = def
		}
	}

	r.mu.Lock()
	r.defs = defs
	r.mu.Unlock()
	return nil
}

func parseDefinitions(raw []byte) (map[models.SequenceName]Definition, error) {
	var file definitionsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, err
	}

	defs := make(map[models.SequenceName]Definition, len(file.Sequences))
	for _, def := range file.Sequences {
		if err := def.validate(); err != nil {
			return nil, err
		}
		if _, dup := defs[def.Name]; dup {
			return nil, fmt.Errorf("sequence %q defined twice", def.Name)
		}
		defs[def.Name] = def
	}
	return defs, nil
}

func (d Definition) validate() error {
	if d.Name == "" {
		return errors.New("sequence without name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("sequence %q has no steps", d.Name)
	}
	prev := 0
	for i, step := range d.Steps {
		if step.TemplateID == "" {
			return fmt.Errorf("sequence %q step %d has no template", d.Name, i)
		}
		if step.DayOffset < prev {
			return fmt.Errorf("sequence %q step %d goes back in time", d.Name, i)
		}
		prev = step.DayOffset
	}
	return nil
}

// Watch reloads the definitions whenever the overrides file is written.
// It watches the parent directory so editors that replace the file still
// trigger a reload.
func (r *Registry) Watch() error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch sequences file: %w", err)
	}
	r.watcher = watcher
	go r.watchLoop(filepath.Clean(r.path))
	return nil
}

func (r *Registry) watchLoop(target string) {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := r.Reload(); err != nil {
					r.log.Error().Err(err).Msg("Failed to reload sequence definitions")
					continue
				}
				r.log.Info().Str("file", event.Name).Msg("Sequence definitions reloaded")
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Error().Err(err).Msg("Sequence watcher error")
		}
	}
}

// Stop ends the file watch.
func (r *Registry) Stop() {
	if r.watcher != nil {
		r.watcher.Close()
	}
}
