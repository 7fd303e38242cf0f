package config

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileOverrides is the subset of Config an operator may supply via an
// optional YAML file. Only capacity knobs are hot-reloadable; the rest of
// Config is fixed at process start (HTTP address, history DB path, metrics
// backend) and is not watched.
type FileOverrides struct {
	TotalCapacityUnits *int `yaml:"total_capacity_units,omitempty"`
	ReserveUnits       *int `yaml:"reserve_units,omitempty"`
}

// LoadFile reads and parses a YAML overrides file. A missing file is not an
// error: it means no file-based overrides are in effect.
func LoadFile(path string) (FileOverrides, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return FileOverrides{}, nil
	}
	if err != nil {
		return FileOverrides{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	var o FileOverrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return FileOverrides{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return o, nil
}

// ApplyFile layers file-based overrides onto c; fields left nil in o are
// unchanged.
func (c Config) ApplyFile(o FileOverrides) Config {
	if o.TotalCapacityUnits != nil {
		c.TotalCapacityUnits = *o.TotalCapacityUnits
	}
	if o.ReserveUnits != nil {
		c.ReserveUnits = *o.ReserveUnits
	}
	return c
}

// Watcher watches a single YAML config file for writes and re-parses it on
// change, calling onChange with the freshly loaded overrides. This trims the
// teacher's HotReloadSystem (engine/internal/runtime/runtime.go) down to the
// one event path this daemon needs: no version history, rollback or A/B
// testing, just "the file changed, re-read it."
type Watcher struct {
	w    *fsnotify.Watcher
	path string
}

// NewWatcher starts watching path. The file must already exist: watching a
// missing path fails and NewWatcher returns that error. A file created
// after startup is not picked up, since only the file itself is watched,
// not its containing directory.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch config file %s: %w", path, err)
	}
	return &Watcher{w: w, path: path}, nil
}

// Run blocks, delivering reloaded overrides to onChange on every write event,
// until ctx is canceled. Parse errors are dropped silently: the last good
// overrides remain in effect rather than zeroing out capacity on a typo.
func (fw *Watcher) Run(ctx context.Context, onChange func(FileOverrides)) {
	for {
		select {
		case <-ctx.Done():
			_ = fw.w.Close()
			return
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Write == fsnotify.Write {
				if o, err := LoadFile(fw.path); err == nil {
					onChange(o)
				}
			}
		case _, ok := <-fw.w.Errors:
			if !ok {
				return
			}
		}
	}
}

func (fw *Watcher) Close() error { return fw.w.Close() }
