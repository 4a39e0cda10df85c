// Package rules provides extraction profile loading and management. A
// profile maps field names to CSS selectors so extract tasks can pull
// structured data without shipping selectors in every request.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// maxRulesFileSize bounds how large a rules file may be (1MB).
const maxRulesFileSize = 1 << 20

// Field is one extraction target inside a profile.
type Field struct {
	Selector  string `yaml:"selector"`
	Attribute string `yaml:"attribute,omitempty"` // Empty means element text
	All       bool   `yaml:"all,omitempty"`       // Join every match instead of the first
}

// Profile is a named set of extraction fields.
type Profile struct {
	Fields map[string]Field `yaml:"fields"`
}

// ruleSet is the full parsed rules file: profile name -> profile.
type ruleSet map[string]Profile

// ReloadStats tracks rules file reload activity.
type ReloadStats struct {
	LastReloadTime time.Time `json:"lastReloadTime,omitempty"`
	ReloadCount    int64     `json:"reloadCount"`
	LastError      string    `json:"lastError,omitempty"`
}

// Manager provides hot-reload capable access to extraction profiles.
// Reads are lock-free via atomic.Value; reloads are serialized.
type Manager struct {
	current atomic.Value // ruleSet
	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex // Protects reload operations and stats
	stats  ReloadStats
	closed bool
}

// NewManager creates a manager. With an empty path no profiles are
// available and every lookup misses. With hotReload set, file changes
// trigger reloads.
func NewManager(path string, hotReload bool) (*Manager, error) {
	m := &Manager{
		path:   path,
		stopCh: make(chan struct{}),
	}
	m.current.Store(ruleSet{})

	if path == "" {
		return m, nil
	}

	if err := m.load(); err != nil {
		log.Warn().
			Err(err).
			Str("path", path).
			Msg("Failed to load extraction rules, starting with none")
	}

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().
				Err(err).
				Str("path", path).
				Msg("Failed to start rules file watcher, hot-reload disabled")
		} else {
			log.Info().Str("path", path).Msg("Hot-reload enabled for extraction rules")
		}
	}

	return m, nil
}

// Lookup returns the named profile.
func (m *Manager) Lookup(name string) (Profile, bool) {
	rs := m.current.Load().(ruleSet)
	p, ok := rs[name]
	return p, ok
}

// Names returns the loaded profile names, sorted.
func (m *Manager) Names() []string {
	rs := m.current.Load().(ruleSet)
	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns reload statistics.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// load parses the rules file and swaps it in atomically.
func (m *Manager) load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(m.path)
	if err != nil {
		m.recordErrorLocked(err)
		return err
	}
	if info.Size() > maxRulesFileSize {
		err := fmt.Errorf("rules file too large: %d bytes (max %d)", info.Size(), maxRulesFileSize)
		m.recordErrorLocked(err)
		return err
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		m.recordErrorLocked(err)
		return err
	}

	var rs ruleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		m.recordErrorLocked(fmt.Errorf("parse rules file: %w", err))
		return err
	}

	for name, profile := range rs {
		if len(profile.Fields) == 0 {
			log.Warn().Str("profile", name).Msg("Extraction profile has no fields")
		}
		for field, f := range profile.Fields {
			if f.Selector == "" {
				err := fmt.Errorf("profile %q field %q has no selector", name, field)
				m.recordErrorLocked(err)
				return err
			}
		}
	}

	m.current.Store(rs)
	m.stats.ReloadCount++
	m.stats.LastReloadTime = time.Now()
	m.stats.LastError = ""

	log.Info().
		Int("profiles", len(rs)).
		Str("path", m.path).
		Msg("Extraction rules loaded")
	return nil
}

func (m *Manager) recordErrorLocked(err error) {
	m.stats.LastError = err.Error()
}

// startWatcher watches the rules file's directory so atomic-rename saves
// (the common editor/configmap pattern) are seen as create events.
func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	m.watcher = watcher

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watchLoop()
	}()
	return nil
}

func (m *Manager) watchLoop() {
	// Debounce rapid write bursts from editors.
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-m.stopCh:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(200*time.Millisecond, func() {
				if err := m.load(); err != nil {
					log.Warn().Err(err).Msg("Rules reload failed, keeping previous rules")
				}
			})

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Rules file watcher error")
		}
	}
}

// Close stops the watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	var err error
	if m.watcher != nil {
		err = m.watcher.Close()
	}
	m.wg.Wait()
	return err
}
