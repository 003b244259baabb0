package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mstavros/corebot/internal/observability"
)

// Registry indexes skills by name and trigger phrase, and reloads them from
// a directory of SKILL.md documents on an explicit Reload or a debounced
// file-watch event.
type Registry struct {
	dir     string
	logger  *observability.Logger
	fetcher *FetcherRegistry

	mu       sync.RWMutex
	byName   map[string]*Skill
	triggers []triggerBinding // declaration order, conversational skills only

	watcher       *fsnotify.Watcher
	watchCancel   context.CancelFunc
	watchWg       sync.WaitGroup
	watchDebounce time.Duration
}

// triggerBinding pairs one lowercased trigger phrase with the skill that
// declared it, preserving declaration order so ambiguous matches resolve to
// the first declared.
type triggerBinding struct {
	phrase string
	skill  string
}

// RegistryOption configures a Registry at construction.
type RegistryOption func(*Registry)

// WithWatchDebounce overrides how long StartWatching waits after the last
// write burst before reloading.
func WithWatchDebounce(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.watchDebounce = d
		}
	}
}

// NewRegistry builds a Registry rooted at dir. fetcher may be nil if no
// skill in dir uses data_fetcher.
func NewRegistry(dir string, fetcher *FetcherRegistry, logger *observability.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		dir:           dir,
		logger:        logger,
		fetcher:       fetcher,
		byName:        make(map[string]*Skill),
		watchDebounce: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reload re-scans dir for SKILL.md files and atomically swaps the index.
// A malformed skill document aborts the reload (the previous index is kept)
// so that one bad edit never blanks the registry mid-process.
func (r *Registry) Reload(ctx context.Context) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.swap(make(map[string]*Skill), nil)
			return nil
		}
		return fmt.Errorf("skills: read dir: %w", err)
	}

	byName := make(map[string]*Skill)
	var triggers []triggerBinding
	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			path := filepath.Join(r.dir, entry.Name(), SkillFilename)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			sk, err := ParseSkillFile(path)
			if err != nil {
				return fmt.Errorf("skills: parse %s: %w", path, err)
			}
			if _, dup := byName[sk.Name]; dup {
				return fmt.Errorf("skills: duplicate skill name %q", sk.Name)
			}
			byName[sk.Name] = sk
			if !sk.Conversational {
				continue
			}
			for _, t := range sk.Triggers {
				key := triggerKey(strings.TrimSpace(t))
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				triggers = append(triggers, triggerBinding{phrase: key, skill: sk.Name})
			}
			continue
		}
		if entry.Name() == SkillFilename {
			path := filepath.Join(r.dir, entry.Name())
			sk, err := ParseSkillFile(path)
			if err != nil {
				return fmt.Errorf("skills: parse %s: %w", path, err)
			}
			byName[sk.Name] = sk
		}
	}

	r.swap(byName, triggers)
	if r.logger != nil {
		r.logger.Info(ctx, "skills: reloaded", "count", len(byName))
	}
	return nil
}

func (r *Registry) swap(byName map[string]*Skill, triggers []triggerBinding) {
	r.mu.Lock()
	r.byName = byName
	r.triggers = triggers
	r.mu.Unlock()
}

// Get returns the skill named name.
func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sk, ok := r.byName[name]
	return sk, ok
}

// List returns every loaded skill, sorted by name.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.byName))
	for _, sk := range r.byName {
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve maps incoming text to a skill. A leading "/name" token always
// binds to that skill (command bypass) regardless of its Conversational
// flag or trigger phrases. Otherwise, a case-insensitive substring match
// against the trigger phrases of conversational skills wins; ambiguous
// matches resolve to the first declared.
func (r *Registry) Resolve(text string) (*Skill, bool) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/") {
		name := strings.TrimPrefix(trimmed, "/")
		if sp := strings.IndexAny(name, " \t\n"); sp >= 0 {
			name = name[:sp]
		}
		if sk, ok := r.Get(name); ok {
			return sk, true
		}
		return nil, false
	}

	lower := triggerKey(trimmed)
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, binding := range r.triggers {
		if !strings.Contains(lower, binding.phrase) {
			continue
		}
		if sk, ok := r.byName[binding.skill]; ok {
			return sk, true
		}
	}
	return nil, false
}

// FetchData runs sk's registered data fetcher (if any) via the registry's
// FetcherRegistry, degrading to the sentinel placeholder on any failure.
func (r *Registry) FetchData(ctx context.Context, sk *Skill) []byte {
	if r.fetcher == nil || sk.DataFetcherRef == "" {
		return []byte(sentinelData)
	}
	return r.fetcher.FetchData(ctx, sk.DataFetcherRef)
}

// Provider adapts sk into the Provider interface, binding it to this
// registry's FetcherRegistry so DataFetch resolves the same way FetchData
// does.
func (r *Registry) Provider(sk *Skill) Provider {
	return &skillProvider{Skill: sk, fetchers: r.fetcher}
}

// StartWatching begins a debounced fsnotify watch over dir, calling Reload
// on every create/write/remove/rename event.
func (r *Registry) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills: new watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("skills: watch %s: %w", r.dir, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.watcher = watcher
	r.watchCancel = cancel
	r.mu.Unlock()

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, watcher)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer r.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(r.watchDebounce, func() {
			if err := r.Reload(context.Background()); err != nil && r.logger != nil {
				r.logger.Warn(context.Background(), "skills: reload on watch event failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if r.logger != nil {
				r.logger.Warn(ctx, "skills: watch error", "error", err)
			}
		}
	}
}

// Close stops the file watcher, if running.
func (r *Registry) Close() error {
	r.mu.Lock()
	cancel := r.watchCancel
	watcher := r.watcher
	r.watchCancel = nil
	r.watcher = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}
