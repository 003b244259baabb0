// Package skills implements the Skill Registry (C7): declarative capability
// documents indexed by name and trigger phrase, with an optional pre-fetch
// step before the context envelope is assembled.
package skills

import (
	"context"
	"encoding/json"
)

// Skill is a declarative capability loaded from a SKILL.md document. It is
// read-only during a process run and reloaded wholesale on /reload-schedule
// or a file-watch event.
type Skill struct {
	// Name is the unique skill identifier (lowercase, hyphens allowed).
	Name string `yaml:"name"`

	// Triggers are phrases whose presence (case-insensitive substring) in an
	// incoming message resolves it to this skill.
	Triggers []string `yaml:"triggers"`

	// DataFetcherRef names a registered DataFetcher to run before the
	// skill's instructions are assembled into the envelope. Empty means the
	// skill carries no pre-fetched data.
	DataFetcherRef string `yaml:"data_fetcher,omitempty"`

	// Scheduled marks a skill eligible to be the target of a ScheduledJob.
	Scheduled bool `yaml:"scheduled,omitempty"`

	// Conversational marks a skill eligible for trigger-phrase resolution
	// during normal chat (as opposed to only being reachable by /skillname
	// or from the schedule document).
	Conversational bool `yaml:"conversational,omitempty"`

	// DefaultChannel is used for scheduled firings that don't carry an
	// explicit target_channel override.
	DefaultChannel string `yaml:"channel,omitempty"`

	// Instructions is the markdown body: opaque free-form text handed to the
	// agent invoker verbatim, never parsed by this package.
	Instructions string `yaml:"-"`

	// Path is the file the skill was loaded from.
	Path string `yaml:"-"`
}

// Provider is the minimal read surface a skill must expose to participate in
// trigger resolution and envelope assembly. skillProvider satisfies it for
// every YAML-document-backed Skill; a future programmatic skill (one built
// without a SKILL.md file at all) need only satisfy this interface to bind
// into the same Registry/Dispatcher code paths.
type Provider interface {
	Name() string
	Triggers() []string
	Instructions() string
	DataFetch(ctx context.Context) (json.RawMessage, error)
}

// skillProvider adapts a *Skill plus the FetcherRegistry that resolves its
// DataFetcherRef into a Provider. It exists only because Skill's own Name
// field already occupies the identifier Provider.Name needs as a method.
type skillProvider struct {
	*Skill
	fetchers *FetcherRegistry
}

var _ Provider = (*skillProvider)(nil)

func (p *skillProvider) Name() string         { return p.Skill.Name }
func (p *skillProvider) Triggers() []string   { return p.Skill.Triggers }
func (p *skillProvider) Instructions() string { return p.Skill.Instructions }

// DataFetch runs the skill's registered fetcher (if any) through fetchers,
// degrading to the sentinel placeholder exactly as FetcherRegistry.FetchData
// does. It never returns a non-nil error; the signature accommodates a
// future Provider whose fetch genuinely can fail.
func (p *skillProvider) DataFetch(ctx context.Context) (json.RawMessage, error) {
	if p.fetchers == nil {
		return json.RawMessage(sentinelData), nil
	}
	return p.fetchers.FetchData(ctx, p.Skill.DataFetcherRef), nil
}

// triggerKey lowercases a trigger phrase for case-insensitive matching.
func triggerKey(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}
