package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// sentinelData is what FetchData returns when a fetcher is missing, times
// out, or errors — the skill still runs, carrying this placeholder instead
// of failing the request outright.
const sentinelData = `{"unavailable":true}`

// DataFetcher fetches a skill's pre-fetched data blob. Implementations
// should respect ctx's deadline; FetchData enforces its own bound regardless.
type DataFetcher interface {
	Fetch(ctx context.Context) (json.RawMessage, error)
}

// DataFetcherFunc adapts a function to a DataFetcher.
type DataFetcherFunc func(ctx context.Context) (json.RawMessage, error)

// Fetch invokes the function.
func (f DataFetcherFunc) Fetch(ctx context.Context) (json.RawMessage, error) { return f(ctx) }

// FetcherRegistry maps a data_fetcher_ref to its DataFetcher, with an
// optional JSON Schema to validate the returned blob's shape.
type FetcherRegistry struct {
	mu       sync.RWMutex
	fetchers map[string]registeredFetcher
	timeout  time.Duration
}

type registeredFetcher struct {
	fetcher DataFetcher
	schema  *jsonschema.Schema
}

// NewFetcherRegistry builds a registry whose fetchers are each bounded by
// timeout (defaulting to 10s if zero or negative).
func NewFetcherRegistry(timeout time.Duration) *FetcherRegistry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FetcherRegistry{fetchers: make(map[string]registeredFetcher), timeout: timeout}
}

// Register binds ref to fetcher. schemaJSON is optional; when non-empty it
// is compiled once and used to validate every blob the fetcher returns.
func (r *FetcherRegistry) Register(ref string, fetcher DataFetcher, schemaJSON string) error {
	var schema *jsonschema.Schema
	if schemaJSON != "" {
		compiled, err := jsonschema.CompileString(ref+".schema.json", schemaJSON)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", ref, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[ref] = registeredFetcher{fetcher: fetcher, schema: schema}
	return nil
}

// FetchData runs the fetcher registered for ref, bounded by the registry's
// timeout. It never returns an error: a missing ref, a fetcher error, a
// timeout, or a schema-invalid blob all degrade to sentinelData.
func (r *FetcherRegistry) FetchData(ctx context.Context, ref string) json.RawMessage {
	if ref == "" {
		return json.RawMessage(sentinelData)
	}

	r.mu.RLock()
	rf, ok := r.fetchers[ref]
	r.mu.RUnlock()
	if !ok {
		return json.RawMessage(sentinelData)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	blob, err := rf.fetcher.Fetch(fetchCtx)
	if err != nil || len(blob) == 0 {
		return json.RawMessage(sentinelData)
	}

	if rf.schema != nil {
		var decoded any
		if err := json.Unmarshal(blob, &decoded); err != nil {
			return json.RawMessage(sentinelData)
		}
		if err := rf.schema.Validate(decoded); err != nil {
			return json.RawMessage(sentinelData)
		}
	}

	return blob
}
