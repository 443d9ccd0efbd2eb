package regions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
)

// Registry loads and caches boundary feature collections. The asset root
// is either a local directory or an HTTP(S) base URL.
type Registry struct {
	log    zerolog.Logger
	root   string
	client *http.Client

	mu    sync.Mutex
	cache map[string]*geojson.FeatureCollection
}

type RegistryOptions struct {
	AssetRoot  string
	HTTPClient *http.Client
}

func NewRegistry(log zerolog.Logger, opts RegistryOptions) *Registry {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Registry{
		log:    log,
		root:   strings.TrimRight(opts.AssetRoot, "/"),
		client: client,
		cache:  make(map[string]*geojson.FeatureCollection),
	}
}

// Load returns the boundary set for a region. A failed load of a
// region-specific file falls back to the world file so drill navigation
// never dead-ends on a missing asset; the failure is logged, not
// returned. Only a failure to load the world file itself surfaces.
func (r *Registry) Load(ctx context.Context, region string) (*geojson.FeatureCollection, error) {
	file := BoundaryFileFor(region)

	fc, err := r.loadFile(ctx, file)
	if err == nil {
		return fc, nil
	}
	if file == worldFile {
		return nil, err
	}

	r.log.Warn().Err(err).Str("region", region).Str("file", file).Msg("boundary load failed, falling back to world")
	return r.loadFile(ctx, worldFile)
}

func (r *Registry) loadFile(ctx context.Context, file string) (*geojson.FeatureCollection, error) {
	r.mu.Lock()
	if fc, ok := r.cache[file]; ok {
		r.mu.Unlock()
		return fc, nil
	}
	r.mu.Unlock()

	raw, err := r.fetch(ctx, file)
	if err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}

	r.mu.Lock()
	r.cache[file] = fc
	r.mu.Unlock()
	return fc, nil
}

func (r *Registry) fetch(ctx context.Context, file string) ([]byte, error) {
	if strings.HasPrefix(r.root, "http://") || strings.HasPrefix(r.root, "https://") {
		url := r.root + "/" + path.Clean(file)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}

	return os.ReadFile(filepath.Join(r.root, filepath.Clean(file)))
}
