// Package dictionary serves published dictionary versions from blob storage
// with an in-process cache, and computes the change analysis between two
// versions.
package dictionary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"clinicalcore/internal/blob"
	"clinicalcore/internal/platform/logger"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// Provider fetches dictionaries and their diffs.
type Provider interface {
	// Fetch returns the dictionary version. Callers must not mutate it.
	Fetch(ctx context.Context, name, version string) (*dictionary.Dictionary, error)
	Diff(ctx context.Context, name, from, to string) (dictionary.ChangeAnalysis, error)
}

const keyPrefix = "dictionaries"

// BlobProvider stores each version as dictionaries/<name>/<version>.json.
type BlobProvider struct {
	store blob.Store
	dicts *lru.Cache[string, *dictionary.Dictionary]
	diffs *lru.Cache[string, dictionary.ChangeAnalysis]
	log   *logger.Logger
}

var _ Provider = (*BlobProvider)(nil)

// NewBlobProvider constructs a provider caching up to cacheSize dictionaries
// and as many diffs.
func NewBlobProvider(store blob.Store, cacheSize int, log *logger.Logger) (*BlobProvider, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store required")
	}
	if cacheSize <= 0 {
		cacheSize = 16
	}
	dicts, err := lru.New[string, *dictionary.Dictionary](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dictionary cache: %w", err)
	}
	diffs, err := lru.New[string, dictionary.ChangeAnalysis](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("diff cache: %w", err)
	}
	return &BlobProvider{
		store: store,
		dicts: dicts,
		diffs: diffs,
		log:   logger.OrNop(log).With("component", "DictionaryProvider"),
	}, nil
}

func objectKey(name, version string) string {
	return path.Join(keyPrefix, name, version+".json")
}

func cacheKey(name, version string) string {
	return name + "@" + version
}

// Publish writes a new dictionary version. Versions are immutable, so
// publishing an existing version is a state conflict.
func (p *BlobProvider) Publish(ctx context.Context, dict dictionary.Dictionary) error {
	if strings.TrimSpace(dict.Name) == "" || strings.TrimSpace(dict.Version) == "" {
		return domain.InvalidArgumentError{Reason: "dictionary name and version are required"}
	}
	if strings.ContainsAny(dict.Name+dict.Version, "/\\") {
		return domain.InvalidArgumentError{Reason: "dictionary name and version must not contain path separators"}
	}
	data, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("encode dictionary: %w", err)
	}
	_, err = p.store.Put(ctx, objectKey(dict.Name, dict.Version), bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"name": dict.Name, "version": dict.Version},
	})
	if errors.Is(err, blob.ErrExists) {
		return domain.StateConflictError{Reason: fmt.Sprintf("dictionary %s already published", cacheKey(dict.Name, dict.Version))}
	}
	if err != nil {
		return fmt.Errorf("publish dictionary: %w", err)
	}
	p.log.Info("dictionary published", "name", dict.Name, "version", dict.Version)
	return nil
}

// Fetch returns a cached or freshly loaded dictionary version.
func (p *BlobProvider) Fetch(ctx context.Context, name, version string) (*dictionary.Dictionary, error) {
	key := cacheKey(name, version)
	if d, ok := p.dicts.Get(key); ok {
		return d, nil
	}
	p.log.Debug("dictionary cache miss", "dictionary", key)
	_, rc, err := p.store.Get(ctx, objectKey(name, version))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, domain.ErrNotFound{Entity: domain.EntityDictionary, ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("fetch dictionary %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	var dict dictionary.Dictionary
	if err := json.NewDecoder(rc).Decode(&dict); err != nil {
		return nil, fmt.Errorf("decode dictionary %s: %w", key, err)
	}
	p.dicts.Add(key, &dict)
	return &dict, nil
}

// Versions lists the published versions of name in ascending version order.
func (p *BlobProvider) Versions(ctx context.Context, name string) ([]string, error) {
	prefix := path.Join(keyPrefix, name) + "/"
	infos, err := p.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list dictionary versions: %w", err)
	}
	versions := make([]string, 0, len(infos))
	for _, info := range infos {
		rest := strings.TrimPrefix(info.Key, prefix)
		if strings.Contains(rest, "/") || !strings.HasSuffix(rest, ".json") {
			continue
		}
		versions = append(versions, strings.TrimSuffix(rest, ".json"))
	}
	sort.Slice(versions, func(i, j int) bool { return CompareVersions(versions[i], versions[j]) < 0 })
	return versions, nil
}

// Latest returns the highest published version of name.
func (p *BlobProvider) Latest(ctx context.Context, name string) (*dictionary.Dictionary, error) {
	versions, err := p.Versions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, domain.ErrNotFound{Entity: domain.EntityDictionary, ID: name}
	}
	return p.Fetch(ctx, name, versions[len(versions)-1])
}

// Diff analyses the changes between two versions of name.
func (p *BlobProvider) Diff(ctx context.Context, name, from, to string) (dictionary.ChangeAnalysis, error) {
	key := name + ":" + from + "->" + to
	if a, ok := p.diffs.Get(key); ok {
		return a, nil
	}
	fromDict, err := p.Fetch(ctx, name, from)
	if err != nil {
		return dictionary.ChangeAnalysis{}, err
	}
	toDict, err := p.Fetch(ctx, name, to)
	if err != nil {
		return dictionary.ChangeAnalysis{}, err
	}
	analysis := dictionary.AnalyzeChanges(*fromDict, *toDict)
	p.diffs.Add(key, analysis)
	return analysis, nil
}
