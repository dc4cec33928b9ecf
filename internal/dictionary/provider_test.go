package dictionary

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicalcore/internal/blob"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

func sampleDictionary(version string, required bool) dictionary.Dictionary {
	return dictionary.Dictionary{
		Name:    "clinical",
		Version: version,
		Schemas: []dictionary.SchemaDefinition{{
			Name: "specimen",
			Fields: []dictionary.FieldDefinition{
				{Name: "submitter_specimen_id", ValueType: dictionary.ValueTypeString},
				{Name: "percent_necrosis", ValueType: dictionary.ValueTypeNumber, Restrictions: &dictionary.Restrictions{Required: required}},
			},
		}},
	}
}

// countingStore counts Get calls so cache hits are observable.
type countingStore struct {
	blob.Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	c.gets++
	return c.Store.Get(ctx, key)
}

func newProvider(t *testing.T) (*BlobProvider, *countingStore) {
	t.Helper()
	store := &countingStore{Store: blob.NewMemory()}
	p, err := NewBlobProvider(store, 4, nil)
	require.NoError(t, err)
	return p, store
}

func TestPublishFetchAndCache(t *testing.T) {
	ctx := context.Background()
	p, store := newProvider(t)
	require.NoError(t, p.Publish(ctx, sampleDictionary("1.0", false)))

	d, err := p.Fetch(ctx, "clinical", "1.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0", d.Version)
	_, err = p.Fetch(ctx, "clinical", "1.0")
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets, "second fetch must be served from cache")

	err = p.Publish(ctx, sampleDictionary("1.0", true))
	require.True(t, domain.IsStateConflict(err), "republishing must conflict: %v", err)
}

func TestFetchMissingVersion(t *testing.T) {
	p, _ := newProvider(t)
	_, err := p.Fetch(context.Background(), "clinical", "9.9")
	var nf domain.ErrNotFound
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, domain.EntityDictionary, nf.Entity)
	assert.Equal(t, "clinical@9.9", nf.ID)
}

func TestPublishRejectsBadIdentity(t *testing.T) {
	p, _ := newProvider(t)
	err := p.Publish(context.Background(), dictionary.Dictionary{Name: "clinical"})
	var invalid domain.InvalidArgumentError
	require.True(t, errors.As(err, &invalid))
	err = p.Publish(context.Background(), dictionary.Dictionary{Name: "a/b", Version: "1"})
	require.True(t, errors.As(err, &invalid))
}

func TestVersionsAndLatest(t *testing.T) {
	ctx := context.Background()
	p, _ := newProvider(t)
	for _, v := range []string{"1.9", "1.10", "1.2"} {
		require.NoError(t, p.Publish(ctx, sampleDictionary(v, false)))
	}
	versions, err := p.Versions(ctx, "clinical")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2", "1.9", "1.10"}, versions)

	latest, err := p.Latest(ctx, "clinical")
	require.NoError(t, err)
	assert.Equal(t, "1.10", latest.Version)

	_, err = p.Latest(ctx, "other")
	assert.True(t, domain.IsNotFound(err))
}

func TestDiffFindsBreakingEntities(t *testing.T) {
	ctx := context.Background()
	p, _ := newProvider(t)
	require.NoError(t, p.Publish(ctx, sampleDictionary("1.0", false)))
	require.NoError(t, p.Publish(ctx, sampleDictionary("2.0", true)))

	analysis, err := p.Diff(ctx, "clinical", "1.0", "2.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"specimen"}, dictionary.EntitiesWithBreakingChanges(analysis))

	same, err := p.Diff(ctx, "clinical", "1.0", "1.0")
	require.NoError(t, err)
	assert.Empty(t, dictionary.FindInvalidatingChanges(same))

	_, err = p.Diff(ctx, "clinical", "1.0", "3.0")
	assert.True(t, domain.IsNotFound(err))
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.2", "1.10", -1},
		{"2.0", "1.99", 1},
		{"1.0", "1.0.1", -1},
		{"1.0-beta", "1.0-alpha", 1},
	}
	for _, tc := range cases {
		if got := CompareVersions(tc.a, tc.b); got != tc.want {
			t.Fatalf("CompareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "dict.yaml")
	content := `name: clinical
version: "3.1"
schemas:
  - name: donor
    fields:
      - name: vital_status
        valueType: string
        restrictions:
          required: true
          codeList: [Alive, Deceased]
`
	require.NoError(t, os.WriteFile(yamlPath, []byte(content), 0o600))
	d, err := LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "3.1", d.Version)
	schema, ok := d.Schema("donor")
	require.True(t, ok)
	field, ok := schema.Field("vital_status")
	require.True(t, ok)
	assert.Equal(t, dictionary.CodeList{"Alive", "Deceased"}, field.Restrictions.CodeList)

	jsonPath := filepath.Join(dir, "dict.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name":"clinical"}`), 0o600))
	_, err = LoadFile(jsonPath)
	require.Error(t, err, "missing version must be rejected")

	_, err = LoadFile(filepath.Join(dir, "dict.txt"))
	require.Error(t, err)
}
