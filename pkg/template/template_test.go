package template

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func doc(id, model, ext, body string) Document {
	return Document{FieldID: id, FieldModel: model, FieldExtension: ext, FieldBody: body}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"", "xml"},
		{"y000000000028.cfg", "cfg"},
		{"PHONE.CFG", "cfg"},
		{"phone.xml", "xml"},
		{"cfg", "xml"},
		{"phone.cfg.bak", "xml"},
		{"phone.txt", "xml"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtensionFor(tt.filename), tt.filename)
	}
}

func TestDocument_Body(t *testing.T) {
	body, err := Document{FieldBody: "<a/>"}.Body()
	require.NoError(t, err)
	assert.Equal(t, "<a/>", body)

	body, err = Document{FieldContent: "legacy"}.Body()
	require.NoError(t, err)
	assert.Equal(t, "legacy", body)

	_, err = Document{FieldBody: 42}.Body()
	assert.ErrorIs(t, err, ErrInvalidStructure)

	_, err = Document{FieldModel: "x"}.Body()
	assert.ErrorIs(t, err, ErrInvalidStructure)
}

func TestDocument_Extension(t *testing.T) {
	d := Document{FieldFileType: "cfg"}
	assert.Equal(t, "cfg", d.Extension())
	assert.True(t, d.HasExtension("cfg"))
	assert.False(t, d.HasExtension("xml"))
}

func TestResolver_Strategies(t *testing.T) {
	store := NewMemoryStore(
		doc("Yealink-T46", "T46", "txt", "by-ref"),
		doc("grandstream", "other", "cfg", "by-lower-ref"),
		doc("m-xml", "ModelX", "xml", "by-model-xml"),
		doc("m-cfg", "ModelX", "cfg", "by-model-cfg"),
		doc("keyonly", "unrelated", "txt", "by-model-key"),
		doc("a-any", "whatever", "xml", "by-extension"),
	)
	r := NewResolver(store, ResolverOptions{AllowExtensionFallback: true}, zap.NewNop())

	tests := []struct {
		name     string
		req      Request
		body     string
		strategy Strategy
	}{
		{"explicit ref", Request{Model: "ModelX", Extension: "xml", TemplateRef: "Yealink-T46"}, "by-ref", StrategyRef},
		{"ref lowercased", Request{Model: "ModelX", Extension: "xml", TemplateRef: "GrandStream"}, "by-lower-ref", StrategyRefLower},
		{"model and xml", Request{Model: " MODELX ", Extension: "xml"}, "by-model-xml", StrategyModelExtension},
		{"model and cfg", Request{Model: "modelx", Extension: "cfg"}, "by-model-cfg", StrategyModelExtension},
		{"model as key", Request{Model: "KeyOnly", Extension: "cfg"}, "by-model-key", StrategyModelKey},
		{"extension only", Request{Model: "nothing", Extension: "xml"}, "by-extension", StrategyExtensionOnly},
		{"unknown ref falls through", Request{Model: "ModelX", Extension: "xml", TemplateRef: "missing"}, "by-model-xml", StrategyModelExtension},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.body, got.Body)
			assert.Equal(t, tt.strategy, got.Strategy)
			assert.Equal(t, got.Document.ID(), got.Key)
		})
	}
}

func TestResolver_ExtensionFallbackDisabled(t *testing.T) {
	store := NewMemoryStore(doc("any", "other", "xml", "x"))
	r := NewResolver(store, ResolverOptions{}, zap.NewNop())

	_, err := r.Resolve(context.Background(), Request{Model: "ModelX", Extension: "xml"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_NoMatch(t *testing.T) {
	store := NewMemoryStore(doc("a", "ModelX", "cfg", "x"))
	r := NewResolver(store, ResolverOptions{AllowExtensionFallback: true}, zap.NewNop())

	_, err := r.Resolve(context.Background(), Request{Model: "ModelY", Extension: "xml"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_InvalidStructureIsFinal(t *testing.T) {
	store := NewMemoryStore(
		Document{FieldID: "broken", FieldModel: "ModelX", FieldExtension: "xml"},
		doc("modelx", "ModelX", "xml", "would-match-later"),
	)
	r := NewResolver(store, ResolverOptions{AllowExtensionFallback: true}, zap.NewNop())

	_, err := r.Resolve(context.Background(), Request{Model: "ModelX", Extension: "xml", TemplateRef: "broken"})
	assert.ErrorIs(t, err, ErrInvalidStructure)
}

func TestResolver_LegacyContentField(t *testing.T) {
	store := NewMemoryStore(Document{FieldID: "old", FieldModel: "M", FieldFileType: "cfg", FieldContent: "legacy"})
	r := NewResolver(store, ResolverOptions{}, zap.NewNop())

	got, err := r.Resolve(context.Background(), Request{Model: "m", Extension: "cfg"})
	require.NoError(t, err)
	assert.Equal(t, "legacy", got.Body)
}

// A reference that names an existing document always wins over every
// other strategy.
func TestResolver_ExplicitRefPreferred(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		model := rapid.StringMatching(`[A-Za-z0-9]{1,12}`).Draw(t, "model")
		ext := rapid.SampledFrom([]string{"xml", "cfg"}).Draw(t, "ext")
		ref := rapid.StringMatching(`ref-[a-z0-9]{1,8}`).Draw(t, "ref")

		store := NewMemoryStore(
			doc(ref, "unrelated", "txt", "from-ref"),
			doc("by-model", model, ext, "from-model"),
			doc(model, model, ext, "from-key"),
		)
		r := NewResolver(store, ResolverOptions{AllowExtensionFallback: true}, zap.NewNop())

		got, err := r.Resolve(context.Background(), Request{Model: model, Extension: ext, TemplateRef: ref})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got.Body != "from-ref" {
			t.Fatalf("got %q from %s", got.Body, got.Strategy)
		}
	})
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, key string) (Document, error) {
	args := m.Called(key)
	d, _ := args.Get(0).(Document)
	return d, args.Error(1)
}

func (m *mockStore) FindByModel(ctx context.Context, model, ext string) (Document, error) {
	args := m.Called(model, ext)
	d, _ := args.Get(0).(Document)
	return d, args.Error(1)
}

func (m *mockStore) FindAnyByExtension(ctx context.Context, ext string) (Document, error) {
	args := m.Called(ext)
	d, _ := args.Get(0).(Document)
	return d, args.Error(1)
}

func (m *mockStore) Put(ctx context.Context, d Document) error {
	return m.Called(d).Error(0)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called().Error(0)
}

func TestResolver_StorageErrorCountsAsMiss(t *testing.T) {
	s := new(mockStore)
	s.On("Get", "ref").Return(nil, errors.New("socket closed"))
	s.On("FindByModel", "modelx", "xml").Return(doc("k", "ModelX", "xml", "ok"), nil)

	r := NewResolver(s, ResolverOptions{}, zap.NewNop())
	got, err := r.Resolve(context.Background(), Request{Model: "ModelX", Extension: "xml", TemplateRef: "ref"})
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Body)
	s.AssertExpectations(t)
}

func TestResolver_AllStepsErrored(t *testing.T) {
	boom := errors.New("server selection timeout")
	s := new(mockStore)
	s.On("FindByModel", "modelx", "xml").Return(nil, boom)
	s.On("Get", "modelx").Return(nil, boom)

	r := NewResolver(s, ResolverOptions{Timeout: time.Second}, zap.NewNop())
	_, err := r.Resolve(context.Background(), Request{Model: "ModelX", Extension: "xml"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "server selection timeout")
}

func TestCachedStore(t *testing.T) {
	s := new(mockStore)
	s.On("Get", "k").Return(doc("k", "M", "xml", "v1"), nil).Once()
	s.On("Get", "missing").Return(nil, ErrNotFound).Twice()

	c, err := NewCachedStore(s, CacheConfig{TTL: time.Minute, MaxItems: 10})
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 3; i++ {
		d, err := c.Get(context.Background(), "k")
		require.NoError(t, err)
		body, _ := d.Body()
		assert.Equal(t, "v1", body)
	}

	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	s.AssertExpectations(t)
}

type countingStore struct {
	*MemoryStore
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, key string) (Document, error) {
	s.gets.Add(1)
	return s.MemoryStore.Get(ctx, key)
}

func TestCachedStore_HoldsConfiguredItemCount(t *testing.T) {
	backend := &countingStore{MemoryStore: NewMemoryStore()}
	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("model-%02d", i)
		require.NoError(t, backend.Put(context.Background(), doc(keys[i], keys[i], "xml", "body")))
	}

	c, err := NewCachedStore(backend, CacheConfig{TTL: time.Minute, MaxItems: 50})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	for round := 0; round < 2; round++ {
		for _, key := range keys {
			_, err := c.Get(ctx, key)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, int32(len(keys)), backend.gets.Load())
}

func TestCachedStore_PutInvalidates(t *testing.T) {
	mem := NewMemoryStore(doc("k", "M", "xml", "v1"))
	c, err := NewCachedStore(mem, CacheConfig{TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Get(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, doc("k", "M", "xml", "v2")))
	d, err := c.Get(ctx, "k")
	require.NoError(t, err)
	body, _ := d.Body()
	assert.Equal(t, "v2", body)
}

func TestMemoryStore_PutRequiresKey(t *testing.T) {
	assert.ErrorIs(t, NewMemoryStore().Put(context.Background(), Document{FieldModel: "x"}), ErrInvalidKey)
}

func TestImporter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`[
		{"_id": "yealink-t46", "model": "T46", "extension": "cfg", "template": "#!version:1.0.0.1"},
		{"model": "SPA112", "file_type": "xml", "content": "<flat-profile/>"}
	]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("model: ModelX\nextension: xml\ntemplate: \"<id>{{ identifier }}</id>\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	store := NewMemoryStore()
	n, err := NewImporter(store, zap.NewNop()).Import(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ctx := context.Background()
	for _, key := range []string{"yealink-t46", "spa112", "modelx"} {
		_, err := store.Get(ctx, key)
		assert.NoError(t, err, key)
	}
}

func TestReadFile_Rejects(t *testing.T) {
	dir := t.TempDir()

	noKey := filepath.Join(dir, "nokey.json")
	require.NoError(t, os.WriteFile(noKey, []byte(`{"template": "x"}`), 0o644))
	_, err := ReadFile(noKey)
	assert.Error(t, err)

	noBody := filepath.Join(dir, "nobody.yml")
	require.NoError(t, os.WriteFile(noBody, []byte("model: a\n"), 0o644))
	_, err = ReadFile(noBody)
	assert.ErrorIs(t, err, ErrInvalidStructure)

	_, err = ReadFile(filepath.Join(dir, "x.toml"))
	assert.Error(t, err)
}
