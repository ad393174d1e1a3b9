package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBuilder(calls *int) AdapterBuilder {
	return func(code string, cfg AdapterBuilderConfig) (Provider, error) {
		if calls != nil {
			*calls++
		}
		return &fakeProvider{BaseAdapter: BaseAdapter{ProviderName: code, BaseURL: cfg.BaseURL}}, nil
	}
}

func testSelection(providerID, subID string) *Selection {
	sel := &Selection{Provider: &Provider{ID: providerID, Code: "openai", BaseURL: "https://api.openai.com"}}
	if subID != "" {
		sel.SubProvider = &SubProvider{ID: subID, ProviderID: providerID}
	}
	return sel
}

func TestAdapterFactory_GetOrCreate_CachesBySubProvider(t *testing.T) {
	var calls int
	f, err := NewAdapterFactory("test-master-secret", fakeBuilder(&calls), nil)
	require.NoError(t, err)
	defer f.Close()

	sel := testSelection("prov-1", "sub-1")

	a1, err := f.GetOrCreate(context.Background(), sel)
	require.NoError(t, err)
	a2, err := f.GetOrCreate(context.Background(), sel)
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, f.Len())
}

func TestAdapterFactory_GetOrCreate_FallsBackToProviderKeyWithoutSubProvider(t *testing.T) {
	f, err := NewAdapterFactory("test-master-secret", fakeBuilder(nil), nil)
	require.NoError(t, err)
	defer f.Close()

	sel := testSelection("prov-1", "")
	_, err = f.GetOrCreate(context.Background(), sel)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())
}

func TestAdapterFactory_GetOrCreate_NilSelectionErrors(t *testing.T) {
	f, err := NewAdapterFactory("test-master-secret", fakeBuilder(nil), nil)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.GetOrCreate(context.Background(), nil)
	assert.Error(t, err)
}

func TestAdapterFactory_TrackAndReleaseRequest(t *testing.T) {
	f, err := NewAdapterFactory("test-master-secret", fakeBuilder(nil), nil)
	require.NoError(t, err)
	defer f.Close()

	sel := testSelection("prov-1", "sub-1")
	_, err = f.GetOrCreate(context.Background(), sel)
	require.NoError(t, err)

	f.TrackRequest("sub-1")
	f.TrackRequest("sub-1")
	f.mu.RLock()
	inst := f.instances["sub-1"]
	f.mu.RUnlock()
	require.NotNil(t, inst)
	assert.EqualValues(t, 2, inst.active.Load())

	f.ReleaseRequest("sub-1")
	assert.EqualValues(t, 1, inst.active.Load())

	// Releasing more than tracked never goes negative.
	f.ReleaseRequest("sub-1")
	f.ReleaseRequest("sub-1")
	assert.EqualValues(t, 0, inst.active.Load())
}

func TestAdapterFactory_ReleaseRequest_UnknownKeyIsNoop(t *testing.T) {
	f, err := NewAdapterFactory("test-master-secret", fakeBuilder(nil), nil)
	require.NoError(t, err)
	defer f.Close()

	f.TrackRequest("does-not-exist")
	f.ReleaseRequest("does-not-exist")
}

func TestAdapterFactory_Sweep_EvictsIdleWithNoActiveRequests(t *testing.T) {
	f, err := NewAdapterFactory("test-master-secret", fakeBuilder(nil), nil)
	require.NoError(t, err)
	defer f.Close()

	sel := testSelection("prov-1", "sub-1")
	_, err = f.GetOrCreate(context.Background(), sel)
	require.NoError(t, err)

	f.mu.RLock()
	inst := f.instances["sub-1"]
	f.mu.RUnlock()
	inst.lastUsedAt.Store(time.Now().Add(-2 * adapterIdleTimeout).UnixNano())

	f.sweep()
	assert.Equal(t, 0, f.Len())
}

func TestAdapterFactory_Sweep_NeverEvictsActiveEntry(t *testing.T) {
	f, err := NewAdapterFactory("test-master-secret", fakeBuilder(nil), nil)
	require.NoError(t, err)
	defer f.Close()

	sel := testSelection("prov-1", "sub-1")
	_, err = f.GetOrCreate(context.Background(), sel)
	require.NoError(t, err)

	f.TrackRequest("sub-1")
	f.mu.RLock()
	inst := f.instances["sub-1"]
	f.mu.RUnlock()
	inst.lastUsedAt.Store(time.Now().Add(-2 * adapterIdleTimeout).UnixNano())

	f.sweep()
	assert.Equal(t, 1, f.Len())
}

func TestAdapterFactory_EncryptDecrypt_RoundTrips(t *testing.T) {
	f, err := NewAdapterFactory("test-master-secret", fakeBuilder(nil), nil)
	require.NoError(t, err)
	defer f.Close()

	ciphertext, iv, err := f.EncryptAPIKey("sk-super-secret-key")
	require.NoError(t, err)
	require.NotEmpty(t, ciphertext)
	require.NotEmpty(t, iv)

	plaintext, err := f.decrypt(ciphertext, iv)
	require.NoError(t, err)
	assert.Equal(t, "sk-super-secret-key", plaintext)
}

func TestAdapterFactory_Decrypt_EmptyCiphertextIsEmptyString(t *testing.T) {
	f, err := NewAdapterFactory("test-master-secret", fakeBuilder(nil), nil)
	require.NoError(t, err)
	defer f.Close()

	plaintext, err := f.decrypt("", "")
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestAdapterFactory_New_RejectsEmptyMasterSecret(t *testing.T) {
	_, err := NewAdapterFactory("", fakeBuilder(nil), nil)
	assert.Error(t, err)
}

func TestAdapterFactory_ConcurrentGetOrCreate_BuildsOnce(t *testing.T) {
	var calls int
	var mu sync.Mutex
	build := func(code string, cfg AdapterBuilderConfig) (Provider, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &fakeProvider{BaseAdapter: BaseAdapter{ProviderName: code}}, nil
	}
	f, err := NewAdapterFactory("test-master-secret", build, nil)
	require.NoError(t, err)
	defer f.Close()

	sel := testSelection("prov-1", "sub-1")

	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func() {
			_, _ = f.GetOrCreate(context.Background(), sel)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 16; i++ {
		<-done
	}

	assert.Equal(t, 1, calls)
}
