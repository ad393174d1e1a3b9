package llm

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftforge/llmgateway/internal/ctxkeys"
	"github.com/driftforge/llmgateway/types"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

// adapterIdleTimeout and adapterSweepPeriod implement §4.5's "evict after 10 min idle
// with zero active requests, swept every 5 min".
const (
	adapterIdleTimeout = 10 * time.Minute
	adapterSweepPeriod = 5 * time.Minute
)

// AdapterBuilderConfig is the vendor-neutral configuration AdapterFactory
// hands to an AdapterBuilder. It deliberately mirrors factory.ProviderConfig's
// shape without importing the factory package — llm/factory already imports
// llm to reach the Provider interface, and llm importing it back would cycle.
type AdapterBuilderConfig struct {
	APIKey  string
	APIKeys []string
	BaseURL string
	Model   string
	Timeout time.Duration
	Extra   map[string]any
}

// AdapterBuilder constructs a realized Provider for a vendor code (the
// Provider.Code field, e.g. "openai", "bedrock") given a decrypted
// credential and the rest of the sub-provider's connection settings. The
// gateway's wiring layer supplies this as a thin adapter over
// factory.NewProviderFromConfig.
type AdapterBuilder func(code string, cfg AdapterBuilderConfig) (Provider, error)

// adapterInstance is a realized, cached client for one (SubProvider,
// Provider) pair (§3 "Adapter instance").
type adapterInstance struct {
	adapter      Provider
	createdAt    time.Time
	lastUsedAt   atomic.Int64 // unix nanos, updated without holding the factory lock
	requestCount atomic.Int64
	active       atomic.Int32
}

func (a *adapterInstance) touch() {
	a.lastUsedAt.Store(time.Now().UnixNano())
	a.requestCount.Add(1)
}

// AdapterFactory implements §4.5: a keyed cache of realized adapter
// instances, active-request tracking so the idle sweeper never evicts a
// busy entry, and the sole place a sub-provider's API key is ever
// decrypted to plaintext.
type AdapterFactory struct {
	mu        sync.RWMutex
	instances map[string]*adapterInstance // keyed by sub-provider id (or provider id, see noSubProviderKey)
	masterKey []byte                      // 32-byte AES-256 key, derived once at construction
	build     AdapterBuilder
	logger    *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewAdapterFactory derives a 32-byte AES key from masterKeySecret via HKDF
// (SHA-256, no salt — the secret itself supplies the entropy; a fixed info
// string domain-separates this derivation from any other use of the same
// secret elsewhere in the gateway) and starts the background idle sweeper.
// masterKeySecret is the raw MASTER_ENCRYPTION_KEY environment value; it may
// be any length, matching the spec's "masterKey is stored alongside the
// ciphertext as a per-key random" wording — only the derived key is ever
// used for AES, the secret itself is not.
func NewAdapterFactory(masterKeySecret string, build AdapterBuilder, logger *zap.Logger) (*AdapterFactory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if masterKeySecret == "" {
		return nil, fmt.Errorf("adapterfactory: MASTER_ENCRYPTION_KEY must not be empty")
	}
	key := make([]byte, 32)
	kdf := hkdf.New(newSHA256, []byte(masterKeySecret), nil, []byte("llmgateway-subprovider-key-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("adapterfactory: deriving AES key: %w", err)
	}

	f := &AdapterFactory{
		instances: make(map[string]*adapterInstance),
		masterKey: key,
		build:     build,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	go f.sweepLoop()
	return f, nil
}

// Close stops the background sweeper. Safe to call multiple times.
func (f *AdapterFactory) Close() {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

// GetOrCreate returns the cached adapter for sel's sub-provider (or
// provider, when the selection has none — see cacheKey), constructing and
// caching one on first use. The sub-provider's API key is decrypted here
// and nowhere else; adapterInstance never logs it.
func (f *AdapterFactory) GetOrCreate(ctx context.Context, sel *Selection) (Provider, error) {
	if sel == nil || sel.Provider == nil {
		return nil, fmt.Errorf("adapterfactory: nil selection")
	}
	key := cacheKey(sel)

	f.mu.RLock()
	inst, ok := f.instances[key]
	f.mu.RUnlock()
	if ok {
		inst.touch()
		return inst.adapter, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instances[key]; ok {
		inst.touch()
		return inst.adapter, nil
	}

	adapter, err := f.build(sel.Provider.Code, f.buildConfig(sel))
	if err != nil {
		return nil, types.NewGatewayError(types.ErrProviderInitFailed, 500, fmt.Sprintf("initializing adapter for provider %q: %v", sel.Provider.Code, err), false)
	}

	inst = &adapterInstance{adapter: adapter, createdAt: time.Now()}
	inst.touch()
	f.instances[key] = inst
	f.logger.Info("adapter instance created",
		zap.String("provider", sel.Provider.Code),
		zap.String("cache_key", key),
		zap.String("trace_id", ctxkeys.TraceID(ctx)))
	return adapter, nil
}

// buildConfig decrypts the sub-provider's key (when present) and assembles
// the builder config. Providers with NeedsSubProviders=false carry no
// per-key credential in this data model (§3 only gives SubProvider an
// encrypted key); those adapters are expected to source their own
// credential out-of-band (e.g. ambient environment configuration), so
// AdapterBuilderConfig.APIKey is left empty in that branch.
func (f *AdapterFactory) buildConfig(sel *Selection) AdapterBuilderConfig {
	cfg := AdapterBuilderConfig{
		BaseURL: sel.Provider.BaseURL,
	}
	if sel.SubProvider == nil {
		return cfg
	}
	if plaintext, err := f.decrypt(sel.SubProvider.EncryptedAPIKey, sel.SubProvider.EncryptionIV); err == nil {
		cfg.APIKey = plaintext
	} else {
		f.logger.Error("failed to decrypt sub-provider key",
			zap.String("sub_provider_id", sel.SubProvider.ID),
			zap.Error(err))
	}
	return cfg
}

// decrypt reverses AES-256-CBC(masterKey) over a base64 ciphertext/IV pair
// (§4.5). PKCS#7 padding is stripped on success.
func (f *AdapterFactory) decrypt(ciphertextB64, ivB64 string) (string, error) {
	if ciphertextB64 == "" {
		return "", nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", fmt.Errorf("decoding iv: %w", err)
	}
	block, err := aes.NewCipher(f.masterKey)
	if err != nil {
		return "", fmt.Errorf("constructing cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return "", fmt.Errorf("iv length %d != block size %d", len(iv), block.BlockSize())
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return "", fmt.Errorf("ciphertext length %d is not a multiple of block size", len(ciphertext))
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return string(unpadPKCS7(plaintext)), nil
}

// EncryptAPIKey is the admin-surface counterpart to decrypt: it is exported
// so the out-of-scope admin CRUD collaborator (§1) can write a new
// SubProvider's EncryptedAPIKey/EncryptionIV using the same key-derivation
// this factory decrypts with.
func (f *AdapterFactory) EncryptAPIKey(plaintext string) (ciphertextB64, ivB64 string, err error) {
	block, err := aes.NewCipher(f.masterKey)
	if err != nil {
		return "", "", fmt.Errorf("constructing cipher: %w", err)
	}
	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return "", "", fmt.Errorf("generating iv: %w", err)
	}
	padded := padPKCS7([]byte(plaintext), block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), base64.StdEncoding.EncodeToString(iv), nil
}

// TrackRequest/ReleaseRequest implement AdapterResolver's active-request
// bracketing (§3 "Ownership", §4.5, §5): the sweeper must not evict an
// entry whose activeRequests > 0.
func (f *AdapterFactory) TrackRequest(subProviderID string) {
	f.mu.RLock()
	inst, ok := f.instances[subProviderID]
	f.mu.RUnlock()
	if ok {
		inst.active.Add(1)
	}
}

func (f *AdapterFactory) ReleaseRequest(subProviderID string) {
	f.mu.RLock()
	inst, ok := f.instances[subProviderID]
	f.mu.RUnlock()
	if !ok {
		return
	}
	for {
		cur := inst.active.Load()
		if cur <= 0 {
			return
		}
		if inst.active.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Len reports the number of cached adapter instances (diagnostics/tests).
func (f *AdapterFactory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.instances)
}

func (f *AdapterFactory) sweepLoop() {
	ticker := time.NewTicker(adapterSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.sweep()
		}
	}
}

func (f *AdapterFactory) sweep() {
	now := time.Now()
	var evicted []string

	f.mu.Lock()
	for key, inst := range f.instances {
		if inst.active.Load() > 0 {
			continue
		}
		lastUsed := time.Unix(0, inst.lastUsedAt.Load())
		if now.Sub(lastUsed) > adapterIdleTimeout {
			delete(f.instances, key)
			evicted = append(evicted, key)
		}
	}
	f.mu.Unlock()

	for _, key := range evicted {
		f.logger.Info("adapter instance evicted (idle)", zap.String("cache_key", key))
	}
}

// cacheKey returns the sub-provider id when the selection fanned out over
// API-key slots, or a provider-scoped key otherwise — the factory always
// caches at the finest granularity the selection actually offers.
func cacheKey(sel *Selection) string {
	if sel.SubProvider != nil {
		return sel.SubProvider.ID
	}
	return "provider:" + sel.Provider.ID
}
