// Package engine composes the cache subsystems behind one facade: the
// backing store, the metadata index, the security layer, the membership
// filter, the access predictor, the telemetry ledger and the network
// monitor. Hosts construct one Engine at startup and hand it to every
// consumer; all background work (expiry sweeps, snapshot flushes,
// optimization passes, prefetching) is owned here.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pocketcache/internal/cache"
	"pocketcache/internal/filter"
	"pocketcache/internal/index"
	"pocketcache/internal/logging"
	"pocketcache/internal/network"
	"pocketcache/internal/predictor"
	"pocketcache/internal/security"
	"pocketcache/internal/store"
	"pocketcache/internal/telemetry"
	"pocketcache/pkg/config"
)

// Reserved store keys. User payloads live under the d/ prefix so engine
// metadata and cache data stay scan-separable via Keys(prefix).
const (
	dataPrefix = "d/"
	indexKey   = "m/index"
	ringKey    = "m/keys"
)

const (
	// recentKeysWindow is how many recently accessed keys feed the
	// prefetch candidate selection.
	recentKeysWindow = 10

	// filterMinCapacity keeps small caches from rebuilding the
	// membership filter on every handful of inserts.
	filterMinCapacity = 1024

	maxKeyLength = 1024
)

// Config carries the engine tunables. cmd/pocketcache assembles one
// from the YAML configuration via FromConfig; library callers can fill
// it directly and rely on withDefaults for the rest.
type Config struct {
	ClientID string

	Policy        cache.Policy
	DefaultTTL    time.Duration
	SweepInterval time.Duration

	// OptimizeInterval schedules background optimization passes.
	// Zero disables the scheduler; Optimize can still be called manually.
	OptimizeInterval time.Duration

	EnableEncryption     bool
	EncryptSensitiveOnly bool
	EnableIntegrity      bool
	SensitiveTerms       []string
	MasterSecret         string
	EagerReseal          bool

	PrefetchEnabled bool
	PrefetchBatch   int
	PrefetchQueue   int
	PrefetchDelay   time.Duration

	LedgerSize int

	FlushEvery    int
	FlushInterval time.Duration

	NetworkIgnoreWithin time.Duration
	NetworkSettleAfter  time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "pocketcache-client"
	}
	if c.Policy.Strategy == "" {
		c.Policy = cache.DefaultPolicy()
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.PrefetchBatch <= 0 {
		c.PrefetchBatch = 5
	}
	if c.PrefetchQueue <= 0 {
		c.PrefetchQueue = 64
	}
	if c.PrefetchDelay <= 0 {
		c.PrefetchDelay = 500 * time.Millisecond
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 32
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	return c
}

// FromConfig maps the YAML configuration onto engine tunables.
func FromConfig(c *config.Config) (Config, error) {
	strategy, err := cache.ParseStrategy(c.Cache.Strategy)
	if err != nil {
		return Config{}, err
	}

	var optimizeInterval time.Duration
	if c.Optimizer.Enabled {
		optimizeInterval = c.Optimizer.Interval
	}

	return Config{
		ClientID: c.Client.ID,
		Policy: cache.Policy{
			Strategy:           strategy,
			MaxSizeBytes:       c.MaxSizeBytes(),
			MaxCount:           c.Cache.MaxCount,
			ReductionTarget:    c.Cache.ReductionTarget,
			TTLExtensionFactor: c.Cache.TTLExtensionFactor,
			PriorityWeight:     c.Cache.PriorityWeight,
		},
		DefaultTTL:           c.Cache.DefaultTTL,
		SweepInterval:        c.Cache.CleanupInterval,
		OptimizeInterval:     optimizeInterval,
		EnableEncryption:     c.Security.EnableEncryption,
		EncryptSensitiveOnly: c.Security.EncryptSensitiveOnly,
		EnableIntegrity:      c.Security.EnableIntegrityCheck,
		SensitiveTerms:       c.Security.SensitiveKeyTerms,
		MasterSecret:         c.Security.MasterSecret,
		EagerReseal:          c.Security.EagerReencrypt,
		PrefetchEnabled:      c.Prefetch.Enabled,
		PrefetchBatch:        c.Prefetch.BatchSize,
		PrefetchQueue:        c.Prefetch.QueueSize,
		PrefetchDelay:        c.Prefetch.LowPriorityDelay,
		LedgerSize:           c.Telemetry.LedgerSize,
		FlushEvery:           c.Index.FlushEvery,
		FlushInterval:        c.Index.FlushInterval,
		NetworkIgnoreWithin:  c.Network.IgnoreWithin,
		NetworkSettleAfter:   c.Network.SettleAfter,
	}, nil
}

// PutOptions customizes a single Put. The zero value stores a
// low-priority entry with the engine's default TTL.
type PutOptions struct {
	TTL          time.Duration
	Priority     cache.Priority
	DataType     string
	ForceEncrypt bool

	// RelatedKeys seeds the access predictor with key -> related edges,
	// for callers that know what usually gets requested next.
	RelatedKeys []string
}

// GetOptions customizes a single read.
type GetOptions struct {
	// SkipIntegrityCheck bypasses signature verification. Encrypted
	// payloads are still authenticated by the cipher itself.
	SkipIntegrityCheck bool
}

// Loader fetches origin data for a key the predictor expects to be read
// soon. The engine never talks to the network itself; hosts wire their
// transport in through this hook. Returning a nil value declines the
// prefetch without error.
type Loader func(ctx context.Context, key string) (interface{}, PutOptions, error)

// Option customizes engine construction.
type Option func(*engineOptions)

type engineOptions struct {
	provider security.CryptoProvider
	loader   Loader
}

// WithCryptoProvider substitutes the crypto implementation, e.g. a
// platform key store bridge.
func WithCryptoProvider(p security.CryptoProvider) Option {
	return func(o *engineOptions) { o.provider = p }
}

// WithLoader installs the origin loader used to execute prefetches.
func WithLoader(l Loader) Option {
	return func(o *engineOptions) { o.loader = l }
}

// Engine is the cache facade. All methods are safe for concurrent use.
type Engine struct {
	cfg Config

	store    store.Store
	index    *index.Index
	persist  *index.Persister
	layer    *security.Layer
	detector *security.Detector
	planner  *cache.Planner
	graph    *predictor.Graph
	ledger   *telemetry.Ledger
	monitor  *network.Monitor
	prefetch *prefetcher

	policyMu sync.RWMutex
	policy   cache.Policy

	filterMu sync.RWMutex
	filter   *filter.Filter

	loaderMu sync.RWMutex
	loader   Loader

	accessMu sync.Mutex
	lastKey  string
	recent   []string

	pressureMu   sync.Mutex
	lastPressure PressureLevel
	onPressure   []func(PressureLevel, float64)

	optMu      sync.Mutex
	optRunning bool
	optDone    chan struct{}
	optReport  *cache.OptimizationReport
	optErr     error
	passes     uint64

	closeMu sync.RWMutex
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New builds an engine over the given store, loads the key ring,
// restores the metadata index snapshot and starts the maintenance
// loop. The engine takes ownership of the store and closes it on Close.
func New(ctx context.Context, cfg Config, st store.Store, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	settings := engineOptions{provider: security.NewAESGCMProvider()}
	for _, opt := range opts {
		opt(&settings)
	}

	e := &Engine{
		cfg:          cfg,
		policy:       cfg.Policy,
		store:        st,
		index:        index.New(),
		detector:     security.NewDetector(cfg.SensitiveTerms...),
		planner:      cache.NewPlanner(),
		graph:        predictor.New(),
		ledger:       telemetry.NewLedger(cfg.LedgerSize),
		monitor:      network.NewMonitor(cfg.NetworkIgnoreWithin, cfg.NetworkSettleAfter),
		loader:       settings.loader,
		lastPressure: PressureNone,
		stop:         make(chan struct{}),
	}
	e.persist = index.NewPersister(st, indexKey, cfg.FlushEvery, cfg.FlushInterval)

	rings := security.NewRingStore(st, ringKey, cfg.MasterSecret, settings.provider)
	ring, fresh, err := rings.Load(ctx)
	if err != nil {
		return nil, err
	}
	e.layer = security.NewLayer(settings.provider, ring, rings, cfg.EnableIntegrity)

	restored, err := e.persist.Restore(ctx, e.index)
	if err != nil {
		if !errors.Is(err, index.ErrCorruptSnapshot) {
			return nil, err
		}
		logging.Warn(ctx, logging.ComponentIndex, logging.ActionRestore, "index snapshot corrupt, starting cold", map[string]interface{}{
			"error": err.Error(),
		})
		if err := e.purgeOrphans(ctx); err != nil {
			return nil, err
		}
	}

	if fresh {
		if err := e.purgeUnreadable(ctx); err != nil {
			return nil, err
		}
	}

	e.rebuildFilter()

	if cfg.PrefetchEnabled {
		e.prefetch = newPrefetcher(e, cfg.PrefetchBatch, cfg.PrefetchQueue, cfg.PrefetchDelay)
	}

	e.wg.Add(1)
	go e.maintenanceLoop()

	logging.Info(ctx, logging.ComponentEngine, logging.ActionStart, "cache engine started", map[string]interface{}{
		"client_id":        cfg.ClientID,
		"strategy":         string(cfg.Policy.Strategy),
		"max_size_bytes":   cfg.Policy.MaxSizeBytes,
		"max_count":        cfg.Policy.MaxCount,
		"restored_entries": restored,
		"fresh_key_ring":   fresh,
		"encryption":       cfg.EnableEncryption,
		"integrity":        cfg.EnableIntegrity,
		"prefetch":         cfg.PrefetchEnabled,
	})
	return e, nil
}

// Put serializes, optionally seals and stores a value. The payload is
// fully written to the store before the index publishes the new
// metadata, so a concurrent reader of the same key sees either the
// previous entry or the new one, never a torn write.
func (e *Engine) Put(ctx context.Context, key string, value interface{}, opts PutOptions) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if opts.TTL < 0 {
		return fmt.Errorf("%w: negative ttl %s", cache.ErrPolicyViolation, opts.TTL)
	}
	start := time.Now()

	payload, valueType, err := encodeValue(value)
	if err != nil {
		return err
	}

	encrypt := e.shouldEncrypt(key, value, opts.ForceEncrypt)
	sealed, err := e.layer.Seal(payload, encrypt)
	if err != nil {
		return fmt.Errorf("failed to seal payload for %q: %w", key, err)
	}

	size := int64(len(sealed))
	policy := e.Policy()
	if size > policy.MaxSizeBytes {
		return fmt.Errorf("%w: %d byte payload exceeds the %d byte budget", cache.ErrValueTooLarge, size, policy.MaxSizeBytes)
	}

	if err := e.store.Set(ctx, dataPrefix+key, sealed); err != nil {
		return err
	}

	now := time.Now()
	ttl := opts.TTL
	if ttl == 0 {
		ttl = e.cfg.DefaultTTL
	}
	e.index.Record(cache.Metadata{
		Key:            key,
		Size:           size,
		DataType:       opts.DataType,
		ValueType:      valueType,
		TTL:            ttl,
		CreatedAt:      now,
		LastAccessedAt: now,
		Priority:       opts.Priority,
		Encrypted:      encrypt,
	})
	e.filterAdd(ctx, key)

	for _, related := range opts.RelatedKeys {
		e.graph.Observe(key, related)
	}

	e.ledger.Record(telemetry.OpStore, key, size, time.Since(start))
	logging.Debug(ctx, logging.ComponentEngine, logging.ActionPut, "stored cache entry", map[string]interface{}{
		"key":       key,
		"size":      size,
		"encrypted": encrypt,
		"ttl":       ttl.String(),
		"priority":  opts.Priority.String(),
	})

	if _, err := e.persist.MaybeFlush(ctx, e.index); err != nil {
		logging.Warn(ctx, logging.ComponentIndex, logging.ActionFlush, "index snapshot flush failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	e.checkPressure(ctx)
	return nil
}

// Get retrieves a value. Absence, expiry and integrity failures all
// surface as (nil, false, nil); errors are reserved for I/O failures
// the caller may want to retry.
func (e *Engine) Get(ctx context.Context, key string) (interface{}, bool, error) {
	return e.GetWithOptions(ctx, key, GetOptions{})
}

// GetWithOptions is Get with per-read settings.
func (e *Engine) GetWithOptions(ctx context.Context, key string, opts GetOptions) (interface{}, bool, error) {
	if err := e.checkOpen(); err != nil {
		return nil, false, err
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	start := time.Now()

	if !e.filterContains(key) {
		e.finishRead(key, telemetry.OpMiss, 0, start)
		return nil, false, nil
	}

	meta, ok := e.index.Get(key)
	if !ok {
		e.finishRead(key, telemetry.OpMiss, 0, start)
		return nil, false, nil
	}
	if meta.Expired(time.Now()) {
		logging.Debug(ctx, logging.ComponentEngine, logging.ActionExpire, "entry expired on read", map[string]interface{}{
			"key": key,
		})
		e.purgeEntry(ctx, key)
		e.finishRead(key, telemetry.OpMiss, 0, start)
		return nil, false, nil
	}

	raw, found, err := e.store.Get(ctx, dataPrefix+key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		// The index said present but the store lost the payload; drop
		// the stale metadata so the next read is a clean miss.
		e.index.Remove(key)
		e.filterDelete(key)
		e.finishRead(key, telemetry.OpMiss, 0, start)
		return nil, false, nil
	}

	body, reseal, err := e.layer.Open(raw, opts.SkipIntegrityCheck)
	if err != nil {
		if errors.Is(err, cache.ErrIntegrityViolation) {
			logging.Warn(ctx, logging.ComponentSecurity, logging.ActionGet, "integrity violation, purging entry", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			e.purgeEntry(ctx, key)
			e.finishRead(key, telemetry.OpMiss, 0, start)
			return nil, false, nil
		}
		return nil, false, err
	}

	value, err := decodeValue(body)
	if err != nil {
		logging.Warn(ctx, logging.ComponentEngine, logging.ActionGet, "undecodable payload, purging entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		e.purgeEntry(ctx, key)
		e.finishRead(key, telemetry.OpMiss, 0, start)
		return nil, false, nil
	}

	if reseal {
		e.resealEntry(ctx, key, body, meta.Encrypted)
	}

	e.index.Touch(key)
	e.finishRead(key, telemetry.OpHit, meta.Size, start)
	return value, true, nil
}

// Remove deletes an entry. It reports whether the key was present.
func (e *Engine) Remove(ctx context.Context, key string) (bool, error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	start := time.Now()

	if err := e.store.Delete(ctx, dataPrefix+key); err != nil {
		return false, err
	}
	removed := e.index.Remove(key)
	e.filterDelete(key)
	e.graph.Forget(key)

	e.ledger.Record(telemetry.OpRemove, key, 0, time.Since(start))
	if _, err := e.persist.MaybeFlush(ctx, e.index); err != nil {
		logging.Warn(ctx, logging.ComponentIndex, logging.ActionFlush, "index snapshot flush failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	logging.Debug(ctx, logging.ComponentEngine, logging.ActionRemove, "removed cache entry", map[string]interface{}{
		"key":     key,
		"existed": removed,
	})
	return removed, nil
}

// ClearAll drops every cached entry, the persisted index snapshot and
// the learned access pattern. The key ring survives. Clearing an
// already-empty cache is a no-op.
func (e *Engine) ClearAll(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	start := time.Now()

	keys, err := e.store.Keys(ctx, dataPrefix)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := e.store.DeleteMulti(ctx, keys); err != nil {
			return err
		}
	}
	if err := e.store.Delete(ctx, indexKey); err != nil {
		return err
	}

	e.index.Reset(nil)
	e.filterClear()
	e.graph.Reset()
	if e.prefetch != nil {
		e.prefetch.reset()
	}
	e.accessMu.Lock()
	e.lastKey = ""
	e.recent = nil
	e.accessMu.Unlock()

	e.ledger.Record(telemetry.OpClear, "", 0, time.Since(start))
	logging.Info(ctx, logging.ComponentEngine, logging.ActionClear, "cleared all cache entries", map[string]interface{}{
		"dropped": len(keys),
	})
	return nil
}

// RotateKeys generates a new key generation. Existing payloads stay
// readable through the previous generation and are re-sealed lazily on
// their next read, or eagerly here when the engine is configured for it.
// A non-empty newMasterSecret also re-seals the persisted ring under a
// new master key.
func (e *Engine) RotateKeys(ctx context.Context, newMasterSecret string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := e.layer.Rotate(ctx, newMasterSecret); err != nil {
		return err
	}
	logging.Info(ctx, logging.ComponentSecurity, logging.ActionRotate, "rotated key generation", map[string]interface{}{
		"version": e.layer.Version(),
	})
	if e.cfg.EagerReseal {
		return e.resealAll(ctx)
	}
	return nil
}

// Contains reports whether a live entry exists without touching access
// statistics or the backing store.
func (e *Engine) Contains(key string) bool {
	meta, ok := e.index.Get(key)
	return ok && !meta.Expired(time.Now())
}

// Keys returns the keys of all unexpired entries, sorted.
func (e *Engine) Keys() []string {
	entries := e.index.All()
	keys := make([]string, 0, len(entries))
	now := time.Now()
	for i := range entries {
		if !entries[i].Expired(now) {
			keys = append(keys, entries[i].Key)
		}
	}
	return keys
}

// Entries returns a metadata snapshot of every indexed entry, sorted
// by key.
func (e *Engine) Entries() []cache.Metadata {
	return e.index.All()
}

// Stats derives the current performance snapshot.
func (e *Engine) Stats() telemetry.PerformanceStats {
	return e.ledger.Stats(e.inventory())
}

// Recommendations runs the tuning rules against current stats.
func (e *Engine) Recommendations() []telemetry.Recommendation {
	return telemetry.Recommend(e.Stats())
}

// AnalyzeTrend compares the older and newer halves of the recent
// operation window.
func (e *Engine) AnalyzeTrend(window time.Duration) telemetry.TrendReport {
	return e.ledger.AnalyzeTrend(window)
}

// PredictNext exposes the predictor's best guess for what follows key.
func (e *Engine) PredictNext(key string) (string, bool) {
	return e.graph.PredictNext(key)
}

// Collector returns a Prometheus collector reading engine state at
// scrape time. Registration is the host's choice; the engine never
// serves HTTP itself.
func (e *Engine) Collector() *telemetry.Collector {
	return telemetry.NewCollector(e.ledger, func() (int, int64, float64) {
		items := e.index.Len()
		size := e.index.TotalSize()
		utilization := 0.0
		if maxSize := e.Policy().MaxSizeBytes; maxSize > 0 {
			utilization = float64(size) / float64(maxSize)
		}
		return items, size, utilization
	})
}

// SetPolicy swaps the eviction policy at runtime. The planner reads the
// policy on each pass, so the change applies from the next pass on.
func (e *Engine) SetPolicy(p cache.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.policyMu.Lock()
	e.policy = p
	e.policyMu.Unlock()
	logging.Info(context.Background(), logging.ComponentPolicy, logging.ActionValidation, "eviction policy updated", map[string]interface{}{
		"strategy":       string(p.Strategy),
		"max_size_bytes": p.MaxSizeBytes,
		"max_count":      p.MaxCount,
	})
	return nil
}

// Policy returns the active eviction policy.
func (e *Engine) Policy() cache.Policy {
	e.policyMu.RLock()
	defer e.policyMu.RUnlock()
	return e.policy
}

// SetLoader installs or replaces the prefetch origin loader.
func (e *Engine) SetLoader(l Loader) {
	e.loaderMu.Lock()
	e.loader = l
	e.loaderMu.Unlock()
}

// NetworkChanged feeds a raw reachability reading into the debounced
// monitor. Hosts call this from their platform connectivity callback.
func (e *Engine) NetworkChanged(connected bool) {
	e.monitor.Accept(connected)
}

// Online reports the debounced reachability state.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// OnNetworkChange registers a listener for debounced reachability
// transitions and returns its unsubscribe function.
func (e *Engine) OnNetworkChange(fn func(online bool)) (unsubscribe func()) {
	return e.monitor.AddListener(fn)
}

// Close stops the background loops, flushes the index snapshot and
// closes the backing store. Close is idempotent.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil
	}
	e.closed = true
	close(e.stop)
	e.closeMu.Unlock()

	e.wg.Wait()
	if e.prefetch != nil {
		e.prefetch.close()
	}
	e.monitor.Close()

	ctx := context.Background()
	flushErr := e.persist.Flush(ctx, e.index)
	closeErr := e.store.Close()

	logging.Info(ctx, logging.ComponentEngine, logging.ActionStop, "cache engine stopped", map[string]interface{}{
		"entries": e.index.Len(),
	})
	return errors.Join(flushErr, closeErr)
}

func (e *Engine) checkOpen() error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return cache.ErrEngineClosed
	}
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", cache.ErrInvalidKey)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: key exceeds %d bytes", cache.ErrInvalidKey, maxKeyLength)
	}
	return nil
}

func (e *Engine) shouldEncrypt(key string, value interface{}, force bool) bool {
	if force {
		return true
	}
	if !e.cfg.EnableEncryption {
		return false
	}
	if !e.cfg.EncryptSensitiveOnly {
		return true
	}
	return e.detector.Sensitive(key, value)
}

// finishRead records the ledger event, trains the predictor and feeds
// the prefetch queue. Runs on hits and misses alike: the access
// sequence is the signal, not the outcome.
func (e *Engine) finishRead(key string, op telemetry.Op, size int64, start time.Time) {
	e.ledger.Record(op, key, size, time.Since(start))

	recent := e.observeAccess(key)
	if e.prefetch != nil {
		if candidates := e.graph.Candidates(recent, e.cfg.PrefetchBatch); len(candidates) > 0 {
			e.prefetch.enqueue(candidates)
		}
	}
}

func (e *Engine) observeAccess(key string) []string {
	e.accessMu.Lock()
	prev := e.lastKey
	e.lastKey = key
	e.recent = append(e.recent, key)
	if len(e.recent) > recentKeysWindow {
		e.recent = e.recent[1:]
	}
	recent := make([]string, len(e.recent))
	copy(recent, e.recent)
	e.accessMu.Unlock()

	e.graph.Observe(prev, key)
	return recent
}

// purgeEntry drops a single entry everywhere. Used for expired,
// tampered and undecodable entries; the caller logs the reason.
func (e *Engine) purgeEntry(ctx context.Context, key string) {
	if err := e.store.Delete(ctx, dataPrefix+key); err != nil {
		logging.Warn(ctx, logging.ComponentEngine, logging.ActionCleanup, "failed to delete payload during purge", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	e.index.Remove(key)
	e.filterDelete(key)
}

// resealEntry rewrites a payload under the current key generation after
// Open reported it was sealed under the previous one. Best effort: on
// failure the old payload stays readable until the next rotation.
func (e *Engine) resealEntry(ctx context.Context, key string, body []byte, encrypted bool) {
	sealed, err := e.layer.Seal(body, encrypted)
	if err != nil {
		logging.Warn(ctx, logging.ComponentSecurity, logging.ActionReseal, "failed to re-seal payload", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return
	}
	if err := e.store.Set(ctx, dataPrefix+key, sealed); err != nil {
		logging.Warn(ctx, logging.ComponentSecurity, logging.ActionReseal, "failed to write re-sealed payload", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return
	}
	logging.Debug(ctx, logging.ComponentSecurity, logging.ActionReseal, "re-sealed payload under current key generation", map[string]interface{}{
		"key":     key,
		"version": e.layer.Version(),
	})
}

func (e *Engine) resealAll(ctx context.Context) error {
	resealed := 0
	for _, meta := range e.index.All() {
		raw, found, err := e.store.Get(ctx, dataPrefix+meta.Key)
		if err != nil {
			logging.Warn(ctx, logging.ComponentSecurity, logging.ActionReseal, "failed to read payload during eager re-seal", map[string]interface{}{
				"key":   meta.Key,
				"error": err.Error(),
			})
			continue
		}
		if !found {
			continue
		}
		body, reseal, err := e.layer.Open(raw, false)
		if err != nil {
			logging.Warn(ctx, logging.ComponentSecurity, logging.ActionReseal, "unreadable payload during eager re-seal, purging", map[string]interface{}{
				"key":   meta.Key,
				"error": err.Error(),
			})
			e.purgeEntry(ctx, meta.Key)
			continue
		}
		if !reseal {
			continue
		}
		e.resealEntry(ctx, meta.Key, body, meta.Encrypted)
		resealed++
	}
	logging.Info(ctx, logging.ComponentSecurity, logging.ActionReseal, "eager re-seal complete", map[string]interface{}{
		"resealed": resealed,
	})
	return nil
}

// purgeOrphans deletes every payload in the store. Called when the
// index snapshot is corrupt: without metadata the payloads are
// unreachable garbage.
func (e *Engine) purgeOrphans(ctx context.Context) error {
	keys, err := e.store.Keys(ctx, dataPrefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := e.store.DeleteMulti(ctx, keys); err != nil {
		return err
	}
	logging.Info(ctx, logging.ComponentEngine, logging.ActionCleanup, "purged orphaned payloads after cold start", map[string]interface{}{
		"count": len(keys),
	})
	return nil
}

// purgeUnreadable drops entries that cannot be read under a fresh key
// ring: encrypted payloads always, and signed plaintext ones when
// integrity checking is enabled.
func (e *Engine) purgeUnreadable(ctx context.Context) error {
	entries := e.index.All()
	if len(entries) == 0 {
		return nil
	}

	var victims []string
	for i := range entries {
		if entries[i].Encrypted || e.cfg.EnableIntegrity {
			victims = append(victims, entries[i].Key)
		}
	}
	if len(victims) == 0 {
		return nil
	}

	storeKeys := make([]string, len(victims))
	for i, key := range victims {
		storeKeys[i] = dataPrefix + key
	}
	if err := e.store.DeleteMulti(ctx, storeKeys); err != nil {
		return err
	}
	for _, key := range victims {
		e.index.Remove(key)
	}
	if err := e.persist.Flush(ctx, e.index); err != nil {
		return err
	}
	logging.Warn(ctx, logging.ComponentSecurity, logging.ActionCleanup, "dropped entries sealed under a lost key generation", map[string]interface{}{
		"count": len(victims),
	})
	return nil
}

func (e *Engine) inventory() telemetry.Inventory {
	entries := e.index.All()
	inv := telemetry.Inventory{
		TotalItems: len(entries),
		MaxSize:    e.Policy().MaxSizeBytes,
		DataTypes:  make(map[string]int),
	}
	for i := range entries {
		inv.TotalSize += entries[i].Size
		if dt := entries[i].DataType; dt != "" {
			inv.DataTypes[dt]++
		}
		inv.TTL.Add(entries[i].TTL)
	}
	return inv
}

func (e *Engine) rebuildFilter() {
	entries := e.index.All()
	capacity := len(entries) * 2
	if capacity < filterMinCapacity {
		capacity = filterMinCapacity
	}
	f := filter.New(capacity)
	for i := range entries {
		f.Add(entries[i].Key)
	}
	e.filterMu.Lock()
	e.filter = f
	e.filterMu.Unlock()
}

func (e *Engine) filterAdd(ctx context.Context, key string) {
	e.filterMu.RLock()
	ok := e.filter.Add(key)
	e.filterMu.RUnlock()
	if ok {
		return
	}
	// Saturated. The key is already indexed, so a rebuild picks it up;
	// dropping it instead would turn its reads into silent misses.
	logging.Info(ctx, logging.ComponentFilter, logging.ActionCleanup, "membership filter saturated, rebuilding", map[string]interface{}{
		"entries": e.index.Len(),
	})
	e.rebuildFilter()
}

func (e *Engine) filterContains(key string) bool {
	e.filterMu.RLock()
	defer e.filterMu.RUnlock()
	return e.filter.Contains(key)
}

func (e *Engine) filterDelete(key string) {
	e.filterMu.RLock()
	defer e.filterMu.RUnlock()
	e.filter.Delete(key)
}

func (e *Engine) filterClear() {
	e.filterMu.RLock()
	defer e.filterMu.RUnlock()
	e.filter.Clear()
}

func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()

	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()

	var optimize <-chan time.Time
	if e.cfg.OptimizeInterval > 0 {
		t := time.NewTicker(e.cfg.OptimizeInterval)
		defer t.Stop()
		optimize = t.C
	}

	for {
		select {
		case <-e.stop:
			return
		case <-sweep.C:
			ctx := context.Background()
			e.sweepExpired(ctx)
			if _, err := e.persist.MaybeFlush(ctx, e.index); err != nil {
				logging.Warn(ctx, logging.ComponentIndex, logging.ActionFlush, "index snapshot flush failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		case <-optimize:
			if _, err := e.Optimize(context.Background()); err != nil && !errors.Is(err, cache.ErrEngineClosed) {
				logging.Error(context.Background(), logging.ComponentEngine, logging.ActionOptimize, "scheduled optimization failed", err)
			}
		}
	}
}

// Passes returns how many optimization passes have executed. Exposed so
// callers can verify that overlapping Optimize calls collapse.
func (e *Engine) Passes() uint64 {
	return atomic.LoadUint64(&e.passes)
}
