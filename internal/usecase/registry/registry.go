// Package registry implements the Butler's app (adapter) registry (spec
// §4.4): a process-wide, hot-configurable lifecycle for language-model,
// channel, and PMS integrations. There is no teacher equivalent to adapt —
// its LLM/tool wiring is static construction at process start, not a
// runtime-reconfigurable registry — so this package follows spec §9's
// redesign guidance directly: a typed enum of categories plus per-category
// registration, each adapter contributing a manifest (its declarative
// config schema, for the UI layer) and a factory (a typed constructor, for
// the runtime). No dynamic factory callbacks keyed by an untyped blob.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// Capability is a declared ability of one adapter instance (spec §4.4):
// completion/embedding/streaming for language-model providers, or
// inbound/outbound/media/templates for channels.
type Capability string

const (
	CapCompletion Capability = "completion"
	CapEmbedding  Capability = "embedding"
	CapStreaming  Capability = "streaming"
	CapInbound    Capability = "inbound"
	CapOutbound   Capability = "outbound"
	CapMedia      Capability = "media"
	CapTemplates  Capability = "templates"
)

func hasCap(caps []Capability, want Capability) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

// Lifecycle is implemented by instances that own their own transport (a
// channel's inbound webhook server, for instance). The registry starts it
// right after a successful connection test and stops it before the
// instance is replaced or deactivated.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Factory builds a live provider instance from a stored configuration. The
// returned value must satisfy the domain interface matching the manifest's
// Category (domain.LanguageModelProvider, domain.ChannelAdapter, or
// domain.PMSAdapter) — Apply type-asserts it before activating the slot.
type Factory func(ctx context.Context, cfg domain.ExtensionConfig) (any, error)

// Manifest is one adapter's registration: identity, declared capabilities,
// the config schema consumed by the staff console UI, and the factory that
// turns a stored configuration into a live instance.
type Manifest struct {
	ID           string
	Name         string
	Category     domain.AppCategory
	ChannelType  string // meaningful only for Category == CategoryChannel: "sms"|"whatsapp"|"email"|"webchat"
	Version      string
	Description  string
	ConfigSchema []domain.ConfigField
	Capabilities []Capability
	Factory      Factory
}

// slots this manifest occupies in the 0-or-1-active selection policy (spec
// §4.4): one slot per AI capability, one slot per channel type, one fixed
// slot for PMS.
func (m Manifest) slots() []string {
	switch m.Category {
	case domain.CategoryAI:
		var slots []string
		if hasCap(m.Capabilities, CapCompletion) {
			slots = append(slots, "ai:completion")
		}
		if hasCap(m.Capabilities, CapEmbedding) {
			slots = append(slots, "ai:embedding")
		}
		return slots
	case domain.CategoryChannel:
		return []string{"channel:" + m.ChannelType}
	case domain.CategoryPMS:
		return []string{"pms"}
	default:
		return nil
	}
}

// instance is one live provider plus the manifest and status it was built
// from.
type instance struct {
	manifest Manifest
	live     any
	status   domain.AppStatus
}

// Registry is the process-wide adapter registry.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]Manifest
	instances map[string]*instance
	activeBy  map[string]string // slot -> app id

	configs domain.ExtensionStore
	audit   domain.AuditLogger
	logger  *slog.Logger
}

// New constructs a Registry. configs persists ExtensionConfig rows; audit
// may be nil (no audit trail for config changes).
func New(configs domain.ExtensionStore, audit domain.AuditLogger, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		manifests: make(map[string]Manifest),
		instances: make(map[string]*instance),
		activeBy:  make(map[string]string),
		configs:   configs,
		audit:     audit,
		logger:    logger,
	}
}

// Register adds an adapter manifest. Registering is purely declarative —
// no instance is created until a stored, enabled ExtensionConfig is applied.
func (r *Registry) Register(m Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.ID] = m
}

// Manifests returns every registered manifest, optionally filtered by
// category (empty string returns all).
func (r *Registry) Manifests(category domain.AppCategory) []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		if category == "" || m.Category == category {
			out = append(out, m)
		}
	}
	return out
}

// Instance returns the live instance for id and its status, if any.
func (r *Registry) Instance(id string) (any, domain.AppStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, "", false
	}
	return inst.live, inst.status, true
}

// ActiveCompletionProvider returns the instance occupying the "ai:completion"
// slot, if any.
func (r *Registry) ActiveCompletionProvider() (domain.LanguageModelProvider, bool) {
	return activeAs[domain.LanguageModelProvider](r, "ai:completion")
}

// ActiveEmbeddingProvider returns the instance occupying the "ai:embedding"
// slot, if any — may be the same underlying instance as the completion slot.
func (r *Registry) ActiveEmbeddingProvider() (domain.LanguageModelProvider, bool) {
	return activeAs[domain.LanguageModelProvider](r, "ai:embedding")
}

// ActiveChannel returns the active channel adapter for channelType, if any.
func (r *Registry) ActiveChannel(channelType string) (domain.ChannelAdapter, bool) {
	return activeAs[domain.ChannelAdapter](r, "channel:"+channelType)
}

// ActivePMS returns the active PMS adapter, if any.
func (r *Registry) ActivePMS() (domain.PMSAdapter, bool) {
	return activeAs[domain.PMSAdapter](r, "pms")
}

func activeAs[T any](r *Registry, slot string) (T, bool) {
	var zero T
	r.mu.RLock()
	id, ok := r.activeBy[slot]
	if !ok {
		r.mu.RUnlock()
		return zero, false
	}
	inst := r.instances[id]
	r.mu.RUnlock()
	if inst == nil {
		return zero, false
	}
	typed, ok := inst.live.(T)
	return typed, ok
}

// Apply persists cfg, destroys any prior instance for the same id, and —
// if cfg.Enabled — builds a new live instance, runs its connection test,
// and (on success) activates it into every slot its manifest occupies,
// deactivating whatever previously held those slots. A failing test leaves
// the instance registered with status error and activates no slot, so a
// provider active under another id keeps its slot. The old instance of the
// same id is destroyed before the new one is built: re-applying the id that
// holds a slot leaves that slot serving the new instance even when its test
// fails, and with no instance at all when its factory fails.
func (r *Registry) Apply(ctx context.Context, cfg domain.ExtensionConfig) (domain.ConnectionTestResult, error) {
	r.mu.Lock()
	manifest, ok := r.manifests[cfg.ID]
	r.mu.Unlock()
	if !ok {
		return domain.ConnectionTestResult{}, domain.NewError("registry.Apply", domain.KindNotFound, "no manifest registered for "+cfg.ID)
	}

	r.destroyLocked(ctx, cfg.ID)

	if !cfg.Enabled {
		cfg.Status = domain.AppUnconfigured
		if r.configs != nil {
			if err := r.configs.Upsert(ctx, &cfg); err != nil {
				return domain.ConnectionTestResult{}, domain.WrapError("registry.Apply", domain.KindTransient, err, "")
			}
		}
		return domain.ConnectionTestResult{}, nil
	}

	live, err := manifest.Factory(ctx, cfg)
	if err != nil {
		cfg.Status = domain.AppError
		cfg.LastError = err.Error()
		r.persistTestResult(ctx, &cfg, false)
		return domain.ConnectionTestResult{Success: false, Message: err.Error()}, domain.WrapError("registry.Apply", domain.KindFatal, err, "factory")
	}

	result := r.testConnection(ctx, live)
	cfg.Status = domain.AppActive
	if !result.Success {
		cfg.Status = domain.AppError
		cfg.LastError = result.Message
	}
	r.persistTestResult(ctx, &cfg, result.Success)

	r.mu.Lock()
	r.instances[cfg.ID] = &instance{manifest: manifest, live: live, status: cfg.Status}
	r.mu.Unlock()

	if !result.Success {
		r.logger.Warn("registry: connection test failed, instance not activated", "id", cfg.ID, "error", result.Message)
		return result, nil
	}

	for _, slot := range manifest.slots() {
		r.activateSlot(ctx, slot, cfg.ID)
	}

	if lc, ok := live.(Lifecycle); ok {
		if err := lc.Start(ctx); err != nil {
			r.logger.Error("registry: instance lifecycle start failed", "id", cfg.ID, "error", err)
		}
	}

	r.logAudit(ctx, "extension.apply", cfg.ID)
	return result, nil
}

// activateSlot moves slot's active id to newID, deactivating and, if
// orphaned, stopping+destroying whatever previously held it.
func (r *Registry) activateSlot(ctx context.Context, slot, newID string) {
	r.mu.Lock()
	prevID, had := r.activeBy[slot]
	r.activeBy[slot] = newID
	r.mu.Unlock()

	if !had || prevID == newID {
		return
	}

	r.mu.Lock()
	prevInst, ok := r.instances[prevID]
	stillHeld := false
	for _, s := range r.activeBy {
		if s == prevID {
			stillHeld = true
			break
		}
	}
	r.mu.Unlock()

	if !ok || stillHeld {
		return
	}

	if lc, ok := prevInst.live.(Lifecycle); ok {
		if err := lc.Stop(ctx); err != nil {
			r.logger.Warn("registry: deactivated instance stop failed", "id", prevID, "error", err)
		}
	}
	if r.configs != nil {
		if prevCfg, err := r.configs.Get(ctx, prevID); err == nil {
			prevCfg.Enabled = false
			prevCfg.Status = domain.AppInactive
			_ = r.configs.Upsert(ctx, prevCfg)
		}
	}
}

// destroyLocked stops and removes any existing instance for id without
// touching slot ownership (a fresh Apply for the same id reclaims its own
// slots immediately after).
func (r *Registry) destroyLocked(ctx context.Context, id string) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	delete(r.instances, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	if lc, ok := inst.live.(Lifecycle); ok {
		if err := lc.Stop(ctx); err != nil {
			r.logger.Warn("registry: instance stop failed during replace", "id", id, "error", err)
		}
	}
}

// testConnection runs the 10s-bounded connection test (spec §5) against
// whichever domain interface live satisfies.
func (r *Registry) testConnection(ctx context.Context, live any) domain.ConnectionTestResult {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	var err error
	switch p := live.(type) {
	case domain.LanguageModelProvider:
		err = p.TestConnection(ctx)
	case domain.ChannelAdapter:
		err = p.TestConnection(ctx)
	case domain.PMSAdapter:
		err = p.TestConnection(ctx)
	default:
		err = fmt.Errorf("instance satisfies no known adapter interface")
	}
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return domain.ConnectionTestResult{Success: false, Message: err.Error(), LatencyMs: latency}
	}
	return domain.ConnectionTestResult{Success: true, Message: "ok", LatencyMs: latency}
}

func (r *Registry) persistTestResult(ctx context.Context, cfg *domain.ExtensionConfig, ok bool) {
	now := time.Now().UTC()
	cfg.LastTestAt = &now
	cfg.LastTestOK = ok
	if r.configs == nil {
		return
	}
	if err := r.configs.Upsert(ctx, cfg); err != nil {
		r.logger.Error("registry: persist config failed", "id", cfg.ID, "error", err)
	}
}

func (r *Registry) logAudit(ctx context.Context, action, id string) {
	if r.audit == nil {
		return
	}
	_ = r.audit.Log(ctx, domain.AuditEntry{
		ID:           domain.NewID(domain.PrefixAudit),
		ActorType:    domain.ActorSystem,
		Action:       action,
		ResourceType: domain.ResourceExtensionConfig,
		ResourceID:   id,
		Timestamp:    time.Now().UTC(),
	})
}

// LoadAll restores every enabled ExtensionConfig from the store at boot,
// re-running Apply for each so restart picks up the same active set it had
// before the process stopped.
func (r *Registry) LoadAll(ctx context.Context) error {
	if r.configs == nil {
		return nil
	}
	configs, err := r.configs.List(ctx)
	if err != nil {
		return domain.WrapError("registry.LoadAll", domain.KindTransient, err, "")
	}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if _, err := r.Apply(ctx, cfg); err != nil {
			r.logger.Error("registry: boot-time apply failed", "id", cfg.ID, "error", err)
		}
	}
	return nil
}
