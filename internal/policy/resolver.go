// Package policy resolves the selection policy in force for a namespace.
//
// Namespaces are colon-separated paths such as "org:course:exam". A lookup can
// walk from the most specific namespace up to the global one (""). Policies set
// at runtime live in process memory and are mirrored to a shared key-value
// store so other instances see them.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/catengine/internal/logger"
	"github.com/mohammad-safakhou/catengine/models"
	"github.com/mohammad-safakhou/catengine/repository"
)

const (
	policyKey        = "selection_policy"
	DefaultKeyPrefix = "adaptive:"
)

type Options struct {
	Default   models.SelectionPolicy
	TTL       time.Duration
	KeyPrefix string
	KV        repository.KV
	Now       func() time.Time
	Logger    *logger.Logger
}

type override struct {
	policy      models.SelectionPolicy
	lastUpdated time.Time
	expiresAt   *time.Time
}

type Resolver struct {
	mu        sync.RWMutex
	overrides map[string]override

	def    models.SelectionPolicy
	ttl    time.Duration
	prefix string
	kv     repository.KV
	now    func() time.Time
	log    *logger.Logger
}

func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		overrides: make(map[string]override),
		def:       opts.Default.Normalize(),
		ttl:       opts.TTL,
		prefix:    opts.KeyPrefix,
		kv:        opts.KV,
		now:       opts.Now,
		log:       opts.Logger,
	}
	if r.prefix == "" {
		r.prefix = DefaultKeyPrefix
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = logger.NewNop()
	}
	return r
}

// Chain returns ns and each of its ancestors, ending with the global namespace.
// "a:b:c" yields ["a:b:c", "a:b", "a", ""].
func Chain(ns string) []string {
	if ns == "" {
		return []string{""}
	}
	parts := strings.Split(ns, ":")
	chain := make([]string, 0, len(parts)+1)
	for i := len(parts); i > 0; i-- {
		chain = append(chain, strings.Join(parts[:i], ":"))
	}
	return append(chain, "")
}

// Key is the distributed key for a namespace.
func (r *Resolver) Key(ns string) string {
	if ns == "" {
		return r.prefix + policyKey
	}
	return r.prefix + ns + ":" + policyKey
}

// Resolve returns the policy for ns. With hierarchy the namespace chain is
// searched, first in process memory and then in the shared store; without it
// only ns itself is consulted. The configured default is the last resort.
func (r *Resolver) Resolve(ctx context.Context, ns string, hierarchy bool) models.PolicyBinding {
	chain := []string{ns}
	if hierarchy {
		chain = Chain(ns)
	}
	if b, ok := r.resolveLocal(chain); ok {
		return b
	}
	if b, ok := r.resolveDistributed(ctx, chain); ok {
		return b
	}
	return models.PolicyBinding{Policy: r.def, Namespace: "", Source: models.PolicySourceDefault}
}

func (r *Resolver) resolveLocal(chain []string) (models.PolicyBinding, bool) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ns := range chain {
		o, ok := r.overrides[ns]
		if !ok {
			continue
		}
		if o.expiresAt != nil && !now.Before(*o.expiresAt) {
			delete(r.overrides, ns)
			continue
		}
		last := o.lastUpdated
		b := models.PolicyBinding{Policy: o.policy, Namespace: ns, Source: models.PolicySourceRuntime, LastUpdated: &last}
		if o.expiresAt != nil {
			exp := *o.expiresAt
			b.ExpiresAt = &exp
		}
		return b, true
	}
	return models.PolicyBinding{}, false
}

func (r *Resolver) resolveDistributed(ctx context.Context, chain []string) (models.PolicyBinding, bool) {
	if r.kv == nil {
		return models.PolicyBinding{}, false
	}
	for _, ns := range chain {
		key := r.Key(ns)
		raw, err := r.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			r.log.Warn("distributed policy lookup failed", "key", key, "error", err)
			return models.PolicyBinding{}, false
		}
		p, last, ok := decodeRecord(raw)
		if !ok {
			r.log.Debug("skipping unrecognized policy record", "key", key)
			continue
		}
		return models.PolicyBinding{Policy: p, Namespace: ns, Source: models.PolicySourceDistributed, LastUpdated: last}, true
	}
	return models.PolicyBinding{}, false
}

// MirrorError reports that a policy was applied locally but could not be shared.
type MirrorError struct {
	Key string
	Err error
}

func (e *MirrorError) Error() string {
	return fmt.Sprintf("mirror policy to %s: %v", e.Key, e.Err)
}

func (e *MirrorError) Unwrap() error { return e.Err }

// SetResult is the outcome of Set. The local write always succeeds; MirrorErr is
// non-nil when the shared store rejected the copy.
type SetResult struct {
	Binding   models.PolicyBinding
	MirrorErr error
}

// Set installs p for ns. The configured TTL applies to both the local entry and
// the shared copy. The shared write happens after the local lock is released.
func (r *Resolver) Set(ctx context.Context, ns string, p models.SelectionPolicy) SetResult {
	p = p.Normalize()
	now := r.now()
	o := override{policy: p, lastUpdated: now}
	if r.ttl > 0 {
		exp := now.Add(r.ttl)
		o.expiresAt = &exp
	}
	r.mu.Lock()
	r.overrides[ns] = o
	r.mu.Unlock()

	res := SetResult{Binding: models.PolicyBinding{Policy: p, Namespace: ns, Source: models.PolicySourceRuntime, LastUpdated: &now, ExpiresAt: o.expiresAt}}
	if r.kv == nil {
		return res
	}
	key := r.Key(ns)
	payload, err := encodeRecord(p, now)
	if err == nil {
		err = r.kv.Set(ctx, key, payload, r.ttl)
	}
	if err != nil {
		res.MirrorErr = &MirrorError{Key: key, Err: err}
	}
	return res
}

// Clear removes the local override and the shared copy for ns. Only the shared
// delete can fail.
func (r *Resolver) Clear(ctx context.Context, ns string) error {
	r.mu.Lock()
	delete(r.overrides, ns)
	r.mu.Unlock()
	if r.kv == nil {
		return nil
	}
	if err := r.kv.Delete(ctx, r.Key(ns)); err != nil {
		return &MirrorError{Key: r.Key(ns), Err: err}
	}
	return nil
}

// Namespaces lists every namespace holding a policy locally or in the shared
// store, sorted, with the global namespace first when includeGlobal is set.
func (r *Resolver) Namespaces(ctx context.Context, includeGlobal bool) ([]string, error) {
	found := map[string]struct{}{}
	now := r.now()
	r.mu.RLock()
	for ns, o := range r.overrides {
		if o.expiresAt != nil && !now.Before(*o.expiresAt) {
			continue
		}
		found[ns] = struct{}{}
	}
	r.mu.RUnlock()

	var scanErr error
	if r.kv != nil {
		keys, err := r.kv.Scan(ctx, r.prefix+"*"+policyKey)
		if err != nil {
			scanErr = fmt.Errorf("scan policy keys: %w", err)
		}
		for _, k := range keys {
			if ns, ok := r.namespaceFromKey(k); ok {
				found[ns] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(found)+1)
	for ns := range found {
		if ns != "" {
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	if includeGlobal {
		out = append([]string{""}, out...)
	}
	return out, scanErr
}

func (r *Resolver) namespaceFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, r.prefix) || !strings.HasSuffix(key, policyKey) {
		return "", false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(key, r.prefix), policyKey)
	if mid == "" {
		return "", true
	}
	if !strings.HasSuffix(mid, ":") {
		return "", false
	}
	return strings.TrimSuffix(mid, ":"), true
}
