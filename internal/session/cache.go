// Copyright 2026 The AgencyDesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agencydesk/agencydesk/internal/authz"
)

// ErrCacheMiss is returned by PrincipalCache.Get for absent or stale entries.
var ErrCacheMiss = errors.New("principal cache miss")

// PrincipalCache holds resolved principals keyed by user id. It is the only
// process-wide mutable state besides the rate limiter; every change to a
// profile's role, agency or active flag invalidates the entry.
type PrincipalCache interface {
	Get(ctx context.Context, userID string) (*authz.Principal, error)
	Set(ctx context.Context, p *authz.Principal) error
	Invalidate(ctx context.Context, userID string) error
	Clear(ctx context.Context) error
}

type memoryEntry struct {
	principal authz.Principal
	expiresAt time.Time
}

// MemoryCache is an in-process PrincipalCache with a fixed TTL.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, userID string) (*authz.Principal, error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, ErrCacheMiss
	}
	p := copyPrincipal(e.principal)
	return &p, nil
}

func (c *MemoryCache) Set(ctx context.Context, p *authz.Principal) error {
	if p == nil || p.ID == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[p.ID] = memoryEntry{principal: copyPrincipal(*p), expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	return nil
}

func copyPrincipal(p authz.Principal) authz.Principal {
	if p.AgencyID != nil {
		a := *p.AgencyID
		p.AgencyID = &a
	}
	return p
}
