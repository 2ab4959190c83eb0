// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package credentials synthesizes HTTP headers for outbound connections:
// MCP tool-server connects and A2A sends to external agents.
package credentials

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kadirpekel/weave/pkg/storage"
)

// Resolver turns a credential reference into request headers.
type Resolver interface {
	// Headers resolves the reference. Inline headers win over store
	// lookups; both may be combined.
	Headers(ctx context.Context, ref *storage.CredentialReference) (map[string]string, error)
}

// Store provides secret values by store id and key.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) (string, error)
}

// StaticStore is an in-memory credential store.
type StaticStore struct {
	name string

	mu     sync.RWMutex
	values map[string]string
}

// NewStaticStore creates a store with fixed values.
func NewStaticStore(name string, values map[string]string) *StaticStore {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &StaticStore{name: name, values: copied}
}

func (s *StaticStore) Name() string { return s.name }

func (s *StaticStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("credential %q not found in store %s", key, s.name)
	}
	return v, nil
}

// EnvStore reads secrets from environment variables.
type EnvStore struct {
	name string
}

// NewEnvStore creates an environment-backed store.
func NewEnvStore(name string) *EnvStore {
	return &EnvStore{name: name}
}

func (s *EnvStore) Name() string { return s.name }

func (s *EnvStore) Get(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %q not set", key)
	}
	return v, nil
}

// StoreResolver resolves references against a set of named stores.
type StoreResolver struct {
	mu     sync.RWMutex
	stores map[string]Store
}

// NewStoreResolver creates a resolver over the given stores.
func NewStoreResolver(stores ...Store) *StoreResolver {
	r := &StoreResolver{stores: make(map[string]Store, len(stores))}
	for _, s := range stores {
		r.stores[s.Name()] = s
	}
	return r
}

// Register adds a store.
func (r *StoreResolver) Register(s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[s.Name()] = s
}

// Headers implements Resolver. Each retrieval param maps a header name to a
// store key; inline headers are copied as-is on top.
func (r *StoreResolver) Headers(ctx context.Context, ref *storage.CredentialReference) (map[string]string, error) {
	if ref == nil {
		return nil, nil
	}

	headers := make(map[string]string)

	if ref.CredentialStoreID != "" {
		r.mu.RLock()
		store, ok := r.stores[ref.CredentialStoreID]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("credential store %q not registered", ref.CredentialStoreID)
		}
		for header, key := range ref.RetrievalParams {
			v, err := store.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve header %q: %w", header, err)
			}
			headers[header] = v
		}
	}

	for k, v := range ref.Headers {
		headers[k] = v
	}
	return headers, nil
}
