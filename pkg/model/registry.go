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

package model

import (
	"fmt"
	"strings"
	"sync"
)

// Registry maps provider names to Provider implementations. Model strings
// take the form "provider/model-id"; a bare model id resolves against the
// default provider.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. The first registered provider becomes the
// default.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.defaultProvider == "" {
		r.defaultProvider = p.Name()
	}
}

// SetDefault overrides the default provider.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultProvider = name
}

// ProviderFor resolves the provider for a model string.
func (r *Registry) ProviderFor(model string) (Provider, error) {
	name := r.defaultProviderName()
	if idx := strings.IndexByte(model, '/'); idx > 0 {
		name = model[:idx]
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("no provider registered for model %q", model)
	}
	return p, nil
}

func (r *Registry) defaultProviderName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultProvider
}

// BareModelID strips the "provider/" prefix from a model string.
func BareModelID(model string) string {
	if idx := strings.IndexByte(model, '/'); idx > 0 {
		return model[idx+1:]
	}
	return model
}
