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

package executor

import (
	"context"
	"sync"

	"github.com/kadirpekel/weave/pkg/agent"
	"github.com/kadirpekel/weave/pkg/credentials"
	"github.com/kadirpekel/weave/pkg/storage"
	"github.com/kadirpekel/weave/pkg/tool"
	"github.com/kadirpekel/weave/pkg/tool/mcptool"
)

// MCPSources is the default ToolSourceFactory: it connects tool-server
// references over MCP with credential headers resolved first. Connections
// are cached per server reference across turns.
func MCPSources(creds credentials.Resolver, store storage.DefinitionStore, scope storage.Scope) ToolSourceFactory {
	var mu sync.Mutex
	cache := make(map[string]*mcptool.Source)

	return func(ctx context.Context, ref agent.ToolServerRef) ([]tool.Tool, error) {
		mu.Lock()
		source, ok := cache[ref.ID]
		mu.Unlock()

		if !ok {
			headers := map[string]string{}
			for k, v := range ref.Headers {
				headers[k] = v
			}
			if ref.CredentialRef != "" && creds != nil && store != nil {
				credRef, err := store.GetCredentialReference(ctx, scope, ref.CredentialRef)
				if err != nil {
					return nil, err
				}
				resolved, err := creds.Headers(ctx, credRef)
				if err != nil {
					return nil, err
				}
				for k, v := range resolved {
					headers[k] = v
				}
			}

			source = mcptool.NewSource(ref.Name, ref.URL, headers)
			mu.Lock()
			cache[ref.ID] = source
			mu.Unlock()
		}

		return source.Tools(ctx)
	}
}
