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
	"context"
	"fmt"
	"iter"
	"sync"
)

// Scripted is a Provider that replays queued responses. Tests script a
// model's behavior turn by turn; requests beyond the script fail loudly.
type Scripted struct {
	name string

	mu        sync.Mutex
	responses []*ProviderResponse
	requests  []*ProviderRequest
}

// NewScripted creates a scripted provider with the given name.
func NewScripted(name string, responses ...*ProviderResponse) *Scripted {
	return &Scripted{name: name, responses: responses}
}

// Enqueue appends a response to the script.
func (s *Scripted) Enqueue(resp *ProviderResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
}

// Requests returns the provider requests observed so far.
func (s *Scripted) Requests() []*ProviderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ProviderRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Scripted) Name() string { return s.name }

func (s *Scripted) next(req *ProviderRequest) (*ProviderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("scripted provider %s: no responses left", s.name)
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *Scripted) Generate(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.next(req)
}

func (s *Scripted) Stream(ctx context.Context, req *ProviderRequest) iter.Seq2[*StreamEvent, error] {
	return func(yield func(*StreamEvent, error) bool) {
		resp, err := s.next(req)
		if err != nil {
			yield(nil, err)
			return
		}
		// Replay the text in two chunks to exercise delta handling.
		if resp.Text != "" {
			half := len(resp.Text) / 2
			if half > 0 {
				if !yield(&StreamEvent{Type: StreamTextDelta, TextDelta: resp.Text[:half]}, nil) {
					return
				}
			}
			if !yield(&StreamEvent{Type: StreamTextDelta, TextDelta: resp.Text[half:]}, nil) {
				return
			}
		}
		yield(&StreamEvent{Type: StreamFinish, ProviderResponse: resp}, nil)
	}
}

var _ Provider = (*Scripted)(nil)
