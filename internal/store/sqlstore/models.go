// Copyright 2025 Tom Barlow
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

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tombee/stepchain/pkg/llm"
)

// ListAvailableModels returns models flagged available, sorted by ID.
func (s *Store) ListAvailableModels(ctx context.Context) ([]llm.ModelInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, display_name, input_price_per_1k, output_price_per_1k,
			context_window, available, capabilities
		FROM models WHERE available = 1 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var models []llm.ModelInfo
	for rows.Next() {
		var m llm.ModelInfo
		var available int
		var capabilities sql.NullString
		if err := rows.Scan(&m.ID, &m.Provider, &m.DisplayName, &m.InputPricePer1K,
			&m.OutputPricePer1K, &m.ContextWindow, &available, &capabilities); err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		m.Available = available != 0
		if capabilities.Valid && capabilities.String != "" {
			if err := json.Unmarshal([]byte(capabilities.String), &m.Capabilities); err != nil {
				return nil, fmt.Errorf("model %s: failed to unmarshal capabilities: %w", m.ID, err)
			}
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// UpsertModel inserts or replaces a model.
func (s *Store) UpsertModel(ctx context.Context, m llm.ModelInfo) error {
	if m.ID == "" {
		return fmt.Errorf("model id is required")
	}

	var capabilities sql.NullString
	if len(m.Capabilities) > 0 {
		data, err := json.Marshal(m.Capabilities)
		if err != nil {
			return fmt.Errorf("failed to marshal capabilities: %w", err)
		}
		capabilities = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO models (id, provider, display_name, input_price_per_1k, output_price_per_1k,
			context_window, available, capabilities)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			provider = excluded.provider,
			display_name = excluded.display_name,
			input_price_per_1k = excluded.input_price_per_1k,
			output_price_per_1k = excluded.output_price_per_1k,
			context_window = excluded.context_window,
			available = excluded.available,
			capabilities = excluded.capabilities
	`), m.ID, m.Provider, m.DisplayName, m.InputPricePer1K, m.OutputPricePer1K,
		m.ContextWindow, boolToInt(m.Available), capabilities)
	if err != nil {
		return fmt.Errorf("failed to upsert model %s: %w", m.ID, err)
	}
	return nil
}
