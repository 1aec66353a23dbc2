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

// Package examples embeds the sample plans shipped with the binary.
package examples

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tombee/stepchain/pkg/plan"
)

// Embed example plans into the binary for offline availability
//
//go:embed *.yaml
var embeddedFS embed.FS

// Example describes an embedded plan.
type Example struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Steps       int    `json:"steps"`
	FilePath    string `json:"file"`
}

// List returns all embedded examples sorted by name. Every example is parsed
// so a broken document fails here rather than at run time.
func List() ([]Example, error) {
	entries, err := embeddedFS.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded examples: %w", err)
	}

	var examples []Example
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".yaml")
		p, err := Load(name)
		if err != nil {
			return nil, err
		}
		examples = append(examples, Example{
			Name:        name,
			Title:       p.Name,
			Description: p.Description,
			Steps:       len(p.Steps),
			FilePath:    entry.Name(),
		})
	}

	sort.Slice(examples, func(i, j int) bool { return examples[i].Name < examples[j].Name })
	return examples, nil
}

// Get returns the raw document of an example by name
func Get(name string) ([]byte, error) {
	content, err := embeddedFS.ReadFile(name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("example %q not found: %w", name, err)
	}
	return content, nil
}

// Load parses an example into a plan. The file name is the fallback ID.
func Load(name string) (*plan.Plan, error) {
	content, err := Get(name)
	if err != nil {
		return nil, err
	}
	p, err := plan.Decode(content, name)
	if err != nil {
		return nil, fmt.Errorf("example %q: %w", name, err)
	}
	return p, nil
}

// Exists checks if an example with the given name exists
func Exists(name string) bool {
	_, err := embeddedFS.ReadFile(name + ".yaml")
	return err == nil
}

// CopyTo writes an example to the filesystem at destPath. Existing files are
// not overwritten.
func CopyTo(name string, destPath string) error {
	content, err := Get(name)
	if err != nil {
		return err
	}

	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("%s already exists", destPath)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	if err := os.WriteFile(destPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write example file: %w", err)
	}

	return nil
}
