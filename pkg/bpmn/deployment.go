// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/storage"
)

// LoadFromFile loads a given YAML process definition file and deploys it.
func (engine *Engine) LoadFromFile(ctx context.Context, filename string) (*model.ProcessDefinition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read process definition %s: %w", filename, err)
	}
	return engine.LoadFromBytes(ctx, data)
}

// LoadFromBytes parses a YAML process definition and deploys it.
func (engine *Engine) LoadFromBytes(ctx context.Context, data []byte) (*model.ProcessDefinition, error) {
	definition, err := model.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := engine.Deploy(ctx, definition); err != nil {
		return nil, err
	}
	return definition, nil
}

// Deploy adds a process definition to the engine. A definition without version becomes the next
// version of its id. Event start events of the previous version stop listening, running instances
// keep their version.
func (engine *Engine) Deploy(ctx context.Context, definition *model.ProcessDefinition) error {
	if err := definition.Finalize(); err != nil {
		return err
	}
	return engine.exec(ctx, func(ctx context.Context) error {
		if err := engine.deploy(definition); err != nil {
			return err
		}
		source, err := model.Marshal(definition)
		if err != nil {
			return fmt.Errorf("failed to marshal process definition %s: %w", definition.Id, err)
		}
		engine.exportNewProcessEvent(definition, source)
		if engine.persistence == nil {
			return nil
		}
		return engine.persistence.SaveDefinition(ctx, storage.DefinitionRecord{
			Id:        definition.Id,
			Version:   definition.Version,
			Source:    source,
			CreatedAt: engine.clock.Now(),
		})
	})
}

// deploy registers the definition without persisting it.
func (engine *Engine) deploy(definition *model.ProcessDefinition) error {
	engine.definitionsMu.Lock()
	versions := engine.definitions[definition.Id]
	var latest int32
	if len(versions) > 0 {
		latest = versions[len(versions)-1].Version
	}
	if definition.Version == 0 {
		definition.Version = latest + 1
	}
	if definition.Version <= latest {
		for i, existing := range versions {
			if existing.Version == definition.Version {
				versions[i] = definition
				engine.definitionsMu.Unlock()
				return engine.rearmStartEvents(definition, definition.Version == latest)
			}
		}
		engine.definitionsMu.Unlock()
		return newEngineErrorf("process %s version %d is older than the deployed version %d", definition.Id, definition.Version, latest)
	}
	engine.definitions[definition.Id] = append(versions, definition)
	engine.definitionsMu.Unlock()
	engine.logger.Info("process deployed", "process", definition.Id, "version", definition.Version)
	return engine.rearmStartEvents(definition, true)
}

func (engine *Engine) rearmStartEvents(definition *model.ProcessDefinition, latest bool) error {
	if !latest {
		return nil
	}
	engine.bus.UnregisterDefinition(definition.Id)
	engine.timers.CancelDefinition(definition.Id)
	return engine.registerStartEvents(definition)
}

func (engine *Engine) findDefinition(id string, version int32) (*model.ProcessDefinition, bool) {
	engine.definitionsMu.RLock()
	defer engine.definitionsMu.RUnlock()
	for _, definition := range engine.definitions[id] {
		if definition.Version == version {
			return definition, true
		}
	}
	return nil, false
}

func (engine *Engine) latestDefinition(id string) (*model.ProcessDefinition, bool) {
	engine.definitionsMu.RLock()
	defer engine.definitionsMu.RUnlock()
	versions := engine.definitions[id]
	if len(versions) == 0 {
		return nil, false
	}
	return versions[len(versions)-1], true
}

// GetDefinition returns the latest deployed version of a process.
func (engine *Engine) GetDefinition(id string) (*model.ProcessDefinition, bool) {
	return engine.latestDefinition(id)
}

// Definitions returns the latest version of every deployed process.
func (engine *Engine) Definitions() []*model.ProcessDefinition {
	engine.definitionsMu.RLock()
	defer engine.definitionsMu.RUnlock()
	result := make([]*model.ProcessDefinition, 0, len(engine.definitions))
	for _, versions := range engine.definitions {
		result = append(result, versions[len(versions)-1])
	}
	slices.SortFunc(result, func(a, b *model.ProcessDefinition) int {
		return strings.Compare(a.Id, b.Id)
	})
	return result
}
