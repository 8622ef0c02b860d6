// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package correlation

import (
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Role tells the engine what a delivery to a registration means.
type Role string

const (
	// RoleCatch is a waiting catch event or receive task that completes on delivery
	RoleCatch Role = "catch"
	// RoleBoundary is a boundary event owned by the activity it is attached to
	RoleBoundary Role = "boundary"
	// RoleGateway is one branch of an event based gateway
	RoleGateway Role = "gateway"
	// RoleStart creates a new process instance
	RoleStart Role = "start"
	// RoleAdHoc activates a child of an ad-hoc sub process
	RoleAdHoc Role = "adHoc"
)

type Registration struct {
	Key                string `json:"key"`
	Role               Role   `json:"role"`
	ProcessInstanceKey int64  `json:"processInstanceKey,omitempty"`
	// NodeInstanceKey owns the registration, zero for instance or definition level registrations
	NodeInstanceKey int64  `json:"nodeInstanceKey,omitempty"`
	DefinitionId    string `json:"definitionId,omitempty"`
	ElementId       string `json:"elementId"`
	// ScopeKey is the scope new node instances are created in on delivery
	ScopeKey         int64  `json:"scopeKey,omitempty"`
	CorrelationValue string `json:"correlationValue,omitempty"`
	Condition        string `json:"condition,omitempty"`
	Seq              uint64 `json:"seq"`
}

// Scope restricts a firing to a set of process instances, an empty scope is global.
type Scope struct {
	ProcessInstanceKeys []int64
}

func Global() Scope {
	return Scope{}
}

func ForProcessInstances(keys ...int64) Scope {
	return Scope{ProcessInstanceKeys: keys}
}

func (s Scope) IsGlobal() bool {
	return len(s.ProcessInstanceKeys) == 0
}

func (s Scope) contains(reg Registration) bool {
	if s.IsGlobal() {
		return true
	}
	return reg.ProcessInstanceKey != 0 && slices.Contains(s.ProcessInstanceKeys, reg.ProcessInstanceKey)
}

type Payload struct {
	Data any
	// Filter leaves registrations for which it returns false untouched
	Filter func(reg Registration) bool
	// Single stops the firing after the first successful delivery
	Single bool
}

// DeliverFunc hands a matching registration to its owner and reports whether it consumed the event.
type DeliverFunc func(reg Registration, data any) bool

// Bus keeps the correlation registrations of one engine.
type Bus struct {
	mu            sync.Mutex
	seq           uint64
	registrations map[string][]Registration
	logger        hclog.Logger
}

func NewBus(logger hclog.Logger) *Bus {
	if logger == nil {
		logger = hclog.Default()
	}
	return &Bus{
		registrations: map[string][]Registration{},
		logger:        logger.Named("correlation-bus"),
	}
}

// Register adds a registration and assigns its delivery sequence.
func (b *Bus) Register(reg Registration) Registration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	reg.Seq = b.seq
	b.registrations[reg.Key] = append(b.registrations[reg.Key], reg)
	return reg
}

// Restore re-registers registrations keeping their relative order.
func (b *Bus) Restore(regs []Registration) []Registration {
	slices.SortStableFunc(regs, bySeq)
	restored := make([]Registration, 0, len(regs))
	for _, reg := range regs {
		restored = append(restored, b.Register(reg))
	}
	return restored
}

// Unregister removes all registrations owned by the node instance.
func (b *Bus) Unregister(nodeInstanceKey int64) {
	if nodeInstanceKey == 0 {
		return
	}
	b.removeWhere(func(reg Registration) bool {
		return reg.NodeInstanceKey == nodeInstanceKey
	})
}

func (b *Bus) UnregisterSeq(seq uint64) {
	b.removeWhere(func(reg Registration) bool {
		return reg.Seq == seq
	})
}

// UnregisterProcessInstance removes every registration of the process instance.
func (b *Bus) UnregisterProcessInstance(processInstanceKey int64) {
	b.removeWhere(func(reg Registration) bool {
		return reg.ProcessInstanceKey == processInstanceKey
	})
}

// UnregisterDefinition removes the start registrations of a process definition.
func (b *Bus) UnregisterDefinition(definitionId string) {
	b.removeWhere(func(reg Registration) bool {
		return reg.ProcessInstanceKey == 0 && reg.DefinitionId == definitionId
	})
}

// UnregisterKey removes every registration waiting for the key.
func (b *Bus) UnregisterKey(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.registrations, key)
}

func (b *Bus) removeWhere(match func(reg Registration) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, regs := range b.registrations {
		regs = slices.DeleteFunc(regs, match)
		if len(regs) == 0 {
			delete(b.registrations, key)
		} else {
			b.registrations[key] = regs
		}
	}
}

func (b *Bus) Contains(seq uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, regs := range b.registrations {
		for _, reg := range regs {
			if reg.Seq == seq {
				return true
			}
		}
	}
	return false
}

// Owned returns the registrations of a process instance in delivery order.
func (b *Bus) Owned(processInstanceKey int64) []Registration {
	return b.collect(func(reg Registration) bool {
		return reg.ProcessInstanceKey == processInstanceKey
	})
}

// Registrations returns the registrations waiting for key in delivery order.
func (b *Bus) Registrations(key string) []Registration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.registrations[key])
}

func (b *Bus) collect(match func(reg Registration) bool) []Registration {
	b.mu.Lock()
	defer b.mu.Unlock()
	var result []Registration
	for _, regs := range b.registrations {
		for _, reg := range regs {
			if match(reg) {
				result = append(result, reg)
			}
		}
	}
	slices.SortFunc(result, bySeq)
	return result
}

// Fire delivers an event to the registrations waiting for key in registration order.
// Deliveries run outside of the bus lock, every registration is checked to still be present right before delivery
// so that a delivery that unregisters its siblings prevents them from receiving the same event.
func (b *Bus) Fire(key string, scope Scope, payload Payload, deliver DeliverFunc) bool {
	candidates := b.Registrations(key)
	delivered := false
	for _, reg := range candidates {
		if !scope.contains(reg) {
			continue
		}
		if payload.Filter != nil && !payload.Filter(reg) {
			continue
		}
		if !b.Contains(reg.Seq) {
			continue
		}
		if deliver(reg, payload.Data) {
			delivered = true
			if payload.Single {
				break
			}
		}
	}
	if !delivered {
		b.logger.Debug("event not delivered", "key", key)
	}
	return delivered
}

func bySeq(x, y Registration) int {
	switch {
	case x.Seq < y.Seq:
		return -1
	case x.Seq > y.Seq:
		return 1
	}
	return 0
}

// Len returns the number of live registrations.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, regs := range b.registrations {
		count += len(regs)
	}
	return count
}
