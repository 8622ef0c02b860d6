package model

import "fmt"

type TriggerType string

const (
	TriggerNone         TriggerType = ""
	TriggerSignal       TriggerType = "signal"
	TriggerMessage      TriggerType = "message"
	TriggerTimer        TriggerType = "timer"
	TriggerCondition    TriggerType = "condition"
	TriggerLink         TriggerType = "link"
	TriggerError        TriggerType = "error"
	TriggerEscalation   TriggerType = "escalation"
	TriggerCompensation TriggerType = "compensation"
)

type TimerKind string

const (
	TimerKindDuration TimerKind = "duration"
	TimerKindCycle    TimerKind = "cycle"
	TimerKindCron     TimerKind = "cron"
	TimerKindDate     TimerKind = "date"
)

type SignalScope string

const (
	SignalScopeGlobal          SignalScope = "global"
	SignalScopeProcessInstance SignalScope = "processInstance"
)

type TimerDefinition struct {
	Kind             TimerKind `yaml:"type" json:"type"`
	Value            string    `yaml:"value" json:"value"`
	BusinessCalendar bool      `yaml:"businessCalendar,omitempty" json:"businessCalendar,omitempty"`
}

// EventDefinition describes what an event waits for or throws.
type EventDefinition struct {
	Trigger TriggerType `yaml:"trigger" json:"trigger"`
	// Ref is the signal, message or link name, the error or escalation code,
	// or the activity to compensate
	Ref       string           `yaml:"ref,omitempty" json:"ref,omitempty"`
	Timer     *TimerDefinition `yaml:"timer,omitempty" json:"timer,omitempty"`
	Condition string           `yaml:"condition,omitempty" json:"condition,omitempty"`
	// CorrelationKey is evaluated when a message catch event activates
	CorrelationKey string `yaml:"correlationKey,omitempty" json:"correlationKey,omitempty"`
	// Variable receives the payload of a caught event or is sent as payload by a throw event
	Variable string      `yaml:"variable,omitempty" json:"variable,omitempty"`
	Scope    SignalScope `yaml:"scope,omitempty" json:"scope,omitempty"`
}

const (
	messageKeyPrefix = "Message-"
	timerKeyPrefix   = "Timer-"
	adHocKeyPrefix   = "AdHoc-"
)

// AdHocEventKey returns the correlation key an ad-hoc fragment named name is activated under.
// Only signals addressed to a process instance are routed to it.
func AdHocEventKey(name string) string {
	return adHocKeyPrefix + name
}

// MessageEventKey returns the correlation key a message with given name is delivered under.
func MessageEventKey(name string) string {
	return messageKeyPrefix + name
}

// TimerEventKey returns the correlation key a timer with given key fires under.
func TimerEventKey(timerKey int64) string {
	return fmt.Sprintf("%s%d", timerKeyPrefix, timerKey)
}

// ConditionEventKey is the shared key all conditional event registrations use.
const ConditionEventKey = "Condition"

// EventKey returns the correlation key a catch event for this definition listens to.
// Timers are keyed by their timer instance and return an empty key here.
func (d EventDefinition) EventKey() string {
	switch d.Trigger {
	case TriggerSignal:
		return d.Ref
	case TriggerMessage:
		return MessageEventKey(d.Ref)
	case TriggerCondition:
		return ConditionEventKey
	}
	return ""
}
