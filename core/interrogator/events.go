package interrogator

import (
	"context"
	"time"

	"github.com/asaidimu/go-interrogator/core/query"
	"github.com/google/uuid"
)

// ReportEventType names a report lifecycle event.
type ReportEventType string

const (
	ReportExecuted ReportEventType = "report:executed"
	ReportFailed   ReportEventType = "report:failed"
	PivotExecuted  ReportEventType = "pivot:executed"
	PivotFailed    ReportEventType = "pivot:failed"
)

// ReportEvent is emitted once per Interrogate or Pivot call. Requests that
// end with diagnostics only are still "executed"; "failed" is reserved for
// requests aborted by an error or a store failure.
type ReportEvent struct {
	Type        ReportEventType    `json:"type"`
	Timestamp   int64              `json:"timestamp"` // Unix milliseconds
	RequestID   string             `json:"requestId"`
	Entity      string             `json:"entity"`
	RowCount    int                `json:"rowCount"`
	Diagnostics []query.Diagnostic `json:"diagnostics,omitempty"`
	Error       *string            `json:"error,omitempty"`
	Duration    *int64             `json:"duration,omitempty"` // Milliseconds
}

// EventCallbackFunction receives report events.
type EventCallbackFunction func(ctx context.Context, event ReportEvent) error

// RegisterSubscriptionOptions describes a subscription to one event type.
type RegisterSubscriptionOptions struct {
	Event       ReportEventType `json:"event"`
	Label       *string         `json:"label,omitempty"`
	Description *string         `json:"description,omitempty"`
	Callback    EventCallbackFunction
}

// SubscriptionInfo describes an active subscription.
type SubscriptionInfo struct {
	ID          string          `json:"id"`
	Event       ReportEventType `json:"event"`
	Label       *string         `json:"label,omitempty"`
	Description *string         `json:"description,omitempty"`
	Unsubscribe func()          `json:"-"`
}

// RegisterSubscription registers a callback for a report event. It returns a
// unique ID that can be used to unregister the subscription later.
func (i *Interrogator) RegisterSubscription(options RegisterSubscriptionOptions) string {
	i.subMu.Lock()
	defer i.subMu.Unlock()

	unsubscribe := i.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()

	i.subscriptions[id] = &SubscriptionInfo{
		ID:          id,
		Event:       options.Event,
		Unsubscribe: unsubscribe,
		Label:       options.Label,
		Description: options.Description,
	}
	return id
}

// UnregisterSubscription removes a subscription by its ID.
func (i *Interrogator) UnregisterSubscription(id string) {
	i.subMu.Lock()
	defer i.subMu.Unlock()

	if info, ok := i.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(i.subscriptions, id)
	}
}

// Subscriptions returns all currently active subscriptions.
func (i *Interrogator) Subscriptions() []SubscriptionInfo {
	i.subMu.RLock()
	defer i.subMu.RUnlock()

	subs := make([]SubscriptionInfo, 0, len(i.subscriptions))
	for _, sub := range i.subscriptions {
		subs = append(subs, *sub)
	}
	return subs
}

func (i *Interrogator) emit(event ReportEvent) {
	if i.bus != nil {
		i.bus.Emit(string(event.Type), event)
	}
}

func createEvent(
	eventType ReportEventType,
	requestID string,
	entity string,
	rowCount int,
	diagnostics []query.Diagnostic,
	err error,
	startTime time.Time,
) ReportEvent {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	var message *string
	if err != nil {
		m := err.Error()
		message = &m
	}

	return ReportEvent{
		Type:        eventType,
		Timestamp:   time.Now().UnixMilli(),
		RequestID:   requestID,
		Entity:      entity,
		RowCount:    rowCount,
		Diagnostics: diagnostics,
		Error:       message,
		Duration:    duration,
	}
}
