package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dennisdiepolder/leaddesk/internal/types"
)

// Broadcaster is the part of the WebSocket hub the notifier needs
type Broadcaster interface {
	Broadcast(message []byte)
}

// HubSink pushes events to connected dashboards
type HubSink struct {
	hub Broadcaster
}

func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Send(_ context.Context, event types.AssignmentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.hub.Broadcast(data)
	return nil
}
