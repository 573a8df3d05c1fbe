/*
 * Copyright 2026 The Confcore Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package confirm

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher is an EventPublisher that publishes confirmed-commit
// lifecycle events (armed, extended, confirmed, rolled-back) to a
// topic, for external dashboards watching the rollback window. It is
// off by default: cmd/confcored only constructs one when the operator
// configures a broker URL, and Manager works fine with a nil
// EventPublisher otherwise.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher connects to brokerURL and returns a publisher for
// topic. The connect call has a bounded wait so a misconfigured or
// unreachable broker fails fast at startup rather than hanging
// cmd/confcored's boot sequence.
func NewMQTTPublisher(brokerURL, clientID, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", brokerURL, err)
	}
	return &MQTTPublisher{client: client, topic: topic}, nil
}

type eventPayload struct {
	Event        string `json:"event"`
	Phase        string `json:"phase"`
	PersistToken string `json:"persistToken,omitempty"`
	SessionID    uint32 `json:"sessionId"`
	Deadline     string `json:"deadline,omitempty"`
	Snapshot     string `json:"snapshot,omitempty"`
}

// Publish implements EventPublisher. Publish errors are not fatal to
// the confirmed-commit window — they're best-effort telemetry, not part
// of the commit/rollback contract.
func (p *MQTTPublisher) Publish(event string, state State) error {
	payload := eventPayload{
		Event:        event,
		Phase:        state.Phase.String(),
		PersistToken: state.PersistToken,
		SessionID:    state.SessionID,
		Snapshot:     state.Snapshot,
	}
	if !state.Deadline.IsZero() {
		payload.Deadline = state.Deadline.Format(time.RFC3339)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, 0, false, data)
	token.Wait()
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
