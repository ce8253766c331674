package realtime

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/shenikar/falconwatch/internal/models"
)

// outbound - исходящее сообщение канала
type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Encode кодирует сообщение в конверт {"type", "data"}
func Encode(eventType string, data any) ([]byte, error) {
	payload, err := json.Marshal(outbound{Type: eventType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", eventType, err)
	}
	return payload, nil
}

// Decode разбирает входящий конверт
func Decode(raw []byte) (models.Envelope, error) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: malformed message: %v", models.ErrValidation, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: message type is required", models.ErrValidation)
	}
	return env, nil
}

// DecodeData разбирает поле data конверта в dst
func DecodeData(env models.Envelope, dst any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: %s data is required", models.ErrValidation, env.Type)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: malformed %s data: %v", models.ErrValidation, env.Type, err)
	}
	return nil
}

// message - закодированный конверт вместе с типом для метрик
type message struct {
	kind    string
	payload []byte
}

func newMessage(eventType string, data any) (message, error) {
	payload, err := Encode(eventType, data)
	if err != nil {
		return message{}, err
	}
	return message{kind: eventType, payload: payload}, nil
}

func mustMessage(eventType string, data any) message {
	m, err := newMessage(eventType, data)
	if err != nil {
		// служебные типы событий всегда сериализуемы
		panic(err)
	}
	return m
}
