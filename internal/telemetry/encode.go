package telemetry

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"projectilelab/server/internal/lab"
)

var jsonOptions = protojson.MarshalOptions{UseProtoNames: true}

// ToStruct converts any JSON-encodable value into a protobuf Struct by way of its
// JSON form, so the wire field names match the REST and websocket payloads.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("convert %T to struct: %w", v, err)
	}
	return msg, nil
}

// MarshalJSON renders a protobuf message as JSON text.
func MarshalJSON(msg proto.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}
	return jsonOptions.Marshal(msg)
}

// TelemetryStruct renders a lab telemetry update as a typed Struct: the update's
// fields plus a "type" discriminator shared with event envelopes.
func TelemetryStruct(update lab.Telemetry) (*structpb.Struct, error) {
	msg, err := ToStruct(update)
	if err != nil {
		return nil, err
	}
	msg.Fields["type"] = structpb.NewStringValue("telemetry")
	return msg, nil
}

// CommandFromStruct decodes a control request Struct into a lab command.
func CommandFromStruct(msg *structpb.Struct) (lab.Command, error) {
	if msg == nil {
		return lab.Command{}, fmt.Errorf("%w: empty request", lab.ErrInvalidCommand)
	}
	data, err := protojson.Marshal(msg)
	if err != nil {
		return lab.Command{}, fmt.Errorf("%w: %v", lab.ErrInvalidCommand, err)
	}
	return lab.DecodeCommand(data)
}
