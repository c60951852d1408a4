package telemetry

import (
	"encoding/json"
	"errors"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/simulation"
)

func TestTelemetryStructUsesJSONFieldNames(t *testing.T) {
	msg, err := TelemetryStruct(lab.Telemetry{
		Kind:     lab.TelemetryFrame,
		Session:  "abc",
		Step:     12,
		Launched: true,
		Position: simulation.Vec2{X: 31.5, Y: 540},
		Readout:  simulation.Readout{Mach: 0.05},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fields := msg.GetFields()
	if fields["type"].GetStringValue() != "telemetry" || fields["session"].GetStringValue() != "abc" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["position"].GetStructValue().GetFields()["x"].GetNumberValue() != 31.5 {
		t.Fatalf("expected nested position, got %v", fields["position"])
	}
	if fields["readout"].GetStructValue().GetFields()["mach"].GetNumberValue() != 0.05 {
		t.Fatalf("expected nested readout, got %v", fields["readout"])
	}
	if _, ok := fields["target_hit"]; ok {
		t.Fatalf("false flags should be omitted")
	}

	raw, err := MarshalJSON(msg)
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("protojson output is not JSON: %v", err)
	}
	if decoded["kind"] != "frame" {
		t.Fatalf("unexpected kind %v", decoded["kind"])
	}
}

func TestCommandFromStruct(t *testing.T) {
	msg, err := structpb.NewStruct(map[string]any{"command": " Set_Wind ", "value": -3.5})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	cmd, err := CommandFromStruct(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Name != lab.CommandSetWind || cmd.Value == nil || *cmd.Value != -3.5 {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if _, err := CommandFromStruct(nil); !errors.Is(err, lab.ErrInvalidCommand) {
		t.Fatalf("expected invalid command for nil request, got %v", err)
	}
}

func TestMarshalJSONRejectsNil(t *testing.T) {
	if _, err := MarshalJSON(nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
}
