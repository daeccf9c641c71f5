package llm

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestItemCodecPreservesFailedToolResult(t *testing.T) {
	// ok=false must survive the round trip; a synthetic cancellation
	// result is exactly this shape.
	item := NewToolResult("call_7", "cancelled", false)

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Item
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.OK {
		t.Fatal("expected ok=false to survive the round trip")
	}
	if diff := cmp.Diff(item, back); diff != "" {
		t.Fatalf("item mismatch (-want +got):\n%s", diff)
	}
}

func TestItemCodecDiscriminatesKinds(t *testing.T) {
	items := []Item{
		{Kind: ItemMessage, ID: "itm_1", Role: RoleUser, Content: "hello"},
		{Kind: ItemToolCall, ID: "itm_2", CallID: "call_1", Name: "bash", Arguments: `{"command":"ls"}`},
		{Kind: ItemToolResult, CallID: "call_1", Output: "README.md", OK: true},
		{Kind: ItemReasoning, Text: "thinking"},
	}

	data, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back []Item
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(items, back); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestItemCodecToleratesUnknownType(t *testing.T) {
	var item Item
	if err := json.Unmarshal([]byte(`{"type":"future_thing","id":"itm_9"}`), &item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Kind != "future_thing" {
		t.Fatalf("expected kind preserved, got %q", item.Kind)
	}
}

func TestStripTransportRoundTrip(t *testing.T) {
	// A replayed item must decode semantically equal to the original
	// minus service-assigned fields.
	original := Item{Kind: ItemMessage, ID: "itm_42", Status: "completed", Role: RoleAssistant, Content: "done"}

	stripped := original.StripTransport()
	if stripped.ID != "" || stripped.Status != "" {
		t.Fatalf("expected transport fields cleared, got %+v", stripped)
	}

	data, err := json.Marshal(stripped)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Item
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := original
	want.ID = ""
	want.Status = ""
	if diff := cmp.Diff(want, back); diff != "" {
		t.Fatalf("replayed item mismatch (-want +got):\n%s", diff)
	}
	// Original is untouched.
	if original.ID != "itm_42" {
		t.Fatal("StripTransport mutated its receiver")
	}
}
