package session

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/valet/pkg/models"
)

func TestState_AppendCapsHistory(t *testing.T) {
	state := NewState()
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 60; i++ {
		state.Append(models.RoleUser, fmt.Sprintf("msg %d", i), now)
	}

	if len(state.History) != maxHistory {
		t.Fatalf("history length = %d, want %d", len(state.History), maxHistory)
	}
	if state.History[0].Content != "msg 10" {
		t.Errorf("oldest surviving entry = %q, want %q", state.History[0].Content, "msg 10")
	}
	if state.History[len(state.History)-1].Content != "msg 59" {
		t.Errorf("newest entry = %q", state.History[len(state.History)-1].Content)
	}
}

func TestState_DecodeNormalizes(t *testing.T) {
	state, err := decodeState([]byte(`{}`))
	if err != nil {
		t.Fatalf("decodeState() error = %v", err)
	}
	if state.History == nil || state.Preferences == nil {
		t.Error("decoded state should have non-nil collections")
	}
}

func TestState_JSONShape(t *testing.T) {
	state := NewState()
	state.Preferences["nickname"] = "Sam"
	state.Rate.Count = 3
	state.Append(models.RoleUser, "hi", time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC))

	blob, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(blob, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"history", "preferences", "rateLimit", "lastActive"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("blob missing field %q", field)
		}
	}
	if _, ok := decoded["pendingAction"]; ok {
		t.Error("nil pending action should be omitted from the blob")
	}
}
