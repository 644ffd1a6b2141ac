package session

import (
	"strings"
	"testing"

	"github.com/haasonsaas/valet/pkg/models"
)

func TestBuildSystemPrompt_WithTools(t *testing.T) {
	tools := []models.Tool{
		{Name: "battery_status", Description: "Report battery level"},
		{Name: "send_imessage", Description: "Send an iMessage", InputSchema: []byte(`{"type":"object"}`)},
	}
	prompt := BuildSystemPrompt(tools, nil)

	for _, want := range []string{
		"battery_status: Report battery level",
		"send_imessage: Send an iMessage",
		`{"type":"object"}`,
		"```action",
		"```schedule",
		"```preference",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildSystemPrompt_NoTools(t *testing.T) {
	prompt := BuildSystemPrompt(nil, nil)
	if !strings.Contains(prompt, "No tools are available") {
		t.Error("prompt should state that no tools are available")
	}
	if strings.Contains(prompt, "```action") {
		t.Error("prompt should not teach the action fence without tools")
	}
	// Scheduling and preferences still work without a catalog.
	if !strings.Contains(prompt, "```schedule") {
		t.Error("prompt should keep the schedule fence")
	}
}

func TestBuildSystemPrompt_PreferencesSorted(t *testing.T) {
	prefs := map[string]string{"zeta": "z", "alpha": "a", "mid": "m"}
	prompt := BuildSystemPrompt(nil, prefs)

	alpha := strings.Index(prompt, "alpha: a")
	mid := strings.Index(prompt, "mid: m")
	zeta := strings.Index(prompt, "zeta: z")
	if alpha == -1 || mid == -1 || zeta == -1 {
		t.Fatalf("prompt missing preferences: %q", prompt)
	}
	if !(alpha < mid && mid < zeta) {
		t.Error("preferences should be listed in sorted key order")
	}
}
