package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefinitions_BuiltinsWithoutFile(t *testing.T) {
	defs, err := LoadDefinitions("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := defs.Names(); len(got) != 2 || got[0] != RequesterAgent || got[1] != SpecialistAgent {
		t.Fatalf("unexpected names: %v", got)
	}
	req, _ := defs.Get(RequesterAgent)
	if !req.Allows("send_message_to_specialist") {
		t.Fatal("requester should be able to notify specialists")
	}
}

func TestLoadDefinitions_MissingFileUsesBuiltins(t *testing.T) {
	defs, err := LoadDefinitions(filepath.Join(t.TempDir(), "agents.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := defs.Get(SpecialistAgent); !ok {
		t.Fatal("specialist built-in missing")
	}
}

func TestLoadDefinitions_OverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	yaml := `agents:
  - name: specialist
    audience: technicians
    instructions: Only record updates.
    tools: [get_open_tickets, update_ticket]
  - name: night_desk
    instructions: Handle night shift reports.
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sp, _ := defs.Get(SpecialistAgent)
	if sp.Instructions != "Only record updates." || sp.Allows("create_ticket") {
		t.Fatalf("specialist not overridden: %+v", sp)
	}
	night, ok := defs.Get("night_desk")
	if !ok || !night.Allows("create_ticket") {
		t.Fatal("definition without tools should allow every tool")
	}
	if _, ok := defs.Get(RequesterAgent); !ok {
		t.Fatal("built-in requester should remain")
	}
}

func TestLoadDefinitions_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	yaml := `agents:
  - name: ""
    instructions: x
  - name: broken
    instructions: y
    tools: [shell]
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadDefinitions(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "name is required") || !strings.Contains(err.Error(), `unknown tool "shell"`) {
		t.Fatalf("expected all problems reported, got %v", err)
	}
}

type phoneSet map[string]bool

func (p phoneSet) IsSpecialist(phone string) bool { return p[phone] }

func TestSelector(t *testing.T) {
	s := NewSelector(phoneSet{"5511": true})
	if s.Select("5511") != SpecialistAgent {
		t.Fatal("specialist phone should select the specialist agent")
	}
	if s.Select("5522") != RequesterAgent {
		t.Fatal("unknown phone should select the requester agent")
	}
	var nilSel *Selector
	if nilSel.Select("5511") != RequesterAgent {
		t.Fatal("nil selector should default to requester")
	}
}

func TestSystemPrompt_Context(t *testing.T) {
	def := Definition{Name: "x", Audience: "staff", Instructions: "Be nice."}
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	got := SystemPrompt(def, Meta{SenderPhone: "5511999", SenderName: "Maria", Now: now})

	for _, want := range []string{"Be nice.", "talking to staff", "Sender phone number: 5511999", "Sender name: Maria", "2026-03-04T10:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}
