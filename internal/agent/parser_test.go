package agent

import "testing"

func TestToolCallsInText_SingleObject(t *testing.T) {
	calls := toolCallsInText(`{"name": "get_person", "arguments": {"type": "Plumber"}}`, 1)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "get_person" || calls[0].Arguments["type"] != "Plumber" {
		t.Fatalf("unexpected call: %+v", calls[0])
	}
	if calls[0].ID != "text_1_0" {
		t.Fatalf("unexpected id %q", calls[0].ID)
	}
}

func TestToolCallsInText_ParametersAndAliases(t *testing.T) {
	calls := toolCallsInText(`{"name": "Get-Open-Tickets", "parameters": {}}`, 2)
	if len(calls) != 1 || calls[0].Name != "get_open_tickets" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestToolCallsInText_ArrayInFenceWithProse(t *testing.T) {
	fenced := "```json\n[{\"name\": \"get_person\", \"arguments\": {\"type\": \"Electrician\"}}, {\"name\": \"get_open_tickets\"}]\n```"
	if calls := toolCallsInText(fenced, 1); len(calls) != 2 {
		t.Fatalf("expected 2 calls from fence, got %d", len(calls))
	}

	prose := "Sure.\n{\"name\": \"create_ticket\", \"arguments\": {\"description\": \"lamp {room 3}\"}}\nDone."
	calls := toolCallsInText(prose, 1)
	if len(calls) != 1 || calls[0].Arguments["description"] != "lamp {room 3}" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if calls[0].Arguments == nil {
		t.Fatal("arguments should never be nil")
	}
}

func TestToolCallsInText_NotACall(t *testing.T) {
	for _, in := range []string{
		"",
		"The plumber is on the way.",
		`{"name": "", "arguments": {}}`,
		`{"ticket": "123"}`,
	} {
		if calls := toolCallsInText(in, 1); len(calls) != 0 {
			t.Fatalf("%q: expected no calls, got %+v", in, calls)
		}
	}
}

func TestToolCallsInText_InvalidEscape(t *testing.T) {
	calls := toolCallsInText(`{"name": "create_ticket", "arguments": {"description": "100\% broken"}}`, 1)
	if len(calls) != 1 || calls[0].Arguments["description"] != "100% broken" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestStripRolePrefix(t *testing.T) {
	cases := map[string]string{
		"Assistant: Hello": "Hello",
		"assistant\nHello": "Hello",
		"Hello":            "Hello",
		"Assistants rule":  "Assistants rule",
	}
	for in, want := range cases {
		if got := stripRolePrefix(in); got != want {
			t.Errorf("stripRolePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
