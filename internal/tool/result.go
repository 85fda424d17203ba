package tool

import (
	"encoding/json"
	"maps"
)

// Result is the JSON envelope every tool returns to the agent. Data keys are
// flattened next to success/message/error.
type Result struct {
	Success bool
	Message string
	Error   string
	Data    map[string]any
}

func OK(message string, data map[string]any) Result {
	return Result{Success: true, Message: message, Data: data}
}

func Fail(errText, message string, data map[string]any) Result {
	return Result{Success: false, Error: errText, Message: message, Data: data}
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Data)+3)
	maps.Copy(out, r.Data)
	out["success"] = r.Success
	if r.Message != "" {
		out["message"] = r.Message
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// String renders the envelope as the tool output handed back to the model.
func (r Result) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"result encoding failed"}`
	}
	return string(b)
}
