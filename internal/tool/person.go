package tool

import (
	"context"

	"hkbot/internal/domain"
)

// PersonLookup is satisfied by the specialist directory.
type PersonLookup interface {
	ByType(t domain.Profession) []domain.Person
}

// GetPersonTool lists the specialists of one profession.
type GetPersonTool struct {
	people PersonLookup
}

func NewGetPersonTool(people PersonLookup) *GetPersonTool {
	return &GetPersonTool{people: people}
}

func (t *GetPersonTool) Name() string { return "get_person" }

func (t *GetPersonTool) Description() string {
	return "Find the specialists of a given profession with their phone numbers. " +
		"Use it to pick who should receive a maintenance request."
}

func (t *GetPersonTool) Parameters() map[string]any {
	types := make([]string, 0, len(domain.Professions()))
	for _, p := range domain.Professions() {
		types = append(types, string(p))
	}
	return ToolParameters(map[string]Param{
		"type": {Type: "string", Description: "Profession of the specialist", Enum: types},
	}, []string{"type"})
}

func (t *GetPersonTool) Execute(_ context.Context, args map[string]any) (string, error) {
	prof := domain.Profession(ArgsString(args, "type"))
	if !prof.Valid() {
		return Fail("Invalid type", "type must be one of the listed professions",
			map[string]any{"people": []domain.Person{}, "count": 0}).String(), nil
	}
	people := t.people.ByType(prof)
	return OK("", map[string]any{"people": people, "count": len(people)}).String(), nil
}
