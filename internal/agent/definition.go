package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	RequesterAgent  = "requester"
	SpecialistAgent = "specialist"
)

// Definition is one agent personality: who it talks to, how it behaves and
// which tools it may call. An empty Tools list allows every registered tool.
type Definition struct {
	Name         string   `yaml:"name"`
	Audience     string   `yaml:"audience"`
	Instructions string   `yaml:"instructions"`
	Tools        []string `yaml:"tools,omitempty"`
}

func (d Definition) Allows(tool string) bool {
	return len(d.Tools) == 0 || slices.Contains(d.Tools, tool)
}

var allTools = []string{
	"get_person",
	"get_open_tickets",
	"create_ticket",
	"update_ticket",
	"send_message_to_specialist",
}

const requesterInstructions = `You are the maintenance desk of a hotel. You talk to housekeeping staff over WhatsApp.

When someone reports a problem:
1. Work out which profession can fix it (Electrician, Plumber, Food & Beverage, Blacksmith, Receptionist).
   Ask one short question if the report is too vague to decide.
2. Call get_open_tickets and check whether the same problem is already reported. If it is, tell the
   requester and add the new information to that ticket with update_ticket instead of opening another.
3. Call get_person with the profession and pick a specialist.
4. Call send_message_to_specialist with a clear summary: what is wrong, where, and who reported it.
   Set include_recent_images when the requester sent photos of the problem.
   If sending fails, try another specialist of the same profession.
5. Call create_ticket with the description and the requester's phone number.
6. Reply to the requester confirming who was notified and the ticket ID.

Keep replies short and friendly, and answer in the language the requester used.`

const specialistInstructions = `You assist maintenance specialists (electricians, plumbers and other technicians) of a hotel over WhatsApp.

Specialists send status updates about the jobs they were given.
- Call get_open_tickets to find the ticket the update refers to. Ask which one if it is ambiguous.
- Record progress with update_ticket in the latest field.
- When the specialist says the job is done, set is_open to false.
- If the original reporter should know about the update, use send_message_to_specialist with their
  phone number (opened_by_phone_number on the ticket).

Reply with one or two sentences confirming what you recorded.`

// BuiltinDefinitions returns the default requester and specialist agents.
func BuiltinDefinitions() map[string]Definition {
	return map[string]Definition{
		RequesterAgent: {
			Name:         RequesterAgent,
			Audience:     "housekeeping staff reporting maintenance problems",
			Instructions: requesterInstructions,
			Tools:        slices.Clone(allTools),
		},
		SpecialistAgent: {
			Name:         SpecialistAgent,
			Audience:     "maintenance specialists reporting on their jobs",
			Instructions: specialistInstructions,
			Tools:        slices.Clone(allTools),
		},
	}
}

// Definitions is the set of agents available to the orchestrator.
type Definitions struct {
	byName map[string]Definition
}

type definitionsFile struct {
	Agents []Definition `yaml:"agents"`
}

// LoadDefinitions starts from the built-ins and overrides them with the
// agents declared in path. An empty path or a missing file returns the
// built-ins.
func LoadDefinitions(path string) (*Definitions, error) {
	defs := &Definitions{byName: BuiltinDefinitions()}
	if path == "" {
		return defs, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agent definitions: %w", err)
	}
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agent definitions %s: %w", path, err)
	}

	var errs []error
	for i, d := range f.Agents {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: name is required", i))
			continue
		}
		if strings.TrimSpace(d.Instructions) == "" {
			errs = append(errs, fmt.Errorf("agent %q: instructions are required", d.Name))
			continue
		}
		for _, t := range d.Tools {
			if !slices.Contains(allTools, t) {
				errs = append(errs, fmt.Errorf("agent %q: unknown tool %q", d.Name, t))
			}
		}
		defs.byName[d.Name] = d
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return defs, nil
}

func (d *Definitions) Get(name string) (Definition, bool) {
	def, ok := d.byName[name]
	return def, ok
}

func (d *Definitions) Names() []string {
	names := make([]string, 0, len(d.byName))
	for n := range d.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
