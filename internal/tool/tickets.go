package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hkbot/internal/domain"
)

// GetOpenTicketsTool lists open tickets, newest first.
type GetOpenTicketsTool struct {
	tickets domain.TicketStore
}

func NewGetOpenTicketsTool(tickets domain.TicketStore) *GetOpenTicketsTool {
	return &GetOpenTicketsTool{tickets: tickets}
}

func (t *GetOpenTicketsTool) Name() string { return "get_open_tickets" }

func (t *GetOpenTicketsTool) Description() string {
	return "List all open maintenance tickets, newest first. Check it before creating a ticket to avoid duplicates."
}

func (t *GetOpenTicketsTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *GetOpenTicketsTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	tickets, err := t.tickets.OpenTickets(ctx)
	if err != nil {
		return Fail(err.Error(), "Could not load open tickets",
			map[string]any{"tickets": []domain.Ticket{}, "count": 0}).String(), nil
	}
	return OK("", map[string]any{"tickets": tickets, "count": len(tickets)}).String(), nil
}

// CreateTicketTool opens a new ticket.
type CreateTicketTool struct {
	tickets domain.TicketStore
}

func NewCreateTicketTool(tickets domain.TicketStore) *CreateTicketTool {
	return &CreateTicketTool{tickets: tickets}
}

func (t *CreateTicketTool) Name() string { return "create_ticket" }

func (t *CreateTicketTool) Description() string {
	return "Open a new maintenance ticket for a reported problem."
}

func (t *CreateTicketTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"description":            {Type: "string", Description: "What is broken and where"},
		"opened_by_phone_number": {Type: "string", Description: "Phone number of the person reporting; defaults to the current sender"},
		"latest":                 {Type: "string", Description: "Latest status note"},
	}, []string{"description"})
}

func (t *CreateTicketTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	desc := strings.TrimSpace(ArgsString(args, "description"))
	if desc == "" {
		return Fail("description is required", "Provide a description of the problem", nil).String(), nil
	}
	openedBy := strings.TrimSpace(ArgsString(args, "opened_by_phone_number"))
	if openedBy == "" {
		if conv, ok := ConversationFromContext(ctx); ok {
			openedBy = conv.SenderPhone
		}
	}

	ticket, err := t.tickets.CreateTicket(ctx, domain.Ticket{
		Description:         desc,
		OpenedByPhoneNumber: openedBy,
		Latest:              ArgsString(args, "latest"),
	})
	if err != nil {
		return Fail(err.Error(), "Failed to create ticket", nil).String(), nil
	}
	return OK(fmt.Sprintf("Ticket created successfully with ID: %s", ticket.ID),
		map[string]any{"ticket": ticket}).String(), nil
}

// UpdateTicketTool applies a partial update to an existing ticket.
type UpdateTicketTool struct {
	tickets domain.TicketStore
}

func NewUpdateTicketTool(tickets domain.TicketStore) *UpdateTicketTool {
	return &UpdateTicketTool{tickets: tickets}
}

func (t *UpdateTicketTool) Name() string { return "update_ticket" }

func (t *UpdateTicketTool) Description() string {
	return "Update fields of an existing ticket. Only the fields provided are changed; set is_open to false to close it."
}

func (t *UpdateTicketTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"ticket_id":              {Type: "string", Description: "ID of the ticket to update"},
		"description":            {Type: "string", Description: "New description"},
		"opened_by_phone_number": {Type: "string", Description: "New reporter phone number"},
		"latest":                 {Type: "string", Description: "Latest status note"},
		"is_open":                {Type: "boolean", Description: "false closes the ticket"},
	}, []string{"ticket_id"})
}

func (t *UpdateTicketTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	id := strings.TrimSpace(ArgsString(args, "ticket_id"))
	if id == "" {
		return Fail("ticket_id is required", "Provide the ID of the ticket to update", nil).String(), nil
	}

	isOpen, err := ArgsBool(args, "is_open")
	if err != nil {
		return Fail(err.Error(), "is_open must be true or false", nil).String(), nil
	}
	patch := domain.TicketPatch{
		Description:         ArgsOptionalString(args, "description"),
		OpenedByPhoneNumber: ArgsOptionalString(args, "opened_by_phone_number"),
		Latest:              ArgsOptionalString(args, "latest"),
		IsOpen:              isOpen,
	}
	if patch.Empty() {
		return Fail("No fields provided to update",
			"At least one field must be provided to update the ticket", nil).String(), nil
	}

	ticket, err := t.tickets.UpdateTicket(ctx, id, patch)
	switch {
	case errors.Is(err, domain.ErrTicketNotFound):
		return Fail("Ticket not found", fmt.Sprintf("No ticket found with ID: %s", id), nil).String(), nil
	case err != nil:
		return Fail(err.Error(), "Failed to update ticket", nil).String(), nil
	}
	return OK(fmt.Sprintf("Ticket %s updated successfully. Updated fields: %s", id, strings.Join(patch.Fields(), ", ")),
		map[string]any{"ticket": ticket}).String(), nil
}
