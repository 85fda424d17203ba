package domain

import "time"

type Ticket struct {
	ID                  string    `json:"id"`
	Description         string    `json:"description"`
	OpenedByPhoneNumber string    `json:"opened_by_phone_number"`
	Latest              string    `json:"latest"`
	IsOpen              bool      `json:"is_open"`
	CreatedAt           time.Time `json:"created_at"`
}

// TicketPatch carries a partial ticket update. Nil fields are left untouched.
type TicketPatch struct {
	Description         *string
	OpenedByPhoneNumber *string
	Latest              *string
	IsOpen              *bool
}

func (p TicketPatch) Empty() bool {
	return len(p.Fields()) == 0
}

// Fields lists the column names the patch touches, in a stable order.
func (p TicketPatch) Fields() []string {
	var fields []string
	if p.Description != nil {
		fields = append(fields, "description")
	}
	if p.OpenedByPhoneNumber != nil {
		fields = append(fields, "opened_by_phone_number")
	}
	if p.Latest != nil {
		fields = append(fields, "latest")
	}
	if p.IsOpen != nil {
		fields = append(fields, "is_open")
	}
	return fields
}

// Apply copies the patched fields onto t.
func (p TicketPatch) Apply(t *Ticket) {
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.OpenedByPhoneNumber != nil {
		t.OpenedByPhoneNumber = *p.OpenedByPhoneNumber
	}
	if p.Latest != nil {
		t.Latest = *p.Latest
	}
	if p.IsOpen != nil {
		t.IsOpen = *p.IsOpen
	}
}
