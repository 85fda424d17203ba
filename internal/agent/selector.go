package agent

// SpecialistChecker reports whether a phone number belongs to a specialist.
type SpecialistChecker interface {
	IsSpecialist(phone string) bool
}

// Selector picks the agent for an inbound sender: specialists talk to the
// specialist agent, everyone else to the requester agent.
type Selector struct {
	people SpecialistChecker
}

func NewSelector(people SpecialistChecker) *Selector {
	return &Selector{people: people}
}

func (s *Selector) Select(senderPhone string) string {
	if s != nil && s.people != nil && s.people.IsSpecialist(senderPhone) {
		return SpecialistAgent
	}
	return RequesterAgent
}
