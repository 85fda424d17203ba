package domain

import "strings"

type Profession string

const (
	Electrician     Profession = "Electrician"
	Plumber         Profession = "Plumber"
	FoodAndBeverage Profession = "Food & Beverage"
	Blacksmith      Profession = "Blacksmith"
	Receptionist    Profession = "Receptionist"
)

// Professions returns every supported specialist type.
func Professions() []Profession {
	return []Profession{Electrician, Plumber, FoodAndBeverage, Blacksmith, Receptionist}
}

func (p Profession) Valid() bool {
	for _, known := range Professions() {
		if p == known {
			return true
		}
	}
	return false
}

// Person is a specialist from the directory dataset.
type Person struct {
	Name  string     `json:"name" yaml:"name"`
	Phone string     `json:"phone" yaml:"phone"`
	Type  Profession `json:"type" yaml:"type"`
}

// NormalizePhone strips everything but digits so "+39 333-123" and "39333123" compare equal.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
