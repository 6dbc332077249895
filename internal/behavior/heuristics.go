package behavior

import (
	"regexp"
	"strings"

	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

// FormField describes the form control an interaction happened on
type FormField struct {
	Tag         string `json:"tag"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	ID          string `json:"id"`
	Class       string `json:"class"`
	Placeholder string `json:"placeholder"`
	Value       string `json:"value"`
}

// Identifier returns the most specific name of the field
func (f FormField) Identifier() string {
	switch {
	case f.Name != "":
		return f.Name
	case f.ID != "":
		return f.ID
	}
	return f.Tag
}

// ClickTarget describes a clicked element
type ClickTarget struct {
	Tag   string `json:"tag"`
	ID    string `json:"id"`
	Class string `json:"class"`
	Href  string `json:"href"`
	Text  string `json:"text"`
}

// ClickCategory classifies click targets
type ClickCategory string

const (
	ClickContact  ClickCategory = "contact_action"
	ClickProperty ClickCategory = "property_related"
	ClickGeneric  ClickCategory = "generic"
)

// Capture is a contact value typed into a contact field
type Capture struct {
	Kind  models.ContactKind
	Value string
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ContactKindOf decides whether a form control collects contact details
func ContactKindOf(f FormField, rules config.ContactFieldRules) (models.ContactKind, bool) {
	switch strings.ToLower(f.Type) {
	case "email":
		return models.ContactEmail, true
	case "tel":
		return models.ContactPhone, true
	case "password", "hidden", "submit", "button", "checkbox", "radio":
		return "", false
	}

	haystack := strings.ToLower(strings.Join([]string{f.Name, f.ID, f.Class, f.Placeholder}, " "))
	switch {
	case containsAny(haystack, rules.Email):
		return models.ContactEmail, true
	case containsAny(haystack, rules.Phone):
		return models.ContactPhone, true
	case containsAny(haystack, rules.Name):
		return models.ContactName, true
	}
	return "", false
}

// NormalizeContact trims value and checks it is plausible for kind
func NormalizeContact(kind models.ContactKind, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	switch kind {
	case models.ContactEmail:
		return value, emailPattern.MatchString(value)
	case models.ContactPhone:
		digits := 0
		for _, r := range value {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		return value, digits >= 7
	case models.ContactName:
		return value, len([]rune(value)) >= 2
	}
	return "", false
}

// ClassifyClick sorts a click target into contact-action, property-related
// or generic using keyword rules over its class, id, href and text
func ClassifyClick(t ClickTarget, rules config.ClickRules) ClickCategory {
	haystack := strings.ToLower(strings.Join([]string{t.Class, t.ID, t.Href, t.Text}, " "))
	switch {
	case containsAny(haystack, rules.Contact):
		return ClickContact
	case containsAny(haystack, rules.Property):
		return ClickProperty
	}
	return ClickGeneric
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(s, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
