package behavior

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

func TestContactKindOf(t *testing.T) {
	rules := config.DefaultContactFieldRules()

	tests := []struct {
		name  string
		field FormField
		kind  models.ContactKind
		ok    bool
	}{
		{"email type", FormField{Type: "email"}, models.ContactEmail, true},
		{"tel type", FormField{Type: "tel"}, models.ContactPhone, true},
		{"email by id", FormField{ID: "contact-email"}, models.ContactEmail, true},
		{"phone by placeholder", FormField{Placeholder: "Mobile number"}, models.ContactPhone, true},
		{"name by class", FormField{Class: "form-control first-name"}, models.ContactName, true},
		{"password excluded", FormField{Type: "password", Name: "name"}, "", false},
		{"search field", FormField{Name: "min_price"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := ContactKindOf(tt.field, rules)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestNormalizeContact(t *testing.T) {
	v, ok := NormalizeContact(models.ContactPhone, " (512) 555-0100 ")
	assert.True(t, ok)
	assert.Equal(t, "(512) 555-0100", v)

	_, ok = NormalizeContact(models.ContactPhone, "555")
	assert.False(t, ok)

	_, ok = NormalizeContact(models.ContactName, "J")
	assert.False(t, ok)

	_, ok = NormalizeContact(models.ContactEmail, "   ")
	assert.False(t, ok)
}

func TestClassifyClick(t *testing.T) {
	rules := config.DefaultClickRules()

	assert.Equal(t, ClickContact, ClassifyClick(ClickTarget{Href: "mailto:agent@example.com"}, rules))
	assert.Equal(t, ClickContact, ClassifyClick(ClickTarget{Class: "btn", Text: "Request a Showing"}, rules))
	assert.Equal(t, ClickProperty, ClassifyClick(ClickTarget{Class: "photo-thumb"}, rules))
	assert.Equal(t, ClickProperty, ClassifyClick(ClickTarget{Href: "/listing/44"}, rules))
	assert.Equal(t, ClickGeneric, ClassifyClick(ClickTarget{Text: "Blog"}, rules))
}
