package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// TemplateKind identifies which email a template renders.
type TemplateKind string

const (
	TemplateInitial  TemplateKind = "INITIAL"
	TemplateFollowup TemplateKind = "FOLLOWUP"
)

func (k TemplateKind) String() string { return string(k) }

func (k TemplateKind) IsValid() bool {
	switch k {
	case TemplateInitial, TemplateFollowup:
		return true
	}
	return false
}

func ParseTemplateKindFromString(s string) (TemplateKind, error) {
	k := TemplateKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid template kind %q", ErrValidation, s)
	}
	return k, nil
}

// Template holds subject and body with {name}, {id}, {email} and
// {followup_number} placeholders.
type Template struct {
	Kind    TemplateKind
	Subject string
	Body    string
}

func DefaultTemplate(kind TemplateKind) Template {
	if kind == TemplateFollowup {
		return Template{
			Kind:    TemplateFollowup,
			Subject: "Just following up, {name} [#{id}]",
			Body:    "Hi {name},\n\nJust bumping this to the top of your inbox. Would love to hear your thoughts.\n\nThanks!",
		}
	}
	return Template{
		Kind:    TemplateInitial,
		Subject: "Hi {name}, quick question for you [#{id}]",
		Body:    "Hi {name},\n\nI wanted to reach out with a quick question. Do you have a few minutes this week?\n\nBest regards",
	}
}

func (t Template) Validate() error {
	if !t.Kind.IsValid() {
		return fmt.Errorf("%w: invalid template kind %q", ErrValidation, t.Kind)
	}
	if strings.TrimSpace(t.Subject) == "" {
		return fmt.Errorf("%w: template subject is required", ErrValidation)
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: template body is required", ErrValidation)
	}
	return nil
}

// Render fills placeholders for contact. followupNumber is 0 for the initial email.
func (t Template) Render(contact Contact, followupNumber int) (subject, body string) {
	name := strings.TrimSpace(contact.Name)
	if name == "" {
		name = "there"
	}
	r := strings.NewReplacer(
		"{name}", name,
		"{id}", contact.ID,
		"{email}", contact.Email,
		"{followup_number}", strconv.Itoa(followupNumber),
	)
	return r.Replace(t.Subject), r.Replace(t.Body)
}
