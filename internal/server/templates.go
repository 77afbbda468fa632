package server

import (
	_ "embed"
	"html/template"
)

//go:embed templates/email_form.html
var emailFormTemplateHTML string

//go:embed templates/email_sent.html
var emailSentTemplateHTML string

var emailFormTemplate = template.Must(template.New("email_form").Parse(emailFormTemplateHTML))
var emailSentTemplate = template.Must(template.New("email_sent").Parse(emailSentTemplateHTML))

// EmailFormData represents the data for the magic-link request page
type EmailFormData struct {
	Action    string
	Email     string
	Message   string
	CSRFToken string
}

// EmailSentData represents the data for the confirmation page
type EmailSentData struct {
	Email string
}
