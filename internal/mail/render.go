// Package mail renders the account emails and hands them to an SMTP server.
package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// Template names.  They double as the file names under templates/.
const (
	Welcome         = "welcome"
	VerifyEmail     = "verify-email"
	ResetPassword   = "reset-password"
	PasswordChanged = "password-changed"
)

var subjects = map[string]string{
	Welcome:         "Welcome to %s",
	VerifyEmail:     "Verify Your Email Address",
	ResetPassword:   "Reset Your Password",
	PasswordChanged: "Your Password Has Been Changed",
}

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// Data is what a template can reference.
type Data struct {
	Product   string
	Name      string
	URL       string
	ExpiresIn string
}

// Message is a rendered email ready to send.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type pair struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

// Renderer holds the parsed templates.  It is safe for concurrent use.
type Renderer struct {
	product string
	sets    map[string]pair
}

// NewRenderer parses every embedded template.  product is the name shown in
// subjects and headers.
func NewRenderer(product string) (*Renderer, error) {
	r := &Renderer{product: product, sets: make(map[string]pair, len(subjects))}
	for name := range subjects {
		h, err := htmltemplate.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s.html: %w", name, err)
		}
		t, err := texttemplate.ParseFS(templateFS, "templates/"+name+".txt")
		if err != nil {
			return nil, fmt.Errorf("parse %s.txt: %w", name, err)
		}
		r.sets[name] = pair{html: h, text: t}
	}
	return r, nil
}

// Render produces the message for template name addressed to to.
func (r *Renderer) Render(name, to string, data Data) (Message, error) {
	set, ok := r.sets[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown email template %q", name)
	}
	if data.Product == "" {
		data.Product = r.product
	}
	var html, text bytes.Buffer
	if err := set.html.ExecuteTemplate(&html, "layout", data); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", name, err)
	}
	if err := set.text.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", name, err)
	}
	subject := subjects[name]
	if name == Welcome {
		subject = fmt.Sprintf(subject, data.Product)
	}
	return Message{To: to, Subject: subject, HTML: html.String(), Text: text.String()}, nil
}
