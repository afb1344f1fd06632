package notifier

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

// DefaultLowStockThreshold matches the "running low" warning shown to users.
const DefaultLowStockThreshold = 5

// Message is a rendered reminder.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

type messageView struct {
	Name      string
	Dosage    string
	Frequency string
	Notes     string
	Time      string
	PillsLeft int
	LowStock  bool
	Test      bool
}

var textTmpl = texttemplate.Must(texttemplate.New("text").Parse(`{{if .Test}}[TEST] {{end}}Medication Reminder

Time to take your medication: {{.Name}}

Time: {{.Time}}
Dosage: {{.Dosage}}
Frequency: {{.Frequency}}
Pills left: {{.PillsLeft}}{{if .LowStock}} (Running low!){{end}}
{{- if .Notes}}
Notes: {{.Notes}}
{{- end}}
{{- if .LowStock}}

Low stock alert: you have only {{.PillsLeft}} pills left. Consider refilling your prescription soon.
{{- end}}

Please remember to mark this dose as taken in medtrack.
`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
<h2>{{if .Test}}[TEST] {{end}}Medication Reminder</h2>
<p>Time to take your medication: <strong>{{.Name}}</strong></p>
<table>
<tr><td>Time</td><td>{{.Time}}</td></tr>
<tr><td>Dosage</td><td>{{.Dosage}}</td></tr>
<tr><td>Frequency</td><td>{{.Frequency}}</td></tr>
<tr><td>Pills left</td><td>{{.PillsLeft}}{{if .LowStock}} <strong style="color: #c0392b;">(Running low!)</strong>{{end}}</td></tr>
{{- if .Notes}}
<tr><td>Notes</td><td>{{.Notes}}</td></tr>
{{- end}}
</table>
{{- if .LowStock}}
<p style="color: #c0392b;">Low stock alert: you have only {{.PillsLeft}} pills left. Consider refilling your prescription soon.</p>
{{- end}}
<p>Please remember to mark this dose as taken in medtrack.</p>
</body>
</html>
`))

// Render builds subject and bodies for a reminder. Times are shown in loc
// (nil means UTC).
func Render(r Reminder, loc *time.Location, lowStock int) (Message, error) {
	if loc == nil {
		loc = time.UTC
	}
	if lowStock <= 0 {
		lowStock = DefaultLowStockThreshold
	}
	at := r.SentAt
	if at.IsZero() {
		at = r.DueAt
	}
	m := r.Medication
	v := messageView{
		Name:      m.Name,
		Dosage:    orDash(m.Dosage),
		Frequency: orDash(m.Frequency),
		Notes:     strings.TrimSpace(m.Notes),
		Time:      at.In(loc).Format("Mon, 02 Jan 2006 15:04 MST"),
		PillsLeft: m.QuantityLeft,
		LowStock:  m.QuantityLeft <= lowStock,
		Test:      r.Test,
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, v); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	if err := htmlTmpl.Execute(&html, v); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}

	subject := "Medication Reminder: " + m.Name
	if r.Test {
		subject = "[TEST] " + subject
	}
	return Message{Subject: subject, Text: text.String(), HTML: html.String()}, nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
