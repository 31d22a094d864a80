package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"calnews/internal/config"
	"calnews/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Data is everything the newsletter template reads.
type Data struct {
	Profile config.Profile
	// Date is the human date line under the cover image.
	Date   string
	Year   int
	Before []model.Event
	After  []model.Event
}

// NewData assembles template data for the given buckets, formatting dates in
// loc.
func NewData(p config.Profile, b model.Buckets, now time.Time, loc *time.Location) Data {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	before := make([]model.Event, len(b.Before))
	for i, ev := range b.Before {
		ev.Date = ev.Date.In(loc)
		before[i] = ev
	}
	after := make([]model.Event, len(b.After))
	for i, ev := range b.After {
		ev.Date = ev.Date.In(loc)
		after[i] = ev
	}
	return Data{
		Profile: p,
		Date:    LongDate(local),
		Year:    local.Year(),
		Before:  before,
		After:   after,
	}
}

// Renderer executes the embedded newsletter template.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded template.
func New() (*Renderer, error) {
	tmpl, err := template.New("newsletter.html.tmpl").
		Funcs(template.FuncMap{
			"eventDate": func(t time.Time) string { return t.Format("Monday, January 2 · 3:04 PM") },
			"shortDate": func(t time.Time) string { return t.Format("Jan 2") },
		}).
		ParseFS(templateFS, "templates/newsletter.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("render: parsing template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render produces the HTML email body.
func (r *Renderer) Render(d Data) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render: executing template: %w", err)
	}
	return buf.String(), nil
}

// PlainText converts a rendered newsletter to a Markdown-flavoured plain
// text alternative for mail clients that do not display HTML.
func PlainText(html string) (string, error) {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("render: converting to text: %w", err)
	}
	return md, nil
}

// LongDate formats t like "Thursday, October 15th 2026".
func LongDate(t time.Time) string {
	return fmt.Sprintf("%s, %s %d%s %d", t.Weekday(), t.Month(), t.Day(), ordinal(t.Day()), t.Year())
}

func ordinal(n int) string {
	switch {
	case n%100 >= 11 && n%100 <= 13:
		return "th"
	case n%10 == 1:
		return "st"
	case n%10 == 2:
		return "nd"
	case n%10 == 3:
		return "rd"
	default:
		return "th"
	}
}
