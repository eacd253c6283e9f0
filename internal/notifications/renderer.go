package notifications

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RenderInput bundles everything the renderer needs for one reminder.
type RenderInput struct {
	Shift   *domain.Shift
	Devices []domain.Device
	Kind    ReminderKind
}

// Renderer turns a (shift, kind, policy) triple into a subject/body pair by
// substituting named placeholders into the policy templates. It has no side
// effects; callers persist the result.
type Renderer struct {
	loc *time.Location
}

// NewRenderer creates a renderer that formats dates in the given location.
func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{loc: loc}
}

// Render substitutes the placeholder map built from the input into the
// policy's subject and body templates. A placeholder referenced by a
// template but absent from the map, or unbalanced braces, yield a
// *TemplateError — permanent failures from the caller's point of view.
func (r *Renderer) Render(input RenderInput, policy *domain.Policy) (subject, body string, err error) {
	fields := r.buildFields(input, policy)

	subject, err = substitute(policy.SubjectTemplate, fields)
	if err != nil {
		return "", "", err
	}

	body, err = substitute(policy.BodyTemplate, fields)
	if err != nil {
		return "", "", err
	}

	return subject, body, nil
}

var titleCaser = cases.Title(language.English)

// buildFields resolves the typed placeholder map for one shift.
func (r *Renderer) buildFields(input RenderInput, policy *domain.Policy) map[string]string {
	shift := input.Shift
	startsAt := shift.StartsAt(r.loc)

	activity := strings.TrimSpace(shift.Description)
	if activity == "" && len(input.Devices) > 0 {
		activity = strings.TrimSpace(input.Devices[0].Description)
	}
	if activity == "" {
		activity = policy.DefaultActivity
	}

	deviceList, brand, model := summarizeDevices(input.Devices)

	return map[string]string{
		"assignee":    titleCaser.String(strings.ToLower(shift.AssigneeName)),
		"date":        startsAt.Format("02/01/2006"),
		"time":        startsAt.Format("15:04"),
		"shift_date":  startsAt.Format("02 January 2006"),
		"device_list": deviceList,
		"brand":       brand,
		"model":       model,
		"activity":    activity,
		"duration":    strconv.Itoa(policy.SlotDurationMinutes),
		"kind":        input.Kind.Label(),
	}
}

// summarizeDevices renders the bulleted device list plus the brand/model
// placeholders. Multiple devices collapse brand and model into pointers at
// the list; no devices fall back to a generic hardware entry.
func summarizeDevices(devices []domain.Device) (list, brand, model string) {
	switch len(devices) {
	case 0:
		return "General computing equipment", "Hardware", "General"
	case 1:
		d := devices[0]
		return deviceLine(d), orDefault(d.Brand, "Hardware"), orDefault(d.Model, "General")
	default:
		lines := make([]string, len(devices))
		for i, d := range devices {
			lines[i] = deviceLine(d)
		}
		return strings.Join(lines, "\n"), "multiple brands", "see device list"
	}
}

func deviceLine(d domain.Device) string {
	code := d.InternalCode
	if code == "" {
		code = "N/A"
	}
	return fmt.Sprintf("- %s %s (code %s)", orDefault(d.Brand, "Hardware"), orDefault(d.Model, "General"), code)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// substitute replaces {name} references in tmpl with values from fields.
// There is no escape syntax: a '{' must open a placeholder and be closed
// before the next '{' or the end of the template.
func substitute(tmpl string, fields map[string]string) (string, error) {
	var out strings.Builder
	out.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		open := strings.IndexByte(tmpl[i:], '{')
		if open == -1 {
			rest := tmpl[i:]
			if strings.IndexByte(rest, '}') != -1 {
				return "", &TemplateError{Reason: "unbalanced braces"}
			}
			out.WriteString(rest)
			break
		}
		open += i

		if stray := strings.IndexByte(tmpl[i:open], '}'); stray != -1 {
			return "", &TemplateError{Reason: "unbalanced braces"}
		}
		out.WriteString(tmpl[i:open])

		closing := strings.IndexByte(tmpl[open:], '}')
		if closing == -1 {
			return "", &TemplateError{Reason: "unbalanced braces"}
		}
		closing += open

		name := tmpl[open+1 : closing]
		if strings.ContainsAny(name, "{ \n\t") || name == "" {
			return "", &TemplateError{Reason: fmt.Sprintf("malformed placeholder %q", "{"+name+"}")}
		}

		value, ok := fields[name]
		if !ok {
			return "", &TemplateError{Placeholder: name}
		}
		out.WriteString(value)

		i = closing + 1
	}

	return out.String(), nil
}
