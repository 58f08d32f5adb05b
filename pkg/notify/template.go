package notify

import (
	"fmt"
	"strconv"
	"strings"
)

// Template is a rendered subject/body pair keyed by name.
type Template struct {
	Name     string
	Subject  string
	TextBody string
	HTMLBody string
}

// Data is the variable bag a template renders against. Scalars go in
// Vars; repeated sections go in Lists, each item itself a Data (so
// {{item}} inside a list block can reference nested scalars by name
// via Vars, with "item" bound to item.Vars["item"] and "index" to the
// 0-based position).
type Data struct {
	Vars  map[string]string
	Lists map[string][]Data
}

// Render expands {{var}}, {{var|default}}, {{#list}}...{{/list}}, and
// {{?var}}...{{/var}} against data. Unknown variables render empty
// unless a default is given.
func Render(tmpl string, data Data) string {
	return renderSections(tmpl, data)
}

func renderSections(tmpl string, data Data) string {
	var out strings.Builder
	i := 0
	for i < len(tmpl) {
		open := strings.Index(tmpl[i:], "{{")
		if open < 0 {
			out.WriteString(tmpl[i:])
			break
		}
		out.WriteString(tmpl[i : i+open])
		i += open

		close := strings.Index(tmpl[i:], "}}")
		if close < 0 {
			out.WriteString(tmpl[i:])
			break
		}
		tag := tmpl[i+2 : i+close]
		i += close + 2

		switch {
		case strings.HasPrefix(tag, "#"):
			name := strings.TrimSpace(tag[1:])
			endTag := "{{/" + name + "}}"
			end := strings.Index(tmpl[i:], endTag)
			if end < 0 {
				continue
			}
			body := tmpl[i : i+end]
			i += end + len(endTag)
			for idx, item := range data.Lists[name] {
				itemData := item
				if itemData.Vars == nil {
					itemData.Vars = map[string]string{}
				}
				itemData.Vars["index"] = strconv.Itoa(idx)
				out.WriteString(renderSections(body, itemData))
			}
		case strings.HasPrefix(tag, "?"):
			name := strings.TrimSpace(tag[1:])
			endTag := "{{/" + name + "}}"
			end := strings.Index(tmpl[i:], endTag)
			if end < 0 {
				continue
			}
			body := tmpl[i : i+end]
			i += end + len(endTag)
			if data.Vars[name] != "" {
				out.WriteString(renderSections(body, data))
			}
		default:
			name, def, hasDef := strings.Cut(tag, "|")
			name = strings.TrimSpace(name)
			val, ok := data.Vars[name]
			if !ok || val == "" {
				if hasDef {
					val = def
				} else {
					val = ""
				}
			}
			out.WriteString(val)
		}
	}
	return out.String()
}

// RenderTemplate looks up name and renders both subject and bodies.
func RenderTemplate(name string, data Data) (Template, error) {
	tmpl, ok := Templates[name]
	if !ok {
		return Template{}, fmt.Errorf("notify: unknown template %q", name)
	}
	return Template{
		Name:     name,
		Subject:  Render(tmpl.Subject, data),
		TextBody: Render(tmpl.TextBody, data),
		HTMLBody: Render(tmpl.HTMLBody, data),
	}, nil
}

// Templates holds the four canonical notification templates.
var Templates = map[string]Template{
	"critical-alert": {
		Subject:  "🚨 CRITICAL: {{title}}",
		TextBody: "Tenant: {{tenant}}\n{{message}}\n{{?bot}}Bot: {{bot}}\n{{/bot}}Fired at {{time}}.",
		HTMLBody: "<p><strong>{{title}}</strong></p><p>{{message}}</p>{{?bot}}<p>Bot: {{bot}}</p>{{/bot}}<p>Fired at {{time}}.</p>",
	},
	"warning-alert": {
		Subject:  "⚠️ WARNING: {{title}}",
		TextBody: "Tenant: {{tenant}}\n{{message}}\n{{?bot}}Bot: {{bot}}\n{{/bot}}Fired at {{time}}.",
		HTMLBody: "<p><strong>{{title}}</strong></p><p>{{message}}</p>{{?bot}}<p>Bot: {{bot}}</p>{{/bot}}<p>Fired at {{time}}.</p>",
	},
	"daily-report": {
		Subject: "Daily usage report for {{tenant}}",
		TextBody: "Cost: {{cost}} / {{budget|no limit set}}\n" +
			"{{#agents}}{{index}}. {{item}}\n{{/agents}}",
		HTMLBody: "<p>Cost: {{cost}} / {{budget|no limit set}}</p><ul>{{#agents}}<li>{{item}}</li>{{/agents}}</ul>",
	},
	"weekly-summary": {
		Subject: "Weekly summary for {{tenant}}",
		TextBody: "Total cost: {{cost}}\nTop providers:\n" +
			"{{#providers}}{{index}}. {{item}}\n{{/providers}}",
		HTMLBody: "<p>Total cost: {{cost}}</p><ol>{{#providers}}<li>{{item}}</li>{{/providers}}</ol>",
	},
}
