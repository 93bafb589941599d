package tmpl

import (
	"bytes"
	"text/template"
)

// Render renders a text/template with missing keys treated as errors, which
// surfaces typos in PR title and body templates instead of emitting "<no value>".
func Render(name, text string, data interface{}) (string, error) {
	tpl := template.New(name).Option("missingkey=error")
	tpl, err := tpl.Parse(text)
	if err != nil {
		return "", err
	}
	buf := &bytes.Buffer{}
	if err := tpl.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
