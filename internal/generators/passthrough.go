// Package generators holds stock payload generators for the corpman CLI.
package generators

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/ivoronin/corpman/internal/corpman"
	"github.com/ivoronin/corpman/internal/testcase"
)

// StatusURL is the dynamic response Passthrough registers to report the
// active template.
const StatusURL = "/status"

var landingTmpl = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Landing}}</title>
<script>
window.addEventListener("load", () => {
  setTimeout(() => { window.location.replace("/{{.Redirect}}"); }, {{.DelayMs}});
});
</script>
</head>
<body{{if .MimeType}} data-template-type="{{.MimeType}}"{{end}}>
<iframe src="{{.Template}}" width="100%" height="100%"></iframe>
</body>
</html>
`))

// Passthrough serves each template unchanged inside an iframe on the
// landing page, which then navigates to the redirect page.
type Passthrough struct {
	Delay       time.Duration     // Time on page before navigating away
	RequiredEnv []string          // Variables that must be set in the environment
	EnvDefaults map[string]string // Variables declared with a fallback value
	Includes    map[string]string // URL path -> directory served alongside test cases

	m *corpman.Manager
}

// Key implements corpman.Generator.
func (*Passthrough) Key() string { return "passthrough" }

// InitFuzzer implements corpman.Initializer.
func (p *Passthrough) InitFuzzer(m *corpman.Manager) error {
	p.m = m
	m.AddDynamicResponse(StatusURL, p.status, "text/plain")

	for _, name := range p.RequiredEnv {
		if err := m.AddRequiredEnvVar(name); err != nil {
			return err
		}
	}
	for name, def := range p.EnvDefaults {
		if err := m.AddRequiredEnvVarDefault(name, def); err != nil {
			return err
		}
	}
	for urlPath, dir := range p.Includes {
		if err := m.AddInclude(urlPath, dir); err != nil {
			return err
		}
	}
	return nil
}

func (p *Passthrough) status() []byte {
	return []byte(p.m.ActiveFileName())
}

// Generate implements corpman.Generator.
func (p *Passthrough) Generate(tc *testcase.TestCase, redirectPage, mimeType string) (*testcase.TestCase, error) {
	active := p.m.ActiveInput()
	data, err := active.Data()
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}

	name := "template"
	if active.Extension != "" {
		name += "." + active.Extension
	}
	tc.AddTestFile(testcase.NewTestFile(name, data))

	var page bytes.Buffer
	err = landingTmpl.Execute(&page, struct {
		Landing, Redirect, Template, MimeType string
		DelayMs                               int64
	}{
		Landing:  tc.LandingPage,
		Redirect: redirectPage,
		Template: name,
		MimeType: mimeType,
		DelayMs:  p.Delay.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("render landing page: %w", err)
	}
	tc.AddTestFile(testcase.NewTestFile(tc.LandingPage, page.Bytes()))
	return tc, nil
}
