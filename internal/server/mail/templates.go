package mail

import (
	"bytes"
	"html/template"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "layout"}}<!DOCTYPE html>
<html><head><meta http-equiv="Content-Type" content="text/html; charset=UTF-8" /></head>
<body style="font-family:system-ui,sans-serif;padding:.5rem">
<p>Hi {{.Username}},</p>
{{template "body" .}}
</body></html>{{end}}

{{define "verify"}}{{template "layout" .}}{{end}}
{{define "export"}}{{template "layout" .}}{{end}}
{{define "deleted"}}{{template "layout" .}}{{end}}
{{define "twofactor"}}{{template "layout" .}}{{end}}
{{define "code"}}{{template "layout" .}}{{end}}
{{define "moderation"}}{{template "layout" .}}{{end}}
{{define "moderated"}}{{template "layout" .}}{{end}}
{{define "password"}}{{template "layout" .}}{{end}}
`))

// bodies are parsed per message kind into a clone of templates, so that
// "body" resolves differently for each.
var bodies = map[string]string{
	"verify": `<p>Please confirm your email address by opening the link below.</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>The link expires in 24 hours.</p>`,

	"export": `<p>Your data export is ready.</p>
<p><a href="{{.Link}}">Download your data</a></p>
<p>The link is valid until {{.Expires}}. Reference: {{.Reference}}.</p>`,

	"deleted": `<p>Your account has been deleted together with its sessions and settings.</p>
<p>Compliance reference: {{.Reference}}</p>
<p>We keep only these digests of your details:<br>
email SHA-256 <code>{{.EmailHash}}</code><br>
username SHA-256 <code>{{.UsernameHash}}</code></p>
<p>If you did not request this, reply to this message.</p>`,

	"moderated": `<p>Your account was removed by a moderator for breaking the terms of use.</p>
<p>Quote reference {{.Reference}} if you want to appeal.</p>`,

	"password": `<p>The password of your account was changed on {{.When}}.</p>
<p>All other sessions were signed out. If this was not you, contact support immediately.</p>`,

	"twofactor": `<p>Two-factor authentication by {{.Method}} was {{if .Enabled}}enabled{{else}}disabled{{end}} on your account.</p>
<p>If this was not you, reset your password and review your active sessions.</p>`,

	"code": `<p>Your sign-in code is <strong>{{.Code}}</strong>.</p>
<p>It expires in {{.Expires}}.</p>`,

	"moderation": `<p>Moderator {{.Actor}} deleted account #{{.Target}}. Compliance reference: {{.Reference}}.</p>`,
}

var compiled = compileBodies()

func compileBodies() map[string]*template.Template {
	out := make(map[string]*template.Template, len(bodies))
	for name, body := range bodies {
		t := template.Must(templates.Clone())
		template.Must(t.New("body").Parse(body))
		out[name] = t
	}
	return out
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := compiled[name].ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
