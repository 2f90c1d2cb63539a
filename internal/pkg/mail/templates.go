package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

type notificationTemplate struct {
	subject string
	body    *template.Template
}

var notificationTemplates = map[string]notificationTemplate{
	"subscription_activated": {
		subject: "Your subscription is active",
		body:    template.Must(template.New("activated").Parse(`<p>Hi {{.name}},</p><p>your <b>{{.plan_id}}</b> plan is active until {{.end_date}}.</p>`)),
	},
	"subscription_queued": {
		subject: "Your next subscription is scheduled",
		body:    template.Must(template.New("queued").Parse(`<p>Hi {{.name}},</p><p>your <b>{{.plan_id}}</b> plan starts on {{.start_date}}, right after the current period.</p>`)),
	},
	"payment_declined": {
		subject: "Your payment did not go through",
		body:    template.Must(template.New("declined").Parse(`<p>Hi {{.name}},</p><p>the payment for <b>{{.plan_id}}</b> was not completed. No charge was applied.</p>`)),
	},
	"subscription_promoted": {
		subject: "Your scheduled subscription has started",
		body:    template.Must(template.New("promoted").Parse(`<p>Hi {{.name}},</p><p>your <b>{{.plan_id}}</b> plan is now active until {{.end_date}}.</p>`)),
	},
	"subscription_reverted": {
		subject: "Your subscription has ended",
		body:    template.Must(template.New("reverted").Parse(`<p>Hi {{.name}},</p><p>your paid plan expired and your account is back on the free tier.</p>`)),
	},
	"withdrawal_requested": {
		subject: "Withdrawal request received",
		body:    template.Must(template.New("requested").Parse(`<p>Hi {{.name}},</p><p>we received your withdrawal request #{{.withdrawal_id}} for {{.amount}} (net {{.net_amount}}).</p>`)),
	},
	"withdrawal_approved": {
		subject: "Withdrawal approved",
		body:    template.Must(template.New("approved").Parse(`<p>Hi {{.name}},</p><p>withdrawal #{{.withdrawal_id}} for {{.net_amount}} was approved.</p>`)),
	},
	"withdrawal_denied": {
		subject: "Withdrawal denied",
		body:    template.Must(template.New("denied").Parse(`<p>Hi {{.name}},</p><p>withdrawal #{{.withdrawal_id}} was denied.{{if .note}} Note: {{.note}}{{end}}</p>`)),
	},
}

// RenderNotification returns subject and HTML body for a notification kind.
func RenderNotification(kind string, data map[string]string) (string, string, error) {
	tpl, ok := notificationTemplates[kind]
	if !ok {
		return "", "", fmt.Errorf("no mail template for %q", kind)
	}
	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", kind, err)
	}
	return tpl.subject, buf.String(), nil
}
