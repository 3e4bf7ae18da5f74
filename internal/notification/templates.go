package notification

import (
	"bytes"
	"html/template"
)

// Single shared template for notification emails: every recipient of a batch
// gets the same body with the title, message and redirect link interpolated.
const notificationEmailTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
    <style>
        body { background-color: #f6f9fc; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif; font-size: 16px; line-height: 1.5; margin: 0; padding: 0; }
        .container { display: block; margin: 0 auto; max-width: 580px; padding: 10px; }
        .main { background: #ffffff; border-radius: 8px; border: 1px solid #e1e9ee; padding: 24px; }
        h1 { font-size: 22px; font-weight: 700; margin: 0 0 16px 0; color: #32325d; }
        p { margin: 0 0 16px 0; color: #525f7f; }
        .btn { background-color: #5e6ad2; border-radius: 4px; color: #ffffff; display: inline-block; font-weight: bold; padding: 12px 25px; text-decoration: none; }
        .footer { color: #8898aa; font-size: 12px; margin-top: 16px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <div class="main">
            <h1>{{.Title}}</h1>
            <p>{{.Message}}</p>
            {{if .Link}}<p><a class="btn" href="{{.Link}}">View details</a></p>{{end}}
        </div>
        <div class="footer">
            <p>You are receiving this because email notifications are enabled in your account settings.</p>
        </div>
    </div>
</body>
</html>`

var emailTmpl = template.Must(template.New("notification_email").Parse(notificationEmailTemplate))

// renderEmailBody renders the shared HTML body for a notification email.
// link may be empty, in which case the action button is omitted.
func renderEmailBody(title, message, link string) (string, error) {
	var buf bytes.Buffer
	err := emailTmpl.Execute(&buf, struct {
		Title   string
		Message string
		Link    string
	}{Title: title, Message: message, Link: link})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
