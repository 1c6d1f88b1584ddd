package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// EmailConfig holds SMTP configuration.
type EmailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	To       []string
}

// Email sends notifications as HTML mail to the configured admin list, plus
// the message recipient when it is a mail address.
type Email struct {
	config EmailConfig
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmail(config EmailConfig) *Email {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Email{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured reports whether enough settings are present to send mail.
func (e *Email) IsConfigured() bool {
	return e.config.Host != "" && e.config.Port != "" && e.config.From != "" && len(e.config.To) > 0
}

func (e *Email) Send(ctx context.Context, channel string, msg Message) (bool, error) {
	if !e.IsConfigured() {
		return false, errors.New("email not configured")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	to := append([]string(nil), e.config.To...)
	if msg.Recipient != "" && !strings.HasSuffix(msg.Recipient, "@discord.user") && strings.Contains(msg.Recipient, "@") {
		to = append(to, msg.Recipient)
	}
	body, err := e.render(channel, msg, to)
	if err != nil {
		return false, err
	}
	if err := e.send(e.server, e.auth, e.config.From, to, body); err != nil {
		return false, fmt.Errorf("send mail: %w", err)
	}
	return true, nil
}

var emailTemplate = template.Must(template.New("notification").Parse(`<h2>{{.Title}}</h2>
{{if .Description}}<p>{{.Description}}</p>{{end}}
{{if .Fields}}<table>{{range .Fields}}
<tr><th align="left">{{.Name}}</th><td>{{.Value}}</td></tr>{{end}}
</table>{{end}}
{{if .Footer}}<p><small>{{.Footer}}</small></p>{{end}}`))

const boundary = "boundary-repeatnomore"

func (e *Email) render(channel string, msg Message, to []string) ([]byte, error) {
	var html bytes.Buffer
	if err := emailTemplate.Execute(&html, msg); err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	from := e.config.From
	if e.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", e.config.FromName, e.config.From)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", channel, msg.Title)
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&b, "\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "%s\r\n", msg.Text())

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "%s\r\n", html.String())
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.Bytes(), nil
}
