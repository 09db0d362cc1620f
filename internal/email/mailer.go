package email

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// Mailer sends portal mail over SMTP via gomail.
type Mailer struct {
	dialer     *gomail.Dialer
	from       string
	portalName string
}

func NewMailer(host string, port int, username, password, from, portalName string) *Mailer {
	dialer := gomail.NewDialer(host, port, username, password)
	return &Mailer{
		dialer:     dialer,
		from:       from,
		portalName: portalName,
	}
}

// SendActivation mails the activation key together with the confirmation
// deadline.
func (m *Mailer) SendActivation(to, key, dueDate string) error {
	subject := fmt.Sprintf("Activate your %s account", m.portalName)
	body := fmt.Sprintf(`Hello!

Thank you for registering with %s. Your activation key is:

    %s

Please confirm your email address before %s. After that the key stops
working and you will need to request a new one.

If you didn't create this account, you can safely ignore this email.

- The %s Team`, m.portalName, key, dueDate, m.portalName)

	return m.send(to, subject, body)
}

// SendInvite mails an invited user their generated credentials.
func (m *Mailer) SendInvite(to, fullName, password string) error {
	subject := fmt.Sprintf("You have been invited to %s", m.portalName)
	body := fmt.Sprintf(`Hello %s!

An account has been created for you on %s. Sign in with this email
address and the temporary password below, then change it right away:

    %s

- The %s Team`, fullName, m.portalName, password, m.portalName)

	return m.send(to, subject, body)
}

func (m *Mailer) send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}
	return nil
}
