package email

import (
	"fmt"
	"net/smtp"
	"os"
)

// Sender dispatches a confirmation code to a recipient. The SMTP
// implementation below is used in production; tests substitute a fake.
type Sender interface {
	SendConfirmationCode(to, code string) error
}

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

func NewEmailService() *EmailService {
	return &EmailService{
		host:     os.Getenv("SMTP_HOST"),
		port:     os.Getenv("SMTP_PORT"),
		user:     os.Getenv("SMTP_USER"),
		password: os.Getenv("SMTP_PASSWORD"),
		from:     os.Getenv("SMTP_FROM"),
	}
}

func (e *EmailService) SendConfirmationCode(to, code string) error {
	subject := "Confirmation code from YaMDB"

	message := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", e.from, to, subject, code)

	auth := smtp.PlainAuth("", e.user, e.password, e.host)
	addr := fmt.Sprintf("%s:%s", e.host, e.port)

	if err := smtp.SendMail(addr, auth, e.from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send confirmation email: %v", err)
	}

	return nil
}
