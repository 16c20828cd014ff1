package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"
)

// Mailer SMTP 通知发送器
// 所有发送都是尽力而为：未配置或失败时记录日志并返回 error，
// 由调用方决定是否忽略（自动化结果不受通知失败影响）。
type Mailer struct {
	server   string
	port     int
	username string
	password string
	fromName string
	logger   *logrus.Logger

	// send 可替换以便测试
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// Interface 定义编排器使用的通知能力
type Interface interface {
	SendTempPassword(to, tempPassword string) error
	SendAccountUnlocked(to string) error
	SendTicketResolved(to, ticketNumber, resolution string) error
}

type Config struct {
	SMTPServer string
	SMTPPort   int
	Username   string
	Password   string
	FromName   string
}

// New 创建邮件通知发送器
func New(config *Config, logger *logrus.Logger) *Mailer {
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Mailer{
		server:   config.SMTPServer,
		port:     config.SMTPPort,
		username: config.Username,
		password: config.Password,
		fromName: config.FromName,
		logger:   logger,
		send:     smtp.SendMail,
	}
}

func (m *Mailer) configured() bool {
	return m.server != "" && m.username != "" && m.password != ""
}

func (m *Mailer) sendMail(to, subject, body string) error {
	if !m.configured() {
		m.logger.Warnf("mailer: not configured, skipping send to %s", to)
		return fmt.Errorf("mailer not configured")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", m.fromName, m.username)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.server, m.port)
	auth := smtp.PlainAuth("", m.username, m.password, m.server)

	if err := m.send(addr, auth, m.username, []string{to}, []byte(b.String())); err != nil {
		m.logger.Errorf("mailer: failed to send to %s: %v", to, err)
		return err
	}

	m.logger.Infof("mailer: sent %q to %s", subject, to)
	return nil
}

// SendTempPassword 发送临时密码通知
func (m *Mailer) SendTempPassword(to, tempPassword string) error {
	body := fmt.Sprintf(`Hello,

Your password has been reset as requested.

Temporary Password: %s

You will be required to change this password on your next login.

If you did not request this password reset, please contact IT support immediately.

Best regards,
IT Support Automation System
`, tempPassword)
	return m.sendMail(to, "Your Password Has Been Reset", body)
}

// SendAccountUnlocked 发送账号解锁通知
func (m *Mailer) SendAccountUnlocked(to string) error {
	body := `Hello,

Your account has been unlocked and you can now log in.

If you continue to experience issues, please contact IT support.

Best regards,
IT Support Automation System
`
	return m.sendMail(to, "Your Account Has Been Unlocked", body)
}

// SendTicketResolved 发送工单已解决通知
func (m *Mailer) SendTicketResolved(to, ticketNumber, resolution string) error {
	body := fmt.Sprintf(`Hello,

Your IT support ticket %s has been automatically resolved.

Resolution:
%s

If you continue to experience issues, please reply to this email or create a new ticket.

Best regards,
IT Support Automation System
`, ticketNumber, resolution)
	return m.sendMail(to, fmt.Sprintf("Ticket %s - Resolved", ticketNumber), body)
}
