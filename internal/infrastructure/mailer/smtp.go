package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"

	"servicemart/internal/config"

	"go.uber.org/zap"
)

var otpTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>{{.Purpose}} verification</h2>
  <p>Use the following one-time password to continue:</p>
  <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
  <p>If you did not request this, you can ignore this email.</p>
  <p>{{.Brand}}</p>
</body>
</html>`))

// SMTPSender 通过 465 端口隐式 TLS 发送 HTML 邮件
type SMTPSender struct {
	cfg *config.SMTPConfig
	log *zap.Logger
}

func NewSMTPSender(cfg *config.SMTPConfig, log *zap.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, log: log.Named("SMTPSender")}
}

// SendOTP 渲染验证码邮件并发送
func (s *SMTPSender) SendOTP(ctx context.Context, email, code, purposeLabel string) error {
	var body bytes.Buffer
	err := otpTemplate.Execute(&body, map[string]string{
		"Purpose": purposeLabel,
		"Code":    code,
		"Brand":   s.cfg.FromName,
	})
	if err != nil {
		return fmt.Errorf("渲染邮件模板失败: %w", err)
	}

	subject := fmt.Sprintf("Your OTP for %s - %s", purposeLabel, s.cfg.FromName)
	if err := s.Send(ctx, email, subject, body.String()); err != nil {
		return err
	}
	s.log.Info("验证码邮件已发送", zap.String("to", email), zap.String("purpose", purposeLabel))
	return nil
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	from := s.cfg.From
	msg := []byte(
		fmt.Sprintf("From: %s <%s>\r\n", s.cfg.FromName, from) +
			fmt.Sprintf("To: %s\r\n", to) +
			fmt.Sprintf("Subject: %s\r\n", subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=\"utf-8\"\r\n" +
			"\r\n" +
			htmlBody,
	)

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("连接 SMTP 失败: %w", err)
	}
	conn := tls.Client(rawConn, &tls.Config{ServerName: s.cfg.Host})
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Quit()

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP 认证失败: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}
