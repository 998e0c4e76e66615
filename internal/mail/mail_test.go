package mail

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/config"
)

func TestRenderEveryTemplate(t *testing.T) {
	r, err := NewRenderer("Market Assistant")
	require.NoError(t, err)

	for _, name := range []string{Welcome, VerifyEmail, ResetPassword, PasswordChanged} {
		msg, err := r.Render(name, "alice@example.com", Data{Name: "Alice", URL: "http://localhost:3000/x?token=abc", ExpiresIn: "1 hour"})
		require.NoError(t, err, name)
		assert.Equal(t, "alice@example.com", msg.To)
		assert.NotEmpty(t, msg.Subject)
		assert.Contains(t, msg.HTML, "Hi Alice,")
		assert.Contains(t, msg.Text, "Hi Alice,")
	}
}

func TestRenderSubjectsAndLinks(t *testing.T) {
	r, err := NewRenderer("Market Assistant")
	require.NoError(t, err)

	msg, err := r.Render(Welcome, "a@example.com", Data{Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, "Welcome to Market Assistant", msg.Subject)

	msg, err = r.Render(ResetPassword, "a@example.com", Data{Name: "A", URL: "http://localhost:3000/reset-password?token=t1"})
	require.NoError(t, err)
	assert.Equal(t, "Reset Your Password", msg.Subject)
	assert.Contains(t, msg.Text, "http://localhost:3000/reset-password?token=t1")
	assert.Contains(t, msg.HTML, `href="http://localhost:3000/reset-password?token=t1"`)
}

func TestRenderEscapesHTML(t *testing.T) {
	r, err := NewRenderer("Market Assistant")
	require.NoError(t, err)

	msg, err := r.Render(Welcome, "a@example.com", Data{Name: "<script>x</script>"})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>x</script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer("Market Assistant")
	require.NoError(t, err)
	_, err = r.Render("nope", "a@example.com", Data{})
	assert.Error(t, err)
}

func TestNewSenderWithoutHostLogs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	s, err := NewSender(config.MailConfig{}, log)
	require.NoError(t, err)
	require.IsType(t, &LogSender{}, s)

	require.NoError(t, s.Send(context.Background(), Message{To: "a@example.com", Subject: "Hello"}))
	assert.Contains(t, buf.String(), "a@example.com")
}

func TestLogSenderKeepsLinksOutOfLogs(t *testing.T) {
	r, err := NewRenderer("Market Assistant")
	require.NoError(t, err)
	const token = "c0ffee5ecret"
	msg, err := r.Render(ResetPassword, "alice@example.com", Data{Name: "Alice", URL: "http://localhost:3000/reset-password?token=" + token})
	require.NoError(t, err)

	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, s.Send(context.Background(), msg))

	assert.Contains(t, buf.String(), "Reset Your Password")
	assert.NotContains(t, buf.String(), token)
	assert.NotContains(t, buf.String(), "reset-password?token")
}

func TestBuildMsg(t *testing.T) {
	cfg := config.MailConfig{FromName: "Market Assistant", FromAddress: "noreply@marketassistant.com"}
	m, err := buildMsg(cfg, Message{To: "alice@example.com", Subject: "Hi", HTML: "<p>x</p>"})
	require.NoError(t, err)
	rcpts, err := m.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com"}, rcpts)

	_, err = buildMsg(cfg, Message{To: "not an address", Subject: "Hi"})
	assert.Error(t, err)
}

func TestSMTPSenderUsesOneClientPerMessage(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := config.MailConfig{FromName: "Market Assistant", FromAddress: "noreply@marketassistant.com", SMTPHost: "127.0.0.1", SMTPPort: port}
	s, err := NewSMTPSender(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	a, err := s.client()
	require.NoError(t, err)
	b, err := s.client()
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	// Nothing listens on the port: every concurrent send fails on its own
	// connection attempt without touching the others.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Send(ctx, Message{To: "alice@example.com", Subject: "Hi", Text: "hello"})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.Error(t, err)
	}
}

func TestNewSMTPSenderRejectsBadPort(t *testing.T) {
	_, err := NewSMTPSender(config.MailConfig{SMTPHost: "smtp.example.com", SMTPPort: -1}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
