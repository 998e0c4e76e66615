package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/auth-service/internal/apperr"
	"github.com/iliyamo/auth-service/internal/logging"
	"github.com/iliyamo/auth-service/internal/mail"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/notify"
	"github.com/iliyamo/auth-service/internal/queue"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

const strongPass = "Str0ng!Pass"

type outbox struct {
	mu     sync.Mutex
	events []queue.EmailEvent
}

func (o *outbox) Dispatch(_ context.Context, ev queue.EmailEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *outbox) last(template string) (queue.EmailEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.events) - 1; i >= 0; i-- {
		if o.events[i].Template == template {
			return o.events[i], true
		}
	}
	return queue.EmailEvent{}, false
}

type fixture struct {
	svc   *AuthService
	store *repository.Memory
	out   *outbox
	now   time.Time
}

func newFixture(t *testing.T, n notify.Notifier) *fixture {
	t.Helper()
	f := &fixture{store: repository.NewMemory(), out: &outbox{}, now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	if n == nil {
		n = f.out
	}
	issuer := NewTokenIssuer(utils.NewSigner("test-secret", "auth-service"), f.store, TokenTTLs{
		Access: 15 * time.Minute, Refresh: 7 * 24 * time.Hour, Reset: time.Hour, Verify: 24 * time.Hour,
	})
	f.svc = NewAuthService(Options{
		Users:       f.store,
		Tokens:      issuer,
		Hasher:      utils.NewPasswordHasher(bcrypt.MinCost),
		Notifier:    n,
		Log:         logging.Discard(),
		FrontendURL: "http://localhost:3000",
		ResetTTL:    time.Hour,
		VerifyTTL:   24 * time.Hour,
	})
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) register(t *testing.T, email string) *AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Password: strongPass, Name: "Alice"}, "10.0.0.1")
	require.NoError(t, err)
	return res
}

func tokenFrom(t *testing.T, link string) string {
	t.Helper()
	const marker = "?token="
	for i := 0; i+len(marker) <= len(link); i++ {
		if link[i:i+len(marker)] == marker {
			return link[i+len(marker):]
		}
	}
	t.Fatalf("no token in %q", link)
	return ""
}

func requireKind(t *testing.T, err error, kind apperr.Kind, msg string) {
	t.Helper()
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, kind, ae.Kind)
	assert.Equal(t, msg, ae.Message)
}

func TestRegisterIssuesTokensAndEmails(t *testing.T) {
	f := newFixture(t, nil)
	res := f.register(t, "Alice@Example.com")

	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.Empty(t, res.User.PasswordHash)
	assert.Equal(t, model.RoleUser, res.User.Role)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.Len(t, res.Tokens.RefreshToken, 96)

	_, ok := f.out.last(mail.Welcome)
	assert.True(t, ok)
	verify, ok := f.out.last(mail.VerifyEmail)
	require.True(t, ok)
	assert.Contains(t, verify.URL, "http://localhost:3000/verify-email?token=")
	assert.Equal(t, "1 day", verify.ExpiresIn)
}

func TestRegisterDuplicateIsCaseInsensitive(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice@example.com")

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "ALICE@example.com", Password: strongPass, Name: "A"}, "")
	requireKind(t, err, apperr.KindConflict, MsgEmailInUse)
	assert.Equal(t, 1, f.store.CountUsers())
}

func TestRegisterConcurrentDuplicatesCreateOneUser(t *testing.T) {
	f := newFixture(t, nil)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Register(context.Background(), RegisterInput{Email: "race@example.com", Password: strongPass, Name: "R"}, "")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.store.CountUsers())
}

func TestRegisterSurvivesFailingMailer(t *testing.T) {
	failing := notify.NewDispatcher(deliverFunc(func(context.Context, queue.EmailEvent) error {
		return errors.New("smtp down")
	}), logging.Discard(), nil, time.Second)
	f := newFixture(t, failing)

	res := f.register(t, "alice@example.com")
	assert.NotEmpty(t, res.Tokens.AccessToken)
	require.NoError(t, failing.Close(context.Background()))
}

type deliverFunc func(context.Context, queue.EmailEvent) error

func (f deliverFunc) Deliver(ctx context.Context, ev queue.EmailEvent) error { return f(ctx, ev) }

func TestLoginUnknownEmailAndWrongPasswordLookTheSame(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice@example.com")

	_, errUnknown := f.svc.Login(context.Background(), "nobody@example.com", strongPass, "")
	_, errWrong := f.svc.Login(context.Background(), "alice@example.com", "Wr0ng!Pass", "")

	requireKind(t, errUnknown, apperr.KindAuthentication, MsgInvalidCredentials)
	requireKind(t, errWrong, apperr.KindAuthentication, MsgInvalidCredentials)
	assert.Equal(t, apperr.As(errUnknown).Errors, apperr.As(errWrong).Errors)
}

func TestLoginSuccessTouchesLastLogin(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")

	res, err := f.svc.Login(context.Background(), " ALICE@example.com ", strongPass, "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	assert.Empty(t, res.User.PasswordHash)
	require.NotNil(t, res.User.LastLoginAt)
	assert.Equal(t, f.now, *res.User.LastLoginAt)

	// the registration session stays valid
	_, err = f.svc.Refresh(context.Background(), reg.Tokens.RefreshToken, "")
	assert.NoError(t, err)
}

func TestLoginSuspendedOnlyAfterPasswordMatches(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")
	require.NoError(t, f.store.UpdateStatus(context.Background(), reg.User.ID, model.StatusSuspended))

	_, err := f.svc.Login(context.Background(), "alice@example.com", "Wr0ng!Pass", "")
	requireKind(t, err, apperr.KindAuthentication, MsgInvalidCredentials)

	_, err = f.svc.Login(context.Background(), "alice@example.com", strongPass, "")
	requireKind(t, err, apperr.KindAuthorization, MsgAccountSuspended)
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")

	pair, err := f.svc.Refresh(context.Background(), reg.Tokens.RefreshToken, "10.0.0.3")
	require.NoError(t, err)
	assert.NotEqual(t, reg.Tokens.RefreshToken, pair.RefreshToken)

	_, err = f.svc.Refresh(context.Background(), reg.Tokens.RefreshToken, "")
	requireKind(t, err, apperr.KindNotFound, MsgInvalidRefresh)

	var old model.Token
	for _, tok := range f.store.Tokens(reg.User.ID) {
		if tok.TokenHash == utils.HashToken(reg.Tokens.RefreshToken) {
			old = tok
		}
	}
	assert.True(t, old.Revoked)
	assert.Equal(t, "10.0.0.3", old.RevokedByIP)
	require.NotNil(t, old.ReplacedByToken)

	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken, "")
	assert.NoError(t, err)
}

func TestRefreshConcurrentUseSucceedsOnce(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Refresh(context.Background(), reg.Tokens.RefreshToken, "")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
}

func TestRefreshExpired(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")

	f.now = f.now.Add(7*24*time.Hour + time.Second)
	_, err := f.svc.Refresh(context.Background(), reg.Tokens.RefreshToken, "")
	requireKind(t, err, apperr.KindAuthentication, MsgRefreshExpired)

	_, err = f.svc.Refresh(context.Background(), reg.Tokens.RefreshToken, "")
	requireKind(t, err, apperr.KindNotFound, MsgInvalidRefresh)
}

func TestRefreshForDeletedOwner(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")
	require.NoError(t, f.store.SoftDeleteUser(context.Background(), reg.User.ID, f.now))

	_, err := f.svc.Refresh(context.Background(), reg.Tokens.RefreshToken, "")
	requireKind(t, err, apperr.KindNotFound, MsgInvalidRefresh)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")

	require.NoError(t, f.svc.Logout(context.Background(), reg.Tokens.RefreshToken))
	require.NoError(t, f.svc.Logout(context.Background(), reg.Tokens.RefreshToken))
	require.NoError(t, f.svc.Logout(context.Background(), ""))

	_, err := f.svc.Refresh(context.Background(), reg.Tokens.RefreshToken, "")
	requireKind(t, err, apperr.KindNotFound, MsgInvalidRefresh)
}

func TestMe(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")

	u, err := f.svc.Me(context.Background(), reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Empty(t, u.PasswordHash)

	_, err = f.svc.Me(context.Background(), uuid.New())
	requireKind(t, err, apperr.KindNotFound, MsgUserNotFound)
}

func TestChangePasswordRevokesEverySession(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")
	second, err := f.svc.Login(context.Background(), "alice@example.com", strongPass, "")
	require.NoError(t, err)

	err = f.svc.ChangePassword(context.Background(), reg.User.ID, "Wr0ng!Pass", "N3w!Password")
	requireKind(t, err, apperr.KindValidation, MsgWrongPassword)

	require.NoError(t, f.svc.ChangePassword(context.Background(), reg.User.ID, strongPass, "N3w!Password"))

	for _, raw := range []string{reg.Tokens.RefreshToken, second.Tokens.RefreshToken} {
		_, err := f.svc.Refresh(context.Background(), raw, "")
		requireKind(t, err, apperr.KindNotFound, MsgInvalidRefresh)
	}
	_, err = f.svc.Login(context.Background(), "alice@example.com", "N3w!Password", "")
	assert.NoError(t, err)
	_, ok := f.out.last(mail.PasswordChanged)
	assert.True(t, ok)
}

func TestForgotPasswordSameMessageEitherWay(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice@example.com")

	known, err := f.svc.ForgotPassword(context.Background(), "alice@example.com", "")
	require.NoError(t, err)
	unknown, err := f.svc.ForgotPassword(context.Background(), "nobody@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, known, unknown)
	assert.Equal(t, MsgResetRequested, known)

	ev, ok := f.out.last(mail.ResetPassword)
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", ev.To)
	assert.Contains(t, ev.URL, "http://localhost:3000/reset-password?token=")
	assert.Equal(t, "1 hour", ev.ExpiresIn)
}

func TestResetPasswordWorksOnce(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")
	_, err := f.svc.ForgotPassword(context.Background(), "alice@example.com", "")
	require.NoError(t, err)
	ev, _ := f.out.last(mail.ResetPassword)
	token := tokenFrom(t, ev.URL)

	require.NoError(t, f.svc.ResetPassword(context.Background(), token, "N3w!Password"))
	err = f.svc.ResetPassword(context.Background(), token, "An0ther!Pass")
	requireKind(t, err, apperr.KindValidation, MsgInvalidToken)

	_, err = f.svc.Refresh(context.Background(), reg.Tokens.RefreshToken, "")
	requireKind(t, err, apperr.KindNotFound, MsgInvalidRefresh)
	_, err = f.svc.Login(context.Background(), "alice@example.com", "N3w!Password", "")
	assert.NoError(t, err)
}

func TestResetPasswordRejectsAccessTokenAndExpiredLink(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")

	err := f.svc.ResetPassword(context.Background(), reg.Tokens.AccessToken, "N3w!Password")
	requireKind(t, err, apperr.KindValidation, MsgInvalidToken)

	_, err = f.svc.ForgotPassword(context.Background(), "alice@example.com", "")
	require.NoError(t, err)
	ev, _ := f.out.last(mail.ResetPassword)
	f.now = f.now.Add(time.Hour + time.Second)
	err = f.svc.ResetPassword(context.Background(), tokenFrom(t, ev.URL), "N3w!Password")
	requireKind(t, err, apperr.KindValidation, MsgInvalidToken)
}

func TestVerifyEmailAndResend(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice@example.com")
	first, _ := f.out.last(mail.VerifyEmail)

	require.NoError(t, f.svc.ResendVerification(context.Background(), reg.User.ID))
	second, _ := f.out.last(mail.VerifyEmail)
	assert.NotEqual(t, first.URL, second.URL)

	err := f.svc.VerifyEmail(context.Background(), tokenFrom(t, first.URL))
	requireKind(t, err, apperr.KindValidation, MsgInvalidToken)

	require.NoError(t, f.svc.VerifyEmail(context.Background(), tokenFrom(t, second.URL)))
	u, err := f.svc.Me(context.Background(), reg.User.ID)
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)

	err = f.svc.ResendVerification(context.Background(), reg.User.ID)
	requireKind(t, err, apperr.KindValidation, MsgAlreadyVerified)
}

func TestAdminStatusAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.register(t, "admin@example.com")
	alice := f.register(t, "alice@example.com")

	_, err := f.svc.UpdateStatus(context.Background(), admin.User.ID, admin.User.ID, model.StatusSuspended)
	requireKind(t, err, apperr.KindValidation, MsgSelfModification)

	u, err := f.svc.UpdateStatus(context.Background(), admin.User.ID, alice.User.ID, model.StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuspended, u.Status)
	_, err = f.svc.Refresh(context.Background(), alice.Tokens.RefreshToken, "")
	requireKind(t, err, apperr.KindNotFound, MsgInvalidRefresh)

	require.NoError(t, f.svc.DeleteUser(context.Background(), admin.User.ID, alice.User.ID))
	assert.Empty(t, f.store.Tokens(alice.User.ID))

	got, err := f.svc.GetUser(context.Background(), alice.User.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, got.Status)
	_, err = f.svc.Me(context.Background(), alice.User.ID)
	requireKind(t, err, apperr.KindNotFound, MsgUserNotFound)

	err = f.svc.DeleteUser(context.Background(), admin.User.ID, alice.User.ID)
	requireKind(t, err, apperr.KindNotFound, MsgUserNotFound)

	// the address is free again once the old account is deleted
	f.register(t, "alice@example.com")
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "1 hour", humanize(time.Hour))
	assert.Equal(t, "2 days", humanize(48*time.Hour))
	assert.Equal(t, "30 minutes", humanize(30*time.Minute))
	assert.Equal(t, "1m30s", humanize(90*time.Second))
}

func TestOverlongPasswordIsRejectedBeforeAnyChange(t *testing.T) {
	f := newFixture(t, nil)
	long := strongPass + strings.Repeat("x", 70)

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "bob@example.com", Password: long, Name: "Bob"}, "")
	requireKind(t, err, apperr.KindValidation, MsgPasswordTooLong)
	assert.Equal(t, 0, f.store.CountUsers())

	reg := f.register(t, "alice@example.com")
	err = f.svc.ChangePassword(context.Background(), reg.User.ID, strongPass, long)
	requireKind(t, err, apperr.KindValidation, MsgPasswordTooLong)

	_, err = f.svc.ForgotPassword(context.Background(), "alice@example.com", "")
	require.NoError(t, err)
	ev, _ := f.out.last(mail.ResetPassword)
	token := tokenFrom(t, ev.URL)
	err = f.svc.ResetPassword(context.Background(), token, long)
	requireKind(t, err, apperr.KindValidation, MsgPasswordTooLong)

	// The link survives the rejected attempt.
	require.NoError(t, f.svc.ResetPassword(context.Background(), token, "N3w!Password"))
}
