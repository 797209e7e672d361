package session

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"xhbook/internal/components/telemetry"
	"xhbook/internal/gateway"
	"xhbook/lib/platforms/xinhua"
	"xhbook/lib/platforms/xinhua/xinhuatest"

	"github.com/stretchr/testify/require"
)

var account = xinhuatest.Account{
	StudentNo:   "2023001",
	Password:    "hunter2",
	StudentID:   "90001",
	StudentName: "张三",
	Mobile:      "13800000000",
}

type fakeOCR struct {
	guess string
	err   error
	calls int
}

func (f *fakeOCR) RecognizeCaptcha(ctx context.Context, image []byte) (string, error) {
	f.calls++
	return f.guess, f.err
}

type harness struct {
	server     *xinhuatest.Server
	store      *Store
	controller *Controller
	rec        *telemetry.Recorder
	ocr        *fakeOCR
}

func newHarness(t *testing.T, storePath string, accounts ...xinhuatest.Account) harness {
	t.Helper()
	server := xinhuatest.NewServer()
	t.Cleanup(server.Close)
	for _, a := range accounts {
		server.AddAccount(a)
	}

	if storePath == "" {
		storePath = filepath.Join(t.TempDir(), "session.json")
	}
	store, err := NewStore(storePath, server.URL)
	require.NoError(t, err)

	rec := &telemetry.Recorder{}
	sess := New()
	gw := gateway.New(gateway.Options{BaseURL: server.URL, Jar: sess.Jar(), Tel: rec})
	ocr := &fakeOCR{guess: xinhuatest.CaptchaCode}

	return harness{
		server:     server,
		store:      store,
		controller: NewController(sess, store, xinhua.NewClient(gw), ocr, rec),
		rec:        rec,
		ocr:        ocr,
	}
}

func (h harness) login(t *testing.T) NextStep {
	t.Helper()
	ctx := context.Background()
	captcha, err := h.controller.PrepareCaptcha(ctx)
	require.NoError(t, err)
	step, err := h.controller.Login(ctx, account.StudentNo, account.Password, captcha.Guess)
	require.NoError(t, err)
	return step
}

func TestStartupWithoutSession(t *testing.T) {
	h := newHarness(t, "", account)
	require.Equal(t, StateLoggedOut, h.controller.Startup(context.Background()))
	require.Equal(t, 0, h.server.Hits("/api/GetStudentInfo.do"))
}

func TestLoginPersistsSession(t *testing.T) {
	h := newHarness(t, "", account)

	step := h.login(t)
	require.Equal(t, StepReady, step)
	require.Equal(t, StateLoggedIn, h.controller.State())
	require.True(t, h.store.Exists())
	require.Equal(t, 1, h.ocr.calls)

	id, no := h.controller.Session().Identity()
	require.Equal(t, account.StudentID, id)
	require.Equal(t, account.StudentNo, no)

	_, err := h.controller.Login(context.Background(), account.StudentNo, account.Password, xinhuatest.CaptchaCode)
	require.ErrorIs(t, err, ErrAlreadyLoggedIn)
}

func TestLoginFailureNeverWritesSessionFile(t *testing.T) {
	h := newHarness(t, "", account)
	ctx := context.Background()

	_, err := h.controller.PrepareCaptcha(ctx)
	require.NoError(t, err)
	_, err = h.controller.Login(ctx, account.StudentNo, "wrong", xinhuatest.CaptchaCode)

	var rejection *gateway.ServerRejection
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, "用户名或密码错误", gateway.UserMessage(err))
	require.NotErrorIs(t, err, ErrNetwork)
	require.Equal(t, StateLoggedOut, h.controller.State())
	require.False(t, h.store.Exists())
}

func TestLoginNetworkFailure(t *testing.T) {
	h := newHarness(t, "", account)
	h.server.Break("/api/StudentLogin.do", http.StatusBadGateway)

	_, err := h.controller.Login(context.Background(), account.StudentNo, account.Password, xinhuatest.CaptchaCode)
	require.ErrorIs(t, err, ErrNetwork)
	require.Equal(t, gateway.NetworkErrorMessage, gateway.UserMessage(err))
	require.False(t, h.store.Exists())
}

func TestLoginProfileUnavailable(t *testing.T) {
	h := newHarness(t, "", account)
	h.server.Break("/api/GetStudentInfo.do", http.StatusInternalServerError)

	_, err := h.controller.Login(context.Background(), account.StudentNo, account.Password, xinhuatest.CaptchaCode)
	require.ErrorIs(t, err, ErrProfileUnavailable)
	require.Equal(t, StateLoggedOut, h.controller.State())
	require.False(t, h.controller.Session().Populated())
	require.False(t, h.store.Exists())
}

func TestLoginWithoutPhoneNeedsBinding(t *testing.T) {
	noPhone := account
	noPhone.Mobile = ""
	h := newHarness(t, "", noPhone)
	ctx := context.Background()

	require.Equal(t, StepBindPhone, h.login(t))

	require.NoError(t, h.controller.SendBindPhoneCode(ctx, "13900000000"))
	err := h.controller.BindPhone(ctx, "13900000000", "000000")
	require.Error(t, err)
	require.NoError(t, h.controller.BindPhone(ctx, "13900000000", xinhuatest.SmsCode))
	require.Equal(t, "13900000000", h.server.Mobile(noPhone.StudentNo))

	restored := New()
	require.NoError(t, h.store.Load(restored))
	require.Equal(t, "13900000000", restored.Profile().Mobile)
}

func TestBindPhoneRequiresLogin(t *testing.T) {
	h := newHarness(t, "", account)
	require.ErrorIs(t, h.controller.BindPhone(context.Background(), "13900000000", xinhuatest.SmsCode), ErrNotLoggedIn)
}

func TestOCRFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, "", account)
	h.ocr.err = errors.New("ocr down")

	captcha, err := h.controller.PrepareCaptcha(context.Background())
	require.NoError(t, err)
	require.Equal(t, xinhuatest.CaptchaImage, captcha.Image)
	require.Equal(t, "", captcha.Guess)
	require.NotEmpty(t, h.rec.Reports(telemetry.KindWarning, report_controller_captcha))
}

func TestStartupRestoresValidSession(t *testing.T) {
	h := newHarness(t, "", account)
	h.login(t)

	before, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)

	// a fresh process pointing at the same platform and file
	sess := New()
	gw := gateway.New(gateway.Options{BaseURL: h.server.URL, Jar: sess.Jar(), Tel: h.rec})
	restarted := NewController(sess, h.store, xinhua.NewClient(gw), nil, h.rec)

	require.Equal(t, StateLoggedIn, restarted.Startup(context.Background()))
	require.Equal(t, account.StudentName, sess.Profile().StudentName)

	after, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestStartupDiscardsExpiredSession(t *testing.T) {
	h := newHarness(t, "", account)
	h.login(t)
	h.server.ExpireSessions()

	sess := New()
	gw := gateway.New(gateway.Options{BaseURL: h.server.URL, Jar: sess.Jar(), Tel: h.rec})
	restarted := NewController(sess, h.store, xinhua.NewClient(gw), nil, h.rec)

	require.Equal(t, StateLoggedOut, restarted.Startup(context.Background()))
	require.False(t, sess.Populated())
	require.False(t, h.store.Exists())
}

func TestStartupDiscardsInvalidFile(t *testing.T) {
	h := newHarness(t, "", account)
	require.NoError(t, os.WriteFile(h.store.Path(), []byte(`{"cookies": {}}`), 0600))

	require.Equal(t, StateLoggedOut, h.controller.Startup(context.Background()))
	require.False(t, h.store.Exists())
	require.Equal(t, 0, h.server.Hits("/api/GetStudentInfo.do"))
	require.NotEmpty(t, h.rec.Reports(telemetry.KindWarning, report_controller_startup))
}

func TestHandleCallErrorLogsOutExpiredSession(t *testing.T) {
	h := newHarness(t, "", account)
	h.login(t)
	ctx := context.Background()

	require.False(t, h.controller.HandleCallError(ctx, &gateway.TransportError{Err: errors.New("reset")}))
	require.Equal(t, StateLoggedIn, h.controller.State())

	// still valid on the platform, so nothing changes
	require.False(t, h.controller.HandleCallError(ctx, &gateway.ServerRejection{Code: "9", Message: "库存不足"}))
	require.Equal(t, StateLoggedIn, h.controller.State())

	h.server.ExpireSessions()
	require.True(t, h.controller.HandleCallError(ctx, &gateway.ServerRejection{Code: "-1", Message: "请先登录"}))
	require.Equal(t, StateLoggedOut, h.controller.State())
	require.False(t, h.store.Exists())
}

func TestLogout(t *testing.T) {
	h := newHarness(t, "", account)
	h.login(t)

	require.NoError(t, h.controller.Logout())
	require.Equal(t, StateLoggedOut, h.controller.State())
	require.False(t, h.controller.Session().Populated())
	require.False(t, h.store.Exists())
}

func TestPersistFailureEntersErrorState(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	h := newHarness(t, filepath.Join(blocker, "session.json"), account)
	ctx := context.Background()

	_, err := h.controller.PrepareCaptcha(ctx)
	require.NoError(t, err)
	_, err = h.controller.Login(ctx, account.StudentNo, account.Password, xinhuatest.CaptchaCode)
	require.Error(t, err)
	require.Equal(t, StateError, h.controller.State())
	require.Error(t, h.controller.Err())
	require.NotEmpty(t, h.rec.Reports(telemetry.KindBroken, report_controller_persist))

	_, err = h.controller.Login(ctx, account.StudentNo, account.Password, xinhuatest.CaptchaCode)
	require.ErrorIs(t, err, ErrSessionBroken)

	h.controller.Logout()
	require.Equal(t, StateLoggedOut, h.controller.State())
	require.False(t, h.controller.Session().Populated())
}

func TestLogoutEndsLoggedOutWhenFileCannotBeRemoved(t *testing.T) {
	h := newHarness(t, "", account)
	h.login(t)

	// a non-empty directory in place of the file cannot be removed
	require.NoError(t, os.Remove(h.store.Path()))
	require.NoError(t, os.MkdirAll(filepath.Join(h.store.Path(), "child"), 0700))

	require.Error(t, h.controller.Logout())
	require.Equal(t, StateLoggedOut, h.controller.State())
	require.False(t, h.controller.Session().Populated())
	require.NotEmpty(t, h.rec.Reports(telemetry.KindBroken, report_controller_persist))

	// still recoverable once the path is usable again
	require.NoError(t, os.RemoveAll(h.store.Path()))
	require.NoError(t, h.controller.Logout())
	h.login(t)
	require.Equal(t, StateLoggedIn, h.controller.State())
}

func TestLoginFillsMissingProfileID(t *testing.T) {
	h := newHarness(t, "", account)
	h.server.ReportProfileID(account.StudentNo, "")

	h.login(t)
	require.Equal(t, StateLoggedIn, h.controller.State())
	require.Equal(t, account.StudentID, h.controller.Session().StudentID())

	restored := New()
	require.NoError(t, h.store.Load(restored))
	require.Equal(t, account.StudentID, restored.StudentID())
}

func TestLoginRejectsProfileOfAnotherStudent(t *testing.T) {
	h := newHarness(t, "", account)
	h.server.ReportProfileID(account.StudentNo, "OTHER")

	_, err := h.controller.Login(context.Background(), account.StudentNo, account.Password, xinhuatest.CaptchaCode)
	require.ErrorIs(t, err, ErrProfileUnavailable)
	require.Equal(t, StateLoggedOut, h.controller.State())
	require.False(t, h.controller.Session().Populated())
	require.False(t, h.store.Exists())
}

func restart(h harness) (*Session, *Controller) {
	sess := New()
	gw := gateway.New(gateway.Options{BaseURL: h.server.URL, Jar: sess.Jar(), Tel: h.rec})
	return sess, NewController(sess, h.store, xinhua.NewClient(gw), nil, h.rec)
}

func TestStartupRejectsProfileOfAnotherStudent(t *testing.T) {
	h := newHarness(t, "", account)
	h.login(t)
	h.server.ReportProfileID(account.StudentNo, "OTHER")

	sess, restarted := restart(h)
	require.Equal(t, StateLoggedOut, restarted.Startup(context.Background()))
	require.False(t, sess.Populated())
	require.False(t, h.store.Exists())
	require.NotEmpty(t, h.rec.Reports(telemetry.KindWarning, report_controller_validate))
}

func TestStartupKeepsCachedIDForProfileWithoutOne(t *testing.T) {
	h := newHarness(t, "", account)
	h.login(t)
	h.server.ReportProfileID(account.StudentNo, "")

	sess, restarted := restart(h)
	require.Equal(t, StateLoggedIn, restarted.Startup(context.Background()))
	require.Equal(t, account.StudentID, sess.StudentID())
	require.Equal(t, account.StudentName, sess.Profile().StudentName)
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t, "", account)
	ctx := context.Background()

	require.NoError(t, h.controller.SendForgetPasswordCode(ctx, account.StudentNo, account.Mobile))
	err := h.controller.SendForgetPasswordCode(ctx, "nobody", account.Mobile)
	require.Equal(t, "学号不存在", gateway.UserMessage(err))

	require.NoError(t, h.controller.ResetPassword(ctx, account.StudentNo, account.Mobile, xinhuatest.SmsCode))
	_, err = h.controller.Login(ctx, account.StudentNo, "123456", xinhuatest.CaptchaCode)
	require.NoError(t, err)
}
