package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"xhbook/internal/components/telemetry"
	"xhbook/internal/gateway"
	"xhbook/lib/platforms/xinhua"
)

const (
	report_controller_startup  = "controller.startup"
	report_controller_persist  = "controller.persist"
	report_controller_captcha  = "controller.captcha"
	report_controller_validate = "controller.validate"
)

var (
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrNotLoggedIn     = errors.New("not logged in")
	// ErrSessionBroken is returned while the session could not be saved,
	// Logout recovers from it
	ErrSessionBroken = errors.New("session could not be saved, log out first")
	// ErrNetwork wraps every failure where the platform did not answer usefully
	ErrNetwork = errors.New(gateway.NetworkErrorMessage)
	// ErrProfileUnavailable is returned when login succeeded but the profile
	// of the student could not be fetched
	ErrProfileUnavailable = errors.New("无法获取学生信息。")
)

type State int

const (
	StateLoggedOut State = iota
	StateValidating
	StateLoggedIn
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged out"
	case StateValidating:
		return "validating"
	case StateLoggedIn:
		return "logged in"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// NextStep is what the user has to do after logging in.
type NextStep int

const (
	StepReady NextStep = iota
	// the account has no phone number yet and one must be bound first
	StepBindPhone
)

// Platform is the set of platform operations the session lifecycle uses.
type Platform interface {
	WarmUp(ctx context.Context) error
	Captcha(ctx context.Context) ([]byte, error)
	Login(ctx context.Context, studentNo, password, verifyCode string) (string, error)
	StudentInfo(ctx context.Context, studentID string) (xinhua.Student, error)
	ValidateSession(ctx context.Context, studentID string) (xinhua.Student, error)
	SendBindPhoneCode(ctx context.Context, mobile string) error
	BindPhone(ctx context.Context, mobile, code string) error
	SendForgetPasswordCode(ctx context.Context, studentCode, mobile string) error
	ResetPassword(ctx context.Context, studentCode, mobile, code string) error
}

// OCR guesses the text of a captcha image.
type OCR interface {
	RecognizeCaptcha(ctx context.Context, image []byte) (string, error)
}

type Captcha struct {
	Image []byte
	// empty when recognition was unavailable or failed
	Guess string
}

// Controller owns the session lifecycle:
//
//	LoggedOut -> Validating -> LoggedIn   (restored session accepted)
//	LoggedOut -> Validating -> LoggedOut  (restored session rejected)
//	LoggedOut -> LoggedIn                 (login)
//	LoggedIn  -> LoggedOut                (logout, failed revalidation)
//	any       -> Error                    (session file could not be written)
//	any       -> LoggedOut                (logout, even when the file could not be removed)
type Controller struct {
	session  *Session
	store    *Store
	platform Platform
	ocr      OCR
	tel      telemetry.API

	// serializes operations, state transitions happen under it
	ops sync.Mutex

	mutex   sync.RWMutex
	state   State
	lastErr error
}

// NewController creates a controller in the LoggedOut state. ocr may be nil.
func NewController(session *Session, store *Store, platform Platform, ocr OCR, tel telemetry.API) *Controller {
	return &Controller{
		session:  session,
		store:    store,
		platform: platform,
		ocr:      ocr,
		tel:      telemetry.NewScopedAPI("session", tel),
		state:    StateLoggedOut,
	}
}

func (c *Controller) Session() *Session {
	return c.session
}

func (c *Controller) State() State {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.state
}

// Err is the error that put the controller into the Error state.
func (c *Controller) Err() error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lastErr
}

func (c *Controller) setState(state State, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.state = state
	c.lastErr = err
}

// networkError marks failures where no usable answer came back.
func networkError(err error) error {
	var transport *gateway.TransportError
	var rejection *gateway.ServerRejection
	if errors.As(err, &transport) || (errors.As(err, &rejection) && rejection.IsStatus()) {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return err
}

// clear forgets the session in memory and on disk. The controller is
// LoggedOut afterwards even if the file could not be removed.
func (c *Controller) clear() error {
	c.session.Reset()
	c.setState(StateLoggedOut, nil)
	err := c.store.Delete()
	if err != nil {
		err = fmt.Errorf("delete session: %w", err)
		c.tel.ReportBroken(report_controller_persist, err)
		return err
	}
	return nil
}

// validate must be called with ops held.
func (c *Controller) validate(ctx context.Context) State {
	c.setState(StateValidating, nil)

	studentID := c.session.StudentID()
	profile, err := c.platform.ValidateSession(ctx, studentID)
	if err == nil && profile.StudentID == "" {
		profile.StudentID = studentID
	}
	if err == nil && profile.StudentID != studentID {
		err = fmt.Errorf("profile is for student '%s', session belongs to '%s'", profile.StudentID, studentID)
	}
	if err != nil {
		c.tel.ReportWarning(report_controller_validate, err)
		c.clear()
		return StateLoggedOut
	}

	c.session.SetProfile(profile)
	c.setState(StateLoggedIn, nil)
	return StateLoggedIn
}

// Startup restores the saved session if there is one and checks that the
// platform still accepts it. Nothing is written on success, a rejected or
// unusable session file is removed.
func (c *Controller) Startup(ctx context.Context) State {
	c.ops.Lock()
	defer c.ops.Unlock()

	err := c.store.Load(c.session)
	if errors.Is(err, ErrNoSession) {
		c.setState(StateLoggedOut, nil)
		return StateLoggedOut
	}
	if err != nil {
		c.tel.ReportWarning(report_controller_startup, err)
		c.clear()
		return StateLoggedOut
	}
	return c.validate(ctx)
}

// Revalidate checks a logged in session against the platform again, a
// rejected session is logged out.
func (c *Controller) Revalidate(ctx context.Context) State {
	c.ops.Lock()
	defer c.ops.Unlock()

	if c.State() != StateLoggedIn {
		return c.State()
	}
	return c.validate(ctx)
}

// HandleCallError is given the error of an authenticated call. A business
// rejection may mean the session expired, in which case the session is
// revalidated. It reports whether the session is gone.
func (c *Controller) HandleCallError(ctx context.Context, err error) bool {
	var rejection *gateway.ServerRejection
	if !errors.As(err, &rejection) || rejection.IsStatus() {
		return false
	}
	return c.Revalidate(ctx) != StateLoggedIn
}

// PrepareCaptcha primes the anonymous session and fetches a captcha image.
// Recognition failures only leave Guess empty.
func (c *Controller) PrepareCaptcha(ctx context.Context) (Captcha, error) {
	c.ops.Lock()
	defer c.ops.Unlock()

	err := c.platform.WarmUp(ctx)
	if err != nil {
		return Captcha{}, networkError(err)
	}
	image, err := c.platform.Captcha(ctx)
	if err != nil {
		return Captcha{}, networkError(err)
	}

	captcha := Captcha{Image: image}
	if c.ocr == nil {
		return captcha, nil
	}
	guess, err := c.ocr.RecognizeCaptcha(ctx, image)
	if err != nil {
		c.tel.ReportWarning(report_controller_captcha, err)
		return captcha, nil
	}
	captcha.Guess = guess
	return captcha, nil
}

// Login authenticates, fetches the profile and persists the session. On any
// failure the controller stays LoggedOut and nothing is written.
func (c *Controller) Login(ctx context.Context, studentNo, password, verifyCode string) (NextStep, error) {
	c.ops.Lock()
	defer c.ops.Unlock()

	switch c.State() {
	case StateLoggedOut:
	case StateError:
		return StepReady, ErrSessionBroken
	default:
		return StepReady, ErrAlreadyLoggedIn
	}

	studentID, err := c.platform.Login(ctx, studentNo, password, verifyCode)
	if err != nil {
		return StepReady, networkError(err)
	}
	if studentID == "" {
		c.session.Reset()
		return StepReady, fmt.Errorf("%w: login returned no studentID", ErrProfileUnavailable)
	}

	profile, err := c.platform.StudentInfo(ctx, studentID)
	if err == nil && profile.StudentID == "" {
		profile.StudentID = studentID
	}
	if err == nil && profile.StudentID != studentID {
		err = fmt.Errorf("profile is for student '%s', logged in as '%s'", profile.StudentID, studentID)
	}
	if err != nil {
		c.session.Reset()
		return StepReady, fmt.Errorf("%w: %w", ErrProfileUnavailable, err)
	}
	c.session.SetProfile(profile)

	err = c.store.Save(c.session)
	if err != nil {
		c.tel.ReportBroken(report_controller_persist, fmt.Errorf("save session: %w", err))
		c.setState(StateError, err)
		return StepReady, err
	}
	c.setState(StateLoggedIn, nil)

	if profile.Mobile == "" {
		return StepBindPhone, nil
	}
	return StepReady, nil
}

// Logout forgets the session in memory and on disk. It always ends
// LoggedOut, the returned error only says the file is still there.
func (c *Controller) Logout() error {
	c.ops.Lock()
	defer c.ops.Unlock()
	return c.clear()
}

func (c *Controller) SendBindPhoneCode(ctx context.Context, mobile string) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if c.State() != StateLoggedIn {
		return ErrNotLoggedIn
	}
	return networkError(c.platform.SendBindPhoneCode(ctx, mobile))
}

// BindPhone binds the phone number to the account and persists the updated
// profile.
func (c *Controller) BindPhone(ctx context.Context, mobile, code string) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if c.State() != StateLoggedIn {
		return ErrNotLoggedIn
	}
	err := c.platform.BindPhone(ctx, mobile, code)
	if err != nil {
		return networkError(err)
	}

	c.session.SetMobile(mobile)
	err = c.store.Save(c.session)
	if err != nil {
		c.tel.ReportBroken(report_controller_persist, fmt.Errorf("save session: %w", err))
		c.setState(StateError, err)
		return err
	}
	return nil
}

func (c *Controller) SendForgetPasswordCode(ctx context.Context, studentCode, mobile string) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	return networkError(c.platform.SendForgetPasswordCode(ctx, studentCode, mobile))
}

func (c *Controller) ResetPassword(ctx context.Context, studentCode, mobile, code string) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	return networkError(c.platform.ResetPassword(ctx, studentCode, mobile, code))
}
