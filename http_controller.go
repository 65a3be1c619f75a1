package auth

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// LoginPayload is what RouteAuthenticator.Login needs from a request.
type LoginPayload interface {
	GetIdentifier() string
	GetPassword() string
	GetExtendedSession() bool
}

// RegistrationPayload is what RouteAuthenticator.Register needs from a request.
type RegistrationPayload interface {
	GetEmail() string
	GetPassword() string
	GetDisplayName() string
	GetRole() Role
}

// RegisterAuthRoutes mounts the login, registration, logout, session and
// profile endpoints on app. Page middleware set with WithPageMiddleware runs
// in front of the login, registration and role selection pages.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	pages := controller.PageMiddleware

	app.Get(controller.Routes.Login, controller.LoginShow, pages...).SetName("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost, pages...).SetName("sign-in.post")

	app.Get(controller.Routes.Logout, controller.LogOut).SetName("sign-out.get")
	app.Post(controller.Routes.Logout, controller.LogOut).SetName("sign-out.post")

	app.Get(controller.Routes.RoleSelection, controller.RoleSelectionShow, pages...).SetName("role-selection.get")
	app.Get(controller.Routes.Register, controller.RegistrationShow, pages...).SetName("register.get")
	app.Post(controller.Routes.Register, controller.RegistrationCreate, pages...).SetName("register.post")
	app.Get(controller.Routes.Register+"/:role", controller.RegistrationShow, pages...).SetName("register-role.get")
	app.Post(controller.Routes.Register+"/:role", controller.RegistrationCreate, pages...).SetName("register-role.post")

	app.Get(controller.Routes.Session, controller.SessionShow).SetName("session.get")
	app.Post(controller.Routes.Profile, controller.ProfileUpdate, controller.Auther.ProtectedRoute()).SetName("profile.post")

	return controller
}

type AuthControllerRoutes struct {
	Login         string
	Logout        string
	Register      string
	RoleSelection string
	TenantSetup   string
	Session       string
	Profile       string
}

type AuthControllerViews struct {
	Login         string
	Register      string
	RoleSelection string
}

type AuthController struct {
	Debug          bool
	Logger         Logger
	Routes         *AuthControllerRoutes
	Views          *AuthControllerViews
	Auther         *RouteAuthenticator
	PageMiddleware []router.MiddlewareFunc
}

type AuthControllerOption func(*AuthController) *AuthController

// WithAuthenticator sets the RouteAuthenticator used by the controller.
func WithAuthenticator(a *RouteAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = a
		return c
	}
}

// WithControllerLogger overrides the logger.
func WithControllerLogger(l Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if l != nil {
			c.Logger = l
		}
		return c
	}
}

// WithPageMiddleware runs mw in front of the auth pages, for example a
// guard sending signed in users to their home page.
func WithPageMiddleware(mw ...router.MiddlewareFunc) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.PageMiddleware = append(c.PageMiddleware, mw...)
		return c
	}
}

// WithControllerDebug dumps payloads to stdout.
func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Login:         "/login",
			Logout:        "/logout",
			Register:      "/register",
			RoleSelection: "/role-selection",
			TenantSetup:   "/tenant-setup",
			Session:       "/api/session",
			Profile:       "/api/profile",
		},
		Views: &AuthControllerViews{
			Login:         "login",
			Register:      "register",
			RoleSelection: "role_selection",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	return c
}

func (a *AuthController) LoginShow(ctx router.Context) error {
	return ctx.Render(a.Views.Login, MergeTemplateData(ctx, router.ViewContext{
		"errors": nil,
		"record": nil,
	}))
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return strings.TrimSpace(r.Identifier)
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// GetExtendedSession reports whether the user asked to be remembered
func (r LoginRequest) GetExtendedSession() bool {
	return r.RememberMe
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload", "error", err)
		return a.respondError(ctx, http.StatusBadRequest, a.Views.Login, payload, map[string]string{
			"form": "Failed to parse form",
		})
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, http.StatusUnprocessableEntity, a.Views.Login, payload, FormatValidationErrorToMap(err))
	}

	if a.Debug {
		safe := *payload
		safe.Password = "********"
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(safe))
		fmt.Println("=========================")
	}

	if err := a.Auther.Login(ctx, payload); err != nil {
		return a.respondError(ctx, StatusCode(err), a.Views.Login, payload, map[string]string{
			"authentication": errorMessage(err),
		})
	}

	snap := GetSnapshot(ctx)
	if wantsJSON(ctx) {
		return ctx.JSON(http.StatusOK, snap)
	}

	if snap.NeedsTenantSetup {
		return ctx.Redirect(a.Routes.TenantSetup, http.StatusSeeOther)
	}

	def := a.Auther.cfg.GetRejectedRouteDefault()
	if snap.User != nil {
		def = snap.User.Role.HomePath()
	}

	return ctx.Redirect(a.Auther.GetRedirect(ctx, def), http.StatusSeeOther)
}

func (a *AuthController) LogOut(ctx router.Context) error {
	if err := a.Auther.Logout(ctx); err != nil {
		a.Logger.Warn("logout finished with provider error", "error", err)
	}

	if wantsJSON(ctx) {
		return ctx.JSON(http.StatusOK, GetSnapshot(ctx))
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "You have been signed out",
	}).Redirect(a.Routes.Login, http.StatusSeeOther)
}

func (a *AuthController) RoleSelectionShow(ctx router.Context) error {
	return ctx.Render(a.Views.RoleSelection, MergeTemplateData(ctx, router.ViewContext{
		"roles": selfRegistrableRoles(),
	}))
}

func (a *AuthController) RegistrationShow(ctx router.Context) error {
	role := ctx.Param("role")
	if role != "" {
		if r, ok := ParseRole(role); !ok || !r.SelfRegistrable() {
			return ctx.Redirect(a.Routes.RoleSelection, http.StatusSeeOther)
		}
	}

	return ctx.Render(a.Views.Register, MergeTemplateData(ctx, router.ViewContext{
		"errors": map[string]string{},
		"record": RegistrationCreatePayload{Role: role},
		"roles":  selfRegistrableRoles(),
	}))
}

// RegistrationCreatePayload is the form payload
type RegistrationCreatePayload struct {
	DisplayName     string `form:"display_name" json:"display_name"`
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
	Role            string `form:"role" json:"role"`
}

func (r RegistrationCreatePayload) GetEmail() string       { return strings.TrimSpace(r.Email) }
func (r RegistrationCreatePayload) GetPassword() string    { return r.Password }
func (r RegistrationCreatePayload) GetDisplayName() string { return strings.TrimSpace(r.DisplayName) }

func (r RegistrationCreatePayload) GetRole() Role {
	role, _ := ParseRole(r.Role)
	return role
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DisplayName, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
		validation.Field(&r.Role, validation.Required, validation.By(validateSelfRegistrableRole)),
	)
}

func (a *AuthController) RegistrationCreate(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register user parse payload", "error", err)
		return a.respondError(ctx, http.StatusBadRequest, a.Views.Register, payload, map[string]string{
			"form": "Failed to parse form",
		})
	}

	if role := ctx.Param("role"); role != "" {
		payload.Role = role
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, http.StatusUnprocessableEntity, a.Views.Register, payload, FormatValidationErrorToMap(err))
	}

	err := a.Auther.Register(ctx, payload)
	switch {
	case errors.Is(err, ErrConfirmationPending):
		if wantsJSON(ctx) {
			return ctx.JSON(http.StatusAccepted, map[string]any{
				"message":   errorMessage(err),
				"text_code": TextCode(err),
			})
		}
		return ctx.Render(a.Views.Login, MergeTemplateData(ctx, router.ViewContext{
			"message": errorMessage(err),
			"record":  LoginRequest{Identifier: payload.GetEmail()},
		}))
	case err != nil:
		return a.respondError(ctx, StatusCode(err), a.Views.Register, payload, map[string]string{
			"registration": errorMessage(err),
		})
	}

	if wantsJSON(ctx) {
		return ctx.JSON(http.StatusCreated, GetSnapshot(ctx))
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Your account was created",
	}).Redirect(a.Routes.TenantSetup, http.StatusSeeOther)
}

func (a *AuthController) SessionShow(ctx router.Context) error {
	return ctx.JSON(http.StatusOK, GetSnapshot(ctx))
}

func (a *AuthController) ProfileUpdate(ctx router.Context) error {
	m, ok := GetMachine(ctx)
	if !ok || !m.Snapshot().IsAuthenticated {
		return ctx.JSON(http.StatusUnauthorized, map[string]any{
			"error":     ErrNoActiveSession.Message,
			"text_code": ErrNoActiveSession.TextCode,
		})
	}

	update := ProfileUpdate{}
	if err := ctx.Bind(&update); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]any{"error": "Failed to parse body"})
	}

	if err := m.UpdateProfile(ctx.Context(), update); err != nil {
		a.Logger.Info("profile update failed", "error", err)
		return ctx.JSON(StatusCode(err), map[string]any{
			"error":     errorMessage(err),
			"text_code": TextCode(err),
		})
	}

	if wantsJSON(ctx) {
		return ctx.JSON(http.StatusOK, m.Snapshot())
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Profile updated",
	}).Redirect("/profile", http.StatusSeeOther)
}

// respondError answers JSON clients with the field errors. Browsers get
// the view again, with the first error flashed for the next page as well.
func (a *AuthController) respondError(ctx router.Context, status int, view string, record any, errs map[string]string) error {
	if wantsJSON(ctx) {
		return ctx.JSON(status, map[string]any{
			"errors": errs,
		})
	}

	message := firstError(errs)
	return flash.WithError(ctx, router.ViewContext{
		"error_message":  message,
		"system_message": "Please review the form",
	}).Status(status).Render(view, MergeTemplateData(ctx, router.ViewContext{
		"errors":        errs,
		"record":        record,
		"roles":         selfRegistrableRoles(),
		"error_message": message,
	}))
}

func firstError(errs map[string]string) string {
	for _, key := range []string{"authentication", "registration", "form"} {
		if msg, ok := errs[key]; ok {
			return msg
		}
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0] + ": " + errs[keys[0]]
}

// FormatValidationErrorToMap flattens ozzo validation errors by field.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}

	var fields validation.Errors
	if errors.As(err, &fields) {
		for name, fieldErr := range fields {
			if fieldErr != nil {
				out[name] = fieldErr.Error()
			}
		}
		return out
	}

	if err != nil {
		out["form"] = err.Error()
	}
	return out
}

func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func validateSelfRegistrableRole(value any) error {
	s, _ := value.(string)
	role, ok := ParseRole(s)
	if !ok {
		return errors.New("unknown role")
	}
	if !role.SelfRegistrable() {
		return errors.New(ErrRoleNotAllowed.Message)
	}
	return nil
}

func selfRegistrableRoles() []Role {
	out := make([]Role, 0, len(Roles))
	for _, r := range Roles {
		if r.SelfRegistrable() {
			out = append(out, r)
		}
	}
	return out
}

// wantsJSON reports whether the client asked for a JSON response.
func wantsJSON(c router.Context) bool {
	if strings.HasPrefix(c.GetString("Content-Type", ""), "application/json") {
		return true
	}
	accept := c.GetString("Accept", "")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// WantsJSON is exported for handlers outside the package.
func WantsJSON(c router.Context) bool {
	return wantsJSON(c)
}

func errorMessage(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return err.Error()
}
