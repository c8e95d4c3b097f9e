package echoapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/user"
)

var (
	errNoPermsToSetRole = "rôle supérieur au vôtre"
	msgPasswordReset    = "Si cette adresse correspond à un compte, un email de réinitialisation vient d'être envoyé."
	msgPasswordSet      = "Le mot de passe a été réinitialisé."
)

type userApi struct {
	svc      user.Service
	validate *validator.Validate
	limiter  *addressLimiter
	logger   core.Logger
}

func registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc, api *userApi) {
	ug := g.Group("/users")

	// un-authed endpoints
	ug.POST("/register", api.register)
	ug.POST("/login", api.login)
	ug.POST("/family-code", api.verifyFamilyCode)
	ug.POST("/password-reset", api.resetPassword)
	ug.POST("/password-reset-confirm", api.confirmPasswordReset)

	// authed endpoints
	ag := ug.Group("", jwt)
	ag.POST("/token-refresh", api.refreshToken)
	ag.GET("/me", api.me)
	ag.PUT("/me", api.updateMe)
	ag.GET("/roles", api.queryRoles)
	ag.GET("", api.query, adminMiddleware())

	// admin detail endpoints
	dg := ag.Group("/:id", adminMiddleware(), ctxAdminOfUserMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("/role", api.setRole)
	dg.PUT("/status", api.setStatus)
	dg.PUT("/community", api.moveCommunity)
}

// Handlers

func (api *userApi) register(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(api.validate, api.svc); err != nil {
		return err
	}

	usr, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering user")
	}
	token, err := GenerateToken(GetUserClaims(usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusCreated, LoginResponse{Token: token, User: usr})
}

func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, claims, err := authenticate(ctx, data.Email, data.Password, api.svc)
	if err != nil {
		return err
	}
	token, err := GenerateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, User: usr})
}

func (api *userApi) verifyFamilyCode(ctx echo.Context) error {
	var data FamilyCodeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FamilyCodeRequest")
	}
	info, err := api.svc.VerifyFamilyCode(ctx.Request().Context(), data.Code)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, info)
}

func (api *userApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	if !api.limiter.Allow(data.Email) {
		return errTooManyRequests
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == user.ErrNotFound) {
		// do not return errors to attackers
		api.logger.Error("requesting password reset", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: msgPasswordReset})
}

func (api *userApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if _, err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: msgPasswordSet})
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) updateMe(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data user.UpdateUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}
	if err := data.Validate(usr, api.validate); err != nil {
		return err
	}

	usr, err = api.svc.Update(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	filter := new(user.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.User{})
	}
	filter.Clean()
	// community admins only see their community
	if !claims.IsGod() {
		filter.CommunityID = claims.CommunityID
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	users, err := api.svc.Query(ctx.Request().Context(), *filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *userApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Roles)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	usr, err := getObject(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) adminUpdate(ctx echo.Context, au user.AdminUpdate) error {
	usr, err := getObject(ctx)
	if err != nil {
		return err
	}
	if err := au.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	// admins cannot grant a role above their own, nor move residents out of reach
	if au.Role != "" && user.RolePriority(au.Role) > user.RolePriority(claims.Role) {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: errNoPermsToSetRole})
	}
	if au.CommunityID != "" && !claims.IsGod() {
		return errHttpForbidden
	}
	if usr.ID == claims.Subject && (au.Role != "" || au.Status != "") {
		return errHttpForbidden
	}

	usr, err = api.svc.AdminUpdate(ctx.Request().Context(), usr, au)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) setRole(ctx echo.Context) error {
	var data RoleRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RoleRequest")
	}
	if data.Role == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: "ce champ est obligatoire"})
	}
	return api.adminUpdate(ctx, user.AdminUpdate{Role: data.Role})
}

func (api *userApi) setStatus(ctx echo.Context) error {
	var data StatusRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusRequest")
	}
	if data.Status == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "status", Error: "ce champ est obligatoire"})
	}
	return api.adminUpdate(ctx, user.AdminUpdate{Status: data.Status})
}

func (api *userApi) moveCommunity(ctx echo.Context) error {
	var data CommunityRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CommunityRequest")
	}
	if core.CleanString(data.CommunityID) == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "community_id", Error: "ce champ est obligatoire"})
	}
	return api.adminUpdate(ctx, user.AdminUpdate{CommunityID: data.CommunityID})
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func getObject(ctx echo.Context) (user.User, error) {
	usr, ok := ctx.Get("object").(user.User)
	if !ok {
		return user.User{}, errors.New("user object not found in echo.Context")
	}
	return usr, nil
}

// ctxAdminOfUserMiddleware loads the user of the :id param when the context user administers them.
func ctxAdminOfUserMiddleware(svc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}

			usr, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding user by ID")
			}
			if !claims.IsGod() && usr.CommunityID != claims.CommunityID {
				return errHttpNotFound
			}
			ctx.Set("object", usr)
			return next(ctx)
		}
	}
}

// addressLimiter allows one request per address every interval.
type addressLimiter struct {
	mu       sync.Mutex
	every    time.Duration
	limiters map[string]*rate.Limiter
}

func newAddressLimiter(every time.Duration) *addressLimiter {
	if every <= 0 {
		every = time.Minute
	}
	return &addressLimiter{every: every, limiters: make(map[string]*rate.Limiter)}
}

func (l *addressLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[addr]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.every), 1)
		l.limiters[addr] = lim
	}
	return lim.Allow()
}

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string    `json:"token"`
		User  user.User `json:"user"`
	}

	FamilyCodeRequest struct {
		Code string `json:"code"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	RoleRequest struct {
		Role string `json:"role"`
	}

	StatusRequest struct {
		Status string `json:"status"`
	}

	CommunityRequest struct {
		CommunityID string `json:"community_id"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
