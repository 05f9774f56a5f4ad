package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Quiet-Fox-Software/linkstash-back/internal/auth"
	"github.com/Quiet-Fox-Software/linkstash-back/internal/config"
	"github.com/Quiet-Fox-Software/linkstash-back/internal/db"
	"github.com/Quiet-Fox-Software/linkstash-back/internal/scrape"
	"github.com/Quiet-Fox-Software/linkstash-back/internal/service"
)

type (
	RegisterReq struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	LoginReq struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	PasswordReq struct {
		CurrentPassword string `json:"currentPassword" validate:"required"`
		NewPassword     string `json:"newPassword" validate:"required"`
	}

	BookmarkCreateReq struct {
		URL string `json:"url" validate:"required,url"`
	}

	BookmarkUpdateReq struct {
		Title    *string `json:"title"`
		URL      *string `json:"url" validate:"omitempty,url"`
		Favorite *bool   `json:"favorite"`
	}

	FavoriteReq struct {
		BookmarkID uint64 `json:"bookmarkId" validate:"required"`
		Action     string `json:"action" validate:"required,oneof=favorite unfavorite"`
	}

	UserResp struct {
		ID    uint64 `json:"id"`
		Email string `json:"email"`
	}

	BookmarkResp struct {
		ID        uint64 `json:"id"`
		Title     string `json:"title"`
		URL       string `json:"url"`
		Favicon   string `json:"favicon"`
		Favorite  bool   `json:"favorite"`
		CreatedAt string `json:"createdAt"`
		UpdatedAt string `json:"updatedAt"`
	}

	CustomValidator struct {
		validator *validator.Validate
	}

	// privateHandler receives the authenticated user explicitly instead of
	// digging it out of the request context.
	privateHandler func(c echo.Context, user *db.User) error

	HTTPServer struct {
		svc    *service.General
		tokens *auth.TokenIssuer
		logger *zap.SugaredLogger
	}
)

func NewRouter(cfg *config.Config, svc *service.General, tokens *auth.TokenIssuer, logger *zap.SugaredLogger) (*echo.Echo, *HTTPServer) {
	e := echo.New()
	e.HideBanner = true

	instance := HTTPServer{
		svc:    svc,
		tokens: tokens,
		logger: logger,
	}

	authG := e.Group("/auth")
	authG.POST("", instance.Register)
	authG.POST("/login", instance.Login)
	authG.POST("/logout", instance.Logout)
	authG.GET("/me", instance.private(instance.Me))
	authG.GET("/check-email/:email", instance.CheckEmail)
	authG.PUT("/password", instance.private(instance.UpdatePassword))
	authG.DELETE("", instance.private(instance.DeleteAccount))
	authG.DELETE("/delete-all-bookmarks", instance.private(instance.BookmarkDeleteAll))

	bookmarkG := e.Group("/bookmarks")
	bookmarkG.POST("", instance.private(instance.BookmarkCreate))
	bookmarkG.GET("", instance.private(instance.BookmarkList))
	bookmarkG.GET("/favorites", instance.private(instance.BookmarkFavorites))
	bookmarkG.POST("/favorites", instance.private(instance.BookmarkFavorite))
	bookmarkG.GET("/:id", instance.private(instance.BookmarkGet))
	bookmarkG.PUT("/:id", instance.private(instance.BookmarkUpdate))
	bookmarkG.DELETE("/:id", instance.private(instance.BookmarkDelete))

	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/health", instance.Health)

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.CORSOrigin},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch},
		AllowCredentials: true,
	}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyDump(func(c echo.Context, reqBody, _ []byte) {
		if len(reqBody) == 0 {
			return
		}
		logger.Debugw("request body",
			"method", c.Request().Method,
			"path", c.Path(),
			"body", string(censorBody(reqBody)))
	}))

	e.Validator = &CustomValidator{validator: validator.New()}

	echo.NotFoundHandler = func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	}

	return e, &instance
}

func NewHTTPServer(lc fx.Lifecycle, cfg *config.Config, svc *service.General, tokens *auth.TokenIssuer, logger *zap.SugaredLogger) *HTTPServer {
	e, instance := NewRouter(cfg, svc, tokens, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				listen := cfg.Host + ":" + cfg.Port
				if err := e.Start(listen); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal("shutting down the server")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server.")
			return e.Shutdown(ctx)
		},
	})

	return instance
}

// private authenticates the session cookie and hands the resolved user to
// the handler. No token, bad token, or vanished user all end the request
// with 401 before the handler runs.
func (s *HTTPServer) private(h privateHandler) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(auth.CookieName)
		if err != nil || cookie.Value == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Not authorized, no token")
		}

		userID, err := s.tokens.Verify(cookie.Value)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Not authorized, token failed")
		}

		user, err := s.svc.UserByID(userID)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Not authorized, token failed")
		}

		return h(c, user)
	}
}

func (s *HTTPServer) Register(c echo.Context) error {
	req := RegisterReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := s.svc.Register(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			return echo.NewHTTPError(http.StatusBadRequest, "User already exists")
		}
		return errors.Wrap(err, "register")
	}

	if err := s.setSessionCookie(c, user.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, UserResp{ID: user.ID, Email: user.Email})
}

func (s *HTTPServer) Login(c echo.Context) error {
	req := LoginReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := s.svc.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrLoginUserNotFound) || errors.Is(err, service.ErrLoginPasswordDoesNotMatch) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
		}
		return errors.Wrap(err, "login")
	}

	if err := s.setSessionCookie(c, user.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, UserResp{ID: user.ID, Email: user.Email})
}

func (s *HTTPServer) Logout(c echo.Context) error {
	c.SetCookie(s.tokens.ExpiredSessionCookie())
	return c.JSON(http.StatusOK, echo.Map{"message": "Logged out successfully"})
}

func (s *HTTPServer) Me(c echo.Context, user *db.User) error {
	return c.JSON(http.StatusOK, UserResp{ID: user.ID, Email: user.Email})
}

func (s *HTTPServer) CheckEmail(c echo.Context) error {
	email, err := GetParam(c, "email")
	if err != nil {
		return err
	}

	taken, err := s.svc.EmailTaken(email)
	if err != nil {
		return errors.Wrap(err, "check email")
	}
	return c.JSON(http.StatusOK, echo.Map{"taken": taken})
}

func (s *HTTPServer) UpdatePassword(c echo.Context, user *db.User) error {
	req := PasswordReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	if err := s.svc.UpdatePassword(user, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrPasswordDoesNotMatch) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Incorrect current password")
		}
		return errors.Wrap(err, "update password")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password updated successfully"})
}

func (s *HTTPServer) DeleteAccount(c echo.Context, user *db.User) error {
	if err := s.svc.DeleteUser(user); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "User not found")
		}
		return errors.Wrap(err, "delete user")
	}
	c.SetCookie(s.tokens.ExpiredSessionCookie())
	return c.JSON(http.StatusOK, echo.Map{"message": "Account deletion successful"})
}

func (s *HTTPServer) BookmarkCreate(c echo.Context, user *db.User) error {
	req := BookmarkCreateReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	model, err := s.svc.BookmarkCreate(user, req.URL)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDuplicateURL):
			return echo.NewHTTPError(http.StatusBadRequest, "You have already bookmarked this URL")
		case errors.Is(err, scrape.ErrFetchFailed):
			return echo.NewHTTPError(http.StatusInternalServerError, "Could not fetch site metadata")
		default:
			return errors.Wrap(err, "create bookmark")
		}
	}

	return c.JSON(http.StatusCreated, toBookmarkResp(model))
}

func (s *HTTPServer) BookmarkList(c echo.Context, user *db.User) error {
	bookmarks, err := s.svc.BookmarkList(user)
	if err != nil {
		return errors.Wrap(err, "list bookmarks")
	}
	return c.JSON(http.StatusOK, toBookmarkResps(bookmarks))
}

func (s *HTTPServer) BookmarkFavorites(c echo.Context, user *db.User) error {
	bookmarks, err := s.svc.BookmarkFavorites(user)
	if err != nil {
		return errors.Wrap(err, "list favorites")
	}
	return c.JSON(http.StatusOK, toBookmarkResps(bookmarks))
}

func (s *HTTPServer) BookmarkGet(c echo.Context, user *db.User) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}

	model, err := s.svc.BookmarkGet(user, id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Bookmark not found")
		}
		return errors.Wrap(err, "get bookmark")
	}
	return c.JSON(http.StatusOK, toBookmarkResp(model))
}

func (s *HTTPServer) BookmarkUpdate(c echo.Context, user *db.User) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}

	req := BookmarkUpdateReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	model, err := s.svc.BookmarkUpdate(user, id, req.Title, req.URL, req.Favorite)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "Bookmark not found or unauthorized")
		case errors.Is(err, service.ErrDuplicateURL):
			return echo.NewHTTPError(http.StatusBadRequest, "You have already bookmarked this URL")
		default:
			return errors.Wrap(err, "update bookmark")
		}
	}
	return c.JSON(http.StatusOK, toBookmarkResp(model))
}

func (s *HTTPServer) BookmarkFavorite(c echo.Context, user *db.User) error {
	req := FavoriteReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	model, err := s.svc.BookmarkSetFavorite(user, req.BookmarkID, req.Action == "favorite")
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Bookmark not found or unauthorized")
		}
		return errors.Wrap(err, "set favorite")
	}
	return c.JSON(http.StatusOK, toBookmarkResp(model))
}

func (s *HTTPServer) BookmarkDelete(c echo.Context, user *db.User) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.svc.BookmarkDelete(user, id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Bookmark not found")
		}
		return errors.Wrap(err, "delete bookmark")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Bookmark removed"})
}

func (s *HTTPServer) BookmarkDeleteAll(c echo.Context, user *db.User) error {
	count, err := s.svc.BookmarkDeleteAll(user)
	if err != nil {
		return errors.Wrap(err, "delete all bookmarks")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "All bookmarks have been successfully deleted",
		"count":   count,
	})
}

func (s *HTTPServer) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":    "OK",
		"timestamp": nowRFC3339(),
	})
}

func (s *HTTPServer) setSessionCookie(c echo.Context, userID uint64) error {
	token, err := s.tokens.Issue(userID)
	if err != nil {
		return errors.Wrap(err, "issue token")
	}
	c.SetCookie(s.tokens.SessionCookie(token))
	return nil
}

////////

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func BindAndValidate(c echo.Context, v interface{}) error {
	var err error
	if err = c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err = c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func GetParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return value, nil
}

func GetAndParseParam(c echo.Context, name string) (uint64, error) {
	v, e := GetParam(c, name)
	if e != nil {
		return 0, e
	}
	vv, e := strconv.ParseUint(v, 10, 64)
	if e != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return vv, nil
}

func toBookmarkResp(m *db.Bookmark) BookmarkResp {
	return BookmarkResp{
		ID:        m.ID,
		Title:     m.Title,
		URL:       m.URL,
		Favicon:   m.Favicon,
		Favorite:  m.Favorite,
		CreatedAt: m.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: m.UpdatedAt.UTC().Format(timeFormat),
	}
}

func toBookmarkResps(models []db.Bookmark) []BookmarkResp {
	resp := make([]BookmarkResp, len(models))
	for i := range models {
		resp[i] = toBookmarkResp(&models[i])
	}
	return resp
}

const timeFormat = time.RFC3339

func nowRFC3339() string {
	return time.Now().UTC().Format(timeFormat)
}

var censoredFields = []string{"password", "currentPassword", "newPassword"}

// censorBody masks credential fields before a request body hits the log.
// Bodies that are not JSON objects pass through untouched.
func censorBody(body []byte) []byte {
	payload := map[string]interface{}{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}

	changed := false
	for _, field := range censoredFields {
		if _, ok := payload[field]; ok {
			payload[field] = "$censored"
			changed = true
		}
	}
	if !changed {
		return body
	}

	censored, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return censored
}
