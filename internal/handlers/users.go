package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/diewo77/go-blog/auth"
	"github.com/diewo77/go-blog/httpx"
	"github.com/diewo77/go-blog/internal/services"
	"github.com/diewo77/go-blog/validation"
	"github.com/diewo77/go-blog/view"
)

const invalidLogin = "Please enter a correct username and password. Note that both fields may be case-sensitive."

type UserHandler struct {
	accounts   *services.AccountService
	log        *slog.Logger
	maxUpload  int64
	trustProxy bool
}

// NewUserHandler builds the account handlers. maxUpload bounds the profile
// image upload in bytes. trustProxy makes login audit records use the
// X-Forwarded-For client address.
func NewUserHandler(accounts *services.AccountService, log *slog.Logger, maxUpload int64, trustProxy bool) *UserHandler {
	if maxUpload <= 0 {
		maxUpload = 5 << 20
	}
	return &UserHandler{accounts: accounts, log: log, maxUpload: maxUpload, trustProxy: trustProxy}
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		render(w, r, h.log, "users/register.html", map[string]any{
			"Form":   services.RegisterInput{},
			"Errors": validation.Violations{},
		})
		return
	}
	in := services.RegisterInput{
		Username:  r.FormValue("username"),
		Email:     r.FormValue("email"),
		Password1: r.FormValue("password1"),
		Password2: r.FormValue("password2"),
	}
	u, err := h.accounts.Register(r.Context(), in)
	if v, ok := services.Violations(err); ok {
		in.Password1, in.Password2 = "", ""
		render(w, r, h.log, "users/register.html", map[string]any{"Form": in, "Errors": v})
		return
	}
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	view.SetFlash(w, "Account created for "+u.Username+"! You are now able to log in")
	http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		render(w, r, h.log, "users/login.html", map[string]any{"Next": r.URL.Query().Get("next"), "Username": ""})
		return
	}
	username := r.FormValue("username")
	next := r.FormValue("next")
	u, err := h.accounts.Login(r.Context(), username, r.FormValue("password"), httpx.ClientIP(r, h.trustProxy))
	if errors.Is(err, services.ErrInvalidCredentials) {
		render(w, r, h.log, "users/login.html", map[string]any{
			"Error":    invalidLogin,
			"Username": username,
			"Next":     next,
		})
		return
	}
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	if err := auth.CreateSession(w, u.ID); err != nil {
		fail(w, r, h.log, err)
		return
	}
	http.Redirect(w, r, auth.SafeNext(next, "/"), http.StatusSeeOther)
}

// Logout ends the session and shows the logged-out page. Anonymous visitors
// get the same page.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		if err := h.accounts.Logout(r.Context(), uid); err != nil {
			h.log.Error("logout hook", "user_id", uid, "err", err)
		}
	}
	auth.ClearSession(w)
	render(w, r, h.log, "users/logout.html", map[string]any{"IsLoggedIn": false, "CurrentUserID": uint(0)})
}

type accountForm struct {
	Username string
	Email    string
}

func (h *UserHandler) renderProfile(w http.ResponseWriter, r *http.Request, form accountForm, errs validation.Violations) {
	uid, _ := auth.UserIDFromContext(r.Context())
	u, err := h.accounts.Get(r.Context(), uid)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	if form == (accountForm{}) {
		form = accountForm{Username: u.Username, Email: u.Email}
	}
	if errs == nil {
		errs = validation.Violations{}
	}
	render(w, r, h.log, "users/profile.html", map[string]any{"User": u, "Form": form, "Errors": errs})
}

// Profile shows the account form and applies it on POST. The form is
// multipart; the image field is optional.
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.renderProfile(w, r, accountForm{}, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.renderProfile(w, r, accountForm{}, validation.Violations{"image": "The uploaded file is too large."})
			return
		}
		errorPage(w, r, h.log, http.StatusBadRequest, "Bad Request")
		return
	}
	form := accountForm{Username: r.FormValue("username"), Email: r.FormValue("email")}
	update := services.AccountUpdate{Username: form.Username, Email: form.Email}

	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		errorPage(w, r, h.log, http.StatusBadRequest, "Bad Request")
		return
	default:
		defer file.Close()
		if header.Size > 0 {
			update.Image = file
		}
	}

	_, err = h.accounts.UpdateAccount(r.Context(), update)
	if v, ok := services.Violations(err); ok {
		h.renderProfile(w, r, form, v)
		return
	}
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	view.SetFlash(w, "Your account has been updated!")
	http.Redirect(w, r, "/profile/", http.StatusSeeOther)
}
