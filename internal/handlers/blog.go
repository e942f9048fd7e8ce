package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/diewo77/go-blog/gate"
	"github.com/diewo77/go-blog/httpx"
	"github.com/diewo77/go-blog/internal/models"
	"github.com/diewo77/go-blog/internal/services"
	"github.com/diewo77/go-blog/validation"
	"github.com/diewo77/go-blog/view"
)

type BlogHandler struct {
	posts *services.PostService
	log   *slog.Logger
}

func NewBlogHandler(posts *services.PostService, log *slog.Logger) *BlogHandler {
	return &BlogHandler{posts: posts, log: log}
}

func (h *BlogHandler) listing(w http.ResponseWriter, r *http.Request, tpl string, list func(page int) (services.Page[models.Post], error)) {
	n, err := services.ParsePage(r.URL.Query().Get("page"))
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	page, err := list(n)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, page)
		return
	}
	render(w, r, h.log, tpl, map[string]any{"Page": page})
}

// Home lists every post, newest first.
func (h *BlogHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.listing(w, r, "blog/home.html", func(page int) (services.Page[models.Post], error) {
		return h.posts.All(r.Context(), page)
	})
}

// Latest lists the most recent post of each author.
func (h *BlogHandler) Latest(w http.ResponseWriter, r *http.Request) {
	h.listing(w, r, "blog/latest.html", func(page int) (services.Page[models.Post], error) {
		return h.posts.LatestPerAuthor(r.Context(), page)
	})
}

func (h *BlogHandler) About(w http.ResponseWriter, r *http.Request) {
	render(w, r, h.log, "blog/about.html", nil)
}

// UserPosts lists one author's posts. An unknown username is a 404.
func (h *BlogHandler) UserPosts(w http.ResponseWriter, r *http.Request) {
	n, err := services.ParsePage(r.URL.Query().Get("page"))
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	author, page, err := h.posts.ByUsername(r.Context(), r.PathValue("username"), n)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, page)
		return
	}
	render(w, r, h.log, "blog/user_posts.html", map[string]any{"Author": author, "Page": page})
}

func (h *BlogHandler) PostDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		fail(w, r, h.log, services.ErrNotFound)
		return
	}
	post, err := h.posts.Get(r.Context(), id)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, post)
		return
	}
	render(w, r, h.log, "blog/post_detail.html", map[string]any{"Post": post})
}

// readPostInput accepts either a JSON body or a form.
func readPostInput(r *http.Request) (services.PostInput, error) {
	var in services.PostInput
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err := json.NewDecoder(r.Body).Decode(&in)
		return in, err
	}
	in.Title = r.FormValue("title")
	in.Content = r.FormValue("content")
	return in, nil
}

func (h *BlogHandler) renderForm(w http.ResponseWriter, r *http.Request, legend, action string, in services.PostInput, errs validation.Violations) {
	if errs == nil {
		errs = validation.Violations{}
	}
	render(w, r, h.log, "blog/post_form.html", map[string]any{
		"Legend": legend,
		"Action": action,
		"Form":   in,
		"Errors": errs,
	})
}

// writeResult finishes a successful create or update, or reports err.
func (h *BlogHandler) writeResult(w http.ResponseWriter, r *http.Request, post *models.Post, status int, flash, legend, action string, in services.PostInput, err error) {
	if v, ok := services.Violations(err); ok {
		if httpx.WantsJSON(r) {
			httpx.JSONError(w, http.StatusBadRequest, "invalid", v)
			return
		}
		h.renderForm(w, r, legend, action, in, v)
		return
	}
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, status, post)
		return
	}
	view.SetFlash(w, flash)
	http.Redirect(w, r, "/post/"+strconv.FormatUint(uint64(post.ID), 10)+"/", http.StatusSeeOther)
}

// PostCreate shows the new post form and creates the post on POST. The
// author is always the logged-in user.
func (h *BlogHandler) PostCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.renderForm(w, r, "New Post", "/post/new/", services.PostInput{}, nil)
		return
	}
	in, err := readPostInput(r)
	if err != nil {
		errorPage(w, r, h.log, http.StatusBadRequest, "Bad Request")
		return
	}
	post, err := h.posts.Create(r.Context(), in)
	h.writeResult(w, r, post, http.StatusCreated, "Your post has been created!", "New Post", "/post/new/", in, err)
}

// PostUpdate edits a post owned by the logged-in user.
func (h *BlogHandler) PostUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		fail(w, r, h.log, gate.ErrUnauthorized)
		return
	}
	action := "/post/" + r.PathValue("id") + "/update/"
	if r.Method == http.MethodGet {
		post, err := h.posts.Editable(r.Context(), id, gate.ActionUpdate)
		if err != nil {
			fail(w, r, h.log, err)
			return
		}
		h.renderForm(w, r, "Update Post", action, services.PostInput{Title: post.Title, Content: post.Content}, nil)
		return
	}
	in, err := readPostInput(r)
	if err != nil {
		errorPage(w, r, h.log, http.StatusBadRequest, "Bad Request")
		return
	}
	post, err := h.posts.Update(r.Context(), id, in)
	h.writeResult(w, r, post, http.StatusOK, "Your post has been updated!", "Update Post", action, in, err)
}

// PostDelete asks for confirmation on GET and deletes on POST.
func (h *BlogHandler) PostDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		fail(w, r, h.log, gate.ErrUnauthorized)
		return
	}
	if r.Method == http.MethodGet {
		post, err := h.posts.Editable(r.Context(), id, gate.ActionDelete)
		if err != nil {
			fail(w, r, h.log, err)
			return
		}
		render(w, r, h.log, "blog/post_confirm_delete.html", map[string]any{"Post": post})
		return
	}
	if err := h.posts.Delete(r.Context(), id); err != nil {
		fail(w, r, h.log, err)
		return
	}
	if httpx.WantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	view.SetFlash(w, "Your post has been deleted!")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
