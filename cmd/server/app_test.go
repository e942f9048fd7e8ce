package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/diewo77/go-blog/auth"
	"github.com/diewo77/go-blog/internal/config"
	"github.com/diewo77/go-blog/internal/db"
	"github.com/diewo77/go-blog/internal/models"
	"github.com/diewo77/go-blog/view"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type testApp struct {
	app  *App
	db   *gorm.DB
	rc   *RouterConfig
	jars map[string][]*http.Cookie
}

func newTestApp(t *testing.T, opts ...func(*config.AppConfig)) *testApp {
	t.Helper()
	conn, err := db.OpenSQLite("file:app_"+t.Name()+"?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := slog.New(slog.DiscardHandler)
	appCfg := config.AppConfig{
		MediaRoot:      t.TempDir(),
		PageSize:       5,
		MaxUploadBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(&appCfg)
	}
	rc := NewRouterConfig(conn, appCfg, log)
	rc.Accounts.SetHashCost(bcrypt.MinCost)
	if _, err := rc.Store.EnsurePlaceholder(); err != nil {
		t.Fatalf("placeholder: %v", err)
	}
	view.ResetForTests()
	return &testApp{app: NewApp(conn, rc, log), db: conn, rc: rc, jars: map[string][]*http.Cookie{}}
}

// do sends a request as user (empty for anonymous) and keeps that user's session cookie.
func (ta *testApp) do(t *testing.T, user string, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	for _, c := range ta.jars[user] {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	ta.app.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		if c.Name == "session" && user != "" {
			if c.MaxAge < 0 {
				delete(ta.jars, user)
			} else {
				ta.jars[user] = []*http.Cookie{c}
			}
		}
	}
	return rr
}

func form(method, target string, values url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func (ta *testApp) signup(t *testing.T, username string) {
	t.Helper()
	rr := ta.do(t, "", form(http.MethodPost, "/register/", url.Values{
		"username":  {username},
		"email":     {username + "@example.com"},
		"password1": {"correct-horse"},
		"password2": {"correct-horse"},
	}))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login/" {
		t.Fatalf("register %s: code=%d location=%q body=%s", username, rr.Code, rr.Header().Get("Location"), rr.Body.String())
	}
	rr = ta.do(t, username, form(http.MethodPost, "/login/", url.Values{
		"username": {username},
		"password": {"correct-horse"},
	}))
	if rr.Code != http.StatusSeeOther || len(ta.jars[username]) == 0 {
		t.Fatalf("login %s: code=%d", username, rr.Code)
	}
}

func (ta *testApp) createPost(t *testing.T, user, title string) string {
	t.Helper()
	rr := ta.do(t, user, form(http.MethodPost, "/post/new/", url.Values{"title": {title}, "content": {"body of " + title}}))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("create post: code=%d body=%s", rr.Code, rr.Body.String())
	}
	return rr.Header().Get("Location")
}

func TestLoginRequiredRedirects(t *testing.T) {
	ta := newTestApp(t)
	for _, path := range []string{"/post/new/", "/profile/", "/post/1/update/"} {
		rr := ta.do(t, "", httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusSeeOther {
			t.Fatalf("%s: expected 303, got %d", path, rr.Code)
		}
		want := "/login/?next=" + url.QueryEscape(path)
		if got := rr.Header().Get("Location"); got != want {
			t.Errorf("%s: location %q, want %q", path, got, want)
		}
	}
}

func TestLoginHonorsLocalNextOnly(t *testing.T) {
	ta := newTestApp(t)
	ta.signup(t, "alice")

	rr := ta.do(t, "alice", form(http.MethodPost, "/login/", url.Values{
		"username": {"alice"}, "password": {"correct-horse"}, "next": {"/post/new/"},
	}))
	if loc := rr.Header().Get("Location"); loc != "/post/new/" {
		t.Errorf("expected local next, got %q", loc)
	}
	rr = ta.do(t, "alice", form(http.MethodPost, "/login/", url.Values{
		"username": {"alice"}, "password": {"correct-horse"}, "next": {"https://evil.example/"},
	}))
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Errorf("expected fallback to /, got %q", loc)
	}

	rr = ta.do(t, "", form(http.MethodPost, "/login/", url.Values{"username": {"alice"}, "password": {"nope"}}))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "correct username and password") {
		t.Errorf("bad password: code=%d", rr.Code)
	}

	var logins int64
	ta.db.Model(&models.AuditLog{}).Where("action = ?", models.AuditLogin).Count(&logins)
	if logins != 3 {
		t.Errorf("expected 3 login audit rows, got %d", logins)
	}
}

func lastLoginAddr(t *testing.T, ta *testApp) string {
	t.Helper()
	var entry models.AuditLog
	if err := ta.db.Where("action = ?", models.AuditLogin).Order("id desc").First(&entry).Error; err != nil {
		t.Fatalf("load login audit: %v", err)
	}
	return entry.RemoteAddr
}

func TestLoginAuditIgnoresForwardedForByDefault(t *testing.T) {
	ta := newTestApp(t)
	ta.signup(t, "alice")

	req := form(http.MethodPost, "/login/", url.Values{"username": {"alice"}, "password": {"correct-horse"}})
	req.RemoteAddr = "198.51.100.4:40000"
	req.Header.Set("X-Forwarded-For", "10.9.8.7, "+strings.Repeat("x", 200))
	if rr := ta.do(t, "alice", req); rr.Code != http.StatusSeeOther {
		t.Fatalf("login: code=%d", rr.Code)
	}
	if got := lastLoginAddr(t, ta); got != "198.51.100.4" {
		t.Errorf("audit remote addr = %q, want peer address", got)
	}
}

func TestLoginAuditBehindTrustedProxy(t *testing.T) {
	ta := newTestApp(t, func(c *config.AppConfig) { c.TrustProxy = true })
	ta.signup(t, "alice")

	req := form(http.MethodPost, "/login/", url.Values{"username": {"alice"}, "password": {"correct-horse"}})
	req.RemoteAddr = "10.0.0.2:40000"
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.2")
	ta.do(t, "alice", req)
	if got := lastLoginAddr(t, ta); got != "203.0.113.50" {
		t.Errorf("audit remote addr = %q, want forwarded client", got)
	}

	req = form(http.MethodPost, "/login/", url.Values{"username": {"alice"}, "password": {"correct-horse"}})
	req.RemoteAddr = "10.0.0.2:40000"
	req.Header.Set("X-Forwarded-For", strings.Repeat("z", 300))
	ta.do(t, "alice", req)
	if got := lastLoginAddr(t, ta); got != "10.0.0.2" {
		t.Errorf("audit remote addr = %q, want peer address for unparsable header", got)
	}
}

func TestCanResolvesRequestedResourceType(t *testing.T) {
	ta := newTestApp(t)
	ta.signup(t, "alice")
	ta.signup(t, "bob")

	var alice, bob models.User
	if err := ta.db.Where("username = ?", "alice").First(&alice).Error; err != nil {
		t.Fatal(err)
	}
	if err := ta.db.Where("username = ?", "bob").First(&bob).Error; err != nil {
		t.Fatal(err)
	}
	var profile models.Profile
	if err := ta.db.Where("user_id = ?", alice.ID).First(&profile).Error; err != nil {
		t.Fatal(err)
	}

	asUser := func(id uint) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(auth.WithUserID(req.Context(), id))
	}
	if !ta.app.can(asUser(alice.ID), "update", "profile", &profile) {
		t.Error("owner should be able to update own profile")
	}
	if ta.app.can(asUser(bob.ID), "update", "profile", &profile) {
		t.Error("other user must not update the profile")
	}
	if ta.app.can(asUser(alice.ID), "update", "comment", &profile) {
		t.Error("unregistered resource type must be denied")
	}
}

func TestPostLifecycleAndOwnership(t *testing.T) {
	ta := newTestApp(t)
	ta.signup(t, "alice")
	ta.signup(t, "bob")

	loc := ta.createPost(t, "alice", "Hello")
	if !strings.HasPrefix(loc, "/post/") {
		t.Fatalf("unexpected redirect %q", loc)
	}

	rr := ta.do(t, "alice", httptest.NewRequest(http.MethodGet, loc, nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Hello") {
		t.Fatalf("detail: code=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "/update/") {
		t.Error("author should see the update link")
	}
	rr = ta.do(t, "bob", httptest.NewRequest(http.MethodGet, loc, nil))
	if strings.Contains(rr.Body.String(), "/update/") {
		t.Error("other users must not see the update link")
	}

	// bob cannot touch alice's post, nor a post that does not exist.
	for _, path := range []string{loc + "update/", loc + "delete/", "/post/999/update/", "/post/999/delete/"} {
		rr = ta.do(t, "bob", form(http.MethodPost, path, url.Values{"title": {"x"}, "content": {"y"}}))
		if rr.Code != http.StatusForbidden {
			t.Errorf("POST %s as bob: expected 403, got %d", path, rr.Code)
		}
		rr = ta.do(t, "bob", httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusForbidden {
			t.Errorf("GET %s as bob: expected 403, got %d", path, rr.Code)
		}
	}

	rr = ta.do(t, "alice", form(http.MethodPost, loc+"update/", url.Values{"title": {"Hello again"}, "content": {"edited"}}))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("update: code=%d body=%s", rr.Code, rr.Body.String())
	}
	var post models.Post
	ta.db.First(&post)
	if post.Title != "Hello again" {
		t.Errorf("title not updated: %q", post.Title)
	}

	rr = ta.do(t, "alice", form(http.MethodPost, loc+"update/", url.Values{"title": {""}, "content": {"edited"}}))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "This field is required.") {
		t.Errorf("invalid update should re-render the form: code=%d", rr.Code)
	}

	rr = ta.do(t, "alice", form(http.MethodPost, loc+"delete/", nil))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/" {
		t.Fatalf("delete: code=%d", rr.Code)
	}
	rr = ta.do(t, "", httptest.NewRequest(http.MethodGet, loc, nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("deleted post: expected 404, got %d", rr.Code)
	}
}

func TestListings(t *testing.T) {
	ta := newTestApp(t)
	ta.signup(t, "alice")
	ta.signup(t, "bob")
	ta.createPost(t, "alice", "A1")
	ta.createPost(t, "alice", "A2")
	ta.createPost(t, "bob", "B1")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")
	rr := ta.do(t, "", req)
	if rr.Code != http.StatusOK {
		t.Fatalf("home json: %d", rr.Code)
	}
	var page struct {
		Items []models.Post `json:"items"`
		Total int64         `json:"total"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 3 {
		t.Fatalf("expected 3 posts, got %d/%d", page.Total, len(page.Items))
	}

	req = httptest.NewRequest(http.MethodGet, "/latest/?format=json", nil)
	rr = ta.do(t, "", req)
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode latest: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("latest per author: expected 2, got %d", len(page.Items))
	}
	titles := map[string]bool{}
	for _, p := range page.Items {
		titles[p.Title] = true
	}
	if !titles["B1"] || titles["A1"] {
		t.Errorf("unexpected latest titles %v", titles)
	}

	rr = ta.do(t, "", httptest.NewRequest(http.MethodGet, "/user/alice/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Posts by alice (2)") {
		t.Errorf("user page: code=%d", rr.Code)
	}
	for _, path := range []string{"/user/nobody/", "/?page=abc", "/?page=9", "/post/abc/"} {
		rr = ta.do(t, "", httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rr.Code)
		}
	}
	for _, path := range []string{"/", "/latest/", "/about/"} {
		rr = ta.do(t, "", httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func pngUpload(t *testing.T, w, h int) (*bytes.Buffer, string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("username", "alice")
	_ = mw.WriteField("email", "alice@example.com")
	part, err := mw.CreateFormFile("image", "avatar.png")
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(part, img); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, mw.FormDataContentType()
}

func TestProfileUploadIsResized(t *testing.T) {
	ta := newTestApp(t)
	ta.signup(t, "alice")

	body, ctype := pngUpload(t, 500, 200)
	req := httptest.NewRequest(http.MethodPost, "/profile/", body)
	req.Header.Set("Content-Type", ctype)
	rr := ta.do(t, "alice", req)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("profile update: code=%d body=%s", rr.Code, rr.Body.String())
	}

	var p models.Profile
	if err := ta.db.First(&p).Error; err != nil {
		t.Fatal(err)
	}
	if p.HasDefaultImage() {
		t.Fatal("image not replaced")
	}
	path, err := ta.rc.Store.Path(p.Image)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 300 || cfg.Height != 120 {
		t.Errorf("expected 300x120, got %dx%d", cfg.Width, cfg.Height)
	}

	rr = ta.do(t, "", httptest.NewRequest(http.MethodGet, "/media/"+p.Image, nil))
	if rr.Code != http.StatusOK {
		t.Errorf("media: expected 200, got %d", rr.Code)
	}

	rr = ta.do(t, "alice", httptest.NewRequest(http.MethodGet, "/profile/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "/media/"+p.Image) {
		t.Errorf("profile page: code=%d", rr.Code)
	}
}

func TestProfileRejectsNonImage(t *testing.T) {
	ta := newTestApp(t)
	ta.signup(t, "alice")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("username", "alice")
	_ = mw.WriteField("email", "alice@example.com")
	part, _ := mw.CreateFormFile("image", "notes.txt")
	_, _ = io.WriteString(part, "plain text")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/profile/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := ta.do(t, "alice", req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Upload a valid image.") {
		t.Errorf("expected form error, got %d", rr.Code)
	}
}

func TestLogoutAndHealth(t *testing.T) {
	ta := newTestApp(t)
	ta.signup(t, "alice")

	rr := ta.do(t, "alice", form(http.MethodPost, "/logout/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "You have been logged out") {
		t.Fatalf("logout: code=%d", rr.Code)
	}
	if len(ta.jars["alice"]) != 0 {
		t.Error("session cookie should be cleared")
	}
	var logouts int64
	ta.db.Model(&models.AuditLog{}).Where("action = ? AND username = ?", models.AuditLogout, "alice").Count(&logouts)
	if logouts != 1 {
		t.Errorf("expected one logout audit row, got %d", logouts)
	}

	rr = ta.do(t, "", httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("healthz: %d %q", rr.Code, rr.Body.String())
	}
}

func TestRecoverMiddleware(t *testing.T) {
	ta := newTestApp(t)
	h := ta.app.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
