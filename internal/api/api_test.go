package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/auth"
	"github.com/starford/docintake/internal/index"
	"github.com/starford/docintake/internal/intake"
	"github.com/starford/docintake/internal/naming"
	"github.com/starford/docintake/internal/storage"
	"github.com/starford/docintake/internal/testutil"
)

const pdf = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n"

// tokens maps bearer tokens to identities.
type tokens map[string]auth.Identity

func (v tokens) Verify(_ context.Context, tok string) (auth.Identity, error) {
	id, ok := v[tok]
	if !ok {
		return auth.Identity{}, apperr.ErrUnauthorized
	}
	return id, nil
}

func (tokens) Close() error { return nil }

type fakeAdmin struct{ userID, email, password string }

func (f *fakeAdmin) UpdateUserPassword(_ context.Context, userID, password string) error {
	f.userID, f.password = userID, password
	return nil
}

func (f *fakeAdmin) SetPassword(_ context.Context, email, password string) error {
	if email == "ghost@example.com" {
		return apperr.ErrNotFound
	}
	f.email, f.password = email, password
	return nil
}

type env struct {
	handler http.Handler
	store   *storage.FS
	db      *index.SQLite
	admin   *fakeAdmin
}

// testEnv sets up a temp store, a seeded SQLite index, the service and the
// full handler tree: /api behind token auth and /blob.
func testEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.TestDB(t)
	testutil.SeedRules(t, db)
	store := testutil.TestStore(t, "http://example.test")
	engine, err := naming.New(naming.DefaultConfig(), db, store)
	if err != nil {
		t.Fatalf("naming.New: %v", err)
	}
	admin := &fakeAdmin{}
	logger := testutil.Logger()
	svc := intake.NewService(engine, store, db, logger, intake.WithAdmin(admin), intake.WithReadableBuckets("docs"))

	r := chi.NewRouter()
	r.Mount("/api", NewRouter(svc, RouterConfig{
		Verifier: tokens{
			"jane":  {UserID: "user-1", Email: "jane@example.com"},
			"admin": {UserID: "user-0", Email: "Admin@Example.com"},
		},
		AdminEmails: []string{"admin@example.com"},
		Logger:      logger,
	}))
	r.Mount("/blob", NewBlobHandler(store, logger).Routes())
	return &env{handler: r, store: store, db: db, admin: admin}
}

func (e *env) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func leaseUpload() SignUploadRequest {
	return SignUploadRequest{Type: "1.2", Date: "2024-03", Asset: "ABC1", OriginalFilename: "lease.pdf"}
}

func TestAuthRequired(t *testing.T) {
	e := testEnv(t)
	if w := e.do(t, http.MethodGet, "/api/types", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/types", "nope", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d", w.Code)
	}
}

func TestSignUploadAndPut(t *testing.T) {
	e := testEnv(t)
	w := e.do(t, http.MethodPost, "/api/sign-upload", "jane", leaseUpload())
	if w.Code != http.StatusOK {
		t.Fatalf("sign-upload = %d %s", w.Code, w.Body.String())
	}
	target := decode[intake.UploadTarget](t, w)
	want := "m(ttype=1.2)(tname=Lease)(tscope=asset)(tasset=ABC1)(tdate=2024-03)(tmail=jane%40example.com).pdf"
	if target.Path != want || target.Bucket != "inbox" {
		t.Fatalf("target = %+v", target)
	}

	w = e.do(t, http.MethodPut, target.SignedURL, "", pdf)
	if w.Code != http.StatusOK {
		t.Fatalf("put = %d %s", w.Code, w.Body.String())
	}
	if got := decode[map[string]string](t, w)["Key"]; got != "inbox/"+want {
		t.Errorf("stored key = %q", got)
	}
	obj, err := e.store.Stat("inbox", want)
	if err != nil || obj.Size != int64(len(pdf)) {
		t.Errorf("stat = %+v, %v", obj, err)
	}

	// Write-once.
	if w := e.do(t, http.MethodPut, target.SignedURL, "", pdf); w.Code != http.StatusConflict {
		t.Errorf("second put = %d", w.Code)
	}
	// Same name again cannot even be signed.
	if w := e.do(t, http.MethodPost, "/api/sign-upload", "jane", leaseUpload()); w.Code != http.StatusBadGateway {
		t.Errorf("re-sign = %d %s", w.Code, w.Body.String())
	}
}

func TestSignUploadErrors(t *testing.T) {
	e := testEnv(t)
	cases := []struct {
		name   string
		body   any
		status int
		code   string
		field  string
	}{
		{"bad json", "{", http.StatusBadRequest, "invalid_format", "body"},
		{"unknown type", SignUploadRequest{Type: "9.9", OriginalFilename: "a.pdf"}, http.StatusUnprocessableEntity, "unknown_type", "type"},
		{"missing asset", SignUploadRequest{Type: "1.2", OriginalFilename: "a.pdf"}, http.StatusBadRequest, "missing_field", "asset"},
		{"bad date", SignUploadRequest{Type: "1.2", Asset: "ABC1", Date: "03/2024", OriginalFilename: "a.pdf"}, http.StatusBadRequest, "invalid_format", "date"},
		{"bad type source", SignUploadRequest{Type: "1.2", TypeSource: "guess", OriginalFilename: "a.pdf"}, http.StatusBadRequest, "invalid_format", "type_source"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/api/sign-upload", "jane", c.body)
			if w.Code != c.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, c.status, w.Body.String())
			}
			got := decode[errResponse](t, w)
			if got.Code != c.code || got.Field != c.field {
				t.Errorf("error = %+v", got)
			}
		})
	}
}

func TestPreviewConfirmation(t *testing.T) {
	e := testEnv(t)
	req := SignUploadRequest{TypeSource: "filename", Asset: "ABC1", OriginalFilename: "1.2 lease.pdf"}
	w := e.do(t, http.MethodPost, "/api/filename/preview", "jane", req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unconfirmed = %d %s", w.Code, w.Body.String())
	}
	got := decode[errResponse](t, w)
	if got.Field != "type_confirmation" || got.Details["extracted_type"] != "1.2" {
		t.Errorf("error = %+v", got)
	}

	req.ConfirmType = "1.2"
	w = e.do(t, http.MethodPost, "/api/filename/preview", "jane", req)
	if w.Code != http.StatusOK {
		t.Fatalf("confirmed = %d %s", w.Code, w.Body.String())
	}
	plan := decode[map[string]any](t, w)
	if plan["bucket"] != "inbox" || plan["extracted_type"] != "1.2" || !strings.HasPrefix(plan["name"].(string), "m(ttype=1.2)") {
		t.Errorf("plan = %v", plan)
	}
	objs, _ := e.store.List(context.Background(), "inbox")
	if len(objs) != 0 {
		t.Error("preview stored something")
	}
}

func TestBlobRejectsBadTokenAndContent(t *testing.T) {
	e := testEnv(t)
	target := decode[intake.UploadTarget](t, e.do(t, http.MethodPost, "/api/sign-upload", "jane", leaseUpload()))

	u, _ := url.Parse(target.SignedURL)
	q := u.Query()
	q.Set("token", "forged")
	u.RawQuery = q.Encode()
	if w := e.do(t, http.MethodPut, u.String(), "", pdf); w.Code != http.StatusForbidden {
		t.Errorf("forged token = %d", w.Code)
	}

	w := e.do(t, http.MethodPut, target.SignedURL, "", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("png as pdf = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPut, target.SignedURL, "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty body = %d", w.Code)
	}
}

func TestSignDownloadAndGet(t *testing.T) {
	e := testEnv(t)
	key := "m(ttype=3)(tname=Correspondence)(tscope=asset)(tmail=a%40b.c).pdf"
	if _, err := e.store.Put("docs", key, strings.NewReader(pdf)); err != nil {
		t.Fatal(err)
	}

	w := e.do(t, http.MethodPost, "/api/sign-download", "jane", SignDownloadRequest{StoragePath: "docs/" + key})
	if w.Code != http.StatusOK {
		t.Fatalf("sign-download = %d %s", w.Code, w.Body.String())
	}
	signed := decode[SignDownloadResponse](t, w).SignedURL

	w = e.do(t, http.MethodGet, signed, "", nil)
	if w.Code != http.StatusOK || w.Body.String() != pdf {
		t.Fatalf("get = %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}

	// A download token does not grant uploads.
	if w := e.do(t, http.MethodPut, signed, "", pdf); w.Code != http.StatusForbidden {
		t.Errorf("put with download token = %d", w.Code)
	}

	for _, c := range []struct {
		body   string
		status int
	}{
		{`{}`, http.StatusBadRequest},
		{`{"storage_path":"docs/x","expiresIn":-1}`, http.StatusBadRequest},
		{`{"storage_path":"secret/x.pdf"}`, http.StatusBadRequest},
		{`{"storage_path":"docs/missing.pdf"}`, http.StatusNotFound},
	} {
		if w := e.do(t, http.MethodPost, "/api/sign-download", "jane", c.body); w.Code != c.status {
			t.Errorf("%s = %d, want %d", c.body, w.Code, c.status)
		}
	}
}

func TestListDocuments(t *testing.T) {
	e := testEnv(t)
	for _, key := range []string{
		"m(ttype=1.2)(tname=Lease)(tscope=asset)(tasset=ABC1)(tdate=2024-03).pdf",
		"m(ttype=1.7.1.12)(tname=Mietvertrag)(tscope=asset)(tasset=ABC1)(tdate=2024-05-02).pdf",
		"m(ttype=3)(tscope=fund)(tfund=F1).pdf",
	} {
		if _, err := e.store.Put("inbox", key, strings.NewReader(pdf)); err != nil {
			t.Fatal(err)
		}
	}
	x := index.NewIndexer(e.db, e.store, naming.DefaultConfig(), []string{"inbox"}, testutil.Logger(), nil)
	if _, err := x.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		query string
		total int
	}{
		{"", 3},
		{"?asset=abc1", 2},
		{"?type=1.7", 1},
		{"?date=2024-05", 1},
		{"?tenant=12", 1},
		{"?fund=F1", 1},
		{"?page=2&page_size=2", 3},
	}
	for _, c := range cases {
		w := e.do(t, http.MethodGet, "/api/documents"+c.query, "jane", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s = %d %s", c.query, w.Code, w.Body.String())
		}
		if got := decode[DocumentListResponse](t, w); got.Total != c.total {
			t.Errorf("%s total = %d, want %d", c.query, got.Total, c.total)
		}
	}
	last := decode[DocumentListResponse](t, e.do(t, http.MethodGet, "/api/documents?page=2&page_size=2", "jane", nil))
	if len(last.Documents) != 1 || last.Page != 2 {
		t.Errorf("page 2 = %+v", last)
	}

	for _, q := range []string{"?date=May", "?page=x", "?page_size=-1"} {
		if w := e.do(t, http.MethodGet, "/api/documents"+q, "jane", nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d", q, w.Code)
		}
	}
}

func TestOptionLists(t *testing.T) {
	e := testEnv(t)

	types := decode[TypeListResponse](t, e.do(t, http.MethodGet, "/api/types", "jane", nil)).Types
	if len(types) != 5 || types[len(types)-1].Code != "other" {
		t.Errorf("types = %+v", types)
	}

	ids := decode[IdentifierListResponse](t, e.do(t, http.MethodGet, "/api/identifiers/Asset", "jane", nil))
	if ids.Scope != "asset" || strings.Join(ids.Identifiers, ",") != "ABC1,XYZ9" {
		t.Errorf("identifiers = %+v", ids)
	}
	if w := e.do(t, http.MethodGet, "/api/identifiers/planet", "jane", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad scope = %d", w.Code)
	}

	tenants := decode[map[string][]intake.OptionItem](t, e.do(t, http.MethodGet, "/api/tenants?asset=ABC1", "jane", nil))["tenants"]
	if len(tenants) != 2 || tenants[0].Label != "3 - Pharmacy" {
		t.Errorf("tenants = %+v", tenants)
	}
}

func TestSetPassword(t *testing.T) {
	e := testEnv(t)
	body := SetPasswordRequest{UserID: "user-7", NewPassword: "correct horse"}

	if w := e.do(t, http.MethodPost, "/api/admin/set-password", "jane", body); w.Code != http.StatusForbidden {
		t.Errorf("non-admin = %d", w.Code)
	}

	w := e.do(t, http.MethodPost, "/api/admin/set-password", "admin", body)
	if w.Code != http.StatusOK {
		t.Fatalf("admin = %d %s", w.Code, w.Body.String())
	}
	got := decode[SetPasswordResponse](t, w)
	if !got.OK || got.User.ID != "user-7" || e.admin.userID != "user-7" || e.admin.password != "correct horse" {
		t.Errorf("response %+v admin %+v", got, e.admin)
	}

	cases := []struct {
		body   SetPasswordRequest
		status int
		field  string
	}{
		{SetPasswordRequest{UserID: "user-7", NewPassword: "short"}, http.StatusBadRequest, "newPassword"},
		{SetPasswordRequest{NewPassword: "long enough"}, http.StatusBadRequest, "userId"},
		{SetPasswordRequest{UserID: "user-7"}, http.StatusBadRequest, "newPassword"},
		{SetPasswordRequest{Email: "ghost@example.com", NewPassword: "long enough"}, http.StatusNotFound, ""},
	}
	for _, c := range cases {
		w := e.do(t, http.MethodPost, "/api/admin/set-password", "admin", c.body)
		if w.Code != c.status {
			t.Errorf("%+v = %d %s", c.body, w.Code, w.Body.String())
			continue
		}
		if c.field != "" {
			if got := decode[errResponse](t, w); got.Field != c.field {
				t.Errorf("%+v field = %q", c.body, got.Field)
			}
		}
	}
}

func TestMe(t *testing.T) {
	e := testEnv(t)
	me := decode[MeResponse](t, e.do(t, http.MethodGet, "/api/me", "admin", nil))
	if me.UserID != "user-0" || !me.Admin {
		t.Errorf("admin me = %+v", me)
	}
	me = decode[MeResponse](t, e.do(t, http.MethodGet, "/api/me", "jane", nil))
	if me.Email != "jane@example.com" || me.Admin {
		t.Errorf("jane me = %+v", me)
	}
}

func TestMatchesExtension(t *testing.T) {
	cases := []struct {
		content string
		ext     string
		want    bool
	}{
		{pdf, ".pdf", true},
		{pdf, ".PDF", true},
		{pdf, ".png", false},
		{"\xff\xd8\xff\xe0\x00\x10JFIF\x00", ".jpeg", true},
		{"\xff\xd8\xff\xe0\x00\x10JFIF\x00", ".jpg", true},
		{"plain words", ".pdf", false},
		{"plain words", "", true},
	}
	for _, c := range cases {
		if got := matchesExtension(mimetype.Detect([]byte(c.content)), c.ext); got != c.want {
			t.Errorf("%q as %s = %v", c.content[:4], c.ext, got)
		}
	}
}
