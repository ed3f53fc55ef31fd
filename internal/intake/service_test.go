package intake

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/auth"
	"github.com/starford/docintake/internal/index"
	"github.com/starford/docintake/internal/naming"
	"github.com/starford/docintake/internal/sse"
	"github.com/starford/docintake/internal/storage"
	"github.com/starford/docintake/internal/testutil"
)

type recorder struct{ events []sse.Event }

func (r *recorder) Publish(e sse.Event) { r.events = append(r.events, e) }

type fakeAdmin struct{ byID, byEmail, password string }

func (f *fakeAdmin) UpdateUserPassword(_ context.Context, userID, password string) error {
	f.byID, f.password = userID, password
	return nil
}

func (f *fakeAdmin) SetPassword(_ context.Context, email, password string) error {
	f.byEmail, f.password = email, password
	return nil
}

func newService(t *testing.T, opts ...Option) (*Service, *storage.FS, *index.SQLite) {
	t.Helper()
	db := testutil.TestDB(t)
	testutil.SeedRules(t, db)
	store := testutil.TestStore(t, "http://localhost:8080")
	engine, err := naming.New(naming.DefaultConfig(), db, store)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(engine, store, db, testutil.Logger(), opts...), store, db
}

var jane = auth.Identity{UserID: "user-1", Email: "jane@example.com"}

func TestSignUpload(t *testing.T) {
	rec := &recorder{}
	s, _, _ := newService(t, WithEvents(rec))
	target, err := s.SignUpload(context.Background(), jane, naming.Request{
		Type:             "1.2",
		Date:             "2024-03",
		Asset:            "abc 1",
		OriginalFilename: "lease (final).pdf",
	})
	if err != nil {
		t.Fatalf("SignUpload: %v", err)
	}
	want := "m(ttype=1.2)(tname=Lease)(tscope=asset)(tasset=ABC1)(tdate=2024-03)(tmail=jane%40example.com).pdf"
	if target.Path != want || target.Bucket != "inbox" || target.StoragePath != "inbox/"+want {
		t.Errorf("target = %+v", target)
	}
	if !strings.HasPrefix(target.SignedURL, "http://localhost:8080/blob/inbox/") || target.Token == "" {
		t.Errorf("signed url = %s", target.SignedURL)
	}
	if target.PersonTag != "u-1w2hrw" {
		t.Errorf("person tag = %q", target.PersonTag)
	}
	if len(rec.events) != 1 || rec.events[0].Type != sse.TypeUploadSigned || rec.events[0].Bucket != "inbox" {
		t.Fatalf("events = %+v", rec.events)
	}
	if d, ok := rec.events[0].Data.(sse.DocumentData); !ok || d.Key != want {
		t.Errorf("event data = %+v", rec.events[0].Data)
	}
}

func TestSignUploadNameTaken(t *testing.T) {
	s, store, _ := newService(t)
	ctx := context.Background()
	req := naming.Request{Type: "1.2", Date: "2024-03", Asset: "ABC1", OriginalFilename: "lease.pdf"}
	target, err := s.SignUpload(ctx, jane, req)
	if err != nil {
		t.Fatalf("SignUpload: %v", err)
	}
	if _, err := store.Put(target.Bucket, target.Path, strings.NewReader("%PDF")); err != nil {
		t.Fatal(err)
	}

	_, err = s.SignUpload(ctx, jane, req)
	ae, ok := apperr.As(err)
	if !ok || ae.Code != apperr.CodeNameTaken || ae.HTTPStatus() != 409 {
		t.Fatalf("err = %v, want name_taken (409)", err)
	}
}

func TestSignUploadRejectsUnknownType(t *testing.T) {
	rec := &recorder{}
	s, _, _ := newService(t, WithEvents(rec))
	_, err := s.SignUpload(context.Background(), jane, naming.Request{Type: "9.9.9", OriginalFilename: "x.pdf"})
	if !apperr.HasCode(err, apperr.CodeUnknownType) {
		t.Errorf("err = %v", err)
	}
	if len(rec.events) != 0 {
		t.Error("failed request published an event")
	}
}

func TestPreviewDoesNotSign(t *testing.T) {
	s, store, _ := newService(t)
	plan, err := s.Preview(context.Background(), auth.Identity{}, naming.Request{
		Type:             "other",
		OriginalFilename: "scan.JPG",
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if plan.Bucket != "misc" || plan.Ext != "jpg" || plan.UploaderTag != "u-1au6g4" {
		t.Errorf("plan = %+v", plan)
	}
	objs, _ := store.List(context.Background(), "misc")
	if len(objs) != 0 {
		t.Error("preview touched the store")
	}
}

func TestSignDownload(t *testing.T) {
	s, store, _ := newService(t, WithReadableBuckets("docs"))
	ctx := context.Background()
	if _, err := store.Put("docs", "m(ttype=1.2).pdf", strings.NewReader("%PDF")); err != nil {
		t.Fatal(err)
	}

	su, err := s.SignDownload(ctx, "docs/m(ttype=1.2).pdf", 0)
	if err != nil {
		t.Fatalf("SignDownload: %v", err)
	}
	if d := time.Until(su.ExpiresAt); d < 59*time.Minute || d > time.Hour+time.Minute {
		t.Errorf("expires in %v, want about an hour", d)
	}

	for _, secs := range []int{60 * 24 * 3600, math.MaxInt} {
		long, err := s.SignDownload(ctx, "docs/m(ttype=1.2).pdf", secs)
		if err != nil {
			t.Fatalf("SignDownload(%d): %v", secs, err)
		}
		if d := time.Until(long.ExpiresAt); d > MaxDownloadTTL+time.Minute || d < MaxDownloadTTL-time.Minute {
			t.Errorf("expiresIn %d: expires in %v, want %v", secs, d, MaxDownloadTTL)
		}
	}

	cases := map[string]apperr.Code{
		"":             apperr.CodeMissingField,
		"docs":         apperr.CodeInvalidFormat,
		"private/a.pd": apperr.CodeInvalidFormat,
	}
	for path, code := range cases {
		if _, err := s.SignDownload(ctx, path, 0); !apperr.HasCode(err, code) {
			t.Errorf("SignDownload(%q) err = %v, want %s", path, err, code)
		}
	}
	if _, err := s.SignDownload(ctx, "inbox/missing.pdf", 0); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing object err = %v", err)
	}
}

func TestSearchDocuments(t *testing.T) {
	s, store, db := newService(t)
	ctx := context.Background()
	for _, key := range []string{
		"m(ttype=1.2)(tscope=asset)(tasset=ABC1)(tdate=2024-03).pdf",
		"m(ttype=1.2)(tscope=asset)(tasset=ABC1)(tdate=2023-11).pdf",
		"m(ttype=3)(tscope=asset)(tasset=XYZ9).pdf",
	} {
		if _, err := store.Put("inbox", key, strings.NewReader(key)); err != nil {
			t.Fatal(err)
		}
	}
	x := index.NewIndexer(db, store, naming.DefaultConfig(), []string{"inbox"}, testutil.Logger(), nil)
	if _, err := x.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	p, err := s.SearchDocuments(ctx, SearchQuery{Asset: " abc1", Date: "2024"})
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if p.Total != 1 || p.Documents[0].DocDate.Format("2006-01") != "2024-03" {
		t.Errorf("page = %+v", p)
	}
	all, _ := s.SearchDocuments(ctx, SearchQuery{})
	if all.Total != 3 {
		t.Errorf("total = %d", all.Total)
	}
	if _, err := s.SearchDocuments(ctx, SearchQuery{Date: "March"}); !apperr.HasCode(err, apperr.CodeInvalidFormat) {
		t.Errorf("bad date err = %v", err)
	}
}

func TestOptions(t *testing.T) {
	s, _, db := newService(t)
	ctx := context.Background()
	_ = db.UpsertTypeRule(ctx, testutil.Rules.Types[0])
	_ = db.UpsertTypeRule(ctx, testutil.Rules.Types[0])

	types, err := s.TypeOptions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var codes []string
	for _, r := range types {
		codes = append(codes, r.Code)
	}
	if got := strings.Join(codes, ","); got != "1.2,1.7,2.1,3,other" {
		t.Errorf("type codes = %s", got)
	}

	assets, _ := s.IdentifierOptions(ctx, "Asset")
	if strings.Join(assets, ",") != "ABC1,XYZ9" {
		t.Errorf("assets = %v", assets)
	}
	if _, err := s.IdentifierOptions(ctx, "building"); !apperr.HasCode(err, apperr.CodeInvalidFormat) {
		t.Errorf("bad scope err = %v", err)
	}

	tenants, _ := s.TenantOptions(ctx, "abc1")
	if len(tenants) != 2 || tenants[0].Label != "3 - Pharmacy" || tenants[1].Value != "12" {
		t.Errorf("tenants = %+v", tenants)
	}
}

func TestSetPassword(t *testing.T) {
	s, _, _ := newService(t)
	if err := s.SetPassword(context.Background(), "u-1", "", "long enough"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("unconfigured err = %v", err)
	}

	admin := &fakeAdmin{}
	s, _, _ = newService(t, WithAdmin(admin))
	if err := s.SetPassword(context.Background(), "u-1", "", "long enough"); err != nil || admin.byID != "u-1" {
		t.Errorf("by id: %v %+v", err, admin)
	}
	if err := s.SetPassword(context.Background(), "", "bob@example.com", "long enough"); err != nil || admin.byEmail != "bob@example.com" {
		t.Errorf("by email: %v %+v", err, admin)
	}
	if err := s.SetPassword(context.Background(), "", "", "long enough"); !apperr.HasCode(err, apperr.CodeMissingField) {
		t.Errorf("no target err = %v", err)
	}
}

func TestLessCode(t *testing.T) {
	if !lessCode("1.2", "1.10") || lessCode("1.10", "1.2") || !lessCode("1.7", "1.7.1") {
		t.Error("dotted codes must sort numerically by segment")
	}
}
