package naming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/models"
	"github.com/starford/docintake/internal/storage"
)

type fakeRules struct {
	types       map[string]*models.TypeRule
	identifiers map[string]bool
	lookups     int
}

func (f *fakeRules) TypeRule(_ context.Context, code string) (*models.TypeRule, error) {
	f.lookups++
	if r, ok := f.types[strings.ToLower(code)]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("type %s: %w", code, apperr.ErrNotFound)
}

func (f *fakeRules) IdentifierExists(_ context.Context, scope models.Scope, id string) (bool, error) {
	return f.identifiers[string(scope)+":"+id], nil
}

type fakeSigner struct {
	calls int
	err   error
	url   string
}

func (s *fakeSigner) SignUpload(_ context.Context, bucket, key string, ttl time.Duration) (*storage.SignedURL, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &storage.SignedURL{URL: s.url, Bucket: bucket, Key: key, ExpiresAt: time.Now().Add(ttl)}, nil
}

func newRules() *fakeRules {
	return &fakeRules{
		types: map[string]*models.TypeRule{
			"1.2":     {Code: "1.2", Name: "Lease", RequiresAsset: true},
			"1.3":     {Code: "1.3", Name: "Valuation", RequireStrict: true},
			"1.7":     {Code: "1.7", Name: "Tenant file", RequiresAsset: true},
			"1.7.1":   {Code: "1.7.1", Name: "Tenant lease", RequiresAsset: true},
			"1.9.5.1": {Code: "1.9.5.1", Name: "Tenant notice", RequiresTenant: true},
			"2.1":     {Code: "2.1", Name: "SPV statutes"},
		},
		identifiers: map[string]bool{"asset:ABC1": true, "spv:SPV One": true},
	}
}

func newEngine(t *testing.T, mutate func(*Config)) (*Engine, *fakeRules, *fakeSigner) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	rules := newRules()
	signer := &fakeSigner{url: "https://store.example/upload?token=t"}
	e, err := New(cfg, rules, signer, WithBuckets("inbox", "misc"), WithUploadTTL(time.Minute))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, rules, signer
}

func assertCode(t *testing.T, err error, code apperr.Code, field string) {
	t.Helper()
	e, ok := apperr.As(err)
	if !ok {
		t.Fatalf("err = %v, want *apperr.Error with code %s", err, code)
	}
	if e.Code != code || (field != "" && e.Field != field) {
		t.Fatalf("err = %s/%s (%s), want %s/%s", e.Code, e.Field, e.Message, code, field)
	}
}

func leaseRequest() Request {
	return Request{
		Type:             "1.2",
		Date:             "2024-03",
		Asset:            "ABC1",
		TypeName:         "Lease",
		OriginalFilename: "lease (final).pdf",
		UploaderID:       "user-1",
		UploaderEmail:    "jane@example.com",
	}
}

func TestAssetHappyPathTagCodec(t *testing.T) {
	e, _, signer := newEngine(t, nil)
	plan, su, err := e.Upload(context.Background(), leaseRequest())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	want := "m(ttype=1.2)(tname=Lease)(tscope=asset)(tasset=ABC1)(tdate=2024-03)(tmail=jane%40example.com).pdf"
	if plan.Name != want {
		t.Errorf("name = %q\nwant   %q", plan.Name, want)
	}
	if plan.Ext != "pdf" || plan.Bucket != "inbox" {
		t.Errorf("ext = %q bucket = %q", plan.Ext, plan.Bucket)
	}
	if su.Key != want || su.Bucket != "inbox" || signer.calls != 1 {
		t.Errorf("signed = %+v calls = %d", su, signer.calls)
	}

	again, err := e.Prepare(context.Background(), leaseRequest())
	if err != nil || again.Name != plan.Name {
		t.Errorf("name not stable: %q vs %q (%v)", again.Name, plan.Name, err)
	}
}

func TestAssetHappyPathConcat(t *testing.T) {
	e, _, _ := newEngine(t, func(c *Config) { c.Scheme = SchemeConcat })
	req := leaseRequest()
	req.Suffix = "signed / v2"
	plan, err := e.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Name != "1.2_2024-03-01_ABC1_signed - v2_u-1w2hrw.pdf" {
		t.Errorf("name = %q", plan.Name)
	}
	if plan.BaseName != "1.2_2024-03-01_ABC1_signed - v2.pdf" {
		t.Errorf("base name = %q", plan.BaseName)
	}
}

func TestOtherBypass(t *testing.T) {
	e, rules, _ := newEngine(t, nil)
	plan, err := e.Prepare(context.Background(), Request{Type: "Other", OriginalFilename: "scan.png"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Bucket != "misc" {
		t.Errorf("bucket = %q, want misc", plan.Bucket)
	}
	if plan.Name != "m(ttype=other)(tname=)(tscope=asset).png" {
		t.Errorf("name = %q", plan.Name)
	}
	if rules.lookups != 0 {
		t.Errorf("other must not hit the rule index, lookups = %d", rules.lookups)
	}
}

func TestOtherDropsMalformedDate(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	plan, err := e.Prepare(context.Background(), Request{Type: "other", Date: "March", OriginalFilename: "x.pdf"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Date != "" {
		t.Errorf("date = %q, want dropped", plan.Date)
	}
}

func TestUnknownTypeMakesNoStoreCall(t *testing.T) {
	e, _, signer := newEngine(t, nil)
	req := leaseRequest()
	req.Type = "9.9.9"
	_, _, err := e.Upload(context.Background(), req)
	assertCode(t, err, apperr.CodeUnknownType, "type")
	if signer.calls != 0 {
		t.Errorf("signer called %d times", signer.calls)
	}
}

func TestValidationErrorsMakeNoStoreCall(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Request)
		code   apperr.Code
		field  string
	}{
		{"missing type", func(r *Request) { r.Type = " " }, apperr.CodeMissingField, "type"},
		{"bad type grammar", func(r *Request) { r.Type = "1..2" }, apperr.CodeUnknownType, "type"},
		{"missing filename", func(r *Request) { r.OriginalFilename = "" }, apperr.CodeMissingField, "original_filename"},
		{"missing asset", func(r *Request) { r.Asset = "" }, apperr.CodeMissingField, "asset"},
		{"bad date", func(r *Request) { r.Date = "03/2024" }, apperr.CodeInvalidFormat, "date"},
		{"year only", func(r *Request) { r.Date = "2024" }, apperr.CodeInvalidFormat, "date"},
		{"impossible day", func(r *Request) { r.Date = "2024-02-30" }, apperr.CodeInvalidFormat, "date"},
		{"unsupported ext", func(r *Request) { r.OriginalFilename = "setup.exe" }, apperr.CodeInvalidFormat, "ext"},
		{"two scopes", func(r *Request) { r.SPV = "SPV One" }, apperr.CodeInvalidFormat, "scope"},
		{"scope mismatch", func(r *Request) { r.Scope = "fund" }, apperr.CodeInvalidFormat, "scope"},
		{"unknown scope", func(r *Request) { r.Scope = "planet" }, apperr.CodeInvalidFormat, "scope"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e, _, signer := newEngine(t, nil)
			req := leaseRequest()
			c.mutate(&req)
			_, _, err := e.Upload(context.Background(), req)
			assertCode(t, err, c.code, c.field)
			if signer.calls != 0 {
				t.Errorf("signer called %d times", signer.calls)
			}
		})
	}
}

func TestStrictTypeRequiresDate(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	_, err := e.Prepare(context.Background(), Request{Type: "1.3", OriginalFilename: "v.pdf"})
	assertCode(t, err, apperr.CodeMissingField, "date")

	plan, err := e.Prepare(context.Background(), Request{Type: "1.3", Date: "2024-03-15", OriginalFilename: "v.pdf"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Date != "2024-03-15" {
		t.Errorf("date = %q", plan.Date)
	}
}

func TestDateGrammarIsConfigurable(t *testing.T) {
	e, _, _ := newEngine(t, func(c *Config) { c.DateFormats = AllDateFormats })
	req := leaseRequest()
	req.Date = "2024"
	plan, err := e.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Date != "2024" {
		t.Errorf("date = %q", plan.Date)
	}

	e, _, _ = newEngine(t, func(c *Config) { c.DateFormats = []string{DateDay} })
	req.Date = "2024-03"
	_, err = e.Prepare(context.Background(), req)
	assertCode(t, err, apperr.CodeInvalidFormat, "date")
}

func TestExtensionDefault(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	req := leaseRequest()
	req.OriginalFilename = "noext"
	plan, err := e.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Ext != "pdf" || !strings.HasSuffix(plan.Name, ".pdf") {
		t.Errorf("ext = %q name = %q", plan.Ext, plan.Name)
	}

	req.Ext = ".PNG"
	plan, err = e.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Ext != "png" {
		t.Errorf("explicit ext = %q", plan.Ext)
	}
}

func TestTenantSuffix(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	ctx := context.Background()
	req := leaseRequest()
	req.Type = "1.7.1"

	_, err := e.Prepare(ctx, req)
	assertCode(t, err, apperr.CodeMissingField, "tenant")

	req.Tenant = "No. 12"
	plan, err := e.Prepare(ctx, req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Type != "1.7.1.12" || plan.TenantNo != "12" {
		t.Errorf("type = %q tenant = %q", plan.Type, plan.TenantNo)
	}

	// A retry with the composed code must not append again.
	req.Type = plan.Type
	retry, err := e.Prepare(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Type != "1.7.1.12" || retry.Name != plan.Name {
		t.Errorf("retry type = %q name = %q", retry.Type, retry.Name)
	}
}

func TestTenantSuffixNeedsFamilyPosition(t *testing.T) {
	e, _, signer := newEngine(t, nil)
	ctx := context.Background()
	req := leaseRequest()
	req.Type = "1.7"
	req.Tenant = "12"

	// 1.7.12 would put the tenant at segment 3 of a family that keeps it
	// at segment 4.
	_, _, err := e.Upload(ctx, req)
	assertCode(t, err, apperr.CodeInvalidFormat, "type")
	if signer.calls != 0 {
		t.Errorf("signer called %d times", signer.calls)
	}

	// A subtype resolved through its parent rule still takes the tenant.
	req.Type = "1.7.2"
	plan, err := e.Prepare(ctx, req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Type != "1.7.2.12" || plan.TenantNo != "12" || plan.Rule.Code != "1.7" {
		t.Errorf("type = %q tenant = %q rule = %q", plan.Type, plan.TenantNo, plan.Rule.Code)
	}
	if got := e.Config(); got.TenantNo(plan.Type) != plan.TenantNo {
		t.Errorf("TenantNo(%q) = %q, want %q", plan.Type, got.TenantNo(plan.Type), plan.TenantNo)
	}
}

func TestTenantCaseSecondFamily(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	req := Request{Type: "1.9.5.1", Asset: "ABC1", Tenant: "7", OriginalFilename: "n.pdf"}
	plan, err := e.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Type != "1.9.5.1.7" {
		t.Errorf("type = %q", plan.Type)
	}
}

func TestComposedNameTooLong(t *testing.T) {
	e, _, signer := newEngine(t, nil)
	req := leaseRequest()
	req.TypeName = strings.Repeat("Mietvertrag ", 25)
	_, _, err := e.Upload(context.Background(), req)
	assertCode(t, err, apperr.CodeInvalidFormat, "name")
	if signer.calls != 0 {
		t.Errorf("signer called %d times", signer.calls)
	}

	req.TypeName = strings.Repeat("x", 100)
	plan, err := e.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(plan.Name) > MaxNameLength {
		t.Errorf("name is %d bytes", len(plan.Name))
	}
}

func TestNonTenantCaseIgnoresTenant(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	req := leaseRequest()
	req.Tenant = "12"
	plan, err := e.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Type != "1.2" || plan.TenantNo != "" {
		t.Errorf("type = %q tenant = %q", plan.Type, plan.TenantNo)
	}
}

func TestIdentifierExistence(t *testing.T) {
	e, _, _ := newEngine(t, func(c *Config) { c.ValidateIdentifierExists = true })
	req := leaseRequest()
	req.Asset = " xyz 9 "
	_, err := e.Prepare(context.Background(), req)
	assertCode(t, err, apperr.CodeUnknownIdentifier, "asset")

	req.Asset = "abc1"
	if _, err := e.Prepare(context.Background(), req); err != nil {
		t.Errorf("registered asset rejected: %v", err)
	}

	e, _, _ = newEngine(t, nil)
	req.Asset = "XYZ9"
	if _, err := e.Prepare(context.Background(), req); err != nil {
		t.Errorf("check disabled, got %v", err)
	}
}

func TestSPVScope(t *testing.T) {
	e, _, _ := newEngine(t, func(c *Config) { c.ValidateIdentifierExists = true })
	plan, err := e.Prepare(context.Background(), Request{
		Type:             "2.1",
		SPV:              "SPV (One)",
		OriginalFilename: "statutes.docx",
	})
	if err == nil {
		t.Fatalf("SPV (One) sanitizes to an unregistered code, got %+v", plan)
	}
	plan, err = e.Prepare(context.Background(), Request{
		Type:             "2.1",
		Scope:            "SPV",
		SPV:              "SPV One",
		OriginalFilename: "statutes.docx",
	})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Name != "m(ttype=2.1)(tname=SPV%20statutes)(tscope=spv)(tspv=SPV%20One).docx" {
		t.Errorf("name = %q", plan.Name)
	}
}

func TestTypeFromFilename(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	req := Request{
		TypeSource:       TypeFromFilename,
		Asset:            "ABC1",
		OriginalFilename: "1.2 Lease Müller.pdf",
	}
	_, err := e.Prepare(context.Background(), req)
	assertCode(t, err, apperr.CodeMissingField, "type_confirmation")
	ae, _ := apperr.As(err)
	if ae.Details["extracted_type"] != "1.2" {
		t.Errorf("details = %v", ae.Details)
	}

	req.ConfirmType = "1.2"
	plan, err := e.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Type != "1.2" || plan.ExtractedType != "1.2" {
		t.Errorf("type = %q extracted = %q", plan.Type, plan.ExtractedType)
	}

	req.OriginalFilename = "Lease.pdf"
	_, err = e.Prepare(context.Background(), req)
	assertCode(t, err, apperr.CodeMissingField, "type")
}

func TestDelegateFailure(t *testing.T) {
	e, _, signer := newEngine(t, nil)
	signer.err = errors.New("bucket not found")
	_, _, err := e.Upload(context.Background(), leaseRequest())
	assertCode(t, err, apperr.CodeDelegateFailure, "")
	if !strings.Contains(err.Error(), "bucket not found") {
		t.Errorf("store message not relayed: %v", err)
	}

	signer.err = nil
	signer.url = ""
	_, _, err = e.Upload(context.Background(), leaseRequest())
	assertCode(t, err, apperr.CodeDelegateFailure, "")
}

func TestUploadNameTaken(t *testing.T) {
	e, _, signer := newEngine(t, nil)
	signer.err = fmt.Errorf("storage: inbox/x.pdf: %w", apperr.ErrAlreadyExists)
	_, _, err := e.Upload(context.Background(), leaseRequest())
	assertCode(t, err, apperr.CodeNameTaken, "name")
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists in chain", err)
	}
	if ae, _ := apperr.As(err); ae.HTTPStatus() != 409 || ae.Internal() {
		t.Errorf("status = %d internal = %v", ae.HTTPStatus(), ae.Internal())
	}
}

func TestRouteBucket(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	for code, want := range map[string]string{"other": "misc", "OTHER": "misc", "1.2": "inbox", "": "inbox"} {
		if got := e.RouteBucket(code); got != want {
			t.Errorf("RouteBucket(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestComposeParseRoundTrip(t *testing.T) {
	for _, scheme := range []Scheme{SchemeTagCodec, SchemeConcat} {
		e, _, _ := newEngine(t, func(c *Config) { c.Scheme = scheme })
		req := leaseRequest()
		req.Type = "1.7.1"
		req.Tenant = "3"
		plan, err := e.Prepare(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: Prepare: %v", scheme, err)
		}
		got, err := e.Composer().Parse(plan.Name)
		if err != nil {
			t.Fatalf("%s: Parse(%q): %v", scheme, plan.Name, err)
		}
		if got.Type != "1.7.1.3" || got.Identifier != "ABC1" || got.Ext != "pdf" {
			t.Errorf("%s: parsed %+v", scheme, got)
		}
		f, s, err := ParseAny(plan.Name)
		if err != nil || s != scheme || f.Type != got.Type {
			t.Errorf("%s: ParseAny = %+v %s %v", scheme, f, s, err)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"scheme":         func(c *Config) { c.Scheme = "xml" },
		"date format":    func(c *Config) { c.DateFormats = []string{"DD.MM.YYYY"} },
		"no formats":     func(c *Config) { c.DateFormats = nil },
		"default ext":    func(c *Config) { c.DefaultExtension = "txt" },
		"tenant case":    func(c *Config) { c.TenantCases = []TenantCase{{Prefix: "1.7", Position: 1}} },
		"tenant grammar": func(c *Config) { c.TenantCases = []TenantCase{{Prefix: "a.b", Position: 3}} },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := New(cfg, newRules(), nil); err == nil {
			t.Errorf("%s: expected config error", name)
		}
	}
}
