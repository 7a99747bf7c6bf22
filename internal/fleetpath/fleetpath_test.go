package fleetpath

import "testing"

func TestSegmentLengthBoundary(t *testing.T) {
	ok32 := "12345678901234567890123456789012" // 32 chars
	bad33 := ok32 + "x"                        // 33 chars
	if len(ok32) != 32 || len(bad33) != 33 {
		t.Fatalf("fixture lengths wrong: %d, %d", len(ok32), len(bad33))
	}
	if err := ValidateSegment(ok32); err != nil {
		t.Errorf("32-char segment should be accepted: %v", err)
	}
	if err := ValidateSegment(bad33); err == nil {
		t.Errorf("33-char segment should be rejected")
	}
}

func TestSegmentCharacterClass(t *testing.T) {
	for _, bad := range []string{"a.b", "a/b", "", "   "} {
		if err := ValidateSegment(bad); err == nil {
			t.Errorf("segment %q should be rejected", bad)
		}
	}
	for _, good := range []string{"warehouse-1", "Retail Store", "a_b"} {
		if err := ValidateSegment(good); err != nil {
			t.Errorf("segment %q should be accepted: %v", good, err)
		}
	}
}

func TestParsePathCanonicalization(t *testing.T) {
	cases := map[string]string{
		"":        "/",
		"/":       "/",
		"a/b":     "/a/b",
		"/a/b":    "/a/b",
		"/a/b/":   "/a/b",
		"a":       "/a",
	}
	for in, want := range cases {
		p, err := ParsePath(in)
		if err != nil {
			t.Fatalf("ParsePath(%q): %v", in, err)
		}
		if got := p.String(); got != want {
			t.Errorf("ParsePath(%q).String() = %q, want %q", in, got, want)
		}
	}
}

func TestParsePathRejectsBadSegment(t *testing.T) {
	if _, err := ParsePath("/a/b.c"); err == nil {
		t.Errorf("expected rejection of dotted segment")
	}
}

func TestPathChildAndParent(t *testing.T) {
	root := Root()
	a, err := root.Child("warehouse-1")
	if err != nil {
		t.Fatalf("Child: %v", err)
	}
	b, err := a.Child("zone-2")
	if err != nil {
		t.Fatalf("Child: %v", err)
	}
	if b.String() != "/warehouse-1/zone-2" {
		t.Errorf("got %q", b.String())
	}
	parent, ok := b.Parent()
	if !ok || !parent.Equal(a) {
		t.Errorf("Parent() = %v, %v; want %v, true", parent, ok, a)
	}
	if _, ok := root.Parent(); ok {
		t.Errorf("root should have no parent")
	}
	if b.Last() != "zone-2" {
		t.Errorf("Last() = %q", b.Last())
	}
}

func TestOwnerKeyString(t *testing.T) {
	p, _ := ParsePath("/a/b")
	k := NewOwnerKey("acme", p)
	if got, want := k.String(), "acme:/a/b"; got != want {
		t.Errorf("OwnerKey.String() = %q, want %q", got, want)
	}
}

func TestOwnerKeyDefaultsTenant(t *testing.T) {
	k := NewOwnerKey("", Root())
	if k.Tenant != DefaultTenant {
		t.Errorf("expected default tenant, got %q", k.Tenant)
	}
}

func TestDeriveTenantSubdomain(t *testing.T) {
	tenant, rest := DeriveTenant("acme.fleet.example.com", "/a/b")
	if tenant != "acme" || rest != "/a/b" {
		t.Errorf("got %q, %q", tenant, rest)
	}
}

func TestDeriveTenantWwwIgnored(t *testing.T) {
	tenant, _ := DeriveTenant("www.fleet.example.com", "/acme/a")
	if tenant != "acme" {
		t.Errorf("expected path-derived tenant when host leftmost label is www, got %q", tenant)
	}
}

func TestDeriveTenantPathPrefix(t *testing.T) {
	tenant, rest := DeriveTenant("", "/tenant/acme/a/b")
	if tenant != "acme" || rest != "/a/b" {
		t.Errorf("got %q, %q", tenant, rest)
	}
}

func TestDeriveTenantFirstSegment(t *testing.T) {
	tenant, rest := DeriveTenant("", "/acme/a/b")
	if tenant != "acme" || rest != "/a/b" {
		t.Errorf("got %q, %q", tenant, rest)
	}
}

func TestDeriveTenantDefault(t *testing.T) {
	tenant, _ := DeriveTenant("", "/")
	if tenant != DefaultTenant {
		t.Errorf("got %q", tenant)
	}
}
