package tenant

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cp "github.com/dropDatabas3/vendhub/internal/controlplane"
	"github.com/dropDatabas3/vendhub/internal/security/secretbox"
)

// fakeProvider cuenta lookups para verificar cache y singleflight.
type fakeProvider struct {
	tenants map[string]*cp.Tenant
	calls   atomic.Int64
}

func (f *fakeProvider) ListTenants(ctx context.Context) ([]cp.Tenant, error) { return nil, nil }

func (f *fakeProvider) GetTenantBySlug(ctx context.Context, slug string) (*cp.Tenant, error) {
	f.calls.Add(1)
	if t, ok := f.tenants[slug]; ok {
		tt := *t
		return &tt, nil
	}
	return nil, cp.ErrTenantNotFound
}

func (f *fakeProvider) GetTenantByDomain(ctx context.Context, host string) (*cp.Tenant, error) {
	f.calls.Add(1)
	for _, t := range f.tenants {
		if t.OwnsDomain(host) {
			tt := *t
			return &tt, nil
		}
	}
	return nil, cp.ErrTenantNotFound
}

func (f *fakeProvider) UpsertTenant(ctx context.Context, t *cp.Tenant) error { return nil }
func (f *fakeProvider) DeleteTenant(ctx context.Context, slug string) error  { return nil }

func setupMasterKey(t *testing.T) {
	t.Helper()
	secretbox.UnsafeResetForTests()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 7)
	}
	os.Setenv("SECRETBOX_MASTER_KEY", base64.StdEncoding.EncodeToString(raw))
}

func encOrDie(t *testing.T, s string) string {
	t.Helper()
	ct, err := secretbox.Encrypt(s)
	if err != nil {
		t.Fatal(err)
	}
	return ct
}

func testTenant(t *testing.T, slug string, domains ...string) *cp.Tenant {
	t.Helper()
	return &cp.Tenant{
		ID:      "11111111-1111-1111-1111-111111111111",
		Slug:    slug,
		Name:    slug,
		Domains: domains,
		Settings: cp.TenantSettings{
			Auth: &cp.AuthSecrets{
				AccessSecretEnc:  encOrDie(t, "access-secret-"+slug),
				RefreshSecretEnc: encOrDie(t, "refresh-secret-"+slug),
			},
		},
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestResolve_ExplicitBeforeDomain(t *testing.T) {
	setupMasterKey(t)
	fp := &fakeProvider{tenants: map[string]*cp.Tenant{
		"acme":  testTenant(t, "acme", "shop.acme.com"),
		"globo": testTenant(t, "globo", "globo.example"),
	}}
	r, err := New(Config{Provider: fp})
	if err != nil {
		t.Fatal(err)
	}

	// El header explícito gana aunque el Host pertenezca a otro tenant.
	res, err := r.Resolve(context.Background(), "acme", "globo.example")
	if err != nil {
		t.Fatal(err)
	}
	if res.Tenant.Slug != "acme" {
		t.Fatalf("expected acme, got %s", res.Tenant.Slug)
	}
	if string(res.AccessSecret) != "access-secret-acme" {
		t.Fatalf("unexpected access secret")
	}
	if string(res.RefreshSecret) != "refresh-secret-acme" {
		t.Fatalf("unexpected refresh secret")
	}
}

func TestResolve_ByDomainWithPort(t *testing.T) {
	setupMasterKey(t)
	fp := &fakeProvider{tenants: map[string]*cp.Tenant{
		"acme": testTenant(t, "acme", "shop.acme.com"),
	}}
	r, _ := New(Config{Provider: fp})

	res, err := r.Resolve(context.Background(), "", "Shop.ACME.com:8443")
	if err != nil {
		t.Fatal(err)
	}
	if res.Tenant.Slug != "acme" {
		t.Fatalf("expected acme, got %s", res.Tenant.Slug)
	}
}

func TestResolve_NoHintIsClientError(t *testing.T) {
	setupMasterKey(t)
	r, _ := New(Config{Provider: &fakeProvider{}})
	_, err := r.Resolve(context.Background(), "", "")
	if !errors.Is(err, ErrNoTenantHint) {
		t.Fatalf("expected ErrNoTenantHint, got %v", err)
	}
}

func TestResolve_UnknownTenant(t *testing.T) {
	setupMasterKey(t)
	r, _ := New(Config{Provider: &fakeProvider{tenants: map[string]*cp.Tenant{}}})
	_, err := r.BySlug(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve_CacheTTLAndBust(t *testing.T) {
	setupMasterKey(t)
	fp := &fakeProvider{tenants: map[string]*cp.Tenant{
		"acme": testTenant(t, "acme", "shop.acme.com"),
	}}
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	r, _ := New(Config{Provider: fp, TTL: 30 * time.Second, Now: clock.Now})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := r.BySlug(ctx, "acme"); err != nil {
			t.Fatal(err)
		}
	}
	if got := fp.calls.Load(); got != 1 {
		t.Fatalf("expected 1 upstream fetch within TTL, got %d", got)
	}

	// Expira el TTL => refetch
	clock.Advance(31 * time.Second)
	if _, err := r.BySlug(ctx, "acme"); err != nil {
		t.Fatal(err)
	}
	if got := fp.calls.Load(); got != 2 {
		t.Fatalf("expected refetch after TTL, got %d calls", got)
	}

	// Bust explícito invalida slug y dominios
	r.Bust("acme")
	if _, err := r.ByDomain(ctx, "shop.acme.com"); err != nil {
		t.Fatal(err)
	}
	if got := fp.calls.Load(); got != 3 {
		t.Fatalf("expected refetch after Bust, got %d calls", got)
	}
}

func TestResolve_MissStampedeCollapses(t *testing.T) {
	setupMasterKey(t)
	fp := &fakeProvider{tenants: map[string]*cp.Tenant{
		"acme": testTenant(t, "acme"),
	}}
	r, _ := New(Config{Provider: fp, TTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.BySlug(context.Background(), "acme")
		}()
	}
	wg.Wait()

	// singleflight + double-check: muy por debajo de 32 fetches
	if got := fp.calls.Load(); got > 2 {
		t.Fatalf("stampede not collapsed: %d upstream fetches", got)
	}
}

func TestResolve_EqualSecretsRejected(t *testing.T) {
	setupMasterKey(t)
	same := encOrDie(t, "same-secret")
	tn := testTenant(t, "acme")
	tn.Settings.Auth.AccessSecretEnc = same
	tn.Settings.Auth.RefreshSecretEnc = encOrDie(t, "same-secret")
	fp := &fakeProvider{tenants: map[string]*cp.Tenant{"acme": tn}}
	r, _ := New(Config{Provider: fp})

	_, err := r.BySlug(context.Background(), "acme")
	if !errors.Is(err, ErrSecrets) {
		t.Fatalf("expected ErrSecrets for equal secrets, got %v", err)
	}
}
