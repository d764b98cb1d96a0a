package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cp "github.com/dropDatabas3/vendhub/internal/controlplane"
	"github.com/dropDatabas3/vendhub/internal/security/password"
	"github.com/dropDatabas3/vendhub/internal/security/secretbox"
	"github.com/dropDatabas3/vendhub/internal/session"
	"github.com/dropDatabas3/vendhub/internal/session/memory"
	"github.com/dropDatabas3/vendhub/internal/tenant"
	"github.com/dropDatabas3/vendhub/internal/token"
	"github.com/dropDatabas3/vendhub/internal/user"
)

const testIss = "https://auth.vendhub.dev"

// ---- fakes ----

type fakeProvider struct {
	tenants map[string]*cp.Tenant
}

func (f *fakeProvider) ListTenants(ctx context.Context) ([]cp.Tenant, error) { return nil, nil }

func (f *fakeProvider) GetTenantBySlug(ctx context.Context, slug string) (*cp.Tenant, error) {
	if t, ok := f.tenants[slug]; ok {
		tt := *t
		return &tt, nil
	}
	return nil, cp.ErrTenantNotFound
}

func (f *fakeProvider) GetTenantByDomain(ctx context.Context, host string) (*cp.Tenant, error) {
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

// countingStore cuenta intentos de rotación.
type countingStore struct {
	session.Store
	rotations atomic.Int64
}

func (c *countingStore) ValidateAndRotate(ctx context.Context, in session.RotateInput) (*session.Session, error) {
	c.rotations.Add(1)
	return c.Store.ValidateAndRotate(ctx, in)
}

// flakyStore falla las primeras N rotaciones con un error de I/O.
type flakyStore struct {
	session.Store
	failures atomic.Int64
}

func (f *flakyStore) ValidateAndRotate(ctx context.Context, in session.RotateInput) (*session.Session, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("i/o timeout")
	}
	return f.Store.ValidateAndRotate(ctx, in)
}

type singleStore struct{ st session.Store }

func (s singleStore) For(ctx context.Context, slug string) (session.Store, error) {
	return s.st, nil
}

type mapDirectory struct {
	mu    sync.Mutex
	users map[string]*user.User // por id
}

func (d *mapDirectory) For(ctx context.Context, slug string) (user.Directory, error) {
	return d, nil
}

func (d *mapDirectory) GetByID(ctx context.Context, id string) (*user.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[id]; ok {
		uu := *u
		return &uu, nil
	}
	return nil, user.ErrNotFound
}

func (d *mapDirectory) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			uu := *u
			return &uu, nil
		}
	}
	return nil, user.ErrNotFound
}

// ---- setup ----

func setupMasterKey(t *testing.T) {
	t.Helper()
	secretbox.UnsafeResetForTests()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 3)
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

type fixture struct {
	gate  *Gate
	store *countingStore
	mem   *memory.Store
	dir   *mapDirectory
	res   *tenant.Resolved
}

type fixtureOpts struct {
	maxSessions int
	accessTTL   int // minutos
	store       session.Store
	issuerNow   func() time.Time
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	setupMasterKey(t)

	ten := &cp.Tenant{
		ID:      "tid-acme",
		Name:    "Acme Era Digital",
		Slug:    "acme",
		Domains: []string{"shop.acme.test"},
		Settings: cp.TenantSettings{
			Auth: &cp.AuthSecrets{
				AccessSecretEnc:  encOrDie(t, "acme-access-secret-0123456789abcdef"),
				RefreshSecretEnc: encOrDie(t, "acme-refresh-secret-0123456789abcde"),
			},
		},
	}
	if opts.maxSessions > 0 {
		ten.Settings.Sessions = &cp.SessionPolicy{MaxConcurrent: opts.maxSessions}
	}
	if opts.accessTTL > 0 {
		ten.Settings.Tokens = &cp.TokenPolicy{AccessTTLMinutes: opts.accessTTL}
	}

	resolver, err := tenant.New(tenant.Config{Provider: &fakeProvider{
		tenants: map[string]*cp.Tenant{"acme": ten},
	}})
	if err != nil {
		t.Fatal(err)
	}
	resolved, err := resolver.BySlug(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}

	mem := memory.New()
	var st session.Store = mem
	if opts.store != nil {
		st = opts.store
	}
	counting := &countingStore{Store: st}

	phc, err := password.Hash(password.Default, "correct horse battery")
	if err != nil {
		t.Fatal(err)
	}
	dir := &mapDirectory{users: map[string]*user.User{
		"user-1": {
			ID:            "user-1",
			Email:         "ada@acme.test",
			EmailVerified: true,
			Name:          "Ada",
			Role:          "customer",
			Locale:        "es-AR",
			PasswordHash:  phc,
		},
	}}

	issuer := token.NewIssuer(testIss)
	if opts.issuerNow != nil {
		issuer.Now = opts.issuerNow
	}
	rot := &Rotator{
		Issuer:       issuer,
		Sessions:     singleStore{st: counting},
		Users:        dir,
		RetryBackoff: time.Millisecond,
	}
	gate := &Gate{Tenants: resolver, Issuer: issuer, Rotator: rot}
	return &fixture{gate: gate, store: counting, mem: mem, dir: dir, res: resolved}
}

func (f *fixture) login(t *testing.T, fingerprint string) (*Identity, *RefreshedTokens) {
	t.Helper()
	id, pair, err := f.gate.Rotator.Login(context.Background(), f.res,
		"ada@acme.test", "correct horse battery", fingerprint, "test-agent")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return id, pair
}

// expiredLogin crea una sesión cuyo access ya venció pero el refresh sigue vivo.
func (f *fixture) expiredLogin(t *testing.T, fingerprint string) (*Identity, *RefreshedTokens) {
	t.Helper()
	orig := f.gate.Issuer.Now
	f.gate.Issuer.Now = func() time.Time { return time.Now().Add(-20 * time.Minute) }
	defer func() { f.gate.Issuer.Now = orig }()
	return f.login(t, fingerprint)
}

func authReq(pair *RefreshedTokens, fingerprint string) Request {
	req := Request{TenantSlug: "acme", Fingerprint: fingerprint}
	if pair != nil {
		req.AccessToken = pair.AccessToken
		req.RefreshToken = pair.RefreshToken
	}
	return req
}

// ---- tests ----

func TestGate_ValidAccess_NoRefresh(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	id, pair := f.login(t, "fp-1")

	res := f.gate.Authenticate(context.Background(), authReq(pair, "fp-1"))
	if res.Kind != KindAuthenticated {
		t.Fatalf("expected Authenticated, got %s (%s / %v)", res.Kind, res.Reason, res.Err)
	}
	if res.Refreshed != nil {
		t.Fatal("fresh access token must not trigger a refresh")
	}
	if res.Identity.UserID != id.UserID || res.Identity.SessionID != id.SessionID {
		t.Fatalf("identity mismatch: %+v vs %+v", res.Identity, id)
	}
	if res.Identity.Role != "customer" || !res.Identity.EmailVerified {
		t.Fatalf("identity snapshot incomplete: %+v", res.Identity)
	}
	if n := f.store.rotations.Load(); n != 0 {
		t.Fatalf("expected 0 rotations, got %d", n)
	}
}

func TestGate_ExpiredAccess_SilentRefresh(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, pair := f.expiredLogin(t, "fp-1")

	res := f.gate.Authenticate(context.Background(), authReq(pair, "fp-1"))
	if res.Kind != KindAuthenticated {
		t.Fatalf("expected Authenticated via refresh, got %s (%s / %v)", res.Kind, res.Reason, res.Err)
	}
	if res.Refreshed == nil {
		t.Fatal("expected refreshed tokens")
	}
	if n := f.store.rotations.Load(); n != 1 {
		t.Fatalf("expected exactly 1 rotation, got %d", n)
	}

	// el par nuevo autentica sin rotación extra
	again := f.gate.Authenticate(context.Background(), authReq(res.Refreshed, "fp-1"))
	if again.Kind != KindAuthenticated || again.Refreshed != nil {
		t.Fatalf("new pair must authenticate directly, got %s", again.Kind)
	}
	if n := f.store.rotations.Load(); n != 1 {
		t.Fatalf("second auth must not rotate, got %d rotations", n)
	}
}

func TestGate_RefreshReplayRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, pair := f.expiredLogin(t, "fp-1")

	first := f.gate.Authenticate(context.Background(), authReq(pair, "fp-1"))
	if first.Kind != KindAuthenticated {
		t.Fatalf("first refresh: %s", first.Kind)
	}
	// replay inmediato del mismo refresh token ya consumido
	replay := f.gate.Authenticate(context.Background(), authReq(pair, "fp-1"))
	if replay.Kind != KindUnauthenticated {
		t.Fatalf("replayed refresh must be Unauthenticated, got %s", replay.Kind)
	}
}

func TestGate_FingerprintMismatch_NeverRefreshes(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	// access válido, fp ajeno
	_, pair := f.login(t, "fp-1")
	res := f.gate.Authenticate(context.Background(), authReq(pair, "fp-ladron"))
	if res.Kind != KindUnauthenticated {
		t.Fatalf("fp mismatch must be Unauthenticated, got %s", res.Kind)
	}

	// access vencido, fp ajeno: tampoco hay intento de rotación
	_, expPair := f.expiredLogin(t, "fp-1")
	res = f.gate.Authenticate(context.Background(), authReq(expPair, "fp-ladron"))
	if res.Kind != KindUnauthenticated {
		t.Fatalf("expired + fp mismatch must be Unauthenticated, got %s", res.Kind)
	}
	if n := f.store.rotations.Load(); n != 0 {
		t.Fatalf("fp mismatch must never reach the store, got %d rotations", n)
	}
}

func TestGate_ForgedToken_NeverRefreshes(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, pair := f.expiredLogin(t, "fp-1")

	// payload adulterado: aun con refresh válido a mano, no se intenta rotar
	parts := strings.Split(pair.AccessToken, ".")
	forged := *pair
	forged.AccessToken = parts[0] + ".eyJmb3JnZWQiOnRydWV9." + parts[2]

	res := f.gate.Authenticate(context.Background(), authReq(&forged, "fp-1"))
	if res.Kind != KindUnauthenticated {
		t.Fatalf("forged token must be Unauthenticated, got %s", res.Kind)
	}
	if n := f.store.rotations.Load(); n != 0 {
		t.Fatalf("forged token must never trigger rotation, got %d", n)
	}
}

func TestGate_ExpiredAccess_NoRefreshToken(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, pair := f.expiredLogin(t, "fp-1")

	req := authReq(pair, "fp-1")
	req.RefreshToken = ""
	res := f.gate.Authenticate(context.Background(), req)
	if res.Kind != KindUnauthenticated {
		t.Fatalf("expired without refresh must be Unauthenticated, got %s", res.Kind)
	}
}

func TestGate_NoAccessToken(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	res := f.gate.Authenticate(context.Background(), Request{TenantSlug: "acme"})
	if res.Kind != KindUnauthenticated {
		t.Fatalf("expected Unauthenticated, got %s", res.Kind)
	}
}

func TestGate_TenantUnresolved(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	res := f.gate.Authenticate(context.Background(), Request{})
	if res.Kind != KindTenantUnresolved {
		t.Fatalf("no hint must be TenantUnresolved, got %s", res.Kind)
	}
	res = f.gate.Authenticate(context.Background(), Request{TenantSlug: "no-existe"})
	if res.Kind != KindTenantUnresolved {
		t.Fatalf("unknown slug must be TenantUnresolved, got %s", res.Kind)
	}
	// resolución por dominio también funciona
	_, pair := f.login(t, "fp-1")
	byHost := f.gate.Authenticate(context.Background(), Request{
		Host: "shop.acme.test:443", AccessToken: pair.AccessToken, Fingerprint: "fp-1",
	})
	if byHost.Kind != KindAuthenticated {
		t.Fatalf("domain resolution failed: %s (%v)", byHost.Kind, byHost.Err)
	}
}

func TestGate_BrokenSecrets_ConfigurationError(t *testing.T) {
	setupMasterKey(t)
	ten := &cp.Tenant{
		ID:   "tid-broken",
		Slug: "broken",
		Settings: cp.TenantSettings{
			Auth: &cp.AuthSecrets{
				AccessSecretEnc:  "no-es-un-ciphertext",
				RefreshSecretEnc: "tampoco",
			},
		},
	}
	resolver, err := tenant.New(tenant.Config{Provider: &fakeProvider{
		tenants: map[string]*cp.Tenant{"broken": ten},
	}})
	if err != nil {
		t.Fatal(err)
	}
	gate := &Gate{Tenants: resolver, Issuer: token.NewIssuer(testIss)}

	res := gate.Authenticate(context.Background(), Request{TenantSlug: "broken", AccessToken: "x"})
	if res.Kind != KindConfigurationError {
		t.Fatalf("undecryptable secrets must be ConfigurationError (never 401), got %s", res.Kind)
	}
}

func TestGate_ConcurrentRefresh_ExactlyOneWinner(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, pair := f.expiredLogin(t, "fp-1")

	const racers = 8
	results := make([]Result, racers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = f.gate.Authenticate(context.Background(), authReq(pair, "fp-1"))
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, res := range results {
		switch res.Kind {
		case KindAuthenticated:
			winners++
			if res.Refreshed == nil {
				t.Fatal("winner must carry a usable new pair")
			}
		case KindUnauthenticated:
		default:
			t.Fatalf("unexpected kind %s (%v)", res.Kind, res.Err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
}

func TestGate_SessionCap_EvictsOldestFingerprint(t *testing.T) {
	f := newFixture(t, fixtureOpts{maxSessions: 3})

	pairs := make(map[string]*RefreshedTokens)
	for _, fp := range []string{"F1", "F2", "F3", "F4"} {
		_, pair := f.expiredLogin(t, fp)
		pairs[fp] = pair
		time.Sleep(2 * time.Millisecond) // orden de creación estable
	}

	// F1 quedó evictada: su refresh ya no sirve
	res := f.gate.Authenticate(context.Background(), authReq(pairs["F1"], "F1"))
	if res.Kind != KindUnauthenticated {
		t.Fatalf("evicted session's refresh must fail, got %s", res.Kind)
	}
	// F2..F4 siguen refrescando
	for _, fp := range []string{"F2", "F3", "F4"} {
		res := f.gate.Authenticate(context.Background(), authReq(pairs[fp], fp))
		if res.Kind != KindAuthenticated {
			t.Fatalf("session %s should refresh fine, got %s (%s)", fp, res.Kind, res.Reason)
		}
	}
}

func TestRotator_StoreIOFailure_RetriesOnceThenConfigError(t *testing.T) {
	// dos fallos seguidos agotan el único retry: ConfigurationError, no 401
	mem := memory.New()
	flaky := &flakyStore{Store: mem}
	flaky.failures.Store(2)
	f := newFixture(t, fixtureOpts{store: flaky})
	_, pair := f.expiredLogin(t, "fp-1")

	res := f.gate.Authenticate(context.Background(), authReq(pair, "fp-1"))
	if res.Kind != KindConfigurationError {
		t.Fatalf("repeated store I/O failure must be ConfigurationError, got %s (%s)", res.Kind, res.Reason)
	}

	// un solo fallo se recupera con el retry
	flaky.failures.Store(1)
	res = f.gate.Authenticate(context.Background(), authReq(pair, "fp-1"))
	if res.Kind != KindAuthenticated {
		t.Fatalf("single I/O blip must recover via retry, got %s (%s / %v)", res.Kind, res.Reason, res.Err)
	}
}

func TestLogin_BadCredentialsUniform(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	_, _, err := f.gate.Rotator.Login(ctx, f.res, "ada@acme.test", "clave-mala", "fp", "ua")
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	_, _, err2 := f.gate.Rotator.Login(ctx, f.res, "nadie@acme.test", "da igual", "fp", "ua")
	if !errors.Is(err2, ErrBadCredentials) {
		t.Fatalf("unknown email: %v", err2)
	}
	if err.Error() != err2.Error() {
		t.Fatal("bad-credential errors must be indistinguishable")
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	id, pair := f.expiredLogin(t, "fp-1")

	if err := f.gate.Rotator.Logout(context.Background(), "acme", id.SessionID); err != nil {
		t.Fatal(err)
	}
	res := f.gate.Authenticate(context.Background(), authReq(pair, "fp-1"))
	if res.Kind != KindUnauthenticated {
		t.Fatalf("refresh after logout must fail, got %s", res.Kind)
	}
}

func TestLogoutAll_RevokesEverySession(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	var pairs []*RefreshedTokens
	for _, fp := range []string{"fp-a", "fp-b", "fp-c"} {
		_, pair := f.expiredLogin(t, fp)
		pairs = append(pairs, pair)
	}

	n, err := f.gate.Rotator.LogoutAll(context.Background(), "acme", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}
	for i, pair := range pairs {
		fp := []string{"fp-a", "fp-b", "fp-c"}[i]
		res := f.gate.Authenticate(context.Background(), authReq(pair, fp))
		if res.Kind != KindUnauthenticated {
			t.Fatalf("session %d must be revoked, got %s", i, res.Kind)
		}
	}
}

func TestRotator_RoleChangesPropagateOnRefresh(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, pair := f.expiredLogin(t, "fp-1")

	// el admin cambió el rol entre emisión y refresh
	f.dir.mu.Lock()
	f.dir.users["user-1"].Role = "manager"
	f.dir.mu.Unlock()

	res := f.gate.Authenticate(context.Background(), authReq(pair, "fp-1"))
	if res.Kind != KindAuthenticated {
		t.Fatalf("expected Authenticated, got %s", res.Kind)
	}
	if res.Identity.Role != "manager" {
		t.Fatalf("role must be re-read on rotation, got %q", res.Identity.Role)
	}
}

func TestRotator_DisabledUserRejectedOnRefresh(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, pair := f.expiredLogin(t, "fp-1")

	f.dir.mu.Lock()
	f.dir.users["user-1"].Disabled = true
	f.dir.mu.Unlock()

	res := f.gate.Authenticate(context.Background(), authReq(pair, "fp-1"))
	if res.Kind != KindUnauthenticated {
		t.Fatalf("disabled user must not refresh, got %s", res.Kind)
	}
}

func TestRotator_SessionExpiryFollowsIssuerClock(t *testing.T) {
	fixed := time.Now().Add(-30 * time.Minute).Truncate(time.Second)
	f := newFixture(t, fixtureOpts{issuerNow: func() time.Time { return fixed }})
	id, pair := f.login(t, "fp-1")

	// el expiry persistido y el del claim salen del mismo reloj
	want := fixed.Add(24 * time.Hour)
	sess, err := f.mem.Get(context.Background(), id.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.RefreshExpiresAt.Equal(want) {
		t.Fatalf("persisted expiry %v, want %v", sess.RefreshExpiresAt, want)
	}
	if !pair.RefreshExpiresAt.Equal(want) {
		t.Fatalf("claim expiry %v, want %v", pair.RefreshExpiresAt, want)
	}

	// tras la rotación silenciosa siguen coincidiendo
	res := f.gate.Authenticate(context.Background(), authReq(pair, "fp-1"))
	if res.Kind != KindAuthenticated || res.Refreshed == nil {
		t.Fatalf("expected silent refresh, got %s (%v)", res.Kind, res.Err)
	}
	sess, err = f.mem.Get(context.Background(), id.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.RefreshExpiresAt.Equal(res.Refreshed.RefreshExpiresAt) {
		t.Fatalf("persisted %v != claim %v tras rotación",
			sess.RefreshExpiresAt, res.Refreshed.RefreshExpiresAt)
	}
}
