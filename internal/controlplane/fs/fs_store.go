// Package fs implementa el Provider del control-plane usando YAML en disco.
//
// Layout:
//
//	{root}/tenants/{slug}/tenant.yaml
//
// Las escrituras son atómicas (tmp + rename). El data-plane sólo lee.
package fs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	cp "github.com/dropDatabas3/vendhub/internal/controlplane"
	"github.com/dropDatabas3/vendhub/internal/util/atomicwrite"
)

// FSProvider implementa controlplane.Provider sobre el filesystem.
type FSProvider struct {
	root string

	mu sync.RWMutex // serializa escrituras; las lecturas van directo a disco
}

func New(root string) *FSProvider { return &FSProvider{root: filepath.Clean(root)} }

// FSRoot devuelve el directorio raíz configurado.
func (p *FSProvider) FSRoot() string { return p.root }

func (p *FSProvider) tenantsDir() string           { return filepath.Join(p.root, "tenants") }
func (p *FSProvider) tenantDir(slug string) string { return filepath.Join(p.tenantsDir(), slug) }
func (p *FSProvider) tenantFile(slug string) string {
	return filepath.Join(p.tenantDir(slug), "tenant.yaml")
}

// ===== helpers FS =====

func readYAML[T any](path string, out *T) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, out)
}

func writeYAML(path string, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return atomicwrite.AtomicWriteFile(path, b, 0o600)
}

// ensureTenantID asigna un UUID si falta o es inválido. Devuelve true si cambió.
func ensureTenantID(t *cp.Tenant) bool {
	if t == nil {
		return false
	}
	id := strings.TrimSpace(t.ID)
	if id == "" {
		t.ID = uuid.NewString()
		return true
	}
	if _, err := uuid.Parse(id); err != nil {
		t.ID = uuid.NewString()
		return true
	}
	return false
}

func validSlug(slug string) bool {
	if slug == "" || len(slug) > 64 {
		return false
	}
	for _, r := range slug {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
		if !ok {
			return false
		}
	}
	return true
}

// ===== Provider impl =====

func (p *FSProvider) ListTenants(ctx context.Context) ([]cp.Tenant, error) {
	entries, err := os.ReadDir(p.tenantsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []cp.Tenant
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := p.GetTenantBySlug(ctx, e.Name())
		if err == nil && t != nil {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (p *FSProvider) GetTenantBySlug(ctx context.Context, slug string) (*cp.Tenant, error) {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if !validSlug(slug) {
		return nil, cp.ErrBadInput
	}
	var t cp.Tenant
	if err := readYAML(p.tenantFile(slug), &t); err != nil {
		if os.IsNotExist(err) {
			return nil, cp.ErrTenantNotFound
		}
		return nil, err
	}
	if t.Slug == "" {
		t.Slug = slug
	}
	return &t, nil
}

// GetTenantByDomain busca el tenant dueño del host en su lista de dominios.
// El registro es read-mostly y chico (decenas de vendors); el scan lineal
// queda detrás del cache TTL del resolver.
func (p *FSProvider) GetTenantByDomain(ctx context.Context, host string) (*cp.Tenant, error) {
	host = normalizeHost(host)
	if host == "" {
		return nil, cp.ErrBadInput
	}
	tenants, err := p.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tenants {
		if tenants[i].OwnsDomain(host) {
			t := tenants[i]
			return &t, nil
		}
	}
	return nil, cp.ErrTenantNotFound
}

func (p *FSProvider) UpsertTenant(ctx context.Context, t *cp.Tenant) error {
	if t == nil {
		return cp.ErrBadInput
	}
	t.Slug = strings.TrimSpace(strings.ToLower(t.Slug))
	if !validSlug(t.Slug) {
		return cp.ErrBadInput
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	ensureTenantID(t)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	// normalizar dominios (lowercase, sin puerto, sin duplicados)
	seen := map[string]bool{}
	var domains []string
	for _, d := range t.Domains {
		d = normalizeHost(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		domains = append(domains, d)
	}
	t.Domains = domains

	if err := os.MkdirAll(p.tenantDir(t.Slug), 0o755); err != nil {
		return err
	}
	return writeYAML(p.tenantFile(t.Slug), t)
}

func (p *FSProvider) DeleteTenant(ctx context.Context, slug string) error {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if !validSlug(slug) {
		return cp.ErrBadInput
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.RemoveAll(p.tenantDir(slug)); err != nil {
		return err
	}
	return nil
}

// normalizeHost baja a lowercase y recorta puerto/espacios.
func normalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return strings.TrimSuffix(host, ".")
}

var _ cp.Provider = (*FSProvider)(nil)
