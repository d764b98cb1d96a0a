// vendhubctl administra el control plane en filesystem: alta de tenants,
// rotación de secretos de firma, dominios y cifrado de valores sueltos.
// Opera directo sobre el FS root; el server levanta los cambios dentro de
// la ventana de TTL de su resolver.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cp "github.com/dropDatabas3/vendhub/internal/controlplane"
	cpfs "github.com/dropDatabas3/vendhub/internal/controlplane/fs"
	"github.com/dropDatabas3/vendhub/internal/infra/tenantsql"
	"github.com/dropDatabas3/vendhub/internal/security/password"
	"github.com/dropDatabas3/vendhub/internal/security/secretbox"
	"github.com/dropDatabas3/vendhub/internal/store/pg"
	"github.com/dropDatabas3/vendhub/internal/user"
	migrations "github.com/dropDatabas3/vendhub/migrations/postgres"
)

func main() {
	_ = godotenv.Load()

	fsRoot := envOr("CONTROL_PLANE_FS_ROOT", "./data/vendhub")

	root := &cobra.Command{
		Use:           "vendhubctl",
		Short:         "Administración del control plane de VendHub",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&fsRoot, "fs-root", fsRoot, "directorio raíz del control plane (env CONTROL_PLANE_FS_ROOT)")

	root.AddCommand(tenantCmd(&fsRoot), userCmd(&fsRoot), encCmd(), keygenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func tenantCmd(fsRoot *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Operaciones sobre tenants",
	}

	// tenant create
	var (
		slug        string
		name        string
		domains     []string
		dsn         string
		accessTTL   int
		refreshTTL  int
		maxSessions int
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Crea un tenant con secretos de firma recién generados",
		RunE: func(cmd *cobra.Command, args []string) error {
			if slug == "" {
				return fmt.Errorf("falta --slug")
			}
			if name == "" {
				name = slug
			}
			accessEnc, refreshEnc, err := freshSecretPair()
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			t := &cp.Tenant{
				ID:        uuid.NewString(),
				Name:      name,
				Slug:      slug,
				Domains:   domains,
				CreatedAt: now,
				UpdatedAt: now,
				Settings: cp.TenantSettings{
					Auth: &cp.AuthSecrets{
						AccessSecretEnc:  accessEnc,
						RefreshSecretEnc: refreshEnc,
					},
				},
			}
			if dsn != "" {
				dsnEnc, err := secretbox.Encrypt(dsn)
				if err != nil {
					return fmt.Errorf("cifrando DSN: %w", err)
				}
				t.Settings.UserDB = &cp.UserDBSettings{Driver: "pg", DSNEnc: dsnEnc}
			}
			if accessTTL > 0 || refreshTTL > 0 {
				t.Settings.Tokens = &cp.TokenPolicy{
					AccessTTLMinutes:  accessTTL,
					RefreshTTLMinutes: refreshTTL,
				}
			}
			if maxSessions > 0 {
				t.Settings.Sessions = &cp.SessionPolicy{MaxConcurrent: maxSessions}
			}

			if err := cpfs.New(*fsRoot).UpsertTenant(context.Background(), t); err != nil {
				return err
			}
			fmt.Printf("tenant %q creado (id=%s)\n", slug, t.ID)
			return nil
		},
	}
	create.Flags().StringVar(&slug, "slug", "", "slug único del tenant")
	create.Flags().StringVar(&name, "name", "", "nombre visible (default: slug)")
	create.Flags().StringArrayVar(&domains, "domain", nil, "dominio del storefront (repetible)")
	create.Flags().StringVar(&dsn, "dsn", "", "DSN de PostgreSQL del tenant (se cifra en reposo)")
	create.Flags().IntVar(&accessTTL, "access-ttl", 0, "TTL de access token en minutos (0 = default)")
	create.Flags().IntVar(&refreshTTL, "refresh-ttl", 0, "TTL de refresh token en minutos (0 = default)")
	create.Flags().IntVar(&maxSessions, "max-sessions", 0, "tope de sesiones concurrentes por usuario (0 = sin tope)")

	// tenant list
	list := &cobra.Command{
		Use:   "list",
		Short: "Lista los tenants del control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenants, err := cpfs.New(*fsRoot).ListTenants(context.Background())
			if err != nil {
				return err
			}
			for i := range tenants {
				t := &tenants[i]
				fmt.Printf("%-20s %-36s domains=%v\n", t.Slug, t.ID, t.Domains)
			}
			return nil
		},
	}

	// tenant rotate-secrets
	var rotSlug string
	rotate := &cobra.Command{
		Use:   "rotate-secrets",
		Short: "Regenera los secretos de firma de un tenant",
		Long: "Regenera access y refresh secrets. Los tokens ya emitidos dejan de\n" +
			"verificar: toda sesión del tenant pasa por re-login. Las réplicas del\n" +
			"server lo levantan dentro del TTL de su cache de tenants.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rotSlug == "" {
				return fmt.Errorf("falta --slug")
			}
			provider := cpfs.New(*fsRoot)
			ctx := context.Background()
			t, err := provider.GetTenantBySlug(ctx, rotSlug)
			if err != nil {
				return err
			}
			accessEnc, refreshEnc, err := freshSecretPair()
			if err != nil {
				return err
			}
			t.Settings.Auth = &cp.AuthSecrets{
				AccessSecretEnc:  accessEnc,
				RefreshSecretEnc: refreshEnc,
			}
			t.UpdatedAt = time.Now().UTC()
			if err := provider.UpsertTenant(ctx, t); err != nil {
				return err
			}
			fmt.Printf("secretos de %q rotados\n", rotSlug)
			return nil
		},
	}
	rotate.Flags().StringVar(&rotSlug, "slug", "", "slug del tenant")

	// tenant bind-domain
	var bindSlug, bindDomain string
	bind := &cobra.Command{
		Use:   "bind-domain",
		Short: "Asocia un dominio a un tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bindSlug == "" || bindDomain == "" {
				return fmt.Errorf("faltan --slug y/o --domain")
			}
			provider := cpfs.New(*fsRoot)
			ctx := context.Background()
			t, err := provider.GetTenantBySlug(ctx, bindSlug)
			if err != nil {
				return err
			}
			if t.OwnsDomain(bindDomain) {
				fmt.Printf("%q ya pertenece a %q\n", bindDomain, bindSlug)
				return nil
			}
			t.Domains = append(t.Domains, bindDomain)
			t.UpdatedAt = time.Now().UTC()
			if err := provider.UpsertTenant(ctx, t); err != nil {
				return err
			}
			fmt.Printf("%q asociado a %q\n", bindDomain, bindSlug)
			return nil
		},
	}
	bind.Flags().StringVar(&bindSlug, "slug", "", "slug del tenant")
	bind.Flags().StringVar(&bindDomain, "domain", "", "dominio a asociar")

	cmd.AddCommand(create, list, rotate, bind)
	return cmd
}

// userCmd siembra usuarios directo en la base del tenant (primer admin,
// cuentas de prueba). Aplica las migraciones pendientes antes de insertar.
func userCmd(fsRoot *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Operaciones sobre usuarios de un tenant",
	}

	var (
		tenantSlug string
		email      string
		plain      string
		name       string
		role       string
		verified   bool
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Crea un usuario en la base del tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantSlug == "" || email == "" || plain == "" {
				return fmt.Errorf("faltan --tenant, --email y/o --password")
			}
			mgr, err := tenantsql.New(tenantsql.Config{
				Provider:      cpfs.New(*fsRoot),
				Migrations:    migrations.TenantFS,
				MigrationsDir: migrations.TenantDir,
			})
			if err != nil {
				return err
			}
			defer mgr.Close()

			ctx := context.Background()
			store, err := mgr.Get(ctx, tenantSlug)
			if err != nil {
				return err
			}
			hash, err := password.Hash(password.Default, plain)
			if err != nil {
				return err
			}
			u, err := pg.NewUsers(store).Create(ctx, user.CreateInput{
				Email:         email,
				EmailVerified: verified,
				Name:          name,
				Role:          role,
				PasswordHash:  hash,
			})
			if err != nil {
				return err
			}
			fmt.Printf("usuario %q creado (id=%s role=%s)\n", u.Email, u.ID, u.Role)
			return nil
		},
	}
	create.Flags().StringVar(&tenantSlug, "tenant", "", "slug del tenant")
	create.Flags().StringVar(&email, "email", "", "email del usuario")
	create.Flags().StringVar(&plain, "password", "", "password en claro (se hashea con argon2id)")
	create.Flags().StringVar(&name, "name", "", "nombre visible")
	create.Flags().StringVar(&role, "role", "", "rol (default: customer)")
	create.Flags().BoolVar(&verified, "verified", false, "marcar email como verificado")

	cmd.AddCommand(create)
	return cmd
}

// encCmd cifra un valor suelto con la master key (DSNs, passwords de Redis).
func encCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enc <valor>",
		Short: "Cifra un valor con la master key (SECRETBOX_MASTER_KEY)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := secretbox.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

// keygenCmd genera una master key nueva para SECRETBOX_MASTER_KEY.
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Genera una master key de 32 bytes en base64",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}

// freshSecretPair genera y cifra un par de secretos de firma. Access y
// refresh salen de tiradas independientes: filtrar uno no compromete el otro.
func freshSecretPair() (accessEnc, refreshEnc string, err error) {
	gen := func() (string, error) {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return "", err
		}
		return secretbox.Encrypt(base64.RawURLEncoding.EncodeToString(raw))
	}
	if accessEnc, err = gen(); err != nil {
		return "", "", fmt.Errorf("generando access secret: %w", err)
	}
	if refreshEnc, err = gen(); err != nil {
		return "", "", fmt.Errorf("generando refresh secret: %w", err)
	}
	return accessEnc, refreshEnc, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
