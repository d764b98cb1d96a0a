// Package config carga la configuración del servicio desde YAML con
// overrides por variables de entorno. El YAML define la forma; el entorno
// manda (12-factor): cualquier valor puede pisarse sin tocar el archivo.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	JWT struct {
		// Issuer es el claim iss de todos los tokens emitidos. Obligatorio.
		Issuer string `yaml:"issuer"`
	} `yaml:"jwt"`

	ControlPlane struct {
		FSRoot string `yaml:"fs_root"`
	} `yaml:"control_plane"`

	// TenantDB parametriza los pools PG por tenant.
	TenantDB struct {
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	} `yaml:"tenant_db"`

	Sessions struct {
		// SweepInterval: cada cuánto corre el barrido de sesiones muertas.
		SweepInterval string `yaml:"sweep_interval"`
		// CacheTTL: TTL del read-through de sesiones en cache. "0" lo apaga.
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"sessions"`

	Resolver struct {
		// TTL del cache de tenants resueltos. Acota la propagación de una
		// rotación administrativa de secretos.
		TTL string `yaml:"ttl"`
	} `yaml:"resolver"`

	Cookies struct {
		Domain   string `yaml:"domain"`
		SameSite string `yaml:"samesite"` // lax | strict | none
		Secure   bool   `yaml:"secure"`
	} `yaml:"cookies"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Login   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"login"`
		// Redis para el limiter compartido entre réplicas. Vacío => limiter
		// en memoria (por proceso).
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"rate"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.ControlPlane.FSRoot == "" {
		c.ControlPlane.FSRoot = "./data/vendhub"
	}
	if c.TenantDB.MaxOpenConns == 0 {
		c.TenantDB.MaxOpenConns = 15
	}
	if c.TenantDB.MaxIdleConns == 0 {
		c.TenantDB.MaxIdleConns = 3
	}
	if c.TenantDB.ConnMaxLifetime == "" {
		c.TenantDB.ConnMaxLifetime = "30m"
	}
	if c.Sessions.SweepInterval == "" {
		c.Sessions.SweepInterval = "10m"
	}
	if c.Sessions.CacheTTL == "" {
		c.Sessions.CacheTTL = "30s"
	}
	if c.Resolver.TTL == "" {
		c.Resolver.TTL = "30s"
	}
	if c.Cookies.SameSite == "" {
		c.Cookies.SameSite = "lax"
	}
	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 10
	}
	if c.Rate.Login.Window == "" {
		c.Rate.Login.Window = "1m"
	}

	c.applyEnvOverrides()

	// Guardia dura: en prod las cookies van Secure sí o sí.
	if strings.EqualFold(c.App.Env, "prod") {
		c.Cookies.Secure = true
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate verifica lo obligatorio y que toda duración en string parsee.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		return fmt.Errorf("config: jwt.issuer es obligatorio")
	}
	for name, v := range map[string]string{
		"tenant_db.conn_max_lifetime": c.TenantDB.ConnMaxLifetime,
		"sessions.sweep_interval":     c.Sessions.SweepInterval,
		"sessions.cache_ttl":          c.Sessions.CacheTTL,
		"resolver.ttl":                c.Resolver.TTL,
		"rate.login.window":           c.Rate.Login.Window,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	switch strings.ToLower(c.Cookies.SameSite) {
	case "lax", "strict", "none":
	default:
		return fmt.Errorf("config: cookies.samesite inválido: %q", c.Cookies.SameSite)
	}
	return nil
}

// Accessors con parseo: Validate ya garantizó que las duraciones son válidas.

func (c *Config) ConnMaxLifetime() time.Duration { return mustDur(c.TenantDB.ConnMaxLifetime) }
func (c *Config) SweepInterval() time.Duration   { return mustDur(c.Sessions.SweepInterval) }
func (c *Config) SessionCacheTTL() time.Duration { return mustDur(c.Sessions.CacheTTL) }
func (c *Config) ResolverTTL() time.Duration     { return mustDur(c.Resolver.TTL) }
func (c *Config) LoginWindow() time.Duration     { return mustDur(c.Rate.Login.Window) }

func mustDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func getEnvStr(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && strings.TrimSpace(v) != ""
}

func getEnvInt(key string) (int, bool) {
	if v, ok := getEnvStr(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if v, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b, true
		}
	}
	return false, false
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvStr("CONTROL_PLANE_FS_ROOT"); ok {
		c.ControlPlane.FSRoot = v
	}
	if v, ok := getEnvStr("COOKIE_DOMAIN"); ok {
		c.Cookies.Domain = v
	}
	if v, ok := getEnvStr("COOKIE_SAMESITE"); ok {
		c.Cookies.SameSite = v
	}
	if v, ok := getEnvBool("COOKIE_SECURE"); ok {
		c.Cookies.Secure = v
	}
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_LOGIN_LIMIT"); ok {
		c.Rate.Login.Limit = v
	}
	if v, ok := getEnvStr("RATE_LOGIN_WINDOW"); ok {
		c.Rate.Login.Window = v
	}
	if v, ok := getEnvStr("RATE_REDIS_ADDR"); ok {
		c.Rate.Redis.Addr = v
	}
	if v, ok := getEnvStr("RATE_REDIS_PASSWORD"); ok {
		c.Rate.Redis.Password = v
	}
	if v, ok := getEnvInt("RATE_REDIS_DB"); ok {
		c.Rate.Redis.DB = v
	}
	if v, ok := getEnvBool("METRICS_ENABLED"); ok {
		c.Metrics.Enabled = v
	}
	if v, ok := getEnvStr("SESSION_SWEEP_INTERVAL"); ok {
		c.Sessions.SweepInterval = v
	}
	if v, ok := getEnvStr("SESSION_CACHE_TTL"); ok {
		c.Sessions.CacheTTL = v
	}
	if v, ok := getEnvStr("RESOLVER_TTL"); ok {
		c.Resolver.TTL = v
	}
}
