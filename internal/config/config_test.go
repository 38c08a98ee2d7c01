package config

import "testing"

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:events.db")
	t.Setenv("DB_DRIVER", " SQLite ")
	t.Setenv("EM_DB_MIN_CONNS", "1")
	t.Setenv("EM_DB_MAX_CONNS", "4")
	t.Setenv("RULES_FILE", "rules.yaml")
	t.Setenv("RULES_WATCH", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBDriver != DriverSQLite {
		t.Fatalf("expected sqlite driver, got %q", cfg.DBDriver)
	}
	if cfg.DBMaxConns != 4 || cfg.DBMinConns != 1 {
		t.Fatalf("unexpected pool sizing %d/%d", cfg.DBMinConns, cfg.DBMaxConns)
	}
	if cfg.RulesFile != "rules.yaml" || cfg.RulesWatch {
		t.Fatalf("unexpected rules settings %q watch=%v", cfg.RulesFile, cfg.RulesWatch)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := Config{DatabaseURL: "postgres://x", DBDriver: DriverPostgres, DBMinConns: 1, DBMaxConns: 2}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing url", mutate: func(c *Config) { c.DatabaseURL = " " }},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "mysql" }},
		{name: "max below one", mutate: func(c *Config) { c.DBMaxConns = 0 }},
		{name: "min above max", mutate: func(c *Config) { c.DBMinConns = 5 }},
	}
	for _, tc := range tests {
		cfg := base
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestCORSAllowedOriginsList(t *testing.T) {
	t.Parallel()

	cfg := &Config{CORSAllowedOrigins: "https://a.test, https://b.test,,https://a.test"}
	got := cfg.CORSAllowedOriginsList()
	if len(got) != 2 || got[0] != "https://a.test" || got[1] != "https://b.test" {
		t.Fatalf("unexpected origins %v", got)
	}
}
