package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"

	"msphub/api/internal/app"
	"msphub/api/internal/config"
	"msphub/api/internal/documents"
	"msphub/api/internal/email"
	"msphub/api/internal/filestore"
	"msphub/api/internal/logging"
	"msphub/api/internal/metrics"
	"msphub/api/internal/search"
	"msphub/api/internal/session"
	"msphub/api/internal/sidebar"
	"msphub/api/internal/store"
	"msphub/api/internal/vault"
)

var graphScopes = []string{"offline_access", "User.Read", "Files.ReadWrite.All"}

// runtimeEnv holds the process-wide resources every command shares.
type runtimeEnv struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	db      *sql.DB
	pg      *store.PostgresStore
	meili   *search.Meili
	closers []func()
}

func open(ctx context.Context, cfg config.Config) (*runtimeEnv, error) {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	env := &runtimeEnv{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		db:      db,
		pg:      store.NewPostgresStore(db),
	}
	env.closers = append(env.closers, func() { _ = db.Close() })
	return env, nil
}

func (e *runtimeEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	_ = e.logger.Sync()
}

func (e *runtimeEnv) sidebar() *sidebar.Service {
	return sidebar.New(e.pg, e.logger, e.metrics, e.cfg.SidebarLockTimeout)
}

// search returns a facade over Meilisearch, or one that always misses when
// MEILI_URL is unset.
func (e *runtimeEnv) search() *search.Service {
	if strings.TrimSpace(e.cfg.MeiliURL) == "" {
		return search.NewService(nil, e.logger)
	}
	if e.meili == nil {
		e.meili = search.NewMeili(e.cfg.MeiliURL, e.cfg.MeiliMasterKey, e.logger)
		e.closers = append(e.closers, e.meili.Close)
	}
	return search.NewService(e.meili, e.logger)
}

func (e *runtimeEnv) documents(storage filestore.Storage, index documents.Index) *documents.Service {
	return documents.New(e.pg, storage, index, e.logger)
}

// storage builds the configured backend. The Graph backend is also returned
// as the Microsoft consent flow when it runs with delegated tokens.
func (e *runtimeEnv) storage(ctx context.Context) (filestore.Storage, app.MicrosoftAuth, error) {
	cfg := e.cfg
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "graph", "onedrive":
		if cfg.MSClientID == "" {
			e.logger.Warn("MS_CLIENT_ID not set, document storage disabled")
			return nil, nil, nil
		}
		graph := filestore.NewGraph(filestore.GraphConfig{
			RootFolder: cfg.MSRootFolder,
			OAuth:      e.oauthConfig(),
		}, e.pg, e.logger, e.metrics)
		return graph, graph, nil
	case "sharepoint":
		if cfg.MSSiteID == "" || cfg.MSDriveID == "" {
			return nil, nil, fmt.Errorf("sharepoint storage needs MS_SITE_ID and MS_DRIVE_ID")
		}
		endpoint := microsoft.AzureADEndpoint(e.tenant())
		graph := filestore.NewGraph(filestore.GraphConfig{
			RootFolder: cfg.MSRootFolder,
			SiteID:     cfg.MSSiteID,
			DriveID:    cfg.MSDriveID,
			App: &clientcredentials.Config{
				ClientID:     cfg.MSClientID,
				ClientSecret: cfg.MSClientSecret,
				TokenURL:     endpoint.TokenURL,
				Scopes:       []string{"https://graph.microsoft.com/.default"},
			},
		}, e.pg, e.logger, e.metrics)
		return graph, nil, nil
	case "minio":
		m, err := filestore.NewMinIO(filestore.MinIOConfig{
			Endpoint:   cfg.MinIOEndpoint,
			AccessKey:  cfg.MinIOAccessKey,
			SecretKey:  cfg.MinIOSecretKey,
			Bucket:     cfg.MinIOBucket,
			UseSSL:     cfg.MinIOUseSSL,
			RootFolder: cfg.MSRootFolder,
		}, e.logger, e.metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("minio: %w", err)
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("minio bucket: %w", err)
		}
		return m, nil, nil
	case "", "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func (e *runtimeEnv) tenant() string {
	if e.cfg.MSTenantID == "" {
		return "common"
	}
	return e.cfg.MSTenantID
}

func (e *runtimeEnv) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     e.cfg.MSClientID,
		ClientSecret: e.cfg.MSClientSecret,
		RedirectURL:  e.cfg.MSRedirectURL,
		Endpoint:     microsoft.AzureADEndpoint(e.tenant()),
		Scopes:       graphScopes,
	}
}

// services wires everything the HTTP API needs.
func (e *runtimeEnv) services(ctx context.Context) (app.Deps, error) {
	cfg := e.cfg
	deps := app.Deps{
		Store:   e.pg,
		Sidebar: e.sidebar(),
		Logger:  e.logger,
		Metrics: e.metrics,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return app.Deps{}, fmt.Errorf("redis connection failed: %w", err)
		}
		e.closers = append(e.closers, func() { _ = redisStore.Close() })
		deps.Sessions = redisStore
		e.logger.Info("using redis for sessions")
	} else {
		e.logger.Info("using postgres for sessions")
	}

	storage, ms, err := e.storage(ctx)
	if err != nil {
		return app.Deps{}, err
	}
	deps.Documents = e.documents(storage, e.search())
	deps.Microsoft = ms

	v, err := vault.New(cfg.VaultKey)
	if err != nil {
		return app.Deps{}, fmt.Errorf("vault: %w", err)
	}
	if !v.Configured() {
		e.logger.Warn("MSPHUB_VAULT_KEY not set, password storage disabled")
	}
	deps.Vault = v

	mailer := email.NewService(email.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		From:      cfg.SMTPFrom,
		FromName:  cfg.SMTPFromName,
		PortalURL: cfg.PortalURL,
	})
	if !mailer.IsConfigured() {
		e.logger.Info("SMTP not configured, invitations are skipped")
	}
	deps.Mailer = mailer
	return deps, nil
}
