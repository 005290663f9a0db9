// Package controller assembles the connection-lifecycle subsystem and exposes
// its operations as one façade over the coordinators.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/semfind/semfind/internal/auth"
	"github.com/semfind/semfind/internal/backend"
	"github.com/semfind/semfind/internal/branch"
	"github.com/semfind/semfind/internal/catalog"
	"github.com/semfind/semfind/internal/changes"
	"github.com/semfind/semfind/internal/clone"
	"github.com/semfind/semfind/internal/config"
	"github.com/semfind/semfind/internal/gitexec"
	"github.com/semfind/semfind/internal/indexing"
	"github.com/semfind/semfind/internal/registry"
	"github.com/semfind/semfind/internal/syncer"
)

// RetryOutcome reports how a failed repository was retried
type RetryOutcome struct {
	// Recloned is true when the retry re-entered cloning
	Recloned bool

	// NeedsIndexing is true when the backend confirmed the repository still
	// needs an index
	NeedsIndexing bool

	// Message is the backend's explanation, when it gave one
	Message string
}

// Controller owns the assembled subsystem. Construct it with New, start the
// background scans with Start, and tear it down with Stop.
type Controller struct {
	cfg    *config.Config
	client backend.Client

	registry *registry.Registry
	busy     *registry.BusyTracker

	auth     *auth.Controller
	catalog  *catalog.Cache
	cloner   *clone.Coordinator
	switcher *branch.Switcher
	indexer  *indexing.Dispatcher
	watcher  *changes.Scheduler
	syncer   *syncer.Syncer
}

// assembly collects the injectable pieces of the subsystem
type assembly struct {
	client        backend.Client
	creds         auth.CredentialStore
	registryStore registry.Store
	catalogStore  catalog.Store
}

// Option overrides one assembled piece, used by tests
type Option func(*assembly)

// WithBackendClient injects the backend client
func WithBackendClient(client backend.Client) Option {
	return func(a *assembly) {
		a.client = client
	}
}

// WithCredentialStore injects the credential store
func WithCredentialStore(creds auth.CredentialStore) Option {
	return func(a *assembly) {
		a.creds = creds
	}
}

// WithRegistryStore injects the connection registry store
func WithRegistryStore(store registry.Store) Option {
	return func(a *assembly) {
		a.registryStore = store
	}
}

// WithCatalogStore injects the catalog snapshot store
func WithCatalogStore(store catalog.Store) Option {
	return func(a *assembly) {
		a.catalogStore = store
	}
}

// New assembles the subsystem from configuration
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Controller, error) {
	asm := &assembly{}
	for _, opt := range opts {
		opt(asm)
	}

	client := asm.client
	if client == nil {
		client = backend.NewDefaultClient(cfg.Backend.Endpoint, cfg.BackendTimeout())
	}

	creds := asm.creds
	if creds == nil {
		creds = auth.NewKeyringStore()
	}
	if cfg.Backend.GitMode == config.GitModeLocal {
		client = backend.NewLocalGitClient(
			client,
			gitexec.NewDefaultClient(),
			cfg.Storage.ReposDir,
			func(_ context.Context) (string, error) {
				token, err := creds.Load()
				if err != nil {
					if errors.Is(err, auth.ErrNoCredential) {
						return "", nil
					}
					return "", err
				}
				return token, nil
			},
		)
	}

	regStore := asm.registryStore
	if regStore == nil {
		regStore = registry.NewFileStore(cfg.Storage.DataDir)
	}
	reg, err := registry.New(ctx, regStore)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize connection registry: %w", err)
	}
	busy := registry.NewBusyTracker()

	catStore := asm.catalogStore
	if catStore == nil {
		catStore = catalog.NewFileStore(cfg.Storage.DataDir)
	}
	cat := catalog.New(ctx, client, catStore,
		catalog.WithTTL(cfg.CatalogTTL()))

	c := &Controller{
		cfg:      cfg,
		client:   client,
		registry: reg,
		busy:     busy,
		catalog:  cat,
		cloner: clone.NewCoordinator(client, reg, busy,
			clone.WithMaxConcurrent(cfg.Clone.MaxConcurrent)),
		switcher: branch.NewSwitcher(client, reg),
		indexer: indexing.NewDispatcher(client, reg,
			indexing.WithPollInterval(cfg.IndexingPollInterval()),
			indexing.WithTimeout(cfg.IndexingTimeout())),
		watcher: changes.NewScheduler(client, reg,
			changes.WithInterval(cfg.ChangesInterval()),
			changes.WithConcurrency(cfg.Changes.Concurrency)),
		syncer: syncer.New(client, reg, busy),
	}
	c.auth = auth.NewController(client, creds,
		auth.WithOnAuthorized(c.catalog.Invalidate))

	return c, nil
}

// Start launches the change-detection scan loop
func (c *Controller) Start(ctx context.Context) {
	c.watcher.Start(ctx)
}

// Stop halts background work
func (c *Controller) Stop() {
	c.watcher.Stop()
	c.auth.Cancel()
	slog.Debug("Controller stopped")
}

// Login begins device-flow authorization
func (c *Controller) Login(ctx context.Context) (*auth.Session, error) {
	return c.auth.Start(ctx)
}

// CancelLogin aborts the active authorization session, if any
func (c *Controller) CancelLogin() {
	c.auth.Cancel()
}

// Logout removes the stored credential
func (c *Controller) Logout() error {
	return c.auth.Logout()
}

// Authorized reports whether a durable credential is present
func (c *Controller) Authorized() (bool, error) {
	return c.auth.Status()
}

// Catalog returns the repository catalog, enumerating the backend when the
// cached snapshot is missing or expired
func (c *Controller) Catalog(ctx context.Context, forceRefresh bool) (*catalog.Snapshot, error) {
	return c.catalog.Refresh(ctx, forceRefresh)
}

// Connect registers the catalog entry as a connection and starts its clone
func (c *Controller) Connect(ctx context.Context, entry backend.CatalogEntry) (*clone.Operation, error) {
	return c.cloner.Connect(ctx, entry)
}

// CancelClone aborts an in-flight clone, removing the connection record
func (c *Controller) CancelClone(ctx context.Context, fullName string) error {
	return c.cloner.Cancel(ctx, fullName)
}

// Checkout switches the repository's active branch
func (c *Controller) Checkout(ctx context.Context, fullName, branchName string) (*branch.CheckoutResult, error) {
	return c.switcher.Checkout(ctx, fullName, branchName)
}

// StartIndexing dispatches an indexing job for a connected repository
func (c *Controller) StartIndexing(ctx context.Context, fullName string) (*indexing.Job, error) {
	return c.indexer.Start(ctx, fullName)
}

// StartLocalIndexing dispatches an indexing job for ad-hoc local folders
func (c *Controller) StartLocalIndexing(ctx context.Context, req *backend.LocalIndexRequest) (*indexing.Job, error) {
	return c.indexer.StartLocal(ctx, req)
}

// IndexingProgress returns the running indexing job, or nil when idle
func (c *Controller) IndexingProgress() *indexing.Progress {
	return c.indexer.Progress()
}

// Sync applies a repository's pending changes to the index
func (c *Controller) Sync(ctx context.Context, fullName string) (*backend.SyncResult, error) {
	return c.syncer.Sync(ctx, fullName)
}

// Fetch refreshes remote tracking info for a repository
func (c *Controller) Fetch(ctx context.Context, fullName string) (*backend.FetchResult, error) {
	return c.syncer.Fetch(ctx, fullName)
}

// ScanChanges runs one change-detection scan immediately
func (c *Controller) ScanChanges(ctx context.Context) {
	c.watcher.Scan(ctx)
}

// Connections lists all connection records
func (c *Controller) Connections(ctx context.Context) []*registry.Connection {
	return c.registry.List(ctx)
}

// Connection returns one connection record
func (c *Controller) Connection(ctx context.Context, fullName string) (*registry.Connection, error) {
	return c.registry.Get(ctx, fullName)
}

// Branches lists the remote branches of a connected repository
func (c *Controller) Branches(ctx context.Context, fullName string) ([]backend.Branch, error) {
	return c.switcher.Branches(ctx, fullName)
}

// IndexedBranches lists the branches of a connected repository with index
// data
func (c *Controller) IndexedBranches(ctx context.Context, fullName string) ([]backend.IndexedBranch, error) {
	return c.switcher.IndexedBranches(ctx, fullName)
}

// Retry re-drives a failed repository. A failed clone re-enters cloning; a
// failed index is re-evaluated against the backend, which decides whether
// indexing is still needed and returns its authoritative view of the record.
func (c *Controller) Retry(ctx context.Context, fullName string) (*RetryOutcome, error) {
	conn, err := c.registry.Get(ctx, fullName)
	if err != nil {
		return nil, err
	}

	switch conn.Status {
	case registry.StatusCloneFailed:
		if _, err := c.cloner.Retry(ctx, fullName); err != nil {
			return nil, err
		}
		return &RetryOutcome{Recloned: true}, nil

	case registry.StatusIndexFailed, registry.StatusCloned:
		result, err := c.client.Retry(ctx, fullName)
		if err != nil {
			return nil, fmt.Errorf("failed to re-evaluate %s: %w", fullName, err)
		}
		if result.Repo != nil {
			err = c.registry.Update(ctx, fullName, func(rec *registry.Connection) error {
				if result.Repo.LocalPath != "" {
					rec.LocalPath = result.Repo.LocalPath
				}
				if result.Repo.ActiveBranch != "" {
					rec.ActiveBranch = result.Repo.ActiveBranch
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		return &RetryOutcome{NeedsIndexing: result.NeedsIndexing, Message: result.Message}, nil

	default:
		return nil, fmt.Errorf("repository %s is not in a retryable state (status %s)", fullName, conn.Status)
	}
}
