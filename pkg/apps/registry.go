package apps

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cortexd/cortexd/pkg/models"
	"github.com/cortexd/cortexd/pkg/services"
)

// Health thresholds, in energy units. Tunable but fixed for now.
const (
	unhealthyPerMinute = 50.0
	degradedPerHour    = 200.0
)

// persistTimeout bounds the async energy-event write so it survives the
// caller's context.
const persistTimeout = 10 * time.Second

// Registry owns the installed-app table, live instance bindings, and
// per-app energy meters. Durable state lives in the app service; the
// registry adds the in-memory hot path on top.
type Registry struct {
	apps   *services.AppService
	logger *slog.Logger

	mu        sync.RWMutex
	instances map[string]AppInstance
	meters    map[string]*energyMeter

	// Tracks in-flight async energy persists so Close can drain them.
	persists sync.WaitGroup
}

// NewRegistry creates a registry over the durable app service.
func NewRegistry(apps *services.AppService) *Registry {
	return &Registry{
		apps:      apps,
		logger:    slog.Default(),
		instances: make(map[string]AppInstance),
		meters:    make(map[string]*energyMeter),
	}
}

// Install validates and persists an app installation.
// Returns services.ErrAlreadyExists for duplicate IDs.
func (r *Registry) Install(ctx context.Context, cfg models.AppConfig) error {
	return r.apps.InstallApp(ctx, cfg)
}

// Uninstall removes an installed app, its energy ledger, and any live
// instance binding. Returns services.ErrNotFound for unknown IDs.
func (r *Registry) Uninstall(ctx context.Context, appID string) error {
	if err := r.apps.UninstallApp(ctx, appID); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.instances, appID)
	delete(r.meters, appID)
	r.mu.Unlock()
	return nil
}

// RegisterApp binds a live instance to an installed app ID.
func (r *Registry) RegisterApp(ctx context.Context, instance AppInstance) error {
	appID := instance.ID()
	if _, err := r.apps.GetApp(ctx, appID); err != nil {
		return fmt.Errorf("register instance %q: %w", appID, err)
	}

	r.mu.Lock()
	r.instances[appID] = instance
	r.mu.Unlock()

	r.logger.Info("App instance registered", "app_id", appID)
	return nil
}

// AssociateConversation binds a conversation to an app. Idempotent.
func (r *Registry) AssociateConversation(ctx context.Context, conversationID, appID string) error {
	return r.apps.BindConversation(ctx, conversationID, appID)
}

// RouteMessage delivers a message to the live instance of msg.To.
// Messages addressed to the loop are refused outright.
func (r *Registry) RouteMessage(ctx context.Context, msg *models.AppMessage) error {
	if msg.To == "loop" {
		return ErrRouteToLoop
	}

	r.mu.RLock()
	instance, ok := r.instances[msg.To]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("route to %q: %w", msg.To, ErrNoInstance)
	}

	return instance.ReceiveMessage(ctx, msg)
}

// RecordEnergy appends a charge to the app's in-memory rolling window and
// persists the event row asynchronously. The hot path never waits on the
// database.
func (r *Registry) RecordEnergy(appID string, amount float64, conversationID, operation string) {
	if amount <= 0 {
		return
	}

	now := time.Now()
	r.meter(appID).record(now, amount)

	r.persists.Add(1)
	go func() {
		defer r.persists.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := r.apps.RecordEnergy(ctx, appID, amount, conversationID, operation); err != nil {
			r.logger.Warn("Failed to persist app energy event",
				"app_id", appID, "amount", amount, "error", err)
		}
	}()
}

// GetEnergyMetrics returns rolling-window totals for an app. Served from
// the in-memory meter when one exists; falls back to bounded scans over
// the persisted series otherwise (e.g. right after a restart).
func (r *Registry) GetEnergyMetrics(ctx context.Context, appID string) (models.EnergyMetrics, error) {
	r.mu.RLock()
	meter, ok := r.meters[appID]
	r.mu.RUnlock()
	if ok {
		return meter.metrics(time.Now()), nil
	}

	persisted, err := r.apps.GetEnergyMetrics(ctx, appID, time.Now())
	if err != nil {
		return models.EnergyMetrics{}, err
	}
	return *persisted, nil
}

// Health classifies an app by its recent consumption rate.
func Health(m models.EnergyMetrics) models.AppHealth {
	switch {
	case m.Last1min > unhealthyPerMinute:
		return models.AppHealthUnhealthy
	case m.Last1h > degradedPerHour:
		return models.AppHealthDegraded
	default:
		return models.AppHealthHealthy
	}
}

// Status returns the live view of one installed app.
func (r *Registry) Status(ctx context.Context, appID string) (*models.AppStatus, error) {
	cfg, err := r.apps.GetApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	return r.statusFor(ctx, *cfg)
}

// ListStatuses returns the live view of every installed app.
func (r *Registry) ListStatuses(ctx context.Context) ([]models.AppStatus, error) {
	cfgs, err := r.apps.ListApps(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]models.AppStatus, 0, len(cfgs))
	for _, cfg := range cfgs {
		st, err := r.statusFor(ctx, cfg)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *st)
	}
	return statuses, nil
}

func (r *Registry) statusFor(ctx context.Context, cfg models.AppConfig) (*models.AppStatus, error) {
	metrics, err := r.GetEnergyMetrics(ctx, cfg.AppID)
	if err != nil {
		return nil, err
	}

	installed, err := r.apps.GetInstalledAt(ctx, cfg.AppID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	_, running := r.instances[cfg.AppID]
	r.mu.RUnlock()

	return &models.AppStatus{
		AppConfig: cfg,
		Running:   running,
		Health:    Health(metrics),
		Installed: installed,
	}, nil
}

// HasInstance reports whether a live instance is bound to appID.
func (r *Registry) HasInstance(appID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[appID]
	return ok
}

// Close waits for in-flight energy persists to finish.
func (r *Registry) Close() {
	r.persists.Wait()
}

func (r *Registry) meter(appID string) *energyMeter {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meters[appID]
	if !ok {
		m = &energyMeter{}
		r.meters[appID] = m
	}
	return m
}
