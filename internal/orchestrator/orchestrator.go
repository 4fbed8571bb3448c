package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"virthub/internal/controller"
	"virthub/internal/logs"
	"virthub/internal/models"
	"virthub/internal/repo"
	"virthub/internal/telemetry"
	"virthub/internal/vault"
	"virthub/internal/vsphere"
)

var (
	// ErrAlreadyRunning — слот платформы занят; триггер отклоняется,
	// не буферизуется и не склеивается со следующим.
	ErrAlreadyRunning = errors.New("orchestrator: sync already running for platform")
	// ErrSuspended — платформа выведена из ротации оператором.
	ErrSuspended = errors.New("orchestrator: platform is suspended")
)

// Endpoint — подключение к платформе глазами оркестратора.
type Endpoint interface {
	Connect(ctx context.Context) error
	Disconnect()
	About() vsphere.About
	Fetch(ctx context.Context, kind models.Kind) ([]vsphere.Item, error)
}

// Dialer создаёт подключение под платформу; живое состояние сессии
// принадлежит прогону, а не глобальному синглтону.
type Dialer func(*models.Platform, *models.Credential) Endpoint

// Orchestrator ведёт по одному слоту прогона на платформу: не более
// одного синка платформы одновременно. Сам ничего не планирует —
// каденс задаёт внешний планировщик через RunScheduledSync.
type Orchestrator struct {
	Platforms  *repo.PlatformStore
	Creds      *repo.CredentialStore
	Runs       *repo.RunStore
	Reconciler *controller.Reconciler
	Dial       Dialer

	mu      sync.Mutex
	running map[uint]struct{}
}

func New(platforms *repo.PlatformStore, creds *repo.CredentialStore, runs *repo.RunStore, rec *controller.Reconciler, dial Dialer) *Orchestrator {
	return &Orchestrator{
		Platforms:  platforms,
		Creds:      creds,
		Runs:       runs,
		Reconciler: rec,
		Dial:       dial,
		running:    make(map[uint]struct{}),
	}
}

// TriggerSync — ручной запуск. Слот занимается синхронно (двум
// конкурентным вызовам достаётся ровно один accept), прогон идёт в фоне.
func (o *Orchestrator) TriggerSync(ctx context.Context, platformUUID string) (*models.Platform, error) {
	p, err := o.Platforms.GetByUUID(ctx, platformUUID)
	if err != nil {
		return nil, err
	}
	if p.Suspended() {
		return nil, ErrSuspended
	}
	if !o.acquire(p.ID) {
		return nil, ErrAlreadyRunning
	}
	go func() {
		defer o.release(p.ID)
		if err := o.run(context.Background(), p); err != nil {
			logs.L().Errorf("sync %s: %v", p.Name, err)
		}
	}()
	return p, nil
}

// RunScheduledSync — идемпотентная точка входа внешнего планировщика.
// Занятый слот и suspended-платформа — штатный пропуск, не ошибка.
func (o *Orchestrator) RunScheduledSync(ctx context.Context, platformUUID string) error {
	p, err := o.Platforms.GetByUUID(ctx, platformUUID)
	if err != nil {
		return err
	}
	if p.Suspended() {
		return nil
	}
	if !o.acquire(p.ID) {
		return nil
	}
	defer o.release(p.ID)
	return o.run(ctx, p)
}

// Running — занят ли слот платформы (для статусных ручек).
func (o *Orchestrator) Running(platformID uint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[platformID]
	return ok
}

func (o *Orchestrator) acquire(platformID uint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[platformID]; busy {
		return false
	}
	o.running[platformID] = struct{}{}
	return true
}

func (o *Orchestrator) release(platformID uint) {
	o.mu.Lock()
	delete(o.running, platformID)
	o.mu.Unlock()
}

// run — один прогон: connect → по видам fetch+reconcile в фиксированном
// порядке (ВМ последними) → итоги. Сбой одного вида не мешает остальным,
// но опускает итог до partial; сбой подключения фатален сразу.
func (o *Orchestrator) run(ctx context.Context, p *models.Platform) error {
	telemetry.SyncRunning.Inc()
	defer telemetry.SyncRunning.Dec()
	start := time.Now()
	defer func() { telemetry.SyncDuration.Observe(time.Since(start).Seconds()) }()

	// Журнал и статусы пишем даже после отмены ctx.
	bg := context.WithoutCancel(ctx)

	run, err := o.Runs.Begin(bg, p.ID)
	if err != nil {
		return fmt.Errorf("sync %s: begin run: %w", p.Name, err)
	}

	cred, err := o.Creds.GetByPlatform(ctx, p.ID)
	if err != nil {
		return o.fail(bg, run, p, fmt.Errorf("credential: %w", err), "")
	}

	ep := o.Dial(p, cred)
	if err := ep.Connect(ctx); err != nil {
		// Ошибка сессии помечает платформу unreachable; ошибка vault —
		// проблема нашей стороны, статус платформы не трогаем.
		status := models.PlatformStatusUnreachable
		if errors.Is(err, vault.ErrKeyUnavailable) || errors.Is(err, vault.ErrCorrupt) {
			status = ""
		}
		return o.fail(bg, run, p, err, status)
	}
	defer ep.Disconnect()

	about := ep.About()
	counts := make(map[models.Kind]models.Counts, len(models.KindOrder))
	totals := make(map[models.Kind]int, len(models.KindOrder))
	var problems, warnings []string

	for _, kind := range models.KindOrder {
		// отмена проверяется на границе видов; начатый вид дорабатывает
		if ctx.Err() != nil {
			problems = append(problems, fmt.Sprintf("%s: cancelled before start", kind))
			continue
		}
		items, err := ep.Fetch(ctx, kind)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: fetch: %v", kind, err))
			continue
		}
		c, warns, err := o.Reconciler.ReconcileKind(bg, p.ID, kind, items)
		warnings = append(warnings, warns...)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", kind, err))
			continue
		}
		counts[kind] = c
		totals[kind] = len(items)
	}

	outcome := models.RunOutcomeSuccess
	status := models.PlatformStatusConnected
	if len(problems) > 0 {
		outcome = models.RunOutcomePartial
		status = models.PlatformStatusDegraded
	}
	detail := strings.Join(append(problems, warnings...), "; ")

	countsJSON, _ := json.Marshal(counts)
	if err := o.Runs.Finish(bg, run, outcome, countsJSON, detail); err != nil {
		logs.L().Errorf("sync %s: finish run: %v", p.Name, err)
	}

	res := repo.SyncResult{
		Status:    status,
		LastError: firstOf(problems),
		Version:   about.Version,
		Build:     about.Build,
	}
	if outcome == models.RunOutcomeSuccess {
		res.Totals = totals
	}
	if err := o.Platforms.RecordSyncResult(bg, p.ID, res); err != nil {
		logs.L().Errorf("sync %s: record result: %v", p.Name, err)
	}

	telemetry.SyncRunsTotal.WithLabelValues(outcome).Inc()
	logs.L().Infof("sync %s: outcome=%s kinds_failed=%d duration=%s",
		p.Name, outcome, len(problems), time.Since(start).Round(time.Millisecond))
	return nil
}

// fail закрывает прогон как failed, не тронув ни одного вида инвентаря.
func (o *Orchestrator) fail(ctx context.Context, run *models.SyncRun, p *models.Platform, cause error, status string) error {
	if err := o.Runs.Finish(ctx, run, models.RunOutcomeFailed, nil, cause.Error()); err != nil {
		logs.L().Errorf("sync %s: finish run: %v", p.Name, err)
	}
	res := repo.SyncResult{Status: p.Status, LastError: cause.Error()}
	if status != "" {
		res.Status = status
	}
	if err := o.Platforms.RecordSyncResult(ctx, p.ID, res); err != nil {
		logs.L().Errorf("sync %s: record result: %v", p.Name, err)
	}
	telemetry.SyncRunsTotal.WithLabelValues(models.RunOutcomeFailed).Inc()
	return fmt.Errorf("sync %s: %w", p.Name, cause)
}

func firstOf(problems []string) string {
	if len(problems) == 0 {
		return ""
	}
	return problems[0]
}
