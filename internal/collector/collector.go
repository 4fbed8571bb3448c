package collector

import (
	"context"
	"fmt"
	"time"

	"virthub/internal/logs"
	"virthub/internal/models"
	"virthub/internal/repo"
	"virthub/internal/telemetry"
	"virthub/internal/vsphere"
)

// Endpoint — то, что коллектору нужно от платформы. Сессия короткоживущая
// и своя: с инвентарным синком той же платформы она не делится.
type Endpoint interface {
	Connect(ctx context.Context) error
	Disconnect()
	QueryMetrics(ctx context.Context, kind models.Kind, remoteID string, from, to time.Time) ([]vsphere.Series, error)
}

// Dialer создаёт подключение под конкретную платформу.
type Dialer func(*models.Platform, *models.Credential) Endpoint

// Options — окно первого сбора, горизонт хранения и размер пачки очистки.
type Options struct {
	Window     time.Duration // fallback-окно, если сборов ещё не было
	Retention  time.Duration
	EvictBatch int
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = 5 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 90 * 24 * time.Hour
	}
	return o
}

// Collector опрашивает счётчики активных хостов и ВМ на собственном,
// более частом чем инвентарный синк, цикле.
type Collector struct {
	Platforms *repo.PlatformStore
	Creds     *repo.CredentialStore
	Inventory *repo.InventoryStore
	Metrics   *repo.MetricStore
	Dial      Dialer
	Opts      Options
}

func New(platforms *repo.PlatformStore, creds *repo.CredentialStore, inv *repo.InventoryStore, metrics *repo.MetricStore, dial Dialer, opts Options) *Collector {
	return &Collector{
		Platforms: platforms,
		Creds:     creds,
		Inventory: inv,
		Metrics:   metrics,
		Dial:      dial,
		Opts:      opts.withDefaults(),
	}
}

// CollectPlatform собирает счётчики всех активных хостов и ВМ платформы.
// Окно — от последнего удачного сбора сущности (или Window назад); повторный
// сбор того же окна идемпотентен за счёт insert-if-absent в хранилище.
func (c *Collector) CollectPlatform(ctx context.Context, p *models.Platform) (int64, error) {
	cred, err := c.Creds.GetByPlatform(ctx, p.ID)
	if err != nil {
		return 0, fmt.Errorf("collect %s: credential: %w", p.Name, err)
	}
	ep := c.Dial(p, cred)
	if err := ep.Connect(ctx); err != nil {
		return 0, fmt.Errorf("collect %s: %w", p.Name, err)
	}
	defer ep.Disconnect()

	now := time.Now().UTC()
	var inserted int64
	var failed int

	for _, kind := range []models.Kind{models.KindHost, models.KindVM} {
		recs, err := c.Inventory.ListActive(ctx, p.ID, kind)
		if err != nil {
			return inserted, fmt.Errorf("collect %s: list %s: %w", p.Name, kind, err)
		}
		for i := range recs {
			n, err := c.collectEntity(ctx, ep, p.ID, kind, recs[i].RemoteID, now)
			if err != nil {
				logs.L().Warnf("collect %s: %s/%s: %v", p.Name, kind, recs[i].RemoteID, err)
				failed++
				continue
			}
			inserted += n
		}
	}
	if inserted > 0 {
		telemetry.SamplesInserted.Add(float64(inserted))
	}
	if failed > 0 {
		return inserted, fmt.Errorf("collect %s: %d entities failed", p.Name, failed)
	}
	return inserted, nil
}

func (c *Collector) collectEntity(ctx context.Context, ep Endpoint, platformID uint, kind models.Kind, remoteID string, now time.Time) (int64, error) {
	from := now.Add(-c.Opts.Window)
	if last, err := c.Metrics.LastCollectedAt(ctx, platformID, kind, remoteID); err != nil {
		return 0, err
	} else if last != nil {
		from = *last
	}

	series, err := ep.QueryMetrics(ctx, kind, remoteID, from, now)
	if err != nil {
		return 0, err
	}
	var samples []models.MetricSample
	for _, s := range series {
		for _, pt := range s.Points {
			samples = append(samples, models.MetricSample{
				PlatformID:     platformID,
				EntityKind:     kind,
				EntityRemoteID: remoteID,
				Metric:         s.Metric,
				CollectedAt:    pt.TS.UTC(),
				Value:          pt.Value,
				Unit:           s.Unit,
			})
		}
	}
	return c.Metrics.Insert(ctx, samples)
}

// CollectAll обходит все платформы кроме suspended; сбой одной платформы
// не мешает остальным.
func (c *Collector) CollectAll(ctx context.Context) {
	platforms, err := c.Platforms.ListSyncable(ctx)
	if err != nil {
		logs.L().Errorf("collect: list platforms: %v", err)
		return
	}
	for i := range platforms {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.CollectPlatform(ctx, &platforms[i]); err != nil {
			logs.L().Warnf("%v", err)
		}
	}
}

// Evict удаляет сэмплы за горизонтом хранения. Фоновая низкоприоритетная
// чистка, пачками — чтобы не держать хранилище под блокировкой.
func (c *Collector) Evict(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-c.Opts.Retention)
	n, err := c.Metrics.EvictOlderThan(ctx, cutoff, c.Opts.EvictBatch)
	if n > 0 {
		telemetry.SamplesEvicted.Add(float64(n))
		logs.L().Infof("collector: evicted %d samples older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, err
}
