package controller

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"virthub/internal/logs"
	"virthub/internal/models"
	"virthub/internal/repo"
	"virthub/internal/vsphere"
)

// Reconciler сводит свежевыбранный инвентарь с сохранённым состоянием
// платформы. Ключ сверки — remote_id, он стабилен между синками.
type Reconciler struct {
	Inventory *repo.InventoryStore
}

func NewReconciler(inv *repo.InventoryStore) *Reconciler {
	return &Reconciler{Inventory: inv}
}

// ReconcileKind применяет diff одного вида одной транзакцией:
//   - remote_id есть в базе  → update payload + last_seen_at
//     (local_fields и first_seen_at не трогаем);
//   - remote_id новый        → create (first_seen = last_seen = now);
//   - в выборке отсутствует  → soft delete (история сохраняется).
//
// Дубликат remote_id в выборке — дефект удалённого API: побеждает
// последний по порядку выборки, прогон не прерывается, но
// предупреждение попадает в журнал прогона.
func (r *Reconciler) ReconcileKind(ctx context.Context, platformID uint, kind models.Kind, fetched []vsphere.Item) (models.Counts, []string, error) {
	var counts models.Counts

	existing, err := r.Inventory.ListActive(ctx, platformID, kind)
	if err != nil {
		return counts, nil, fmt.Errorf("reconcile %s: list: %w", kind, err)
	}
	byRemote := make(map[string]*models.InventoryRecord, len(existing))
	for i := range existing {
		byRemote[existing[i].RemoteID] = &existing[i]
	}

	items, warnings := dedupe(kind, fetched)
	now := time.Now().UTC()

	ch := repo.InventoryChanges{PlatformID: platformID, Kind: kind}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		seen[it.RemoteID] = struct{}{}
		if rec, ok := byRemote[it.RemoteID]; ok {
			ch.Updates = append(ch.Updates, repo.InventoryUpdate{
				ID:         rec.ID,
				Payload:    datatypes.JSON(it.Payload),
				LastSeenAt: now,
			})
			counts.Updated++
			continue
		}
		ch.Creates = append(ch.Creates, models.InventoryRecord{
			PlatformID:  platformID,
			Kind:        kind,
			RemoteID:    it.RemoteID,
			Payload:     datatypes.JSON(it.Payload),
			FirstSeenAt: now,
			LastSeenAt:  now,
		})
		counts.Created++
	}
	for remoteID, rec := range byRemote {
		if _, ok := seen[remoteID]; !ok {
			ch.DeleteIDs = append(ch.DeleteIDs, rec.ID)
			counts.Deleted++
		}
	}

	if err := r.Inventory.ApplyReconcile(ctx, ch); err != nil {
		return models.Counts{}, warnings, fmt.Errorf("reconcile %s: apply: %w", kind, err)
	}
	logs.L().Debugf("reconcile %s: platform=%d created=%d updated=%d deleted=%d",
		kind, platformID, counts.Created, counts.Updated, counts.Deleted)
	return counts, warnings, nil
}

// dedupe схлопывает дубликаты remote_id, сохраняя порядок выборки;
// при совпадении ключа побеждает последняя запись.
func dedupe(kind models.Kind, fetched []vsphere.Item) ([]vsphere.Item, []string) {
	var warnings []string
	idx := make(map[string]int, len(fetched))
	out := fetched[:0:0]
	for _, it := range fetched {
		if pos, ok := idx[it.RemoteID]; ok {
			out[pos] = it
			warnings = append(warnings, fmt.Sprintf("duplicate remote id %q for kind %s", it.RemoteID, kind))
			continue
		}
		idx[it.RemoteID] = len(out)
		out = append(out, it)
	}
	return out, warnings
}
