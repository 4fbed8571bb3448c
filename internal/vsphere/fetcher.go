package vsphere

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"virthub/internal/models"
)

// ErrPartialPage — сбой страницы после успешных предыдущих. Частичный
// результат отбрасывается целиком, чтобы не собрать неконсистентный срез.
var ErrPartialPage = errors.New("fetch: partial page failure")

// Item — нормализованная инвентарная запись с удалённым идентификатором.
type Item struct {
	RemoteID string
	Payload  json.RawMessage
}

// Fetcher читает инвентарь через Connected-сессию. Каждый вызов заново
// проходит все страницы; результат конечный и не перезапускаемый.
type Fetcher struct {
	s *Session
}

func NewFetcher(s *Session) *Fetcher { return &Fetcher{s: s} }

// wire-структуры: декодируем только известные поля,
// всё прочее от платформы отбрасывается на этой границе.

type hostSummary struct {
	Host            string `json:"host"`
	Name            string `json:"name"`
	ConnectionState string `json:"connection_state"`
	PowerState      string `json:"power_state"`
	InMaintenance   bool   `json:"in_maintenance"`
	Cluster         string `json:"cluster"`
	Datacenter      string `json:"datacenter"`
	Vendor          string `json:"vendor"`
	Model           string `json:"model"`
	Version         string `json:"version"`
	CPUCores        int    `json:"cpu_count"`
	MemoryMiB       int64  `json:"memory_size_mib"`
}

type vmSummary struct {
	VM         string `json:"vm"`
	Name       string `json:"name"`
	PowerState string `json:"power_state"`
	GuestOS    string `json:"guest_os"`
	Host       string `json:"host"`
	IPAddress  string `json:"ip_address"`
	CPUCount   int    `json:"cpu_count"`
	MemoryMiB  int64  `json:"memory_size_mib"`
	Template   bool   `json:"template"`
}

type datastoreSummary struct {
	Datastore string `json:"datastore"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Capacity  int64  `json:"capacity"`
	FreeSpace int64  `json:"free_space"`
	Inaccess  bool   `json:"inaccessible"`
}

type networkSummary struct {
	Network string `json:"network"`
	Name    string `json:"name"`
	Type    string `json:"type"`
}

// Hosts возвращает нормализованные ESXi-хосты платформы.
func (f *Fetcher) Hosts(ctx context.Context) ([]Item, error) {
	var items []Item
	err := f.drain(ctx, "/rest/vcenter/host", func(raw json.RawMessage) error {
		var page []hostSummary
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		for _, h := range page {
			if h.Host == "" {
				continue
			}
			items = append(items, mustItem(h.Host, models.HostPayload{
				Name:            h.Name,
				ConnectionState: normConnectionState(h.ConnectionState),
				PowerState:      normPowerState(h.PowerState),
				InMaintenance:   h.InMaintenance,
				Cluster:         h.Cluster,
				Datacenter:      h.Datacenter,
				Vendor:          h.Vendor,
				Model:           h.Model,
				Version:         h.Version,
				CPUCores:        h.CPUCores,
				MemoryMB:        h.MemoryMiB,
			}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// VMs возвращает виртуальные машины; шаблоны не отбрасываются,
// а помечаются в payload.
func (f *Fetcher) VMs(ctx context.Context) ([]Item, error) {
	var items []Item
	err := f.drain(ctx, "/rest/vcenter/vm", func(raw json.RawMessage) error {
		var page []vmSummary
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		for _, v := range page {
			if v.VM == "" {
				continue
			}
			items = append(items, mustItem(v.VM, models.VMPayload{
				Name:       v.Name,
				PowerState: normPowerState(v.PowerState),
				GuestOS:    v.GuestOS,
				HostRef:    v.Host,
				IPAddress:  v.IPAddress,
				CPUCount:   v.CPUCount,
				MemoryMB:   v.MemoryMiB,
				Template:   v.Template,
			}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Datastores возвращает хранилища данных.
func (f *Fetcher) Datastores(ctx context.Context) ([]Item, error) {
	var items []Item
	err := f.drain(ctx, "/rest/vcenter/datastore", func(raw json.RawMessage) error {
		var page []datastoreSummary
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		for _, d := range page {
			if d.Datastore == "" {
				continue
			}
			items = append(items, mustItem(d.Datastore, models.DatastorePayload{
				Name:       d.Name,
				Type:       strings.ToLower(d.Type),
				CapacityB:  d.Capacity,
				FreeB:      d.FreeSpace,
				Accessible: !d.Inaccess,
			}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Networks возвращает сети (стандартные и распределённые).
func (f *Fetcher) Networks(ctx context.Context) ([]Item, error) {
	var items []Item
	err := f.drain(ctx, "/rest/vcenter/network", func(raw json.RawMessage) error {
		var page []networkSummary
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		for _, n := range page {
			if n.Network == "" {
				continue
			}
			items = append(items, mustItem(n.Network, models.NetworkPayload{
				Name: n.Name,
				Type: normNetworkType(n.Type),
			}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Point — одна точка счётчика.
type Point struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// Series — значения одного счётчика по одной сущности за окно.
type Series struct {
	Metric string  `json:"metric"`
	Unit   string  `json:"unit"`
	Points []Point `json:"points"`
}

// Metrics запрашивает счётчики сущности за окно [from, to].
func (f *Fetcher) Metrics(ctx context.Context, kind models.Kind, remoteID string, from, to time.Time) ([]Series, error) {
	q := url.Values{}
	q.Set("entity", remoteID)
	q.Set("kind", string(kind))
	q.Set("start", from.UTC().Format(time.RFC3339))
	q.Set("end", to.UTC().Format(time.RFC3339))

	var resp struct {
		Value []Series `json:"value"`
	}
	if err := f.s.Execute(ctx, http.MethodGet, "/rest/vcenter/metrics", q, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// drain выгребает все страницы ответа до конца. Ошибка на странице > 1 —
// это ErrPartialPage: накопленное выбрасывается вызывающим.
func (f *Fetcher) drain(ctx context.Context, path string, decode func(json.RawMessage) error) error {
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))

		var resp struct {
			Value json.RawMessage `json:"value"`
			More  bool            `json:"more"`
		}
		if err := f.s.Execute(ctx, http.MethodGet, path, q, &resp); err != nil {
			if page > 1 {
				return fmt.Errorf("%w: %s page %d: %v", ErrPartialPage, path, page, err)
			}
			return err
		}
		if err := decode(resp.Value); err != nil {
			if page > 1 {
				return fmt.Errorf("%w: %s page %d: %v", ErrPartialPage, path, page, err)
			}
			return fmt.Errorf("fetch: %s: %w", path, err)
		}
		if !resp.More {
			return nil
		}
	}
}

func mustItem(remoteID string, payload any) Item {
	b, err := json.Marshal(payload)
	if err != nil {
		// payload-структуры всегда сериализуемы
		panic(err)
	}
	return Item{RemoteID: remoteID, Payload: b}
}

// Нормализация удалённых enum'ов в закрытый внутренний набор.

func normPowerState(s string) string {
	switch strings.ToUpper(s) {
	case "POWERED_ON", "POWEREDON":
		return "poweredOn"
	case "POWERED_OFF", "POWEREDOFF":
		return "poweredOff"
	case "SUSPENDED":
		return "suspended"
	case "STANDBY", "STAND_BY":
		return "standBy"
	default:
		return "unknown"
	}
}

func normConnectionState(s string) string {
	switch strings.ToUpper(s) {
	case "CONNECTED":
		return "connected"
	case "DISCONNECTED":
		return "disconnected"
	case "NOT_RESPONDING":
		return "notResponding"
	default:
		return "unknown"
	}
}

func normNetworkType(s string) string {
	switch strings.ToUpper(s) {
	case "STANDARD_PORTGROUP":
		return "standard"
	case "DISTRIBUTED_PORTGROUP":
		return "distributed"
	case "OPAQUE_NETWORK":
		return "opaque"
	default:
		return "other"
	}
}
