package vsphere

import (
	"context"
	"time"

	"virthub/internal/models"
	"virthub/internal/vault"
)

// Client — сессия плюс фетчер как единая точка для потребителей
// (оркестратор и коллектор объявляют свои интерфейсы под него).
type Client struct {
	*Session
	f *Fetcher
}

func NewClient(p *models.Platform, c *models.Credential, vlt *vault.Vault, opts Options) *Client {
	s := NewSession(p, c, vlt, opts)
	return &Client{Session: s, f: NewFetcher(s)}
}

func (c *Client) FetchHosts(ctx context.Context) ([]Item, error)      { return c.f.Hosts(ctx) }
func (c *Client) FetchVMs(ctx context.Context) ([]Item, error)        { return c.f.VMs(ctx) }
func (c *Client) FetchDatastores(ctx context.Context) ([]Item, error) { return c.f.Datastores(ctx) }
func (c *Client) FetchNetworks(ctx context.Context) ([]Item, error)   { return c.f.Networks(ctx) }

func (c *Client) QueryMetrics(ctx context.Context, kind models.Kind, remoteID string, from, to time.Time) ([]Series, error) {
	return c.f.Metrics(ctx, kind, remoteID, from, to)
}

// Fetch выбирает операцию чтения по виду инвентаря.
func (c *Client) Fetch(ctx context.Context, kind models.Kind) ([]Item, error) {
	switch kind {
	case models.KindHost:
		return c.FetchHosts(ctx)
	case models.KindVM:
		return c.FetchVMs(ctx)
	case models.KindDatastore:
		return c.FetchDatastores(ctx)
	default:
		return c.FetchNetworks(ctx)
	}
}
