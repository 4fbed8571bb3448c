package vsphere

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virthub/internal/models"
)

func connectedFetcher(t *testing.T, next http.Handler) *Fetcher {
	t.Helper()
	s, _ := newTestEndpoint(t, loginMux("administrator@vsphere.local", "pa55", next),
		models.AuthKindPassword, "pa55", Options{RequestsPerSecond: 1000})
	require.NoError(t, s.Connect(context.Background()))
	return NewFetcher(s)
}

func pageResponse(w http.ResponseWriter, items any, more bool) {
	_ = json.NewEncoder(w).Encode(map[string]any{"value": items, "more": more})
}

func TestFetchHostsPaged(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/vcenter/host" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.URL.Query().Get("page") {
		case "1":
			pageResponse(w, []map[string]any{
				{"host": "host-10", "name": "esx01", "connection_state": "CONNECTED", "power_state": "POWERED_ON", "cpu_count": 32, "memory_size_mib": 262144},
			}, true)
		case "2":
			pageResponse(w, []map[string]any{
				{"host": "host-11", "name": "esx02", "connection_state": "NOT_RESPONDING", "power_state": "STANDBY"},
				{"host": "", "name": "ghost"}, // без remote id — отбрасывается
			}, false)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	items, err := connectedFetcher(t, h).Hosts(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "host-10", items[0].RemoteID)
	assert.Equal(t, "host-11", items[1].RemoteID)

	var p models.HostPayload
	require.NoError(t, json.Unmarshal(items[0].Payload, &p))
	assert.Equal(t, "esx01", p.Name)
	assert.Equal(t, "connected", p.ConnectionState)
	assert.Equal(t, "poweredOn", p.PowerState)
	assert.Equal(t, 32, p.CPUCores)

	require.NoError(t, json.Unmarshal(items[1].Payload, &p))
	assert.Equal(t, "notResponding", p.ConnectionState)
	assert.Equal(t, "standBy", p.PowerState)
}

func TestFetchPartialPageFailure(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			pageResponse(w, []map[string]any{{"vm": "vm-1", "name": "a"}}, true)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})

	items, err := connectedFetcher(t, h).VMs(context.Background())
	assert.ErrorIs(t, err, ErrPartialPage)
	// частичный результат не возвращается вовсе
	assert.Nil(t, items)
}

func TestFetchFirstPageFailureIsNotPartial(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := connectedFetcher(t, h).VMs(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPartialPage)
}

func TestFetchVMsAndNetworks(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/vcenter/vm":
			pageResponse(w, []map[string]any{
				{"vm": "vm-42", "name": "db01", "power_state": "POWERED_OFF", "host": "host-10", "memory_size_mib": 8192, "template": true},
			}, false)
		case "/rest/vcenter/network":
			pageResponse(w, []map[string]any{
				{"network": "network-7", "name": "dvs-prod", "type": "DISTRIBUTED_PORTGROUP"},
			}, false)
		case "/rest/vcenter/datastore":
			pageResponse(w, []map[string]any{
				{"datastore": "datastore-3", "name": "ssd-01", "type": "VMFS", "capacity": 1 << 40, "free_space": 1 << 38, "inaccessible": true},
			}, false)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	f := connectedFetcher(t, h)

	vms, err := f.VMs(context.Background())
	require.NoError(t, err)
	require.Len(t, vms, 1)
	var vp models.VMPayload
	require.NoError(t, json.Unmarshal(vms[0].Payload, &vp))
	assert.Equal(t, "poweredOff", vp.PowerState)
	assert.Equal(t, "host-10", vp.HostRef)
	assert.True(t, vp.Template)

	nets, err := f.Networks(context.Background())
	require.NoError(t, err)
	require.Len(t, nets, 1)
	var np models.NetworkPayload
	require.NoError(t, json.Unmarshal(nets[0].Payload, &np))
	assert.Equal(t, "distributed", np.Type)

	dss, err := f.Datastores(context.Background())
	require.NoError(t, err)
	require.Len(t, dss, 1)
	var dp models.DatastorePayload
	require.NoError(t, json.Unmarshal(dss[0].Payload, &dp))
	assert.Equal(t, "vmfs", dp.Type)
	assert.False(t, dp.Accessible)
	assert.Equal(t, int64(1<<40), dp.CapacityB)
}

func TestFetchMetrics(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/vcenter/metrics" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		assert.Equal(t, "vm-42", q.Get("entity"))
		assert.Equal(t, "vm", q.Get("kind"))
		_, err := time.Parse(time.RFC3339, q.Get("start"))
		assert.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []Series{{
			Metric: models.MetricCPU,
			Unit:   "percent",
			Points: []Point{{TS: now, Value: 41.5}},
		}}})
	})
	f := connectedFetcher(t, h)

	series, err := f.Metrics(context.Background(), models.KindVM, "vm-42", now.Add(-5*time.Minute), now)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, models.MetricCPU, series[0].Metric)
	require.Len(t, series[0].Points, 1)
	assert.InDelta(t, 41.5, series[0].Points[0].Value, 1e-9)
}

func TestNormEnums(t *testing.T) {
	cases := []struct{ in, want string }{
		{"POWERED_ON", "poweredOn"},
		{"poweredOff", "poweredOff"},
		{"SUSPENDED", "suspended"},
		{"BOGUS", "unknown"},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("power %s", c.in), func(t *testing.T) {
			assert.Equal(t, c.want, normPowerState(c.in))
		})
	}
	assert.Equal(t, "other", normNetworkType("weird"))
	assert.Equal(t, "unknown", normConnectionState(""))
}
