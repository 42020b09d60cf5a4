// internal/database/store.go
package database

import (
	"context"
	"sort"
)

// Store is the host repository. It holds the authoritative host definitions;
// derived status is never persisted.
type Store interface {
	ListHosts(ctx context.Context, filters HostFilters) ([]Host, error)
	GetHost(ctx context.Context, id string) (*Host, error)
	AddHost(ctx context.Context, host *Host) error
	UpdateHost(ctx context.Context, host *Host) error
	DeleteHost(ctx context.Context, id string) error

	Stats(ctx context.Context) (*Stats, error)

	// Close the database connection
	Close() error
}

func statsFor(hosts []Host) *Stats {
	stats := &Stats{TotalHosts: len(hosts)}
	for _, h := range hosts {
		stats.TotalMethods += len(h.Methods)
		stats.EnabledMethods += len(h.EnabledMethods())
	}
	return stats
}

// sortHosts orders by creation time so listings are stable across restarts.
func sortHosts(hosts []Host) {
	sort.SliceStable(hosts, func(i, j int) bool {
		if !hosts[i].CreatedAt.Equal(hosts[j].CreatedAt) {
			return hosts[i].CreatedAt.Before(hosts[j].CreatedAt)
		}
		return hosts[i].ID < hosts[j].ID
	})
}
