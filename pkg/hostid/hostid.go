// Package hostid identifies the machine that produced an audit record.
package hostid

import (
	"os"
	"sync"

	"github.com/denisbrodbeck/machineid"
)

const appID = "trading-authority"

var (
	once sync.Once
	id   string
)

// ID returns an app-scoped, HMAC-protected machine identifier, falling back to the
// hostname when the platform exposes no machine id. The result is cached.
func ID() string {
	once.Do(func() {
		id = resolve(machineid.ProtectedID, os.Hostname)
	})
	return id
}

func resolve(protected func(string) (string, error), hostname func() (string, error)) string {
	if v, err := protected(appID); err == nil && v != "" {
		// The full HMAC is 64 hex chars; 16 are plenty to tell hosts apart.
		if len(v) > 16 {
			v = v[:16]
		}
		return v
	}
	if h, err := hostname(); err == nil && h != "" {
		return h
	}
	return "unknown"
}
