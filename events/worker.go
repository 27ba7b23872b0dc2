package events

import "time"

// WorkerEventType names a lifecycle notification of the offline worker.
type WorkerEventType string

const (
	Installed        WorkerEventType = "installed"
	AssetCacheFailed WorkerEventType = "asset-cache-failed"
	Activated        WorkerEventType = "activated"
	CacheDeleted     WorkerEventType = "cache-deleted"
	ClientsClaimed   WorkerEventType = "clients-claimed"
)

// WorkerEvent is broadcast by the offline worker to the pages it controls.
type WorkerEvent struct {
	Type  WorkerEventType `json:"type"`
	Cache string          `json:"cache"`
	// URL is set for AssetCacheFailed.
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
	// Cached counts manifest entries stored during install.
	Cached int `json:"cached,omitempty"`
	// Clients lists the claimed client ids for ClientsClaimed.
	Clients []string  `json:"clients,omitempty"`
	Time    time.Time `json:"time"`
	// Origin identifies the process that emitted the event.
	Origin string `json:"origin,omitempty"`
}
