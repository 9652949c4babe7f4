package models

import "time"

// DataSource identifies which backend reads and writes currently target.
type DataSource string

const (
	DataSourceRemote DataSource = "remote"
	DataSourceLocal  DataSource = "local"
)

// ConnStatus is the result of the most recent connectivity probe.
type ConnStatus string

const (
	ConnStatusUnknown  ConnStatus = "unknown"
	ConnStatusChecking ConnStatus = "checking"
	ConnStatusOnline   ConnStatus = "online"
	ConnStatusOffline  ConnStatus = "offline"
)

// ConnectionState is the snapshot consumers render and repositories consult.
// Only the data source manager mutates it.
type ConnectionState struct {
	Status      ConnStatus `json:"status"`
	DataSource  DataSource `json:"dataSource"`
	LastChecked *time.Time `json:"lastChecked,omitempty"`
	ServerURL   string     `json:"serverUrl"`
	Error       string     `json:"error,omitempty"`
}

// ManualOverride pins the data source regardless of connectivity results.
// It survives restarts via the settings table.
type ManualOverride struct {
	Enabled         bool       `json:"enabled"`
	PreferredSource DataSource `json:"preferredSource,omitempty"`
}
