// Package tracker defines the domain types, ports and error taxonomy shared by
// the extraction, refresh, storage and push subsystems. It must not import any
// concrete driver or client.
package tracker
