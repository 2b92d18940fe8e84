// Package store holds the key-value backends a consent record can live in.
//
// Every backend speaks raw bytes: decoding and validating the record is the
// manager's job. A missing or expired value is reported as sentinel.ErrNotFound,
// and an unreachable backend as sentinel.ErrUnavailable.
package store

// DefaultKey is the fixed identifier the consent record is persisted under.
const DefaultKey = "jbweb_cookie_consent"

// Key namespaces the record key for server-side backends that hold many clients.
func Key(clientID string) string {
	if clientID == "" {
		return DefaultKey
	}
	return DefaultKey + ":" + clientID
}
