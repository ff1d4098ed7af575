package domain

import "time"

// Connection holds the settings used to dial a server.
type Connection struct {
	Address string        `json:"address"`
	Timeout time.Duration `json:"timeout,omitempty"`

	TLS TLSSettings `json:"tls"`
}

// TLSSettings holds transport security settings. A zero value dials in
// plaintext.
type TLSSettings struct {
	Enabled        bool   `json:"enabled"`
	SkipVerify     bool   `json:"skip_verify,omitempty"` // insecure
	CAFile         string `json:"ca_file,omitempty"`
	ClientCertFile string `json:"client_cert_file,omitempty"` // mTLS
	ClientKeyFile  string `json:"client_key_file,omitempty"`
	ServerName     string `json:"server_name,omitempty"`
}
