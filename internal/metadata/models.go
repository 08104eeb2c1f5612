package metadata

import "time"

// Tunnel is the non-secret half of a provisioned endpoint. The client private
// key lives in the secret store under the same PublicIP.
type Tunnel struct {
	Name            string    `json:"name"`
	PublicIP        string    `json:"public_ip"`
	ClientIP        string    `json:"client_ip"`
	ServerPublicKey string    `json:"server_public_key"`
	ListenPort      int       `json:"listen_port"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
