package dto

import "time"

type HealthResponse struct {
	Status       string  `json:"status"`
	ActiveTunnel *string `json:"active_tunnel"`
}

type TunnelInfo struct {
	Name            string    `json:"name"`
	PublicIP        string    `json:"public_ip"`
	ClientIP        string    `json:"client_ip"`
	ServerPublicKey string    `json:"server_public_key"`
	ListenPort      int       `json:"listen_port"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type TunnelsResponse struct {
	Tunnels []TunnelInfo `json:"tunnels"`
	Count   int          `json:"count"`
}

// StatusResponse matches the status notification payload.
type StatusResponse struct {
	Name     *string `json:"name"`
	IsActive bool    `json:"is_active"`
}

type QuickConnectResponse struct {
	ConfigName string `json:"config_name"`
	Success    bool   `json:"success"`
}
