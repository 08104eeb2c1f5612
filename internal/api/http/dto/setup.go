package dto

type SetupRequest struct {
	ServerIP string `json:"server_ip" binding:"required"`
	KeyFile  string `json:"key_file" binding:"required"`
	User     string `json:"user"`
	Name     string `json:"name"`
	Port     int    `json:"port" binding:"omitempty,min=1,max=65535"`
}

type SetupResponse struct {
	WorkflowID string     `json:"workflow_id"`
	Tunnel     TunnelInfo `json:"tunnel"`
	Hardened   bool       `json:"hardened"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
