package dto

// DeviceInfo merges live session state with the durable device record.
type DeviceInfo struct {
	DeviceID      string `json:"device_id"`
	Status        string `json:"status"`
	Hostname      string `json:"hostname,omitempty"`
	Username      string `json:"username,omitempty"`
	OSName        string `json:"os_name,omitempty"`
	OSVersion     string `json:"os_version,omitempty"`
	Arch          string `json:"arch,omitempty"`
	ConnectedAt   int64  `json:"connected_at,omitempty"`
	LastHeartbeat int64  `json:"last_heartbeat,omitempty"`
}

type DeviceListResponse struct {
	Devices []DeviceInfo `json:"devices"`
	Count   int          `json:"count"`
}
