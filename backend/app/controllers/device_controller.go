package controllers

import (
	"net/http"

	"autonova-rmm/backend/app/dto"
	"autonova-rmm/backend/app/services"
	"autonova-rmm/backend/app/session"
)

type DeviceController struct {
	Registry *session.Registry
	Devices  *services.DeviceService
}

func NewDeviceController(reg *session.Registry, devices *services.DeviceService) *DeviceController {
	return &DeviceController{Registry: reg, Devices: devices}
}

// List merges live session state with the durable device records. Devices
// known to the database but without a session show as offline.
func (c *DeviceController) List(w http.ResponseWriter, r *http.Request) {
	live := make(map[string]session.Info)
	for _, info := range c.Registry.List() {
		live[info.DeviceID] = info
	}

	out := make([]dto.DeviceInfo, 0, len(live))
	seen := make(map[string]bool)

	if c.Devices != nil {
		records, err := c.Devices.ListAll()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list devices failed")
			return
		}
		for _, d := range records {
			info := dto.DeviceInfo{
				DeviceID:  d.DeviceID,
				Status:    string(session.StatusOffline),
				Hostname:  d.Hostname,
				Username:  d.Username,
				OSName:    d.OSName,
				OSVersion: d.OSVersion,
				Arch:      d.Arch,
			}
			if d.LastSeenAt != nil {
				info.LastHeartbeat = d.LastSeenAt.Unix()
			}
			if s, ok := live[d.DeviceID]; ok {
				applySession(&info, s)
			}
			out = append(out, info)
			seen[d.DeviceID] = true
		}
	}
	// Sessions without a device record yet (login raced the upsert).
	for id, s := range live {
		if seen[id] {
			continue
		}
		info := dto.DeviceInfo{DeviceID: id}
		applySession(&info, s)
		out = append(out, info)
	}

	writeJSON(w, http.StatusOK, dto.DeviceListResponse{Devices: out, Count: len(out)})
}

// Detail returns one device or 404.
func (c *DeviceController) Detail(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("deviceid")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing deviceid")
		return
	}

	info := dto.DeviceInfo{DeviceID: id, Status: string(session.StatusOffline)}
	found := false

	if c.Devices != nil {
		if d, err := c.Devices.FindByDeviceID(id); err == nil {
			found = true
			info.Hostname = d.Hostname
			info.Username = d.Username
			info.OSName = d.OSName
			info.OSVersion = d.OSVersion
			info.Arch = d.Arch
			if d.LastSeenAt != nil {
				info.LastHeartbeat = d.LastSeenAt.Unix()
			}
		}
	}
	if s, ok := c.Registry.Get(id); ok {
		found = true
		applySession(&info, s.Info())
	}
	if !found {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func applySession(info *dto.DeviceInfo, s session.Info) {
	info.Status = string(s.Status)
	info.ConnectedAt = s.ConnectedAt.Unix()
	info.LastHeartbeat = s.LastHeartbeat.Unix()
}
