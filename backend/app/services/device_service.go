package services

import (
	"autonova-rmm/backend/app/models"
	"autonova-rmm/backend/app/repo"
)

type DeviceService struct{ devices *repo.DeviceRepository }

func NewDeviceService(devices *repo.DeviceRepository) *DeviceService {
	return &DeviceService{devices: devices}
}

func (s *DeviceService) UpsertDevice(d *models.Device) error { return s.devices.Upsert(d) }

func (s *DeviceService) FindByDeviceID(deviceID string) (*models.Device, error) {
	return s.devices.FindByDeviceID(deviceID)
}

func (s *DeviceService) TouchLastSeen(deviceID string) error {
	return s.devices.TouchLastSeen(deviceID)
}

func (s *DeviceService) ListAll() ([]models.Device, error) {
	return s.devices.ListAll()
}
