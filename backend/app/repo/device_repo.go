package repo

import (
	"time"

	"autonova-rmm/backend/app/models"

	"gorm.io/gorm"
)

type DeviceRepository struct{ db *gorm.DB }

func NewDeviceRepository(db *gorm.DB) *DeviceRepository { return &DeviceRepository{db: db} }

func (r *DeviceRepository) FindByDeviceID(deviceID string) (*models.Device, error) {
	var d models.Device
	if err := r.db.Where("device_id = ?", deviceID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// Upsert saves the device record, creating it on first login.
func (r *DeviceRepository) Upsert(d *models.Device) error {
	var existing models.Device
	if err := r.db.Where("device_id = ?", d.DeviceID).First(&existing).Error; err == nil {
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
		return r.db.Save(d).Error
	}
	return r.db.Create(d).Error
}

func (r *DeviceRepository) TouchLastSeen(deviceID string) error {
	now := time.Now()
	return r.db.Model(&models.Device{}).Where("device_id = ?", deviceID).Update("last_seen_at", &now).Error
}

func (r *DeviceRepository) ListAll() ([]models.Device, error) {
	var ds []models.Device
	if err := r.db.Order("device_id ASC").Find(&ds).Error; err != nil {
		return nil, err
	}
	return ds, nil
}
