package repo

import (
	"time"

	"autonova-rmm/backend/app/models"

	"gorm.io/gorm"
)

type CommandRepository struct{ db *gorm.DB }

func NewCommandRepository(db *gorm.DB) *CommandRepository { return &CommandRepository{db: db} }

func (r *CommandRepository) Create(c *models.CommandRecord) error { return r.db.Create(c).Error }

func (r *CommandRepository) FindByCommandID(commandID string) (*models.CommandRecord, error) {
	var c models.CommandRecord
	if err := r.db.Where("command_id = ?", commandID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CommandRepository) UpdateStatus(commandID, status string) error {
	return r.db.Model(&models.CommandRecord{}).
		Where("command_id = ?", commandID).
		Update("status", status).Error
}

// Finalize writes the terminal state of a command.
func (r *CommandRepository) Finalize(commandID, status, result, lastError string, completedAt time.Time) error {
	return r.db.Model(&models.CommandRecord{}).
		Where("command_id = ?", commandID).
		Updates(map[string]any{
			"status":       status,
			"result":       result,
			"last_error":   lastError,
			"completed_at": &completedAt,
		}).Error
}

// ListByDevice returns the device's command history, oldest first.
func (r *CommandRepository) ListByDevice(deviceID string, limit int) ([]models.CommandRecord, error) {
	q := r.db.Where("device_id = ?", deviceID).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var cmds []models.CommandRecord
	if err := q.Find(&cmds).Error; err != nil {
		return nil, err
	}
	return cmds, nil
}

func (r *CommandRepository) AppendEvent(ev *models.CommandEventRecord) error {
	return r.db.Create(ev).Error
}

func (r *CommandRepository) EventsByCommand(commandID string) ([]models.CommandEventRecord, error) {
	var evs []models.CommandEventRecord
	if err := r.db.Where("command_id = ?", commandID).Order("seq ASC").Find(&evs).Error; err != nil {
		return nil, err
	}
	return evs, nil
}
