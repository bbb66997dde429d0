package services

import (
	"autonova-rmm/backend/app/models"
	"autonova-rmm/backend/app/repo"
)

type AgentLogService struct{ repo *repo.AgentLogRepository }

func NewAgentLogService(r *repo.AgentLogRepository) *AgentLogService {
	return &AgentLogService{repo: r}
}

func (s *AgentLogService) Create(deviceID, lines string) error {
	l := models.AgentLog{DeviceID: deviceID, Lines: lines}
	return s.repo.Create(&l)
}

func (s *AgentLogService) Latest(deviceID string, limit int) ([]models.AgentLog, error) {
	return s.repo.LatestByDevice(deviceID, limit)
}
