package services

import (
	"sync"
	"time"

	"autonova-rmm/backend/app/ledger"
	"autonova-rmm/backend/app/models"
	"autonova-rmm/backend/app/repo"
	"autonova-rmm/backend/global"
)

// CommandLogService mirrors the in-memory ledger into the database. Writes
// are queued to a worker goroutine: the dispatcher and relay call in from
// hot paths (the relay even holds a per-command lock) and must never wait
// on the database. Best effort; the ledger stays authoritative while a
// command is live.
type CommandLogService struct {
	repo *repo.CommandRepository

	queue    chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCommandLogService(r *repo.CommandRepository) *CommandLogService {
	s := &CommandLogService{
		repo:   r,
		queue:  make(chan func(), 1024),
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *CommandLogService) worker() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.queue:
			job()
		case <-s.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case job := <-s.queue:
					job()
				default:
					return
				}
			}
		}
	}
}

func (s *CommandLogService) enqueue(job func()) {
	select {
	case s.queue <- job:
	default:
		global.Logger.Warn().Msg("command log queue full, write dropped")
	}
}

// Stop drains pending writes and stops the worker.
func (s *CommandLogService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// CommandQueued persists the initial record for a submission.
func (s *CommandLogService) CommandQueued(cmd ledger.Command) {
	rec := models.CommandRecord{
		CommandID: cmd.ID,
		DeviceID:  cmd.DeviceID,
		Type:      cmd.Type,
		Params:    string(cmd.Params),
		Status:    string(cmd.Status),
	}
	s.enqueue(func() {
		if err := s.repo.Create(&rec); err != nil {
			global.Logger.Warn().Err(err).Str("command", rec.CommandID).Msg("persist command failed")
		}
	})
}

func (s *CommandLogService) CommandDispatched(id string) {
	s.enqueue(func() {
		if err := s.repo.UpdateStatus(id, string(ledger.StatusDispatched)); err != nil {
			global.Logger.Warn().Err(err).Str("command", id).Msg("persist dispatch failed")
		}
	})
}

// CommandEvent persists one progress line and the running transition.
func (s *CommandLogService) CommandEvent(cmd ledger.Command, ev ledger.ProgressEvent) {
	rec := models.CommandEventRecord{
		CommandID: cmd.ID,
		Seq:       ev.Seq,
		Level:     ev.Level,
		Message:   ev.Message,
		At:        ev.At,
	}
	status := string(cmd.Status)
	s.enqueue(func() {
		if err := s.repo.AppendEvent(&rec); err != nil {
			global.Logger.Warn().Err(err).Str("command", rec.CommandID).Msg("persist event failed")
			return
		}
		if rec.Seq == 1 {
			_ = s.repo.UpdateStatus(rec.CommandID, status)
		}
	})
}

// CommandFinished persists the terminal state.
func (s *CommandLogService) CommandFinished(cmd ledger.Command) {
	completed := cmd.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	id, status, result, errMsg := cmd.ID, string(cmd.Status), string(cmd.Result), cmd.Error
	s.enqueue(func() {
		if err := s.repo.Finalize(id, status, result, errMsg, completed); err != nil {
			global.Logger.Warn().Err(err).Str("command", id).Msg("persist result failed")
		}
	})
}

// History returns the persisted command log for a device with its events,
// oldest command first.
func (s *CommandLogService) History(deviceID string, limit int) ([]models.CommandRecord, map[string][]models.CommandEventRecord, error) {
	cmds, err := s.repo.ListByDevice(deviceID, limit)
	if err != nil {
		return nil, nil, err
	}
	events := make(map[string][]models.CommandEventRecord, len(cmds))
	for _, c := range cmds {
		evs, err := s.repo.EventsByCommand(c.CommandID)
		if err != nil {
			return nil, nil, err
		}
		events[c.CommandID] = evs
	}
	return cmds, events, nil
}
