package joblogs

import (
	"context"

	"github.com/panoven/panoven/pkg/models"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

const maxDataValueLen = 1024

// JobLogger writes log lines to both stdout and the job_logs table so a user
// can inspect a backup job after the fact.
type JobLogger struct {
	backupJobID int
	service     *Service
	log         logger.Logger
	ctx         context.Context
}

// NewJobLogger creates a JobLogger scoped to one backup job.
func (svc *Service) NewJobLogger(ctx context.Context, backupJobID int, log logger.Logger) *JobLogger {
	return &JobLogger{
		backupJobID: backupJobID,
		service:     svc,
		log:         log.Data(logger.Data{"backup_job_id": backupJobID}),
		ctx:         ctx,
	}
}

func (l *JobLogger) Info(msg string, data logger.Data) {
	l.log.Info(msg, data)
	l.persist(models.JobLogLevelInfo, msg, data)
}

func (l *JobLogger) Warn(msg string, data logger.Data) {
	l.log.Warn(msg, data)
	l.persist(models.JobLogLevelWarn, msg, data)
}

func (l *JobLogger) Error(msg string, err error, data logger.Data) {
	l.log.Err(err).Error(msg, data)
	if err != nil {
		if data == nil {
			data = logger.Data{}
		}
		data["error"] = err.Error()
	}
	l.persist(models.JobLogLevelError, msg, data)
}

func (l *JobLogger) persist(level, msg string, data logger.Data) {
	var dataStr *string
	if len(data) > 0 {
		truncated := make(logger.Data)
		for k, v := range data {
			s, ok := v.(string)
			if ok && len(s) > maxDataValueLen {
				truncated[k] = truncateMiddle(s, maxDataValueLen)
			} else {
				truncated[k] = v
			}
		}
		jsonBytes, err := json.Marshal(truncated)
		if err == nil {
			s := string(jsonBytes)
			dataStr = &s
		}
	}

	err := l.service.CreateJobLog(l.ctx, &models.JobLog{
		BackupJobID: l.backupJobID,
		Level:       level,
		Message:     msg,
		Data:        dataStr,
	})
	if err != nil {
		// A failure to persist must never take the job down with it.
		l.log.Err(err).Warn("failed to persist job log")
	}
}

func truncateMiddle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	half := (max - 3) / 2
	return s[:half] + "..." + s[len(s)-half:]
}
