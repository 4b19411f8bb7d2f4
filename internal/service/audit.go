package service

import (
	"context"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/calibration-cert-api/internal/models"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

const auditResourceCertificate = "certificate"

// emitAudit persists an audit entry. Failures are logged and never surface to the caller.
func emitAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, source string, log *models.AuditLog, details map[string]interface{}) {
	if audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = source
	if len(details) > 0 {
		payload, err := json.Marshal(details)
		if err == nil {
			log.Context = payload
		}
	}
	if err := audit.CreateAuditLog(context.WithoutCancel(ctx), log); err != nil {
		logger.Warn("failed to persist audit log",
			zap.String("action", log.Action),
			zap.String("outcome", log.Outcome),
			zap.Error(err),
		)
	}
}

func certificateAudit(action, outcome, actorID string, certificateID int64) *models.AuditLog {
	resourceID := strconv.FormatInt(certificateID, 10)
	log := &models.AuditLog{
		Action:     action,
		Resource:   auditResourceCertificate,
		ResourceID: &resourceID,
		Outcome:    outcome,
	}
	if actorID != "" {
		log.UserID = &actorID
	}
	return log
}
