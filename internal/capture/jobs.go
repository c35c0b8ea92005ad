package capture

import (
	"context"
	"errors"

	"github.com/dvloznov/finance-capture/internal/extraction"
	"github.com/dvloznov/finance-capture/internal/jobs"
	"github.com/dvloznov/finance-capture/internal/logger"
	"github.com/dvloznov/finance-capture/internal/schema"
)

// JobHandler runs a capture for every job a queue delivers. Failures that
// another attempt cannot fix are marked permanent so the queue does not
// spend its retry budget on them.
func (s *Service) JobHandler() jobs.JobHandler {
	return func(ctx context.Context, job *jobs.ExtractJob) error {
		log := logger.ForJob(s.logger, job.JobID, string(job.Modality))
		log.Debug().Int("retry_count", job.RetryCount).Msg("Capturing job input")

		res, err := s.Capture(ctx, Request{
			Modality:    job.Modality,
			Input:       job.Input,
			Language:    job.Language,
			HouseholdID: job.HouseholdID,
			UserID:      job.UserID,
			JobID:       job.JobID,
		})
		if err != nil {
			if isPermanent(err) {
				log.Warn().Err(err).Msg("Job input cannot be captured")
				return jobs.Permanent(err)
			}
			return err
		}

		job.TransactionID = res.Transaction.ID
		return nil
	}
}

func isPermanent(err error) bool {
	var malformed *extraction.MalformedResponseError
	var invalid *schema.ValidationError
	switch {
	case errors.Is(err, extraction.ErrInvalidInput),
		errors.Is(err, extraction.ErrMissingCredential),
		errors.Is(err, extraction.ErrEmptyTranscription),
		errors.As(err, &malformed),
		errors.As(err, &invalid):
		return true
	}
	return false
}
