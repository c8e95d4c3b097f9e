// Package jobs holds the paid community jobs residents apply to.
package jobs

import (
	"context"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
)

var (
	// errors
	ErrAlreadyApplied = core.NewValidationError(errors.New("Déjà postulé."))
	ErrJobNotOpen     = core.NewValidationError(errors.New("Cette offre n'est plus disponible."))
	ErrJobFull        = core.NewValidationError(errors.New("Toutes les places sont prises."))
)

type Service struct {
	rows      collection.RowStore
	validator *core.Validator
}

func NewService(rows collection.RowStore, v *core.Validator) *Service {
	return &Service{rows: rows, validator: v}
}

func (svc *Service) GetJob(ctx context.Context, id string) (Job, error) {
	recs, err := svc.rows.Query(ctx, collection.Query{Collection: JobsCollection}.Where(collection.FieldID, id))
	if err != nil {
		return Job{}, errors.Wrap(err, "getting job")
	}
	if len(recs) == 0 {
		return Job{}, collection.ErrNotFound
	}
	return JobFromRecord(recs[0])
}

func (svc *Service) CreateJob(ctx context.Context, nj NewJob) (Job, error) {
	if err := nj.Validate(svc.validator); err != nil {
		return Job{}, err
	}
	rec, err := Job{
		CommunityID: nj.CommunityID,
		Title:       nj.Title,
		Date:        nj.Date,
		Pay:         nj.Pay,
		Spots:       nj.Spots,
		Status:      StatusOpen,
		ImageBefore: nj.ImageBefore,
	}.Record()
	if err != nil {
		return Job{}, err
	}
	saved, err := svc.rows.Insert(ctx, JobsCollection, rec)
	if err != nil {
		return Job{}, errors.Wrap(err, "inserting job")
	}
	return JobFromRecord(saved)
}

func (svc *Service) UpdateStatus(ctx context.Context, id string, su StatusUpdate) (Job, error) {
	if err := svc.validator.Struct(su); err != nil {
		return Job{}, err
	}
	patch := collection.Record{"status": su.Status}
	if su.ImageAfter != "" {
		patch["image_after"] = su.ImageAfter
	}
	rec, err := svc.rows.Update(ctx, JobsCollection, id, patch)
	if err != nil {
		return Job{}, errors.Wrap(err, "updating job status")
	}
	return JobFromRecord(rec)
}

// Apply registers userID as a candidate for a job, then recounts the filled spots.
func (svc *Service) Apply(ctx context.Context, jobID, userID string) error {
	job, err := svc.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusOpen {
		return ErrJobNotOpen
	}

	rec, err := collection.Encode(Application{JobID: jobID, UserID: userID})
	if err != nil {
		return err
	}
	if _, err = svc.rows.Insert(ctx, ApplicationsCollection, rec); err != nil {
		if errors.Cause(err) == collection.ErrConflict {
			return ErrAlreadyApplied
		}
		return errors.Wrap(err, "inserting application")
	}

	apps, err := svc.rows.Query(ctx, collection.Query{Collection: ApplicationsCollection}.Where("job_id", jobID))
	if err != nil {
		return errors.Wrap(err, "counting applications")
	}
	_, err = svc.rows.Update(ctx, JobsCollection, jobID, collection.Record{spotsFilledField: len(apps)})
	return errors.Wrap(err, "updating filled spots")
}

// Applications returns the ids of the jobs userID applied to.
func (svc *Service) Applications(ctx context.Context, userID string) ([]string, error) {
	recs, err := svc.rows.Query(ctx, collection.Query{Collection: ApplicationsCollection}.Where("user_id", userID))
	if err != nil {
		return nil, errors.Wrap(err, "querying applications")
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.Text("job_id"))
	}
	return ids, nil
}
