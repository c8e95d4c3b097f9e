package jobs

import (
	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
)

// Job statuses
const (
	StatusOpen       = "OPEN"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusPaid       = "PAID"
)

const (
	JobsCollection         = "jobs"
	ApplicationsCollection = "job_applications"

	spotsFilledField = "spots_filled"
)

type Job struct {
	ID          string `json:"id,omitempty"`
	CommunityID string `json:"community_id"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Pay         int    `json:"pay"`
	Spots       int    `json:"spots"`
	SpotsFilled int    `json:"spots_filled"`
	Status      string `json:"status"`
	ImageBefore string `json:"image_before,omitempty"`
	ImageAfter  string `json:"image_after,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func JobFromRecord(rec collection.Record) (Job, error) {
	var j Job
	err := collection.Decode(rec, &j)
	return j, err
}

func (j Job) Record() (collection.Record, error) { return collection.Encode(j) }

// SpotsLeft is never negative.
func (j Job) SpotsLeft() int {
	if left := j.Spots - j.SpotsFilled; left > 0 {
		return left
	}
	return 0
}

type Application struct {
	ID     string `json:"id,omitempty"`
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
}

type NewJob struct {
	CommunityID string `json:"community_id" validate:"required"`
	Title       string `json:"title" validate:"required,max=200"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Pay         int    `json:"pay" validate:"gte=0"`
	Spots       int    `json:"spots" validate:"gte=1"`
	ImageBefore string `json:"image_before" validate:"omitempty,url"`
}

func (nj *NewJob) Validate(v *core.Validator) error {
	nj.Title = core.CleanString(nj.Title)
	nj.CommunityID = core.CleanString(nj.CommunityID)
	return v.Struct(nj)
}

// StatusUpdate moves a job through its lifecycle.
type StatusUpdate struct {
	Status     string `json:"status" validate:"required,oneof=OPEN IN_PROGRESS COMPLETED PAID"`
	ImageAfter string `json:"image_after" validate:"omitempty,url"`
}
