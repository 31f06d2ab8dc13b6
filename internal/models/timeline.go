package models

// TimelineEntry is the pointer stored at timeline/<owner>/<key>.
type TimelineEntry struct {
	PosterUID string `json:"poster_uid"`
}
