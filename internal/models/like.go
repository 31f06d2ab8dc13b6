package models

// SetLikeRequest defines the request body for liking or unliking a post
type SetLikeRequest struct {
	Liked *bool `json:"liked" validate:"required"`
}

// LikeStatus is the caller's like state on a post.
type LikeStatus struct {
	PostRef
	Liked     bool  `json:"liked"`
	LikeCount int64 `json:"like_count"`
	// Changed is false when the post was already in the requested state.
	Changed bool `json:"changed"`
}
