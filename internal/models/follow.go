package models

// FollowStatus reports whether the caller follows a user.
type FollowStatus struct {
	UID         string `json:"uid"`
	IsFollowing bool   `json:"is_following"`
}
