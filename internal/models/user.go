package models

import (
	"github.com/golang-jwt/jwt/v4"
)

// User is the profile record stored at users/<uid>. The counters are
// denormalized and maintained transactionally.
type User struct {
	UID            string `json:"uid"`
	Username       string `json:"username"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	PostCount      int64  `json:"post_count"`
}

// Compact returns the snapshot embedded in posts.
func (u *User) Compact() UserCompact {
	return UserCompact{UID: u.UID, Username: u.Username}
}

// UserCompact is the author snapshot copied into each post.
type UserCompact struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=2,max=30,username"`
}

// FirebaseLoginRequest carries an ID token issued by Firebase Authentication.
type FirebaseLoginRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

// JwtCustomClaims are custom claims extending standard jwt.RegisteredClaims.
// The subject holds the user id.
type JwtCustomClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
