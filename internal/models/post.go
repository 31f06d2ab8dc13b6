package models

// Post is the record stored at posts/<author>/<key>. Key is not part of the
// stored object; it is the location's last segment.
type Post struct {
	Key         string      `json:"key"`
	ImageURL    string      `json:"image_url"`
	ImageHeight float64     `json:"image_height"`
	CreatedAt   int64       `json:"created_at"`
	LikeCount   int64       `json:"like_count"`
	Poster      UserCompact `json:"poster"`
}

// Ref locates the post.
func (p *Post) Ref() PostRef {
	return PostRef{Author: p.Poster.UID, Key: p.Key}
}

// PostRef locates a post: its author and its key.
type PostRef struct {
	Author string `json:"author"`
	Key    string `json:"key"`
}

// FeedItem is a timeline post as seen by a viewer.
type FeedItem struct {
	Post
	IsLiked bool `json:"is_liked"`
}

// CreatePostRequest defines the request body for creating a new post
type CreatePostRequest struct {
	ImageURL    string  `json:"image_url" validate:"required,url"`
	ImageHeight float64 `json:"image_height" validate:"required,gt=0"`
}
