// Package paths maps logical entities to key-paths in the store.
//
// Every location the service reads or writes is built here. Callers never
// join path strings themselves, so a typo in a collection name cannot reach
// the database.
package paths

import (
	"fmt"
	"strings"
	"unicode"
)

// Kind identifies which constructor produced a Path.
type Kind int

const (
	KindRoot Kind = iota
	KindUser
	KindUserCounter
	KindUsername
	KindUsernames
	KindUsers
	KindPostsOf
	KindPost
	KindLikeCount
	KindFollowersOf
	KindFollower
	KindFollowingOf
	KindFollowing
	KindTimelineOf
	KindTimelineEntry
	KindLikesOf
	KindLike
)

var kindNames = map[Kind]string{
	KindRoot:          "root",
	KindUser:          "user",
	KindUserCounter:   "user_counter",
	KindUsername:      "username",
	KindUsernames:     "usernames",
	KindUsers:         "users",
	KindPostsOf:       "posts_of",
	KindPost:          "post",
	KindLikeCount:     "like_count",
	KindFollowersOf:   "followers_of",
	KindFollower:      "follower",
	KindFollowingOf:   "following_of",
	KindFollowing:     "following",
	KindTimelineOf:    "timeline_of",
	KindTimelineEntry: "timeline_entry",
	KindLikesOf:       "likes_of",
	KindLike:          "like",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Top-level collections.
const (
	usersCollection     = "users"
	usernamesCollection = "usernames"
	postsCollection     = "posts"
	followersCollection = "followers"
	followingCollection = "following"
	timelineCollection  = "timeline"
	likesCollection     = "postLikes"

	likeCountField = "like_count"
)

// Counter names a denormalized counter stored on a user record.
type Counter string

const (
	FollowerCount  Counter = "follower_count"
	FollowingCount Counter = "following_count"
	PostCount      Counter = "post_count"
)

// Counters lists every user counter.
var Counters = []Counter{FollowerCount, FollowingCount, PostCount}

func (c Counter) valid() bool {
	switch c {
	case FollowerCount, FollowingCount, PostCount:
		return true
	}
	return false
}

// Path is a slash-delimited location in the store. The zero value is the
// root. Paths are comparable and can key maps.
type Path struct {
	kind Kind
	s    string
}

// String returns the slash-delimited form without a leading slash. The root
// renders as the empty string.
func (p Path) String() string {
	return p.s
}

// Kind reports which constructor built p.
func (p Path) Kind() Kind {
	return p.kind
}

// Key returns the last segment of p, or "" for the root.
func (p Path) Key() string {
	return p.s[strings.LastIndexByte(p.s, '/')+1:]
}

// IsRoot reports whether p addresses the whole tree.
func (p Path) IsRoot() bool {
	return p.s == ""
}

// Contains reports whether q is p itself or lies below p.
func (p Path) Contains(q Path) bool {
	if p.s == "" || p.s == q.s {
		return true
	}
	return strings.HasPrefix(q.s, p.s+"/")
}

// Overlaps reports whether one of p and q is an ancestor of the other.
func (p Path) Overlaps(q Path) bool {
	return p.Contains(q) || q.Contains(p)
}

const maxKeyBytes = 768

// CheckKey validates one path segment: non-empty, at most 768 bytes, free of
// the characters the realtime database reserves and of control characters.
func CheckKey(s string) error {
	if s == "" {
		return fmt.Errorf("key must not be empty")
	}
	if len(s) > maxKeyBytes {
		return fmt.Errorf("key %.16q... exceeds %d bytes", s, maxKeyBytes)
	}
	for _, r := range s {
		switch r {
		case '/', '.', '#', '$', '[', ']':
			return fmt.Errorf("key %q contains reserved character %q", s, r)
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("key %q contains a control character", s)
		}
	}
	return nil
}

// CheckID validates a user identifier supplied by the identity provider.
func CheckID(uid string) error {
	if err := CheckKey(uid); err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	return nil
}

func build(kind Kind, segs ...string) Path {
	for _, s := range segs {
		if err := CheckKey(s); err != nil {
			panic(fmt.Sprintf("paths: %s: %v", kind, err))
		}
	}
	return Path{kind: kind, s: strings.Join(segs, "/")}
}

// Root addresses the whole tree; multi-location updates are applied here.
func Root() Path { return Path{kind: KindRoot} }

// Users is the collection of user records.
func Users() Path { return build(KindUsers, usersCollection) }

// User is the profile record of uid.
func User(uid string) Path { return build(KindUser, usersCollection, uid) }

// UserCounter is one denormalized counter on uid's record.
func UserCounter(uid string, c Counter) Path {
	if !c.valid() {
		panic(fmt.Sprintf("paths: unknown counter %q", string(c)))
	}
	return build(KindUserCounter, usersCollection, uid, string(c))
}

// Usernames is the username claim index.
func Usernames() Path { return build(KindUsernames, usernamesCollection) }

// Username is the claim record for a username; names are folded to lower case.
func Username(name string) Path {
	return build(KindUsername, usernamesCollection, strings.ToLower(name))
}

// PostsOf is the collection of posts authored by uid.
func PostsOf(uid string) Path { return build(KindPostsOf, postsCollection, uid) }

// Post is one post record.
func Post(uid, key string) Path { return build(KindPost, postsCollection, uid, key) }

// LikeCountOf is the like counter stored on a post.
func LikeCountOf(uid, key string) Path {
	return build(KindLikeCount, postsCollection, uid, key, likeCountField)
}

// FollowersOf indexes the users following uid.
func FollowersOf(uid string) Path { return build(KindFollowersOf, followersCollection, uid) }

// Follower is the marker that follower follows uid.
func Follower(uid, follower string) Path {
	return build(KindFollower, followersCollection, uid, follower)
}

// FollowingOf indexes the users uid follows.
func FollowingOf(uid string) Path { return build(KindFollowingOf, followingCollection, uid) }

// Following is the marker that uid follows followee.
func Following(uid, followee string) Path {
	return build(KindFollowing, followingCollection, uid, followee)
}

// TimelineOf is the materialized feed of uid.
func TimelineOf(uid string) Path { return build(KindTimelineOf, timelineCollection, uid) }

// TimelineEntry is the pointer to post key in uid's feed.
func TimelineEntry(uid, key string) Path {
	return build(KindTimelineEntry, timelineCollection, uid, key)
}

// LikesOf is the like membership set of a post.
func LikesOf(key string) Path { return build(KindLikesOf, likesCollection, key) }

// Like is the marker that liker likes the post.
func Like(key, liker string) Path { return build(KindLike, likesCollection, key, liker) }
