package middleware

import (
	"github.com/labstack/echo/v4"
)

const userIDKey = "uid"

// UserID returns the authenticated caller's id, or "" outside the
// authenticated group.
func UserID(c echo.Context) string {
	uid, _ := c.Get(userIDKey).(string)
	return uid
}

// SetUserID marks the request as made by uid.
func SetUserID(c echo.Context, uid string) {
	c.Set(userIDKey, uid)
}
