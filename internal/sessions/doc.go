// Package sessions manages Instagram sessionid credentials: the
// {"sessions": [...]} credentials file, Netscape cookies.txt exports and
// cookies read straight from local browser profiles.
package sessions
