package domain

// Profile is the subset of the platform profile document used for
// classification and for the recovery notification.
type Profile struct {
	Username      string
	FullName      string
	Biography     string
	Followers     int64
	Following     int64
	Posts         int64
	IsVerified    bool
	ProfilePicURL string
}
