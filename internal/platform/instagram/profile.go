package instagram

import (
	"encoding/json"
	"errors"

	"igmonitor/internal/domain"
)

var ErrNoData = errors.New("profile document without data")

type countEdge struct {
	Count int64 `json:"count"`
}

type profileDoc struct {
	Data *struct {
		User *struct {
			Username       string    `json:"username"`
			FullName       string    `json:"full_name"`
			Biography      string    `json:"biography"`
			IsVerified     bool      `json:"is_verified"`
			ProfilePicURL  string    `json:"profile_pic_url"`
			ProfilePicHD   string    `json:"profile_pic_url_hd"`
			EdgeFollowedBy countEdge `json:"edge_followed_by"`
			EdgeFollow     countEdge `json:"edge_follow"`
			EdgeMedia      countEdge `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
}

// ParseProfile decodes a web_profile_info document. A document whose
// data.user is null yields (nil, nil); one without data is ErrNoData.
func ParseProfile(body []byte) (*domain.Profile, error) {
	var doc profileDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if doc.Data == nil {
		return nil, ErrNoData
	}
	if doc.Data.User == nil {
		return nil, nil
	}
	u := doc.Data.User
	pic := u.ProfilePicHD
	if pic == "" {
		pic = u.ProfilePicURL
	}
	return &domain.Profile{
		Username:      u.Username,
		FullName:      u.FullName,
		Biography:     u.Biography,
		Followers:     u.EdgeFollowedBy.Count,
		Following:     u.EdgeFollow.Count,
		Posts:         u.EdgeMedia.Count,
		IsVerified:    u.IsVerified,
		ProfilePicURL: pic,
	}, nil
}
