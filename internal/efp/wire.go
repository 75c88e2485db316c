package efp

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexInt accepts 12, "12" and null. The API serializes counters as strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*f = flexInt(n)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	i, err := n.Int64()
	if err != nil {
		fl, ferr := n.Float64()
		if ferr != nil {
			return err
		}
		i = int64(fl)
	}
	*f = flexInt(i)
	return nil
}

// flexString accepts "7", 7 and null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(b))
	return nil
}

type ensRecord struct {
	Name    string            `json:"name"`
	Avatar  string            `json:"avatar"`
	Records map[string]string `json:"records"`
}

// fields flattens the record into the snapshot's ENS map. Only the profile
// fields are kept so unrelated record churn is not reported.
func (r ensRecord) fields() map[string]string {
	out := map[string]string{}
	if v := strings.TrimSpace(r.Name); v != "" {
		out["name"] = v
	}
	if v := strings.TrimSpace(r.Avatar); v != "" {
		out["avatar"] = v
	}
	if v := strings.TrimSpace(r.Records["description"]); v != "" {
		out["description"] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type detailsResponse struct {
	Address     string             `json:"address"`
	PrimaryList flexString         `json:"primary_list"`
	ENS         ensRecord          `json:"ens"`
	Ranks       map[string]flexInt `json:"ranks"`
}

type statsResponse struct {
	FollowersCount flexInt `json:"followers_count"`
	FollowingCount flexInt `json:"following_count"`
	// Older deployments use the short names.
	Followers flexInt `json:"followers"`
	Following flexInt `json:"following"`
}

func (s statsResponse) counts() (followers, following int) {
	followers, following = int(s.FollowersCount), int(s.FollowingCount)
	if followers == 0 {
		followers = int(s.Followers)
	}
	if following == 0 {
		following = int(s.Following)
	}
	return followers, following
}

// listItem is either a bare list id or {"id": ..., "name": ...}.
type listItem struct {
	ID   string
	Name string
}

func (l *listItem) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			ID     flexString `json:"id"`
			ListID flexString `json:"list_id"`
			Name   string     `json:"name"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		l.ID = string(obj.ID)
		if l.ID == "" {
			l.ID = string(obj.ListID)
		}
		l.Name = obj.Name
		return nil
	}
	var id flexString
	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}
	l.ID = string(id)
	return nil
}

type listsResponse struct {
	PrimaryList flexString `json:"primary_list"`
	Lists       []listItem `json:"lists"`
}

type followRecord struct {
	Data    string   `json:"data"`
	Address string   `json:"address"`
	Tags    []string `json:"tags"`
}

func (r followRecord) target() string {
	if r.Data != "" {
		return r.Data
	}
	return r.Address
}

func (r followRecord) hasTag(tag string) bool {
	for _, t := range r.Tags {
		if strings.EqualFold(strings.TrimSpace(t), tag) {
			return true
		}
	}
	return false
}

type followingPage struct {
	Following []followRecord `json:"following"`
}

type ensResponse struct {
	ENS ensRecord `json:"ens"`
}

type leaderboardRow struct {
	Address        string  `json:"address"`
	Name           string  `json:"name"`
	FollowersCount flexInt `json:"followers_count"`
	Followers      flexInt `json:"followers"`
}

// decodeLeaderboard accepts a bare array or {"results": [...]}.
func decodeLeaderboard(b []byte) ([]leaderboardRow, error) {
	b = bytes.TrimSpace(b)
	var rows []leaderboardRow
	if len(b) > 0 && b[0] == '[' {
		err := json.Unmarshal(b, &rows)
		return rows, err
	}
	var wrapped struct {
		Results []leaderboardRow `json:"results"`
	}
	err := json.Unmarshal(b, &wrapped)
	return wrapped.Results, err
}
