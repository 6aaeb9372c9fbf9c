package model

import "time"

// Site はテナントとして配信される1つのサイトを表す。
type Site struct {
	ID           string
	UserID       string
	Name         string
	Subdomain    string
	CustomDomain *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Post はサイトに属する記事を表す。
type Post struct {
	ID        string
	SiteID    string
	UserID    string
	Title     string
	Slug      string
	Published bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
