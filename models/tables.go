package models

import (
	"regexp"
	"strings"
	"time"
)

// User roles, from least to most privileged.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
	RoleSuperuser = "superuser"
)

var usernameRe = regexp.MustCompile(`^[\w.@+-]+$`)

type User struct {
	ID               int       `gorm:"primary_key;autoIncrement" json:"-"`
	Username         string    `gorm:"size:150;not null;unique;index:uq_users_username_email,unique" json:"username"`
	Email            string    `gorm:"size:254;not null;unique;index:uq_users_username_email,unique" json:"email"`
	FirstName        string    `gorm:"size:150" json:"first_name"`
	LastName         string    `gorm:"size:150" json:"last_name"`
	Bio              string    `gorm:"type:text" json:"bio"`
	Role             string    `gorm:"size:20;not null;default:user" json:"role"`
	ConfirmationCode string    `gorm:"size:150" json:"-"` // bcrypt hash, empty until issued
	IsActive         bool      `gorm:"default:true" json:"-"`
	IsAdmin          bool      `gorm:"default:false" json:"-"` // staff flag, kept separate from Role
	CreatedAt        time.Time `json:"-"`
	UpdatedAt        time.Time `json:"-"`
}

func (u *User) IsModerator() bool     { return u.Role == RoleModerator }
func (u *User) IsAdministrator() bool { return u.Role == RoleAdmin }
func (u *User) IsSuperuser() bool     { return u.Role == RoleSuperuser }

// IsStaff reports the stored staff capability. Policies decide on Role only.
func (u *User) IsStaff() bool { return u.IsAdmin }

// ValidUsername checks the allowed character set (letters, digits, . @ + -).
func ValidUsername(username string) bool {
	return usernameRe.MatchString(username)
}

// ReservedUsername reports whether the name collides with the /users/me route.
func ReservedUsername(username string) bool {
	return strings.EqualFold(username, "me")
}

func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleModerator, RoleAdmin, RoleSuperuser:
		return true
	}
	return false
}

type Category struct {
	ID   int    `gorm:"primary_key;autoIncrement" json:"-"`
	Name string `gorm:"size:256;not null" json:"name"`
	Slug string `gorm:"size:50;not null;unique" json:"slug"`
}

type Genre struct {
	ID   int    `gorm:"primary_key;autoIncrement" json:"-"`
	Name string `gorm:"size:256;not null" json:"name"`
	Slug string `gorm:"size:50;not null;unique" json:"slug"`
}

type Title struct {
	ID          int    `gorm:"primary_key;autoIncrement" json:"id"`
	Name        string `gorm:"size:256;not null;index" json:"name"`
	Year        int    `gorm:"not null;index" json:"year"`
	Description string `gorm:"type:text" json:"description"`
	CategoryID  *int   `gorm:"index" json:"-"` // nulled when the category is deleted
}

// TitleGenre links titles to genres. Rows are owned by the title.
type TitleGenre struct {
	ID      int `gorm:"primary_key;autoIncrement"`
	TitleID int `gorm:"not null;index"`
	GenreID int `gorm:"not null;index"`
}

type Review struct {
	ID       int       `gorm:"primary_key;autoIncrement" json:"id"`
	TitleID  int       `gorm:"not null;index;index:uq_reviews_title_author,unique" json:"-"`
	AuthorID int       `gorm:"not null;index;index:uq_reviews_title_author,unique" json:"-"`
	Text     string    `gorm:"type:text;not null" json:"text"`
	Score    int       `gorm:"not null;check:score >= 1 AND score <= 10" json:"score"`
	PubDate  time.Time `gorm:"autoCreateTime" json:"pub_date"`
}

type Comment struct {
	ID       int       `gorm:"primary_key;autoIncrement" json:"id"`
	ReviewID int       `gorm:"not null;index" json:"-"`
	AuthorID int       `gorm:"not null;index" json:"-"`
	Text     string    `gorm:"type:text;not null" json:"text"`
	PubDate  time.Time `gorm:"autoCreateTime" json:"pub_date"`
}
