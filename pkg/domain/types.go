package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser                      Role = "user"
	RoleSIO                       Role = "sio"
	RoleOrganizationAdministrator Role = "organization-administrator"
)

// Namespace separates a user's personal content from content shared with the whole case.
type Namespace string

const (
	Personal Namespace = "personal"
	Shared   Namespace = "shared"
)

type Organization struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type User struct {
	ID             string       `json:"id"`
	JobTitle       string       `json:"jobTitle"`
	DisplayName    string       `json:"displayName"`
	GivenName      string       `json:"givenName"`
	LastName       string       `json:"lastName"`
	EmailAddress   string       `json:"emailAddress"`
	ProfilePicture string       `json:"profilePicture"`
	Organization   Organization `json:"organization"`
	Roles          []string     `json:"roles"`
}

type AddUser struct {
	ID             string   `json:"id"`
	JobTitle       string   `json:"jobTitle"`
	GivenName      string   `json:"givenName"`
	LastName       string   `json:"lastName"`
	DisplayName    string   `json:"displayName"`
	EmailAddress   string   `json:"emailAddress"`
	ProfilePicture string   `json:"profilePicture"`
	Roles          []string `json:"roles"`
}

type UpdateUser struct {
	JobTitle       *string  `json:"jobTitle,omitempty"`
	GivenName      *string  `json:"givenName,omitempty"`
	LastName       *string  `json:"lastName,omitempty"`
	DisplayName    *string  `json:"displayName,omitempty"`
	EmailAddress   *string  `json:"emailAddress,omitempty"`
	ProfilePicture *string  `json:"profilePicture,omitempty"`
	Roles          []string `json:"roles,omitempty"`
}

// OrganizationSettings is the organization wide storage and search configuration.
type OrganizationSettings struct {
	S3Endpoint          string `json:"s3Endpoint,omitempty"`
	S3BucketName        string `json:"s3BucketName,omitempty"`
	S3NetworkEncryption bool   `json:"s3NetworkEncryption"`
	S3AccessKey         string `json:"s3AccessKey,omitempty"`
	S3SecretKey         string `json:"s3SecretKey,omitempty"`
	MeilisearchURL      string `json:"meilisearchUrl,omitempty"`
	MeilisearchAPIKey   string `json:"meilisearchApiKey,omitempty"`
}

// UserSettings is the editable part of a user's preferences.
type UserSettings struct {
	TimeZone   string `json:"timeZone"`
	DateFormat string `json:"dateFormat"`
	TimeFormat string `json:"timeFormat"`
	Locale     string `json:"locale"`
}

// APISettings is the payload returned by GET user/settings.
type APISettings struct {
	IdentityID     string `json:"auth0UserId"`
	OrganizationID string `json:"organizationId"`
	UserID         string `json:"userId"`
	TimeZone       string `json:"timeZone"`
	DateFormat     string `json:"dateFormat"`
	TimeFormat     string `json:"timeFormat"`
	Locale         string `json:"locale"`
	S3Endpoint     string `json:"s3Endpoint"`
}

// Settings is the per-browser cached settings record. The identity fields
// form the owning-identity key checked against the authenticated principal.
type Settings struct {
	IdentityID     string `json:"identityId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	EmailAddress   string `json:"emailAddress,omitempty"`
	UserID         string `json:"userId"`
	TimeZone       string `json:"timeZone"`
	DateFormat     string `json:"dateFormat"`
	TimeFormat     string `json:"timeFormat"`
	DateTimeFormat string `json:"dateTimeFormat"`
	Locale         string `json:"locale"`
	S3Endpoint     string `json:"s3Endpoint"`
}

// Location returns the settings time zone, falling back to UTC when unknown.
func (s Settings) Location() *time.Location {
	if strings.TrimSpace(s.TimeZone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Case struct {
	ID          string    `json:"id"`
	DisplayID   string    `json:"displayId"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	SIO         User      `json:"sio"`
	Modified    time.Time `json:"modified"`
	Accessed    time.Time `json:"accessed"`
	Created     time.Time `json:"created"`
	Status      string    `json:"status"`
	Users       []User    `json:"users"`
}

type AddCase struct {
	DisplayID string   `json:"displayId"`
	Name      string   `json:"name"`
	SIOUserID string   `json:"sioUserId,omitempty"`
	UserIDs   []string `json:"userIds,omitempty"`
}

type UpdateCase struct {
	DisplayID *string `json:"displayId,omitempty"`
	Name      *string `json:"name,omitempty"`
	SIOUserID *string `json:"sioUserId,omitempty"`
	Status    *string `json:"status,omitempty"`
}

type Exhibit struct {
	ID                     string    `json:"id"`
	Reference              string    `json:"reference"`
	Description            string    `json:"description"`
	DateTimeSeizedProduced time.Time `json:"dateTimeSeizedProduced"`
	WhereSeizedProduced    string    `json:"whereSeizedProduced"`
	SeizedBy               string    `json:"seizedBy"`
}

type AddExhibit struct {
	Reference              string    `json:"reference"`
	Description            string    `json:"description"`
	DateTimeSeizedProduced time.Time `json:"dateTimeSeizedProduced"`
	WhereSeizedProduced    string    `json:"whereSeizedProduced"`
	SeizedBy               string    `json:"seizedBy"`
}

// NoteIndex is a contemporaneous note index entry. Creator is only set for shared notes.
type NoteIndex struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Creator *User     `json:"creator,omitempty"`
}

// Tab is a tab index entry. Creator is only set for shared tabs.
type Tab struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
	Creator *User     `json:"creator,omitempty"`
}

type Pagination struct {
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
	Total      int `json:"total"`
}

type UserAudit struct {
	ID       string    `json:"id"`
	Action   string    `json:"action"`
	DateTime time.Time `json:"dateTime"`
}

type Export struct {
	DisplayName                string             `json:"displayName"`
	LeadInvestigator           User               `json:"leadInvestigator"`
	Modified                   time.Time          `json:"modified"`
	Created                    time.Time          `json:"created"`
	Status                     string             `json:"status"`
	Users                      []User             `json:"users"`
	ContemporaneousNotes       []NoteExport       `json:"contemporaneousNotes"`
	Tabs                       []TabExport        `json:"tabs"`
	SharedContemporaneousNotes []SharedNoteExport `json:"sharedContemporaneousNotes"`
	SharedTabs                 []SharedTabExport  `json:"sharedTabs"`
}

type NoteExport struct {
	Content  string    `json:"content"`
	DateTime time.Time `json:"dateTime"`
}

type SharedNoteExport struct {
	Content string    `json:"content"`
	Created time.Time `json:"created"`
	Creator User      `json:"creator"`
}

type TabExport struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type SharedTabExport struct {
	Name    string    `json:"name"`
	Content string    `json:"content"`
	Created time.Time `json:"created"`
	Creator User      `json:"creator"`
}
