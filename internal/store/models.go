package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Timezone    string    `json:"timezone"`
	CreatedBy   string    `json:"created_by,omitempty"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type OrganizationPatch struct {
	Name        *string
	Description *string
	Status      *string
	Timezone    *string
	UpdatedBy   string
}

// UserOrganization is a membership row. Organization or User is populated
// depending on which side the listing joined.
type UserOrganization struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	OrganizationID string          `json:"organization_id"`
	Role           string          `json:"role"`
	Permissions    json.RawMessage `json:"permissions"`
	IsActive       bool            `json:"is_active"`
	JoinedAt       time.Time       `json:"joined_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Organization   *Organization   `json:"organization,omitempty"`
	User           *User           `json:"user,omitempty"`
}

type Document struct {
	ID                  string     `json:"id"`
	OrganizationID      string     `json:"organization_id"`
	OrganizationName    string     `json:"organization_name,omitempty"`
	Title               string     `json:"title"`
	Name                string     `json:"name"`
	Description         string     `json:"description"`
	Category            string     `json:"category"`
	FileType            string     `json:"file_type"`
	FileSize            int64      `json:"file_size"`
	OneDriveFileID      string     `json:"onedrive_file_id,omitempty"`
	OneDriveShareURL    string     `json:"onedrive_share_url,omitempty"`
	OneDriveDownloadURL string     `json:"onedrive_download_url,omitempty"`
	OneDriveFolderPath  string     `json:"onedrive_folder_path,omitempty"`
	UploadStatus        string     `json:"upload_status"`
	IsPublic            bool       `json:"is_public"`
	Archived            bool       `json:"archived"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
	CreatedBy           string     `json:"created_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// DocumentFilter narrows document listings. Empty fields do not filter.
type DocumentFilter struct {
	OrganizationID string
	Category       string
	Search         string
	Archived       *bool
	IDs            []string
	Limit          int
	Offset         int
}

type DocumentPatch struct {
	Title               *string
	Name                *string
	Description         *string
	Category            *string
	FileType            *string
	FileSize            *int64
	OneDriveFileID      *string
	OneDriveShareURL    *string
	OneDriveDownloadURL *string
	OneDriveFolderPath  *string
	UploadStatus        *string
	IsPublic            *bool
	Archived            *bool
	LastSyncAt          *time.Time
}

type Password struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Username       string    `json:"username"`
	Sealed         []byte    `json:"-"`
	PasswordType   string    `json:"password_type"`
	Category       string    `json:"category"`
	URL            string    `json:"url"`
	Notes          string    `json:"notes"`
	OTPEnabled     bool      `json:"otp_enabled"`
	Archived       bool      `json:"archived"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type SiteSummary struct {
	OrganizationID string          `json:"organization_id"`
	Content        json.RawMessage `json:"content"`
	UpdatedBy      string          `json:"updated_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type SidebarCategory struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	CategoryKey    string `json:"category_key"`
	CategoryName   string `json:"category_name"`
	DisplayOrder   int    `json:"display_order"`
	IsCollapsible  bool   `json:"is_collapsible"`
	IsExpanded     bool   `json:"is_expanded"`
	IsVisible      bool   `json:"is_visible"`
	IsSystem       bool   `json:"is_system"`
}

type SidebarItem struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	CategoryID     string `json:"category_id"`
	ItemKey        string `json:"item_key"`
	ItemLabel      string `json:"item_label"`
	ItemHref       string `json:"item_href"`
	IconName       string `json:"icon_name"`
	DisplayOrder   int    `json:"display_order"`
	IsVisible      bool   `json:"is_visible"`
	IsSystem       bool   `json:"is_system"`
	CountSource    string `json:"count_source,omitempty"`
}

type SidebarItemPatch struct {
	CategoryID   *string
	ItemLabel    *string
	ItemHref     *string
	IconName     *string
	DisplayOrder *int
	IsVisible    *bool
	CountSource  *string
}

// MicrosoftToken is a delegated Graph token pair for one user in one organization.
type MicrosoftToken struct {
	UserID         string
	OrganizationID string
	AccessToken    string
	RefreshToken   string
	TokenType      string
	ExpiresAt      time.Time
}
