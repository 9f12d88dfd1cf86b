package models

import "time"

const (
	BuildDraft = "draft"
	BuildReady = "ready"
)

const (
	SubmissionPending  = "pending"
	SubmissionApproved = "approved"
	SubmissionRejected = "rejected"
)

type App struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Slug        string  `gorm:"uniqueIndex;size:64;not null"`
	Title       string  `gorm:"size:200;not null"`
	OwnerUserID uint    `gorm:"index;not null"`
	Description string  `gorm:"type:text"`
	Price       float64 `gorm:"default:0"`
	CoverURL    string  `gorm:"size:512"`
	// IsApproved is flipped by the latest approved submission and gates
	// public listing and downloads.
	IsApproved bool `gorm:"default:false;index"`

	Builds []Build `gorm:"foreignKey:AppID"`
}

type Build struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	AppID       uint   `gorm:"index;not null;uniqueIndex:uniq_build_coords"`
	Version     string `gorm:"size:64;not null;uniqueIndex:uniq_build_coords"`
	Platform    string `gorm:"size:16;not null;uniqueIndex:uniq_build_coords"`
	Channel     string `gorm:"size:16;not null;uniqueIndex:uniq_build_coords"`
	Status      string `gorm:"size:16;index;not null"`
	ManifestURL string `gorm:"size:512"`

	App App `gorm:"foreignKey:AppID"`
}

type Submission struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	BuildID     uint   `gorm:"uniqueIndex;not null"`
	Status      string `gorm:"size:16;index;not null"`
	Note        string `gorm:"type:text"`
	ProcessedAt *time.Time

	Build Build `gorm:"foreignKey:BuildID"`
}

type Purchase struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	UserID uint    `gorm:"not null;uniqueIndex:uniq_user_app"`
	AppID  uint    `gorm:"not null;uniqueIndex:uniq_user_app"`
	Price  float64 `gorm:"not null"`
}
