package models

// User is a registered recipient of digest notifications. Credential storage
// and the registration flow belong to the web frontend; the sweep only needs
// the id (to locate the user's data directory), the email, and the language.
type User struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	Email    string `json:"email" gorm:"uniqueIndex;not null"`
	Lang     string `json:"lang" gorm:"default:en"`
	Verified bool   `json:"verified" gorm:"default:false"`
}

// TableName sets the explicit table name for GORM.
func (User) TableName() string {
	return "users"
}
