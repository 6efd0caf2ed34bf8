package area

import "time"

// Action is a configured trigger instance. Payload holds the user's form
// input and LastState the most recent polled snapshot, both as raw JSON.
type Action struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID      uint      `gorm:"column:user_id;not null;index"`
	ServiceID   uint      `gorm:"column:service_id;not null"`
	ServiceName string    `gorm:"column:service_name;size:190;not null"`
	Name        string    `gorm:"column:name;size:190;not null"`
	Payload     string    `gorm:"column:payload;type:text;not null;default:''"`
	LastState   string    `gorm:"column:last_state;type:text;not null;default:''"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Action) TableName() string {
	return "actions"
}

// Reaction is a configured side-effect instance.
type Reaction struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID      uint      `gorm:"column:user_id;not null;index"`
	ServiceID   uint      `gorm:"column:service_id;not null"`
	ServiceName string    `gorm:"column:service_name;size:190;not null"`
	Name        string    `gorm:"column:name;size:190;not null"`
	Payload     string    `gorm:"column:payload;type:text;not null;default:''"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Reaction) TableName() string {
	return "reactions"
}

// Area pairs one Action with one Reaction for a user.
type Area struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     uint      `gorm:"column:user_id;not null;index"`
	Name       string    `gorm:"column:name;size:400;not null"`
	ActionID   uint      `gorm:"column:action_id;not null"`
	ReactionID uint      `gorm:"column:reaction_id;not null"`
	Action     Action    `gorm:"foreignKey:ActionID"`
	Reaction   Reaction  `gorm:"foreignKey:ReactionID"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Area) TableName() string {
	return "areas"
}
