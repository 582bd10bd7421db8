package model

import "time"

// StorageUsage 用户已用存储与配额（字节）.
type StorageUsage struct {
	UserID    string    `gorm:"primaryKey;size:255" json:"user_id"`
	Consumed  int64     `gorm:"not null;default:0"  json:"consumed"`
	Quota     int64     `gorm:"not null"            json:"quota"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining 剩余可用字节，超额时为负数.
func (u StorageUsage) Remaining() int64 {
	return u.Quota - u.Consumed
}
