package repo

import (
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-offers-backend/internal/domain"
)

// CreateMessage inserts a new unread, un-notified message row.
func CreateMessage(db *gorm.DB, conversationID, authorID uint, content string) (*domain.Message, error) {
	m := &domain.Message{
		ConversationID: conversationID,
		AuthorID:       authorID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB, conversationID uint) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(db *gorm.DB, conversationID uint, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID.
func GetMessage(db *gorm.DB, id uint) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkRead flips is_read to true for the given messages that are still
// unread and returns how many rows changed.
func MarkRead(db *gorm.DB, ids ...uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.Model(&domain.Message{}).
		Where("id IN ? AND is_read = ?", ids, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// MarkNotificationSent flips notification_sent to true for the given messages.
// Rows already flagged are left untouched.
func MarkNotificationSent(db *gorm.DB, ids ...uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.Model(&domain.Message{}).
		Where("id IN ? AND notification_sent = ?", ids, false).
		Update("notification_sent", true)
	return res.RowsAffected, res.Error
}
