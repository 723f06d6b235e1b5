package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-offers-backend/internal/domain"
)

// ConversationVersion summarises a conversation's message list. Posting a
// message bumps Count and marking one read bumps LatestUpdate, so any change
// a listing could observe changes the pair.
type ConversationVersion struct {
	Count        int64
	LatestUpdate time.Time // zero when Count is 0
}

// MessagesVersion loads the ConversationVersion for conversationID.
func MessagesVersion(ctx context.Context, db *gorm.DB, conversationID uint) (ConversationVersion, error) {
	var v ConversationVersion
	scoped := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)
	}
	if err := scoped().Count(&v.Count).Error; err != nil {
		return ConversationVersion{}, err
	}
	if v.Count == 0 {
		return v, nil
	}
	// SQLite returns MAX(updated_at) as TEXT, so read the newest row instead.
	var latest domain.Message
	if err := scoped().Select("updated_at").Order("updated_at DESC").Limit(1).Take(&latest).Error; err != nil {
		return ConversationVersion{}, err
	}
	v.LatestUpdate = latest.UpdatedAt
	return v, nil
}
