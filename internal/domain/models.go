// Package domain defines the persistence models for users, requested
// services, conversations and messages. These types are mapped with GORM and
// form the core data layer of the offer negotiation backend.
//
// Relations are expressed through integer foreign keys. Association fields
// (Requester, ServiceProvider, RequestedService, Messages) are only populated
// when a query explicitly preloads them.
package domain

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Role names carried in the ROLE claim of a credential.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User is an account that can post requested services and make offers.
//
// Fields:
//   - ID: stable integer primary key.
//   - Name: display name used in notifications.
//   - Roles: space-joined role names (e.g. "USER ADMIN").
//   - Contacts: contact channels; at most one is marked Standard.
type User struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	Roles     string    `json:"-"          gorm:"type:varchar(255);not null;default:'USER'"`
	Contacts  []Contact `json:"-"          gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// RoleList splits Roles into individual role names.
func (u User) RoleList() []string { return strings.Fields(u.Roles) }

// StandardAddress returns the value of the contact marked standard, or ""
// when the user has none. Contacts must be preloaded.
func (u User) StandardAddress() string {
	for _, c := range u.Contacts {
		if c.Standard {
			return c.Value
		}
	}
	return ""
}

// Contact kinds.
const (
	ContactEmail = "EMAIL"
	ContactPhone = "PHONE"
)

// Contact is a single way of reaching a user.
type Contact struct {
	ID        uint      `json:"id"       gorm:"primaryKey"`
	UserID    uint      `json:"user_id"  gorm:"not null;index"`
	Kind      string    `json:"kind"     gorm:"type:varchar(16);not null;default:'EMAIL'"`
	Value     string    `json:"value"    gorm:"type:varchar(255);not null"`
	Standard  bool      `json:"standard" gorm:"not null;default:false"`
	Verified  bool      `json:"verified" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// ServiceStatus is the lifecycle state of a RequestedService.
type ServiceStatus string

const (
	ServicePending    ServiceStatus = "PENDING"
	ServiceInProgress ServiceStatus = "IN_PROGRESS"
	ServiceDone       ServiceStatus = "DONE"
	ServiceCancelled  ServiceStatus = "CANCELLED"
)

// RequestedService is a job posted by a requester that providers make offers on.
type RequestedService struct {
	ID          uint           `json:"id"           gorm:"primaryKey"`
	RequesterID uint           `json:"requester_id" gorm:"not null;index"`
	Requester   User           `json:"-"            gorm:"foreignKey:RequesterID;references:ID"`
	Title       string         `json:"title"        gorm:"type:varchar(255);not null"`
	Description string         `json:"description"  gorm:"type:text"`
	Status      ServiceStatus  `json:"status"       gorm:"type:varchar(16);not null;default:'PENDING';index"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for RequestedService.
func (RequestedService) TableName() string { return "requested_services" }

// CanBeCancelled holds iff the service is still pending.
func (s RequestedService) CanBeCancelled() bool { return s.Status == ServicePending }

// OfferStatus is the lifecycle state of a Conversation.
type OfferStatus string

const (
	OfferPending   OfferStatus = "PENDING"
	OfferAccepted  OfferStatus = "ACCEPTED"
	OfferRejected  OfferStatus = "REJECTED"
	OfferCancelled OfferStatus = "CANCELLED"
)

// Closed reports whether no further messages may be posted under this status.
func (s OfferStatus) Closed() bool { return s == OfferRejected || s == OfferCancelled }

// Conversation is the negotiation thread between the requester of a service
// and one service provider. At most one conversation per (requested service,
// provider) may be PENDING; the schema enforces this with a partial unique
// index created in repo.AutoMigrate.
type Conversation struct {
	ID                 uint             `json:"id"                   gorm:"primaryKey"`
	RequestedServiceID uint             `json:"requested_service_id" gorm:"not null;index:idx_conv_service_provider,priority:1"`
	RequestedService   RequestedService `json:"-"                    gorm:"foreignKey:RequestedServiceID;references:ID"`
	RequesterID        uint             `json:"requester_id"         gorm:"not null;index"`
	Requester          User             `json:"-"                    gorm:"foreignKey:RequesterID;references:ID"`
	ServiceProviderID  uint             `json:"service_provider_id"  gorm:"not null;index:idx_conv_service_provider,priority:2"`
	ServiceProvider    User             `json:"-"                    gorm:"foreignKey:ServiceProviderID;references:ID"`
	OfferStatus        OfferStatus      `json:"offer_status"         gorm:"type:varchar(16);not null;default:'PENDING'"`
	Messages           []Message        `json:"messages,omitempty"   gorm:"foreignKey:ConversationID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// HasMember reports whether userID is the requester or the service provider.
func (c Conversation) HasMember(userID uint) bool {
	return userID != 0 && (c.RequesterID == userID || c.ServiceProviderID == userID)
}

// Message is a single entry in a conversation. Read and NotificationSent only
// ever move from false to true.
type Message struct {
	ID               uint      `json:"id"                gorm:"primaryKey"`
	ConversationID   uint      `json:"conversation_id"   gorm:"not null;index:idx_conv_msgs,priority:1"`
	AuthorID         uint      `json:"author_id"         gorm:"not null;index"`
	Content          string    `json:"content"           gorm:"type:text;not null"`
	Read             bool      `json:"read"              gorm:"column:is_read;not null;default:false;index:idx_unread,priority:1"`
	NotificationSent bool      `json:"notification_sent" gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at"        gorm:"index:idx_conv_msgs,priority:2;index:idx_unread,priority:2"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
