package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(User{}).TableName():             "users",
		(Contact{}).TableName():          "contacts",
		(RequestedService{}).TableName(): "requested_services",
		(Conversation{}).TableName():     "conversations",
		(Message{}).TableName():          "messages",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestRequestedService_CanBeCancelled(t *testing.T) {
	for status, want := range map[ServiceStatus]bool{
		ServicePending:    true,
		ServiceInProgress: false,
		ServiceDone:       false,
		ServiceCancelled:  false,
	} {
		if got := (RequestedService{Status: status}).CanBeCancelled(); got != want {
			t.Fatalf("CanBeCancelled(%s) = %v; want %v", status, got, want)
		}
	}
}

func TestConversation_MembershipHelpers(t *testing.T) {
	c := Conversation{RequesterID: 1, ServiceProviderID: 2}
	if !c.HasMember(1) || !c.HasMember(2) {
		t.Fatalf("participants must be members")
	}
	if c.HasMember(3) || c.HasMember(0) {
		t.Fatalf("outsiders and zero id must not be members")
	}
}

func TestUser_StandardAddressAndRoles(t *testing.T) {
	u := User{
		Roles: "USER  ADMIN",
		Contacts: []Contact{
			{Kind: ContactPhone, Value: "+100"},
			{Kind: ContactEmail, Value: "a@example.com", Standard: true},
		},
	}
	if got := u.StandardAddress(); got != "a@example.com" {
		t.Fatalf("StandardAddress() = %q", got)
	}
	if roles := u.RoleList(); len(roles) != 2 || roles[0] != RoleUser || roles[1] != RoleAdmin {
		t.Fatalf("RoleList() = %v", roles)
	}
	if (User{}).StandardAddress() != "" {
		t.Fatalf("user without contacts must have no standard address")
	}
}

func TestOfferStatus_Closed(t *testing.T) {
	if OfferPending.Closed() || OfferAccepted.Closed() {
		t.Fatalf("pending/accepted must be open")
	}
	if !OfferRejected.Closed() || !OfferCancelled.Closed() {
		t.Fatalf("rejected/cancelled must be closed")
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t, "cascade")
	if err := db.AutoMigrate(&User{}, &Contact{}, &RequestedService{}, &Conversation{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&Message{}, "idx_conv_msgs") {
		t.Fatalf("expected index idx_conv_msgs on messages")
	}
	if !m.HasIndex(&Message{}, "idx_unread") {
		t.Fatalf("expected index idx_unread on messages")
	}
	if !m.HasColumn(&Message{}, "is_read") {
		t.Fatalf("expected read flag stored as is_read")
	}

	u1 := &User{Name: "Requester"}
	u2 := &User{Name: "Provider"}
	if err := db.Create(u1).Error; err != nil {
		t.Fatalf("insert u1: %v", err)
	}
	if err := db.Create(u2).Error; err != nil {
		t.Fatalf("insert u2: %v", err)
	}
	svc := &RequestedService{RequesterID: u1.ID, Title: "Paint fence", Status: ServicePending}
	if err := db.Create(svc).Error; err != nil {
		t.Fatalf("insert service: %v", err)
	}
	conv := &Conversation{RequestedServiceID: svc.ID, RequesterID: u1.ID, ServiceProviderID: u2.ID, OfferStatus: OfferPending}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	msg := &Message{ConversationID: conv.ID, AuthorID: u2.ID, Content: "hi", CreatedAt: time.Now().UTC()}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}

	// CASCADE: deleting the conversation removes its messages.
	if err := db.Delete(&Conversation{}, conv.ID).Error; err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	var cnt int64
	if err := db.Model(&Message{}).Where("conversation_id = ?", conv.ID).Count(&cnt).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected messages to cascade-delete, got count=%d", cnt)
	}
}
