// Package services – MembershipService
//
// MembershipService answers whether a user participates in a conversation.
// It is the read-only oracle consulted by the STOMP channel gate and by the
// message endpoints.
package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-offers-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MembershipService is a side-effect-free membership lookup.
type MembershipService struct {
	DB *gorm.DB
}

// IsMember reports whether userID is the requester or the service provider of
// conversationID. Unknown conversations and zero ids yield false with no error.
func (s *MembershipService) IsMember(ctx context.Context, userID, conversationID uint) (bool, error) {
	tr := otel.Tracer("services/MembershipService")
	ctx, span := tr.Start(ctx, "IsMember",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(userID)),
			attribute.Int64("conversation.id", int64(conversationID)),
		),
	)
	defer span.End()

	if userID == 0 || conversationID == 0 {
		return false, nil
	}
	ok, err := repo.IsMember(ctx, s.DB, conversationID, userID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	span.SetAttributes(attribute.Bool("member", ok))
	return ok, nil
}
