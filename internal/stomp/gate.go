package stomp

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-offers-backend/internal/auth"
)

// CredentialVerifier turns a raw bearer token into claims.
type CredentialVerifier interface {
	Verify(raw string) (*auth.Claims, error)
}

// MembershipOracle answers whether a user participates in a conversation.
type MembershipOracle interface {
	IsMember(ctx context.Context, userID, conversationID uint) (bool, error)
}

var destinationRe = regexp.MustCompile(`^/topic/conversations/([0-9]+)/messages$`)

// ParseDestination extracts the conversation id from
// /topic/conversations/{id}/messages. The id must be a positive integer.
func ParseDestination(dest string) (uint, bool) {
	m := destinationRe.FindStringSubmatch(dest)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// Destination formats the topic for a conversation.
func Destination(conversationID uint) string {
	return fmt.Sprintf("/topic/conversations/%d/messages", conversationID)
}

// Admission is an allowed frame together with the claims it was admitted on.
type Admission struct {
	Frame          *Frame
	Claims         *auth.Claims
	UserID         uint // set for SUBSCRIBE and SEND
	ConversationID uint // set for SUBSCRIBE and SEND
}

// Gate authorizes inbound frames. Every frame must carry a valid token;
// SUBSCRIBE and SEND additionally need a conversation destination the
// subject is a member of. Decisions use only the frame itself, so a Gate is
// safe for concurrent use.
type Gate struct {
	Verifier CredentialVerifier
	Members  MembershipOracle
}

// PreSend returns f unchanged when it may be delivered and nil when it must
// be dropped. A non-nil error means claims that passed verification carry
// no usable subject, which is a contract breach, not a normal rejection.
func (g *Gate) PreSend(ctx context.Context, f *Frame) (*Frame, error) {
	a, err := g.Admit(ctx, f)
	if a == nil {
		return nil, err
	}
	return a.Frame, nil
}

// Admit is PreSend that also returns what the decision was based on.
func (g *Gate) Admit(ctx context.Context, f *Frame) (*Admission, error) {
	if f == nil {
		return nil, nil
	}
	claims, err := g.Verifier.Verify(f.Header.Get(HdrToken))
	if err != nil || claims == nil {
		observeFrame(f.Command, "unauthenticated")
		return nil, nil
	}

	switch f.Command {
	case CmdConnect, CmdStomp:
		observeFrame(f.Command, "allowed")
		return &Admission{Frame: f, Claims: claims}, nil

	case CmdSubscribe, CmdSend:
		convID, ok := ParseDestination(f.Header.Get(HdrDestination))
		if !ok {
			observeFrame(f.Command, "bad_destination")
			return nil, nil
		}
		userID, err := claims.UserID()
		if err != nil {
			observeFrame(f.Command, "invalid_claims")
			return nil, fmt.Errorf("stomp gate: verified credential without subject: %w", err)
		}
		member, err := g.Members.IsMember(ctx, userID, convID)
		if err != nil {
			log.Warn().Err(err).Str("component", "stomp").Uint("conversation_id", convID).Msg("membership lookup failed; dropping frame")
			observeFrame(f.Command, "lookup_failed")
			return nil, nil
		}
		if !member {
			observeFrame(f.Command, "not_member")
			return nil, nil
		}
		observeFrame(f.Command, "allowed")
		return &Admission{Frame: f, Claims: claims, UserID: userID, ConversationID: convID}, nil

	default:
		observeFrame(f.Command, "allowed")
		return &Admission{Frame: f, Claims: claims}, nil
	}
}
