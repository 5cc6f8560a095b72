package system

import (
	"context"
	"time"

	"github.com/veldrin/server/internal/core/event"
	coresys "github.com/veldrin/server/internal/core/system"
	"github.com/veldrin/server/internal/game"
	"github.com/veldrin/server/internal/net"
	"github.com/veldrin/server/internal/net/packet"
	"github.com/veldrin/server/internal/persist"
	"github.com/veldrin/server/internal/world"
	"go.uber.org/zap"
)

// InputSystem accepts and retires sessions and dispatches queued inbound
// packets through the registry. Phase 0 (Input).
type InputSystem struct {
	netServer   *net.Server
	registry    *packet.Registry
	store       *net.SessionStore
	mailbox     *game.Mailbox
	bus         *event.Bus
	worldState  *world.State
	accountRepo *persist.AccountRepo
	maxPerTick  int
	log         *zap.Logger
}

func NewInputSystem(
	netServer *net.Server,
	registry *packet.Registry,
	store *net.SessionStore,
	mailbox *game.Mailbox,
	bus *event.Bus,
	worldState *world.State,
	accountRepo *persist.AccountRepo,
	maxPerTick int,
	log *zap.Logger,
) *InputSystem {
	return &InputSystem{
		netServer:   netServer,
		registry:    registry,
		store:       store,
		mailbox:     mailbox,
		bus:         bus,
		worldState:  worldState,
		accountRepo: accountRepo,
		maxPerTick:  maxPerTick,
		log:         log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	// Accept new sessions
	for {
		select {
		case sess := <-s.netServer.NewSessions():
			s.store.Add(sess)
		default:
			goto doneNew
		}
	}
doneNew:

	// Retire dead sessions
	for {
		select {
		case id := <-s.netServer.DeadSessions():
			if sess := s.store.Get(id); sess != nil {
				s.handleDisconnect(sess)
			}
			s.store.Remove(id)
		default:
			goto doneDead
		}
	}
doneDead:

	s.dispatchMailbox()

	// Sweep sessions closed by handlers this tick (quit, kick, backpressure).
	var closing []*net.Session
	s.store.ForEach(func(sess *net.Session) {
		if sess.IsClosed() {
			closing = append(closing, sess)
		}
	})
	for _, sess := range closing {
		sess.FlushOutput()
		s.handleDisconnect(sess)
		s.netServer.NotifyDead(sess.ID)
		s.store.Remove(sess.ID)
	}
}

// dispatchMailbox drains the inbound mailbox and dispatches each message to
// its session's handler. Per-session ordering is preserved by the mailbox.
func (s *InputSystem) dispatchMailbox() {
	msgs := s.mailbox.Drain()
	if len(msgs) == 0 {
		return
	}
	if len(msgs) > s.maxPerTick {
		s.log.Warn("inbound backlog above per-tick budget",
			zap.Int("messages", len(msgs)),
			zap.Int("budget", s.maxPerTick))
	}
	for _, msg := range msgs {
		sess := s.store.Get(msg.SessionID)
		if sess == nil {
			continue // session already retired; drop its tail
		}
		if err := s.registry.Dispatch(sess, sess.State(), msg.Payload); err != nil {
			s.log.Debug("packet dispatch error",
				zap.Uint64("session", msg.SessionID),
				zap.Error(err))
		}
	}
}

// handleDisconnect tears down the world side of a session: removes the
// avatar, broadcasts its removal, and marks the account offline.
func (s *InputSystem) handleDisconnect(sess *net.Session) {
	avatar := s.worldState.GetAvatarBySession(sess.ID)
	if avatar != nil {
		remove := packet.NewWriterWithOpcode(packet.S_OPCODE_REMOVE_OBJECT)
		remove.WriteQ(avatar.EntityID())
		data := remove.Bytes()
		for _, sid := range s.worldState.NearbySessions(avatar.X, avatar.Y, avatar.Region) {
			if sid == sess.ID {
				continue
			}
			if other := s.store.Get(sid); other != nil {
				other.Send(data)
			}
		}
		event.Emit(s.bus, event.PlayerExitedWorld{
			EntityID:  avatar.EntityID(),
			SessionID: sess.ID,
		})
		s.worldState.RemoveAvatar(avatar)
	}

	if sess.AccountName != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.accountRepo.SetOnline(ctx, sess.AccountName, false); err != nil {
			s.log.Error("set offline failed",
				zap.Error(err),
				zap.String("account", sess.AccountName))
		}
	}

	event.Emit(s.bus, event.PlayerDisconnected{SessionID: sess.ID})
}
