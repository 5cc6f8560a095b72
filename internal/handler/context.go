package handler

import (
	"github.com/veldrin/server/internal/config"
	"github.com/veldrin/server/internal/data"
	"github.com/veldrin/server/internal/game"
	"github.com/veldrin/server/internal/net"
	"github.com/veldrin/server/internal/net/packet"
	"github.com/veldrin/server/internal/persist"
	"github.com/veldrin/server/internal/scripting"
	"github.com/veldrin/server/internal/world"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	AccountRepo *persist.AccountRepo
	CharRepo    *persist.CharacterRepo
	KeyMapRepo  *persist.KeyMappingRepo
	Config      *config.Config
	Log         *zap.Logger
	Game        *game.Game
	World       *world.State
	Powers      *data.PowerTable
	Scripting   *scripting.Engine
	Broadcaster *world.ReplicationManager
	Sessions    *net.SessionStore
}

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	// Handshake phase
	reg.Register(packet.C_OPCODE_VERSION,
		[]packet.SessionState{packet.StateHandshake},
		func(sess any, r *packet.Reader) {
			HandleVersion(sess.(*net.Session), r, deps)
		},
	)

	reg.Register(packet.C_OPCODE_LOGIN,
		[]packet.SessionState{packet.StateVersionOK},
		func(sess any, r *packet.Reader) {
			HandleLogin(sess.(*net.Session), r, deps)
		},
	)

	reg.Register(packet.C_OPCODE_ENTER_WORLD,
		[]packet.SessionState{packet.StateAuthenticated},
		func(sess any, r *packet.Reader) {
			HandleEnterWorld(sess.(*net.Session), r, deps)
		},
	)

	// In-world phase
	inWorldStates := []packet.SessionState{packet.StateInWorld}

	reg.Register(packet.C_OPCODE_MOVE, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleMove(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_USE_POWER, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleUsePower(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_GRANT_POWER, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleGrantPower(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_REVOKE_POWER, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleRevokePower(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_SAVE_KEYMAP, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleSaveKeyMapping(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_LOAD_KEYMAP, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleLoadKeyMapping(sess.(*net.Session), r, deps)
		},
	)

	// Always allowed once past the handshake
	aliveStates := []packet.SessionState{
		packet.StateVersionOK, packet.StateAuthenticated, packet.StateInWorld,
	}
	reg.Register(packet.C_OPCODE_QUIT, aliveStates,
		func(sess any, r *packet.Reader) {
			HandleQuit(sess.(*net.Session), r, deps)
		},
	)
}
