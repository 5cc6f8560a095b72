package handler

import (
	"github.com/veldrin/server/internal/net"
	"github.com/veldrin/server/internal/net/packet"
)

// HandleQuit processes C_OPCODE_QUIT. The disconnect packet is buffered
// before Close so the flush still delivers it if the writer drains first;
// world teardown happens in the input system's dead-session sweep.
func HandleQuit(sess *net.Session, r *packet.Reader, deps *Deps) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_DISCONNECT)
	sess.Send(w.Bytes())
	sess.FlushOutput()
	sess.Close()
}
