package packet

// Client → server opcodes.
const (
	C_OPCODE_VERSION      byte = 0x01
	C_OPCODE_LOGIN        byte = 0x02
	C_OPCODE_ENTER_WORLD  byte = 0x03
	C_OPCODE_MOVE         byte = 0x10
	C_OPCODE_USE_POWER    byte = 0x20
	C_OPCODE_GRANT_POWER  byte = 0x21
	C_OPCODE_REVOKE_POWER byte = 0x22
	C_OPCODE_SAVE_KEYMAP  byte = 0x30
	C_OPCODE_LOAD_KEYMAP  byte = 0x31
	C_OPCODE_QUIT         byte = 0x7F
)

// Server → client opcodes.
const (
	S_OPCODE_INITPACKET       byte = 0x80
	S_OPCODE_VERSION_OK       byte = 0x81
	S_OPCODE_LOGIN_RESULT     byte = 0x82
	S_OPCODE_ENTER_WORLD      byte = 0x83
	S_OPCODE_PUT_OBJECT       byte = 0x90
	S_OPCODE_REMOVE_OBJECT    byte = 0x91
	S_OPCODE_MOVE_OBJECT      byte = 0x92
	S_OPCODE_POWER_ASSIGNED   byte = 0xA0
	S_OPCODE_POWER_UNASSIGNED byte = 0xA1
	S_OPCODE_POWER_COLLECTION byte = 0xA2
	S_OPCODE_POWER_RESULT     byte = 0xA3
	S_OPCODE_KEYMAP           byte = 0xB0
	S_OPCODE_DISCONNECT       byte = 0xFE
)
