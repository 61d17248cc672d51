package packet

// Client → server opcodes.
const (
	C_OPCODE_JOIN  byte = 1 // name:S, password:S
	C_OPCODE_INPUT byte = 2 // frame:D, horizontal:F, vertical:F, camX:F, camZ:F, actions:H
	C_OPCODE_PING  byte = 3 // clientTime:Q (float64 bits)
	C_OPCODE_LEAVE byte = 4
)

// Server → client opcodes.
const (
	S_OPCODE_WELCOME  byte = 101 // slot:C, simDt:F, serverTime:Q
	S_OPCODE_SNAPSHOT byte = 102 // snapshot.Encode payload
	S_OPCODE_CLOCK    byte = 103 // serverTime:Q, echoedClientTime:Q
	S_OPCODE_REJECT   byte = 104 // reason:S
)
