// Package wire implements the binary frame protocol shared by the Registry,
// Name service, and Data service. The format is bit-exact and deliberately
// hand-rolled: it is not an object-serialization format, so no reflection
// and no third-party codec is involved (see DESIGN.md).
package wire

// Command identifies the purpose of a frame. Unknown values decode to Error.
//
// The wire representation is a single signed byte (spec.md §3: "command(1)"),
// so Command is int8 and Error (-1) becomes 0xFF on the wire — the same
// two's-complement encoding spec.md's "-1 | ERROR" row implies.
type Command int8

const (
	Error Command = -1

	UploadRequest  Command = 1
	UploadResponse Command = 2

	DownloadRequest  Command = 3
	DownloadResponse Command = 4

	RequestUploadLoc  Command = 10
	ResponseUploadLoc Command = 11
	CommitFile        Command = 12
	ResponseCommit    Command = 13

	RequestDownloadLoc  Command = 14
	ResponseDownloadLoc Command = 15

	ResponseExist    Command = 21
	ResponseNotExist Command = 22
	PreUpload        Command = 23
	ResponseAllow    Command = 24
	ResponseWait     Command = 25

	RegistryRegister  Command = 30
	RegistryHeartbeat Command = 32

	RegistryGetDatanodes      Command = 33
	RegistryResponseDatanodes Command = 34

	RegisterNamenode    Command = 35
	HeartbeatNamenode   Command = 39
	GetNamenodes        Command = 37
	ResponseNamenodes   Command = 38
)

// knownCommands is the set of command values the decoder recognises. A frame
// whose command byte is outside this set still decodes into a Packet, with
// its Command set to Error; the caller (C6/C2 dispatch) then replies with an
// Error frame for it.
var knownCommands = map[Command]string{
	Error:                     "ERROR",
	UploadRequest:             "UPLOAD_REQUEST",
	UploadResponse:            "UPLOAD_RESPONSE",
	DownloadRequest:           "DOWNLOAD_REQUEST",
	DownloadResponse:          "DOWNLOAD_RESPONSE",
	RequestUploadLoc:          "REQUEST_UPLOAD_LOC",
	ResponseUploadLoc:         "RESPONSE_UPLOAD_LOC",
	CommitFile:                "COMMIT_FILE",
	ResponseCommit:            "RESPONSE_COMMIT",
	RequestDownloadLoc:        "REQUEST_DOWNLOAD_LOC",
	ResponseDownloadLoc:       "RESPONSE_DOWNLOAD_LOC",
	ResponseExist:             "RESPONSE_EXIST",
	ResponseNotExist:          "RESPONSE_NOT_EXIST",
	PreUpload:                 "PRE_UPLOAD",
	ResponseAllow:             "RESPONSE_ALLOW",
	ResponseWait:              "RESPONSE_WAIT",
	RegistryRegister:          "REGISTRY_REGISTER",
	RegistryHeartbeat:         "REGISTRY_HEARTBEAT",
	RegistryGetDatanodes:      "REGISTRY_GET_DATANODES",
	RegistryResponseDatanodes: "REGISTRY_RESPONSE_DATANODES",
	RegisterNamenode:          "REGISTER_NAMENODE",
	HeartbeatNamenode:         "HEARTBEAT_NAMENODE",
	GetNamenodes:              "GET_NAMENODES",
	ResponseNamenodes:         "RESPONSE_NAMENODES",
}

// String renders a command as its protocol name, or "UNKNOWN" for a
// command value outside knownCommands.
func (c Command) String() string {
	if name, ok := knownCommands[c]; ok {
		return name
	}
	return "UNKNOWN"
}
