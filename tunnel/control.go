package tunnel

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/coalmux/wstun/share"
)

// controlResponse is the JSON shape sent back on the text channel for every
// command, per §4.9.
type controlResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (r controlResponse) encode() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"message":"internal encoding error"}`
	}
	return string(b)
}

// parseControlCommand strips an optional leading "/" or "CMD " prefix,
// splits on whitespace, and uppercases the verb.
func parseControlCommand(line string) (verb string, args []string) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "/"):
		line = line[1:]
	case len(line) >= 4 && strings.EqualFold(line[:4], "CMD "):
		line = line[4:]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToUpper(fields[0]), fields[1:]
}

// looksLikeControlResponse reports whether line is a controlResponse JSON
// object rather than a command. Both peers run the same handleControl, so
// without this check a reply fed back through OnText would be parsed as an
// unrecognized command, replied to again, and loop forever.
func looksLikeControlResponse(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, `{"success"`) || strings.HasPrefix(line, `{ "success"`)
}

// handleControl dispatches one text-channel command and returns the JSON
// response to send back (§4.9), or "" if line is itself a response and
// warrants no reply. isEgress gates SET LOGLEVEL, which is server-only.
func (s *Session) handleControl(line string) string {
	if looksLikeControlResponse(line) {
		return ""
	}
	verb, args := parseControlCommand(line)
	switch verb {
	case "SET":
		if len(args) >= 1 && strings.ToUpper(args[0]) == "UUID" && len(args) >= 2 {
			s.onPeerUUID(args[1])
			return controlResponse{Success: true, Message: "uuid recorded"}.encode()
		}
		if len(args) >= 1 && strings.ToUpper(args[0]) == "LOGLEVEL" && len(args) >= 2 {
			if !s.isEgress {
				return controlResponse{Success: false, Message: "SET LOGLEVEL is server only"}.encode()
			}
			s.log.SetLogLevel(share.StringToLogLevel(args[1]))
			return controlResponse{Success: true, Message: "log level updated"}.encode()
		}
		return controlResponse{Success: false, Message: "Unknown SET target"}.encode()
	case "GET":
		if len(args) >= 1 {
			switch strings.ToUpper(args[0]) {
			case "STATUS":
				return controlResponse{Success: true, Message: "ok", Data: map[string]string{"status": "connected"}}.encode()
			case "INFO":
				role := "initiator"
				if s.isEgress {
					role = "egress"
				}
				return controlResponse{Success: true, Message: "ok", Data: map[string]interface{}{
					"role":      role,
					"timestamp": time.Now().UTC().Format(time.RFC3339),
					"uptime":    time.Since(s.createdAt).String(),
				}}.encode()
			case "VERSION":
				return controlResponse{Success: true, Message: "ok", Data: map[string]string{
					"version":  ProtocolVersion,
					"protocol": ProtocolVersion,
				}}.encode()
			}
		}
		return controlResponse{Success: false, Message: "Unknown GET target"}.encode()
	case "STATS":
		return controlResponse{Success: true, Message: "ok", Data: s.stats()}.encode()
	case "PING":
		return controlResponse{Success: true, Message: "PONG", Data: map[string]interface{}{
			"timestamp": time.Now().UnixMilli(),
		}}.encode()
	case "PONG":
		s.markAlive()
		return controlResponse{Success: true, Message: "pong acknowledged"}.encode()
	case "HELP":
		return controlResponse{Success: true, Message: "ok", Data: []string{
			"SET UUID <v>", "SET LOGLEVEL <v>", "GET STATUS", "GET INFO", "GET VERSION", "STATS", "PING", "PONG", "HELP",
		}}.encode()
	default:
		return controlResponse{Success: false, Message: "Unknown command: " + verb}.encode()
	}
}
