package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"scenesync.dev/internal/protocol"
	"scenesync.dev/internal/world"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	readTimeout      = 60 * time.Second
	outQueueSize     = 256
)

type Server struct {
	world *world.World
	log   *log.Logger

	writeTimeout time.Duration

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world:        w,
		log:          logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		participantID, out := s.handshake(conn)
		if participantID == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. The world loop never blocks on this socket;
		// it queues into out and we drain here.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Frames are schema-validated before they reach the
		// world inbox so the loop only ever sees well-formed payloads.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type == "" {
				continue
			}
			if protocol.HasSchema(base.Type) {
				if err := protocol.Validate(base.Type, msg); err != nil {
					s.log.Printf("drop invalid %s from %s: %v", base.Type, participantID, err)
					continue
				}
			}
			s.world.Inbox() <- world.MessageEnvelope{
				ParticipantID: participantID,
				Type:          base.Type,
				Raw:           msg,
			}
		}

		s.world.Leave() <- participantID
	}
}

// handshake expects hello as the first frame and answers with welcome
// followed by the full scene snapshot.
func (s *Server) handshake(conn *websocket.Conn) (participantID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected hello"),
			time.Now().Add(time.Second))
		return "", nil
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "malformed hello"),
			time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"),
			time.Now().Add(time.Second))
		return "", nil
	}
	if hello.Name == "" {
		hello.Name = "participant"
	}

	out = make(chan []byte, outQueueSize)

	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		Name:    hello.Name,
		Builder: hello.Builder,
		Out:     out,
		Resp:    respCh,
	}
	resp := <-respCh

	// The join already registered the participant; a failed welcome or
	// snapshot write must unregister it or the world keeps broadcasting
	// into a dead queue.
	if err := s.writeJSON(conn, resp.Welcome); err != nil {
		s.world.Leave() <- resp.Welcome.ParticipantID
		return "", nil
	}
	if err := s.writeJSON(conn, resp.Snapshot); err != nil {
		s.world.Leave() <- resp.Welcome.ParticipantID
		return "", nil
	}

	return resp.Welcome.ParticipantID, out
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
