package control

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/psantana5/procbox/pkg/ipc"
	"github.com/psantana5/procbox/pkg/logging"
	"github.com/psantana5/procbox/pkg/store"
	"github.com/psantana5/procbox/pkg/supervisor"
	"github.com/psantana5/procbox/pkg/task"
)

// Server serves control requests against a supervisor.
type Server struct {
	pair    *ipc.Pair
	sup     *supervisor.Supervisor
	history store.Store
	logger  *logging.Logger
}

// NewServer starts listening on addr. The history store is optional; the
// history operation fails cleanly without it.
func NewServer(addr string, sup *supervisor.Supervisor, history store.Store, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	s := &Server{sup: sup, history: history, logger: logger}

	pair, err := ipc.Listen(addr, s.handle)
	if err != nil {
		return nil, fmt.Errorf("control server: %w", err)
	}
	s.pair = pair
	logger.Info("Control server listening", map[string]interface{}{"addr": pair.Addr()})
	return s, nil
}

// Addr returns the bound control address.
func (s *Server) Addr() string {
	return s.pair.Addr()
}

// Close shuts the control endpoint down.
func (s *Server) Close() error {
	return s.pair.Close()
}

func (s *Server) handle(msg ipc.Message) {
	if msg.Type != msgTypeRequest {
		return
	}
	var req Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		s.reply(Response{Error: "malformed request: " + err.Error()})
		return
	}
	s.reply(s.dispatch(req))
}

func (s *Server) reply(resp Response) {
	msg, err := ipc.NewMessage(msgTypeResponse, resp)
	if err != nil {
		s.logger.Error("Failed to encode control response", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := s.pair.Send(msg); err != nil && !errors.Is(err, ipc.ErrClosed) {
		s.logger.Warn("Failed to send control response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Op {
	case OpList:
		return Response{OK: true, Tasks: s.sup.InfoAll()}

	case OpInfo:
		info, err := s.sup.Info(req.ID)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Tasks: []task.Info{info}}

	case OpCreate:
		if req.Target == nil {
			return Response{Error: "create needs a target"}
		}
		info, err := s.sup.Create(req.ID, *req.Target)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Tasks: []task.Info{info}}

	case OpStart:
		if err := s.sup.Start(req.ID, req.Timeout()); err != nil {
			return errResponse(err)
		}
		return s.infoResponse(req.ID)

	case OpStop:
		if err := s.sup.Stop(req.ID, req.Timeout()); err != nil {
			return errResponse(err)
		}
		return s.infoResponse(req.ID)

	case OpRestart:
		if err := s.sup.Restart(req.ID, req.Timeout()); err != nil {
			return errResponse(err)
		}
		return s.infoResponse(req.ID)

	case OpRemove:
		if err := s.sup.Remove(req.ID); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case OpStopAll:
		results := s.sup.StopAll(req.Timeout())
		resp := Response{OK: true}
		for _, r := range results {
			or := OpResult{ID: r.ID, Status: r.Status}
			if r.Err != nil {
				or.Error = r.Err.Error()
				resp.OK = false
			}
			resp.Results = append(resp.Results, or)
		}
		return resp

	case OpHistory:
		if s.history == nil {
			return Response{Error: "history store not configured"}
		}
		trs, err := s.history.GetTransitions(req.ID)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Transitions: trs}

	default:
		return Response{Error: fmt.Sprintf("unknown operation %q", req.Op)}
	}
}

func (s *Server) infoResponse(id string) Response {
	info, err := s.sup.Info(id)
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, Tasks: []task.Info{info}}
}

func errResponse(err error) Response {
	return Response{Error: err.Error()}
}
