package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/monitorai/internal/evaluate"
)

// writeTimeout bounds a single WebSocket frame write.
const writeTimeout = 10 * time.Second

// handleEvents streams a job's progress over a WebSocket. Past events are
// replayed first; the connection closes normally after the terminal event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	j, ok := s.job(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the response.
		s.log.Warn("web: websocket accept failed", "evaluation_id", j.id, "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	past, live, cancel := j.subscribe()
	defer cancel()

	last := 0
	send := func(events []evaluate.Event) (bool, error) {
		for _, ev := range events {
			if ev.Seq <= last {
				continue
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return false, err
			}
			last = ev.Seq
			if ev.Stage.Terminal() {
				return true, nil
			}
		}
		return false, nil
	}

	finished, err := send(past)
	for err == nil && !finished {
		select {
		case ev := <-live:
			finished, err = send([]evaluate.Event{ev})
		case <-j.done:
			// Events dropped for a slow reader are still in the job log.
			finished, err = send(j.eventsAfter(last))
			if err == nil && !finished {
				finished, err = true, s.sendFinalState(ctx, conn, j, last)
			}
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Debug("web: websocket stream ended", "evaluation_id", j.id, "err", err)
		}
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// sendFinalState synthesises the terminal event for a job that ended
// without publishing one, such as a job cancelled while queued.
func (s *Server) sendFinalState(ctx context.Context, conn *websocket.Conn, j *job, last int) error {
	state, _, jobErr := j.snapshot()
	ev := evaluate.Event{EvaluationID: j.id, Seq: last + 1, Stage: evaluate.StageDone, Time: s.now()}
	if state == StateFailed {
		ev.Stage = evaluate.StageFailed
		if jobErr != nil {
			ev.Message = jobErr.Error()
		}
	}
	return writeEvent(ctx, conn, ev)
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev evaluate.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
