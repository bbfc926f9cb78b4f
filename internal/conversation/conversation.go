// Package conversation runs the duplex channel between a browser client and
// its avatar session: each user utterance is classified, optionally starts the
// billing workflow, gets a reply and is relayed to the avatar.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/compai/avatar-relay/internal/avatar"
	"github.com/compai/avatar-relay/internal/domain"
	"github.com/compai/avatar-relay/internal/metrics"
	"github.com/compai/avatar-relay/internal/rpa"
)

// User visible texts.
const (
	MsgBillingProcessing = "Iniciando proceso UiPath para consulta de facturación..."
	MsgEmailRequired     = "Debes validar tu email antes de usar esta funcionalidad"
	MsgCompletionRunning = "Procesando con OpenAI..."
	MsgTaskSent          = "Respuesta enviada al avatar"
	MsgSessionExpired    = "Tu sesión ha expirado por inactividad. Haz clic en 'Crear Sesión' para iniciar una nueva."
	MsgWelcomeSent       = "Mensaje de bienvenida enviado al avatar"

	// CannedBillingReply is spoken for every billing turn instead of a
	// generated answer.
	CannedBillingReply = "Estamos analizando el contrato y tu caso de uso, en un momento recibirás en tu correo el análisis completo"
)

// Sessions is the session surface the channel needs.
type Sessions interface {
	Get(id string) (domain.Session, bool)
	SendTask(ctx context.Context, id, text string, taskType avatar.TaskType) (*avatar.TaskAck, error)
	TeardownRemote(ctx context.Context, id string) error
}

// Classifier decides whether free text is a billing query.
type Classifier interface {
	Classify(text string) bool
}

// Completer produces an assistant reply.
type Completer interface {
	Complete(ctx context.Context, text string) (string, error)
}

// Trigger starts the billing workflow.
type Trigger interface {
	Trigger(ctx context.Context, req rpa.TriggerRequest) rpa.TriggerResult
}

// Conn is one client channel. Read blocks for the next frame; any error ends
// the conversation.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, ev Event) error
}

// State is the per-connection state.
type State int

const (
	StateConnecting State = iota
	StateSessionInfoSent
	StateListening
	StateProcessing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSessionInfoSent:
		return "session_info_sent"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ReplySource tells where a turn's reply came from.
type ReplySource string

const (
	ReplyCompletion ReplySource = "completion"
	ReplyCanned     ReplySource = "canned"
)

// Turn is one processed utterance.
type Turn struct {
	ID          string
	Text        string
	CaseLabel   string
	Billing     bool
	Reply       string
	ReplySource ReplySource
	// RPA is nil when no workflow was triggered.
	RPA *rpa.TriggerResult
}

// Service drives conversations. It holds no per-connection state and is safe
// for concurrent use.
type Service struct {
	sessions   Sessions
	classifier Classifier
	completer  Completer
	trigger    Trigger
	metrics    metrics.Recorder
}

// NewService creates a conversation service.
func NewService(sessions Sessions, classifier Classifier, completer Completer, trigger Trigger, rec metrics.Recorder) *Service {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		sessions:   sessions,
		classifier: classifier,
		completer:  completer,
		trigger:    trigger,
		metrics:    rec,
	}
}

type channel struct {
	svc       *Service
	sessionID string
	conn      Conn
	state     State
}

func (c *channel) setState(s State) {
	slog.Debug("Conversation state changed", "session_id", c.sessionID, "from", c.state.String(), "to", s.String())
	c.state = s
}

// Serve runs the conversation until the client leaves or sends close. It
// returns domain.ErrSessionNotFound, before writing anything, when the session
// is unknown; read errors end the loop with a nil error.
func (s *Service) Serve(ctx context.Context, sessionID string, conn Conn) error {
	c := &channel{svc: s, sessionID: sessionID, conn: conn, state: StateConnecting}
	defer c.setState(StateClosed)

	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		slog.Warn("Conversation requested for unknown session", "session_id", sessionID)
		return domain.ErrSessionNotFound
	}

	err := conn.Write(ctx, SessionInfoEvent{
		Type: EventSessionInfo,
		Data: SessionInfo{
			SessionID:    sessionID,
			LivekitURL:   sess.Credentials.URL,
			LivekitToken: sess.Credentials.AccessToken,
		},
	})
	if err != nil {
		return nil
	}
	c.setState(StateSessionInfoSent)
	c.setState(StateListening)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			slog.Debug("Conversation read ended", "session_id", sessionID, "error", err)
			return nil
		}

		msg, err := DecodeInbound(data)
		if err != nil {
			slog.Warn("Invalid client message", "session_id", sessionID, "error", err)
			if werr := conn.Write(ctx, notice(EventError, "Error: "+err.Error())); werr != nil {
				return nil
			}
			continue
		}

		switch m := msg.(type) {
		case TaskMessage:
			if strings.TrimSpace(m.Text) == "" {
				continue
			}
			c.setState(StateProcessing)
			err = c.handleTask(ctx, m)
			c.setState(StateListening)
		case WelcomeMessage:
			if strings.TrimSpace(m.Text) == "" {
				continue
			}
			c.setState(StateProcessing)
			err = c.handleWelcome(ctx, m)
			c.setState(StateListening)
		case CloseMessage:
			if terr := s.sessions.TeardownRemote(context.WithoutCancel(ctx), sessionID); terr != nil {
				slog.Error("Failed to tear down session from channel", "session_id", sessionID, "error", terr)
			} else {
				slog.Info("Session torn down from channel", "session_id", sessionID)
			}
			return nil
		}
		if err != nil {
			slog.Debug("Conversation write failed", "session_id", sessionID, "error", err)
			return nil
		}
	}
}

// handleTask runs one turn. Only write errors are returned; turn failures
// are reported to the client as events.
func (c *channel) handleTask(ctx context.Context, m TaskMessage) error {
	// Provider calls outlive a disconnect; their results are simply dropped.
	callCtx := context.WithoutCancel(ctx)
	turn := &Turn{ID: uuid.NewString(), Text: m.Text, CaseLabel: m.QuestionCase}
	turn.Billing = m.QuestionCase != "" || c.svc.classifier.Classify(m.Text)

	log := slog.With("session_id", c.sessionID, "turn_id", turn.ID, "billing", turn.Billing)
	log.Info("Conversation turn started")
	if turn.Billing {
		c.svc.metrics.RecordTurn("billing")
	} else {
		c.svc.metrics.RecordTurn("general")
	}

	if turn.Billing {
		if err := c.conn.Write(ctx, notice(EventProcessing, MsgBillingProcessing)); err != nil {
			return err
		}

		sess, _ := c.svc.sessions.Get(c.sessionID)
		if !sess.HasEmail() {
			log.Warn("Billing query without validated email")
			return c.conn.Write(ctx, notice(EventUiPathError, MsgEmailRequired))
		}

		caseText := m.QuestionCase
		if caseText == "" {
			caseText = m.Text
		}
		res := c.svc.trigger.Trigger(callCtx, rpa.TriggerRequest{
			Question:  m.Text,
			Email:     sess.Email,
			CaseText:  caseText,
			SessionID: c.sessionID,
		})
		turn.RPA = &res

		var ev NoticeEvent
		if res.OK() {
			ev = notice(EventUiPathSuccess, fmt.Sprintf("Proceso UiPath iniciado exitosamente (Job: %d)", res.JobID))
			ev.JobID = res.JobID
		} else {
			ev = notice(EventUiPathError, "Error en proceso UiPath: "+res.Message)
		}
		if err := c.conn.Write(ctx, ev); err != nil {
			return err
		}

		turn.Reply = CannedBillingReply
		turn.ReplySource = ReplyCanned
	} else {
		if err := c.conn.Write(ctx, notice(EventProcessing, MsgCompletionRunning)); err != nil {
			return err
		}

		reply, err := c.svc.completer.Complete(callCtx, m.Text)
		if err != nil {
			log.Error("Completion failed", "error", err)
			return c.conn.Write(ctx, notice(EventError, "Error procesando con OpenAI: "+err.Error()))
		}
		turn.Reply = reply
		turn.ReplySource = ReplyCompletion
	}

	if _, err := c.svc.sessions.SendTask(callCtx, c.sessionID, turn.Reply, avatar.TaskRepeat); err != nil {
		return c.reportRelayError(ctx, log, err)
	}

	log.Info("Conversation turn completed", "reply_source", turn.ReplySource)
	return c.conn.Write(ctx, TaskSentEvent{
		Type:            EventTaskSent,
		Message:         MsgTaskSent,
		TurnID:          turn.ID,
		UserInput:       turn.Text,
		OpenAIResponse:  turn.Reply,
		UiPathTriggered: turn.RPA != nil,
		UiPathResult:    turn.RPA,
	})
}

func (c *channel) handleWelcome(ctx context.Context, m WelcomeMessage) error {
	if _, err := c.svc.sessions.SendTask(context.WithoutCancel(ctx), c.sessionID, m.Text, avatar.TaskRepeat); err != nil {
		slog.Error("Failed to send welcome message", "session_id", c.sessionID, "error", err)
		return c.conn.Write(ctx, notice(EventError, "Error enviando mensaje de bienvenida: "+err.Error()))
	}
	return c.conn.Write(ctx, notice(EventWelcomeSent, MsgWelcomeSent))
}

func (c *channel) reportRelayError(ctx context.Context, log *slog.Logger, err error) error {
	if errors.Is(err, domain.ErrSessionExpired) {
		log.Warn("Avatar session expired during turn")
		return c.conn.Write(ctx, notice(EventSessionExpired, MsgSessionExpired))
	}
	log.Error("Failed to relay reply to avatar", "error", err)
	return c.conn.Write(ctx, notice(EventError, "Error: "+err.Error()))
}
