package chatruntime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/wendui/wendui/internal/agent"
	"github.com/wendui/wendui/internal/background"
	"github.com/wendui/wendui/internal/chat"
	"github.com/wendui/wendui/internal/observability"
	"github.com/wendui/wendui/internal/provider"
	"github.com/wendui/wendui/internal/skill"
	"github.com/wendui/wendui/internal/stream"
	"github.com/wendui/wendui/internal/suggest"
)

// ErrUnknownModel rejects a turn naming a model the registry does not know.
var ErrUnknownModel = errors.New("unknown model")

// TurnRequest is one inbound user turn.
type TurnRequest struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	SkillID string `json:"skill_id,omitempty"`
}

// TurnStart hands the starter its assistant turn id plus a live subscription
// to the stream it drives.
type TurnStart struct {
	TurnID  string
	Session *stream.Session
	Queue   <-chan stream.Payload
}

// Service orchestrates one turn end to end: persistence, routing, streaming,
// and the post-turn miners.
type Service struct {
	store        chat.Store
	skills       skill.Store
	registry     *provider.Registry
	router       *agent.Router
	broker       *stream.Broker
	suggestions  *suggest.SuggestionMiner
	drafts       *suggest.DraftMiner
	tasks        *background.Tasks
	metrics      *observability.Metrics
	historyLimit int
}

func NewService(
	store chat.Store,
	skills skill.Store,
	registry *provider.Registry,
	router *agent.Router,
	broker *stream.Broker,
	suggestions *suggest.SuggestionMiner,
	drafts *suggest.DraftMiner,
	tasks *background.Tasks,
	metrics *observability.Metrics,
	historyLimit int,
) *Service {
	if historyLimit <= 0 {
		historyLimit = 200
	}
	return &Service{
		store:        store,
		skills:       skills,
		registry:     registry,
		router:       router,
		broker:       broker,
		suggestions:  suggestions,
		drafts:       drafts,
		tasks:        tasks,
		metrics:      metrics,
		historyLimit: historyLimit,
	}
}

func (s *Service) authorizeConversation(ctx context.Context, userID, conversationID string) (chat.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}
	if conv.UserID != userID {
		return chat.Conversation{}, chat.ErrForbidden
	}
	return conv, nil
}

// resolveSkillContent loads the selected skill's latest content, enforcing
// visibility.
func (s *Service) resolveSkillContent(ctx context.Context, userID, skillID string) (string, error) {
	sk, err := s.skills.Get(ctx, skillID)
	if err != nil {
		return "", err
	}
	if sk.Visibility == skill.VisibilityPrivate && sk.OwnerID != userID {
		return "", chat.ErrForbidden
	}
	v, err := s.skills.LatestVersion(ctx, skillID)
	if err != nil {
		return "", err
	}
	return v.Content, nil
}

// StartTurn validates the request, persists the user turn plus an empty
// assistant turn, starts the broker session, and spawns the producer on a
// background context so generation survives the starter disconnecting.
func (s *Service) StartTurn(ctx context.Context, userID, conversationID string, req TurnRequest) (TurnStart, error) {
	if !s.registry.HasModel(req.Model) {
		return TurnStart{}, fmt.Errorf("%w: %s", ErrUnknownModel, req.Model)
	}
	if _, err := s.authorizeConversation(ctx, userID, conversationID); err != nil {
		return TurnStart{}, err
	}
	skillContent := ""
	if req.SkillID != "" {
		content, err := s.resolveSkillContent(ctx, userID, req.SkillID)
		if err != nil {
			return TurnStart{}, err
		}
		skillContent = content
	}

	history, err := s.store.ListTurns(ctx, conversationID, s.historyLimit, 0)
	if err != nil {
		return TurnStart{}, fmt.Errorf("load history: %w", err)
	}

	if _, err := s.store.CreateTurn(ctx, chat.Turn{
		ConversationID: conversationID,
		Role:           chat.RoleUser,
		Content:        req.Content,
		SkillID:        req.SkillID,
	}); err != nil {
		return TurnStart{}, fmt.Errorf("persist user turn: %w", err)
	}
	assistant, err := s.store.CreateTurn(ctx, chat.Turn{
		ConversationID: conversationID,
		Role:           chat.RoleAssistant,
		SkillID:        req.SkillID,
	})
	if err != nil {
		return TurnStart{}, fmt.Errorf("persist assistant turn: %w", err)
	}

	s.broker.Start(conversationID, assistant.ID)
	session, queue, _, ok := s.broker.Subscribe(conversationID)
	if !ok {
		return TurnStart{}, fmt.Errorf("stream session vanished for conversation %s", conversationID)
	}

	in := agent.StreamInput{
		Model:           req.Model,
		ConversationID:  conversationID,
		UserID:          userID,
		Prompt:          req.Content,
		History:         history,
		SelectedSkillID: req.SkillID,
		SkillContent:    skillContent,
	}
	s.tasks.Go("turn-producer", func() error {
		s.produce(context.Background(), in, assistant.ID)
		return nil
	})

	return TurnStart{TurnID: assistant.ID, Session: session, Queue: queue}, nil
}

// produce drives one generation: router output into the broker, accumulated
// text into the assistant turn, then the miners. The session is always
// finished, success or not.
func (s *Service) produce(ctx context.Context, in agent.StreamInput, assistantTurnID string) {
	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
	}
	defer s.broker.Finish(in.ConversationID)

	started := time.Now()
	firstDelta := true
	accumulated := ""
	final, err := s.router.Stream(ctx, in, func(delta string) error {
		if firstDelta {
			firstDelta = false
			if s.metrics != nil {
				s.metrics.ObserveFirstDeltaLatency(time.Since(started))
				s.metrics.Stages.Observe("prompt_to_first_delta", float64(time.Since(started).Milliseconds()))
			}
		}
		accumulated += delta
		s.broker.Append(in.ConversationID, delta)
		if s.metrics != nil {
			s.metrics.StreamEvents.WithLabelValues(string(stream.PayloadDelta)).Inc()
		}
		return nil
	})
	if err != nil {
		log.Printf("turn.generation_failed conversation=%s turn=%s error=%v", in.ConversationID, assistantTurnID, err)
		s.broker.Error(in.ConversationID, err.Error())
		if s.metrics != nil {
			s.metrics.StreamEvents.WithLabelValues(string(stream.PayloadError)).Inc()
			s.metrics.Stages.ObserveIndicator("generation_failed")
		}
	} else {
		accumulated = final
		if s.metrics != nil {
			s.metrics.Stages.Observe("generation_total", float64(time.Since(started).Milliseconds()))
		}
	}

	if uerr := s.store.UpdateTurnContent(ctx, assistantTurnID, accumulated); uerr != nil {
		log.Printf("turn.persist_failed conversation=%s turn=%s error=%v", in.ConversationID, assistantTurnID, uerr)
	}

	if err != nil {
		return
	}

	mine := suggest.MineInput{
		Model:            in.Model,
		UserID:           in.UserID,
		ConversationID:   in.ConversationID,
		Prompt:           in.Prompt,
		History:          in.History,
		AssistantTurnID:  assistantTurnID,
		AssistantContent: accumulated,
		SelectedSkillID:  in.SelectedSkillID,
	}
	s.tasks.Go("suggestion-miner", func() error {
		minedAt := time.Now()
		err := s.suggestions.Mine(context.Background(), mine)
		if s.metrics != nil {
			s.metrics.Stages.Observe("suggestion_mining", float64(time.Since(minedAt).Milliseconds()))
		}
		return err
	})
	s.tasks.Go("draft-miner", func() error {
		minedAt := time.Now()
		err := s.drafts.Mine(context.Background(), mine)
		if s.metrics != nil {
			s.metrics.Stages.Observe("draft_mining", float64(time.Since(minedAt).Milliseconds()))
		}
		return err
	})
}

// Watch subscribes to the conversation's in-flight stream, if any.
func (s *Service) Watch(conversationID string) (*stream.Session, <-chan stream.Payload, string, bool) {
	return s.broker.Subscribe(conversationID)
}

// Unwatch releases a watcher's queue.
func (s *Service) Unwatch(session *stream.Session, queue <-chan stream.Payload) {
	s.broker.Unsubscribe(session, queue)
}
