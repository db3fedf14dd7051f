package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"sms-agent/internal/domain"
)

const (
	defaultMaxTurns     = 20
	defaultExpiration   = 24 * time.Hour
	defaultAgentTimeout = 25 * time.Second
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// ConversationStore is the persistence surface for conversation records.
type ConversationStore interface {
	GetConversation(ctx context.Context, userID string) (domain.ConversationRecord, bool, error)
	PutConversation(ctx context.Context, userID string, rec domain.ConversationRecord) error
	DeleteConversation(ctx context.Context, userID string) error
}

// LimitResetter clears a user's rate-limit windows. Consumed by the reset
// command.
type LimitResetter interface {
	Reset(userID string)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Settings carries the chat-service configuration. Values are fixed at
// construction.
type Settings struct {
	ParamPrefix  string
	AgentName    string
	MaxTurns     int
	Expiration   time.Duration
	AgentTimeout time.Duration
}

// ChatService owns the conversation lifecycle for one turn: load the
// record, delegate to the model, append both turns, trim, persist. It is
// the only component that mutates conversation state.
type ChatService struct {
	params ParamGetter
	llm    LLMClient
	store  ConversationStore
	limits LimitResetter

	paramPrefix  string
	agentName    string
	maxTurns     int
	expiration   time.Duration
	agentTimeout time.Duration

	cacheMu     sync.RWMutex
	cacheLoaded bool
	persona     string
	model       string

	now func() time.Time
}

type ChatInput struct {
	UserID    string
	Message   string
	RequestID string
}

type ChatOutput struct {
	Reply string
	// Command is true when the reply came from a command short-circuit
	// and the agent was never invoked.
	Command bool
	// StorageDegraded signals that this turn was served from memory only
	// because the store was unavailable for load or persist.
	StorageDegraded bool
}

// NewChatService wires the conversation manager.
func NewChatService(p ParamGetter, llm LLMClient, store ConversationStore, limits LimitResetter, cfg Settings) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	prefix := strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if prefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = defaultExpiration
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = defaultAgentTimeout
	}
	if strings.TrimSpace(cfg.AgentName) == "" {
		cfg.AgentName = "AI Assistant"
	}
	return &ChatService{
		params:       p,
		llm:          llm,
		store:        store,
		limits:       limits,
		paramPrefix:  prefix,
		agentName:    cfg.AgentName,
		maxTurns:     cfg.MaxTurns,
		expiration:   cfg.Expiration,
		agentTimeout: cfg.AgentTimeout,
		now:          time.Now,
	}, nil
}

// Handle runs one conversation turn. A storage outage never fails the
// turn: the reply is still generated from whatever history is in hand and
// the degradation is reported to the caller for logging. A provider
// failure fails the turn without persisting anything, so history only
// ever holds complete user/assistant pairs.
func (s *ChatService) Handle(ctx context.Context, in ChatInput) (ChatOutput, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "missing_user", nil)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{Reply: emptyMessageReply}, nil
	}

	if cmd, ok := parseCommand(message); ok {
		return s.handleCommand(ctx, in.UserID, cmd)
	}

	if err := s.ensureConfig(ctx); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	now := s.now()
	rec, degraded := s.loadRecord(ctx, in.UserID, now)

	callCtx, cancel := context.WithTimeout(ctx, s.agentTimeout)
	defer cancel()
	reply, err := s.llm.Chat(callCtx, s.model, buildPromptMessages(s.persona, s.agentName, rec.Turns, message))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
			return ChatOutput{}, newError(ErrorRateLimited, "provider_rate_limited", err)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return ChatOutput{}, newError(ErrorUpstream, "provider_timeout", err)
		}
		return ChatOutput{}, newError(ErrorUpstream, "provider_error", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return ChatOutput{}, newError(ErrorUpstream, "provider_empty_reply", nil)
	}

	rec.Turns = append(rec.Turns,
		domain.Turn{Role: domain.RoleUser, Text: message, Timestamp: now},
		domain.Turn{Role: domain.RoleAssistant, Text: reply, Timestamp: s.now()},
	)
	// FIFO trim: oldest turns go first, whole turns only.
	if excess := len(rec.Turns) - s.maxTurns; excess > 0 {
		rec.Turns = append([]domain.Turn(nil), rec.Turns[excess:]...)
	}
	rec.LastActivity = rec.Turns[len(rec.Turns)-1].Timestamp

	if err := s.store.PutConversation(ctx, in.UserID, rec); err != nil {
		slog.Warn("conversation persist failed, turn kept in memory only",
			"user", in.UserID, "request_id", in.RequestID, "err", err)
		degraded = true
	}

	return ChatOutput{Reply: reply, StorageDegraded: degraded}, nil
}

// loadRecord fetches the user's record, treating logically expired or
// missing records as empty. A store failure degrades to an empty in-memory
// record for this turn.
func (s *ChatService) loadRecord(ctx context.Context, userID string, now time.Time) (domain.ConversationRecord, bool) {
	rec, found, err := s.store.GetConversation(ctx, userID)
	if err != nil {
		slog.Warn("conversation load failed, starting from empty history",
			"user", userID, "err", err)
		return domain.ConversationRecord{LastActivity: now}, true
	}
	if !found || rec.ExpiredAt(now, s.expiration) {
		return domain.ConversationRecord{LastActivity: now}, false
	}
	return rec, false
}

// ensureConfig loads the persona prompt and model name from SSM once per
// warm instance. A failed load is retried on the next request.
func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	persona, err := s.params.GetParameter(ctx, s.paramPrefix+"/persona")
	if err != nil {
		return fmt.Errorf("usecase: load persona: %w", err)
	}
	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/openai_model")
	if err != nil {
		return fmt.Errorf("usecase: load openai model: %w", err)
	}

	s.persona = persona
	s.model = model
	s.cacheLoaded = true
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
