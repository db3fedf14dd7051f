package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sms-agent/internal/domain"
	"sms-agent/internal/integrations/openai"
)

const testUser = "+15551234567"

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type mockParams struct {
	vals map[string]string
	err  error
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

type transientParams struct {
	*mockParams
	failOnce bool
}

func (p *transientParams) GetParameter(ctx context.Context, name string) (string, error) {
	if p.failOnce {
		p.failOnce = false
		return "", errors.New("temporary ssm failure")
	}
	return p.mockParams.GetParameter(ctx, name)
}

type mockLLM struct {
	reply string
	err   error

	callCount     int
	capturedModel string
	captured      []domain.ChatMessage
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	m.callCount++
	m.capturedModel = model
	m.captured = msgs
	return m.reply, m.err
}

type mockStore struct {
	rec   domain.ConversationRecord
	found bool

	getErr    error
	putErr    error
	deleteErr error

	getInvoked    bool
	putInvoked    bool
	deleteInvoked bool
	putUserID     string
	putRec        domain.ConversationRecord
}

func (m *mockStore) GetConversation(_ context.Context, _ string) (domain.ConversationRecord, bool, error) {
	m.getInvoked = true
	return m.rec, m.found, m.getErr
}

func (m *mockStore) PutConversation(_ context.Context, userID string, rec domain.ConversationRecord) error {
	m.putInvoked = true
	m.putUserID = userID
	m.putRec = rec
	return m.putErr
}

func (m *mockStore) DeleteConversation(_ context.Context, _ string) error {
	m.deleteInvoked = true
	return m.deleteErr
}

type mockResetter struct {
	resetUser string
	invoked   bool
}

func (m *mockResetter) Reset(userID string) {
	m.invoked = true
	m.resetUser = userID
}

func defaultParams() *mockParams {
	return &mockParams{
		vals: map[string]string{
			"/prefix/persona":             "Friendly and concise.",
			"/prefix/config/openai_model": "gpt-4o-mini",
		},
	}
}

func defaultSettings() Settings {
	return Settings{
		ParamPrefix:  "/prefix",
		AgentName:    "TestBot",
		MaxTurns:     20,
		Expiration:   24 * time.Hour,
		AgentTimeout: 5 * time.Second,
	}
}

func newTestService(t *testing.T, p ParamGetter, llm LLMClient, store ConversationStore, limits LimitResetter, cfg Settings) *ChatService {
	t.Helper()
	svc, err := NewChatService(p, llm, store, limits, cfg)
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow }
	return svc
}

func expectChatError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
	require.Equal(t, reason, ucErr.Reason)
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	_, err := NewChatService(nil, &mockLLM{}, &mockStore{}, nil, defaultSettings())
	require.Error(t, err)

	_, err = NewChatService(defaultParams(), nil, &mockStore{}, nil, defaultSettings())
	require.Error(t, err)

	_, err = NewChatService(defaultParams(), &mockLLM{}, nil, nil, defaultSettings())
	require.Error(t, err)

	cfg := defaultSettings()
	cfg.ParamPrefix = "  "
	_, err = NewChatService(defaultParams(), &mockLLM{}, &mockStore{}, nil, cfg)
	require.Error(t, err)
}

func TestHandle_FirstMessage(t *testing.T) {
	store := &mockStore{}
	llm := &mockLLM{reply: "Hi! How can I help?"}
	svc := newTestService(t, defaultParams(), llm, store, nil, defaultSettings())

	out, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "Hi! How can I help?", out.Reply)
	require.False(t, out.StorageDegraded)

	// Empty history: system prompt plus the new message only.
	require.Equal(t, 1, llm.callCount)
	require.Equal(t, "gpt-4o-mini", llm.capturedModel)
	require.Len(t, llm.captured, 2)
	require.Equal(t, "system", llm.captured[0].Role)
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "hello"}, llm.captured[1])

	// Both turns persisted, user first.
	require.True(t, store.putInvoked)
	require.Equal(t, testUser, store.putUserID)
	require.Len(t, store.putRec.Turns, 2)
	require.Equal(t, domain.RoleUser, store.putRec.Turns[0].Role)
	require.Equal(t, "hello", store.putRec.Turns[0].Text)
	require.Equal(t, domain.RoleAssistant, store.putRec.Turns[1].Role)
	require.Equal(t, "Hi! How can I help?", store.putRec.Turns[1].Text)
	require.True(t, store.putRec.LastActivity.Equal(testNow))
}

func TestHandle_HistoryReplayedInOrder(t *testing.T) {
	store := &mockStore{
		found: true,
		rec: domain.ConversationRecord{
			Turns: []domain.Turn{
				{Role: domain.RoleUser, Text: "what's the weather?", Timestamp: testNow.Add(-time.Hour)},
				{Role: domain.RoleAssistant, Text: "Sunny and warm.", Timestamp: testNow.Add(-time.Hour)},
			},
			LastActivity: testNow.Add(-time.Hour),
		},
	}
	llm := &mockLLM{reply: "You're welcome!"}
	svc := newTestService(t, defaultParams(), llm, store, nil, defaultSettings())

	_, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "thanks"})
	require.NoError(t, err)

	require.Len(t, llm.captured, 4)
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "what's the weather?"}, llm.captured[1])
	require.Equal(t, domain.ChatMessage{Role: "assistant", Content: "Sunny and warm."}, llm.captured[2])
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "thanks"}, llm.captured[3])

	require.Len(t, store.putRec.Turns, 4)
}

func TestHandle_TrimsOldestTurnsFIFO(t *testing.T) {
	turns := make([]domain.Turn, 0, 4)
	for i := 0; i < 2; i++ {
		turns = append(turns,
			domain.Turn{Role: domain.RoleUser, Text: fmt.Sprintf("q%d", i), Timestamp: testNow.Add(-time.Hour)},
			domain.Turn{Role: domain.RoleAssistant, Text: fmt.Sprintf("a%d", i), Timestamp: testNow.Add(-time.Hour)},
		)
	}
	store := &mockStore{found: true, rec: domain.ConversationRecord{Turns: turns, LastActivity: testNow.Add(-time.Hour)}}
	llm := &mockLLM{reply: "a2"}

	cfg := defaultSettings()
	cfg.MaxTurns = 4
	svc := newTestService(t, defaultParams(), llm, store, nil, cfg)

	_, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "q2"})
	require.NoError(t, err)

	// Stored length is exactly N, holding the most recent turns in their
	// original relative order.
	require.Len(t, store.putRec.Turns, 4)
	require.Equal(t, "q1", store.putRec.Turns[0].Text)
	require.Equal(t, "a1", store.putRec.Turns[1].Text)
	require.Equal(t, "q2", store.putRec.Turns[2].Text)
	require.Equal(t, "a2", store.putRec.Turns[3].Text)
}

func TestHandle_ExpiredRecordTreatedAsAbsent(t *testing.T) {
	store := &mockStore{
		found: true,
		rec: domain.ConversationRecord{
			Turns: []domain.Turn{
				{Role: domain.RoleUser, Text: "old question", Timestamp: testNow.Add(-25 * time.Hour)},
				{Role: domain.RoleAssistant, Text: "old answer", Timestamp: testNow.Add(-25 * time.Hour)},
			},
			LastActivity: testNow.Add(-25 * time.Hour),
		},
	}
	llm := &mockLLM{reply: "fresh start"}
	svc := newTestService(t, defaultParams(), llm, store, nil, defaultSettings())

	_, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello again"})
	require.NoError(t, err)

	// Stale turns never reach the prompt or the new record.
	require.Len(t, llm.captured, 2)
	require.Len(t, store.putRec.Turns, 2)
	require.Equal(t, "hello again", store.putRec.Turns[0].Text)
}

func TestHandle_RecentRecordSurvives(t *testing.T) {
	store := &mockStore{
		found: true,
		rec: domain.ConversationRecord{
			Turns: []domain.Turn{
				{Role: domain.RoleUser, Text: "recent question", Timestamp: testNow.Add(-23 * time.Hour)},
				{Role: domain.RoleAssistant, Text: "recent answer", Timestamp: testNow.Add(-23 * time.Hour)},
			},
			LastActivity: testNow.Add(-23 * time.Hour),
		},
	}
	llm := &mockLLM{reply: "ok"}
	svc := newTestService(t, defaultParams(), llm, store, nil, defaultSettings())

	_, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello"})
	require.NoError(t, err)
	require.Len(t, llm.captured, 4)
}

func TestHandle_MissingUser(t *testing.T) {
	svc := newTestService(t, defaultParams(), &mockLLM{}, &mockStore{}, nil, defaultSettings())
	_, err := svc.Handle(context.Background(), ChatInput{Message: "hello"})
	expectChatError(t, err, ErrorInvalidInput, "missing_user")
}

func TestHandle_EmptyMessage(t *testing.T) {
	store := &mockStore{}
	llm := &mockLLM{}
	svc := newTestService(t, defaultParams(), llm, store, nil, defaultSettings())

	out, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "   "})
	require.NoError(t, err)
	require.NotEmpty(t, out.Reply)
	require.Zero(t, llm.callCount)
	require.False(t, store.putInvoked)
}

func TestHandle_SSMLoadError(t *testing.T) {
	svc := newTestService(t, &mockParams{err: errors.New("ssm unavailable")}, &mockLLM{}, &mockStore{}, nil, defaultSettings())
	_, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello"})
	expectChatError(t, err, ErrorInternal, "ssm_load_error")
}

func TestHandle_SSMLoadError_RetriedOnNextRequest(t *testing.T) {
	p := &transientParams{mockParams: defaultParams(), failOnce: true}
	llm := &mockLLM{reply: "ok"}
	svc := newTestService(t, p, llm, &mockStore{}, nil, defaultSettings())

	_, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello"})
	expectChatError(t, err, ErrorInternal, "ssm_load_error")

	out, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "ok", out.Reply)
}

func TestHandle_ProviderErrors(t *testing.T) {
	store := &mockStore{}
	svc := newTestService(t, defaultParams(), &mockLLM{err: &openai.HTTPStatusError{StatusCode: http.StatusInternalServerError}}, store, nil, defaultSettings())
	_, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello"})
	expectChatError(t, err, ErrorUpstream, "provider_error")
	// No reply exists to pair with the inbound turn, so nothing persists.
	require.False(t, store.putInvoked)

	svc = newTestService(t, defaultParams(), &mockLLM{err: &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}}, &mockStore{}, nil, defaultSettings())
	_, err = svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello"})
	expectChatError(t, err, ErrorRateLimited, "provider_rate_limited")

	svc = newTestService(t, defaultParams(), &mockLLM{err: context.DeadlineExceeded}, &mockStore{}, nil, defaultSettings())
	_, err = svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello"})
	expectChatError(t, err, ErrorUpstream, "provider_timeout")

	svc = newTestService(t, defaultParams(), &mockLLM{reply: "  "}, &mockStore{}, nil, defaultSettings())
	_, err = svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello"})
	expectChatError(t, err, ErrorUpstream, "provider_empty_reply")
}

func TestHandle_StoreLoadFailureDegrades(t *testing.T) {
	store := &mockStore{getErr: errors.New("dynamodb down")}
	llm := &mockLLM{reply: "still here"}
	svc := newTestService(t, defaultParams(), llm, store, nil, defaultSettings())

	out, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "still here", out.Reply)
	require.True(t, out.StorageDegraded)

	// The turn is still written on the way out; the write may succeed
	// even when the read did not.
	require.True(t, store.putInvoked)
	require.Len(t, store.putRec.Turns, 2)
}

func TestHandle_StorePersistFailureDegrades(t *testing.T) {
	store := &mockStore{putErr: errors.New("dynamodb down")}
	llm := &mockLLM{reply: "still here"}
	svc := newTestService(t, defaultParams(), llm, store, nil, defaultSettings())

	out, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "still here", out.Reply)
	require.True(t, out.StorageDegraded)
}

func TestHandle_HelpCommandIsReadOnly(t *testing.T) {
	store := &mockStore{}
	llm := &mockLLM{}
	svc := newTestService(t, defaultParams(), llm, store, nil, defaultSettings())

	for _, msg := range []string{"help", "HELP", "/help", "?", " Help "} {
		out, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: msg})
		require.NoError(t, err, msg)
		require.True(t, out.Command)
		require.Contains(t, out.Reply, "TestBot")
	}
	require.Zero(t, llm.callCount)
	require.False(t, store.getInvoked)
	require.False(t, store.putInvoked)
	require.False(t, store.deleteInvoked)
}

func TestHandle_StatusAndInfoCommands(t *testing.T) {
	svc := newTestService(t, defaultParams(), &mockLLM{}, &mockStore{}, nil, defaultSettings())

	out, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "status"})
	require.NoError(t, err)
	require.True(t, out.Command)
	require.Contains(t, out.Reply, "Online")

	out, err = svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "/info"})
	require.NoError(t, err)
	require.True(t, out.Command)
	require.Contains(t, out.Reply, "24h")
}

func TestHandle_ResetClearsHistoryAndRateWindows(t *testing.T) {
	store := &mockStore{}
	resetter := &mockResetter{}
	llm := &mockLLM{}
	svc := newTestService(t, defaultParams(), llm, store, resetter, defaultSettings())

	out, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "reset"})
	require.NoError(t, err)
	require.True(t, out.Command)
	require.Contains(t, out.Reply, "cleared")
	require.True(t, store.deleteInvoked)
	require.True(t, resetter.invoked)
	require.Equal(t, testUser, resetter.resetUser)
	require.Zero(t, llm.callCount)
}

func TestHandle_ResetAliases(t *testing.T) {
	for _, msg := range []string{"clear", "/reset", "RESET"} {
		store := &mockStore{}
		svc := newTestService(t, defaultParams(), &mockLLM{}, store, nil, defaultSettings())
		_, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: msg})
		require.NoError(t, err, msg)
		require.True(t, store.deleteInvoked, msg)
	}
}

func TestHandle_ResetDeleteFailure(t *testing.T) {
	store := &mockStore{deleteErr: errors.New("dynamodb down")}
	svc := newTestService(t, defaultParams(), &mockLLM{}, store, &mockResetter{}, defaultSettings())

	_, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "reset"})
	expectChatError(t, err, ErrorInternal, "store_delete_error")
}

func TestHandle_CommandLookalikesReachTheAgent(t *testing.T) {
	llm := &mockLLM{reply: "ok"}
	svc := newTestService(t, defaultParams(), llm, &mockStore{}, nil, defaultSettings())

	_, err := svc.Handle(context.Background(), ChatInput{UserID: testUser, Message: "help me plan a trip"})
	require.NoError(t, err)
	require.Equal(t, 1, llm.callCount)
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := buildSystemPrompt("Warm,   witty.\nLoves weather.", "TestBot")
	require.Contains(t, prompt, "TestBot")
	require.Contains(t, prompt, "SMS")
	require.Contains(t, prompt, "Warm, witty. Loves weather.")

	bare := buildSystemPrompt("  ", "TestBot")
	require.NotContains(t, bare, "Persona:")
}

func TestBuildPromptMessages_SkipsBlankTurns(t *testing.T) {
	history := []domain.Turn{
		{Role: domain.RoleUser, Text: "  ", Timestamp: testNow},
		{Role: domain.RoleAssistant, Text: "kept", Timestamp: testNow},
	}
	msgs := buildPromptMessages("", "TestBot", history, "new question")
	require.Len(t, msgs, 3)
	require.Equal(t, "kept", msgs[1].Content)
	require.Equal(t, "new question", msgs[2].Content)
}

func TestParseCommand(t *testing.T) {
	for in, want := range map[string]string{
		"help": "help", "?": "help", "/HELP": "help",
		"clear": "reset", "Reset": "reset",
		"status": "status", "/info": "info",
	} {
		cmd, ok := parseCommand(in)
		require.True(t, ok, in)
		require.Equal(t, want, cmd, in)
	}

	_, ok := parseCommand("help me")
	require.False(t, ok)
	_, ok = parseCommand("what's your status?")
	require.False(t, ok)
	_, ok = parseCommand(strings.Repeat("?", 2))
	require.False(t, ok)
}
