package broadcast

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	e "nuclight.org/community-tg-bot/pkg/entities"
	"nuclight.org/community-tg-bot/pkg/logger"
)

type memSessions struct {
	sessions map[int64]e.BroadcastSession
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[int64]e.BroadcastSession)}
}

func (m *memSessions) GetSession(_ context.Context, id int64) (*e.BroadcastSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSessions) SetSession(_ context.Context, s e.BroadcastSession) error {
	m.sessions[s.PrincipalID] = s
	return nil
}

func (m *memSessions) ClearSession(_ context.Context, id int64) error {
	delete(m.sessions, id)
	return nil
}

func (m *memSessions) ClearAllSessions(context.Context) (int64, error) {
	n := int64(len(m.sessions))
	m.sessions = make(map[int64]e.BroadcastSession)
	return n, nil
}

func (m *memSessions) ClearIdleSessions(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, s := range m.sessions {
		if s.LastActivityAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) TouchSession(_ context.Context, id int64, at time.Time) error {
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	s.LastActivityAt = at
	m.sessions[id] = s
	return nil
}

func (m *memSessions) ListSessions(context.Context) ([]e.SessionInfo, error) {
	var out []e.SessionInfo
	for _, s := range m.sessions {
		out = append(out, e.SessionInfo{Session: s})
	}
	return out, nil
}

type sentText struct {
	chatID int64
	text   string
}

type forwarded struct {
	chatID     int64
	fromChatID int64
	messageID  int
}

type recTransport struct {
	texts    []sentText
	forwards []forwarded
}

func (r *recTransport) SendText(_ context.Context, chatID int64, text string) error {
	r.texts = append(r.texts, sentText{chatID, text})
	return nil
}

func (r *recTransport) ForwardMessage(_ context.Context, chatID, fromChatID int64, messageID int) error {
	r.forwards = append(r.forwards, forwarded{chatID, fromChatID, messageID})
	return nil
}

type recStats struct {
	forwards []string
}

func (r *recStats) RecordForward(_ context.Context, _ int64, messageType string) error {
	r.forwards = append(r.forwards, messageType)
	return nil
}

func newEngine(repo SessionRepository) (*Engine, *recTransport, *recStats) {
	tr := &recTransport{}
	st := &recStats{}
	en := &Engine{
		Log:           logger.NewNop(),
		Sessions:      repo,
		Stats:         st,
		Sender:        tr,
		DefaultChatID: -100,
		IdleTimeout:   5 * time.Minute,
	}
	return en, tr, st
}

func TestToggleSameModeTurnsOff(t *testing.T) {
	repo := newMemSessions()
	en, _, _ := newEngine(repo)
	actor := e.Principal{ID: 1, Role: e.RoleGnome}

	active, err := en.Toggle(context.Background(), actor, e.ModeSigned, 55, nil)
	if err != nil || !active {
		t.Fatalf("first toggle: active=%v err=%v", active, err)
	}

	active, err = en.Toggle(context.Background(), actor, e.ModeSigned, 55, nil)
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Fatal("second toggle of the same mode should turn the session off")
	}
	if len(repo.sessions) != 0 {
		t.Fatal("session still stored after idempotent toggle pair")
	}
}

func TestToggleOtherModeReplaces(t *testing.T) {
	repo := newMemSessions()
	en, _, _ := newEngine(repo)
	actor := e.Principal{ID: 1, Role: e.RoleGnome}

	if _, err := en.Toggle(context.Background(), actor, e.ModeSigned, 55, nil); err != nil {
		t.Fatal(err)
	}
	active, err := en.Toggle(context.Background(), actor, e.ModeAnonymous, 77, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Fatal("cross-mode toggle should leave an active session")
	}

	s := repo.sessions[1]
	if s.Mode != e.ModeAnonymous || s.SourceChatID != 77 {
		t.Fatalf("session = %+v, want anonymous from chat 77", s)
	}
}

func TestHandleMessageSignedAppendsSignatureOnce(t *testing.T) {
	repo := newMemSessions()
	en, tr, st := newEngine(repo)
	actor := e.Principal{ID: 1, Role: e.RoleGnome, FullName: "Оксана", Username: "oksana"}

	if _, err := en.Toggle(context.Background(), actor, e.ModeSigned, 55, nil); err != nil {
		t.Fatal(err)
	}

	consumed, err := en.HandleMessage(context.Background(), actor, e.DispatchEvent{
		MessageID: 9, ChatID: 55, SenderID: 1, Text: "всім привіт",
	})
	if err != nil || !consumed {
		t.Fatalf("consumed=%v err=%v", consumed, err)
	}

	if len(tr.texts) != 1 {
		t.Fatalf("sent %d texts, want 1", len(tr.texts))
	}
	got := tr.texts[0]
	if got.chatID != -100 {
		t.Fatalf("sent to %d, want default chat", got.chatID)
	}
	want := "всім привіт\n\n— Оксана (@oksana)"
	if got.text != want {
		t.Fatalf("text = %q, want %q", got.text, want)
	}
	if strings.Count(got.text, "— Оксана") != 1 {
		t.Fatal("signature appended more than once")
	}
	if len(st.forwards) != 1 || st.forwards[0] != "text" {
		t.Fatalf("stats = %v, want one text forward", st.forwards)
	}
}

func TestHandleMessageAnonymousOmitsSignature(t *testing.T) {
	repo := newMemSessions()
	en, tr, _ := newEngine(repo)
	actor := e.Principal{ID: 1, Role: e.RoleGnome, FullName: "Оксана"}

	if _, err := en.Toggle(context.Background(), actor, e.ModeAnonymous, 55, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := en.HandleMessage(context.Background(), actor, e.DispatchEvent{
		MessageID: 9, ChatID: 55, SenderID: 1, Text: "таємне повідомлення",
	}); err != nil {
		t.Fatal(err)
	}

	if len(tr.texts) != 1 || tr.texts[0].text != "таємне повідомлення" {
		t.Fatalf("texts = %v", tr.texts)
	}
}

func TestHandleMessageSourceAffinity(t *testing.T) {
	repo := newMemSessions()
	en, tr, _ := newEngine(repo)
	actor := e.Principal{ID: 1, Role: e.RoleGnome}

	if _, err := en.Toggle(context.Background(), actor, e.ModeAnonymous, 55, nil); err != nil {
		t.Fatal(err)
	}

	consumed, err := en.HandleMessage(context.Background(), actor, e.DispatchEvent{
		MessageID: 9, ChatID: 77, SenderID: 1, Text: "з іншого чату",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !consumed {
		t.Fatal("session must consume the event even when affinity blocks the forward")
	}
	if len(tr.texts) != 0 {
		t.Fatalf("texts = %v, want none", tr.texts)
	}
}

func TestHandleMessageOwnerIgnoresAffinity(t *testing.T) {
	repo := newMemSessions()
	en, tr, _ := newEngine(repo)
	owner := e.Principal{ID: 1, Role: e.RoleOwner, FullName: "Власник"}

	if _, err := en.Toggle(context.Background(), owner, e.ModeAnonymous, 55, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := en.HandleMessage(context.Background(), owner, e.DispatchEvent{
		MessageID: 9, ChatID: 77, SenderID: 1, Text: "звідусіль",
	}); err != nil {
		t.Fatal(err)
	}

	if len(tr.texts) != 1 {
		t.Fatalf("texts = %v, want one forward", tr.texts)
	}
}

func TestHandleMessageNoBodyForwardsUnit(t *testing.T) {
	repo := newMemSessions()
	en, tr, st := newEngine(repo)
	actor := e.Principal{ID: 1, Role: e.RoleGnome, FullName: "Оксана", Username: "oksana"}

	if _, err := en.Toggle(context.Background(), actor, e.ModeSigned, 55, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := en.HandleMessage(context.Background(), actor, e.DispatchEvent{
		MessageID: 9, ChatID: 55, SenderID: 1,
		Media: &e.MediaRef{Kind: e.MediaSticker, FileID: "st1"},
	}); err != nil {
		t.Fatal(err)
	}

	if len(tr.forwards) != 1 {
		t.Fatalf("forwards = %v, want one", tr.forwards)
	}
	if tr.forwards[0] != (forwarded{chatID: -100, fromChatID: 55, messageID: 9}) {
		t.Fatalf("forward = %+v", tr.forwards[0])
	}
	if len(tr.texts) != 1 || tr.texts[0].text != "— Оксана (@oksana)" {
		t.Fatalf("texts = %v, want standalone signature", tr.texts)
	}
	if len(st.forwards) != 1 || st.forwards[0] != "sticker" {
		t.Fatalf("stats = %v", st.forwards)
	}
}

func TestHandleMessageExplicitTarget(t *testing.T) {
	repo := newMemSessions()
	en, tr, _ := newEngine(repo)
	actor := e.Principal{ID: 1, Role: e.RoleGnome}
	target := int64(42)

	if _, err := en.Toggle(context.Background(), actor, e.ModeAnonymous, 55, &target); err != nil {
		t.Fatal(err)
	}

	if _, err := en.HandleMessage(context.Background(), actor, e.DispatchEvent{
		MessageID: 9, ChatID: 55, SenderID: 1, Text: "у цільовий чат",
	}); err != nil {
		t.Fatal(err)
	}

	if len(tr.texts) != 1 || tr.texts[0].chatID != 42 {
		t.Fatalf("texts = %v, want delivery to chat 42", tr.texts)
	}
}

func TestDisableAllRequiresModerator(t *testing.T) {
	repo := newMemSessions()
	en, _, _ := newEngine(repo)

	if _, err := en.DisableAll(context.Background(), e.Principal{ID: 2, Role: e.RoleGnome}); !errors.Is(err, e.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}

	if _, err := en.Toggle(context.Background(), e.Principal{ID: 1, Role: e.RoleGnome}, e.ModeSigned, 55, nil); err != nil {
		t.Fatal(err)
	}
	n, err := en.DisableAll(context.Background(), e.Principal{ID: 3, Role: e.RoleHeadAdmin})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("cleared %d sessions, want 1", n)
	}
}

func TestSweepIdleClearsStaleSessions(t *testing.T) {
	repo := newMemSessions()
	en, _, _ := newEngine(repo)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	en.Now = func() time.Time { return base }

	if _, err := en.Toggle(context.Background(), e.Principal{ID: 1, Role: e.RoleGnome}, e.ModeSigned, 55, nil); err != nil {
		t.Fatal(err)
	}

	en.Now = func() time.Time { return base.Add(2 * time.Minute) }
	en.SweepIdle(context.Background())
	if len(repo.sessions) != 1 {
		t.Fatal("fresh session swept too early")
	}

	en.Now = func() time.Time { return base.Add(10 * time.Minute) }
	en.SweepIdle(context.Background())
	if len(repo.sessions) != 0 {
		t.Fatal("idle session survived the sweep")
	}
}
