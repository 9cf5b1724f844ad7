package dispatch

import (
	"context"
	"strings"
	"testing"

	"nuclight.org/community-tg-bot/app/commands"
	e "nuclight.org/community-tg-bot/pkg/entities"
	"nuclight.org/community-tg-bot/pkg/logger"
)

type fakePrincipals struct {
	byID map[int64]*e.Principal
}

func (f *fakePrincipals) ObservePrincipal(_ context.Context, ev e.DispatchEvent) (e.Principal, error) {
	if p, ok := f.byID[ev.SenderID]; ok {
		return *p, nil
	}
	return e.Principal{ID: ev.SenderID, Username: ev.SenderUsername, FullName: ev.SenderFullName}, nil
}

func (f *fakePrincipals) GetPrincipal(_ context.Context, id int64) (*e.Principal, error) {
	return f.byID[id], nil
}

type fakeTemplates struct {
	commands []e.TemplateCommand
	pools    map[int64][]e.MediaRef
}

func (f *fakeTemplates) ListForChat(context.Context, int64) ([]e.TemplateCommand, error) {
	return f.commands, nil
}

func (f *fakeTemplates) MediaPool(_ context.Context, commandID int64) ([]e.MediaRef, error) {
	return f.pools[commandID], nil
}

type fakeSessions struct {
	consume bool
	calls   int
}

func (f *fakeSessions) HandleMessage(context.Context, e.Principal, e.DispatchEvent) (bool, error) {
	f.calls++
	return f.consume, nil
}

type fakeAliases struct {
	aliases map[string]string
	lookups []string
}

func (f *fakeAliases) GetAlias(_ context.Context, _ int64, alias string) (string, error) {
	f.lookups = append(f.lookups, alias)
	return f.aliases[alias], nil
}

type fakeResolver struct {
	known map[string]*e.Principal
}

func (f *fakeResolver) Resolve(_ context.Context, token string) (*e.Principal, error) {
	if p, ok := f.known[strings.TrimPrefix(token, "@")]; ok {
		return p, nil
	}
	return nil, e.ErrIdentityNotFound
}

type sentMedia struct {
	chatID  int64
	kind    e.MediaKind
	fileID  string
	caption string
}

type fakeTransport struct {
	texts   []string
	media   []sentMedia
	deleted []int
}

func (f *fakeTransport) SendText(_ context.Context, _ int64, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) SendMedia(_ context.Context, chatID int64, kind e.MediaKind, fileID, caption string) error {
	f.media = append(f.media, sentMedia{chatID, kind, fileID, caption})
	return nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

type invocation struct {
	name string
	inv  commands.Invocation
}

type fakeInvoker struct {
	invoked []invocation
	err     error
}

func (f *fakeInvoker) Invoke(_ context.Context, name string, inv commands.Invocation) error {
	f.invoked = append(f.invoked, invocation{name, inv})
	return f.err
}

type fixture struct {
	pipeline   *Pipeline
	principals *fakePrincipals
	templates  *fakeTemplates
	sessions   *fakeSessions
	aliases    *fakeAliases
	resolver   *fakeResolver
	transport  *fakeTransport
	invoker    *fakeInvoker
}

func newFixture() *fixture {
	f := &fixture{
		principals: &fakePrincipals{byID: make(map[int64]*e.Principal)},
		templates:  &fakeTemplates{pools: make(map[int64][]e.MediaRef)},
		sessions:   &fakeSessions{},
		aliases:    &fakeAliases{aliases: make(map[string]string)},
		resolver:   &fakeResolver{known: make(map[string]*e.Principal)},
		transport:  &fakeTransport{},
		invoker:    &fakeInvoker{},
	}
	f.pipeline = &Pipeline{
		Log:        logger.NewNop(),
		Principals: f.principals,
		Templates:  f.templates,
		Sessions:   f.sessions,
		Aliases:    f.aliases,
		Identity:   f.resolver,
		Sender:     f.transport,
		Commands:   f.invoker,
	}
	return f
}

func event(senderID int64, text string) e.DispatchEvent {
	return e.DispatchEvent{MessageID: 1, ChatID: 10, SenderID: senderID, Text: text}
}

func TestTemplateWithSecondaryFromHandle(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleMember, FullName: "Оксана"}
	f.resolver.known["petro"] = &e.Principal{ID: 2, FullName: "Петро"}
	f.templates.commands = []e.TemplateCommand{
		{ID: 5, Name: "обійми", Template: "@s1 обіймає @s2 @t"},
	}

	f.pipeline.HandleText(context.Background(), event(1, "обійми @petro міцно"))

	if len(f.transport.texts) != 1 {
		t.Fatalf("texts = %v, want one", f.transport.texts)
	}
	want := "Оксана обіймає Петро міцно"
	if f.transport.texts[0] != want {
		t.Fatalf("text = %q, want %q", f.transport.texts[0], want)
	}
}

func TestTemplateWithSecondaryFromReply(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleMember, FullName: "Оксана"}
	f.principals.byID[2] = &e.Principal{ID: 2, FullName: "Петро"}
	f.templates.commands = []e.TemplateCommand{
		{ID: 5, Name: "обійми", Template: "@s1 обіймає @s2"},
	}

	ev := event(1, "обійми")
	replyTo := int64(2)
	ev.ReplyToSenderID = &replyTo
	f.pipeline.HandleText(context.Background(), ev)

	if len(f.transport.texts) != 1 || f.transport.texts[0] != "Оксана обіймає Петро" {
		t.Fatalf("texts = %v", f.transport.texts)
	}
}

func TestTemplateSilentAbortOnUnresolvedSecondary(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleOwner, FullName: "Оксана"}
	f.templates.commands = []e.TemplateCommand{
		{ID: 5, Name: "обійми", Template: "@s1 обіймає @s2"},
	}
	f.aliases.aliases["обійми @ghostuser"] = "ban"

	f.pipeline.HandleText(context.Background(), event(1, "обійми @ghostuser"))

	if len(f.transport.texts) != 0 || len(f.transport.media) != 0 {
		t.Fatalf("sends = %v %v, want silence", f.transport.texts, f.transport.media)
	}
	// Terminal: even a matching alias must not run after the abort.
	if len(f.invoker.invoked) != 0 {
		t.Fatalf("invoked = %v, want none", f.invoker.invoked)
	}
}

func TestTemplateMediaPicksUniformly(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleMember, FullName: "Оксана"}
	f.templates.commands = []e.TemplateCommand{
		{ID: 5, Name: "бавовна", Template: "@s1 влаштовує бавовну"},
	}
	f.templates.pools[5] = []e.MediaRef{
		{ID: 1, Kind: e.MediaPhoto, FileID: "p1"},
		{ID: 2, Kind: e.MediaPhoto, FileID: "p2"},
		{ID: 3, Kind: e.MediaPhoto, FileID: "p3"},
	}
	f.pipeline.randIntn = func(n int) int {
		if n != 3 {
			t.Fatalf("rand bound %d, want pool size 3", n)
		}
		return 1
	}

	f.pipeline.HandleText(context.Background(), event(1, "бавовна"))

	if len(f.transport.media) != 1 {
		t.Fatalf("media = %v, want one", f.transport.media)
	}
	got := f.transport.media[0]
	if got.fileID != "p2" || got.caption != "Оксана влаштовує бавовну" {
		t.Fatalf("media = %+v", got)
	}
	if len(f.transport.texts) != 0 {
		t.Fatalf("texts = %v, want caption only", f.transport.texts)
	}
}

func TestTemplateStickerCannotCarryCaption(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleMember, FullName: "Оксана"}
	f.templates.commands = []e.TemplateCommand{
		{ID: 5, Name: "бавовна", Template: "@s1 влаштовує бавовну"},
	}
	f.templates.pools[5] = []e.MediaRef{{ID: 1, Kind: e.MediaSticker, FileID: "st1"}}

	f.pipeline.HandleText(context.Background(), event(1, "бавовна"))

	if len(f.transport.media) != 1 || f.transport.media[0].caption != "" {
		t.Fatalf("media = %v, want captionless sticker", f.transport.media)
	}
	if len(f.transport.texts) != 1 || f.transport.texts[0] != "Оксана влаштовує бавовну" {
		t.Fatalf("texts = %v, want separate rendered message", f.transport.texts)
	}
}

func TestCapabilityGateStopsMembers(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleMember}
	f.aliases.aliases["бан"] = "ban"

	f.pipeline.HandleText(context.Background(), event(1, "бан @petro"))

	if f.sessions.calls != 0 {
		t.Fatal("session stage reached by a plain member")
	}
	if len(f.invoker.invoked) != 0 {
		t.Fatalf("invoked = %v, want none", f.invoker.invoked)
	}
}

func TestSessionShortCircuitSkipsLaterStages(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleGnome}
	f.sessions.consume = true
	f.aliases.aliases["бан"] = "ban"

	f.pipeline.HandleText(context.Background(), event(1, "бан @petro"))

	if f.sessions.calls != 1 {
		t.Fatalf("session calls = %d, want 1", f.sessions.calls)
	}
	if len(f.aliases.lookups) != 0 || len(f.invoker.invoked) != 0 {
		t.Fatal("later stages ran despite an active session")
	}
}

func TestPhraseExactMatch(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleHeadAdmin}

	f.pipeline.HandleText(context.Background(), event(1, "Хто онлайн"))

	if len(f.invoker.invoked) != 1 || f.invoker.invoked[0].name != "who_online" {
		t.Fatalf("invoked = %v", f.invoker.invoked)
	}
}

func TestPhrasePrefixPassesArguments(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleHeadAdmin}

	f.pipeline.HandleText(context.Background(), event(1, "розлучення @petro"))

	if len(f.invoker.invoked) != 1 {
		t.Fatalf("invoked = %v", f.invoker.invoked)
	}
	got := f.invoker.invoked[0]
	if got.name != "divorce" || len(got.inv.Args) != 1 || got.inv.Args[0] != "@petro" {
		t.Fatalf("invocation = %+v", got)
	}
}

func TestPermissionDeniedBecomesVisibleRejection(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleGnome}
	f.invoker.err = e.ErrPermissionDenied

	f.pipeline.HandleText(context.Background(), event(1, "видай всі права"))

	if len(f.transport.texts) != 1 {
		t.Fatalf("texts = %v, want one rejection", f.transport.texts)
	}
}

func TestRestoreTokenOwnerOnly(t *testing.T) {
	code := "00112233445566778899AABBCCDDEEFF"

	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleGnome}
	f.pipeline.HandleText(context.Background(), event(1, code))

	if len(f.invoker.invoked) != 0 {
		t.Fatalf("invoked = %v, want none for non-owner", f.invoker.invoked)
	}
	if len(f.transport.texts) != 1 {
		t.Fatalf("texts = %v, want denial message", f.transport.texts)
	}

	f = newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleOwner}
	f.pipeline.HandleText(context.Background(), event(1, "code: "+code))

	if len(f.invoker.invoked) != 1 {
		t.Fatalf("invoked = %v, want restore", f.invoker.invoked)
	}
	got := f.invoker.invoked[0]
	if got.name != "restore" || len(got.inv.Args) != 1 || got.inv.Args[0] != strings.ToLower(code) {
		t.Fatalf("invocation = %+v", got)
	}
}

func TestAliasLongestLeadingRunWins(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleHeadAdmin}
	f.aliases.aliases["дай"] = "mute"
	f.aliases.aliases["дай бан"] = "ban"

	f.pipeline.HandleText(context.Background(), event(1, "дай бан @petro за спам"))

	if len(f.invoker.invoked) != 1 {
		t.Fatalf("invoked = %v", f.invoker.invoked)
	}
	got := f.invoker.invoked[0]
	if got.name != "ban" {
		t.Fatalf("invoked %q, want ban", got.name)
	}
	if strings.Join(got.inv.Args, " ") != "@petro за спам" {
		t.Fatalf("args = %v", got.inv.Args)
	}
}

func TestSlashCleanupIsNotTerminal(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleHeadAdmin}
	f.aliases.aliases["/start"] = "who_online"

	f.pipeline.HandleText(context.Background(), event(1, "/start"))

	if len(f.transport.deleted) != 1 {
		t.Fatalf("deleted = %v, want the slash message", f.transport.deleted)
	}
	// Cleanup is cosmetic; the alias stage still sees the text.
	if len(f.invoker.invoked) != 1 {
		t.Fatalf("invoked = %v, want the aliased command", f.invoker.invoked)
	}
}

func TestNoStageMatchedIsNoop(t *testing.T) {
	f := newFixture()
	f.principals.byID[1] = &e.Principal{ID: 1, Role: e.RoleHeadAdmin}

	f.pipeline.HandleText(context.Background(), event(1, "просто розмова"))

	if len(f.transport.texts) != 0 || len(f.transport.media) != 0 || len(f.invoker.invoked) != 0 {
		t.Fatal("noop event produced output")
	}
}
