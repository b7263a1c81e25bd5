package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"chainbot/pkg/chain"
	"chainbot/pkg/models"
	"chainbot/pkg/persist"
	"chainbot/pkg/publish"
	"chainbot/pkg/registry"
	"chainbot/pkg/telegram"
)

// apiStub records Bot API calls and answers them with canned results.
type apiStub struct {
	mu        sync.Mutex
	calls     []string
	bodies    []map[string]any
	nextMsgID int64
}

func (s *apiStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		s.mu.Lock()
		s.calls = append(s.calls, method)
		s.bodies = append(s.bodies, body)
		s.nextMsgID++
		msgID := s.nextMsgID
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "sendMessage":
			resp := map[string]any{
				"ok": true,
				"result": map[string]any{
					"message_id": msgID,
					"chat":       map[string]any{"id": body["chat_id"], "type": "group"},
				},
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": true})
		}
	}
}

func (s *apiStub) callsFor(method string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for i, c := range s.calls {
		if c == method {
			out = append(out, s.bodies[i])
		}
	}
	return out
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *apiStub, *registry.Registry) {
	t.Helper()
	stub := &apiStub{}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client := telegram.NewClient("test-token", srv.URL, srv.Client())
	reg := registry.New()
	pub := publish.NewTelegramPublisher(client, 1000, 1000)
	fan := publish.NewFanout(pub, chain.Renderer{BotName: "chainbot"})
	q := persist.NewQueue(64, 0) // no worker; intake only
	d := New(client, reg, fan, q, "chainbot", 1)
	return d, stub, reg
}

func groupMsg(chatID, userID int64, text string) *telegram.Message {
	return &telegram.Message{
		MessageID: 100,
		From:      &telegram.User{ID: userID, FirstName: "Ann", Username: "ann"},
		Chat:      telegram.Chat{ID: chatID, Type: "group"},
		Text:      text,
	}
}

func privateMsg(userID int64, text string) *telegram.Message {
	return &telegram.Message{
		MessageID: 100,
		From:      &telegram.User{ID: userID, FirstName: "Ann", Username: "ann"},
		Chat:      telegram.Chat{ID: userID, Type: "private"},
		Text:      text,
	}
}

func TestChainCommandCreatesAnchoredChain(t *testing.T) {
	d, stub, reg := newTestDispatcher(t)
	ctx := context.Background()

	d.handleMessage(ctx, groupMsg(-500, 1, "/chain favorite books"))

	if reg.Len() != 1 {
		t.Fatalf("expected 1 chain, got %d", reg.Len())
	}
	edits := stub.callsFor("editMessageText")
	if len(edits) != 1 {
		t.Fatalf("expected 1 anchor edit, got %d", len(edits))
	}
	text, _ := edits[0]["text"].(string)
	if !strings.Contains(text, "favorite books") {
		t.Fatalf("anchor render missing title: %q", text)
	}
	if !strings.Contains(text, "No respondents yet") {
		t.Fatalf("fresh chain should render empty notice: %q", text)
	}
}

func TestChainCommandRejectedInPrivate(t *testing.T) {
	d, stub, reg := newTestDispatcher(t)

	d.handleMessage(context.Background(), privateMsg(1, "/chain hi"))

	if reg.Len() != 0 {
		t.Fatal("chain created in private chat")
	}
	sends := stub.callsFor("sendMessage")
	if len(sends) != 1 || !strings.Contains(sends[0]["text"].(string), "only works in groups") {
		t.Fatalf("expected groups-only reply, got %v", sends)
	}
}

func TestThreadedReplyUpdatesAnchor(t *testing.T) {
	d, stub, reg := newTestDispatcher(t)
	ctx := context.Background()

	creator := models.Identity{ID: 1, FirstName: "Ann", Username: "ann"}
	id := models.ChainID(-500, 42)
	reg.Add(chain.New(creator, "topic", id))

	reply := groupMsg(-500, 2, "my answer")
	reply.From = &telegram.User{ID: 2, FirstName: "Bo", Username: "bo"}
	reply.ReplyTo = &telegram.Message{MessageID: 42}
	d.handleMessage(ctx, reply)
	d.fanout.Wait()

	c, err := reg.FindByID(id)
	if err != nil {
		t.Fatalf("chain gone: %v", err)
	}
	if !c.HasReply(2) {
		t.Fatal("reply not recorded")
	}
	edits := stub.callsFor("editMessageText")
	if len(edits) == 0 {
		t.Fatal("anchor not re-rendered")
	}
	found := false
	for _, e := range edits {
		if s, _ := e["text"].(string); strings.Contains(s, "my answer") {
			found = true
		}
	}
	if !found {
		t.Fatal("no edit carried the new reply")
	}
}

func TestReplyToUntrackedMessageIgnored(t *testing.T) {
	d, stub, _ := newTestDispatcher(t)

	reply := groupMsg(-500, 2, "hello")
	reply.ReplyTo = &telegram.Message{MessageID: 999}
	d.handleMessage(context.Background(), reply)

	if n := len(stub.callsFor("sendMessage")) + len(stub.callsFor("editMessageText")); n != 0 {
		t.Fatalf("untracked reply triggered %d API calls", n)
	}
}

func TestInlineTitleFlow(t *testing.T) {
	d, stub, reg := newTestDispatcher(t)
	ctx := context.Background()

	d.handleMessage(ctx, privateMsg(7, "/start inline"))
	sends := stub.callsFor("sendMessage")
	if len(sends) != 1 || !strings.Contains(sends[0]["text"].(string), "chain title") {
		t.Fatalf("expected title prompt, got %v", sends)
	}

	d.handleMessage(ctx, privateMsg(7, "my inline chain"))
	if reg.Len() != 1 {
		t.Fatalf("expected chain after title, got %d", reg.Len())
	}
	edits := stub.callsFor("editMessageText")
	if len(edits) != 1 {
		t.Fatalf("expected anchor edit, got %d", len(edits))
	}
	if _, ok := edits[0]["reply_markup"]; !ok {
		t.Fatal("inline chain anchor missing share/end keyboard")
	}

	// pending state must be cleared
	d.handleMessage(ctx, privateMsg(7, "stray text"))
	if reg.Len() != 1 {
		t.Fatal("stray text after creation made another chain")
	}
}

func TestInlineTitleValidation(t *testing.T) {
	d, stub, reg := newTestDispatcher(t)
	ctx := context.Background()

	d.handleMessage(ctx, privateMsg(7, "/start inline"))
	d.handleMessage(ctx, privateMsg(7, "   "))

	if reg.Len() != 0 {
		t.Fatal("empty title created a chain")
	}
	sends := stub.callsFor("sendMessage")
	last := sends[len(sends)-1]
	if !strings.Contains(last["text"].(string), "cannot be empty") {
		t.Fatalf("expected empty-title rejection, got %v", last)
	}

	// flow stays open for a corrected title
	d.handleMessage(ctx, privateMsg(7, "real title"))
	if reg.Len() != 1 {
		t.Fatal("corrected title not accepted")
	}
}

func TestStartAddFlow(t *testing.T) {
	d, stub, reg := newTestDispatcher(t)
	ctx := context.Background()

	creator := models.Identity{ID: 1, FirstName: "Ann", Username: "ann"}
	id := models.ChainID(-500, 42)
	reg.Add(chain.New(creator, "topic", id))

	d.handleMessage(ctx, privateMsg(9, "/start add"+models.IDSeparator+id))
	sends := stub.callsFor("sendMessage")
	if len(sends) != 1 || !strings.Contains(sends[0]["text"].(string), "topic") {
		t.Fatalf("expected reply prompt naming the chain, got %v", sends)
	}

	msg := privateMsg(9, "count me in")
	msg.From = &telegram.User{ID: 9, FirstName: "Cy", Username: "cy"}
	d.handleMessage(ctx, msg)
	d.fanout.Wait()

	c, _ := reg.FindByID(id)
	if !c.HasReply(9) {
		t.Fatal("deep-link reply not recorded")
	}
}

func TestStartAddUnknownChain(t *testing.T) {
	d, stub, _ := newTestDispatcher(t)

	d.handleMessage(context.Background(), privateMsg(9, "/start add"+models.IDSeparator+"nope"))
	sends := stub.callsFor("sendMessage")
	if len(sends) != 1 || !strings.Contains(sends[0]["text"].(string), "No chain found") {
		t.Fatalf("expected not-found reply, got %v", sends)
	}
}

func TestInlineQueryAnswersMatches(t *testing.T) {
	d, stub, reg := newTestDispatcher(t)
	ctx := context.Background()

	creator := models.Identity{ID: 5, FirstName: "Ann", Username: "ann"}
	reg.Add(chain.New(creator, "go meetup", models.ChainID(-1, 10)))
	reg.Add(chain.New(creator, "unrelated", models.ChainID(-1, 11)))

	d.handleInlineQuery(ctx, &telegram.InlineQuery{ID: "q1", From: telegram.User{ID: 5}, Query: "meetup"})

	answers := stub.callsFor("answerInlineQuery")
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(answers))
	}
	results, _ := answers[0]["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	first := results[0].(map[string]any)
	if first["title"] != "go meetup" {
		t.Fatalf("wrong result: %v", first)
	}
}

func TestChosenInlineResultRecordsSurface(t *testing.T) {
	d, stub, reg := newTestDispatcher(t)
	ctx := context.Background()

	creator := models.Identity{ID: 5, FirstName: "Ann", Username: "ann"}
	id := models.ChainID(-1, 10)
	reg.Add(chain.New(creator, "go meetup", id))

	d.handleChosenInlineResult(ctx, &telegram.ChosenInlineResult{
		ResultID:        id,
		From:            telegram.User{ID: 6},
		InlineMessageID: "inline-abc",
	})
	d.fanout.Wait()

	c, _ := reg.FindByID(id)
	surfaces := c.SharedSurfaces()
	if len(surfaces) != 1 || surfaces[0] != "inline-abc" {
		t.Fatalf("surface not recorded: %v", surfaces)
	}
	// the new surface gets an immediate render push
	edited := false
	for _, e := range stub.callsFor("editMessageText") {
		if e["inline_message_id"] == "inline-abc" {
			edited = true
		}
	}
	if !edited {
		t.Fatal("shared surface not rendered")
	}
}

func TestEndCallbackOnlyCreator(t *testing.T) {
	d, stub, reg := newTestDispatcher(t)
	ctx := context.Background()

	creator := models.Identity{ID: 5, FirstName: "Ann", Username: "ann"}
	id := models.ChainID(77, 10)
	c := chain.New(creator, "mine", id)
	reg.Add(c)

	cb := &telegram.CallbackQuery{
		ID:   "cb1",
		From: telegram.User{ID: 6},
		Data: "end",
		Message: &telegram.Message{
			MessageID: 10,
			Chat:      telegram.Chat{ID: 77, Type: "private"},
		},
	}
	d.handleCallback(ctx, cb)
	if c.Ended() {
		t.Fatal("non-creator ended the chain")
	}

	cb.From = telegram.User{ID: 5}
	cb.ID = "cb2"
	d.handleCallback(ctx, cb)
	d.fanout.Wait()
	if !c.Ended() {
		t.Fatal("creator could not end the chain")
	}
	if _, err := reg.FindByID(id); err == nil {
		t.Fatal("ended chain still in working set")
	}
	if len(stub.callsFor("answerCallbackQuery")) != 2 {
		t.Fatal("callbacks not acknowledged")
	}
}

func TestFlagCallbacks(t *testing.T) {
	d, _, reg := newTestDispatcher(t)
	ctx := context.Background()

	creator := models.Identity{ID: 5, FirstName: "Ann", Username: "ann"}
	id := models.ChainID(77, 10)
	c := chain.New(creator, "mine", id)
	reg.Add(c)

	cb := &telegram.CallbackQuery{
		ID:   "cb1",
		From: telegram.User{ID: 5},
		Data: "public",
		Message: &telegram.Message{
			MessageID: 10,
			Chat:      telegram.Chat{ID: 77, Type: "private"},
		},
	}
	d.handleCallback(ctx, cb)
	if !c.IsPublic() {
		t.Fatal("public toggle not applied")
	}
	d.handleCallback(ctx, cb)
	if c.IsPublic() {
		t.Fatal("second toggle did not flip back")
	}

	cb.Data = "anon"
	d.handleCallback(ctx, cb)
	d.handleCallback(ctx, cb)
	d.fanout.Wait()
	if !c.IsAnonymous() {
		t.Fatal("anonymity not applied")
	}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct{ in, cmd, args string }{
		{"/chain hello world", "/chain", "hello world"},
		{"/chain@chainbot hello", "/chain", "hello"},
		{"/start", "/start", ""},
		{"plain text", "", "plain text"},
	}
	for _, c := range cases {
		cmd, args := splitCommand(c.in)
		if cmd != c.cmd || args != c.args {
			t.Fatalf("splitCommand(%q) = %q,%q", c.in, cmd, args)
		}
	}
}
