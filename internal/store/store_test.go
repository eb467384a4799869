package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.UpsertConversation(&Conversation{ID: "conv1", PeerID: "peer1", PeerName: "Alice"}); err != nil {
		t.Fatal(err)
	}
	return db
}

func appendText(t *testing.T, db *DB, serverID, body string, createdAt int64) *Message {
	t.Helper()
	m := &Message{
		ConversationID: "conv1",
		ServerID:       serverID,
		SenderID:       "peer1",
		MediaKind:      KindText,
		Body:           body,
		SendState:      SendSent,
		ReadState:      Unread,
		CreatedAt:      createdAt,
	}
	if err := db.AppendMessage(m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestCountAndMessageAt(t *testing.T) {
	db := testDB(t)
	appendText(t, db, "s1", "first", 1000)
	appendText(t, db, "s2", "second", 2000)
	appendText(t, db, "s3", "third", 3000)

	count, err := db.Count("conv1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	m, err := db.MessageAt("conv1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Body != "first" {
		t.Errorf("MessageAt(0) = %v, want first", m)
	}

	// Out-of-range indices fail silently: staleness across async
	// boundaries is expected, not an error.
	m, err = db.MessageAt("conv1", 99)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("MessageAt(99) = %v, want nil", m)
	}
	m, err = db.MessageAt("conv1", -1)
	if err != nil || m != nil {
		t.Errorf("MessageAt(-1) = %v, %v, want nil, nil", m, err)
	}
}

func TestIndexOf(t *testing.T) {
	db := testDB(t)
	appendText(t, db, "s1", "first", 1000)
	m2 := appendText(t, db, "s2", "second", 2000)

	idx, ok, err := db.IndexOf("conv1", m2.Seq)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || idx != 1 {
		t.Errorf("IndexOf = %d, %v, want 1, true", idx, ok)
	}

	if err := db.DeleteMessage(m2.Seq); err != nil {
		t.Fatal(err)
	}
	_, ok, err = db.IndexOf("conv1", m2.Seq)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("IndexOf should miss a deleted message")
	}
}

func TestLookupByIdentity(t *testing.T) {
	db := testDB(t)
	appendText(t, db, "s1", "hello", 1000)

	m, err := db.MessageByServerID("conv1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Body != "hello" {
		t.Errorf("MessageByServerID = %v, want hello", m)
	}

	m, err = db.MessageByServerID("conv1", "missing")
	if err != nil || m != nil {
		t.Errorf("missing id = %v, %v, want nil, nil", m, err)
	}

	// Empty identity never resolves.
	m, err = db.MessageByServerID("conv1", "")
	if err != nil || m != nil {
		t.Errorf("empty id = %v, %v, want nil, nil", m, err)
	}
}

func TestAppendWithMeta(t *testing.T) {
	db := testDB(t)
	m := &Message{
		ConversationID: "conv1",
		ServerID:       "img1",
		SenderID:       "peer1",
		MediaKind:      KindImage,
		ReadState:      Unread,
		CreatedAt:      1000,
		Meta:           &MediaMeta{Width: 400, Height: 300},
	}
	if err := db.AppendMessage(m); err != nil {
		t.Fatal(err)
	}

	got, err := db.MessageByServerID("conv1", "img1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta == nil || got.Meta.Width != 400 || got.Meta.Height != 300 {
		t.Errorf("meta = %+v, want 400x300", got.Meta)
	}
}

func TestConfirmSentPairsByClientID(t *testing.T) {
	db := testDB(t)
	m := &Message{
		ConversationID: "conv1",
		ClientID:       "client-1",
		SenderID:       "self",
		MediaKind:      KindAudio,
		SendState:      SendPending,
		ReadState:      Read,
		CreatedAt:      1000,
	}
	if err := db.AppendMessage(m); err != nil {
		t.Fatal(err)
	}

	matched, err := db.ConfirmSent("client-1", "srv-9", &MediaMeta{Duration: 12})
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Fatal("confirmation should match the pending message")
	}

	got, err := db.MessageByClientID("client-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SendState != SendSent || got.ServerID != "srv-9" {
		t.Errorf("message = state %q id %q, want sent srv-9", got.SendState, got.ServerID)
	}
	if got.Meta == nil || got.Meta.Duration != 12 {
		t.Errorf("meta = %+v, want duration 12", got.Meta)
	}
}

func TestConfirmSentDiscardedWhenDeleted(t *testing.T) {
	db := testDB(t)
	m := &Message{
		ConversationID: "conv1",
		ClientID:       "client-1",
		SenderID:       "self",
		MediaKind:      KindText,
		Body:           "hi",
		SendState:      SendPending,
		ReadState:      Read,
		CreatedAt:      1000,
	}
	if err := db.AppendMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage(m.Seq); err != nil {
		t.Fatal(err)
	}

	matched, err := db.ConfirmSent("client-1", "srv-9", nil)
	if err != nil {
		t.Fatal(err)
	}
	if matched {
		t.Error("confirmation for a deleted message must be discarded")
	}
	count, _ := db.Count("conv1")
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestDeleteMessagePairIsAtomic(t *testing.T) {
	db := testDB(t)
	section := &Message{
		ConversationID: "conv1",
		MediaKind:      KindSectionDate,
		ReadState:      Read,
		CreatedAt:      999,
	}
	if err := db.AppendMessage(section); err != nil {
		t.Fatal(err)
	}
	msg := appendText(t, db, "s1", "lonely", 1000)

	if err := db.DeleteMessagePair(msg.Seq, section.Seq); err != nil {
		t.Fatal(err)
	}
	count, err := db.Count("conv1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after pair deletion", count)
	}
}

func TestDraftLazyCreateAndClear(t *testing.T) {
	db := testDB(t)

	// Draft write creates the conversation row lazily.
	if err := db.SaveDraft("conv-new", "unsent text", "text_input"); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetConversation("conv-new")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.DraftText != "unsent text" || c.DraftState != "text_input" {
		t.Errorf("conversation = %+v, want lazily created draft", c)
	}

	if err := db.ClearDraft("conv-new"); err != nil {
		t.Fatal(err)
	}
	c, err = db.GetConversation("conv-new")
	if err != nil {
		t.Fatal(err)
	}
	if c.DraftText != "" {
		t.Errorf("draft = %q, want cleared", c.DraftText)
	}
}

func TestPurgeConversationCascades(t *testing.T) {
	db := testDB(t)
	appendText(t, db, "s1", "hello", 1000)

	if err := db.PurgeConversation("conv1"); err != nil {
		t.Fatal(err)
	}
	count, err := db.Count("conv1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after purge", count)
	}
	c, err := db.GetConversation("conv1")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("conversation row should be gone")
	}
}

func TestPurgeAllWipesEveryConversation(t *testing.T) {
	db := testDB(t)
	appendText(t, db, "s1", "hello", 1000)
	if err := db.UpsertConversation(&Conversation{ID: "conv2", PeerID: "other"}); err != nil {
		t.Fatal(err)
	}

	if err := db.PurgeAll(); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"conv1", "conv2"} {
		c, err := db.GetConversation(id)
		if err != nil {
			t.Fatal(err)
		}
		if c != nil {
			t.Errorf("conversation %s should be gone", id)
		}
	}
	count, err := db.Count("conv1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after logout purge", count)
	}
}

func TestUnreadIncoming(t *testing.T) {
	db := testDB(t)
	appendText(t, db, "s1", "from peer", 1000)
	self := &Message{
		ConversationID: "conv1", ServerID: "s2", SenderID: "self",
		MediaKind: KindText, Body: "mine", SendState: SendSent,
		ReadState: Read, CreatedAt: 2000,
	}
	if err := db.AppendMessage(self); err != nil {
		t.Fatal(err)
	}
	section := &Message{
		ConversationID: "conv1", MediaKind: KindSectionDate,
		ReadState: Unread, CreatedAt: 2500,
	}
	if err := db.AppendMessage(section); err != nil {
		t.Fatal(err)
	}

	unread, err := db.UnreadIncoming("conv1", "self", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 1 || unread[0].ServerID != "s1" {
		t.Errorf("unread = %v, want only s1", unread)
	}

	if err := db.MarkRead(unread[0].Seq); err != nil {
		t.Fatal(err)
	}
	unread, err = db.UnreadIncoming("conv1", "self", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 0 {
		t.Errorf("unread after MarkRead = %v, want none", unread)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	appendText(t, db, "s1", "hello world", 1000)
	appendText(t, db, "s2", "goodbye world", 2000)

	results, err := db.SearchMessages("hello", "conv1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Message.ServerID != "s1" {
		t.Errorf("server_id = %q, want s1", results[0].Message.ServerID)
	}
}
