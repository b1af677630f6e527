package worker

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/auratek/contxt-bridge/internal/config"
	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/gateway"
	"github.com/auratek/contxt-bridge/internal/portal"
	"github.com/auratek/contxt-bridge/internal/repository/postgres"
	"github.com/auratek/contxt-bridge/internal/splash"
	"github.com/auratek/contxt-bridge/internal/templates"
)

// ---- shared fakes ---------------------------------------------------------

type fakeStore struct {
	emails     map[int64]*domain.Email
	users      map[int64]*domain.User
	contacts   []*domain.Contact
	sms        map[int64]*domain.SMS
	nextSMSID  int64
	audits     []domain.ProcessedData
	replies    []string
	lastSeenID string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		emails: map[int64]*domain.Email{},
		users: map[int64]*domain.User{
			2: {ID: 2, PicNumber: "15372010", DisplayName: "COOK ZACHARY", ScreenName: "COOKZACHARY_15372010"},
		},
		sms: map[int64]*domain.SMS{},
	}
}

func (f *fakeStore) addEmail(e domain.Email) *domain.Email {
	copied := e
	f.emails[e.ID] = &copied
	return &copied
}

// EmailStore
func (f *fakeStore) Get(_ context.Context, id int64) (*domain.Email, error) {
	if e, ok := f.emails[id]; ok {
		return e, nil
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeStore) Insert(_ context.Context, e *domain.Email) (*domain.Email, error) {
	for _, existing := range f.emails {
		if existing.BotID == e.BotID && existing.PortalMessageID == e.PortalMessageID {
			return nil, postgres.ErrDuplicate
		}
	}
	copied := *e
	copied.ID = int64(len(f.emails) + 1)
	f.emails[copied.ID] = &copied
	return &copied, nil
}

func (f *fakeStore) Unprocessed(_ context.Context, botID int64) ([]domain.Email, error) {
	var out []domain.Email
	for _, e := range f.emails {
		if e.BotID == botID && !e.IsProcessed {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkProcessed(_ context.Context, id int64) error {
	if e, ok := f.emails[id]; ok {
		e.IsProcessed = true
	}
	return nil
}

// UserStore
func (f *fakeStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeStore) GetOrCreate(_ context.Context, from string) (*domain.User, error) {
	name, pic, ok := domain.ParsePortalFrom(from)
	if !ok {
		return nil, fmt.Errorf("bad from %q", from)
	}
	for _, u := range f.users {
		if u.PicNumber == pic {
			return u, nil
		}
	}
	u := &domain.User{ID: int64(len(f.users) + 100), PicNumber: pic, DisplayName: name,
		ScreenName: domain.ScreenNameFor(name, pic)}
	f.users[u.ID] = u
	return u, nil
}

// ContactStore
func (f *fakeStore) GetByName(_ context.Context, userID int64, name string) (*domain.Contact, error) {
	for _, c := range f.contacts {
		if c.UserID == userID && c.ContactName == name {
			return c, nil
		}
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeStore) GetByPhone(_ context.Context, userID int64, phone string) (*domain.Contact, error) {
	for _, c := range f.contacts {
		if c.UserID == userID && c.PhoneNumber == phone {
			return c, nil
		}
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeStore) Upsert(_ context.Context, c *domain.Contact) (*domain.Contact, error) {
	copied := *c
	copied.ID = int64(len(f.contacts) + 1)
	f.contacts = append(f.contacts, &copied)
	return &copied, nil
}

func (f *fakeStore) ListForUser(_ context.Context, userID int64) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, c := range f.contacts {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

// SMSStore
func (f *fakeStore) InsertSMS(_ context.Context, s *domain.SMS) (*domain.SMS, error) {
	f.nextSMSID++
	copied := *s
	copied.ID = f.nextSMSID
	f.sms[copied.ID] = &copied
	return &copied, nil
}

func (f *fakeStore) UnprocessedInbound(_ context.Context, botID int64) ([]domain.SMS, error) {
	var out []domain.SMS
	for _, s := range f.sms {
		if s.BotID == botID && s.Direction == domain.SMSInbound && !s.IsProcessed {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) RecentForContact(_ context.Context, contactID int64, _ int) ([]domain.SMS, error) {
	var out []domain.SMS
	for _, s := range f.sms {
		if s.ContactID == contactID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id int64, status domain.SMSStatus) error {
	if s, ok := f.sms[id]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeStore) MarkSMSProcessed(_ context.Context, id int64) error {
	if s, ok := f.sms[id]; ok {
		s.IsProcessed = true
	}
	return nil
}

// ProcessedStore
func (f *fakeStore) Record(_ context.Context, p *domain.ProcessedData) error {
	f.audits = append(f.audits, *p)
	return nil
}

// BotStore
func (f *fakeStore) Active(_ context.Context) ([]domain.Bot, error) {
	return []domain.Bot{{ID: 1, Name: "bot1", IsActive: true}}, nil
}

func (f *fakeStore) UpdateLastSeenMessage(_ context.Context, _ int64, messageID string) error {
	f.lastSeenID = messageID
	return nil
}

// Replier
func (f *fakeStore) PushReply(_ context.Context, _ *domain.Bot, _ string, body string) error {
	f.replies = append(f.replies, body)
	return nil
}

// smsStoreAdapter renames methods whose names collide on fakeStore.
type smsStoreAdapter struct{ f *fakeStore }

func (a smsStoreAdapter) Insert(ctx context.Context, s *domain.SMS) (*domain.SMS, error) {
	return a.f.InsertSMS(ctx, s)
}
func (a smsStoreAdapter) UnprocessedInbound(ctx context.Context, botID int64) ([]domain.SMS, error) {
	return a.f.UnprocessedInbound(ctx, botID)
}
func (a smsStoreAdapter) RecentForContact(ctx context.Context, contactID int64, limit int) ([]domain.SMS, error) {
	return a.f.RecentForContact(ctx, contactID, limit)
}
func (a smsStoreAdapter) UpdateStatus(ctx context.Context, id int64, status domain.SMSStatus) error {
	return a.f.UpdateStatus(ctx, id, status)
}
func (a smsStoreAdapter) MarkProcessed(ctx context.Context, id int64) error {
	return a.f.MarkSMSProcessed(ctx, id)
}

// userStoreAdapter renames Get, which collides with the email Get.
type userStoreAdapter struct{ f *fakeStore }

func (a userStoreAdapter) Get(ctx context.Context, id int64) (*domain.User, error) {
	return a.f.GetUser(ctx, id)
}
func (a userStoreAdapter) GetOrCreate(ctx context.Context, from string) (*domain.User, error) {
	return a.f.GetOrCreate(ctx, from)
}

// fakeGateway scripts gateway responses.
type fakeGateway struct {
	signer        *gateway.TokenSigner
	quota         int
	sendResults   []*gateway.SendResult
	sends         []string // phone numbers, in order
	tokens        []string
	statusResults map[string][]string // textID → sequence of statuses
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		signer:        gateway.NewTokenSigner("test-key"),
		quota:         500,
		statusResults: map[string][]string{},
	}
}

func (g *fakeGateway) Send(_ context.Context, phone, _, webhookData string) (*gateway.SendResult, error) {
	g.sends = append(g.sends, phone)
	g.tokens = append(g.tokens, webhookData)
	if len(g.sendResults) == 0 {
		return &gateway.SendResult{Success: true, TextID: fmt.Sprintf("txt-%d", len(g.sends))}, nil
	}
	r := g.sendResults[0]
	if len(g.sendResults) > 1 {
		g.sendResults = g.sendResults[1:]
	}
	return r, nil
}

func (g *fakeGateway) Status(_ context.Context, textID string) (*gateway.StatusResult, error) {
	seq := g.statusResults[textID]
	if len(seq) == 0 {
		return &gateway.StatusResult{Status: "SENT"}, nil
	}
	status := seq[0]
	if len(seq) > 1 {
		g.statusResults[textID] = seq[1:]
	}
	return &gateway.StatusResult{Status: status}, nil
}

func (g *fakeGateway) Quota(_ context.Context) (*gateway.QuotaResult, error) {
	return &gateway.QuotaResult{Success: true, QuotaRemaining: g.quota}, nil
}

func (g *fakeGateway) Signer() *gateway.TokenSigner { return g.signer }

// fakeSessions satisfies SessionProvider without touching the network.
type fakeSessions struct{ invalidated []int64 }

func (s *fakeSessions) Get(_ context.Context, _ *domain.Bot) (*portal.Session, error) {
	return &portal.Session{}, nil
}
func (s *fakeSessions) Invalidate(botID int64) { s.invalidated = append(s.invalidated, botID) }

// fakeRender scripts splash results.
type fakeRender struct {
	replyResults  []*splash.Result
	replyCalls    []string // portal message ids
	replyBodies   []string
	acceptResults []*splash.Result
	acceptCalls   []string // invite codes
	newMsgCalls   []string // pic names
}

func (r *fakeRender) AcceptInvite(_ context.Context, _ *portal.Session, code string) (*splash.Result, error) {
	r.acceptCalls = append(r.acceptCalls, code)
	if len(r.acceptResults) == 0 {
		return &splash.Result{ElementFound: true, IsProcessed: true, Message: "invitation accepted"}, nil
	}
	res := r.acceptResults[0]
	if len(r.acceptResults) > 1 {
		r.acceptResults = r.acceptResults[1:]
	}
	return res, nil
}

func (r *fakeRender) SendReply(_ context.Context, _ *portal.Session, portalMessageID, content string) (*splash.Result, error) {
	r.replyCalls = append(r.replyCalls, portalMessageID)
	r.replyBodies = append(r.replyBodies, content)
	if len(r.replyResults) == 0 {
		return &splash.Result{ElementFound: true, Message: "reply sent"}, nil
	}
	res := r.replyResults[0]
	if len(r.replyResults) > 1 {
		r.replyResults = r.replyResults[1:]
	}
	return res, nil
}

func (r *fakeRender) SendNewMessage(_ context.Context, _ *portal.Session, picName, _ string) (*splash.Result, error) {
	r.newMsgCalls = append(r.newMsgCalls, picName)
	return &splash.Result{ElementFound: true, FoundRow: true, Message: "new message sent"}, nil
}

// tplStore serves the default templates.
type tplStore struct{}

func (tplStore) Get(_ context.Context, key string) (*domain.ResponseTemplate, error) {
	text, ok := templates.Defaults[key]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return &domain.ResponseTemplate{Key: key, TemplateText: text}, nil
}

var testBot = &domain.Bot{ID: 1, Name: "bot1", IsActive: true}

func newDispatcher(f *fakeStore, g *fakeGateway, quotaThreshold int) *SMSDispatcher {
	cfg := config.GatewayConfig{
		QuotaThreshold:    quotaThreshold,
		MaxRetries:        2,
		RetryDelaySeconds: 0,
	}
	return NewSMSDispatcher(cfg, f, userStoreAdapter{f}, f, smsStoreAdapter{f}, g,
		templates.NewEngine(tplStore{}), f, f, nil)
}

// ---- dispatcher tests -----------------------------------------------------

func TestDispatchTextByNumberDelivered(t *testing.T) {
	f := newFakeStore()
	email := f.addEmail(domain.Email{ID: 10, BotID: 1, UserID: 2,
		PortalMessageID: "3736625367", Subject: "4024312303", Body: "Hi bugs"})

	g := newFakeGateway()
	g.statusResults["txt-1"] = []string{"DELIVERED"}

	d := newDispatcher(f, g, 0)
	if err := d.Run(context.Background(), testBot); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(g.sends) != 1 || g.sends[0] != "4024312303" {
		t.Fatalf("sends = %v", g.sends)
	}
	if !email.IsProcessed {
		t.Error("email not marked processed after delivery")
	}

	var outbound *domain.SMS
	for _, s := range f.sms {
		if s.Direction == domain.SMSOutbound {
			outbound = s
		}
	}
	if outbound == nil {
		t.Fatal("no outbound SMS recorded")
	}
	if outbound.Status != domain.SMSDelivered || outbound.ExternalTextID != "txt-1" {
		t.Errorf("outbound = %+v", outbound)
	}
	if outbound.Message != "Hi bugs" {
		t.Errorf("message = %q", outbound.Message)
	}

	// An auto-created contact carries the screen-name_number convention.
	if len(f.contacts) != 1 || f.contacts[0].ContactName != "COOKZACHARY_15372010_4024312303" {
		t.Errorf("contacts = %+v", f.contacts)
	}

	// The webhook token pairs back to this bot and email.
	payload, err := g.signer.Verify(g.tokens[0], gateway.TokenMaxAge)
	if err != nil {
		t.Fatalf("token verify: %v", err)
	}
	if payload.BotID != 1 || payload.EmailID != 10 {
		t.Errorf("token payload = %+v", payload)
	}
}

func TestDispatchTextByContactName(t *testing.T) {
	f := newFakeStore()
	f.contacts = append(f.contacts, &domain.Contact{ID: 5, UserID: 2, ContactName: "Daffy", PhoneNumber: "5555555555"})
	f.addEmail(domain.Email{ID: 11, BotID: 1, UserID: 2,
		PortalMessageID: "m-11", Subject: "Text Daffy", Body: "Miss you"})

	g := newFakeGateway()
	g.statusResults["txt-1"] = []string{"DELIVERED"}

	d := newDispatcher(f, g, 0)
	if err := d.Run(context.Background(), testBot); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(g.sends) != 1 || g.sends[0] != "5555555555" {
		t.Fatalf("sends = %v, want contact's number", g.sends)
	}
}

func TestDispatchQuotaExhausted(t *testing.T) {
	f := newFakeStore()
	f.addEmail(domain.Email{ID: 12, BotID: 1, UserID: 2,
		PortalMessageID: "m-12", Subject: "4024312303", Body: "x"})

	g := newFakeGateway()
	g.quota = 0

	notified := 0
	d := newDispatcher(f, g, 0)
	d.notifier = notifierFunc(func(context.Context, int) error { notified++; return nil })

	if err := d.Run(context.Background(), testBot); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(g.sends) != 0 {
		t.Error("dispatch must be skipped when quota is exhausted")
	}
	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}
	if len(f.sms) != 0 {
		t.Error("no SMS rows may be created on a skipped tick")
	}
}

func TestDispatchGatewayReject(t *testing.T) {
	f := newFakeStore()
	email := f.addEmail(domain.Email{ID: 13, BotID: 1, UserID: 2,
		PortalMessageID: "m-13", Subject: "4024312303", Body: "x"})

	g := newFakeGateway()
	g.sendResults = []*gateway.SendResult{{Success: false, Error: "blocked"}}

	d := newDispatcher(f, g, 0)
	if err := d.Run(context.Background(), testBot); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !email.IsProcessed {
		t.Error("email must be processed after gateway reject")
	}
	var failed bool
	for _, s := range f.sms {
		if s.Direction == domain.SMSOutbound && s.Status == domain.SMSFailed {
			failed = true
		}
	}
	if !failed {
		t.Error("failed outbound SMS row not recorded")
	}
	if len(f.replies) != 1 || !strings.Contains(f.replies[0], "unable to deliver") {
		t.Errorf("failure reply missing: %v", f.replies)
	}
}

func TestDispatchPollExhaustionResends(t *testing.T) {
	f := newFakeStore()
	email := f.addEmail(domain.Email{ID: 14, BotID: 1, UserID: 2,
		PortalMessageID: "m-14", Subject: "4024312303", Body: "x"})

	g := newFakeGateway()
	// txt-1 never delivers; the resend txt-2 delivers.
	g.statusResults["txt-1"] = []string{"SENT"}
	g.statusResults["txt-2"] = []string{"DELIVERED"}

	d := newDispatcher(f, g, 0)
	if err := d.Run(context.Background(), testBot); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(g.sends) != 2 {
		t.Fatalf("sends = %d, want original + one resend", len(g.sends))
	}
	if !email.IsProcessed {
		t.Error("email not processed after resend delivery")
	}
}

func TestDispatchTextPrefixWithNumber(t *testing.T) {
	f := newFakeStore()
	f.addEmail(domain.Email{ID: 18, BotID: 1, UserID: 2,
		PortalMessageID: "m-18", Subject: "Text 402-431-2303", Body: "hello"})

	g := newFakeGateway()
	g.statusResults["txt-1"] = []string{"DELIVERED"}

	d := newDispatcher(f, g, 0)
	if err := d.Run(context.Background(), testBot); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(g.sends) != 1 || g.sends[0] != "4024312303" {
		t.Fatalf("sends = %v, want the number after the text keyword", g.sends)
	}
}

func TestDispatchLeavesCommandSubjectsAlone(t *testing.T) {
	// A contact command that reaches the dispatcher unprocessed must not be
	// misread as a destination just because it contains a 10-digit run.
	f := newFakeStore()
	email := f.addEmail(domain.Email{ID: 19, BotID: 1, UserID: 2,
		PortalMessageID: "m-19", Subject: "Add Contact Number Daffy 5555555555", Body: ""})

	g := newFakeGateway()
	d := newDispatcher(f, g, 0)
	if err := d.Run(context.Background(), testBot); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(g.sends) != 0 {
		t.Errorf("sends = %v, want none for a command subject", g.sends)
	}
	if email.IsProcessed {
		t.Error("command subject must stay unprocessed for the interpreter")
	}
}

func TestDispatchUnresolvableTextSubject(t *testing.T) {
	f := newFakeStore()
	email := f.addEmail(domain.Email{ID: 15, BotID: 1, UserID: 2,
		PortalMessageID: "m-15", Subject: "Text Ghost", Body: "hello?"})

	g := newFakeGateway()
	d := newDispatcher(f, g, 0)
	if err := d.Run(context.Background(), testBot); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(g.sends) != 0 {
		t.Error("nothing should be sent for an unknown contact")
	}
	if !email.IsProcessed {
		t.Error("unresolvable email must not linger unprocessed")
	}
	if len(f.replies) != 1 || !strings.Contains(f.replies[0], "could not understand") {
		t.Errorf("instructional reply missing: %v", f.replies)
	}
}

// notifierFunc adapts a function to the Notifier interface.
type notifierFunc func(ctx context.Context, remaining int) error

func (fn notifierFunc) NotifyQuotaReached(ctx context.Context, remaining int) error {
	return fn(ctx, remaining)
}

// ---- reply pusher tests ---------------------------------------------------

func TestReplyPusherPushesInboundSMS(t *testing.T) {
	f := newFakeStore()
	f.addEmail(domain.Email{ID: 20, BotID: 1, UserID: 2, PortalMessageID: "3735999911"})
	f.sms[1] = &domain.SMS{ID: 1, BotID: 1, ContactID: 5, EmailID: 20,
		Message: "Got it, thanks!", Direction: domain.SMSInbound, Status: domain.SMSDelivered}
	f.nextSMSID = 1

	render := &fakeRender{}
	rp := NewReplyPusher(smsStoreAdapter{f}, f, &fakeSessions{}, render, 3)

	if err := rp.Run(context.Background(), testBot); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(render.replyCalls) != 1 || render.replyCalls[0] != "3735999911" {
		t.Fatalf("replyCalls = %v", render.replyCalls)
	}
	if render.replyBodies[0] != "Got it, thanks!" {
		t.Errorf("reply body = %q", render.replyBodies[0])
	}
	if !f.sms[1].IsProcessed {
		t.Error("inbound SMS not marked processed after confirmed push")
	}
}

func TestReplyPusherRetriesUntilConfirmed(t *testing.T) {
	f := newFakeStore()
	f.addEmail(domain.Email{ID: 21, BotID: 1, UserID: 2, PortalMessageID: "m-21"})
	f.sms[1] = &domain.SMS{ID: 1, BotID: 1, EmailID: 21, Message: "x",
		Direction: domain.SMSInbound}
	f.nextSMSID = 1

	render := &fakeRender{replyResults: []*splash.Result{
		{ElementFound: false, Message: "message box not found"},
		{ElementFound: true, Message: "reply sent"},
	}}
	rp := NewReplyPusher(smsStoreAdapter{f}, f, &fakeSessions{}, render, 3)

	if err := rp.Run(context.Background(), testBot); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(render.replyCalls) != 2 {
		t.Errorf("replyCalls = %d, want 2 (one retry)", len(render.replyCalls))
	}
	if !f.sms[1].IsProcessed {
		t.Error("inbound SMS not processed after eventual confirmation")
	}
}

func TestReplyPusherFailureLeavesSMSUnprocessed(t *testing.T) {
	f := newFakeStore()
	f.addEmail(domain.Email{ID: 22, BotID: 1, UserID: 2, PortalMessageID: "m-22"})
	f.sms[1] = &domain.SMS{ID: 1, BotID: 1, EmailID: 22, Message: "x", Direction: domain.SMSInbound}
	f.nextSMSID = 1

	render := &fakeRender{replyResults: []*splash.Result{{ElementFound: false, Message: "nope"}}}
	rp := NewReplyPusher(smsStoreAdapter{f}, f, &fakeSessions{}, render, 2)

	if err := rp.Run(context.Background(), testBot); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.sms[1].IsProcessed {
		t.Error("unconfirmed push must leave the SMS unprocessed for the next tick")
	}
}

func TestTransformPicName(t *testing.T) {
	cases := map[string]string{
		"CASSANDRA WALLACE": "WALLACE CASSANDRA",
		"First Middle Last": "Last First Middle",
		"Single":            "Single",
	}
	for in, want := range cases {
		if got := TransformPicName(in); got != want {
			t.Errorf("TransformPicName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitLongBody(t *testing.T) {
	if parts := splitLongBody("short"); len(parts) != 1 {
		t.Errorf("short body split into %d parts", len(parts))
	}

	long := strings.Repeat("a", maxReplyLength+100)
	parts := splitLongBody(long)
	if len(parts) != 2 {
		t.Fatalf("long body split into %d parts, want 2", len(parts))
	}
	if len(parts[0]) != maxReplyLength || len(parts[1]) != 100 {
		t.Errorf("part lengths = %d, %d", len(parts[0]), len(parts[1]))
	}
}

// ---- pipeline wiring ------------------------------------------------------

func TestSchedulerSyncBotTasks(t *testing.T) {
	f := newFakeStore()
	s := NewScheduler(config.SchedulerConfig{IntervalMinutes: 10, LockTimeoutSeconds: 300},
		f, nil, nil, nil, false)

	s.SyncBotTasks([]domain.Bot{{ID: 1, Name: "bot1"}, {ID: 2, Name: "bot2"}})
	if !s.known[1] || !s.known[2] {
		t.Errorf("known = %v", s.known)
	}

	s.SyncBotTasks([]domain.Bot{{ID: 2, Name: "bot2"}})
	if s.known[1] {
		t.Error("bot 1 should have left the schedule")
	}
	if !s.known[2] {
		t.Error("bot 2 should remain scheduled")
	}
}
