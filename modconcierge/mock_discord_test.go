package modconcierge

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var snowflakeCounter atomic.Uint64

func init() {
	snowflakeCounter.Store(1100000000000000000)
}

// newSnowflake returns a unique, numeric discord-style ID
func newSnowflake() string {
	return strconv.FormatUint(snowflakeCounter.Add(1), 10)
}

func discordNotFound() error {
	return &discordgo.RESTError{
		Response: &http.Response{
			StatusCode: http.StatusNotFound,
			Status:     "404 Not Found",
		},
		ResponseBody: []byte(`{"message": "Unknown", "code": 10003}`),
	}
}

type sentMessage struct {
	ChannelID string
	Content   string
	Embed     *discordgo.MessageEmbed
}

type roleAdd struct {
	GuildID string
	UserID  string
	RoleID  string
}

type permissionSet struct {
	ChannelID string
	TargetID  string
	Type      discordgo.PermissionOverwriteType
	Allow     int64
	Deny      int64
}

// mockDiscordSession is an in-memory [DiscordSessionHandler]. Guilds,
// channels, members and roles are seeded by the test, and every call
// that changes something is recorded.
type mockDiscordSession struct {
	mu sync.Mutex

	guilds   map[string]*discordgo.Guild
	channels map[string]*discordgo.Channel
	members  map[string]map[string]*discordgo.Member
	roles    map[string][]*discordgo.Role
	bans     map[string]map[string]*discordgo.GuildBan
	history  map[string][]*discordgo.Message

	sent              []sentMessage
	threadsStarted    []*discordgo.ThreadStart
	threadMembers     map[string][]string
	channelsCreated   []discordgo.GuildChannelCreateData
	channelEdits      map[string]*discordgo.ChannelEdit
	permissionSets    []permissionSet
	permissionDeletes []string
	kicked            []string
	banned            []string
	unbanned          []string
	timeouts          map[string]*time.Time
	rolesAdded        []roleAdd
	bulkDeleted       [][]string
	statusUpdates     []discordgo.UpdateStatusData
	commands          []*discordgo.ApplicationCommand
	responses         []*discordgo.InteractionResponse
	responseEdits     []*discordgo.WebhookEdit

	// errs fails calls to the named method, ex: errs["ThreadStartComplex"]
	errs map[string]error

	openCalls  atomic.Int64
	closeCalls atomic.Int64
}

var _ DiscordSessionHandler = (*mockDiscordSession)(nil)

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{
		guilds:        map[string]*discordgo.Guild{},
		channels:      map[string]*discordgo.Channel{},
		members:       map[string]map[string]*discordgo.Member{},
		roles:         map[string][]*discordgo.Role{},
		bans:          map[string]map[string]*discordgo.GuildBan{},
		history:       map[string][]*discordgo.Message{},
		threadMembers: map[string][]string{},
		channelEdits:  map[string]*discordgo.ChannelEdit{},
		timeouts:      map[string]*time.Time{},
		errs:          map[string]error{},
	}
}

func (d *mockDiscordSession) fail(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[method] = err
}

// err must be called with mu held
func (d *mockDiscordSession) err(method string) error {
	return d.errs[method]
}

func (d *mockDiscordSession) addGuild(ownerID string) *discordgo.Guild {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := &discordgo.Guild{ID: newSnowflake(), Name: "Test Guild", OwnerID: ownerID}
	d.guilds[g.ID] = g
	d.roles[g.ID] = []*discordgo.Role{{ID: g.ID, Name: "@everyone", Position: 0}}
	d.members[g.ID] = map[string]*discordgo.Member{}
	return g
}

func (d *mockDiscordSession) addRole(guildID, name string, position int, perms int64) *discordgo.Role {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := &discordgo.Role{ID: newSnowflake(), Name: name, Position: position, Permissions: perms}
	d.roles[guildID] = append(d.roles[guildID], r)
	return r
}

func (d *mockDiscordSession) addMember(
	guildID string,
	username string,
	perms int64,
	roles ...*discordgo.Role,
) *discordgo.Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := &discordgo.Member{
		GuildID:     guildID,
		User:        &discordgo.User{ID: newSnowflake(), Username: username},
		Permissions: perms,
		JoinedAt:    time.Now().Add(-24 * time.Hour),
	}
	for _, r := range roles {
		m.Roles = append(m.Roles, r.ID)
	}
	d.members[guildID][m.User.ID] = m
	return m
}

func (d *mockDiscordSession) addChannel(
	guildID string,
	name string,
	channelType discordgo.ChannelType,
) *discordgo.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := &discordgo.Channel{ID: newSnowflake(), GuildID: guildID, Name: name, Type: channelType}
	d.channels[ch.ID] = ch
	return ch
}

func (d *mockDiscordSession) removeChannel(channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.channels, channelID)
}

func (d *mockDiscordSession) addHistory(channelID string, messages ...*discordgo.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history[channelID] = append(d.history[channelID], messages...)
}

func (d *mockDiscordSession) addBan(guildID string, user *discordgo.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bans[guildID] == nil {
		d.bans[guildID] = map[string]*discordgo.GuildBan{}
	}
	d.bans[guildID][user.ID] = &discordgo.GuildBan{User: user}
}

// sentTo returns the messages sent to channelID
func (d *mockDiscordSession) sentTo(channelID string) []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	var rv []sentMessage
	for _, m := range d.sent {
		if m.ChannelID == channelID {
			rv = append(rv, m)
		}
	}
	return rv
}

func (d *mockDiscordSession) threadCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.threadsStarted)
}

func (d *mockDiscordSession) channelCount(guildID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.channels {
		if c.GuildID == guildID && c.Type == discordgo.ChannelTypeGuildText {
			n++
		}
	}
	return n
}

func (d *mockDiscordSession) Open() error {
	d.openCalls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err("Open")
}

func (d *mockDiscordSession) Close() error {
	d.closeCalls.Add(1)
	return nil
}

func (*mockDiscordSession) AddHandler(any) func() {
	return func() {}
}

func (d *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("ApplicationCommandBulkOverwrite"); err != nil {
		return nil, err
	}
	created := make([]*discordgo.ApplicationCommand, 0, len(commands))
	for _, c := range commands {
		cmd := *c
		cmd.ID = newSnowflake()
		created = append(created, &cmd)
	}
	d.commands = created
	return created, nil
}

func (d *mockDiscordSession) UpdateStatusComplex(data discordgo.UpdateStatusData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusUpdates = append(d.statusUpdates, data)
	return d.err("UpdateStatusComplex")
}

func (d *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses = append(d.responses, resp)
	return d.err("InteractionRespond")
}

func (d *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("InteractionResponseEdit"); err != nil {
		return nil, err
	}
	d.responseEdits = append(d.responseEdits, newresp)
	return &discordgo.Message{ID: newSnowflake()}, nil
}

func (d *mockDiscordSession) InteractionResponseDelete(
	*discordgo.Interaction,
	...discordgo.RequestOption,
) error {
	return nil
}

func (d *mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("Channel"); err != nil {
		return nil, err
	}
	ch, ok := d.channels[channelID]
	if !ok {
		return nil, discordNotFound()
	}
	c := *ch
	c.PermissionOverwrites = slices.Clone(ch.PermissionOverwrites)
	return &c, nil
}

func (d *mockDiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("GuildChannelCreateComplex"); err != nil {
		return nil, err
	}
	ch := &discordgo.Channel{
		ID:                   newSnowflake(),
		GuildID:              guildID,
		Name:                 data.Name,
		Type:                 data.Type,
		Topic:                data.Topic,
		PermissionOverwrites: data.PermissionOverwrites,
	}
	d.channels[ch.ID] = ch
	d.channelsCreated = append(d.channelsCreated, data)
	return ch, nil
}

func (d *mockDiscordSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("ChannelEdit"); err != nil {
		return nil, err
	}
	ch, ok := d.channels[channelID]
	if !ok {
		return nil, discordNotFound()
	}
	d.channelEdits[channelID] = data
	return ch, nil
}

func (d *mockDiscordSession) ChannelPermissionSet(
	channelID string,
	targetID string,
	targetType discordgo.PermissionOverwriteType,
	allow int64,
	deny int64,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("ChannelPermissionSet"); err != nil {
		return err
	}
	ch, ok := d.channels[channelID]
	if !ok {
		return discordNotFound()
	}
	d.permissionSets = append(
		d.permissionSets,
		permissionSet{
			ChannelID: channelID,
			TargetID:  targetID,
			Type:      targetType,
			Allow:     allow,
			Deny:      deny,
		},
	)
	ow := &discordgo.PermissionOverwrite{ID: targetID, Type: targetType, Allow: allow, Deny: deny}
	idx := slices.IndexFunc(
		ch.PermissionOverwrites, func(o *discordgo.PermissionOverwrite) bool {
			return o.ID == targetID
		},
	)
	if idx == -1 {
		ch.PermissionOverwrites = append(ch.PermissionOverwrites, ow)
	} else {
		ch.PermissionOverwrites[idx] = ow
	}
	return nil
}

func (d *mockDiscordSession) ChannelPermissionDelete(
	channelID string,
	targetID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[channelID]
	if !ok {
		return discordNotFound()
	}
	idx := slices.IndexFunc(
		ch.PermissionOverwrites, func(o *discordgo.PermissionOverwrite) bool {
			return o.ID == targetID
		},
	)
	if idx == -1 {
		return discordNotFound()
	}
	ch.PermissionOverwrites = slices.Delete(ch.PermissionOverwrites, idx, idx+1)
	d.permissionDeletes = append(d.permissionDeletes, channelID)
	return nil
}

func (d *mockDiscordSession) ThreadStartComplex(
	channelID string,
	data *discordgo.ThreadStart,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("ThreadStartComplex"); err != nil {
		return nil, err
	}
	parent, ok := d.channels[channelID]
	if !ok {
		return nil, discordNotFound()
	}
	thread := &discordgo.Channel{
		ID:       newSnowflake(),
		GuildID:  parent.GuildID,
		ParentID: channelID,
		Name:     data.Name,
		Type:     data.Type,
	}
	d.channels[thread.ID] = thread
	d.threadsStarted = append(d.threadsStarted, data)
	return thread, nil
}

func (d *mockDiscordSession) ThreadMemberAdd(
	threadID string,
	memberID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("ThreadMemberAdd"); err != nil {
		return err
	}
	d.threadMembers[threadID] = append(d.threadMembers[threadID], memberID)
	return nil
}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("ChannelMessageSend"); err != nil {
		return nil, err
	}
	d.sent = append(d.sent, sentMessage{ChannelID: channelID, Content: message})
	return &discordgo.Message{ID: newSnowflake(), ChannelID: channelID, Content: message}, nil
}

func (d *mockDiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("ChannelMessageSendEmbed"); err != nil {
		return nil, err
	}
	d.sent = append(d.sent, sentMessage{ChannelID: channelID, Embed: embed})
	return &discordgo.Message{
		ID:        newSnowflake(),
		ChannelID: channelID,
		Embeds:    []*discordgo.MessageEmbed{embed},
	}, nil
}

func (d *mockDiscordSession) ChannelMessages(
	channelID string,
	limit int,
	_ string,
	_ string,
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("ChannelMessages"); err != nil {
		return nil, err
	}
	messages := d.history[channelID]
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (d *mockDiscordSession) ChannelMessagesBulkDelete(
	_ string,
	messages []string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("ChannelMessagesBulkDelete"); err != nil {
		return err
	}
	d.bulkDeleted = append(d.bulkDeleted, messages)
	return nil
}

func (d *mockDiscordSession) Guild(
	guildID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.guilds[guildID]
	if !ok {
		return nil, discordNotFound()
	}
	return g, nil
}

func (d *mockDiscordSession) GuildMember(
	guildID string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[guildID][userID]
	if !ok {
		return nil, discordNotFound()
	}
	return m, nil
}

func (d *mockDiscordSession) GuildRoles(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("GuildRoles"); err != nil {
		return nil, err
	}
	return slices.Clone(d.roles[guildID]), nil
}

func (d *mockDiscordSession) GuildMemberDeleteWithReason(
	guildID string,
	userID string,
	_ string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("GuildMemberDeleteWithReason"); err != nil {
		return err
	}
	d.kicked = append(d.kicked, userID)
	delete(d.members[guildID], userID)
	return nil
}

func (d *mockDiscordSession) GuildMemberTimeout(
	guildID string,
	userID string,
	until *time.Time,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("GuildMemberTimeout"); err != nil {
		return err
	}
	d.timeouts[userID] = until
	if m, ok := d.members[guildID][userID]; ok {
		m.CommunicationDisabledUntil = until
	}
	return nil
}

func (d *mockDiscordSession) GuildMemberRoleAdd(
	guildID string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("GuildMemberRoleAdd"); err != nil {
		return err
	}
	m, ok := d.members[guildID][userID]
	if !ok {
		return discordNotFound()
	}
	d.rolesAdded = append(d.rolesAdded, roleAdd{GuildID: guildID, UserID: userID, RoleID: roleID})
	if !slices.Contains(m.Roles, roleID) {
		m.Roles = append(m.Roles, roleID)
	}
	return nil
}

func (d *mockDiscordSession) addedRoles(userID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var rv []string
	for _, r := range d.rolesAdded {
		if r.UserID == userID {
			rv = append(rv, r.RoleID)
		}
	}
	return rv
}

func (d *mockDiscordSession) GuildBan(
	guildID string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.GuildBan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bans[guildID][userID]
	if !ok {
		return nil, discordNotFound()
	}
	return b, nil
}

func (d *mockDiscordSession) GuildBanCreateWithReason(
	guildID string,
	userID string,
	_ string,
	_ int,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("GuildBanCreateWithReason"); err != nil {
		return err
	}
	d.banned = append(d.banned, userID)
	if d.bans[guildID] == nil {
		d.bans[guildID] = map[string]*discordgo.GuildBan{}
	}
	user := &discordgo.User{ID: userID}
	if m, ok := d.members[guildID][userID]; ok {
		user = m.User
	}
	d.bans[guildID][userID] = &discordgo.GuildBan{User: user}
	delete(d.members[guildID], userID)
	return nil
}

func (d *mockDiscordSession) GuildBanDelete(
	guildID string,
	userID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.bans[guildID][userID]; !ok {
		return discordNotFound()
	}
	delete(d.bans[guildID], userID)
	d.unbanned = append(d.unbanned, userID)
	return nil
}

func (d *mockDiscordSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("UserChannelCreate"); err != nil {
		return nil, err
	}
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (*mockDiscordSession) SetHTTPClient(*http.Client) {}

func (*mockDiscordSession) SetLogLevel(slog.Level) error {
	return nil
}

// stubInteractionHandler is an [InteractionHandler] which records
// responses and edits instead of sending them
type stubInteractionHandler struct {
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	config      CommandOptions
	method      DiscordInteractionReceiveMethod

	callRespond chan *discordgo.InteractionResponse
	callEdit    chan *discordgo.WebhookEdit

	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
}

var _ InteractionHandler = (*stubInteractionHandler)(nil)

func newStubInteractionHandler(t testing.TB, i *discordgo.InteractionCreate) *stubInteractionHandler {
	t.Helper()
	return &stubInteractionHandler{
		interaction: i,
		logger:      slog.Default().With("test_name", t.Name()),
		config:      DefaultRuntimeConfig().CommandOptions,
		method:      discordInteractionReceiveMethodGateway,
		callRespond: make(chan *discordgo.InteractionResponse, 100),
		callEdit:    make(chan *discordgo.WebhookEdit, 100),
	}
}

func (s *stubInteractionHandler) Respond(_ context.Context, i *discordgo.InteractionResponse) error {
	s.mu.Lock()
	s.responses = append(s.responses, i)
	s.mu.Unlock()
	s.callRespond <- i
	return nil
}

func (s *stubInteractionHandler) Edit(
	_ context.Context,
	e *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	s.edits = append(s.edits, e)
	s.mu.Unlock()
	s.callEdit <- e
	return &discordgo.Message{ID: newSnowflake()}, nil
}

func (*stubInteractionHandler) Delete(context.Context, ...discordgo.RequestOption) {}

func (s *stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.interaction
}

func (s *stubInteractionHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return s.method
}

func (s *stubInteractionHandler) Logger() *slog.Logger {
	return s.logger
}

func (s *stubInteractionHandler) Config() CommandOptions {
	return s.config
}

func (s *stubInteractionHandler) lastEdit() *discordgo.WebhookEdit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.edits) == 0 {
		return nil
	}
	return s.edits[len(s.edits)-1]
}

// waitForEdit returns the next edit, failing the test if none is
// received before the timeout
func waitForEdit(t testing.TB, h *stubInteractionHandler, timeout time.Duration) *discordgo.WebhookEdit {
	t.Helper()
	select {
	case e := <-h.callEdit:
		return e
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for interaction edit")
		return nil
	}
}

func waitForResponse(
	t testing.TB,
	h *stubInteractionHandler,
	timeout time.Duration,
) *discordgo.InteractionResponse {
	t.Helper()
	select {
	case r := <-h.callRespond:
		return r
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for interaction response")
		return nil
	}
}

func stringOption(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func intOptionValue(name string, value int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(value),
	}
}

func boolOption(name string, value bool) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionBoolean,
		Value: value,
	}
}

func userOption(name, userID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionUser,
		Value: userID,
	}
}

func channelOptionValue(name, channelID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionChannel,
		Value: channelID,
	}
}

// newCommandInteraction returns a slash command interaction invoked by
// member in channelID. The bot is given every permission.
func newCommandInteraction(
	guildID string,
	channelID string,
	member *discordgo.Member,
	command string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:             newSnowflake(),
			AppID:          newSnowflake(),
			Type:           discordgo.InteractionApplicationCommand,
			GuildID:        guildID,
			ChannelID:      channelID,
			Member:         member,
			Token:          fmt.Sprintf("token-%s", newSnowflake()),
			AppPermissions: discordgo.PermissionAll,
			Data: discordgo.ApplicationCommandInteractionData{
				ID:      newSnowflake(),
				Name:    command,
				Options: options,
			},
		},
	}
}

// testGuild is a guild seeded in a [mockDiscordSession]. Roles are
// ordered admin > bot > moderator > member.
type testGuild struct {
	ID      string
	Guild   *discordgo.Guild
	Channel *discordgo.Channel

	AdminRole     *discordgo.Role
	BotRole       *discordgo.Role
	ModeratorRole *discordgo.Role
	MemberRole    *discordgo.Role

	Owner     *discordgo.Member
	Admin     *discordgo.Member
	Bot       *discordgo.Member
	Moderator *discordgo.Member
	Member    *discordgo.Member
	Other     *discordgo.Member
}

func newTestGuild(t testing.TB, session *mockDiscordSession) *testGuild {
	t.Helper()

	g := session.addGuild("")
	tg := &testGuild{ID: g.ID, Guild: g}

	tg.AdminRole = session.addRole(g.ID, "Admin", 10, discordgo.PermissionAdministrator)
	tg.BotRole = session.addRole(g.ID, "Bot", 8, discordgo.PermissionAll)
	tg.ModeratorRole = session.addRole(
		g.ID,
		"Moderator",
		5,
		discordgo.PermissionKickMembers|discordgo.PermissionBanMembers|
			discordgo.PermissionModerateMembers|discordgo.PermissionManageMessages,
	)
	tg.MemberRole = session.addRole(g.ID, "Member", 1, discordgo.PermissionViewChannel)

	tg.Owner = session.addMember(g.ID, "owner", discordgo.PermissionAll)
	tg.Admin = session.addMember(g.ID, "admin", discordgo.PermissionAdministrator, tg.AdminRole)
	tg.Bot = session.addMember(g.ID, "modconcierge", discordgo.PermissionAll, tg.BotRole)
	tg.Bot.User.Bot = true
	tg.Moderator = session.addMember(
		g.ID,
		"moderator",
		discordgo.PermissionKickMembers|discordgo.PermissionBanMembers|
			discordgo.PermissionModerateMembers|discordgo.PermissionManageMessages,
		tg.ModeratorRole,
	)
	tg.Member = session.addMember(g.ID, "member", discordgo.PermissionViewChannel, tg.MemberRole)
	tg.Other = session.addMember(g.ID, "other", discordgo.PermissionViewChannel, tg.MemberRole)

	session.mu.Lock()
	g.OwnerID = tg.Owner.User.ID
	session.mu.Unlock()

	tg.Channel = session.addChannel(g.ID, "general", discordgo.ChannelTypeGuildText)
	return tg
}

func (tg *testGuild) botUserID() string {
	return tg.Bot.User.ID
}

var errMockDiscord = errors.New("mock discord failure")
