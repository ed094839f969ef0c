package services

import (
	"context"
	"database/sql"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/cryptox"
	"github.com/dmitrijs2005/gophaccount/internal/dbx"
	"github.com/dmitrijs2005/gophaccount/internal/logging"
	"github.com/dmitrijs2005/gophaccount/internal/server/auth"
	"github.com/dmitrijs2005/gophaccount/internal/server/config"
	"github.com/dmitrijs2005/gophaccount/internal/server/jobs"
	"github.com/dmitrijs2005/gophaccount/internal/server/mail"
	"github.com/dmitrijs2005/gophaccount/internal/server/models"
	"github.com/dmitrijs2005/gophaccount/internal/server/repositories/challenges"
	"github.com/dmitrijs2005/gophaccount/internal/server/repositories/compliance"
	"github.com/dmitrijs2005/gophaccount/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/gophaccount/internal/server/repositories/users"
	"github.com/dmitrijs2005/gophaccount/internal/server/storage"
	"github.com/dmitrijs2005/gophaccount/internal/server/twofactor"
	"github.com/stretchr/testify/require"
)

// --- clock ---

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- in-memory store behind all repositories ---

type memStore struct {
	mu    sync.Mutex
	clock *clock

	nextID     int64
	users      map[int64]*models.User
	prefs      map[int64]models.Preferences
	sessions   map[string]*models.Session
	challenges map[string]*models.LoginChallenge
	log        []*models.ComplianceLogEntry

	// fail injects an error into the named operation, e.g. "users.GetByID".
	fail map[string]error
}

func newMemStore(c *clock) *memStore {
	return &memStore{
		clock:      c,
		users:      map[int64]*models.User{},
		prefs:      map[int64]models.Preferences{},
		sessions:   map[string]*models.Session{},
		challenges: map[string]*models.LoginChallenge{},
		fail:       map[string]error{},
	}
}

func (s *memStore) id() int64 { s.nextID++; return s.nextID }

// failing must be called with s.mu held.
func (s *memStore) failing(op string) error { return s.fail[op] }

func (s *memStore) setFail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *memStore) addUser(u models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.id()
	u.CreatedAt = s.clock.now()
	s.users[u.ID] = &u
	return &u
}

func (s *memStore) sessionCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, x := range s.sessions {
		if x.UserID == userID {
			n++
		}
	}
	return n
}

func (s *memStore) entries() []models.ComplianceLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ComplianceLogEntry, 0, len(s.log))
	for _, e := range s.log {
		out = append(out, *e)
	}
	return out
}

type memUsers struct{ s *memStore }

func (r memUsers) FindConflict(_ context.Context, username, email string) (bool, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("users.FindConflict"); err != nil {
		return false, false, err
	}
	var un, em bool
	for _, u := range r.s.users {
		un = un || u.Username == username
		em = em || u.Email == email
	}
	return un, em, nil
}

func (r memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("users.Create"); err != nil {
		return nil, err
	}
	cp := *u
	cp.ID = r.s.id()
	cp.CreatedAt = r.s.clock.now()
	r.s.users[cp.ID] = &cp
	u.ID, u.CreatedAt = cp.ID, cp.CreatedAt
	return u, nil
}

func (r memUsers) GetByIdentifier(_ context.Context, ident string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("users.GetByIdentifier"); err != nil {
		return nil, err
	}
	for _, u := range r.s.users {
		if u.Username == ident || u.Email == ident {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("users.GetByID"); err != nil {
		return nil, err
	}
	u, ok := r.s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (r memUsers) GetPreferences(_ context.Context, id int64) (models.Preferences, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.prefs[id]; ok {
		return p, nil
	}
	return models.DefaultPreferences(), nil
}

func (r memUsers) VerifyEmail(_ context.Context, token string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.VerificationToken == token && u.VerificationExpires.After(r.s.clock.now()) {
			u.EmailVerified = true
			u.VerificationToken = ""
			return u.ID, nil
		}
	}
	return 0, common.ErrorNotFound
}

func (r memUsers) RenewVerification(_ context.Context, id int64, token string, expires time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("users.RenewVerification"); err != nil {
		return err
	}
	u, ok := r.s.users[id]
	if !ok || u.EmailVerified {
		return common.ErrorNotFound
	}
	u.VerificationToken, u.VerificationExpires = token, expires
	return nil
}

func (r memUsers) SetPassword(_ context.Context, id int64, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("users.SetPassword"); err != nil {
		return err
	}
	u, ok := r.s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r memUsers) SetEmailTwoFactor(_ context.Context, id int64, enabled bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.TwoFactorEmail = enabled
	return nil
}

func (r memUsers) SetTOTP(_ context.Context, id int64, enabled bool, seed string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.TwoFactorTOTP, u.TOTPSeed = enabled, seed
	return nil
}

// Delete cascades to sessions and challenges like the foreign keys do.
func (r memUsers) Delete(_ context.Context, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("users.Delete"); err != nil {
		return false, err
	}
	if _, ok := r.s.users[id]; !ok {
		return false, nil
	}
	delete(r.s.users, id)
	delete(r.s.prefs, id)
	for k, x := range r.s.sessions {
		if x.UserID == id {
			delete(r.s.sessions, k)
		}
	}
	for k, c := range r.s.challenges {
		if c.UserID == id {
			delete(r.s.challenges, k)
		}
	}
	return true, nil
}

type memSessions struct{ s *memStore }

func (r memSessions) Create(_ context.Context, x *models.Session) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("sessions.Create"); err != nil {
		return nil, err
	}
	if _, dup := r.s.sessions[x.JTI]; dup {
		return nil, common.ErrConflict
	}
	cp := *x
	cp.ID = r.s.id()
	cp.CreatedAt, cp.UpdatedAt = r.s.clock.now(), r.s.clock.now()
	r.s.sessions[cp.JTI] = &cp
	out := cp
	return &out, nil
}

func (r memSessions) JTIExists(_ context.Context, jti string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("sessions.JTIExists"); err != nil {
		return false, err
	}
	_, ok := r.s.sessions[jti]
	return ok, nil
}

// Rotate is a single critical section, the in-memory analogue of the
// conditional UPDATE.
func (r memSessions) Rotate(_ context.Context, oldJTI string, userID int64, newJTI, ua, ip string, exp time.Time) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	x, ok := r.s.sessions[oldJTI]
	if !ok || x.UserID != userID || !x.ExpiresAt.After(r.s.clock.now()) {
		return nil, common.ErrSessionExpiredOrInvalid
	}
	if _, dup := r.s.sessions[newJTI]; dup {
		return nil, common.ErrConflict
	}
	delete(r.s.sessions, oldJTI)
	x.JTI, x.UserAgent, x.IPAddress, x.ExpiresAt, x.UpdatedAt = newJTI, ua, ip, exp, r.s.clock.now()
	r.s.sessions[newJTI] = x
	out := *x
	return &out, nil
}

func (r memSessions) Delete(_ context.Context, userID int64, jti string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("sessions.Delete"); err != nil {
		return err
	}
	if x, ok := r.s.sessions[jti]; ok && x.UserID == userID {
		delete(r.s.sessions, jti)
	}
	return nil
}

func (r memSessions) IsLive(_ context.Context, jti string, userID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("sessions.IsLive"); err != nil {
		return false, err
	}
	x, ok := r.s.sessions[jti]
	return ok && x.UserID == userID && x.ExpiresAt.After(r.s.clock.now()), nil
}

func (r memSessions) ListByUser(_ context.Context, userID int64) ([]models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Session
	for _, x := range r.s.sessions {
		if x.UserID == userID && x.ExpiresAt.After(r.s.clock.now()) {
			out = append(out, *x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r memSessions) DeleteByID(_ context.Context, userID, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for k, x := range r.s.sessions {
		if x.ID == id && x.UserID == userID {
			delete(r.s.sessions, k)
			return true, nil
		}
	}
	return false, nil
}

func (r memSessions) DeleteOthers(_ context.Context, userID int64, keep string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("sessions.DeleteOthers"); err != nil {
		return 0, err
	}
	var n int64
	for k, x := range r.s.sessions {
		if x.UserID == userID && k != keep {
			delete(r.s.sessions, k)
			n++
		}
	}
	return n, nil
}

func (r memSessions) DeleteExpired(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("sessions.DeleteExpired"); err != nil {
		return 0, err
	}
	var n int64
	for k, x := range r.s.sessions {
		if !x.ExpiresAt.After(r.s.clock.now()) {
			delete(r.s.sessions, k)
			n++
		}
	}
	return n, nil
}

type memChallenges struct{ s *memStore }

func (r memChallenges) Create(_ context.Context, c *models.LoginChallenge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, dup := r.s.challenges[c.JTI]; dup {
		return common.ErrConflict
	}
	cp := *c
	cp.ID = r.s.id()
	cp.CreatedAt = r.s.clock.now()
	r.s.challenges[c.JTI] = &cp
	return nil
}

func (r memChallenges) live(jti string, userID int64) (*models.LoginChallenge, bool) {
	c, ok := r.s.challenges[jti]
	if !ok || c.UserID != userID || !c.ExpiresAt.After(r.s.clock.now()) {
		return nil, false
	}
	return c, true
}

func (r memChallenges) Find(_ context.Context, jti string, userID int64) (*models.LoginChallenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.live(jti, userID)
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r memChallenges) Consume(_ context.Context, jti string, userID int64) (*models.LoginChallenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.live(jti, userID)
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(r.s.challenges, jti)
	return c, nil
}

func (r memChallenges) DeleteExpired(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, c := range r.s.challenges {
		if !c.ExpiresAt.After(r.s.clock.now()) {
			delete(r.s.challenges, k)
			n++
		}
	}
	return n, nil
}

type memCompliance struct{ s *memStore }

func (r memCompliance) Lock(context.Context, int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.failing("compliance.Lock")
}

func (r memCompliance) Create(_ context.Context, e *models.ComplianceLogEntry) (*models.ComplianceLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("compliance.Create"); err != nil {
		return nil, err
	}
	cp := *e
	cp.ID = r.s.id()
	cp.CreatedAt = r.s.clock.now()
	r.s.log = append(r.s.log, &cp)
	out := cp
	return &out, nil
}

func (r memCompliance) MarkFinished(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failing("compliance.MarkFinished"); err != nil {
		return err
	}
	for _, e := range r.s.log {
		if e.ID == id && e.FinishedAt == nil {
			t := r.s.clock.now()
			e.FinishedAt = &t
		}
	}
	return nil
}

func (r memCompliance) LatestByAction(_ context.Context, userID int64, action string) (*models.ComplianceLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.log) - 1; i >= 0; i-- {
		if e := r.s.log[i]; e.UserID == userID && e.Action == action {
			cp := *e
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memCompliance) ListByUser(_ context.Context, userID int64) ([]models.ComplianceLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ComplianceLogEntry
	for _, e := range r.s.log {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r memCompliance) ListUnfinished(_ context.Context, olderThan time.Time) ([]models.ComplianceLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ComplianceLogEntry
	for _, e := range r.s.log {
		if e.FinishedAt == nil && e.CreatedAt.Before(olderThan) {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeRepoManager struct{ s *memStore }

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository              { return memUsers{m.s} }
func (m *fakeRepoManager) Sessions(dbx.DBTX) sessions.Repository        { return memSessions{m.s} }
func (m *fakeRepoManager) Challenges(dbx.DBTX) challenges.Repository    { return memChallenges{m.s} }
func (m *fakeRepoManager) Compliance(dbx.DBTX) compliance.Repository    { return memCompliance{m.s} }

// --- collaborators ---

type recordingSender struct {
	mu   sync.Mutex
	msgs []mail.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, m mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingSender) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingSender) subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Subject)
	}
	return out
}

// withSubject returns every message sent with subject, oldest first.
func (r *recordingSender) withSubject(subject string) []mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mail.Message
	for _, m := range r.msgs {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

func (r *recordingSender) last() mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

type fakeAvatars struct {
	mu       sync.Mutex
	released []string
	err      error
}

func (f *fakeAvatars) Release(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.released = append(f.released, ref)
	return nil
}

type fakeFleet struct {
	mu      sync.Mutex
	deleted []int64
	err     error
}

func (f *fakeFleet) UserDeleted(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.err
}

type fakeLimiter struct {
	mu       sync.Mutex
	blocked  error
	failures int
	resets   int
}

func (f *fakeLimiter) Check(context.Context, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked
}

func (f *fakeLimiter) RecordFailure(context.Context, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	return nil
}

func (f *fakeLimiter) Reset(context.Context, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

// --- harness ---

type harness struct {
	deps      *Deps
	store     *memStore
	mock      sqlmock.Sqlmock
	clock     *clock
	sent      *recordingSender
	avatars   *fakeAvatars
	fleet     *fakeFleet
	limiter   *fakeLimiter
	artifacts *storage.FileStore

	auth       *AuthService
	twofactor  *TwoFactorService
	compliance *ComplianceService
}

const testSecret = "0123456789abcdef0123456789abcdef"

var testSeedKey = cryptox.DeriveKey([]byte(testSecret), "totp-seed")

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger, err := logging.New(logging.BackendSlog, io.Discard)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.LoadDefaults()

	artifacts, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	c := &clock{t: time.Now()}
	st := newMemStore(c)
	sent := &recordingSender{}
	runner := jobs.NewRunner(logger)
	t.Cleanup(runner.Wait)

	h := &harness{
		store:     st,
		mock:      mock,
		clock:     c,
		sent:      sent,
		avatars:   &fakeAvatars{},
		fleet:     &fakeFleet{},
		limiter:   &fakeLimiter{},
		artifacts: artifacts,
	}
	h.deps = &Deps{
		DB:           db,
		Repos:        &fakeRepoManager{s: st},
		Config:       cfg,
		Codec:        auth.NewCodec([]byte(testSecret)),
		Gate:         twofactor.NewGate(twofactor.PolicyEnforce),
		Limiter:      h.limiter,
		Mailer:       mail.NewMailer(sent, "http://accounts.test", "mods@accounts.test"),
		Jobs:         runner,
		Artifacts:    artifacts,
		Avatars:      h.avatars,
		Fleet:        h.fleet,
		Logger:       logger,
		Now:          c.now,
		TOTPIssuer:   "Accounts",
		EmailCodeKey: []byte("code-key"),
		SeedKey:      testSeedKey,
	}
	h.auth = NewAuthService(h.deps)
	h.twofactor = NewTwoFactorService(h.deps)
	h.compliance = NewComplianceService(h.deps)
	return h
}

// wait blocks until background jobs are done.
func (h *harness) wait() { h.deps.Jobs.Wait() }

func (h *harness) expectTx() {
	h.mock.ExpectBegin()
	h.mock.ExpectCommit()
}

func (h *harness) signup(t *testing.T, username string) *Session {
	t.Helper()
	sess, err := h.auth.Signup(context.Background(), SignupRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct horse",
	}, ClientInfo{UserAgent: "test", IP: "127.0.0.1"})
	require.NoError(t, err)
	h.wait()
	return sess
}
