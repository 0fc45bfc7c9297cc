package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
	"github.com/ethorneloe/identity-lifecycle/internal/domain/policy"
	"github.com/ethorneloe/identity-lifecycle/internal/mailer"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func daysAgo(n int) *time.Time {
	t := testNow.AddDate(0, 0, -n)
	return &t
}

func boolPtr(b bool) *bool { return &b }

func testPrefixes() policy.PrefixPolicy {
	return policy.PrefixPolicy{Prefixes: []string{"adm"}, Separators: "-_."}
}

// fakeOnPrem — локальный каталог: listed отдаётся в Discovery,
// directory используется для поиска (сверка и владельцы).
type fakeOnPrem struct {
	mu        sync.Mutex
	listed    []model.OnPremAccount
	directory []model.OnPremAccount
	listErr   error
	lookupErr map[string]error
	lookups   []string
}

func (f *fakeOnPrem) ListAccounts(_ context.Context, _ []string, _ string) ([]model.OnPremAccount, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listed, nil
}

func (f *fakeOnPrem) LookupAccount(_ context.Context, identifier string) (model.OnPremAccount, error) {
	f.mu.Lock()
	f.lookups = append(f.lookups, identifier)
	f.mu.Unlock()
	if err, ok := f.lookupErr[strings.ToLower(identifier)]; ok {
		return model.OnPremAccount{}, err
	}
	for _, a := range f.directory {
		if strings.EqualFold(a.SamAccountName, identifier) || strings.EqualFold(a.UserPrincipalName, identifier) {
			return a, nil
		}
	}
	return model.OnPremAccount{}, model.ErrAccountNotFound
}

type fakeCloud struct {
	users       []model.CloudAccount
	listErr     error
	getErr      map[string]error
	sponsors    map[string][]model.Sponsor
	sponsorErr  error
	sponsorReqs []string
}

func (f *fakeCloud) ListUsers(_ context.Context, _ []string) ([]model.CloudAccount, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.users, nil
}

func (f *fakeCloud) GetUser(_ context.Context, objectID string) (model.CloudAccount, error) {
	if err, ok := f.getErr[objectID]; ok {
		return model.CloudAccount{}, err
	}
	for _, u := range f.users {
		if u.ObjectID == objectID {
			return u, nil
		}
	}
	return model.CloudAccount{}, model.ErrAccountNotFound
}

func (f *fakeCloud) ListSponsors(_ context.Context, objectID string) ([]model.Sponsor, error) {
	f.sponsorReqs = append(f.sponsorReqs, objectID)
	if f.sponsorErr != nil {
		return nil, f.sponsorErr
	}
	if s, ok := f.sponsors[objectID]; ok {
		return s, nil
	}
	return []model.Sponsor{}, nil
}

type fakeNotifier struct {
	sent []mailer.Notification
	// fail возвращает ошибку для письма с порядковым номером call (с единицы)
	fail func(call int, n mailer.Notification) error
}

func (f *fakeNotifier) Send(_ context.Context, n mailer.Notification) error {
	if f.fail != nil {
		if err := f.fail(len(f.sent)+1, n); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, n)
	return nil
}

type fakeActions struct {
	disabled []string
	deleted  []string
	failFor  map[string]bool
}

func (f *fakeActions) Disable(_ context.Context, acct model.WorkingAccount) model.ActionResult {
	if f.failFor[acct.UserPrincipalName] {
		return model.ActionResult{Success: false, Message: "access denied"}
	}
	f.disabled = append(f.disabled, acct.UserPrincipalName)
	return model.ActionResult{Success: true}
}

func (f *fakeActions) Delete(_ context.Context, acct model.WorkingAccount) model.ActionResult {
	if f.failFor[acct.UserPrincipalName] {
		return model.ActionResult{Success: false, Message: "access denied"}
	}
	f.deleted = append(f.deleted, acct.UserPrincipalName)
	return model.ActionResult{Success: true}
}

type fakeMessages struct {
	err   error
	calls int
}

func (f *fakeMessages) Build(stage model.Stage, principalName, lastActivity string, inactiveDays int) (model.Message, error) {
	f.calls++
	if f.err != nil {
		return model.Message{}, f.err
	}
	return model.Message{
		Subject:  string(stage) + " " + principalName,
		HTMLBody: "<p>" + lastActivity + "</p>",
	}, nil
}

type fakeConnector struct {
	err   error
	calls int
}

func (f *fakeConnector) Connect(context.Context) error {
	f.calls++
	return f.err
}

// testEnv — движок с фейковыми коллабораторами.
type testEnv struct {
	onprem   *fakeOnPrem
	cloud    *fakeCloud
	notifier *fakeNotifier
	actions  *fakeActions
	messages *fakeMessages
	deps     Dependencies
}

func newTestEnv(onprem *fakeOnPrem, cloud *fakeCloud) *testEnv {
	var cloudDir CloudDirectory
	if cloud != nil {
		cloudDir = cloud
	}
	env := &testEnv{
		onprem:   onprem,
		cloud:    cloud,
		notifier: &fakeNotifier{},
		actions:  &fakeActions{failFor: map[string]bool{}},
		messages: &fakeMessages{},
	}
	logger := testLogger()
	env.deps = Dependencies{
		Assembler: NewAccountAssembler(onprem, cloudDir, testPrefixes(), logger),
		Owners:    NewOwnerResolver(onprem, cloudDir, testPrefixes(), policy.DefaultOwnerAttributePolicy(), logger),
		Notifier:  env.notifier,
		Actions:   env.actions,
		Messages:  env.messages,
		Sender:    "noreply@corp.example",
		Clock:     func() time.Time { return testNow },
	}
	return env
}

func (e *testEnv) service() *RemediationService {
	return NewRemediationService(e.deps, testLogger())
}

func (e *testEnv) run(req RunRequest) *model.RunOutput {
	if req.Thresholds == (policy.Thresholds{}) {
		req.Thresholds = policy.DefaultThresholds()
	}
	return e.service().Run(context.Background(), req)
}

// owner — владелец с почтой в локальном каталоге.
func owner(sam string) model.OnPremAccount {
	return model.OnPremAccount{
		SamAccountName:    sam,
		UserPrincipalName: sam + "@corp.example",
		Enabled:           true,
		Mail:              sam + "@corp.example",
	}
}

// privileged — привилегированная учётка AD с последним входом days дней назад.
func privileged(sam string, days int) model.OnPremAccount {
	return model.OnPremAccount{
		DN:                "CN=" + sam + ",OU=Admins,DC=corp,DC=example",
		SamAccountName:    sam,
		UserPrincipalName: sam + "@corp.example",
		Enabled:           true,
		LastLogon:         daysAgo(days),
	}
}
