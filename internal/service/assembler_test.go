package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

func newAssembler(onprem *fakeOnPrem, cloud *fakeCloud) *AccountAssembler {
	var cloudDir CloudDirectory
	if cloud != nil {
		cloudDir = cloud
	}
	return NewAccountAssembler(onprem, cloudDir, testPrefixes(), testLogger())
}

func TestAssembler_DiscoverMergesSyncedIdentities(t *testing.T) {
	onprem := &fakeOnPrem{listed: []model.OnPremAccount{
		privileged("adm-jdoe", 100),
		privileged("adm-asmith", 100),
	}}
	cloud := &fakeCloud{users: []model.CloudAccount{
		{ObjectID: "obj-1", UserPrincipalName: "ADM-JDOE@corp.example", Synced: true, LastSignIn: daysAgo(5)},
		{ObjectID: "obj-2", UserPrincipalName: "adm-cloud@corp.example", Enabled: true, LastSignIn: daysAgo(50)},
	}}

	accounts, err := newAssembler(onprem, cloud).Discover(context.Background(), "OU=Admins")

	require.NoError(t, err)
	require.Len(t, accounts, 3)

	assert.Equal(t, "adm-jdoe", accounts[0].SamAccountName)
	assert.Equal(t, "obj-1", accounts[0].CloudObjectID)
	require.NotNil(t, accounts[0].LastCloudSignIn)
	assert.Equal(t, *daysAgo(5), *accounts[0].LastCloudSignIn)

	assert.Empty(t, accounts[1].CloudObjectID)
	assert.Nil(t, accounts[1].LastCloudSignIn)

	assert.Equal(t, "adm-cloud@corp.example", accounts[2].UserPrincipalName)
	assert.Empty(t, accounts[2].SamAccountName)
	assert.Equal(t, "obj-2", accounts[2].CloudObjectID)
}

func TestAssembler_DiscoverWithoutCloud(t *testing.T) {
	onprem := &fakeOnPrem{listed: []model.OnPremAccount{privileged("adm-jdoe", 100)}}

	accounts, err := newAssembler(onprem, nil).Discover(context.Background(), "")

	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestAssembler_DiscoverErrors(t *testing.T) {
	_, err := newAssembler(&fakeOnPrem{listErr: errors.New("ldap down")}, &fakeCloud{}).Discover(context.Background(), "")
	require.ErrorIs(t, err, ErrDirectoryListing)

	_, err = newAssembler(&fakeOnPrem{}, &fakeCloud{listErr: errors.New("graph down")}).Discover(context.Background(), "")
	require.ErrorIs(t, err, ErrDirectoryListing)
	assert.Contains(t, err.Error(), "graph down")
}

func TestAssembler_FilterRows(t *testing.T) {
	rows := []model.InputAccount{
		{UserPrincipalName: "adm-jdoe@corp.example"},
		{UserPrincipalName: "jdoe@corp.example"},
		{UserPrincipalName: ""},
		{UserPrincipalName: "x@corp.example", SamAccountName: "ADM_x"},
	}

	kept := newAssembler(&fakeOnPrem{}, nil).FilterRows(rows)

	require.Len(t, kept, 3)
	assert.Equal(t, "adm-jdoe@corp.example", kept[0].UserPrincipalName)
	assert.Equal(t, "", kept[1].UserPrincipalName)
	assert.Equal(t, "ADM_x", kept[2].SamAccountName)
}

func TestAssembler_ReconcileOnPremWithCloudSignIn(t *testing.T) {
	live := privileged("adm-jdoe", 200)
	live.OwnerAttribute = "owner=jdoe"
	onprem := &fakeOnPrem{directory: []model.OnPremAccount{live}}
	cloud := &fakeCloud{users: []model.CloudAccount{{ObjectID: "obj-1", LastSignIn: daysAgo(3)}}}

	rec, err := newAssembler(onprem, cloud).Reconcile(context.Background(), model.InputAccount{
		UserPrincipalName: "adm-jdoe@corp.example",
		SamAccountName:    "adm-jdoe",
		ObjectID:          "obj-1",
		Description:       "break glass",
	})

	require.NoError(t, err)
	assert.Equal(t, model.SkipNone, rec.Skip)
	assert.Equal(t, "owner=jdoe", rec.Account.OwnerAttribute)
	assert.Equal(t, *daysAgo(200), *rec.Account.LastLogon)
	assert.Equal(t, *daysAgo(3), *rec.Account.LastCloudSignIn)
	assert.Equal(t, "break glass", rec.Account.Description)
}

func TestAssembler_ReconcileCloudTwinMissingKeepsSnapshot(t *testing.T) {
	onprem := &fakeOnPrem{directory: []model.OnPremAccount{privileged("adm-jdoe", 200)}}

	rec, err := newAssembler(onprem, &fakeCloud{}).Reconcile(context.Background(), model.InputAccount{
		UserPrincipalName: "adm-jdoe@corp.example",
		SamAccountName:    "adm-jdoe",
		ObjectID:          "obj-gone",
		LastSignInDate:    daysAgo(7),
	})

	require.NoError(t, err)
	assert.Equal(t, *daysAgo(7), *rec.Account.LastCloudSignIn)
}

func TestAssembler_ReconcileCloudOnly(t *testing.T) {
	cloud := &fakeCloud{users: []model.CloudAccount{{ObjectID: "obj-1", Enabled: false, LastSignIn: daysAgo(9)}}}
	a := newAssembler(&fakeOnPrem{}, cloud)

	rec, err := a.Reconcile(context.Background(), model.InputAccount{
		UserPrincipalName: "adm-c@corp.example",
		ObjectID:          "obj-1",
		Enabled:           boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SkipAlreadyActioned, rec.Skip)

	rec, err = a.Reconcile(context.Background(), model.InputAccount{UserPrincipalName: "adm-c@corp.example", ObjectID: "obj-2"})
	require.NoError(t, err)
	assert.Equal(t, model.SkipAlreadyActioned, rec.Skip)
}

func TestAssembler_ReconcileCloudOnlyWithoutCloud(t *testing.T) {
	_, err := newAssembler(&fakeOnPrem{}, nil).Reconcile(context.Background(), model.InputAccount{
		UserPrincipalName: "adm-c@corp.example",
		ObjectID:          "obj-1",
	})

	require.ErrorIs(t, err, ErrCloudUnavailable)
}

func TestAssembler_ReconcileErrors(t *testing.T) {
	a := newAssembler(&fakeOnPrem{lookupErr: map[string]error{"adm-x": errors.New("busy")}},
		&fakeCloud{getErr: map[string]error{"obj-err": errors.New("503")}})

	_, err := a.Reconcile(context.Background(), model.InputAccount{UserPrincipalName: "adm-x@corp.example"})
	require.ErrorIs(t, err, ErrNoIdentifier)

	_, err = a.Reconcile(context.Background(), model.InputAccount{UserPrincipalName: "adm-x@corp.example", SamAccountName: "adm-x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")

	_, err = a.Reconcile(context.Background(), model.InputAccount{UserPrincipalName: "adm-y@corp.example", ObjectID: "obj-err"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
