package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/palbooo/fcm-receiver-go/pkg/register"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)

	_, err = s.LoadCredentials()
	assert.ErrorIs(t, err, ErrNoCredentials)

	creds := &register.Credentials{
		Keys:     register.Keys{PrivateKey: "priv", PublicKey: "pub", AuthSecret: "auth"},
		GCM:      register.GCMCredentials{AndroidID: "1", SecurityToken: "2", Token: "t"},
		FCM:      register.FCMSubscription{Token: "f", PushSet: "p"},
		SenderID: "123456789",
	}
	require.NoError(t, s.SaveCredentials(creds))

	loaded, err := s.LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, creds, loaded)

	info, err := os.Stat(filepath.Join(s.Path(), credentialsFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCorruptCredentials(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Path(), credentialsFile), []byte("{"), 0o600))

	_, err = s.LoadCredentials()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCredentials)
}

func TestPersistentIDs(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	ids, err := s.LoadPersistentIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.AppendPersistentID("0:1"))
	require.NoError(t, s.AppendPersistentID("0:2"))
	require.NoError(t, s.AppendPersistentID("0:1"))

	ids, err = s.LoadPersistentIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"0:1", "0:2"}, ids)

	require.NoError(t, s.SavePersistentIDs(nil))
	raw, err := os.ReadFile(filepath.Join(s.Path(), persistentIDsFile))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))

	entries, err := os.ReadDir(s.Path())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
